package domain

import "testing"

func TestParsePermission(t *testing.T) {
	for _, valid := range []string{"view", "edit", "admin"} {
		p, err := ParsePermission(valid)
		if err != nil {
			t.Fatalf("parse %q: %v", valid, err)
		}
		if string(p) != valid {
			t.Fatalf("parsed %q, want %q", p, valid)
		}
	}
	for _, bad := range []string{"", "owner", "VIEW", "read"} {
		if _, err := ParsePermission(bad); err == nil {
			t.Fatalf("expected rejection of %q", bad)
		}
	}
}

func TestPermissionOrdering(t *testing.T) {
	if !PermissionAdmin.Allows(PermissionView) || !PermissionEdit.Allows(PermissionView) {
		t.Fatal("higher levels must allow lower requirements")
	}
	if PermissionView.Allows(PermissionEdit) {
		t.Fatal("view must not allow edit")
	}
}

func TestNormalizeCategoryCoversEnumeration(t *testing.T) {
	for _, c := range InsightCategories() {
		if got := NormalizeCategory(string(c)); got != c {
			t.Fatalf("NormalizeCategory(%q) = %q", c, got)
		}
	}
	if got := NormalizeCategory("sankey"); got != CategoryOthers {
		t.Fatalf("unknown tag folded to %q, want %q", got, CategoryOthers)
	}
}
