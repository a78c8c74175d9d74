package identity

import (
	"context"
	"testing"
)

func TestDefaultRegistryExchanges(t *testing.T) {
	r := DefaultRegistry()

	id, err := r.Exchange(context.Background(), "google", Profile{
		"email":   "alice@example.com",
		"name":    "Alice",
		"picture": "https://cdn.example/alice.png",
	})
	if err != nil {
		t.Fatalf("exchange: %v", err)
	}
	if id.Email != "alice@example.com" || id.DisplayName != "Alice" || id.AvatarURL == "" {
		t.Fatalf("identity: %+v", id)
	}

	// GitHub carries the handle under login.
	id, err = r.Exchange(context.Background(), "github", Profile{
		"email": "bob@example.com",
		"login": "bob",
	})
	if err != nil {
		t.Fatalf("exchange github: %v", err)
	}
	if id.DisplayName != "bob" {
		t.Fatalf("display name = %q", id.DisplayName)
	}
}

func TestExchangeUnknownProvider(t *testing.T) {
	r := DefaultRegistry()
	if _, err := r.Exchange(context.Background(), "myspace", Profile{"email": "a@b"}); err == nil {
		t.Fatal("expected error for unknown provider")
	}
}

func TestExchangeMissingEmail(t *testing.T) {
	r := DefaultRegistry()
	if _, err := r.Exchange(context.Background(), "google", Profile{"name": "Alice"}); err == nil {
		t.Fatal("expected error for profile without email")
	}
}

func TestRegisterReplacesAndLists(t *testing.T) {
	r := NewRegistry()
	r.Register("corp-sso", ClaimMapper{EmailClaim: "mail", NameClaim: "cn"})
	names := r.Names()
	if len(names) != 1 || names[0] != "corp-sso" {
		t.Fatalf("names = %v", names)
	}
	id, err := r.Exchange(context.Background(), "corp-sso", Profile{"mail": "c@example.com", "cn": "Carol"})
	if err != nil {
		t.Fatalf("exchange: %v", err)
	}
	if id.Email != "c@example.com" || id.DisplayName != "Carol" {
		t.Fatalf("identity: %+v", id)
	}
}
