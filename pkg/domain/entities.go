// Package domain defines the persistent entities, permission ordering, and
// persistence contracts shared by every autoinsight component.
package domain

import "time"

// EntityType identifies the type of record stored in the core domain.
type EntityType string

// Supported entity type identifiers used in persistence buckets and errors.
const (
	// EntityUser identifies a user identity record.
	EntityUser EntityType = "user"
	// EntityDataset identifies a dataset record.
	EntityDataset EntityType = "dataset"
	// EntityGrant identifies a direct per-user dataset grant.
	EntityGrant EntityType = "shared_grant"
	// EntityTeam identifies a team record.
	EntityTeam EntityType = "team"
)

// Permission is an ordered access level applied to datasets and teams.
type Permission string

// Access levels in ascending order of capability.
const (
	PermissionView  Permission = "view"
	PermissionEdit  Permission = "edit"
	PermissionAdmin Permission = "admin"
)

// Level returns the ordinal of the permission. Higher means more capable.
// The ordering is total: every valid permission is comparable to every other.
func (p Permission) Level() int {
	switch p {
	case PermissionView:
		return 1
	case PermissionEdit:
		return 2
	case PermissionAdmin:
		return 3
	default:
		return 0
	}
}

// Valid reports whether p is one of the closed set of levels.
func (p Permission) Valid() bool { return p.Level() > 0 }

// Allows reports whether p satisfies an operation requiring level required.
func (p Permission) Allows(required Permission) bool {
	return p.Level() >= required.Level()
}

// ParsePermission validates a caller-supplied permission string.
func ParsePermission(s string) (Permission, error) {
	p := Permission(s)
	if !p.Valid() {
		return "", InvalidInputError{Field: "permission", Reason: "must be one of view, edit, admin"}
	}
	return p, nil
}

// InsightCategory buckets artifacts returned by the analysis engine.
type InsightCategory string

// The closed category enumeration. Tags outside this set fold into CategoryOthers.
const (
	CategoryPieChart    InsightCategory = "pie_chart"
	CategoryBarChart    InsightCategory = "bar_chart"
	CategoryHistogram   InsightCategory = "histogram"
	CategoryKDE         InsightCategory = "kde"
	CategoryCorrelation InsightCategory = "correlation"
	CategoryForecast    InsightCategory = "forecast"
	CategoryOthers      InsightCategory = "others"
)

// InsightCategories lists every category bucket in declaration order.
func InsightCategories() []InsightCategory {
	return []InsightCategory{
		CategoryPieChart,
		CategoryBarChart,
		CategoryHistogram,
		CategoryKDE,
		CategoryCorrelation,
		CategoryForecast,
		CategoryOthers,
	}
}

// NormalizeCategory maps an engine-declared tag onto the closed enumeration.
// Unknown tags fold into CategoryOthers.
func NormalizeCategory(tag string) InsightCategory {
	c := InsightCategory(tag)
	for _, known := range InsightCategories() {
		if c == known {
			return c
		}
	}
	return CategoryOthers
}

// HasFilter reports whether artifacts in the category carry a numeric filter parameter.
func (c InsightCategory) HasFilter() bool {
	switch c {
	case CategoryBarChart, CategoryHistogram, CategoryForecast:
		return true
	default:
		return false
	}
}

// Base carries identity and bookkeeping timestamps shared by all entities.
type Base struct {
	ID        string    `json:"id"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// User is the minimal identity record consumed by grant application and
// denormalized username sync. Credential issuance lives outside this module.
type User struct {
	Base
	Username string `json:"username"`
	Email    string `json:"email"`
}

// Artifact is a single stored chart reference within an insight bucket.
// FilterNumber is present only for categories where HasFilter is true.
type Artifact struct {
	URL          string `json:"url"`
	FilterNumber *int   `json:"filter_number,omitempty"`
}

// Dataset is the persisted result of an analysis run.
type Dataset struct {
	Base
	OwnerID    string                         `json:"owner_id"`
	Name       string                         `json:"name"`
	Domain     string                         `json:"domain"`
	SourceURL  string                         `json:"source_url"`
	CleanedURL *string                        `json:"cleaned_url,omitempty"`
	Insights   map[InsightCategory][]Artifact `json:"insights"`
	// SharedUsernames is a denormalized display list kept in sync with the
	// grant records. The owner's username never appears here.
	SharedUsernames []string `json:"shared_usernames"`
}

// SharedGrant is a direct per-user permission on a dataset. At most one grant
// exists per (dataset, user) pair; re-sharing updates the permission in place.
type SharedGrant struct {
	Base
	DatasetID  string     `json:"dataset_id"`
	UserID     string     `json:"user_id"`
	Permission Permission `json:"permission"`
}

// Team groups users under a single shared permission level. The owner is
// always a member, never removable, and admin-equivalent regardless of
// MemberPermission.
type Team struct {
	Base
	OwnerID          string     `json:"owner_id"`
	Name             string     `json:"name"`
	MemberIDs        []string   `json:"member_ids"`
	MemberPermission Permission `json:"member_permission"`
	DatasetIDs       []string   `json:"dataset_ids"`
}

// HasMember reports whether userID belongs to the team (owner included).
func (t Team) HasMember(userID string) bool {
	if t.OwnerID == userID {
		return true
	}
	for _, id := range t.MemberIDs {
		if id == userID {
			return true
		}
	}
	return false
}

// HasDataset reports whether datasetID is assigned to the team.
func (t Team) HasDataset(datasetID string) bool {
	for _, id := range t.DatasetIDs {
		if id == datasetID {
			return true
		}
	}
	return false
}
