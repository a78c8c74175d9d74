package domain

import "context"

// Transaction exposes the domain operations that a persistence implementation
// must support within an atomic scope.
type Transaction interface {
	Snapshot() TransactionView
	CreateUser(User) (User, error)
	UpdateUser(id string, mutator func(*User) error) (User, error)
	DeleteUser(id string) error
	CreateDataset(Dataset) (Dataset, error)
	UpdateDataset(id string, mutator func(*Dataset) error) (Dataset, error)
	DeleteDataset(id string) error
	CreateGrant(SharedGrant) (SharedGrant, error)
	UpdateGrant(id string, mutator func(*SharedGrant) error) (SharedGrant, error)
	DeleteGrant(id string) error
	CreateTeam(Team) (Team, error)
	UpdateTeam(id string, mutator func(*Team) error) (Team, error)
	DeleteTeam(id string) error
	FindUser(id string) (User, bool)
	FindDataset(id string) (Dataset, bool)
	FindGrant(datasetID, userID string) (SharedGrant, bool)
	FindTeam(id string) (Team, bool)
}

// TransactionView provides read-only access to snapshot data.
type TransactionView interface {
	FindUser(id string) (User, bool)
	FindUserByUsername(username string) (User, bool)
	FindDataset(id string) (Dataset, bool)
	FindGrant(datasetID, userID string) (SharedGrant, bool)
	FindTeam(id string) (Team, bool)
	ListUsers() []User
	ListDatasets() []Dataset
	ListDatasetsByOwner(ownerID string) []Dataset
	ListGrantsByDataset(datasetID string) []SharedGrant
	ListGrantsByUser(userID string) []SharedGrant
	ListTeams() []Team
	ListTeamsByMember(userID string) []Team
	ListTeamsByDataset(datasetID string) []Team
}

// PersistentStore is a minimal abstraction over durable backends. It mirrors
// the subset of store capabilities used directly by higher layers.
type PersistentStore interface {
	RunInTransaction(ctx context.Context, fn func(Transaction) error) error
	View(ctx context.Context, fn func(TransactionView) error) error
	GetUser(id string) (User, bool)
	GetDataset(id string) (Dataset, bool)
	GetTeam(id string) (Team, bool)
	ListDatasets() []Dataset
	ListTeams() []Team
}
