package core

import (
	"context"
	"sort"

	"autoinsight/pkg/domain"
)

// Service exposes higher-level transactional operations over the entity store.
// Authorization is the caller's concern; every handler gates access through
// the permission resolver before reaching these methods.
type Service struct {
	store PersistentStore
}

// NewService constructs a service backed by the supplied store.
func NewService(store PersistentStore) *Service {
	return &Service{store: store}
}

// Store returns the underlying storage implementation.
func (s *Service) Store() PersistentStore { return s.store }

// CreateUser persists a new user record.
func (s *Service) CreateUser(ctx context.Context, user User) (User, error) {
	var created User
	err := s.store.RunInTransaction(ctx, func(tx Transaction) error {
		var err error
		created, err = tx.CreateUser(user)
		return err
	})
	return created, err
}

// EnsureUser returns the user with the given email, creating one on first
// sign-in.
func (s *Service) EnsureUser(ctx context.Context, username, email string) (User, error) {
	if email == "" {
		return User{}, domain.InvalidInputError{Field: "email", Reason: "required"}
	}
	var ensured User
	err := s.store.RunInTransaction(ctx, func(tx Transaction) error {
		for _, u := range tx.Snapshot().ListUsers() {
			if u.Email == email {
				ensured = u
				return nil
			}
		}
		var err error
		ensured, err = tx.CreateUser(User{Username: username, Email: email})
		return err
	})
	return ensured, err
}

// GetUser fetches a user by id.
func (s *Service) GetUser(ctx context.Context, id string) (User, error) {
	u, ok := s.store.GetUser(id)
	if !ok {
		return User{}, domain.NotFoundError{Entity: EntityUser, ID: id}
	}
	return u, nil
}

// GetUserByUsername fetches a user by their unique username.
func (s *Service) GetUserByUsername(ctx context.Context, username string) (User, error) {
	var found User
	err := s.store.View(ctx, func(v TransactionView) error {
		u, ok := v.FindUserByUsername(username)
		if !ok {
			return domain.NotFoundError{Entity: EntityUser, ID: username}
		}
		found = u
		return nil
	})
	return found, err
}

// CreateDataset persists a new dataset.
func (s *Service) CreateDataset(ctx context.Context, dataset Dataset) (Dataset, error) {
	var created Dataset
	err := s.store.RunInTransaction(ctx, func(tx Transaction) error {
		var err error
		created, err = tx.CreateDataset(dataset)
		return err
	})
	return created, err
}

// GetDataset fetches a dataset by id.
func (s *Service) GetDataset(ctx context.Context, id string) (Dataset, error) {
	d, ok := s.store.GetDataset(id)
	if !ok {
		return Dataset{}, domain.NotFoundError{Entity: EntityDataset, ID: id}
	}
	return d, nil
}

// RenameDataset updates a dataset's display name.
func (s *Service) RenameDataset(ctx context.Context, id, name string) (Dataset, error) {
	if name == "" {
		return Dataset{}, domain.InvalidInputError{Field: "dataset_name", Reason: "required"}
	}
	var updated Dataset
	err := s.store.RunInTransaction(ctx, func(tx Transaction) error {
		var err error
		updated, err = tx.UpdateDataset(id, func(d *Dataset) error {
			d.Name = name
			return nil
		})
		return err
	})
	return updated, err
}

// DeleteDataset removes a dataset record, cascading grants and team references.
func (s *Service) DeleteDataset(ctx context.Context, id string) error {
	return s.store.RunInTransaction(ctx, func(tx Transaction) error {
		return tx.DeleteDataset(id)
	})
}

// ListOwnedDatasets returns datasets owned by the user.
func (s *Service) ListOwnedDatasets(ctx context.Context, ownerID string) ([]Dataset, error) {
	var out []Dataset
	err := s.store.View(ctx, func(v TransactionView) error {
		out = v.ListDatasetsByOwner(ownerID)
		return nil
	})
	return out, err
}

// ListSharedDatasets returns datasets granted directly to the user.
func (s *Service) ListSharedDatasets(ctx context.Context, userID string) ([]Dataset, error) {
	var out []Dataset
	err := s.store.View(ctx, func(v TransactionView) error {
		for _, g := range v.ListGrantsByUser(userID) {
			if d, ok := v.FindDataset(g.DatasetID); ok {
				out = append(out, d)
			}
		}
		sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
		return nil
	})
	return out, err
}

// ListGrants returns all direct grants on a dataset.
func (s *Service) ListGrants(ctx context.Context, datasetID string) ([]SharedGrant, error) {
	var out []SharedGrant
	err := s.store.View(ctx, func(v TransactionView) error {
		if _, ok := v.FindDataset(datasetID); !ok {
			return domain.NotFoundError{Entity: EntityDataset, ID: datasetID}
		}
		out = v.ListGrantsByDataset(datasetID)
		return nil
	})
	return out, err
}

// CreateTeam persists a new team. Member and dataset references must exist.
func (s *Service) CreateTeam(ctx context.Context, team Team) (Team, error) {
	if team.Name == "" {
		return Team{}, domain.InvalidInputError{Field: "name", Reason: "required"}
	}
	var created Team
	err := s.store.RunInTransaction(ctx, func(tx Transaction) error {
		if _, ok := tx.FindUser(team.OwnerID); !ok {
			return domain.NotFoundError{Entity: EntityUser, ID: team.OwnerID}
		}
		for _, id := range team.MemberIDs {
			if _, ok := tx.FindUser(id); !ok {
				return domain.NotFoundError{Entity: EntityUser, ID: id}
			}
		}
		for _, id := range team.DatasetIDs {
			if _, ok := tx.FindDataset(id); !ok {
				return domain.NotFoundError{Entity: EntityDataset, ID: id}
			}
		}
		var err error
		created, err = tx.CreateTeam(team)
		return err
	})
	return created, err
}

// GetTeam fetches a team by id.
func (s *Service) GetTeam(ctx context.Context, id string) (Team, error) {
	t, ok := s.store.GetTeam(id)
	if !ok {
		return Team{}, domain.NotFoundError{Entity: EntityTeam, ID: id}
	}
	return t, nil
}

// ListTeamsForUser returns every team the user owns or belongs to.
func (s *Service) ListTeamsForUser(ctx context.Context, userID string) ([]Team, error) {
	var out []Team
	err := s.store.View(ctx, func(v TransactionView) error {
		out = v.ListTeamsByMember(userID)
		return nil
	})
	return out, err
}
