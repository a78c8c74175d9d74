// Package access resolves effective dataset and team permissions and applies
// sharing mutations. Permission sources are ownership, direct grants, and
// team membership; when several apply, the highest level wins.
package access

import (
	"context"

	"go.uber.org/zap"

	"autoinsight/pkg/domain"
)

// Resolver computes effective permissions against the persistent store.
type Resolver struct {
	store  domain.PersistentStore
	logger *zap.Logger
}

// NewResolver creates a resolver. A nil logger is replaced with a no-op.
func NewResolver(store domain.PersistentStore, logger *zap.Logger) *Resolver {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Resolver{store: store, logger: logger}
}

// ResolveDataset returns the highest permission userID holds on datasetID.
// Ownership short-circuits to admin. Otherwise direct grants and team paths
// are combined by taking the maximum level. No applicable source yields
// AccessDeniedError; a missing dataset yields NotFoundError.
func (r *Resolver) ResolveDataset(ctx context.Context, userID, datasetID string) (domain.Permission, error) {
	var perm domain.Permission
	err := r.store.View(ctx, func(view domain.TransactionView) error {
		ds, ok := view.FindDataset(datasetID)
		if !ok {
			return domain.NotFoundError{Entity: domain.EntityDataset, ID: datasetID}
		}
		if ds.OwnerID == userID {
			perm = domain.PermissionAdmin
			return nil
		}
		if g, ok := view.FindGrant(datasetID, userID); ok {
			perm = maxPermission(perm, g.Permission)
		}
		for _, team := range view.ListTeamsByDataset(datasetID) {
			if team.OwnerID == userID {
				perm = maxPermission(perm, domain.PermissionAdmin)
				continue
			}
			if team.HasMember(userID) {
				perm = maxPermission(perm, team.MemberPermission)
			}
		}
		if perm == "" {
			return domain.AccessDeniedError{Reason: "no access to dataset " + datasetID}
		}
		return nil
	})
	if err != nil {
		return "", err
	}
	return perm, nil
}

// RequireDataset enforces a minimum permission level on a dataset.
func (r *Resolver) RequireDataset(ctx context.Context, userID, datasetID string, required domain.Permission) error {
	perm, err := r.ResolveDataset(ctx, userID, datasetID)
	if err != nil {
		return err
	}
	if !perm.Allows(required) {
		return domain.AccessDeniedError{Reason: string(required) + " required on dataset " + datasetID}
	}
	return nil
}

// ResolveTeam returns userID's permission within a team: admin for the
// owner, the team's uniform member permission for members.
func (r *Resolver) ResolveTeam(ctx context.Context, userID, teamID string) (domain.Permission, error) {
	var perm domain.Permission
	err := r.store.View(ctx, func(view domain.TransactionView) error {
		team, ok := view.FindTeam(teamID)
		if !ok {
			return domain.NotFoundError{Entity: domain.EntityTeam, ID: teamID}
		}
		switch {
		case team.OwnerID == userID:
			perm = domain.PermissionAdmin
		case team.HasMember(userID):
			perm = team.MemberPermission
		default:
			return domain.AccessDeniedError{Reason: "not a member of team " + teamID}
		}
		return nil
	})
	if err != nil {
		return "", err
	}
	return perm, nil
}

// Share grants perm on datasetID to targetUserID, upserting any existing
// grant and recording the target's username on the dataset.
func (r *Resolver) Share(ctx context.Context, datasetID, targetUserID string, perm domain.Permission) error {
	if !perm.Valid() {
		return domain.InvalidInputError{Field: "permission", Reason: "unknown permission " + string(perm)}
	}
	err := r.store.RunInTransaction(ctx, func(tx domain.Transaction) error {
		ds, ok := tx.FindDataset(datasetID)
		if !ok {
			return domain.NotFoundError{Entity: domain.EntityDataset, ID: datasetID}
		}
		target, ok := tx.FindUser(targetUserID)
		if !ok {
			return domain.NotFoundError{Entity: domain.EntityUser, ID: targetUserID}
		}
		if ds.OwnerID == targetUserID {
			return domain.InvalidInputError{Field: "user_id", Reason: "already the owner"}
		}
		if existing, ok := tx.FindGrant(datasetID, targetUserID); ok {
			_, err := tx.UpdateGrant(existing.ID, func(g *domain.SharedGrant) error {
				g.Permission = perm
				return nil
			})
			return err
		}
		if _, err := tx.CreateGrant(domain.SharedGrant{
			DatasetID:  datasetID,
			UserID:     targetUserID,
			Permission: perm,
		}); err != nil {
			return err
		}
		_, err := tx.UpdateDataset(datasetID, func(d *domain.Dataset) error {
			for _, name := range d.SharedUsernames {
				if name == target.Username {
					return nil
				}
			}
			d.SharedUsernames = append(d.SharedUsernames, target.Username)
			return nil
		})
		return err
	})
	if err != nil {
		return err
	}
	r.logger.Info("dataset shared",
		zap.String("dataset_id", datasetID),
		zap.String("user_id", targetUserID),
		zap.String("permission", string(perm)))
	return nil
}

// Unshare revokes targetUserID's direct grant on datasetID.
func (r *Resolver) Unshare(ctx context.Context, datasetID, targetUserID string) error {
	return r.store.RunInTransaction(ctx, func(tx domain.Transaction) error {
		if _, ok := tx.FindDataset(datasetID); !ok {
			return domain.NotFoundError{Entity: domain.EntityDataset, ID: datasetID}
		}
		grant, ok := tx.FindGrant(datasetID, targetUserID)
		if !ok {
			return domain.InvalidInputError{Field: "user_id", Reason: "dataset is not shared with this user"}
		}
		if err := tx.DeleteGrant(grant.ID); err != nil {
			return err
		}
		target, ok := tx.FindUser(targetUserID)
		if !ok {
			return nil
		}
		_, err := tx.UpdateDataset(datasetID, func(d *domain.Dataset) error {
			kept := d.SharedUsernames[:0]
			for _, name := range d.SharedUsernames {
				if name != target.Username {
					kept = append(kept, name)
				}
			}
			d.SharedUsernames = kept
			return nil
		})
		return err
	})
}

// SetTeamMembers replaces a team's member set. The owner is always re-added.
func (r *Resolver) SetTeamMembers(ctx context.Context, teamID string, memberIDs []string) (domain.Team, error) {
	var updated domain.Team
	err := r.store.RunInTransaction(ctx, func(tx domain.Transaction) error {
		for _, id := range memberIDs {
			if _, ok := tx.FindUser(id); !ok {
				return domain.NotFoundError{Entity: domain.EntityUser, ID: id}
			}
		}
		var err error
		updated, err = tx.UpdateTeam(teamID, func(t *domain.Team) error {
			t.MemberIDs = append([]string(nil), memberIDs...)
			return nil
		})
		return err
	})
	return updated, err
}

// SetTeamPermission changes the uniform permission all members share.
func (r *Resolver) SetTeamPermission(ctx context.Context, teamID string, perm domain.Permission) (domain.Team, error) {
	if !perm.Valid() {
		return domain.Team{}, domain.InvalidInputError{Field: "permission", Reason: "unknown permission " + string(perm)}
	}
	var updated domain.Team
	err := r.store.RunInTransaction(ctx, func(tx domain.Transaction) error {
		var err error
		updated, err = tx.UpdateTeam(teamID, func(t *domain.Team) error {
			t.MemberPermission = perm
			return nil
		})
		return err
	})
	return updated, err
}

// AssignTeamDatasets replaces the set of datasets a team can reach.
func (r *Resolver) AssignTeamDatasets(ctx context.Context, teamID string, datasetIDs []string) (domain.Team, error) {
	var updated domain.Team
	err := r.store.RunInTransaction(ctx, func(tx domain.Transaction) error {
		for _, id := range datasetIDs {
			if _, ok := tx.FindDataset(id); !ok {
				return domain.NotFoundError{Entity: domain.EntityDataset, ID: id}
			}
		}
		var err error
		updated, err = tx.UpdateTeam(teamID, func(t *domain.Team) error {
			t.DatasetIDs = append([]string(nil), datasetIDs...)
			return nil
		})
		return err
	})
	return updated, err
}

func maxPermission(a, b domain.Permission) domain.Permission {
	if b.Level() > a.Level() {
		return b
	}
	return a
}
