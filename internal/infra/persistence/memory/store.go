// Package memory provides an in-memory implementation of the core persistence
// store used for tests and ephemeral environments.
package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"autoinsight/pkg/domain"

	"github.com/google/uuid"
)

// Compile-time contract assertion ensuring memory.Store adheres to the domain persistence interface.
var _ domain.PersistentStore = (*Store)(nil)

type (
	// User aliases domain.User for in-memory persistence operations.
	User = domain.User
	// Dataset aliases domain.Dataset.
	Dataset = domain.Dataset
	// SharedGrant aliases domain.SharedGrant.
	SharedGrant = domain.SharedGrant
	// Team aliases domain.Team.
	Team = domain.Team
	// Transaction aliases domain.Transaction representing a mutable unit of work.
	Transaction = domain.Transaction
	// TransactionView aliases domain.TransactionView providing read-only state.
	TransactionView = domain.TransactionView
)

type memoryState struct {
	users    map[string]User
	datasets map[string]Dataset
	grants   map[string]SharedGrant
	teams    map[string]Team
}

// Snapshot captures a point-in-time clone of the store state for durable backends.
type Snapshot struct {
	Users    map[string]User        `json:"users"`
	Datasets map[string]Dataset     `json:"datasets"`
	Grants   map[string]SharedGrant `json:"grants"`
	Teams    map[string]Team        `json:"teams"`
}

func newMemoryState() memoryState {
	return memoryState{
		users:    make(map[string]User),
		datasets: make(map[string]Dataset),
		grants:   make(map[string]SharedGrant),
		teams:    make(map[string]Team),
	}
}

func (s memoryState) clone() memoryState {
	cloned := newMemoryState()
	for k, v := range s.users {
		cloned.users[k] = v
	}
	for k, v := range s.datasets {
		cloned.datasets[k] = cloneDataset(v)
	}
	for k, v := range s.grants {
		cloned.grants[k] = v
	}
	for k, v := range s.teams {
		cloned.teams[k] = cloneTeam(v)
	}
	return cloned
}

func cloneDataset(d Dataset) Dataset {
	cp := d
	if d.CleanedURL != nil {
		u := *d.CleanedURL
		cp.CleanedURL = &u
	}
	if d.Insights != nil {
		cp.Insights = make(map[domain.InsightCategory][]domain.Artifact, len(d.Insights))
		for cat, arts := range d.Insights {
			bucket := make([]domain.Artifact, len(arts))
			for i, a := range arts {
				bucket[i] = a
				if a.FilterNumber != nil {
					n := *a.FilterNumber
					bucket[i].FilterNumber = &n
				}
			}
			cp.Insights[cat] = bucket
		}
	}
	cp.SharedUsernames = append([]string(nil), d.SharedUsernames...)
	return cp
}

func cloneTeam(t Team) Team {
	cp := t
	cp.MemberIDs = append([]string(nil), t.MemberIDs...)
	cp.DatasetIDs = append([]string(nil), t.DatasetIDs...)
	return cp
}

// Store is a mutex-guarded in-memory persistent store with transactional
// clone-on-write semantics: a transaction mutates a copy of the state which
// replaces the live state only when the closure returns nil.
type Store struct {
	mu    sync.RWMutex
	state memoryState
	nowFn func() time.Time
}

// NewStore constructs an empty in-memory store.
func NewStore() *Store {
	return &Store{
		state: newMemoryState(),
		nowFn: func() time.Time { return time.Now().UTC() },
	}
}

func newID() string { return uuid.NewString() }

// ExportState clones the current store state for external persistence.
func (s *Store) ExportState() Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	snap := Snapshot{
		Users:    make(map[string]User, len(s.state.users)),
		Datasets: make(map[string]Dataset, len(s.state.datasets)),
		Grants:   make(map[string]SharedGrant, len(s.state.grants)),
		Teams:    make(map[string]Team, len(s.state.teams)),
	}
	for k, v := range s.state.users {
		snap.Users[k] = v
	}
	for k, v := range s.state.datasets {
		snap.Datasets[k] = cloneDataset(v)
	}
	for k, v := range s.state.grants {
		snap.Grants[k] = v
	}
	for k, v := range s.state.teams {
		snap.Teams[k] = cloneTeam(v)
	}
	return snap
}

// ImportState replaces the store state with the provided snapshot.
func (s *Store) ImportState(snap Snapshot) {
	s.mu.Lock()
	defer s.mu.Unlock()
	state := newMemoryState()
	for k, v := range snap.Users {
		state.users[k] = v
	}
	for k, v := range snap.Datasets {
		state.datasets[k] = cloneDataset(v)
	}
	for k, v := range snap.Grants {
		state.grants[k] = v
	}
	for k, v := range snap.Teams {
		state.teams[k] = cloneTeam(v)
	}
	s.state = state
}

// SetNowFunc overrides the time provider; tests use this for stable timestamps.
func (s *Store) SetNowFunc(fn func() time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nowFn = fn
}

// RunInTransaction executes fn within a transactional copy of the store state.
func (s *Store) RunInTransaction(_ context.Context, fn func(Transaction) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx := &transaction{
		state: s.state.clone(),
		now:   s.nowFn(),
	}
	if err := fn(tx); err != nil {
		return err
	}
	s.state = tx.state
	return nil
}

// View executes fn against a read-only snapshot of the store state.
func (s *Store) View(_ context.Context, fn func(TransactionView) error) error {
	s.mu.RLock()
	defer s.mu.RUnlock()

	snapshot := s.state.clone()
	return fn(transactionView{state: &snapshot})
}

// GetUser fetches a user by id.
func (s *Store) GetUser(id string) (User, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	u, ok := s.state.users[id]
	return u, ok
}

// GetDataset fetches a dataset by id.
func (s *Store) GetDataset(id string) (Dataset, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	d, ok := s.state.datasets[id]
	if !ok {
		return Dataset{}, false
	}
	return cloneDataset(d), true
}

// GetTeam fetches a team by id.
func (s *Store) GetTeam(id string) (Team, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	t, ok := s.state.teams[id]
	if !ok {
		return Team{}, false
	}
	return cloneTeam(t), true
}

// ListDatasets returns all datasets ordered by id.
func (s *Store) ListDatasets() []Dataset {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Dataset, 0, len(s.state.datasets))
	for _, d := range s.state.datasets {
		out = append(out, cloneDataset(d))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// ListTeams returns all teams ordered by id.
func (s *Store) ListTeams() []Team {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Team, 0, len(s.state.teams))
	for _, t := range s.state.teams {
		out = append(out, cloneTeam(t))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

type transaction struct {
	state memoryState
	now   time.Time
}

// Snapshot returns a read-only view over the transactional state.
func (tx *transaction) Snapshot() TransactionView {
	return transactionView{state: &tx.state}
}

func (tx *transaction) FindUser(id string) (User, bool) {
	u, ok := tx.state.users[id]
	return u, ok
}

func (tx *transaction) FindDataset(id string) (Dataset, bool) {
	d, ok := tx.state.datasets[id]
	if !ok {
		return Dataset{}, false
	}
	return cloneDataset(d), true
}

func (tx *transaction) FindGrant(datasetID, userID string) (SharedGrant, bool) {
	return findGrant(&tx.state, datasetID, userID)
}

func (tx *transaction) FindTeam(id string) (Team, bool) {
	t, ok := tx.state.teams[id]
	if !ok {
		return Team{}, false
	}
	return cloneTeam(t), true
}

// CreateUser stores a new user within the transaction.
func (tx *transaction) CreateUser(u User) (User, error) {
	if u.ID == "" {
		u.ID = newID()
	}
	if _, exists := tx.state.users[u.ID]; exists {
		return User{}, fmt.Errorf("user %q already exists", u.ID)
	}
	u.CreatedAt = tx.now
	u.UpdatedAt = tx.now
	tx.state.users[u.ID] = u
	return u, nil
}

// UpdateUser mutates a user using the provided mutator function.
func (tx *transaction) UpdateUser(id string, mutator func(*User) error) (User, error) {
	current, ok := tx.state.users[id]
	if !ok {
		return User{}, domain.NotFoundError{Entity: domain.EntityUser, ID: id}
	}
	if err := mutator(&current); err != nil {
		return User{}, err
	}
	current.ID = id
	current.UpdatedAt = tx.now
	tx.state.users[id] = current
	return current, nil
}

// DeleteUser removes a user record.
func (tx *transaction) DeleteUser(id string) error {
	if _, ok := tx.state.users[id]; !ok {
		return domain.NotFoundError{Entity: domain.EntityUser, ID: id}
	}
	delete(tx.state.users, id)
	return nil
}

// CreateDataset stores a new dataset.
func (tx *transaction) CreateDataset(d Dataset) (Dataset, error) {
	if d.ID == "" {
		d.ID = newID()
	}
	if _, exists := tx.state.datasets[d.ID]; exists {
		return Dataset{}, fmt.Errorf("dataset %q already exists", d.ID)
	}
	d.CreatedAt = tx.now
	d.UpdatedAt = tx.now
	if d.Insights == nil {
		d.Insights = make(map[domain.InsightCategory][]domain.Artifact)
	}
	tx.state.datasets[d.ID] = cloneDataset(d)
	return cloneDataset(d), nil
}

// UpdateDataset mutates a dataset using the provided mutator function.
func (tx *transaction) UpdateDataset(id string, mutator func(*Dataset) error) (Dataset, error) {
	current, ok := tx.state.datasets[id]
	if !ok {
		return Dataset{}, domain.NotFoundError{Entity: domain.EntityDataset, ID: id}
	}
	working := cloneDataset(current)
	if err := mutator(&working); err != nil {
		return Dataset{}, err
	}
	working.ID = id
	working.UpdatedAt = tx.now
	tx.state.datasets[id] = cloneDataset(working)
	return working, nil
}

// DeleteDataset removes a dataset and cascades its grants and team references.
func (tx *transaction) DeleteDataset(id string) error {
	if _, ok := tx.state.datasets[id]; !ok {
		return domain.NotFoundError{Entity: domain.EntityDataset, ID: id}
	}
	delete(tx.state.datasets, id)
	for gid, grant := range tx.state.grants {
		if grant.DatasetID == id {
			delete(tx.state.grants, gid)
		}
	}
	for tid, team := range tx.state.teams {
		kept := team.DatasetIDs[:0]
		for _, did := range team.DatasetIDs {
			if did != id {
				kept = append(kept, did)
			}
		}
		team.DatasetIDs = kept
		tx.state.teams[tid] = team
	}
	return nil
}

// CreateGrant stores a new grant. At most one grant may exist per
// (dataset, user) pair; callers upgrade existing grants via UpdateGrant.
func (tx *transaction) CreateGrant(g SharedGrant) (SharedGrant, error) {
	if g.ID == "" {
		g.ID = newID()
	}
	if _, exists := tx.state.grants[g.ID]; exists {
		return SharedGrant{}, fmt.Errorf("grant %q already exists", g.ID)
	}
	if !g.Permission.Valid() {
		return SharedGrant{}, domain.InvalidInputError{Field: "permission", Reason: "must be one of view, edit, admin"}
	}
	if _, dup := findGrant(&tx.state, g.DatasetID, g.UserID); dup {
		return SharedGrant{}, fmt.Errorf("grant for dataset %q and user %q already exists", g.DatasetID, g.UserID)
	}
	g.CreatedAt = tx.now
	g.UpdatedAt = tx.now
	tx.state.grants[g.ID] = g
	return g, nil
}

// UpdateGrant mutates an existing grant.
func (tx *transaction) UpdateGrant(id string, mutator func(*SharedGrant) error) (SharedGrant, error) {
	current, ok := tx.state.grants[id]
	if !ok {
		return SharedGrant{}, domain.NotFoundError{Entity: domain.EntityGrant, ID: id}
	}
	if err := mutator(&current); err != nil {
		return SharedGrant{}, err
	}
	if !current.Permission.Valid() {
		return SharedGrant{}, domain.InvalidInputError{Field: "permission", Reason: "must be one of view, edit, admin"}
	}
	current.ID = id
	current.UpdatedAt = tx.now
	tx.state.grants[id] = current
	return current, nil
}

// DeleteGrant removes a grant record.
func (tx *transaction) DeleteGrant(id string) error {
	if _, ok := tx.state.grants[id]; !ok {
		return domain.NotFoundError{Entity: domain.EntityGrant, ID: id}
	}
	delete(tx.state.grants, id)
	return nil
}

// CreateTeam stores a new team, forcing the owner into the member set.
func (tx *transaction) CreateTeam(t Team) (Team, error) {
	if t.ID == "" {
		t.ID = newID()
	}
	if _, exists := tx.state.teams[t.ID]; exists {
		return Team{}, fmt.Errorf("team %q already exists", t.ID)
	}
	if !t.MemberPermission.Valid() {
		t.MemberPermission = domain.PermissionView
	}
	t.MemberIDs = ensureMember(t.MemberIDs, t.OwnerID)
	t.CreatedAt = tx.now
	t.UpdatedAt = tx.now
	tx.state.teams[t.ID] = cloneTeam(t)
	return cloneTeam(t), nil
}

// UpdateTeam mutates a team, re-adding the owner if a mutator dropped it.
func (tx *transaction) UpdateTeam(id string, mutator func(*Team) error) (Team, error) {
	current, ok := tx.state.teams[id]
	if !ok {
		return Team{}, domain.NotFoundError{Entity: domain.EntityTeam, ID: id}
	}
	working := cloneTeam(current)
	if err := mutator(&working); err != nil {
		return Team{}, err
	}
	if !working.MemberPermission.Valid() {
		return Team{}, domain.InvalidInputError{Field: "memberPermission", Reason: "must be one of view, edit, admin"}
	}
	working.ID = id
	working.OwnerID = current.OwnerID
	working.MemberIDs = ensureMember(working.MemberIDs, working.OwnerID)
	working.UpdatedAt = tx.now
	tx.state.teams[id] = cloneTeam(working)
	return working, nil
}

// DeleteTeam removes a team record.
func (tx *transaction) DeleteTeam(id string) error {
	if _, ok := tx.state.teams[id]; !ok {
		return domain.NotFoundError{Entity: domain.EntityTeam, ID: id}
	}
	delete(tx.state.teams, id)
	return nil
}

func ensureMember(members []string, ownerID string) []string {
	for _, id := range members {
		if id == ownerID {
			return members
		}
	}
	return append(members, ownerID)
}

func findGrant(state *memoryState, datasetID, userID string) (SharedGrant, bool) {
	for _, g := range state.grants {
		if g.DatasetID == datasetID && g.UserID == userID {
			return g, true
		}
	}
	return SharedGrant{}, false
}

type transactionView struct {
	state *memoryState
}

func (v transactionView) FindUser(id string) (User, bool) {
	u, ok := v.state.users[id]
	return u, ok
}

func (v transactionView) FindUserByUsername(username string) (User, bool) {
	for _, u := range v.state.users {
		if u.Username == username {
			return u, true
		}
	}
	return User{}, false
}

func (v transactionView) FindDataset(id string) (Dataset, bool) {
	d, ok := v.state.datasets[id]
	if !ok {
		return Dataset{}, false
	}
	return cloneDataset(d), true
}

func (v transactionView) FindGrant(datasetID, userID string) (SharedGrant, bool) {
	return findGrant(v.state, datasetID, userID)
}

func (v transactionView) FindTeam(id string) (Team, bool) {
	t, ok := v.state.teams[id]
	if !ok {
		return Team{}, false
	}
	return cloneTeam(t), true
}

func (v transactionView) ListUsers() []User {
	out := make([]User, 0, len(v.state.users))
	for _, u := range v.state.users {
		out = append(out, u)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func (v transactionView) ListDatasets() []Dataset {
	out := make([]Dataset, 0, len(v.state.datasets))
	for _, d := range v.state.datasets {
		out = append(out, cloneDataset(d))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func (v transactionView) ListDatasetsByOwner(ownerID string) []Dataset {
	out := make([]Dataset, 0)
	for _, d := range v.state.datasets {
		if d.OwnerID == ownerID {
			out = append(out, cloneDataset(d))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func (v transactionView) ListGrantsByDataset(datasetID string) []SharedGrant {
	out := make([]SharedGrant, 0)
	for _, g := range v.state.grants {
		if g.DatasetID == datasetID {
			out = append(out, g)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func (v transactionView) ListGrantsByUser(userID string) []SharedGrant {
	out := make([]SharedGrant, 0)
	for _, g := range v.state.grants {
		if g.UserID == userID {
			out = append(out, g)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func (v transactionView) ListTeams() []Team {
	out := make([]Team, 0, len(v.state.teams))
	for _, t := range v.state.teams {
		out = append(out, cloneTeam(t))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func (v transactionView) ListTeamsByMember(userID string) []Team {
	out := make([]Team, 0)
	for _, t := range v.state.teams {
		if t.HasMember(userID) {
			out = append(out, cloneTeam(t))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func (v transactionView) ListTeamsByDataset(datasetID string) []Team {
	out := make([]Team, 0)
	for _, t := range v.state.teams {
		if t.HasDataset(datasetID) {
			out = append(out, cloneTeam(t))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}
