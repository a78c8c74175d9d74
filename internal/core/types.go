package core

import "autoinsight/pkg/domain"

type (
	EntityType      = domain.EntityType
	Permission      = domain.Permission
	InsightCategory = domain.InsightCategory
	User            = domain.User
	Dataset         = domain.Dataset
	SharedGrant     = domain.SharedGrant
	Team            = domain.Team
	Transaction     = domain.Transaction
	TransactionView = domain.TransactionView
	PersistentStore = domain.PersistentStore
)

const (
	EntityUser    = domain.EntityUser
	EntityDataset = domain.EntityDataset
	EntityGrant   = domain.EntityGrant
	EntityTeam    = domain.EntityTeam
)

const (
	PermissionView  = domain.PermissionView
	PermissionEdit  = domain.PermissionEdit
	PermissionAdmin = domain.PermissionAdmin
)
