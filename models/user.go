package models

import (
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

// UserRole determines what a user may do against the API.
type UserRole string

// Roles, least to most privileged. Citizens are implicit/unauthenticated
// and never stored.
const (
	RoleCitizen    UserRole = "citizen"
	RoleAuthority  UserRole = "authority"
	RoleAdmin      UserRole = "admin"
	RoleSuperAdmin UserRole = "super_admin"
)

// User is an authority-side account. Read-only from the engine's
// perspective except LastLoginAt.
type User struct {
	ID           primitive.ObjectID `json:"_id" bson:"_id,omitempty"`
	Username     string             `json:"username" bson:"username"`
	Password     string             `json:"-" bson:"password"`
	Role         UserRole           `json:"role" bson:"role"`
	DepartmentID string             `json:"departmentId,omitempty" bson:"departmentId,omitempty"`
	LastLoginAt  *time.Time         `json:"lastLoginAt,omitempty" bson:"lastLoginAt,omitempty"`
	CreatedAt    time.Time          `json:"createdAt" bson:"createdAt"`
}

// CanTriage reports whether the role may move issues through the lifecycle.
func (r UserRole) CanTriage() bool {
	return r == RoleAuthority || r == RoleAdmin || r == RoleSuperAdmin
}

// CanAdminister reports whether the role may manage reference data.
func (r UserRole) CanAdminister() bool {
	return r == RoleAdmin || r == RoleSuperAdmin
}
