// Package auth checks callers against the fixed operation permission map and
// their organization.
package auth

import (
	"fmt"

	"github.com/Veraticus/the-books-must-balance/internal/common"
	"github.com/Veraticus/the-books-must-balance/internal/model"
)

// Access is the kind of access an operation needs.
type Access string

// Access kinds.
const (
	Read  Access = "read"
	Write Access = "write"
)

// Permissions recognized by the engine.
const (
	PermView   = "reconciliation:view"
	PermRead   = "reconciliation:read"
	PermCreate = "reconciliation:create"
	PermUpdate = "reconciliation:update"
	PermAdmin  = "admin"
)

var grants = map[Access][]string{
	Read:  {PermView, PermRead, PermAdmin},
	Write: {PermCreate, PermUpdate, PermAdmin},
}

// Check returns a PERMISSION_DENIED error unless user belongs to an
// organization, holds a permission granting access and belongs to orgID. An
// empty orgID checks only the permission, for calls made before the target
// entity is loaded.
func Check(user *model.User, access Access, orgID string) error {
	if user == nil || user.ID == "" {
		return common.NewError(common.CodePermission, "no authenticated user", common.ErrPermissionDenied)
	}
	if user.OrganizationID == "" {
		return common.NewError(common.CodePermission,
			fmt.Sprintf("user %s has no organization", user.ID), common.ErrPermissionDenied)
	}

	allowed, ok := grants[access]
	if !ok {
		return common.NewError(common.CodePermission,
			fmt.Sprintf("unknown access %q", access), common.ErrPermissionDenied)
	}

	granted := false
	for _, perm := range allowed {
		if user.HasPermission(perm) {
			granted = true
			break
		}
	}
	if !granted {
		return common.NewError(common.CodePermission,
			fmt.Sprintf("user %s lacks %s access", user.ID, access), common.ErrPermissionDenied)
	}

	if orgID != "" && user.OrganizationID != orgID {
		return common.NewError(common.CodePermission,
			fmt.Sprintf("user %s cannot access organization %s", user.ID, orgID), common.ErrPermissionDenied)
	}
	return nil
}
