package services

import (
	"context"
	"errors"
	"log"

	"github.com/google/uuid"

	"planify-backend/shared/clients"
	"planify-backend/shared/database/models"
	"planify-backend/shared/database/store"
)

// IdentityAuthority is the external system of record for flat, per-account role flags.
// Both operations must be idempotent from the caller's perspective.
type IdentityAuthority interface {
	AssignRole(ctx context.Context, authID string, role models.Role) error
	RemoveRole(ctx context.Context, authID string, role models.Role) error
}

// RoleReconciler projects per-organization membership changes onto the authority's
// organization-less role model. Granting always assigns; revocation only happens once
// no other organization's membership still depends on the role.
type RoleReconciler struct {
	authority IdentityAuthority
}

// NewRoleReconciler returns a reconciler backed by the given authority client.
func NewRoleReconciler(authority IdentityAuthority) *RoleReconciler {
	return &RoleReconciler{authority: authority}
}

// Grant adds the role flag to the user's account. Assigning an already-held flag is a
// no-op (the client absorbs duplicate-assignment responses as success).
func (r *RoleReconciler) Grant(ctx context.Context, user *models.User, role models.Role) error {
	if err := r.authority.AssignRole(ctx, user.AuthID, role); err != nil {
		return authorityFailure("assign role", err)
	}
	return nil
}

// RevokeIfUnused removes the role flag only when no membership outside excludedOrgID
// still carries the same role. The count must run against the post-removal membership
// set: callers delete the membership rows first, inside the same transaction.
func (r *RoleReconciler) RevokeIfUnused(ctx context.Context, st store.Store, user *models.User, role models.Role, excludedOrgID uuid.UUID) error {
	remaining, err := st.CountMembershipsByRoleExcludingOrg(ctx, user.ID, role, excludedOrgID)
	if err != nil {
		return err
	}
	if remaining > 0 {
		log.Printf("Role %s retained for user %s: still held via %d other membership(s)", role, user.ID, remaining)
		return nil
	}
	if err := r.authority.RemoveRole(ctx, user.AuthID, role); err != nil {
		return authorityFailure("remove role", err)
	}
	return nil
}

// authorityFailure translates client errors into the service taxonomy.
func authorityFailure(op string, err error) error {
	if errors.Is(err, clients.ErrAuthorityUnavailable) {
		return wrapError(CodeAuthorityUnavailable, "identity authority unavailable", err)
	}
	return wrapError(CodeAuthorityUnavailable, "identity authority call failed: "+op, err)
}
