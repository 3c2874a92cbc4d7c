// Package store is the persistence boundary for the membership lifecycle. Services
// depend on the Store interface only; entities reference each other by id and are
// resolved through the store, never through live object references.
package store

import (
	"context"
	"errors"

	"github.com/google/uuid"

	"planify-backend/shared/database/models"
)

var (
	// ErrNotFound is returned when the requested record does not exist.
	ErrNotFound = errors.New("record not found")
	// ErrDuplicate is returned when a write violates a uniqueness constraint.
	ErrDuplicate = errors.New("duplicate record")
)

// Store exposes CRUD and filtered-query operations for the lifecycle entities plus a
// transactional unit of work. Inside WithinTx, single-row getters take row locks so
// concurrent operations on the same (user, organization) pair linearize.
type Store interface {
	// WithinTx runs fn against a transaction-scoped store. fn returning an error
	// rolls back every write made through that store.
	WithinTx(ctx context.Context, fn func(Store) error) error

	// Users
	CreateUser(ctx context.Context, user *models.User) error
	SaveUser(ctx context.Context, user *models.User) error
	GetUser(ctx context.Context, id uuid.UUID) (*models.User, error)
	GetUserByAuthID(ctx context.Context, authID string) (*models.User, error)
	SearchUsers(ctx context.Context, search string) ([]models.User, error)
	ListUserOrganizations(ctx context.Context, userID uuid.UUID) ([]models.Organization, error)

	// Organizations
	CreateOrganization(ctx context.Context, org *models.Organization) error
	GetOrganization(ctx context.Context, id uuid.UUID) (*models.Organization, error)
	GetOrganizationBySlug(ctx context.Context, slug string) (*models.Organization, error)
	DeleteOrganization(ctx context.Context, id uuid.UUID) error
	SearchOrganizations(ctx context.Context, search string) ([]models.Organization, error)

	// Memberships
	CreateMembership(ctx context.Context, m *models.Membership) error
	GetMembership(ctx context.Context, userID, orgID uuid.UUID, role models.Role) (*models.Membership, error)
	ListMembershipsByOrg(ctx context.Context, orgID uuid.UUID) ([]models.Membership, error)
	ListMembershipsByUser(ctx context.Context, userID uuid.UUID) ([]models.Membership, error)
	ListMembershipsByUserAndOrg(ctx context.Context, userID, orgID uuid.UUID) ([]models.Membership, error)
	ListMembershipsByOrgAndRole(ctx context.Context, orgID uuid.UUID, role models.Role) ([]models.Membership, error)
	FindOrganizationByAdmin(ctx context.Context, userID uuid.UUID) (*models.Organization, error)
	DeleteMembershipsByUserAndOrg(ctx context.Context, userID, orgID uuid.UUID) error
	CountMembershipsByRoleExcludingOrg(ctx context.Context, userID uuid.UUID, role models.Role, excludedOrgID uuid.UUID) (int64, error)

	// Invitations
	CreateInvitation(ctx context.Context, inv *models.Invitation) error
	SaveInvitation(ctx context.Context, inv *models.Invitation) error
	DeleteInvitation(ctx context.Context, id uuid.UUID) error
	GetInvitationByToken(ctx context.Context, token string) (*models.Invitation, error)
	ListPendingInvitations(ctx context.Context, orgID, userID uuid.UUID) ([]models.Invitation, error)
	ListInvitationsByUser(ctx context.Context, userID uuid.UUID) ([]models.Invitation, error)
	ListInvitationsByUserAndStatus(ctx context.Context, userID uuid.UUID, status string) ([]models.Invitation, error)
	ListInvitationsByOrgAndStatus(ctx context.Context, orgID uuid.UUID, status string) ([]models.Invitation, error)

	// Join requests
	CreateJoinRequest(ctx context.Context, jr *models.JoinRequest) error
	SaveJoinRequest(ctx context.Context, jr *models.JoinRequest) error
	GetJoinRequest(ctx context.Context, id uuid.UUID) (*models.JoinRequest, error)
	ListPendingJoinRequests(ctx context.Context, userID, orgID uuid.UUID) ([]models.JoinRequest, error)
	ListJoinRequestsByOrgAndStatus(ctx context.Context, orgID uuid.UUID, status string) ([]models.JoinRequest, error)
	ListJoinRequestsByUserAndStatus(ctx context.Context, userID uuid.UUID, status string) ([]models.JoinRequest, error)
}
