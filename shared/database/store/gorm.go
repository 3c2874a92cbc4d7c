package store

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"planify-backend/shared/database/models"
)

// GormStore implements Store on top of a gorm-managed Postgres connection.
type GormStore struct {
	db   *gorm.DB
	inTx bool
}

// NewGormStore returns a store backed by the given gorm connection.
func NewGormStore(db *gorm.DB) *GormStore {
	return &GormStore{db: db}
}

// WithinTx runs fn inside a database transaction. Single-row getters on the
// transaction-scoped store take SELECT ... FOR UPDATE locks, which serializes
// concurrent lifecycle operations touching the same rows.
func (s *GormStore) WithinTx(ctx context.Context, fn func(Store) error) error {
	if s.inTx {
		return fn(s)
	}
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return fn(&GormStore{db: tx, inTx: true})
	})
}

// locked returns a query that holds a row lock when running inside a transaction.
func (s *GormStore) locked(ctx context.Context) *gorm.DB {
	q := s.db.WithContext(ctx)
	if s.inTx {
		q = q.Clauses(clause.Locking{Strength: "UPDATE"})
	}
	return q
}

func translate(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, gorm.ErrRecordNotFound):
		return ErrNotFound
	case errors.Is(err, gorm.ErrDuplicatedKey):
		return ErrDuplicate
	default:
		return err
	}
}

// Users

func (s *GormStore) CreateUser(ctx context.Context, user *models.User) error {
	return translate(s.db.WithContext(ctx).Create(user).Error)
}

func (s *GormStore) SaveUser(ctx context.Context, user *models.User) error {
	return translate(s.db.WithContext(ctx).Save(user).Error)
}

func (s *GormStore) GetUser(ctx context.Context, id uuid.UUID) (*models.User, error) {
	var user models.User
	err := s.locked(ctx).Where("id = ? AND deleted_at IS NULL", id).First(&user).Error
	if err != nil {
		return nil, translate(err)
	}
	return &user, nil
}

func (s *GormStore) GetUserByAuthID(ctx context.Context, authID string) (*models.User, error) {
	var user models.User
	err := s.locked(ctx).Where("auth_id = ? AND deleted_at IS NULL", authID).First(&user).Error
	if err != nil {
		return nil, translate(err)
	}
	return &user, nil
}

func (s *GormStore) SearchUsers(ctx context.Context, search string) ([]models.User, error) {
	var users []models.User
	pattern := "%" + search + "%"
	err := s.db.WithContext(ctx).
		Where("deleted_at IS NULL").
		Where("email ILIKE ? OR username ILIKE ? OR first_name ILIKE ? OR last_name ILIKE ?",
			pattern, pattern, pattern, pattern).
		Find(&users).Error
	return users, translate(err)
}

func (s *GormStore) ListUserOrganizations(ctx context.Context, userID uuid.UUID) ([]models.Organization, error) {
	var orgs []models.Organization
	err := s.db.WithContext(ctx).
		Distinct("organizations.*").
		Joins("JOIN memberships ON memberships.organization_id = organizations.id").
		Where("memberships.user_id = ?", userID).
		Find(&orgs).Error
	return orgs, translate(err)
}

// Organizations

func (s *GormStore) CreateOrganization(ctx context.Context, org *models.Organization) error {
	return translate(s.db.WithContext(ctx).Create(org).Error)
}

func (s *GormStore) GetOrganization(ctx context.Context, id uuid.UUID) (*models.Organization, error) {
	var org models.Organization
	err := s.locked(ctx).Where("id = ?", id).First(&org).Error
	if err != nil {
		return nil, translate(err)
	}
	return &org, nil
}

func (s *GormStore) GetOrganizationBySlug(ctx context.Context, slug string) (*models.Organization, error) {
	var org models.Organization
	err := s.locked(ctx).Where("slug = ?", slug).First(&org).Error
	if err != nil {
		return nil, translate(err)
	}
	return &org, nil
}

func (s *GormStore) DeleteOrganization(ctx context.Context, id uuid.UUID) error {
	res := s.db.WithContext(ctx).Delete(&models.Organization{}, "id = ?", id)
	if res.Error != nil {
		return translate(res.Error)
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *GormStore) SearchOrganizations(ctx context.Context, search string) ([]models.Organization, error) {
	var orgs []models.Organization
	pattern := "%" + search + "%"
	err := s.db.WithContext(ctx).
		Where("name ILIKE ? OR slug ILIKE ?", pattern, pattern).
		Find(&orgs).Error
	return orgs, translate(err)
}

// Memberships

func (s *GormStore) CreateMembership(ctx context.Context, m *models.Membership) error {
	return translate(s.db.WithContext(ctx).Create(m).Error)
}

func (s *GormStore) GetMembership(ctx context.Context, userID, orgID uuid.UUID, role models.Role) (*models.Membership, error) {
	var m models.Membership
	err := s.locked(ctx).
		Where("user_id = ? AND organization_id = ? AND role = ?", userID, orgID, role).
		First(&m).Error
	if err != nil {
		return nil, translate(err)
	}
	return &m, nil
}

func (s *GormStore) ListMembershipsByOrg(ctx context.Context, orgID uuid.UUID) ([]models.Membership, error) {
	var memberships []models.Membership
	err := s.db.WithContext(ctx).Where("organization_id = ?", orgID).Find(&memberships).Error
	return memberships, translate(err)
}

func (s *GormStore) ListMembershipsByUser(ctx context.Context, userID uuid.UUID) ([]models.Membership, error) {
	var memberships []models.Membership
	err := s.db.WithContext(ctx).Where("user_id = ?", userID).Find(&memberships).Error
	return memberships, translate(err)
}

func (s *GormStore) ListMembershipsByUserAndOrg(ctx context.Context, userID, orgID uuid.UUID) ([]models.Membership, error) {
	var memberships []models.Membership
	err := s.locked(ctx).
		Where("user_id = ? AND organization_id = ?", userID, orgID).
		Find(&memberships).Error
	return memberships, translate(err)
}

func (s *GormStore) ListMembershipsByOrgAndRole(ctx context.Context, orgID uuid.UUID, role models.Role) ([]models.Membership, error) {
	var memberships []models.Membership
	err := s.db.WithContext(ctx).
		Where("organization_id = ? AND role = ?", orgID, role).
		Find(&memberships).Error
	return memberships, translate(err)
}

func (s *GormStore) FindOrganizationByAdmin(ctx context.Context, userID uuid.UUID) (*models.Organization, error) {
	var org models.Organization
	err := s.db.WithContext(ctx).
		Joins("JOIN memberships ON memberships.organization_id = organizations.id").
		Where("memberships.user_id = ? AND memberships.role = ?", userID, models.RoleOrgAdmin).
		First(&org).Error
	if err != nil {
		return nil, translate(err)
	}
	return &org, nil
}

func (s *GormStore) DeleteMembershipsByUserAndOrg(ctx context.Context, userID, orgID uuid.UUID) error {
	return translate(s.db.WithContext(ctx).
		Where("user_id = ? AND organization_id = ?", userID, orgID).
		Delete(&models.Membership{}).Error)
}

func (s *GormStore) CountMembershipsByRoleExcludingOrg(ctx context.Context, userID uuid.UUID, role models.Role, excludedOrgID uuid.UUID) (int64, error) {
	var count int64
	err := s.db.WithContext(ctx).Model(&models.Membership{}).
		Where("user_id = ? AND role = ? AND organization_id <> ?", userID, role, excludedOrgID).
		Count(&count).Error
	return count, translate(err)
}

// Invitations

func (s *GormStore) CreateInvitation(ctx context.Context, inv *models.Invitation) error {
	return translate(s.db.WithContext(ctx).Create(inv).Error)
}

func (s *GormStore) SaveInvitation(ctx context.Context, inv *models.Invitation) error {
	return translate(s.db.WithContext(ctx).Save(inv).Error)
}

func (s *GormStore) DeleteInvitation(ctx context.Context, id uuid.UUID) error {
	res := s.db.WithContext(ctx).Delete(&models.Invitation{}, "id = ?", id)
	if res.Error != nil {
		return translate(res.Error)
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *GormStore) GetInvitationByToken(ctx context.Context, token string) (*models.Invitation, error) {
	var inv models.Invitation
	err := s.locked(ctx).Where("token = ?", token).First(&inv).Error
	if err != nil {
		return nil, translate(err)
	}
	return &inv, nil
}

func (s *GormStore) ListPendingInvitations(ctx context.Context, orgID, userID uuid.UUID) ([]models.Invitation, error) {
	var invitations []models.Invitation
	err := s.locked(ctx).
		Where("organization_id = ? AND user_id = ? AND status = ?", orgID, userID, models.InvitationStatusPending).
		Find(&invitations).Error
	return invitations, translate(err)
}

func (s *GormStore) ListInvitationsByUser(ctx context.Context, userID uuid.UUID) ([]models.Invitation, error) {
	var invitations []models.Invitation
	err := s.db.WithContext(ctx).Where("user_id = ?", userID).Find(&invitations).Error
	return invitations, translate(err)
}

func (s *GormStore) ListInvitationsByUserAndStatus(ctx context.Context, userID uuid.UUID, status string) ([]models.Invitation, error) {
	var invitations []models.Invitation
	err := s.db.WithContext(ctx).
		Where("user_id = ? AND status = ?", userID, status).
		Find(&invitations).Error
	return invitations, translate(err)
}

func (s *GormStore) ListInvitationsByOrgAndStatus(ctx context.Context, orgID uuid.UUID, status string) ([]models.Invitation, error) {
	var invitations []models.Invitation
	err := s.db.WithContext(ctx).
		Where("organization_id = ? AND status = ?", orgID, status).
		Find(&invitations).Error
	return invitations, translate(err)
}

// Join requests

func (s *GormStore) CreateJoinRequest(ctx context.Context, jr *models.JoinRequest) error {
	return translate(s.db.WithContext(ctx).Create(jr).Error)
}

func (s *GormStore) SaveJoinRequest(ctx context.Context, jr *models.JoinRequest) error {
	return translate(s.db.WithContext(ctx).Save(jr).Error)
}

func (s *GormStore) GetJoinRequest(ctx context.Context, id uuid.UUID) (*models.JoinRequest, error) {
	var jr models.JoinRequest
	err := s.locked(ctx).Where("id = ?", id).First(&jr).Error
	if err != nil {
		return nil, translate(err)
	}
	return &jr, nil
}

func (s *GormStore) ListPendingJoinRequests(ctx context.Context, userID, orgID uuid.UUID) ([]models.JoinRequest, error) {
	var requests []models.JoinRequest
	err := s.locked(ctx).
		Where("user_id = ? AND organization_id = ? AND status = ?", userID, orgID, models.JoinRequestStatusPending).
		Find(&requests).Error
	return requests, translate(err)
}

func (s *GormStore) ListJoinRequestsByOrgAndStatus(ctx context.Context, orgID uuid.UUID, status string) ([]models.JoinRequest, error) {
	var requests []models.JoinRequest
	err := s.db.WithContext(ctx).
		Where("organization_id = ? AND status = ?", orgID, status).
		Find(&requests).Error
	return requests, translate(err)
}

func (s *GormStore) ListJoinRequestsByUserAndStatus(ctx context.Context, userID uuid.UUID, status string) ([]models.JoinRequest, error) {
	var requests []models.JoinRequest
	err := s.db.WithContext(ctx).
		Where("user_id = ? AND status = ?", userID, status).
		Find(&requests).Error
	return requests, translate(err)
}
