package services

import (
	"context"
	"errors"
	"log"
	"strings"
	"time"

	"github.com/google/uuid"

	"planify-backend/shared/database/models"
	"planify-backend/shared/database/store"
	"planify-backend/shared/events"
	"planify-backend/shared/utils/cache"
)

// OrganizationService manages organizations and their memberships. Every mutation runs
// inside one store transaction together with the matching identity-authority call, so a
// failed authority call rolls the local change back; domain events are published only
// after the transaction commits.
type OrganizationService struct {
	store      store.Store
	reconciler *RoleReconciler
	notifier   events.Notifier
	roleCache  *cache.CacheManager
	now        func() time.Time
}

// NewOrganizationService wires the organization service.
func NewOrganizationService(st store.Store, reconciler *RoleReconciler, notifier events.Notifier) *OrganizationService {
	return &OrganizationService{
		store:      st,
		reconciler: reconciler,
		notifier:   notifier,
		now:        time.Now,
	}
}

// WithRoleCache attaches the advisory redis role cache.
func (s *OrganizationService) WithRoleCache(cm *cache.CacheManager) *OrganizationService {
	s.roleCache = cm
	return s
}

// CreateOrganizationInput describes a new organization.
type CreateOrganizationInput struct {
	Name            string
	Slug            string
	Description     string
	Business        bool
	CreatedByUserID uuid.UUID
}

// MemberWithRoles groups one member's roles within an organization.
type MemberWithRoles struct {
	User  models.User
	Roles []models.Role
}

// Create creates the organization and grants its creator the org-admin role, locally
// and at the identity authority. Fails with ADMIN_CONFLICT when the creator already
// administers another organization.
func (s *OrganizationService) Create(ctx context.Context, input CreateOrganizationInput) (*models.Organization, error) {
	input.Name = strings.TrimSpace(input.Name)
	input.Slug = strings.TrimSpace(input.Slug)
	if input.Name == "" {
		return nil, newError(CodeInvalidArgument, "organization name is required")
	}
	if input.Slug == "" {
		return nil, newError(CodeInvalidArgument, "organization slug is required")
	}

	var org *models.Organization
	err := s.store.WithinTx(ctx, func(tx store.Store) error {
		creator, err := tx.GetUser(ctx, input.CreatedByUserID)
		if err != nil {
			return userLookupError(err)
		}

		if _, err := tx.GetOrganizationBySlug(ctx, input.Slug); err == nil {
			return newError(CodeInvalidArgument, "organization slug is already in use")
		} else if !errors.Is(err, store.ErrNotFound) {
			return err
		}

		// A user may administer at most one organization system-wide.
		if existing, err := tx.FindOrganizationByAdmin(ctx, creator.ID); err == nil {
			return newError(CodeAdminConflict, "user is already admin of organization "+existing.Slug)
		} else if !errors.Is(err, store.ErrNotFound) {
			return err
		}

		now := s.now().UTC()
		orgType := models.OrganizationTypePersonal
		if input.Business {
			orgType = models.OrganizationTypeBusiness
		}
		org = &models.Organization{
			Name:            input.Name,
			Slug:            input.Slug,
			Description:     input.Description,
			Type:            orgType,
			CreatedByUserID: creator.ID,
			CreatedAt:       now,
		}
		if err := tx.CreateOrganization(ctx, org); err != nil {
			if errors.Is(err, store.ErrDuplicate) {
				return newError(CodeInvalidArgument, "organization slug is already in use")
			}
			return err
		}

		membership := &models.Membership{
			UserID:         creator.ID,
			OrganizationID: org.ID,
			Role:           models.RoleOrgAdmin,
			CreatedAt:      now,
		}
		if err := tx.CreateMembership(ctx, membership); err != nil {
			return err
		}

		return s.reconciler.Grant(ctx, creator, models.RoleOrgAdmin)
	})
	if err != nil {
		return nil, err
	}

	s.invalidateRoles(ctx, input.CreatedByUserID, org.ID)
	log.Printf("Organization %s created by user %s", org.ID, input.CreatedByUserID)
	return org, nil
}

// RemoveMember removes all of the target's role rows in the organization on behalf of
// an admin. Admins must use Leave to remove themselves.
func (s *OrganizationService) RemoveMember(ctx context.Context, orgID, targetUserID, requestedByUserID uuid.UUID) error {
	var pending []events.MembershipEvent
	err := s.store.WithinTx(ctx, func(tx store.Store) error {
		if err := requireOrgAdmin(ctx, tx, orgID, requestedByUserID); err != nil {
			return err
		}
		if targetUserID == requestedByUserID {
			return newError(CodeSelfRemovalForbidden, "use the leave operation to remove yourself")
		}

		removed, org, err := s.removeMemberships(ctx, tx, orgID, targetUserID)
		if err != nil {
			return err
		}

		occurredAt := s.now().UTC()
		for _, role := range removed {
			pending = append(pending, events.MembershipEvent{
				EventType:        events.MemberRemoved,
				OrganizationID:   org.ID,
				OrganizationName: org.Name,
				UserID:           targetUserID,
				Role:             role,
				ActorUserID:      requestedByUserID,
				OccurredAt:       occurredAt,
			})
		}
		return nil
	})
	if err != nil {
		return err
	}

	s.invalidateRoles(ctx, targetUserID, orgID)
	s.publishMembershipEvents(ctx, pending)
	log.Printf("User %s removed from organization %s by %s", targetUserID, orgID, requestedByUserID)
	return nil
}

// Leave removes the acting user's own memberships in the organization. No admin check.
func (s *OrganizationService) Leave(ctx context.Context, orgID, userID uuid.UUID) error {
	var pending []events.MembershipEvent
	err := s.store.WithinTx(ctx, func(tx store.Store) error {
		removed, org, err := s.removeMemberships(ctx, tx, orgID, userID)
		if err != nil {
			return err
		}

		occurredAt := s.now().UTC()
		for _, role := range removed {
			pending = append(pending, events.MembershipEvent{
				EventType:        events.MemberRemoved,
				OrganizationID:   org.ID,
				OrganizationName: org.Name,
				UserID:           userID,
				Role:             role,
				ActorUserID:      userID,
				OccurredAt:       occurredAt,
			})
		}
		return nil
	})
	if err != nil {
		return err
	}

	s.invalidateRoles(ctx, userID, orgID)
	s.publishMembershipEvents(ctx, pending)
	log.Printf("User %s left organization %s", userID, orgID)
	return nil
}

// removeMemberships deletes every role row for the pair and revokes each removed role
// at the identity authority unless another organization's membership still needs it.
// The revocation check runs after the delete, against the post-removal membership set.
func (s *OrganizationService) removeMemberships(ctx context.Context, tx store.Store, orgID, userID uuid.UUID) ([]models.Role, *models.Organization, error) {
	org, err := tx.GetOrganization(ctx, orgID)
	if err != nil {
		return nil, nil, orgLookupError(err)
	}
	user, err := tx.GetUser(ctx, userID)
	if err != nil {
		return nil, nil, userLookupError(err)
	}

	memberships, err := tx.ListMembershipsByUserAndOrg(ctx, userID, orgID)
	if err != nil {
		return nil, nil, err
	}
	if len(memberships) == 0 {
		return nil, nil, newError(CodeNotFound, "user is not a member of the organization")
	}

	if err := tx.DeleteMembershipsByUserAndOrg(ctx, userID, orgID); err != nil {
		return nil, nil, err
	}

	removed := make([]models.Role, 0, len(memberships))
	for _, m := range memberships {
		if err := s.reconciler.RevokeIfUnused(ctx, tx, user, m.Role, orgID); err != nil {
			return nil, nil, err
		}
		removed = append(removed, m.Role)
	}
	return removed, org, nil
}

// ChangeRole replaces the target's roles in the organization with newRole. The removal
// half and the grant half share one transaction, so no reader observes the target with
// zero roles mid-transition.
func (s *OrganizationService) ChangeRole(ctx context.Context, orgID, targetUserID uuid.UUID, newRole models.Role, requestedByUserID uuid.UUID) error {
	return s.ChangeRoles(ctx, orgID, targetUserID, []models.Role{newRole}, requestedByUserID)
}

// ChangeRoles is the multi-role variant of ChangeRole.
func (s *OrganizationService) ChangeRoles(ctx context.Context, orgID, targetUserID uuid.UUID, newRoles []models.Role, requestedByUserID uuid.UUID) error {
	if len(newRoles) == 0 {
		return newError(CodeInvalidArgument, "at least one role is required")
	}
	roleSet := make(map[models.Role]bool, len(newRoles))
	for _, role := range newRoles {
		if !models.IsOrganizationRole(role) {
			return newError(CodeInvalidArgument, "role "+string(role)+" cannot be granted through a membership")
		}
		roleSet[role] = true
	}

	var pending []events.MembershipEvent
	err := s.store.WithinTx(ctx, func(tx store.Store) error {
		if err := requireOrgAdmin(ctx, tx, orgID, requestedByUserID); err != nil {
			return err
		}

		// System-wide single-admin-organization invariant.
		if roleSet[models.RoleOrgAdmin] {
			if adminOrg, err := tx.FindOrganizationByAdmin(ctx, targetUserID); err == nil && adminOrg.ID != orgID {
				return newError(CodeAdminConflict, "user is already admin of another organization")
			} else if err != nil && !errors.Is(err, store.ErrNotFound) {
				return err
			}
		}

		org, err := tx.GetOrganization(ctx, orgID)
		if err != nil {
			return orgLookupError(err)
		}
		user, err := tx.GetUser(ctx, targetUserID)
		if err != nil {
			return userLookupError(err)
		}

		existing, err := tx.ListMembershipsByUserAndOrg(ctx, targetUserID, orgID)
		if err != nil {
			return err
		}
		if len(existing) == 0 {
			return newError(CodeNotFound, "user is not a member of the organization")
		}

		if err := tx.DeleteMembershipsByUserAndOrg(ctx, targetUserID, orgID); err != nil {
			return err
		}

		now := s.now().UTC()
		for role := range roleSet {
			membership := &models.Membership{
				UserID:         targetUserID,
				OrganizationID: orgID,
				Role:           role,
				CreatedAt:      now,
				UpdatedAt:      &now,
			}
			if err := tx.CreateMembership(ctx, membership); err != nil {
				return err
			}
			if err := s.reconciler.Grant(ctx, user, role); err != nil {
				return err
			}
		}

		// Revoke only the roles that were dropped; a role carried over is still needed
		// by this organization, so it must never reach the revocation check.
		for _, m := range existing {
			if roleSet[m.Role] {
				continue
			}
			if err := s.reconciler.RevokeIfUnused(ctx, tx, user, m.Role, orgID); err != nil {
				return err
			}
		}

		for role := range roleSet {
			pending = append(pending, events.MembershipEvent{
				EventType:        events.RoleChanged,
				OrganizationID:   org.ID,
				OrganizationName: org.Name,
				UserID:           targetUserID,
				Role:             role,
				ActorUserID:      requestedByUserID,
				OccurredAt:       now,
			})
		}
		return nil
	})
	if err != nil {
		return err
	}

	s.invalidateRoles(ctx, targetUserID, orgID)
	s.publishMembershipEvents(ctx, pending)
	log.Printf("Roles of user %s in organization %s changed by %s", targetUserID, orgID, requestedByUserID)
	return nil
}

// Delete removes the organization. Memberships, invitations and join requests cascade;
// every removed role is reconciled against the members' remaining memberships.
func (s *OrganizationService) Delete(ctx context.Context, orgID, requestedByUserID uuid.UUID) error {
	var members []uuid.UUID
	err := s.store.WithinTx(ctx, func(tx store.Store) error {
		if err := requireOrgAdmin(ctx, tx, orgID, requestedByUserID); err != nil {
			return err
		}

		memberships, err := tx.ListMembershipsByOrg(ctx, orgID)
		if err != nil {
			return err
		}

		if err := tx.DeleteOrganization(ctx, orgID); err != nil {
			return orgLookupError(err)
		}

		for _, m := range memberships {
			user, err := tx.GetUser(ctx, m.UserID)
			if err != nil {
				if errors.Is(err, store.ErrNotFound) {
					continue // soft-deleted member, nothing to revoke against
				}
				return err
			}
			if err := s.reconciler.RevokeIfUnused(ctx, tx, user, m.Role, orgID); err != nil {
				return err
			}
			members = append(members, m.UserID)
		}
		return nil
	})
	if err != nil {
		return err
	}

	for _, userID := range members {
		s.invalidateRoles(ctx, userID, orgID)
	}
	log.Printf("Organization %s deleted by %s", orgID, requestedByUserID)
	return nil
}

// Members returns every membership row of the organization.
func (s *OrganizationService) Members(ctx context.Context, orgID uuid.UUID) ([]models.Membership, error) {
	if _, err := s.store.GetOrganization(ctx, orgID); err != nil {
		return nil, orgLookupError(err)
	}
	return s.store.ListMembershipsByOrg(ctx, orgID)
}

// MemberRoles returns the roles the user holds in the organization, using the advisory
// cache when attached.
func (s *OrganizationService) MemberRoles(ctx context.Context, userID, orgID uuid.UUID) ([]models.Role, error) {
	if s.roleCache != nil {
		if roles, ok := s.roleCache.GetMemberRoles(ctx, userID, orgID); ok {
			return roles, nil
		}
	}

	memberships, err := s.store.ListMembershipsByUserAndOrg(ctx, userID, orgID)
	if err != nil {
		return nil, err
	}
	roles := make([]models.Role, 0, len(memberships))
	for _, m := range memberships {
		roles = append(roles, m.Role)
	}

	if s.roleCache != nil {
		if err := s.roleCache.SetMemberRoles(ctx, userID, orgID, roles); err != nil {
			log.Printf("Failed to cache roles for user %s in org %s: %v", userID, orgID, err)
		}
	}
	return roles, nil
}

// MembersWithRoles returns the organization's members with their roles grouped per user.
func (s *OrganizationService) MembersWithRoles(ctx context.Context, orgID uuid.UUID) ([]MemberWithRoles, error) {
	memberships, err := s.Members(ctx, orgID)
	if err != nil {
		return nil, err
	}

	index := make(map[uuid.UUID]int)
	var out []MemberWithRoles
	for _, m := range memberships {
		i, ok := index[m.UserID]
		if !ok {
			user, err := s.store.GetUser(ctx, m.UserID)
			if err != nil {
				if errors.Is(err, store.ErrNotFound) {
					continue // soft-deleted member
				}
				return nil, err
			}
			index[m.UserID] = len(out)
			out = append(out, MemberWithRoles{User: *user})
			i = index[m.UserID]
		}
		out[i].Roles = append(out[i].Roles, m.Role)
	}
	return out, nil
}

// OrganizationOfAdmin returns the single organization the user administers.
func (s *OrganizationService) OrganizationOfAdmin(ctx context.Context, userID uuid.UUID) (*models.Organization, error) {
	org, err := s.store.FindOrganizationByAdmin(ctx, userID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, newError(CodeNotFound, "user is not admin of any organization")
		}
		return nil, err
	}
	return org, nil
}

// Search returns organizations whose name or slug matches the search value.
func (s *OrganizationService) Search(ctx context.Context, search string) ([]models.Organization, error) {
	return s.store.SearchOrganizations(ctx, search)
}

// IsOrgAdmin reports whether the user holds the org-admin role in the organization.
func (s *OrganizationService) IsOrgAdmin(ctx context.Context, orgID, userID uuid.UUID) (bool, error) {
	_, err := s.store.GetMembership(ctx, userID, orgID, models.RoleOrgAdmin)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

func (s *OrganizationService) invalidateRoles(ctx context.Context, userID, orgID uuid.UUID) {
	if s.roleCache == nil {
		return
	}
	if err := s.roleCache.InvalidateMemberRoles(ctx, userID, orgID); err != nil {
		log.Printf("Failed to invalidate role cache for user %s in org %s: %v", userID, orgID, err)
	}
}

func (s *OrganizationService) publishMembershipEvents(ctx context.Context, pending []events.MembershipEvent) {
	for _, event := range pending {
		if err := s.notifier.PublishMembershipEvent(ctx, event); err != nil {
			log.Printf("Failed to publish membership event %s for user %s: %v", event.EventType, event.UserID, err)
		}
	}
}

// requireOrgAdmin fails with NOT_AUTHORIZED unless the user holds org-admin in the
// organization.
func requireOrgAdmin(ctx context.Context, st store.Store, orgID, userID uuid.UUID) error {
	_, err := st.GetMembership(ctx, userID, orgID, models.RoleOrgAdmin)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return newError(CodeNotAuthorized, "only an organization admin may perform this operation")
		}
		return err
	}
	return nil
}

func userLookupError(err error) error {
	if errors.Is(err, store.ErrNotFound) {
		return newError(CodeNotFound, "user not found")
	}
	return err
}

func orgLookupError(err error) error {
	if errors.Is(err, store.ErrNotFound) {
		return newError(CodeNotFound, "organization not found")
	}
	return err
}
