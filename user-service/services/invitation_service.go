package services

import (
	"context"
	"errors"
	"log"
	"time"

	"github.com/google/uuid"

	"planify-backend/shared/config"
	"planify-backend/shared/database/models"
	"planify-backend/shared/database/store"
	"planify-backend/shared/events"
	utils "planify-backend/shared/utils/auth"
	"planify-backend/shared/utils/cache"
)

const invitationTokenLength = 32

// InvitationService manages admin-issued invitations. An invitation is one of the two
// proposal channels into an organization; while a pending invitation exists for a
// (user, organization) pair, no join request may be opened for the same pair and vice
// versa.
type InvitationService struct {
	store      store.Store
	reconciler *RoleReconciler
	notifier   events.Notifier
	roleCache  *cache.CacheManager
	expiry     time.Duration
	now        func() time.Time
}

// NewInvitationService wires the invitation service with the expiry window from the
// loaded configuration.
func NewInvitationService(st store.Store, reconciler *RoleReconciler, notifier events.Notifier) *InvitationService {
	cfg := config.GetConfig()
	expiry := time.Duration(cfg.GetInvitationExpiryDays()) * 24 * time.Hour
	return NewInvitationServiceWith(st, reconciler, notifier, expiry)
}

// NewInvitationServiceWith wires the invitation service with an explicit expiry window.
// Zero falls back to seven days.
func NewInvitationServiceWith(st store.Store, reconciler *RoleReconciler, notifier events.Notifier, expiry time.Duration) *InvitationService {
	if expiry <= 0 {
		expiry = 7 * 24 * time.Hour
	}
	return &InvitationService{
		store:      st,
		reconciler: reconciler,
		notifier:   notifier,
		expiry:     expiry,
		now:        time.Now,
	}
}

// WithRoleCache attaches the advisory redis role cache.
func (s *InvitationService) WithRoleCache(cm *cache.CacheManager) *InvitationService {
	s.roleCache = cm
	return s
}

// InviteInput describes a new invitation. Role defaults to guest when empty.
type InviteInput struct {
	OrganizationID  uuid.UUID
	TargetUserID    uuid.UUID
	Role            models.Role
	InvitedByUserID uuid.UUID
}

// Invite creates a pending invitation for the target user. Only organization admins may
// invite; an existing membership or any pending proposal for the pair blocks it.
func (s *InvitationService) Invite(ctx context.Context, input InviteInput) (*models.Invitation, error) {
	role := input.Role
	if role == "" {
		role = models.DefaultMemberRole
	}
	if !models.IsOrganizationRole(role) {
		return nil, newError(CodeInvalidArgument, "role "+string(role)+" cannot be offered through an invitation")
	}

	token, err := utils.GenerateRandomToken(invitationTokenLength)
	if err != nil {
		return nil, err
	}

	var inv *models.Invitation
	var pending *events.InvitationEvent
	err = s.store.WithinTx(ctx, func(tx store.Store) error {
		if err := requireOrgAdmin(ctx, tx, input.OrganizationID, input.InvitedByUserID); err != nil {
			return err
		}

		org, err := tx.GetOrganization(ctx, input.OrganizationID)
		if err != nil {
			return orgLookupError(err)
		}
		target, err := tx.GetUser(ctx, input.TargetUserID)
		if err != nil {
			return userLookupError(err)
		}

		memberships, err := tx.ListMembershipsByUserAndOrg(ctx, target.ID, org.ID)
		if err != nil {
			return err
		}
		if len(memberships) > 0 {
			return newError(CodeConflictingProposal, "user is already a member of the organization")
		}
		if err := requireNoPendingProposal(ctx, tx, target.ID, org.ID); err != nil {
			return err
		}

		if role == models.RoleOrgAdmin {
			if adminOrg, err := tx.FindOrganizationByAdmin(ctx, target.ID); err == nil && adminOrg.ID != org.ID {
				return newError(CodeAdminConflict, "user is already admin of another organization")
			} else if err != nil && !errors.Is(err, store.ErrNotFound) {
				return err
			}
		}

		now := s.now().UTC()
		inv = &models.Invitation{
			OrganizationID:  org.ID,
			UserID:          target.ID,
			Role:            role,
			Token:           token,
			Status:          models.InvitationStatusPending,
			ExpiresAt:       now.Add(s.expiry),
			CreatedAt:       now,
			CreatedByUserID: input.InvitedByUserID,
		}
		if err := tx.CreateInvitation(ctx, inv); err != nil {
			if errors.Is(err, store.ErrDuplicate) {
				return newError(CodeConflictingProposal, "a pending invitation already exists")
			}
			return err
		}

		pending = &events.InvitationEvent{
			EventType:        events.InvitationSent,
			InvitationID:     inv.ID,
			OrganizationID:   org.ID,
			OrganizationSlug: org.Slug,
			OrganizationName: org.Name,
			Role:             role,
			ExpiresAt:        inv.ExpiresAt,
			InvitedUserID:    target.ID,
			InvitedUsername:  target.Username,
			OccurredAt:       now,
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.publish(ctx, pending)
	log.Printf("Invitation %s sent to user %s for organization %s", inv.ID, input.TargetUserID, input.OrganizationID)
	return inv, nil
}

// Accept converts the invitation into a membership and grants the role at the identity
// authority. When several acceptances race on the same token, exactly one wins; the
// rest fail with NOT_PENDING.
func (s *InvitationService) Accept(ctx context.Context, token string, actingUserID uuid.UUID) (*models.Membership, error) {
	var membership *models.Membership
	var pending *events.InvitationEvent
	err := s.store.WithinTx(ctx, func(tx store.Store) error {
		inv, err := tx.GetInvitationByToken(ctx, token)
		if err != nil {
			if errors.Is(err, store.ErrNotFound) {
				return newError(CodeNotFound, "invitation not found")
			}
			return err
		}
		if inv.UserID != actingUserID {
			return newError(CodeForbidden, "invitation belongs to another user")
		}
		if inv.Status != models.InvitationStatusPending {
			return newError(CodeNotPending, "invitation has already been accepted")
		}
		now := s.now().UTC()
		if inv.IsExpired(now) {
			return newError(CodeExpired, "invitation has expired")
		}

		org, err := tx.GetOrganization(ctx, inv.OrganizationID)
		if err != nil {
			return orgLookupError(err)
		}
		user, err := tx.GetUser(ctx, actingUserID)
		if err != nil {
			return userLookupError(err)
		}

		// Re-check at decision time: the membership or admin situation may have
		// changed since the invitation was issued.
		if inv.Role == models.RoleOrgAdmin {
			if adminOrg, err := tx.FindOrganizationByAdmin(ctx, user.ID); err == nil && adminOrg.ID != org.ID {
				return newError(CodeAdminConflict, "user is already admin of another organization")
			} else if err != nil && !errors.Is(err, store.ErrNotFound) {
				return err
			}
		}

		inv.Status = models.InvitationStatusAccepted
		inv.AcceptedAt = &now
		if err := tx.SaveInvitation(ctx, inv); err != nil {
			return err
		}

		membership = &models.Membership{
			UserID:         user.ID,
			OrganizationID: org.ID,
			Role:           inv.Role,
			CreatedAt:      now,
		}
		if err := tx.CreateMembership(ctx, membership); err != nil {
			if errors.Is(err, store.ErrDuplicate) {
				return newError(CodeConflictingProposal, "user already holds this role in the organization")
			}
			return err
		}
		if err := s.reconciler.Grant(ctx, user, inv.Role); err != nil {
			return err
		}

		pending = &events.InvitationEvent{
			EventType:        events.InvitationAccepted,
			InvitationID:     inv.ID,
			OrganizationID:   org.ID,
			OrganizationSlug: org.Slug,
			OrganizationName: org.Name,
			Role:             inv.Role,
			ExpiresAt:        inv.ExpiresAt,
			InvitedUserID:    user.ID,
			InvitedUsername:  user.Username,
			OccurredAt:       now,
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.invalidateRoles(ctx, actingUserID, membership.OrganizationID)
	s.publish(ctx, pending)
	log.Printf("Invitation accepted: user %s joined organization %s as %s", actingUserID, membership.OrganizationID, membership.Role)
	return membership, nil
}

// Decline deletes the pending invitation outright. Only the invited user may decline.
func (s *InvitationService) Decline(ctx context.Context, token string, actingUserID uuid.UUID) error {
	var pending *events.InvitationEvent
	err := s.store.WithinTx(ctx, func(tx store.Store) error {
		inv, err := tx.GetInvitationByToken(ctx, token)
		if err != nil {
			if errors.Is(err, store.ErrNotFound) {
				return newError(CodeNotFound, "invitation not found")
			}
			return err
		}
		if inv.UserID != actingUserID {
			return newError(CodeForbidden, "invitation belongs to another user")
		}
		if inv.Status != models.InvitationStatusPending {
			return newError(CodeNotPending, "invitation has already been accepted")
		}

		org, err := tx.GetOrganization(ctx, inv.OrganizationID)
		if err != nil {
			return orgLookupError(err)
		}
		if err := tx.DeleteInvitation(ctx, inv.ID); err != nil {
			return err
		}

		pending = &events.InvitationEvent{
			EventType:        events.InvitationDeclined,
			InvitationID:     inv.ID,
			OrganizationID:   org.ID,
			OrganizationSlug: org.Slug,
			OrganizationName: org.Name,
			Role:             inv.Role,
			ExpiresAt:        inv.ExpiresAt,
			InvitedUserID:    actingUserID,
			OccurredAt:       s.now().UTC(),
		}
		return nil
	})
	if err != nil {
		return err
	}

	s.publish(ctx, pending)
	log.Printf("Invitation declined by user %s", actingUserID)
	return nil
}

// ForUser lists every invitation addressed to the user, regardless of status.
func (s *InvitationService) ForUser(ctx context.Context, userID uuid.UUID) ([]models.Invitation, error) {
	return s.store.ListInvitationsByUser(ctx, userID)
}

// ForUserWithStatus lists the user's invitations with the given status.
func (s *InvitationService) ForUserWithStatus(ctx context.Context, userID uuid.UUID, status string) ([]models.Invitation, error) {
	return s.store.ListInvitationsByUserAndStatus(ctx, userID, status)
}

// PendingForUser lists the user's pending, unexpired invitations.
func (s *InvitationService) PendingForUser(ctx context.Context, userID uuid.UUID) ([]models.Invitation, error) {
	invitations, err := s.store.ListInvitationsByUserAndStatus(ctx, userID, models.InvitationStatusPending)
	if err != nil {
		return nil, err
	}
	now := s.now().UTC()
	out := invitations[:0]
	for _, inv := range invitations {
		if !inv.IsExpired(now) {
			out = append(out, inv)
		}
	}
	return out, nil
}

// ForOrganization lists the organization's invitations with the given status. Admin
// only.
func (s *InvitationService) ForOrganization(ctx context.Context, orgID uuid.UUID, status string, requestedByUserID uuid.UUID) ([]models.Invitation, error) {
	if err := requireOrgAdmin(ctx, s.store, orgID, requestedByUserID); err != nil {
		return nil, err
	}
	return s.store.ListInvitationsByOrgAndStatus(ctx, orgID, status)
}

func (s *InvitationService) invalidateRoles(ctx context.Context, userID, orgID uuid.UUID) {
	if s.roleCache == nil {
		return
	}
	if err := s.roleCache.InvalidateMemberRoles(ctx, userID, orgID); err != nil {
		log.Printf("Failed to invalidate role cache for user %s in org %s: %v", userID, orgID, err)
	}
}

func (s *InvitationService) publish(ctx context.Context, event *events.InvitationEvent) {
	if event == nil {
		return
	}
	if err := s.notifier.PublishInvitationEvent(ctx, *event); err != nil {
		log.Printf("Failed to publish invitation event %s for invitation %s: %v", event.EventType, event.InvitationID, err)
	}
}

// requireNoPendingProposal enforces proposal-channel mutual exclusion: at most one
// pending invitation or join request may exist per (user, organization) pair.
func requireNoPendingProposal(ctx context.Context, st store.Store, userID, orgID uuid.UUID) error {
	invitations, err := st.ListPendingInvitations(ctx, orgID, userID)
	if err != nil {
		return err
	}
	if len(invitations) > 0 {
		return newError(CodeConflictingProposal, "a pending invitation already exists for this user and organization")
	}
	requests, err := st.ListPendingJoinRequests(ctx, userID, orgID)
	if err != nil {
		return err
	}
	if len(requests) > 0 {
		return newError(CodeConflictingProposal, "a pending join request already exists for this user and organization")
	}
	return nil
}
