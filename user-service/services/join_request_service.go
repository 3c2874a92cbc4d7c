package services

import (
	"context"
	"errors"
	"log"
	"time"

	"github.com/google/uuid"

	"planify-backend/shared/database/models"
	"planify-backend/shared/database/store"
	"planify-backend/shared/events"
	"planify-backend/shared/utils/cache"
)

// JoinRequestService manages user-initiated requests to join an organization. Approved
// requests produce a guest membership; handled records stay in the store with their
// handling metadata.
type JoinRequestService struct {
	store      store.Store
	reconciler *RoleReconciler
	notifier   events.Notifier
	roleCache  *cache.CacheManager
	now        func() time.Time
}

// NewJoinRequestService wires the join request service.
func NewJoinRequestService(st store.Store, reconciler *RoleReconciler, notifier events.Notifier) *JoinRequestService {
	return &JoinRequestService{
		store:      st,
		reconciler: reconciler,
		notifier:   notifier,
		now:        time.Now,
	}
}

// WithRoleCache attaches the advisory redis role cache.
func (s *JoinRequestService) WithRoleCache(cm *cache.CacheManager) *JoinRequestService {
	s.roleCache = cm
	return s
}

// Send opens a pending join request for the organization. Existing membership or any
// pending proposal for the pair blocks it. The SENT event carries the auth ids of the
// organization's admins as resolved right now.
func (s *JoinRequestService) Send(ctx context.Context, orgID, userID uuid.UUID) (*models.JoinRequest, error) {
	var jr *models.JoinRequest
	var pending *events.JoinRequestEvent
	err := s.store.WithinTx(ctx, func(tx store.Store) error {
		org, err := tx.GetOrganization(ctx, orgID)
		if err != nil {
			return orgLookupError(err)
		}
		user, err := tx.GetUser(ctx, userID)
		if err != nil {
			return userLookupError(err)
		}

		memberships, err := tx.ListMembershipsByUserAndOrg(ctx, userID, orgID)
		if err != nil {
			return err
		}
		if len(memberships) > 0 {
			return newError(CodeConflictingProposal, "user is already a member of the organization")
		}
		if err := requireNoPendingProposal(ctx, tx, userID, orgID); err != nil {
			return err
		}

		jr = &models.JoinRequest{
			UserID:         userID,
			OrganizationID: orgID,
			Status:         models.JoinRequestStatusPending,
			CreatedAt:      s.now().UTC(),
		}
		if err := tx.CreateJoinRequest(ctx, jr); err != nil {
			return err
		}

		adminAuthIDs, err := s.adminAuthIDs(ctx, tx, orgID)
		if err != nil {
			return err
		}
		pending = &events.JoinRequestEvent{
			EventType:         events.JoinRequestSent,
			JoinRequestID:     jr.ID,
			AdminAuthIDs:      adminAuthIDs,
			OrganizationID:    org.ID,
			OrganizationName:  org.Name,
			RequesterUserID:   user.ID,
			RequesterUsername: user.Username,
			OccurredAt:        jr.CreatedAt,
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.publish(ctx, pending)
	log.Printf("Join request %s sent by user %s to organization %s", jr.ID, userID, orgID)
	return jr, nil
}

// Approve turns the pending request into a guest membership and grants the role at the
// identity authority, all in one transaction with the status flip.
func (s *JoinRequestService) Approve(ctx context.Context, orgID, requestID, adminUserID uuid.UUID) (*models.Membership, error) {
	var membership *models.Membership
	var pending *events.JoinRequestEvent
	var requesterID uuid.UUID
	err := s.store.WithinTx(ctx, func(tx store.Store) error {
		jr, org, err := s.pendingRequestForAdmin(ctx, tx, orgID, requestID, adminUserID)
		if err != nil {
			return err
		}

		user, err := tx.GetUser(ctx, jr.UserID)
		if err != nil {
			return userLookupError(err)
		}
		requesterID = user.ID

		now := s.now().UTC()
		jr.Status = models.JoinRequestStatusApproved
		jr.HandledAt = &now
		jr.HandledByUserID = &adminUserID
		if err := tx.SaveJoinRequest(ctx, jr); err != nil {
			return err
		}

		membership = &models.Membership{
			UserID:         user.ID,
			OrganizationID: org.ID,
			Role:           models.DefaultMemberRole,
			CreatedAt:      now,
		}
		if err := tx.CreateMembership(ctx, membership); err != nil {
			if errors.Is(err, store.ErrDuplicate) {
				return newError(CodeConflictingProposal, "user is already a member of the organization")
			}
			return err
		}
		if err := s.reconciler.Grant(ctx, user, models.DefaultMemberRole); err != nil {
			return err
		}

		pending = &events.JoinRequestEvent{
			EventType:         events.JoinRequestApproved,
			JoinRequestID:     jr.ID,
			OrganizationID:    org.ID,
			OrganizationName:  org.Name,
			RequesterUserID:   user.ID,
			RequesterUsername: user.Username,
			OccurredAt:        now,
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.invalidateRoles(ctx, requesterID, orgID)
	s.publish(ctx, pending)
	log.Printf("Join request %s approved by %s: user %s joined organization %s", requestID, adminUserID, requesterID, orgID)
	return membership, nil
}

// Reject marks the pending request rejected and records who handled it. No membership
// is created and the record is retained.
func (s *JoinRequestService) Reject(ctx context.Context, orgID, requestID, adminUserID uuid.UUID) error {
	var pending *events.JoinRequestEvent
	err := s.store.WithinTx(ctx, func(tx store.Store) error {
		jr, org, err := s.pendingRequestForAdmin(ctx, tx, orgID, requestID, adminUserID)
		if err != nil {
			return err
		}

		user, err := tx.GetUser(ctx, jr.UserID)
		if err != nil {
			return userLookupError(err)
		}

		now := s.now().UTC()
		jr.Status = models.JoinRequestStatusRejected
		jr.HandledAt = &now
		jr.HandledByUserID = &adminUserID
		if err := tx.SaveJoinRequest(ctx, jr); err != nil {
			return err
		}

		pending = &events.JoinRequestEvent{
			EventType:         events.JoinRequestRejected,
			JoinRequestID:     jr.ID,
			OrganizationID:    org.ID,
			OrganizationName:  org.Name,
			RequesterUserID:   user.ID,
			RequesterUsername: user.Username,
			OccurredAt:        now,
		}
		return nil
	})
	if err != nil {
		return err
	}

	s.publish(ctx, pending)
	log.Printf("Join request %s rejected by %s", requestID, adminUserID)
	return nil
}

// PendingForUser lists the user's pending join requests.
func (s *JoinRequestService) PendingForUser(ctx context.Context, userID uuid.UUID) ([]models.JoinRequest, error) {
	return s.store.ListJoinRequestsByUserAndStatus(ctx, userID, models.JoinRequestStatusPending)
}

// PendingForOrganization lists the organization's pending join requests. Admin only.
func (s *JoinRequestService) PendingForOrganization(ctx context.Context, orgID, requestedByUserID uuid.UUID) ([]models.JoinRequest, error) {
	if err := requireOrgAdmin(ctx, s.store, orgID, requestedByUserID); err != nil {
		return nil, err
	}
	return s.store.ListJoinRequestsByOrgAndStatus(ctx, orgID, models.JoinRequestStatusPending)
}

// pendingRequestForAdmin loads the request and runs the shared decision guards: the
// caller must administer orgID, the request must belong to orgID and must still be
// pending.
func (s *JoinRequestService) pendingRequestForAdmin(ctx context.Context, tx store.Store, orgID, requestID, adminUserID uuid.UUID) (*models.JoinRequest, *models.Organization, error) {
	if err := requireOrgAdmin(ctx, tx, orgID, adminUserID); err != nil {
		return nil, nil, err
	}

	jr, err := tx.GetJoinRequest(ctx, requestID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, nil, newError(CodeNotFound, "join request not found")
		}
		return nil, nil, err
	}
	if jr.OrganizationID != orgID {
		return nil, nil, newError(CodeWrongOrganization, "join request belongs to another organization")
	}
	if !jr.IsPending() {
		return nil, nil, newError(CodeNotPending, "join request has already been handled")
	}

	org, err := tx.GetOrganization(ctx, orgID)
	if err != nil {
		return nil, nil, orgLookupError(err)
	}
	return jr, org, nil
}

// adminAuthIDs resolves the authority auth ids of the organization's current admins.
func (s *JoinRequestService) adminAuthIDs(ctx context.Context, tx store.Store, orgID uuid.UUID) ([]string, error) {
	admins, err := tx.ListMembershipsByOrgAndRole(ctx, orgID, models.RoleOrgAdmin)
	if err != nil {
		return nil, err
	}
	authIDs := make([]string, 0, len(admins))
	for _, m := range admins {
		user, err := tx.GetUser(ctx, m.UserID)
		if err != nil {
			if errors.Is(err, store.ErrNotFound) {
				continue
			}
			return nil, err
		}
		authIDs = append(authIDs, user.AuthID)
	}
	return authIDs, nil
}

func (s *JoinRequestService) invalidateRoles(ctx context.Context, userID, orgID uuid.UUID) {
	if s.roleCache == nil {
		return
	}
	if err := s.roleCache.InvalidateMemberRoles(ctx, userID, orgID); err != nil {
		log.Printf("Failed to invalidate role cache for user %s in org %s: %v", userID, orgID, err)
	}
}

func (s *JoinRequestService) publish(ctx context.Context, event *events.JoinRequestEvent) {
	if event == nil {
		return
	}
	if err := s.notifier.PublishJoinRequestEvent(ctx, *event); err != nil {
		log.Printf("Failed to publish join request event %s for request %s: %v", event.EventType, event.JoinRequestID, err)
	}
}
