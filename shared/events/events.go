// Package events carries the domain events emitted after lifecycle transitions commit.
// Delivery is best-effort and at-most-once; consumers must handle events idempotently.
package events

import (
	"context"
	"time"

	"github.com/google/uuid"

	"planify-backend/shared/database/models"
)

const (
	InvitationSent     = "SENT"
	InvitationAccepted = "ACCEPTED"
	InvitationDeclined = "DECLINED"

	JoinRequestSent     = "SENT"
	JoinRequestApproved = "APPROVED"
	JoinRequestRejected = "REJECTED"

	MemberRemoved = "REMOVED"
	RoleChanged   = "ROLE_CHANGED"
)

// InvitationEvent reports a transition of an invitation.
type InvitationEvent struct {
	EventType        string      `json:"event_type"` // SENT / ACCEPTED / DECLINED
	InvitationID     uuid.UUID   `json:"invitation_id"`
	OrganizationID   uuid.UUID   `json:"organization_id"`
	OrganizationSlug string      `json:"organization_slug"`
	OrganizationName string      `json:"organization_name"`
	Role             models.Role `json:"role"`
	ExpiresAt        time.Time   `json:"expires_at"`
	InvitedUserID    uuid.UUID   `json:"invited_user_id"`
	InvitedUsername  string      `json:"invited_username"`
	OccurredAt       time.Time   `json:"occurred_at"`
}

// JoinRequestEvent reports a transition of a join request. AdminAuthIDs is only set on
// SENT and names the organization admins at creation time; the list may be stale by the
// time the event is consumed.
type JoinRequestEvent struct {
	EventType         string    `json:"event_type"` // SENT / APPROVED / REJECTED
	JoinRequestID     uuid.UUID `json:"join_request_id"`
	AdminAuthIDs      []string  `json:"admin_auth_ids,omitempty"`
	OrganizationID    uuid.UUID `json:"organization_id"`
	OrganizationName  string    `json:"organization_name"`
	RequesterUserID   uuid.UUID `json:"requester_user_id"`
	RequesterUsername string    `json:"requester_username"`
	OccurredAt        time.Time `json:"occurred_at"`
}

// MembershipEvent reports a membership removal or role change.
type MembershipEvent struct {
	EventType        string      `json:"event_type"` // REMOVED / ROLE_CHANGED
	OrganizationID   uuid.UUID   `json:"organization_id"`
	OrganizationName string      `json:"organization_name"`
	UserID           uuid.UUID   `json:"user_id"`
	Role             models.Role `json:"role,omitempty"`
	ActorUserID      uuid.UUID   `json:"actor_user_id"`
	OccurredAt       time.Time   `json:"occurred_at"`
}

// Notifier publishes domain events. Implementations may block briefly; callers publish
// after the local transaction commits and log failures instead of propagating them.
type Notifier interface {
	PublishInvitationEvent(ctx context.Context, event InvitationEvent) error
	PublishJoinRequestEvent(ctx context.Context, event JoinRequestEvent) error
	PublishMembershipEvent(ctx context.Context, event MembershipEvent) error
	Close() error
}

// NopNotifier discards all events. Useful for tooling that runs without Kafka.
type NopNotifier struct{}

func (NopNotifier) PublishInvitationEvent(ctx context.Context, event InvitationEvent) error {
	return nil
}

func (NopNotifier) PublishJoinRequestEvent(ctx context.Context, event JoinRequestEvent) error {
	return nil
}

func (NopNotifier) PublishMembershipEvent(ctx context.Context, event MembershipEvent) error {
	return nil
}

func (NopNotifier) Close() error { return nil }
