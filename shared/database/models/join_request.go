package models

import (
	"time"

	"github.com/google/uuid"
)

const (
	JoinRequestStatusPending  = "PENDING"
	JoinRequestStatusApproved = "APPROVED"
	JoinRequestStatusRejected = "REJECTED"
)

// JoinRequest is a user-initiated request to join an organization. Terminal records are
// retained with handling metadata, unlike declined invitations.
type JoinRequest struct {
	ID              uuid.UUID  `json:"id" gorm:"type:uuid;primaryKey;default:gen_random_uuid()"`
	UserID          uuid.UUID  `json:"user_id" gorm:"type:uuid;not null"`
	OrganizationID  uuid.UUID  `json:"organization_id" gorm:"type:uuid;not null"`
	Status          string     `json:"status" gorm:"default:'PENDING';not null"`
	CreatedAt       time.Time  `json:"created_at"`
	HandledAt       *time.Time `json:"handled_at"`
	HandledByUserID *uuid.UUID `json:"handled_by_user_id" gorm:"type:uuid"`
}

// IsPending reports whether the request is still awaiting an admin decision.
func (jr *JoinRequest) IsPending() bool {
	return jr.Status == JoinRequestStatusPending
}
