package models

import (
	"time"

	"github.com/google/uuid"
)

const (
	InvitationStatusPending  = "PENDING"
	InvitationStatusAccepted = "ACCEPTED"
)

// Invitation is an admin-issued offer of a role in an organization. Accepting converts
// it to a membership; declining deletes the record outright, so there is no DECLINED
// status.
type Invitation struct {
	ID              uuid.UUID  `json:"id" gorm:"type:uuid;primaryKey;default:gen_random_uuid()"`
	OrganizationID  uuid.UUID  `json:"organization_id" gorm:"type:uuid;not null"`
	UserID          uuid.UUID  `json:"user_id" gorm:"type:uuid;not null"`
	Role            Role       `json:"role" gorm:"type:varchar(30);not null;default:'guest'"`
	Token           string     `json:"-" gorm:"uniqueIndex;not null"`
	Status          string     `json:"status" gorm:"default:'PENDING';not null"`
	ExpiresAt       time.Time  `json:"expires_at" gorm:"not null"`
	CreatedAt       time.Time  `json:"created_at"`
	AcceptedAt      *time.Time `json:"accepted_at"`
	CreatedByUserID uuid.UUID  `json:"created_by_user_id" gorm:"type:uuid;not null"`
}

// IsExpired reports whether the invitation can no longer be accepted.
func (i *Invitation) IsExpired(now time.Time) bool {
	return now.After(i.ExpiresAt)
}
