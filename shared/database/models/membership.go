package models

import (
	"time"

	"github.com/google/uuid"
)

// Membership grants one role to one user within one organization. A user may hold
// several rows for the same organization when they represent distinct roles; duplicate
// rows of the same role are forbidden by the unique index.
type Membership struct {
	ID             uuid.UUID  `json:"id" gorm:"type:uuid;primaryKey;default:gen_random_uuid()"`
	UserID         uuid.UUID  `json:"user_id" gorm:"type:uuid;not null;uniqueIndex:idx_memberships_user_org_role"`
	OrganizationID uuid.UUID  `json:"organization_id" gorm:"type:uuid;not null;uniqueIndex:idx_memberships_user_org_role"`
	Role           Role       `json:"role" gorm:"type:varchar(30);not null;uniqueIndex:idx_memberships_user_org_role"`
	CreatedAt      time.Time  `json:"created_at"`
	UpdatedAt      *time.Time `json:"updated_at"`
}
