package models

import (
	"time"

	"github.com/google/uuid"
)

const (
	OrganizationTypePersonal = "PERSONAL"
	OrganizationTypeBusiness = "BUSINESS"
)

type Organization struct {
	ID              uuid.UUID `json:"id" gorm:"type:uuid;primaryKey;default:gen_random_uuid()"`
	Name            string    `json:"name" gorm:"size:200;not null"`
	Slug            string    `json:"slug" gorm:"size:100;uniqueIndex;not null"`
	Description     string    `json:"description" gorm:"type:text"`
	Type            string    `json:"type" gorm:"default:'PERSONAL'"`
	CreatedByUserID uuid.UUID `json:"created_by_user_id" gorm:"type:uuid;not null"`
	CreatedAt       time.Time `json:"created_at"`

	// Relations (cascade-deleted with the organization)
	Memberships  []Membership  `json:"-" gorm:"foreignKey:OrganizationID;constraint:OnDelete:CASCADE"`
	Invitations  []Invitation  `json:"-" gorm:"foreignKey:OrganizationID;constraint:OnDelete:CASCADE"`
	JoinRequests []JoinRequest `json:"-" gorm:"foreignKey:OrganizationID;constraint:OnDelete:CASCADE"`
}
