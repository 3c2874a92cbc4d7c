package database

import (
	"context"
	"errors"
	"log"
	"time"

	"planify-backend/shared/config"
	"planify-backend/shared/database/models"
	"planify-backend/shared/database/store"
)

// SeedDatabase seeds the database with the platform administrator and their personal
// organization. Safe to run repeatedly.
func SeedDatabase() error {
	log.Println("🌱 Checking database seed data...")

	cfg := config.GetConfig()
	st := store.NewGormStore(DB)

	created, err := seedPlatformAdmin(context.Background(), st, cfg)
	if err != nil {
		return err
	}

	if created {
		log.Println("✅ Platform administrator seeded")
	} else {
		log.Println("✅ Database seed data is up to date")
	}
	return nil
}

// seedPlatformAdmin creates the platform admin user, their personal organization and the
// org-admin membership unless they already exist. Returns true when anything was created.
func seedPlatformAdmin(ctx context.Context, st store.Store, cfg *config.Config) (bool, error) {
	if _, err := st.GetUserByAuthID(ctx, cfg.PlatformAdminAuthID); err == nil {
		return false, nil
	} else if !errors.Is(err, store.ErrNotFound) {
		return false, err
	}

	created := false
	err := st.WithinTx(ctx, func(tx store.Store) error {
		now := time.Now().UTC()

		admin := &models.User{
			AuthID:    cfg.PlatformAdminAuthID,
			Email:     cfg.PlatformAdminEmail,
			Username:  cfg.PlatformAdminUsername,
			FirstName: "Platform",
			LastName:  "Administrator",
			CreatedAt: now,
		}
		if err := tx.CreateUser(ctx, admin); err != nil {
			return err
		}

		org := &models.Organization{
			Name:            "Platform",
			Slug:            cfg.PlatformAdminUsername,
			Description:     "Personal organization of the platform administrator",
			Type:            models.OrganizationTypePersonal,
			CreatedByUserID: admin.ID,
			CreatedAt:       now,
		}
		if err := tx.CreateOrganization(ctx, org); err != nil {
			return err
		}

		membership := &models.Membership{
			UserID:         admin.ID,
			OrganizationID: org.ID,
			Role:           models.RoleOrgAdmin,
			CreatedAt:      now,
		}
		if err := tx.CreateMembership(ctx, membership); err != nil {
			return err
		}

		created = true
		return nil
	})
	return created, err
}
