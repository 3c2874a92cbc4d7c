package services

import (
	"context"
	"errors"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"planify-backend/shared/clients"
	"planify-backend/shared/database/models"
	"planify-backend/shared/database/store"
	"planify-backend/shared/utils/cache"
)

// IdentityAccounts is the account-management half of the identity authority, used for
// registration and profile updates.
type IdentityAccounts interface {
	CreateUser(ctx context.Context, username, email, firstName, lastName string) (string, error)
	SetPassword(ctx context.Context, authID, password string) error
	UpdateUser(ctx context.Context, authID string, updates map[string]interface{}) error
}

// UserService manages local user profiles and their lifecycle against the identity
// authority.
type UserService struct {
	store      store.Store
	reconciler *RoleReconciler
	accounts   IdentityAccounts
	roleCache  *cache.CacheManager
	now        func() time.Time
}

// NewUserService wires the user service. accounts may be nil when registration is
// handled elsewhere; Register and UpdateProfile then fail with INVALID_ARGUMENT.
func NewUserService(st store.Store, reconciler *RoleReconciler, accounts IdentityAccounts) *UserService {
	return &UserService{
		store:      st,
		reconciler: reconciler,
		accounts:   accounts,
		now:        time.Now,
	}
}

// WithRoleCache attaches the advisory redis role cache.
func (s *UserService) WithRoleCache(cm *cache.CacheManager) *UserService {
	s.roleCache = cm
	return s
}

// RegisterInput describes a new account.
type RegisterInput struct {
	Email     string
	Username  string
	Password  string
	FirstName string
	LastName  string
}

// UserExport is the portable snapshot of a user's data.
type UserExport struct {
	User        models.User              `json:"user"`
	Memberships map[string][]models.Role `json:"memberships"` // keyed by organization slug
}

// Register creates the account at the identity authority, sets its password and
// provisions the matching local profile.
func (s *UserService) Register(ctx context.Context, input RegisterInput) (*models.User, error) {
	if s.accounts == nil {
		return nil, newError(CodeInvalidArgument, "registration is not enabled")
	}
	input.Email = strings.TrimSpace(strings.ToLower(input.Email))
	input.Username = strings.TrimSpace(input.Username)
	if input.Email == "" || input.Username == "" {
		return nil, newError(CodeInvalidArgument, "email and username are required")
	}
	if input.Password == "" {
		return nil, newError(CodeInvalidArgument, "password is required")
	}

	authID, err := s.accounts.CreateUser(ctx, input.Username, input.Email, input.FirstName, input.LastName)
	if err != nil {
		var authErr *clients.AuthorityError
		if errors.As(err, &authErr) && authErr.StatusCode == http.StatusConflict {
			return nil, newError(CodeConflictingProposal, "an account with this username or email already exists")
		}
		return nil, authorityFailure("create user", err)
	}
	if err := s.accounts.SetPassword(ctx, authID, input.Password); err != nil {
		return nil, authorityFailure("set password", err)
	}

	return s.Provision(ctx, authID, input.Email, input.Username, input.FirstName, input.LastName)
}

// Provision ensures a local profile exists for the given authority account. Called on
// registration and by the current-identity resolver on first sight of a token subject.
// Idempotent: an existing profile is returned as is.
func (s *UserService) Provision(ctx context.Context, authID, email, username, firstName, lastName string) (*models.User, error) {
	if authID == "" {
		return nil, newError(CodeInvalidArgument, "auth id is required")
	}

	if existing, err := s.store.GetUserByAuthID(ctx, authID); err == nil {
		return existing, nil
	} else if !errors.Is(err, store.ErrNotFound) {
		return nil, err
	}

	user := &models.User{
		AuthID:    authID,
		Email:     email,
		Username:  username,
		FirstName: firstName,
		LastName:  lastName,
		CreatedAt: s.now().UTC(),
	}
	if err := s.store.CreateUser(ctx, user); err != nil {
		if errors.Is(err, store.ErrDuplicate) {
			// Lost a provisioning race for the same subject.
			if existing, getErr := s.store.GetUserByAuthID(ctx, authID); getErr == nil {
				return existing, nil
			}
			return nil, newError(CodeConflictingProposal, "a profile with this email or username already exists")
		}
		return nil, err
	}

	log.Printf("User %s provisioned for auth id %s", user.ID, authID)
	return user, nil
}

// UpdateProfile changes the user's name locally and at the identity authority.
func (s *UserService) UpdateProfile(ctx context.Context, userID uuid.UUID, firstName, lastName string) (*models.User, error) {
	if s.accounts == nil {
		return nil, newError(CodeInvalidArgument, "profile updates are not enabled")
	}

	var user *models.User
	err := s.store.WithinTx(ctx, func(tx store.Store) error {
		var err error
		user, err = tx.GetUser(ctx, userID)
		if err != nil {
			return userLookupError(err)
		}

		user.FirstName = firstName
		user.LastName = lastName
		if err := tx.SaveUser(ctx, user); err != nil {
			return err
		}

		updates := map[string]interface{}{
			"firstName": firstName,
			"lastName":  lastName,
		}
		if err := s.accounts.UpdateUser(ctx, user.AuthID, updates); err != nil {
			return authorityFailure("update user", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return user, nil
}

// Delete soft-deletes the user and removes every membership, revoking each role the
// remaining memberships no longer justify.
func (s *UserService) Delete(ctx context.Context, userID uuid.UUID) error {
	err := s.store.WithinTx(ctx, func(tx store.Store) error {
		user, err := tx.GetUser(ctx, userID)
		if err != nil {
			return userLookupError(err)
		}

		memberships, err := tx.ListMembershipsByUser(ctx, userID)
		if err != nil {
			return err
		}
		byOrg := make(map[uuid.UUID][]models.Role)
		for _, m := range memberships {
			byOrg[m.OrganizationID] = append(byOrg[m.OrganizationID], m.Role)
		}
		for orgID, roles := range byOrg {
			if err := tx.DeleteMembershipsByUserAndOrg(ctx, userID, orgID); err != nil {
				return err
			}
			for _, role := range roles {
				if err := s.reconciler.RevokeIfUnused(ctx, tx, user, role, orgID); err != nil {
					return err
				}
			}
		}

		// Pending invitations are dead once the profile is gone.
		invitations, err := tx.ListInvitationsByUserAndStatus(ctx, userID, models.InvitationStatusPending)
		if err != nil {
			return err
		}
		for _, inv := range invitations {
			if err := tx.DeleteInvitation(ctx, inv.ID); err != nil {
				return err
			}
		}

		now := s.now().UTC()
		user.DeletedAt = &now
		return tx.SaveUser(ctx, user)
	})
	if err != nil {
		return err
	}

	if s.roleCache != nil {
		if err := s.roleCache.InvalidateUserRoles(ctx, userID); err != nil {
			log.Printf("Failed to invalidate role cache for user %s: %v", userID, err)
		}
	}
	log.Printf("User %s deleted", userID)
	return nil
}

// Export returns the user's profile together with their roles per organization.
func (s *UserService) Export(ctx context.Context, userID uuid.UUID) (*UserExport, error) {
	user, err := s.store.GetUser(ctx, userID)
	if err != nil {
		return nil, userLookupError(err)
	}

	memberships, err := s.store.ListMembershipsByUser(ctx, userID)
	if err != nil {
		return nil, err
	}

	export := &UserExport{
		User:        *user,
		Memberships: make(map[string][]models.Role),
	}
	slugs := make(map[uuid.UUID]string)
	for _, m := range memberships {
		slug, ok := slugs[m.OrganizationID]
		if !ok {
			org, err := s.store.GetOrganization(ctx, m.OrganizationID)
			if err != nil {
				if errors.Is(err, store.ErrNotFound) {
					continue
				}
				return nil, err
			}
			slug = org.Slug
			slugs[m.OrganizationID] = slug
		}
		export.Memberships[slug] = append(export.Memberships[slug], m.Role)
	}
	return export, nil
}

// Get returns the user by id.
func (s *UserService) Get(ctx context.Context, userID uuid.UUID) (*models.User, error) {
	user, err := s.store.GetUser(ctx, userID)
	if err != nil {
		return nil, userLookupError(err)
	}
	return user, nil
}

// GetByAuthID returns the user owning the given authority account.
func (s *UserService) GetByAuthID(ctx context.Context, authID string) (*models.User, error) {
	user, err := s.store.GetUserByAuthID(ctx, authID)
	if err != nil {
		return nil, userLookupError(err)
	}
	return user, nil
}

// Search returns users matching the search value by email, username or name.
func (s *UserService) Search(ctx context.Context, search string) ([]models.User, error) {
	return s.store.SearchUsers(ctx, search)
}

// Organizations lists the organizations the user belongs to.
func (s *UserService) Organizations(ctx context.Context, userID uuid.UUID) ([]models.Organization, error) {
	if _, err := s.store.GetUser(ctx, userID); err != nil {
		return nil, userLookupError(err)
	}
	return s.store.ListUserOrganizations(ctx, userID)
}
