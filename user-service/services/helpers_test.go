package services

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"planify-backend/shared/database/models"
	"planify-backend/shared/database/store"
	"planify-backend/shared/events"
)

var testTime = time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

func fixedClock() time.Time { return testTime }

// fakeAuthority records role calls and can be told to fail.
type fakeAuthority struct {
	mu         sync.Mutex
	assigned   []string // "authID/role"
	removed    []string
	failAssign error
	failRemove error
}

func (f *fakeAuthority) AssignRole(ctx context.Context, authID string, role models.Role) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failAssign != nil {
		return f.failAssign
	}
	f.assigned = append(f.assigned, fmt.Sprintf("%s/%s", authID, role))
	return nil
}

func (f *fakeAuthority) RemoveRole(ctx context.Context, authID string, role models.Role) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failRemove != nil {
		return f.failRemove
	}
	f.removed = append(f.removed, fmt.Sprintf("%s/%s", authID, role))
	return nil
}

func (f *fakeAuthority) assignedCalls() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.assigned...)
}

func (f *fakeAuthority) removedCalls() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.removed...)
}

// captureNotifier collects published events.
type captureNotifier struct {
	mu          sync.Mutex
	invitations []events.InvitationEvent
	joins       []events.JoinRequestEvent
	memberships []events.MembershipEvent
}

func (c *captureNotifier) PublishInvitationEvent(ctx context.Context, event events.InvitationEvent) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.invitations = append(c.invitations, event)
	return nil
}

func (c *captureNotifier) PublishJoinRequestEvent(ctx context.Context, event events.JoinRequestEvent) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.joins = append(c.joins, event)
	return nil
}

func (c *captureNotifier) PublishMembershipEvent(ctx context.Context, event events.MembershipEvent) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.memberships = append(c.memberships, event)
	return nil
}

func (c *captureNotifier) Close() error { return nil }

type fixture struct {
	store     *store.Memory
	authority *fakeAuthority
	notifier  *captureNotifier
	orgs      *OrganizationService
	invites   *InvitationService
	joins     *JoinRequestService
	users     *UserService
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	st := store.NewMemory()
	authority := &fakeAuthority{}
	notifier := &captureNotifier{}
	reconciler := NewRoleReconciler(authority)

	f := &fixture{
		store:     st,
		authority: authority,
		notifier:  notifier,
		orgs:      NewOrganizationService(st, reconciler, notifier),
		invites:   NewInvitationServiceWith(st, reconciler, notifier, 7*24*time.Hour),
		joins:     NewJoinRequestService(st, reconciler, notifier),
		users:     NewUserService(st, reconciler, nil),
	}
	f.orgs.now = fixedClock
	f.invites.now = fixedClock
	f.joins.now = fixedClock
	f.users.now = fixedClock
	return f
}

func (f *fixture) seedUser(t *testing.T, username string) *models.User {
	t.Helper()
	user := &models.User{
		AuthID:    "auth-" + username,
		Email:     username + "@example.com",
		Username:  username,
		FirstName: username,
		LastName:  "Test",
		CreatedAt: testTime,
	}
	if err := f.store.CreateUser(context.Background(), user); err != nil {
		t.Fatalf("seed user %s: %v", username, err)
	}
	return user
}

// seedOrg creates an organization with its admin through the service, so the admin
// membership and the authority grant are in place.
func (f *fixture) seedOrg(t *testing.T, slug string, admin *models.User) *models.Organization {
	t.Helper()
	org, err := f.orgs.Create(context.Background(), CreateOrganizationInput{
		Name:            slug,
		Slug:            slug,
		CreatedByUserID: admin.ID,
	})
	if err != nil {
		t.Fatalf("seed org %s: %v", slug, err)
	}
	return org
}

func (f *fixture) seedMembership(t *testing.T, user *models.User, org *models.Organization, role models.Role) {
	t.Helper()
	m := &models.Membership{
		UserID:         user.ID,
		OrganizationID: org.ID,
		Role:           role,
		CreatedAt:      testTime,
	}
	if err := f.store.CreateMembership(context.Background(), m); err != nil {
		t.Fatalf("seed membership: %v", err)
	}
}

func (f *fixture) memberRoles(t *testing.T, user *models.User, org *models.Organization) []models.Role {
	t.Helper()
	memberships, err := f.store.ListMembershipsByUserAndOrg(context.Background(), user.ID, org.ID)
	if err != nil {
		t.Fatalf("list memberships: %v", err)
	}
	roles := make([]models.Role, 0, len(memberships))
	for _, m := range memberships {
		roles = append(roles, m.Role)
	}
	return roles
}

func wantCode(t *testing.T, err error, code Code) {
	t.Helper()
	if err == nil {
		t.Fatalf("expected error with code %s, got nil", code)
	}
	if !IsCode(err, code) {
		t.Fatalf("expected code %s, got %v", code, err)
	}
}

func containsRole(roles []models.Role, role models.Role) bool {
	for _, r := range roles {
		if r == role {
			return true
		}
	}
	return false
}
