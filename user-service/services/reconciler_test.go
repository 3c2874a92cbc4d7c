package services

import (
	"context"
	"errors"
	"testing"

	"planify-backend/shared/clients"
	"planify-backend/shared/database/models"
	"planify-backend/shared/database/store"
)

func TestRevokeIfUnusedRetainsSharedRole(t *testing.T) {
	st := store.NewMemory()
	authority := &fakeAuthority{}
	reconciler := NewRoleReconciler(authority)
	ctx := context.Background()

	user := &models.User{AuthID: "auth-bob", Email: "b@example.com", Username: "bob"}
	if err := st.CreateUser(ctx, user); err != nil {
		t.Fatalf("CreateUser: %v", err)
	}
	orgA := &models.Organization{Name: "A", Slug: "a", CreatedByUserID: user.ID}
	orgB := &models.Organization{Name: "B", Slug: "b", CreatedByUserID: user.ID}
	for _, org := range []*models.Organization{orgA, orgB} {
		if err := st.CreateOrganization(ctx, org); err != nil {
			t.Fatalf("CreateOrganization: %v", err)
		}
	}
	// Only orgB still carries the role; removal happened in orgA already.
	if err := st.CreateMembership(ctx, &models.Membership{
		UserID: user.ID, OrganizationID: orgB.ID, Role: models.RoleGuest,
	}); err != nil {
		t.Fatalf("CreateMembership: %v", err)
	}

	if err := reconciler.RevokeIfUnused(ctx, st, user, models.RoleGuest, orgA.ID); err != nil {
		t.Fatalf("RevokeIfUnused: %v", err)
	}
	if len(authority.removedCalls()) != 0 {
		t.Fatalf("expected role retained, got revocations %v", authority.removedCalls())
	}

	// Once orgB's membership is gone too, the next reconciliation revokes.
	if err := st.DeleteMembershipsByUserAndOrg(ctx, user.ID, orgB.ID); err != nil {
		t.Fatalf("DeleteMembershipsByUserAndOrg: %v", err)
	}
	if err := reconciler.RevokeIfUnused(ctx, st, user, models.RoleGuest, orgB.ID); err != nil {
		t.Fatalf("RevokeIfUnused after delete: %v", err)
	}
	if removed := authority.removedCalls(); len(removed) != 1 || removed[0] != "auth-bob/guest" {
		t.Fatalf("expected guest revoked, got %v", removed)
	}
}

func TestReconcilerMapsAuthorityUnavailable(t *testing.T) {
	st := store.NewMemory()
	authority := &fakeAuthority{failAssign: clients.ErrAuthorityUnavailable}
	reconciler := NewRoleReconciler(authority)
	ctx := context.Background()

	user := &models.User{AuthID: "auth-bob", Email: "b@example.com", Username: "bob"}
	if err := st.CreateUser(ctx, user); err != nil {
		t.Fatalf("CreateUser: %v", err)
	}

	err := reconciler.Grant(ctx, user, models.RoleGuest)
	wantCode(t, err, CodeAuthorityUnavailable)
	if !errors.Is(err, clients.ErrAuthorityUnavailable) {
		t.Fatalf("expected wrapped sentinel, got %v", err)
	}
}
