package services

import (
	"context"
	"errors"
	"testing"

	"planify-backend/shared/database/models"
	"planify-backend/shared/events"
)

func TestSendJoinRequest(t *testing.T) {
	f := newFixture(t)
	admin := f.seedUser(t, "alice")
	requester := f.seedUser(t, "bob")
	org := f.seedOrg(t, "acme", admin)

	jr, err := f.joins.Send(context.Background(), org.ID, requester.ID)
	if err != nil {
		t.Fatalf("Send: %v", err)
	}
	if !jr.IsPending() {
		t.Fatalf("expected PENDING, got %s", jr.Status)
	}

	if len(f.notifier.joins) != 1 {
		t.Fatalf("expected one event, got %d", len(f.notifier.joins))
	}
	event := f.notifier.joins[0]
	if event.EventType != events.JoinRequestSent {
		t.Fatalf("expected SENT, got %s", event.EventType)
	}
	if len(event.AdminAuthIDs) != 1 || event.AdminAuthIDs[0] != "auth-alice" {
		t.Fatalf("expected admin auth ids [auth-alice], got %v", event.AdminAuthIDs)
	}
}

func TestSendJoinRequestGuards(t *testing.T) {
	f := newFixture(t)
	admin := f.seedUser(t, "alice")
	member := f.seedUser(t, "bob")
	org := f.seedOrg(t, "acme", admin)
	f.seedMembership(t, member, org, models.RoleGuest)

	t.Run("already a member", func(t *testing.T) {
		_, err := f.joins.Send(context.Background(), org.ID, member.ID)
		wantCode(t, err, CodeConflictingProposal)
	})

	t.Run("duplicate pending request", func(t *testing.T) {
		requester := f.seedUser(t, "carol")
		if _, err := f.joins.Send(context.Background(), org.ID, requester.ID); err != nil {
			t.Fatalf("first Send: %v", err)
		}
		_, err := f.joins.Send(context.Background(), org.ID, requester.ID)
		wantCode(t, err, CodeConflictingProposal)
	})

	t.Run("blocked by pending invitation", func(t *testing.T) {
		invited := f.seedUser(t, "dave")
		if _, err := f.invites.Invite(context.Background(), InviteInput{
			OrganizationID: org.ID, TargetUserID: invited.ID, InvitedByUserID: admin.ID,
		}); err != nil {
			t.Fatalf("Invite: %v", err)
		}
		_, err := f.joins.Send(context.Background(), org.ID, invited.ID)
		wantCode(t, err, CodeConflictingProposal)
	})
}

func TestApproveJoinRequestCreatesGuestMembership(t *testing.T) {
	f := newFixture(t)
	admin := f.seedUser(t, "alice")
	requester := f.seedUser(t, "bob")
	org := f.seedOrg(t, "acme", admin)

	jr, err := f.joins.Send(context.Background(), org.ID, requester.ID)
	if err != nil {
		t.Fatalf("Send: %v", err)
	}

	membership, err := f.joins.Approve(context.Background(), org.ID, jr.ID, admin.ID)
	if err != nil {
		t.Fatalf("Approve: %v", err)
	}
	if membership.Role != models.DefaultMemberRole {
		t.Fatalf("expected default guest membership, got %s", membership.Role)
	}
	if !containsString(f.authority.assignedCalls(), "auth-bob/guest") {
		t.Fatalf("expected guest granted at authority, got %v", f.authority.assignedCalls())
	}

	stored, err := f.store.GetJoinRequest(context.Background(), jr.ID)
	if err != nil {
		t.Fatalf("GetJoinRequest: %v", err)
	}
	if stored.Status != models.JoinRequestStatusApproved {
		t.Fatalf("expected APPROVED, got %s", stored.Status)
	}
	if stored.HandledAt == nil || stored.HandledByUserID == nil || *stored.HandledByUserID != admin.ID {
		t.Fatalf("expected handling metadata, got %+v", stored)
	}
	last := f.notifier.joins[len(f.notifier.joins)-1]
	if last.EventType != events.JoinRequestApproved {
		t.Fatalf("expected APPROVED event, got %s", last.EventType)
	}
}

func TestRejectJoinRequestRetainsRecord(t *testing.T) {
	f := newFixture(t)
	admin := f.seedUser(t, "alice")
	requester := f.seedUser(t, "bob")
	org := f.seedOrg(t, "acme", admin)

	jr, err := f.joins.Send(context.Background(), org.ID, requester.ID)
	if err != nil {
		t.Fatalf("Send: %v", err)
	}

	if err := f.joins.Reject(context.Background(), org.ID, jr.ID, admin.ID); err != nil {
		t.Fatalf("Reject: %v", err)
	}

	stored, err := f.store.GetJoinRequest(context.Background(), jr.ID)
	if err != nil {
		t.Fatalf("GetJoinRequest: %v", err)
	}
	if stored.Status != models.JoinRequestStatusRejected {
		t.Fatalf("expected REJECTED, got %s", stored.Status)
	}
	memberships, _ := f.store.ListMembershipsByUserAndOrg(context.Background(), requester.ID, org.ID)
	if len(memberships) != 0 {
		t.Fatalf("expected no membership, got %v", memberships)
	}

	// A handled request no longer blocks new proposals for the pair.
	if _, err := f.joins.Send(context.Background(), org.ID, requester.ID); err != nil {
		t.Fatalf("Send after reject: %v", err)
	}
}

func TestJoinRequestDecisionGuards(t *testing.T) {
	f := newFixture(t)
	admin := f.seedUser(t, "alice")
	otherAdmin := f.seedUser(t, "carol")
	requester := f.seedUser(t, "bob")
	org := f.seedOrg(t, "acme", admin)
	otherOrg := f.seedOrg(t, "other", otherAdmin)

	jr, err := f.joins.Send(context.Background(), org.ID, requester.ID)
	if err != nil {
		t.Fatalf("Send: %v", err)
	}

	t.Run("non-admin decision", func(t *testing.T) {
		_, err := f.joins.Approve(context.Background(), org.ID, jr.ID, requester.ID)
		wantCode(t, err, CodeNotAuthorized)
	})
	t.Run("unknown request", func(t *testing.T) {
		_, err := f.joins.Approve(context.Background(), org.ID, requester.ID, admin.ID)
		wantCode(t, err, CodeNotFound)
	})
	t.Run("wrong organization", func(t *testing.T) {
		_, err := f.joins.Approve(context.Background(), otherOrg.ID, jr.ID, otherAdmin.ID)
		wantCode(t, err, CodeWrongOrganization)
	})
	t.Run("already handled", func(t *testing.T) {
		if _, err := f.joins.Approve(context.Background(), org.ID, jr.ID, admin.ID); err != nil {
			t.Fatalf("Approve: %v", err)
		}
		err := f.joins.Reject(context.Background(), org.ID, jr.ID, admin.ID)
		wantCode(t, err, CodeNotPending)
	})
}

func TestApproveJoinRequestRollsBackOnAuthorityFailure(t *testing.T) {
	f := newFixture(t)
	admin := f.seedUser(t, "alice")
	requester := f.seedUser(t, "bob")
	org := f.seedOrg(t, "acme", admin)

	jr, err := f.joins.Send(context.Background(), org.ID, requester.ID)
	if err != nil {
		t.Fatalf("Send: %v", err)
	}

	f.authority.failAssign = errors.New("authority down")
	_, err = f.joins.Approve(context.Background(), org.ID, jr.ID, admin.ID)
	wantCode(t, err, CodeAuthorityUnavailable)

	stored, _ := f.store.GetJoinRequest(context.Background(), jr.ID)
	if !stored.IsPending() {
		t.Fatalf("expected request still PENDING after rollback, got %s", stored.Status)
	}
	memberships, _ := f.store.ListMembershipsByUserAndOrg(context.Background(), requester.ID, org.ID)
	if len(memberships) != 0 {
		t.Fatalf("expected no membership after rollback, got %v", memberships)
	}
}

func TestPendingForOrganizationRequiresAdmin(t *testing.T) {
	f := newFixture(t)
	admin := f.seedUser(t, "alice")
	requester := f.seedUser(t, "bob")
	org := f.seedOrg(t, "acme", admin)

	if _, err := f.joins.Send(context.Background(), org.ID, requester.ID); err != nil {
		t.Fatalf("Send: %v", err)
	}

	_, err := f.joins.PendingForOrganization(context.Background(), org.ID, requester.ID)
	wantCode(t, err, CodeNotAuthorized)

	got, err := f.joins.PendingForOrganization(context.Background(), org.ID, admin.ID)
	if err != nil {
		t.Fatalf("PendingForOrganization: %v", err)
	}
	if len(got) != 1 {
		t.Fatalf("expected one pending request, got %d", len(got))
	}
}
