package services

import (
	"context"
	"errors"
	"testing"
	"time"

	"planify-backend/shared/database/models"
	"planify-backend/shared/events"
)

func TestInviteCreatesPendingInvitation(t *testing.T) {
	f := newFixture(t)
	admin := f.seedUser(t, "alice")
	target := f.seedUser(t, "bob")
	org := f.seedOrg(t, "acme", admin)

	inv, err := f.invites.Invite(context.Background(), InviteInput{
		OrganizationID:  org.ID,
		TargetUserID:    target.ID,
		InvitedByUserID: admin.ID,
	})
	if err != nil {
		t.Fatalf("Invite: %v", err)
	}

	if inv.Status != models.InvitationStatusPending {
		t.Fatalf("expected PENDING, got %s", inv.Status)
	}
	if inv.Role != models.RoleGuest {
		t.Fatalf("expected default guest role, got %s", inv.Role)
	}
	if inv.Token == "" {
		t.Fatal("expected a token")
	}
	wantExpiry := testTime.Add(7 * 24 * time.Hour)
	if !inv.ExpiresAt.Equal(wantExpiry) {
		t.Fatalf("expected expiry %v, got %v", wantExpiry, inv.ExpiresAt)
	}
	if len(f.notifier.invitations) != 1 || f.notifier.invitations[0].EventType != events.InvitationSent {
		t.Fatalf("expected one SENT event, got %+v", f.notifier.invitations)
	}
}

func TestInviteGuards(t *testing.T) {
	f := newFixture(t)
	admin := f.seedUser(t, "alice")
	target := f.seedUser(t, "bob")
	member := f.seedUser(t, "carol")
	otherAdmin := f.seedUser(t, "dave")
	org := f.seedOrg(t, "acme", admin)
	f.seedOrg(t, "other", otherAdmin)
	f.seedMembership(t, member, org, models.RoleGuest)

	t.Run("non-admin inviter", func(t *testing.T) {
		_, err := f.invites.Invite(context.Background(), InviteInput{
			OrganizationID: org.ID, TargetUserID: target.ID, InvitedByUserID: member.ID,
		})
		wantCode(t, err, CodeNotAuthorized)
	})
	t.Run("already a member", func(t *testing.T) {
		_, err := f.invites.Invite(context.Background(), InviteInput{
			OrganizationID: org.ID, TargetUserID: member.ID, InvitedByUserID: admin.ID,
		})
		wantCode(t, err, CodeConflictingProposal)
	})
	t.Run("non-organization role", func(t *testing.T) {
		_, err := f.invites.Invite(context.Background(), InviteInput{
			OrganizationID: org.ID, TargetUserID: target.ID,
			Role: models.RoleAdministrator, InvitedByUserID: admin.ID,
		})
		wantCode(t, err, CodeInvalidArgument)
	})
	t.Run("org admin elsewhere", func(t *testing.T) {
		_, err := f.invites.Invite(context.Background(), InviteInput{
			OrganizationID: org.ID, TargetUserID: otherAdmin.ID,
			Role: models.RoleOrgAdmin, InvitedByUserID: admin.ID,
		})
		wantCode(t, err, CodeAdminConflict)
	})
}

func TestInviteBlockedByPendingProposals(t *testing.T) {
	f := newFixture(t)
	admin := f.seedUser(t, "alice")
	target := f.seedUser(t, "bob")
	org := f.seedOrg(t, "acme", admin)

	t.Run("pending invitation", func(t *testing.T) {
		if _, err := f.invites.Invite(context.Background(), InviteInput{
			OrganizationID: org.ID, TargetUserID: target.ID, InvitedByUserID: admin.ID,
		}); err != nil {
			t.Fatalf("first Invite: %v", err)
		}
		_, err := f.invites.Invite(context.Background(), InviteInput{
			OrganizationID: org.ID, TargetUserID: target.ID, InvitedByUserID: admin.ID,
		})
		wantCode(t, err, CodeConflictingProposal)
	})

	t.Run("pending join request", func(t *testing.T) {
		requester := f.seedUser(t, "carol")
		if _, err := f.joins.Send(context.Background(), org.ID, requester.ID); err != nil {
			t.Fatalf("Send: %v", err)
		}
		_, err := f.invites.Invite(context.Background(), InviteInput{
			OrganizationID: org.ID, TargetUserID: requester.ID, InvitedByUserID: admin.ID,
		})
		wantCode(t, err, CodeConflictingProposal)
	})
}

func TestAcceptInvitationCreatesMembership(t *testing.T) {
	f := newFixture(t)
	admin := f.seedUser(t, "alice")
	target := f.seedUser(t, "bob")
	org := f.seedOrg(t, "acme", admin)

	inv, err := f.invites.Invite(context.Background(), InviteInput{
		OrganizationID: org.ID, TargetUserID: target.ID,
		Role: models.RoleOrganizer, InvitedByUserID: admin.ID,
	})
	if err != nil {
		t.Fatalf("Invite: %v", err)
	}

	membership, err := f.invites.Accept(context.Background(), inv.Token, target.ID)
	if err != nil {
		t.Fatalf("Accept: %v", err)
	}
	if membership.Role != models.RoleOrganizer {
		t.Fatalf("expected organizer membership, got %s", membership.Role)
	}
	if !containsString(f.authority.assignedCalls(), "auth-bob/organizer") {
		t.Fatalf("expected organizer granted at authority, got %v", f.authority.assignedCalls())
	}

	stored, err := f.store.GetInvitationByToken(context.Background(), inv.Token)
	if err != nil {
		t.Fatalf("GetInvitationByToken: %v", err)
	}
	if stored.Status != models.InvitationStatusAccepted || stored.AcceptedAt == nil {
		t.Fatalf("expected ACCEPTED with timestamp, got %+v", stored)
	}
	last := f.notifier.invitations[len(f.notifier.invitations)-1]
	if last.EventType != events.InvitationAccepted {
		t.Fatalf("expected ACCEPTED event, got %s", last.EventType)
	}
}

func TestAcceptInvitationSingleWinner(t *testing.T) {
	f := newFixture(t)
	admin := f.seedUser(t, "alice")
	target := f.seedUser(t, "bob")
	org := f.seedOrg(t, "acme", admin)

	inv, err := f.invites.Invite(context.Background(), InviteInput{
		OrganizationID: org.ID, TargetUserID: target.ID, InvitedByUserID: admin.ID,
	})
	if err != nil {
		t.Fatalf("Invite: %v", err)
	}

	if _, err := f.invites.Accept(context.Background(), inv.Token, target.ID); err != nil {
		t.Fatalf("first Accept: %v", err)
	}
	_, err = f.invites.Accept(context.Background(), inv.Token, target.ID)
	wantCode(t, err, CodeNotPending)

	memberships, _ := f.store.ListMembershipsByUserAndOrg(context.Background(), target.ID, org.ID)
	if len(memberships) != 1 {
		t.Fatalf("expected exactly one membership, got %d", len(memberships))
	}
}

func TestAcceptInvitationGuards(t *testing.T) {
	f := newFixture(t)
	admin := f.seedUser(t, "alice")
	target := f.seedUser(t, "bob")
	stranger := f.seedUser(t, "carol")
	org := f.seedOrg(t, "acme", admin)

	inv, err := f.invites.Invite(context.Background(), InviteInput{
		OrganizationID: org.ID, TargetUserID: target.ID, InvitedByUserID: admin.ID,
	})
	if err != nil {
		t.Fatalf("Invite: %v", err)
	}

	t.Run("unknown token", func(t *testing.T) {
		_, err := f.invites.Accept(context.Background(), "no-such-token", target.ID)
		wantCode(t, err, CodeNotFound)
	})
	t.Run("wrong user", func(t *testing.T) {
		_, err := f.invites.Accept(context.Background(), inv.Token, stranger.ID)
		wantCode(t, err, CodeForbidden)
	})
	t.Run("expired", func(t *testing.T) {
		f.invites.now = func() time.Time { return testTime.Add(8 * 24 * time.Hour) }
		defer func() { f.invites.now = fixedClock }()
		_, err := f.invites.Accept(context.Background(), inv.Token, target.ID)
		wantCode(t, err, CodeExpired)
	})
}

func TestAcceptInvitationRollsBackOnAuthorityFailure(t *testing.T) {
	f := newFixture(t)
	admin := f.seedUser(t, "alice")
	target := f.seedUser(t, "bob")
	org := f.seedOrg(t, "acme", admin)

	inv, err := f.invites.Invite(context.Background(), InviteInput{
		OrganizationID: org.ID, TargetUserID: target.ID, InvitedByUserID: admin.ID,
	})
	if err != nil {
		t.Fatalf("Invite: %v", err)
	}

	f.authority.failAssign = errors.New("authority down")
	_, err = f.invites.Accept(context.Background(), inv.Token, target.ID)
	wantCode(t, err, CodeAuthorityUnavailable)

	// The status flip and the membership must both roll back so a retry can win.
	stored, err := f.store.GetInvitationByToken(context.Background(), inv.Token)
	if err != nil {
		t.Fatalf("GetInvitationByToken: %v", err)
	}
	if stored.Status != models.InvitationStatusPending {
		t.Fatalf("expected invitation still PENDING, got %s", stored.Status)
	}
	memberships, _ := f.store.ListMembershipsByUserAndOrg(context.Background(), target.ID, org.ID)
	if len(memberships) != 0 {
		t.Fatalf("expected no membership after rollback, got %v", memberships)
	}

	f.authority.failAssign = nil
	if _, err := f.invites.Accept(context.Background(), inv.Token, target.ID); err != nil {
		t.Fatalf("retry Accept: %v", err)
	}
}

func TestDeclineInvitationDeletesRecord(t *testing.T) {
	f := newFixture(t)
	admin := f.seedUser(t, "alice")
	target := f.seedUser(t, "bob")
	org := f.seedOrg(t, "acme", admin)

	inv, err := f.invites.Invite(context.Background(), InviteInput{
		OrganizationID: org.ID, TargetUserID: target.ID, InvitedByUserID: admin.ID,
	})
	if err != nil {
		t.Fatalf("Invite: %v", err)
	}

	if err := f.invites.Decline(context.Background(), inv.Token, target.ID); err != nil {
		t.Fatalf("Decline: %v", err)
	}

	if _, err := f.store.GetInvitationByToken(context.Background(), inv.Token); err == nil {
		t.Fatal("expected invitation deleted")
	}
	last := f.notifier.invitations[len(f.notifier.invitations)-1]
	if last.EventType != events.InvitationDeclined {
		t.Fatalf("expected DECLINED event, got %s", last.EventType)
	}

	// The pair is free for a new proposal again.
	if _, err := f.joins.Send(context.Background(), org.ID, target.ID); err != nil {
		t.Fatalf("Send after decline: %v", err)
	}
}

func TestPendingForUserSkipsExpired(t *testing.T) {
	f := newFixture(t)
	admin := f.seedUser(t, "alice")
	target := f.seedUser(t, "bob")
	org := f.seedOrg(t, "acme", admin)

	if _, err := f.invites.Invite(context.Background(), InviteInput{
		OrganizationID: org.ID, TargetUserID: target.ID, InvitedByUserID: admin.ID,
	}); err != nil {
		t.Fatalf("Invite: %v", err)
	}

	got, err := f.invites.PendingForUser(context.Background(), target.ID)
	if err != nil {
		t.Fatalf("PendingForUser: %v", err)
	}
	if len(got) != 1 {
		t.Fatalf("expected one pending invitation, got %d", len(got))
	}

	f.invites.now = func() time.Time { return testTime.Add(8 * 24 * time.Hour) }
	got, err = f.invites.PendingForUser(context.Background(), target.ID)
	if err != nil {
		t.Fatalf("PendingForUser after expiry: %v", err)
	}
	if len(got) != 0 {
		t.Fatalf("expected expired invitation filtered out, got %d", len(got))
	}
}

func TestForUserListsAllStatuses(t *testing.T) {
	f := newFixture(t)
	alice := f.seedUser(t, "alice")
	carol := f.seedUser(t, "carol")
	target := f.seedUser(t, "bob")
	acme := f.seedOrg(t, "acme", alice)
	globex := f.seedOrg(t, "globex", carol)

	inv, err := f.invites.Invite(context.Background(), InviteInput{
		OrganizationID: acme.ID, TargetUserID: target.ID, InvitedByUserID: alice.ID,
	})
	if err != nil {
		t.Fatalf("Invite acme: %v", err)
	}
	if _, err := f.invites.Invite(context.Background(), InviteInput{
		OrganizationID: globex.ID, TargetUserID: target.ID, InvitedByUserID: carol.ID,
	}); err != nil {
		t.Fatalf("Invite globex: %v", err)
	}
	if _, err := f.invites.Accept(context.Background(), inv.Token, target.ID); err != nil {
		t.Fatalf("Accept: %v", err)
	}

	all, err := f.invites.ForUser(context.Background(), target.ID)
	if err != nil {
		t.Fatalf("ForUser: %v", err)
	}
	if len(all) != 2 {
		t.Fatalf("expected both invitations, got %d", len(all))
	}

	accepted, err := f.invites.ForUserWithStatus(context.Background(), target.ID, models.InvitationStatusAccepted)
	if err != nil {
		t.Fatalf("ForUserWithStatus accepted: %v", err)
	}
	if len(accepted) != 1 || accepted[0].OrganizationID != acme.ID {
		t.Fatalf("expected one accepted invitation for acme, got %+v", accepted)
	}

	pending, err := f.invites.ForUserWithStatus(context.Background(), target.ID, models.InvitationStatusPending)
	if err != nil {
		t.Fatalf("ForUserWithStatus pending: %v", err)
	}
	if len(pending) != 1 || pending[0].OrganizationID != globex.ID {
		t.Fatalf("expected one pending invitation for globex, got %+v", pending)
	}
}
