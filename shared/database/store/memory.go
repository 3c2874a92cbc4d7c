package store

import (
	"context"
	"sort"
	"strings"
	"sync"

	"github.com/google/uuid"

	"planify-backend/shared/database/models"
)

// Memory is an in-process Store used by unit tests and local tooling. A single mutex
// serializes transactions, and WithinTx snapshots all tables so an error restores the
// pre-transaction state, mirroring the rollback behavior of the gorm store.
type Memory struct {
	mu   *sync.Mutex
	inTx bool

	data *memoryTables
}

type memoryTables struct {
	users        map[uuid.UUID]models.User
	orgs         map[uuid.UUID]models.Organization
	memberships  map[uuid.UUID]models.Membership
	invitations  map[uuid.UUID]models.Invitation
	joinRequests map[uuid.UUID]models.JoinRequest
}

// NewMemory returns an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{
		mu: &sync.Mutex{},
		data: &memoryTables{
			users:        make(map[uuid.UUID]models.User),
			orgs:         make(map[uuid.UUID]models.Organization),
			memberships:  make(map[uuid.UUID]models.Membership),
			invitations:  make(map[uuid.UUID]models.Invitation),
			joinRequests: make(map[uuid.UUID]models.JoinRequest),
		},
	}
}

func (t *memoryTables) clone() *memoryTables {
	c := &memoryTables{
		users:        make(map[uuid.UUID]models.User, len(t.users)),
		orgs:         make(map[uuid.UUID]models.Organization, len(t.orgs)),
		memberships:  make(map[uuid.UUID]models.Membership, len(t.memberships)),
		invitations:  make(map[uuid.UUID]models.Invitation, len(t.invitations)),
		joinRequests: make(map[uuid.UUID]models.JoinRequest, len(t.joinRequests)),
	}
	for k, v := range t.users {
		c.users[k] = v
	}
	for k, v := range t.orgs {
		c.orgs[k] = v
	}
	for k, v := range t.memberships {
		c.memberships[k] = v
	}
	for k, v := range t.invitations {
		c.invitations[k] = v
	}
	for k, v := range t.joinRequests {
		c.joinRequests[k] = v
	}
	return c
}

// WithinTx serializes against all other transactions and restores the snapshot when fn
// fails.
func (m *Memory) WithinTx(ctx context.Context, fn func(Store) error) error {
	if m.inTx {
		return fn(m)
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	snapshot := m.data.clone()
	tx := &Memory{mu: m.mu, inTx: true, data: m.data}
	if err := fn(tx); err != nil {
		*m.data = *snapshot
		return err
	}
	return nil
}

func (m *Memory) lock() func() {
	if m.inTx {
		return func() {}
	}
	m.mu.Lock()
	return m.mu.Unlock
}

func ensureID(id *uuid.UUID) {
	if *id == uuid.Nil {
		*id = uuid.New()
	}
}

// Users

func (m *Memory) CreateUser(ctx context.Context, user *models.User) error {
	defer m.lock()()
	for _, u := range m.data.users {
		if u.AuthID == user.AuthID || u.Email == user.Email || u.Username == user.Username {
			return ErrDuplicate
		}
	}
	ensureID(&user.ID)
	m.data.users[user.ID] = *user
	return nil
}

func (m *Memory) SaveUser(ctx context.Context, user *models.User) error {
	defer m.lock()()
	if _, ok := m.data.users[user.ID]; !ok {
		return ErrNotFound
	}
	m.data.users[user.ID] = *user
	return nil
}

func (m *Memory) GetUser(ctx context.Context, id uuid.UUID) (*models.User, error) {
	defer m.lock()()
	user, ok := m.data.users[id]
	if !ok || user.IsDeleted() {
		return nil, ErrNotFound
	}
	return &user, nil
}

func (m *Memory) GetUserByAuthID(ctx context.Context, authID string) (*models.User, error) {
	defer m.lock()()
	for _, user := range m.data.users {
		if user.AuthID == authID && !user.IsDeleted() {
			u := user
			return &u, nil
		}
	}
	return nil, ErrNotFound
}

func (m *Memory) SearchUsers(ctx context.Context, search string) ([]models.User, error) {
	defer m.lock()()
	needle := strings.ToLower(search)
	var out []models.User
	for _, user := range m.data.users {
		if user.IsDeleted() {
			continue
		}
		haystack := strings.ToLower(user.Email + " " + user.Username + " " + user.FirstName + " " + user.LastName)
		if strings.Contains(haystack, needle) {
			out = append(out, user)
		}
	}
	sortUsers(out)
	return out, nil
}

func (m *Memory) ListUserOrganizations(ctx context.Context, userID uuid.UUID) ([]models.Organization, error) {
	defer m.lock()()
	seen := make(map[uuid.UUID]bool)
	var out []models.Organization
	for _, membership := range m.data.memberships {
		if membership.UserID != userID || seen[membership.OrganizationID] {
			continue
		}
		if org, ok := m.data.orgs[membership.OrganizationID]; ok {
			seen[org.ID] = true
			out = append(out, org)
		}
	}
	sortOrgs(out)
	return out, nil
}

// Organizations

func (m *Memory) CreateOrganization(ctx context.Context, org *models.Organization) error {
	defer m.lock()()
	for _, o := range m.data.orgs {
		if o.Slug == org.Slug {
			return ErrDuplicate
		}
	}
	ensureID(&org.ID)
	m.data.orgs[org.ID] = *org
	return nil
}

func (m *Memory) GetOrganization(ctx context.Context, id uuid.UUID) (*models.Organization, error) {
	defer m.lock()()
	org, ok := m.data.orgs[id]
	if !ok {
		return nil, ErrNotFound
	}
	return &org, nil
}

func (m *Memory) GetOrganizationBySlug(ctx context.Context, slug string) (*models.Organization, error) {
	defer m.lock()()
	for _, org := range m.data.orgs {
		if org.Slug == slug {
			o := org
			return &o, nil
		}
	}
	return nil, ErrNotFound
}

// DeleteOrganization removes the organization and, like the database cascade, every
// membership, invitation and join request that belongs to it.
func (m *Memory) DeleteOrganization(ctx context.Context, id uuid.UUID) error {
	defer m.lock()()
	if _, ok := m.data.orgs[id]; !ok {
		return ErrNotFound
	}
	delete(m.data.orgs, id)
	for mid, membership := range m.data.memberships {
		if membership.OrganizationID == id {
			delete(m.data.memberships, mid)
		}
	}
	for iid, inv := range m.data.invitations {
		if inv.OrganizationID == id {
			delete(m.data.invitations, iid)
		}
	}
	for jid, jr := range m.data.joinRequests {
		if jr.OrganizationID == id {
			delete(m.data.joinRequests, jid)
		}
	}
	return nil
}

func (m *Memory) SearchOrganizations(ctx context.Context, search string) ([]models.Organization, error) {
	defer m.lock()()
	needle := strings.ToLower(search)
	var out []models.Organization
	for _, org := range m.data.orgs {
		if strings.Contains(strings.ToLower(org.Name+" "+org.Slug), needle) {
			out = append(out, org)
		}
	}
	sortOrgs(out)
	return out, nil
}

// Memberships

func (m *Memory) CreateMembership(ctx context.Context, membership *models.Membership) error {
	defer m.lock()()
	for _, existing := range m.data.memberships {
		if existing.UserID == membership.UserID &&
			existing.OrganizationID == membership.OrganizationID &&
			existing.Role == membership.Role {
			return ErrDuplicate
		}
	}
	ensureID(&membership.ID)
	m.data.memberships[membership.ID] = *membership
	return nil
}

func (m *Memory) GetMembership(ctx context.Context, userID, orgID uuid.UUID, role models.Role) (*models.Membership, error) {
	defer m.lock()()
	for _, membership := range m.data.memberships {
		if membership.UserID == userID && membership.OrganizationID == orgID && membership.Role == role {
			mm := membership
			return &mm, nil
		}
	}
	return nil, ErrNotFound
}

func (m *Memory) ListMembershipsByOrg(ctx context.Context, orgID uuid.UUID) ([]models.Membership, error) {
	defer m.lock()()
	return m.filterMemberships(func(mm models.Membership) bool {
		return mm.OrganizationID == orgID
	}), nil
}

func (m *Memory) ListMembershipsByUser(ctx context.Context, userID uuid.UUID) ([]models.Membership, error) {
	defer m.lock()()
	return m.filterMemberships(func(mm models.Membership) bool {
		return mm.UserID == userID
	}), nil
}

func (m *Memory) ListMembershipsByUserAndOrg(ctx context.Context, userID, orgID uuid.UUID) ([]models.Membership, error) {
	defer m.lock()()
	return m.filterMemberships(func(mm models.Membership) bool {
		return mm.UserID == userID && mm.OrganizationID == orgID
	}), nil
}

func (m *Memory) ListMembershipsByOrgAndRole(ctx context.Context, orgID uuid.UUID, role models.Role) ([]models.Membership, error) {
	defer m.lock()()
	return m.filterMemberships(func(mm models.Membership) bool {
		return mm.OrganizationID == orgID && mm.Role == role
	}), nil
}

func (m *Memory) FindOrganizationByAdmin(ctx context.Context, userID uuid.UUID) (*models.Organization, error) {
	defer m.lock()()
	for _, membership := range m.data.memberships {
		if membership.UserID == userID && membership.Role == models.RoleOrgAdmin {
			if org, ok := m.data.orgs[membership.OrganizationID]; ok {
				return &org, nil
			}
		}
	}
	return nil, ErrNotFound
}

func (m *Memory) DeleteMembershipsByUserAndOrg(ctx context.Context, userID, orgID uuid.UUID) error {
	defer m.lock()()
	for id, membership := range m.data.memberships {
		if membership.UserID == userID && membership.OrganizationID == orgID {
			delete(m.data.memberships, id)
		}
	}
	return nil
}

func (m *Memory) CountMembershipsByRoleExcludingOrg(ctx context.Context, userID uuid.UUID, role models.Role, excludedOrgID uuid.UUID) (int64, error) {
	defer m.lock()()
	var count int64
	for _, membership := range m.data.memberships {
		if membership.UserID == userID && membership.Role == role && membership.OrganizationID != excludedOrgID {
			count++
		}
	}
	return count, nil
}

func (m *Memory) filterMemberships(keep func(models.Membership) bool) []models.Membership {
	var out []models.Membership
	for _, membership := range m.data.memberships {
		if keep(membership) {
			out = append(out, membership)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out
}

// Invitations

func (m *Memory) CreateInvitation(ctx context.Context, inv *models.Invitation) error {
	defer m.lock()()
	for _, existing := range m.data.invitations {
		if existing.Token == inv.Token {
			return ErrDuplicate
		}
	}
	ensureID(&inv.ID)
	m.data.invitations[inv.ID] = *inv
	return nil
}

func (m *Memory) SaveInvitation(ctx context.Context, inv *models.Invitation) error {
	defer m.lock()()
	if _, ok := m.data.invitations[inv.ID]; !ok {
		return ErrNotFound
	}
	m.data.invitations[inv.ID] = *inv
	return nil
}

func (m *Memory) DeleteInvitation(ctx context.Context, id uuid.UUID) error {
	defer m.lock()()
	if _, ok := m.data.invitations[id]; !ok {
		return ErrNotFound
	}
	delete(m.data.invitations, id)
	return nil
}

func (m *Memory) GetInvitationByToken(ctx context.Context, token string) (*models.Invitation, error) {
	defer m.lock()()
	for _, inv := range m.data.invitations {
		if inv.Token == token {
			i := inv
			return &i, nil
		}
	}
	return nil, ErrNotFound
}

func (m *Memory) ListPendingInvitations(ctx context.Context, orgID, userID uuid.UUID) ([]models.Invitation, error) {
	defer m.lock()()
	return m.filterInvitations(func(inv models.Invitation) bool {
		return inv.OrganizationID == orgID && inv.UserID == userID && inv.Status == models.InvitationStatusPending
	}), nil
}

func (m *Memory) ListInvitationsByUser(ctx context.Context, userID uuid.UUID) ([]models.Invitation, error) {
	defer m.lock()()
	return m.filterInvitations(func(inv models.Invitation) bool {
		return inv.UserID == userID
	}), nil
}

func (m *Memory) ListInvitationsByUserAndStatus(ctx context.Context, userID uuid.UUID, status string) ([]models.Invitation, error) {
	defer m.lock()()
	return m.filterInvitations(func(inv models.Invitation) bool {
		return inv.UserID == userID && inv.Status == status
	}), nil
}

func (m *Memory) ListInvitationsByOrgAndStatus(ctx context.Context, orgID uuid.UUID, status string) ([]models.Invitation, error) {
	defer m.lock()()
	return m.filterInvitations(func(inv models.Invitation) bool {
		return inv.OrganizationID == orgID && inv.Status == status
	}), nil
}

func (m *Memory) filterInvitations(keep func(models.Invitation) bool) []models.Invitation {
	var out []models.Invitation
	for _, inv := range m.data.invitations {
		if keep(inv) {
			out = append(out, inv)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out
}

// Join requests

func (m *Memory) CreateJoinRequest(ctx context.Context, jr *models.JoinRequest) error {
	defer m.lock()()
	ensureID(&jr.ID)
	m.data.joinRequests[jr.ID] = *jr
	return nil
}

func (m *Memory) SaveJoinRequest(ctx context.Context, jr *models.JoinRequest) error {
	defer m.lock()()
	if _, ok := m.data.joinRequests[jr.ID]; !ok {
		return ErrNotFound
	}
	m.data.joinRequests[jr.ID] = *jr
	return nil
}

func (m *Memory) GetJoinRequest(ctx context.Context, id uuid.UUID) (*models.JoinRequest, error) {
	defer m.lock()()
	jr, ok := m.data.joinRequests[id]
	if !ok {
		return nil, ErrNotFound
	}
	return &jr, nil
}

func (m *Memory) ListPendingJoinRequests(ctx context.Context, userID, orgID uuid.UUID) ([]models.JoinRequest, error) {
	defer m.lock()()
	return m.filterJoinRequests(func(jr models.JoinRequest) bool {
		return jr.UserID == userID && jr.OrganizationID == orgID && jr.Status == models.JoinRequestStatusPending
	}), nil
}

func (m *Memory) ListJoinRequestsByOrgAndStatus(ctx context.Context, orgID uuid.UUID, status string) ([]models.JoinRequest, error) {
	defer m.lock()()
	return m.filterJoinRequests(func(jr models.JoinRequest) bool {
		return jr.OrganizationID == orgID && jr.Status == status
	}), nil
}

func (m *Memory) ListJoinRequestsByUserAndStatus(ctx context.Context, userID uuid.UUID, status string) ([]models.JoinRequest, error) {
	defer m.lock()()
	return m.filterJoinRequests(func(jr models.JoinRequest) bool {
		return jr.UserID == userID && jr.Status == status
	}), nil
}

func (m *Memory) filterJoinRequests(keep func(models.JoinRequest) bool) []models.JoinRequest {
	var out []models.JoinRequest
	for _, jr := range m.data.joinRequests {
		if keep(jr) {
			out = append(out, jr)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out
}

func sortUsers(users []models.User) {
	sort.Slice(users, func(i, j int) bool { return users[i].Username < users[j].Username })
}

func sortOrgs(orgs []models.Organization) {
	sort.Slice(orgs, func(i, j int) bool { return orgs[i].Slug < orgs[j].Slug })
}
