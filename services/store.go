package services

import (
	"sort"
	"sync"

	"github.com/bwmarrin/snowflake"

	"github.com/LovationAdmin/voice-invites/models"
)

// InvitationStore is the in-memory table of live invitations. It hands out
// copies, never pointers into the map. Lock serializes read-modify-write
// transactions on one invitation.
type InvitationStore struct {
	mu          sync.RWMutex
	invitations map[string]models.Invitation

	// locks only holds ids with a holder or waiter.
	locksMu sync.Mutex
	locks   map[string]*invitationLock
}

type invitationLock struct {
	mu   sync.Mutex
	refs int
}

func NewInvitationStore() *InvitationStore {
	return &InvitationStore{
		invitations: make(map[string]models.Invitation),
		locks:       make(map[string]*invitationLock),
	}
}

// Put inserts or replaces an invitation.
func (s *InvitationStore) Put(inv models.Invitation) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.invitations[inv.ID] = inv
}

// Get returns a copy of the invitation.
func (s *InvitationStore) Get(id string) (models.Invitation, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	inv, ok := s.invitations[id]
	return inv, ok
}

// Update applies fn to the stored invitation and saves the result. It
// returns false when the invitation is gone.
func (s *InvitationStore) Update(id string, fn func(*models.Invitation)) (models.Invitation, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	inv, ok := s.invitations[id]
	if !ok {
		return models.Invitation{}, false
	}
	fn(&inv)
	s.invitations[id] = inv
	return inv, true
}

// Delete removes one invitation and reports whether it existed.
func (s *InvitationStore) Delete(id string) (models.Invitation, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	inv, ok := s.invitations[id]
	delete(s.invitations, id)
	return inv, ok
}

// DeleteByChannel removes every invitation bound to the channel and returns
// what was removed.
func (s *InvitationStore) DeleteByChannel(channelID snowflake.ID) []models.Invitation {
	if channelID == 0 {
		return nil
	}

	s.mu.Lock()
	var removed []models.Invitation
	for id, inv := range s.invitations {
		if inv.ChannelID == channelID {
			removed = append(removed, inv)
			delete(s.invitations, id)
		}
	}
	s.mu.Unlock()

	sortByCreation(removed)
	return removed
}

// TracksChannel reports whether any invitation owns the channel.
func (s *InvitationStore) TracksChannel(channelID snowflake.ID) bool {
	if channelID == 0 {
		return false
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, inv := range s.invitations {
		if inv.ChannelID == channelID {
			return true
		}
	}
	return false
}

// Snapshot returns copies of all invitations, oldest first.
func (s *InvitationStore) Snapshot() []models.Invitation {
	s.mu.RLock()
	out := make([]models.Invitation, 0, len(s.invitations))
	for _, inv := range s.invitations {
		out = append(out, inv)
	}
	s.mu.RUnlock()

	sortByCreation(out)
	return out
}

func (s *InvitationStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.invitations)
}

// Clear drops every invitation.
func (s *InvitationStore) Clear() int {
	s.mu.Lock()
	n := len(s.invitations)
	s.invitations = make(map[string]models.Invitation)
	s.mu.Unlock()
	return n
}

// Lock acquires the per-invitation transaction lock and returns its unlock
// function. The id does not have to be tracked; the lock entry is released
// with its last holder.
func (s *InvitationStore) Lock(id string) func() {
	s.locksMu.Lock()
	lock, ok := s.locks[id]
	if !ok {
		lock = &invitationLock{}
		s.locks[id] = lock
	}
	lock.refs++
	s.locksMu.Unlock()

	lock.mu.Lock()
	return func() {
		lock.mu.Unlock()

		s.locksMu.Lock()
		defer s.locksMu.Unlock()
		lock.refs--
		if lock.refs == 0 {
			delete(s.locks, id)
		}
	}
}

func (s *InvitationStore) lockEntries() int {
	s.locksMu.Lock()
	defer s.locksMu.Unlock()
	return len(s.locks)
}

func sortByCreation(invitations []models.Invitation) {
	sort.SliceStable(invitations, func(i, j int) bool {
		if invitations[i].CreatedAt.Equal(invitations[j].CreatedAt) {
			return invitations[i].ID < invitations[j].ID
		}
		return invitations[i].CreatedAt.Before(invitations[j].CreatedAt)
	})
}
