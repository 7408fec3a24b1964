package memory

import (
	"context"
	"sync"

	"github.com/artpar/speechquota/domain/billing"
	"github.com/artpar/speechquota/ports"
)

// SubscriptionStore is an in-memory implementation of ports.SubscriptionStore.
type SubscriptionStore struct {
	mu   sync.RWMutex
	subs map[string]billing.Subscription // keyed by account ID
}

// NewSubscriptionStore creates a new in-memory subscription store.
func NewSubscriptionStore() *SubscriptionStore {
	return &SubscriptionStore{
		subs: make(map[string]billing.Subscription),
	}
}

// GetByAccount returns the subscription for an account.
func (s *SubscriptionStore) GetByAccount(ctx context.Context, accountID string) (billing.Subscription, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	sub, ok := s.subs[accountID]
	if !ok {
		return billing.Subscription{}, ports.ErrNotFound
	}
	return sub, nil
}

// Put stores or replaces the subscription for sub.AccountID.
func (s *SubscriptionStore) Put(sub billing.Subscription) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.subs[sub.AccountID] = sub
}

// Delete removes an account's subscription.
func (s *SubscriptionStore) Delete(accountID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.subs, accountID)
}

// Ensure interface compliance.
var _ ports.SubscriptionStore = (*SubscriptionStore)(nil)
