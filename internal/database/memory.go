package database

import (
	"context"
	"sync"
	"time"

	"totpgate/internal/models"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

// MemoryAccounts is an in-memory account store for development and tests.
type MemoryAccounts struct {
	mu      sync.RWMutex
	byEmail map[string]models.Account
}

// NewMemoryAccounts returns an empty in-memory account store.
func NewMemoryAccounts() *MemoryAccounts {
	return &MemoryAccounts{byEmail: make(map[string]models.Account)}
}

func (s *MemoryAccounts) FindByIdentifier(ctx context.Context, identifier string) (*models.Account, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	a, ok := s.byEmail[identifier]
	if !ok {
		return nil, ErrNotFound
	}
	return &a, nil
}

func (s *MemoryAccounts) Create(ctx context.Context, account *models.Account) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.byEmail[account.Email]; ok {
		return ErrConflict
	}
	if account.ID.IsZero() {
		account.ID = primitive.NewObjectID()
	}
	s.byEmail[account.Email] = *account
	return nil
}

// MemoryChallenges is an in-memory challenge store. A single mutex serializes
// every state transition, so consumption is at-most-once.
type MemoryChallenges struct {
	mu         sync.Mutex
	challenges map[string]models.Challenge
	used       map[string]time.Time
	nowF       func() time.Time
}

// NewMemoryChallenges returns an empty in-memory challenge store that expires
// entries against now. A nil now means time.Now.
func NewMemoryChallenges(now func() time.Time) *MemoryChallenges {
	if now == nil {
		now = time.Now
	}
	return &MemoryChallenges{
		challenges: make(map[string]models.Challenge),
		used:       make(map[string]time.Time),
		nowF:       now,
	}
}

func (s *MemoryChallenges) CreateChallenge(ctx context.Context, c *models.Challenge) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sweepLocked(s.nowF())
	if _, ok := s.challenges[c.ID]; ok {
		return ErrConflict
	}
	s.challenges[c.ID] = *c
	return nil
}

func (s *MemoryChallenges) FindChallenge(ctx context.Context, id string) (*models.Challenge, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.challenges[id]
	if !ok {
		return nil, ErrNotFound
	}
	return &c, nil
}

func (s *MemoryChallenges) RecordFailure(ctx context.Context, id string, maxAttempts int, now time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.challenges[id]
	if !ok || c.Consumed {
		return true, nil
	}
	c.Attempts++
	if c.Attempts >= maxAttempts {
		c.Consumed = true
		c.ConsumedAt = now
	}
	s.challenges[id] = c
	return c.Consumed, nil
}

func (s *MemoryChallenges) ConsumeChallenge(ctx context.Context, id string, now time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.challenges[id]
	if !ok || c.Consumed || c.Expired(now) {
		return ErrConflict
	}
	c.Consumed = true
	c.ConsumedAt = now
	s.challenges[id] = c
	return nil
}

func (s *MemoryChallenges) ClaimCode(ctx context.Context, accountID primitive.ObjectID, step int64, expiresAt time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := models.UsedCodeID(accountID, step)
	if until, ok := s.used[key]; ok && s.nowF().Before(until) {
		return ErrConflict
	}
	s.used[key] = expiresAt
	return nil
}

// sweepLocked drops expired challenges and replay records, like the TTL indexes do in MongoDB.
func (s *MemoryChallenges) sweepLocked(now time.Time) {
	for id, c := range s.challenges {
		if c.Expired(now) {
			delete(s.challenges, id)
		}
	}
	for key, until := range s.used {
		if !now.Before(until) {
			delete(s.used, key)
		}
	}
}
