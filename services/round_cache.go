package services

import (
	"context"
	"sync"
	"time"

	"github.com/pkg/errors"
	"gorm.io/gorm"

	"nextcompete-api/models"
)

// RoundCache keeps each competition's ordered round sequence in memory for a short TTL.
// Writers that change rounds must call Invalidate.
type RoundCache struct {
	db  *gorm.DB
	ttl time.Duration

	mu      sync.RWMutex
	entries map[uint]*roundCacheEntry
}

type roundCacheEntry struct {
	rounds    []models.Round
	fetchedAt time.Time
}

func NewRoundCache(db *gorm.DB, ttl time.Duration) *RoundCache {
	if ttl <= 0 {
		ttl = time.Minute
	}
	return &RoundCache{db: db, ttl: ttl, entries: make(map[uint]*roundCacheEntry)}
}

func (c *RoundCache) load(ctx context.Context, competitionID uint, force bool) (*roundCacheEntry, error) {
	c.mu.RLock()
	cached := c.entries[competitionID]
	c.mu.RUnlock()

	if cached != nil && !force && time.Since(cached.fetchedAt) < c.ttl {
		return cached, nil
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if cached = c.entries[competitionID]; cached != nil && !force && time.Since(cached.fetchedAt) < c.ttl {
		return cached, nil
	}

	var rows []models.Round
	if err := c.db.WithContext(ctx).
		Where("competition_id = ?", competitionID).
		Order("position ASC").
		Find(&rows).Error; err != nil {
		return nil, errors.Wrapf(err, "load rounds of competition %d", competitionID)
	}

	entry := &roundCacheEntry{rounds: rows, fetchedAt: time.Now()}
	c.entries[competitionID] = entry
	return entry, nil
}

// Rounds returns the competition's rounds ordered by position. The slice is a copy.
func (c *RoundCache) Rounds(ctx context.Context, competitionID uint) ([]models.Round, error) {
	entry, err := c.load(ctx, competitionID, false)
	if err != nil {
		return nil, err
	}
	out := make([]models.Round, len(entry.rounds))
	copy(out, entry.rounds)
	return out, nil
}

// Round returns one round of the competition, refreshing once before giving up.
func (c *RoundCache) Round(ctx context.Context, competitionID, roundID uint) (*models.Round, error) {
	for _, force := range []bool{false, true} {
		entry, err := c.load(ctx, competitionID, force)
		if err != nil {
			return nil, err
		}
		for i := range entry.rounds {
			if entry.rounds[i].RoundID == roundID {
				r := entry.rounds[i]
				return &r, nil
			}
		}
	}
	return nil, ErrRoundNotFound
}

// Next returns the round that follows r, or nil when r is the final round.
func (c *RoundCache) Next(ctx context.Context, r models.Round) (*models.Round, error) {
	rounds, err := c.Rounds(ctx, r.CompetitionID)
	if err != nil {
		return nil, err
	}
	return nextRound(rounds, r), nil
}

// Invalidate drops the cached rounds of one competition.
func (c *RoundCache) Invalidate(competitionID uint) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.entries, competitionID)
}

func nextRound(ordered []models.Round, r models.Round) *models.Round {
	for i := range ordered {
		if ordered[i].Position > r.Position {
			next := ordered[i]
			return &next
		}
	}
	return nil
}
