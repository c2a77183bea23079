package engine

import (
	"context"
	"slices"
	"sync"
	"time"

	"go.uber.org/zap"
)

const (
	// maxHistory bounds the in-memory level history.
	maxHistory = 100

	// DefaultJournalTimeout bounds a single journal write.
	DefaultJournalTimeout = 5 * time.Second
)

// Round is the result of one start_level request.
type Round struct {
	Level       int
	PlayerCount int
	Mobs        []Mob
	StartedAt   time.Time
}

// Record is the summary of a Round kept in history and handed to the journal.
type Record struct {
	Level       int       `json:"level"`
	PlayerCount int       `json:"player_count"`
	MobCount    int       `json:"mob_count"`
	StartedAt   time.Time `json:"started_at"`
}

// Journal persists started rounds. Implementations must be safe for
// concurrent use.
type Journal interface {
	Record(ctx context.Context, rec Record) error
}

// Coordinator owns the lobby-wide session: the current level and the
// history of started rounds. Rosters themselves come from Roster and depend
// only on the request.
type Coordinator struct {
	mu      sync.Mutex
	level   int
	history []Record

	journal        Journal
	journalTimeout time.Duration
	pending        sync.WaitGroup

	logger *zap.Logger
	now    func() time.Time
}

// NewCoordinator builds a coordinator at level 1. journal may be nil.
func NewCoordinator(logger *zap.Logger, journal Journal) *Coordinator {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Coordinator{
		level:          1,
		journal:        journal,
		journalTimeout: DefaultJournalTimeout,
		logger:         logger,
		now:            time.Now,
	}
}

// StartLevel spawns the roster for level and players and advances the
// shared level. Concurrent calls are independent; the shared level keeps the
// highest value seen. The journal write happens in the background and never
// delays the returned round.
func (c *Coordinator) StartLevel(ctx context.Context, level, players int) Round {
	level = normalizeLevel(level)
	round := Round{
		Level:       level,
		PlayerCount: players,
		Mobs:        Roster(level, players),
		StartedAt:   c.now(),
	}
	rec := Record{
		Level:       round.Level,
		PlayerCount: round.PlayerCount,
		MobCount:    len(round.Mobs),
		StartedAt:   round.StartedAt,
	}

	c.mu.Lock()
	c.level = max(c.level, level)
	c.history = append(c.history, rec)
	if len(c.history) > maxHistory {
		c.history = slices.Clone(c.history[len(c.history)-maxHistory:])
	}
	c.mu.Unlock()

	if c.journal != nil {
		c.pending.Add(1)
		go c.record(context.WithoutCancel(ctx), rec)
	}

	c.logger.Info("level started",
		zap.Int("level", level),
		zap.Int("player_count", players),
		zap.Int("mobs", len(round.Mobs)))
	return round
}

func (c *Coordinator) record(ctx context.Context, rec Record) {
	defer c.pending.Done()

	ctx, cancel := context.WithTimeout(ctx, c.journalTimeout)
	defer cancel()
	if err := c.journal.Record(ctx, rec); err != nil {
		c.logger.Warn("journal record failed", zap.Int("level", rec.Level), zap.Error(err))
	}
}

// Wait blocks until background journal writes have finished. Call it after
// the last StartLevel, before closing the journal.
func (c *Coordinator) Wait() { c.pending.Wait() }

// Level returns the highest level started so far (1 before any start).
func (c *Coordinator) Level() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.level
}

// History returns the most recent rounds, oldest first.
func (c *Coordinator) History() []Record {
	c.mu.Lock()
	defer c.mu.Unlock()
	return slices.Clone(c.history)
}
