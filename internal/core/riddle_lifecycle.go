package core

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"golang.org/x/sync/semaphore"
)

type State int

const (
	UNDEFINED State = iota
	IDLE
	GENERATING
	ACTIVE
)

func (s State) String() string {
	switch s {
	case IDLE:
		return "IDLE"
	case GENERATING:
		return "GENERATING"
	case ACTIVE:
		return "ACTIVE"
	default:
		return "UNDEFINED"
	}
}

var (
	ErrGenerationInFlight = errors.New("generation already in flight")
	ErrNotIdle            = errors.New("game is not idle")
)

type Snapshot struct {
	State      State
	Published  int
	Winners    int
	LastWinner string
	UpdatedAt  time.Time
}

// RiddleLifecycle tracks IDLE -> GENERATING -> ACTIVE for the single game
// this process runs and owns the one in-flight generation slot.
type RiddleLifecycle struct {
	state      State
	published  int
	winners    int
	lastWinner string
	updatedAt  time.Time
	generating *semaphore.Weighted
	clk        clock.Clock
	mu         sync.RWMutex
}

// BeginGeneration takes the generation slot without blocking. Only an IDLE
// game may start generating: it fails with ErrGenerationInFlight while another
// generation holds the slot and with ErrNotIdle while a riddle is ACTIVE. A
// caller that finds no active riddle on chain calls MarkIdle first.
func (rl *RiddleLifecycle) BeginGeneration() error {
	if !rl.generating.TryAcquire(1) {
		return ErrGenerationInFlight
	}
	rl.mu.Lock()
	defer rl.mu.Unlock()
	if rl.state != IDLE {
		rl.generating.Release(1)
		return ErrNotIdle
	}
	rl.state = GENERATING
	rl.updatedAt = rl.clk.Now()
	return nil
}

// WaitGeneration blocks until no generation is in flight.
func (rl *RiddleLifecycle) WaitGeneration(ctx context.Context) error {
	if err := rl.generating.Acquire(ctx, 1); err != nil {
		return err
	}
	rl.generating.Release(1)
	return nil
}

// EndGeneration releases the slot without publishing. next must be IDLE or
// ACTIVE (a riddle turned out to be active already).
func (rl *RiddleLifecycle) EndGeneration(next State) error {
	if next != IDLE && next != ACTIVE {
		return errors.New("Generation can only end in IDLE or ACTIVE")
	}
	return rl.endGeneration(next, false)
}

// CompleteGeneration releases the slot after a riddle was published.
func (rl *RiddleLifecycle) CompleteGeneration() error {
	return rl.endGeneration(ACTIVE, true)
}

func (rl *RiddleLifecycle) endGeneration(next State, published bool) error {
	rl.mu.Lock()
	if rl.state != GENERATING {
		rl.mu.Unlock()
		return errors.New("No generation is in flight")
	}
	rl.state = next
	if published {
		rl.published++
	}
	rl.updatedAt = rl.clk.Now()
	rl.mu.Unlock()
	rl.generating.Release(1)
	return nil
}

// MarkActive records a riddle observed on chain (startup check, RiddleSet event).
// 生成中ならEndGenerationに任せる
func (rl *RiddleLifecycle) MarkActive() {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	if rl.state == GENERATING || rl.state == ACTIVE {
		return
	}
	rl.state = ACTIVE
	rl.updatedAt = rl.clk.Now()
}

func (rl *RiddleLifecycle) MarkIdle() {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	if rl.state == GENERATING || rl.state == IDLE {
		return
	}
	rl.state = IDLE
	rl.updatedAt = rl.clk.Now()
}

// RecordWinner counts the winner and moves an ACTIVE game back to IDLE.
func (rl *RiddleLifecycle) RecordWinner(address string) {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	rl.winners++
	rl.lastWinner = address
	if rl.state == ACTIVE {
		rl.state = IDLE
	}
	rl.updatedAt = rl.clk.Now()
}

func (rl *RiddleLifecycle) GetState() State {
	rl.mu.RLock()
	defer rl.mu.RUnlock()
	return rl.state
}

func (rl *RiddleLifecycle) Snapshot() Snapshot {
	rl.mu.RLock()
	defer rl.mu.RUnlock()
	return Snapshot{
		State:      rl.state,
		Published:  rl.published,
		Winners:    rl.winners,
		LastWinner: rl.lastWinner,
		UpdatedAt:  rl.updatedAt,
	}
}

func NewRiddleLifecycle(clk clock.Clock) *RiddleLifecycle {
	return &RiddleLifecycle{
		state:      IDLE,
		generating: semaphore.NewWeighted(1),
		clk:        clk,
		updatedAt:  clk.Now(),
		mu:         sync.RWMutex{},
	}
}
