package usecase

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/benbjohnson/clock"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus/hooks/test"

	"github.com/Max423423/OnChainRiddle/internal/core"
	"github.com/Max423423/OnChainRiddle/internal/model"
)

// fakeRepository mirrors the chain with a single active slot.
type fakeRepository struct {
	mu        sync.Mutex
	active    *model.Riddle
	latest    *model.Riddle
	findErr   error
	saveErr   error
	updateErr error
	fetchErr  error
	fetchHook func(ctx context.Context) error
	bot       string
	saves     int
	updates   int
}

func (fr *fakeRepository) FindActive(ctx context.Context) (*model.Riddle, error) {
	fr.mu.Lock()
	defer fr.mu.Unlock()
	if fr.findErr != nil {
		return nil, fr.findErr
	}
	if fr.active == nil {
		return nil, nil
	}
	r := *fr.active
	return &r, nil
}

func (fr *fakeRepository) FindLatest(ctx context.Context) (*model.Riddle, error) {
	fr.mu.Lock()
	defer fr.mu.Unlock()
	if fr.latest == nil {
		return nil, nil
	}
	r := *fr.latest
	return &r, nil
}

func (fr *fakeRepository) FindHistory(ctx context.Context) ([]model.Riddle, error) {
	fr.mu.Lock()
	defer fr.mu.Unlock()
	if fr.findErr != nil {
		return nil, fr.findErr
	}
	var riddles []model.Riddle
	if fr.latest != nil {
		riddles = append(riddles, *fr.latest)
	}
	return riddles, nil
}

func (fr *fakeRepository) Save(ctx context.Context, riddle *model.Riddle) error {
	fr.mu.Lock()
	defer fr.mu.Unlock()
	if fr.saveErr != nil {
		return fr.saveErr
	}
	if fr.active != nil {
		return model.NewBlockchainError("Failed to publish riddle", fmt.Errorf("execution reverted: %w", model.ErrRiddleAlreadyActive))
	}
	r := *riddle
	fr.active = &r
	fr.latest = &r
	fr.saves++
	return nil
}

func (fr *fakeRepository) Update(ctx context.Context, riddle *model.Riddle) error {
	fr.mu.Lock()
	defer fr.mu.Unlock()
	if fr.updateErr != nil {
		return fr.updateErr
	}
	r := *riddle
	fr.latest = &r
	if !r.GetIsActive() {
		fr.active = nil
	}
	fr.updates++
	return nil
}

func (fr *fakeRepository) Delete(ctx context.Context, riddleID uuid.UUID) error {
	return model.NewUnsupportedOperationError("Delete operation not supported for blockchain repository")
}

func (fr *fakeRepository) FetchOnChain(ctx context.Context) (model.ChainRiddle, error) {
	if fr.fetchHook != nil {
		if err := fr.fetchHook(ctx); err != nil {
			return model.ChainRiddle{}, err
		}
	}
	fr.mu.Lock()
	defer fr.mu.Unlock()
	if fr.fetchErr != nil {
		return model.ChainRiddle{}, fr.fetchErr
	}
	if fr.active == nil {
		return model.ChainRiddle{}, nil
	}
	return model.ChainRiddle{Question: fr.active.GetQuestion(), IsActive: true}, nil
}

func (fr *fakeRepository) BotAddress(ctx context.Context) (string, error) {
	return fr.bot, nil
}

// solve plays a correct submitAnswer: the chain closes the riddle before the
// Winner event is delivered.
func (fr *fakeRepository) solve(address string) {
	fr.mu.Lock()
	defer fr.mu.Unlock()
	if fr.active == nil {
		return
	}
	_ = fr.active.SetWinner(address)
	r := *fr.active
	fr.latest = &r
	fr.active = nil
}

func (fr *fakeRepository) saveCount() int {
	fr.mu.Lock()
	defer fr.mu.Unlock()
	return fr.saves
}

type fakeSource struct {
	mu      sync.Mutex
	drafts  []model.RiddleDraft
	err     error
	calls   int
	started chan struct{}
	release chan struct{}
}

func (fs *fakeSource) GenerateRiddleWithAnswer(ctx context.Context) (model.RiddleDraft, error) {
	fs.mu.Lock()
	fs.calls++
	n := fs.calls
	fs.mu.Unlock()

	if fs.started != nil {
		fs.started <- struct{}{}
	}
	if fs.release != nil {
		<-fs.release
	}
	if fs.err != nil {
		return model.RiddleDraft{}, fs.err
	}
	if len(fs.drafts) == 0 {
		return model.RiddleDraft{Question: fmt.Sprintf("Riddle number %d?", n), Answer: "echo"}, nil
	}
	return fs.drafts[(n-1)%len(fs.drafts)], nil
}

func (fs *fakeSource) callCount() int {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	return fs.calls
}

type fakeMetrics struct {
	mu        sync.Mutex
	published int
	winners   int
	failures  map[string]int
}

func (fm *fakeMetrics) RiddlePublished() {
	fm.mu.Lock()
	defer fm.mu.Unlock()
	fm.published++
}

func (fm *fakeMetrics) GenerationFailed(reason string) {
	fm.mu.Lock()
	defer fm.mu.Unlock()
	if fm.failures == nil {
		fm.failures = map[string]int{}
	}
	fm.failures[reason]++
}

func (fm *fakeMetrics) WinnerHandled() {
	fm.mu.Lock()
	defer fm.mu.Unlock()
	fm.winners++
}

func (fm *fakeMetrics) failureCount(reason string) int {
	fm.mu.Lock()
	defer fm.mu.Unlock()
	return fm.failures[reason]
}

type fixture struct {
	repo      *fakeRepository
	source    *fakeSource
	metrics   *fakeMetrics
	clk       *clock.Mock
	lifecycle *core.RiddleLifecycle
	scheduler *core.Scheduler
	hook      *test.Hook
	gen       *GenerateRiddleUsecase
	winner    *HandleWinnerUsecase
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	logger, hook := test.NewNullLogger()
	clk := clock.NewMock()
	f := &fixture{
		repo:      &fakeRepository{},
		source:    &fakeSource{},
		metrics:   &fakeMetrics{},
		clk:       clk,
		lifecycle: core.NewRiddleLifecycle(clk),
		scheduler: core.NewScheduler(clk, logger),
		hook:      hook,
	}
	t.Cleanup(f.scheduler.Stop)
	f.gen = NewGenerateRiddleUsecase(f.repo, f.source, f.lifecycle, f.metrics, logger)
	f.winner = NewHandleWinnerUsecase(f.repo, f.gen, f.scheduler, f.lifecycle, f.metrics, DefaultWinnerCooldown, logger)
	return f
}

var errNodeDown = errors.New("dial tcp: connection refused")
