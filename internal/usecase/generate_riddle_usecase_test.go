package usecase

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Max423423/OnChainRiddle/internal/core"
	"github.com/Max423423/OnChainRiddle/internal/model"
)

func TestGenerateRiddlePublishes(t *testing.T) {
	f := newFixture(t)
	f.source.drafts = []model.RiddleDraft{{Question: "  What has keys but no locks?  ", Answer: "Piano"}}

	res := f.gen.Execute(context.Background())
	require.True(t, res.Success, res.Message)
	assert.Equal(t, "Riddle generated successfully", res.Message)
	assert.Equal(t, "What has keys but no locks?", res.Data.Question)
	assert.True(t, res.Data.IsActive)
	assert.False(t, res.Data.IsSolved)
	assert.Nil(t, res.Data.Winner)

	saved, err := f.repo.FindActive(context.Background())
	require.NoError(t, err)
	require.NotNil(t, saved)
	assert.Equal(t, "piano", saved.GetAnswer())

	snap := f.lifecycle.Snapshot()
	assert.Equal(t, core.ACTIVE, snap.State)
	assert.Equal(t, 1, snap.Published)
	assert.Equal(t, 1, f.metrics.published)
}

func TestGenerateRiddleFailures(t *testing.T) {
	tests := []struct {
		name      string
		setup     func(f *fixture)
		kind      error
		message   string
		state     core.State
		reason    string
		sourceHit bool
	}{
		{
			name: "riddle already active",
			setup: func(f *fixture) {
				r, _ := model.NewRiddle("Existing?", "yes")
				r.Activate()
				f.repo.active = r
			},
			kind:    model.ErrConflict,
			message: MsgRiddleActive,
			state:   core.ACTIVE,
			reason:  "active",
		},
		{
			name: "chain unreachable",
			setup: func(f *fixture) {
				f.repo.findErr = model.NewBlockchainError("Failed to read riddle state", errNodeDown)
			},
			kind:   model.ErrBlockchain,
			state:  core.IDLE,
			reason: "blockchain",
		},
		{
			name: "lifecycle active and chain agrees",
			setup: func(f *fixture) {
				r, _ := model.NewRiddle("Existing?", "yes")
				r.Activate()
				f.repo.active = r
				f.lifecycle.MarkActive()
			},
			kind:    model.ErrConflict,
			message: MsgRiddleActive,
			state:   core.ACTIVE,
			reason:  "active",
		},
		{
			name: "lifecycle active and chain unreachable",
			setup: func(f *fixture) {
				f.lifecycle.MarkActive()
				f.repo.findErr = model.NewBlockchainError("Failed to read riddle state", errNodeDown)
			},
			kind:   model.ErrBlockchain,
			state:  core.ACTIVE,
			reason: "blockchain",
		},
		{
			name: "ai and fallback failed",
			setup: func(f *fixture) {
				f.source.err = model.NewAIServiceError("Failed to generate riddle", errors.New("quota exceeded"))
			},
			kind:      model.ErrAIService,
			state:     core.IDLE,
			reason:    "ai",
			sourceHit: true,
		},
		{
			name: "empty answer",
			setup: func(f *fixture) {
				f.source.drafts = []model.RiddleDraft{{Question: "What?", Answer: "   "}}
			},
			kind:      model.ErrValidation,
			state:     core.IDLE,
			reason:    "validation",
			sourceHit: true,
		},
		{
			name: "published concurrently",
			setup: func(f *fixture) {
				f.repo.saveErr = model.NewBlockchainError("Failed to publish riddle", model.ErrRiddleAlreadyActive)
			},
			kind:      model.ErrConflict,
			message:   MsgRiddleActive,
			state:     core.ACTIVE,
			reason:    "active",
			sourceHit: true,
		},
		{
			name: "transaction failed",
			setup: func(f *fixture) {
				f.repo.saveErr = model.NewBlockchainError("Failed to publish riddle", errNodeDown)
			},
			kind:      model.ErrBlockchain,
			state:     core.IDLE,
			reason:    "blockchain",
			sourceHit: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			tt.setup(f)

			res := f.gen.Execute(context.Background())
			require.False(t, res.Success)
			assert.ErrorIs(t, res.Err, tt.kind)
			if tt.message != "" {
				assert.Equal(t, tt.message, res.Message)
			}
			assert.Equal(t, tt.sourceHit, f.source.callCount() > 0)
			assert.Equal(t, tt.state, f.lifecycle.GetState())
			assert.Equal(t, 0, f.lifecycle.Snapshot().Published)
			assert.Equal(t, 1, f.metrics.failureCount(tt.reason))

			// 失敗後もスロットは解放されている
			ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
			defer cancel()
			assert.NoError(t, f.lifecycle.WaitGeneration(ctx))
		})
	}
}

func TestGenerateRiddleResetsStaleActiveLifecycle(t *testing.T) {
	f := newFixture(t)
	// 起動時チェックでACTIVEにした後、Winnerイベントを取りこぼした状態
	f.lifecycle.MarkActive()

	res := f.gen.Execute(context.Background())
	require.True(t, res.Success, res.Message)
	assert.Equal(t, 1, f.repo.saveCount())
	assert.Equal(t, 1, f.source.callCount())

	snap := f.lifecycle.Snapshot()
	assert.Equal(t, core.ACTIVE, snap.State)
	assert.Equal(t, 1, snap.Published)
	assert.Zero(t, f.metrics.failureCount("active"))
}

func TestGenerateRiddleSingleInFlight(t *testing.T) {
	f := newFixture(t)
	f.source.started = make(chan struct{}, 1)
	f.source.release = make(chan struct{})

	first := make(chan Result[model.RiddleView], 1)
	go func() {
		first <- f.gen.Execute(context.Background())
	}()
	<-f.source.started

	for range 5 {
		res := f.gen.Execute(context.Background())
		require.False(t, res.Success)
		assert.ErrorIs(t, res.Err, model.ErrConflict)
		assert.Equal(t, MsgGenerationInFlight, res.Message)
	}
	assert.Equal(t, core.GENERATING, f.lifecycle.GetState())

	close(f.source.release)
	res := <-first
	require.True(t, res.Success, res.Message)
	assert.Equal(t, 1, f.source.callCount())
	assert.Equal(t, 5, f.metrics.failureCount("in_flight"))
}

func TestGenerateRiddleConcurrentTriggers(t *testing.T) {
	f := newFixture(t)

	var wg sync.WaitGroup
	var successes atomic.Int32
	for range 20 {
		wg.Go(func() {
			res := f.gen.Execute(context.Background())
			if res.Success {
				successes.Add(1)
				return
			}
			assert.ErrorIs(t, res.Err, model.ErrConflict)
		})
	}
	wg.Wait()

	assert.Equal(t, int32(1), successes.Load())
	assert.Equal(t, 1, f.repo.saveCount())
	assert.Equal(t, core.ACTIVE, f.lifecycle.GetState())
	assert.Equal(t, 1, f.lifecycle.Snapshot().Published)
}

func TestGenerateRiddleRecoversPanic(t *testing.T) {
	f := newFixture(t)
	f.gen.source = panicSource{}

	res := f.gen.Execute(context.Background())
	require.False(t, res.Success)
	assert.Contains(t, res.Message, "internal error")
	assert.Equal(t, core.IDLE, f.lifecycle.GetState())
}

type panicSource struct{}

func (panicSource) GenerateRiddleWithAnswer(ctx context.Context) (model.RiddleDraft, error) {
	panic("boom")
}
