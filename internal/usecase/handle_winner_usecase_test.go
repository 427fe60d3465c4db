package usecase

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Max423423/OnChainRiddle/internal/core"
	"github.com/Max423423/OnChainRiddle/internal/model"
)

const alice = "0x00000000000000000000000000000000000A11CE"

func publish(t *testing.T, f *fixture) model.RiddleView {
	t.Helper()
	res := f.gen.Execute(context.Background())
	require.True(t, res.Success, res.Message)
	return res.Data
}

func TestHandleWinnerWithActiveRiddle(t *testing.T) {
	f := newFixture(t)
	published := publish(t, f)

	res := f.winner.Execute(context.Background(), alice)
	require.True(t, res.Success, res.Message)
	assert.Equal(t, "Winner handled successfully", res.Message)
	require.NotNil(t, res.Data.Riddle)
	assert.True(t, res.Data.Updated)
	assert.Equal(t, published.ID, res.Data.Riddle.ID)
	assert.False(t, res.Data.Riddle.IsActive)
	require.NotNil(t, res.Data.Riddle.Winner)
	assert.Equal(t, alice, *res.Data.Riddle.Winner)

	snap := f.lifecycle.Snapshot()
	assert.Equal(t, core.IDLE, snap.State)
	assert.Equal(t, 1, snap.Winners)
	assert.Equal(t, alice, snap.LastWinner)
	assert.Equal(t, 1, f.scheduler.Pending())
}

func TestHandleWinnerSchedulesOnce(t *testing.T) {
	f := newFixture(t)
	publish(t, f)

	res := f.winner.Execute(context.Background(), alice)
	require.True(t, res.Success)
	// 呼び出しは生成を待たずに返る
	assert.Equal(t, 1, f.repo.saveCount())

	f.clk.Add(DefaultWinnerCooldown - time.Millisecond)
	assert.Never(t, func() bool { return f.repo.saveCount() > 1 }, 20*time.Millisecond, time.Millisecond)

	f.clk.Add(time.Millisecond)
	assert.Eventually(t, func() bool { return f.repo.saveCount() == 2 }, time.Second, time.Millisecond)

	f.clk.Add(time.Minute)
	assert.Never(t, func() bool { return f.repo.saveCount() > 2 }, 20*time.Millisecond, time.Millisecond)
	assert.Equal(t, 2, f.source.callCount())
}

func TestHandleWinnerWithoutActiveRiddle(t *testing.T) {
	t.Run("chain already closed by the winning answer", func(t *testing.T) {
		f := newFixture(t)
		publish(t, f)
		f.repo.solve(alice)

		res := f.winner.Execute(context.Background(), alice)
		require.True(t, res.Success, res.Message)
		assert.Equal(t, "No active riddle to update", res.Message)
		assert.False(t, res.Data.Updated)
		require.NotNil(t, res.Data.Riddle)
		assert.True(t, res.Data.Riddle.IsSolved)

		snap := f.lifecycle.Snapshot()
		assert.Equal(t, 1, snap.Winners)
		assert.Equal(t, core.IDLE, snap.State)
		assert.Equal(t, 1, f.scheduler.Pending())
	})

	t.Run("nothing published yet", func(t *testing.T) {
		f := newFixture(t)

		res := f.winner.Execute(context.Background(), alice)
		require.True(t, res.Success, res.Message)
		assert.Equal(t, "No active riddle to update", res.Message)
		assert.Nil(t, res.Data.Riddle)
		assert.Equal(t, 0, f.lifecycle.Snapshot().Winners)
		assert.Equal(t, 1, f.scheduler.Pending())

		f.clk.Add(DefaultWinnerCooldown)
		assert.Eventually(t, func() bool { return f.repo.saveCount() == 1 }, time.Second, time.Millisecond)
	})
}

func TestHandleWinnerDuplicateEvent(t *testing.T) {
	f := newFixture(t)
	publish(t, f)
	f.repo.solve(alice)

	for range 3 {
		res := f.winner.Execute(context.Background(), alice)
		require.True(t, res.Success)
	}
	assert.Equal(t, 1, f.lifecycle.Snapshot().Winners)
	assert.Equal(t, 1, f.metrics.winners)

	// 予約は都度入るが、生成は1つしか通らない
	f.clk.Add(DefaultWinnerCooldown)
	assert.Eventually(t, func() bool { return f.repo.saveCount() == 2 }, time.Second, time.Millisecond)
	assert.Never(t, func() bool { return f.repo.saveCount() > 2 }, 50*time.Millisecond, time.Millisecond)
}

func TestHandleWinnerRejects(t *testing.T) {
	t.Run("missing address", func(t *testing.T) {
		f := newFixture(t)
		res := f.winner.Execute(context.Background(), "  ")
		require.False(t, res.Success)
		assert.ErrorIs(t, res.Err, model.ErrValidation)
		assert.Equal(t, "Winner address is required", res.Message)
		assert.Equal(t, 0, f.scheduler.Pending())
	})

	t.Run("chain read fails", func(t *testing.T) {
		f := newFixture(t)
		f.repo.findErr = model.NewBlockchainError("Failed to read riddle state", errNodeDown)
		res := f.winner.Execute(context.Background(), alice)
		require.False(t, res.Success)
		assert.ErrorIs(t, res.Err, model.ErrBlockchain)
		assert.Equal(t, 0, f.scheduler.Pending())
	})

	t.Run("update fails", func(t *testing.T) {
		f := newFixture(t)
		publish(t, f)
		f.repo.updateErr = model.NewValidationError("Riddle cannot be nil")
		res := f.winner.Execute(context.Background(), alice)
		require.False(t, res.Success)
		assert.Equal(t, 0, f.lifecycle.Snapshot().Winners)
		assert.Equal(t, 0, f.scheduler.Pending())
	})
}

func TestHandleWinnerAfterSchedulerStop(t *testing.T) {
	f := newFixture(t)
	publish(t, f)
	f.scheduler.Stop()

	res := f.winner.Execute(context.Background(), alice)
	require.True(t, res.Success)
	f.clk.Add(time.Minute)
	assert.Never(t, func() bool { return f.repo.saveCount() > 1 }, 20*time.Millisecond, time.Millisecond)
}

func TestRiddleCycle(t *testing.T) {
	f := newFixture(t)
	startup := NewStartupCheckUsecase(f.repo, f.gen, f.lifecycle, "", f.gen.logger)

	res := startup.Execute(context.Background())
	require.True(t, res.Success, res.Message)
	assert.True(t, res.Data.Generated)

	for round := 1; round <= 3; round++ {
		require.Equal(t, core.ACTIVE, f.lifecycle.GetState())
		f.repo.solve(alice)

		won := f.winner.Execute(context.Background(), alice)
		require.True(t, won.Success, won.Message)
		assert.Equal(t, core.IDLE, f.lifecycle.GetState())

		f.clk.Add(DefaultWinnerCooldown)
		assert.Eventually(t, func() bool { return f.repo.saveCount() == round+1 }, time.Second, time.Millisecond)
		assert.Eventually(t, func() bool { return f.lifecycle.GetState() == core.ACTIVE }, time.Second, time.Millisecond)
	}

	snap := f.lifecycle.Snapshot()
	assert.Equal(t, 4, snap.Published)
	assert.Equal(t, 3, snap.Winners)
	assert.Equal(t, 4, f.source.callCount())
}
