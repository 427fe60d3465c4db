package usecase

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/Max423423/OnChainRiddle/internal/core"
	"github.com/Max423423/OnChainRiddle/internal/model"
)

const DefaultWinnerCooldown time.Duration = time.Second

type WinnerOutcome struct {
	Riddle  *model.RiddleView
	Updated bool
}

type HandleWinnerUsecase struct {
	rr        IRiddleRepository
	gen       *GenerateRiddleUsecase
	scheduler IScheduler
	lifecycle *core.RiddleLifecycle
	metrics   IRiddleMetrics
	cooldown  time.Duration
	logger    logrus.FieldLogger

	// 同じ勝者通知が二重に来ても勝者数を数え直さないように
	mu                sync.Mutex
	lastCountedRiddle uuid.UUID
}

func (hu *HandleWinnerUsecase) countWinner(riddle *model.Riddle, address string) {
	hu.mu.Lock()
	defer hu.mu.Unlock()
	if riddle.GetRiddleID() == hu.lastCountedRiddle {
		return
	}
	hu.lastCountedRiddle = riddle.GetRiddleID()
	hu.lifecycle.RecordWinner(address)
	hu.metrics.WinnerHandled()
}

// Execute records the winner and schedules the next riddle after the
// cooldown. It returns without waiting for that generation.
func (hu *HandleWinnerUsecase) Execute(ctx context.Context, winnerAddress string) (res Result[WinnerOutcome]) {
	defer recoverResult(&res, hu.logger)

	winnerAddress = strings.TrimSpace(winnerAddress)
	if winnerAddress == "" {
		return Fail[WinnerOutcome](model.NewValidationError("Winner address is required"))
	}
	logger := hu.logger.WithField("winner", winnerAddress)

	active, err := hu.rr.FindActive(ctx)
	if err != nil {
		logger.WithError(err).Error("failed to read active riddle, not scheduling next riddle")
		return Fail[WinnerOutcome](err)
	}

	outcome := WinnerOutcome{}
	message := "Winner handled successfully"
	if active != nil {
		if err := active.SetWinner(winnerAddress); err != nil {
			return Fail[WinnerOutcome](err)
		}
		if err := hu.rr.Update(ctx, active); err != nil {
			logger.WithError(err).Error("failed to update riddle with winner")
			return Fail[WinnerOutcome](err)
		}
		view := active.ToPublicView()
		outcome.Riddle = &view
		outcome.Updated = true
		hu.countWinner(active, winnerAddress)
	} else {
		// 勝者イベント時点でチェーン上は既に非アクティブなので、通常はこちらに来る
		message = "No active riddle to update"
		if latest, err := hu.rr.FindLatest(ctx); err == nil && latest != nil && strings.EqualFold(latest.GetWinner(), winnerAddress) {
			view := latest.ToPublicView()
			outcome.Riddle = &view
			hu.countWinner(latest, winnerAddress)
		} else {
			hu.lifecycle.MarkIdle()
		}
		logger.Info("no active riddle to update")
	}

	hu.scheduler.Schedule("generate-riddle", hu.cooldown, func(ctx context.Context) {
		res := hu.gen.Execute(ctx)
		if !res.Success {
			logger.WithError(res.Err).Warn("scheduled riddle generation failed")
			return
		}
		logger.WithField("riddle_id", res.Data.ID).Info("scheduled riddle generation succeeded")
	})
	logger.WithField("cooldown", hu.cooldown.String()).Info("next riddle scheduled")

	return Succeed(outcome, message)
}

func NewHandleWinnerUsecase(
	rr IRiddleRepository,
	gen *GenerateRiddleUsecase,
	scheduler IScheduler,
	lifecycle *core.RiddleLifecycle,
	metrics IRiddleMetrics,
	cooldown time.Duration,
	logger logrus.FieldLogger,
) *HandleWinnerUsecase {
	if cooldown <= 0 {
		cooldown = DefaultWinnerCooldown
	}
	return &HandleWinnerUsecase{
		rr:        rr,
		gen:       gen,
		scheduler: scheduler,
		lifecycle: lifecycle,
		metrics:   metrics,
		cooldown:  cooldown,
		logger:    logger.WithField("component", "handle_winner"),
	}
}
