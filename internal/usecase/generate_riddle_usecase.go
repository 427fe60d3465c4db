package usecase

import (
	"context"
	"errors"

	"github.com/sirupsen/logrus"

	"github.com/Max423423/OnChainRiddle/internal/core"
	"github.com/Max423423/OnChainRiddle/internal/model"
)

const (
	MsgRiddleActive       string = "Cannot generate new riddle while one is active"
	MsgGenerationInFlight string = "Riddle generation already in progress"
)

type GenerateRiddleUsecase struct {
	rr        IRiddleRepository
	source    IRiddleSource
	lifecycle *core.RiddleLifecycle
	metrics   IRiddleMetrics
	logger    logrus.FieldLogger
}

func (gu *GenerateRiddleUsecase) Execute(ctx context.Context) (res Result[model.RiddleView]) {
	defer recoverResult(&res, gu.logger)

	// ACTIVEのままでもチェーン上は既に解かれていることがある。確認できたらIDLEに戻す
	if gu.lifecycle.GetState() == core.ACTIVE {
		active, err := gu.rr.FindActive(ctx)
		if err != nil {
			gu.metrics.GenerationFailed("blockchain")
			return Fail[model.RiddleView](err)
		}
		if active != nil {
			gu.metrics.GenerationFailed("active")
			return Fail[model.RiddleView](model.NewConflictError(MsgRiddleActive))
		}
		gu.logger.Info("no active riddle on chain, resetting lifecycle to IDLE")
		gu.lifecycle.MarkIdle()
	}

	// 同時に走る生成は1つだけ。負けた方はAIを呼ぶ前に諦める
	if err := gu.lifecycle.BeginGeneration(); err != nil {
		if errors.Is(err, core.ErrNotIdle) {
			gu.metrics.GenerationFailed("active")
			return Fail[model.RiddleView](model.NewConflictError(MsgRiddleActive))
		}
		gu.metrics.GenerationFailed("in_flight")
		return Fail[model.RiddleView](model.NewConflictError(MsgGenerationInFlight))
	}
	next := core.IDLE
	published := false
	defer func() {
		var err error
		if published {
			err = gu.lifecycle.CompleteGeneration()
		} else {
			err = gu.lifecycle.EndGeneration(next)
		}
		if err != nil {
			gu.logger.WithError(err).Error("failed to end generation")
		}
	}()

	active, err := gu.rr.FindActive(ctx)
	if err != nil {
		gu.metrics.GenerationFailed("blockchain")
		return Fail[model.RiddleView](err)
	}
	if active != nil {
		next = core.ACTIVE
		gu.metrics.GenerationFailed("active")
		return Fail[model.RiddleView](model.NewConflictError(MsgRiddleActive))
	}

	draft, err := gu.source.GenerateRiddleWithAnswer(ctx)
	if err != nil {
		gu.metrics.GenerationFailed("ai")
		return Fail[model.RiddleView](err)
	}

	riddle, err := model.NewRiddle(draft.Question, draft.Answer)
	if err != nil {
		gu.metrics.GenerationFailed("validation")
		return Fail[model.RiddleView](err)
	}
	riddle.Activate()

	if err := gu.rr.Save(ctx, riddle); err != nil {
		// チェーン側で既に出題済み。別経路の生成に負けただけなので想定内
		if errors.Is(err, model.ErrRiddleAlreadyActive) {
			next = core.ACTIVE
			gu.metrics.GenerationFailed("active")
			gu.logger.WithError(err).Info("riddle was published concurrently")
			return Fail[model.RiddleView](model.NewConflictError(MsgRiddleActive))
		}
		gu.metrics.GenerationFailed("blockchain")
		return Fail[model.RiddleView](err)
	}

	published = true
	gu.metrics.RiddlePublished()
	gu.logger.WithField("riddle_id", riddle.GetRiddleID().String()).Info("new riddle generated")
	return Succeed(riddle.ToPublicView(), "Riddle generated successfully")
}

func NewGenerateRiddleUsecase(
	rr IRiddleRepository,
	source IRiddleSource,
	lifecycle *core.RiddleLifecycle,
	metrics IRiddleMetrics,
	logger logrus.FieldLogger,
) *GenerateRiddleUsecase {
	return &GenerateRiddleUsecase{
		rr:        rr,
		source:    source,
		lifecycle: lifecycle,
		metrics:   metrics,
		logger:    logger.WithField("component", "generate_riddle"),
	}
}
