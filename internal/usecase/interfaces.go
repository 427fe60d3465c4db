package usecase

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/Max423423/OnChainRiddle/internal/model"
)

type IRiddleRepository interface {
	FindActive(ctx context.Context) (*model.Riddle, error)
	FindLatest(ctx context.Context) (*model.Riddle, error)
	FindHistory(ctx context.Context) ([]model.Riddle, error)
	Save(ctx context.Context, riddle *model.Riddle) error
	Update(ctx context.Context, riddle *model.Riddle) error
	Delete(ctx context.Context, riddleID uuid.UUID) error
	FetchOnChain(ctx context.Context) (model.ChainRiddle, error)
	BotAddress(ctx context.Context) (string, error)
}

type IRiddleSource interface {
	GenerateRiddleWithAnswer(ctx context.Context) (model.RiddleDraft, error)
}

type IScheduler interface {
	Schedule(name string, delay time.Duration, task func(ctx context.Context)) func() bool
}

type IRiddleMetrics interface {
	RiddlePublished()
	GenerationFailed(reason string)
	WinnerHandled()
}
