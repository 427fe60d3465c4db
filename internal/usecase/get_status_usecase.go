package usecase

import (
	"context"
	"time"

	"github.com/benbjohnson/clock"

	"github.com/Max423423/OnChainRiddle/internal/core"
	"github.com/Max423423/OnChainRiddle/internal/model"
)

// StatusView is the /api/status payload. Winner is the winner of the latest
// riddle, the lifecycle fields come from the in-process tracker.
type StatusView struct {
	IsActive      bool              `json:"isActive"`
	CurrentRiddle *string           `json:"currentRiddle"`
	Winner        *string           `json:"winner"`
	LastRiddle    *model.RiddleView `json:"lastRiddle"`
	Timestamp     time.Time         `json:"timestamp"`
	State         string            `json:"state"`
	Published     int               `json:"published"`
	Winners       int               `json:"winners"`
	LastWinner    *string           `json:"lastWinner"`
}

type GetStatusUsecase struct {
	rr        IRiddleRepository
	lifecycle *core.RiddleLifecycle
	clk       clock.Clock
}

func strPtr(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func (su *GetStatusUsecase) Execute(ctx context.Context) Result[StatusView] {
	active, err := su.rr.FindActive(ctx)
	if err != nil {
		return Fail[StatusView](err)
	}
	latest, err := su.rr.FindLatest(ctx)
	if err != nil {
		return Fail[StatusView](err)
	}

	snap := su.lifecycle.Snapshot()
	status := StatusView{
		IsActive:   active != nil,
		Timestamp:  su.clk.Now().UTC(),
		State:      snap.State.String(),
		Published:  snap.Published,
		Winners:    snap.Winners,
		LastWinner: strPtr(snap.LastWinner),
	}
	if active != nil {
		status.CurrentRiddle = strPtr(active.GetQuestion())
	}
	if latest != nil {
		view := latest.ToPublicView()
		status.LastRiddle = &view
		status.Winner = strPtr(latest.GetWinner())
	}
	return Succeed(status, "")
}

func NewGetStatusUsecase(rr IRiddleRepository, lifecycle *core.RiddleLifecycle, clk clock.Clock) *GetStatusUsecase {
	return &GetStatusUsecase{
		rr:        rr,
		lifecycle: lifecycle,
		clk:       clk,
	}
}

type RiddleHistoryView struct {
	Riddles   []model.RiddleView `json:"riddles"`
	Count     int                `json:"count"`
	Timestamp time.Time          `json:"timestamp"`
}

type GetRiddleHistoryUsecase struct {
	rr  IRiddleRepository
	clk clock.Clock
}

func (hu *GetRiddleHistoryUsecase) Execute(ctx context.Context) Result[RiddleHistoryView] {
	riddles, err := hu.rr.FindHistory(ctx)
	if err != nil {
		return Fail[RiddleHistoryView](err)
	}
	views := make([]model.RiddleView, 0, len(riddles))
	for _, r := range riddles {
		views = append(views, r.ToPublicView())
	}
	return Succeed(RiddleHistoryView{
		Riddles:   views,
		Count:     len(views),
		Timestamp: hu.clk.Now().UTC(),
	}, "")
}

func NewGetRiddleHistoryUsecase(rr IRiddleRepository, clk clock.Clock) *GetRiddleHistoryUsecase {
	return &GetRiddleHistoryUsecase{
		rr:  rr,
		clk: clk,
	}
}
