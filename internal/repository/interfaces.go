package repository

import (
	"context"

	"github.com/ethereum/go-ethereum/event"

	"github.com/Max423423/OnChainRiddle/internal/model"
)

// IRiddleContract is the bot's view of the riddle contract.
// Winner returns "" while the contract holds the zero address.
type IRiddleContract interface {
	Riddle(ctx context.Context) (string, error)
	IsActive(ctx context.Context) (bool, error)
	Winner(ctx context.Context) (string, error)
	Bot(ctx context.Context) (string, error)
	SetRiddle(ctx context.Context, question string, commitment [32]byte) (string, error)
	WatchWinner(ctx context.Context, sink chan<- model.WinnerEvent) (event.Subscription, error)
	WatchRiddleSet(ctx context.Context, sink chan<- model.RiddleSetEvent) (event.Subscription, error)
}
