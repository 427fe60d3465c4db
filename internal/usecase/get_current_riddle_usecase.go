package usecase

import (
	"context"
	"errors"
	"time"

	"github.com/Max423423/OnChainRiddle/internal/model"
)

const (
	DefaultCurrentRiddleTimeout time.Duration = 15 * time.Second
	MinCurrentRiddleTimeout     time.Duration = 10 * time.Second
	MaxCurrentRiddleTimeout     time.Duration = 25 * time.Second
)

var ErrCurrentRiddleTimeout = errors.New("timed out reading current riddle")

type GetCurrentRiddleUsecase struct {
	rr      IRiddleRepository
	timeout time.Duration
}

// Execute reads the riddle from chain and gives up after the timeout instead
// of waiting on a stuck RPC endpoint.
func (cu *GetCurrentRiddleUsecase) Execute(ctx context.Context) Result[model.ChainRiddle] {
	ctx, cancel := context.WithTimeout(ctx, cu.timeout)
	defer cancel()

	riddle, err := cu.rr.FetchOnChain(ctx)
	if err != nil {
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return Fail[model.ChainRiddle](model.NewBlockchainError(
				"Contract call timeout after "+cu.timeout.String(),
				errors.Join(ErrCurrentRiddleTimeout, context.DeadlineExceeded),
			))
		}
		return Fail[model.ChainRiddle](err)
	}
	return Succeed(riddle, "")
}

// NewGetCurrentRiddleUsecase clamps timeout into [10s, 25s]; zero means 15s.
func NewGetCurrentRiddleUsecase(rr IRiddleRepository, timeout time.Duration) *GetCurrentRiddleUsecase {
	switch {
	case timeout <= 0:
		timeout = DefaultCurrentRiddleTimeout
	case timeout < MinCurrentRiddleTimeout:
		timeout = MinCurrentRiddleTimeout
	case timeout > MaxCurrentRiddleTimeout:
		timeout = MaxCurrentRiddleTimeout
	}
	return &GetCurrentRiddleUsecase{
		rr:      rr,
		timeout: timeout,
	}
}
