package repository

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/event"
	"github.com/google/uuid"
	"github.com/patrickmn/go-cache"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/Max423423/OnChainRiddle/internal/model"
)

const (
	currentRiddleKey string = "current"
	lastRiddleKey    string = "last"

	eventBufferSize       int           = 64
	maxResubscribeBackoff time.Duration = 30 * time.Second
)

// ChainRiddleRepository mirrors the contract into a one-slot cache.
// Chain reads never hold mu; only the merge into the cache does.
type ChainRiddleRepository struct {
	c        *cache.Cache
	contract IRiddleContract
	logger   logrus.FieldLogger
	clk      func() time.Time

	mu sync.Mutex

	listenMu     sync.Mutex
	listenCtx    context.Context
	listenCancel context.CancelFunc
	subs         []event.Subscription
	stopped      bool
	wg           sync.WaitGroup
}

func (rr *ChainRiddleRepository) getCached(key string) *model.Riddle {
	if v, found := rr.c.Get(key); found {
		riddle, ok := v.(model.Riddle)
		if ok {
			return &riddle
		}
		// Riddleにキャストできない何かが入ってるので消しておく
		rr.c.Delete(key)
	}
	return nil
}

// setCurrent replaces the current riddle, keeping a different previous one as last.
// mu must be held.
func (rr *ChainRiddleRepository) setCurrent(riddle model.Riddle) {
	if prev := rr.getCached(currentRiddleKey); prev != nil && prev.GetRiddleID() != riddle.GetRiddleID() {
		rr.c.Set(lastRiddleKey, *prev, cache.NoExpiration)
	}
	rr.c.Set(currentRiddleKey, riddle, cache.NoExpiration)
}

// FindActive returns nil, nil when the contract has no active riddle.
// Any chain read failure is returned as a BlockchainError; callers never get
// a degraded nil for an unreachable node.
func (rr *ChainRiddleRepository) FindActive(ctx context.Context) (*model.Riddle, error) {
	active, err := rr.contract.IsActive(ctx)
	if err != nil {
		return nil, model.NewBlockchainError("Failed to read riddle state", err)
	}
	if !active {
		rr.closeCached(ctx)
		return nil, nil
	}

	var question, winner string
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		question, err = rr.contract.Riddle(gctx)
		return err
	})
	g.Go(func() error {
		var err error
		winner, err = rr.contract.Winner(gctx)
		return err
	})
	if err := g.Wait(); err != nil {
		return nil, model.NewBlockchainError("Failed to read active riddle", err)
	}

	rr.mu.Lock()
	defer rr.mu.Unlock()
	cached := rr.getCached(currentRiddleKey)
	if cached != nil && cached.GetQuestion() == question {
		if !cached.GetIsActive() {
			cached.Activate()
			rr.c.Set(currentRiddleKey, *cached, cache.NoExpiration)
		}
		return cached, nil
	}

	// 自分で出題していないなぞなぞは答えが分からない
	if cached != nil {
		rr.logger.WithFields(logrus.Fields{
			"cached":  cached.GetQuestion(),
			"onchain": question,
		}).Warn("cached riddle differs from chain, replacing with placeholder")
	}
	if winner != "" {
		rr.logger.WithField("winner", winner).Warn("active riddle already has a winner on chain")
	}
	placeholder := model.ReconstructRiddle(uuid.New(), question, model.UnknownAnswer, true, "", rr.clk())
	rr.setCurrent(*placeholder)
	return placeholder, nil
}

// closeCached deactivates a cached riddle the chain no longer considers active.
func (rr *ChainRiddleRepository) closeCached(ctx context.Context) {
	rr.mu.Lock()
	cached := rr.getCached(currentRiddleKey)
	rr.mu.Unlock()
	if cached == nil || !cached.GetIsActive() {
		return
	}

	winner, err := rr.contract.Winner(ctx)
	if err != nil {
		rr.logger.WithError(err).Warn("failed to read winner while closing cached riddle")
		winner = ""
	}

	rr.mu.Lock()
	defer rr.mu.Unlock()
	// 読んでいる間にSave/Updateされていたら触らない
	current := rr.getCached(currentRiddleKey)
	if current == nil || current.GetRiddleID() != cached.GetRiddleID() || !current.GetIsActive() {
		return
	}
	if winner != "" {
		if err := current.SetWinner(winner); err != nil {
			current.Deactivate()
		}
	} else {
		current.Deactivate()
	}
	rr.c.Set(currentRiddleKey, *current, cache.NoExpiration)
}

// FindLatest returns the cached riddle whether or not it is still active.
func (rr *ChainRiddleRepository) FindLatest(ctx context.Context) (*model.Riddle, error) {
	rr.mu.Lock()
	defer rr.mu.Unlock()
	return rr.getCached(currentRiddleKey), nil
}

// FindHistory returns the cached riddles, newest first.
func (rr *ChainRiddleRepository) FindHistory(ctx context.Context) ([]model.Riddle, error) {
	rr.mu.Lock()
	defer rr.mu.Unlock()
	riddles := make([]model.Riddle, 0, 2)
	if current := rr.getCached(currentRiddleKey); current != nil {
		riddles = append(riddles, *current)
	}
	if last := rr.getCached(lastRiddleKey); last != nil {
		riddles = append(riddles, *last)
	}
	return riddles, nil
}

// Save publishes the riddle with keccak256(answer) as commitment and waits
// for the receipt. The answer itself never leaves the process.
func (rr *ChainRiddleRepository) Save(ctx context.Context, riddle *model.Riddle) error {
	commitment := crypto.Keccak256Hash([]byte(riddle.GetAnswer()))
	txHash, err := rr.contract.SetRiddle(ctx, riddle.GetQuestion(), commitment)
	if err != nil {
		if errors.Is(err, model.ErrRiddleAlreadyActive) {
			return model.NewBlockchainError("Riddle already active on chain", err)
		}
		return model.NewBlockchainError("Failed to publish riddle", err)
	}
	rr.logger.WithFields(logrus.Fields{
		"riddle_id": riddle.GetRiddleID().String(),
		"tx":        txHash,
	}).Info("riddle published")

	rr.mu.Lock()
	defer rr.mu.Unlock()
	rr.setCurrent(*riddle)
	return nil
}

// Update only replaces the cache; chain changes arrive through events.
func (rr *ChainRiddleRepository) Update(ctx context.Context, riddle *model.Riddle) error {
	if riddle == nil {
		return model.NewValidationError("Riddle is required")
	}
	rr.mu.Lock()
	defer rr.mu.Unlock()
	rr.setCurrent(*riddle)
	return nil
}

func (rr *ChainRiddleRepository) Delete(ctx context.Context, riddleID uuid.UUID) error {
	return model.NewUnsupportedOperationError("Delete operation not supported for blockchain repository")
}

// FetchOnChain reads the riddle straight from the contract, bypassing the cache.
func (rr *ChainRiddleRepository) FetchOnChain(ctx context.Context) (model.ChainRiddle, error) {
	var (
		question string
		active   bool
		winner   string
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		question, err = rr.contract.Riddle(gctx)
		return err
	})
	g.Go(func() error {
		var err error
		active, err = rr.contract.IsActive(gctx)
		return err
	})
	g.Go(func() error {
		var err error
		winner, err = rr.contract.Winner(gctx)
		return err
	})
	if err := g.Wait(); err != nil {
		return model.ChainRiddle{}, model.NewBlockchainError("Failed to read riddle from chain", err)
	}
	res := model.ChainRiddle{
		Question: question,
		IsActive: active,
	}
	if winner != "" {
		res.Winner = &winner
	}
	return res, nil
}

func (rr *ChainRiddleRepository) BotAddress(ctx context.Context) (string, error) {
	bot, err := rr.contract.Bot(ctx)
	if err != nil {
		return "", model.NewBlockchainError("Failed to read bot address", err)
	}
	return bot, nil
}

// OnWinner delivers Winner events to cb one at a time, in chain order.
func (rr *ChainRiddleRepository) OnWinner(cb func(context.Context, model.WinnerEvent)) error {
	return listen(rr, "Winner", rr.contract.WatchWinner, cb)
}

// OnRiddleSet delivers RiddleSet events to cb one at a time, in chain order.
func (rr *ChainRiddleRepository) OnRiddleSet(cb func(context.Context, model.RiddleSetEvent)) error {
	return listen(rr, "RiddleSet", rr.contract.WatchRiddleSet, cb)
}

func listen[E any](
	rr *ChainRiddleRepository,
	name string,
	watch func(context.Context, chan<- E) (event.Subscription, error),
	cb func(context.Context, E),
) error {
	rr.listenMu.Lock()
	defer rr.listenMu.Unlock()
	if rr.stopped {
		return model.NewInvalidStateError("Repository has stopped listening")
	}
	logger := rr.logger.WithField("event", name)

	sink := make(chan E, eventBufferSize)
	first, err := watch(rr.listenCtx, sink)
	if err != nil {
		return model.NewBlockchainError("Failed to subscribe to "+name+" events", err)
	}
	// 最初の購読は同期で張って失敗を呼び出し元に返し、以降の張り直しはResubscribeErrに任せる
	sub := event.ResubscribeErr(maxResubscribeBackoff, func(ctx context.Context, lastErr error) (event.Subscription, error) {
		if first != nil {
			s := first
			first = nil
			return s, nil
		}
		if lastErr != nil {
			logger.WithError(lastErr).Warn("event subscription dropped, resubscribing")
		}
		return watch(ctx, sink)
	})
	rr.subs = append(rr.subs, sub)

	ctx := rr.listenCtx
	rr.wg.Go(func() {
		for {
			select {
			case ev := <-sink:
				dispatch(ctx, logger, cb, ev)
			case <-ctx.Done():
				return
			}
		}
	})
	logger.Info("listening for events")
	return nil
}

func dispatch[E any](ctx context.Context, logger logrus.FieldLogger, cb func(context.Context, E), ev E) {
	defer func() {
		if r := recover(); r != nil {
			logger.WithField("panic", r).Error("event callback panicked")
		}
	}()
	cb(ctx, ev)
}

// StopListening unsubscribes every stream and waits for in-flight callbacks.
// Safe to call more than once.
func (rr *ChainRiddleRepository) StopListening() {
	rr.listenMu.Lock()
	if rr.stopped {
		rr.listenMu.Unlock()
		rr.wg.Wait()
		return
	}
	rr.stopped = true
	for _, sub := range rr.subs {
		sub.Unsubscribe()
	}
	rr.subs = nil
	rr.listenCancel()
	rr.listenMu.Unlock()
	rr.wg.Wait()
	rr.logger.Info("stopped listening for events")
}

func NewChainRiddleRepository(c *cache.Cache, contract IRiddleContract, logger logrus.FieldLogger) *ChainRiddleRepository {
	ctx, cancel := context.WithCancel(context.Background())
	return &ChainRiddleRepository{
		c:            c,
		contract:     contract,
		logger:       logger.WithField("component", "riddle_repository"),
		clk:          func() time.Time { return time.Now().UTC() },
		listenCtx:    ctx,
		listenCancel: cancel,
	}
}
