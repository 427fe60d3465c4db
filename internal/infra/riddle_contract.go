package infra

import (
	"context"
	"crypto/ecdsa"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/cenkalti/backoff/v4"
	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/event"
	"github.com/ethereum/go-ethereum/rpc"
	"github.com/sirupsen/logrus"

	"github.com/Max423423/OnChainRiddle/internal/model"
)

const RiddleContractABI string = `[
	{"type":"function","name":"riddle","stateMutability":"view","inputs":[],"outputs":[{"name":"","type":"string"}]},
	{"type":"function","name":"isActive","stateMutability":"view","inputs":[],"outputs":[{"name":"","type":"bool"}]},
	{"type":"function","name":"winner","stateMutability":"view","inputs":[],"outputs":[{"name":"","type":"address"}]},
	{"type":"function","name":"bot","stateMutability":"view","inputs":[],"outputs":[{"name":"","type":"address"}]},
	{"type":"function","name":"setRiddle","stateMutability":"nonpayable","inputs":[{"name":"_riddle","type":"string"},{"name":"_answerHash","type":"bytes32"}],"outputs":[]},
	{"type":"function","name":"submitAnswer","stateMutability":"nonpayable","inputs":[{"name":"_answer","type":"string"}],"outputs":[]},
	{"type":"event","name":"RiddleSet","anonymous":false,"inputs":[{"name":"riddle","type":"string","indexed":false}]},
	{"type":"event","name":"AnswerAttempt","anonymous":false,"inputs":[{"name":"user","type":"address","indexed":true},{"name":"correct","type":"bool","indexed":false}]},
	{"type":"event","name":"Winner","anonymous":false,"inputs":[{"name":"user","type":"address","indexed":true}]}
]`

const (
	DefaultPollInterval  time.Duration = 4 * time.Second
	readRetryInitial     time.Duration = 200 * time.Millisecond
	readRetryMaxInterval time.Duration = 2 * time.Second
	readRetryMaxElapsed  time.Duration = 10 * time.Second
)

var (
	ErrOnlyBot         = errors.New("only bot can call this function")
	ErrNoActiveRiddle  = errors.New("no active riddle")
	ErrReadOnly        = errors.New("contract opened without a signing key")
	ErrTxReverted      = errors.New("transaction reverted")
	revertReasonErrors = map[string]error{
		"Riddle already active":           model.ErrRiddleAlreadyActive,
		"Only bot can call this function": ErrOnlyBot,
		"No active riddle":                ErrNoActiveRiddle,
	}
)

// ChainBackend is what ethclient.Client offers and the contract needs.
type ChainBackend interface {
	bind.ContractBackend
	bind.DeployBackend
	BlockNumber(ctx context.Context) (uint64, error)
}

type winnerLog struct {
	User common.Address
}

type riddleSetLog struct {
	Riddle string
}

type answerAttemptLog struct {
	User    common.Address
	Correct bool
}

// SubmitResult is the outcome of a player's submitAnswer transaction.
type SubmitResult struct {
	TxHash  string
	Correct bool
	Winner  bool
}

type RiddleContract struct {
	backend      ChainBackend
	address      common.Address
	abi          abi.ABI
	contract     *bind.BoundContract
	auth         *bind.TransactOpts
	clk          clock.Clock
	pollInterval time.Duration
	logger       logrus.FieldLogger

	cursorMu sync.Mutex
	cursors  map[string]*logCursor
}

func (rc *RiddleContract) Address() common.Address {
	return rc.address
}

// Signer returns the zero address for a read-only contract.
func (rc *RiddleContract) Signer() common.Address {
	if rc.auth == nil {
		return common.Address{}
	}
	return rc.auth.From
}

func (rc *RiddleContract) newReadBackoff(ctx context.Context) backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = readRetryInitial
	b.MaxInterval = readRetryMaxInterval
	b.MaxElapsedTime = readRetryMaxElapsed
	return backoff.WithContext(b, ctx)
}

// call retries transient failures. Reverts are final.
func (rc *RiddleContract) call(ctx context.Context, method string) (any, error) {
	var out []interface{}
	op := func() error {
		out = nil
		err := rc.contract.Call(&bind.CallOpts{Context: ctx}, &out, method)
		if err != nil {
			if isRevert(err) {
				return backoff.Permanent(err)
			}
			rc.logger.WithError(err).WithField("method", method).Debug("contract read failed, retrying")
			return err
		}
		if len(out) == 0 {
			return backoff.Permanent(fmt.Errorf("%s returned no values", method))
		}
		return nil
	}
	if err := backoff.Retry(op, rc.newReadBackoff(ctx)); err != nil {
		return nil, decodeRevert(err)
	}
	return out[0], nil
}

func (rc *RiddleContract) Riddle(ctx context.Context) (string, error) {
	out, err := rc.call(ctx, "riddle")
	if err != nil {
		return "", err
	}
	return *abi.ConvertType(out, new(string)).(*string), nil
}

func (rc *RiddleContract) IsActive(ctx context.Context) (bool, error) {
	out, err := rc.call(ctx, "isActive")
	if err != nil {
		return false, err
	}
	return *abi.ConvertType(out, new(bool)).(*bool), nil
}

func (rc *RiddleContract) Winner(ctx context.Context) (string, error) {
	out, err := rc.call(ctx, "winner")
	if err != nil {
		return "", err
	}
	addr := *abi.ConvertType(out, new(common.Address)).(*common.Address)
	// ゼロアドレスは「まだ勝者なし」
	if addr == (common.Address{}) {
		return "", nil
	}
	return addr.Hex(), nil
}

func (rc *RiddleContract) Bot(ctx context.Context) (string, error) {
	out, err := rc.call(ctx, "bot")
	if err != nil {
		return "", err
	}
	return abi.ConvertType(out, new(common.Address)).(*common.Address).Hex(), nil
}

func (rc *RiddleContract) transact(ctx context.Context, method string, params ...interface{}) (*types.Receipt, error) {
	if rc.auth == nil {
		return nil, ErrReadOnly
	}
	opts := *rc.auth
	opts.Context = ctx
	tx, err := rc.contract.Transact(&opts, method, params...)
	if err != nil {
		return nil, decodeRevert(err)
	}
	rc.logger.WithFields(logrus.Fields{
		"method": method,
		"tx":     tx.Hash().Hex(),
	}).Debug("transaction sent")

	receipt, err := bind.WaitMined(ctx, rc.backend, tx)
	if err != nil {
		return nil, fmt.Errorf("waiting for %s: %w", tx.Hash().Hex(), err)
	}
	if receipt.Status != types.ReceiptStatusSuccessful {
		return receipt, fmt.Errorf("%w: %s %s", ErrTxReverted, method, tx.Hash().Hex())
	}
	return receipt, nil
}

// SetRiddle publishes question with commitment = keccak256(answer) and waits
// for the receipt.
func (rc *RiddleContract) SetRiddle(ctx context.Context, question string, commitment [32]byte) (string, error) {
	receipt, err := rc.transact(ctx, "setRiddle", question, commitment)
	if err != nil {
		return "", err
	}
	return receipt.TxHash.Hex(), nil
}

// SubmitAnswer sends a player's answer and reads the outcome from the receipt logs.
func (rc *RiddleContract) SubmitAnswer(ctx context.Context, answer string) (SubmitResult, error) {
	receipt, err := rc.transact(ctx, "submitAnswer", answer)
	if err != nil {
		return SubmitResult{}, err
	}
	res := SubmitResult{TxHash: receipt.TxHash.Hex()}
	for _, l := range receipt.Logs {
		if l == nil || l.Address != rc.address || len(l.Topics) == 0 {
			continue
		}
		switch l.Topics[0] {
		case rc.abi.Events["AnswerAttempt"].ID:
			var attempt answerAttemptLog
			if err := rc.contract.UnpackLog(&attempt, "AnswerAttempt", *l); err != nil {
				return res, err
			}
			res.Correct = attempt.Correct
		case rc.abi.Events["Winner"].ID:
			res.Winner = true
		}
	}
	return res, nil
}

func (rc *RiddleContract) decodeWinner(l types.Log) (model.WinnerEvent, error) {
	var ev winnerLog
	if err := rc.contract.UnpackLog(&ev, "Winner", l); err != nil {
		return model.WinnerEvent{}, err
	}
	return model.WinnerEvent{
		Winner:      ev.User.Hex(),
		BlockNumber: l.BlockNumber,
		TxHash:      l.TxHash.Hex(),
		LogIndex:    l.Index,
	}, nil
}

func (rc *RiddleContract) decodeRiddleSet(l types.Log) (model.RiddleSetEvent, error) {
	var ev riddleSetLog
	if err := rc.contract.UnpackLog(&ev, "RiddleSet", l); err != nil {
		return model.RiddleSetEvent{}, err
	}
	return model.RiddleSetEvent{
		Question:    ev.Riddle,
		BlockNumber: l.BlockNumber,
		TxHash:      l.TxHash.Hex(),
		LogIndex:    l.Index,
	}, nil
}

func (rc *RiddleContract) WatchWinner(ctx context.Context, sink chan<- model.WinnerEvent) (event.Subscription, error) {
	return watchEvent(ctx, rc, "Winner", sink, rc.decodeWinner)
}

func (rc *RiddleContract) WatchRiddleSet(ctx context.Context, sink chan<- model.RiddleSetEvent) (event.Subscription, error) {
	return watchEvent(ctx, rc, "RiddleSet", sink, rc.decodeRiddleSet)
}

// logCursor remembers how far one event stream has been handled, so a
// resubscription picks up right after the last log instead of the new head.
type logCursor struct {
	mu        sync.Mutex
	started   bool
	scanned   uint64 // 全ログを処理済みのブロック
	delivered bool
	lastBlock uint64
	lastIndex uint
}

// resumeFrom returns the first block a new watch must read, or ok=false
// before the stream ever started.
func (lc *logCursor) resumeFrom() (from uint64, ok bool) {
	lc.mu.Lock()
	defer lc.mu.Unlock()
	if !lc.started {
		return 0, false
	}
	if lc.delivered && lc.lastBlock > lc.scanned {
		return lc.lastBlock, true
	}
	return lc.scanned + 1, true
}

func (lc *logCursor) start(head uint64) {
	lc.mu.Lock()
	defer lc.mu.Unlock()
	if !lc.started {
		lc.started = true
		lc.scanned = head
	}
}

// seen reports whether l is at or before the last handled position.
func (lc *logCursor) seen(l types.Log) bool {
	lc.mu.Lock()
	defer lc.mu.Unlock()
	if lc.started && l.BlockNumber <= lc.scanned {
		return true
	}
	if !lc.delivered {
		return false
	}
	return l.BlockNumber < lc.lastBlock || (l.BlockNumber == lc.lastBlock && l.Index <= lc.lastIndex)
}

func (lc *logCursor) mark(l types.Log) {
	lc.mu.Lock()
	defer lc.mu.Unlock()
	lc.delivered = true
	lc.lastBlock = l.BlockNumber
	lc.lastIndex = l.Index
}

func (lc *logCursor) markScanned(block uint64) {
	lc.mu.Lock()
	defer lc.mu.Unlock()
	if block > lc.scanned {
		lc.scanned = block
	}
}

func (rc *RiddleContract) cursor(name string) *logCursor {
	rc.cursorMu.Lock()
	defer rc.cursorMu.Unlock()
	if rc.cursors == nil {
		rc.cursors = map[string]*logCursor{}
	}
	lc, ok := rc.cursors[name]
	if !ok {
		lc = &logCursor{}
		rc.cursors[name] = lc
	}
	return lc
}

// deliverLog sends the decoded log unless the cursor already handled it.
// It returns false when quit fired first.
func deliverLog[E any](logger logrus.FieldLogger, lc *logCursor, l types.Log, decode func(types.Log) (E, error), sink chan<- E, quit <-chan struct{}) bool {
	// reorgで消えたログは無視する
	if l.Removed || lc.seen(l) {
		return true
	}
	ev, err := decode(l)
	if err != nil {
		logger.WithError(err).Warn("failed to decode log")
		lc.mark(l)
		return true
	}
	select {
	case sink <- ev:
		lc.mark(l)
		return true
	case <-quit:
		return false
	}
}

func (rc *RiddleContract) filterEvent(ctx context.Context, name string, from uint64, to uint64) ([]types.Log, error) {
	return rc.backend.FilterLogs(ctx, ethereum.FilterQuery{
		FromBlock: new(big.Int).SetUint64(from),
		ToBlock:   new(big.Int).SetUint64(to),
		Addresses: []common.Address{rc.address},
		Topics:    [][]common.Hash{{rc.abi.Events[name].ID}},
	})
}

// watchEvent subscribes to logs of one event, falling back to polling when
// the endpoint has no subscriptions (plain HTTP). A watch of the same event
// started again after a drop first replays the logs it missed.
func watchEvent[E any](ctx context.Context, rc *RiddleContract, name string, sink chan<- E, decode func(types.Log) (E, error)) (event.Subscription, error) {
	logger := rc.logger.WithField("event", name)
	lc := rc.cursor(name)

	from, resumed := lc.resumeFrom()
	if !resumed {
		head, err := rc.backend.BlockNumber(ctx)
		if err != nil {
			return nil, err
		}
		lc.start(head)
		from = head + 1
	}
	logs, sub, err := rc.contract.WatchLogs(&bind.WatchOpts{Context: ctx, Start: &from}, name)
	if err != nil {
		if isNotificationsUnsupported(err) {
			logger.Info("endpoint has no log subscriptions, polling instead")
			return pollEvent(ctx, rc, name, sink, decode)
		}
		return nil, err
	}
	// 購読はFromBlockから遡らないので、途切れていた間のログはFilterLogsで補う
	head, err := rc.backend.BlockNumber(ctx)
	if err != nil {
		sub.Unsubscribe()
		return nil, err
	}
	var missed []types.Log
	if head >= from {
		if missed, err = rc.filterEvent(ctx, name, from, head); err != nil {
			sub.Unsubscribe()
			return nil, err
		}
		if resumed {
			logger.WithFields(logrus.Fields{"from": from, "to": head, "logs": len(missed)}).Info("replaying missed logs")
		}
	}
	return event.NewSubscription(func(quit <-chan struct{}) error {
		defer sub.Unsubscribe()
		for _, l := range missed {
			if !deliverLog(logger, lc, l, decode, sink, quit) {
				return nil
			}
		}
		lc.markScanned(head)
		for {
			select {
			case l := <-logs:
				if !deliverLog(logger, lc, l, decode, sink, quit) {
					return nil
				}
			case err := <-sub.Err():
				return err
			case <-quit:
				return nil
			}
		}
	}), nil
}

func pollEvent[E any](ctx context.Context, rc *RiddleContract, name string, sink chan<- E, decode func(types.Log) (E, error)) (event.Subscription, error) {
	logger := rc.logger.WithField("event", name)
	lc := rc.cursor(name)
	next, ok := lc.resumeFrom()
	if !ok {
		head, err := rc.backend.BlockNumber(ctx)
		if err != nil {
			return nil, err
		}
		lc.start(head)
		next = head + 1
	}
	return event.NewSubscription(func(quit <-chan struct{}) error {
		ticker := rc.clk.Ticker(rc.pollInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
			case <-quit:
				return nil
			case <-ctx.Done():
				return ctx.Err()
			}

			latest, err := rc.backend.BlockNumber(ctx)
			if err != nil {
				logger.WithError(err).Warn("failed to read block number")
				continue
			}
			if latest < next {
				continue
			}
			logs, err := rc.filterEvent(ctx, name, next, latest)
			if err != nil {
				// nextは進めずに次のtickでもう一度同じ範囲を読む
				logger.WithError(err).Warn("failed to filter logs")
				continue
			}
			for _, l := range logs {
				if !deliverLog(logger, lc, l, decode, sink, quit) {
					return nil
				}
			}
			lc.markScanned(latest)
			next = latest + 1
		}
	}), nil
}

func isNotificationsUnsupported(err error) bool {
	return errors.Is(err, rpc.ErrNotificationsUnsupported) ||
		strings.Contains(err.Error(), "notifications not supported")
}

func isRevert(err error) bool {
	var dataErr rpc.DataError
	if errors.As(err, &dataErr) {
		return true
	}
	return strings.Contains(err.Error(), "execution reverted")
}

func revertReason(err error) string {
	var dataErr rpc.DataError
	if errors.As(err, &dataErr) {
		if hexData, ok := dataErr.ErrorData().(string); ok {
			if data, derr := hexutil.Decode(hexData); derr == nil {
				if reason, uerr := abi.UnpackRevert(data); uerr == nil {
					return reason
				}
			}
		}
	}
	return ""
}

// decodeRevert maps the contract's revert strings to sentinel errors,
// keeping the original error in the chain.
func decodeRevert(err error) error {
	if err == nil {
		return nil
	}
	reason := revertReason(err)
	text := reason
	if text == "" {
		text = err.Error()
	}
	for msg, sentinel := range revertReasonErrors {
		if strings.Contains(text, msg) {
			return fmt.Errorf("%w: %w", sentinel, err)
		}
	}
	if reason != "" {
		return fmt.Errorf("execution reverted: %s: %w", reason, err)
	}
	return err
}

func NewRiddleContract(
	backend ChainBackend,
	address common.Address,
	key *ecdsa.PrivateKey,
	chainID *big.Int,
	clk clock.Clock,
	pollInterval time.Duration,
	logger logrus.FieldLogger,
) (*RiddleContract, error) {
	parsed, err := abi.JSON(strings.NewReader(RiddleContractABI))
	if err != nil {
		return nil, err
	}
	if pollInterval <= 0 {
		pollInterval = DefaultPollInterval
	}
	var auth *bind.TransactOpts
	if key != nil {
		auth, err = bind.NewKeyedTransactorWithChainID(key, chainID)
		if err != nil {
			return nil, err
		}
	}
	return &RiddleContract{
		backend:      backend,
		address:      address,
		abi:          parsed,
		contract:     bind.NewBoundContract(address, parsed, backend, backend, backend),
		auth:         auth,
		clk:          clk,
		pollInterval: pollInterval,
		logger:       logger.WithFields(logrus.Fields{"component": "riddle_contract", "contract": address.Hex()}),
	}, nil
}
