package main

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/patrickmn/go-cache"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"
	flag "github.com/spf13/pflag"
	"golang.org/x/sync/errgroup"

	"github.com/Max423423/OnChainRiddle/internal/config"
	filecontroller "github.com/Max423423/OnChainRiddle/internal/controller/file"
	"github.com/Max423423/OnChainRiddle/internal/controller/middleware"
	restcontroller "github.com/Max423423/OnChainRiddle/internal/controller/rest"
	rpccontroller "github.com/Max423423/OnChainRiddle/internal/controller/rpc"
	"github.com/Max423423/OnChainRiddle/internal/core"
	"github.com/Max423423/OnChainRiddle/internal/infra"
	"github.com/Max423423/OnChainRiddle/internal/model"
	"github.com/Max423423/OnChainRiddle/internal/repository"
	"github.com/Max423423/OnChainRiddle/internal/usecase"
)

// ビルド時に -ldflags "-X main.version=..." で上書きする
var version = "dev"

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Parse(os.Args[1:])
	if errors.Is(err, flag.ErrHelp) {
		return nil
	}
	if err != nil {
		return err
	}

	logger, logCloser, err := infra.NewLogger(cfg.Log)
	if err != nil {
		return err
	}
	defer logCloser.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	client, err := ethclient.DialContext(ctx, cfg.Chain.URL)
	if err != nil {
		return fmt.Errorf("dialing %s: %w", cfg.Chain.URL, err)
	}
	defer client.Close()

	chainID := big.NewInt(cfg.Chain.ChainID)
	if cfg.Chain.ChainID == 0 {
		if chainID, err = client.ChainID(ctx); err != nil {
			return fmt.Errorf("reading chain id: %w", err)
		}
	}
	key, err := crypto.HexToECDSA(strings.TrimPrefix(cfg.Chain.PrivateKey, "0x"))
	if err != nil {
		return fmt.Errorf("parsing private key: %w", err)
	}
	genOptions, err := cfg.Game.GenerationOptions()
	if err != nil {
		return err
	}

	// 初期化
	clk := clock.New()
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	metrics := infra.NewMetrics(reg)

	contract, err := infra.NewRiddleContract(client, common.HexToAddress(cfg.Chain.ContractAddress), key, chainID, clk, cfg.Chain.PollInterval, logger)
	if err != nil {
		return err
	}
	// チェーンが正なのでキャッシュは期限切れにしない
	c := cache.New(cache.NoExpiration, 30*time.Minute)
	riddleRepository := repository.NewChainRiddleRepository(c, contract, logger)
	openAIClient := infra.NewOpenAIClient(cfg.AI.APIKey, cfg.AI.BaseURL, cfg.AI.Timeout)
	fallbackSource := infra.NewFallbackRiddleSource(infra.DefaultFallbackRiddles)
	riddleSource := infra.NewAIRiddleSource(openAIClient, fallbackSource, infra.AIRiddleSourceConfig{
		Model:       cfg.AI.Model,
		ForceRemote: cfg.AI.Force,
		Options:     genOptions,
	}, metrics, logger)
	lifecycle := core.NewRiddleLifecycle(clk)
	scheduler := core.NewScheduler(clk, logger)

	generateRiddleUsecase := usecase.NewGenerateRiddleUsecase(riddleRepository, riddleSource, lifecycle, metrics, logger)
	handleWinnerUsecase := usecase.NewHandleWinnerUsecase(riddleRepository, generateRiddleUsecase, scheduler, lifecycle, metrics, cfg.Game.WinnerCooldown, logger)
	startupCheckUsecase := usecase.NewStartupCheckUsecase(riddleRepository, generateRiddleUsecase, lifecycle, contract.Signer().Hex(), logger)
	getStatusUsecase := usecase.NewGetStatusUsecase(riddleRepository, lifecycle, clk)
	getRiddleHistoryUsecase := usecase.NewGetRiddleHistoryUsecase(riddleRepository, clk)
	getCurrentRiddleUsecase := usecase.NewGetCurrentRiddleUsecase(riddleRepository, cfg.Game.CurrentRiddleTimeout)

	riddleHandler := restcontroller.NewRiddleHandler(generateRiddleUsecase, handleWinnerUsecase, getStatusUsecase, getRiddleHistoryUsecase, version, clk, logger)
	riddleServiceHandler := rpccontroller.NewRiddleServiceHandler(getCurrentRiddleUsecase)
	var fileHandler *filecontroller.StaticFileHandler
	if cfg.HTTP.StaticDir != "" {
		fileHandler = filecontroller.NewStaticFileHandler(http.Dir(cfg.HTTP.StaticDir))
	}
	router := infra.NewRouter(
		riddleHandler,
		riddleServiceHandler,
		fileHandler,
		promhttp.HandlerFor(reg, promhttp.HandlerOpts{}),
		middleware.NewRequestLogMiddleware(metrics, clk, logger),
		middleware.NewRateLimitMiddleware(cfg.HTTP.RateLimit, cfg.HTTP.RateBurst),
		middleware.NewCorsMiddleware(cfg.HTTP.AllowOrigin),
	)
	server := &http.Server{
		Addr:              cfg.HTTP.ListenAddr(),
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	if err := riddleRepository.OnWinner(func(ctx context.Context, ev model.WinnerEvent) {
		metrics.ChainEvent("Winner")
		eventLogger := logger.WithFields(logrus.Fields{
			"winner": ev.Winner,
			"block":  ev.BlockNumber,
			"tx":     ev.TxHash,
		})
		eventLogger.Info("winner event received")
		res := handleWinnerUsecase.Execute(ctx, ev.Winner)
		if !res.Success {
			eventLogger.WithError(res.Err).Error("failed to handle winner event")
			return
		}
		eventLogger.Info(res.Message)
	}); err != nil {
		return err
	}
	if err := riddleRepository.OnRiddleSet(func(ctx context.Context, ev model.RiddleSetEvent) {
		metrics.ChainEvent("RiddleSet")
		lifecycle.MarkActive()
		logger.WithFields(logrus.Fields{
			"riddle": ev.Question,
			"block":  ev.BlockNumber,
			"tx":     ev.TxHash,
		}).Info("riddle set on chain")
	}); err != nil {
		riddleRepository.StopListening()
		return err
	}

	var shutdownOnce sync.Once
	shutdown := func() {
		shutdownOnce.Do(func() {
			logger.Info("shutting down")
			riddleRepository.StopListening()
			scheduler.Stop()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.HTTP.ShutdownTimeout)
			defer cancel()
			if err := server.Shutdown(shutdownCtx); err != nil {
				logger.WithError(err).Warn("http server did not shut down cleanly")
			}
		})
	}
	defer shutdown()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.WithFields(logrus.Fields{
			"addr":     server.Addr,
			"contract": contract.Address().Hex(),
			"signer":   contract.Signer().Hex(),
			"version":  version,
		}).Info("server started")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		res := startupCheckUsecase.Execute(gctx)
		if !res.Success {
			logger.WithError(res.Err).Warn("startup check failed, waiting for events or manual trigger")
			return nil
		}
		logger.WithField("generated", res.Data.Generated).Info("startup check finished")
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdown()
		return nil
	})
	return g.Wait()
}
