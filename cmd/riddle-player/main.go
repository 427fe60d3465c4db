package main

import (
	"context"
	"crypto/ecdsa"
	"errors"
	"fmt"
	"math/big"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/benbjohnson/clock"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/patrickmn/go-cache"
	"github.com/sirupsen/logrus"
	flag "github.com/spf13/pflag"

	"github.com/Max423423/OnChainRiddle/internal/config"
	rpccontroller "github.com/Max423423/OnChainRiddle/internal/controller/rpc"
	"github.com/Max423423/OnChainRiddle/internal/infra"
	"github.com/Max423423/OnChainRiddle/internal/model"
	"github.com/Max423423/OnChainRiddle/internal/repository"
	"github.com/Max423423/OnChainRiddle/internal/usecase"
	"github.com/Max423423/OnChainRiddle/internal/util"
)

const usage = `usage: riddle-player [flags] <command>

commands:
  current          print the current riddle
  submit <answer>  submit an answer (needs --chain.private-key)`

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run() error {
	cfg, args, err := config.ParsePlayer(os.Args[1:])
	if errors.Is(err, flag.ErrHelp) {
		fmt.Println(usage)
		return nil
	}
	if err != nil {
		return err
	}
	if len(args) == 0 {
		return errors.New(usage)
	}

	logger, closer, err := infra.NewLogger(infra.LoggerConfig{Level: "warn", Format: "text"})
	if err != nil {
		return err
	}
	defer closer.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	switch args[0] {
	case "current":
		if cfg.Server != "" {
			return currentFromServer(ctx, cfg)
		}
		return currentFromChain(ctx, cfg, logger)
	case "submit":
		if len(args) < 2 {
			return errors.New("submit needs an answer")
		}
		return submit(ctx, cfg, strings.Join(args[1:], " "), logger)
	default:
		return fmt.Errorf("unknown command %q\n%s", args[0], usage)
	}
}

func printRiddle(question string, isActive bool, winner *string) {
	if question == "" {
		fmt.Println("No riddle has been published yet.")
		return
	}
	fmt.Printf("Riddle: %s\n", question)
	if isActive {
		fmt.Println("Status: active, waiting for a correct answer")
		return
	}
	if winner != nil {
		fmt.Printf("Status: solved by %s\n", *winner)
		return
	}
	fmt.Println("Status: inactive")
}

func currentFromServer(ctx context.Context, cfg *config.PlayerConfig) error {
	ctx, cancel := context.WithTimeout(ctx, cfg.Timeout)
	defer cancel()
	client := rpccontroller.NewRiddleServiceClient(http.DefaultClient, strings.TrimSuffix(cfg.Server, "/"))
	res, err := client.GetCurrentRiddle(ctx)
	if err != nil {
		return err
	}
	printRiddle(res.Question, res.IsActive, res.Winner)
	return nil
}

func dialContract(ctx context.Context, cfg *config.PlayerConfig, withKey bool, logger logrus.FieldLogger) (*infra.RiddleContract, func(), error) {
	client, err := ethclient.DialContext(ctx, cfg.Chain.URL)
	if err != nil {
		return nil, nil, fmt.Errorf("dialing %s: %w", cfg.Chain.URL, err)
	}
	var (
		chainID = big.NewInt(cfg.Chain.ChainID)
		key     *ecdsa.PrivateKey
	)
	if withKey {
		if cfg.Chain.PrivateKey == "" {
			client.Close()
			return nil, nil, errors.New("--chain.private-key (or PRIVATE_KEY) is required to submit")
		}
		if key, err = crypto.HexToECDSA(strings.TrimPrefix(cfg.Chain.PrivateKey, "0x")); err != nil {
			client.Close()
			return nil, nil, fmt.Errorf("parsing private key: %w", err)
		}
		if cfg.Chain.ChainID == 0 {
			if chainID, err = client.ChainID(ctx); err != nil {
				client.Close()
				return nil, nil, fmt.Errorf("reading chain id: %w", err)
			}
		}
	}
	contract, err := infra.NewRiddleContract(client, common.HexToAddress(cfg.Chain.ContractAddress), key, chainID, clock.New(), cfg.Chain.PollInterval, logger)
	if err != nil {
		client.Close()
		return nil, nil, err
	}
	return contract, client.Close, nil
}

func currentFromChain(ctx context.Context, cfg *config.PlayerConfig, logger logrus.FieldLogger) error {
	contract, closeClient, err := dialContract(ctx, cfg, false, logger)
	if err != nil {
		return err
	}
	defer closeClient()

	riddleRepository := repository.NewChainRiddleRepository(cache.New(cache.NoExpiration, 0), contract, logger)
	res := usecase.NewGetCurrentRiddleUsecase(riddleRepository, cfg.Timeout).Execute(ctx)
	if !res.Success {
		return res.Err
	}
	printRiddle(res.Data.Question, res.Data.IsActive, res.Data.Winner)
	return nil
}

func submit(ctx context.Context, cfg *config.PlayerConfig, answer string, logger logrus.FieldLogger) error {
	answer = util.NormalizeAnswer(answer)
	if answer == "" {
		return model.NewValidationError("Answer cannot be empty")
	}
	contract, closeClient, err := dialContract(ctx, cfg, true, logger)
	if err != nil {
		return err
	}
	defer closeClient()

	fmt.Printf("Submitting %q from %s...\n", answer, contract.Signer().Hex())
	res, err := contract.SubmitAnswer(ctx, answer)
	if errors.Is(err, infra.ErrNoActiveRiddle) {
		return errors.New("there is no active riddle right now")
	}
	if err != nil {
		return err
	}
	fmt.Printf("Transaction: %s\n", res.TxHash)
	switch {
	case res.Winner:
		fmt.Println("Correct! You are the winner.")
	case res.Correct:
		fmt.Println("Correct, but someone solved it first.")
	default:
		fmt.Println("Wrong answer, try again.")
	}
	return nil
}
