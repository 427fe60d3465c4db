package usecase

import (
	"context"
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/Max423423/OnChainRiddle/internal/core"
	"github.com/Max423423/OnChainRiddle/internal/model"
)

type StartupOutcome struct {
	Generated bool
	Riddle    *model.RiddleView
}

type StartupCheckUsecase struct {
	rr        IRiddleRepository
	gen       *GenerateRiddleUsecase
	lifecycle *core.RiddleLifecycle
	signer    string
	logger    logrus.FieldLogger
}

// verifyBot only warns: a mismatch makes every publish revert, but reads and
// event handling still work.
func (su *StartupCheckUsecase) verifyBot(ctx context.Context) {
	if su.signer == "" {
		return
	}
	bot, err := su.rr.BotAddress(ctx)
	if err != nil {
		su.logger.WithError(err).Warn("could not verify bot address")
		return
	}
	if !strings.EqualFold(bot, su.signer) {
		su.logger.WithFields(logrus.Fields{
			"bot":    bot,
			"signer": su.signer,
		}).Warn("signer is not the contract bot, publishing will revert")
	}
}

func (su *StartupCheckUsecase) Execute(ctx context.Context) (res Result[StartupOutcome]) {
	defer recoverResult(&res, su.logger)

	su.verifyBot(ctx)

	active, err := su.rr.FindActive(ctx)
	if err != nil {
		su.logger.WithError(err).Error("startup check could not read chain state")
		return Fail[StartupOutcome](err)
	}
	if active != nil {
		su.lifecycle.MarkActive()
		view := active.ToPublicView()
		su.logger.WithField("riddle_id", view.ID).Info("active riddle found at startup")
		return Succeed(StartupOutcome{Riddle: &view}, "Active riddle found")
	}

	su.logger.Info("no active riddle at startup, generating one")
	gen := su.gen.Execute(ctx)
	if !gen.Success {
		su.logger.WithError(gen.Err).Warn("startup generation failed")
		return Fail[StartupOutcome](gen.Err)
	}
	return Succeed(StartupOutcome{Generated: true, Riddle: &gen.Data}, gen.Message)
}

func NewStartupCheckUsecase(
	rr IRiddleRepository,
	gen *GenerateRiddleUsecase,
	lifecycle *core.RiddleLifecycle,
	signer string,
	logger logrus.FieldLogger,
) *StartupCheckUsecase {
	return &StartupCheckUsecase{
		rr:        rr,
		gen:       gen,
		lifecycle: lifecycle,
		signer:    signer,
		logger:    logger.WithField("component", "startup_check"),
	}
}
