package infra

import (
	"context"
	"errors"
	"fmt"
	"strings"

	openai "github.com/sashabaranov/go-openai"
	"github.com/sirupsen/logrus"

	"github.com/Max423423/OnChainRiddle/internal/model"
	"github.com/Max423423/OnChainRiddle/internal/util"
)

const (
	DefaultOpenAIModel string = openai.GPT3Dot5Turbo0125

	questionMaxTokens   int     = 100
	questionTemperature float32 = 0.8
	answerMaxTokens     int     = 30
	answerTemperature   float32 = 0.3
)

var RiddleThemes = []string{
	"animals", "objects", "food", "nature", "colors",
	"numbers", "body", "time", "weather", "sports",
}

type AIRiddleSourceConfig struct {
	Model       string
	ForceRemote bool
	Options     model.GenerationOptions
}

// AIRiddleSource asks the text service for a riddle and its answer and falls
// back to a fixed pool when that fails, unless ForceRemote is set.
type AIRiddleSource struct {
	client    ChatCompleter
	fallback  *FallbackRiddleSource
	cfg       AIRiddleSourceConfig
	pickTheme func() string
	metrics   *Metrics
	logger    logrus.FieldLogger
}

func (s *AIRiddleSource) complete(ctx context.Context, prompt string, system string, user string, maxTokens int, temperature float32) (string, error) {
	resp, err := s.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: s.cfg.Model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: system},
			{Role: openai.ChatMessageRoleUser, Content: user},
		},
		MaxTokens:   maxTokens,
		Temperature: temperature,
	})
	if err != nil {
		s.metrics.AIRequest(prompt, false)
		return "", err
	}
	if len(resp.Choices) == 0 {
		s.metrics.AIRequest(prompt, false)
		return "", errors.New("completion returned no choices")
	}
	s.metrics.AIRequest(prompt, true)
	return resp.Choices[0].Message.Content, nil
}

func (s *AIRiddleSource) GenerateQuestion(ctx context.Context, language string, difficulty model.Difficulty) (string, error) {
	theme := s.pickTheme()
	system := fmt.Sprintf("You are a creative riddle master. Generate unique riddles in %s with clear, single-word answers.", language)
	user := fmt.Sprintf("Generate a %s riddle about %s in %s. The riddle should have a clear, single-word answer.", difficulty, theme, language)

	content, err := s.complete(ctx, "question", system, user, questionMaxTokens, questionTemperature)
	if err != nil {
		return "", model.NewAIServiceError("Failed to generate riddle", err)
	}
	question := strings.TrimSpace(content)
	if question == "" {
		return "", model.NewAIServiceError("Failed to generate riddle", errors.New("empty riddle"))
	}
	s.logger.WithField("theme", theme).Debug("riddle generated")
	return question, nil
}

func (s *AIRiddleSource) GenerateAnswer(ctx context.Context, question string, language string) (string, error) {
	system := fmt.Sprintf("You are a riddle solver. Provide only the single-word answer to %s riddles.", language)
	user := fmt.Sprintf("Given this %s riddle: \"%s\"\n\nWhat is the single-word answer? Respond with only the answer word, nothing else.", language, question)

	content, err := s.complete(ctx, "answer", system, user, answerMaxTokens, answerTemperature)
	if err != nil {
		return "", model.NewAIServiceError("Failed to generate answer", err)
	}
	answer := util.NormalizeAnswer(content)
	if answer == "" {
		return "", model.NewAIServiceError("Failed to generate answer", errors.New("empty answer"))
	}
	return answer, nil
}

func (s *AIRiddleSource) generateRemote(ctx context.Context) (model.RiddleDraft, error) {
	question, err := s.GenerateQuestion(ctx, s.cfg.Options.Language, s.cfg.Options.Difficulty)
	if err != nil {
		return model.RiddleDraft{}, err
	}
	answer, err := s.GenerateAnswer(ctx, question, s.cfg.Options.Language)
	if err != nil {
		return model.RiddleDraft{}, err
	}
	return model.RiddleDraft{Question: question, Answer: answer}, nil
}

// GenerateRiddleWithAnswer uses the options fixed at construction.
func (s *AIRiddleSource) GenerateRiddleWithAnswer(ctx context.Context) (model.RiddleDraft, error) {
	draft, err := s.generateRemote(ctx)
	if err == nil {
		return draft, nil
	}
	if s.cfg.ForceRemote {
		return model.RiddleDraft{}, err
	}

	s.logger.WithError(err).Warn("AI generation failed, using fallback riddle")
	fb, ferr := s.fallback.Next()
	if ferr != nil {
		return model.RiddleDraft{}, model.NewAIServiceError("AI generation and fallback both failed", errors.Join(err, ferr))
	}
	s.metrics.FallbackServed()
	return fb, nil
}

func NewAIRiddleSource(
	client ChatCompleter,
	fallback *FallbackRiddleSource,
	cfg AIRiddleSourceConfig,
	metrics *Metrics,
	logger logrus.FieldLogger,
) *AIRiddleSource {
	if cfg.Model == "" {
		cfg.Model = DefaultOpenAIModel
	}
	if cfg.Options.Language == "" {
		cfg.Options.Language = model.DefaultLanguage
	}
	if cfg.Options.Difficulty == "" {
		cfg.Options.Difficulty = model.Medium
	}
	return &AIRiddleSource{
		client:    client,
		fallback:  fallback,
		cfg:       cfg,
		pickTheme: func() string { return util.PickOne(RiddleThemes) },
		metrics:   metrics,
		logger:    logger.WithField("component", "ai_riddle_source"),
	}
}
