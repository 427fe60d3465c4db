package infra

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	openai "github.com/sashabaranov/go-openai"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Max423423/OnChainRiddle/internal/model"
)

type fakeCompleter struct {
	mu       sync.Mutex
	replies  []string
	errs     []error
	requests []openai.ChatCompletionRequest
}

func (fc *fakeCompleter) CreateChatCompletion(ctx context.Context, req openai.ChatCompletionRequest) (openai.ChatCompletionResponse, error) {
	fc.mu.Lock()
	defer fc.mu.Unlock()
	i := len(fc.requests)
	fc.requests = append(fc.requests, req)
	if i < len(fc.errs) && fc.errs[i] != nil {
		return openai.ChatCompletionResponse{}, fc.errs[i]
	}
	if i >= len(fc.replies) {
		return openai.ChatCompletionResponse{}, nil
	}
	return openai.ChatCompletionResponse{
		Choices: []openai.ChatCompletionChoice{{Message: openai.ChatCompletionMessage{Content: fc.replies[i]}}},
	}, nil
}

func newTestSource(t *testing.T, client ChatCompleter, cfg AIRiddleSourceConfig, metrics *Metrics) *AIRiddleSource {
	t.Helper()
	logger, _ := test.NewNullLogger()
	s := NewAIRiddleSource(client, NewFallbackRiddleSource(DefaultFallbackRiddles), cfg, metrics, logger)
	s.pickTheme = func() string { return "objects" }
	return s
}

func TestGenerateRiddleWithAnswer(t *testing.T) {
	fc := &fakeCompleter{replies: []string{"  What has keys but no locks?\n", " Keyboard. "}}
	s := newTestSource(t, fc, AIRiddleSourceConfig{
		Options: model.GenerationOptions{Language: "french", Difficulty: model.Hard},
	}, nil)

	draft, err := s.GenerateRiddleWithAnswer(context.Background())
	require.NoError(t, err)
	assert.Equal(t, model.RiddleDraft{Question: "What has keys but no locks?", Answer: "keyboard"}, draft)

	require.Len(t, fc.requests, 2)
	q := fc.requests[0]
	assert.Equal(t, openai.GPT3Dot5Turbo0125, q.Model)
	assert.Equal(t, 100, q.MaxTokens)
	assert.Equal(t, float32(0.8), q.Temperature)
	assert.Equal(t, "You are a creative riddle master. Generate unique riddles in french with clear, single-word answers.", q.Messages[0].Content)
	assert.Equal(t, "Generate a hard riddle about objects in french. The riddle should have a clear, single-word answer.", q.Messages[1].Content)

	a := fc.requests[1]
	assert.Equal(t, 30, a.MaxTokens)
	assert.Equal(t, float32(0.3), a.Temperature)
	assert.Contains(t, a.Messages[1].Content, "\"What has keys but no locks?\"")
}

func TestGenerateRiddleFallback(t *testing.T) {
	t.Run("rotates through the pool", func(t *testing.T) {
		fc := &fakeCompleter{errs: make([]error, 64)}
		for i := range fc.errs {
			fc.errs[i] = errors.New("429 too many requests")
		}
		reg := prometheus.NewRegistry()
		metrics := NewMetrics(reg)
		s := newTestSource(t, fc, AIRiddleSourceConfig{}, metrics)

		n := len(DefaultFallbackRiddles)*2 + 3
		got := make([]model.RiddleDraft, 0, n)
		for range n {
			draft, err := s.GenerateRiddleWithAnswer(context.Background())
			require.NoError(t, err)
			got = append(got, draft)
		}
		for i, draft := range got {
			assert.Equal(t, DefaultFallbackRiddles[i%len(DefaultFallbackRiddles)], draft, i)
			if i > 0 {
				assert.NotEqual(t, got[i-1], draft)
			}
		}
		assert.Equal(t, float64(n), testutil.ToFloat64(metrics.FallbackRiddles))
	})

	t.Run("answer call fails", func(t *testing.T) {
		fc := &fakeCompleter{replies: []string{"a riddle"}, errs: []error{nil, errors.New("timeout")}}
		s := newTestSource(t, fc, AIRiddleSourceConfig{}, nil)
		draft, err := s.GenerateRiddleWithAnswer(context.Background())
		require.NoError(t, err)
		assert.Equal(t, DefaultFallbackRiddles[0], draft)
	})

	t.Run("empty content", func(t *testing.T) {
		fc := &fakeCompleter{replies: []string{"   "}}
		s := newTestSource(t, fc, AIRiddleSourceConfig{}, nil)
		draft, err := s.GenerateRiddleWithAnswer(context.Background())
		require.NoError(t, err)
		assert.Equal(t, "keyboard", draft.Answer)
	})

	t.Run("force remote", func(t *testing.T) {
		fc := &fakeCompleter{errs: []error{errors.New("invalid api key")}}
		s := newTestSource(t, fc, AIRiddleSourceConfig{ForceRemote: true}, nil)
		_, err := s.GenerateRiddleWithAnswer(context.Background())
		assert.ErrorIs(t, err, model.ErrAIService)
	})

	t.Run("empty pool", func(t *testing.T) {
		logger, _ := test.NewNullLogger()
		fc := &fakeCompleter{errs: []error{errors.New("down")}}
		s := NewAIRiddleSource(fc, NewFallbackRiddleSource(nil), AIRiddleSourceConfig{}, nil, logger)
		_, err := s.GenerateRiddleWithAnswer(context.Background())
		assert.ErrorIs(t, err, model.ErrAIService)
		assert.ErrorIs(t, err, ErrEmptyFallbackPool)
		assert.Contains(t, err.Error(), "down")
	})
}

func TestGenerateQuestionErrors(t *testing.T) {
	s := newTestSource(t, &fakeCompleter{errs: []error{errors.New("boom")}}, AIRiddleSourceConfig{}, nil)
	_, err := s.GenerateQuestion(context.Background(), "english", model.Easy)
	assert.ErrorIs(t, err, model.ErrAIService)

	s = newTestSource(t, &fakeCompleter{}, AIRiddleSourceConfig{}, nil)
	_, err = s.GenerateAnswer(context.Background(), "q", "english")
	assert.ErrorIs(t, err, model.ErrAIService)
}

func TestOpenAIClientCompatibleEndpoint(t *testing.T) {
	var mu sync.Mutex
	var got []openai.ChatCompletionRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/chat/completions", r.URL.Path)
		assert.Equal(t, "Bearer sk-test", r.Header.Get("Authorization"))
		var req openai.ChatCompletionRequest
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		mu.Lock()
		got = append(got, req)
		n := len(got)
		mu.Unlock()

		content := "What has a neck but no head?"
		if n == 2 {
			content = "Bottle"
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"id":     "chatcmpl-1",
			"object": "chat.completion",
			"model":  req.Model,
			"choices": []map[string]any{{
				"index":         0,
				"message":       map[string]string{"role": "assistant", "content": content},
				"finish_reason": "stop",
			}},
		})
	}))
	defer srv.Close()

	client := NewOpenAIClient("sk-test", srv.URL+"/v1", 5*time.Second)
	s := newTestSource(t, client, AIRiddleSourceConfig{ForceRemote: true}, nil)

	draft, err := s.GenerateRiddleWithAnswer(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "What has a neck but no head?", draft.Question)
	assert.Equal(t, "bottle", draft.Answer)
	mu.Lock()
	defer mu.Unlock()
	require.Len(t, got, 2)
	assert.Equal(t, "system", got[0].Messages[0].Role)
}
