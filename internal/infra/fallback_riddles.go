package infra

import (
	"errors"
	"sync"

	"github.com/Max423423/OnChainRiddle/internal/model"
)

var ErrEmptyFallbackPool = errors.New("fallback riddle pool is empty")

var DefaultFallbackRiddles = []model.RiddleDraft{
	{Question: "What has keys, but no locks; space, but no room; and you can enter, but not go in?", Answer: "keyboard"},
	{Question: "I speak without a mouth and hear without ears. I have no body, but I come alive with wind. What am I?", Answer: "echo"},
	{Question: "What has cities, but no houses; forests, but no trees; and rivers, but no water?", Answer: "map"},
	{Question: "What gets wetter and wetter the more it dries?", Answer: "towel"},
	{Question: "What has a head and a tail but no body?", Answer: "coin"},
	{Question: "What can travel around the world while staying in a corner?", Answer: "stamp"},
	{Question: "What has keys that open no door, space but no room, and you can enter but not go in?", Answer: "computer"},
	{Question: "What breaks when you say it?", Answer: "silence"},
	{Question: "What has legs, but doesn't walk?", Answer: "table"},
	{Question: "What has one eye, but can't see?", Answer: "needle"},
}

// FallbackRiddleSource hands out a fixed pool round-robin.
type FallbackRiddleSource struct {
	pool   []model.RiddleDraft
	cursor int
	mu     sync.Mutex
}

func (fs *FallbackRiddleSource) Next() (model.RiddleDraft, error) {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	if len(fs.pool) == 0 {
		return model.RiddleDraft{}, ErrEmptyFallbackPool
	}
	draft := fs.pool[fs.cursor]
	fs.cursor = (fs.cursor + 1) % len(fs.pool)
	return draft, nil
}

func (fs *FallbackRiddleSource) Size() int {
	return len(fs.pool)
}

func NewFallbackRiddleSource(pool []model.RiddleDraft) *FallbackRiddleSource {
	cp := make([]model.RiddleDraft, len(pool))
	copy(cp, pool)
	return &FallbackRiddleSource{
		pool: cp,
	}
}
