package model

import "strings"

type Difficulty string

const (
	Easy   Difficulty = "easy"
	Medium Difficulty = "medium"
	Hard   Difficulty = "hard"
)

const DefaultLanguage string = "english"

func (d Difficulty) IsValid() bool {
	switch d {
	case Easy, Medium, Hard:
		return true
	default:
		return false
	}
}

func (d Difficulty) String() string {
	return string(d)
}

func ParseDifficulty(s string) (Difficulty, error) {
	d := Difficulty(strings.ToLower(strings.TrimSpace(s)))
	if d == "" {
		return Medium, nil
	}
	if !d.IsValid() {
		return "", NewValidationError("difficulty must be one of easy, medium, hard: " + s)
	}
	return d, nil
}

// GenerationOptions are fixed when the riddle source is built, not per call.
type GenerationOptions struct {
	Language   string
	Difficulty Difficulty
}

func NewGenerationOptions(language string, difficulty string) (GenerationOptions, error) {
	language = strings.TrimSpace(language)
	if language == "" {
		language = DefaultLanguage
	}
	d, err := ParseDifficulty(difficulty)
	if err != nil {
		return GenerationOptions{}, err
	}
	return GenerationOptions{
		Language:   language,
		Difficulty: d,
	}, nil
}

// RiddleDraft is a generated question/answer pair before it becomes a Riddle.
type RiddleDraft struct {
	Question string
	Answer   string
}
