package model

import (
	"strings"
	"time"

	"github.com/google/uuid"
)

// チェーンから読んだだけのなぞなぞは答えを知らないのでこれを入れておく
const UnknownAnswer string = "unknown"

type Riddle struct {
	riddleID  uuid.UUID
	question  string
	answer    string
	isActive  bool
	winner    string
	createdAt time.Time
}

// RiddleView is the public projection of a riddle. It never carries the answer.
type RiddleView struct {
	ID        string    `json:"id"`
	Question  string    `json:"question"`
	IsActive  bool      `json:"isActive"`
	Winner    *string   `json:"winner"`
	CreatedAt time.Time `json:"createdAt"`
	IsSolved  bool      `json:"isSolved"`
}

func (r Riddle) GetRiddleID() uuid.UUID {
	return r.riddleID
}

func (r Riddle) GetQuestion() string {
	return r.question
}

func (r Riddle) GetAnswer() string {
	return r.answer
}

func (r Riddle) GetIsActive() bool {
	return r.isActive
}

func (r Riddle) GetWinner() string {
	return r.winner
}

func (r Riddle) GetCreatedAt() time.Time {
	return r.createdAt
}

func (r *Riddle) Activate() {
	r.isActive = true
	r.winner = ""
}

func (r *Riddle) Deactivate() {
	r.isActive = false
}

// SetWinner is the only way a riddle becomes solved.
func (r *Riddle) SetWinner(address string) error {
	if !r.isActive {
		return NewInvalidStateError("Cannot set winner for inactive riddle")
	}
	r.winner = address
	r.isActive = false
	return nil
}

func (r Riddle) IsSolved() bool {
	return r.winner != ""
}

func (r Riddle) ValidateAnswer(candidate string) bool {
	candidate = strings.TrimSpace(candidate)
	if candidate == "" {
		return false
	}
	return strings.EqualFold(candidate, r.answer)
}

func (r Riddle) ToPublicView() RiddleView {
	view := RiddleView{
		ID:        r.riddleID.String(),
		Question:  r.question,
		IsActive:  r.isActive,
		CreatedAt: r.createdAt,
		IsSolved:  r.IsSolved(),
	}
	if r.winner != "" {
		winner := r.winner
		view.Winner = &winner
	}
	return view
}

func NewRiddle(question string, answer string) (*Riddle, error) {
	question = strings.TrimSpace(question)
	answer = strings.TrimSpace(answer)
	if question == "" {
		return nil, NewValidationError("Riddle question cannot be empty")
	}
	if answer == "" {
		return nil, NewValidationError("Riddle answer cannot be empty")
	}

	riddleID, err := uuid.NewRandom()
	if err != nil {
		return nil, err
	}

	return &Riddle{
		riddleID:  riddleID,
		question:  question,
		answer:    strings.ToLower(answer),
		isActive:  false,
		winner:    "",
		createdAt: time.Now().UTC(),
	}, nil
}

// ReconstructRiddle rebuilds a riddle from mirrored chain state. A winner is
// only kept for an inactive riddle.
func ReconstructRiddle(riddleID uuid.UUID, question string, answer string, isActive bool, winner string, createdAt time.Time) *Riddle {
	if isActive {
		winner = ""
	}
	return &Riddle{
		riddleID:  riddleID,
		question:  question,
		answer:    strings.ToLower(strings.TrimSpace(answer)),
		isActive:  isActive,
		winner:    winner,
		createdAt: createdAt,
	}
}
