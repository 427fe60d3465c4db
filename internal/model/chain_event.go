package model

// ChainRiddle is the riddle as the contract reports it.
type ChainRiddle struct {
	Question string  `json:"question"`
	IsActive bool    `json:"isActive"`
	Winner   *string `json:"winner"`
}

type WinnerEvent struct {
	Winner      string
	BlockNumber uint64
	TxHash      string
	LogIndex    uint
}

type RiddleSetEvent struct {
	Question    string
	BlockNumber uint64
	TxHash      string
	LogIndex    uint
}
