package controller

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/sirupsen/logrus"

	"github.com/Max423423/OnChainRiddle/internal/controller/middleware"
	"github.com/Max423423/OnChainRiddle/internal/model"
	"github.com/Max423423/OnChainRiddle/internal/usecase"
)

const (
	ServiceName    string = "onchain-riddle-backend"
	maxRequestBody int64  = 1 << 16
)

type IGenerateRiddleUsecase interface {
	Execute(ctx context.Context) usecase.Result[model.RiddleView]
}

type IHandleWinnerUsecase interface {
	Execute(ctx context.Context, winnerAddress string) usecase.Result[usecase.WinnerOutcome]
}

type IGetStatusUsecase interface {
	Execute(ctx context.Context) usecase.Result[usecase.StatusView]
}

type IGetRiddleHistoryUsecase interface {
	Execute(ctx context.Context) usecase.Result[usecase.RiddleHistoryView]
}

type HealthResponse struct {
	Status    string    `json:"status"`
	Timestamp time.Time `json:"timestamp"`
	Service   string    `json:"service"`
	Version   string    `json:"version"`
}

type GenerateRiddleRequest struct {
	Language   string `json:"language"`
	Difficulty string `json:"difficulty"`
}

type GenerateRiddleResponse struct {
	Success   bool              `json:"success"`
	Data      *model.RiddleView `json:"data"`
	Message   string            `json:"message"`
	Timestamp time.Time         `json:"timestamp"`
}

type HandleWinnerRequest struct {
	WinnerAddress string `json:"winnerAddress"`
}

type HandleWinnerResponse struct {
	Success bool              `json:"success"`
	Message string            `json:"message,omitempty"`
	Error   string            `json:"error,omitempty"`
	Riddle  *model.RiddleView `json:"riddle,omitempty"`
	Updated bool              `json:"updated"`
}

type ErrorResponse struct {
	Success   bool       `json:"success"`
	Error     string     `json:"error"`
	Message   string     `json:"message,omitempty"`
	Timestamp *time.Time `json:"timestamp,omitempty"`
}

type RiddleHandler struct {
	gru     IGenerateRiddleUsecase
	hwu     IHandleWinnerUsecase
	gsu     IGetStatusUsecase
	grhu    IGetRiddleHistoryUsecase
	version string
	clk     clock.Clock
	logger  logrus.FieldLogger
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

// statusForError maps a failed use case to 400 for domain errors and 500 for
// anything unexpected.
func statusForError(err error) int {
	var domainErr *model.Error
	if errors.As(err, &domainErr) {
		return http.StatusBadRequest
	}
	return http.StatusInternalServerError
}

// decodeBody reads an optional JSON body. An empty body leaves v untouched.
func decodeBody(r *http.Request, v any) error {
	err := json.NewDecoder(io.LimitReader(r.Body, maxRequestBody)).Decode(v)
	if errors.Is(err, io.EOF) {
		return nil
	}
	return err
}

func (rh *RiddleHandler) requestLogger(r *http.Request) logrus.FieldLogger {
	return rh.logger.WithField("request_id", middleware.GetRequestIDFromCtx(r.Context()))
}

func (rh *RiddleHandler) Health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, HealthResponse{
		Status:    "OK",
		Timestamp: rh.clk.Now().UTC(),
		Service:   ServiceName,
		Version:   rh.version,
	})
}

func (rh *RiddleHandler) Status(w http.ResponseWriter, r *http.Request) {
	res := rh.gsu.Execute(r.Context())
	if !res.Success {
		rh.requestLogger(r).WithError(res.Err).Error("failed to get status")
		writeJSON(w, http.StatusInternalServerError, ErrorResponse{Error: "Failed to get status"})
		return
	}
	writeJSON(w, http.StatusOK, res.Data)
}

func (rh *RiddleHandler) RiddleHistory(w http.ResponseWriter, r *http.Request) {
	res := rh.grhu.Execute(r.Context())
	if !res.Success {
		rh.requestLogger(r).WithError(res.Err).Error("failed to get riddle history")
		writeJSON(w, http.StatusInternalServerError, ErrorResponse{Error: "Failed to get riddle history"})
		return
	}
	writeJSON(w, http.StatusOK, res.Data)
}

func (rh *RiddleHandler) GenerateRiddle(w http.ResponseWriter, r *http.Request) {
	logger := rh.requestLogger(r)
	req := GenerateRiddleRequest{}
	if err := decodeBody(r, &req); err != nil {
		writeJSON(w, http.StatusBadRequest, GenerateRiddleResponse{
			Message:   "Invalid request body",
			Timestamp: rh.clk.Now().UTC(),
		})
		return
	}
	// 生成は設定値で行う。リクエストの指定はログに残すだけ
	opts, err := model.NewGenerationOptions(req.Language, req.Difficulty)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, GenerateRiddleResponse{
			Message:   err.Error(),
			Timestamp: rh.clk.Now().UTC(),
		})
		return
	}
	logger.WithFields(logrus.Fields{
		"language":   opts.Language,
		"difficulty": opts.Difficulty.String(),
	}).Info("manual riddle generation requested")

	res := rh.gru.Execute(r.Context())
	if !res.Success {
		status := statusForError(res.Err)
		message := res.Message
		if status == http.StatusInternalServerError {
			logger.WithError(res.Err).Error("riddle generation failed unexpectedly")
			message = "Failed to generate riddle"
		}
		writeJSON(w, status, GenerateRiddleResponse{
			Message:   message,
			Timestamp: rh.clk.Now().UTC(),
		})
		return
	}
	writeJSON(w, http.StatusOK, GenerateRiddleResponse{
		Success:   true,
		Data:      &res.Data,
		Message:   res.Message,
		Timestamp: rh.clk.Now().UTC(),
	})
}

func (rh *RiddleHandler) HandleWinner(w http.ResponseWriter, r *http.Request) {
	logger := rh.requestLogger(r)
	req := HandleWinnerRequest{}
	if err := decodeBody(r, &req); err != nil || req.WinnerAddress == "" {
		writeJSON(w, http.StatusBadRequest, HandleWinnerResponse{Error: "Winner address is required"})
		return
	}
	logger.WithField("winner", req.WinnerAddress).Info("manual winner handling requested")

	res := rh.hwu.Execute(r.Context(), req.WinnerAddress)
	if !res.Success {
		status := statusForError(res.Err)
		message := res.Message
		if status == http.StatusInternalServerError {
			logger.WithError(res.Err).Error("winner handling failed unexpectedly")
			message = "Failed to handle winner"
		}
		writeJSON(w, status, HandleWinnerResponse{Error: message})
		return
	}
	writeJSON(w, http.StatusOK, HandleWinnerResponse{
		Success: true,
		Message: res.Message,
		Riddle:  res.Data.Riddle,
		Updated: res.Data.Updated,
	})
}

func (rh *RiddleHandler) NotFound(w http.ResponseWriter, r *http.Request) {
	now := rh.clk.Now().UTC()
	writeJSON(w, http.StatusNotFound, ErrorResponse{
		Error:     "Not found",
		Message:   "Route " + r.URL.Path + " not found",
		Timestamp: &now,
	})
}

func NewRiddleHandler(
	gru IGenerateRiddleUsecase,
	hwu IHandleWinnerUsecase,
	gsu IGetStatusUsecase,
	grhu IGetRiddleHistoryUsecase,
	version string,
	clk clock.Clock,
	logger logrus.FieldLogger,
) *RiddleHandler {
	return &RiddleHandler{
		gru:     gru,
		hwu:     hwu,
		gsu:     gsu,
		grhu:    grhu,
		version: version,
		clk:     clk,
		logger:  logger.WithField("component", "riddle_handler"),
	}
}
