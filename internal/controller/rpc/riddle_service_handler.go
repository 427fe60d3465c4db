package controller

import (
	"context"
	"errors"
	"net/http"

	"connectrpc.com/connect"

	"github.com/Max423423/OnChainRiddle/internal/model"
	"github.com/Max423423/OnChainRiddle/internal/usecase"
)

const (
	RiddleServiceName                      string = "riddle.v1.RiddleService"
	RiddleServiceGetCurrentRiddleProcedure string = "/riddle.v1.RiddleService/GetCurrentRiddle"
)

type GetCurrentRiddleRequest struct{}

type GetCurrentRiddleResponse struct {
	Question string  `json:"question"`
	IsActive bool    `json:"isActive"`
	Winner   *string `json:"winner"`
}

type IGetCurrentRiddleUsecase interface {
	Execute(ctx context.Context) usecase.Result[model.ChainRiddle]
}

type RiddleServiceHandler struct {
	gcru IGetCurrentRiddleUsecase
}

// connectError maps domain failures onto connect codes.
func connectError(err error) *connect.Error {
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return connect.NewError(connect.CodeDeadlineExceeded, err)
	case errors.Is(err, model.ErrValidation):
		return connect.NewError(connect.CodeInvalidArgument, err)
	case errors.Is(err, model.ErrConflict), errors.Is(err, model.ErrInvalidState):
		return connect.NewError(connect.CodeFailedPrecondition, err)
	case errors.Is(err, model.ErrBlockchain), errors.Is(err, model.ErrAIService):
		return connect.NewError(connect.CodeUnavailable, err)
	default:
		return connect.NewError(connect.CodeInternal, err)
	}
}

func (rsh *RiddleServiceHandler) GetCurrentRiddle(ctx context.Context, r *connect.Request[GetCurrentRiddleRequest]) (*connect.Response[GetCurrentRiddleResponse], error) {
	res := rsh.gcru.Execute(ctx)
	if !res.Success {
		return nil, connectError(res.Err)
	}
	return connect.NewResponse(&GetCurrentRiddleResponse{
		Question: res.Data.Question,
		IsActive: res.Data.IsActive,
		Winner:   res.Data.Winner,
	}), nil
}

func NewRiddleServiceHandler(gcru IGetCurrentRiddleUsecase) *RiddleServiceHandler {
	return &RiddleServiceHandler{
		gcru: gcru,
	}
}

// NewRiddleServiceHTTPHandler mounts the service the way generated connect
// code does: a path prefix plus a handler for every procedure under it.
func NewRiddleServiceHTTPHandler(svc *RiddleServiceHandler, opts ...connect.HandlerOption) (string, http.Handler) {
	opts = append([]connect.HandlerOption{connect.WithCodec(jsonCodec{})}, opts...)
	getCurrentRiddle := connect.NewUnaryHandler(
		RiddleServiceGetCurrentRiddleProcedure,
		svc.GetCurrentRiddle,
		opts...,
	)
	return "/" + RiddleServiceName + "/", http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case RiddleServiceGetCurrentRiddleProcedure:
			getCurrentRiddle.ServeHTTP(w, r)
		default:
			http.NotFound(w, r)
		}
	})
}

type RiddleServiceClient struct {
	getCurrentRiddle *connect.Client[GetCurrentRiddleRequest, GetCurrentRiddleResponse]
}

func (c *RiddleServiceClient) GetCurrentRiddle(ctx context.Context) (*GetCurrentRiddleResponse, error) {
	res, err := c.getCurrentRiddle.CallUnary(ctx, connect.NewRequest(&GetCurrentRiddleRequest{}))
	if err != nil {
		return nil, err
	}
	return res.Msg, nil
}

func NewRiddleServiceClient(httpClient connect.HTTPClient, baseURL string, opts ...connect.ClientOption) *RiddleServiceClient {
	opts = append([]connect.ClientOption{connect.WithCodec(jsonCodec{})}, opts...)
	return &RiddleServiceClient{
		getCurrentRiddle: connect.NewClient[GetCurrentRiddleRequest, GetCurrentRiddleResponse](
			httpClient,
			baseURL+RiddleServiceGetCurrentRiddleProcedure,
			opts...,
		),
	}
}
