package usecase

import (
	"fmt"

	"github.com/sirupsen/logrus"
)

// Result is what every Execute returns; failures are carried, never thrown.
type Result[T any] struct {
	Success bool
	Data    T
	Message string
	Err     error
}

func Succeed[T any](data T, message string) Result[T] {
	return Result[T]{
		Success: true,
		Data:    data,
		Message: message,
	}
}

func Fail[T any](err error) Result[T] {
	return Result[T]{
		Success: false,
		Message: err.Error(),
		Err:     err,
	}
}

// recoverResult turns a panic inside Execute into a failed result.
func recoverResult[T any](res *Result[T], logger logrus.FieldLogger) {
	if r := recover(); r != nil {
		logger.WithField("panic", r).Error("use case panicked")
		*res = Fail[T](fmt.Errorf("internal error: %v", r))
	}
}
