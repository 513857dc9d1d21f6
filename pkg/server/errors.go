package server

import (
	"errors"
	"fmt"
)

var (
	// ErrValidation classifies invalid server configuration or wiring.
	ErrValidation = errors.New("server validation error")
	// ErrListener classifies listener startup or accept failures.
	ErrListener = errors.New("server listener error")
	// ErrShutdown classifies graceful shutdown failures.
	ErrShutdown = errors.New("server shutdown error")
)

func serverError(kind error, message string) error {
	if message == "" {
		return kind
	}
	return fmt.Errorf("%w: %s", kind, message)
}
