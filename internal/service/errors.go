package service

import (
	"errors"

	"github.com/ayo6706/saldo-exchange/internal/gateway"
	"github.com/ayo6706/saldo-exchange/internal/models"
)

var (
	ErrValidation        = errors.New("validation failed")
	ErrInsufficientFunds = models.ErrInsufficientFunds
	ErrDuplicateOrder    = errors.New("an identical order was submitted moments ago")
	ErrBelowMinimum      = errors.New("amount is below the minimum")
	ErrPayoutFailed      = errors.New("payout request failed, saldo has been returned")
	ErrOrderNotFound     = models.ErrOrderNotFound
	ErrInvalidSignature  = gateway.ErrInvalidSignature
	ErrProofNotAllowed   = errors.New("order does not accept proof of payment")
	ErrUnsupportedFile   = errors.New("unsupported file type")
	ErrFileTooLarge      = errors.New("file too large")
	ErrForbidden         = errors.New("order belongs to another user")
	ErrRateUnavailable   = errors.New("rate unavailable")
)
