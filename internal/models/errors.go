package models

import "errors"

var (
	ErrInsufficientFunds = errors.New("insufficient saldo")
	ErrOrderNotFound     = errors.New("order not found")
	ErrUserNotFound      = errors.New("user not found")
)
