package vrf

import "errors"

var (
	ErrNonexistentRequest          = errors.New("nonexistent request")
	ErrInvalidSubscription         = errors.New("invalid subscription")
	ErrInvalidConsumer             = errors.New("invalid consumer")
	ErrInsufficientBalance         = errors.New("insufficient balance")
	ErrMustBeSubOwner              = errors.New("must be subscription owner")
	ErrTooManyConsumers            = errors.New("too many consumers")
	ErrNumWordsTooBig              = errors.New("num words too big")
	ErrGasLimitTooBig              = errors.New("gas limit too big")
	ErrInvalidRequestConfirmations = errors.New("invalid request confirmations")
	ErrInvalidKeyHash              = errors.New("invalid key hash")
	ErrInvalidRandomWords          = errors.New("invalid random words")
	ErrInvalidAmount               = errors.New("invalid amount")
)
