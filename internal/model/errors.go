package model

import "errors"

var (
	ErrKeyGeneration        = errors.New("key generation failed")
	ErrWalletNotFound       = errors.New("wallet not found")
	ErrInsufficientFunds    = errors.New("insufficient funds")
	ErrRateLimitExceeded    = errors.New("rate limit exceeded")
	ErrDoubleSpend          = errors.New("double spend")
	ErrInvalidSignature     = errors.New("invalid signature")
	ErrValueImbalance       = errors.New("inputs do not cover outputs")
	ErrUnknownInput         = errors.New("unknown input")
	ErrChainIntegrity       = errors.New("chain integrity violated")
	ErrEmptyChain           = errors.New("chain has no genesis block")
	ErrChainExists          = errors.New("chain already exists")
	ErrInvalidAddress       = errors.New("invalid address")
	ErrInvalidAmount        = errors.New("invalid amount")
	ErrMalformedTransaction = errors.New("malformed transaction")
	ErrMalformedRecord      = errors.New("malformed record")
)
