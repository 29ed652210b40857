package domain

import "errors"

var (
	ErrNotFound         = errors.New("not found")
	ErrNoWallet         = errors.New("no funded wallet available")
	ErrNoConversionPath = errors.New("no conversion path")
	ErrLockHeld         = errors.New("lock already held")
)
