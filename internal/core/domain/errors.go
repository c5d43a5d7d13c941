package domain

import "errors"

var (
	ErrUnauthorized      = errors.New("unauthorized")
	ErrTargetOffline     = errors.New("target offline")
	ErrAlreadyInProgress = errors.New("call already in progress")
	ErrNoSuchSession     = errors.New("no such session")
	ErrStoreUnavailable  = errors.New("contact store unavailable")
	ErrAlreadyAttached   = errors.New("identity already attached")
	ErrUnknownIdentity   = errors.New("unknown identity")
	ErrInvalidMessage    = errors.New("invalid message")
)
