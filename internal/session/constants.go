package session

import (
	"errors"
	"time"
)

const (
	// DefaultActionTimeout bounds a single page action
	DefaultActionTimeout = 60 * time.Second

	// DefaultWaitTimeout is used by wait_for_element when no timeout is given
	DefaultWaitTimeout = 30 * time.Second

	// MaxWaitTimeout is the longest timeout wait_for_element accepts
	MaxWaitTimeout = 24 * time.Hour

	// DefaultStartTimeout bounds browser launch plus the initial navigation
	DefaultStartTimeout = 60 * time.Second

	// SessionIDPrefix marks browser session ids
	SessionIDPrefix = "sess_"
)

// Error definitions
var (
	ErrSessionNotFound     = errors.New("session not found")
	ErrNoActivePage        = errors.New("no active page, start the session first")
	ErrBrowserLimitReached = errors.New("browser limit reached")
)
