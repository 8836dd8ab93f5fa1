package session

import "github.com/danmuck/wabridge/internal/messenger"

// Status is the connection lifecycle status.
type Status string

const (
	StatusNotStarted    Status = "not_started"
	StatusInitializing  Status = "initializing"
	StatusQRPending     Status = "qr_pending"
	StatusAuthenticated Status = "authenticated"
	StatusReady         Status = "ready"
	StatusAuthFailed    Status = "auth_failed"
	StatusDisconnected  Status = "disconnected"
	StatusError         Status = "error"
)

// Statuses lists every status in declaration order.
func Statuses() []Status {
	return []Status{
		StatusNotStarted,
		StatusInitializing,
		StatusQRPending,
		StatusAuthenticated,
		StatusReady,
		StatusAuthFailed,
		StatusDisconnected,
		StatusError,
	}
}

// Restartable reports whether Start may begin a new initialization from s.
func (s Status) Restartable() bool {
	switch s {
	case StatusNotStarted, StatusAuthFailed, StatusDisconnected, StatusError:
		return true
	default:
		return false
	}
}

// Next is the transition table. Events observed before the first Start leave
// the status unchanged.
func Next(from Status, ev messenger.Event) Status {
	if from == StatusNotStarted {
		return from
	}
	switch ev.(type) {
	case messenger.QRIssued:
		return StatusQRPending
	case messenger.Authenticated:
		return StatusAuthenticated
	case messenger.Ready:
		return StatusReady
	case messenger.AuthFailed:
		return StatusAuthFailed
	case messenger.Disconnected:
		return StatusDisconnected
	case messenger.Failure:
		return StatusError
	default:
		return from
	}
}
