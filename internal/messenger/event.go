package messenger

import (
	"errors"
	"fmt"
)

// EventKind enumerates the lifecycle signals emitted by the client.
type EventKind string

const (
	KindQRIssued      EventKind = "qr"
	KindAuthenticated EventKind = "authenticated"
	KindReady         EventKind = "ready"
	KindAuthFailed    EventKind = "auth_failure"
	KindDisconnected  EventKind = "disconnected"
	KindFailure       EventKind = "error"
)

// Event is a closed set of lifecycle variants. Only types in this package
// implement it.
type Event interface {
	Kind() EventKind
	event()
}

type QRIssued struct {
	Payload string
}

type Authenticated struct{}

type Ready struct{}

type AuthFailed struct {
	Reason string
}

type Disconnected struct {
	Reason string
}

type Failure struct {
	Err error
}

func (QRIssued) Kind() EventKind      { return KindQRIssued }
func (Authenticated) Kind() EventKind { return KindAuthenticated }
func (Ready) Kind() EventKind         { return KindReady }
func (AuthFailed) Kind() EventKind    { return KindAuthFailed }
func (Disconnected) Kind() EventKind  { return KindDisconnected }
func (Failure) Kind() EventKind       { return KindFailure }

func (QRIssued) event()      {}
func (Authenticated) event() {}
func (Ready) event()         {}
func (AuthFailed) event()    {}
func (Disconnected) event()  {}
func (Failure) event()       {}

// Message returns the failure text, or "unknown error" for a nil error.
func (f Failure) Message() string {
	if f.Err == nil {
		return "unknown error"
	}
	return f.Err.Error()
}

// DecodeEvent builds an Event from a wire kind and its string payload.
func DecodeEvent(kind EventKind, data string) (Event, error) {
	switch kind {
	case KindQRIssued:
		return QRIssued{Payload: data}, nil
	case KindAuthenticated:
		return Authenticated{}, nil
	case KindReady:
		return Ready{}, nil
	case KindAuthFailed:
		return AuthFailed{Reason: data}, nil
	case KindDisconnected:
		return Disconnected{Reason: data}, nil
	case KindFailure:
		return Failure{Err: errors.New(data)}, nil
	default:
		return nil, fmt.Errorf("messenger: unknown event kind %q", kind)
	}
}
