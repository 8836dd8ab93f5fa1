package session

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"sync"
	"time"

	"github.com/danmuck/wabridge/internal/messenger"
	"github.com/danmuck/wabridge/internal/observability"
	"github.com/rs/zerolog"
)

var (
	ErrNotReady      = errors.New("session: not ready")
	ErrNilCapability = errors.New("session: nil capability")
)

// ReadyFunc runs once per transition into ready.
type ReadyFunc func(messenger.Capability) error

// Snapshot is a read-only copy of the session state.
type Snapshot struct {
	Status                Status
	LastError             string
	HasCredential         bool
	CredentialFingerprint string
	Since                 time.Time
	RetryAttempt          int
}

// State is the mutable session state. It is only touched under Lifecycle.mu.
type State struct {
	Status           Status
	PairingArtifact  string
	AccessCredential string
	LastError        string
	Since            time.Time
}

type stopper interface {
	Stop() bool
}

type scheduleFunc func(delay time.Duration, fn func()) stopper

func afterFunc(delay time.Duration, fn func()) stopper {
	return time.AfterFunc(delay, fn)
}

// Lifecycle drives the capability through initialization and keeps the
// session state current from its events.
type Lifecycle struct {
	mu sync.Mutex

	cfg        Config
	capability messenger.Capability
	state      State
	attached   bool
	closed     bool

	readyFns []ReadyFunc

	attempt int
	retry   stopper

	ctx    context.Context
	cancel context.CancelFunc

	schedule      scheduleFunc
	rng           *rand.Rand
	newCredential func() string
	now           func() time.Time
	logger        zerolog.Logger
}

var _ messenger.Observer = (*Lifecycle)(nil)

// NewLifecycle constructs a lifecycle in not_started for one capability.
func NewLifecycle(capability messenger.Capability, cfg Config) (*Lifecycle, error) {
	if capability == nil {
		return nil, ErrNilCapability
	}
	ctx, cancel := context.WithCancel(context.Background())
	l := &Lifecycle{
		cfg:           cfg.WithDefaults(),
		capability:    capability,
		ctx:           ctx,
		cancel:        cancel,
		schedule:      afterFunc,
		rng:           rand.New(rand.NewSource(time.Now().UnixNano())),
		newCredential: newCredential,
		now:           time.Now,
		logger:        observability.Component("session"),
	}
	l.state = State{Status: StatusNotStarted, Since: l.now()}
	observability.RecordSessionTransition("", string(StatusNotStarted))
	return l, nil
}

// Start begins initialization and returns the resulting status. It is a no-op
// while initialization is in flight or the session is up. From a failed
// status it retries immediately, replacing any scheduled retry.
func (l *Lifecycle) Start() Status {
	l.mu.Lock()
	if l.closed || !l.state.Status.Restartable() {
		status := l.state.Status
		l.mu.Unlock()
		return status
	}
	l.cancelRetryLocked()
	l.transitionLocked(StatusInitializing)
	if !l.attached {
		l.capability.SetObserver(l)
		l.attached = true
	}
	ctx := l.ctx
	l.mu.Unlock()

	l.logger.Info().Msg("session initialize")
	go l.initialize(ctx)
	return StatusInitializing
}

func (l *Lifecycle) initialize(ctx context.Context) {
	if err := l.capability.Initialize(ctx); err != nil {
		if ctx.Err() != nil {
			return
		}
		if errors.Is(err, messenger.ErrDisconnected) {
			// the capability reports the drop as Disconnected, which owns the retry
			l.logger.Warn().Err(err).Msg("session initialize interrupted by disconnect")
			return
		}
		l.logger.Error().Err(err).Msg("session initialize failed")
		l.HandleEvent(messenger.Failure{Err: fmt.Errorf("initialize: %w", err)})
	}
}

// HandleEvent applies one capability event to the session state.
func (l *Lifecycle) HandleEvent(ev messenger.Event) {
	if ev == nil {
		return
	}

	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		return
	}
	from := l.state.Status
	if from == StatusNotStarted {
		l.mu.Unlock()
		l.logger.Warn().Str("event", string(ev.Kind())).Msg("session event ignored before start")
		return
	}

	var fire []ReadyFunc
	switch e := ev.(type) {
	case messenger.QRIssued:
		l.state.PairingArtifact = e.Payload
		l.state.LastError = ""
	case messenger.Authenticated:
	case messenger.Ready:
		l.cancelRetryLocked()
		l.attempt = 0
		l.state.LastError = ""
		if l.state.AccessCredential == "" {
			l.state.AccessCredential = l.newCredential()
			l.logger.Info().
				Str("fingerprint", Fingerprint(l.state.AccessCredential)).
				Msg("session credential issued")
		}
		if from != StatusReady {
			fire = append(fire, l.readyFns...)
		}
	case messenger.AuthFailed:
		l.state.LastError = e.Reason
		l.scheduleRetryLocked("auth_failed", l.cfg.FailureBackoff)
	case messenger.Disconnected:
		l.state.LastError = e.Reason
		l.scheduleRetryLocked("disconnected", l.cfg.DisconnectBackoff)
	case messenger.Failure:
		l.state.LastError = e.Message()
		l.scheduleRetryLocked("error", l.cfg.FailureBackoff)
	default:
		l.mu.Unlock()
		l.logger.Warn().Str("event", fmt.Sprintf("%T", ev)).Msg("session event unknown")
		return
	}
	l.transitionLocked(Next(from, ev))
	capability := l.capability
	l.mu.Unlock()

	l.runReady(capability, fire)
}

// Snapshot returns the current status view.
func (l *Lifecycle) Snapshot() Snapshot {
	l.mu.Lock()
	defer l.mu.Unlock()
	return Snapshot{
		Status:                l.state.Status,
		LastError:             l.state.LastError,
		HasCredential:         l.state.AccessCredential != "",
		CredentialFingerprint: Fingerprint(l.state.AccessCredential),
		Since:                 l.state.Since,
		RetryAttempt:          l.attempt,
	}
}

// Status returns only the current status.
func (l *Lifecycle) Status() Status {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.state.Status
}

// PairingArtifact returns the latest QR payload while pairing is pending.
func (l *Lifecycle) PairingArtifact() (string, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.state.Status != StatusQRPending || l.state.PairingArtifact == "" {
		return "", false
	}
	return l.state.PairingArtifact, true
}

// Credential returns the access credential once the session has been ready.
func (l *Lifecycle) Credential() (string, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.state.AccessCredential, l.state.AccessCredential != ""
}

// Handle returns the capability for issuing operations while ready.
func (l *Lifecycle) Handle() (messenger.Capability, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.state.Status != StatusReady {
		return nil, fmt.Errorf("%w: status=%s", ErrNotReady, l.state.Status)
	}
	return l.capability, nil
}

// OnReady registers fn for every transition into ready. If the session is
// ready now, fn also runs immediately.
func (l *Lifecycle) OnReady(fn ReadyFunc) {
	if fn == nil {
		return
	}
	l.mu.Lock()
	l.readyFns = append(l.readyFns, fn)
	ready := l.state.Status == StatusReady
	capability := l.capability
	l.mu.Unlock()

	if ready {
		l.runReady(capability, []ReadyFunc{fn})
	}
}

// Close cancels pending retries and closes the capability.
func (l *Lifecycle) Close() error {
	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		return nil
	}
	l.closed = true
	l.cancelRetryLocked()
	l.mu.Unlock()

	l.cancel()
	return l.capability.Close()
}

func (l *Lifecycle) runReady(capability messenger.Capability, fns []ReadyFunc) {
	for i, fn := range fns {
		func() {
			defer func() {
				if r := recover(); r != nil {
					l.logger.Error().Int("callback", i).Interface("panic", r).Msg("session ready callback panicked")
				}
			}()
			if err := fn(capability); err != nil {
				l.logger.Error().Int("callback", i).Err(err).Msg("session ready callback failed")
			}
		}()
	}
}

func (l *Lifecycle) transitionLocked(to Status) {
	from := l.state.Status
	if to != StatusQRPending {
		l.state.PairingArtifact = ""
	}
	if from == to {
		return
	}
	l.state.Status = to
	l.state.Since = l.now()
	observability.RecordSessionTransition(string(from), string(to))
	l.logger.Info().Str("from", string(from)).Str("to", string(to)).Msg("session transition")
}

func (l *Lifecycle) scheduleRetryLocked(cause string, backoff BackoffConfig) {
	l.cancelRetryLocked()
	l.attempt++
	delay := NextBackoffDelay(backoff, l.attempt, l.rng)
	l.retry = l.schedule(delay, func() { l.Start() })
	observability.RecordSessionRetry(cause)
	l.logger.Warn().
		Str("cause", cause).
		Int("attempt", l.attempt).
		Dur("delay", delay).
		Msg("session retry scheduled")
}

func (l *Lifecycle) cancelRetryLocked() {
	if l.retry != nil {
		l.retry.Stop()
		l.retry = nil
	}
}
