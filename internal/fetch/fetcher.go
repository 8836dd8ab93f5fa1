package fetch

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/danmuck/wabridge/internal/messenger"
	"github.com/danmuck/wabridge/internal/observability"
	"github.com/rs/zerolog"
)

var (
	ErrTimeout   = errors.New("fetch: timed out")
	ErrNilHandle = errors.New("fetch: nil capability handle")
)

const (
	DefaultBudget       = 15 * time.Second
	DefaultMessageLimit = 50
)

// Config configures a Fetcher. Empty chains resolve from DefaultRegistry.
type Config struct {
	Budget        time.Duration
	DefaultLimit  int
	Conversations []Strategy
	Messages      []Strategy
}

// Result is the outcome of one chain run.
type Result struct {
	Kind        Kind
	Records     []Record
	Strategy    string
	Placeholder bool
}

// Fetcher runs strategy chains. It holds no per-request state and is safe for
// concurrent use.
type Fetcher struct {
	budget        time.Duration
	defaultLimit  int
	conversations []Strategy
	messages      []Strategy
	logger        zerolog.Logger
}

func New(cfg Config) *Fetcher {
	if cfg.Budget <= 0 {
		cfg.Budget = DefaultBudget
	}
	if cfg.DefaultLimit <= 0 {
		cfg.DefaultLimit = DefaultMessageLimit
	}
	reg := DefaultRegistry()
	if len(cfg.Conversations) == 0 {
		cfg.Conversations, _ = reg.Chain(DefaultConversationChain)
	}
	if len(cfg.Messages) == 0 {
		cfg.Messages, _ = reg.Chain(DefaultMessageChain)
	}
	return &Fetcher{
		budget:        cfg.Budget,
		defaultLimit:  cfg.DefaultLimit,
		conversations: cfg.Conversations,
		messages:      cfg.Messages,
		logger:        observability.Component("fetch"),
	}
}

// Budget returns the time budget shared by one chain run.
func (f *Fetcher) Budget() time.Duration {
	return f.budget
}

// Fetch runs the chain for q against h. It returns ErrTimeout when the budget
// expires before the chain finishes; an exhausted chain is not an error and
// yields one placeholder record.
func (f *Fetcher) Fetch(ctx context.Context, h messenger.Capability, q Query) (Result, error) {
	if h == nil {
		return Result{}, ErrNilHandle
	}
	if q.Kind == KindMessages && q.Limit == 0 {
		q.Limit = f.defaultLimit
	}
	if err := q.Validate(); err != nil {
		return Result{}, err
	}

	start := time.Now()
	chainCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	done := make(chan Result, 1)
	go func() {
		done <- f.run(chainCtx, h, q)
	}()

	timer := time.NewTimer(f.budget)
	defer timer.Stop()

	select {
	case res := <-done:
		if res.Kind == "" {
			// chain stopped early because the caller went away
			return Result{}, ctx.Err()
		}
		outcome := "ok"
		if res.Placeholder {
			outcome = "exhausted"
		}
		observability.RecordFetchChain(string(q.Kind), outcome, time.Since(start))
		return res, nil
	case <-timer.C:
		observability.RecordFetchChain(string(q.Kind), "timeout", time.Since(start))
		f.logger.Warn().
			Str("kind", string(q.Kind)).
			Dur("budget", f.budget).
			Msg("fetch chain timed out")
		return Result{}, fmt.Errorf("%w after %s", ErrTimeout, f.budget)
	case <-ctx.Done():
		observability.RecordFetchChain(string(q.Kind), "canceled", time.Since(start))
		return Result{}, ctx.Err()
	}
}

func (f *Fetcher) run(ctx context.Context, h messenger.Capability, q Query) Result {
	for _, s := range f.chain(q.Kind) {
		if ctx.Err() != nil {
			return Result{}
		}
		records, err := f.attempt(ctx, s, h, q)
		switch {
		case err != nil:
			observability.RecordFetchAttempt(string(q.Kind), s.Name(), "error")
			f.logger.Warn().
				Str("kind", string(q.Kind)).
				Str("strategy", s.Name()).
				Err(err).
				Msg("fetch strategy failed")
		case len(records) == 0:
			observability.RecordFetchAttempt(string(q.Kind), s.Name(), "empty")
			f.logger.Debug().
				Str("kind", string(q.Kind)).
				Str("strategy", s.Name()).
				Msg("fetch strategy empty")
		default:
			observability.RecordFetchAttempt(string(q.Kind), s.Name(), "ok")
			return Result{Kind: q.Kind, Records: records, Strategy: s.Name()}
		}
	}

	f.logger.Warn().Str("kind", string(q.Kind)).Msg("fetch strategies exhausted, serving placeholder")
	return Result{
		Kind:        q.Kind,
		Records:     []Record{placeholder(q)},
		Strategy:    PlaceholderID,
		Placeholder: true,
	}
}

func (f *Fetcher) attempt(ctx context.Context, s Strategy, h messenger.Capability, q Query) (records []Record, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("fetch: strategy %s panicked: %v", s.Name(), r)
		}
	}()
	raw, err := s.Fetch(ctx, h, q)
	if err != nil {
		return nil, err
	}
	records = normalize(q.Kind, raw)
	if q.Kind == KindMessages && q.Limit > 0 && len(records) > q.Limit {
		records = records[len(records)-q.Limit:]
	}
	return records, nil
}

func (f *Fetcher) chain(kind Kind) []Strategy {
	if kind == KindMessages {
		return f.messages
	}
	return f.conversations
}
