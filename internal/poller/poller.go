// Package poller is the long-running control loop. Each pass invokes the
// session runner, advances and persists the mention cursor, classifies the
// outcome, sleeps, and refreshes platform credentials when due.
//
// The loop is an explicit state machine:
//
//	STARTING -> POLLING
//	POLLING  -> RATE_LIMIT_BACKOFF -> POLLING   (either service throttled)
//	POLLING  -> FAULT_RECOVERY     -> POLLING   (pass returned an error or panicked)
//	POLLING  -> TERMINATED                      (early exit, debug target, AI auth expired, shutdown)
//
// Only AI authentication expiry terminates with an error. Every other
// failure is retried after a bounded delay.
package poller

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"time"

	"golang.org/x/oauth2"

	"tools.zach/dev/mentionbot/internal/cursor"
	"tools.zach/dev/mentionbot/internal/logger"
	"tools.zach/dev/mentionbot/internal/store"
	"tools.zach/dev/mentionbot/internal/types"
)

// ErrAIAuthExpired is returned by [Poller.Run] when the AI backend rejects
// the configured credentials. It requires operator action.
var ErrAIAuthExpired = errors.New("ai authentication expired; rotate the api key and restart")

// ///////////////////////////////////////////////
// Collaborators
// ///////////////////////////////////////////////

// Runner performs one discovery-and-reply pass.
type Runner interface {
	Run(ctx context.Context, sinceID string, opts types.SessionOptions) (*types.Outcome, error)
}

// Refresher exchanges the refresh token for a new access token. A nil
// result means the refresh did not happen this time.
type Refresher interface {
	Refresh(ctx context.Context) *oauth2.Token
}

// ///////////////////////////////////////////////
// State
// ///////////////////////////////////////////////

// State is a loop state.
type State int

const (
	StateStarting State = iota
	StatePolling
	StateRateLimitBackoff
	StateFaultRecovery
	StateTerminated
)

func (s State) String() string {
	switch s {
	case StateStarting:
		return "STARTING"
	case StatePolling:
		return "POLLING"
	case StateRateLimitBackoff:
		return "RATE_LIMIT_BACKOFF"
	case StateFaultRecovery:
		return "FAULT_RECOVERY"
	case StateTerminated:
		return "TERMINATED"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// Reason records why the loop terminated.
type Reason string

const (
	ReasonNone          Reason = ""
	ReasonEarlyExit     Reason = "early-exit"
	ReasonDebugTarget   Reason = "debug-target"
	ReasonAIAuthExpired Reason = "ai-auth-expired"
	ReasonShutdown      Reason = "shutdown"
)

// ///////////////////////////////////////////////
// Poller
// ///////////////////////////////////////////////

// Config is fixed for the lifetime of the loop.
type Config struct {
	// Session is handed unchanged to every pass.
	Session types.SessionOptions
	// InitialCursor is the starting high-water mark; "" means none.
	InitialCursor string

	// BaseDelay is slept twice after any rate-limited pass.
	BaseDelay time.Duration
	// TwitterRateLimitDelay is added on top when the platform throttled.
	TwitterRateLimitDelay time.Duration
	// BusyDelay follows a productive pass, IdleDelay any other.
	BusyDelay time.Duration
	IdleDelay time.Duration
	// FaultDelay precedes the refresh after a failed pass.
	FaultDelay time.Duration
	// RefreshEvery triggers a proactive credential refresh every N passes.
	// Zero disables the periodic refresh.
	RefreshEvery int
}

// Poller runs passes until a termination condition is met. It is not safe
// for concurrent use; exactly one pass executes at a time.
type Poller struct {
	cfg       Config
	runner    Runner
	refresher Refresher
	store     store.Store
	sleeper   Sleeper

	state   State
	reason  Reason
	cursor  string
	passes  int
	results []types.Interaction
}

// New returns a Poller in the STARTING state.
func New(cfg Config, runner Runner, refresher Refresher, st store.Store, sleeper Sleeper) *Poller {
	if sleeper == nil {
		sleeper = TimerSleeper{}
	}
	return &Poller{
		cfg:       cfg,
		runner:    runner,
		refresher: refresher,
		store:     st,
		sleeper:   sleeper,
		state:     StateStarting,
		cursor:    cursor.Normalize(cfg.InitialCursor),
	}
}

// State returns the current loop state.
func (p *Poller) State() State { return p.state }

// Reason returns why the loop terminated, or "" while running.
func (p *Poller) Reason() Reason { return p.reason }

// Cursor returns the current high-water mark.
func (p *Poller) Cursor() string { return p.cursor }

// Passes returns the number of completed passes.
func (p *Poller) Passes() int { return p.passes }

// Run executes passes until the loop terminates and returns every
// interaction accumulated along the way. The only error it returns is
// [ErrAIAuthExpired]; cancelling ctx ends the loop cleanly.
func (p *Poller) Run(ctx context.Context) ([]types.Interaction, error) {
	p.transition(StatePolling)
	var fatal error
	for p.state != StateTerminated {
		fatal = p.step(ctx)
	}
	slog.Info("polling stopped", "reason", string(p.reason), "passes", p.passes, "interactions", len(p.results), "cursor", p.cursor)
	return p.results, fatal
}

// step runs one pass and its follow-up, leaving the loop in POLLING or
// TERMINATED.
func (p *Poller) step(ctx context.Context) error {
	if ctx.Err() != nil {
		p.terminate(ReasonShutdown)
		return nil
	}

	out, err := p.runPass(ctx)
	if err == nil {
		err = p.advance(ctx, out.SinceMentionID)
	}
	if err != nil {
		if ctx.Err() != nil {
			p.terminate(ReasonShutdown)
			return nil
		}
		p.recoverFault(ctx, err)
		return nil
	}
	return p.handle(ctx, out)
}

// runPass invokes the runner, converting a panic into an error.
func (p *Poller) runPass(ctx context.Context) (out *types.Outcome, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("pass panicked: %v\n%s", r, debug.Stack())
		}
	}()
	out, err = p.runner.Run(ctx, p.cursor, p.cfg.Session)
	if err == nil && out == nil {
		out = &types.Outcome{}
	}
	return out, err
}

// advance reconciles candidate with the local cursor and the store, then
// persists the result unless running dry. Another writer may update the
// store between the read and the write; the larger value wins on the next
// pass.
func (p *Poller) advance(ctx context.Context, candidate string) error {
	if candidate == "" {
		return nil
	}
	next := cursor.Max(p.cursor, candidate)

	stored, err := p.store.Get(ctx, store.KeySinceMentionID)
	if err != nil {
		return fmt.Errorf("reading stored cursor: %w", err)
	}
	next = cursor.Max(next, stored)
	if next == "" {
		return nil
	}
	p.cursor = next

	if p.cfg.Session.DryRun {
		return nil
	}
	if err := p.store.Set(ctx, store.KeySinceMentionID, next); err != nil {
		return fmt.Errorf("persisting cursor: %w", err)
	}
	return nil
}

func (p *Poller) handle(ctx context.Context, out *types.Outcome) error {
	p.results = append(p.results, out.Interactions...)
	slog.Info("pass complete", "pass", p.passes+1, "processed", len(out.Interactions), "cursor", p.cursor)
	for _, in := range out.Interactions {
		slog.Debug("interaction", "mention", in.MentionID, "author", in.AuthorUsername, "replies", len(in.ResponseTweetIDs), "error", in.Error)
	}

	switch {
	case p.cfg.Session.EarlyExit:
		p.terminate(ReasonEarlyExit)
		return nil
	case p.cfg.Session.DebugTweet != "":
		p.terminate(ReasonDebugTarget)
		return nil
	case out.AIAuthExpired:
		p.terminate(ReasonAIAuthExpired)
		return ErrAIAuthExpired
	}

	if out.RateLimited() {
		p.transition(StateRateLimitBackoff)
		service := "ai"
		if out.TwitterRateLimited {
			service = "twitter"
		}
		slog.Warn("rate limited, backing off", "service", service)
		if !p.sleep(ctx, p.cfg.BaseDelay) || !p.sleep(ctx, p.cfg.BaseDelay) {
			return nil
		}
		if out.TwitterRateLimited {
			slog.Info("sleeping longer for platform rate limit", "delay", p.cfg.TwitterRateLimitDelay)
			if !p.sleep(ctx, p.cfg.TwitterRateLimitDelay) {
				return nil
			}
		}
		p.transition(StatePolling)
	}

	delay := p.cfg.IdleDelay
	if out.Productive() {
		delay = p.cfg.BusyDelay
	}
	slog.Debug("sleeping", "delay", delay, "productive", out.Productive())
	if !p.sleep(ctx, delay) {
		return nil
	}

	p.passes++
	periodic := p.cfg.RefreshEvery > 0 && p.passes%p.cfg.RefreshEvery == 0
	if out.TwitterAuthExpired || periodic {
		slog.Info("refreshing platform credentials", "auth_expired", out.TwitterAuthExpired, "pass", p.passes)
		p.refresher.Refresh(ctx)
	}
	return nil
}

// recoverFault logs err with any structured detail, waits, and refreshes
// credentials unconditionally.
func (p *Poller) recoverFault(ctx context.Context, err error) {
	p.transition(StateFaultRecovery)
	attrs := []any{"error", err}
	if detail := errorDetails(err); detail != "" {
		attrs = append(attrs, "details", detail)
	}
	slog.Error("pass failed", attrs...)

	if !p.sleep(ctx, p.cfg.FaultDelay) {
		return
	}
	p.refresher.Refresh(ctx)
	p.transition(StatePolling)
}

// sleep waits for d. On cancellation it terminates the loop and returns
// false.
func (p *Poller) sleep(ctx context.Context, d time.Duration) bool {
	if err := p.sleeper.Sleep(ctx, d); err != nil {
		p.terminate(ReasonShutdown)
		return false
	}
	return true
}

func (p *Poller) transition(to State) {
	if p.state == to {
		return
	}
	logger.Trace(slog.Default(), "state transition", "from", p.state.String(), "to", to.String())
	p.state = to
}

func (p *Poller) terminate(reason Reason) {
	p.reason = reason
	p.transition(StateTerminated)
}

// errorDetails renders the structured payload of any error in err's chain
// that exposes one.
func errorDetails(err error) string {
	var d interface{ Details() any }
	if !errors.As(err, &d) {
		return ""
	}
	data, jerr := json.MarshalIndent(d.Details(), "", "  ")
	if jerr != nil {
		return ""
	}
	return string(data)
}
