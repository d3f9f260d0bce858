package session

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/zrcore/zrc/internal/recovery"
)

// LadderRung is one attemptable transport endpoint paired with the
// per-attempt timeout to apply to it (spec §4.9: 3-10s per rung).
type LadderRung struct {
	Endpoint TransportEndpoint
	Timeout  time.Duration
}

// Dialer opens a transport connection to endpoint, returning an opaque
// handle the caller uses afterwards (a net.Conn, a quic.Connection, ...).
// It must respect ctx cancellation.
type Dialer func(ctx context.Context, endpoint TransportEndpoint) (conn any, err error)

// rungAttempt is a non-blocking failure record kept for diagnostics.
type rungAttempt struct {
	Kind TransportKind
	Err  error
}

// TransportLadder tries a sequence of rungs to establish a session
// connection, in controller preference order.
type TransportLadder struct {
	rungs []LadderRung
	dial  Dialer
}

// NewTransportLadder builds a ladder from rungs in attempt order, using
// dial to open each one.
func NewTransportLadder(rungs []LadderRung, dial Dialer) *TransportLadder {
	return &TransportLadder{rungs: rungs, dial: dial}
}

// DialSequential tries each rung in order, stopping at the first success.
// Each attempt is bounded by its rung's Timeout. If every rung fails, it
// returns an error wrapping ErrAllTransportsFailed whose text lists every
// attempt's error.
func (l *TransportLadder) DialSequential(ctx context.Context) (TransportKind, any, error) {
	var attempts []rungAttempt
	for _, rung := range l.rungs {
		attemptCtx, cancel := context.WithTimeout(ctx, rung.Timeout)
		conn, err := l.dial(attemptCtx, rung.Endpoint)
		cancel()
		if err == nil {
			return rung.Endpoint.Kind, conn, nil
		}
		attempts = append(attempts, rungAttempt{Kind: rung.Endpoint.Kind, Err: err})
		if ctx.Err() != nil {
			break
		}
	}
	return "", nil, fmt.Errorf("%w: %v", ErrAllTransportsFailed, attempts)
}

// raceResult carries one rung's outcome back to DialParallel's selector.
type raceResult struct {
	kind TransportKind
	conn any
	err  error
}

// Closer is implemented by connection handles that DialParallel can tear
// down when they lose the race.
type Closer interface {
	Close() error
}

// DialParallel races every rung concurrently and returns the first
// success. Once a winner arrives the remaining attempts' context is
// cancelled, and DialParallel waits for every rung to report before
// returning, closing each later successful connection itself. If every
// rung fails, it returns ErrAllTransportsFailed.
func (l *TransportLadder) DialParallel(ctx context.Context) (TransportKind, any, error) {
	raceCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	results := make(chan raceResult, len(l.rungs))
	for _, rung := range l.rungs {
		rung := rung
		go func() {
			defer recovery.RecoverWithCallback(slog.Default(), "session.ladder.dial:"+string(rung.Endpoint.Kind), func(r any) {
				results <- raceResult{kind: rung.Endpoint.Kind, err: fmt.Errorf("rung dial panicked: %v", r)}
			})
			attemptCtx, attemptCancel := context.WithTimeout(raceCtx, rung.Timeout)
			defer attemptCancel()
			conn, err := l.dial(attemptCtx, rung.Endpoint)
			results <- raceResult{kind: rung.Endpoint.Kind, conn: conn, err: err}
		}()
	}

	var attempts []rungAttempt
	var winner *raceResult
	for i := 0; i < len(l.rungs); i++ {
		r := <-results
		if r.err != nil {
			attempts = append(attempts, rungAttempt{Kind: r.kind, Err: r.err})
			continue
		}
		if winner == nil {
			winner = &r
			cancel()
			continue
		}
		if closer, ok := r.conn.(Closer); ok {
			closer.Close()
		}
	}

	if winner == nil {
		return "", nil, fmt.Errorf("%w: %v", ErrAllTransportsFailed, attempts)
	}
	return winner.kind, winner.conn, nil
}
