// Package fastfallback implements FastFallbackFinder, the connection
// core's concurrency engine: race a RoutePlanner's successive Plans 250 ms
// apart, returning the first usable connection and cancelling every loser.
//
// Launched goroutines run on a sourcegraph/conc/pool so a panicking dialer
// never takes down the caller, and go.uber.org/multierr accumulates the
// first-error-plus-suppressed chain returned when every route is exhausted.
package fastfallback

import (
	"context"
	"errors"
	"io"
	"syscall"
	"time"

	"github.com/sourcegraph/conc/panics"
	concpool "github.com/sourcegraph/conc/pool"
	"go.uber.org/multierr"

	"github.com/thushan/hconnect/internal/connectplan"
	"github.com/thushan/hconnect/internal/domain"
	"github.com/thushan/hconnect/internal/logger"
	"github.com/thushan/hconnect/internal/planner"
	"github.com/thushan/hconnect/internal/ports"
)

// LaunchDelay is the stagger between successive plan launches.
const LaunchDelay = 250 * time.Millisecond

// Result is what Find hands back: either a connection already sitting in
// the pool (Reused != nil) or one just established by a winning ConnectPlan
// (Established != nil).
type Result struct {
	Reused      *planner.Reused
	Established *connectplan.Result
}

// outcome is the tagged-union event a background task (or the synchronous
// planning step) posts to the finder's result channel.
type outcome struct {
	plan     *connectplan.Plan // the plan this outcome is for, nil for planning-step outcomes
	reused   *planner.Reused
	success  *connectplan.Result
	followUp *connectplan.Plan
	err      error
	isPanic  bool
}

// routePlanner is the slice of *planner.Planner the Finder actually drives --
// narrowed to an interface so tests can race a fake planner without opening
// real sockets.
type routePlanner interface {
	Plan(ctx context.Context, call ports.Call, existing *planner.Reused) planner.Result
	HasMoreRoutes(ctx context.Context) bool

	// RecordRouteFailure marks a route that a just-failed Plan was
	// attempting as recently failed, so the next selection deprioritises
	// it.
	RecordRouteFailure(route domain.Route)

	// RecordFailureKind and ShouldRetryTransparently drive the decision
	// ladder for retrying the same route once more before moving on:
	// QueueRetry schedules that retry.
	RecordFailureKind(refusedStream, connectionShutdown bool)
	ShouldRetryTransparently() bool
	QueueRetry(route domain.Route)
}

var _ routePlanner = (*planner.Planner)(nil)

// Finder races a single RoutePlanner's plans to a usable connection.
type Finder struct {
	Planner routePlanner
	Call    ports.Call
	Logger  logger.StyledLogger
}

func New(pl routePlanner, call ports.Call, log logger.StyledLogger) *Finder {
	return &Finder{Planner: pl, Call: call, Logger: log}
}

// Find races successive plans: launch,
// wait up to LaunchDelay for any in-flight result, launch again on timeout,
// cancel every other in-flight plan on first success, accumulate failures
// otherwise. Once nothing remains to try it returns the single failure as
// is, or a domain.ExhaustedError carrying the first failure with the rest
// suppressed.
func (f *Finder) Find(ctx context.Context) (*Result, error) {
	raceCtx, cancelAll := context.WithCancel(ctx)
	defer cancelAll()

	results := make(chan outcome, 8)
	workers := concpool.New()
	defer workers.Wait()

	var inFlight []*connectplan.Plan
	var queuedFollowUps []*connectplan.Plan
	var accumulated error // built with multierr.Append; first-error-plus-suppressed
	launchedAny := false

	removeInFlight := func(p *connectplan.Plan) {
		for i, ip := range inFlight {
			if ip == p {
				inFlight = append(inFlight[:i], inFlight[i+1:]...)
				return
			}
		}
	}

	// cancelLosers closes every still-running plan's sockets directly --
	// cancelling raceCtx alone only aborts a dial in progress; a plan past
	// TCP connect needs its own Cancel to close the live socket.
	cancelLosers := func() {
		for _, p := range inFlight {
			p.Cancel()
		}
		cancelAll()
	}

	runPlan := func(p *connectplan.Plan) {
		inFlight = append(inFlight, p)
		launchedAny = true
		workers.Go(func() {
			var catcher panics.Catcher
			catcher.Try(func() {
				result, followUp, err := p.Connect(raceCtx)
				results <- outcome{plan: p, success: result, followUp: followUp, err: err}
			})
			if recovered := catcher.Recovered(); recovered != nil {
				results <- outcome{plan: p, isPanic: true, err: recovered.AsError()}
			}
		})
	}

	launchNext := func() {
		if raceCtx.Err() != nil {
			return
		}
		if len(queuedFollowUps) > 0 {
			p := queuedFollowUps[0]
			queuedFollowUps = queuedFollowUps[1:]
			runPlan(p)
			return
		}

		res := f.Planner.Plan(raceCtx, f.Call, nil)
		launchedAny = true
		switch {
		case res.Err != nil:
			results <- outcome{err: res.Err}
		case res.Reused != nil:
			results <- outcome{reused: res.Reused}
		default:
			runPlan(res.NewPlan)
		}
	}

	for {
		if ctx.Err() != nil {
			cancelLosers()
			return nil, domain.ErrCanceled
		}

		if len(queuedFollowUps) > 0 || !launchedAny || f.Planner.HasMoreRoutes(raceCtx) {
			launchNext()
		} else if len(inFlight) == 0 {
			break
		}

		timer := time.NewTimer(LaunchDelay)
		select {
		case <-ctx.Done():
			timer.Stop()
			cancelLosers()
			return nil, domain.ErrCanceled

		case o := <-results:
			timer.Stop()
			if o.plan != nil {
				removeInFlight(o.plan)
			}

			switch {
			case o.isPanic:
				cancelLosers()
				return nil, o.err

			case o.reused != nil:
				cancelLosers()
				return &Result{Reused: o.reused}, nil

			case o.success != nil:
				cancelLosers()
				return &Result{Established: o.success}, nil

			case o.err != nil:
				accumulated = multierr.Append(accumulated, o.err)
				if o.plan != nil {
					f.Planner.RecordRouteFailure(o.plan.Route)

					refused, shutdown := classifyFailureKind(o.err)
					f.Planner.RecordFailureKind(refused, shutdown)
					if (refused || shutdown) && f.Planner.ShouldRetryTransparently() {
						f.Planner.QueueRetry(o.plan.Route)
					}
				}
				if o.followUp != nil {
					queuedFollowUps = append(queuedFollowUps, o.followUp)
				}
				continue

			default:
				continue
			}

		case <-timer.C:
			continue
		}
	}

	cancelAll()
	errs := multierr.Errors(accumulated)
	if len(errs) == 0 {
		return nil, domain.ErrExhaustedRoutes
	}
	if len(errs) == 1 {
		return nil, errs[0]
	}
	return nil, &domain.ExhaustedError{First: errs[0], Suppressed: errs[1:]}
}

// classifyFailureKind maps a ConnectPlan failure onto the two categories
// the transparent-retry ladder cares about: the peer actively refusing the
// connection, or closing one it had already accepted. Timeouts, TLS
// failures, DNS errors and tunnel-auth failures all fall through as
// neither -- RecordFailureKind's "other" bucket.
func classifyFailureKind(err error) (refusedStream, connectionShutdown bool) {
	var errno syscall.Errno
	if errors.As(err, &errno) {
		switch errno {
		case syscall.ECONNREFUSED:
			return true, false
		case syscall.ECONNRESET:
			return false, true
		}
		return false, false
	}
	if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
		return false, true
	}
	return false, false
}
