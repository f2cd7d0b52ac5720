// Package scheduler runs checks for registered contracts on their configured
// intervals with at most one in-flight execution per (contract, check type).
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log"
	"runtime/debug"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/akmatori/contractmon/internal/checks"
	"github.com/akmatori/contractmon/internal/clock"
	"github.com/akmatori/contractmon/internal/models"
	"github.com/akmatori/contractmon/internal/registry"
	"github.com/akmatori/contractmon/internal/utils"
)

// DefaultResolution is how often the loop looks for due checks
const DefaultResolution = time.Second

// Source supplies the contracts to schedule
type Source interface {
	ListActive() []registry.RegisteredContract
	MarkChecked(ctx context.Context, name string, ct models.CheckType, at time.Time)
}

// ResultHandler processes every check result. It is called while the key is
// still in flight, so results of one key are handled strictly in order.
type ResultHandler interface {
	HandleResult(ctx context.Context, rc registry.RegisteredContract, result models.CheckResult)
}

// OverrunRecorder observes ticks skipped because the previous run is still going
type OverrunRecorder interface {
	RecordOverrun(contractName string, ct models.CheckType)
}

type key struct {
	contract  string
	checkType models.CheckType
}

// Scheduler is the single coordinating loop
type Scheduler struct {
	source     Source
	checks     *checks.Set
	handler    ResultHandler
	overruns   OverrunRecorder
	clock      clock.Clock
	resolution time.Duration

	mu       sync.Mutex
	inFlight map[key]bool
	nextDue  map[key]time.Time
	wg       sync.WaitGroup
}

// Options configures a Scheduler
type Options struct {
	Source     Source
	Checks     *checks.Set
	Handler    ResultHandler
	Overruns   OverrunRecorder
	Clock      clock.Clock
	Resolution time.Duration
}

// New creates a scheduler
func New(opts Options) *Scheduler {
	if opts.Clock == nil {
		opts.Clock = clock.RealClock{}
	}
	if opts.Resolution <= 0 {
		opts.Resolution = DefaultResolution
	}
	return &Scheduler{
		source:     opts.Source,
		checks:     opts.Checks,
		handler:    opts.Handler,
		overruns:   opts.Overruns,
		clock:      opts.Clock,
		resolution: opts.Resolution,
		inFlight:   make(map[key]bool),
		nextDue:    make(map[key]time.Time),
	}
}

// Run drives the loop until ctx is cancelled, then waits for in-flight checks
func (s *Scheduler) Run(ctx context.Context) {
	log.Printf("Scheduler: started (resolution %s)", s.resolution)

	ticker := time.NewTicker(s.resolution)
	defer ticker.Stop()

	s.Tick(ctx)
	for {
		select {
		case <-ctx.Done():
			log.Printf("Scheduler: stopping, waiting for in-flight checks")
			s.wg.Wait()
			log.Printf("Scheduler: stopped")
			return
		case <-ticker.C:
			s.Tick(ctx)
		}
	}
}

// Tick dispatches every due check and returns how many were started
func (s *Scheduler) Tick(ctx context.Context) int {
	now := s.clock.Now()
	dispatched := 0

	for _, rc := range s.source.ListActive() {
		for _, ct := range s.checks.Types() {
			check, _ := s.checks.Get(ct)
			if s.tryDispatch(ctx, rc, ct, check, now) {
				dispatched++
			}
		}
	}
	return dispatched
}

func (s *Scheduler) tryDispatch(ctx context.Context, rc registry.RegisteredContract, ct models.CheckType, check checks.Check, now time.Time) bool {
	k := key{contract: rc.Contract.Name, checkType: ct}
	interval := rc.Config.Interval(ct)

	s.mu.Lock()
	due, ok := s.nextDue[k]
	if !ok {
		// first sight: resume from the last recorded run, or run immediately
		if last := rc.LastChecks[ct]; !last.IsZero() {
			due = last.Add(interval)
		} else {
			due = now
		}
	}
	if now.Before(due) {
		s.nextDue[k] = due
		s.mu.Unlock()
		return false
	}
	s.nextDue[k] = now.Add(interval)

	if s.inFlight[k] {
		s.mu.Unlock()
		log.Printf("Warning: Scheduler: %s/%s still running, skipping tick", rc.Contract.Name, ct)
		if s.overruns != nil {
			s.overruns.RecordOverrun(rc.Contract.Name, ct)
		}
		return false
	}
	s.inFlight[k] = true
	s.wg.Add(1)
	s.mu.Unlock()

	go s.execute(ctx, k, rc, check, now)
	return true
}

func (s *Scheduler) execute(ctx context.Context, k key, rc registry.RegisteredContract, check checks.Check, startedAt time.Time) {
	defer func() {
		s.mu.Lock()
		delete(s.inFlight, k)
		s.mu.Unlock()
		s.wg.Done()
	}()

	s.source.MarkChecked(ctx, rc.Contract.Name, k.checkType, startedAt)

	result, wait := s.runCheck(ctx, rc, check)
	result.ID = uuid.New().String()
	result.ContractName = rc.Contract.Name
	result.ContractVersion = rc.Contract.Version
	result.CheckType = k.checkType
	result.Timestamp = startedAt

	if s.handler != nil {
		s.handler.HandleResult(ctx, rc, result)
	}

	// a timed-out check keeps its key in flight until it really returns
	if wait != nil {
		<-wait
	}
}

type outcome struct {
	result models.CheckResult
	err    error
}

// runCheck executes one check under the contract's timeout. On timeout it
// returns an error result together with a channel closed once the check exits.
func (s *Scheduler) runCheck(ctx context.Context, rc registry.RegisteredContract, check checks.Check) (models.CheckResult, <-chan struct{}) {
	checkCtx, cancel := context.WithTimeout(ctx, rc.Config.CheckTimeout)

	done := make(chan outcome, 1)
	exited := make(chan struct{})
	started := time.Now()

	go func() {
		defer close(exited)
		defer func() {
			if r := recover(); r != nil {
				log.Printf("Scheduler: check %s/%s panicked: %v\n%s", rc.Contract.Name, check.Type(), r, debug.Stack())
				done <- outcome{err: fmt.Errorf("check panicked: %v", r)}
			}
		}()
		res, err := check.Execute(checkCtx, rc.Contract, rc.Config)
		done <- outcome{result: res, err: err}
	}()

	select {
	case o := <-done:
		cancel()
		elapsed := time.Since(started)
		if o.err != nil {
			reason := "error"
			if errors.Is(o.err, context.DeadlineExceeded) {
				reason = "timeout"
			}
			return errorResult(reason, o.err, elapsed), nil
		}
		o.result.Duration = elapsed
		return o.result, nil

	case <-checkCtx.Done():
		elapsed := time.Since(started)
		reason := "timeout"
		if ctx.Err() != nil {
			reason = "cancelled"
		}
		log.Printf("Warning: Scheduler: %s/%s %s after %s", rc.Contract.Name, check.Type(), reason, utils.FormatDuration(elapsed))
		wait := make(chan struct{})
		go func() {
			<-exited
			cancel()
			close(wait)
		}()
		return errorResult(reason, checkCtx.Err(), elapsed), wait
	}
}

func errorResult(reason string, err error, elapsed time.Duration) models.CheckResult {
	return models.CheckResult{
		Status:   models.CheckStatusError,
		Duration: elapsed,
		Details: map[string]interface{}{
			"reason": reason,
			"error":  utils.SanitizeError(err),
		},
	}
}

// Forget drops the timers of a contract so a later registration starts fresh
func (s *Scheduler) Forget(contractName string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for k := range s.nextDue {
		if k.contract == contractName {
			delete(s.nextDue, k)
		}
	}
}

// InFlight returns the number of running checks
func (s *Scheduler) InFlight() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.inFlight)
}

// Wait blocks until every dispatched check has finished
func (s *Scheduler) Wait() {
	s.wg.Wait()
}
