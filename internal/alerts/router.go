package alerts

import (
	"context"
	"errors"
	"log"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/akmatori/contractmon/internal/clock"
	"github.com/akmatori/contractmon/internal/config"
	"github.com/akmatori/contractmon/internal/database"
	"github.com/akmatori/contractmon/internal/metrics"
	"github.com/akmatori/contractmon/internal/models"
	"github.com/akmatori/contractmon/internal/utils"
)

// SuppressUnrouted marks events no routing rule matched. Unrouted events
// leave dedup and rate-limit state untouched.
const SuppressUnrouted database.SuppressReason = "unrouted"

// Outcome reports what happened to one event
type Outcome struct {
	Channels   []string
	Suppressed database.SuppressReason
	Delivered  []string
	Failed     []string
}

// Dispatched reports whether the event was handed to any channel
func (o Outcome) Dispatched() bool {
	return o.Suppressed == database.SuppressNone && len(o.Channels) > 0
}

// Router resolves channels for an event, applies dedup and rate limiting and
// dispatches to the surviving channels in parallel
type Router struct {
	channels *ChannelSet
	state    StateStore
	fallback *MemoryState
	metrics  metrics.Sink
	clock    clock.Clock
}

// RouterOptions configures a Router. State may be nil to keep alert state in memory only.
type RouterOptions struct {
	Channels *ChannelSet
	State    StateStore
	Metrics  metrics.Sink
	Clock    clock.Clock
}

// NewRouter creates a router
func NewRouter(opts RouterOptions) *Router {
	if opts.Metrics == nil {
		opts.Metrics = metrics.Nop{}
	}
	if opts.Clock == nil {
		opts.Clock = clock.RealClock{}
	}
	return &Router{
		channels: opts.Channels,
		state:    opts.State,
		fallback: NewMemoryState(),
		metrics:  opts.Metrics,
		clock:    opts.Clock,
	}
}

// ResolveChannels walks the rules in order and collects the channels of every
// matching rule until one with Stop matches. Duplicates keep their first position.
func ResolveChannels(rules []config.RoutingRule, event models.ContractViolationEvent) []string {
	seen := make(map[string]bool)
	var out []string
	for _, rule := range rules {
		if !rule.Matches(event.ContractName, event.Severity) {
			continue
		}
		for _, ch := range rule.Channels {
			if !seen[ch] {
				seen[ch] = true
				out = append(out, ch)
			}
		}
		if rule.Stop {
			break
		}
	}
	return out
}

// Route delivers one event under the effective config of its contract
func (r *Router) Route(ctx context.Context, event models.ContractViolationEvent, cfg config.MonitoringConfig) Outcome {
	names := ResolveChannels(cfg.Routing, event)
	if len(names) == 0 {
		r.metrics.RecordSuppressed(event.ContractName, string(SuppressUnrouted))
		return Outcome{Suppressed: SuppressUnrouted}
	}

	decision := r.claim(ctx, database.AlertClaim{
		ContractName:  event.ContractName,
		ViolationType: event.ViolationType,
		Severity:      event.Severity,
		Now:           r.clock.Now(),
		DedupWindow:   cfg.DedupWindow,
		MaxAlerts:     cfg.RateLimit.MaxAlerts,
		RateWindow:    cfg.RateLimit.Window,
	})
	if !decision.Allowed {
		log.Printf("AlertRouter: suppressed %s/%s (%s, window count %d)",
			event.ContractName, event.ViolationType, decision.Reason, decision.WindowCount)
		r.metrics.RecordSuppressed(event.ContractName, string(decision.Reason))
		return Outcome{Channels: names, Suppressed: decision.Reason}
	}

	out := Outcome{Channels: names}
	var mu sync.Mutex
	var g errgroup.Group

	for _, name := range names {
		ch, ok := r.channels.Get(name)
		if !ok {
			log.Printf("Warning: AlertRouter: channel %s is not configured, skipping", name)
			r.metrics.RecordDeliveryFailure(name, "unknown_channel")
			out.Failed = append(out.Failed, name)
			continue
		}
		g.Go(func() error {
			err := r.send(ctx, ch, event, cfg)
			mu.Lock()
			if err != nil {
				out.Failed = append(out.Failed, ch.Name())
			} else {
				out.Delivered = append(out.Delivered, ch.Name())
			}
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()
	return out
}

// claim asks the state store and falls back to in-memory state on failure
func (r *Router) claim(ctx context.Context, claim database.AlertClaim) database.AlertDecision {
	if r.state != nil {
		decision, err := r.state.ClaimAlert(ctx, claim)
		if err == nil {
			return decision
		}
		log.Printf("Warning: AlertRouter: alert state unavailable, using in-memory state: %s", utils.SanitizeError(err))
	}
	decision, _ := r.fallback.ClaimAlert(ctx, claim)
	return decision
}

// send delivers to one channel within the dispatch timeout. Failures are
// logged and counted, never retried.
func (r *Router) send(ctx context.Context, ch Channel, event models.ContractViolationEvent, cfg config.MonitoringConfig) error {
	sendCtx, cancel := context.WithTimeout(ctx, cfg.DispatchTimeout)
	defer cancel()

	err := ch.SendAlert(sendCtx, event)
	if err == nil {
		r.metrics.RecordDelivery(ch.Name())
		return nil
	}

	reason := "error"
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(sendCtx.Err(), context.DeadlineExceeded) {
		reason = "timeout"
	}
	log.Printf("Warning: AlertRouter: delivery to %s failed for %s/%s: reason=%s error=%s",
		ch.Name(), event.ContractName, event.ViolationType, reason, utils.SanitizeError(err))
	r.metrics.RecordDeliveryFailure(ch.Name(), reason)
	return err
}
