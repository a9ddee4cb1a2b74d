package parley

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
)

// Trigger identifies the pipeline point a hook fires at.
type Trigger string

const (
	// TriggerBeforeBroadcast fires after the event is persisted and before
	// the router fans it out. Sync hooks here can modify or block the event.
	TriggerBeforeBroadcast Trigger = "before_broadcast"
	// TriggerAfterBroadcast fires once delivery settled. Decisions are
	// advisory; only injections, tasks, and observations take effect.
	TriggerAfterBroadcast Trigger = "after_broadcast"
	// TriggerIdentityAmbiguous fires when an inbound address resolves to
	// more than one identity.
	TriggerIdentityAmbiguous Trigger = "identity_ambiguous"
	// TriggerIdentityUnknown fires when an inbound address resolves to
	// no identity.
	TriggerIdentityUnknown Trigger = "identity_unknown"
)

// Execution selects how a hook runs relative to the pipeline.
type Execution string

const (
	// ExecSync runs in pipeline order and can alter the outcome.
	ExecSync Execution = "sync"
	// ExecAsync runs concurrently after the sync phase; failures are
	// collected but never block the event.
	ExecAsync Execution = "async"
)

const defaultHookTimeout = 5 * time.Second

// HookDecision is a hook's verdict on an event. Build one with Allow,
// AllowModified, or Block, then attach injections or an identity override
// as needed.
type HookDecision struct {
	allow    bool
	modified *RoomEvent
	reason   string

	// Inject holds extra system events to append to the room after the
	// original event settles. They go through the normal pipeline.
	Inject []RoomEvent
	// Tasks and Observations are persisted regardless of the verdict.
	Tasks        []Task
	Observations []Observation
	// Identity overrides the resolver's verdict on identity triggers.
	Identity *IdentityResult
}

// Allow lets the event pass unchanged.
func Allow() HookDecision { return HookDecision{allow: true} }

// AllowModified lets the event pass with ev substituted for the original.
// Later hooks in the chain see the modified event.
func AllowModified(ev RoomEvent) HookDecision {
	return HookDecision{allow: true, modified: &ev}
}

// Block stops the event. The reason is recorded on the persisted event's
// BlockedBy field and in the process outcome.
func Block(reason string) HookDecision { return HookDecision{reason: reason} }

// Allowed reports whether the decision lets the event continue.
func (d HookDecision) Allowed() bool { return d.allow }

// Reason returns the block reason, empty when allowed.
func (d HookDecision) Reason() string { return d.reason }

// HookFunc inspects an event in its room context and returns a decision.
// A returned error is recorded as a HookError and treated as Allow.
type HookFunc func(ctx context.Context, ev RoomEvent, room RoomContext) (HookDecision, error)

// HookRegistration describes a hook and its firing conditions. Zero-value
// filter fields match everything.
type HookRegistration struct {
	Name      string
	Trigger   Trigger
	Execution Execution
	// Priority orders sync hooks; lower runs first. Ties run in
	// registration order.
	Priority int
	// Timeout bounds a single invocation. Zero means defaultHookTimeout.
	Timeout time.Duration

	// Filters. A hook fires only when every non-empty filter matches the
	// event's source (or room).
	ChannelTypes []string
	ChannelIDs   []string
	Directions   []Direction
	RoomID       string

	Fn HookFunc
}

func (r HookRegistration) matches(ev RoomEvent) bool {
	if r.RoomID != "" && r.RoomID != ev.RoomID {
		return false
	}
	if len(r.ChannelTypes) > 0 && !containsString(r.ChannelTypes, ev.Source.ChannelType) {
		return false
	}
	if len(r.ChannelIDs) > 0 && !containsString(r.ChannelIDs, ev.Source.ChannelID) {
		return false
	}
	if len(r.Directions) > 0 {
		found := false
		for _, d := range r.Directions {
			if d == ev.Source.Direction {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	return true
}

func containsString(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}

type hookEntry struct {
	reg HookRegistration
	seq int
}

// HookRegistry holds hook registrations and runs them at pipeline trigger
// points. Safe for concurrent use.
type HookRegistry struct {
	mu      sync.RWMutex
	entries []hookEntry
	nextSeq int
}

// NewHookRegistry creates an empty registry.
func NewHookRegistry() *HookRegistry { return &HookRegistry{} }

// Register adds a hook. Name must be non-empty and unique per trigger.
func (h *HookRegistry) Register(reg HookRegistration) error {
	if reg.Name == "" {
		return fmt.Errorf("hook registration requires a name")
	}
	if reg.Fn == nil {
		return fmt.Errorf("hook %q registration requires a function", reg.Name)
	}
	if reg.Execution == "" {
		reg.Execution = ExecSync
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	for _, e := range h.entries {
		if e.reg.Name == reg.Name && e.reg.Trigger == reg.Trigger {
			return fmt.Errorf("hook %q already registered for trigger %s", reg.Name, reg.Trigger)
		}
	}
	h.entries = append(h.entries, hookEntry{reg: reg, seq: h.nextSeq})
	h.nextSeq++
	return nil
}

// Unregister removes the named hook from the trigger. Unknown names are a
// no-op.
func (h *HookRegistry) Unregister(trigger Trigger, name string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	kept := h.entries[:0]
	for _, e := range h.entries {
		if e.reg.Trigger == trigger && e.reg.Name == name {
			continue
		}
		kept = append(kept, e)
	}
	h.entries = kept
}

// selected returns the hooks matching trigger, execution, and event, ordered
// by priority then registration sequence.
func (h *HookRegistry) selected(trigger Trigger, exec Execution, ev RoomEvent) []HookRegistration {
	h.mu.RLock()
	var picked []hookEntry
	for _, e := range h.entries {
		if e.reg.Trigger == trigger && e.reg.Execution == exec && e.reg.matches(ev) {
			picked = append(picked, e)
		}
	}
	h.mu.RUnlock()
	sort.SliceStable(picked, func(i, j int) bool {
		if picked[i].reg.Priority != picked[j].reg.Priority {
			return picked[i].reg.Priority < picked[j].reg.Priority
		}
		return picked[i].seq < picked[j].seq
	})
	out := make([]HookRegistration, len(picked))
	for i, e := range picked {
		out[i] = e.reg
	}
	return out
}

// HookResult aggregates a trigger run: the (possibly modified) event, the
// block verdict, side effects collected from all hooks that ran, and the
// errors of hooks that failed.
type HookResult struct {
	Event        RoomEvent
	Blocked      bool
	BlockReason  string
	BlockedBy    string
	Inject       []RoomEvent
	Tasks        []Task
	Observations []Observation
	Identity     *IdentityResult
	Errors       []HookError
}

func (res *HookResult) absorb(d HookDecision) {
	res.Inject = append(res.Inject, d.Inject...)
	res.Tasks = append(res.Tasks, d.Tasks...)
	res.Observations = append(res.Observations, d.Observations...)
	if d.Identity != nil {
		res.Identity = d.Identity
	}
}

// RunSync runs the trigger's sync hooks in order. Each hook sees the event
// as left by the previous one. The first Block stops the chain; side effects
// accumulated up to and including the blocking hook are kept. A hook error
// or timeout counts as Allow and is recorded on the result.
func (h *HookRegistry) RunSync(ctx context.Context, trigger Trigger, ev RoomEvent, room RoomContext) HookResult {
	res := HookResult{Event: ev}
	for _, reg := range h.selected(trigger, ExecSync, res.Event) {
		d, err := runHook(ctx, reg, res.Event, room)
		if err != nil {
			res.Errors = append(res.Errors, HookError{Hook: reg.Name, Trigger: trigger, Err: err})
			continue
		}
		res.absorb(d)
		if !d.Allowed() {
			res.Blocked = true
			res.BlockReason = d.Reason()
			res.BlockedBy = reg.Name
			return res
		}
		if d.modified != nil {
			res.Event = *d.modified
		}
	}
	return res
}

// RunAsync runs the trigger's async hooks concurrently. Verdicts cannot
// block at this point; only side effects and errors are collected.
func (h *HookRegistry) RunAsync(ctx context.Context, trigger Trigger, ev RoomEvent, room RoomContext) HookResult {
	res := HookResult{Event: ev}
	regs := h.selected(trigger, ExecAsync, ev)
	if len(regs) == 0 {
		return res
	}

	var mu sync.Mutex
	g, gctx := errgroup.WithContext(ctx)
	for _, reg := range regs {
		reg := reg
		g.Go(func() error {
			d, err := runHook(gctx, reg, ev, room)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				res.Errors = append(res.Errors, HookError{Hook: reg.Name, Trigger: trigger, Err: err})
				return nil
			}
			res.absorb(d)
			return nil
		})
	}
	g.Wait() //nolint:errcheck // goroutines never return errors
	return res
}

// runHook invokes a single hook under its timeout, converting panics into
// errors so a misbehaving hook cannot take down the pipeline.
func runHook(ctx context.Context, reg HookRegistration, ev RoomEvent, room RoomContext) (HookDecision, error) {
	timeout := reg.Timeout
	if timeout <= 0 {
		timeout = defaultHookTimeout
	}
	hctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	type hookResult struct {
		d   HookDecision
		err error
	}
	// Buffered so a hook that outlives its timeout can still finish and
	// exit; its result is simply never read.
	done := make(chan hookResult, 1)
	go func() {
		var res hookResult
		defer func() {
			if r := recover(); r != nil {
				res = hookResult{err: fmt.Errorf("hook panic: %v", r)}
			}
			done <- res
		}()
		res.d, res.err = reg.Fn(hctx, ev, room)
	}()

	select {
	case res := <-done:
		return res.d, res.err
	case <-hctx.Done():
		return HookDecision{}, fmt.Errorf("hook timed out after %s: %w", timeout, hctx.Err())
	}
}
