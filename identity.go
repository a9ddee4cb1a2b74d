package parley

import (
	"context"
	"errors"
	"time"
)

// IdentityStatus classifies what the resolver (or an identity hook) decided
// about an inbound sender.
type IdentityStatus string

const (
	IdentityIdentified    IdentityStatus = "identified"
	IdentityPending       IdentityStatus = "pending"
	IdentityAmbiguous     IdentityStatus = "ambiguous"
	IdentityUnknown       IdentityStatus = "unknown"
	IdentityChallengeSent IdentityStatus = "challenge_sent"
	IdentityRejected      IdentityStatus = "rejected"
)

// IdentityResult is the resolver's (possibly hook-overridden) verdict.
type IdentityResult struct {
	Status   IdentityStatus
	Identity *Identity
	// Candidates holds the competing matches on an ambiguous result.
	Candidates []Identity
	// Reason explains a rejection.
	Reason string
	// Challenge, when set with StatusChallengeSent, is injected back to the
	// sender while the original event is blocked.
	Challenge *RoomEvent
}

// IdentityResolver maps a channel address to an identity. Implementations
// live at the host layer (CRM lookup, phone-number graph, SSO directory).
type IdentityResolver interface {
	Resolve(ctx context.Context, channelType, address string) (IdentityResult, error)
}

// StoreIdentityResolver resolves against the store's identity records.
// It never reports ambiguous; the store keeps one identity per address.
type StoreIdentityResolver struct {
	store Store
}

// NewStoreIdentityResolver returns the default store-backed resolver.
func NewStoreIdentityResolver(store Store) *StoreIdentityResolver {
	return &StoreIdentityResolver{store: store}
}

func (r *StoreIdentityResolver) Resolve(ctx context.Context, channelType, address string) (IdentityResult, error) {
	ident, err := r.store.ResolveIdentity(ctx, channelType, address)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return IdentityResult{Status: IdentityUnknown}, nil
		}
		return IdentityResult{}, storeErr("resolve identity", err)
	}
	return IdentityResult{Status: IdentityIdentified, Identity: &ident}, nil
}

const defaultIdentityTimeout = 10 * time.Second

// identityPipeline runs the resolver under a timeout and escalates
// ambiguous and unknown results to identity hooks.
type identityPipeline struct {
	resolver IdentityResolver
	hooks    *HookRegistry
	events   *FrameworkEvents
	timeout  time.Duration
	// channelTypes, when non-empty, restricts identity resolution to the
	// listed channel types; everything else skips the pipeline.
	channelTypes []string
}

// identityOutcome is what the inbound pipeline consumes: the final result
// plus any block verdict and injections decided by identity hooks.
type identityOutcome struct {
	Result      IdentityResult
	Block       bool
	BlockReason string
	Inject      []RoomEvent
	Errors      []HookError
}

func (p *identityPipeline) run(ctx context.Context, ev RoomEvent, room RoomContext) identityOutcome {
	if p.resolver == nil || ev.Source.ExternalID == "" {
		return identityOutcome{Result: IdentityResult{Status: IdentityUnknown}}
	}
	if len(p.channelTypes) > 0 && !containsString(p.channelTypes, ev.Source.ChannelType) {
		return identityOutcome{Result: IdentityResult{Status: IdentityUnknown}}
	}

	timeout := p.timeout
	if timeout <= 0 {
		timeout = defaultIdentityTimeout
	}
	rctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	result, err := p.resolveWithDeadline(rctx, ev)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			p.events.Emit(FrameworkEvent{
				Name:   FEIdentityTimeout,
				RoomID: ev.RoomID,
				Data:   map[string]any{"channel_id": ev.Source.ChannelID},
			})
			result = IdentityResult{Status: IdentityUnknown}
		} else {
			// resolver failure degrades to unknown as well
			result = IdentityResult{Status: IdentityUnknown}
		}
	}

	var trigger Trigger
	switch result.Status {
	case IdentityAmbiguous:
		trigger = TriggerIdentityAmbiguous
	case IdentityUnknown:
		trigger = TriggerIdentityUnknown
	default:
		return identityOutcome{Result: result}
	}

	hres := p.hooks.RunSync(ctx, trigger, ev, room)
	out := identityOutcome{Result: result, Inject: hres.Inject, Errors: hres.Errors}
	if hres.Identity != nil {
		out.Result = *hres.Identity
	}
	switch out.Result.Status {
	case IdentityChallengeSent:
		if out.Result.Challenge != nil {
			out.Inject = append(out.Inject, *out.Result.Challenge)
		}
		out.Block = true
		out.BlockReason = "identity_challenge"
	case IdentityRejected:
		out.Block = true
		out.BlockReason = out.Result.Reason
		if out.BlockReason == "" {
			out.BlockReason = "identity_rejected"
		}
	}
	if hres.Blocked {
		out.Block = true
		out.BlockReason = hres.BlockReason
	}
	return out
}

// resolveWithDeadline runs the resolver on its own goroutine so a stalled
// implementation cannot outlive the timeout.
func (p *identityPipeline) resolveWithDeadline(ctx context.Context, ev RoomEvent) (IdentityResult, error) {
	type resolved struct {
		result IdentityResult
		err    error
	}
	ch := make(chan resolved, 1)
	go func() {
		result, err := p.resolver.Resolve(ctx, ev.Source.ChannelType, ev.Source.ExternalID)
		ch <- resolved{result, err}
	}()
	select {
	case r := <-ch:
		return r.result, r.err
	case <-ctx.Done():
		return IdentityResult{}, ctx.Err()
	}
}
