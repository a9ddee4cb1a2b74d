package parley

import (
	"context"
	"testing"
	"time"
)

type scriptedResolver struct {
	result IdentityResult
	err    error
	delay  time.Duration
}

func (r *scriptedResolver) Resolve(ctx context.Context, _, _ string) (IdentityResult, error) {
	if r.delay > 0 {
		select {
		case <-time.After(r.delay):
		case <-ctx.Done():
			return IdentityResult{}, ctx.Err()
		}
	}
	return r.result, r.err
}

func inboundFrom(externalID string) RoomEvent {
	return RoomEvent{
		RoomID: "r-1",
		Source: EventSource{ChannelID: "sms-1", ChannelType: "sms", ExternalID: externalID, Direction: DirectionInbound},
	}
}

func TestStoreIdentityResolver(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	s.CreateIdentity(ctx, Identity{ID: "i1", Addresses: []ChannelAddress{{ChannelType: "sms", Address: "+1555"}}})
	r := NewStoreIdentityResolver(s)

	res, err := r.Resolve(ctx, "sms", "+1555")
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if res.Status != IdentityIdentified || res.Identity == nil || res.Identity.ID != "i1" {
		t.Errorf("result = %+v", res)
	}

	res, err = r.Resolve(ctx, "sms", "+1999")
	if err != nil {
		t.Fatalf("resolve unknown: %v", err)
	}
	if res.Status != IdentityUnknown {
		t.Errorf("status = %s, want unknown", res.Status)
	}
}

func TestIdentityPipelineSkipsWithoutExternalID(t *testing.T) {
	p := &identityPipeline{resolver: &scriptedResolver{}, hooks: NewHookRegistry(), events: NewFrameworkEvents(nil)}
	out := p.run(context.Background(), RoomEvent{Source: EventSource{ChannelType: "sms"}}, RoomContext{})
	if out.Result.Status != IdentityUnknown || out.Block {
		t.Errorf("outcome = %+v", out)
	}
}

func TestIdentityPipelineChannelTypeFilter(t *testing.T) {
	p := &identityPipeline{
		resolver:     &scriptedResolver{result: IdentityResult{Status: IdentityIdentified}},
		hooks:        NewHookRegistry(),
		events:       NewFrameworkEvents(nil),
		channelTypes: []string{"email"},
	}
	out := p.run(context.Background(), inboundFrom("+1555"), RoomContext{})
	if out.Result.Status != IdentityUnknown {
		t.Errorf("sms event resolved despite email-only filter: %+v", out.Result)
	}
}

func TestIdentityPipelineTimeoutDegradesToUnknown(t *testing.T) {
	events := NewFrameworkEvents(nil)
	sink := &frameworkSink{}
	sink.attach(events)
	p := &identityPipeline{
		resolver: &scriptedResolver{delay: time.Second, result: IdentityResult{Status: IdentityIdentified}},
		hooks:    NewHookRegistry(),
		events:   events,
		timeout:  20 * time.Millisecond,
	}

	out := p.run(context.Background(), inboundFrom("+1555"), RoomContext{})

	if out.Result.Status != IdentityUnknown {
		t.Errorf("status = %s, want unknown", out.Result.Status)
	}
	if out.Block {
		t.Error("timeout blocked the event")
	}
	if !waitFor(time.Second, func() bool { return sink.count(FEIdentityTimeout) == 1 }) {
		t.Error("identity_timeout framework event not emitted")
	}
	events.Wait()
}

func TestIdentityPipelineUnknownEscalatesToHooks(t *testing.T) {
	hooks := NewHookRegistry()
	var sawTrigger bool
	hooks.Register(HookRegistration{
		Name:    "greeter",
		Trigger: TriggerIdentityUnknown,
		Fn: func(_ context.Context, _ RoomEvent, _ RoomContext) (HookDecision, error) {
			sawTrigger = true
			d := Allow()
			d.Identity = &IdentityResult{Status: IdentityPending}
			return d, nil
		},
	})
	p := &identityPipeline{
		resolver: &scriptedResolver{result: IdentityResult{Status: IdentityUnknown}},
		hooks:    hooks,
		events:   NewFrameworkEvents(nil),
	}

	out := p.run(context.Background(), inboundFrom("+1555"), RoomContext{})

	if !sawTrigger {
		t.Fatal("identity_unknown hook did not run")
	}
	if out.Result.Status != IdentityPending {
		t.Errorf("status = %s, want pending (hook override)", out.Result.Status)
	}
	if out.Block {
		t.Error("pending outcome blocked")
	}
}

func TestIdentityPipelineChallengeInjectsAndBlocks(t *testing.T) {
	hooks := NewHookRegistry()
	challenge := RoomEvent{Type: EventSystem, Content: TextContent("Reply with your account number")}
	hooks.Register(HookRegistration{
		Name:    "challenger",
		Trigger: TriggerIdentityUnknown,
		Fn: func(_ context.Context, _ RoomEvent, _ RoomContext) (HookDecision, error) {
			d := Allow()
			d.Identity = &IdentityResult{Status: IdentityChallengeSent, Challenge: &challenge}
			return d, nil
		},
	})
	p := &identityPipeline{
		resolver: &scriptedResolver{result: IdentityResult{Status: IdentityUnknown}},
		hooks:    hooks,
		events:   NewFrameworkEvents(nil),
	}

	out := p.run(context.Background(), inboundFrom("+1555"), RoomContext{})

	if !out.Block || out.BlockReason != "identity_challenge" {
		t.Errorf("block = %v reason = %q", out.Block, out.BlockReason)
	}
	if len(out.Inject) != 1 || out.Inject[0].Content.Text != challenge.Content.Text {
		t.Errorf("inject = %+v", out.Inject)
	}
}

func TestIdentityPipelineRejection(t *testing.T) {
	hooks := NewHookRegistry()
	hooks.Register(HookRegistration{
		Name:    "bouncer",
		Trigger: TriggerIdentityAmbiguous,
		Fn: func(_ context.Context, _ RoomEvent, _ RoomContext) (HookDecision, error) {
			d := Allow()
			d.Identity = &IdentityResult{Status: IdentityRejected, Reason: "multiple_accounts"}
			return d, nil
		},
	})
	p := &identityPipeline{
		resolver: &scriptedResolver{result: IdentityResult{Status: IdentityAmbiguous}},
		hooks:    hooks,
		events:   NewFrameworkEvents(nil),
	}

	out := p.run(context.Background(), inboundFrom("+1555"), RoomContext{})

	if !out.Block || out.BlockReason != "multiple_accounts" {
		t.Errorf("block = %v reason = %q", out.Block, out.BlockReason)
	}
}
