package observer

import (
	"context"

	parley "github.com/parley-go/parley"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// Attach subscribes the instruments to the orchestrator's framework event
// stream so pipeline activity shows up as metrics without touching the
// pipeline code. Returns a detach function.
func Attach(orch *parley.Orchestrator, inst *Instruments) func() {
	events := orch.Events()
	ids := []string{
		events.On(parley.FEEventBlocked, func(ctx context.Context, ev parley.FrameworkEvent) {
			inst.EventsBlocked.Add(ctx, 1, blockedAttrs(ev))
		}),
		events.On(parley.FEDeliverySucceeded, func(ctx context.Context, ev parley.FrameworkEvent) {
			inst.EventsProcessed.Add(ctx, 1)
			inst.Deliveries.Add(ctx, 1, channelAttr(ev))
		}),
		events.On(parley.FEDeliveryFailed, func(ctx context.Context, ev parley.FrameworkEvent) {
			inst.DeliveryFailures.Add(ctx, 1, channelAttr(ev))
		}),
		events.On(parley.FEHookError, func(ctx context.Context, ev parley.FrameworkEvent) {
			inst.HookErrors.Add(ctx, 1, hookAttr(ev))
		}),
		events.On(parley.FEChainDepthExceeded, func(ctx context.Context, ev parley.FrameworkEvent) {
			inst.ReentryBlocked.Add(ctx, 1)
			if depth, ok := ev.Data["chain_depth"].(int); ok {
				inst.ChainDepth.Record(ctx, int64(depth))
			}
		}),
	}
	return func() {
		for _, id := range ids {
			events.Off(id)
		}
	}
}

func channelAttr(ev parley.FrameworkEvent) metric.AddOption {
	return metric.WithAttributes(attribute.String("channel_id", ev.ChannelID))
}

func blockedAttrs(ev parley.FrameworkEvent) metric.AddOption {
	by, _ := ev.Data["blocked_by"].(string)
	return metric.WithAttributes(attribute.String("blocked_by", by))
}

func hookAttr(ev parley.FrameworkEvent) metric.AddOption {
	hook, _ := ev.Data["hook"].(string)
	return metric.WithAttributes(attribute.String("hook", hook))
}
