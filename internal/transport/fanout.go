package transport

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/synsocial/chatsync/internal/events"
)

// Fanout distributes one change everywhere it needs to go: the local
// bus for in-process subscribers, the real-time channel for peer
// processes, and kafka for downstream consumers. Channel and kafka
// failures are logged, never propagated; the local bus always sees the
// event.
type Fanout struct {
	Origin string
	Bus    *events.Bus
	RT     Realtime
	Kafka  *events.KafkaPublisher
	Log    *zap.SugaredLogger
}

func (f *Fanout) Publish(ctx context.Context, ev events.MessageEvent) {
	f.Bus.PublishMessage(ev)
	f.Kafka.Publish(ctx, ev)
	if f.RT == nil {
		return
	}
	change := ChangeEvent{Origin: f.Origin, Event: ev, At: time.Now().UTC()}
	if err := f.RT.Publish(ctx, ev.ChatID, change); err != nil {
		f.Log.Warnw("realtime publish", "chat_id", ev.ChatID, "kind", ev.Kind, "err", err)
	}
}
