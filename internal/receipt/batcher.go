// Package receipt converts high-frequency "message became visible"
// events into low-frequency store writes. Read receipts are a watermark:
// flushing message N marks everything at or below N read for that
// reader.
package receipt

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/synsocial/chatsync/internal/domain"
	"github.com/synsocial/chatsync/internal/events"
	"github.com/synsocial/chatsync/internal/identity"
	"github.com/synsocial/chatsync/internal/metrics"
	"github.com/synsocial/chatsync/internal/store"
	"github.com/synsocial/chatsync/internal/syncerr"
	"github.com/synsocial/chatsync/internal/transport"
)

const flushAttempts = 3

type Config struct {
	Debounce    time.Duration
	MaxBuffered int
}

type pairKey struct {
	chatID   string
	readerID string
}

type pairState struct {
	watermark *domain.Message
	count     int
	timer     *time.Timer
	flights   int

	// flight serializes flush writes for this pair: a flush arriving
	// mid-write queues behind the previous one instead of interleaving.
	flight sync.Mutex
}

type Batcher struct {
	messages store.MessageStore
	chats    store.ChatStore
	ids      identity.Accessor
	fan      *transport.Fanout
	log      *zap.SugaredLogger
	cfg      Config

	mu      sync.Mutex
	paused  map[string]bool
	pending map[pairKey]*pairState
}

func NewBatcher(messages store.MessageStore, chats store.ChatStore, ids identity.Accessor, fan *transport.Fanout, cfg Config, log *zap.SugaredLogger) *Batcher {
	if cfg.Debounce <= 0 {
		cfg.Debounce = 750 * time.Millisecond
	}
	if cfg.MaxBuffered <= 0 {
		cfg.MaxBuffered = 100
	}
	return &Batcher{
		messages: messages,
		chats:    chats,
		ids:      ids,
		fan:      fan,
		log:      log,
		cfg:      cfg,
		paused:   make(map[string]bool),
		pending:  make(map[pairKey]*pairState),
	}
}

// Observe records that msg scrolled into readerID's viewport. The
// per-pair watermark keeps only the maximum ordering key seen since the
// last flush.
func (b *Batcher) Observe(msg *domain.Message, readerID string) {
	if msg == nil || msg.SenderID == readerID {
		return
	}
	key := pairKey{chatID: msg.ChatID, readerID: readerID}

	b.mu.Lock()
	p, ok := b.pending[key]
	if !ok {
		p = &pairState{}
		b.pending[key] = p
	}
	if p.watermark == nil || p.watermark.Before(msg) {
		p.watermark = msg
	}
	p.count++
	metrics.ReceiptEventsCoalesced.Inc()

	capHit := p.count >= b.cfg.MaxBuffered
	if b.paused[readerID] {
		// backgrounded: buffer without scheduling or flushing
		b.mu.Unlock()
		return
	}
	if p.timer != nil {
		p.timer.Stop()
	}
	if capHit {
		p.timer = nil
		b.mu.Unlock()
		b.flush(key)
		return
	}
	p.timer = time.AfterFunc(b.cfg.Debounce, func() { b.flush(key) })
	b.mu.Unlock()
}

// ChatClosed force-flushes the pair when the chat view goes away.
func (b *Batcher) ChatClosed(chatID, readerID string) {
	b.flush(pairKey{chatID: chatID, readerID: readerID})
}

// Pause stops flushing for one reader; buffered watermarks are retained.
// Called when that reader's app goes to the background: content that
// scrolls by while backgrounded must not become read. Other readers keep
// flushing normally.
func (b *Batcher) Pause(readerID string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.paused[readerID] = true
	for key, p := range b.pending {
		if key.readerID != readerID {
			continue
		}
		if p.timer != nil {
			p.timer.Stop()
			p.timer = nil
		}
	}
}

// Resume restarts the debounce clock for anything the reader still has
// buffered.
func (b *Batcher) Resume(readerID string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if !b.paused[readerID] {
		return
	}
	delete(b.paused, readerID)
	for key, p := range b.pending {
		if key.readerID != readerID || p.watermark == nil {
			continue
		}
		k := key
		p.timer = time.AfterFunc(b.cfg.Debounce, func() { b.flush(k) })
	}
}

// FlushAll drains every pending pair, used at shutdown.
func (b *Batcher) FlushAll() {
	b.mu.Lock()
	keys := make([]pairKey, 0, len(b.pending))
	for key := range b.pending {
		keys = append(keys, key)
	}
	b.mu.Unlock()
	for _, key := range keys {
		b.flush(key)
	}
}

// Pending reports how many observations are buffered for a pair.
func (b *Batcher) Pending(chatID, readerID string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	if p, ok := b.pending[pairKey{chatID: chatID, readerID: readerID}]; ok {
		return p.count
	}
	return 0
}

func (b *Batcher) flush(key pairKey) {
	b.mu.Lock()
	p, ok := b.pending[key]
	if !ok || p.watermark == nil || b.paused[key.readerID] {
		b.mu.Unlock()
		return
	}
	wm := p.watermark
	p.watermark = nil
	p.count = 0
	if p.timer != nil {
		p.timer.Stop()
		p.timer = nil
	}
	p.flights++
	b.mu.Unlock()

	p.flight.Lock()
	b.write(key, wm)
	p.flight.Unlock()

	// Drop the drained entry unless new observations attached to it
	// while the write was in flight. Pairs must not accumulate for the
	// life of the process.
	b.mu.Lock()
	p.flights--
	if cur, ok := b.pending[key]; ok && cur == p && p.flights == 0 && p.watermark == nil && p.timer == nil {
		delete(b.pending, key)
	}
	b.mu.Unlock()
}

// write persists the watermark: the participant cursor always advances
// (the reader's own unread bookkeeping), but the sender-visible read
// transition happens only when the reader sends read receipts.
func (b *Batcher) write(key pairKey, wm *domain.Message) {
	ctx := context.Background()
	now := time.Now().UTC()

	// The cursor instant is the watermark's creation time, not the flush
	// time: anything created later stays unread.
	err := b.retry(func() error {
		return b.chats.AdvanceCursor(ctx, key.chatID, key.readerID, wm.ID, wm.CreatedAt)
	})
	if err != nil {
		b.log.Errorw("advance read cursor", "chat_id", key.chatID, "reader_id", key.readerID, "err", err)
		return
	}

	if !b.ids.ReadReceiptsEnabled(key.readerID) {
		metrics.ReceiptFlushes.Inc()
		return
	}

	var n int
	err = b.retry(func() error {
		var werr error
		n, werr = b.messages.MarkReadThrough(ctx, key.chatID, key.readerID, wm.ID, now)
		return werr
	})
	if err != nil {
		b.log.Errorw("mark read through", "chat_id", key.chatID, "watermark", wm.ID, "err", err)
		return
	}
	metrics.ReceiptFlushes.Inc()
	if n == 0 {
		return
	}

	ev := events.MessageEvent{
		Kind:        events.MessageStateChanged,
		ChatID:      key.chatID,
		ReaderID:    key.readerID,
		WatermarkID: wm.ID,
	}
	b.fan.Publish(ctx, ev)
}

// retry re-runs an idempotent write on transport failure with a short
// linear backoff.
func (b *Batcher) retry(op func() error) error {
	var err error
	for i := 0; i < flushAttempts; i++ {
		if err = op(); err == nil || !syncerr.Retryable(err) {
			return err
		}
		time.Sleep(time.Duration(i+1) * 200 * time.Millisecond)
	}
	return err
}
