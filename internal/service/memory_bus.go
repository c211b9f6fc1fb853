package service

import (
	"context"
	"path"
	"strconv"
	"strings"
	"sync"

	"github.com/alanyoungcy/optionsbot/internal/domain"
)

// memoryBusBuffer is the per-subscriber queue depth. A subscriber that falls
// this far behind misses messages, the same as a slow Redis Pub/Sub client.
const memoryBusBuffer = 128

// MemoryBus is the in-process domain.SignalBus used when Redis is not
// configured. Channels with glob characters subscribe by pattern.
type MemoryBus struct {
	maxLen int

	mu      sync.RWMutex
	subs    map[int]*memorySub
	nextSub int
	streams map[string][]domain.StreamMessage
	seq     map[string]int64
}

type memorySub struct {
	pattern string
	glob    bool
	ch      chan []byte
}

var _ domain.SignalBus = (*MemoryBus)(nil)

// NewMemoryBus returns an empty bus whose streams keep the newest maxLen
// entries. Zero selects 10,000.
func NewMemoryBus(maxLen int) *MemoryBus {
	if maxLen <= 0 {
		maxLen = 10000
	}
	return &MemoryBus{
		maxLen:  maxLen,
		subs:    make(map[int]*memorySub),
		streams: make(map[string][]domain.StreamMessage),
		seq:     make(map[string]int64),
	}
}

// Publish delivers payload to every matching subscriber without blocking.
func (b *MemoryBus) Publish(_ context.Context, channel string, payload []byte) error {
	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, s := range b.subs {
		if !s.matches(channel) {
			continue
		}
		msg := append([]byte(nil), payload...)
		select {
		case s.ch <- msg:
		default:
		}
	}
	return nil
}

// Subscribe returns a channel of payloads published to channel. It is closed
// when ctx is cancelled.
func (b *MemoryBus) Subscribe(ctx context.Context, channel string) (<-chan []byte, error) {
	s := &memorySub{
		pattern: channel,
		glob:    strings.ContainsAny(channel, "*?["),
		ch:      make(chan []byte, memoryBusBuffer),
	}

	b.mu.Lock()
	id := b.nextSub
	b.nextSub++
	b.subs[id] = s
	b.mu.Unlock()

	go func() {
		<-ctx.Done()
		b.mu.Lock()
		delete(b.subs, id)
		close(s.ch)
		b.mu.Unlock()
	}()
	return s.ch, nil
}

func (s *memorySub) matches(channel string) bool {
	if !s.glob {
		return s.pattern == channel
	}
	ok, err := path.Match(s.pattern, channel)
	return err == nil && ok
}

// StreamAppend appends payload under a monotonically increasing "<n>-0" ID.
func (b *MemoryBus) StreamAppend(_ context.Context, stream string, payload []byte) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.seq[stream]++
	msgs := append(b.streams[stream], domain.StreamMessage{
		ID:      strconv.FormatInt(b.seq[stream], 10) + "-0",
		Payload: append([]byte(nil), payload...),
	})
	if len(msgs) > b.maxLen {
		msgs = msgs[len(msgs)-b.maxLen:]
	}
	b.streams[stream] = msgs
	return nil
}

// StreamRead returns up to count entries after lastID ("0" or "" reads from
// the beginning). A non-positive count reads 100.
func (b *MemoryBus) StreamRead(_ context.Context, stream string, lastID string, count int) ([]domain.StreamMessage, error) {
	if count <= 0 {
		count = 100
	}
	after := streamSeq(lastID)

	b.mu.RLock()
	defer b.mu.RUnlock()
	out := make([]domain.StreamMessage, 0, count)
	for _, m := range b.streams[stream] {
		if streamSeq(m.ID) <= after {
			continue
		}
		out = append(out, m)
		if len(out) == count {
			break
		}
	}
	return out, nil
}

func streamSeq(id string) int64 {
	head, _, _ := strings.Cut(id, "-")
	n, _ := strconv.ParseInt(head, 10, 64)
	return n
}
