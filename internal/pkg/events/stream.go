package events

import (
	"context"
	"encoding/json"
	"sync/atomic"
	"time"

	"github.com/gofiber/fiber/v2/log"
)

const (
	DefaultBufferSize = 256
	publishTimeout    = 2 * time.Second
)

// Stream decouples stage code from the bus. Emit never blocks; a background
// goroutine started with Run publishes buffered events in order.
type Stream struct {
	bus     Bus
	ch      chan Event
	dropped atomic.Int64
	sent    atomic.Int64
}

func NewStream(bus Bus, size int) *Stream {
	if size <= 0 {
		size = DefaultBufferSize
	}
	return &Stream{bus: bus, ch: make(chan Event, size)}
}

// Emit queues e for publishing. A full buffer drops the event.
func (s *Stream) Emit(e Event) {
	stamp(&e)
	select {
	case s.ch <- e:
	default:
		s.dropped.Add(1)
		log.Warnf("[Events] Buffer full, dropping %s for repo %d", e.Type, e.RepoID)
	}
}

// Run publishes events until ctx is done, then flushes what is left in the
// buffer.
func (s *Stream) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			s.flush()
			return
		case e := <-s.ch:
			s.publish(ctx, e)
		}
	}
}

func (s *Stream) flush() {
	ctx, cancel := context.WithTimeout(context.Background(), publishTimeout)
	defer cancel()
	for {
		select {
		case e := <-s.ch:
			s.publish(ctx, e)
		default:
			return
		}
	}
}

func (s *Stream) publish(ctx context.Context, e Event) {
	data, err := json.Marshal(e)
	if err != nil {
		log.Errorf("[Events] Failed to encode %s: %v", e.Type, err)
		return
	}
	pctx, cancel := context.WithTimeout(ctx, publishTimeout)
	defer cancel()
	if err := s.bus.Publish(pctx, Channel(e.RepoID), data); err != nil {
		log.Warnf("[Events] Failed to publish %s for repo %d: %v", e.Type, e.RepoID, err)
		return
	}
	s.sent.Add(1)
	log.Debugf("[Events] Published %s for repo %d", e.Type, e.RepoID)
}

// Dropped is the number of events lost to a full buffer.
func (s *Stream) Dropped() int64 { return s.dropped.Load() }

// Sent is the number of events the bus accepted.
func (s *Stream) Sent() int64 { return s.sent.Load() }
