package websocket

import (
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"go.uber.org/zap"
)

// FlushFunc receives a completed audio segment. It must not block; slow
// processing is the flush consumer's problem, never the intake's.
type FlushFunc func(connectionID string, segment []byte)

// Aggregator buffers raw audio fragments per connection and flushes them
// as one contiguous segment when the debounce window elapses or the
// accumulated size crosses the high-water mark. Fragments are flushed in
// arrival order, never reordered or split.
type Aggregator struct {
	clock    clock.Clock
	window   time.Duration
	maxBytes int
	minBytes int
	flush    FlushFunc
	logger   *zap.Logger

	mu       sync.Mutex
	segments map[string]*segment
}

type segment struct {
	fragments [][]byte
	size      int
	startedAt time.Time

	// generation invalidates stale debounce timers: every ingest bumps it,
	// and a firing timer only flushes if its captured generation still
	// matches.
	generation uint64
	timer      *clock.Timer
}

// NewAggregator creates a chunk aggregator.
func NewAggregator(clk clock.Clock, window time.Duration, maxBytes, minBytes int, flush FlushFunc, logger *zap.Logger) *Aggregator {
	return &Aggregator{
		clock:    clk,
		window:   window,
		maxBytes: maxBytes,
		minBytes: minBytes,
		flush:    flush,
		logger:   logger,
		segments: make(map[string]*segment),
	}
}

// Ingest appends a fragment to the connection's current segment and
// restarts the debounce timer. Crossing the high-water mark flushes
// immediately.
func (a *Aggregator) Ingest(connectionID string, fragment []byte) {
	if len(fragment) == 0 {
		return
	}

	a.mu.Lock()
	seg := a.segments[connectionID]
	if seg == nil {
		seg = &segment{startedAt: a.clock.Now()}
		a.segments[connectionID] = seg
	}

	// The websocket read loop reuses its buffer; keep our own copy.
	copied := make([]byte, len(fragment))
	copy(copied, fragment)
	seg.fragments = append(seg.fragments, copied)
	seg.size += len(copied)
	seg.generation++
	if seg.timer != nil {
		seg.timer.Stop()
		seg.timer = nil
	}

	if seg.size >= a.maxBytes {
		data := a.swapLocked(connectionID, seg)
		a.mu.Unlock()
		a.dispatch(connectionID, data)
		return
	}

	generation := seg.generation
	seg.timer = a.clock.AfterFunc(a.window, func() {
		a.fire(connectionID, generation)
	})
	a.mu.Unlock()
}

// fire is the debounce timer callback. A stale generation means another
// fragment arrived after this timer was scheduled; the newer timer owns
// the flush.
func (a *Aggregator) fire(connectionID string, generation uint64) {
	a.mu.Lock()
	seg := a.segments[connectionID]
	if seg == nil || seg.generation != generation {
		a.mu.Unlock()
		return
	}
	data := a.swapLocked(connectionID, seg)
	a.mu.Unlock()
	a.dispatch(connectionID, data)
}

// swapLocked atomically takes the segment out of the map so a fresh one
// starts accepting fragments immediately, and concatenates the accumulated
// fragments in arrival order.
func (a *Aggregator) swapLocked(connectionID string, seg *segment) []byte {
	delete(a.segments, connectionID)
	if seg.timer != nil {
		seg.timer.Stop()
	}

	data := make([]byte, 0, seg.size)
	for _, fragment := range seg.fragments {
		data = append(data, fragment...)
	}
	return data
}

func (a *Aggregator) dispatch(connectionID string, data []byte) {
	if len(data) == 0 {
		return
	}
	if len(data) < a.minBytes {
		a.logger.Debug("Discarding segment below minimum size",
			zap.String("connectionID", connectionID),
			zap.Int("size", len(data)))
		return
	}
	a.flush(connectionID, data)
}

// Cancel discards any partial segment and pending timer for a connection.
// Called on teardown; the partial segment is not processed.
func (a *Aggregator) Cancel(connectionID string) {
	a.mu.Lock()
	defer a.mu.Unlock()

	seg := a.segments[connectionID]
	if seg == nil {
		return
	}
	if seg.timer != nil {
		seg.timer.Stop()
	}
	delete(a.segments, connectionID)
}

// Pending reports the buffered byte count for a connection.
func (a *Aggregator) Pending(connectionID string) int {
	a.mu.Lock()
	defer a.mu.Unlock()

	if seg := a.segments[connectionID]; seg != nil {
		return seg.size
	}
	return 0
}
