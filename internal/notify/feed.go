// Package notify is the in-process notification feed the presentation layer
// polls or subscribes to. It implements alerts.Sink.
package notify

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/fairyhunter13/pos-stock-service/internal/model"
	"github.com/fairyhunter13/pos-stock-service/internal/obs"
)

// Kind names an event.
type Kind string

const (
	KindAlertRaised  Kind = "alert_raised"
	KindAlertCleared Kind = "alert_cleared"
	KindAlertSnoozed Kind = "alert_snoozed"
	// KindStockWarning reports sale lines whose stock could not be updated or
	// were overdrawn.
	KindStockWarning Kind = "stock_warning"
)

// Event is one notification. Seq increases by one per published event.
type Event struct {
	Seq       uint64            `json:"seq"`
	Kind      Kind              `json:"kind"`
	ProductID string            `json:"product_id,omitempty"`
	SaleID    string            `json:"sale_id,omitempty"`
	Reason    string            `json:"reason,omitempty"`
	Alert     *model.StockAlert `json:"alert,omitempty"`
	Snooze    *model.Snooze     `json:"snooze,omitempty"`
	At        time.Time         `json:"at"`
}

// Feed buffers published events in a backlog, moves them through a bounded
// channel with a broker goroutine and delivers them in order to a history
// ring and to subscribers.
type Feed struct {
	mu      sync.Mutex
	backlog []Event
	notify  chan struct{}
	out     chan Event
	closed  atomic.Bool
	seq     Sequencer

	enqueued  atomic.Uint64
	delivered atomic.Uint64

	histMu      sync.RWMutex
	history     []Event
	historySize int

	subMu   sync.RWMutex
	subs    map[int]func(Event)
	nextSub int

	metrics *obs.Metrics
	now     func() time.Time
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

// New creates a Feed keeping the last historySize events.
func New(historySize, outBuffer int, m *obs.Metrics) *Feed {
	if historySize <= 0 {
		historySize = 256
	}
	if outBuffer <= 0 {
		outBuffer = 64
	}
	if m == nil {
		m = obs.NewMetrics(nil)
	}
	return &Feed{
		notify:      make(chan struct{}, 1),
		out:         make(chan Event, outBuffer),
		historySize: historySize,
		subs:        make(map[int]func(Event)),
		metrics:     m,
		now:         time.Now,
	}
}

// Start runs the broker and dispatcher until ctx is done or Stop is called.
func (f *Feed) Start(ctx context.Context, highWatermark int) {
	ctx, f.cancel = context.WithCancel(ctx)
	f.wg.Add(2)
	go func() {
		defer f.wg.Done()
		f.broker(ctx, highWatermark)
	}()
	go func() {
		defer f.wg.Done()
		f.dispatch(ctx)
	}()
}

// Stop cancels the background goroutines and waits for them.
func (f *Feed) Stop() {
	if f.cancel != nil {
		f.cancel()
	}
	f.wg.Wait()
}

// broker moves backlog items to the output channel.
func (f *Feed) broker(ctx context.Context, highWatermark int) {
	ticker := time.NewTicker(50 * time.Millisecond)
	defer ticker.Stop()
	for {
		f.flushOnce()
		if highWatermark > 0 {
			if sz := f.BacklogSize(); sz > highWatermark {
				obs.Logger.Warn("feed_backlog_high", "backlog_size", sz, "high_watermark", highWatermark)
			}
		}
		select {
		case <-ctx.Done():
			return
		case <-f.notify:
		case <-ticker.C:
		}
	}
}

// flushOnce drains backlog into the output buffer.
func (f *Feed) flushOnce() {
	f.mu.Lock()
	defer f.mu.Unlock()
	for len(f.backlog) > 0 && len(f.out) < cap(f.out) {
		item := f.backlog[0]
		f.backlog = f.backlog[1:]
		f.out <- item
	}
}

// dispatch delivers events in sequence order.
func (f *Feed) dispatch(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev := <-f.out:
			f.deliver(ev)
		}
	}
}

func (f *Feed) deliver(ev Event) {
	f.histMu.Lock()
	f.history = append(f.history, ev)
	if over := len(f.history) - f.historySize; over > 0 {
		f.history = append(f.history[:0:0], f.history[over:]...)
	}
	f.histMu.Unlock()

	f.subMu.RLock()
	for _, fn := range f.subs {
		fn(ev)
	}
	f.subMu.RUnlock()
	f.metrics.FeedEventsTotal.WithLabelValues(string(ev.Kind)).Inc()
	f.delivered.Add(1)
}

// Publish assigns the next sequence number to ev and queues it without
// blocking. It reports false once intake is closed.
func (f *Feed) Publish(ev Event) (uint64, bool) {
	if f.closed.Load() {
		return 0, false
	}
	if ev.At.IsZero() {
		ev.At = f.now().UTC()
	}
	f.mu.Lock()
	ev.Seq = f.seq.Next()
	f.backlog = append(f.backlog, ev)
	f.enqueued.Add(1)
	f.mu.Unlock()
	select {
	case f.notify <- struct{}{}:
	default:
	}
	return ev.Seq, true
}

// Since returns up to limit delivered events with Seq > after, oldest first.
// A limit <= 0 returns all of them.
func (f *Feed) Since(after uint64, limit int) []Event {
	f.histMu.RLock()
	defer f.histMu.RUnlock()
	out := []Event{}
	for _, ev := range f.history {
		if ev.Seq <= after {
			continue
		}
		out = append(out, ev)
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out
}

// Subscribe registers fn for every delivered event and returns a function
// removing it. fn runs on the dispatcher goroutine and must not block.
func (f *Feed) Subscribe(fn func(Event)) (cancel func()) {
	f.subMu.Lock()
	id := f.nextSub
	f.nextSub++
	f.subs[id] = fn
	f.subMu.Unlock()
	return func() {
		f.subMu.Lock()
		delete(f.subs, id)
		f.subMu.Unlock()
	}
}

// LastSeq returns the sequence number of the latest published event.
func (f *Feed) LastSeq() uint64 { return f.seq.Last() }

// BacklogSize returns the number of published-but-not-yet-brokered events.
func (f *Feed) BacklogSize() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.backlog)
}

// Depth returns backlog plus buffered output items.
func (f *Feed) Depth() int {
	f.mu.Lock()
	bl := len(f.backlog)
	f.mu.Unlock()
	return bl + len(f.out)
}

// Metrics returns counters and sizes for observability.
func (f *Feed) Metrics() (published, delivered uint64, backlog, depth int) {
	return f.enqueued.Load(), f.delivered.Load(), f.BacklogSize(), f.Depth()
}

// CloseIntake rejects future publishes.
func (f *Feed) CloseIntake() { f.closed.Store(true) }

// IsClosed reports whether intake has been closed.
func (f *Feed) IsClosed() bool { return f.closed.Load() }

// DrainUntil blocks until every published event was delivered or ctx is done.
func (f *Feed) DrainUntil(ctx context.Context) bool {
	for {
		pub, del, backlog, depth := f.Metrics()
		if backlog == 0 && depth == 0 && pub == del {
			return true
		}
		select {
		case <-ctx.Done():
			return false
		case <-time.After(20 * time.Millisecond):
		}
	}
}

// AlertRaised implements alerts.Sink.
func (f *Feed) AlertRaised(a model.StockAlert) {
	f.Publish(Event{Kind: KindAlertRaised, ProductID: a.ProductID, Alert: &a, At: a.CreatedAt})
}

// AlertCleared implements alerts.Sink.
func (f *Feed) AlertCleared(productID, reason string) {
	f.Publish(Event{Kind: KindAlertCleared, ProductID: productID, Reason: reason})
}

// AlertSnoozed implements alerts.Sink.
func (f *Feed) AlertSnoozed(s model.Snooze) {
	f.Publish(Event{Kind: KindAlertSnoozed, ProductID: s.ProductID, Snooze: &s})
}
