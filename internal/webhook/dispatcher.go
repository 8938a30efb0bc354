package webhook

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
)

// maxAttempts bounds webhook POST retries; delivery is at-least-once, never
// exactly-once (spec §1 non-goals).
const maxAttempts = 5

// Dispatcher fans events out to HTTP webhook endpoints and to any
// connected live-tail websocket clients, adapted from the teacher's
// EventBus worker-pool shape.
type Dispatcher struct {
	mu       sync.RWMutex
	buffer   chan *Event
	client   *http.Client
	workers  int
	wsConns  map[*websocket.Conn]struct{}
	ctx      context.Context
	cancel   context.CancelFunc
	wg       sync.WaitGroup
}

// NewDispatcher starts a Dispatcher with the given buffer size and worker
// count, mirroring the teacher's NewEventBus(bufferSize, workers).
func NewDispatcher(bufferSize, workers int) *Dispatcher {
	ctx, cancel := context.WithCancel(context.Background())
	d := &Dispatcher{
		buffer:  make(chan *Event, bufferSize),
		client:  &http.Client{Timeout: 10 * time.Second},
		workers: workers,
		wsConns: make(map[*websocket.Conn]struct{}),
		ctx:     ctx,
		cancel:  cancel,
	}
	for i := 0; i < workers; i++ {
		d.wg.Add(1)
		go d.worker(i)
	}
	log.Info().Int("buffer_size", bufferSize).Int("workers", workers).Msg("webhook dispatcher started")
	return d
}

// Dispatch enqueues an event for delivery. The buffer is bounded; a full
// buffer drops the event rather than blocking the caller (the caller is
// typically a Worker mid-crawl and must not stall on a slow webhook).
func (d *Dispatcher) Dispatch(ev *Event) {
	select {
	case d.buffer <- ev:
	case <-d.ctx.Done():
	default:
		log.Warn().Str("event_id", ev.ID).Str("type", string(ev.Type)).Msg("webhook event dropped, buffer full")
	}
}

func (d *Dispatcher) worker(id int) {
	defer d.wg.Done()
	for {
		select {
		case ev := <-d.buffer:
			d.deliver(ev)
		case <-d.ctx.Done():
			return
		}
	}
}

func (d *Dispatcher) deliver(ev *Event) {
	d.broadcastLiveTail(ev)

	if ev.WebhookURL == "" {
		return
	}
	body, err := json.Marshal(ev)
	if err != nil {
		log.Error().Err(err).Str("event_id", ev.ID).Msg("failed to marshal webhook event")
		return
	}

	backoff := time.Second
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		if d.post(ev.WebhookURL, body) {
			return
		}
		log.Warn().Str("event_id", ev.ID).Int("attempt", attempt).Msg("webhook delivery failed, retrying")
		select {
		case <-time.After(backoff):
		case <-d.ctx.Done():
			return
		}
		backoff *= 2
	}
	log.Error().Str("event_id", ev.ID).Str("url", ev.WebhookURL).Msg("webhook delivery exhausted retries")
}

func (d *Dispatcher) post(url string, body []byte) bool {
	req, err := http.NewRequestWithContext(d.ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return false
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := d.client.Do(req)
	if err != nil {
		return false
	}
	defer resp.Body.Close()
	return resp.StatusCode >= 200 && resp.StatusCode < 300
}

// RegisterLiveTail adds a websocket connection that receives every
// dispatched event verbatim, independent of any particular crawl's
// configured webhook (an optional observability surface on top of the
// required webhook delivery, spec §9 design note on streams).
func (d *Dispatcher) RegisterLiveTail(conn *websocket.Conn) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.wsConns[conn] = struct{}{}
}

// UnregisterLiveTail removes a websocket connection, called on disconnect.
func (d *Dispatcher) UnregisterLiveTail(conn *websocket.Conn) {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.wsConns, conn)
}

func (d *Dispatcher) broadcastLiveTail(ev *Event) {
	d.mu.RLock()
	conns := make([]*websocket.Conn, 0, len(d.wsConns))
	for c := range d.wsConns {
		conns = append(conns, c)
	}
	d.mu.RUnlock()
	if len(conns) == 0 {
		return
	}

	payload, err := json.Marshal(ev)
	if err != nil {
		return
	}
	for _, c := range conns {
		if err := c.WriteMessage(websocket.TextMessage, payload); err != nil {
			d.UnregisterLiveTail(c)
		}
	}
}

// Close cancels in-flight deliveries and waits for all workers to exit.
func (d *Dispatcher) Close() error {
	d.cancel()
	d.wg.Wait()
	return nil
}
