// Package telemetry streams server events to HTTP clients as Server-Sent
// Events. Clients may resume with Last-Event-ID from a bounded replay buffer.
package telemetry

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/camera-control/ccs/internal/dispatch"
)

// Event types.
const (
	EventReady     = "ready"
	EventCommand   = "command"
	EventStatus    = "status"
	EventHeartbeat = "heartbeat"
)

// clientQueue is the number of events queued per client before drops.
const clientQueue = 100

// Event is one telemetry event.
type Event struct {
	ID   int64       `json:"id,omitempty"`
	Type string      `json:"type"`
	Tool string      `json:"tool,omitempty"`
	Data interface{} `json:"data"`
}

// Options configure a Hub.
type Options struct {
	Heartbeat  time.Duration
	BufferSize int
	// ReadyData supplies the payload of the ready event sent on subscribe.
	ReadyData func(ctx context.Context) interface{}
}

type client struct {
	id     string
	tool   string
	events chan Event
}

// Hub fans events out to subscribed SSE clients.
type Hub struct {
	mu      sync.RWMutex
	clients map[string]*client

	buffer  *EventBuffer
	nextID  atomic.Int64
	opts    Options
	logger  *zap.Logger
	dropped atomic.Int64

	done     chan struct{}
	stopOnce sync.Once
}

// NewHub creates a hub.
func NewHub(opts Options, logger *zap.Logger) *Hub {
	if logger == nil {
		logger = zap.NewNop()
	}
	if opts.Heartbeat <= 0 {
		opts.Heartbeat = 15 * time.Second
	}
	return &Hub{
		clients: make(map[string]*client),
		buffer:  NewEventBuffer(opts.BufferSize),
		opts:    opts,
		logger:  logger.Named("telemetry"),
		done:    make(chan struct{}),
	}
}

// Subscribe streams events to w until the request ends or the hub stops.
// The optional "tool" query parameter restricts command and status events
// to one tool.
func (h *Hub) Subscribe(w http.ResponseWriter, r *http.Request) error {
	flusher, ok := w.(http.Flusher)
	if !ok {
		return fmt.Errorf("streaming unsupported by response writer")
	}

	w.Header().Set("Content-Type", "text/event-stream; charset=utf-8")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("Access-Control-Allow-Origin", "*")

	c := &client{
		id:     uuid.NewString(),
		tool:   r.URL.Query().Get("tool"),
		events: make(chan Event, clientQueue),
	}

	var lastEventID int64
	if lastIDStr := r.Header.Get("Last-Event-ID"); lastIDStr != "" {
		if id, err := strconv.ParseInt(lastIDStr, 10, 64); err == nil {
			lastEventID = id
		}
	}

	// Register before replaying so nothing published in between is lost
	h.mu.Lock()
	h.clients[c.id] = c
	h.mu.Unlock()
	defer h.unregister(c.id)

	var readyData interface{} = map[string]interface{}{}
	if h.opts.ReadyData != nil {
		readyData = h.opts.ReadyData(r.Context())
	}
	if err := writeEvent(w, flusher, Event{Type: EventReady, Data: readyData}); err != nil {
		return fmt.Errorf("failed to send ready event: %w", err)
	}

	sent := lastEventID
	if lastEventID > 0 {
		for _, e := range h.buffer.EventsAfter(lastEventID) {
			if !c.wants(e) {
				continue
			}
			if err := writeEvent(w, flusher, e); err != nil {
				return fmt.Errorf("failed to replay events: %w", err)
			}
			sent = e.ID
		}
	}

	for {
		select {
		case <-r.Context().Done():
			return nil
		case <-h.done:
			return nil
		case e := <-c.events:
			// Skip anything already delivered by the replay
			if e.ID != 0 && e.ID <= sent {
				continue
			}
			if err := writeEvent(w, flusher, e); err != nil {
				return nil
			}
		}
	}
}

// Publish assigns an ID to e, buffers it and queues it for every matching
// client. Slow clients lose events rather than block the publisher.
func (h *Hub) Publish(e Event) {
	if e.Type != EventHeartbeat {
		e.ID = h.nextID.Add(1)
		h.buffer.Add(e)
	}

	h.mu.RLock()
	defer h.mu.RUnlock()
	for _, c := range h.clients {
		if !c.wants(e) {
			continue
		}
		select {
		case c.events <- e:
		default:
			h.dropped.Add(1)
			h.logger.Debug("Dropped event for slow client", zap.String("client", c.id), zap.Int64("id", e.ID))
		}
	}
}

// RecordCommand publishes a dispatched command.
func (h *Hub) RecordCommand(rec dispatch.Record) {
	h.Publish(Event{
		Type: EventCommand,
		Tool: rec.Tool,
		Data: map[string]interface{}{
			"ts":        rec.Time.UTC().Format(time.RFC3339Nano),
			"source":    rec.Source,
			"command":   rec.Command,
			"status":    rec.Status,
			"code":      rec.Code,
			"message":   rec.Message,
			"latencyMs": float64(rec.Latency.Microseconds()) / 1000,
		},
	})
}

// PublishStatus publishes one status event per tool snapshot.
func (h *Hub) PublishStatus(snapshots []dispatch.Snapshot) {
	for _, s := range snapshots {
		h.Publish(Event{Type: EventStatus, Tool: s.Tool, Data: s})
	}
}

// Run sends heartbeats until ctx is done or the hub is stopped.
func (h *Hub) Run(ctx context.Context) error {
	ticker := time.NewTicker(h.opts.Heartbeat)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-h.done:
			return nil
		case <-ticker.C:
			h.Publish(Event{
				Type: EventHeartbeat,
				Data: map[string]interface{}{"ts": time.Now().UTC().Format(time.RFC3339)},
			})
		}
	}
}

// Stop ends every subscription.
func (h *Hub) Stop() {
	h.stopOnce.Do(func() { close(h.done) })
}

// ClientCount returns the number of subscribed clients.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Dropped returns the number of events dropped for slow clients.
func (h *Hub) Dropped() int64 {
	return h.dropped.Load()
}

func (h *Hub) unregister(id string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.clients, id)
}

func (c *client) wants(e Event) bool {
	return c.tool == "" || e.Tool == "" || e.Tool == c.tool
}

// writeEvent writes one event in SSE framing and flushes it.
func writeEvent(w http.ResponseWriter, flusher http.Flusher, e Event) error {
	data, err := json.Marshal(e.Data)
	if err != nil {
		// Keep the stream alive; the client still sees the event slot
		data, _ = json.Marshal(map[string]string{"error": "failed to encode event data: " + err.Error()})
	}
	if e.ID > 0 {
		if _, err := fmt.Fprintf(w, "id: %d\n", e.ID); err != nil {
			return err
		}
	}
	if _, err := fmt.Fprintf(w, "event: %s\ndata: %s\n\n", e.Type, data); err != nil {
		return err
	}
	flusher.Flush()
	return nil
}
