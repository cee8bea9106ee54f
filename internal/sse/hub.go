// Package sse streams per-job progress/terminal events to browser clients
// polling the previewer (SPEC_FULL.md §4 item 2). Adapted from the teacher's
// channel/subscription hub, keyed by job id instead of user id since a job's
// events have exactly one natural audience: whoever is watching that job.
package sse

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/cardpipe/cardpipe/internal/platform/logger"
)

type Event string

const (
	EventProgress  Event = "Progress"
	EventSucceeded Event = "Succeeded"
	EventFailed    Event = "Failed"
)

type Message struct {
	JobID string `json:"jobId"`
	Event Event  `json:"event"`
	Data  any    `json:"data,omitempty"`
}

type Client struct {
	ID       uuid.UUID
	JobID    string
	Outbound chan Message
	done     chan struct{}
}

// Hub fans out job events to every client currently watching that job id.
type Hub struct {
	mu            sync.RWMutex
	logger        *logger.Logger
	subscriptions map[string]map[*Client]bool
}

func NewHub(log *logger.Logger) *Hub {
	return &Hub{
		logger:        log.With("component", "sse_hub"),
		subscriptions: make(map[string]map[*Client]bool),
	}
}

func (hub *Hub) NewClient(jobID string) *Client {
	return &Client{
		ID:       uuid.New(),
		JobID:    jobID,
		Outbound: make(chan Message, 16),
		done:     make(chan struct{}),
	}
}

func (hub *Hub) Subscribe(client *Client) {
	hub.mu.Lock()
	defer hub.mu.Unlock()
	jobID := strings.TrimSpace(client.JobID)
	if jobID == "" {
		return
	}
	clients, ok := hub.subscriptions[jobID]
	if !ok {
		clients = make(map[*Client]bool)
		hub.subscriptions[jobID] = clients
	}
	clients[client] = true
}

func (hub *Hub) Unsubscribe(client *Client) {
	hub.mu.Lock()
	defer hub.mu.Unlock()
	if clients, ok := hub.subscriptions[client.JobID]; ok {
		delete(clients, client)
		if len(clients) == 0 {
			delete(hub.subscriptions, client.JobID)
		}
	}
}

// Publish broadcasts msg to every client subscribed to msg.JobID. Dropped
// silently (with a warning) if a client's outbound buffer is saturated: a
// slow reader must never block job progress.
func (hub *Hub) Publish(msg Message) {
	hub.mu.RLock()
	defer hub.mu.RUnlock()
	for c := range hub.subscriptions[msg.JobID] {
		select {
		case c.Outbound <- msg:
		default:
			hub.logger.Warn("dropping SSE message, outbound buffer full", "job_id", msg.JobID, "client_id", c.ID)
		}
	}
}

// Serve blocks, writing msg as they arrive plus periodic heartbeats, until
// the request context ends or the client is closed.
func (hub *Hub) Serve(w http.ResponseWriter, r *http.Request, client *Client) {
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")

	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}
	ctx := r.Context()

	heartbeat := time.NewTicker(15 * time.Second)
	defer heartbeat.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-client.done:
			return
		case <-heartbeat.C:
			fmt.Fprint(w, ": ping\n\n")
			flusher.Flush()
		case msg := <-client.Outbound:
			b, err := json.Marshal(msg)
			if err != nil {
				hub.logger.Warn("failed to marshal SSE message", "error", err)
				continue
			}
			fmt.Fprintf(w, "event: message\ndata: %s\n\n", string(b))
			flusher.Flush()
			if msg.Event == EventSucceeded || msg.Event == EventFailed {
				return
			}
		}
	}
}

func (hub *Hub) Close(client *Client) {
	hub.Unsubscribe(client)
	close(client.done)
}
