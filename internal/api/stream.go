package api

import (
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// TrainingEvent describes websocket payloads emitted while a training job
// runs. Type is one of started, epoch, cancelling, cancelled, completed or
// error.
type TrainingEvent struct {
	Type          string    `json:"type"`
	JobID         string    `json:"job_id"`
	Epoch         int       `json:"epoch,omitempty"`
	Epochs        int       `json:"epochs,omitempty"`
	RMSE          float64   `json:"rmse,omitempty"`
	MaxGap        float64   `json:"max_gap,omitempty"`
	ParityPenalty float64   `json:"parity_penalty,omitempty"`
	ElapsedMs     int64     `json:"elapsed_ms,omitempty"`
	Version       string    `json:"version,omitempty"`
	GatePassed    *bool     `json:"gate_passed,omitempty"`
	Message       string    `json:"message,omitempty"`
	Timestamp     time.Time `json:"timestamp"`
}

// wsClient wraps a websocket connection with write locking.
type wsClient struct {
	conn *websocket.Conn
	mu   sync.Mutex
}

// TrainingNotifier keeps track of active websocket clients and broadcasts
// training events. New clients immediately receive the latest event so a
// dashboard attaching mid-run shows current progress.
type TrainingNotifier struct {
	mu         sync.Mutex
	clients    map[*wsClient]struct{}
	lastStatus *TrainingEvent
}

// NewTrainingNotifier constructs a notifier instance.
func NewTrainingNotifier() *TrainingNotifier {
	return &TrainingNotifier{clients: make(map[*wsClient]struct{})}
}

// Register attaches a websocket connection and returns a client handle.
func (n *TrainingNotifier) Register(conn *websocket.Conn) *wsClient {
	client := &wsClient{conn: conn}
	n.mu.Lock()
	n.clients[client] = struct{}{}
	status := n.lastStatus
	n.mu.Unlock()

	if status != nil {
		_ = client.writeJSON(*status)
	}
	return client
}

// Unregister removes the websocket client from the notifier and closes the socket.
func (n *TrainingNotifier) Unregister(client *wsClient) {
	if client == nil {
		return
	}
	n.mu.Lock()
	delete(n.clients, client)
	n.mu.Unlock()
	_ = client.conn.Close()
}

// Broadcast sends the supplied event to all registered websocket clients.
func (n *TrainingNotifier) Broadcast(event TrainingEvent) {
	event.Timestamp = time.Now().UTC()

	n.mu.Lock()
	snapshot := event
	n.lastStatus = &snapshot

	for client := range n.clients {
		if err := client.writeJSON(event); err != nil {
			delete(n.clients, client)
			_ = client.conn.Close()
		}
	}
	n.mu.Unlock()
}

func (c *wsClient) writeJSON(payload interface{}) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn == nil {
		return nil
	}
	c.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
	return c.conn.WriteJSON(payload)
}

func (n *TrainingNotifier) LastStatus() *TrainingEvent {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.lastStatus == nil {
		return nil
	}
	copy := *n.lastStatus
	return &copy
}
