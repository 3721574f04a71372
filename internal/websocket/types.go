package websocket

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/coder/websocket"

	previewerrors "github.com/conneroisu/mermaidlive/internal/errors"
)

// Client represents a WebSocket client connection
type Client struct {
	ID           string
	RemoteAddr   string
	conn         *websocket.Conn
	send         chan []byte
	lastActivity time.Time
	rateLimiter  RateLimiter

	mutex  sync.Mutex
	closed bool
}

// Message types exchanged with the browser.
const (
	// TypeStatus carries a preview status to the browser.
	TypeStatus = "status"
	// TypeError reports a rejected client message.
	TypeError = "error"
	// TypeSource carries editor text from the browser.
	TypeSource = "source"
	// TypeTrigger asks for an immediate regenerate.
	TypeTrigger = "trigger"
	// TypeOptions carries render options from the browser.
	TypeOptions = "options"
)

// UpdateMessage represents a message sent to the browser
type UpdateMessage struct {
	Type        string                      `json:"type"`
	State       string                      `json:"state,omitempty"`
	Sequence    uint64                      `json:"sequence,omitempty"`
	Fingerprint string                      `json:"fingerprint,omitempty"`
	Content     string                      `json:"content,omitempty"`
	URL         string                      `json:"url,omitempty"`
	Error       string                      `json:"error,omitempty"`
	Diagnostic  *previewerrors.DiagramError `json:"diagnostic,omitempty"`
	FromCache   bool                        `json:"from_cache,omitempty"`
	Timestamp   time.Time                   `json:"timestamp"`
}

// ClientMessage is a message received from the browser.
type ClientMessage struct {
	Type    string          `json:"type"`
	Content string          `json:"content,omitempty"`
	Options json.RawMessage `json:"options,omitempty"`
}

// MessageHandler handles a message received from a client. A returned error
// is reported back to that client only.
type MessageHandler func(client *Client, message ClientMessage) error

// RateLimiter interface for WebSocket rate limiting
type RateLimiter interface {
	Allow() bool
	Reset()
}

// OriginValidator interface for WebSocket origin validation
type OriginValidator interface {
	IsAllowedOrigin(origin string) bool
}

// OriginValidatorFunc adapts a function to OriginValidator.
type OriginValidatorFunc func(origin string) bool

// IsAllowedOrigin calls f.
func (f OriginValidatorFunc) IsAllowedOrigin(origin string) bool {
	return f(origin)
}

// Send queues a message for this client only. It reports false when the
// client is gone or its buffer is full.
func (c *Client) Send(message UpdateMessage) bool {
	if message.Timestamp.IsZero() {
		message.Timestamp = time.Now()
	}
	data, err := json.Marshal(message)
	if err != nil {
		return false
	}
	return c.enqueue(data)
}

func (c *Client) enqueue(data []byte) bool {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	if c.closed {
		return false
	}
	select {
	case c.send <- data:
		return true
	default:
		return false
	}
}

func (c *Client) close() {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	if !c.closed {
		c.closed = true
		close(c.send)
	}
}

// LastActivity returns when the client last sent a message.
func (c *Client) LastActivity() time.Time {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	return c.lastActivity
}

func (c *Client) touch() {
	c.mutex.Lock()
	c.lastActivity = time.Now()
	c.mutex.Unlock()
}
