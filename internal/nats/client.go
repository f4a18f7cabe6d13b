package nats

import (
	"encoding/json"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/saviobatista/flightpath/internal/types"
)

const (
	// SubjectPositionPrefix is followed by the flight id
	SubjectPositionPrefix = "flight.position."
	// SubjectAllPositions matches every flight
	SubjectAllPositions = SubjectPositionPrefix + "*"
)

// Conn is the subset of *nats.Conn used by the client
type Conn interface {
	Publish(subj string, data []byte) error
	Subscribe(subj string, cb nats.MsgHandler) (*nats.Subscription, error)
	Flush() error
	Close()
}

// Client publishes and receives live position updates
type Client struct {
	conn Conn
}

// New creates a new NATS client
func New(url string) (*Client, error) {
	if url == "" {
		return nil, fmt.Errorf("failed to connect to NATS: empty URL")
	}
	nc, err := nats.Connect(url,
		nats.Name("flightpath"),
		nats.Timeout(5*time.Second),
		nats.MaxReconnects(-1),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS: %w", err)
	}
	return &Client{conn: nc}, nil
}

// NewWithConn wraps an existing connection (useful for testing)
func NewWithConn(conn Conn) *Client {
	return &Client{conn: conn}
}

// PositionSubject returns the subject a flight's updates are published on
func PositionSubject(flightID string) string {
	// Subject tokens cannot contain dots or whitespace.
	id := strings.Map(func(r rune) rune {
		switch r {
		case '.', ' ', '\t', '*', '>':
			return '_'
		}
		return r
	}, flightID)
	return SubjectPositionPrefix + id
}

// PublishPosition publishes a position update for its flight
func (c *Client) PublishPosition(update *types.PositionUpdate) error {
	if update == nil || update.FlightID == "" {
		return fmt.Errorf("invalid position update: missing flight id")
	}
	data, err := json.Marshal(update)
	if err != nil {
		return fmt.Errorf("failed to marshal position update: %w", err)
	}
	if err := c.conn.Publish(PositionSubject(update.FlightID), data); err != nil {
		return fmt.Errorf("failed to publish position update: %w", err)
	}
	return nil
}

// SubscribePositions delivers updates for one flight, or for all flights when
// flightID is empty
func (c *Client) SubscribePositions(flightID string, handler func(*types.PositionUpdate)) (*nats.Subscription, error) {
	subject := SubjectAllPositions
	if flightID != "" {
		subject = PositionSubject(flightID)
	}

	sub, err := c.conn.Subscribe(subject, func(msg *nats.Msg) {
		var update types.PositionUpdate
		if err := json.Unmarshal(msg.Data, &update); err != nil {
			log.Printf("Warning: failed to unmarshal position update on %s: %v", msg.Subject, err)
			return
		}
		handler(&update)
	})
	if err != nil {
		return nil, fmt.Errorf("failed to subscribe: %w", err)
	}
	return sub, nil
}

// Flush waits until published updates have reached the server
func (c *Client) Flush() error {
	return c.conn.Flush()
}

// Close closes the NATS connection
func (c *Client) Close() {
	if c.conn != nil {
		c.conn.Close()
	}
}
