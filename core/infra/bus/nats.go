package bus

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"github.com/cordum/oncebox/core/infra/logging"
	"github.com/nats-io/nats.go"
)

const (
	EventCreated = "created"
	EventBurned  = "burned"

	defaultSubject = "oncebox.events"
)

var (
	errNilBus     = errors.New("nats bus not initialized")
	errEmptyTopic = errors.New("empty subject")
)

// Event is a lifecycle notification. It never carries the token, the storage
// key or the ciphertext; the id is only present as a digest.
type Event struct {
	Type      string    `json:"type"`
	IDDigest  string    `json:"id_digest"`
	ExpiresIn int64     `json:"expires_in,omitempty"`
	At        time.Time `json:"at"`
}

// NewEvent builds an event for the message id.
func NewEvent(kind, id string, expiresIn int64) Event {
	return Event{
		Type:      kind,
		IDDigest:  DigestID(id),
		ExpiresIn: expiresIn,
		At:        time.Now().UTC(),
	}
}

// DigestID hashes a public message id so subscribers can correlate create and
// burn events without learning the capability.
func DigestID(id string) string {
	sum := sha256.Sum256([]byte(id))
	return hex.EncodeToString(sum[:])
}

// NatsBus is a thin wrapper over a NATS connection that publishes JSON events.
type NatsBus struct {
	nc      *nats.Conn
	subject string
}

// NewNatsBus dials NATS at the provided URL.
func NewNatsBus(url, subject string) (*NatsBus, error) {
	opts := []nats.Option{
		nats.Name("oncebox-events"),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2 * time.Second),
		nats.DisconnectErrHandler(func(nc *nats.Conn, err error) {
			logging.Error("bus", "disconnected from NATS", "error", err)
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			logging.Info("bus", "reconnected to NATS", "url", nc.ConnectedUrl())
		}),
		nats.ClosedHandler(func(nc *nats.Conn) {
			logging.Info("bus", "connection closed")
		}),
	}

	nc, err := nats.Connect(url, opts...)
	if err != nil {
		return nil, err
	}
	return &NatsBus{nc: nc, subject: normalizeSubject(subject)}, nil
}

// Close drains and shuts down the underlying NATS connection.
func (b *NatsBus) Close() {
	if b == nil || b.nc == nil {
		return
	}
	if err := b.nc.Drain(); err != nil {
		b.nc.Close()
	}
}

// Publish sends evt on <subject>.<type>. Delivery is fire-and-forget.
func (b *NatsBus) Publish(evt Event) error {
	if b == nil || b.nc == nil {
		return errNilBus
	}
	subject := EventSubject(b.subject, evt.Type)
	if subject == "" {
		return errEmptyTopic
	}
	data, err := json.Marshal(evt)
	if err != nil {
		return err
	}
	return b.nc.Publish(subject, data)
}

// Status reports the connection state, e.g. CONNECTED or RECONNECTING.
func (b *NatsBus) Status() string {
	if b == nil || b.nc == nil {
		return "UNKNOWN"
	}
	return b.nc.Status().String()
}

// EventSubject joins the base subject and event type.
func EventSubject(base, kind string) string {
	kind = strings.TrimSpace(kind)
	if kind == "" {
		return ""
	}
	return normalizeSubject(base) + "." + kind
}

func normalizeSubject(subject string) string {
	subject = strings.Trim(strings.TrimSpace(subject), ".")
	if subject == "" {
		return defaultSubject
	}
	return subject
}
