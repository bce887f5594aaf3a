package feed

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/septivank/energy-bypass-monitor/internal/meter"
)

// LiveTopicFilter subscribes to the live snapshot of every pair side
const LiveTopicFilter = "meters/+/+/live_data"

// ErrBadTopic is returned for topics not shaped meters/{pairId}/{role}/live_data
var ErrBadTopic = errors.New("unexpected live data topic")

// Update is one live snapshot of one meter
type Update struct {
	PairID     string        `json:"pair_id"`
	Role       meter.Role    `json:"role"`
	Reading    meter.Reading `json:"reading"`
	ReceivedAt time.Time     `json:"received_at"`
}

// Source yields live reading updates until ctx is cancelled. The returned
// channel is closed when the subscription ends.
type Source interface {
	Subscribe(ctx context.Context) (<-chan Update, error)
}

// LiveTopic returns the live data topic of one pair side
func LiveTopic(pairID string, role meter.Role) string {
	return fmt.Sprintf("meters/%s/%s/live_data", pairID, role)
}

// ParseTopic extracts the pair id and role from a live data topic
func ParseTopic(topic string) (string, meter.Role, error) {
	parts := strings.Split(topic, "/")
	if len(parts) != 4 || parts[0] != "meters" || parts[3] != "live_data" || parts[1] == "" {
		return "", "", fmt.Errorf("%w: %s", ErrBadTopic, topic)
	}
	role := meter.Role(parts[2])
	if !role.Valid() {
		return "", "", fmt.Errorf("%w: unknown role in %s", ErrBadTopic, topic)
	}
	return parts[1], role, nil
}

// DecodeLive decodes a live snapshot published on topic. The topic decides
// pair and role.
func DecodeLive(topic string, payload []byte, receivedAt time.Time) (Update, error) {
	pairID, role, err := ParseTopic(topic)
	if err != nil {
		return Update{}, err
	}
	var r meter.Reading
	if err := json.Unmarshal(payload, &r); err != nil {
		return Update{}, fmt.Errorf("failed to unmarshal reading: %w", err)
	}
	r.PairID = pairID
	r.Role = role
	return Update{PairID: pairID, Role: role, Reading: r, ReceivedAt: receivedAt}, nil
}

// DecodeEnvelope decodes a broker message carrying pair_id and role inside
// the reading body
func DecodeEnvelope(body []byte, receivedAt time.Time) (Update, error) {
	var r meter.Reading
	if err := json.Unmarshal(body, &r); err != nil {
		return Update{}, fmt.Errorf("failed to unmarshal reading: %w", err)
	}
	if r.PairID == "" {
		return Update{}, fmt.Errorf("reading without pair_id")
	}
	if !r.Role.Valid() {
		return Update{}, fmt.Errorf("reading with unknown role %q", r.Role)
	}
	return Update{PairID: r.PairID, Role: r.Role, Reading: r, ReceivedAt: receivedAt}, nil
}

// ChannelSource is a Source fed by Push. Broker adapters push decoded
// messages into it; tests push updates directly.
type ChannelSource struct {
	in  chan Update
	now func() time.Time
}

// NewChannelSource creates a source buffering up to buffer updates
func NewChannelSource(buffer int) *ChannelSource {
	return &ChannelSource{
		in:  make(chan Update, buffer),
		now: time.Now,
	}
}

// Push hands u to the subscriber, blocking while the buffer is full
func (s *ChannelSource) Push(ctx context.Context, u Update) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if u.ReceivedAt.IsZero() {
		u.ReceivedAt = s.now()
	}
	select {
	case s.in <- u:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// HandleMessage decodes an envelope message and pushes it. It matches the
// broker consumer handler signature.
func (s *ChannelSource) HandleMessage(ctx context.Context, body []byte) error {
	u, err := DecodeEnvelope(body, s.now())
	if err != nil {
		return err
	}
	return s.Push(ctx, u)
}

// Subscribe forwards pushed updates until ctx is cancelled
func (s *ChannelSource) Subscribe(ctx context.Context) (<-chan Update, error) {
	out := make(chan Update)
	go func() {
		defer close(out)
		for {
			select {
			case <-ctx.Done():
				return
			case u := <-s.in:
				select {
				case out <- u:
				case <-ctx.Done():
					return
				}
			}
		}
	}()
	return out, nil
}
