package mqtt

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"

	"gitlab.com/tinyland/lab/loop-pulse/pkg/nightscout"
	"gitlab.com/tinyland/lab/loop-pulse/pkg/remote"
	"gitlab.com/tinyland/lab/loop-pulse/pkg/state"
)

// Topic suffixes under the configured prefix.
const (
	TopicStatus = "status"
	TopicRemote = "remote"
)

const publishTimeout = 10 * time.Second

// Publisher is the subset of paho.Client used for publishing.
type Publisher interface {
	Publish(topic string, qos byte, retained bool, payload interface{}) paho.Token
}

// Status is the retained status message. It is deliberately flat so home
// automation dashboards can template it directly.
type Status struct {
	Units      string    `json:"units"`
	BG         *float64  `json:"bg,omitempty"`
	BGText     string    `json:"bg_text,omitempty"`
	Direction  string    `json:"direction,omitempty"`
	Delta      *float64  `json:"delta,omitempty"`
	BGTime     time.Time `json:"bg_time,omitzero"`
	LoopState  string    `json:"loop_state,omitempty"`
	LoopSymbol string    `json:"loop_symbol,omitempty"`
	LoopTime   time.Time `json:"loop_time,omitzero"`
	IOB        *float64  `json:"iob,omitempty"`
	COB        *float64  `json:"cob,omitempty"`
	EventualBG *float64  `json:"eventual_bg,omitempty"`
	Updated    time.Time `json:"updated"`
}

// StatusFromSnapshot flattens a snapshot into a Status.
func StatusFromSnapshot(s state.Snapshot) Status {
	st := Status{Units: s.Units, Updated: s.Updated}
	if g := s.Glucose; g != nil {
		bg := g.Latest.Mgdl
		st.BG = &bg
		st.BGText = nightscout.FormatBG(bg, s.Units)
		st.Direction = g.Latest.Direction
		st.BGTime = g.Latest.Time
		if g.HasDelta {
			d := g.Delta
			st.Delta = &d
		}
	}
	if l := s.Loop; l != nil {
		st.LoopState = l.State.String()
		st.LoopSymbol = l.State.Symbol()
		st.LoopTime = l.LoopTime
		st.IOB = l.IOB
		st.COB = l.COB
		st.EventualBG = l.EventualBG
	}
	return st
}

// StatusPublisher publishes retained status and remote commands under one
// topic prefix. It implements remote.Dispatcher.
type StatusPublisher struct {
	client Publisher
	prefix string
	log    *slog.Logger
}

var _ remote.Dispatcher = (*StatusPublisher)(nil)

// NewStatusPublisher returns a publisher for topics under prefix.
func NewStatusPublisher(client Publisher, prefix string, log *slog.Logger) *StatusPublisher {
	if log == nil {
		log = slog.Default()
	}
	return &StatusPublisher{
		client: client,
		prefix: strings.TrimSuffix(prefix, "/"),
		log:    log.With("component", "mqtt"),
	}
}

// Topic joins the prefix and a suffix.
func (p *StatusPublisher) Topic(suffix string) string {
	if p.prefix == "" {
		return suffix
	}
	return p.prefix + "/" + suffix
}

// PublishStatus publishes the snapshot as a retained QoS 1 message.
func (p *StatusPublisher) PublishStatus(ctx context.Context, s state.Snapshot) error {
	payload, err := json.Marshal(StatusFromSnapshot(s))
	if err != nil {
		return fmt.Errorf("mqtt: marshal status: %w", err)
	}
	return p.publish(ctx, p.Topic(TopicStatus), true, payload)
}

// Dispatch publishes a remote command with QoS 1, not retained, so a
// command is never replayed to a host that subscribes later.
func (p *StatusPublisher) Dispatch(ctx context.Context, cmd remote.Command) error {
	payload, err := json.Marshal(cmd)
	if err != nil {
		return fmt.Errorf("mqtt: marshal command: %w", err)
	}
	if err := p.publish(ctx, p.Topic(TopicRemote), false, payload); err != nil {
		return err
	}
	p.log.Info("remote command published", "kind", cmd.Kind, "id", cmd.ID)
	return nil
}

func (p *StatusPublisher) publish(ctx context.Context, topic string, retained bool, payload []byte) error {
	tok := p.client.Publish(topic, 1, retained, payload)
	timer := time.NewTimer(publishTimeout)
	defer timer.Stop()
	select {
	case <-tok.Done():
	case <-ctx.Done():
		return fmt.Errorf("mqtt: publish %s: %w", topic, ctx.Err())
	case <-timer.C:
		return fmt.Errorf("mqtt: publish %s: timed out", topic)
	}
	if err := tok.Error(); err != nil {
		return fmt.Errorf("mqtt: publish %s: %w", topic, err)
	}
	return nil
}

// Run publishes every snapshot from updates until ctx is done or the channel
// closes. Failures are logged; the next snapshot retries.
func (p *StatusPublisher) Run(ctx context.Context, updates <-chan state.Snapshot) {
	for {
		select {
		case <-ctx.Done():
			return
		case s, ok := <-updates:
			if !ok {
				return
			}
			if err := p.PublishStatus(ctx, s); err != nil {
				p.log.Warn("status publish failed", "error", err)
			}
		}
	}
}
