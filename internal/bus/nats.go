package bus

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go"

	"github.com/opensource-finance/fincrime-signals/internal/domain"
)

// Header names carrying message metadata. Nats-Msg-Id lets a JetStream
// stream in front of the subjects drop redelivered requests.
const (
	headerMessageID = nats.MsgIdHdr
	headerTimestamp = "Fincrime-Timestamp"
	headerPrefix    = "Fincrime-Meta-"
)

// DefaultQueueGroup is the queue group batch requests are consumed in when
// none is configured.
const DefaultQueueGroup = "fincrime-generators"

// NATSBus carries batch requests and outcome events between processes.
// Requests are consumed through a queue group so each one is generated by
// exactly one signals server; outcome events reach every subscriber.
type NATSBus struct {
	mu   sync.Mutex
	conn *nats.Conn
	subs map[string]*natsSubscription
	cfg  domain.EventBusConfig
}

type natsSubscription struct {
	id    string
	topic string
	sub   *nats.Subscription
	bus   *NATSBus
}

// NewNATSBus connects to NATS, retrying up to NATSMaxReconnects times.
func NewNATSBus(cfg domain.EventBusConfig) (*NATSBus, error) {
	if cfg.NATSUrl == "" {
		cfg.NATSUrl = nats.DefaultURL
	}
	if cfg.NATSMaxReconnects == 0 {
		cfg.NATSMaxReconnects = 10
	}
	if cfg.NATSReconnectWait == 0 {
		cfg.NATSReconnectWait = 5
	}
	if cfg.NATSQueueGroup == "" {
		cfg.NATSQueueGroup = DefaultQueueGroup
	}

	conn, err := connect(cfg)
	if err != nil {
		return nil, err
	}
	slog.Info("NATS connected",
		"url", conn.ConnectedUrl(),
		"server_id", conn.ConnectedServerId(),
		"queue_group", cfg.NATSQueueGroup,
	)
	return &NATSBus{conn: conn, subs: make(map[string]*natsSubscription), cfg: cfg}, nil
}

func connect(cfg domain.EventBusConfig) (*nats.Conn, error) {
	wait := time.Duration(cfg.NATSReconnectWait) * time.Second
	opts := []nats.Option{
		nats.Name("fincrime-signals"),
		nats.MaxReconnects(cfg.NATSMaxReconnects),
		nats.ReconnectWait(wait),
		// Batch requests published while disconnected are kept, up to 8MB.
		nats.ReconnectBufSize(8 << 20),
		nats.DisconnectErrHandler(func(nc *nats.Conn, err error) {
			slog.Warn("NATS disconnected", "error", err, "will_reconnect", !nc.IsClosed())
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			slog.Info("NATS reconnected", "url", nc.ConnectedUrl())
		}),
		nats.ErrorHandler(func(_ *nats.Conn, sub *nats.Subscription, err error) {
			var subject string
			if sub != nil {
				subject = sub.Subject
			}
			slog.Error("NATS error", "error", err, "subject", subject)
		}),
	}
	if cfg.NATSToken != "" {
		opts = append(opts, nats.Token(cfg.NATSToken))
	}

	var lastErr error
	for attempt := 1; attempt <= cfg.NATSMaxReconnects; attempt++ {
		conn, err := nats.Connect(cfg.NATSUrl, opts...)
		if err == nil {
			return conn, nil
		}
		lastErr = err
		slog.Warn("NATS connection attempt failed",
			"attempt", attempt,
			"max_attempts", cfg.NATSMaxReconnects,
			"error", err,
		)
		if attempt < cfg.NATSMaxReconnects {
			time.Sleep(wait)
		}
	}
	return nil, fmt.Errorf("failed to connect to NATS at %s after %d attempts: %w",
		cfg.NATSUrl, cfg.NATSMaxReconnects, lastErr)
}

// Publish sends payload on the subject of topic. The payload travels as
// is; the message id and timestamp ride in headers.
func (b *NATSBus) Publish(ctx context.Context, topic string, payload []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m := nats.NewMsg(b.subject(topic))
	m.Data = payload
	m.Header.Set(headerMessageID, uuid.NewString())
	m.Header.Set(headerTimestamp, strconv.FormatInt(time.Now().UnixNano(), 10))
	return b.conn.PublishMsg(m)
}

// Subscribe registers handler for topic. Batch requests are delivered to
// one member of the queue group; other topics to every subscriber. NATS
// calls the handler of one subscription serially.
func (b *NATSBus) Subscribe(ctx context.Context, topic string, handler domain.MessageHandler) (domain.Subscription, error) {
	deliver := func(m *nats.Msg) {
		msg := decodeMsg(topic, m)
		if err := handler(ctx, msg); err != nil {
			slog.Error("handler error",
				"subject", m.Subject,
				"message_id", msg.ID,
				"error", err,
			)
		}
	}

	var (
		sub *nats.Subscription
		err error
	)
	if topic == domain.TopicBatchRequested {
		sub, err = b.conn.QueueSubscribe(b.subject(topic), b.cfg.NATSQueueGroup, deliver)
	} else {
		sub, err = b.conn.Subscribe(b.subject(topic), deliver)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to subscribe to %s: %w", topic, err)
	}

	s := &natsSubscription{id: uuid.NewString(), topic: topic, sub: sub, bus: b}
	b.mu.Lock()
	b.subs[s.id] = s
	b.mu.Unlock()
	return s, nil
}

// decodeMsg rebuilds a Message from a NATS message. Messages published
// without headers get a fresh id.
func decodeMsg(topic string, m *nats.Msg) *domain.Message {
	msg := &domain.Message{
		ID:       m.Header.Get(headerMessageID),
		Topic:    topic,
		Payload:  m.Data,
		Metadata: make(map[string]string),
	}
	if msg.ID == "" {
		msg.ID = uuid.NewString()
	}
	if ts, err := strconv.ParseInt(m.Header.Get(headerTimestamp), 10, 64); err == nil {
		msg.Timestamp = ts
	}
	for k := range m.Header {
		if name, ok := strings.CutPrefix(k, headerPrefix); ok && name != "" {
			msg.Metadata[name] = m.Header.Get(k)
		}
	}
	return msg
}

// Ping round-trips to the server.
func (b *NATSBus) Ping(ctx context.Context) error {
	if !b.conn.IsConnected() {
		return fmt.Errorf("NATS not connected (status %s)", b.conn.Status())
	}
	return b.conn.FlushWithContext(ctx)
}

// Close drains the connection: pending messages are handed to their
// handlers, then every subscription is removed and the connection closed.
// Draining continues in the background after Close returns.
func (b *NATSBus) Close() error {
	b.mu.Lock()
	clear(b.subs)
	b.mu.Unlock()
	return b.conn.Drain()
}

// subject maps a topic to a NATS subject. The prefix separates deployments
// sharing one NATS server.
func (b *NATSBus) subject(topic string) string {
	if b.cfg.NATSSubjectPrefix == "" {
		return topic
	}
	return b.cfg.NATSSubjectPrefix + "." + topic
}

// Stats returns NATS connection statistics.
func (b *NATSBus) Stats() nats.Statistics {
	return b.conn.Stats()
}

func (s *natsSubscription) Unsubscribe() error {
	s.bus.mu.Lock()
	delete(s.bus.subs, s.id)
	s.bus.mu.Unlock()
	return s.sub.Unsubscribe()
}

func (s *natsSubscription) Topic() string {
	return s.topic
}
