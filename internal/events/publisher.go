package events

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"

	"github.com/richardliu001/transaction-service/internal/config"
)

// Publisher writes lifecycle events to the bus.
type Publisher interface {
	Publish(ctx context.Context, topic string, e Event) error
}

// ErrClosed is returned by Publish after Close.
var ErrClosed = errors.New("publisher closed")

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// KafkaPublisher connects on first Publish and keeps one writer for all topics.
type KafkaPublisher struct {
	brokers []string
	log     *zap.SugaredLogger

	// dial checks that a broker is reachable; newWriter builds the writer once it is.
	dial      func(ctx context.Context) error
	newWriter func() messageWriter

	mu     sync.Mutex
	writer messageWriter
	closed bool
}

var _ Publisher = (*KafkaPublisher)(nil)

// NewKafkaPublisher does not touch the network; the first Publish does.
func NewKafkaPublisher(cfg config.KafkaConfig, log *zap.SugaredLogger) *KafkaPublisher {
	dialer := &kafka.Dialer{ClientID: cfg.ClientID, Timeout: 5 * time.Second}
	p := &KafkaPublisher{brokers: cfg.Brokers, log: log}
	p.dial = func(ctx context.Context) error {
		var errs []error
		for _, b := range p.brokers {
			conn, err := dialer.DialContext(ctx, "tcp", b)
			if err != nil {
				errs = append(errs, err)
				continue
			}
			return conn.Close()
		}
		return fmt.Errorf("no reachable kafka broker: %w", errors.Join(errs...))
	}
	p.newWriter = func() messageWriter {
		return &kafka.Writer{
			Addr:         kafka.TCP(p.brokers...),
			Balancer:     &kafka.Hash{},
			RequiredAcks: kafka.RequireAll,
			Transport:    &kafka.Transport{ClientID: cfg.ClientID},
		}
	}
	return p
}

func (p *KafkaPublisher) connect(ctx context.Context) (messageWriter, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return nil, ErrClosed
	}
	if p.writer != nil {
		return p.writer, nil
	}
	if err := p.dial(ctx); err != nil {
		return nil, fmt.Errorf("connect kafka: %w", err)
	}
	p.writer = p.newWriter()
	p.log.Infow("kafka producer connected", "brokers", p.brokers)
	return p.writer, nil
}

// Publish writes e to topic keyed by transaction id.
func (p *KafkaPublisher) Publish(ctx context.Context, topic string, e Event) error {
	w, err := p.connect(ctx)
	if err != nil {
		return err
	}
	value, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("marshal %s: %w", e.EventType, err)
	}
	msg := kafka.Message{
		Topic: topic,
		Key:   []byte(e.TransactionID),
		Value: value,
		Time:  time.UnixMilli(e.Timestamp),
	}
	if err := w.WriteMessages(ctx, msg); err != nil {
		return fmt.Errorf("publish %s: %w", e.EventType, err)
	}
	p.log.Debugw("event published", "topic", topic, "event_type", e.EventType, "transaction_id", e.TransactionID)
	return nil
}

// Close flushes and releases the writer. Later Publish calls fail with ErrClosed.
func (p *KafkaPublisher) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.closed = true
	if p.writer == nil {
		return nil
	}
	err := p.writer.Close()
	p.writer = nil
	p.log.Infow("kafka producer disconnected")
	return err
}
