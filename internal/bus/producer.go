// Package bus publishes domain records to Kafka/RedPanda.
package bus

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"github.com/twmb/franz-go/pkg/kgo"
)

// ErrClosed is returned after Close.
var ErrClosed = errors.New("producer is closed")

const (
	HeaderRecordType    = "record_type"
	HeaderEventID       = "event_id"
	HeaderProducer      = "producer"
	HeaderSchemaVersion = "schema_version"
)

// Message is one record bound for a topic. Domain records are keyed by
// token address so every record for a token lands on one partition.
type Message struct {
	Topic     string
	Key       string
	Value     []byte
	Headers   map[string]string
	Timestamp time.Time
}

// JSONMessage encodes value and tags it with its record type (an event kind
// or trade action).
func JSONMessage(topic, key, recordType string, ts time.Time, value any) (Message, error) {
	data, err := json.Marshal(value)
	if err != nil {
		return Message{}, fmt.Errorf("marshal %s record: %w", recordType, err)
	}
	return Message{
		Topic:     topic,
		Key:       key,
		Value:     data,
		Headers:   map[string]string{HeaderRecordType: recordType},
		Timestamp: ts,
	}, nil
}

// Producer publishes messages. The trading path only uses the async Produce
// so a slow broker never stalls a buy or sell.
type Producer interface {
	// Publish sends msg and waits for broker acknowledgement.
	Publish(ctx context.Context, msg Message) error
	// Produce sends msg asynchronously. Delivery errors are counted and logged.
	Produce(ctx context.Context, msg Message) error
	// Flush waits for buffered records. Returns 0 on success.
	Flush(timeout time.Duration) int
	Close()
}

type ProducerStats struct {
	Produced int64 `json:"produced"`
	Failed   int64 `json:"failed"`
}

// ProducerOption configures a KafkaProducer.
type ProducerOption func(*producerConfig)

type producerConfig struct {
	instanceID    string
	schemaVersion string
	maxBuffered   int
	linger        time.Duration
}

// WithInstanceID sets the ClientID and the producer header.
func WithInstanceID(id string) ProducerOption {
	return func(c *producerConfig) { c.instanceID = id }
}

func WithSchemaVersion(v string) ProducerOption {
	return func(c *producerConfig) {
		if v != "" {
			c.schemaVersion = v
		}
	}
}

func WithMaxBufferedRecords(n int) ProducerOption {
	return func(c *producerConfig) { c.maxBuffered = n }
}

func WithLinger(d time.Duration) ProducerOption {
	return func(c *producerConfig) { c.linger = d }
}

// KafkaProducer is backed by franz-go.
type KafkaProducer struct {
	client  *kgo.Client
	headers []kgo.RecordHeader // producer and schema_version

	mu     sync.RWMutex
	closed bool

	produced atomic.Int64
	failed   atomic.Int64
}

// NewProducer creates a Snappy-compressed producer that waits for all ISR
// acks. Records for one token stay ordered because the key picks the
// partition.
func NewProducer(brokers []string, opts ...ProducerOption) (*KafkaProducer, error) {
	if len(brokers) == 0 {
		return nil, errors.New("bus: no brokers configured")
	}
	cfg := &producerConfig{
		instanceID:    "fourmeme-hunter",
		schemaVersion: "1",
		maxBuffered:   10000,
		linger:        5 * time.Millisecond,
	}
	for _, opt := range opts {
		opt(cfg)
	}

	client, err := kgo.NewClient(
		kgo.SeedBrokers(brokers...),
		kgo.ClientID(cfg.instanceID),
		kgo.ProducerBatchCompression(kgo.SnappyCompression()),
		kgo.RequiredAcks(kgo.AllISRAcks()),
		kgo.ProducerLinger(cfg.linger),
		kgo.MaxBufferedRecords(cfg.maxBuffered),
	)
	if err != nil {
		return nil, fmt.Errorf("bus: kafka client: %w", err)
	}

	log.Info().
		Strs("brokers", brokers).
		Str("client_id", cfg.instanceID).
		Str("schema", cfg.schemaVersion).
		Msg("bus: kafka producer ready")

	return newKafkaProducer(client, cfg.instanceID, cfg.schemaVersion), nil
}

func newKafkaProducer(client *kgo.Client, instanceID, schema string) *KafkaProducer {
	return &KafkaProducer{
		client: client,
		headers: []kgo.RecordHeader{
			{Key: HeaderProducer, Value: []byte(instanceID)},
			{Key: HeaderSchemaVersion, Value: []byte(schema)},
		},
	}
}

// record builds the wire record. Message headers win over producer
// defaults; every record gets a fresh event_id unless one is supplied.
func (p *KafkaProducer) record(msg Message) *kgo.Record {
	hdrs := make([]kgo.RecordHeader, 0, len(msg.Headers)+len(p.headers)+1)
	for k, v := range msg.Headers {
		hdrs = append(hdrs, kgo.RecordHeader{Key: k, Value: []byte(v)})
	}
	for _, h := range p.headers {
		if _, ok := msg.Headers[h.Key]; !ok {
			hdrs = append(hdrs, h)
		}
	}
	if _, ok := msg.Headers[HeaderEventID]; !ok {
		hdrs = append(hdrs, kgo.RecordHeader{Key: HeaderEventID, Value: []byte(uuid.NewString())})
	}

	ts := msg.Timestamp
	if ts.IsZero() {
		ts = time.Now()
	}
	return &kgo.Record{Topic: msg.Topic, Key: []byte(msg.Key), Value: msg.Value, Headers: hdrs, Timestamp: ts}
}

func (p *KafkaProducer) isClosed() bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.closed
}

func (p *KafkaProducer) Publish(ctx context.Context, msg Message) error {
	if p.isClosed() {
		return ErrClosed
	}
	if err := p.client.ProduceSync(ctx, p.record(msg)).FirstErr(); err != nil {
		p.failed.Add(1)
		return fmt.Errorf("bus: publish %s/%s: %w", msg.Topic, msg.Key, err)
	}
	p.produced.Add(1)
	return nil
}

func (p *KafkaProducer) Produce(ctx context.Context, msg Message) error {
	if p.isClosed() {
		return ErrClosed
	}
	p.client.Produce(ctx, p.record(msg), func(r *kgo.Record, err error) {
		if err == nil {
			p.produced.Add(1)
			return
		}
		p.failed.Add(1)
		log.Error().Err(err).
			Str("topic", r.Topic).
			Str("token", string(r.Key)).
			Msg("bus: delivery failed")
	})
	return nil
}

func (p *KafkaProducer) Flush(timeout time.Duration) int {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	if err := p.client.Flush(ctx); err != nil {
		log.Error().Err(err).Int64("buffered", p.client.BufferedProduceRecords()).Msg("bus: flush incomplete")
		return 1
	}
	return 0
}

func (p *KafkaProducer) Close() {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.closed = true
	p.mu.Unlock()

	p.client.Close()
	s := p.Stats()
	log.Info().Int64("produced", s.Produced).Int64("failed", s.Failed).Msg("bus: kafka producer closed")
}

func (p *KafkaProducer) Stats() ProducerStats {
	return ProducerStats{Produced: p.produced.Load(), Failed: p.failed.Load()}
}

// MemoryProducer keeps every message in memory. Used when Kafka is disabled
// and in tests.
type MemoryProducer struct {
	mu   sync.Mutex
	msgs []Message
}

func NewMemoryProducer() *MemoryProducer { return &MemoryProducer{} }

func (p *MemoryProducer) Publish(_ context.Context, msg Message) error {
	p.mu.Lock()
	p.msgs = append(p.msgs, msg)
	p.mu.Unlock()
	return nil
}

func (p *MemoryProducer) Produce(ctx context.Context, msg Message) error { return p.Publish(ctx, msg) }

// Messages returns a copy of everything produced so far.
func (p *MemoryProducer) Messages() []Message {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]Message(nil), p.msgs...)
}

func (p *MemoryProducer) Stats() ProducerStats {
	p.mu.Lock()
	defer p.mu.Unlock()
	return ProducerStats{Produced: int64(len(p.msgs))}
}

func (p *MemoryProducer) Flush(time.Duration) int { return 0 }

func (p *MemoryProducer) Close() {}
