package audit

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/twmb/franz-go/pkg/kgo"

	"fingate.org/internal/obs"
)

// LogStore writes entries as JSON lines on the shared obs logger.
type LogStore struct{}

func (LogStore) Append(_ context.Context, e Entry) error {
	data, err := json.Marshal(struct {
		Type string `json:"type"`
		Entry
	}{Type: "audit", Entry: e})
	if err != nil {
		return err
	}
	obs.Logger().Println(string(data))
	return nil
}

// PGStore appends entries to the audit_log table.
type PGStore struct {
	db *sql.DB
}

func NewPGStore(db *sql.DB) *PGStore {
	return &PGStore{db: db}
}

func (s *PGStore) Append(ctx context.Context, e Entry) error {
	before, err := snapshot(e.Before)
	if err != nil {
		return fmt.Errorf("marshal before: %w", err)
	}
	after, err := snapshot(e.After)
	if err != nil {
		return fmt.Errorf("marshal after: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
		insert into audit_log(id, occurred_at, actor_id, action, module, entity_id, before_state, after_state, source_address, request_id)
		values ($1, $2, nullif($3,''), $4, $5, nullif($6,''), $7, $8, nullif($9,''), nullif($10,''))
	`, e.ID, e.OccurredAt, e.ActorID, e.Action, e.Module, e.EntityID, before, after, e.SourceAddress, e.RequestID)
	return err
}

func snapshot(v any) (any, error) {
	if v == nil {
		return nil, nil
	}
	return json.Marshal(v)
}

// Producer is the subset of *kgo.Client used by KafkaStore.
type Producer interface {
	ProduceSync(ctx context.Context, rs ...*kgo.Record) kgo.ProduceResults
}

// KafkaStore publishes entries to a topic, keyed by module.
type KafkaStore struct {
	producer Producer
	topic    string
}

func NewKafkaStore(producer Producer, topic string) *KafkaStore {
	return &KafkaStore{producer: producer, topic: topic}
}

// NewKafkaClient dials brokers for audit publishing.
func NewKafkaClient(brokers []string, topic string) (*kgo.Client, error) {
	if len(brokers) == 0 {
		return nil, errors.New("kafka brokers are required")
	}
	return kgo.NewClient(
		kgo.SeedBrokers(brokers...),
		kgo.DefaultProduceTopic(topic),
		kgo.ProducerLinger(50*time.Millisecond),
		kgo.RequiredAcks(kgo.AllISRAcks()),
	)
}

func (s *KafkaStore) Append(ctx context.Context, e Entry) error {
	value, err := json.Marshal(e)
	if err != nil {
		return err
	}
	rec := &kgo.Record{
		Topic:     s.topic,
		Key:       []byte(e.Module),
		Value:     value,
		Timestamp: e.OccurredAt,
	}
	return s.producer.ProduceSync(ctx, rec).FirstErr()
}

// Tee appends to every store and joins their errors.
type Tee []Store

func (t Tee) Append(ctx context.Context, e Entry) error {
	var errs []error
	for _, s := range t {
		if err := s.Append(ctx, e); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
