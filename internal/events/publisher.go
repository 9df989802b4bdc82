// Package events publishes ledger lifecycle events to Kafka so
// downstream consumers (statements, notifications, reporting) can react
// to settlements and loan approvals without polling the store.
package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/atlasbank/ledger-service/internal/models"
	"github.com/atlasbank/ledger-service/internal/utils"
	"github.com/segmentio/kafka-go"
	"github.com/sirupsen/logrus"
)

const (
	EventTransactionSettled = "transaction.settled"
	EventLoanApproved       = "loan.approved"
)

// Publisher emits ledger events. Implementations must be safe for
// concurrent use.
type Publisher interface {
	TransactionSettled(ctx context.Context, tx *models.Transaction) error
	LoanApproved(ctx context.Context, loan *models.Loan) error
	Close() error
}

// envelope is the wire format. The payload is signed so consumers can
// verify the event came from the ledger.
type envelope struct {
	Event      string          `json:"event"`
	OccurredAt time.Time       `json:"occurred_at"`
	Payload    json.RawMessage `json:"payload"`
	Signature  string          `json:"signature"`
}

// KafkaPublisher writes signed event envelopes to a Kafka topic.
type KafkaPublisher struct {
	writer     *kafka.Writer
	hmacSecret string
	log        *logrus.Logger
}

// NewKafkaPublisher builds a publisher for the given brokers and topic.
func NewKafkaPublisher(brokers []string, topic, hmacSecret string, log *logrus.Logger) *KafkaPublisher {
	writer := &kafka.Writer{
		Addr:         kafka.TCP(brokers...),
		Topic:        topic,
		Balancer:     &kafka.LeastBytes{},
		WriteTimeout: 10 * time.Second,
		RequiredAcks: kafka.RequireAll,
		MaxAttempts:  3,
		Logger:       kafka.LoggerFunc(func(msg string, args ...interface{}) { log.Debugf(msg, args...) }),
		ErrorLogger:  kafka.LoggerFunc(func(msg string, args ...interface{}) { log.Errorf(msg, args...) }),
	}
	return &KafkaPublisher{writer: writer, hmacSecret: hmacSecret, log: log}
}

// TransactionSettled publishes a settlement event keyed by transaction id
func (p *KafkaPublisher) TransactionSettled(ctx context.Context, tx *models.Transaction) error {
	return p.publish(ctx, EventTransactionSettled, tx.ID, tx)
}

// LoanApproved publishes a loan approval event keyed by loan id
func (p *KafkaPublisher) LoanApproved(ctx context.Context, loan *models.Loan) error {
	return p.publish(ctx, EventLoanApproved, loan.ID, loan)
}

func (p *KafkaPublisher) publish(ctx context.Context, event, key string, payload any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal %s payload: %w", event, err)
	}
	env := envelope{
		Event:      event,
		OccurredAt: time.Now().UTC(),
		Payload:    body,
		Signature:  utils.SignPayload(body, p.hmacSecret),
	}
	value, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("failed to marshal %s envelope: %w", event, err)
	}

	writeCtx, cancel := context.WithTimeout(ctx, p.writer.WriteTimeout)
	defer cancel()
	if err := p.writer.WriteMessages(writeCtx, kafka.Message{Key: []byte(key), Value: value}); err != nil {
		p.log.Errorf("Failed to publish %s for %s: %v", event, key, err)
		return fmt.Errorf("failed to publish %s: %w", event, err)
	}
	p.log.Debugf("Published %s for %s", event, key)
	return nil
}

// Close flushes and closes the underlying writer
func (p *KafkaPublisher) Close() error {
	if err := p.writer.Close(); err != nil {
		return fmt.Errorf("failed to close kafka writer: %w", err)
	}
	return nil
}

// NopPublisher discards events. Used when no brokers are configured and
// in tests.
type NopPublisher struct{}

func (NopPublisher) TransactionSettled(context.Context, *models.Transaction) error { return nil }
func (NopPublisher) LoanApproved(context.Context, *models.Loan) error              { return nil }
func (NopPublisher) Close() error                                                  { return nil }
