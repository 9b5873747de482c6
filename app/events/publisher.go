package events

import (
	"context"
	"encoding/json"
	"strconv"
	"time"

	"github.com/IBM/sarama"
	"github.com/sirupsen/logrus"
	"github.com/vibast-solutions/ms-go-lavago-payments/app/entity"
)

// Publisher relays committed payment events to consumers outside this
// service. Publish must only return nil once the event is durably accepted.
type Publisher interface {
	Publish(ctx context.Context, event *entity.PaymentEvent) error
	Close() error
}

type message struct {
	ID              uint64    `json:"id"`
	PaymentID       uint64    `json:"payment_id"`
	EventType       string    `json:"event_type"`
	OldStatus       *string   `json:"old_status,omitempty"`
	NewStatus       string    `json:"new_status"`
	AmountCents     int64     `json:"amount_cents"`
	ProviderEventID *string   `json:"provider_event_id,omitempty"`
	CreatedAt       time.Time `json:"created_at"`
}

func encode(event *entity.PaymentEvent) ([]byte, error) {
	msg := message{
		ID:              event.ID,
		PaymentID:       event.PaymentID,
		EventType:       event.EventType,
		NewStatus:       string(event.NewStatus),
		AmountCents:     event.AmountCents,
		ProviderEventID: event.ProviderEventID,
		CreatedAt:       event.CreatedAt.UTC(),
	}
	if event.OldStatus != nil {
		old := string(*event.OldStatus)
		msg.OldStatus = &old
	}
	return json.Marshal(msg)
}

type KafkaPublisher struct {
	producer sarama.SyncProducer
	topic    string
}

func NewKafkaPublisher(brokers []string, topic string) (*KafkaPublisher, error) {
	config := sarama.NewConfig()
	config.Producer.RequiredAcks = sarama.WaitForAll
	config.Producer.Retry.Max = 5
	config.Producer.Return.Successes = true
	config.Producer.Idempotent = true
	config.Net.MaxOpenRequests = 1
	config.Version = sarama.V2_1_0_0

	producer, err := sarama.NewSyncProducer(brokers, config)
	if err != nil {
		return nil, err
	}

	return NewKafkaPublisherWithProducer(producer, topic), nil
}

func NewKafkaPublisherWithProducer(producer sarama.SyncProducer, topic string) *KafkaPublisher {
	return &KafkaPublisher{producer: producer, topic: topic}
}

// Publish keys messages by payment id so a payment's events stay ordered
// within one partition.
func (p *KafkaPublisher) Publish(_ context.Context, event *entity.PaymentEvent) error {
	payload, err := encode(event)
	if err != nil {
		return err
	}

	_, _, err = p.producer.SendMessage(&sarama.ProducerMessage{
		Topic: p.topic,
		Key:   sarama.StringEncoder(strconv.FormatUint(event.PaymentID, 10)),
		Value: sarama.ByteEncoder(payload),
		Headers: []sarama.RecordHeader{
			{Key: []byte("event_type"), Value: []byte(event.EventType)},
		},
	})
	return err
}

func (p *KafkaPublisher) Close() error {
	return p.producer.Close()
}

// LogPublisher is used when no brokers are configured. Events are logged and
// considered delivered.
type LogPublisher struct {
	logger logrus.FieldLogger
}

func NewLogPublisher(logger logrus.FieldLogger) *LogPublisher {
	return &LogPublisher{logger: logger}
}

func (p *LogPublisher) Publish(_ context.Context, event *entity.PaymentEvent) error {
	p.logger.WithFields(logrus.Fields{
		"event_id":   event.ID,
		"payment_id": event.PaymentID,
		"event_type": event.EventType,
		"new_status": event.NewStatus,
	}).Info("payment_event")
	return nil
}

func (p *LogPublisher) Close() error {
	return nil
}
