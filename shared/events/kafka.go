package events

import (
	"context"
	"encoding/json"
	"log"
	"time"

	"github.com/segmentio/kafka-go"

	"planify-backend/shared/config"
)

// KafkaNotifier implements Notifier using segmentio/kafka-go. Invitation and membership
// events share the invitations topic; join-request events get their own.
type KafkaNotifier struct {
	invitations  *kafka.Writer
	joinRequests *kafka.Writer
}

// NewKafkaNotifier creates a notifier from the loaded configuration. Call Close when
// shutting down.
func NewKafkaNotifier() *KafkaNotifier {
	cfg := config.GetConfig()
	return NewKafkaNotifierWith(cfg.GetKafkaBrokers(), cfg.KafkaInvitationsTopic, cfg.KafkaJoinRequestTopic)
}

// NewKafkaNotifierWith creates a notifier for the given brokers and topics.
func NewKafkaNotifierWith(brokers []string, invitationsTopic, joinRequestsTopic string) *KafkaNotifier {
	return &KafkaNotifier{
		invitations:  newWriter(brokers, invitationsTopic),
		joinRequests: newWriter(brokers, joinRequestsTopic),
	}
}

func newWriter(brokers []string, topic string) *kafka.Writer {
	if len(brokers) == 0 || topic == "" {
		return nil
	}
	return &kafka.Writer{
		Addr:         kafka.TCP(brokers...),
		Topic:        topic,
		Balancer:     &kafka.LeastBytes{},
		BatchTimeout: 50 * time.Millisecond,
	}
}

// PublishInvitationEvent writes the event to the invitations topic, keyed by invitation id.
func (n *KafkaNotifier) PublishInvitationEvent(ctx context.Context, event InvitationEvent) error {
	return n.emit(ctx, n.invitations, event.InvitationID.String(), event)
}

// PublishJoinRequestEvent writes the event to the join-requests topic, keyed by request id.
func (n *KafkaNotifier) PublishJoinRequestEvent(ctx context.Context, event JoinRequestEvent) error {
	return n.emit(ctx, n.joinRequests, event.JoinRequestID.String(), event)
}

// PublishMembershipEvent writes the event to the invitations topic, keyed by user id.
func (n *KafkaNotifier) PublishMembershipEvent(ctx context.Context, event MembershipEvent) error {
	return n.emit(ctx, n.invitations, event.UserID.String(), event)
}

// emit serializes the event as JSON and writes it with a short timeout so a slow broker
// does not block callers indefinitely.
func (n *KafkaNotifier) emit(ctx context.Context, writer *kafka.Writer, key string, event interface{}) error {
	if n == nil || writer == nil {
		return nil
	}
	payload, err := json.Marshal(event)
	if err != nil {
		return err
	}
	writeCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	err = writer.WriteMessages(writeCtx, kafka.Message{
		Key:   []byte(key),
		Value: payload,
	})
	if err != nil {
		log.Printf("events: kafka emit failed: %v", err)
		return err
	}
	return nil
}

// Close closes both Kafka writers. Safe to call multiple times.
func (n *KafkaNotifier) Close() error {
	var firstErr error
	for _, w := range []*kafka.Writer{n.invitations, n.joinRequests} {
		if w == nil {
			continue
		}
		if err := w.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
