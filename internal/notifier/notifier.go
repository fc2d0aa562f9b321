package notifier

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/segmentio/kafka-go"
)

// Notifier delivers account emails. Callers treat delivery as fire-and-forget:
// failures are logged by the orchestrator and never fail the triggering flow.
type Notifier interface {
	SendVerificationEmail(ctx context.Context, to, token string) error
	SendResetPasswordEmail(ctx context.Context, to, token string) error
	SendWelcomeEmail(ctx context.Context, to, name string) error
}

type mailRequest struct {
	Template string `json:"template"`
	To       string `json:"to"`
	Token    string `json:"token,omitempty"`
	Name     string `json:"name,omitempty"`
}

// KafkaNotifier hands mail requests to the mail-out worker via kafka.
type KafkaNotifier struct {
	writer *kafka.Writer
}

func NewKafkaNotifier(brokers []string, topic string) *KafkaNotifier {
	return &KafkaNotifier{
		writer: &kafka.Writer{
			Addr:         kafka.TCP(brokers...),
			Topic:        topic,
			Balancer:     &kafka.LeastBytes{},
			RequiredAcks: kafka.RequireOne,
			WriteTimeout: 5 * time.Second,
		},
	}
}

func (n *KafkaNotifier) send(ctx context.Context, req mailRequest) error {
	payload, err := json.Marshal(req)
	if err != nil {
		return err
	}
	return n.writer.WriteMessages(ctx, kafka.Message{
		Key:   []byte(req.To),
		Value: payload,
	})
}

func (n *KafkaNotifier) SendVerificationEmail(ctx context.Context, to, token string) error {
	return n.send(ctx, mailRequest{Template: "verify-email", To: to, Token: token})
}

func (n *KafkaNotifier) SendResetPasswordEmail(ctx context.Context, to, token string) error {
	return n.send(ctx, mailRequest{Template: "reset-password", To: to, Token: token})
}

func (n *KafkaNotifier) SendWelcomeEmail(ctx context.Context, to, name string) error {
	return n.send(ctx, mailRequest{Template: "welcome", To: to, Name: name})
}

func (n *KafkaNotifier) Close() error { return n.writer.Close() }

// LogNotifier is the fallback when no brokers are configured (local runs).
type LogNotifier struct {
	Log *slog.Logger
}

func (n *LogNotifier) SendVerificationEmail(ctx context.Context, to, token string) error {
	n.Log.Info("mailout", "template", "verify-email", "to", to)
	return nil
}

func (n *LogNotifier) SendResetPasswordEmail(ctx context.Context, to, token string) error {
	n.Log.Info("mailout", "template", "reset-password", "to", to)
	return nil
}

func (n *LogNotifier) SendWelcomeEmail(ctx context.Context, to, name string) error {
	n.Log.Info("mailout", "template", "welcome", "to", to)
	return nil
}
