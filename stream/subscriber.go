package stream

import (
	"context"
	"errors"
	"time"

	"github.com/bytedance/sonic"
	"github.com/redis/go-redis/v9"
	"github.com/segmentio/kafka-go"
	log "github.com/sirupsen/logrus"

	"github.com/fiterafrica/fineract-template/domain"
)

var readRetryDelay = time.Second

// Notifier turns published command outcomes into notifications for the
// user who ran the command.
type Notifier struct {
	sessions *Sessions
	logger   *log.Logger
}

func NewNotifier(sessions *Sessions, logger *log.Logger) *Notifier {
	return &Notifier{sessions: sessions, logger: logger}
}

// Route decodes one published message and delivers its body to the
// connections of the RUN-AS user. It reports how many connections got it.
func (n *Notifier) Route(payload []byte) int {
	msg, err := domain.DecodeMessage(payload)
	if err != nil {
		n.logger.WithError(err).Error("unable to parse command outcome")
		return 0
	}
	body, err := normalize(msg)
	if err != nil {
		n.logger.WithError(err).WithField("correlation_id", msg.Headers.CorrelationID).Error("unable to normalize command outcome")
		return 0
	}
	u := User{TenantID: msg.Headers.TenantID, Username: msg.Headers.RunAs}
	delivered := n.sessions.Deliver(u, body)
	if delivered == 0 {
		n.logger.WithFields(log.Fields{
			"tenant":         u.TenantID,
			"user":           u.Username,
			"correlation_id": msg.Headers.CorrelationID,
		}).Debug("No stream session found for user")
	}
	return delivered
}

// normalize makes sure the body names its correlation id and status. A
// message with an error header defaults to FAILED.
func normalize(msg domain.Message) ([]byte, error) {
	body := map[string]any{}
	if len(msg.Body) > 0 && string(msg.Body) != "null" {
		if err := sonic.Unmarshal(msg.Body, &body); err != nil {
			return nil, err
		}
	}
	if id, _ := body["correlationId"].(string); id == "" && msg.Headers.CorrelationID != "" {
		body["correlationId"] = msg.Headers.CorrelationID
	}
	if s, _ := body["status"].(string); s == "" {
		if msg.Headers.ErrorMessage != "" {
			body["status"] = domain.StatusFailed
		} else {
			body["status"] = domain.StatusSuccessful
		}
	}
	return sonic.Marshal(body)
}

// SubscribeRedis routes every message published on channel until ctx is
// done. go-redis re-establishes the subscription after a dropped connection,
// so the message channel only closes once the subscription is closed.
func SubscribeRedis(ctx context.Context, rc *redis.Client, channel string, n *Notifier, logger *log.Logger) {
	sub := rc.Subscribe(ctx, channel)
	defer sub.Close()
	logger.WithField("channel", channel).Info("subscribed to command results")
	ch := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-ch:
			if !ok {
				return
			}
			n.Route([]byte(msg.Payload))
		}
	}
}

// KafkaConfig names the topics outcomes are read from. The error topic may
// be empty or equal to the result topic.
type KafkaConfig struct {
	Brokers     []string
	GroupID     string
	ResultTopic string
	ErrorTopic  string
}

// Topics returns the distinct non-empty topics of c.
func (c KafkaConfig) Topics() []string {
	topics := []string{c.ResultTopic}
	if c.ErrorTopic != "" && c.ErrorTopic != c.ResultTopic {
		topics = append(topics, c.ErrorTopic)
	}
	return topics
}

// MessageReader is the subset of *kafka.Reader the consumer needs.
type MessageReader interface {
	ReadMessage(ctx context.Context) (kafka.Message, error)
	Close() error
}

// NewKafkaReader builds a consumer group reader over the outcome topics.
func NewKafkaReader(cfg KafkaConfig) *kafka.Reader {
	return kafka.NewReader(kafka.ReaderConfig{
		Brokers:     cfg.Brokers,
		GroupID:     cfg.GroupID,
		GroupTopics: cfg.Topics(),
		MinBytes:    1,
		MaxBytes:    10e6,
		MaxWait:     500 * time.Millisecond,
	})
}

// ConsumeKafka routes outcomes read from r until ctx is done. Read errors
// are logged and retried after a short pause.
func ConsumeKafka(ctx context.Context, r MessageReader, n *Notifier, logger *log.Logger) {
	defer func() {
		if err := r.Close(); err != nil {
			logger.WithError(err).Warn("close kafka reader")
		}
	}()
	for {
		m, err := r.ReadMessage(ctx)
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, context.Canceled) {
				return
			}
			logger.WithError(err).Error("kafka read failed, retrying")
			select {
			case <-ctx.Done():
				return
			case <-time.After(readRetryDelay):
			}
			continue
		}
		n.Route(m.Value)
	}
}
