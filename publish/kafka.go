package publish

import (
	"context"
	"time"

	"github.com/segmentio/kafka-go"
	log "github.com/sirupsen/logrus"

	"github.com/fiterafrica/fineract-template/domain"
)

// KafkaConfig selects the topics outcomes are written to. An empty error
// topic sends failures to the result topic.
type KafkaConfig struct {
	Brokers      []string
	ResultTopic  string
	ErrorTopic   string
	BatchTimeout time.Duration
}

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// KafkaSink writes outcomes keyed by correlation id, so every notification
// for one command lands on the same partition.
type KafkaSink struct {
	writer      messageWriter
	resultTopic string
	errorTopic  string
	logger      *log.Logger
}

func NewKafkaSink(cfg KafkaConfig, logger *log.Logger) *KafkaSink {
	if cfg.BatchTimeout <= 0 {
		cfg.BatchTimeout = 10 * time.Millisecond
	}
	w := &kafka.Writer{
		Addr:                   kafka.TCP(cfg.Brokers...),
		Balancer:               &kafka.Hash{},
		BatchTimeout:           cfg.BatchTimeout,
		RequiredAcks:           kafka.RequireOne,
		AllowAutoTopicCreation: true,
	}
	return newKafkaSink(w, cfg, logger)
}

func newKafkaSink(w messageWriter, cfg KafkaConfig, logger *log.Logger) *KafkaSink {
	errorTopic := cfg.ErrorTopic
	if errorTopic == "" {
		errorTopic = cfg.ResultTopic
	}
	return &KafkaSink{writer: w, resultTopic: cfg.ResultTopic, errorTopic: errorTopic, logger: logger}
}

func (s *KafkaSink) PublishResult(ctx context.Context, msg domain.Message) error {
	return s.write(ctx, s.resultTopic, msg)
}

func (s *KafkaSink) PublishError(ctx context.Context, msg domain.Message) error {
	return s.write(ctx, s.errorTopic, msg)
}

func (s *KafkaSink) write(ctx context.Context, topic string, msg domain.Message) error {
	value, err := msg.Encode()
	if err != nil {
		return err
	}
	km := kafka.Message{
		Topic: topic,
		Key:   []byte(msg.Headers.CorrelationID),
		Value: value,
	}
	for k, v := range msg.Headers.Map() {
		km.Headers = append(km.Headers, kafka.Header{Key: k, Value: []byte(v)})
	}
	if err := s.writer.WriteMessages(ctx, km); err != nil {
		s.logger.WithError(err).WithFields(log.Fields{
			"topic":          topic,
			"correlation_id": msg.Headers.CorrelationID,
		}).Error("Failed to publish command outcome")
		return err
	}
	s.logger.WithFields(log.Fields{
		"topic":          topic,
		"correlation_id": msg.Headers.CorrelationID,
	}).Debug("Published command outcome")
	return nil
}

func (s *KafkaSink) Close() error {
	return s.writer.Close()
}
