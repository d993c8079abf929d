package kafka

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/jimlawless/whereami"
	"github.com/lumora-tech/visibility-engine/internal/cfg"
	"github.com/lumora-tech/visibility-engine/internal/usecase"
	"github.com/lumora-tech/visibility-engine/pkg/e"
	"github.com/lumora-tech/visibility-engine/pkg/logger"
	"github.com/segmentio/kafka-go"
)

// Producer публикует события об изменении видимости для внешних потребителей
// (поисковый индекс, товарные фиды). Ключ — id продукта, чтобы события одного
// продукта попадали в одну партицию и сохраняли порядок.
type Producer struct {
	writer *kafka.Writer
	logger logger.Logger
	cfg    *cfg.KafkaCfg
}

func NewProducer(logger logger.Logger, cfg *cfg.KafkaCfg) (*Producer, error) {
	writer := &kafka.Writer{
		Addr:         kafka.TCP(cfg.Brokers...),
		Topic:        cfg.Topic,
		Balancer:     &kafka.Hash{},
		RequiredAcks: kafka.RequireOne,
		BatchSize:    10,
		BatchTimeout: 500 * time.Millisecond,
		WriteTimeout: 10 * time.Second,
		Completion: func(messages []kafka.Message, err error) {
			if err != nil {
				logger.Warnf("Kafka producer error: %s", err.Error())
			}
		},
	}

	return &Producer{
		writer: writer,
		logger: logger,
		cfg:    cfg,
	}, nil
}

// visibilityChangedMessage — JSON-схема события в топике.
type visibilityChangedMessage struct {
	EventID    string         `json:"event_id"`
	ProductID  int64          `json:"product_id"`
	Visible    bool           `json:"visible"`
	Domains    map[int64]bool `json:"domains"`
	OccurredAt time.Time      `json:"occurred_at"`
}

func (p *Producer) WriteVisibilityChanged(ctx context.Context, req *usecase.VisibilityChangedReq) error {
	value, err := json.Marshal(visibilityChangedMessage{
		EventID:    req.EventID,
		ProductID:  req.ProductID,
		Visible:    req.Visible,
		Domains:    req.Domains,
		OccurredAt: req.OccurredAt,
	})
	if err != nil {
		return e.Wrap(whereami.WhereAmI(), err)
	}

	return p.writer.WriteMessages(ctx, kafka.Message{
		Key:   []byte(strconv.FormatInt(req.ProductID, 10)),
		Value: value,
	})
}

func (p *Producer) EnsureTopic(timeout time.Duration) error {
	conn, err := kafka.Dial(p.cfg.NetworkMode, p.cfg.Brokers[0])
	if err != nil {
		return e.Wrap(whereami.WhereAmI(), err)
	}
	defer conn.Close()

	partitions, err := conn.ReadPartitions(p.cfg.Topic)
	if err == nil && len(partitions) > 0 {
		return nil
	}

	done := make(chan error, 1)
	go func() {
		err := conn.CreateTopics(kafka.TopicConfig{
			Topic:             p.cfg.Topic,
			NumPartitions:     p.cfg.Partitions,
			ReplicationFactor: p.cfg.ReplicationFactor,
		})
		done <- err
	}()

	select {
	case err := <-done:
		if err != nil {
			return e.Wrap(whereami.WhereAmI(), fmt.Errorf("failed to create topic %s: %w", p.cfg.Topic, err))
		}
		return nil
	case <-time.After(timeout):
		_ = conn.Close()
		return e.Wrap(whereami.WhereAmI(), fmt.Errorf("timeout: %v, topic: %s", timeout, p.cfg.Topic))
	}
}

func (p *Producer) Close() error {
	return p.writer.Close()
}
