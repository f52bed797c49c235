// Package kafka 提供了向 Kafka 发送对话事件的功能。
package kafka

import (
	"context"
	"fmt"
	"strings"
	"time"

	"aihelper-go/internal/config"
	"aihelper-go/pkg/log"

	"github.com/segmentio/kafka-go"
)

// Producer 是对 kafka.Writer 的简单封装。
type Producer struct {
	writer *kafka.Writer
}

// NewProducer 创建 Kafka 生产者，Brokers 以逗号分隔。
func NewProducer(cfg config.KafkaConfig) (*Producer, error) {
	var brokers []string
	for _, b := range strings.Split(cfg.Brokers, ",") {
		if b = strings.TrimSpace(b); b != "" {
			brokers = append(brokers, b)
		}
	}
	if len(brokers) == 0 {
		return nil, fmt.Errorf("kafka brokers are not configured")
	}
	if cfg.Topic == "" {
		return nil, fmt.Errorf("kafka topic is not configured")
	}
	w := &kafka.Writer{
		Addr:         kafka.TCP(brokers...),
		Topic:        cfg.Topic,
		Balancer:     &kafka.Hash{}, // 同一会话的事件落在同一分区，保证顺序
		BatchTimeout: 50 * time.Millisecond,
	}
	log.Infof("Kafka 生产者初始化成功，主题 '%s'", cfg.Topic)
	return &Producer{writer: w}, nil
}

// Publish 发送一条消息。
func (p *Producer) Publish(ctx context.Context, key, value []byte) error {
	if err := p.writer.WriteMessages(ctx, kafka.Message{Key: key, Value: value}); err != nil {
		return fmt.Errorf("failed to write kafka message: %w", err)
	}
	return nil
}

// Close 刷新缓冲并关闭生产者。
func (p *Producer) Close() error {
	return p.writer.Close()
}
