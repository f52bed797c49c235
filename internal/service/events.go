package service

import (
	"context"
	"encoding/json"
	"strconv"
	"time"

	"aihelper-go/pkg/kafka"
	"aihelper-go/pkg/log"
)

// TurnOutcome 是一轮对话的结束状态。
type TurnOutcome string

const (
	OutcomeCompleted TurnOutcome = "completed"
	OutcomeFailed    TurnOutcome = "failed"
	OutcomeStopped   TurnOutcome = "stopped"
)

// TurnEvent 描述一轮已经结束的对话。
type TurnEvent struct {
	ConversationID int64       `json:"conversationId"`
	UserID         int64       `json:"userId"`
	Outcome        TurnOutcome `json:"outcome"`
	Title          string      `json:"title,omitempty"`
	Model          string      `json:"model"`
	Prompt         string      `json:"prompt"`
	Response       string      `json:"response,omitempty"`
	Reason         string      `json:"reason,omitempty"`
	MessageID      int64       `json:"messageId,omitempty"`
	HasImage       bool        `json:"hasImage,omitempty"`
	Error          string      `json:"error,omitempty"`
	Regenerated    bool        `json:"regenerated,omitempty"`
	FinishedAt     time.Time   `json:"finishedAt"`
}

// EventPublisher 发布对话事件。发布失败只记录日志，不影响对话。
type EventPublisher interface {
	Publish(ctx context.Context, ev TurnEvent) error
}

type nopPublisher struct{}

// NopPublisher 丢弃所有事件。
func NopPublisher() EventPublisher { return nopPublisher{} }

func (nopPublisher) Publish(context.Context, TurnEvent) error { return nil }

// kafkaPublisher 把事件以 JSON 写入 Kafka，会话 ID 作为消息 key。
type kafkaPublisher struct {
	producer *kafka.Producer
}

// NewKafkaPublisher 创建基于 Kafka 的 EventPublisher。
func NewKafkaPublisher(producer *kafka.Producer) EventPublisher {
	return &kafkaPublisher{producer: producer}
}

func (p *kafkaPublisher) Publish(ctx context.Context, ev TurnEvent) error {
	value, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	key := []byte(strconv.FormatInt(ev.ConversationID, 10))
	return p.producer.Publish(ctx, key, value)
}

// FuncPublisher 让普通函数实现 EventPublisher。
type FuncPublisher func(ctx context.Context, ev TurnEvent) error

func (f FuncPublisher) Publish(ctx context.Context, ev TurnEvent) error { return f(ctx, ev) }

func publishQuietly(ctx context.Context, p EventPublisher, ev TurnEvent) {
	if err := p.Publish(ctx, ev); err != nil {
		log.Warnw("发布对话事件失败", "conversationId", ev.ConversationID, "outcome", ev.Outcome, "error", err)
	}
}
