// 文件: pkg/notify/sinks.go
// 消息队列出口: NATS / Kafka

package notify

import (
	"context"

	"quant.com/pkg/kafka"
)

// =============================================================================
// NATS
// =============================================================================

// IDPublisher 带消息 ID 发布 (*nats.Publisher)
type IDPublisher interface {
	PublishWithID(subject, id string, data any) error
}

// NatsSink 发布到 portfolio.events.<type>，消息 ID 头用于订阅方去重
type NatsSink struct {
	pub IDPublisher
}

func NewNatsSink(pub IDPublisher) *NatsSink {
	return &NatsSink{pub: pub}
}

func (s *NatsSink) Name() string { return "nats" }

func (s *NatsSink) Send(_ context.Context, e *Event) error {
	return s.pub.PublishWithID(e.Subject(), e.ID, e)
}

// =============================================================================
// Kafka
// =============================================================================

// MessageSender 发送 kafka.Message (*kafka.Producer)
type MessageSender interface {
	Send(msg kafka.Message) error
}

// KafkaSink 发布到 portfolio_events
type KafkaSink struct {
	producer MessageSender
}

func NewKafkaSink(p MessageSender) *KafkaSink {
	return &KafkaSink{producer: p}
}

func (s *KafkaSink) Name() string { return "kafka" }

func (s *KafkaSink) Send(_ context.Context, e *Event) error {
	return s.producer.Send(e)
}
