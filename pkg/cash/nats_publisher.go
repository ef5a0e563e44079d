// 文件: pkg/cash/nats_publisher.go
// 现金模块 - NATS 流水发布器 (轻量级替代 Kafka)

package cash

import (
	"quant.com/pkg/nats"
)

var _ JournalPublisher = (*NatsPublisher)(nil)

// NatsPublisher NATS 流水发布器
type NatsPublisher struct {
	publisher *nats.Publisher
}

// NewNatsPublisher 复用已有连接
func NewNatsPublisher(publisher *nats.Publisher) *NatsPublisher {
	return &NatsPublisher{publisher: publisher}
}

// PublishJournal 发布流水事件
func (p *NatsPublisher) PublishJournal(e *JournalEvent) error {
	return p.publisher.Publish(TopicJournalEvents, e)
}
