// 文件: pkg/cash/publisher.go
// 现金模块 - Kafka 流水发布器
//
// JournalEvent 实现 kafka.Message 接口

package cash

import (
	"encoding/json"

	"quant.com/pkg/kafka"
)

// =============================================================================
// JournalEvent 实现 kafka.Message 接口
// =============================================================================

// Topic 返回 Kafka topic
func (e *JournalEvent) Topic() string {
	return TopicJournalEvents
}

// Key 按组合+基金分区，保证同一账本顺序
func (e *JournalEvent) Key() string {
	return e.PortfolioID + ":" + e.FundID
}

// Value 返回序列化后的消息体
func (e *JournalEvent) Value() ([]byte, error) {
	return json.Marshal(e)
}

// =============================================================================
// KafkaPublisher
// =============================================================================

var _ JournalPublisher = (*KafkaPublisher)(nil)

// KafkaPublisher Kafka 流水发布器
type KafkaPublisher struct {
	producer *kafka.Producer
}

// NewKafkaPublisher 创建发布器
func NewKafkaPublisher(brokers []string) (*KafkaPublisher, error) {
	producer, err := kafka.NewProducer(kafka.DefaultProducerConfig(brokers))
	if err != nil {
		return nil, err
	}
	return &KafkaPublisher{producer: producer}, nil
}

// NewKafkaPublisherWithProducer 复用已有生产者
func NewKafkaPublisherWithProducer(p *kafka.Producer) *KafkaPublisher {
	return &KafkaPublisher{producer: p}
}

// PublishJournal 发布流水事件
func (p *KafkaPublisher) PublishJournal(e *JournalEvent) error {
	return p.producer.Send(e)
}

// Close 关闭
func (p *KafkaPublisher) Close() error {
	return p.producer.Close()
}

// Stats 统计
func (p *KafkaPublisher) Stats() kafka.ProducerStats {
	return p.producer.Stats()
}
