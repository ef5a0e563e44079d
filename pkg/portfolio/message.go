// 文件: pkg/portfolio/message.go
// 入站控制消息: 基金启停 / 新增基金 / 组合终止
//
// 消息先进入 MessageQueue，由主循环每轮一次性取完处理，
// 外部来源 (NATS / Kafka) 只负责解码和入队。

package portfolio

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"

	"quant.com/pkg/kafka"
	"quant.com/pkg/nats"
)

var ErrQueueFull = errors.New("message queue full")

// Kafka Topic / NATS Subject
const (
	TopicPortfolioCommands   = "portfolio_commands"
	SubjectPortfolioCommands = "portfolio.commands"
)

// MessageType 消息类型
type MessageType string

const (
	MsgStartFund          MessageType = "start_fund"
	MsgStopFund           MessageType = "stop_fund"
	MsgTerminateFund      MessageType = "terminate_fund"
	MsgLiquidateFund      MessageType = "liquidate_fund"
	MsgAddFund            MessageType = "add_fund"
	MsgTerminatePortfolio MessageType = "terminate_portfolio"
)

// Message 控制消息
type Message struct {
	ID          string          `json:"id"` // uuid
	Type        MessageType     `json:"type"`
	PortfolioID string          `json:"portfolio_id,omitempty"` // 空表示发给任意组合
	FundID      string          `json:"fund_id,omitempty"`
	Body        json.RawMessage `json:"body,omitempty"`
	UTCTime     time.Time       `json:"utc_time"`
}

// NewMessage 创建消息，body 为 nil 时不带消息体
func NewMessage(typ MessageType, fundID string, body any) (*Message, error) {
	m := &Message{
		ID:      uuid.NewString(),
		Type:    typ,
		FundID:  fundID,
		UTCTime: time.Now().UTC(),
	}
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return nil, err
		}
		m.Body = data
	}
	return m, nil
}

// AddFundBody add_fund 消息体
type AddFundBody struct {
	Strategy      string    `json:"strategy"`                 // 已注册的策略名
	BackfillUntil time.Time `json:"backfill_until,omitempty"` // 为零不回补
}

// =============================================================================
// MessageQueue
// =============================================================================

// MessageQueue 有界消息队列
type MessageQueue struct {
	ch chan *Message
}

// NewMessageQueue 创建队列
func NewMessageQueue(size int) *MessageQueue {
	if size <= 0 {
		size = 1024
	}
	return &MessageQueue{ch: make(chan *Message, size)}
}

// Push 非阻塞入队
func (q *MessageQueue) Push(m *Message) error {
	if m.ID == "" {
		m.ID = uuid.NewString()
	}
	select {
	case q.ch <- m:
		return nil
	default:
		return fmt.Errorf("%w: message %s dropped", ErrQueueFull, m.ID)
	}
}

// Drain 取出当前全部消息
func (q *MessageQueue) Drain() []*Message {
	var out []*Message
	for {
		select {
		case m := <-q.ch:
			out = append(out, m)
		default:
			return out
		}
	}
}

// Len 待处理消息数
func (q *MessageQueue) Len() int { return len(q.ch) }

// decodeInto 解码并入队，只接收发给本组合的消息
func decodeInto(q *MessageQueue, portfolioID string, data []byte) error {
	m, err := nats.UnmarshalJSON[Message](data)
	if err != nil {
		return fmt.Errorf("decode message: %w", err)
	}
	if m.PortfolioID != "" && m.PortfolioID != portfolioID {
		return nil
	}
	return q.Push(m)
}

// =============================================================================
// 消息来源
// =============================================================================

// NatsMessageSource 订阅 portfolio.commands.<portfolio>
type NatsMessageSource struct {
	sub *nats.Subscriber
}

// NewNatsMessageSource 连接 NATS 并订阅本组合的命令主题
func NewNatsMessageSource(url, portfolioID string, q *MessageQueue) (*NatsMessageSource, error) {
	sub, err := nats.NewSubscriber(url, func(subject string, data []byte) error {
		return decodeInto(q, portfolioID, data)
	})
	if err != nil {
		return nil, err
	}
	if err := sub.Subscribe(SubjectPortfolioCommands+"."+portfolioID); err != nil {
		_ = sub.Close()
		return nil, err
	}
	log.Printf("[Portfolio] nats command source subscribed: %s.%s", SubjectPortfolioCommands, portfolioID)
	return &NatsMessageSource{sub: sub}, nil
}

// Close 退订
func (s *NatsMessageSource) Close() error {
	return s.sub.Close()
}

// KafkaMessageSource 消费 portfolio_commands，每个组合一个消费者组
type KafkaMessageSource struct {
	consumer *kafka.Consumer
}

// NewKafkaMessageSource 创建消费者，Start 后开始入队
func NewKafkaMessageSource(brokers []string, portfolioID string, q *MessageQueue) (*KafkaMessageSource, error) {
	cfg := kafka.DefaultConsumerConfig(brokers, "portfolio-"+portfolioID, []string{TopicPortfolioCommands})
	cfg.OnFailure = func(rec kafka.Record, err error) {
		log.Printf("[Portfolio] kafka command dropped: partition=%d offset=%d err=%v", rec.Partition, rec.Offset, err)
	}
	c, err := kafka.NewConsumer(cfg, func(_ context.Context, rec kafka.Record) error {
		return decodeInto(q, portfolioID, rec.Value)
	})
	if err != nil {
		return nil, err
	}
	return &KafkaMessageSource{consumer: c}, nil
}

// Start 开始消费
func (s *KafkaMessageSource) Start(ctx context.Context) {
	s.consumer.Start(ctx)
}

// Stop 停止消费
func (s *KafkaMessageSource) Stop() error {
	return s.consumer.Stop()
}
