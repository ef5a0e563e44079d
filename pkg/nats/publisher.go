// 文件: pkg/nats/publisher.go
// NATS 发布者 - 组合通知、现金流水的轻量通道

package nats

import (
	"encoding/json"
	"fmt"

	"github.com/nats-io/nats.go"
)

// Publisher NATS 发布者
type Publisher struct {
	conn *nats.Conn
}

// NewPublisher 创建发布者
func NewPublisher(url string) (*Publisher, error) {
	conn, err := connect(url, "quant-publisher")
	if err != nil {
		return nil, err
	}
	return &Publisher{conn: conn}, nil
}

// Publish JSON 编码后发布
func (p *Publisher) Publish(subject string, data any) error {
	bytes, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("marshal %s: %w", subject, err)
	}
	return p.conn.Publish(subject, bytes)
}

// PublishWithID 带消息 ID 头发布，订阅方可据此去重
func (p *Publisher) PublishWithID(subject, id string, data any) error {
	bytes, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("marshal %s: %w", subject, err)
	}
	msg := nats.NewMsg(subject)
	msg.Header.Set(HeaderMsgID, id)
	msg.Data = bytes
	return p.conn.PublishMsg(msg)
}

// PublishRaw 发布原始字节
func (p *Publisher) PublishRaw(subject string, data []byte) error {
	return p.conn.Publish(subject, data)
}

// Flush 等待缓冲区发出
func (p *Publisher) Flush() error {
	return p.conn.Flush()
}

// Close 刷出后关闭
func (p *Publisher) Close() {
	_ = p.conn.Drain()
}
