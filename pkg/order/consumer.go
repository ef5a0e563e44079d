// 文件: pkg/order/consumer.go
// 订单事件消费者 - 监听组合发出的订单事件，落库
// 使用 NATS 队列订阅，多实例负载均衡

package order

import (
	"context"
	"encoding/json"
	"log"

	"quant.com/pkg/nats"
)

// SubjectOrderEvents 订单事件主题 (notify.NatsSink 按事件类型拼接)
const SubjectOrderEvents = "portfolio.events.order_event"

// eventEnvelope 事件外层结构，只取需要的字段
type eventEnvelope struct {
	ID          string `json:"id"`
	PortfolioID string `json:"portfolio_id"`
	Payload     struct {
		Event TicketEvent `json:"event"`
	} `json:"payload"`
}

// Consumer 订单事件消费者
type Consumer struct {
	service    *Service
	subscriber *nats.Subscriber
}

// NewConsumer 创建订单消费者
func NewConsumer(service *Service, natsURL string) (*Consumer, error) {
	c := &Consumer{service: service}

	subscriber, err := nats.NewSubscriber(natsURL, c.handleMessage)
	if err != nil {
		return nil, err
	}
	c.subscriber = subscriber
	return c, nil
}

// Start 启动消费
func (c *Consumer) Start() error {
	return c.subscriber.SubscribeQueue(SubjectOrderEvents, "order-store")
}

// Stop 停止消费
func (c *Consumer) Stop() error {
	return c.subscriber.Close()
}

func (c *Consumer) handleMessage(subject string, data []byte) error {
	var env eventEnvelope
	if err := json.Unmarshal(data, &env); err != nil {
		log.Printf("[OrderStore] unmarshal order event error: %v", err)
		return err
	}
	if env.PortfolioID != "" && env.PortfolioID != c.service.portfolioID {
		return nil
	}
	return c.service.OnTicketEvent(context.Background(), env.Payload.Event)
}
