// 文件: pkg/cash/nats_db_writer.go
// 现金模块 - NATS 数据库写入器
//
// 监听 NATS 流水事件，交给 DBWriter 批量落库

package cash

import (
	"encoding/json"
	"fmt"

	"quant.com/pkg/nats"
)

// NatsDBWriter NATS 前端 + 批量写入
type NatsDBWriter struct {
	*DBWriter
	subscriber *nats.Subscriber
}

// NewNatsDBWriter 创建写入器
func NewNatsDBWriter(cfg DBWriterConfig, repo *Repo, natsURL string) (*NatsDBWriter, error) {
	w := &NatsDBWriter{DBWriter: newDBWriter(cfg, repo)}

	subscriber, err := nats.NewSubscriber(natsURL, w.handleMessage)
	if err != nil {
		return nil, err
	}
	w.subscriber = subscriber
	return w, nil
}

// Subscribe 队列订阅流水主题
func (w *NatsDBWriter) Subscribe() error {
	return w.subscriber.SubscribeQueue(TopicJournalEvents, "cash-db-writer")
}

func (w *NatsDBWriter) handleMessage(subject string, data []byte) error {
	var e JournalEvent
	if err := json.Unmarshal(data, &e); err != nil {
		w.errors.Add(1)
		return fmt.Errorf("unmarshal journal: %w", err)
	}
	w.Add(&e)
	return nil
}

// Stop 先断开订阅再刷新
func (w *NatsDBWriter) Stop() error {
	w.subscriber.Close()
	return w.DBWriter.Stop()
}
