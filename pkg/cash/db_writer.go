// 文件: pkg/cash/db_writer.go
// 现金模块 - 数据库写入器
//
// 消费 Kafka 流水事件，写入 MySQL:
// - 批量写入提高吞吐
// - 幂等写入防止重复 (event_id 唯一)

package cash

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"sync"
	"sync/atomic"
	"time"

	"quant.com/pkg/kafka"
)

// DBWriterStats 写入统计
type DBWriterStats struct {
	ReceivedCount int64
	WrittenCount  int64
	ErrorCount    int64
	BatchCount    int64
}

// DBWriterConfig 配置
type DBWriterConfig struct {
	Brokers       []string
	GroupID       string
	BatchSize     int
	FlushInterval time.Duration
}

// DefaultDBWriterConfig 默认配置
func DefaultDBWriterConfig(brokers []string) DBWriterConfig {
	return DBWriterConfig{
		Brokers:       brokers,
		GroupID:       "cash_db_writer",
		BatchSize:     100,
		FlushInterval: 500 * time.Millisecond,
	}
}

// DBWriter 数据库写入器
type DBWriter struct {
	cfg      DBWriterConfig
	repo     *Repo
	consumer *kafka.Consumer

	// 批量缓冲
	bufferMu sync.Mutex
	buffer   []*JournalEvent
	flushCh  chan struct{}

	received atomic.Int64
	written  atomic.Int64
	errors   atomic.Int64
	batches  atomic.Int64

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewDBWriter 创建写入器 (Kafka 消费)
func NewDBWriter(cfg DBWriterConfig, repo *Repo) (*DBWriter, error) {
	w := newDBWriter(cfg, repo)

	consumer, err := kafka.NewConsumer(
		kafka.DefaultConsumerConfig(cfg.Brokers, cfg.GroupID, []string{TopicJournalEvents}),
		w.handleMessage,
	)
	if err != nil {
		return nil, fmt.Errorf("create consumer: %w", err)
	}
	w.consumer = consumer
	return w, nil
}

func newDBWriter(cfg DBWriterConfig, repo *Repo) *DBWriter {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 100
	}
	if cfg.FlushInterval <= 0 {
		cfg.FlushInterval = 500 * time.Millisecond
	}
	return &DBWriter{
		cfg:     cfg,
		repo:    repo,
		buffer:  make([]*JournalEvent, 0, cfg.BatchSize),
		flushCh: make(chan struct{}, 1),
	}
}

// =============================================================================
// 消息处理
// =============================================================================

func (w *DBWriter) handleMessage(_ context.Context, rec kafka.Record) error {
	var e JournalEvent
	if err := json.Unmarshal(rec.Value, &e); err != nil {
		w.errors.Add(1)
		return fmt.Errorf("unmarshal journal: %w", err)
	}
	w.Add(&e)
	return nil
}

// Add 加入缓冲，满批触发刷新
func (w *DBWriter) Add(e *JournalEvent) {
	w.received.Add(1)

	w.bufferMu.Lock()
	w.buffer = append(w.buffer, e)
	full := len(w.buffer) >= w.cfg.BatchSize
	w.bufferMu.Unlock()

	if full {
		select {
		case w.flushCh <- struct{}{}:
		default:
		}
	}
}

// flush 刷新缓冲: 批量写流水，再逐条覆盖余额
func (w *DBWriter) flush() {
	w.bufferMu.Lock()
	events := w.buffer
	w.buffer = make([]*JournalEvent, 0, w.cfg.BatchSize)
	w.bufferMu.Unlock()

	if len(events) == 0 {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := w.repo.BatchInsertJournals(ctx, events); err != nil {
		w.errors.Add(1)
		log.Printf("[CashDBWriter] batch insert error: %v", err)
		return
	}

	for _, e := range events {
		if err := w.repo.UpsertBalance(ctx, e); err != nil {
			w.errors.Add(1)
			log.Printf("[CashDBWriter] upsert balance error: fund=%s, err=%v", e.FundID, err)
		}
	}

	w.written.Add(int64(len(events)))
	w.batches.Add(1)
}

// =============================================================================
// 生命周期
// =============================================================================

// Start 启动写入器
func (w *DBWriter) Start(ctx context.Context) {
	ctx, w.cancel = context.WithCancel(ctx)
	if w.consumer != nil {
		w.consumer.Start(ctx)
	}

	w.wg.Add(1)
	go func() {
		defer w.wg.Done()
		ticker := time.NewTicker(w.cfg.FlushInterval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				w.flush() // 最后刷新一次
				return
			case <-ticker.C:
				w.flush()
			case <-w.flushCh:
				w.flush()
			}
		}
	}()
}

// Stop 停止写入器
func (w *DBWriter) Stop() error {
	if w.cancel != nil {
		w.cancel()
	}
	w.wg.Wait()
	if w.consumer != nil {
		return w.consumer.Stop()
	}
	return nil
}

// Stats 获取统计
func (w *DBWriter) Stats() DBWriterStats {
	return DBWriterStats{
		ReceivedCount: w.received.Load(),
		WrittenCount:  w.written.Load(),
		ErrorCount:    w.errors.Load(),
		BatchCount:    w.batches.Load(),
	}
}
