// 文件: pkg/notify/status_cache.go
// Redis 状态缓存: 外部轮询方读取组合状态和基金快照
//
// portfolio:status:{portfolio}  hash  status / message / version / updated_at
// portfolio:funds:{portfolio}   hash  {fundID} -> fund_info JSON

package notify

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

var ErrStatusNotFound = errors.New("status not found")

const (
	keyStatus = "portfolio:status:"
	keyFunds  = "portfolio:funds:"

	defaultStatusTTL = 24 * time.Hour
)

// StatusCache 只关心 portfolio_status 和 fund_info 事件
type StatusCache struct {
	client *redis.Client
	ttl    time.Duration
}

var _ Sink = (*StatusCache)(nil)

// NewStatusCache 创建缓存，ttl<=0 取 24h
func NewStatusCache(client *redis.Client, ttl time.Duration) *StatusCache {
	if ttl <= 0 {
		ttl = defaultStatusTTL
	}
	return &StatusCache{client: client, ttl: ttl}
}

func (c *StatusCache) Name() string { return "redis-status" }

// Send 写入缓存，其它事件忽略
func (c *StatusCache) Send(ctx context.Context, e *Event) error {
	switch e.Type {
	case EventPortfolioStatus:
		var p StatusPayload
		if err := e.Decode(&p); err != nil {
			return fmt.Errorf("decode status: %w", err)
		}
		key := keyStatus + e.PortfolioID
		_, err := c.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.HSet(ctx, key,
				"status", p.Status,
				"message", p.Message,
				"updated_at", e.UTCTime.Format(time.RFC3339Nano))
			pipe.HIncrBy(ctx, key, "version", 1)
			pipe.Expire(ctx, key, c.ttl)
			return nil
		})
		return err

	case EventFundInfo:
		if e.FundID == "" {
			return fmt.Errorf("fund_info event %s without fund id", e.ID)
		}
		key := keyFunds + e.PortfolioID
		_, err := c.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.HSet(ctx, key, e.FundID, []byte(e.Payload))
			pipe.Expire(ctx, key, c.ttl)
			return nil
		})
		return err
	}
	return nil
}

// CachedStatus 缓存中的组合状态
type CachedStatus struct {
	StatusPayload
	Version   int64
	UpdatedAt time.Time
}

// GetStatus 读取组合状态
func (c *StatusCache) GetStatus(ctx context.Context, portfolioID string) (CachedStatus, error) {
	m, err := c.client.HGetAll(ctx, keyStatus+portfolioID).Result()
	if err != nil {
		return CachedStatus{}, err
	}
	if len(m) == 0 {
		return CachedStatus{}, fmt.Errorf("%w: %s", ErrStatusNotFound, portfolioID)
	}
	out := CachedStatus{StatusPayload: StatusPayload{Status: m["status"], Message: m["message"]}}
	out.Version, _ = strconv.ParseInt(m["version"], 10, 64)
	out.UpdatedAt, _ = time.Parse(time.RFC3339Nano, m["updated_at"])
	return out, nil
}

// GetFundInfo 读取基金快照 JSON
func (c *StatusCache) GetFundInfo(ctx context.Context, portfolioID, fundID string) (json.RawMessage, error) {
	data, err := c.client.HGet(ctx, keyFunds+portfolioID, fundID).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("%w: %s/%s", ErrStatusNotFound, portfolioID, fundID)
	}
	if err != nil {
		return nil, err
	}
	return data, nil
}

// FundIDs 缓存中有快照的基金
func (c *StatusCache) FundIDs(ctx context.Context, portfolioID string) ([]string, error) {
	return c.client.HKeys(ctx, keyFunds+portfolioID).Result()
}
