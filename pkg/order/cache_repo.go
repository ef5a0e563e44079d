// 文件: pkg/order/cache_repo.go
// 订单 Redis 缓存层
//
// 装饰器: 包装底层 Repository
// - 读单个订单: 先查 Redis，miss 则查 DB 并回填
// - 写: 先写 DB，成功后删除缓存 (Cache Aside)

package order

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

var _ Repository = (*CachedRepository)(nil)

const (
	// portfolio:order:{portfolio}:{orderID}
	cacheKeyOrder = "portfolio:order:%s:%d"

	cacheTTL = 10 * time.Minute
)

// CachedRepository Redis 缓存装饰器
type CachedRepository struct {
	repo  Repository
	redis *redis.Client
}

func NewCachedRepository(repo Repository, rds *redis.Client) *CachedRepository {
	return &CachedRepository{repo: repo, redis: rds}
}

// =============================================================================
// 读操作 (带缓存)
// =============================================================================

func (r *CachedRepository) GetByOrderID(ctx context.Context, portfolioID string, orderID int64) (*Record, error) {
	key := fmt.Sprintf(cacheKeyOrder, portfolioID, orderID)

	data, err := r.redis.Get(ctx, key).Bytes()
	if err == nil {
		var rec Record
		if json.Unmarshal(data, &rec) == nil {
			return &rec, nil
		}
	}

	rec, err := r.repo.GetByOrderID(ctx, portfolioID, orderID)
	if err != nil {
		return nil, err
	}
	r.setCache(ctx, key, rec)
	return rec, nil
}

// 列表查询不缓存
func (r *CachedRepository) GetActiveByFund(ctx context.Context, portfolioID, fundID string) ([]*Record, error) {
	return r.repo.GetActiveByFund(ctx, portfolioID, fundID)
}

func (r *CachedRepository) GetFills(ctx context.Context, portfolioID string, orderID int64) ([]*FillRecord, error) {
	return r.repo.GetFills(ctx, portfolioID, orderID)
}

// =============================================================================
// 写操作 (写穿 + 删缓存)
// =============================================================================

func (r *CachedRepository) Create(ctx context.Context, rec *Record) error {
	if err := r.repo.Create(ctx, rec); err != nil {
		return err
	}
	r.invalidate(ctx, rec.PortfolioID, rec.OrderID)
	return nil
}

func (r *CachedRepository) AddFill(ctx context.Context, f *FillRecord) error {
	return r.repo.AddFill(ctx, f)
}

func (r *CachedRepository) UpdateFill(ctx context.Context, rec *Record) error {
	if err := r.repo.UpdateFill(ctx, rec); err != nil {
		return err
	}
	r.invalidate(ctx, rec.PortfolioID, rec.OrderID)
	return nil
}

func (r *CachedRepository) UpdateState(ctx context.Context, portfolioID string, orderID int64, state OrderState) error {
	if err := r.repo.UpdateState(ctx, portfolioID, orderID, state); err != nil {
		return err
	}
	r.invalidate(ctx, portfolioID, orderID)
	return nil
}

// =============================================================================
// 缓存操作
// =============================================================================

func (r *CachedRepository) setCache(ctx context.Context, key string, rec *Record) {
	data, err := json.Marshal(rec)
	if err != nil {
		return
	}
	r.redis.Set(ctx, key, data, cacheTTL)
}

func (r *CachedRepository) invalidate(ctx context.Context, portfolioID string, orderID int64) {
	r.redis.Del(ctx, fmt.Sprintf(cacheKeyOrder, portfolioID, orderID))
}
