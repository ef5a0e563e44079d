// 文件: pkg/portfolio/portfolio.go
// 组合主循环
//
// 【职责】
// 1. 启动 4 个后台 goroutine: 行情源、定时调度、事件发布、订单处理
// 2. 主循环逐批处理行情: 报价 -> 模拟券商 -> 定时动作 -> 汇率 -> 退市
//    -> 条件单 -> 追保 -> 结算 -> 聚合 -> 基金回调
// 3. 处理入站控制消息，维护组合状态，终止时通知基金
//
// 架构:
//
//	Feed ──► Run loop ──► Handler.OnData ──► Funds.OnData
//	            │               │
//	       MessageQueue    Handler worker ──► Broker
//	            │               │
//	            └──────► notify.Runner ──► NATS / Kafka / WebSocket / Redis

package portfolio

import (
	"context"
	"fmt"
	"log"
	"sync"
	"sync/atomic"
	"time"

	"quant.com/pkg/broker"
	"quant.com/pkg/cash"
	"quant.com/pkg/execution"
	"quant.com/pkg/market"
	"quant.com/pkg/notify"
	"quant.com/pkg/order"
	"quant.com/pkg/quant"
	"quant.com/pkg/schedule"
	"quant.com/pkg/security"
	"quant.com/pkg/tracker"
)

// =============================================================================
// 配置
// =============================================================================

// Config 组合配置
type Config struct {
	ID       string
	Backtest bool // 回测: 时钟取数据时间，定时动作由主循环驱动

	IdleSleep        time.Duration // 无数据时的等待上限
	MarginCallPeriod time.Duration
	SettlementPeriod time.Duration
	FundsSyncPeriod  time.Duration // 仅实盘
	MessageQueueSize int

	Handler   execution.Config
	Scheduler schedule.Config
}

// DefaultConfig 默认配置
func DefaultConfig(id string) Config {
	return Config{
		ID:               id,
		IdleSleep:        5 * time.Second,
		MarginCallPeriod: 5 * time.Minute,
		SettlementPeriod: 30 * time.Minute,
		FundsSyncPeriod:  10 * time.Minute,
		MessageQueueSize: 1024,
		Handler:          execution.DefaultConfig(),
		Scheduler:        schedule.DefaultConfig(),
	}
}

// Stats 主循环统计
type Stats struct {
	Batches     int64
	DataPoints  int64
	Elapsed     time.Duration // 处理行情累计耗时
	DeadLetters int64
	Messages    int64
}

// =============================================================================
// Portfolio
// =============================================================================

// Portfolio 组合
type Portfolio struct {
	cfg   Config
	feed  market.Feed
	conn  broker.Connection
	model broker.Model
	acct  *broker.Account
	rates *security.RateTable // 账户换算器不是 RateTable 时为 nil

	handler     *execution.Handler
	sched       *schedule.Scheduler
	runner      *notify.Runner
	messages    *MessageQueue
	broadcaster *market.Broadcaster
	exceptions  ExceptionHandler

	mu          sync.RWMutex
	status      Status
	funds       map[string]*quant.Fund
	fundOrder   []string
	strategies  map[string]func() quant.Strategy
	aggregators []market.Aggregator
	dataHooks   []func(market.Slice) error

	clockMu sync.RWMutex
	clock   time.Time

	// 以下只在主循环 goroutine 访问
	prevTime       time.Time
	nextMarginCall time.Time
	nextSettlement time.Time
	delisted       map[string]bool

	running     atomic.Bool
	batches     atomic.Int64
	points      atomic.Int64
	elapsed     atomic.Int64
	deadLetters atomic.Int64
	handled     atomic.Int64
}

// New 创建组合；runner 为 nil 时使用不带出口的默认发布器
func New(cfg Config, feed market.Feed, conn broker.Connection, model broker.Model, acct *broker.Account, runner *notify.Runner) *Portfolio {
	def := DefaultConfig(cfg.ID)
	if cfg.IdleSleep <= 0 {
		cfg.IdleSleep = def.IdleSleep
	}
	if cfg.MarginCallPeriod <= 0 {
		cfg.MarginCallPeriod = def.MarginCallPeriod
	}
	if cfg.SettlementPeriod <= 0 {
		cfg.SettlementPeriod = def.SettlementPeriod
	}
	if cfg.FundsSyncPeriod <= 0 {
		cfg.FundsSyncPeriod = def.FundsSyncPeriod
	}
	if runner == nil {
		runner = notify.NewRunner(notify.DefaultRunnerConfig())
	}

	p := &Portfolio{
		cfg:         cfg,
		feed:        feed,
		conn:        conn,
		model:       model,
		acct:        acct,
		sched:       schedule.New(cfg.Scheduler),
		runner:      runner,
		messages:    NewMessageQueue(cfg.MessageQueueSize),
		broadcaster: market.NewBroadcaster(),
		status:      StatusInitializing,
		funds:       make(map[string]*quant.Fund),
		strategies:  make(map[string]func() quant.Strategy),
		clock:       time.Now().UTC(),
		delisted:    make(map[string]bool),
	}
	if rt, ok := acct.Converter.(*security.RateTable); ok {
		p.rates = rt
	}

	p.handler = execution.New(cfg.Handler, conn, model, acct, tracker.New(), p.lookupFund)
	p.handler.SetClock(p.now)
	p.handler.OnOrderEvent(p.onOrderEvent)
	p.handler.OnWarning(func(fundID, message string) {
		p.publish(notify.EventWarning, fundID, notify.TextPayload{Message: message})
	})
	p.sched.SetClock(p.now)
	acct.Cash.AddPublisher(journalNotifier{p})
	return p
}

// =============================================================================
// 时钟
// =============================================================================

// now 回测取最近一批数据时间，实盘取墙钟
func (p *Portfolio) now() time.Time {
	if !p.cfg.Backtest {
		return time.Now().UTC()
	}
	p.clockMu.RLock()
	defer p.clockMu.RUnlock()
	return p.clock
}

func (p *Portfolio) setClock(t time.Time) {
	p.clockMu.Lock()
	p.clock = t
	p.clockMu.Unlock()
}

// Now 组合时钟
func (p *Portfolio) Now() time.Time { return p.now() }

// =============================================================================
// 访问器
// =============================================================================

func (p *Portfolio) ID() string                     { return p.cfg.ID }
func (p *Portfolio) Handler() *execution.Handler    { return p.handler }
func (p *Portfolio) Scheduler() *schedule.Scheduler { return p.sched }
func (p *Portfolio) Account() *broker.Account       { return p.acct }
func (p *Portfolio) Messages() *MessageQueue        { return p.messages }
func (p *Portfolio) Exceptions() *ExceptionHandler  { return &p.exceptions }

// Subscribe 订阅主循环处理过的行情批次 (慢订阅者丢数据)
func (p *Portfolio) Subscribe(buffer int) <-chan market.Slice {
	return p.broadcaster.Subscribe(buffer)
}

// AddAggregator 注册聚合器
func (p *Portfolio) AddAggregator(a market.Aggregator) {
	p.mu.Lock()
	p.aggregators = append(p.aggregators, a)
	p.mu.Unlock()
}

// OnData 注册组合级行情回调，返回错误或 panic 都会使组合进入 RuntimeError
func (p *Portfolio) OnData(fn func(market.Slice) error) {
	p.mu.Lock()
	p.dataHooks = append(p.dataHooks, fn)
	p.mu.Unlock()
}

// Stats 统计
func (p *Portfolio) Stats() Stats {
	return Stats{
		Batches:     p.batches.Load(),
		DataPoints:  p.points.Load(),
		Elapsed:     time.Duration(p.elapsed.Load()),
		DeadLetters: p.deadLetters.Load(),
		Messages:    p.handled.Load(),
	}
}

// =============================================================================
// 状态
// =============================================================================

// Status 当前状态
func (p *Portfolio) Status() Status {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.status
}

// setStatus 切换状态并发布；终态之间不再切换，Invalid / Deleting 除外
func (p *Portfolio) setStatus(to Status, message string) bool {
	p.mu.Lock()
	from := p.status
	if from == to || (from.IsFinal() && to != StatusInvalid && to != StatusDeleting) {
		p.mu.Unlock()
		return false
	}
	p.status = to
	p.mu.Unlock()

	log.Printf("[Portfolio] %s status %s -> %s %s", p.cfg.ID, from, to, message)
	ev, err := notify.NewEvent(notify.EventPortfolioStatus, p.cfg.ID, "", notify.StatusPayload{Status: to.String(), Message: message})
	if err != nil {
		return true
	}
	ev.UTCTime = p.now()
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := p.runner.PublishCritical(ctx, ev); err != nil {
		log.Printf("[Portfolio] publish status error: %v", err)
	}
	return true
}

// RequestTerminate 请求优雅终止，主循环下一轮处理
func (p *Portfolio) RequestTerminate(reason string) error {
	if p.Status().IsFinal() {
		return ErrFinalStatus
	}
	p.setStatus(StatusTerminating, reason)
	return nil
}

// Liquidate 请求清仓终止：主循环退出后撤掉所有挂单并平掉全部持仓
func (p *Portfolio) Liquidate(reason string) error {
	if !p.setStatus(StatusLiquidated, reason) {
		return ErrFinalStatus
	}
	return nil
}

// Invalidate 管理端标记无效
func (p *Portfolio) Invalidate(reason string) {
	p.setStatus(StatusInvalid, reason)
}

// Delete 管理端删除
func (p *Portfolio) Delete() {
	p.setStatus(StatusDeleting, "deleted")
	for _, f := range p.Funds() {
		f.Delete()
	}
}

// =============================================================================
// 基金
// =============================================================================

func (p *Portfolio) lookupFund(id string) (execution.Fund, bool) {
	f, ok := p.Fund(id)
	if !ok {
		return nil, false
	}
	return f, true
}

// Fund 按 ID 查找基金
func (p *Portfolio) Fund(id string) (*quant.Fund, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	f, ok := p.funds[id]
	return f, ok
}

// Funds 全部基金，按加入顺序
func (p *Portfolio) Funds() []*quant.Fund {
	p.mu.RLock()
	defer p.mu.RUnlock()
	out := make([]*quant.Fund, 0, len(p.fundOrder))
	for _, id := range p.fundOrder {
		out = append(out, p.funds[id])
	}
	return out
}

// RegisterStrategy 注册策略工厂，供 add_fund 消息按名字创建基金
func (p *Portfolio) RegisterStrategy(name string, factory func() quant.Strategy) {
	p.mu.Lock()
	p.strategies[name] = factory
	p.mu.Unlock()
}

// AddFund 加入基金并初始化；backfillUntil 非零时先回补
func (p *Portfolio) AddFund(id string, s quant.Strategy, backfillUntil time.Time) (*quant.Fund, error) {
	f := quant.New(id, s)

	p.mu.Lock()
	if _, ok := p.funds[id]; ok {
		p.mu.Unlock()
		return nil, fmt.Errorf("%w: %s", ErrFundExists, id)
	}
	p.funds[id] = f
	p.fundOrder = append(p.fundOrder, id)
	p.mu.Unlock()

	f.Attach(p.handler, p.acct, p.now)
	if err := f.Initialize(backfillUntil); err != nil {
		p.publishFundInfo(f)
		return f, fmt.Errorf("initialize fund %s: %w", id, err)
	}
	log.Printf("[Portfolio] %s fund %s added, state=%s", p.cfg.ID, id, f.State())
	p.publishFundInfo(f)
	return f, nil
}

// AddFundByName 按注册的策略名加入基金
func (p *Portfolio) AddFundByName(id, strategy string, backfillUntil time.Time) (*quant.Fund, error) {
	p.mu.RLock()
	factory, ok := p.strategies[strategy]
	p.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownStrategy, strategy)
	}
	return p.AddFund(id, factory(), backfillUntil)
}

// =============================================================================
// 事件
// =============================================================================

func (p *Portfolio) publish(typ notify.EventType, fundID string, payload any) {
	ev, err := notify.NewEvent(typ, p.cfg.ID, fundID, payload)
	if err != nil {
		log.Printf("[Portfolio] build %s event error: %v", typ, err)
		return
	}
	ev.UTCTime = p.now()
	p.runner.Publish(ev)
}

func (p *Portfolio) publishFundInfo(f *quant.Fund) {
	p.publish(notify.EventFundInfo, f.ID(), f.Info())
}

// onOrderEvent 订单事件转给所属基金并对外发布
func (p *Portfolio) onOrderEvent(e order.TicketEvent) {
	if f, ok := p.Fund(e.FundID); ok {
		f.OnOrderEvent(e)
	}
	p.publish(notify.EventOrder, e.FundID, notify.OrderPayloadOf(e))
}

// journalNotifier 现金流水转为组合事件
type journalNotifier struct{ p *Portfolio }

func (n journalNotifier) PublishJournal(e *cash.JournalEvent) error {
	n.p.publish(notify.EventCashJournal, e.FundID, e)
	return nil
}

// =============================================================================
// 生命周期
// =============================================================================

// Run 启动后台 goroutine 并运行主循环，直到进入终态
//
// 启动失败直接进入 RuntimeError 并返回错误；
// 运行期致命错误同样以 RuntimeError 结束，返回该错误。
func (p *Portfolio) Run(ctx context.Context) error {
	if !p.running.CompareAndSwap(false, true) {
		return ErrAlreadyRunning
	}

	if err := p.start(ctx); err != nil {
		err = fmt.Errorf("portfolio %s start: %w", p.cfg.ID, err)
		p.exceptions.Fatal(err)
		p.setStatus(StatusRuntimeError, err.Error())
		p.shutdown()
		return err
	}
	p.setStatus(StatusRunning, "")

	p.loop(ctx)
	p.finish()
	p.shutdown()

	if p.Status() == StatusRuntimeError {
		return p.exceptions.Err()
	}
	return nil
}

// start 后台 goroutine 不跟随调用方 ctx 取消，由 shutdown 统一停止
func (p *Portfolio) start(ctx context.Context) error {
	bg := context.WithoutCancel(ctx)

	p.runner.Start(bg)
	if err := p.conn.Connect(ctx); err != nil {
		return fmt.Errorf("connect %s: %w", p.conn.Name(), err)
	}
	p.handler.Start(bg)

	if !p.cfg.Backtest {
		p.sched.Start(bg)
		first := p.now().Add(p.cfg.FundsSyncPeriod)
		if err := p.sched.Add("funds-sync", first, p.cfg.FundsSyncPeriod, func(time.Time) error {
			p.handler.SyncBrokerageFunds(bg)
			return nil
		}); err != nil {
			return err
		}
	}

	if err := p.feed.Start(bg); err != nil {
		return fmt.Errorf("start feed: %w", err)
	}
	log.Printf("[Portfolio] %s started, backtest=%v funds=%d", p.cfg.ID, p.cfg.Backtest, len(p.Funds()))
	return nil
}

// loop 主循环
func (p *Portfolio) loop(ctx context.Context) {
	batches := p.feed.Batches()
	done := ctx.Done()

	for {
		var (
			s   market.Slice
			got bool
		)
		select {
		case s, got = <-batches:
			if !got {
				batches = nil
				_ = p.RequestTerminate("data feed finished")
			}
		case <-done:
			done = nil
			_ = p.RequestTerminate("context cancelled")
		case <-time.After(p.cfg.IdleSleep):
		}

		if p.checkStop() {
			return
		}
		p.processMessages()
		if !got {
			continue
		}

		start := time.Now()
		p.step(s)
		p.elapsed.Add(int64(time.Since(start)))
		p.batches.Add(1)
		p.points.Add(int64(s.Len()))

		if err := p.exceptions.Err(); err != nil {
			p.setStatus(StatusRuntimeError, err.Error())
			return
		}
	}
}

// checkStop 终态退出；Terminating 时优雅终止；有致命错误转 RuntimeError
func (p *Portfolio) checkStop() bool {
	st := p.Status()
	switch {
	case st.IsFinal():
		return true
	case st == StatusTerminating:
		p.setStatus(StatusStopped, "terminated")
		return true
	}
	if err := p.exceptions.Err(); err != nil {
		p.setStatus(StatusRuntimeError, err.Error())
		return true
	}
	return false
}

// finish 通知基金终止；清仓状态下平掉全部持仓
func (p *Portfolio) finish() {
	funds := p.Funds()
	for _, f := range funds {
		func() {
			defer func() {
				if r := recover(); r != nil {
					log.Printf("[Portfolio] terminate fund %s panic: %v", f.ID(), r)
				}
			}()
			f.Terminate()
		}()
	}

	if p.Status() == StatusLiquidated {
		for _, f := range funds {
			if _, err := f.Liquidate(); err != nil {
				log.Printf("[Portfolio] liquidate fund %s error: %v", f.ID(), err)
			}
		}
	}
	for _, f := range funds {
		p.publishFundInfo(f)
	}
}

// shutdown 停止后台 goroutine：订单处理器先排空，事件发布器最后停
func (p *Portfolio) shutdown() {
	p.feed.Stop()
	p.sched.Stop()
	p.handler.Stop()
	if err := p.conn.Disconnect(); err != nil {
		log.Printf("[Portfolio] disconnect %s error: %v", p.conn.Name(), err)
	}
	p.broadcaster.Close()
	p.runner.Stop()

	st := p.Stats()
	log.Printf("[Portfolio] %s stopped: status=%s batches=%d points=%d elapsed=%s dead_letters=%d",
		p.cfg.ID, p.Status(), st.Batches, st.DataPoints, st.Elapsed, st.DeadLetters)
}
