package main

import (
	"context"
	"errors"
	"log"
	"math/rand"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
	"gorm.io/driver/mysql"
	"gorm.io/gorm"

	"quant.com/pkg/broker"
	"quant.com/pkg/cash"
	"quant.com/pkg/kafka"
	"quant.com/pkg/market"
	"quant.com/pkg/nats"
	"quant.com/pkg/notify"
	"quant.com/pkg/order"
	"quant.com/pkg/portfolio"
	"quant.com/pkg/quant"
	"quant.com/pkg/security"
)

// 环境变量 (基础设施均可选):
//
//	PORTFOLIO_ID   组合 ID，默认 pf-demo
//	MODE           backtest (默认) / paper
//	NATS_URL       事件发布、命令订阅、现金流水、订单落库
//	KAFKA_BROKERS  逗号分隔，事件发布、命令消费、现金流水
//	MYSQL_DSN      订单表、现金流水表
//	REDIS_ADDR     组合状态缓存、订单缓存
//	WS_ADDR        WebSocket 推送监听地址，如 :8080

var symbols = []market.SimulatedSymbol{
	{Ticker: "AAPL", Price: 180, Volatility: 0.25, Spread: 0.02},
	{Ticker: "MSFT", Price: 410, Volatility: 0.22, Spread: 0.04},
}

func main() {
	log.SetFlags(log.Ltime | log.Lmicroseconds)

	id := envOr("PORTFOLIO_ID", "pf-demo")
	backtest := envOr("MODE", "backtest") == "backtest"
	log.Printf("Starting portfolio %s (backtest=%v)...", id, backtest)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// 1. 账户
	// -------------------------------------------------------------------------
	rates := security.NewRateTable()
	reg := security.NewRegistry()
	for _, s := range symbols {
		reg.Add(security.New(s.Ticker, security.DefaultExchange(), security.USD,
			decimal.NewFromInt(1), decimal.RequireFromString("0.01"), rates))
	}
	cm := cash.NewManager(id)
	acct := broker.NewAccount(security.USD, cm, reg, rates)

	conn, err := broker.NewSimulatedConnection(broker.DefaultSimulatedConfig())
	if err != nil {
		log.Fatalf("Failed to create brokerage: %v", err)
	}
	model := broker.NewDefaultModel(broker.DefaultModelConfig())

	var feed market.Feed
	if backtest {
		feed = market.NewBacktestFeed(history(time.Date(2024, 3, 6, 14, 30, 0, 0, time.UTC), 390))
	} else {
		feed = market.NewSimulatedFeed(time.Second, symbols...)
	}

	// 2. 事件出口与外部依赖
	// -------------------------------------------------------------------------
	runner := notify.NewRunner(notify.DefaultRunnerConfig())
	ext := &infra{}
	defer ext.close()

	cfg := portfolio.DefaultConfig(id)
	cfg.Backtest = backtest
	p := portfolio.New(cfg, feed, conn, model, acct, runner)

	db := ext.mysql(os.Getenv("MYSQL_DSN"))
	rdb := ext.redis(os.Getenv("REDIS_ADDR"))
	if rdb != nil {
		runner.AddSink(notify.NewStatusCache(rdb, 24*time.Hour))
	}
	var orderRepo order.Repository
	var cashRepo *cash.Repo
	if db != nil {
		mr := order.NewMySQLRepository(db)
		cashRepo = cash.NewRepo(db)
		if err := errors.Join(mr.AutoMigrate(), cashRepo.AutoMigrate()); err != nil {
			log.Fatalf("Failed to migrate: %v", err)
		}
		orderRepo = mr
		if rdb != nil {
			orderRepo = order.NewCachedRepository(mr, rdb)
		}
	}

	if url := os.Getenv("NATS_URL"); url != "" {
		ext.nats(ctx, url, p, runner, cm, orderRepo, cashRepo)
	}
	if brokers := os.Getenv("KAFKA_BROKERS"); brokers != "" {
		ext.kafka(ctx, strings.Split(brokers, ","), p, runner, cm, cashRepo)
	}
	if addr := os.Getenv("WS_ADDR"); addr != "" {
		ext.websocket(addr, runner)
	}

	// 3. 基金
	// -------------------------------------------------------------------------
	p.RegisterStrategy("momentum", func() quant.Strategy { return newMomentum(20, decimal.NewFromInt(10), "AAPL", "MSFT") })
	conn.Deposit(security.USD, decimal.NewFromInt(100000))
	for _, s := range symbols {
		if _, err := p.AddFund("momentum-"+strings.ToLower(s.Ticker), newMomentum(20, decimal.NewFromInt(10), s.Ticker), time.Time{}); err != nil {
			log.Fatalf("Failed to add fund: %v", err)
		}
	}

	// 4. 运行
	// -------------------------------------------------------------------------
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		log.Println("Shutting down...")
		_ = p.RequestTerminate("signal")
	}()

	if err := p.Run(ctx); err != nil {
		log.Printf("Portfolio finished with error: %v", err)
	}

	for _, f := range p.Funds() {
		info := f.Info()
		log.Printf("[Summary] fund=%s state=%s positions=%d cash=%s",
			info.FundID, info.State, len(info.Positions), info.Cash[security.USD].Settled.StringFixed(2))
	}
	log.Printf("[Summary] account equity=%s", acct.Equity("").StringFixed(2))
}

func envOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

// history 生成 n 分钟的随机游走行情和 EURUSD 汇率
func history(start time.Time, n int) []market.DataPoint {
	rng := rand.New(rand.NewSource(42))
	prices := make([]float64, len(symbols))
	for i, s := range symbols {
		prices[i] = s.Price
	}

	var out []market.DataPoint
	for m := 0; m < n; m++ {
		at := start.Add(time.Duration(m) * time.Minute)
		for i, s := range symbols {
			prices[i] *= 1 + rng.NormFloat64()*0.001
			mid := decimal.NewFromFloat(prices[i]).Round(2)
			half := decimal.NewFromFloat(s.Spread / 2).Round(2)
			out = append(out, market.Tick{Symbol: s.Ticker, UTCTime: at, Price: mid, Bid: mid.Sub(half), Ask: mid.Add(half)})
		}
		if m%15 == 0 {
			fx := decimal.NewFromFloat(1.09 + rng.NormFloat64()*0.001).Round(5)
			out = append(out, market.Tick{Symbol: "EURUSD", UTCTime: at, Price: fx})
		}
	}
	return out
}

// =============================================================================
// 外部依赖
// =============================================================================

type infra struct {
	closers []func()
}

func (i *infra) onClose(fn func()) { i.closers = append(i.closers, fn) }

func (i *infra) close() {
	for j := len(i.closers) - 1; j >= 0; j-- {
		i.closers[j]()
	}
}

func (i *infra) mysql(dsn string) *gorm.DB {
	if dsn == "" {
		return nil
	}
	db, err := gorm.Open(mysql.Open(dsn), &gorm.Config{})
	if err != nil {
		log.Fatalf("Failed to connect MySQL: %v", err)
	}
	log.Println("MySQL connected")
	return db
}

func (i *infra) redis(addr string) *redis.Client {
	if addr == "" {
		return nil
	}
	rdb := redis.NewClient(&redis.Options{Addr: addr})
	if err := rdb.Ping(context.Background()).Err(); err != nil {
		log.Fatalf("Failed to connect Redis: %v", err)
	}
	i.onClose(func() { _ = rdb.Close() })
	log.Println("Redis connected")
	return rdb
}

func (i *infra) nats(ctx context.Context, url string, p *portfolio.Portfolio, runner *notify.Runner, cm *cash.Manager, orderRepo order.Repository, cashRepo *cash.Repo) {
	pub, err := nats.NewPublisher(url)
	if err != nil {
		log.Fatalf("Failed to connect NATS: %v", err)
	}
	i.onClose(pub.Close)
	runner.AddSink(notify.NewNatsSink(pub))
	cm.AddPublisher(cash.NewNatsPublisher(pub))

	src, err := portfolio.NewNatsMessageSource(url, p.ID(), p.Messages())
	if err != nil {
		log.Fatalf("Failed to subscribe commands: %v", err)
	}
	i.onClose(func() { _ = src.Close() })

	if orderRepo != nil {
		consumer, err := order.NewConsumer(order.NewService(p.ID(), orderRepo), url)
		if err != nil {
			log.Fatalf("Failed to create order consumer: %v", err)
		}
		if err := consumer.Start(); err != nil {
			log.Fatalf("Failed to start order consumer: %v", err)
		}
		i.onClose(func() { _ = consumer.Stop() })
	}
	if cashRepo != nil {
		w, err := cash.NewNatsDBWriter(cash.DefaultDBWriterConfig(nil), cashRepo, url)
		if err != nil {
			log.Fatalf("Failed to create cash writer: %v", err)
		}
		if err := w.Subscribe(); err != nil {
			log.Fatalf("Failed to subscribe cash journal: %v", err)
		}
		w.Start(ctx)
		i.onClose(func() { _ = w.Stop() })
	}
	log.Println("NATS wired")
}

func (i *infra) kafka(ctx context.Context, brokers []string, p *portfolio.Portfolio, runner *notify.Runner, cm *cash.Manager, cashRepo *cash.Repo) {
	producer, err := kafka.NewProducer(kafka.DefaultProducerConfig(brokers))
	if err != nil {
		log.Fatalf("Failed to create Kafka producer: %v", err)
	}
	i.onClose(func() { _ = producer.Close() })
	runner.AddSink(notify.NewKafkaSink(producer))
	cm.AddPublisher(cash.NewKafkaPublisherWithProducer(producer))

	src, err := portfolio.NewKafkaMessageSource(brokers, p.ID(), p.Messages())
	if err != nil {
		log.Fatalf("Failed to create Kafka command source: %v", err)
	}
	src.Start(ctx)
	i.onClose(func() { _ = src.Stop() })

	if cashRepo != nil {
		w, err := cash.NewDBWriter(cash.DefaultDBWriterConfig(brokers), cashRepo)
		if err != nil {
			log.Fatalf("Failed to create cash writer: %v", err)
		}
		w.Start(ctx)
		i.onClose(func() { _ = w.Stop() })
	}
	log.Println("Kafka wired")
}

func (i *infra) websocket(addr string, runner *notify.Runner) {
	hub := notify.NewHub(notify.DefaultHubConfig())
	runner.AddSink(hub)

	mux := http.NewServeMux()
	mux.Handle("/ws", hub)
	srv := &http.Server{Addr: addr, Handler: mux}
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Printf("WebSocket server error: %v", err)
		}
	}()
	i.onClose(func() {
		hub.Close()
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		_ = srv.Shutdown(ctx)
	})
	log.Printf("WebSocket listening on %s/ws", addr)
}
