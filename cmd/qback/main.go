package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"

	"qback/internal/cache"
	"qback/internal/config"
	"qback/internal/database"
	"qback/internal/factor"
	"qback/internal/logger"
	"qback/internal/market"
	"qback/internal/monitoring"
	"qback/internal/ratelimit"
	"qback/internal/scheduler"
	"qback/internal/simulator"
	"qback/internal/store"
	"qback/internal/strategy"
	"qback/internal/types"
)

func main() {
	var (
		configPath   = flag.String("config", "configs/config.yaml", "path to configuration file")
		strategyPath = flag.String("strategy", "", "path to strategy document (yaml or json)")
		userID       = flag.String("user", "local", "user owning the run, for the concurrency cap")
		cronSpec     = flag.String("schedule", "", "cron spec for recurring runs; empty runs once")
	)
	flag.Parse()

	// .env is optional; real deployments set the environment directly
	_ = godotenv.Load()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}
	log := logger.New(cfg.Logging)

	if *strategyPath == "" {
		log.Fatal("a strategy document is required, pass -strategy")
	}
	strat, err := strategy.Load(*strategyPath)
	if err != nil {
		log.Fatal("invalid strategy", "path", *strategyPath, "error", err)
	}

	db, err := database.Connect(cfg.Database)
	if err != nil {
		log.Fatal("database connection failed", "error", err)
	}
	defer db.Close()

	cacher := cache.New(cfg.Redis)
	defer cacher.Close()

	var redisClient *redis.Client
	if cfg.Redis.Enabled {
		redisClient = redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
			PoolSize: cfg.Redis.PoolSize,
		})
		defer redisClient.Close()
	}
	limiter := ratelimit.New(cfg.RateLimit, redisClient, log)

	metrics := monitoring.NewMetrics(prometheus.DefaultRegisterer)
	if cfg.Metrics.Enabled {
		go func() {
			if err := monitoring.Serve(cfg.Metrics.Addr, cfg.Metrics.Path); err != nil {
				log.Error("metrics server stopped", "error", err)
			}
		}()
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	run := func(ctx context.Context) error {
		return runOnce(ctx, cfg, log, db, cacher, limiter, metrics, strat, *userID)
	}

	if *cronSpec != "" {
		sched := scheduler.New(log)
		if err := sched.Add(strat.Name, *cronSpec, run); err != nil {
			log.Fatal("invalid cron spec", "spec", *cronSpec, "error", err)
		}
		sched.Start()
		log.Info("scheduler started", "strategy", strat.Name, "spec", *cronSpec)
		<-ctx.Done()
		sched.Stop()
		return
	}

	if err := run(ctx); err != nil {
		log.Error("run failed", "error", err)
		os.Exit(1)
	}
}

func runOnce(ctx context.Context, cfg *config.Config, log logger.Logger, db *database.DB,
	cacher cache.Cacher, limiter ratelimit.Limiter, metrics *monitoring.Metrics,
	strat *strategy.Strategy, userID string) error {

	release, err := limiter.Acquire(ctx, userID)
	if err != nil {
		return err
	}
	defer release()

	marketStore := market.NewPostgresStore(db)
	loader := market.NewLoader(marketStore, log)

	universe, err := loader.ResolveUniverse(ctx, strat.Universe.Codes, strat.Universe.Themes)
	if err != nil {
		return err
	}
	data, err := loader.Load(ctx, universe, strat.Start(), strat.End(), cfg.Backtest.ExtendedLookback)
	if err != nil {
		return err
	}

	factors := factor.NewEngine(data, cacher, log, metrics, cfg.Backtest)
	results := store.NewPostgresStore(db)

	engine, err := simulator.New(data, factors, strat, universe, results, log, metrics, cfg.Backtest)
	if err != nil {
		return err
	}

	log.Info("starting backtest", "run_id", engine.RunID(),
		"strategy", strat.Name, "universe", len(universe))
	res, err := engine.Run(ctx)
	if err != nil {
		return err
	}
	printSummary(res)
	return nil
}

func printSummary(res *simulator.Result) {
	st := res.Statistics
	fmt.Printf("run %s: %s\n", res.RunID, res.Status)
	if res.Status != types.RunStatusCompleted {
		return
	}
	fmt.Printf("  period        %s .. %s\n",
		st.StartDate.Format("2006-01-02"), st.EndDate.Format("2006-01-02"))
	fmt.Printf("  final value   %.2f\n", st.FinalValue)
	fmt.Printf("  total return  %.2f%%\n", st.TotalReturn*100)
	fmt.Printf("  annualized    %.2f%%\n", st.AnnualizedReturn*100)
	fmt.Printf("  volatility    %.2f%%\n", st.Volatility*100)
	fmt.Printf("  max drawdown  %.2f%%\n", st.MaxDrawdown*100)
	fmt.Printf("  sharpe        %.2f\n", st.SharpeRatio)
	fmt.Printf("  sortino       %.2f\n", st.SortinoRatio)
	fmt.Printf("  calmar        %.2f\n", st.CalmarRatio)
	fmt.Printf("  trades        %d (win rate %.1f%%)\n", st.TotalTrades, st.WinRate*100)
	fmt.Printf("  costs         commission %.2f, tax %.2f\n", st.TotalCommission, st.TotalTax)
}
