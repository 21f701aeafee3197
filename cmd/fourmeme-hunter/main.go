package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"

	"github.com/nexus-trading/fourmeme-hunter/internal/bus"
	"github.com/nexus-trading/fourmeme-hunter/internal/chain"
	"github.com/nexus-trading/fourmeme-hunter/internal/clickhouse"
	"github.com/nexus-trading/fourmeme-hunter/internal/config"
	"github.com/nexus-trading/fourmeme-hunter/internal/coordinator"
	"github.com/nexus-trading/fourmeme-hunter/internal/events"
	"github.com/nexus-trading/fourmeme-hunter/internal/executor"
	"github.com/nexus-trading/fourmeme-hunter/internal/filter"
	"github.com/nexus-trading/fourmeme-hunter/internal/listener"
	"github.com/nexus-trading/fourmeme-hunter/internal/observability"
	"github.com/nexus-trading/fourmeme-hunter/internal/opsapi"
	"github.com/nexus-trading/fourmeme-hunter/internal/position"
	"github.com/nexus-trading/fourmeme-hunter/internal/records"
	"github.com/nexus-trading/fourmeme-hunter/internal/risk"
	"github.com/nexus-trading/fourmeme-hunter/internal/store"
	"github.com/nexus-trading/fourmeme-hunter/internal/trend"
)

const (
	trailBuffer     = 1000
	statsInterval   = 30 * time.Second
	shutdownTimeout = 30 * time.Second
)

func main() {
	// 1. Parse flags.
	configPath := flag.String("config", "config/config.yaml", "Path to configuration file")
	flag.Parse()

	// 2. Load configuration.
	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "FATAL: failed to load config from %s: %v\n", *configPath, err)
		os.Exit(1)
	}

	// 3. Setup logging.
	setupLogging(cfg.General)

	log.Info().Msg("=============================================")
	log.Info().Msg("four.meme hunter - Starting")
	log.Info().Msg("LISTEN -> FILTER -> CLUSTER/SCORE -> BUY -> MANAGE")
	log.Info().Msg("=============================================")

	log.Info().
		Str("instance_id", cfg.General.InstanceID).
		Bool("trading_enabled", cfg.Trading.Enabled).
		Str("rpc", cfg.Chain.RPCURL).
		Float64("buy_amount_bnb", cfg.Trading.BuyAmountBNB).
		Float64("take_profit_pct", cfg.Trading.TakeProfitPct).
		Float64("stop_loss_pct", cfg.Trading.StopLossPct).
		Dur("max_hold", cfg.Trading.MaxHold).
		Int("max_positions", cfg.Risk.MaxConcurrentPositions).
		Bool("cluster", cfg.Trading.ClusterEnabled).
		Bool("scoring", cfg.Scoring.Enabled).
		Msg("Configuration loaded")

	// 3b. Validate configuration.
	if err := cfg.Validate(); err != nil {
		log.Fatal().Err(err).Msg("Configuration validation failed")
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// 4. Metrics.
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	metrics := observability.NewMetrics(reg)

	// 5. Chain connection.
	chainCfg := chain.DefaultConfig(cfg.Chain.RPCURL)
	chainCfg.MaxRetryDelay = cfg.Chain.MaxRetryDelay
	chainCfg.HeartbeatInterval = cfg.Chain.HeartbeatInterval
	chainCfg.StallThreshold = cfg.Chain.StallThreshold
	chainCfg.ProbeTimeout = cfg.Chain.ProbeTimeout
	conn := chain.NewManager(chainCfg, nil, metrics)

	if err := conn.Connect(ctx); err != nil {
		log.Warn().Err(err).Str("rpc", cfg.Chain.RPCURL).
			Msg("RPC connect failed (continuing, listener will reconnect)")
	} else {
		log.Info().Str("rpc", cfg.Chain.RPCURL).Msg("BSC RPC: connected")
	}

	var heads *chain.HeadMonitor
	if cfg.Chain.WSURL != "" {
		heads = chain.NewHeadMonitor(cfg.Chain.WSURL, conn)
	}

	// 6. Listener.
	tokenManager := common.HexToAddress(cfg.Contracts.TokenManager)
	decoder := events.NewDecoder(hashes(cfg.Listener.RawPurchaseTopics), hashes(cfg.Listener.RawSaleTopics))

	lcfg := listener.DefaultConfig(tokenManager)
	lcfg.PollInterval = cfg.Listener.PollInterval
	lcfg.MaxBlockRange = cfg.Listener.MaxBlockRange
	lcfg.LookbackBlocks = cfg.Listener.LookbackBlocks
	lcfg.ErrorDelay = cfg.Listener.ErrorDelay
	lcfg.MaxBackoff = cfg.Listener.MaxBackoff
	lcfg.DedupSize = cfg.Listener.DedupSize
	lcfg.DrainTimeout = cfg.Listener.DrainTimeout
	lst := listener.New(lcfg, conn, decoder, metrics)

	// 7. Filter, trend tracker and risk.
	var prober filter.CreatorProber
	if cfg.Filter.ProbeReputation {
		prober = filter.NewChainProber(conn)
	}
	tokenFilter := filter.New(filterConfig(cfg.Filter), prober, metrics)

	trends := trend.New(trend.Config{
		PrefixLength: cfg.Trend.PrefixLength,
		Window:       cfg.Trend.Window,
		Threshold:    cfg.Trend.Threshold,
	})

	riskMgr := risk.New(risk.Config{
		MaxDailyTrades:         cfg.Risk.MaxDailyTrades,
		MaxDailyInvestment:     decimal.NewFromFloat(cfg.Risk.MaxDailyInvestmentBNB),
		MaxConcurrentPositions: cfg.Risk.MaxConcurrentPositions,
	}, metrics)

	// 8. Executor.
	exec, err := executor.New(executorConfig(cfg), conn, metrics)
	if err != nil {
		log.Fatal().Err(err).Msg("Executor setup failed")
	}
	if exec.DryRun() {
		log.Warn().Msg("Trading DISABLED: dry run, no transactions will be sent")
	} else {
		log.Info().Str("wallet", exec.Wallet().Hex()).Msg("Trading ENABLED")
	}

	// 9. Persistence and record sinks.
	st, err := store.Open(ctx, cfg.Store.Driver, cfg.Store.Path, cfg.Store.DSN)
	if err != nil {
		log.Fatal().Err(err).Str("driver", cfg.Store.Driver).Msg("Position store open failed")
	}

	var producer bus.Producer
	if cfg.Kafka.Enabled {
		kp, err := bus.NewProducer(cfg.Kafka.Brokers,
			bus.WithInstanceID(cfg.General.InstanceID),
			bus.WithSchemaVersion(cfg.Kafka.SchemaVersion),
			bus.WithLinger(time.Duration(cfg.Kafka.LingerMs)*time.Millisecond),
		)
		if err != nil {
			log.Warn().Err(err).Strs("brokers", cfg.Kafka.Brokers).
				Msg("Kafka producer failed (continuing with in-memory trail)")
		} else {
			producer = kp
			log.Info().Strs("brokers", cfg.Kafka.Brokers).Msg("Kafka: producing records")
		}
	}
	if producer == nil {
		producer = bus.NewMemoryProducer()
	}
	trail := records.NewTrail(producer, cfg.Kafka.EventTopic, cfg.Kafka.TradeTopic, trailBuffer)
	sinks := records.MultiSink{records.LogSink{}, trail}

	writerCtx, writerCancel := context.WithCancel(context.Background())
	defer writerCancel()
	var chClient *clickhouse.Client
	var chWriter *clickhouse.BatchWriter
	if cfg.ClickHouse.Enabled {
		chClient, chWriter = openClickHouse(ctx, cfg.ClickHouse)
		if chWriter != nil {
			chWriter.Start(writerCtx)
			sinks = append(sinks, chWriter)
		}
	}

	// 10. Position tracker.
	positions := position.New(positionConfig(cfg.Trading), exec, riskMgr, st, sinks, metrics)
	restored, err := positions.Restore(ctx)
	if err != nil {
		log.Error().Err(err).Msg("Position restore failed (starting empty)")
	} else if restored > 0 {
		log.Info().Int("positions", restored).Msg("Positions restored")
	}

	// 11. Coordinator.
	var scorer coordinator.Scorer
	if cfg.Scoring.Enabled {
		scorer = coordinator.ThresholdScorer{
			MinUniqueBuyers: cfg.Scoring.MinUniqueBuyers,
			MinBuyPressure:  cfg.Scoring.MinBuyPressure,
			MinVolume1m:     cfg.Scoring.MinVolume1mBNB,
			MinTrades:       cfg.Scoring.MinTrades,
		}
	}
	coord := coordinator.New(coordinatorConfig(cfg), tokenFilter, trends, riskMgr, exec, positions, sinks, scorer, metrics)
	coord.Attach(lst)

	// 12. Health checks.
	health := observability.NewHealthMonitor()
	health.Register("rpc", func(context.Context) observability.ComponentHealth {
		s := conn.Stats()
		h := observability.ComponentHealth{Status: observability.StatusHealthy,
			Details: map[string]any{"last_head": s.LastHead, "reconnects": s.Reconnects}}
		switch {
		case !s.Connected:
			h.Status, h.Message = observability.StatusUnhealthy, "disconnected"
		case s.Stalled:
			h.Status, h.Message = observability.StatusDegraded, "no new blocks"
		}
		return h
	})
	health.Register("listener", func(context.Context) observability.ComponentHealth {
		s := lst.Stats()
		h := observability.ComponentHealth{Status: observability.StatusHealthy,
			Details: map[string]any{"last_block": s.LastBlock, "processed": s.Processed}}
		if s.LastBlock == 0 {
			h.Status, h.Message = observability.StatusDegraded, "no blocks scanned yet"
		}
		return h
	})
	health.Register("risk", func(context.Context) observability.ComponentHealth {
		h := observability.ComponentHealth{Status: observability.StatusHealthy}
		switch {
		case riskMgr.IsKilled():
			h.Status, h.Message = observability.StatusDegraded, "kill switch active"
		case riskMgr.IsPaused():
			h.Status, h.Message = observability.StatusDegraded, "paused"
		}
		return h
	})
	if heads != nil {
		health.Register("heads", func(context.Context) observability.ComponentHealth {
			h := observability.ComponentHealth{Status: observability.StatusHealthy}
			if !heads.Stats().Connected {
				h.Status, h.Message = observability.StatusDegraded, "ws feed down"
			}
			return h
		})
	}
	if chWriter != nil {
		health.Register("clickhouse", func(context.Context) observability.ComponentHealth {
			s := chWriter.Stats()
			h := observability.ComponentHealth{Status: observability.StatusHealthy,
				Details: map[string]any{"rows": s.Rows, "errors": s.Errors}}
			if s.Errors > 0 {
				h.Status, h.Message = observability.StatusDegraded, "flush errors"
			}
			return h
		})
	}

	// 13. Signal handling.
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		log.Info().Str("signal", sig.String()).Msg("Received shutdown signal")
		cancel()
	}()

	// 14. Background loops.
	var wg sync.WaitGroup
	listenerDone := make(chan struct{})

	go func() {
		defer close(listenerDone)
		if err := lst.Run(ctx); err != nil {
			log.Error().Err(err).Msg("Listener stopped")
		}
	}()

	run := func(fn func(context.Context)) {
		wg.Add(1)
		go func() {
			defer wg.Done()
			fn(ctx)
		}()
	}
	run(conn.RunHeartbeat)
	if heads != nil {
		run(heads.Run)
	}
	run(coord.RunPriceSync)
	run(coord.RunReconcile)
	run(coord.RunHousekeeping)

	if cfg.Ops.ListenAddr != "" {
		ops := opsapi.New(cfg.Ops.ListenAddr, opsapi.Deps{
			Control:  coord,
			Health:   health,
			Gatherer: reg,
			Stats: func() any {
				return map[string]any{
					"coordinator":   coord.Stats(),
					"positions":     positions.Stats(),
					"risk":          riskMgr.Stats(),
					"filter":        tokenFilter.Stats(),
					"trend":         trends.Stats(),
					"listener":      lst.Stats(),
					"chain":         conn.Stats(),
					"executor":      exec.Stats(),
					"bus":           producerStats(producer),
					"recent_trades": trail.Trades(50),
				}
			},
			Positions: func() any { return positions.Positions() },
		})
		run(func(ctx context.Context) {
			if err := ops.Run(ctx); err != nil {
				log.Error().Err(err).Msg("Ops API stopped")
			}
		})
	}

	// Periodic stats.
	run(func(ctx context.Context) {
		ticker := time.NewTicker(statsInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				logStats(coord, positions, riskMgr, lst, conn)
			}
		}
	})

	log.Info().Str("contract", tokenManager.Hex()).Msg("four.meme hunter - Running")

	// 15. Block until shutdown.
	<-ctx.Done()

	// 16. Graceful shutdown.
	log.Info().Msg("Shutting down hunter...")

	<-listenerDone
	coord.Wait()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), shutdownTimeout)
	if n, err := coord.Liquidate(shutdownCtx); err != nil {
		log.Error().Err(err).Int("closed", n).Msg("Shutdown liquidation incomplete")
	} else if n > 0 {
		log.Info().Int("closed", n).Msg("Positions closed on shutdown")
	}
	shutdownCancel()

	wg.Wait()

	if chWriter != nil {
		writerCancel()
		if err := chWriter.Close(); err != nil {
			log.Warn().Err(err).Msg("ClickHouse writer close failed")
		}
		_ = chClient.Close()
	}
	if n := producer.Flush(5 * time.Second); n != 0 {
		log.Warn().Int("unflushed", n).Msg("Kafka flush incomplete")
	}
	producer.Close()
	if err := st.Close(); err != nil {
		log.Warn().Err(err).Msg("Position store close failed")
	}
	conn.Disconnect()

	// Final stats.
	ps := positions.Stats()
	cs := coord.Stats()
	log.Info().
		Int64("tokens_created", cs.TokensCreated).
		Int64("buys_submitted", cs.BuysSubmitted).
		Int64("closed", ps.Closed).
		Int64("wins", ps.Wins).
		Int64("losses", ps.Losses).
		Float64("win_rate", ps.WinRate).
		Str("realized_pnl", ps.RealizedPnL.StringFixed(6)).
		Str("fees_paid", ps.FeesPaid.StringFixed(6)).
		Msg("four.meme hunter - Final Statistics")

	log.Info().Msg("four.meme hunter - Shutdown complete")
}

func producerStats(p bus.Producer) any {
	if s, ok := p.(interface{ Stats() bus.ProducerStats }); ok {
		return s.Stats()
	}
	return nil
}

func setupLogging(general config.GeneralConfig) {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnixMicro
	level, err := zerolog.ParseLevel(general.LogLevel)
	if err != nil {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)

	if general.LogFormat == "text" {
		log.Logger = zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout}).
			With().Timestamp().Str("service", "fourmeme-hunter").
			Str("instance", general.InstanceID).Logger()
	} else {
		log.Logger = zerolog.New(os.Stdout).
			With().Timestamp().Str("service", "fourmeme-hunter").
			Str("instance", general.InstanceID).Logger()
	}
}

func logStats(coord *coordinator.Coordinator, positions *position.Tracker, rm *risk.Manager, lst *listener.Listener, conn *chain.Manager) {
	cs := coord.Stats()
	ps := positions.Stats()
	rs := rm.Stats()
	ls := lst.Stats()
	log.Info().
		Uint64("last_block", ls.LastBlock).
		Int64("events", ls.Processed).
		Int64("tokens_created", cs.TokensCreated).
		Int64("accepted", cs.Accepted).
		Int64("cluster_signals", cs.Signals).
		Int64("buys", cs.BuysSubmitted).
		Int("candidates", cs.Candidates).
		Int("active", ps.Active).
		Int("pending", ps.Pending).
		Int("daily_trades", rs.DailyTrades).
		Str("daily_invested", rs.DailyInvested).
		Str("realized_pnl", ps.RealizedPnL.StringFixed(6)).
		Str("unrealized_pnl", ps.UnrealizedPnL.StringFixed(6)).
		Bool("rpc_stalled", conn.Stats().Stalled).
		Bool("paused", rs.Paused).
		Msg("[STATS]")
}

func openClickHouse(ctx context.Context, cc config.ClickHouseConfig) (*clickhouse.Client, *clickhouse.BatchWriter) {
	client, err := clickhouse.NewClient(ctx, cc.DSN, clickhouse.Options{
		MaxOpenConns: cc.MaxOpenConns,
		MaxIdleConns: cc.MaxIdleConns,
	})
	if err != nil {
		log.Warn().Err(err).Msg("ClickHouse connect failed (continuing without analytics)")
		return nil, nil
	}
	if err := client.EnsureSchema(ctx, cc.Database); err != nil {
		log.Warn().Err(err).Msg("ClickHouse schema setup failed (continuing without analytics)")
		_ = client.Close()
		return nil, nil
	}
	log.Info().Str("database", cc.Database).Msg("ClickHouse: recording events and trades")
	return client, clickhouse.NewBatchWriter(client, cc.Database, cc.BatchSize, cc.FlushInterval)
}

func hashes(hex []string) []common.Hash {
	out := make([]common.Hash, 0, len(hex))
	for _, h := range hex {
		out = append(out, common.HexToHash(h))
	}
	return out
}

func filterConfig(fc config.FilterConfig) filter.Config {
	return filter.Config{
		MinNameLength:          fc.MinNameLength,
		MaxNameLength:          fc.MaxNameLength,
		MinSymbolLength:        fc.MinSymbolLength,
		MaxSymbolLength:        fc.MaxSymbolLength,
		BlacklistKeywords:      fc.BlacklistKeywords,
		MinSupply:              decimal.NewFromFloat(fc.MinSupply),
		MaxSupply:              decimal.NewFromFloat(fc.MaxSupply),
		MinLiquidity:           decimal.NewFromFloat(fc.MinLiquidityBNB),
		MinLiquidityRatio:      decimal.NewFromFloat(fc.MinLiquidityRatio),
		CheckCreator:           fc.CheckCreator,
		MinCreatorInterval:     fc.MinCreatorInterval,
		MaxTokensPerCreator24h: fc.MaxTokensPerCreator24h,
		MinCreatorTxCount:      fc.MinCreatorTxCount,
		MinCreatorBalance:      decimal.NewFromFloat(fc.MinCreatorBalanceBNB),
	}
}

func executorConfig(cfg *config.Config) executor.Config {
	ec := executor.DefaultConfig()
	t := cfg.Trading
	ec.ChainID = cfg.Chain.ChainID
	ec.PrivateKey = cfg.Chain.PrivateKey
	ec.DryRun = !t.Enabled
	ec.TokenManager = common.HexToAddress(cfg.Contracts.TokenManager)
	ec.Router = common.HexToAddress(cfg.Contracts.Router)
	ec.Helper = common.HexToAddress(cfg.Contracts.Helper)
	ec.SlippagePct = t.SlippagePct
	ec.GasMultiplier = t.GasMultiplier
	ec.GasPriceFloorGwei = t.GasPriceGwei
	ec.GasMarginPct = t.GasMarginPct
	ec.FallbackGasLimit = t.FallbackGasLimit
	ec.ApproveGasLimit = t.ApproveGasLimit
	ec.ReceiptTimeout = t.ReceiptTimeout
	ec.ApprovalSettleDelay = t.ApprovalSettleDelay
	return ec
}

func positionConfig(t config.TradingConfig) position.Config {
	pc := position.DefaultConfig()
	pc.TakeProfitPct = decimal.NewFromFloat(t.TakeProfitPct)
	pc.TakeProfitSellPct = decimal.NewFromFloat(t.TakeProfitSellPct)
	pc.StopLossPct = decimal.NewFromFloat(t.StopLossPct)
	pc.MaxHold = t.MaxHold
	pc.KeepMoonshot = t.KeepMoonshot
	pc.MoonshotProfitPct = decimal.NewFromFloat(t.MoonshotProfitPct)
	pc.MoonshotStopLossPct = decimal.NewFromFloat(t.MoonshotStopLossPct)
	pc.MoonshotMaxHold = t.MoonshotMaxHold
	pc.PendingTimeout = t.PendingTimeout
	pc.SlippagePct = decimal.NewFromFloat(t.SlippagePct)
	pc.GasPerTx = decimal.NewFromFloat(t.GasPerTxBNB)
	pc.SellFeePct = decimal.NewFromFloat(t.SellFeePct)
	return pc
}

func coordinatorConfig(cfg *config.Config) coordinator.Config {
	cc := coordinator.DefaultConfig()
	t := cfg.Trading
	cc.BuyAmount = decimal.NewFromFloat(t.BuyAmountBNB)
	cc.BuyFeePct = decimal.NewFromFloat(t.BuyFeePct)
	cc.ClusterEnabled = t.ClusterEnabled
	cc.MinProbability = cfg.Scoring.MinProbability
	cc.MinPredictedReturn = cfg.Scoring.MinPredictedReturn
	if cfg.Scoring.WatchTTL > 0 {
		cc.WatchTTL = cfg.Scoring.WatchTTL
	}
	cc.PriceSyncInterval = t.PriceSyncInterval
	cc.ReconcileInterval = t.ReconcileInterval
	cc.CheckInterval = t.CheckInterval
	return cc
}
