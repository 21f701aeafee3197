package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// ErrConfiguration marks a configuration that cannot start the hunter.
var ErrConfiguration = errors.New("invalid configuration")

// Config is the root configuration structure for fourmeme-hunter.
type Config struct {
	General    GeneralConfig    `yaml:"general"`
	Chain      ChainConfig      `yaml:"chain"`
	Contracts  ContractsConfig  `yaml:"contracts"`
	Listener   ListenerConfig   `yaml:"listener"`
	Trading    TradingConfig    `yaml:"trading"`
	Risk       RiskConfig       `yaml:"risk"`
	Filter     FilterConfig     `yaml:"filter"`
	Trend      TrendConfig      `yaml:"trend"`
	Scoring    ScoringConfig    `yaml:"scoring"`
	Store      StoreConfig      `yaml:"store"`
	Kafka      KafkaConfig      `yaml:"kafka"`
	ClickHouse ClickHouseConfig `yaml:"clickhouse"`
	Ops        OpsConfig        `yaml:"ops"`
}

type GeneralConfig struct {
	InstanceID string `yaml:"instance_id"`
	LogLevel   string `yaml:"log_level"`
	LogFormat  string `yaml:"log_format"` // json|text
}

type ChainConfig struct {
	RPCURL            string        `yaml:"rpc_url"`
	WSURL             string        `yaml:"ws_url"` // optional newHeads feed
	ChainID           int64         `yaml:"chain_id"`
	PrivateKey        string        `yaml:"private_key"`
	MaxRetryDelay     time.Duration `yaml:"max_retry_delay"`
	HeartbeatInterval time.Duration `yaml:"heartbeat_interval"`
	StallThreshold    time.Duration `yaml:"stall_threshold"`
	ProbeTimeout      time.Duration `yaml:"probe_timeout"`
}

type ContractsConfig struct {
	TokenManager string `yaml:"token_manager"`
	Router       string `yaml:"router"`
	Helper       string `yaml:"helper"`
}

type ListenerConfig struct {
	PollInterval      time.Duration `yaml:"poll_interval"`
	MaxBlockRange     uint64        `yaml:"max_block_range"`
	LookbackBlocks    uint64        `yaml:"lookback_blocks"`
	ErrorDelay        time.Duration `yaml:"error_delay"`
	MaxBackoff        time.Duration `yaml:"max_backoff"`
	DedupSize         int           `yaml:"dedup_size"`
	DrainTimeout      time.Duration `yaml:"drain_timeout"`
	RawPurchaseTopics []string      `yaml:"raw_purchase_topics"`
	RawSaleTopics     []string      `yaml:"raw_sale_topics"`
}

type TradingConfig struct {
	Enabled             bool          `yaml:"enabled"` // false = dry run, no chain writes
	BuyAmountBNB        float64       `yaml:"buy_amount_bnb"`
	SlippagePct         float64       `yaml:"slippage_pct"`
	GasPriceGwei        float64       `yaml:"gas_price_gwei"` // floor, 0 = suggested only
	GasMultiplier       float64       `yaml:"gas_multiplier"`
	GasMarginPct        float64       `yaml:"gas_margin_pct"`
	FallbackGasLimit    uint64        `yaml:"fallback_gas_limit"`
	ApproveGasLimit     uint64        `yaml:"approve_gas_limit"`
	ReceiptTimeout      time.Duration `yaml:"receipt_timeout"`
	ApprovalSettleDelay time.Duration `yaml:"approval_settle_delay"`

	TakeProfitPct       float64       `yaml:"take_profit_pct"`
	TakeProfitSellPct   float64       `yaml:"take_profit_sell_pct"`
	StopLossPct         float64       `yaml:"stop_loss_pct"`
	MaxHold             time.Duration `yaml:"max_hold"`
	KeepMoonshot        bool          `yaml:"keep_moonshot"`
	MoonshotProfitPct   float64       `yaml:"moonshot_profit_pct"`
	MoonshotStopLossPct float64       `yaml:"moonshot_stop_loss_pct"`
	MoonshotMaxHold     time.Duration `yaml:"moonshot_max_hold"`
	PendingTimeout      time.Duration `yaml:"pending_timeout"`
	CheckInterval       time.Duration `yaml:"check_interval"`
	GasPerTxBNB         float64       `yaml:"gas_per_tx_bnb"`
	BuyFeePct           float64       `yaml:"buy_fee_pct"`
	SellFeePct          float64       `yaml:"sell_fee_pct"`

	PriceSyncInterval time.Duration `yaml:"price_sync_interval"`
	ReconcileInterval time.Duration `yaml:"reconcile_interval"`
	ClusterEnabled    bool          `yaml:"cluster_enabled"`
}

type RiskConfig struct {
	MaxDailyTrades         int     `yaml:"max_daily_trades"`
	MaxDailyInvestmentBNB  float64 `yaml:"max_daily_investment_bnb"`
	MaxConcurrentPositions int     `yaml:"max_concurrent_positions"`
}

type FilterConfig struct {
	MinNameLength          int           `yaml:"min_name_length"`
	MaxNameLength          int           `yaml:"max_name_length"`
	MinSymbolLength        int           `yaml:"min_symbol_length"`
	MaxSymbolLength        int           `yaml:"max_symbol_length"`
	BlacklistKeywords      []string      `yaml:"blacklist_keywords"`
	MinSupply              float64       `yaml:"min_supply"`
	MaxSupply              float64       `yaml:"max_supply"`
	MinLiquidityBNB        float64       `yaml:"min_liquidity_bnb"`
	MinLiquidityRatio      float64       `yaml:"min_liquidity_ratio"`
	CheckCreator           bool          `yaml:"check_creator"`
	MinCreatorInterval     time.Duration `yaml:"min_creator_interval"`
	MaxTokensPerCreator24h int           `yaml:"max_tokens_per_creator_24h"`
	ProbeReputation        bool          `yaml:"probe_reputation"`
	MinCreatorTxCount      uint64        `yaml:"min_creator_tx_count"`
	MinCreatorBalanceBNB   float64       `yaml:"min_creator_balance_bnb"`
}

type TrendConfig struct {
	PrefixLength int           `yaml:"prefix_length"`
	Window       time.Duration `yaml:"window"`
	Threshold    int           `yaml:"threshold"`
}

// ScoringConfig gates buys on a per-token score. Without a linked model
// the rule thresholds below feed the built-in ThresholdScorer.
type ScoringConfig struct {
	Enabled            bool          `yaml:"enabled"`
	MinProbability     float64       `yaml:"min_probability"`
	MinPredictedReturn float64       `yaml:"min_predicted_return"`
	WatchTTL           time.Duration `yaml:"watch_ttl"`

	MinUniqueBuyers int     `yaml:"min_unique_buyers"`
	MinBuyPressure  float64 `yaml:"min_buy_pressure"`
	MinVolume1mBNB  float64 `yaml:"min_volume_1m_bnb"`
	MinTrades       int     `yaml:"min_trades"`
}

type StoreConfig struct {
	Driver string `yaml:"driver"` // file|postgres|none
	Path   string `yaml:"path"`
	DSN    string `yaml:"dsn"`
}

type KafkaConfig struct {
	Enabled       bool     `yaml:"enabled"`
	Brokers       []string `yaml:"brokers"`
	SchemaVersion string   `yaml:"schema_version"`
	EventTopic    string   `yaml:"event_topic"`
	TradeTopic    string   `yaml:"trade_topic"`
	LingerMs      int      `yaml:"linger_ms"`
}

type ClickHouseConfig struct {
	Enabled       bool          `yaml:"enabled"`
	DSN           string        `yaml:"dsn"`
	Database      string        `yaml:"database"`
	MaxOpenConns  int           `yaml:"max_open_conns"`
	MaxIdleConns  int           `yaml:"max_idle_conns"`
	BatchSize     int           `yaml:"batch_size"`
	FlushInterval time.Duration `yaml:"flush_interval"`
}

type OpsConfig struct {
	ListenAddr string `yaml:"listen_addr"` // empty disables the ops endpoint
}

// Load reads and parses a YAML configuration file.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}

	// Expand environment variables
	expanded := os.ExpandEnv(string(data))

	cfg := Default()
	if err := yaml.Unmarshal([]byte(expanded), cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	applyDefaults(cfg)

	return cfg, nil
}

// Default returns the configuration used when a key is absent from the file.
// Booleans that default to true are set here, before unmarshalling.
func Default() *Config {
	cfg := &Config{}
	cfg.Trading.KeepMoonshot = true
	cfg.Trading.ClusterEnabled = true
	cfg.Filter.CheckCreator = true
	applyDefaults(cfg)
	return cfg
}

func applyDefaults(cfg *Config) {
	if cfg.General.InstanceID == "" {
		cfg.General.InstanceID = "fourmeme-1"
	}
	if cfg.General.LogLevel == "" {
		cfg.General.LogLevel = "info"
	}
	if cfg.General.LogFormat == "" {
		cfg.General.LogFormat = "json"
	}

	if cfg.Chain.RPCURL == "" {
		cfg.Chain.RPCURL = "https://bsc-dataseed.binance.org/"
	}
	if cfg.Chain.ChainID == 0 {
		cfg.Chain.ChainID = 56
	}
	if cfg.Chain.MaxRetryDelay == 0 {
		cfg.Chain.MaxRetryDelay = 60 * time.Second
	}
	if cfg.Chain.HeartbeatInterval == 0 {
		cfg.Chain.HeartbeatInterval = 60 * time.Second
	}
	if cfg.Chain.StallThreshold == 0 {
		cfg.Chain.StallThreshold = 300 * time.Second
	}
	if cfg.Chain.ProbeTimeout == 0 {
		cfg.Chain.ProbeTimeout = 5 * time.Second
	}

	if cfg.Contracts.TokenManager == "" {
		cfg.Contracts.TokenManager = "0x5c952063c7fc8610FFDB798152D69F0B9550762b"
	}
	if cfg.Contracts.Router == "" {
		cfg.Contracts.Router = "0xc205f591D395d59ad5bcB8bD824d8FA67ab4d15A"
	}
	if cfg.Contracts.Helper == "" {
		cfg.Contracts.Helper = "0xF251F83e40a78868FcfA3FA4599Dad6494E46034"
	}

	if cfg.Listener.PollInterval == 0 {
		cfg.Listener.PollInterval = 3 * time.Second
	}
	if cfg.Listener.MaxBlockRange == 0 {
		cfg.Listener.MaxBlockRange = 50
	}
	if cfg.Listener.ErrorDelay == 0 {
		cfg.Listener.ErrorDelay = 5 * time.Second
	}
	if cfg.Listener.MaxBackoff == 0 {
		cfg.Listener.MaxBackoff = 8 * time.Second
	}
	if cfg.Listener.DedupSize == 0 {
		cfg.Listener.DedupSize = 1000
	}
	if cfg.Listener.DrainTimeout == 0 {
		cfg.Listener.DrainTimeout = 30 * time.Second
	}
	if len(cfg.Listener.RawPurchaseTopics) == 0 {
		cfg.Listener.RawPurchaseTopics = []string{"0x0a5575b3648bae2210cee56bf33254cc1ddfbc7bf637c0af2ac18b14fb1bae19"}
	}

	t := &cfg.Trading
	if t.BuyAmountBNB == 0 {
		t.BuyAmountBNB = 0.05
	}
	if t.SlippagePct == 0 {
		t.SlippagePct = 15
	}
	if t.GasMultiplier == 0 {
		t.GasMultiplier = 1.3
	}
	if t.GasMarginPct == 0 {
		t.GasMarginPct = 20
	}
	if t.FallbackGasLimit == 0 {
		t.FallbackGasLimit = 500000
	}
	if t.ApproveGasLimit == 0 {
		t.ApproveGasLimit = 100000
	}
	if t.ReceiptTimeout == 0 {
		t.ReceiptTimeout = 30 * time.Second
	}
	if t.ApprovalSettleDelay == 0 {
		t.ApprovalSettleDelay = 3 * time.Second
	}
	if t.TakeProfitPct == 0 {
		t.TakeProfitPct = 200
	}
	if t.TakeProfitSellPct == 0 {
		t.TakeProfitSellPct = 90
	}
	if t.StopLossPct == 0 {
		t.StopLossPct = -50
	}
	if t.MaxHold == 0 {
		t.MaxHold = 300 * time.Second
	}
	if t.MoonshotProfitPct == 0 {
		t.MoonshotProfitPct = 500
	}
	if t.MoonshotStopLossPct == 0 {
		t.MoonshotStopLossPct = -30
	}
	if t.MoonshotMaxHold == 0 {
		t.MoonshotMaxHold = 24 * time.Hour
	}
	if t.PendingTimeout == 0 {
		t.PendingTimeout = t.MaxHold
	}
	if t.CheckInterval == 0 {
		t.CheckInterval = 10 * time.Second
	}
	if t.GasPerTxBNB == 0 {
		t.GasPerTxBNB = 0.0015
	}
	if t.BuyFeePct == 0 {
		t.BuyFeePct = 1
	}
	if t.SellFeePct == 0 {
		t.SellFeePct = 1
	}
	if t.PriceSyncInterval == 0 {
		t.PriceSyncInterval = 5 * time.Second
	}
	if t.ReconcileInterval == 0 {
		t.ReconcileInterval = 60 * time.Second
	}

	if cfg.Risk.MaxDailyTrades == 0 {
		cfg.Risk.MaxDailyTrades = 10
	}
	if cfg.Risk.MaxDailyInvestmentBNB == 0 {
		cfg.Risk.MaxDailyInvestmentBNB = 0.5
	}
	if cfg.Risk.MaxConcurrentPositions == 0 {
		cfg.Risk.MaxConcurrentPositions = 3
	}

	f := &cfg.Filter
	if f.MinNameLength == 0 {
		f.MinNameLength = 1
	}
	if f.MaxNameLength == 0 {
		f.MaxNameLength = 50
	}
	if f.MinSymbolLength == 0 {
		f.MinSymbolLength = 1
	}
	if f.MaxSymbolLength == 0 {
		f.MaxSymbolLength = 20
	}
	if f.BlacklistKeywords == nil {
		f.BlacklistKeywords = []string{"scam", "rug", "test"}
	}
	if f.MinSupply == 0 {
		f.MinSupply = 1e6
	}
	if f.MaxSupply == 0 {
		f.MaxSupply = 1e15
	}
	if f.MinLiquidityBNB == 0 {
		f.MinLiquidityBNB = 0.01
	}
	if f.MinCreatorInterval == 0 {
		f.MinCreatorInterval = 5 * time.Minute
	}
	if f.MaxTokensPerCreator24h == 0 {
		f.MaxTokensPerCreator24h = 3
	}
	if f.MinCreatorTxCount == 0 {
		f.MinCreatorTxCount = 1
	}
	if f.MinCreatorBalanceBNB == 0 {
		f.MinCreatorBalanceBNB = 0.01
	}

	if cfg.Trend.PrefixLength == 0 {
		cfg.Trend.PrefixLength = 4
	}
	if cfg.Trend.Window == 0 {
		cfg.Trend.Window = 5 * time.Minute
	}
	if cfg.Trend.Threshold == 0 {
		cfg.Trend.Threshold = 3
	}

	if cfg.Scoring.MinProbability == 0 {
		cfg.Scoring.MinProbability = 0.84
	}
	if cfg.Scoring.MinPredictedReturn == 0 {
		cfg.Scoring.MinPredictedReturn = 50
	}
	if cfg.Scoring.WatchTTL == 0 {
		cfg.Scoring.WatchTTL = 10 * time.Minute
	}
	if cfg.Scoring.MinUniqueBuyers == 0 {
		cfg.Scoring.MinUniqueBuyers = 5
	}
	if cfg.Scoring.MinBuyPressure == 0 {
		cfg.Scoring.MinBuyPressure = 0.6
	}
	if cfg.Scoring.MinVolume1mBNB == 0 {
		cfg.Scoring.MinVolume1mBNB = 1
	}
	if cfg.Scoring.MinTrades == 0 {
		cfg.Scoring.MinTrades = 10
	}

	if cfg.Store.Driver == "" {
		cfg.Store.Driver = "file"
	}
	if cfg.Store.Path == "" {
		cfg.Store.Path = "data/positions.gob"
	}

	if len(cfg.Kafka.Brokers) == 0 {
		cfg.Kafka.Brokers = []string{"localhost:9092"}
	}
	if cfg.Kafka.SchemaVersion == "" {
		cfg.Kafka.SchemaVersion = "1"
	}
	if cfg.Kafka.EventTopic == "" {
		cfg.Kafka.EventTopic = "fourmeme.events"
	}
	if cfg.Kafka.TradeTopic == "" {
		cfg.Kafka.TradeTopic = "fourmeme.trades"
	}
	if cfg.Kafka.LingerMs == 0 {
		cfg.Kafka.LingerMs = 5
	}

	if cfg.ClickHouse.DSN == "" {
		cfg.ClickHouse.DSN = "clickhouse://localhost:9000/fourmeme"
	}
	if cfg.ClickHouse.Database == "" {
		cfg.ClickHouse.Database = "fourmeme"
	}
	if cfg.ClickHouse.MaxOpenConns == 0 {
		cfg.ClickHouse.MaxOpenConns = 10
	}
	if cfg.ClickHouse.MaxIdleConns == 0 {
		cfg.ClickHouse.MaxIdleConns = 5
	}
	if cfg.ClickHouse.BatchSize == 0 {
		cfg.ClickHouse.BatchSize = 500
	}
	if cfg.ClickHouse.FlushInterval == 0 {
		cfg.ClickHouse.FlushInterval = 2 * time.Second
	}
}

// Validate checks the settings that must be right before anything connects.
func (c *Config) Validate() error {
	var problems []string

	if c.Trading.Enabled && c.Chain.PrivateKey == "" {
		problems = append(problems, "trading.enabled requires chain.private_key (PRIVATE_KEY)")
	}
	if c.Trading.BuyAmountBNB <= 0 {
		problems = append(problems, "trading.buy_amount_bnb must be > 0")
	}
	if c.Trading.StopLossPct >= 0 {
		problems = append(problems, "trading.stop_loss_pct must be negative")
	}
	if c.Trading.TakeProfitPct <= 0 {
		problems = append(problems, "trading.take_profit_pct must be positive")
	}
	if c.Trading.TakeProfitSellPct <= 0 || c.Trading.TakeProfitSellPct > 100 {
		problems = append(problems, "trading.take_profit_sell_pct must be in (0, 100]")
	}
	if c.Listener.MaxBlockRange == 0 {
		problems = append(problems, "listener.max_block_range must be > 0")
	}
	switch c.Store.Driver {
	case "file", "none":
	case "postgres":
		if c.Store.DSN == "" {
			problems = append(problems, "store.dsn required for postgres driver")
		}
	default:
		problems = append(problems, fmt.Sprintf("store.driver %q unknown", c.Store.Driver))
	}

	if len(problems) > 0 {
		return fmt.Errorf("%w: %s", ErrConfiguration, strings.Join(problems, "; "))
	}
	return nil
}
