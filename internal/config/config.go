package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"
)

// Config application configuration
type Config struct {
	Server   ServerConfig           `yaml:"server"`
	Database DatabaseConfig         `yaml:"database"`
	NATS     NATSConfig             `yaml:"nats"`
	Chains   map[string]ChainConfig `yaml:"chains"` // keyed by chain name (ethereum, bsc, solana)
	Pairs    []ChainPairConfig      `yaml:"supportedPairs"`
	Quotes   QuoteConfig            `yaml:"quotes"`
	Risk     RiskConfig             `yaml:"risk"`
	Auth     AuthConfig             `yaml:"auth"`
	Admin    AdminConfig            `yaml:"admin"`
	CORS     CORSConfig             `yaml:"cors"`
}

// ServerConfig HTTP server configuration
type ServerConfig struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`
}

// DatabaseConfig database configuration
type DatabaseConfig struct {
	DSN    string `yaml:"dsn"`
	Driver string `yaml:"driver"`
}

// NATSConfig event transport configuration
type NATSConfig struct {
	URL           string `yaml:"url"`
	Timeout       int    `yaml:"timeout"` // seconds
	ReconnectWait int    `yaml:"reconnectWait"`
	MaxReconnects int    `yaml:"maxReconnects"`
	Enabled       bool   `yaml:"enabled"`
}

// ChainConfig per-chain settings
type ChainConfig struct {
	RPCEndpoints    []string               `yaml:"rpcEndpoints"`
	TreasuryAddress string                 `yaml:"treasuryAddress"`
	DailyLimit      string                 `yaml:"dailyLimit"` // decimal string, native asset units
	Assets          []string               `yaml:"assets"`
	Tokens          map[string]TokenConfig `yaml:"tokens"` // keyed by asset symbol
	Enabled         bool                   `yaml:"enabled"`
}

// TokenConfig locates an asset on its chain: the ERC-20 contract address
// (EVM) or token account/mint (solana), and the token's decimal precision.
type TokenConfig struct {
	Address  string `yaml:"address"`
	Decimals int32  `yaml:"decimals"`
}

// ChainPairConfig one enabled (funding, execution) pair
type ChainPairConfig struct {
	Funding   string `yaml:"funding"`
	Execution string `yaml:"execution"`
}

// QuoteConfig quote pricing and lifetime parameters
type QuoteConfig struct {
	TTLMinutes         int    `yaml:"ttlMinutes"`         // quote validity window, default 10
	ApprovalTTLMinutes int    `yaml:"approvalTTLMinutes"` // approval validity window, default 5
	ServiceFeeRate     string `yaml:"serviceFeeRate"`     // decimal string, e.g. "0.003"
	SweepInterval      int    `yaml:"sweepInterval"`      // expiry sweep interval, seconds
}

// RiskConfig risk controller parameters
type RiskConfig struct {
	HourlyOutflowFraction string `yaml:"hourlyOutflowFraction"` // max single-tx fraction of treasury balance
	MaxExecutionRetries   int    `yaml:"maxExecutionRetries"`
	BreakerFailureWindow  int    `yaml:"breakerFailureWindow"` // consecutive execution failures before auto trip
	CheckWalletBalance    bool   `yaml:"checkWalletBalance"`   // enable the on-chain balance policy check
}

// AuthConfig JWT settings
type AuthConfig struct {
	JWTSecret     string `yaml:"jwtSecret"`
	TokenTTLHours int    `yaml:"tokenTTLHours"`
}

// AdminConfig admin API access control
type AdminConfig struct {
	AllowedIPs []string `yaml:"allowedIPs"`
}

// CORSConfig CORS settings
type CORSConfig struct {
	AllowedOrigins   []string `yaml:"allowedOrigins"`
	AllowCredentials bool     `yaml:"allowCredentials"`
	MaxAge           int      `yaml:"maxAge"`
}

var AppConfig *Config

// LoadConfig reads the YAML configuration file and applies environment
// overrides. Environment variables win over file values.
func LoadConfig(configPath string) error {
	if configPath == "" {
		configPath = "config.yaml"
		if _, err := os.Stat("config.local.yaml"); err == nil {
			configPath = "config.local.yaml"
		}
	}

	data, err := os.ReadFile(configPath)
	if err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}

	var config Config
	if err := yaml.Unmarshal(data, &config); err != nil {
		return fmt.Errorf("failed to parse config file: %w", err)
	}

	overrideFromEnv(&config)
	applyDefaults(&config)

	if err := validate(&config); err != nil {
		return err
	}

	AppConfig = &config
	return nil
}

func applyDefaults(config *Config) {
	if config.Quotes.TTLMinutes <= 0 {
		config.Quotes.TTLMinutes = 10
	}
	if config.Quotes.ApprovalTTLMinutes <= 0 {
		config.Quotes.ApprovalTTLMinutes = 5
	}
	if config.Quotes.ServiceFeeRate == "" {
		config.Quotes.ServiceFeeRate = "0.003"
	}
	if config.Quotes.SweepInterval <= 0 {
		config.Quotes.SweepInterval = 60
	}
	if config.Risk.HourlyOutflowFraction == "" {
		config.Risk.HourlyOutflowFraction = "0.1"
	}
	if config.Risk.MaxExecutionRetries <= 0 {
		config.Risk.MaxExecutionRetries = 3
	}
	if config.Risk.BreakerFailureWindow <= 0 {
		config.Risk.BreakerFailureWindow = 5
	}
	if config.Auth.TokenTTLHours <= 0 {
		config.Auth.TokenTTLHours = 24
	}
	if config.NATS.Timeout <= 0 {
		config.NATS.Timeout = 10
	}
	if config.NATS.ReconnectWait <= 0 {
		config.NATS.ReconnectWait = 5
	}
}

func validate(config *Config) error {
	if _, err := decimal.NewFromString(config.Quotes.ServiceFeeRate); err != nil {
		return fmt.Errorf("invalid serviceFeeRate %q: %w", config.Quotes.ServiceFeeRate, err)
	}
	if _, err := decimal.NewFromString(config.Risk.HourlyOutflowFraction); err != nil {
		return fmt.Errorf("invalid hourlyOutflowFraction %q: %w", config.Risk.HourlyOutflowFraction, err)
	}
	for name, chain := range config.Chains {
		if !chain.Enabled {
			continue
		}
		if chain.DailyLimit != "" {
			if _, err := decimal.NewFromString(chain.DailyLimit); err != nil {
				return fmt.Errorf("invalid dailyLimit for chain %s: %w", name, err)
			}
		}
	}
	return nil
}

func overrideFromEnv(config *Config) {
	if dsn := os.Getenv("DATABASE_DSN"); dsn != "" {
		config.Database.DSN = dsn
	}
	if host := os.Getenv("SERVER_HOST"); host != "" {
		config.Server.Host = host
	}
	if port := os.Getenv("SERVER_PORT"); port != "" {
		if p, err := strconv.Atoi(port); err == nil {
			config.Server.Port = p
		}
	}
	if natsURL := os.Getenv("NATS_URL"); natsURL != "" {
		config.NATS.URL = natsURL
		config.NATS.Enabled = true
	}
	if secret := os.Getenv("JWT_SECRET"); secret != "" {
		config.Auth.JWTSecret = secret
	}
	if feeRate := os.Getenv("SERVICE_FEE_RATE"); feeRate != "" {
		config.Quotes.ServiceFeeRate = feeRate
	}
	if ttl := os.Getenv("QUOTE_TTL_MINUTES"); ttl != "" {
		if v, err := strconv.Atoi(ttl); err == nil {
			config.Quotes.TTLMinutes = v
		}
	}
	if corsOrigins := os.Getenv("CORS_ALLOWED_ORIGINS"); corsOrigins != "" {
		origins := strings.Split(corsOrigins, ",")
		config.CORS.AllowedOrigins = config.CORS.AllowedOrigins[:0]
		for _, origin := range origins {
			if trimmed := strings.TrimSpace(origin); trimmed != "" {
				config.CORS.AllowedOrigins = append(config.CORS.AllowedOrigins, trimmed)
			}
		}
	}

	// Per-chain overrides, e.g. ETHEREUM_RPC_ENDPOINTS, BSC_DAILY_LIMIT.
	for name, chain := range config.Chains {
		upper := strings.ToUpper(name)
		if rpc := os.Getenv(upper + "_RPC_ENDPOINTS"); rpc != "" {
			chain.RPCEndpoints = strings.Split(rpc, ",")
		}
		if treasury := os.Getenv(upper + "_TREASURY_ADDRESS"); treasury != "" {
			chain.TreasuryAddress = treasury
		}
		if limit := os.Getenv(upper + "_DAILY_LIMIT"); limit != "" {
			chain.DailyLimit = limit
		}
		config.Chains[name] = chain
	}
}

// ServiceFeeRate returns the configured fee rate as a decimal.
// Validated at load time, so a zero value only occurs before LoadConfig.
func (c *Config) ServiceFeeRate() decimal.Decimal {
	rate, err := decimal.NewFromString(c.Quotes.ServiceFeeRate)
	if err != nil {
		return decimal.Zero
	}
	return rate
}

// HourlyOutflowFraction returns the single-transaction treasury fraction cap.
func (c *Config) HourlyOutflowFraction() decimal.Decimal {
	f, err := decimal.NewFromString(c.Risk.HourlyOutflowFraction)
	if err != nil {
		return decimal.Zero
	}
	return f
}

// DailyLimit returns the configured daily outflow limit for a chain,
// or zero when unlimited.
func (c *Config) DailyLimit(chain string) decimal.Decimal {
	cc, ok := c.Chains[chain]
	if !ok || cc.DailyLimit == "" {
		return decimal.Zero
	}
	limit, err := decimal.NewFromString(cc.DailyLimit)
	if err != nil {
		return decimal.Zero
	}
	return limit
}

// QuoteTTL returns the quote validity window.
func (c *Config) QuoteTTL() time.Duration {
	return time.Duration(c.Quotes.TTLMinutes) * time.Minute
}

// ApprovalTTL returns the approval validity window.
func (c *Config) ApprovalTTL() time.Duration {
	return time.Duration(c.Quotes.ApprovalTTLMinutes) * time.Minute
}

// ChainRPC returns the first configured RPC endpoint for a chain.
func (c *Config) ChainRPC(chain string) string {
	cc, ok := c.Chains[chain]
	if !ok || len(cc.RPCEndpoints) == 0 {
		return ""
	}
	return cc.RPCEndpoints[0]
}

// TreasuryAddress returns the treasury receiving address on a chain.
func (c *Config) TreasuryAddress(chain string) string {
	cc, ok := c.Chains[chain]
	if !ok {
		return ""
	}
	return cc.TreasuryAddress
}
