package config

import (
	"bytes"
	"errors"
	"fmt"
	"math/big"
	"os"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/kelseyhightower/envconfig"
	"github.com/sirupsen/logrus"
	"gopkg.in/yaml.v3"
)

var (
	ErrUnknownChain   = errors.New("unknown chain")
	ErrMissingSection = errors.New("missing config section")
	ErrDuplicateToken = errors.New("duplicate token config")
	ErrInvalidStorage = errors.New("invalid storage kind")
)

const (
	StoragePostgres = "postgres"
	StorageMemory   = "memory"
)

type RPCConfig struct {
	Host    string        `yaml:"host"`
	Timeout time.Duration `yaml:"timeout"`
}

type ChainConfig struct {
	RPC           *RPCConfig `yaml:"rpc"`
	ChainID       string     `yaml:"chain_id"`
	ExplorerTxURL string     `yaml:"explorer_tx_url"`
}

// BridgeFeeConfig holds the parameters forwarded to the bridge for one asset kind.
type BridgeFeeConfig struct {
	MintValue  *big.Int `yaml:"mint_value"`
	L2GasLimit uint64   `yaml:"l2_gas_limit"`
}

type OriginConfig struct {
	ChainName          string           `yaml:"chain"`
	Chain              *ChainConfig     `yaml:"-"`
	ForwarderFactory   common.Address   `yaml:"forwarder_factory"`
	Bridgehub          common.Address   `yaml:"bridgehub"`
	AssetRouter        common.Address   `yaml:"asset_router"`
	NativeTokenVault   common.Address   `yaml:"native_token_vault"`
	RefundRecipient    *common.Address  `yaml:"refund_recipient"`
	PollInterval       time.Duration    `yaml:"poll_interval"`
	BatchSize          uint64           `yaml:"batch_size"`
	SweepAttempts      uint             `yaml:"sweep_attempts"`
	GasPerPubdata      uint64           `yaml:"gas_per_pubdata"`
	Native             *BridgeFeeConfig `yaml:"native"`
	Token              *BridgeFeeConfig `yaml:"token"`
	AutoRegisterTokens bool             `yaml:"auto_register_tokens"`
}

// AuthProxyConfig describes the privileged destination endpoint that requires a signed-in session.
type AuthProxyConfig struct {
	URL                   string        `yaml:"url"`
	Timeout               time.Duration `yaml:"timeout"`
	AuthorizeTransactions bool          `yaml:"authorize_transactions"`
	SIWEDomain            string        `yaml:"siwe_domain"`
	SIWEURI               string        `yaml:"siwe_uri"`
	SIWEStatement         string        `yaml:"siwe_statement"`
}

type DestinationConfig struct {
	ChainName         string           `yaml:"chain"`
	Chain             *ChainConfig     `yaml:"-"`
	VaultFactory      common.Address   `yaml:"vault_factory"`
	RelayHop          bool             `yaml:"relay_hop"`
	PollInterval      time.Duration    `yaml:"poll_interval"`
	ReconcileInterval time.Duration    `yaml:"reconcile_interval"`
	BatchSize         uint64           `yaml:"batch_size"`
	AuthProxy         *AuthProxyConfig `yaml:"auth_proxy"`
}

type TokenConfig struct {
	Symbol             string         `yaml:"symbol"`
	OriginAddress      common.Address `yaml:"origin_address"`
	AssetID            *common.Hash   `yaml:"asset_id"`
	DestinationAddress common.Address `yaml:"destination_address"`
}

type RetryConfig struct {
	BaseDelay   time.Duration `yaml:"base_delay"`
	MaxDelay    time.Duration `yaml:"max_delay"`
	MaxAttempts uint          `yaml:"max_attempts"`
	AuthDelay   time.Duration `yaml:"auth_delay"`
}

type DBConfig struct {
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	DB       string `yaml:"database"`
}

type NATSConfig struct {
	URL     string `yaml:"url"`
	Subject string `yaml:"subject"`
}

type ResolverConfig struct {
	Host      string `yaml:"host"`
	JWTIssuer string `yaml:"jwt_issuer"`
	Throttle  int    `yaml:"throttle"`
}

// Secrets are never read from the yaml file.
type Secrets struct {
	OriginPrivateKey      string `envconfig:"L1_PRIVATE_KEY"`
	DestinationPrivateKey string `envconfig:"L2_PRIVATE_KEY"`
	JWTSecret             string `envconfig:"JWT_SECRET"`
}

type Config struct {
	Chains      map[string]*ChainConfig `yaml:"chains"`
	Origin      *OriginConfig           `yaml:"origin"`
	Destination *DestinationConfig      `yaml:"destination"`
	Tokens      []*TokenConfig          `yaml:"tokens"`
	Retry       *RetryConfig            `yaml:"retry"`
	LockTTL     time.Duration           `yaml:"lock_ttl"`
	Storage     string                  `yaml:"storage"`
	DBConfig    *DBConfig               `yaml:"postgres"`
	NATS        *NATSConfig             `yaml:"nats"`
	Resolver    *ResolverConfig         `yaml:"resolver"`
	MetricsHost string                  `yaml:"metrics_host"`
	LogLevel    logrus.Level            `yaml:"log_level"`
	Secrets     Secrets                 `yaml:"-"`
}

func ReadConfigFromFile(path string) (*Config, error) {
	blob, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("can't access config file: %w", err)
	}
	return ReadConfigWithEnv(blob)
}

// ReadConfigWithEnv expands ${VAR} references and loads RELAYER_* secrets from the environment.
func ReadConfigWithEnv(blob []byte) (*Config, error) {
	cfg, err := ReadConfig([]byte(os.ExpandEnv(string(blob))))
	if err != nil {
		return nil, err
	}
	if err = envconfig.Process("relayer", &cfg.Secrets); err != nil {
		return nil, fmt.Errorf("can't read secrets from env: %w", err)
	}
	return cfg, nil
}

func ReadConfig(blob []byte) (*Config, error) {
	cfg := new(Config)
	if err := parseYaml(cfg, blob); err != nil {
		return nil, err
	}
	if err := cfg.init(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func parseYaml(out interface{}, blob []byte) error {
	dec := yaml.NewDecoder(bytes.NewReader(blob))
	dec.KnownFields(true)
	if err := dec.Decode(out); err != nil {
		return fmt.Errorf("can't parse yaml: %w", err)
	}
	return nil
}

func (cfg *Config) init() error {
	if cfg.Origin == nil {
		return fmt.Errorf("origin: %w", ErrMissingSection)
	}
	if cfg.Destination == nil {
		return fmt.Errorf("destination: %w", ErrMissingSection)
	}
	var ok bool
	if cfg.Origin.Chain, ok = cfg.Chains[cfg.Origin.ChainName]; !ok {
		return fmt.Errorf("origin chain %q: %w", cfg.Origin.ChainName, ErrUnknownChain)
	}
	if cfg.Destination.Chain, ok = cfg.Chains[cfg.Destination.ChainName]; !ok {
		return fmt.Errorf("destination chain %q: %w", cfg.Destination.ChainName, ErrUnknownChain)
	}
	for _, chain := range cfg.Chains {
		if chain.RPC != nil && chain.RPC.Timeout == 0 {
			chain.RPC.Timeout = 30 * time.Second
		}
	}

	cfg.Origin.setDefaults()
	cfg.Destination.setDefaults()

	seen := make(map[common.Address]bool, len(cfg.Tokens))
	for _, token := range cfg.Tokens {
		if seen[token.OriginAddress] {
			return fmt.Errorf("token %s: %w", token.OriginAddress, ErrDuplicateToken)
		}
		seen[token.OriginAddress] = true
	}

	if cfg.Retry == nil {
		cfg.Retry = new(RetryConfig)
	}
	cfg.Retry.setDefaults()
	if cfg.LockTTL == 0 {
		cfg.LockTTL = 10 * time.Minute
	}
	switch cfg.Storage {
	case "":
		cfg.Storage = StoragePostgres
	case StoragePostgres, StorageMemory:
	default:
		return fmt.Errorf("storage %q: %w", cfg.Storage, ErrInvalidStorage)
	}
	if cfg.Storage == StoragePostgres && cfg.DBConfig == nil {
		return fmt.Errorf("postgres: %w", ErrMissingSection)
	}
	if cfg.MetricsHost == "" {
		cfg.MetricsHost = ":2112"
	}
	if cfg.NATS != nil && cfg.NATS.Subject == "" {
		cfg.NATS.Subject = "relayer.deposits"
	}
	if cfg.Resolver != nil && cfg.Resolver.Throttle == 0 {
		cfg.Resolver.Throttle = 20
	}
	return nil
}

func (cfg *OriginConfig) setDefaults() {
	if cfg.PollInterval == 0 {
		cfg.PollInterval = 7 * time.Second
	}
	if cfg.BatchSize == 0 {
		cfg.BatchSize = 20
	}
	if cfg.SweepAttempts == 0 {
		cfg.SweepAttempts = 3
	}
	if cfg.GasPerPubdata == 0 {
		cfg.GasPerPubdata = 800
	}
	if cfg.Native == nil {
		cfg.Native = new(BridgeFeeConfig)
	}
	if cfg.Native.MintValue == nil {
		cfg.Native.MintValue = big.NewInt(2e15)
	}
	if cfg.Native.L2GasLimit == 0 {
		cfg.Native.L2GasLimit = 700_000
	}
	if cfg.Token == nil {
		cfg.Token = new(BridgeFeeConfig)
	}
	if cfg.Token.MintValue == nil {
		cfg.Token.MintValue = big.NewInt(3e15)
	}
	if cfg.Token.L2GasLimit == 0 {
		cfg.Token.L2GasLimit = 1_200_000
	}
}

func (cfg *DestinationConfig) setDefaults() {
	if cfg.PollInterval == 0 {
		cfg.PollInterval = 7 * time.Second
	}
	if cfg.ReconcileInterval == 0 {
		cfg.ReconcileInterval = 5 * time.Minute
	}
	if cfg.BatchSize == 0 {
		cfg.BatchSize = 20
	}
	if cfg.AuthProxy != nil && cfg.AuthProxy.Timeout == 0 {
		cfg.AuthProxy.Timeout = 10 * time.Second
	}
}

func (cfg *RetryConfig) setDefaults() {
	if cfg.BaseDelay == 0 {
		cfg.BaseDelay = 10 * time.Second
	}
	if cfg.MaxDelay == 0 {
		cfg.MaxDelay = 10 * time.Minute
	}
	if cfg.MaxAttempts == 0 {
		cfg.MaxAttempts = 5
	}
	if cfg.AuthDelay == 0 {
		cfg.AuthDelay = 15 * time.Second
	}
}

// TokenByOrigin returns the allow-list entry for the given origin token.
func (cfg *Config) TokenByOrigin(addr common.Address) *TokenConfig {
	for _, token := range cfg.Tokens {
		if token.OriginAddress == addr {
			return token
		}
	}
	return nil
}
