package config_test

import (
	"math/big"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"

	"github.com/omni/alias-relay/config"
)

const testCfg = `
chains:
  sepolia:
    rpc:
      host: https://sepolia.infura.io/v3/${INFURA_PROJECT_KEY}
      timeout: 20s
    chain_id: 11155111
    explorer_tx_url: https://sepolia.etherscan.io/tx/%s
  prividium:
    rpc:
      host: https://proxy.prividium.example/rpc
    chain_id: 324
origin:
  chain: sepolia
  forwarder_factory: 0x7301CFA0e1756B71869E93d4e4Dca5c7d0eb0AA6
  bridgehub: 0xB289f0e6fBDFf8EEE340498a56e1787B303F1B6D
  asset_router: 0x4aa42145Aa6Ebf72e164C9bBC74fbD3788045016
  native_token_vault: 0xe1579dEbdD2DF16Ebdb9db8694391fa74EeA201E
  poll_interval: 5s
  token:
    mint_value: 4000000000000000
destination:
  chain: prividium
  vault_factory: 0x75Df5AF045d91108662D8080fD1FEFAd6aA0bb59
  relay_hop: true
  auth_proxy:
    url: https://proxy.prividium.example
    authorize_transactions: true
    siwe_domain: relayer.example
tokens:
  - symbol: USDC
    origin_address: 0x89d24A6b4CcB1B6fAA2625fE562bDD9a23260359
    destination_address: 0x6B175474E89094C44Da98b954EedeAC495271d0F
retry:
  max_attempts: 7
postgres:
  user: test_user
  password: test_password
  host: test_host
  port: 5432
  database: test_db
log_level: debug
resolver:
  host: 0.0.0.0:3333
  jwt_issuer: prividium
`

//nolint:paralleltest
func TestReadConfigWithEnv(t *testing.T) {
	t.Setenv("INFURA_PROJECT_KEY", "12345678")
	t.Setenv("RELAYER_L1_PRIVATE_KEY", "0xabc")
	t.Setenv("RELAYER_JWT_SECRET", "secret")
	cfg, err := config.ReadConfigWithEnv([]byte(testCfg))
	require.NoError(t, err)

	sepolia := &config.ChainConfig{
		RPC: &config.RPCConfig{
			Host:    "https://sepolia.infura.io/v3/12345678",
			Timeout: 20 * time.Second,
		},
		ChainID:       "11155111",
		ExplorerTxURL: "https://sepolia.etherscan.io/tx/%s",
	}
	prividium := &config.ChainConfig{
		RPC: &config.RPCConfig{
			Host:    "https://proxy.prividium.example/rpc",
			Timeout: 30 * time.Second,
		},
		ChainID: "324",
	}
	require.Equal(t, &config.Config{
		Chains: map[string]*config.ChainConfig{
			"sepolia":   sepolia,
			"prividium": prividium,
		},
		Origin: &config.OriginConfig{
			ChainName:        "sepolia",
			Chain:            sepolia,
			ForwarderFactory: common.HexToAddress("0x7301CFA0e1756B71869E93d4e4Dca5c7d0eb0AA6"),
			Bridgehub:        common.HexToAddress("0xB289f0e6fBDFf8EEE340498a56e1787B303F1B6D"),
			AssetRouter:      common.HexToAddress("0x4aa42145Aa6Ebf72e164C9bBC74fbD3788045016"),
			NativeTokenVault: common.HexToAddress("0xe1579dEbdD2DF16Ebdb9db8694391fa74EeA201E"),
			PollInterval:     5 * time.Second,
			BatchSize:        20,
			SweepAttempts:    3,
			GasPerPubdata:    800,
			Native: &config.BridgeFeeConfig{
				MintValue:  big.NewInt(2e15),
				L2GasLimit: 700_000,
			},
			Token: &config.BridgeFeeConfig{
				MintValue:  big.NewInt(4e15),
				L2GasLimit: 1_200_000,
			},
		},
		Destination: &config.DestinationConfig{
			ChainName:         "prividium",
			Chain:             prividium,
			VaultFactory:      common.HexToAddress("0x75Df5AF045d91108662D8080fD1FEFAd6aA0bb59"),
			RelayHop:          true,
			PollInterval:      7 * time.Second,
			ReconcileInterval: 5 * time.Minute,
			BatchSize:         20,
			AuthProxy: &config.AuthProxyConfig{
				URL:                   "https://proxy.prividium.example",
				Timeout:               10 * time.Second,
				AuthorizeTransactions: true,
				SIWEDomain:            "relayer.example",
			},
		},
		Tokens: []*config.TokenConfig{
			{
				Symbol:             "USDC",
				OriginAddress:      common.HexToAddress("0x89d24A6b4CcB1B6fAA2625fE562bDD9a23260359"),
				DestinationAddress: common.HexToAddress("0x6B175474E89094C44Da98b954EedeAC495271d0F"),
			},
		},
		Retry: &config.RetryConfig{
			BaseDelay:   10 * time.Second,
			MaxDelay:    10 * time.Minute,
			MaxAttempts: 7,
			AuthDelay:   15 * time.Second,
		},
		LockTTL: 10 * time.Minute,
		Storage: config.StoragePostgres,
		DBConfig: &config.DBConfig{
			User:     "test_user",
			Password: "test_password",
			Host:     "test_host",
			Port:     5432,
			DB:       "test_db",
		},
		Resolver: &config.ResolverConfig{
			Host:      "0.0.0.0:3333",
			JWTIssuer: "prividium",
			Throttle:  20,
		},
		MetricsHost: ":2112",
		LogLevel:    logrus.DebugLevel,
		Secrets: config.Secrets{
			OriginPrivateKey: "0xabc",
			JWTSecret:        "secret",
		},
	}, cfg)
}

func TestReadConfig_Errors(t *testing.T) {
	t.Parallel()

	for _, tc := range []struct {
		name string
		blob string
		err  error
	}{
		{
			name: "missing destination",
			blob: "chains: {a: {chain_id: 1}}\norigin: {chain: a}\n",
			err:  config.ErrMissingSection,
		},
		{
			name: "unknown chain",
			blob: "chains: {a: {chain_id: 1}}\norigin: {chain: a}\ndestination: {chain: b}\n",
			err:  config.ErrUnknownChain,
		},
		{
			name: "invalid storage",
			blob: "chains: {a: {chain_id: 1}}\norigin: {chain: a}\ndestination: {chain: a}\nstorage: redis\n",
			err:  config.ErrInvalidStorage,
		},
		{
			name: "postgres required",
			blob: "chains: {a: {chain_id: 1}}\norigin: {chain: a}\ndestination: {chain: a}\n",
			err:  config.ErrMissingSection,
		},
		{
			name: "duplicate token",
			blob: `chains: {a: {chain_id: 1}}
origin: {chain: a}
destination: {chain: a}
storage: memory
tokens:
  - origin_address: 0x89d24A6b4CcB1B6fAA2625fE562bDD9a23260359
  - origin_address: 0x89d24A6b4CcB1B6fAA2625fE562bDD9a23260359
`,
			err: config.ErrDuplicateToken,
		},
	} {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			_, err := config.ReadConfig([]byte(tc.blob))
			require.ErrorIs(t, err, tc.err)
		})
	}
}

func TestReadConfig_UnknownField(t *testing.T) {
	t.Parallel()

	_, err := config.ReadConfig([]byte("chains: {}\nunknown_field: 1\n"))
	require.Error(t, err)
	require.Contains(t, err.Error(), "can't parse yaml")
}

func TestConfig_TokenByOrigin(t *testing.T) {
	t.Parallel()

	cfg, err := config.ReadConfig([]byte(testCfg))
	require.NoError(t, err)
	token := cfg.TokenByOrigin(common.HexToAddress("0x89d24A6b4CcB1B6fAA2625fE562bDD9a23260359"))
	require.NotNil(t, token)
	require.Equal(t, "USDC", token.Symbol)
	require.Nil(t, cfg.TokenByOrigin(common.HexToAddress("0x6B175474E89094C44Da98b954EedeAC495271d0F")))
}
