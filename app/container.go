// Package app wires configuration into the storage, chain and workflow components shared by the binaries.
package app

import (
	"errors"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/rpc"
	"github.com/sirupsen/logrus"

	"github.com/omni/alias-relay/auth"
	"github.com/omni/alias-relay/config"
	"github.com/omni/alias-relay/contract"
	"github.com/omni/alias-relay/db"
	"github.com/omni/alias-relay/deriver"
	"github.com/omni/alias-relay/ethclient"
	"github.com/omni/alias-relay/events"
	"github.com/omni/alias-relay/logging"
	"github.com/omni/alias-relay/registry"
	"github.com/omni/alias-relay/relay"
	"github.com/omni/alias-relay/repository"
	"github.com/omni/alias-relay/retry"
	"github.com/omni/alias-relay/utils"
	"github.com/omni/alias-relay/workflow"
)

var ErrInvalidChainID = errors.New("invalid chain id")

type Container struct {
	Config    *config.Config
	DB        *db.DB
	Repo      *repository.Repo
	Publisher events.Publisher
	Deriver   *deriver.Deriver
	Registry  *registry.Registry
	Store     *workflow.Store
	Ledgers   *relay.Ledgers
}

// NewContainer connects to storage and both chains. DB stays nil with in-memory storage.
func NewContainer(logger logging.Logger, cfg *config.Config) (*Container, error) {
	c := &Container{Config: cfg}
	if err := c.initStorage(); err != nil {
		return nil, err
	}
	if err := c.initChains(logger); err != nil {
		c.Close()
		return nil, err
	}
	if err := c.initPublisher(logger); err != nil {
		c.Close()
		return nil, err
	}
	c.Store = workflow.NewStore(logger.WithField("service", "workflow"), c.Repo, c.Deriver, retry.NewPolicy(cfg.Retry), c.Publisher, cfg.LockTTL)
	return c, nil
}

func (c *Container) initStorage() error {
	if c.Config.Storage == config.StorageMemory {
		c.Repo = repository.NewMemoryRepo()
		return nil
	}
	conn, err := db.ConnectToDBAndMigrate(c.Config.DBConfig)
	if err != nil {
		return fmt.Errorf("can't connect to database and apply migrations: %w", err)
	}
	c.DB = conn
	c.Repo = repository.NewRepo(conn)
	return nil
}

func (c *Container) initChains(logger logging.Logger) error {
	cfg := c.Config
	originKey, err := utils.ParsePrivateKey(cfg.Secrets.OriginPrivateKey)
	if err != nil {
		return fmt.Errorf("can't parse origin private key: %w", err)
	}
	destinationKey, err := utils.ParsePrivateKey(cfg.Secrets.DestinationPrivateKey)
	if err != nil {
		return fmt.Errorf("can't parse destination private key: %w", err)
	}
	destinationChainID, ok := new(big.Int).SetString(cfg.Destination.Chain.ChainID, 10)
	if !ok {
		return fmt.Errorf("destination chain %q: %w", cfg.Destination.Chain.ChainID, ErrInvalidChainID)
	}

	originClient, err := ethclient.NewClient(cfg.Origin.ChainName, cfg.Origin.Chain.RPC.Host, cfg.Origin.Chain.RPC.Timeout, cfg.Origin.Chain.ChainID)
	if err != nil {
		return fmt.Errorf("can't dial origin rpc client: %w", err)
	}
	originTransactor, err := contract.NewTransactor(logger.WithField("service", "transactor"), originClient, originKey, nil)
	if err != nil {
		return err
	}

	var (
		siwe       *auth.SIWEProvider
		authorizer contract.Authorizer
		opts       []rpc.ClientOption
	)
	if proxy := cfg.Destination.AuthProxy; proxy != nil {
		siwe = auth.NewSIWEProvider(logger.WithField("service", "siwe"), &auth.SIWEConfig{
			URL:       proxy.URL,
			Domain:    proxy.SIWEDomain,
			URI:       proxy.SIWEURI,
			Statement: proxy.SIWEStatement,
			ChainID:   destinationChainID,
			Timeout:   proxy.Timeout,
		}, destinationKey)
		opts = append(opts, rpc.WithHTTPAuth(siwe.HTTPAuth()))
		if proxy.AuthorizeTransactions {
			authorizer = auth.NewTxAuthorizer(proxy.URL, proxy.Timeout, siwe)
		}
	}
	destinationClient, err := ethclient.NewClient(cfg.Destination.ChainName, cfg.Destination.Chain.RPC.Host, cfg.Destination.Chain.RPC.Timeout, cfg.Destination.Chain.ChainID, opts...)
	if err != nil {
		return fmt.Errorf("can't dial destination rpc client: %w", err)
	}
	destinationTransactor, err := contract.NewTransactor(logger.WithField("service", "transactor"), destinationClient, destinationKey, authorizer)
	if err != nil {
		return err
	}

	logger.WithFields(logrus.Fields{
		"origin_sender":      originTransactor.From(),
		"destination_sender": destinationTransactor.From(),
	}).Info("initialized relayer accounts")

	originChain := contract.NewOriginChain(originClient, originTransactor, cfg.Origin.ForwarderFactory, cfg.Origin.NativeTokenVault)
	destinationChain := contract.NewDestinationChain(destinationClient, destinationTransactor, cfg.Destination.VaultFactory)

	c.Deriver = deriver.NewDeriver(&deriver.Config{
		Bridgehub:        cfg.Origin.Bridgehub,
		L2ChainID:        destinationChainID,
		AssetRouter:      cfg.Origin.AssetRouter,
		NativeTokenVault: cfg.Origin.NativeTokenVault,
		RefundRecipient:  cfg.Origin.RefundRecipient,
		RelayHop:         cfg.Destination.RelayHop,
	}, contract.NewForwarderFactory(originClient, cfg.Origin.ForwarderFactory), contract.NewVaultFactory(destinationClient, cfg.Destination.VaultFactory))

	var registrar registry.TokenRegistrar
	if cfg.Origin.AutoRegisterTokens {
		registrar = originChain
	}
	c.Registry = registry.NewRegistry(logger.WithField("service", "registry"), cfg.Tokens, c.Repo.TokenRegistry, originChain, registrar)

	c.Ledgers = &relay.Ledgers{
		Origin:      originChain,
		Destination: destinationChain,
		Tokens:      c.Registry,
		Params:      c.Deriver,
	}
	if siwe != nil {
		c.Ledgers.Credentials = siwe
	}
	return nil
}

func (c *Container) initPublisher(logger logging.Logger) error {
	if c.Config.NATS == nil || c.Config.NATS.URL == "" {
		c.Publisher = events.NewNopPublisher()
		return nil
	}
	publisher, err := events.NewNATSPublisher(logger.WithField("service", "nats"), c.Config.NATS.URL, c.Config.NATS.Subject)
	if err != nil {
		return err
	}
	c.Publisher = publisher
	return nil
}

// Verifier returns the bearer token verifier of the resolver api.
func (c *Container) Verifier() auth.Verifier {
	issuer := ""
	if c.Config.Resolver != nil {
		issuer = c.Config.Resolver.JWTIssuer
	}
	return auth.NewJWTVerifier(c.Config.Secrets.JWTSecret, issuer)
}

func (c *Container) Close() {
	if c.Publisher != nil {
		c.Publisher.Close()
	}
	if c.DB != nil {
		_ = c.DB.Close()
	}
}
