package contract

import (
	"context"
	"crypto/ecdsa"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/sirupsen/logrus"

	"github.com/omni/alias-relay/ethclient"
	"github.com/omni/alias-relay/logging"
)

var ErrReverted = errors.New("transaction reverted")

const (
	gasLimitMultiplierPercent = 120
	defaultReceiptTimeout     = 3 * time.Minute
)

// Authorization describes a transaction that a privileged endpoint must approve before it is sent.
type Authorization struct {
	WalletAddress   common.Address
	ContractAddress common.Address
	Nonce           uint64
	Calldata        []byte
	Value           *big.Int
}

type Authorizer interface {
	AuthorizeTransaction(ctx context.Context, req *Authorization) error
}

// Transactor signs and sends transactions from a single relayer key.
type Transactor struct {
	logger         logging.Logger
	client         ethclient.Client
	opts           *bind.TransactOpts
	authorizer     Authorizer
	receiptTimeout time.Duration
	mu             sync.Mutex
}

func NewTransactor(logger logging.Logger, client ethclient.Client, key *ecdsa.PrivateKey, authorizer Authorizer) (*Transactor, error) {
	opts, err := bind.NewKeyedTransactorWithChainID(key, client.ChainID())
	if err != nil {
		return nil, fmt.Errorf("can't create keyed transactor: %w", err)
	}
	return &Transactor{
		logger:         logger.WithFields(logrus.Fields{"chain": client.ChainName(), "sender": opts.From}),
		client:         client,
		opts:           opts,
		authorizer:     authorizer,
		receiptTimeout: defaultReceiptTimeout,
	}, nil
}

func (t *Transactor) From() common.Address {
	return t.opts.From
}

// Transact sends the call and waits until it is mined. A mined but failed
// transaction is reported with ErrReverted alongside its receipt.
func (t *Transactor) Transact(ctx context.Context, to common.Address, value *big.Int, data []byte) (*types.Receipt, error) {
	tx, err := t.send(ctx, to, value, data)
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithTimeout(ctx, t.receiptTimeout)
	defer cancel()
	receipt, err := bind.WaitMined(ctx, t.client, tx)
	if err != nil {
		return nil, fmt.Errorf("can't wait for transaction %s: %w", tx.Hash(), err)
	}
	if receipt.Status != types.ReceiptStatusSuccessful {
		return receipt, fmt.Errorf("transaction %s: %w", tx.Hash(), ErrReverted)
	}
	return receipt, nil
}

func (t *Transactor) send(ctx context.Context, to common.Address, value *big.Int, data []byte) (*types.Transaction, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if value == nil {
		value = new(big.Int)
	}
	nonce, err := t.client.PendingNonceAt(ctx, t.opts.From)
	if err != nil {
		return nil, fmt.Errorf("can't get pending nonce: %w", err)
	}
	gasPrice, err := t.client.SuggestGasPrice(ctx)
	if err != nil {
		return nil, fmt.Errorf("can't get gas price: %w", err)
	}
	gas, err := t.client.EstimateGas(ctx, ethereum.CallMsg{
		From:  t.opts.From,
		To:    &to,
		Value: value,
		Data:  data,
	})
	if err != nil {
		return nil, fmt.Errorf("can't estimate gas: %w", err)
	}
	gas = gas * gasLimitMultiplierPercent / 100

	if t.authorizer != nil {
		err = t.authorizer.AuthorizeTransaction(ctx, &Authorization{
			WalletAddress:   t.opts.From,
			ContractAddress: to,
			Nonce:           nonce,
			Calldata:        data,
			Value:           value,
		})
		if err != nil {
			return nil, fmt.Errorf("can't authorize transaction: %w", err)
		}
	}

	tx, err := t.opts.Signer(t.opts.From, types.NewTx(&types.LegacyTx{
		Nonce:    nonce,
		GasPrice: gasPrice,
		Gas:      gas,
		To:       &to,
		Value:    value,
		Data:     data,
	}))
	if err != nil {
		return nil, fmt.Errorf("can't sign transaction: %w", err)
	}
	if err = t.client.SendTransaction(ctx, tx); err != nil {
		return nil, fmt.Errorf("can't send transaction: %w", err)
	}
	t.logger.WithFields(logrus.Fields{
		"tx_hash": tx.Hash(),
		"to":      to,
		"nonce":   nonce,
		"gas":     gas,
	}).Info("sent transaction")
	return tx, nil
}

// IsReverted reports whether err comes from a failed transaction or a reverting gas estimation.
func IsReverted(err error) bool {
	if err == nil {
		return false
	}
	return errors.Is(err, ErrReverted) || strings.Contains(err.Error(), "execution reverted")
}
