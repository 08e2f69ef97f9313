package auth

import (
	"bytes"
	"context"
	"crypto/ecdsa"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math/big"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/rpc"

	"github.com/omni/alias-relay/contract"
	"github.com/omni/alias-relay/logging"
	"github.com/omni/alias-relay/utils"
)

var ErrLoginFailed = errors.New("sign-in failed")

// expirySkew is how long before its expiry a token stops being handed out.
const expirySkew = 15 * time.Second

type CredentialProvider interface {
	GetToken(ctx context.Context) (string, error)
	Invalidate()
}

type SIWEConfig struct {
	URL       string
	Domain    string
	URI       string
	Statement string
	ChainID   *big.Int
	Timeout   time.Duration
}

// SIWEProvider signs in to the privileged endpoint with the relayer key and caches the session token.
type SIWEProvider struct {
	logger  logging.Logger
	cfg     *SIWEConfig
	client  *http.Client
	key     *ecdsa.PrivateKey
	address common.Address
	now     func() time.Time

	login     sync.Mutex
	mu        sync.Mutex
	token     string
	expiresAt *time.Time
}

func NewSIWEProvider(logger logging.Logger, cfg *SIWEConfig, key *ecdsa.PrivateKey) *SIWEProvider {
	return &SIWEProvider{
		logger:  logger,
		cfg:     cfg,
		client:  &http.Client{Timeout: cfg.Timeout},
		key:     key,
		address: crypto.PubkeyToAddress(key.PublicKey),
		now:     time.Now,
	}
}

func (p *SIWEProvider) Address() common.Address {
	return p.address
}

func (p *SIWEProvider) GetToken(ctx context.Context) (string, error) {
	if token, ok := p.cached(); ok {
		return token, nil
	}

	p.login.Lock()
	defer p.login.Unlock()
	// another caller may have signed in while we waited
	if token, ok := p.cached(); ok {
		return token, nil
	}
	token, expiresAt, err := p.signIn(ctx)
	if err != nil {
		return "", err
	}
	p.mu.Lock()
	p.token, p.expiresAt = token, expiresAt
	p.mu.Unlock()
	p.logger.WithField("address", p.address).Info("signed in to auth proxy")
	return token, nil
}

func (p *SIWEProvider) Invalidate() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.token, p.expiresAt = "", nil
}

// HTTPAuth attaches the session token to every JSON-RPC request.
func (p *SIWEProvider) HTTPAuth() rpc.HTTPAuth {
	return func(h http.Header) error {
		ctx, cancel := context.WithTimeout(context.Background(), p.cfg.Timeout)
		defer cancel()
		token, err := p.GetToken(ctx)
		if err != nil {
			return err
		}
		h.Set("Authorization", "Bearer "+token)
		return nil
	}
}

func (p *SIWEProvider) cached() (string, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.token == "" {
		return "", false
	}
	if p.expiresAt != nil && !p.now().Add(expirySkew).Before(*p.expiresAt) {
		return "", false
	}
	return p.token, true
}

type siweMessageRequest struct {
	Address   common.Address `json:"address"`
	Domain    string         `json:"domain"`
	URI       string         `json:"uri,omitempty"`
	Statement string         `json:"statement,omitempty"`
	ChainID   uint64         `json:"chainId"`
}

type siweMessageResponse struct {
	Msg string `json:"msg"`
}

type loginRequest struct {
	Message   string        `json:"message"`
	Signature hexutil.Bytes `json:"signature"`
}

type loginResponse struct {
	Token     string     `json:"token"`
	ExpiresAt *time.Time `json:"expiresAt"`
}

func (p *SIWEProvider) signIn(ctx context.Context) (string, *time.Time, error) {
	var msg siweMessageResponse
	err := postJSON(ctx, p.client, p.endpoint("/api/siwe-messages"), "", &siweMessageRequest{
		Address:   p.address,
		Domain:    p.cfg.Domain,
		URI:       p.cfg.URI,
		Statement: p.cfg.Statement,
		ChainID:   p.cfg.ChainID.Uint64(),
	}, &msg)
	if err != nil {
		return "", nil, fmt.Errorf("can't request sign-in message: %w", err)
	}
	if msg.Msg == "" {
		return "", nil, fmt.Errorf("%w: empty sign-in message", ErrLoginFailed)
	}
	sig, err := utils.SignText(p.key, []byte(msg.Msg))
	if err != nil {
		return "", nil, err
	}
	var res loginResponse
	err = postJSON(ctx, p.client, p.endpoint("/api/auth/login/crypto-native"), "", &loginRequest{
		Message:   msg.Msg,
		Signature: sig,
	}, &res)
	if err != nil {
		return "", nil, fmt.Errorf("can't sign in: %w", err)
	}
	if res.Token == "" {
		return "", nil, fmt.Errorf("%w: empty token", ErrLoginFailed)
	}
	return res.Token, res.ExpiresAt, nil
}

func (p *SIWEProvider) endpoint(path string) string {
	return strings.TrimSuffix(p.cfg.URL, "/") + path
}

// TxAuthorizer asks the privileged endpoint to approve a transaction before it is broadcast.
type TxAuthorizer struct {
	url    string
	client *http.Client
	creds  CredentialProvider
}

func NewTxAuthorizer(url string, timeout time.Duration, creds CredentialProvider) *TxAuthorizer {
	return &TxAuthorizer{
		url:    strings.TrimSuffix(url, "/") + "/api/wallet/authorize-transaction",
		client: &http.Client{Timeout: timeout},
		creds:  creds,
	}
}

type authorizeRequest struct {
	WalletAddress   common.Address `json:"walletAddress"`
	ContractAddress common.Address `json:"contractAddress"`
	Nonce           uint64         `json:"nonce"`
	Calldata        hexutil.Bytes  `json:"calldata,omitempty"`
	Value           string         `json:"value,omitempty"`
}

func (a *TxAuthorizer) AuthorizeTransaction(ctx context.Context, req *contract.Authorization) error {
	token, err := a.creds.GetToken(ctx)
	if err != nil {
		return err
	}
	body := &authorizeRequest{
		WalletAddress:   req.WalletAddress,
		ContractAddress: req.ContractAddress,
		Nonce:           req.Nonce,
		Calldata:        req.Calldata,
	}
	if req.Value != nil {
		body.Value = req.Value.String()
	}
	err = postJSON(ctx, a.client, a.url, token, body, nil)
	if errors.Is(err, ErrUnauthorized) {
		a.creds.Invalidate()
	}
	return err
}

type statusError struct {
	status int
	body   string
}

func (e *statusError) Error() string {
	return fmt.Sprintf("unexpected status %d: %s", e.status, e.body)
}

// postJSON sends body and decodes the response into res when it is not nil.
// 401 and 403 responses are reported as ErrUnauthorized.
func postJSON(ctx context.Context, client *http.Client, url, token string, body, res interface{}) error {
	blob, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("can't encode request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(blob))
	if err != nil {
		return fmt.Errorf("can't build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("can't send request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden {
		return fmt.Errorf("status %d: %w", resp.StatusCode, ErrUnauthorized)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		text, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return &statusError{status: resp.StatusCode, body: string(text)}
	}
	if res == nil {
		return nil
	}
	if err = json.NewDecoder(resp.Body).Decode(res); err != nil {
		return fmt.Errorf("can't decode response: %w", err)
	}
	return nil
}
