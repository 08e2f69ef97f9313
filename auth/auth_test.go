package auth_test

import (
	"context"
	"encoding/json"
	"math/big"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/require"

	"github.com/omni/alias-relay/auth"
	"github.com/omni/alias-relay/contract"
	"github.com/omni/alias-relay/logging"
	"github.com/omni/alias-relay/retry"
	"github.com/omni/alias-relay/utils"
)

const (
	testSecret = "secret"
	testIssuer = "idp.example"
	testKey    = "0x59c6995e998f97a5a0044966f094538c5f6270e8b0aa7d9d0ad2f83f5f0f8a5d"
)

func TestJWTVerifier_Verify(t *testing.T) {
	t.Parallel()

	verifier := auth.NewJWTVerifier(testSecret, testIssuer)
	valid := func(email string) *auth.Claims {
		return &auth.Claims{
			Email: email,
			RegisteredClaims: jwt.RegisteredClaims{
				Subject:   "user-1",
				ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
			},
		}
	}

	for _, test := range []struct {
		Name   string
		Secret string
		Claims *auth.Claims
		Email  string
		Error  bool
	}{
		{Name: "valid", Secret: testSecret, Claims: valid(" Alice@Example.com "), Email: "alice@example.com"},
		{Name: "wrong secret", Secret: "other", Claims: valid("alice@example.com"), Error: true},
		{Name: "missing email", Secret: testSecret, Claims: valid(""), Error: true},
		{Name: "expired", Secret: testSecret, Claims: &auth.Claims{
			Email:            "alice@example.com",
			RegisteredClaims: jwt.RegisteredClaims{ExpiresAt: jwt.NewNumericDate(time.Now().Add(-time.Hour))},
		}, Error: true},
		{Name: "no expiry", Secret: testSecret, Claims: &auth.Claims{Email: "alice@example.com"}, Error: true},
		{Name: "wrong issuer", Secret: testSecret, Claims: &auth.Claims{
			Email: "alice@example.com",
			RegisteredClaims: jwt.RegisteredClaims{
				Issuer:    "someone-else",
				ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
			},
		}, Error: true},
	} {
		test := test
		t.Run(test.Name, func(t *testing.T) {
			t.Parallel()
			token, err := auth.IssueToken(test.Secret, testIssuer, test.Claims)
			require.NoError(t, err)

			identity, err := verifier.Verify(context.Background(), token)
			if test.Error {
				require.ErrorIs(t, err, auth.ErrInvalidToken)
				return
			}
			require.NoError(t, err)
			require.Equal(t, test.Email, identity.Email)
			require.Equal(t, "user-1", identity.Subject)
		})
	}
}

type proxy struct {
	mu          sync.Mutex
	address     common.Address
	logins      int32
	authorized  int32
	rejectFirst bool
	expiresAt   *time.Time
	lastValue   string
}

func (p *proxy) handler(t *testing.T) http.Handler {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/api/siwe-messages", func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Address common.Address `json:"address"`
			Domain  string         `json:"domain"`
			ChainID uint64         `json:"chainId"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Domain != "relayer.example" || req.ChainID != 260 {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		_ = json.NewEncoder(w).Encode(map[string]string{"msg": "sign-in " + req.Address.Hex()})
	})
	mux.HandleFunc("/api/auth/login/crypto-native", func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Message   string        `json:"message"`
			Signature hexutil.Bytes `json:"signature"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		signer, err := utils.RestoreSignerAddress([]byte(req.Message), req.Signature)
		if err != nil || signer != p.address {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		n := atomic.AddInt32(&p.logins, 1)
		res := map[string]interface{}{"token": "token-" + string(rune('0'+n))}
		if p.expiresAt != nil {
			res["expiresAt"] = p.expiresAt.Format(time.RFC3339)
		}
		_ = json.NewEncoder(w).Encode(res)
	})
	mux.HandleFunc("/api/wallet/authorize-transaction", func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Value string `json:"value"`
		}
		_ = json.NewDecoder(r.Body).Decode(&req)
		p.mu.Lock()
		p.lastValue = req.Value
		reject := p.rejectFirst && r.Header.Get("Authorization") == "Bearer token-1"
		p.mu.Unlock()
		if reject {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		atomic.AddInt32(&p.authorized, 1)
		_ = json.NewEncoder(w).Encode(map[string]string{"message": "ok"})
	})
	return mux
}

func newProvider(t *testing.T, p *proxy) (*auth.SIWEProvider, string) {
	t.Helper()
	key, err := utils.ParsePrivateKey(testKey)
	require.NoError(t, err)
	server := httptest.NewServer(p.handler(t))
	t.Cleanup(server.Close)

	provider := auth.NewSIWEProvider(logging.New(), &auth.SIWEConfig{
		URL:     server.URL + "/",
		Domain:  "relayer.example",
		ChainID: big.NewInt(260),
		Timeout: 5 * time.Second,
	}, key)
	p.address = provider.Address()
	return provider, server.URL
}

func TestSIWEProvider_GetToken_Cached(t *testing.T) {
	t.Parallel()

	p := &proxy{}
	provider, _ := newProvider(t, p)
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 5; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			token, err := provider.GetToken(ctx)
			if err != nil || token != "token-1" {
				t.Errorf("unexpected token %q: %v", token, err)
			}
		}()
	}
	wg.Wait()
	require.Equal(t, int32(1), atomic.LoadInt32(&p.logins))

	provider.Invalidate()
	token, err := provider.GetToken(ctx)
	require.NoError(t, err)
	require.Equal(t, "token-2", token)
}

func TestSIWEProvider_GetToken_Expiring(t *testing.T) {
	t.Parallel()

	soon := time.Now().Add(10 * time.Second)
	p := &proxy{expiresAt: &soon}
	provider, _ := newProvider(t, p)
	ctx := context.Background()

	_, err := provider.GetToken(ctx)
	require.NoError(t, err)
	_, err = provider.GetToken(ctx)
	require.NoError(t, err)
	require.Equal(t, int32(2), atomic.LoadInt32(&p.logins), "token within the expiry skew must not be reused")
}

func TestSIWEProvider_HTTPAuth(t *testing.T) {
	t.Parallel()

	provider, _ := newProvider(t, &proxy{})
	header := make(http.Header)
	require.NoError(t, provider.HTTPAuth()(header))
	require.Equal(t, "Bearer token-1", header.Get("Authorization"))
}

func TestTxAuthorizer_AuthorizeTransaction(t *testing.T) {
	t.Parallel()

	p := &proxy{rejectFirst: true}
	provider, url := newProvider(t, p)
	authorizer := auth.NewTxAuthorizer(url, 5*time.Second, provider)
	ctx := context.Background()
	req := &contract.Authorization{
		WalletAddress:   provider.Address(),
		ContractAddress: common.HexToAddress("0x01"),
		Nonce:           1,
		Calldata:        []byte{0x01, 0x02},
		Value:           big.NewInt(1000),
	}

	err := authorizer.AuthorizeTransaction(ctx, req)
	require.ErrorIs(t, err, auth.ErrUnauthorized)
	require.Equal(t, retry.ClassAuth, retry.Classify(err))

	require.NoError(t, authorizer.AuthorizeTransaction(ctx, req))
	require.Equal(t, int32(2), atomic.LoadInt32(&p.logins))
	require.Equal(t, int32(1), atomic.LoadInt32(&p.authorized))
	require.Equal(t, "1000", p.lastValue)
}
