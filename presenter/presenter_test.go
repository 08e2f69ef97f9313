package presenter_test

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/require"

	"github.com/omni/alias-relay/alias"
	"github.com/omni/alias-relay/auth"
	"github.com/omni/alias-relay/config"
	"github.com/omni/alias-relay/deriver"
	"github.com/omni/alias-relay/entity"
	"github.com/omni/alias-relay/events"
	"github.com/omni/alias-relay/logging"
	"github.com/omni/alias-relay/presenter"
	"github.com/omni/alias-relay/repository"
	"github.com/omni/alias-relay/retry"
	"github.com/omni/alias-relay/workflow"
)

const secret = "test-secret"

var (
	recipient = common.HexToAddress("0x00000000000000000000000000000000000000aa")
	token     = common.HexToAddress("0x00000000000000000000000000000000000010aa")
)

type fakeDeriver struct{}

func (fakeDeriver) Derive(_ context.Context, aliasKey, nonce common.Hash, _ common.Address) (*deriver.Addresses, error) {
	originSalt, destinationSalt, _ := deriver.Salts(aliasKey, nonce)
	return &deriver.Addresses{
		Nonce:           nonce,
		OriginSalt:      originSalt,
		DestinationSalt: destinationSalt,
		Origin:          common.BytesToAddress(originSalt[12:]),
		Destination:     common.BytesToAddress(destinationSalt[12:]),
	}, nil
}

type testEnv struct {
	presenter *presenter.Presenter
	repo      *repository.Repo
	store     *workflow.Store
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	cfg := &config.Config{
		Origin: &config.OriginConfig{
			Chain:            &config.ChainConfig{ChainID: "11155111", ExplorerTxURL: "https://sepolia.etherscan.io/tx/%s"},
			ForwarderFactory: common.HexToAddress("0xf0"),
		},
		Destination: &config.DestinationConfig{
			Chain:        &config.ChainConfig{ChainID: "300", ExplorerTxURL: "https://explorer.l2.example/tx/"},
			VaultFactory: common.HexToAddress("0xf1"),
		},
		Tokens: []*config.TokenConfig{{
			Symbol:             "USDC",
			OriginAddress:      token,
			DestinationAddress: common.HexToAddress("0x20aa"),
		}},
		Resolver: &config.ResolverConfig{Throttle: 10},
	}
	repo := repository.NewMemoryRepo()
	policy := &retry.Policy{BaseDelay: time.Second, MaxDelay: time.Minute, MaxAttempts: 5, AuthDelay: time.Second}
	store := workflow.NewStore(logging.New(), repo, fakeDeriver{}, policy, events.NewNopPublisher(), 10*time.Minute)
	p := presenter.NewPresenter(logging.New(), cfg, repo.Aliases, store, auth.NewJWTVerifier(secret, ""))
	return &testEnv{presenter: p, repo: repo, store: store}
}

func issue(t *testing.T, email string) string {
	t.Helper()
	tok, err := auth.IssueToken(secret, "", &auth.Claims{
		Email: email,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
	})
	require.NoError(t, err)
	return tok
}

func (e *testEnv) do(t *testing.T, method, path, bearer string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if bearer != "" {
		req.Header.Set("Authorization", "Bearer "+bearer)
	}
	rec := httptest.NewRecorder()
	e.presenter.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var res T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &res))
	return res
}

func (e *testEnv) register(t *testing.T, email, suffix string) *entity.Alias {
	t.Helper()
	id, err := alias.Parse(email, &suffix)
	require.NoError(t, err)
	a := &entity.Alias{
		AliasKey:           id.Key(),
		NormalizedIdentity: id.Normalized,
		Suffix:             id.Suffix,
		RecipientAddress:   recipient,
	}
	require.NoError(t, e.repo.Aliases.Ensure(context.Background(), a))
	return a
}

func strPtr(s string) *string {
	return &s
}

func TestPresenter_HealthAndConfig(t *testing.T) {
	t.Parallel()

	e := newTestEnv(t)
	rec := e.do(t, http.MethodGet, "/health", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.True(t, decode[presenter.HealthResult](t, rec).OK)

	rec = e.do(t, http.MethodGet, "/config", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	cfg := decode[presenter.ConfigResult](t, rec)
	require.Equal(t, "11155111", cfg.OriginChainID)
	require.Equal(t, "300", cfg.DestinationChainID)
	require.Equal(t, common.HexToAddress("0xf1"), cfg.VaultFactory)
	require.Len(t, cfg.Tokens, 1)

	rec = e.do(t, http.MethodGet, "/accepted-tokens", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	tokens := decode[[]*presenter.TokenInfo](t, rec)
	require.Len(t, tokens, 1)
	require.Equal(t, token, tokens[0].OriginAddress)
	require.Equal(t, "*", rec.Header().Get("Access-Control-Allow-Origin"))
}

func TestPresenter_RegisterAlias(t *testing.T) {
	t.Parallel()

	for _, test := range []struct {
		Name   string
		Bearer string
		Body   *presenter.RegisterAliasRequest
		Status int
	}{
		{
			Name:   "missing token",
			Body:   &presenter.RegisterAliasRequest{RecipientAddress: recipient.Hex()},
			Status: http.StatusUnauthorized,
		},
		{
			Name:   "invalid token",
			Bearer: "not-a-jwt",
			Body:   &presenter.RegisterAliasRequest{RecipientAddress: recipient.Hex()},
			Status: http.StatusUnauthorized,
		},
		{
			Name:   "identity mismatch",
			Bearer: "alice@example.com",
			Body:   &presenter.RegisterAliasRequest{Email: "mallory@example.com", RecipientAddress: recipient.Hex()},
			Status: http.StatusForbidden,
		},
		{
			Name:   "malformed address",
			Bearer: "alice@example.com",
			Body:   &presenter.RegisterAliasRequest{RecipientAddress: "0x1234"},
			Status: http.StatusBadRequest,
		},
		{
			Name:   "zero address",
			Bearer: "alice@example.com",
			Body:   &presenter.RegisterAliasRequest{RecipientAddress: common.Address{}.Hex()},
			Status: http.StatusBadRequest,
		},
		{
			Name:   "ok",
			Bearer: "alice@example.com",
			Body:   &presenter.RegisterAliasRequest{Email: "Alice@Example.com", Suffix: strPtr("Work"), RecipientAddress: recipient.Hex()},
			Status: http.StatusOK,
		},
	} {
		test := test
		t.Run(test.Name, func(t *testing.T) {
			t.Parallel()

			e := newTestEnv(t)
			bearer := test.Bearer
			if bearer != "" && bearer != "not-a-jwt" {
				bearer = issue(t, bearer)
			}
			rec := e.do(t, http.MethodPost, "/alias/register", bearer, test.Body)
			require.Equal(t, test.Status, rec.Code, rec.Body.String())
			if test.Status != http.StatusOK {
				return
			}

			res := decode[presenter.AliasResult](t, rec)
			require.Equal(t, alias.Key("alice@example.com", "work"), res.AliasKey)
			require.Equal(t, "work", res.Suffix)
			stored, err := e.repo.Aliases.GetByKey(context.Background(), res.AliasKey)
			require.NoError(t, err)
			require.Equal(t, recipient, stored.RecipientAddress)
		})
	}
}

func TestPresenter_AliasExists(t *testing.T) {
	t.Parallel()

	e := newTestEnv(t)
	e.register(t, "alice@example.com", "")
	e.register(t, "bob@example.com", "vip")

	for _, test := range []struct {
		Name   string
		Body   interface{}
		Result alias.ExistsResult
	}{
		{Name: "base match", Body: &presenter.IdentityRequest{Email: " ALICE@example.com "}, Result: alias.Match},
		{Name: "suffix required", Body: &presenter.IdentityRequest{Email: "bob@example.com"}, Result: alias.MaybeNeedsSuffix},
		{Name: "suffix match", Body: &presenter.IdentityRequest{Email: "bob@example.com", Suffix: strPtr("VIP")}, Result: alias.Match},
		{Name: "inferred suffix", Body: &presenter.IdentityRequest{Email: "bob+vip@example.com"}, Result: alias.Match},
		{Name: "wrong suffix", Body: &presenter.IdentityRequest{Email: "bob@example.com", Suffix: strPtr("other")}, Result: alias.NotFound},
		{Name: "unknown", Body: &presenter.IdentityRequest{Email: "carol@example.com"}, Result: alias.NotFound},
		{Name: "empty", Body: &presenter.IdentityRequest{}, Result: alias.NotFound},
		{Name: "malformed", Body: "not an object", Result: alias.NotFound},
	} {
		test := test
		t.Run(test.Name, func(t *testing.T) {
			t.Parallel()

			rec := e.do(t, http.MethodPost, "/alias/exists", "", test.Body)
			require.Equal(t, http.StatusOK, rec.Code)
			require.Equal(t, test.Result, decode[presenter.ExistsResult](t, rec).Result)
		})
	}
}

func TestPresenter_RequestDeposit(t *testing.T) {
	t.Parallel()

	e := newTestEnv(t)
	a := e.register(t, "alice@example.com", "")

	rec := e.do(t, http.MethodPost, "/deposit/request", "", &presenter.DepositRequestBody{Email: "carol@example.com"})
	require.Equal(t, http.StatusNotFound, rec.Code)

	rec = e.do(t, http.MethodPost, "/deposit/request", "", &presenter.DepositRequestBody{})
	require.Equal(t, http.StatusBadRequest, rec.Code)

	chainID := uint64(1)
	rec = e.do(t, http.MethodPost, "/deposit/request", "", &presenter.DepositRequestBody{Email: "alice@example.com", ChainID: &chainID})
	require.Equal(t, http.StatusBadRequest, rec.Code)

	rec = e.do(t, http.MethodPost, "/deposit/request", "", &presenter.DepositRequestBody{Email: "alice@example.com"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	first := decode[presenter.DepositRequestResult](t, rec)
	require.False(t, first.Reused)
	require.Equal(t, a.AliasKey, first.AliasKey)
	require.Equal(t, "11155111", first.OriginChainID)
	require.NotEqual(t, common.Address{}, first.OriginAddress)

	rec = e.do(t, http.MethodPost, "/deposit/request", "", &presenter.DepositRequestBody{Email: "Alice@Example.com"})
	require.Equal(t, http.StatusOK, rec.Code)
	second := decode[presenter.DepositRequestResult](t, rec)
	require.True(t, second.Reused)
	require.Equal(t, first.TrackingID, second.TrackingID)
	require.Equal(t, first.OriginAddress, second.OriginAddress)
}

func (e *testEnv) newRequest(t *testing.T, a *entity.Alias) *entity.DepositRequest {
	t.Helper()
	req, _, err := e.store.CreateRequest(context.Background(), a)
	require.NoError(t, err)
	return req
}

func (e *testEnv) newStuckEvent(t *testing.T, req *entity.DepositRequest) *entity.DepositEvent {
	t.Helper()
	ctx := context.Background()
	sweep := common.HexToHash("0xabc")
	event := &entity.DepositEvent{
		TrackingID:        req.TrackingID,
		Kind:              entity.KindNative,
		Amount:            "1000",
		Status:            entity.StatusOriginSwept,
		OriginSweepTxHash: &sweep,
	}
	require.NoError(t, e.store.CreateEvent(ctx, event))
	_, err := e.store.MarkEventFailed(ctx, event, retry.Terminal(errors.New("vault balance is not zero after sweep")))
	require.NoError(t, err)
	require.True(t, event.Stuck)
	return event
}

func TestPresenter_DepositStatus(t *testing.T) {
	t.Parallel()

	e := newTestEnv(t)
	req := e.newRequest(t, e.register(t, "alice@example.com", ""))
	e.newStuckEvent(t, req)

	rec := e.do(t, http.MethodGet, "/deposit/00000000-0000-0000-0000-000000000000", "", nil)
	require.Equal(t, http.StatusNotFound, rec.Code)
	rec = e.do(t, http.MethodGet, "/deposit/not-a-uuid", "", nil)
	require.Equal(t, http.StatusNotFound, rec.Code)

	rec = e.do(t, http.MethodGet, "/deposit/"+req.TrackingID.String(), "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	res := decode[presenter.DepositStatusResult](t, rec)
	require.Equal(t, req.TrackingID, res.Request.TrackingID)
	require.Equal(t, req.OriginAddress, res.Request.OriginAddress)
	require.Len(t, res.Events, 1)
	event := res.Events[0]
	require.Equal(t, entity.StatusStuck, event.Status)
	require.True(t, event.Stuck)
	require.Equal(t, uint(1), event.Attempts)
	require.Contains(t, event.Error, "not zero")
	require.NotNil(t, event.OriginSweep)
	require.Equal(t, "https://sepolia.etherscan.io/tx/"+common.HexToHash("0xabc").Hex(), event.OriginSweep.Link)
}

func TestPresenter_AliasDeposits(t *testing.T) {
	t.Parallel()

	e := newTestEnv(t)
	a := e.register(t, "alice@example.com", "")
	req := e.newRequest(t, a)
	e.newStuckEvent(t, req)
	path := "/alias/deposits?aliasKey=" + a.AliasKey.Hex()

	rec := e.do(t, http.MethodGet, path, "", nil)
	require.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = e.do(t, http.MethodGet, path, issue(t, "mallory@example.com"), nil)
	require.Equal(t, http.StatusForbidden, rec.Code)

	rec = e.do(t, http.MethodGet, "/alias/deposits?aliasKey=0x12", issue(t, "alice@example.com"), nil)
	require.Equal(t, http.StatusBadRequest, rec.Code)

	rec = e.do(t, http.MethodGet, path, issue(t, "alice@example.com"), nil)
	require.Equal(t, http.StatusOK, rec.Code)
	res := decode[[]*presenter.DepositStatusResult](t, rec)
	require.Len(t, res, 1)
	require.Equal(t, req.TrackingID, res[0].Request.TrackingID)
	require.Len(t, res[0].Events, 1)

	unknown := alias.Key("nobody@example.com", "")
	rec = e.do(t, http.MethodGet, "/alias/deposits?aliasKey="+unknown.Hex(), issue(t, "alice@example.com"), nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Empty(t, decode[[]*presenter.DepositStatusResult](t, rec))
}

func TestPresenter_RetryEvent(t *testing.T) {
	t.Parallel()

	e := newTestEnv(t)
	req := e.newRequest(t, e.register(t, "alice@example.com", "work"))
	event := e.newStuckEvent(t, req)
	path := "/deposit-events/" + jsonNumber(event.ID) + "/retry"
	owner := issue(t, "alice@example.com")

	rec := e.do(t, http.MethodPost, path, "", &presenter.RetryRequest{Suffix: strPtr("work")})
	require.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = e.do(t, http.MethodPost, path, issue(t, "mallory@example.com"), &presenter.RetryRequest{Suffix: strPtr("work")})
	require.Equal(t, http.StatusForbidden, rec.Code)

	// same identity, different alias
	rec = e.do(t, http.MethodPost, path, owner, nil)
	require.Equal(t, http.StatusForbidden, rec.Code)

	rec = e.do(t, http.MethodPost, "/deposit-events/9999/retry", owner, &presenter.RetryRequest{Suffix: strPtr("work")})
	require.Equal(t, http.StatusNotFound, rec.Code)

	rec = e.do(t, http.MethodPost, path, owner, &presenter.RetryRequest{Suffix: strPtr("work")})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	res := decode[presenter.EventInfo](t, rec)
	require.Equal(t, entity.StatusOriginSwept, res.Status)
	require.False(t, res.Stuck)
	require.Zero(t, res.Attempts)

	rec = e.do(t, http.MethodPost, path, owner, &presenter.RetryRequest{Suffix: strPtr("work")})
	require.Equal(t, http.StatusConflict, rec.Code)
}

func jsonNumber(id int64) string {
	blob, _ := json.Marshal(id)
	return string(blob)
}
