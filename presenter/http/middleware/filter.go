package middleware

import (
	"context"
	"net/http"
	"regexp"
	"strconv"

	"github.com/ethereum/go-ethereum/common"
	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/omni/alias-relay/presenter/http/render"
)

type ctxKey int

const (
	trackingIDCtxKey ctxKey = iota
	eventIDCtxKey
	aliasKeyCtxKey
	identityCtxKey
)

var aliasKeyRegexp = regexp.MustCompile(`^0x[0-9a-fA-F]{64}$`)

func GetTrackingIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id, err := uuid.Parse(chi.URLParam(r, "trackingId"))
		if err != nil {
			render.Fail(w, r, http.StatusNotFound, "deposit request not found")
			return
		}
		ctx := context.WithValue(r.Context(), trackingIDCtxKey, id)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func TrackingID(ctx context.Context) uuid.UUID {
	id, _ := ctx.Value(trackingIDCtxKey).(uuid.UUID)
	return id
}

func GetEventIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id, err := strconv.ParseInt(chi.URLParam(r, "eventId"), 10, 64)
		if err != nil || id <= 0 {
			render.Fail(w, r, http.StatusNotFound, "deposit event not found")
			return
		}
		ctx := context.WithValue(r.Context(), eventIDCtxKey, id)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func EventID(ctx context.Context) int64 {
	id, _ := ctx.Value(eventIDCtxKey).(int64)
	return id
}

func GetAliasKeyMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		key := r.URL.Query().Get("aliasKey")
		if !aliasKeyRegexp.MatchString(key) {
			render.Fail(w, r, http.StatusBadRequest, "aliasKey must be a 0x-prefixed 32-byte hex string")
			return
		}
		ctx := context.WithValue(r.Context(), aliasKeyCtxKey, common.HexToHash(key))
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func AliasKey(ctx context.Context) common.Hash {
	key, _ := ctx.Value(aliasKeyCtxKey).(common.Hash)
	return key
}
