package handler_test

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/require"

	"github.com/sakif/discord-lookup/internal/auth"
	"github.com/sakif/discord-lookup/internal/handler"
)

var testLogger = slog.New(slog.NewTextHandler(io.Discard, nil))

// newRequest builds a request, optionally signed in as accountID (0 means
// anonymous) and with chi URL params set.
func newRequest(method, target, body string, accountID int64, params map[string]string) *http.Request {
	var r *http.Request
	if body == "" {
		r = httptest.NewRequest(method, target, nil)
	} else {
		r = httptest.NewRequest(method, target, strings.NewReader(body))
		r.Header.Set("Content-Type", "application/json")
	}

	ctx := r.Context()
	if accountID > 0 {
		ctx = auth.WithAccountID(ctx, accountID)
	}
	if len(params) > 0 {
		rctx := chi.NewRouteContext()
		for k, v := range params {
			rctx.URLParams.Add(k, v)
		}
		ctx = context.WithValue(ctx, chi.RouteCtxKey, rctx)
	}
	return r.WithContext(ctx)
}

func decodeError(t *testing.T, rr *httptest.ResponseRecorder) handler.ErrorResponse {
	t.Helper()
	var res handler.ErrorResponse
	require.NoError(t, json.NewDecoder(rr.Body).Decode(&res))
	return res
}

func decodeMap(t *testing.T, rr *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var res map[string]any
	require.NoError(t, json.NewDecoder(rr.Body).Decode(&res))
	return res
}

func ptr[T any](v T) *T { return &v }
