package server_test

import (
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/cookiejar"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sakif/discord-lookup/internal/config"
	"github.com/sakif/discord-lookup/internal/server"
)

const lookupID = "661720242585600000"

// fakeDiscord answers GET /users/{id} for lookupID and 404s everything else.
func fakeDiscord(t *testing.T) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/users/"+lookupID {
			w.WriteHeader(http.StatusNotFound)
			w.Write([]byte(`{"message":"Unknown User","code":10013}`))
			return
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"id":"` + lookupID + `","username":"sample","discriminator":"0","avatar":null}`))
	}))
	t.Cleanup(srv.Close)
	return srv
}

func newTestServer(t *testing.T) *httptest.Server {
	t.Helper()
	dir := t.TempDir()
	roulettePath := filepath.Join(dir, "roulette.txt")
	friendsPath := filepath.Join(dir, "friends.txt")
	require.NoError(t, os.WriteFile(roulettePath, []byte(lookupID+"\n"), 0o600))
	require.NoError(t, os.WriteFile(friendsPath, []byte("sample;"+lookupID+"\n"), 0o600))

	cfg := config.Defaults()
	cfg.StoreDriver = config.DriverMemory
	cfg.JWTSecret = "test-secret-0123456789"
	cfg.Location = time.UTC
	cfg.Discord.APIBase = fakeDiscord(t).URL
	cfg.Discord.BotToken = "bot"
	cfg.RoulettePath = roulettePath
	cfg.FriendsPath = friendsPath
	cfg.StaticDir = filepath.Join(dir, "missing")
	cfg.RateRPS = 1000
	cfg.RateBurst = 1000

	s, err := server.New(cfg, slog.New(slog.NewTextHandler(io.Discard, nil)))
	require.NoError(t, err)

	ts := httptest.NewServer(s.Handler())
	t.Cleanup(ts.Close)
	return ts
}

func newClient(t *testing.T) *http.Client {
	jar, err := cookiejar.New(nil)
	require.NoError(t, err)
	return &http.Client{Jar: jar}
}

func getJSON(t *testing.T, c *http.Client, url string) (int, map[string]any) {
	t.Helper()
	resp, err := c.Get(url)
	require.NoError(t, err)
	defer resp.Body.Close()
	var body map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	return resp.StatusCode, body
}

func postJSON(t *testing.T, c *http.Client, url, payload string) (int, map[string]any) {
	t.Helper()
	resp, err := c.Post(url, "application/json", strings.NewReader(payload))
	require.NoError(t, err)
	defer resp.Body.Close()
	var body map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	return resp.StatusCode, body
}

func TestServer_HealthAndMetrics(t *testing.T) {
	ts := newTestServer(t)
	c := newClient(t)

	status, body := getJSON(t, c, ts.URL+"/healthz")
	assert.Equal(t, http.StatusOK, status)
	assert.Equal(t, "ok", body["status"])

	resp, err := c.Get(ts.URL + "/metrics")
	require.NoError(t, err)
	defer resp.Body.Close()
	raw, _ := io.ReadAll(resp.Body)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, string(raw), "http_requests_total")
}

func TestServer_AnonymousAccess(t *testing.T) {
	ts := newTestServer(t)
	c := newClient(t)

	status, body := getJSON(t, c, ts.URL+"/api/auth/session")
	assert.Equal(t, http.StatusOK, status)
	assert.Equal(t, false, body["isLoggedIn"])

	status, _ = getJSON(t, c, ts.URL+"/api/user/balance")
	assert.Equal(t, http.StatusUnauthorized, status)

	status, _ = postJSON(t, c, ts.URL+"/api/discord/roulette/premium", "")
	assert.Equal(t, http.StatusUnauthorized, status)

	status, body = getJSON(t, c, ts.URL+"/api/discord/users/"+lookupID)
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, "January 1, 2020", body["created_at"])

	status, body = getJSON(t, c, ts.URL+"/api/discord/users/123")
	assert.Equal(t, http.StatusBadRequest, status)
	assert.Equal(t, "Invalid Discord ID format. IDs are 17-19 digits in length.", body["message"])

	status, body = getJSON(t, c, ts.URL+"/api/discord/friends/search?query=sam")
	assert.Equal(t, http.StatusOK, status)
	assert.EqualValues(t, 1, body["total"])
}

func TestServer_SignedInFlow(t *testing.T) {
	ts := newTestServer(t)
	c := newClient(t)

	status, _ := postJSON(t, c, ts.URL+"/api/auth/register", `{"username":"alice","password":"correct-horse"}`)
	require.Equal(t, http.StatusCreated, status)

	// first check of the day credits 10
	status, body := getJSON(t, c, ts.URL+"/api/user/balance")
	require.Equal(t, http.StatusOK, status)
	assert.EqualValues(t, 10, body["balance"])

	status, body = postJSON(t, c, ts.URL+"/api/user/balance/use", `{"amount":-1}`)
	require.Equal(t, http.StatusOK, status)
	assert.EqualValues(t, 9, body["balance"])

	status, body = postJSON(t, c, ts.URL+"/api/discord/roulette/premium", "")
	require.Equal(t, http.StatusOK, status)
	assert.EqualValues(t, 8, body["balance"])

	status, _ = getJSON(t, c, ts.URL+"/api/discord/users/"+lookupID)
	require.Equal(t, http.StatusOK, status)

	status, body = getJSON(t, c, ts.URL+"/api/user/history/lookup")
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, []any{lookupID}, body["history"])

	status, body = getJSON(t, c, ts.URL+"/api/user/history/roulette")
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, []any{lookupID}, body["history"])

	// not an admin
	status, _ = postJSON(t, c, ts.URL+"/api/admin/update-balance", `{"targetDiscordId":"local:alice","amount":5}`)
	assert.Equal(t, http.StatusForbidden, status)

	status, body = getJSON(t, c, ts.URL+"/api/auth/session")
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, true, body["isLoggedIn"])

	status, _ = postJSON(t, c, ts.URL+"/api/auth/logout", "")
	require.Equal(t, http.StatusOK, status)

	status, _ = getJSON(t, c, ts.URL+"/api/user/balance")
	assert.Equal(t, http.StatusUnauthorized, status)
}

func TestServer_DiscordSignInDisabledWithoutCredentials(t *testing.T) {
	ts := newTestServer(t)

	c := newClient(t)
	c.CheckRedirect = func(*http.Request, []*http.Request) error { return http.ErrUseLastResponse }
	resp, err := c.Get(ts.URL + "/api/auth/discord")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}
