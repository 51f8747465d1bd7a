package resolver

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"nutribot/internal/models"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func chatServer(t *testing.T, calls *int32, reply string, status int) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(calls, 1)
		assert.Equal(t, "/chat/completions", r.URL.Path)
		assert.Equal(t, "Bearer key", r.Header.Get("Authorization"))

		var req chatRequest
		if !assert.NoError(t, json.NewDecoder(r.Body).Decode(&req)) {
			return
		}
		assert.Equal(t, "test-model", req.Model)
		assert.Len(t, req.Messages, 2)

		if status != http.StatusOK {
			http.Error(w, "upstream down", status)
			return
		}
		resp := map[string]any{
			"choices": []map[string]any{{"message": map[string]string{"role": "assistant", "content": reply}}},
		}
		_ = json.NewEncoder(w).Encode(resp)
	}))
}

func newTestClient(url string) *Client {
	return NewClient(Config{
		BaseURL:          url,
		APIKey:           "key",
		Model:            "test-model",
		Timeout:          2 * time.Second,
		AllowLegacyArity: true,
		CacheTTL:         time.Minute,
		RatePerSecond:    100,
	}, testLogger(), nil)
}

func TestClient_Recognized_Cached(t *testing.T) {
	var calls int32
	srv := chatServer(t, &calls, `{"recognized": true, "values": [1.2, 27.0, 0.4, 210]}`, http.StatusOK)
	defer srv.Close()

	c := newTestClient(srv.URL)

	res, err := c.Resolve(context.Background(), "2 bananas")
	require.NoError(t, err)
	assert.Equal(t, Recognized, res.Outcome)
	assert.Equal(t, models.NutrientEstimate{ProteinG: 1.2, CarbsG: 27.0, FatG: 0.4, CaloriesKcal: 210}, res.Estimate)

	res2, err := c.Resolve(context.Background(), "  2   Bananas ")
	require.NoError(t, err)
	assert.Equal(t, res, res2)
	assert.EqualValues(t, 1, atomic.LoadInt32(&calls), "second call should hit the cache")
}

func TestClient_UnrecognizedNotCached(t *testing.T) {
	var calls int32
	srv := chatServer(t, &calls, `{"recognized": false}`, http.StatusOK)
	defer srv.Close()

	c := newTestClient(srv.URL)
	for i := 0; i < 2; i++ {
		res, err := c.Resolve(context.Background(), "qwioqwio")
		require.NoError(t, err)
		assert.Equal(t, Unrecognized, res.Outcome)
	}
	assert.EqualValues(t, 2, atomic.LoadInt32(&calls))
}

func TestClient_UpstreamErrorIsTransport(t *testing.T) {
	var calls int32
	srv := chatServer(t, &calls, "", http.StatusBadGateway)
	defer srv.Close()

	_, err := newTestClient(srv.URL).Resolve(context.Background(), "rice")
	require.ErrorIs(t, err, models.ErrTransport)
}

func TestClient_MalformedReplyIsTransport(t *testing.T) {
	var calls int32
	srv := chatServer(t, &calls, `{"recognized": true, "values": [1, 2, "lots", 4]}`, http.StatusOK)
	defer srv.Close()

	_, err := newTestClient(srv.URL).Resolve(context.Background(), "rice")
	require.ErrorIs(t, err, models.ErrTransport)
}

func TestClient_TimeoutIsTransport(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(2 * time.Second):
		}
	}))
	defer srv.Close()

	c := newTestClient(srv.URL)
	c.cfg.Timeout = 50 * time.Millisecond

	start := time.Now()
	_, err := c.Resolve(context.Background(), "rice")
	require.ErrorIs(t, err, models.ErrTransport)
	assert.Less(t, time.Since(start), time.Second)
}

func TestClient_EmptyDescriptionIsUnrecognized(t *testing.T) {
	c := newTestClient("http://127.0.0.1:0")
	res, err := c.Resolve(context.Background(), "   ")
	require.NoError(t, err)
	assert.Equal(t, Unrecognized, res.Outcome)
}
