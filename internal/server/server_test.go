// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package server

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jeranaias/rigrun-relay/internal/cancel"
	"github.com/jeranaias/rigrun-relay/internal/config"
	"github.com/jeranaias/rigrun-relay/internal/ollama"
	"github.com/jeranaias/rigrun-relay/internal/relay"
	"github.com/jeranaias/rigrun-relay/internal/session"
	"github.com/jeranaias/rigrun-relay/internal/storage"
)

// =============================================================================
// FAKE OLLAMA
// =============================================================================

type fakeOllama struct {
	*httptest.Server
	tagsCalls atomic.Int32
	tagsDelay time.Duration
}

func newFakeOllama(t *testing.T) *fakeOllama {
	t.Helper()
	f := &fakeOllama{}
	mux := http.NewServeMux()

	mux.HandleFunc("GET /{$}", func(w http.ResponseWriter, r *http.Request) {
		io.WriteString(w, "Ollama is running")
	})
	mux.HandleFunc("GET /api/tags", func(w http.ResponseWriter, r *http.Request) {
		f.tagsCalls.Add(1)
		time.Sleep(f.tagsDelay)
		io.WriteString(w, `{"models":[{"name":"llama3:latest","size":4700000000,"digest":"abc"}]}`)
	})
	mux.HandleFunc("GET /api/ps", func(w http.ResponseWriter, r *http.Request) {
		io.WriteString(w, `{"models":[]}`)
	})
	mux.HandleFunc("GET /api/version", func(w http.ResponseWriter, r *http.Request) {
		io.WriteString(w, `{"version":"0.5.7"}`)
	})
	mux.HandleFunc("POST /api/chat", func(w http.ResponseWriter, r *http.Request) {
		var req ollama.ChatRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, `{"error":"bad json"}`, http.StatusBadRequest)
			return
		}
		if !req.Stream {
			if req.Model == "missing" {
				w.WriteHeader(http.StatusNotFound)
				io.WriteString(w, `{"error":"model 'missing' not found"}`)
				return
			}
			io.WriteString(w, `{"model":"`+req.Model+`","done":true,"done_reason":"unload"}`)
			return
		}

		flusher := w.(http.Flusher)
		io.WriteString(w, `{"message":{"role":"assistant","content":"Hel"},"done":false}`+"\n")
		flusher.Flush()
		if req.Model == "slow" {
			<-r.Context().Done()
			return
		}
		io.WriteString(w, `{"message":{"role":"assistant","content":"lo"},"done":false}`+"\n")
		io.WriteString(w, `{"message":{"role":"assistant","content":""},"done":true,"done_reason":"stop","eval_count":2,"prompt_eval_count":3}`+"\n")
	})
	mux.HandleFunc("POST /api/pull", func(w http.ResponseWriter, r *http.Request) {
		io.WriteString(w, `{"status":"pulling manifest"}`+"\n")
		io.WriteString(w, `{"status":"downloading","digest":"sha256:1","total":10,"completed":10}`+"\n")
		io.WriteString(w, `{"status":"success"}`+"\n")
	})
	mux.HandleFunc("GET /library/{name}", func(w http.ResponseWriter, r *http.Request) {
		io.WriteString(w, "<html>"+r.PathValue("name")+"</html>")
	})
	mux.HandleFunc("GET /search", func(w http.ResponseWriter, r *http.Request) {
		io.WriteString(w, "<html>q="+r.URL.Query().Get("q")+"</html>")
	})

	f.Server = httptest.NewServer(mux)
	t.Cleanup(f.Close)
	return f
}

// =============================================================================
// HARNESS
// =============================================================================

type harness struct {
	srv      *Server
	ts       *httptest.Server
	store    *config.Store
	registry *cancel.Registry
	ledger   *storage.Ledger
	ollama   *fakeOllama
}

func newHarness(t *testing.T, mutate func(*config.Config)) *harness {
	t.Helper()
	fake := newFakeOllama(t)

	cfg := config.Default()
	cfg.Local.OllamaURL = fake.URL
	cfg.Local.CatalogURL = fake.URL
	cfg.Server.RateLimitPerMinute = 0
	if mutate != nil {
		mutate(cfg)
	}
	store := config.NewStore(cfg, "")

	ledger, err := storage.Open(t.TempDir() + "/ledger.db")
	require.NoError(t, err)
	t.Cleanup(func() { ledger.Close() })

	logger := log.New(io.Discard, "", 0)
	registry := cancel.NewRegistry()
	client := ollama.NewClient().WithBaseURLFunc(store.BaseURL).WithCatalogURLFunc(store.CatalogURL)
	relayOpts := relay.Options{Registry: registry, Upstream: client, Recorder: ledger, Logger: logger}

	manager := session.NewManager(session.Config{
		Registry: registry,
		Chat:     relay.NewChatOrchestrator(relayOpts),
		Pull:     relay.NewPullOrchestrator(relayOpts),
		Logger:   logger,
	})

	srv, err := New(Options{
		Store:   store,
		Client:  client,
		Manager: manager,
		Ledger:  ledger,
		Logger:  logger,
		Version: "test",
	})
	require.NoError(t, err)

	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(func() {
		ctx, cancelFn := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancelFn()
		srv.Shutdown(ctx)
		ts.Close()
	})

	return &harness{srv: srv, ts: ts, store: store, registry: registry, ledger: ledger, ollama: fake}
}

func (h *harness) get(t *testing.T, path string, header http.Header) (*http.Response, Envelope) {
	t.Helper()
	req, err := http.NewRequest(http.MethodGet, h.ts.URL+path, nil)
	require.NoError(t, err)
	for k, v := range header {
		req.Header[k] = v
	}
	return h.do(t, req)
}

func (h *harness) do(t *testing.T, req *http.Request) (*http.Response, Envelope) {
	t.Helper()
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	var env Envelope
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	if len(body) > 0 {
		require.NoError(t, json.Unmarshal(body, &env), string(body))
	}
	return resp, env
}

func (h *harness) dial(t *testing.T, name string, header http.Header) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(h.ts.URL, "http") + "/channel/" + name
	conn, resp, err := websocket.DefaultDialer.Dial(url, header)
	require.NoError(t, err)
	if resp != nil && resp.Body != nil {
		resp.Body.Close()
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

// readAll reads JSON frames until the server closes the channel.
func readAll(t *testing.T, conn *websocket.Conn) []map[string]any {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	var out []map[string]any
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			require.True(t, websocket.IsCloseError(err, websocket.CloseNormalClosure), "unexpected read error: %v", err)
			return out
		}
		var m map[string]any
		require.NoError(t, json.Unmarshal(data, &m))
		out = append(out, m)
	}
}

func readOne(t *testing.T, conn *websocket.Conn) map[string]any {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	_, data, err := conn.ReadMessage()
	require.NoError(t, err)
	var m map[string]any
	require.NoError(t, json.Unmarshal(data, &m))
	return m
}

// =============================================================================
// CHANNEL TESTS
// =============================================================================

func TestChatChannel_Completes(t *testing.T) {
	h := newHarness(t, nil)
	conn := h.dial(t, relay.KindChat, nil)

	require.NoError(t, conn.WriteJSON(map[string]any{
		"type": "chat-with-model",
		"payload": map[string]any{
			"model":    "llama3",
			"messages": []map[string]string{{"role": "user", "content": "hi"}},
		},
	}))

	events := readAll(t, conn)
	require.Len(t, events, 3)
	assert.Equal(t, "Hel", events[0]["delta"])
	assert.Equal(t, "lo", events[1]["delta"])
	assert.Equal(t, true, events[2]["done"])
	assert.Equal(t, "Hello", events[2]["content"])
	metrics := events[2]["metrics"].(map[string]any)
	assert.EqualValues(t, 2, metrics["eval_count"])

	require.Eventually(t, func() bool {
		recent, err := h.ledger.Recent(context.Background(), 1)
		return err == nil && len(recent) == 1 && recent[0].Outcome == "succeeded"
	}, 2*time.Second, 20*time.Millisecond)
	assert.Zero(t, h.registry.Len())
}

func TestChatChannel_StopGeneration(t *testing.T) {
	h := newHarness(t, nil)
	conn := h.dial(t, relay.KindChat, nil)

	require.NoError(t, conn.WriteJSON(map[string]any{
		"type":    "chat-with-model",
		"payload": map[string]any{"model": "slow", "messages": []any{}},
	}))
	assert.Equal(t, "Hel", readOne(t, conn)["delta"])

	require.NoError(t, conn.WriteJSON(map[string]any{"type": "stop-generation"}))

	events := readAll(t, conn)
	require.Len(t, events, 1)
	assert.Equal(t, true, events[0]["done"])
	assert.Equal(t, true, events[0]["aborted"])
}

func TestChatChannel_DisconnectAbortsOperation(t *testing.T) {
	h := newHarness(t, nil)
	conn := h.dial(t, relay.KindChat, nil)

	require.NoError(t, conn.WriteJSON(map[string]any{
		"type":    "chat-with-model",
		"payload": map[string]any{"model": "slow", "messages": []any{}},
	}))
	readOne(t, conn)
	require.Equal(t, 1, h.registry.Len())

	conn.Close()

	require.Eventually(t, func() bool { return h.registry.Len() == 0 }, 3*time.Second, 20*time.Millisecond)
	require.Eventually(t, func() bool {
		recent, err := h.ledger.Recent(context.Background(), 1)
		return err == nil && len(recent) == 1 && recent[0].Outcome == "cancelled"
	}, 3*time.Second, 20*time.Millisecond)
}

func TestPullChannel_Completes(t *testing.T) {
	h := newHarness(t, nil)
	conn := h.dial(t, relay.KindPull, nil)

	require.NoError(t, conn.WriteJSON(map[string]any{"payload": "llama3"}))

	events := readAll(t, conn)
	require.NotEmpty(t, events)
	assert.Equal(t, "pulling manifest", events[0]["status"])
	assert.Equal(t, "sha256:1", events[1]["digest"])
	last := events[len(events)-1]
	assert.Equal(t, true, last["done"])
	assert.Nil(t, last["cancelled"])
}

func TestChannel_UnknownNameClosed(t *testing.T) {
	h := newHarness(t, nil)
	conn := h.dial(t, "embed-stream", nil)

	assert.Empty(t, readAll(t, conn))
}

func TestChannel_OriginRejected(t *testing.T) {
	h := newHarness(t, nil)
	url := "ws" + strings.TrimPrefix(h.ts.URL, "http") + "/channel/chat-stream"

	_, resp, err := websocket.DefaultDialer.Dial(url, http.Header{"Origin": {"https://evil.example"}})
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)

	conn := h.dial(t, relay.KindChat, http.Header{"Origin": {"chrome-extension://abcdef"}})
	assert.NotNil(t, conn)
}

func TestChannel_RequiresToken(t *testing.T) {
	h := newHarness(t, func(c *config.Config) { c.Server.AuthToken = "s3cret" })
	url := "ws" + strings.TrimPrefix(h.ts.URL, "http") + "/channel/chat-stream"

	_, resp, err := websocket.DefaultDialer.Dial(url, nil)
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	conn, _, err := websocket.DefaultDialer.Dial(url+"?token=s3cret", nil)
	require.NoError(t, err)
	conn.Close()
}

func TestShutdown_AbortsOpenChannels(t *testing.T) {
	h := newHarness(t, nil)
	conn := h.dial(t, relay.KindChat, nil)

	require.NoError(t, conn.WriteJSON(map[string]any{
		"type":    "chat-with-model",
		"payload": map[string]any{"model": "slow", "messages": []any{}},
	}))
	readOne(t, conn)

	done := make(chan error, 1)
	go func() {
		ctx, cancelFn := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancelFn()
		done <- h.srv.Shutdown(ctx)
	}()

	events := readAll(t, conn)
	require.Len(t, events, 1)
	assert.Equal(t, true, events[0]["aborted"])

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("Shutdown did not return")
	}
	assert.Zero(t, h.registry.Len())
}

// =============================================================================
// ONE-SHOT TESTS
// =============================================================================

func TestHandleModels(t *testing.T) {
	h := newHarness(t, nil)

	resp, env := h.get(t, "/api/models", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.True(t, env.Success)
	models := env.Data.([]any)
	require.Len(t, models, 1)
	assert.Equal(t, "llama3:latest", models[0].(map[string]any)["name"])
}

func TestHandleModels_Coalesced(t *testing.T) {
	h := newHarness(t, nil)
	h.ollama.tagsDelay = 200 * time.Millisecond

	const n = 5
	errs := make(chan error, n)
	for i := 0; i < n; i++ {
		go func() {
			resp, err := http.Get(h.ts.URL + "/api/models")
			if err == nil {
				resp.Body.Close()
			}
			errs <- err
		}()
	}
	for i := 0; i < n; i++ {
		require.NoError(t, <-errs)
	}
	assert.Less(t, int(h.ollama.tagsCalls.Load()), n)
}

func TestHandleRunningAndVersion(t *testing.T) {
	h := newHarness(t, nil)

	_, env := h.get(t, "/api/running", nil)
	assert.True(t, env.Success)
	assert.Equal(t, []any{}, env.Data)

	_, env = h.get(t, "/api/version", nil)
	assert.True(t, env.Success)
	assert.Equal(t, "0.5.7", env.Data.(map[string]any)["version"])
}

func TestHandleUnload(t *testing.T) {
	h := newHarness(t, nil)

	post := func(body string) (*http.Response, Envelope) {
		req, err := http.NewRequest(http.MethodPost, h.ts.URL+"/api/unload", strings.NewReader(body))
		require.NoError(t, err)
		req.Header.Set("Content-Type", "application/json")
		return h.do(t, req)
	}

	resp, env := post(`{"model":"llama3"}`)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.True(t, env.Success)
	assert.Equal(t, "unload", env.Data.(map[string]any)["done_reason"])

	resp, env = post(`{"model":"missing"}`)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	assert.False(t, env.Success)
	require.NotNil(t, env.Error)
	assert.Equal(t, http.StatusNotFound, env.Error.Status)
	assert.Contains(t, env.Error.Message, "not found")

	resp, env = post(`{}`)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Equal(t, "model is required", env.Error.Message)

	resp, _ = post(`not json`)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestHandleCatalog(t *testing.T) {
	h := newHarness(t, nil)

	_, env := h.get(t, "/api/catalog/model/llama3", nil)
	assert.True(t, env.Success)
	assert.Equal(t, "<html>llama3</html>", env.Data)

	_, env = h.get(t, "/api/catalog/search?q=qwen", nil)
	assert.True(t, env.Success)
	assert.Equal(t, "<html>q=qwen</html>", env.Data)
}

func TestHandleModels_UpstreamDown(t *testing.T) {
	h := newHarness(t, nil)
	down := httptest.NewServer(http.NotFoundHandler())
	downURL := down.URL
	down.Close()

	cfg := h.store.Current()
	cfg.Local.OllamaURL = downURL
	require.NoError(t, h.store.Replace(cfg))

	resp, env := h.get(t, "/api/models", nil)
	assert.Equal(t, http.StatusBadGateway, resp.StatusCode)
	assert.False(t, env.Success)
	require.NotNil(t, env.Error)
	assert.Equal(t, 0, env.Error.Status)
}

func TestHandleHealth(t *testing.T) {
	h := newHarness(t, func(c *config.Config) { c.Server.AuthToken = "tok" })

	resp, env := h.get(t, "/health", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	data := env.Data.(map[string]any)
	assert.Equal(t, "ok", data["status"])
	assert.Equal(t, "ok", data["ollama_status"])
	assert.Equal(t, "test", data["version"])
	assert.Equal(t, "nosniff", resp.Header.Get("X-Content-Type-Options"))
}

func TestHandleStats(t *testing.T) {
	h := newHarness(t, nil)
	require.NoError(t, h.ledger.Record(context.Background(), storage.OperationRecord{
		ID: "op", Kind: relay.KindChat, Model: "m", Outcome: "succeeded", EvalTokens: 7,
	}))

	_, env := h.get(t, "/stats", nil)
	require.True(t, env.Success)
	data := env.Data.(map[string]any)
	ledger := data["ledger"].(map[string]any)
	assert.EqualValues(t, 1, ledger["total"])
	sessions := data["sessions"].(map[string]any)
	assert.EqualValues(t, 0, sessions["open_channels"])

	_, env = h.get(t, "/api/operations?limit=5", nil)
	require.True(t, env.Success)
	assert.Len(t, env.Data.([]any), 1)

	resp, _ := h.get(t, "/api/operations?limit=0", nil)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

// recentLedger records the limit it was asked for.
type recentLedger struct {
	mu    sync.Mutex
	asked []int
}

func (l *recentLedger) Summary(context.Context) (storage.Summary, error) {
	return storage.Summary{}, nil
}

func (l *recentLedger) Recent(_ context.Context, n int) ([]storage.OperationRecord, error) {
	l.mu.Lock()
	l.asked = append(l.asked, n)
	l.mu.Unlock()
	return make([]storage.OperationRecord, n), nil
}

func TestHandleOperations_Limit(t *testing.T) {
	ledger := &recentLedger{}
	srv, err := New(Options{
		Manager: session.NewManager(session.Config{Logger: log.New(io.Discard, "", 0)}),
		Ledger:  ledger,
		Logger:  log.New(io.Discard, "", 0),
	})
	require.NoError(t, err)
	ts := httptest.NewServer(srv.Handler())
	defer ts.Close()

	tests := []struct {
		query  string
		status int
		asked  int
	}{
		{"", http.StatusOK, storage.DefaultRecentLimit},
		{"?limit=7", http.StatusOK, 7},
		{"?limit=500", http.StatusOK, 500},
		{"?limit=501", http.StatusBadRequest, 0},
		{"?limit=abc", http.StatusBadRequest, 0},
	}
	for _, tt := range tests {
		t.Run(tt.query, func(t *testing.T) {
			ledger.mu.Lock()
			ledger.asked = nil
			ledger.mu.Unlock()

			resp, err := http.Get(ts.URL + "/api/operations" + tt.query)
			require.NoError(t, err)
			resp.Body.Close()
			assert.Equal(t, tt.status, resp.StatusCode)

			ledger.mu.Lock()
			defer ledger.mu.Unlock()
			if tt.asked == 0 {
				assert.Empty(t, ledger.asked)
				return
			}
			assert.Equal(t, []int{tt.asked}, ledger.asked)
		})
	}
	assert.Equal(t, 50, storage.DefaultRecentLimit)
}

func TestAPI_AuthAndCORS(t *testing.T) {
	h := newHarness(t, func(c *config.Config) { c.Server.AuthToken = "tok" })

	resp, env := h.get(t, "/api/models", nil)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	assert.False(t, env.Success)

	resp, env = h.get(t, "/api/models", http.Header{"Authorization": {"Bearer tok"}})
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.True(t, env.Success)

	// Preflight passes without a token.
	req, _ := http.NewRequest(http.MethodOptions, h.ts.URL+"/api/models", nil)
	req.Header.Set("Origin", "http://localhost:5173")
	resp, _ = h.do(t, req)
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)
	assert.Equal(t, "http://localhost:5173", resp.Header.Get("Access-Control-Allow-Origin"))

	resp, _ = h.get(t, "/api/models", http.Header{"Origin": {"https://evil.example"}, "Authorization": {"Bearer tok"}})
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)
}

func TestAPI_TokenReloaded(t *testing.T) {
	h := newHarness(t, nil)

	resp, _ := h.get(t, "/api/version", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	cfg := h.store.Current()
	cfg.Server.AuthToken = "new-token"
	require.NoError(t, h.store.Replace(cfg))

	resp, _ = h.get(t, "/api/version", nil)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestAPI_RateLimited(t *testing.T) {
	h := newHarness(t, func(c *config.Config) { c.Server.RateLimitPerMinute = 2 })

	for i := 0; i < 2; i++ {
		resp, _ := h.get(t, "/api/version", nil)
		require.Equal(t, http.StatusOK, resp.StatusCode, fmt.Sprintf("request %d", i))
	}
	resp, env := h.get(t, "/api/version", nil)
	assert.Equal(t, http.StatusTooManyRequests, resp.StatusCode)
	assert.Equal(t, http.StatusTooManyRequests, env.Error.Status)
	assert.NotEmpty(t, resp.Header.Get("Retry-After"))
}

func TestNotFound(t *testing.T) {
	h := newHarness(t, nil)

	resp, env := h.get(t, "/nope", nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	assert.False(t, env.Success)
}

func TestNew_RequiresManager(t *testing.T) {
	_, err := New(Options{})
	assert.Error(t, err)
}
