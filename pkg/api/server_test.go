package api_test

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/sipeed/execclient/pkg/api"
	"github.com/sipeed/execclient/pkg/bus"
	"github.com/sipeed/execclient/pkg/config"
	"github.com/sipeed/execclient/pkg/domain"
	"github.com/sipeed/execclient/pkg/events"
	"github.com/sipeed/execclient/pkg/orchestration"
	"github.com/sipeed/execclient/pkg/plugins"
	"github.com/sipeed/execclient/pkg/store"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

const testKey = "secret-key"

type staticStatus struct{ st orchestration.Status }

func (s staticStatus) Status(context.Context) orchestration.Status { return s.st }

type env struct {
	srv    *api.Server
	store  *store.MemoryStore
	bus    *bus.MessageBus
	base   string
	client *http.Client
}

func newEnv(t *testing.T, opts ...api.ServerOption) *env {
	t.Helper()
	st := store.NewMemoryStore()
	mb := bus.NewMessageBus()
	status := staticStatus{st: orchestration.Status{
		State:          orchestration.StateRunning,
		Initialized:    true,
		ScopeKey:       "default:execution-client",
		Provider:       "openai",
		Ticks:          7,
		TotalProcessed: 3,
		Plugins:        []plugins.PluginInfo{{ID: "attribution", Name: "Attribution", Version: "1.0.0", State: "ready", Capabilities: []string{"attribution"}}},
		Capabilities:   map[string]int{"response-processor": 1},
	}}
	srv := api.NewServer(config.GatewayConfig{Enabled: true, Host: "127.0.0.1", Port: 0, APIKey: testKey}, status, st, mb, opts...)
	require.NoError(t, srv.Start(context.Background()))

	e := &env{
		srv:    srv,
		store:  st,
		bus:    mb,
		base:   "http://" + srv.Addr(),
		client: &http.Client{Transport: &http.Transport{DisableKeepAlives: true}, Timeout: 5 * time.Second},
	}
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		assert.NoError(t, srv.Stop(ctx))
		mb.Close()
	})
	return e
}

func (e *env) do(t *testing.T, method, path string, body interface{}, headers map[string]string) (*http.Response, []byte) {
	t.Helper()
	var rdr *bytes.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		rdr = bytes.NewReader(raw)
	} else {
		rdr = bytes.NewReader(nil)
	}
	req, err := http.NewRequest(method, e.base+path, rdr)
	require.NoError(t, err)
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	resp, err := e.client.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	var buf bytes.Buffer
	_, err = buf.ReadFrom(resp.Body)
	require.NoError(t, err)
	return resp, buf.Bytes()
}

var bearer = map[string]string{"Authorization": "Bearer " + testKey}

func TestHealthIsPublic(t *testing.T) {
	e := newEnv(t)
	resp, body := e.do(t, http.MethodGet, "/api/health", nil, nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, string(body), `"status":"ok"`)
}

func TestStatusRequiresToken(t *testing.T) {
	e := newEnv(t)

	resp, _ := e.do(t, http.MethodGet, "/api/status", nil, nil)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	assert.Equal(t, `Bearer realm="execclient"`, resp.Header.Get("WWW-Authenticate"))

	resp, _ = e.do(t, http.MethodGet, "/api/status", nil, map[string]string{"Authorization": "Bearer wrong"})
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	resp, body := e.do(t, http.MethodGet, "/api/status", nil, map[string]string{"X-API-Key": testKey})
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var got map[string]interface{}
	require.NoError(t, json.Unmarshal(body, &got))
	assert.Equal(t, "running", got["state"])
	assert.Equal(t, float64(7), got["ticks"])
	assert.Equal(t, float64(3), got["total_processed"])
	assert.Contains(t, got, "uptime_seconds")
	assert.Equal(t, float64(0), got["ws_clients"])
}

func TestPlugins(t *testing.T) {
	e := newEnv(t)
	resp, body := e.do(t, http.MethodGet, "/api/plugins", nil, bearer)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var got struct {
		Plugins      []plugins.PluginInfo `json:"plugins"`
		Capabilities map[string]int       `json:"capabilities"`
	}
	require.NoError(t, json.Unmarshal(body, &got))
	require.Len(t, got.Plugins, 1)
	assert.Equal(t, "attribution", got.Plugins[0].ID)
	assert.Equal(t, 1, got.Capabilities["response-processor"])
}

func TestCORSPreflight(t *testing.T) {
	e := newEnv(t)
	resp, _ := e.do(t, http.MethodOptions, "/api/status", nil, map[string]string{"Origin": "http://localhost:5173"})
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "http://localhost:5173", resp.Header.Get("Access-Control-Allow-Origin"))

	resp, _ = e.do(t, http.MethodGet, "/api/health", nil, map[string]string{"Origin": "https://evil.example"})
	assert.Equal(t, "http://localhost", resp.Header.Get("Access-Control-Allow-Origin"))
}

func TestMessageIntake(t *testing.T) {
	e := newEnv(t)
	received := e.bus.SubscribeSystem("intake")

	resp, body := e.do(t, http.MethodPost, "/api/messages", map[string]string{
		"character_id": "ada", "sender_id": "user-1", "content": "Hello",
	}, bearer)
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	var created domain.Message
	require.NoError(t, json.Unmarshal(body, &created))
	assert.True(t, created.ID.IsStoreID())
	assert.False(t, created.Answered)

	stored, err := e.store.FindMessage(context.Background(), created.ID)
	require.NoError(t, err)
	assert.Equal(t, "Hello", stored.Content)

	select {
	case ev := <-received:
		assert.Equal(t, events.MessageReceived, ev.Type)
	case <-time.After(time.Second):
		t.Fatal("no message.received event")
	}

	resp, body = e.do(t, http.MethodGet, "/api/messages?answered=false&character_id=ada", nil, bearer)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var listed []domain.Message
	require.NoError(t, json.Unmarshal(body, &listed))
	require.Len(t, listed, 1)
	assert.Equal(t, created.ID, listed[0].ID)
}

func TestMessageIntakeValidation(t *testing.T) {
	e := newEnv(t)

	resp, _ := e.do(t, http.MethodPost, "/api/messages", map[string]string{"content": "no character"}, bearer)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp, _ = e.do(t, http.MethodGet, "/api/messages?answered=maybe", nil, bearer)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp, _ = e.do(t, http.MethodGet, "/api/messages?limit=0", nil, bearer)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	assert.Equal(t, 0, e.store.MessageCount())
}

func TestMessageIntakeRefusedWhenLedgerIsPrimary(t *testing.T) {
	e := newEnv(t, api.WithLedgerPrimary())

	resp, body := e.do(t, http.MethodPost, "/api/messages", map[string]string{
		"character_id": "ada", "content": "Hello",
	}, bearer)
	assert.Equal(t, http.StatusConflict, resp.StatusCode)
	assert.Contains(t, string(body), "ledger")
	assert.Equal(t, 0, e.store.MessageCount())

	resp, _ = e.do(t, http.MethodGet, "/api/messages", nil, bearer)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestWebSocketStreamsBusEvents(t *testing.T) {
	e := newEnv(t)

	url := "ws://" + e.srv.Addr() + "/api/ws?token=" + testKey
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer conn.Close()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))

	var frame api.WSEvent
	require.NoError(t, conn.ReadJSON(&frame))
	assert.Equal(t, "initial_state", frame.Type)

	// The bridge subscribes asynchronously.
	require.Eventually(t, func() bool { return e.bus.SubscriberCount() == 1 }, 2*time.Second, 5*time.Millisecond)
	e.bus.Publish(events.TickCompleted, "orchestrator", events.TickEventData{Tick: 9, Messages: 2})
	for frame.Type != events.TickCompleted {
		require.NoError(t, conn.ReadJSON(&frame))
	}
	require.Equal(t, events.TickCompleted, frame.Type)
	assert.Equal(t, "orchestrator", frame.Source)
	data, ok := frame.Data.(map[string]interface{})
	require.True(t, ok)
	assert.Equal(t, float64(9), data["tick"])
}

func TestWebSocketRequiresToken(t *testing.T) {
	e := newEnv(t)
	_, resp, err := websocket.DefaultDialer.Dial("ws://"+e.srv.Addr()+"/api/ws", nil)
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestStopIsIdempotent(t *testing.T) {
	e := newEnv(t)
	require.NoError(t, e.srv.Stop(context.Background()))
	require.NoError(t, e.srv.Stop(context.Background()))
	assert.Empty(t, e.srv.Addr())
}
