package web

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"geoprobe/internal/core/metacore"
	"geoprobe/internal/shared/types"
)

type fakeProber struct {
	mu    sync.Mutex
	err   error
	block chan struct{}
	stats types.RunStats
	got   []types.Node
}

func (f *fakeProber) Run(_ context.Context, nodes []types.Node) ([]types.Node, error) {
	if f.block != nil {
		<-f.block
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.got = nodes
	if f.err != nil {
		return nodes, f.err
	}
	out := make([]types.Node, len(nodes))
	for i, n := range nodes {
		c := n.Clone()
		c.SetName("日本 Example ISP - " + n.Name())
		out[i] = c
	}
	f.stats = types.RunStats{RunID: "run-1", Total: len(nodes), Succeeded: len(nodes)}
	return out, nil
}

func (f *fakeProber) LastStats() types.RunStats {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.stats
}

func newTestServer(t *testing.T, prober Prober, cfg types.WebConf) (*httptest.Server, *Hub) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	hub := NewHub(zerolog.Nop())
	go hub.Run(ctx)
	srv := httptest.NewServer(NewMux(cfg, NewHandler(prober, hub, zerolog.Nop()), hub))
	t.Cleanup(func() {
		srv.Close()
		cancel()
		<-hub.done
	})
	return srv, hub
}

func TestHandleProbe_JSON(t *testing.T) {
	prober := &fakeProber{}
	srv, _ := newTestServer(t, prober, types.WebConf{})

	res, err := http.Post(srv.URL+"/api/probe", "application/json", strings.NewReader(`[{"name":"node-A","type":"ss"}]`))
	if err != nil {
		t.Fatal(err)
	}
	defer res.Body.Close()
	if res.StatusCode != http.StatusOK {
		t.Fatalf("Expected 200, got %d", res.StatusCode)
	}
	var body probeResponse
	if err := json.NewDecoder(res.Body).Decode(&body); err != nil {
		t.Fatalf("invalid response: %v", err)
	}
	if len(body.Proxies) != 1 || body.Proxies[0].Name() != "日本 Example ISP - node-A" {
		t.Errorf("unexpected proxies %v", body.Proxies)
	}
	if body.Stats.RunID != "run-1" {
		t.Errorf("unexpected stats %+v", body.Stats)
	}
}

func TestHandleProbe_YAML(t *testing.T) {
	prober := &fakeProber{}
	srv, _ := newTestServer(t, prober, types.WebConf{})

	yml := "proxies:\n  - name: node-A\n    type: ss\n  - name: node-B\n    type: vmess\n"
	res, err := http.Post(srv.URL+"/api/probe", "application/yaml", strings.NewReader(yml))
	if err != nil {
		t.Fatal(err)
	}
	res.Body.Close()
	if res.StatusCode != http.StatusOK || len(prober.got) != 2 {
		t.Errorf("Expected 2 nodes to be probed, got status %d nodes %d", res.StatusCode, len(prober.got))
	}
}

func TestHandleProbe_Errors(t *testing.T) {
	cases := []struct {
		name   string
		prober *fakeProber
		method string
		body   string
		status int
	}{
		{"method", &fakeProber{}, http.MethodGet, "", http.StatusMethodNotAllowed},
		{"bad json", &fakeProber{}, http.MethodPost, `[{`, http.StatusBadRequest},
		{"core failed", &fakeProber{err: fmt.Errorf("start: %w", metacore.ErrStartFailed)}, http.MethodPost, `[]`, http.StatusBadGateway},
		{"other failure", &fakeProber{err: errors.New("boom")}, http.MethodPost, `[]`, http.StatusInternalServerError},
	}
	for _, tc := range cases {
		srv, _ := newTestServer(t, tc.prober, types.WebConf{})
		req, _ := http.NewRequest(tc.method, srv.URL+"/api/probe", strings.NewReader(tc.body))
		req.Header.Set("Content-Type", "application/json")
		res, err := http.DefaultClient.Do(req)
		if err != nil {
			t.Fatalf("%s: %v", tc.name, err)
		}
		res.Body.Close()
		if res.StatusCode != tc.status {
			t.Errorf("%s: Expected %d, got %d", tc.name, tc.status, res.StatusCode)
		}
	}
}

func TestHandleProbe_RejectsConcurrentRuns(t *testing.T) {
	prober := &fakeProber{block: make(chan struct{})}
	srv, _ := newTestServer(t, prober, types.WebConf{})

	done := make(chan int)
	go func() {
		res, err := http.Post(srv.URL+"/api/probe", "application/json", strings.NewReader(`[]`))
		if err != nil {
			done <- 0
			return
		}
		res.Body.Close()
		done <- res.StatusCode
	}()

	// 等待第一次检测开始
	deadline := time.Now().Add(2 * time.Second)
	for {
		var st statusResponse
		res, err := http.Get(srv.URL + "/api/status")
		if err == nil {
			json.NewDecoder(res.Body).Decode(&st)
			res.Body.Close()
		}
		if st.Status == "probing" {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("first probe never started")
		}
		time.Sleep(10 * time.Millisecond)
	}

	res, err := http.Post(srv.URL+"/api/probe", "application/json", strings.NewReader(`[]`))
	if err != nil {
		t.Fatal(err)
	}
	res.Body.Close()
	if res.StatusCode != http.StatusConflict {
		t.Errorf("Expected 409 for a concurrent run, got %d", res.StatusCode)
	}

	close(prober.block)
	if status := <-done; status != http.StatusOK {
		t.Errorf("Expected the first run to succeed, got %d", status)
	}
}

func TestHandleStatus(t *testing.T) {
	prober := &fakeProber{}
	srv, _ := newTestServer(t, prober, types.WebConf{User: "admin", Password: "pw"})

	// 状态接口无需认证
	res, err := http.Get(srv.URL + "/api/status")
	if err != nil {
		t.Fatal(err)
	}
	var st statusResponse
	json.NewDecoder(res.Body).Decode(&st)
	res.Body.Close()
	if st.Status != "idle" || st.Runs != 0 || st.LastRun != nil {
		t.Errorf("unexpected initial status %+v", st)
	}

	req, _ := http.NewRequest(http.MethodPost, srv.URL+"/api/probe", strings.NewReader(`[{"name":"a"}]`))
	res, _ = http.DefaultClient.Do(req)
	res.Body.Close()
	if res.StatusCode != http.StatusUnauthorized {
		t.Errorf("Expected 401 without credentials, got %d", res.StatusCode)
	}

	req, _ = http.NewRequest(http.MethodPost, srv.URL+"/api/probe", strings.NewReader(`[{"name":"a"}]`))
	req.SetBasicAuth("admin", "pw")
	res, _ = http.DefaultClient.Do(req)
	res.Body.Close()
	if res.StatusCode != http.StatusOK {
		t.Errorf("Expected 200 with credentials, got %d", res.StatusCode)
	}

	res, _ = http.Get(srv.URL + "/api/status")
	st = statusResponse{}
	json.NewDecoder(res.Body).Decode(&st)
	res.Body.Close()
	if st.Runs != 1 || st.LastRun == nil || st.LastRun.RunID != "run-1" {
		t.Errorf("unexpected status after a run %+v", st)
	}
}

func TestWebSocket_BroadcastsRunEvents(t *testing.T) {
	srv, hub := newTestServer(t, &fakeProber{}, types.WebConf{})

	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws"
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("Failed to dial websocket: %v", err)
	}
	defer conn.Close()

	deadline := time.Now().Add(2 * time.Second)
	for hub.ClientCount() == 0 {
		if time.Now().After(deadline) {
			t.Fatal("websocket client was never registered")
		}
		time.Sleep(10 * time.Millisecond)
	}

	res, err := http.Post(srv.URL+"/api/probe", "application/json", strings.NewReader(`[{"name":"a"}]`))
	if err != nil {
		t.Fatal(err)
	}
	res.Body.Close()

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var events []string
	for len(events) < 2 {
		var msg WebSocketMessage
		if err := conn.ReadJSON(&msg); err != nil {
			t.Fatalf("Failed to read websocket message: %v", err)
		}
		events = append(events, msg.Type)
	}
	if events[0] != MessageRunStarted || events[1] != MessageRunFinished {
		t.Errorf("unexpected event sequence %v", events)
	}
}

func TestHub_StopsWithContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	hub := NewHub(zerolog.Nop())
	go hub.Run(ctx)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ServeWs(hub, w, r)
	}))
	defer srv.Close()

	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http"), nil)
	if err != nil {
		t.Fatalf("Failed to dial websocket: %v", err)
	}
	defer conn.Close()

	deadline := time.Now().Add(2 * time.Second)
	for hub.ClientCount() == 0 {
		if time.Now().After(deadline) {
			t.Fatal("websocket client was never registered")
		}
		time.Sleep(10 * time.Millisecond)
	}

	cancel()
	select {
	case <-hub.done:
	case <-time.After(2 * time.Second):
		t.Fatal("hub did not stop after cancel")
	}
	if n := hub.ClientCount(); n != 0 {
		t.Errorf("Expected clients to be closed, got %d", n)
	}
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	if _, _, err := conn.ReadMessage(); err == nil {
		t.Error("Expected the client connection to be closed")
	}

	// 停止后的新连接会被直接关闭, 不会阻塞
	late, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http"), nil)
	if err != nil {
		t.Fatalf("Failed to dial websocket: %v", err)
	}
	defer late.Close()
	late.SetReadDeadline(time.Now().Add(2 * time.Second))
	if _, _, err := late.ReadMessage(); err == nil {
		t.Error("Expected a late client to be closed")
	}
}
