package server

import (
	"encoding/base64"
	"errors"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/chazu/sponge/internal/config"
	"github.com/chazu/sponge/pkg/fractal"
	"github.com/chazu/sponge/pkg/meshcodec"
	"github.com/chazu/sponge/pkg/regen"
)

func testConfig() *config.Config {
	return &config.Config{
		Server: config.ServerConfig{
			Host:         "127.0.0.1",
			Port:         "0",
			ReadTimeout:  time.Second,
			WriteTimeout: time.Second,
		},
		Generator: config.GeneratorConfig{
			MaxDepth: 3,
			MaxBoxes: config.DefaultMaxBoxes,
			Timeout:  10 * time.Second,
		},
		RateLimit: config.RateLimitConfig{Limit: 1000, Window: time.Minute},
	}
}

// gateSource blocks its first draw until released and signals when that
// draw starts.
type gateSource struct {
	started chan struct{}
	release chan struct{}
	once    sync.Once
}

func newGateSource() *gateSource {
	return &gateSource{started: make(chan struct{}), release: make(chan struct{})}
}

func (g *gateSource) Float64() float64 {
	g.once.Do(func() {
		close(g.started)
		<-g.release
	})
	return 0.9
}

func startServer(t *testing.T, cfg *config.Config, opts ...regen.Option) *httptest.Server {
	t.Helper()
	srv := New(cfg, regen.New(opts...), nil)
	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)
	return ts
}

func dial(t *testing.T, ts *httptest.Server) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws"
	header := http.Header{}
	header.Set("Sec-WebSocket-Protocol", ProtocolVersion1)
	conn, resp, err := websocket.DefaultDialer.Dial(url, header)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	if got := resp.Header.Get("Sec-WebSocket-Protocol"); got != ProtocolVersion1 {
		t.Errorf("negotiated protocol = %q", got)
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

func sendJSON(t *testing.T, conn *websocket.Conn, v any) {
	t.Helper()
	if err := conn.WriteJSON(v); err != nil {
		t.Fatalf("write: %v", err)
	}
}

func readMessage(t *testing.T, conn *websocket.Conn) Message {
	t.Helper()
	if err := conn.SetReadDeadline(time.Now().Add(10 * time.Second)); err != nil {
		t.Fatal(err)
	}
	var msg Message
	if err := conn.ReadJSON(&msg); err != nil {
		t.Fatalf("read: %v", err)
	}
	return msg
}

func regenerateMessage(id string, req RegenerateRequest) Message {
	data, _ := json.Marshal(req)
	return Message{Type: "regenerate", ID: id, Data: data}
}

func TestRegenerateOverWebSocket(t *testing.T) {
	ts := startServer(t, testConfig())
	conn := dial(t, ts)

	sendJSON(t, conn, regenerateMessage("1", RegenerateRequest{Rule: "menger", Depth: 1}))
	msg := readMessage(t, conn)
	if msg.Type != "mesh" || msg.ID != "1" {
		t.Fatalf("got %s/%s, want mesh/1: %s", msg.Type, msg.ID, msg.Data)
	}

	var reply MeshReply
	if err := json.Unmarshal(msg.Data, &reply); err != nil {
		t.Fatal(err)
	}
	if reply.Boxes != 20 || reply.Vertices != 20*24 || reply.Triangles != 20*12 {
		t.Errorf("reply = %+v", reply)
	}
	if reply.Encoding != Encoding {
		t.Errorf("Encoding = %q", reply.Encoding)
	}

	payload, err := base64.StdEncoding.DecodeString(reply.Payload)
	if err != nil {
		t.Fatal(err)
	}
	mesh, err := meshcodec.Decode(payload)
	if err != nil {
		t.Fatalf("Decode() error = %v", err)
	}
	if mesh.VertexCount() != reply.Vertices || mesh.PartName != "menger" {
		t.Errorf("decoded mesh: %d vertices, name %q", mesh.VertexCount(), mesh.PartName)
	}
}

func TestRegenerateDefaultsAndCustomBox(t *testing.T) {
	ts := startServer(t, testConfig())
	conn := dial(t, ts)

	raw := `{"type":"regenerate","id":"b","data":{"depth":0,"box":{"center":{"x":1,"y":2,"z":3},"size":{"x":2,"y":4,"z":6}}}}`
	if err := conn.WriteMessage(websocket.TextMessage, []byte(raw)); err != nil {
		t.Fatal(err)
	}
	msg := readMessage(t, conn)
	if msg.Type != "mesh" {
		t.Fatalf("type = %s: %s", msg.Type, msg.Data)
	}
	var reply MeshReply
	if err := json.Unmarshal(msg.Data, &reply); err != nil {
		t.Fatal(err)
	}
	payload, _ := base64.StdEncoding.DecodeString(reply.Payload)
	mesh, err := meshcodec.Decode(payload)
	if err != nil {
		t.Fatal(err)
	}
	lo, hi := mesh.Bounds()
	if lo != [3]float32{0, 0, 0} || hi != [3]float32{2, 4, 6} {
		t.Errorf("bounds = %v..%v, want [0 0 0]..[2 4 6]", lo, hi)
	}
}

func TestRegenerateRejectedWhileBusy(t *testing.T) {
	gate := newGateSource()
	ts := startServer(t, testConfig(), regen.WithSource(gate))
	conn := dial(t, ts)

	sendJSON(t, conn, regenerateMessage("slow", RegenerateRequest{Rule: "menger", Depth: 1, Randomize: true}))
	select {
	case <-gate.started:
	case <-time.After(5 * time.Second):
		t.Fatal("first generation never started")
	}

	sendJSON(t, conn, regenerateMessage("fast", RegenerateRequest{Rule: "menger", Depth: 1}))
	msg := readMessage(t, conn)
	if msg.Type != "rejected" || msg.ID != "fast" {
		t.Fatalf("got %s/%s, want rejected/fast", msg.Type, msg.ID)
	}

	close(gate.release)
	msg = readMessage(t, conn)
	if msg.Type != "mesh" || msg.ID != "slow" {
		t.Fatalf("got %s/%s, want mesh/slow", msg.Type, msg.ID)
	}
}

func TestWebSocketErrors(t *testing.T) {
	ts := startServer(t, testConfig())
	conn := dial(t, ts)

	tests := []struct {
		name string
		raw  string
		code string
	}{
		{"bad json", `{"type":`, "InvalidMessageFormat"},
		{"unknown type", `{"type":"explode","id":"x"}`, "UnknownMessageType"},
		{"bad data", `{"type":"regenerate","id":"x","data":"nope"}`, "InvalidMessageFormat"},
		{"unknown rule", `{"type":"regenerate","id":"x","data":{"rule":"octahedron","depth":1}}`, "UnknownRule"},
		{"too deep", `{"type":"regenerate","id":"x","data":{"depth":9}}`, "InvalidConfig"},
		{"negative depth", `{"type":"regenerate","id":"x","data":{"depth":-1}}`, "InvalidConfig"},
		{"flat box", `{"type":"regenerate","id":"x","data":{"box":{"size":{"x":1,"y":0,"z":1}}}}`, "InvalidConfig"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := conn.WriteMessage(websocket.TextMessage, []byte(tt.raw)); err != nil {
				t.Fatal(err)
			}
			if err := conn.SetReadDeadline(time.Now().Add(5 * time.Second)); err != nil {
				t.Fatal(err)
			}
			var e ErrorMessage
			if err := conn.ReadJSON(&e); err != nil {
				t.Fatal(err)
			}
			if e.Type != "error" || e.Code != tt.code {
				t.Errorf("got %+v, want code %s", e, tt.code)
			}
		})
	}
}

func TestPing(t *testing.T) {
	ts := startServer(t, testConfig())
	conn := dial(t, ts)

	sendJSON(t, conn, Message{Type: "ping", ID: "p1"})
	msg := readMessage(t, conn)
	if msg.Type != "pong" || msg.ID != "p1" {
		t.Errorf("got %s/%s, want pong/p1", msg.Type, msg.ID)
	}
}

func TestUnsupportedProtocol(t *testing.T) {
	ts := startServer(t, testConfig())
	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws"
	header := http.Header{}
	header.Set("Sec-WebSocket-Protocol", "sponge-v9")
	_, resp, err := websocket.DefaultDialer.Dial(url, header)
	if err == nil {
		t.Fatal("expected dial failure")
	}
	if resp == nil || resp.StatusCode != http.StatusBadRequest {
		t.Errorf("response = %v, want 400", resp)
	}
}

func TestNegotiateVersion(t *testing.T) {
	tests := []struct {
		name      string
		requested string
		want      string
	}{
		{"empty defaults to v1", "", ProtocolVersion1},
		{"v1 requested", ProtocolVersion1, ProtocolVersion1},
		{"multiple versions", "sponge-v2, sponge-v1", ProtocolVersion1},
		{"unsupported", "sponge-v99", ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := negotiateVersion(tt.requested); got != tt.want {
				t.Errorf("negotiateVersion(%q) = %q, want %q", tt.requested, got, tt.want)
			}
		})
	}
}

func TestRulesEndpoint(t *testing.T) {
	ts := startServer(t, testConfig())
	resp, err := http.Get(ts.URL + "/api/rules")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()

	var body struct {
		Rules []ruleInfo `json:"rules"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatal(err)
	}
	if len(body.Rules) != 2 {
		t.Fatalf("rules = %+v", body.Rules)
	}
	want := []ruleInfo{
		{Name: "jeruzalem", Kind: "jeruzalem", Range: 2, Parts: 5},
		{Name: "menger", Kind: "menger", Range: 1, Parts: 3},
	}
	for i := range want {
		if body.Rules[i] != want[i] {
			t.Errorf("rules[%d] = %+v, want %+v", i, body.Rules[i], want[i])
		}
	}
}

func TestHealthz(t *testing.T) {
	ts := startServer(t, testConfig())
	resp, err := http.Get(ts.URL + "/healthz")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	var body map[string]any
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatal(err)
	}
	if body["status"] != "ok" || body["busy"] != false {
		t.Errorf("body = %v", body)
	}
}

func TestOriginRejected(t *testing.T) {
	cfg := testConfig()
	cfg.Server.AllowedOrigins = []string{"http://allowed.test"}
	ts := startServer(t, cfg)

	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws"
	header := http.Header{}
	header.Set("Origin", "http://evil.test")
	if _, _, err := websocket.DefaultDialer.Dial(url, header); err == nil {
		t.Fatal("expected origin rejection")
	}
}

func TestBuildRequestCapsBoxCount(t *testing.T) {
	cfg := testConfig()
	cfg.Generator.MaxDepth = 4
	srv := New(cfg, regen.New(), nil)

	tests := []struct {
		name    string
		req     RegenerateRequest
		wantErr bool
	}{
		{"menger depth 4", RegenerateRequest{Rule: "menger", Depth: 4}, false},
		{"jeruzalem depth 3", RegenerateRequest{Rule: "jeruzalem", Depth: 3}, false},
		{"jeruzalem depth 4", RegenerateRequest{Rule: "jeruzalem", Depth: 4}, true},
		{"randomized jeruzalem depth 4", RegenerateRequest{Rule: "jeruzalem", Depth: 4, Randomize: true}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, _, err := srv.buildRequest(tt.req)
			if (err != nil) != tt.wantErr {
				t.Fatalf("buildRequest() error = %v, wantErr %v", err, tt.wantErr)
			}
			if err != nil && !errors.Is(err, fractal.ErrInvalidConfig) {
				t.Errorf("error = %v, want ErrInvalidConfig", err)
			}
		})
	}
}

func TestOversizedRequestRejectedOverWebSocket(t *testing.T) {
	cfg := testConfig()
	cfg.Generator.MaxDepth = 4
	ts := startServer(t, cfg)
	conn := dial(t, ts)

	sendJSON(t, conn, regenerateMessage("big", RegenerateRequest{Rule: "jeruzalem", Depth: 4}))
	if err := conn.SetReadDeadline(time.Now().Add(5 * time.Second)); err != nil {
		t.Fatal(err)
	}
	var e ErrorMessage
	if err := conn.ReadJSON(&e); err != nil {
		t.Fatal(err)
	}
	if e.Type != "error" || e.ID != "big" || e.Code != "InvalidConfig" {
		t.Errorf("got %+v, want InvalidConfig error for big", e)
	}
}
