package api

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/websocket"
)

func newTestBackend() (*Registry, *atomic.Int64) {
	reg := NewRegistry()
	reg.RegisterObject("heaters", func(attrs []string) map[string]any {
		return map[string]any{
			"P": map[string]any{"temperature": 25.0, "target": 0.0},
			"B": map[string]any{"temperature": 60.0, "target": 60.0},
		}
	})
	reg.RegisterObject("display", func(attrs []string) map[string]any {
		return map[string]any{"message": "ready", "progress": 0.5}
	})
	reg.SetStateFunc(func() string { return "running" })

	var stops atomic.Int64
	reg.SetEmergencyStop(func() { stops.Add(1) })
	return reg, &stops
}

func rpcCall(t *testing.T, h http.Handler, method string, params map[string]any) rpcResponse {
	t.Helper()
	body := map[string]any{"jsonrpc": "2.0", "method": method, "id": 7}
	if params != nil {
		body["params"] = params
	}
	raw, err := json.Marshal(body)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	req := httptest.NewRequest(http.MethodPost, "/jsonrpc", bytes.NewReader(raw))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	var resp rpcResponse
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	return resp
}

func TestServerInfo(t *testing.T) {
	reg, _ := newTestBackend()
	s := New(Config{Addr: ":0", Backend: reg})

	resp := rpcCall(t, s.Handler(), "server.info", nil)
	if resp.Error != nil {
		t.Fatalf("error: %v", resp.Error)
	}
	result, ok := resp.Result.(map[string]any)
	if !ok {
		t.Fatalf("result = %T", resp.Result)
	}
	if result["app"] != "probetherm" {
		t.Errorf("app = %v", result["app"])
	}
	if result["state"] != "running" {
		t.Errorf("state = %v", result["state"])
	}
}

func TestObjectsList(t *testing.T) {
	reg, _ := newTestBackend()
	s := New(Config{Addr: ":0", Backend: reg})

	resp := rpcCall(t, s.Handler(), "printer.objects.list", nil)
	result := resp.Result.(map[string]any)
	objects, ok := result["objects"].([]any)
	if !ok || len(objects) != 2 {
		t.Fatalf("objects = %v", result["objects"])
	}
}

func TestObjectsQuery(t *testing.T) {
	reg, _ := newTestBackend()
	s := New(Config{Addr: ":0", Backend: reg})

	resp := rpcCall(t, s.Handler(), "printer.objects.query", map[string]any{
		"objects": map[string]any{
			"heaters": nil,
			"display": []string{"message"},
			"nosuch":  nil,
		},
	})
	if resp.Error != nil {
		t.Fatalf("error: %v", resp.Error)
	}
	result := resp.Result.(map[string]any)
	status, ok := result["status"].(map[string]any)
	if !ok {
		t.Fatal("no status in result")
	}
	if _, ok := status["heaters"]; !ok {
		t.Error("heaters missing")
	}
	display, ok := status["display"].(map[string]any)
	if !ok {
		t.Fatal("display missing")
	}
	if display["message"] != "ready" {
		t.Errorf("message = %v", display["message"])
	}
	if _, ok := display["progress"]; ok {
		t.Error("progress should be filtered out")
	}
	if _, ok := status["nosuch"]; ok {
		t.Error("unknown object should be omitted")
	}
}

func TestObjectsQueryRequiresObjects(t *testing.T) {
	reg, _ := newTestBackend()
	s := New(Config{Addr: ":0", Backend: reg})

	resp := rpcCall(t, s.Handler(), "printer.objects.query", map[string]any{})
	if resp.Error == nil {
		t.Fatal("expected error for missing objects param")
	}
}

func TestGCodeScript(t *testing.T) {
	reg, _ := newTestBackend()
	var lines []string
	reg.SetScriptRunner(func(line string) error {
		lines = append(lines, line)
		return nil
	})
	s := New(Config{Addr: ":0", Backend: reg})

	resp := rpcCall(t, s.Handler(), "printer.gcode.script", map[string]any{
		"script": "M104 S210\n; a note\n\nM105",
	})
	if resp.Error != nil {
		t.Fatalf("error: %v", resp.Error)
	}
	if len(lines) != 2 || lines[0] != "M104 S210" || lines[1] != "M105" {
		t.Fatalf("lines = %q", lines)
	}
}

func TestEmergencyStop(t *testing.T) {
	reg, stops := newTestBackend()
	s := New(Config{Addr: ":0", Backend: reg})

	resp := rpcCall(t, s.Handler(), "printer.emergency_stop", nil)
	if resp.Error != nil {
		t.Fatalf("error: %v", resp.Error)
	}
	if got := stops.Load(); got != 1 {
		t.Fatalf("stop calls = %d", got)
	}
}

func TestUnknownMethod(t *testing.T) {
	reg, _ := newTestBackend()
	s := New(Config{Addr: ":0", Backend: reg})

	resp := rpcCall(t, s.Handler(), "printer.restart", nil)
	if resp.Error == nil || resp.Error.Code != codeMethodError {
		t.Fatalf("error = %v", resp.Error)
	}
}

func TestMalformedJSON(t *testing.T) {
	reg, _ := newTestBackend()
	s := New(Config{Addr: ":0", Backend: reg})

	req := httptest.NewRequest(http.MethodPost, "/jsonrpc",
		bytes.NewBufferString("{not json"))
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)

	var resp rpcResponse
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.Error == nil || resp.Error.Code != codeParseError {
		t.Fatalf("error = %v", resp.Error)
	}
}

func TestWebSocketRoundTrip(t *testing.T) {
	reg, stops := newTestBackend()
	s := New(Config{Addr: ":0", Backend: reg})

	srv := httptest.NewServer(s.Handler())
	defer srv.Close()

	wsURL := "ws" + srv.URL[4:] + "/websocket"
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	req := map[string]any{
		"jsonrpc": "2.0",
		"method":  "printer.emergency_stop",
		"id":      1,
	}
	if err := conn.WriteJSON(req); err != nil {
		t.Fatalf("write: %v", err)
	}

	conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	_, message, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	var resp rpcResponse
	if err := json.Unmarshal(message, &resp); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if resp.Error != nil {
		t.Fatalf("error: %v", resp.Error)
	}
	if got := stops.Load(); got != 1 {
		t.Fatalf("stop calls = %d", got)
	}
}

func TestRegistryStateDefault(t *testing.T) {
	reg := NewRegistry()
	if got := reg.State(); got != "ready" {
		t.Fatalf("state = %q", got)
	}
}
