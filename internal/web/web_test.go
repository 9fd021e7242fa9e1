package web

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"math"
	"net"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/gorilla/websocket"
	"go.uber.org/zap/zaptest"

	"github.com/camera-control/ccs/internal/auth"
	"github.com/camera-control/ccs/internal/config"
	"github.com/camera-control/ccs/internal/dispatch"
	"github.com/camera-control/ccs/internal/instrument"
	"github.com/camera-control/ccs/internal/registry"
	"github.com/camera-control/ccs/internal/telemetry"
	"github.com/camera-control/ccs/internal/tool"
)

type statusRecorder struct {
	mu    sync.Mutex
	calls [][]dispatch.Snapshot
}

func (r *statusRecorder) RecordStatus(at time.Time, snapshots []dispatch.Snapshot) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = append(r.calls, snapshots)
}

func (r *statusRecorder) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.calls)
}

func newDispatcher(t *testing.T, opts ...dispatch.Option) *dispatch.Dispatcher {
	t.Helper()
	cfg := config.Default()
	exposure, err := instrument.NewExposure(cfg.Tools.Exposure, t.TempDir(), nil)
	if err != nil {
		t.Fatalf("NewExposure failed: %v", err)
	}

	reg := registry.New()
	for _, tl := range []tool.Tool{instrument.NewTempcon(cfg.Tools.Tempcon), exposure} {
		if err := reg.Register(tl.Name(), tl); err != nil {
			t.Fatalf("Register failed: %v", err)
		}
	}
	reg.Seal()
	return dispatch.New(reg, zaptest.NewLogger(t), opts...)
}

func newTestServer(t *testing.T, opts Options, options ...Option) (*Server, *httptest.Server) {
	t.Helper()
	s := NewServer(opts, newDispatcher(t), zaptest.NewLogger(t), options...)
	ts := httptest.NewServer(s.Handler())
	t.Cleanup(func() {
		s.closeWebSockets()
		ts.Close()
	})
	return s, ts
}

func doJSON(t *testing.T, method, url, body, token string) (int, Response) {
	t.Helper()
	req, err := http.NewRequest(method, url, strings.NewReader(body))
	if err != nil {
		t.Fatalf("NewRequest failed: %v", err)
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("%s %s failed: %v", method, url, err)
	}
	defer resp.Body.Close()

	var envelope Response
	if err := json.NewDecoder(resp.Body).Decode(&envelope); err != nil {
		t.Fatalf("Invalid envelope from %s %s: %v", method, url, err)
	}
	if envelope.CorrelationID == "" {
		t.Errorf("Missing correlation id from %s %s", method, url)
	}
	return resp.StatusCode, envelope
}

func command(t *testing.T, base, line string) (int, Response) {
	t.Helper()
	body, _ := json.Marshal(map[string]string{"command": line})
	return doJSON(t, http.MethodPost, base+"/api/v1/command", string(body), "")
}

func TestCommandTranscript(t *testing.T) {
	_, ts := newTestServer(t, Options{})

	tests := []struct {
		line   string
		status int
		code   string
		value  string
	}{
		{"tempcon.control_temperature", http.StatusOK, "", "-100.0"},
		{"tempcon.control_temperature=-90.0", http.StatusOK, "", ""},
		{"tempcon.control_temperature", http.StatusOK, "", "-90.0"},
		{"tempcon.get_temperatures", http.StatusOK, "", "-90.0 -110.0"},
		{"bogus.foo", http.StatusNotFound, "UnknownToolError", ""},
		{"tempcon.nope", http.StatusNotFound, "UnknownMethodError", ""},
		{"tempcon.set_control_temperature cold", http.StatusBadRequest, "ArgumentError", ""},
		{"tempcon", http.StatusBadRequest, "ArgumentError", ""},
		{"exposure.fault=jammed", http.StatusOK, "", ""},
		{"exposure.expose 1", http.StatusInternalServerError, "ToolOperationError", ""},
		{"exposure.filetype", http.StatusOK, "", "MEF"},
	}

	for _, tt := range tests {
		t.Run(tt.line, func(t *testing.T) {
			status, resp := command(t, ts.URL, tt.line)
			if status != tt.status {
				t.Fatalf("Expected status %d, got %d (%+v)", tt.status, status, resp)
			}
			if tt.code != "" {
				if resp.Result != ResultError || resp.Code != tt.code {
					t.Errorf("Expected %s, got %+v", tt.code, resp)
				}
				return
			}
			if resp.Result != ResultOK {
				t.Fatalf("Expected ok, got %+v", resp)
			}
			if got := dispatch.FormatValue(resp.Data); got != tt.value {
				t.Errorf("Expected value %q, got %q", tt.value, got)
			}
		})
	}
}

func TestHTTPMatchesLineProtocol(t *testing.T) {
	s, ts := newTestServer(t, Options{})
	lines := dispatch.NewLineSession(s.dispatcher, dispatch.Request{Source: dispatch.SourceInternal})
	ctx := context.Background()

	for _, line := range []string{
		"tempcon.control_temperature",
		"tempcon.get_temperatures",
		"exposure.get_filename",
		"bogus.foo",
		"tempcon.set_control_temperature 1 2",
	} {
		want, _ := lines.Handle(ctx, line)
		_, resp := command(t, ts.URL, line)

		got := dispatch.Reply{Status: dispatch.StatusOK, Data: resp.Data}
		if resp.Result == ResultError {
			got = dispatch.Reply{Status: dispatch.StatusError, Code: resp.Code, Message: resp.Message}
		}
		if got.Line(false) != want {
			t.Errorf("%s: HTTP gave %q, line protocol gave %q", line, got.Line(false), want)
		}
	}
}

func TestAttributeRoutes(t *testing.T) {
	_, ts := newTestServer(t, Options{})
	url := ts.URL + "/api/v1/tools/tempcon/control_temperature"

	status, resp := doJSON(t, http.MethodPost, url, `{"value": -75.5}`, "")
	if status != http.StatusOK {
		t.Fatalf("Set failed: %d %+v", status, resp)
	}
	status, resp = doJSON(t, http.MethodGet, url, "", "")
	if status != http.StatusOK || resp.Data != -75.5 {
		t.Errorf("Expected -75.5, got %d %+v", status, resp)
	}

	// Text values go through the same conversion as the line protocol
	if status, _ := doJSON(t, http.MethodPost, url, `{"value": "-80"}`, ""); status != http.StatusOK {
		t.Errorf("Expected string value to convert, got %d", status)
	}

	tests := []struct {
		name   string
		method string
		path   string
		body   string
		status int
		code   string
	}{
		{"bad json", http.MethodPost, "/api/v1/tools/tempcon/control_temperature", `{"value":`, http.StatusBadRequest, CodeBadRequest},
		{"missing value", http.MethodPost, "/api/v1/tools/tempcon/control_temperature", `{}`, http.StatusBadRequest, CodeBadRequest},
		{"unknown field", http.MethodPost, "/api/v1/tools/tempcon/control_temperature", `{"value": 1, "unit": "C"}`, http.StatusBadRequest, CodeBadRequest},
		{"trailing data", http.MethodPost, "/api/v1/tools/tempcon/control_temperature", `{"value": 1} {}`, http.StatusBadRequest, CodeBadRequest},
		{"wrong kind", http.MethodPost, "/api/v1/tools/tempcon/control_temperature", `{"value": "warm"}`, http.StatusBadRequest, "ArgumentError"},
		{"nan", http.MethodPost, "/api/v1/tools/tempcon/control_temperature", `{"value": "NaN"}`, http.StatusBadRequest, "ArgumentError"},
		{"nan command", http.MethodPost, "/api/v1/command", `{"command": "tempcon.control_temperature=NaN"}`, http.StatusBadRequest, "ArgumentError"},
		{"read only", http.MethodPost, "/api/v1/tools/exposure/exposure_flag", `{"value": "idle"}`, http.StatusBadRequest, "ArgumentError"},
		{"unknown tool", http.MethodGet, "/api/v1/tools/bogus/foo", "", http.StatusNotFound, "UnknownToolError"},
		{"unknown attribute", http.MethodGet, "/api/v1/tools/tempcon/nope", "", http.StatusNotFound, "UnknownMethodError"},
		{"method is not an attribute", http.MethodGet, "/api/v1/tools/tempcon/get_temperatures", "", http.StatusNotFound, "UnknownMethodError"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			status, resp := doJSON(t, tt.method, ts.URL+tt.path, tt.body, "")
			if status != tt.status || resp.Code != tt.code {
				t.Errorf("Expected %d %s, got %d %+v", tt.status, tt.code, status, resp)
			}
		})
	}
}

func TestToolRoutes(t *testing.T) {
	_, ts := newTestServer(t, Options{SystemName: "mock", Version: "test"})

	status, resp := doJSON(t, http.MethodGet, ts.URL+"/api/v1/tools", "", "")
	if status != http.StatusOK {
		t.Fatalf("Expected 200, got %d", status)
	}
	tools := resp.Data.([]interface{})
	if len(tools) != 2 || tools[0].(map[string]interface{})["name"] != "tempcon" || tools[1].(map[string]interface{})["name"] != "exposure" {
		t.Errorf("Expected tools in registration order, got %v", tools)
	}

	status, resp = doJSON(t, http.MethodGet, ts.URL+"/api/v1/tools/exposure", "", "")
	if status != http.StatusOK {
		t.Fatalf("Expected 200, got %d", status)
	}
	attrs := resp.Data.(map[string]interface{})["attributes"].(map[string]interface{})
	if attrs["filetype"] != "MEF" || attrs["display_image"] != false {
		t.Errorf("Unexpected exposure attributes %v", attrs)
	}

	if status, _ := doJSON(t, http.MethodGet, ts.URL+"/api/v1/tools/bogus", "", ""); status != http.StatusNotFound {
		t.Errorf("Expected 404 for unknown tool, got %d", status)
	}

	status, resp = doJSON(t, http.MethodGet, ts.URL+"/api/v1/status", "", "")
	if status != http.StatusOK || len(resp.Data.([]interface{})) != 2 {
		t.Errorf("Unexpected status response %d %+v", status, resp)
	}

	status, resp = doJSON(t, http.MethodGet, ts.URL+"/api/v1/health", "", "")
	health := resp.Data.(map[string]interface{})
	if status != http.StatusOK || health["systemName"] != "mock" || health["tools"] != 2.0 {
		t.Errorf("Unexpected health %d %v", status, health)
	}
}

func TestAuthProtectsRoutes(t *testing.T) {
	const secret = "web-test-secret"
	v, err := auth.NewVerifier(auth.VerifierConfig{SecretKey: secret})
	if err != nil {
		t.Fatalf("NewVerifier failed: %v", err)
	}
	_, ts := newTestServer(t, Options{}, WithAuth(auth.NewMiddleware(v, nil)))

	sign := func(scopes ...string) string {
		token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
			"sub":    "tester",
			"scopes": scopes,
			"exp":    time.Now().Add(time.Hour).Unix(),
		}).SignedString([]byte(secret))
		if err != nil {
			t.Fatalf("Failed to sign: %v", err)
		}
		return token
	}
	readToken := sign(auth.ScopeRead)
	controlToken := sign(auth.ScopeControl)
	commandBody := `{"command": "tempcon.control_temperature"}`

	tests := []struct {
		name   string
		method string
		path   string
		body   string
		token  string
		status int
	}{
		{"health without token", http.MethodGet, "/api/v1/health", "", "", http.StatusOK},
		{"tools without token", http.MethodGet, "/api/v1/tools", "", "", http.StatusUnauthorized},
		{"tools with read", http.MethodGet, "/api/v1/tools", "", readToken, http.StatusOK},
		{"command with read", http.MethodPost, "/api/v1/command", commandBody, readToken, http.StatusForbidden},
		{"command with control", http.MethodPost, "/api/v1/command", commandBody, controlToken, http.StatusOK},
		{"set with read", http.MethodPost, "/api/v1/tools/tempcon/control_temperature", `{"value": 1}`, readToken, http.StatusForbidden},
		{"status with control", http.MethodGet, "/api/v1/status", "", controlToken, http.StatusOK},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			status, resp := doJSON(t, tt.method, ts.URL+tt.path, tt.body, tt.token)
			if status != tt.status {
				t.Errorf("Expected %d, got %d (%+v)", tt.status, status, resp)
			}
		})
	}
}

func dialWebSocket(t *testing.T, ts *httptest.Server) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/api/v1/ws"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("Dial failed: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

func exchange(t *testing.T, conn *websocket.Conn, line string) string {
	t.Helper()
	if err := conn.WriteMessage(websocket.TextMessage, []byte(line)); err != nil {
		t.Fatalf("Write failed: %v", err)
	}
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, reply, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("Read failed: %v", err)
	}
	return string(reply)
}

func TestWebSocketSession(t *testing.T) {
	_, ts := newTestServer(t, Options{})
	conn := dialWebSocket(t, ts)

	transcript := []struct{ send, want string }{
		{"tempcon.control_temperature", "OK -100.0"},
		{"tempcon.control_temperature=-90.0", "OK"},
		{"tempcon.control_temperature", "OK -90.0"},
		{"bogus.foo", "ERROR UnknownToolError bogus"},
		{"verbose on", "OK"},
		{"tempcon.get_temperatures", "OK [-90,-110]"},
		{"quit", "OK"},
	}
	for _, step := range transcript {
		if got := exchange(t, conn, step.send); got != step.want {
			t.Errorf("%s: expected %q, got %q", step.send, step.want, got)
		}
	}

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	if _, _, err := conn.ReadMessage(); !websocket.IsCloseError(err, websocket.CloseNormalClosure) {
		t.Errorf("Expected normal close after quit, got %v", err)
	}
}

func TestStopClosesWebSockets(t *testing.T) {
	s, ts := newTestServer(t, Options{})
	conn := dialWebSocket(t, ts)
	exchange(t, conn, "tempcon.control_temperature")

	if s.WebSocketCount() != 1 {
		t.Fatalf("Expected 1 WebSocket session, got %d", s.WebSocketCount())
	}
	s.closeWebSockets()

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	if _, _, err := conn.ReadMessage(); err == nil {
		t.Error("Expected read to fail after close")
	}
	// New sessions are refused once closed
	late, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(ts.URL, "http")+"/api/v1/ws", nil)
	if err == nil {
		late.SetReadDeadline(time.Now().Add(2 * time.Second))
		if _, _, err := late.ReadMessage(); err == nil {
			t.Error("Expected late session to be closed")
		}
		late.Close()
	}
}

func TestListenBindError(t *testing.T) {
	busy, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("Listen failed: %v", err)
	}
	defer busy.Close()
	port := busy.Addr().(*net.TCPAddr).Port

	s := NewServer(Options{Host: "127.0.0.1", Port: port}, newDispatcher(t), zaptest.NewLogger(t))
	err = s.Listen()
	if !errors.Is(err, tool.ErrBind) {
		t.Fatalf("Expected BindError, got %v", err)
	}
	if !strings.Contains(err.Error(), strconv.Itoa(port)) {
		t.Errorf("Expected address in error, got %v", err)
	}
}

func TestServeUntilCancelled(t *testing.T) {
	s := NewServer(Options{Host: "127.0.0.1"}, newDispatcher(t), zaptest.NewLogger(t))
	if err := s.Listen(); err != nil {
		t.Fatalf("Listen failed: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Serve(ctx) }()

	resp, err := http.Get("http://" + s.Addr().String() + "/api/v1/health")
	if err != nil {
		t.Fatalf("Health request failed: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("Expected 200, got %d", resp.StatusCode)
	}

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Serve returned error: %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Serve did not return after cancel")
	}
}

func TestStatusLog(t *testing.T) {
	rec := &statusRecorder{}
	s := NewServer(Options{LogStatus: true, StatusInterval: 10 * time.Millisecond}, newDispatcher(t), zaptest.NewLogger(t),
		WithStatusRecorder(rec))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.RunStatusLog(ctx) }()

	deadline := time.Now().Add(2 * time.Second)
	for rec.count() < 2 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	cancel()
	<-done

	if rec.count() < 2 {
		t.Fatalf("Expected at least 2 status records, got %d", rec.count())
	}
	rec.mu.Lock()
	first := rec.calls[0]
	rec.mu.Unlock()
	if len(first) != 2 || first[0].Tool != "tempcon" || first[0].Attributes["control_temperature"] != -100.0 {
		t.Errorf("Unexpected snapshot %+v", first)
	}

	// Status logging off returns at once
	off := NewServer(Options{}, newDispatcher(t), nil)
	if err := off.RunStatusLog(context.Background()); err != nil {
		t.Errorf("Expected nil, got %v", err)
	}
}

func TestEventsWithoutHub(t *testing.T) {
	_, ts := newTestServer(t, Options{})
	status, resp := doJSON(t, http.MethodGet, ts.URL+"/api/v1/events", "", "")
	if status != http.StatusServiceUnavailable || resp.Code != CodeUnavailable {
		t.Errorf("Expected 503, got %d %+v", status, resp)
	}
}

func TestWriteResponse(t *testing.T) {
	w := httptest.NewRecorder()
	WriteError(w, http.StatusTeapot, "TEAPOT", "short and stout", map[string]int{"spout": 1})

	if w.Code != http.StatusTeapot {
		t.Errorf("Expected 418, got %d", w.Code)
	}
	if !bytes.Contains(w.Body.Bytes(), []byte(`"details":{"spout":1}`)) {
		t.Errorf("Expected details in body, got %s", w.Body.String())
	}

	w = httptest.NewRecorder()
	WriteSuccess(w, map[string]interface{}{"bad": math.NaN()})
	if w.Code != http.StatusInternalServerError {
		t.Errorf("Expected 500 for unencodable data, got %d", w.Code)
	}
	if ct := w.Header().Get("Content-Type"); !strings.HasPrefix(ct, "application/json") {
		t.Errorf("Expected JSON content type, got %q", ct)
	}
	var fallback Response
	if err := json.Unmarshal(w.Body.Bytes(), &fallback); err != nil {
		t.Fatalf("Expected JSON envelope, got %q", w.Body.String())
	}
	if fallback.Result != ResultError || fallback.Code != CodeInternal || fallback.CorrelationID == "" {
		t.Errorf("Unexpected fallback envelope %+v", fallback)
	}

	status, resp := ToAPIError(errors.New("boom"))
	if status != http.StatusInternalServerError || resp.Code != CodeInternal {
		t.Errorf("Expected INTERNAL for plain error, got %d %+v", status, resp)
	}
	status, resp = ToAPIError(tool.Errorf(tool.ErrArgument, "tempcon.x", "bad"))
	if status != http.StatusBadRequest || resp.Code != "ArgumentError" || resp.Message != "tempcon.x: bad" {
		t.Errorf("Unexpected mapping %d %+v", status, resp)
	}
}

func TestEventStream(t *testing.T) {
	hub := telemetry.NewHub(telemetry.Options{BufferSize: 10}, zaptest.NewLogger(t))
	s := NewServer(Options{LogCommands: true}, newDispatcher(t, dispatch.WithRecorder(hub)), zaptest.NewLogger(t), WithHub(hub))
	ts := httptest.NewServer(s.Handler())
	t.Cleanup(func() {
		hub.Stop()
		ts.Close()
	})

	resp, err := http.Get(ts.URL + "/api/v1/events")
	if err != nil {
		t.Fatalf("Subscribe failed: %v", err)
	}
	defer resp.Body.Close()

	events := make(chan string, 10)
	go func() {
		scanner := bufio.NewScanner(resp.Body)
		for scanner.Scan() {
			if name, ok := strings.CutPrefix(scanner.Text(), "event: "); ok {
				events <- name
			}
		}
		close(events)
	}()

	next := func() string {
		select {
		case e := <-events:
			return e
		case <-time.After(2 * time.Second):
			t.Fatal("Timed out waiting for event")
			return ""
		}
	}

	if e := next(); e != telemetry.EventReady {
		t.Fatalf("Expected ready event, got %q", e)
	}
	command(t, ts.URL, "tempcon.control_temperature=-85")
	if e := next(); e != telemetry.EventCommand {
		t.Errorf("Expected command event, got %q", e)
	}

	s.logStatus(context.Background(), time.Now())
	if e := next(); e != telemetry.EventStatus {
		t.Errorf("Expected status event, got %q", e)
	}
}

func TestCommandSurvivesClientDisconnect(t *testing.T) {
	display := instrument.NewDisplay(config.DisplayConfig{InitDelayMs: 200}, nil)
	reg := registry.New()
	if err := reg.Register(display.Name(), display); err != nil {
		t.Fatalf("Register failed: %v", err)
	}
	reg.Seal()
	d := dispatch.New(reg, zaptest.NewLogger(t))
	s := NewServer(Options{}, d, zaptest.NewLogger(t))

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	req := httptest.NewRequest(http.MethodPost, "/api/v1/command", strings.NewReader(`{"command": "display.initialize"}`)).WithContext(ctx)
	w := httptest.NewRecorder()
	s.Handler().ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Errorf("Expected initialize to complete after disconnect, got %d %s", w.Code, w.Body.String())
	}
	reply := d.Get(context.Background(), dispatch.Request{Source: dispatch.SourceInternal}, "display", "initialized")
	if reply.Data != true {
		t.Errorf("Expected display initialized, got %+v", reply)
	}
}
