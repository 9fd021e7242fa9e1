package app

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/BurntSushi/toml"
	"go.uber.org/zap/zaptest"

	"github.com/camera-control/ccs/internal/config"
	"github.com/camera-control/ccs/internal/dispatch"
	"github.com/camera-control/ccs/internal/tool"
)

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	cfg := config.Default()
	cfg.System.SystemFolder = t.TempDir()
	cfg.Command.Host = "127.0.0.1"
	cfg.Command.Port = 0
	cfg.Web.Host = "127.0.0.1"
	cfg.Web.Port = 0
	return cfg
}

func writeParFile(t *testing.T, cfg *config.Config, content string) string {
	t.Helper()
	path := cfg.Paths().ParFile
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		t.Fatalf("Failed to create parameter folder: %v", err)
	}
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("Failed to write parameter file: %v", err)
	}
	return path
}

// startApp builds and serves an App until the test ends.
func startApp(t *testing.T, cfg *config.Config) *App {
	t.Helper()
	a, err := New(cfg, zaptest.NewLogger(t))
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	if err := a.Start(); err != nil {
		a.Close()
		t.Fatalf("Start failed: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- a.Serve(ctx) }()
	t.Cleanup(func() {
		cancel()
		select {
		case err := <-done:
			if err != nil {
				t.Errorf("Serve returned %v", err)
			}
		case <-time.After(5 * time.Second):
			t.Error("Serve did not return after cancel")
		}
		a.Close()
	})
	return a
}

type lineClient struct {
	conn   net.Conn
	reader *bufio.Reader
}

func dial(t *testing.T, a *App) *lineClient {
	t.Helper()
	conn, err := net.Dial("tcp", a.CommandAddr().String())
	if err != nil {
		t.Fatalf("Dial failed: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	return &lineClient{conn: conn, reader: bufio.NewReader(conn)}
}

func (c *lineClient) send(t *testing.T, line string) string {
	t.Helper()
	c.conn.SetDeadline(time.Now().Add(5 * time.Second))
	if _, err := io.WriteString(c.conn, line+"\r\n"); err != nil {
		t.Fatalf("Write failed: %v", err)
	}
	reply, err := c.reader.ReadString('\n')
	if err != nil {
		t.Fatalf("Read failed: %v", err)
	}
	return strings.TrimRight(reply, "\r\n")
}

func TestSocketTranscript(t *testing.T) {
	a := startApp(t, testConfig(t))
	c := dial(t, a)

	transcript := []struct {
		line string
		want string
	}{
		{"tempcon.control_temperature", "OK -100.0"},
		{"tempcon.control_temperature=-90.0", "OK"},
		{"tempcon.get_temperatures", "OK -90.0 -110.0"},
		{"exposure.filetype", "OK MEF"},
		{"server.version", "OK " + Version},
		{"server.systemname", "OK mock"},
		{"nosuch.thing", "ERROR UnknownTool"},
		{"tempcon.nosuch", "ERROR UnknownMethod"},
		{"server.version=2", "ERROR ArgumentError"},
	}
	for _, step := range transcript {
		got := c.send(t, step.line)
		if !strings.HasPrefix(got, step.want) {
			t.Errorf("%s: expected %q, got %q", step.line, step.want, got)
		}
	}
}

func TestWebHealth(t *testing.T) {
	a := startApp(t, testConfig(t))

	resp, err := http.Get("http://" + a.WebAddr().String() + "/api/v1/health")
	if err != nil {
		t.Fatalf("Health request failed: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("Expected 200, got %d", resp.StatusCode)
	}
}

func TestParameterOverlay(t *testing.T) {
	cfg := testConfig(t)
	writeParFile(t, cfg, `
[tempcon]
control_temperature = -110.0

[exposure]
filetype = "FITS"
image_title = "flat field"

[telescope]
ra = 10.0
`)
	a := startApp(t, cfg)
	c := dial(t, a)

	if got := c.send(t, "tempcon.control_temperature"); got != "OK -110.0" {
		t.Errorf("Expected overlaid temperature, got %q", got)
	}
	if got := c.send(t, "exposure.filetype"); got != "OK FITS" {
		t.Errorf("Expected overlaid filetype, got %q", got)
	}
	if got := c.send(t, "exposure.image_title"); got != "OK flat field" {
		t.Errorf("Expected overlaid title, got %q", got)
	}
	// read-only entries are skipped, not fatal
	if got := c.send(t, "telescope.ra"); got != "OK 0.0" {
		t.Errorf("Expected read-only ra untouched, got %q", got)
	}
}

func TestInvalidParameterFile(t *testing.T) {
	cfg := testConfig(t)
	writeParFile(t, cfg, "[tempcon\ncontrol_temperature = ")

	if _, err := New(cfg, zaptest.NewLogger(t)); err == nil {
		t.Error("Expected error for unparsable parameter file")
	}
}

func TestSecondInstanceLocked(t *testing.T) {
	cfg := testConfig(t)
	first, err := New(cfg, zaptest.NewLogger(t))
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	defer first.Close()

	if _, err := New(cfg, zaptest.NewLogger(t)); !errors.Is(err, ErrLocked) {
		t.Errorf("Expected ErrLocked, got %v", err)
	}

	first.Close()
	second, err := New(cfg, zaptest.NewLogger(t))
	if err != nil {
		t.Fatalf("Expected lock to be free after Close, got %v", err)
	}
	second.Close()
}

func TestStartBindError(t *testing.T) {
	busy, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("Listen failed: %v", err)
	}
	defer busy.Close()

	cfg := testConfig(t)
	cfg.Web.Port = busy.Addr().(*net.TCPAddr).Port

	a, err := New(cfg, zaptest.NewLogger(t))
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	defer a.Close()

	err = a.Start()
	if !errors.Is(err, tool.ErrBind) {
		t.Fatalf("Expected BindError, got %v", err)
	}
	if tool.Code(err) != "BindError" {
		t.Errorf("Expected BindError code, got %s", tool.Code(err))
	}
}

func TestServerTool(t *testing.T) {
	cfg := testConfig(t)
	writeParFile(t, cfg, "[tempcon]\ncontrol_temperature = -100.0\n")
	a := startApp(t, cfg)
	d := a.Dispatcher()
	ctx := context.Background()
	req := dispatch.Request{Source: dispatch.SourceInternal}

	reply := d.Call(ctx, req, "server", "tools")
	names, ok := reply.Data.([]string)
	if !reply.OK() || !ok {
		t.Fatalf("Unexpected tools reply %+v", reply)
	}
	want := []string{"controller", "tempcon", "exposure", "instrument", "telescope", "system", "display", "server"}
	if strings.Join(names, ",") != strings.Join(want, ",") {
		t.Errorf("Expected tools %v, got %v", want, names)
	}

	reply = d.Call(ctx, req, "server", "status")
	status, ok := reply.Data.(map[string]interface{})
	if !reply.OK() || !ok {
		t.Fatalf("Unexpected status reply %+v", reply)
	}
	if _, ok := status["server"]; ok {
		t.Error("Expected server tool excluded from its own status")
	}
	if _, ok := status["tempcon"]; !ok {
		t.Errorf("Expected tempcon in status, got %v", status)
	}

	reply = d.Call(ctx, req, "server", "help", "tempcon")
	lines, _ := reply.Data.([]string)
	joined := strings.Join(lines, "\n")
	if !strings.Contains(joined, "control_temperature float") ||
		!strings.Contains(joined, "set_control_temperature(temperature float)") {
		t.Errorf("Unexpected help %q", joined)
	}
	if reply := d.Call(ctx, req, "server", "help", "nosuch"); reply.Code != "UnknownToolError" {
		t.Errorf("Expected UnknownTool for help on unknown tool, got %+v", reply)
	}

	if reply := d.Set(ctx, req, "tempcon", "control_temperature", -95.5); !reply.OK() {
		t.Fatalf("Set failed: %+v", reply)
	}
	reply = d.Call(ctx, req, "server", "save_parameters")
	if !reply.OK() {
		t.Fatalf("save_parameters failed: %+v", reply)
	}
	var saved map[string]map[string]interface{}
	if _, err := toml.DecodeFile(cfg.Paths().ParFile, &saved); err != nil {
		t.Fatalf("Saved file does not parse: %v", err)
	}
	if saved["tempcon"]["control_temperature"] != -95.5 {
		t.Errorf("Expected saved temperature -95.5, got %v", saved["tempcon"])
	}
}

func TestDisplayInitializedAtStartup(t *testing.T) {
	a := startApp(t, testConfig(t))
	d := a.Dispatcher()
	req := dispatch.Request{Source: dispatch.SourceInternal}

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if reply := d.Get(context.Background(), req, "display", "initialized"); reply.Data == true {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Error("Display was not initialized")
}

func TestMonitorRegistration(t *testing.T) {
	var mu sync.Mutex
	var got map[string]interface{}
	monitor := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		defer mu.Unlock()
		json.NewDecoder(r.Body).Decode(&got)
		w.WriteHeader(http.StatusNoContent)
	}))
	defer monitor.Close()

	cfg := testConfig(t)
	cfg.Monitor.Enabled = true
	cfg.Monitor.URL = monitor.URL
	a := startApp(t, cfg)

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		mu.Lock()
		registered := got != nil
		mu.Unlock()
		if registered {
			break
		}
		time.Sleep(10 * time.Millisecond)
	}

	mu.Lock()
	defer mu.Unlock()
	if got == nil {
		t.Fatal("Monitor was never contacted")
	}
	if got["systemName"] != "mock" {
		t.Errorf("Expected systemName mock, got %v", got["systemName"])
	}
	if port, _ := got["commandPort"].(float64); int(port) != a.CommandAddr().(*net.TCPAddr).Port {
		t.Errorf("Expected bound command port, got %v", got["commandPort"])
	}
}
