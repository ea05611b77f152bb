package testkit

import (
	"errors"
	"reflect"
	"testing"
)

type fakeService struct {
	name     string
	props    map[string]any
	startErr error
	stopErr  error
	stopped  *[]string
}

func (f *fakeService) Start() (map[string]any, error) {
	return f.props, f.startErr
}

func (f *fakeService) Stop() error {
	if f.stopped != nil {
		*f.stopped = append(*f.stopped, f.name)
	}
	return f.stopErr
}

func (f *fakeService) GetName() string {
	return f.name
}

func TestTestEnv_StartMergesProperties(t *testing.T) {
	env := NewTestEnv(
		&fakeService{name: "index", props: map[string]any{"index_dir": "/tmp/idx"}},
		&fakeService{name: "server", props: map[string]any{"base_url": "http://localhost:1"}},
	)

	if got := len(env.GetContext().GetProperties()); got != 0 {
		t.Fatalf("Expected no properties before start, got %d", got)
	}

	props, err := env.Start()
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	want := map[string]any{"index_dir": "/tmp/idx", "base_url": "http://localhost:1"}
	if !reflect.DeepEqual(props, want) {
		t.Errorf("Properties = %v, want %v", props, want)
	}

	if v, ok := env.GetContext().GetProperty("base_url"); !ok || v != "http://localhost:1" {
		t.Errorf("GetProperty(base_url) = %v, %v", v, ok)
	}
	if _, ok := env.GetContext().GetProperty("missing"); ok {
		t.Error("Expected missing property to be absent")
	}
}

func TestTestEnv_StartError(t *testing.T) {
	env := NewTestEnv(&fakeService{name: "server", startErr: errors.New("start failed")})

	if _, err := env.Start(); err == nil || err.Error() != "start failed" {
		t.Errorf("Expected 'start failed', got %v", err)
	}
}

func TestTestEnv_StopReverseOrder(t *testing.T) {
	var stopped []string
	env := NewTestEnv(
		&fakeService{name: "first", stopped: &stopped, stopErr: errors.New("first failed")},
		&fakeService{name: "second", stopped: &stopped, stopErr: errors.New("second failed")},
	)

	err := env.Stop()
	if !reflect.DeepEqual(stopped, []string{"second", "first"}) {
		t.Errorf("Stop order = %v, want [second first]", stopped)
	}
	// the error of the service stopped last wins
	if err == nil || err.Error() != "first failed" {
		t.Errorf("Expected 'first failed', got %v", err)
	}
}

func TestGetFreePort(t *testing.T) {
	port, err := GetFreePort()
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if port <= 0 {
		t.Errorf("Expected positive port, got %d", port)
	}
	if port := MustGetFreePort(t); port <= 0 {
		t.Errorf("Expected positive port, got %d", port)
	}
	if _, err := getFreePortWithAddr("invalid:address:format"); err == nil {
		t.Error("Expected error for invalid address")
	}
}

func TestNewTestFlags(t *testing.T) {
	tests := []struct {
		name      string
		opts      *FlagOptions
		transport string
		authType  string
		host      string
		port      int
		indexDir  string
		keys      []string
	}{
		{
			name:      "defaults",
			transport: "sse",
			authType:  "none",
			host:      "localhost",
		},
		{
			name: "custom",
			opts: &FlagOptions{
				Port:      9999,
				Transport: "stdio",
				AuthType:  "apikey",
				Host:      "127.0.0.1",
				IndexDir:  "/srv/index",
				APIKeys:   []string{"k1", "k2"},
			},
			transport: "stdio",
			authType:  "apikey",
			host:      "127.0.0.1",
			port:      9999,
			indexDir:  "/srv/index",
			keys:      []string{"k1", "k2"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			flags := NewTestFlags(t, tt.opts)

			if v, _ := flags.GetString("transport"); v != tt.transport {
				t.Errorf("transport = %q, want %q", v, tt.transport)
			}
			if v, _ := flags.GetString("auth-type"); v != tt.authType {
				t.Errorf("auth-type = %q, want %q", v, tt.authType)
			}
			if v, _ := flags.GetString("host"); v != tt.host {
				t.Errorf("host = %q, want %q", v, tt.host)
			}

			port, _ := flags.GetInt("port")
			if tt.port != 0 && port != tt.port {
				t.Errorf("port = %d, want %d", port, tt.port)
			}
			if port <= 0 {
				t.Errorf("Expected positive port, got %d", port)
			}

			indexDir, _ := flags.GetString("index-dir")
			if tt.indexDir != "" && indexDir != tt.indexDir {
				t.Errorf("index-dir = %q, want %q", indexDir, tt.indexDir)
			}
			if indexDir == "" {
				t.Error("Expected an index-dir")
			}

			keys, _ := flags.GetStringSlice("auth-api-keys")
			if len(tt.keys) > 0 && !reflect.DeepEqual(keys, tt.keys) {
				t.Errorf("auth-api-keys = %v, want %v", keys, tt.keys)
			}

			if dsn, _ := flags.GetString("relations-dsn"); dsn != "" {
				t.Errorf("Expected no relations-dsn, got %q", dsn)
			}
		})
	}
}

func TestServerService_StopWithoutStart(t *testing.T) {
	svc := NewServerService(NewTestFlags(t, nil))
	if svc.GetName() != "mcp-server" {
		t.Errorf("Expected name 'mcp-server', got %s", svc.GetName())
	}
	if err := svc.Stop(); err != nil {
		t.Errorf("Expected nil error, got %v", err)
	}
}

func TestServerService_StartFailsOnInvalidConfig(t *testing.T) {
	svc := NewServerService(NewTestFlags(t, &FlagOptions{AuthType: "basic"}))

	if _, err := svc.Start(); err == nil {
		t.Error("Expected startup error for basic auth without credentials")
	}
}
