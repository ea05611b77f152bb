package testkit

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/sha1n/ddbj-search/internal/app"
	"github.com/spf13/pflag"
)

// Service represents a test service that can be started and stopped
type Service interface {
	Start() (map[string]any, error)
	Stop() error
	GetName() string
}

// TestEnvContext provides access to properties collected during environment startup
type TestEnvContext interface {
	GetProperties() map[string]any
	GetProperty(name string) (any, bool)
}

// TestEnv manages the lifecycle of test services
type TestEnv interface {
	Start() (map[string]any, error)
	Stop() error
	GetContext() TestEnvContext
}

type testEnvContextImpl struct {
	properties map[string]any
}

func (c *testEnvContextImpl) GetProperties() map[string]any {
	return c.properties
}

func (c *testEnvContextImpl) GetProperty(name string) (any, bool) {
	val, ok := c.properties[name]
	return val, ok
}

type testEnvImpl struct {
	services []Service
	context  *testEnvContextImpl
}

// NewTestEnv creates a new test environment with the given services
func NewTestEnv(services ...Service) TestEnv {
	return &testEnvImpl{
		services: services,
		context:  &testEnvContextImpl{properties: make(map[string]any)},
	}
}

func (e *testEnvImpl) Start() (map[string]any, error) {
	for _, s := range e.services {
		props, err := s.Start()
		if err != nil {
			return nil, err
		}
		for k, v := range props {
			e.context.properties[k] = v
		}
	}
	return e.context.properties, nil
}

func (e *testEnvImpl) Stop() error {
	var lastErr error
	// Stop in reverse order
	for i := len(e.services) - 1; i >= 0; i-- {
		if err := e.services[i].Stop(); err != nil {
			lastErr = err
		}
	}
	return lastErr
}

func (e *testEnvImpl) GetContext() TestEnvContext {
	return e.context
}

// GetFreePort returns a free port from the kernel
func GetFreePort() (int, error) {
	return getFreePortWithAddr("localhost:0")
}

// MustGetFreePort returns a free port or fails the test
func MustGetFreePort(t testing.TB) int {
	t.Helper()
	port, err := GetFreePort()
	if err != nil {
		t.Fatalf("Failed to get free port: %v", err)
	}
	return port
}

func getFreePortWithAddr(addrStr string) (int, error) {
	addr, err := net.ResolveTCPAddr("tcp", addrStr)
	if err != nil {
		return 0, err
	}

	l, err := net.ListenTCP("tcp", addr)
	if err != nil {
		return 0, err
	}
	defer func() { _ = l.Close() }()
	return l.Addr().(*net.TCPAddr).Port, nil
}

// FlagOptions configures NewTestFlags
type FlagOptions struct {
	Port         int      // Uses free port if 0
	Transport    string   // Defaults to "sse"
	AuthType     string   // Defaults to "none"
	Host         string   // Defaults to "localhost"
	IndexDir     string   // Uses a temp dir if empty
	RelationsDSN string   // Relation store path, lookups disabled if empty
	APIKeys      []string // Used with AuthType "apikey"
}

// NewTestFlags creates a pflag.FlagSet carrying the serve command flags
func NewTestFlags(t testing.TB, opts *FlagOptions) *pflag.FlagSet {
	t.Helper()

	flags := pflag.NewFlagSet("test", pflag.ContinueOnError)
	app.RegisterGlobalFlags(flags)
	app.RegisterFlags(flags)

	o := FlagOptions{Transport: "sse", AuthType: "none", Host: "localhost"}
	if opts != nil {
		if opts.Port != 0 {
			o.Port = opts.Port
		}
		if opts.Transport != "" {
			o.Transport = opts.Transport
		}
		if opts.AuthType != "" {
			o.AuthType = opts.AuthType
		}
		if opts.Host != "" {
			o.Host = opts.Host
		}
		o.IndexDir = opts.IndexDir
		o.RelationsDSN = opts.RelationsDSN
		o.APIKeys = opts.APIKeys
	}
	if o.Port == 0 {
		o.Port = MustGetFreePort(t)
	}
	if o.IndexDir == "" {
		o.IndexDir = t.TempDir()
	}

	_ = flags.Set("port", fmt.Sprintf("%d", o.Port))
	_ = flags.Set("transport", o.Transport)
	_ = flags.Set("auth-type", o.AuthType)
	_ = flags.Set("host", o.Host)
	_ = flags.Set("index-dir", o.IndexDir)
	if o.RelationsDSN != "" {
		_ = flags.Set("relations-dsn", o.RelationsDSN)
	}
	if len(o.APIKeys) > 0 {
		_ = flags.Set("auth-api-keys", strings.Join(o.APIKeys, ","))
	}

	return flags
}

// ServerService runs the MCP server in the background with the given flags
type ServerService struct {
	flags   *pflag.FlagSet
	params  app.RunParams
	timeout time.Duration

	cancel context.CancelFunc
	done   chan error
}

// NewServerService creates a ServerService using the production dependencies
func NewServerService(flags *pflag.FlagSet) *ServerService {
	return &ServerService{flags: flags, params: app.DefaultRunParams(), timeout: 10 * time.Second}
}

// GetName returns the service name
func (s *ServerService) GetName() string {
	return "mcp-server"
}

// Start runs the server and waits until its health endpoint answers.
// It reports the server URL as "base_url".
func (s *ServerService) Start() (map[string]any, error) {
	host, _ := s.flags.GetString("host")
	port, _ := s.flags.GetInt("port")
	baseURL := fmt.Sprintf("http://%s:%d", host, port)

	ctx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel
	s.done = make(chan error, 1)
	go func() {
		s.done <- app.RunWithDeps(ctx, s.params, s.flags, "test")
	}()

	deadline := time.Now().Add(s.timeout)
	for {
		select {
		case err := <-s.done:
			cancel()
			return nil, fmt.Errorf("server exited during startup: %w", err)
		default:
		}
		resp, err := http.Get(baseURL + "/health")
		if err == nil {
			_ = resp.Body.Close()
			if resp.StatusCode == http.StatusOK {
				return map[string]any{"base_url": baseURL}, nil
			}
		}
		if time.Now().After(deadline) {
			cancel()
			return nil, fmt.Errorf("server at %s not healthy after %s", baseURL, s.timeout)
		}
		time.Sleep(25 * time.Millisecond)
	}
}

// Stop cancels the server and waits for it to exit
func (s *ServerService) Stop() error {
	if s.cancel == nil {
		return nil
	}
	s.cancel()
	s.cancel = nil
	select {
	case err := <-s.done:
		return err
	case <-time.After(s.timeout):
		return errors.New("server did not stop in time")
	}
}
