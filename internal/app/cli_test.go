package app

import (
	"bytes"
	"errors"
	"strings"
	"testing"

	"github.com/sha1n/ddbj-search/internal/config"
	"github.com/spf13/pflag"
)

func TestRegisterFlags(t *testing.T) {
	flags := pflag.NewFlagSet("test", pflag.ContinueOnError)
	RegisterFlags(flags)

	expectedFlags := []string{
		"transport",
		"host",
		"port",
		"max-results",
		"auth-type",
		"auth-basic-username",
		"auth-basic-password",
		"auth-api-keys",
	}

	for _, name := range expectedFlags {
		if flags.Lookup(name) == nil {
			t.Errorf("Expected flag %q to be registered", name)
		}
	}
}

func TestRegisterFlags_Shorthand(t *testing.T) {
	flags := pflag.NewFlagSet("test", pflag.ContinueOnError)
	RegisterFlags(flags)

	shorthandFlags := map[string]string{
		"transport":           "t",
		"host":                "H",
		"port":                "p",
		"auth-type":           "a",
		"auth-basic-username": "u",
		"auth-basic-password": "P",
		"auth-api-keys":       "k",
	}

	for name, shorthand := range shorthandFlags {
		flag := flags.Lookup(name)
		if flag == nil {
			t.Errorf("Flag %q not found", name)
			continue
		}
		if flag.Shorthand != shorthand {
			t.Errorf("Flag %q expected shorthand %q, got %q", name, shorthand, flag.Shorthand)
		}
	}
}

func TestRegisterGlobalFlags(t *testing.T) {
	flags := pflag.NewFlagSet("test", pflag.ContinueOnError)
	RegisterGlobalFlags(flags)

	err := flags.Parse([]string{
		"-c", "/etc/ddbj.yaml",
		"-w", "8",
		"--relations-driver", "postgres",
		"--lock-timeout", "30s",
		"--index-dir", "/srv/index",
	})
	if err != nil {
		t.Fatalf("Failed to parse flags: %v", err)
	}

	if v, _ := flags.GetString("config"); v != "/etc/ddbj.yaml" {
		t.Errorf("Expected config '/etc/ddbj.yaml', got '%s'", v)
	}
	if v, _ := flags.GetInt("workers"); v != 8 {
		t.Errorf("Expected workers 8, got %d", v)
	}
	if v, _ := flags.GetString("relations-driver"); v != "postgres" {
		t.Errorf("Expected relations-driver 'postgres', got '%s'", v)
	}
	if v, _ := flags.GetDuration("lock-timeout"); v.String() != "30s" {
		t.Errorf("Expected lock-timeout 30s, got %s", v)
	}
	if v, _ := flags.GetString("index-dir"); v != "/srv/index" {
		t.Errorf("Expected index-dir '/srv/index', got '%s'", v)
	}
}

func TestNewRootCommand_Subcommands(t *testing.T) {
	root := NewRootCommand("ddbj-search", "1.2.3", DefaultRunParams())

	paths := [][]string{
		{"convert"},
		{"diff"},
		{"sync"},
		{"delete"},
		{"index", "create"},
		{"index", "drop"},
		{"index", "list"},
		{"relations", "import"},
		{"xref"},
		{"serve"},
		{"config", "show"},
	}

	for _, path := range paths {
		cmd, _, err := root.Find(path)
		if err != nil {
			t.Errorf("Find(%v) failed: %v", path, err)
			continue
		}
		if cmd.Name() != path[len(path)-1] {
			t.Errorf("Find(%v) returned %q", path, cmd.Name())
		}
	}
}

func TestNewRootCommand_Version(t *testing.T) {
	root := NewRootCommand("ddbj-search", "1.2.3", DefaultRunParams())
	out := &bytes.Buffer{}
	root.SetOut(out)
	root.SetArgs([]string{"--version"})

	if err := root.Execute(); err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if out.String() != "1.2.3\n" {
		t.Errorf("Expected '1.2.3\\n', got %q", out.String())
	}
}

func TestNewRootCommand_RequiredFlags(t *testing.T) {
	tests := []struct {
		name string
		args []string
		want string
	}{
		{"convert without category", []string{"convert", "--out", "x"}, "category"},
		{"diff without curr", []string{"diff"}, "curr"},
		{"sync without index", []string{"sync", "-d", "x"}, "index"},
		{"sync dir and curr", []string{"sync", "-i", "bioproject", "-d", "x", "--curr", "y"}, "none of the others can be"},
		{"relations import without table", []string{"relations", "import"}, "at least one of the flags"},
		{"relations import table and dates", []string{"relations", "import", "--table", "t", "--dates"}, "none of the others can be"},
		{"xref without accession", []string{"xref"}, "accepts 1 arg"},
		{"index create without name", []string{"index", "create"}, "accepts 1 arg"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			root := NewRootCommand("ddbj-search", "test", DefaultRunParams())
			root.SetOut(&bytes.Buffer{})
			root.SetErr(&bytes.Buffer{})
			root.SetArgs(tt.args)

			err := root.Execute()
			if err == nil {
				t.Fatalf("Expected error containing %q", tt.want)
			}
			if !strings.Contains(err.Error(), tt.want) {
				t.Errorf("Expected error containing %q, got %q", tt.want, err.Error())
			}
		})
	}
}

func TestNewRootCommand_LoadSettingsError(t *testing.T) {
	params := DefaultRunParams()
	params.LoadSettings = func(*pflag.FlagSet) (*config.Settings, error) {
		return nil, errors.New("boom")
	}

	root := NewRootCommand("ddbj-search", "test", params)
	root.SetOut(&bytes.Buffer{})
	root.SetErr(&bytes.Buffer{})
	root.SetArgs([]string{"index", "list"})

	err := root.Execute()
	if err == nil || !strings.Contains(err.Error(), "boom") {
		t.Errorf("Expected load error, got %v", err)
	}
}

func TestNewRootCommand_ServeInheritsGlobalFlags(t *testing.T) {
	var seen *pflag.FlagSet
	params := DefaultRunParams()
	params.LoadSettings = func(flags *pflag.FlagSet) (*config.Settings, error) {
		seen = flags
		return nil, errors.New("stop")
	}

	root := NewRootCommand("ddbj-search", "test", params)
	root.SetOut(&bytes.Buffer{})
	root.SetErr(&bytes.Buffer{})
	root.SetArgs([]string{"serve", "-t", "sse", "--index-dir", "/tmp/idx"})
	_ = root.Execute()

	if seen == nil {
		t.Fatal("LoadSettings was not called")
	}
	if v, _ := seen.GetString("transport"); v != "sse" {
		t.Errorf("Expected transport 'sse', got '%s'", v)
	}
	if v, _ := seen.GetString("index-dir"); v != "/tmp/idx" {
		t.Errorf("Expected index-dir '/tmp/idx', got '%s'", v)
	}
}
