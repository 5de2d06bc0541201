package wizard

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/talkto-ai/talkto/internal/config"
	"github.com/talkto-ai/talkto/pkg/cli"
)

func TestWizard_SQLite(t *testing.T) {
	input := strings.Join([]string{
		"127.0.0.1", // listen host
		"9090",      // port
		"n",         // LAN mode
		"1",         // storage: sqlite (first option)
		"./state",   // data directory
		"",          // prompts dir (embedded defaults)
		"2",         // log level: info
	}, "\n") + "\n"

	out := &bytes.Buffer{}
	p := &cli.Prompter{In: strings.NewReader(input), Out: out}

	outputPath := filepath.Join(t.TempDir(), "talkto.json")
	if err := New(p).Run(outputPath); err != nil {
		t.Fatalf("wizard.Run() error: %v", err)
	}

	data, err := os.ReadFile(outputPath)
	if err != nil {
		t.Fatalf("read config: %v", err)
	}
	var cfg config.Config
	if err := json.Unmarshal(data, &cfg); err != nil {
		t.Fatalf("unmarshal config: %v", err)
	}

	if cfg.Server.Host != "127.0.0.1" {
		t.Errorf("server.host = %q", cfg.Server.Host)
	}
	if cfg.Server.Port != 9090 {
		t.Errorf("server.port = %d", cfg.Server.Port)
	}
	if cfg.Server.Network {
		t.Error("network mode should be off")
	}
	if cfg.Storage.Driver != "sqlite" {
		t.Errorf("storage.driver = %q", cfg.Storage.Driver)
	}
	if cfg.Paths.DataDir != "./state" {
		t.Errorf("paths.data_dir = %q", cfg.Paths.DataDir)
	}
	if cfg.Logging.Level != "info" {
		t.Errorf("logging.level = %q", cfg.Logging.Level)
	}
}

func TestWizard_Postgres(t *testing.T) {
	input := strings.Join([]string{
		"", // host default
		"", // port default
		"y",
		"2", // postgres
		"postgres://u:p@db:5432/talkto",
		"", // prompts dir
		"1", // debug
	}, "\n") + "\n"

	p := &cli.Prompter{In: strings.NewReader(input), Out: &bytes.Buffer{}}
	outputPath := filepath.Join(t.TempDir(), "talkto.json")
	if err := New(p).Run(outputPath); err != nil {
		t.Fatalf("wizard.Run() error: %v", err)
	}

	data, _ := os.ReadFile(outputPath)
	var cfg config.Config
	if err := json.Unmarshal(data, &cfg); err != nil {
		t.Fatal(err)
	}
	if cfg.Storage.Driver != "postgres" || cfg.Storage.DSN != "postgres://u:p@db:5432/talkto" {
		t.Errorf("storage = %+v", cfg.Storage)
	}
	if !cfg.Server.Network {
		t.Error("network mode should be on")
	}
}

func TestWizard_Defaults(t *testing.T) {
	outputPath := filepath.Join(t.TempDir(), "talkto.json")
	p := &cli.Prompter{In: strings.NewReader(""), Out: &bytes.Buffer{}}
	if err := New(p).RunDefaults(outputPath); err != nil {
		t.Fatalf("RunDefaults: %v", err)
	}

	info, err := os.Stat(outputPath)
	if err != nil {
		t.Fatal(err)
	}
	if info.Mode().Perm() != 0600 {
		t.Errorf("config mode = %v, want 0600", info.Mode().Perm())
	}
}
