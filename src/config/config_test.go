package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/sirupsen/logrus"
)

func TestBindAddrForPort(t *testing.T) {
	conf := NewDefaultConfig()

	addr, err := conf.BindAddrForPort(0)
	if err != nil {
		t.Fatal(err)
	}
	if addr != DefaultBindAddr {
		t.Fatalf("port 0 should keep %s, got %s", DefaultBindAddr, addr)
	}

	addr, err = conf.BindAddrForPort(4000)
	if err != nil {
		t.Fatal(err)
	}
	if addr != "127.0.0.1:4000" {
		t.Fatalf("expected 127.0.0.1:4000, got %s", addr)
	}

	conf.BindAddr = "no-port"
	if _, err := conf.BindAddrForPort(4000); err == nil {
		t.Fatal("malformed BindAddr should fail")
	}
}

func TestLogLevel(t *testing.T) {
	if LogLevel("warn") != logrus.WarnLevel {
		t.Fatal("warn should parse")
	}
	if LogLevel("chatty") != logrus.DebugLevel {
		t.Fatal("unknown levels should default to debug")
	}
}

func TestLogFile(t *testing.T) {
	dir := t.TempDir()

	conf := NewDefaultConfig()
	conf.LogLevel = "info"
	conf.LogFile = filepath.Join(dir, "nebula.log")

	logger := conf.Logger()
	logger.Logger.Out = &strings.Builder{}
	logger.Info("hello file")

	data, err := os.ReadFile(conf.LogFile)
	if err != nil {
		t.Fatal(err)
	}

	if !strings.Contains(string(data), "hello file") {
		t.Fatalf("log file should contain the entry, got %q", string(data))
	}
}

func TestNewTestConfig(t *testing.T) {
	conf := NewTestConfig(t, logrus.DebugLevel)

	if !conf.NoService {
		t.Fatal("test config should not serve HTTP")
	}

	if conf.Logger().Data["prefix"] != "nebula" {
		t.Fatal("logger should carry the nebula prefix")
	}
}
