package main

import (
	"bytes"
	"context"
	"database/sql"
	"errors"
	"strings"
	"testing"

	"github.com/onnwee/yuka/config"
	"github.com/onnwee/yuka/ledger"
)

func failingEnv(err error) env {
	return env{
		loadConfig: func() (*config.Config, error) { return &config.Config{}, nil },
		openDB: func(context.Context, *config.Config) (*sql.DB, error) {
			return nil, err
		},
	}
}

func TestCommandTree(t *testing.T) {
	root := newRootCmd(failingEnv(nil))
	for _, path := range [][]string{
		{"migrate", "up"}, {"migrate", "down"}, {"migrate", "version"},
		{"stats"}, {"order"}, {"token", "set"}, {"token", "seal"},
	} {
		cmd, _, err := root.Find(path)
		if err != nil || cmd.Name() != path[len(path)-1] {
			t.Errorf("command %v not found: %v", path, err)
		}
	}
}

func TestDBErrorIsReported(t *testing.T) {
	root := newRootCmd(failingEnv(errors.New("connection refused")))
	root.SetArgs([]string{"stats"})
	root.SetOut(&bytes.Buffer{})
	err := root.ExecuteContext(context.Background())
	if err == nil || !strings.Contains(err.Error(), "connection refused") {
		t.Fatalf("err = %v, want wrapped db error", err)
	}
}

func TestTokenSetRequiresAccess(t *testing.T) {
	root := newRootCmd(failingEnv(nil))
	root.SetArgs([]string{"token", "set"})
	root.SetOut(&bytes.Buffer{})
	root.SetErr(&bytes.Buffer{})
	if err := root.ExecuteContext(context.Background()); err == nil {
		t.Fatal("expected missing --access error")
	}
}

func TestWriteStats(t *testing.T) {
	var buf bytes.Buffer
	writeStats(&buf, nil)
	if !strings.Contains(buf.String(), "no model usage") {
		t.Errorf("empty stats output = %q", buf.String())
	}
	buf.Reset()
	writeStats(&buf, []ledger.ModelStats{{Model: "a/m", Successes: 1, Total: 2, Rate: 50}})
	if !strings.Contains(buf.String(), "a/m") || !strings.Contains(buf.String(), "(1/2)") {
		t.Errorf("stats output = %q", buf.String())
	}
}

func TestWriteOrder(t *testing.T) {
	var buf bytes.Buffer
	writeOrder(&buf, []string{"b", "a"}, map[string]float64{"b": 75})
	want := "1. b (75%)\n2. a (no data)\n"
	if buf.String() != want {
		t.Errorf("order output = %q, want %q", buf.String(), want)
	}
}
