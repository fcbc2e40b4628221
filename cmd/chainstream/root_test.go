package main

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rickgao/chainstream/internal/config"
	"github.com/rickgao/chainstream/internal/version"
)

func TestVersionCmd(t *testing.T) {
	cmd := newRootCmd()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetArgs([]string{"version", "--config", "/does/not/exist.yaml"})

	require.NoError(t, cmd.Execute())
	assert.Equal(t, version.String()+"\n", out.String())
}

func TestLoad_Defaults(t *testing.T) {
	o := &rootOptions{overflow: "drop-oldest"}
	require.NoError(t, o.load())

	assert.Equal(t, config.DefaultURL, o.cfg.Client.URL)
	assert.NotNil(t, o.logger)
}

func TestLoad_URLOverride(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("client:\n  url: wss://a.example.com\nlogging:\n  format: json\n"), 0644))

	o := &rootOptions{configPath: path, url: "ws://localhost:8900", overflow: "drop-newest"}
	require.NoError(t, o.load())

	assert.Equal(t, "ws://localhost:8900", o.cfg.Client.URL)
	assert.Equal(t, "json", o.cfg.Logging.Format)
}

func TestLoad_ConfigFromStdin(t *testing.T) {
	o := &rootOptions{
		configPath: "-",
		overflow:   "drop-oldest",
		stdin:      strings.NewReader("client:\n  url: wss://b.example.com\n  max_reconnect_attempts: 2\n"),
	}
	require.NoError(t, o.load())

	assert.Equal(t, "wss://b.example.com", o.cfg.Client.URL)
	assert.Equal(t, 2, o.cfg.Client.MaxReconnectAttempts)
	assert.Equal(t, config.DefaultHeartbeatInterval, o.cfg.Client.HeartbeatInterval)
}

func TestLoad_Rejects(t *testing.T) {
	tests := []struct {
		name string
		opts rootOptions
	}{
		{"bad overflow", rootOptions{overflow: "grow"}},
		{"bad url", rootOptions{url: "not a url", overflow: "drop-oldest"}},
		{"missing file", rootOptions{configPath: "/does/not/exist.yaml", overflow: "drop-oldest"}},
		{"unknown key on stdin", rootOptions{configPath: "-", overflow: "drop-oldest", stdin: strings.NewReader("clinet:\n  url: ws://x\n")}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			o := tt.opts
			assert.Error(t, o.load())
		})
	}
}

func TestNewLogger_Level(t *testing.T) {
	l := newLogger(config.LoggingConfig{Level: "warn", Format: "text"})
	assert.False(t, l.Handler().Enabled(t.Context(), -4))
	assert.True(t, l.Handler().Enabled(t.Context(), 8))
}

func TestHandshakeHeader(t *testing.T) {
	h := handshakeHeader(nil)
	assert.Equal(t, version.UserAgent(), h.Get("User-Agent"))

	h = handshakeHeader(map[string]string{"Authorization": "Bearer t", "User-Agent": "custom/1"})
	assert.Equal(t, "Bearer t", h.Get("Authorization"))
	assert.Equal(t, "custom/1", h.Get("User-Agent"))
}
