package main

import (
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"mclight.lopezb.com/internal/storage"
)

func TestParseConfigDefaults(t *testing.T) {
	cfg, err := parseConfig(nil, io.Discard)
	require.NoError(t, err)

	assert.Equal(t, []int{defaultPort}, cfg.ports)
	assert.Equal(t, defaultMaxConnections, cfg.maxConnections)
	assert.False(t, cfg.typed)
	assert.False(t, cfg.verbose)
	assert.Equal(t, "map", cfg.storage)
	assert.Equal(t, 10, cfg.hotKeys)
	assert.Empty(t, cfg.metricsAddr)
}

func TestParseConfig(t *testing.T) {
	tests := []struct {
		name  string
		args  []string
		check func(t *testing.T, cfg config)
	}{
		{
			name: "repeated ports",
			args: []string{"-p", "11211", "-p", "11212"},
			check: func(t *testing.T, cfg config) {
				assert.Equal(t, []int{11211, 11212}, cfg.ports)
			},
		},
		{
			name: "typed and verbose",
			args: []string{"-1", "-v"},
			check: func(t *testing.T, cfg config) {
				assert.True(t, cfg.typed)
				assert.True(t, cfg.verbose)
			},
		},
		{
			name: "storage options",
			args: []string{"-storage", "freecache", "-cache-size", "1048576", "-c", "5", "-P", "/tmp/x.pid"},
			check: func(t *testing.T, cfg config) {
				assert.Equal(t, "freecache", cfg.storage)
				assert.Equal(t, 1048576, cfg.cacheSize)
				assert.Equal(t, 5, cfg.maxConnections)
				assert.Equal(t, "/tmp/x.pid", cfg.pidFile)
			},
		},
		{
			name: "hot keys disabled",
			args: []string{"-hotkeys", "0"},
			check: func(t *testing.T, cfg config) {
				assert.Zero(t, cfg.hotKeys)
			},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg, err := parseConfig(tt.args, io.Discard)
			require.NoError(t, err)
			tt.check(t, cfg)
		})
	}
}

func TestParseConfigErrors(t *testing.T) {
	tests := []struct {
		name string
		args []string
	}{
		{"bad port", []string{"-p", "http"}},
		{"port out of range", []string{"-p", "70000"}},
		{"zero connections", []string{"-c", "0"}},
		{"negative hot keys", []string{"-hotkeys", "-1"}},
		{"zero chunk size", []string{"-chunk-size", "0"}},
		{"unknown flag", []string{"-x"}},
		{"stray argument", []string{"extra"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := parseConfig(tt.args, io.Discard)
			assert.Error(t, err)
		})
	}
}

func TestNewApplicationUnknownStorage(t *testing.T) {
	cfg, err := parseConfig([]string{"-storage", "disk"}, io.Discard)
	require.NoError(t, err)

	_, err = newApplication(cfg, nil)
	assert.ErrorIs(t, err, storage.ErrUnknownBackend)
}

func TestNewApplicationInterfaceLevel(t *testing.T) {
	assert.Equal(t, 0, newTestApp(t).table.InterfaceVersion())
	assert.Equal(t, 1, newTestApp(t, "-1").table.InterfaceVersion())
	assert.Nil(t, newTestApp(t, "-hotkeys", "0").hotkeys)
}

func TestWritePidFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "mc.pid")
	require.NoError(t, writePidFile(path))

	b, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, strconv.Itoa(os.Getpid()), strings.TrimSpace(string(b)))
}
