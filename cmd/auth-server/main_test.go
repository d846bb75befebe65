package main

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/windfire/security-auth/config"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

func TestInitLogger(t *testing.T) {
	t.Run("json logger", func(t *testing.T) {
		logger, err := initLogger(&config.Config{
			AppName:       "auth",
			Observability: config.ObservabilityConfig{LogLevel: "info", LogFormat: "json"},
		})
		require.NoError(t, err)
		require.NotNil(t, logger)
		defer func() { _ = logger.Sync() }()
	})

	t.Run("development console logger", func(t *testing.T) {
		logger, err := initLogger(&config.Config{
			Observability: config.ObservabilityConfig{LogLevel: "debug", LogFormat: "text"},
		})
		require.NoError(t, err)
		require.NotNil(t, logger)
		assert.True(t, logger.Core().Enabled(zap.DebugLevel))
	})

	t.Run("invalid log level", func(t *testing.T) {
		logger, err := initLogger(&config.Config{
			Observability: config.ObservabilityConfig{LogLevel: "verbose"},
		})
		assert.Error(t, err)
		assert.Nil(t, logger)
		assert.Contains(t, err.Error(), "invalid log level")
	})
}

func TestWithApp(t *testing.T) {
	core, logs := observer.New(zap.InfoLevel)
	logger := withApp(zap.New(core), &config.Config{AppName: "Calendar Auth"})

	logger.With(zap.String("service", "calendar-srv")).Info("password grant issued")

	entries := logs.All()
	require.Len(t, entries, 1)
	fields := entries[0].ContextMap()
	assert.Equal(t, "Calendar Auth", fields["app"])
	assert.Equal(t, "calendar-srv", fields["service"])

	var serviceKeys int
	for _, f := range entries[0].Context {
		if f.Key == "service" {
			serviceKeys++
		}
	}
	assert.Equal(t, 1, serviceKeys)
}

func TestPlanListener(t *testing.T) {
	dir := t.TempDir()
	certFile := filepath.Join(dir, "cert.pem")
	keyFile := filepath.Join(dir, "key.pem")
	require.NoError(t, os.WriteFile(certFile, []byte("cert"), 0o600))
	require.NoError(t, os.WriteFile(keyFile, []byte("key"), 0o600))

	server := func(enforce bool, cert, key string) config.ServerConfig {
		s := config.ServerConfig{Host: "0.0.0.0", Port: 8000, SecurePort: 8443, EnforceHTTPS: enforce}
		s.TLS.CertFile = cert
		s.TLS.KeyFile = key
		return s
	}

	t.Run("plain HTTP by default", func(t *testing.T) {
		plan, err := planListener(server(false, certFile, keyFile), zap.NewNop())
		require.NoError(t, err)
		assert.Equal(t, "0.0.0.0:8000", plan.Addr)
		assert.False(t, plan.TLS())
	})

	t.Run("HTTPS on the secure port", func(t *testing.T) {
		plan, err := planListener(server(true, certFile, keyFile), zap.NewNop())
		require.NoError(t, err)
		assert.Equal(t, "0.0.0.0:8443", plan.Addr)
		assert.True(t, plan.TLS())
		assert.Equal(t, keyFile, plan.KeyFile)
	})

	t.Run("enforced without certificates falls back to HTTP", func(t *testing.T) {
		core, logs := observer.New(zap.WarnLevel)

		plan, err := planListener(server(true, "", ""), zap.New(core))
		require.NoError(t, err)
		assert.Equal(t, "0.0.0.0:8000", plan.Addr)
		assert.False(t, plan.TLS())
		assert.Equal(t, 2, logs.Len())
	})

	t.Run("missing key file", func(t *testing.T) {
		_, err := planListener(server(true, certFile, filepath.Join(dir, "absent.pem")), zap.NewNop())
		require.Error(t, err)
		assert.Contains(t, err.Error(), "SSL key file not found")
	})

	t.Run("missing certificate file", func(t *testing.T) {
		_, err := planListener(server(true, filepath.Join(dir, "absent.pem"), keyFile), zap.NewNop())
		require.Error(t, err)
		assert.Contains(t, err.Error(), "SSL certificate file not found")
	})
}
