package consul

import (
	"testing"

	"github.com/aihub/chat-backend/internal/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBuildRegistration(t *testing.T) {
	cfg := &config.Config{
		App:    config.AppConfig{Name: "chat-backend", Version: "1.2.0", Env: "staging"},
		Server: config.ServerConfig{Port: 8080},
		AI:     config.AIConfig{Model: "gpt-4o-mini"},
		Consul: config.ConsulConfig{ServiceHost: "10.0.0.5"},
	}

	reg := buildRegistration(cfg)
	assert.Equal(t, "chat-backend", reg.Name)
	assert.Equal(t, "chat-backend-10.0.0.5-8080", reg.ID)
	assert.Equal(t, "http://10.0.0.5:8080/health", reg.Check.HTTP)
	assert.Contains(t, reg.Tags, "staging")
	assert.Equal(t, "1.2.0", reg.Meta["version"])

	cfg.Consul.ServiceID = "chat-1"
	cfg.Consul.ServiceName = "chat"
	reg = buildRegistration(cfg)
	assert.Equal(t, "chat-1", reg.ID)
	assert.Equal(t, "chat", reg.Name)
}

func TestDisabledClient(t *testing.T) {
	client, err := NewClient(config.ConsulConfig{}, nil)
	require.NoError(t, err)
	assert.False(t, client.IsEnabled())

	registry := NewServiceRegistry(client, nil)
	require.NoError(t, registry.Register(&config.Config{}))
	require.NoError(t, registry.Deregister())

	url, err := client.ResolveURL("http://memory:8000")
	require.NoError(t, err)
	assert.Equal(t, "http://memory:8000", url)

	_, err = client.ResolveURL("consul://memory/v1")
	assert.Error(t, err)
}
