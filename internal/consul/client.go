package consul

import (
	"fmt"
	"strings"

	"github.com/aihub/chat-backend/internal/config"
	"github.com/hashicorp/consul/api"
	"go.uber.org/zap"
)

// SchemePrefix 以该前缀开头的地址需要经Consul解析
const SchemePrefix = "consul://"

// Client Consul客户端封装，未启用时所有操作为空操作
type Client struct {
	apiClient *api.Client
	enabled   bool
	logger    *zap.Logger
}

// NewClient 创建Consul客户端
func NewClient(cfg config.ConsulConfig, logger *zap.Logger) (*Client, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if !cfg.Enabled {
		return &Client{logger: logger}, nil
	}

	apiCfg := api.DefaultConfig()
	if cfg.Address != "" {
		apiCfg.Address = cfg.Address
	}
	apiClient, err := api.NewClient(apiCfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create Consul client: %w", err)
	}

	// 连通性检查失败时降级为不启用
	if _, _, err := apiClient.Health().State(api.HealthAny, nil); err != nil {
		logger.Warn("Consul connection test failed, service discovery disabled", zap.Error(err))
		return &Client{logger: logger}, nil
	}

	logger.Info("Consul client initialized", zap.String("address", apiCfg.Address))
	return &Client{apiClient: apiClient, enabled: true, logger: logger}, nil
}

// IsEnabled 是否可用
func (c *Client) IsEnabled() bool {
	return c != nil && c.enabled && c.apiClient != nil
}

// RegisterService 注册服务
func (c *Client) RegisterService(registration *api.AgentServiceRegistration) error {
	if !c.IsEnabled() {
		return fmt.Errorf("consul is not enabled")
	}
	if err := c.apiClient.Agent().ServiceRegister(registration); err != nil {
		return fmt.Errorf("failed to register service: %w", err)
	}
	return nil
}

// DeregisterService 注销服务
func (c *Client) DeregisterService(serviceID string) error {
	if !c.IsEnabled() {
		return nil
	}
	if err := c.apiClient.Agent().ServiceDeregister(serviceID); err != nil {
		return fmt.Errorf("failed to deregister service: %w", err)
	}
	c.logger.Info("Service deregistered from Consul", zap.String("service_id", serviceID))
	return nil
}

// ServiceAddress 返回一个健康实例的 host:port
func (c *Client) ServiceAddress(serviceName string) (string, error) {
	if !c.IsEnabled() {
		return "", fmt.Errorf("consul is not enabled")
	}
	entries, _, err := c.apiClient.Health().Service(serviceName, "", true, nil)
	if err != nil {
		return "", fmt.Errorf("failed to query service %s: %w", serviceName, err)
	}
	if len(entries) == 0 {
		return "", fmt.Errorf("no healthy instances found for service %s", serviceName)
	}

	entry := entries[0]
	address := entry.Service.Address
	if address == "" {
		address = entry.Node.Address
	}
	return fmt.Sprintf("%s:%d", address, entry.Service.Port), nil
}

// ResolveURL 将 consul://<service>/path 解析为 http://host:port/path，其余地址原样返回
func (c *Client) ResolveURL(raw string) (string, error) {
	rest, ok := strings.CutPrefix(raw, SchemePrefix)
	if !ok {
		return raw, nil
	}
	service, path, _ := strings.Cut(rest, "/")
	addr, err := c.ServiceAddress(service)
	if err != nil {
		return "", err
	}
	if path != "" {
		return "http://" + addr + "/" + path, nil
	}
	return "http://" + addr, nil
}
