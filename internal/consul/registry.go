package consul

import (
	"fmt"

	"github.com/aihub/chat-backend/internal/config"
	"github.com/hashicorp/consul/api"
	"go.uber.org/zap"
)

// ServiceRegistry 负责聊天服务在Consul上的注册与注销
type ServiceRegistry struct {
	client *Client
	logger *zap.Logger
	id     string
}

func NewServiceRegistry(client *Client, logger *zap.Logger) *ServiceRegistry {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ServiceRegistry{client: client, logger: logger}
}

// Register 注册服务，Consul未启用时跳过。注销由调用方在退出流程中完成
func (sr *ServiceRegistry) Register(cfg *config.Config) error {
	if !sr.client.IsEnabled() {
		sr.logger.Info("Consul is not enabled, skipping service registration")
		return nil
	}

	registration := buildRegistration(cfg)
	if err := sr.client.RegisterService(registration); err != nil {
		return err
	}
	sr.id = registration.ID

	sr.logger.Info("Service registered with Consul",
		zap.String("service_id", registration.ID),
		zap.String("service_name", registration.Name),
		zap.String("address", registration.Address),
		zap.Int("port", registration.Port),
	)
	return nil
}

// Deregister 注销已注册的服务
func (sr *ServiceRegistry) Deregister() error {
	if sr.id == "" {
		return nil
	}
	return sr.client.DeregisterService(sr.id)
}

func buildRegistration(cfg *config.Config) *api.AgentServiceRegistration {
	host := cfg.Consul.ServiceHost
	if host == "" {
		host = "localhost"
	}
	name := cfg.Consul.ServiceName
	if name == "" {
		name = cfg.App.Name
	}
	id := cfg.Consul.ServiceID
	if id == "" {
		id = fmt.Sprintf("%s-%s-%d", name, host, cfg.Server.Port)
	}

	return &api.AgentServiceRegistration{
		ID:      id,
		Name:    name,
		Tags:    []string{"chat", "beego", cfg.App.Env},
		Address: host,
		Port:    cfg.Server.Port,
		Check: &api.AgentServiceCheck{
			HTTP:                           fmt.Sprintf("http://%s:%d/health", host, cfg.Server.Port),
			Interval:                       "10s",
			Timeout:                        "3s",
			DeregisterCriticalServiceAfter: "30s",
		},
		Meta: map[string]string{
			"version": cfg.App.Version,
			"env":     cfg.App.Env,
			"model":   cfg.AI.Model,
		},
	}
}
