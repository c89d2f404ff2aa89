package memory

import "context"

// NoopProvider 未配置记忆服务时使用
type NoopProvider struct{}

// NewNoopProvider 创建空实现
func NewNoopProvider() *NoopProvider {
	return &NoopProvider{}
}

func (p *NoopProvider) Name() string { return "none" }

func (p *NoopProvider) Search(context.Context, string, string, int) ([]Snippet, error) {
	return []Snippet{}, nil
}

func (p *NoopProvider) Add(context.Context, string, []Turn, string) error { return nil }

func (p *NoopProvider) Delete(context.Context, string, []string) error { return nil }

func (p *NoopProvider) DeleteAll(context.Context, string) error { return nil }

func (p *NoopProvider) List(context.Context, string) ([]Snippet, error) {
	return []Snippet{}, nil
}
