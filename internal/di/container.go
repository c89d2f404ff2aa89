package di

import (
	"go.uber.org/dig"
)

// Container 是依赖注入容器的全局实例
var Container *dig.Container

// InitContainer 初始化容器并注册全部提供者
func InitContainer() (*dig.Container, error) {
	Container = dig.New()
	if err := RegisterProviders(Container); err != nil {
		return nil, err
	}
	return Container, nil
}

// GetContainer 获取依赖注入容器实例
func GetContainer() *dig.Container {
	return Container
}

// Invoke 封装dig.Invoke
func Invoke(function interface{}, opts ...dig.InvokeOption) error {
	return Container.Invoke(function, opts...)
}
