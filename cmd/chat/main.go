package main

import (
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/aihub/chat-backend/app/bootstrap"
	"github.com/aihub/chat-backend/internal/logger"
	"github.com/beego/beego/v2/server/web"
	"go.uber.org/zap"
)

func main() {
	app, err := bootstrap.Init()
	if err != nil {
		log.Fatalf("failed to bootstrap application: %v", err)
	}

	web.BConfig.AppName = app.Config.App.Name
	web.BConfig.RunMode = runMode(app.Config.App.Env)
	web.BConfig.CopyRequestBody = true
	web.BConfig.WebConfig.AutoRender = false
	web.BConfig.Listen.HTTPPort = app.Config.Server.Port
	if app.Config.Server.RequestTimeout > 0 {
		web.BConfig.Listen.ServerTimeOut = int64(app.Config.Server.RequestTimeout.Seconds())
	}

	go func() {
		sig := make(chan os.Signal, 1)
		signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
		received := <-sig
		logger.Info("Shutting down", zap.String("signal", received.String()))
		app.Shutdown()
		os.Exit(0)
	}()

	logger.Info("Starting chat service",
		zap.Int("port", web.BConfig.Listen.HTTPPort),
		zap.String("env", app.Config.App.Env),
		zap.String("model", app.Config.AI.Model))
	web.Run()
}

func runMode(env string) string {
	if env == "production" {
		return web.PROD
	}
	return web.DEV
}
