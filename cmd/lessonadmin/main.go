package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/madcarpet/lessonadmin/internal/app"
	"github.com/madcarpet/lessonadmin/internal/config"
	"github.com/madcarpet/lessonadmin/internal/logger"
	"go.uber.org/zap"
)

func main() {
	// Channels for signals
	osSigCh := make(chan os.Signal, 1)
	signal.Notify(osSigCh, syscall.SIGINT, syscall.SIGTERM)
	errCh := make(chan error, 1)

	//Creating main ctx
	ctx, cancel := context.WithCancel(context.Background())

	// Config initialization
	appCfg, err := config.InitConfig()
	if err != nil {
		log.Fatalf("application config initialisation failed err: %v", err)
	}

	// App initialization
	app := app.NewApp(*appCfg)
	if err := app.Init(ctx); err != nil {
		logger.Log.Error("Application init error", zap.Error(err))
		app.Stop(cancel)
		os.Exit(1)
	}
	// App starting with configuration
	go func() {
		errCh <- app.Start()
	}()

	select {
	case sig := <-osSigCh:
		logger.Log.Info("Stopping application, os sig received", zap.String("signal", sig.String()))
		app.Stop(cancel)
	case err := <-errCh:
		if err != nil {
			logger.Log.Error("Application error", zap.Error(err))
		}
		app.Stop(cancel)
		if err != nil {
			os.Exit(1)
		}
	}
}
