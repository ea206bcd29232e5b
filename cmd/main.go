package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"go-retainer-tracker/internal/application/service"
	"go-retainer-tracker/internal/infrastructure/config"
	"go-retainer-tracker/internal/infrastructure/hub"
	"go-retainer-tracker/internal/infrastructure/logger"
	"go-retainer-tracker/internal/infrastructure/server"
	"go-retainer-tracker/internal/infrastructure/store"
)

func main() {
	ctx := context.Background()
	sctx := WithSignal(ctx)

	cfg := config.Load()
	log := logger.NewLogrusLogger(cfg.Logger)

	ledger, err := store.Open(store.Config{
		Path:   cfg.DatabasePath,
		Logger: log,
	})
	if err != nil {
		log.Fatalf("failed to open ledger store: %v", err)
	}
	defer ledger.Close()

	hubInstance := hub.New(log)

	// Start the hub before anything can broadcast.
	if err := hubInstance.Start(ctx); err != nil {
		log.Errorf("failed to start hub: %v", err)
		return
	}
	if err := hub.SetDefault(hubInstance); err != nil {
		log.Fatalf("failed to install hub handle: %v", err)
	}

	svc := service.NewClientService(ledger, log)

	router := InitRouter(cfg, svc, hubInstance, log)
	httpSrv := server.NewHTTPServer(cfg.Addr, router)
	app := newApplication(log, httpSrv, hubInstance)
	if err := app.Run(sctx); err != nil {
		log.Errorf("failed to run application: %v", err)
	}
}

type Application struct {
	logger  logger.Logger
	httpSrv server.Server
	hub     *hub.Hub
}

func newApplication(
	logger logger.Logger,
	httpSrv *server.HTTPServer,
	hubInstance *hub.Hub,
) *Application {
	return &Application{
		logger:  logger.WithField("app", "retainer"),
		httpSrv: httpSrv,
		hub:     hubInstance,
	}
}

func (app *Application) Run(ctx context.Context) error {
	eg := errgroup.Group{}

	eg.Go(func() error {
		return app.httpSrv.Start(ctx)
	})

	eg.Go(func() error {
		<-ctx.Done()

		gracefulshutdownCtx, cancel := context.WithTimeout(
			context.Background(),
			time.Duration(5*time.Second),
		)
		defer cancel()

		// Stop hub first
		if err := app.hub.Stop(gracefulshutdownCtx); err != nil {
			app.logger.Errorf("failed to stop hub: %v", err)
		}

		return app.httpSrv.Stop(gracefulshutdownCtx)
	})

	err := eg.Wait()
	if err != nil {
		return err
	}

	return nil
}

func WithSignal(pctx context.Context) context.Context {
	ctx, cancel := context.WithCancel(pctx)

	go func() {
		sigc := make(chan os.Signal, 1)
		signal.Notify(sigc, syscall.SIGINT, syscall.SIGTERM)

		<-sigc

		cancel()
	}()

	return ctx
}
