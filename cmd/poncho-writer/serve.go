package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/ilkoid/poncho-writer/internal/api"
	"github.com/ilkoid/poncho-writer/pkg/app"
	"github.com/ilkoid/poncho-writer/pkg/utils"
)

// shutdownTimeout — сколько ждать активные запросы при остановке.
const shutdownTimeout = 30 * time.Second

// ServeCmd запускает HTTP API.
type ServeCmd struct {
	Host  string `long:"host" description:"listen host (overrides app.host)"`
	Port  int    `short:"p" long:"port" description:"listen port (overrides app.port)"`
	Debug bool   `long:"debug" description:"write a JSON trace for every run"`
}

// Execute реализует flags.Commander.
func (s *ServeCmd) Execute(_ []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if s.Host != "" {
		cfg.App.Host = s.Host
	}
	if s.Port != 0 {
		cfg.App.Port = s.Port
	}

	ctx, shutdown := utils.SetupGracefulShutdownWithContext()
	defer shutdown()

	comps, err := app.Initialize(ctx, cfg, app.Options{Debug: s.Debug})
	if err != nil {
		return fmt.Errorf("failed to initialize: %w", err)
	}
	defer func() {
		if err := comps.Close(); err != nil {
			utils.Error("Failed to close components", "error", err)
		}
	}()

	addr := net.JoinHostPort(cfg.App.Host, strconv.Itoa(cfg.App.Port))
	server := &http.Server{
		Addr:              addr,
		Handler:           api.NewServer(comps.Writer, cfg.API.CORSOrigins),
		ReadHeaderTimeout: 10 * time.Second,
	}

	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("http listen: %w", err)
	}
	utils.Info("HTTP server listening", "addr", addr)

	if err := serveUntil(ctx, server, ln, shutdownTimeout); err != nil {
		return err
	}
	utils.Info("HTTP server stopped")
	return nil
}

// serveUntil обслуживает ln, пока не отменён ctx, затем ждёт активные запросы
// не дольше timeout.
//
// Контекст запросов не наследует ctx: сигнал останавливает приём новых запросов,
// а идущие запуски агента отменяются только по истечении timeout.
func serveUntil(ctx context.Context, server *http.Server, ln net.Listener, timeout time.Duration) error {
	runCtx, cancelRuns := context.WithCancel(context.Background())
	defer cancelRuns()
	server.BaseContext = func(net.Listener) context.Context { return runCtx }

	errCh := make(chan error, 1)
	go func() {
		errCh <- server.Serve(ln)
	}()

	select {
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		utils.Warn("Shutdown timeout exceeded, cancelling active runs", "timeout", timeout)
		cancelRuns()
		server.Close()
		return fmt.Errorf("http shutdown: %w", err)
	}
	return nil
}
