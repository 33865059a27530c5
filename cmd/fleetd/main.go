package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gorilla/mux"
	"go.uber.org/zap"

	"github.com/hans-pistor/spark-firecracker/internal/cmdrunner"
	"github.com/hans-pistor/spark-firecracker/internal/config"
	"github.com/hans-pistor/spark-firecracker/internal/hostguard"
	"github.com/hans-pistor/spark-firecracker/internal/logging"
	"github.com/hans-pistor/spark-firecracker/internal/registry"
)

func main() {
	logger, err := logging.New(os.Getenv("FLEETD_ENV") == "local")
	if err != nil {
		panic(fmt.Errorf("create logger failed: %w", err))
	}
	defer logger.Sync()

	cfg, err := config.Load(flag.CommandLine, os.Args[1:])
	if err != nil {
		logger.Fatal("failed to load config", zap.Error(err))
	}

	guard, err := hostguard.New(cfg.HostNetworkInterface, logger)
	if err != nil {
		logger.Fatal("failed to install host guard rules", zap.Error(err))
	}
	defer guard.Close()

	runner := cmdrunner.New(logger)
	reg := registry.New(logger)

	h := newHandler(cfg, runner, reg, logger)

	router := mux.NewRouter()
	router.HandleFunc("/vms", h.listVMs).Methods(http.MethodGet)
	router.HandleFunc("/vms/create", h.createVM).Methods(http.MethodPut)
	router.HandleFunc("/vms/resume", h.resumeVM).Methods(http.MethodPut)
	router.HandleFunc("/vms/{vmid}/execute/{action}", h.executeAction).Methods(http.MethodPut)

	server := &http.Server{
		Addr:    cfg.ListenAddr,
		Handler: router,
	}

	go func() {
		logger.Info("starting control plane", zap.String("addr", cfg.ListenAddr))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("server error", zap.Error(err))
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGTERM, syscall.SIGINT)
	sig := <-sigCh
	logger.Warn("received signal, shutting down", zap.String("signal", sig.String()))

	shutdownDeadline := 10 * time.Second
	done := make(chan struct{})
	go func() {
		_ = server.Close()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(shutdownDeadline):
		logger.Warn("server shutdown timed out")
	}

	shutdownVMs(reg, logger)
}

// shutdownVMs tears down every VM still registered at daemon exit so no
// network namespace or tap device outlives the process.
func shutdownVMs(reg *registry.Registry, logger *zap.Logger) {
	ctx := context.Background()
	for _, id := range reg.List() {
		started, ok := reg.Remove(id)
		if !ok {
			continue
		}
		if err := started.Cleanup(ctx); err != nil {
			logger.Error("failed to clean up vm on shutdown", zap.String("vm_id", id), zap.Error(err))
		}
	}
}
