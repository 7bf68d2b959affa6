package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/gorilla/mux"

	"github.com/jdugan/esdb/pkg/config"
	"github.com/jdugan/esdb/pkg/server"
	"github.com/jdugan/esdb/pkg/server/monitor"
)

func main() {
	log.Println("Starting esdbd...")

	cfg := server.LoadConfig()
	log.Printf("Data directory: %s", cfg.DataDir)

	store, err := server.InitializeStorage(cfg)
	if err != nil {
		log.Fatalf("Failed to initialize storage: %v", err)
	}
	defer store.Close()

	inv, err := server.InitializeInventory(cfg)
	if err != nil {
		log.Fatalf("Failed to load inventory: %v", err)
	}

	coord, ingestHandler, queryHandler, inventoryHandler, hub, slog, err := server.InitializeHandlers(cfg, inv, store)
	if err != nil {
		log.Fatalf("Failed to initialize handlers: %v", err)
	}
	if slog != nil {
		defer slog.Close()
	}

	rot, rotationMonitor, err := server.InitializeRotation(cfg, store)
	if err != nil {
		log.Fatalf("Failed to initialize rotation: %v", err)
	}

	disk := monitor.NewDiskMonitor(cfg.DataDir, cfg.ArchiveDir)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var wg sync.WaitGroup

	wg.Add(1)
	go func() {
		defer wg.Done()
		hub.Run(ctx)
	}()
	log.Println("WebSocket hub started for live poll-result streaming")

	if rot != nil {
		wg.Add(1)
		go server.RunRotation(ctx, rot, rotationMonitor, &wg)
	}

	wg.Add(1)
	go server.RunBadgerGC(ctx, store, &wg)

	wg.Add(1)
	go server.RunStatsLogger(ctx, coord, &wg)

	router := mux.NewRouter()
	server.SetupRoutes(router, ingestHandler, queryHandler, inventoryHandler,
		coord, store, disk, rotationMonitor, hub)

	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      router,
		ReadTimeout:  config.ReadTimeout,
		WriteTimeout: config.WriteTimeout,
		IdleTimeout:  config.IdleTimeout,
	}

	go func() {
		log.Printf("esdbd listening on :%s", cfg.Port)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Server failed to start: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Println("Shutdown signal received...")

	// stop background tasks before waiting on them
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), config.ShutdownTimeout)
	defer shutdownCancel()

	log.Println("Gracefully shutting down server...")
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Printf("Server shutdown warning: %v", err)
	}

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		log.Println("All background tasks stopped cleanly")
	case <-time.After(5 * time.Second):
		log.Println("Some background tasks did not stop in time (forcing exit)")
	}

	log.Println("esdbd exited cleanly")
}
