package server

import (
	"log"
	"os"
	"strconv"
	"time"

	"github.com/jdugan/esdb/pkg/config"
	"github.com/jdugan/esdb/pkg/ingest"
	"github.com/jdugan/esdb/pkg/inventory"
	"github.com/jdugan/esdb/pkg/query"
	"github.com/jdugan/esdb/pkg/rotate"
	"github.com/jdugan/esdb/pkg/server/monitor"
	"github.com/jdugan/esdb/pkg/storage/badger"
	"github.com/jdugan/esdb/pkg/streamlog"
)

// Config holds daemon configuration.
type Config struct {
	DataDir       string
	ArchiveDir    string
	StreamLogDir  string
	InventoryPath string
	MaxMemoryMB   int64
	Retention     time.Duration
	Port          string
}

// LoadConfig loads configuration from environment variables.
func LoadConfig() Config {
	cfg := Config{
		DataDir:       getEnv("ESDB_DATA_DIR", "./data/esdb"),
		ArchiveDir:    os.Getenv("ESDB_ARCHIVE_DIR"),
		StreamLogDir:  os.Getenv("ESDB_STREAM_LOG_DIR"),
		InventoryPath: os.Getenv("ESDB_INVENTORY"),
		MaxMemoryMB:   getEnvInt64("ESDB_MAX_MEMORY_MB", config.DefaultMaxMemoryMB),
		Retention:     config.DefaultRetention,
		Port:          getEnv("PORT", config.DefaultPort),
	}

	if hours := getEnvInt64("ESDB_RETENTION_HOURS", 0); hours > 0 {
		cfg.Retention = time.Duration(hours) * time.Hour
	}

	if err := os.MkdirAll(cfg.DataDir, 0o755); err != nil {
		log.Fatalf("Failed to create data directory: %v", err)
	}
	return cfg
}

// InitializeStorage opens the fast-tier BadgerDB store.
func InitializeStorage(cfg Config) (*badger.Store, error) {
	log.Println("Initializing BadgerDB storage with Snappy compression...")
	store, err := badger.New(badger.Config{
		Path:        cfg.DataDir,
		MaxMemoryMB: cfg.MaxMemoryMB,
	})
	if err != nil {
		return nil, err
	}
	log.Println("BadgerDB storage initialized successfully")
	return store, nil
}

// InitializeInventory seeds the inventory from the configured file, or starts
// empty when none is configured.
func InitializeInventory(cfg Config) (*inventory.Inventory, error) {
	if cfg.InventoryPath == "" {
		log.Println("No inventory file configured, starting empty")
		return inventory.New(), nil
	}
	inv, err := inventory.Load(cfg.InventoryPath)
	if err != nil {
		return nil, err
	}
	log.Printf("Inventory loaded from %s (%d devices, %d oidsets)",
		cfg.InventoryPath, len(inv.Devices()), len(inv.OIDSets()))
	return inv, nil
}

// InitializeHandlers creates the request handlers and the websocket hub. The
// streaming poll-result log, when configured, is attached as an ingest sink
// alongside the hub.
func InitializeHandlers(cfg Config, inv *inventory.Inventory, store *badger.Store) (
	*ingest.Coordinator,
	*ingest.Handler,
	*query.Handler,
	*inventory.Handler,
	*ingest.Hub,
	*streamlog.Writer,
	error,
) {
	hub := ingest.NewHub()
	sinks := []ingest.Sink{hub}

	var slog *streamlog.Writer
	if cfg.StreamLogDir != "" {
		var err error
		slog, err = streamlog.New(cfg.StreamLogDir)
		if err != nil {
			return nil, nil, nil, nil, nil, nil, err
		}
		sinks = append(sinks, ingest.StreamLogSink{W: slog})
		log.Printf("Streaming poll-result log enabled in %s", cfg.StreamLogDir)
	}

	coord := ingest.NewCoordinator(inv, store, sinks...)
	log.Println("Ingest coordinator created")

	queryHandler := query.NewHandler(inv, store)
	log.Println("Query handler created")

	return coord, ingest.NewHandler(coord), queryHandler, inventory.NewHandler(inv), hub, slog, nil
}

// InitializeRotation creates the chunk rotator when an archive dir is
// configured. Returns nil when rotation is disabled.
func InitializeRotation(cfg Config, store *badger.Store) (*rotate.Rotator, *monitor.RotationMonitor, error) {
	rotationMonitor := &monitor.RotationMonitor{}
	if cfg.ArchiveDir == "" {
		log.Println("No archive directory configured, chunk rotation disabled")
		return nil, rotationMonitor, nil
	}

	rot, err := rotate.New(store, rotate.Config{
		Dir:       cfg.ArchiveDir,
		Retention: int64(cfg.Retention / time.Second),
	})
	if err != nil {
		return nil, nil, err
	}
	log.Printf("Chunk rotation enabled: retention %v, archive dir %s", cfg.Retention, cfg.ArchiveDir)
	return rot, rotationMonitor, nil
}

// getEnv gets a string from an environment variable or returns the default.
func getEnv(key, defaultValue string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultValue
}

// getEnvInt64 gets an int64 from an environment variable or returns the default.
func getEnvInt64(key string, defaultValue int64) int64 {
	if val := os.Getenv(key); val != "" {
		if parsed, err := strconv.ParseInt(val, 10, 64); err == nil {
			return parsed
		}
		log.Printf("Invalid value for %s: %q, using default %d", key, val, defaultValue)
	}
	return defaultValue
}
