package server

import (
	"net/http"
	"time"

	"github.com/gorilla/mux"

	"github.com/jdugan/esdb/pkg/httpx"
	"github.com/jdugan/esdb/pkg/ingest"
	"github.com/jdugan/esdb/pkg/inventory"
	"github.com/jdugan/esdb/pkg/query"
	"github.com/jdugan/esdb/pkg/server/monitor"
	"github.com/jdugan/esdb/pkg/storage"
)

var startTime = time.Now()

// HealthResponse is the health check shape.
type HealthResponse struct {
	Status   string                 `json:"status"`
	Uptime   string                 `json:"uptime"`
	Rotation monitor.RotationStatus `json:"rotation"`
}

// StatsResponse summarizes store contents and disk usage.
type StatsResponse struct {
	Streams      uint64 `json:"streams"`
	Samples      uint64 `json:"samples"`
	OldestSample int64  `json:"oldest_sample,omitempty"`
	NewestSample int64  `json:"newest_sample,omitempty"`
	VarsStored   uint64 `json:"vars_stored"`
	DataBytes    int64  `json:"data_bytes"`
	ArchiveBytes int64  `json:"archive_bytes"`
}

// handleHealth returns service health. Rotation failures degrade the service
// rather than failing it; reads and writes still work.
func handleHealth(rotationMonitor *monitor.RotationMonitor) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		status := "healthy"
		code := http.StatusOK
		if !rotationMonitor.IsHealthy() {
			status = "degraded"
			code = http.StatusServiceUnavailable
		}

		httpx.RespondJSON(w, code, HealthResponse{
			Status:   status,
			Uptime:   time.Since(startTime).String(),
			Rotation: rotationMonitor.Status(),
		})
	}
}

// handleStats returns store statistics plus ingest throughput counters.
func handleStats(store storage.StreamStore, coord *ingest.Coordinator, disk *monitor.DiskMonitor) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		stats, err := store.Stats(r.Context())
		if err != nil {
			httpx.RespondError(w, http.StatusInternalServerError, err)
			return
		}

		data, archive, err := disk.Usage()
		if err != nil {
			httpx.RespondError(w, http.StatusInternalServerError, err)
			return
		}

		httpx.RespondJSON(w, http.StatusOK, StatsResponse{
			Streams:      stats.TotalStreams,
			Samples:      stats.TotalSamples,
			OldestSample: stats.OldestSample,
			NewestSample: stats.NewestSample,
			VarsStored:   coord.VarsStored(),
			DataBytes:    data,
			ArchiveBytes: archive,
		})
	}
}

// SetupRoutes configures all HTTP routes for the daemon.
func SetupRoutes(
	router *mux.Router,
	ingestHandler *ingest.Handler,
	queryHandler *query.Handler,
	inventoryHandler *inventory.Handler,
	coord *ingest.Coordinator,
	store storage.StreamStore,
	disk *monitor.DiskMonitor,
	rotationMonitor *monitor.RotationMonitor,
	hub *ingest.Hub,
) {
	api := router.PathPrefix("/v1").Subrouter()

	// ingest and query
	api.HandleFunc("/pollresult", ingestHandler.HandleStorePollResult).Methods("POST")
	api.HandleFunc("/select", queryHandler.HandleSelect).Methods("GET", "POST")
	api.HandleFunc("/vars/grouping/{grouping}", queryHandler.HandleGrouping).Methods("GET")

	// inventory
	api.HandleFunc("/devices", inventoryHandler.HandleDevices).Methods("GET")
	api.HandleFunc("/devices/{name}", inventoryHandler.HandleDevice).Methods("GET")
	api.HandleFunc("/oidsets", inventoryHandler.HandleOIDSets).Methods("GET")
	api.HandleFunc("/oids", inventoryHandler.HandleOIDs).Methods("GET")
	api.HandleFunc("/groupings/{name}", inventoryHandler.HandleGrouping).Methods("GET")

	// ops
	api.HandleFunc("/stats", handleStats(store, coord, disk)).Methods("GET")
	api.HandleFunc("/health", handleHealth(rotationMonitor)).Methods("GET")

	// live poll-result feed
	api.HandleFunc("/live", hub.HandleWS).Methods("GET")

	router.HandleFunc("/healthz", handleHealth(rotationMonitor)).Methods("GET")
}
