package server

import (
	"context"
	"log"
	"sync"
	"time"

	"github.com/jdugan/esdb/pkg/config"
	"github.com/jdugan/esdb/pkg/ingest"
	"github.com/jdugan/esdb/pkg/rotate"
	"github.com/jdugan/esdb/pkg/server/monitor"
	"github.com/jdugan/esdb/pkg/storage/badger"
)

// RunRotation runs the chunk rotation job periodically with retry and
// exponential backoff, recording outcomes on the monitor.
func RunRotation(ctx context.Context, rot *rotate.Rotator, rotationMonitor *monitor.RotationMonitor, wg *sync.WaitGroup) {
	defer wg.Done()

	ticker := time.NewTicker(config.RotationInterval)
	defer ticker.Stop()

	runWithRetry := func() {
		maxRetries := 3
		baseDelay := 30 * time.Second

		for attempt := 0; attempt <= maxRetries; attempt++ {
			if attempt > 0 {
				delay := baseDelay * time.Duration(1<<(attempt-1))
				log.Printf("Retrying rotation in %v (attempt %d/%d)...", delay, attempt+1, maxRetries+1)
				select {
				case <-time.After(delay):
				case <-ctx.Done():
					return
				}
			}

			start := time.Now()
			moved, err := rot.RotateOnce(ctx, time.Now().Unix())
			if err == nil {
				rotationMonitor.RecordSuccess()
				if moved > 0 {
					log.Printf("Rotation completed in %v (%d chunks archived)",
						time.Since(start).Round(time.Millisecond), moved)
				}
				return
			}
			if ctx.Err() != nil {
				return
			}

			rotationMonitor.RecordFailure(err)
			log.Printf("Rotation failed (attempt %d/%d): %v", attempt+1, maxRetries+1, err)

			if status := rotationMonitor.Status(); status.ConsecutiveErrors > 3 {
				log.Printf("ALERT: Rotation has been failing! Consecutive errors: %d", status.ConsecutiveErrors)
			}
		}
		log.Printf("Rotation failed after %d attempts, will retry on next schedule", maxRetries+1)
	}

	log.Printf("Rotation scheduler started (runs every %v)", config.RotationInterval)
	for {
		select {
		case <-ticker.C:
			runWithRetry()
		case <-ctx.Done():
			log.Println("Stopping rotation scheduler")
			return
		}
	}
}

// RunBadgerGC runs BadgerDB value log garbage collection periodically. Chunk
// rotation deletes keys but the LSM value log only shrinks when GC rewrites
// its files.
func RunBadgerGC(ctx context.Context, store *badger.Store, wg *sync.WaitGroup) {
	defer wg.Done()

	ticker := time.NewTicker(config.BadgerGCInterval)
	defer ticker.Stop()

	log.Printf("BadgerDB GC scheduler started (runs every %v)", config.BadgerGCInterval)
	for {
		select {
		case <-ticker.C:
			start := time.Now()
			// one iteration per tick; 0.5 discard ratio rewrites a file once
			// half of it is garbage
			if err := store.RunGC(0.5); err != nil {
				log.Printf("GC completed in %v (no rewrite needed)", time.Since(start).Round(time.Millisecond))
			} else {
				log.Printf("GC completed in %v (disk space reclaimed)", time.Since(start).Round(time.Millisecond))
			}
		case <-ctx.Done():
			log.Println("Stopping BadgerDB GC scheduler")
			return
		}
	}
}

// RunStatsLogger logs ingest throughput periodically.
func RunStatsLogger(ctx context.Context, coord *ingest.Coordinator, wg *sync.WaitGroup) {
	defer wg.Done()

	ticker := time.NewTicker(config.StatsInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			coord.LogStats()
		case <-ctx.Done():
			return
		}
	}
}
