// Command pollgen generates synthetic SNMP poll results and pushes them to a
// running esdbd, for development and load testing. Counters grow at a steady
// byte rate and wrap when they exceed their width, which exercises the
// wraparound handling on the query side.
package main

import (
	"bytes"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"math"
	"math/rand"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/jdugan/esdb/pkg/ingest"
)

func main() {
	endpoint := flag.String("endpoint", "http://localhost:8080", "esdbd base URL")
	device := flag.String("device", "rtr1", "device name, must exist in the inventory")
	oidset := flag.String("oidset", "IfRefPoll", "oidset name")
	interfaces := flag.Int("interfaces", 4, "number of interface instances to poll")
	interval := flag.Duration("interval", 30*time.Second, "polling interval")
	rate := flag.Float64("rate", 1e6, "bytes/sec of simulated traffic per interface")
	flag.Parse()

	log.Printf("pollgen: pushing %d interfaces to %s every %v", *interfaces, *endpoint, *interval)

	// per-interface counter state, 32-bit so wraps happen within a demo run
	counters := make([]uint64, *interfaces)
	for i := range counters {
		counters[i] = rand.Uint64() & math.MaxUint32
	}

	ticker := time.NewTicker(*interval)
	defer ticker.Stop()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	for {
		select {
		case <-quit:
			log.Println("pollgen: stopped")
			return
		case <-ticker.C:
			pr := ingest.PollResult{
				DeviceID:  *device,
				OIDSetID:  *oidset,
				Timestamp: time.Now().Unix(),
			}
			for i := range counters {
				step := uint64(*rate * (*interval).Seconds())
				// jitter so consolidated rates are not perfectly flat
				step += uint64(rand.Int63n(int64(step/10 + 1)))
				counters[i] = (counters[i] + step) & math.MaxUint32

				pr.Vars = append(pr.Vars, ingest.Var{
					Name:  fmt.Sprintf("ifInOctets.%d", i+1),
					Value: strconv.FormatUint(counters[i], 10),
				})
			}

			if err := push(*endpoint, pr); err != nil {
				log.Printf("pollgen: push failed: %v", err)
			}
		}
	}
}

func push(endpoint string, pr ingest.PollResult) error {
	body, err := json.Marshal(pr)
	if err != nil {
		return err
	}

	resp, err := http.Post(endpoint+"/v1/pollresult", "application/json", bytes.NewReader(body))
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	var result struct {
		Status  ingest.Status `json:"status"`
		Message string        `json:"message,omitempty"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return err
	}
	if result.Status != ingest.StatusOK {
		return fmt.Errorf("server returned status %s: %s", result.Status, result.Message)
	}
	log.Printf("pollgen: stored %d vars at %d", len(pr.Vars), pr.Timestamp)
	return nil
}
