package stats

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	log "github.com/sirupsen/logrus"
)

const (
	BYTE = 1 << (10 * iota)
	KILOBYTE
	MEGABYTE
	GIGABYTE
	TERABYTE
)

const dumpFile = "metrics.dump"

// Reporter is a task run at every statistics interval.
type Reporter func(ctx context.Context)

type Opts struct {
	Interval time.Duration
	// DumpDir, if defined, is where the metrics are written when the context
	// is done.
	DumpDir   string
	Gatherer  prometheus.Gatherer
	Reporters []Reporter
}

// EnableStatistics starts a goroutine that periodically prints memory usage
// and number of goroutines of the process, and runs the given reporters.
func EnableStatistics(ctx context.Context, opts Opts) error {
	if opts.Interval <= 0 {
		return fmt.Errorf("interval must be greater than zero")
	}
	if len(opts.DumpDir) > 0 && opts.Gatherer == nil {
		return fmt.Errorf("missing gatherer for dumping metrics")
	}

	ticker := time.NewTicker(opts.Interval)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				PrintMemoryStatistics()
				PrintNumOfRoutines()
				for _, report := range opts.Reporters {
					report(ctx)
				}
			case <-ctx.Done():
				if len(opts.DumpDir) <= 0 {
					return
				}
				filename := filepath.Join(opts.DumpDir, dumpFile)
				if err := DumpMetrics(opts.Gatherer, filename); err != nil {
					log.WithError(err).Warn("failed to dump metrics")
				}
				return
			}
		}
	}()
	return nil
}

// toGigabytes returns given memory in bytes to gigabytes.
func toGigabytes(bytes uint64) float64 {
	return float64(bytes) / GIGABYTE
}

// PrintMemoryStatistics prints memory statistics using go runtime library.
func PrintMemoryStatistics() {
	var memStats runtime.MemStats
	runtime.ReadMemStats(&memStats)

	log.Infof(
		"Total allocated: %.3fGB, Heap allocated: %.3fGB, "+
			"Allocated objects count: %v, Freed objects count: %v",
		toGigabytes(memStats.TotalAlloc),
		toGigabytes(memStats.HeapAlloc),
		memStats.Mallocs,
		memStats.Frees,
	)
}

// DumpMetrics appends the metrics collected by the gatherer to the given file.
func DumpMetrics(gatherer prometheus.Gatherer, filename string) error {
	file, err := os.OpenFile(filename, os.O_APPEND|os.O_CREATE|os.O_RDWR, 0644)
	if err != nil {
		return err
	}
	defer file.Close()

	metricFamilies, err := gatherer.Gather()
	if err != nil {
		return err
	}

	writer := bufio.NewWriter(file)
	fmt.Fprintf(writer, "# %s\n", time.Now().UTC().Format(time.RFC3339))
	for _, mf := range metricFamilies {
		if _, err := writer.WriteString(mf.String() + "\n"); err != nil {
			return err
		}
	}
	return writer.Flush()
}

// PrintNumOfRoutines prints number of go routines currently running
func PrintNumOfRoutines() {
	log.Infof("Num of go routines: %v", runtime.NumGoroutine())
}
