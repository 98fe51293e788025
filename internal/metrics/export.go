package metrics

import (
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// RunInfo labels an exported run.
type RunInfo struct {
	ID      string
	Mode    string
	Outcome string
}

// WriteTextfile writes the collector's state in the Prometheus text
// format to path, for node_exporter's textfile collector.  The file is
// replaced atomically.
func (c *Collector) WriteTextfile(path string, run RunInfo) error {
	if c == nil {
		return nil
	}
	reg, err := c.registry(run)
	if err != nil {
		return err
	}
	if err := prometheus.WriteToTextfile(path, reg); err != nil {
		return fmt.Errorf("metrics file %s: %w", path, err)
	}
	return nil
}

func (c *Collector) registry(run RunInfo) (*prometheus.Registry, error) {
	reg := prometheus.NewRegistry()
	labels := prometheus.Labels{"mode": run.Mode}

	counter := func(name, help string, v int64) prometheus.Collector {
		g := prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace:   "openfd",
			Name:        name,
			Help:        help,
			ConstLabels: labels,
		})
		g.Set(float64(v))
		return g
	}

	info := prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace:   "openfd",
		Name:        "run_info",
		Help:        "Identity and outcome of the last run",
		ConstLabels: prometheus.Labels{"mode": run.Mode, "run_id": run.ID, "outcome": run.Outcome},
	})
	info.Set(1)

	lastRun := prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace:   "openfd",
		Name:        "last_run_timestamp_seconds",
		Help:        "Unix time the last run finished",
		ConstLabels: labels,
	})
	lastRun.Set(float64(time.Now().Unix()))

	steps := prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace:   "openfd",
		Name:        "step_duration_seconds",
		Help:        "Wall-clock duration of each orchestrator step",
		ConstLabels: labels,
	}, []string{"step", "result"})
	for _, s := range c.Steps() {
		result := "ok"
		if s.Failed {
			result = "failed"
		}
		steps.WithLabelValues(s.Name, result).Set(s.Duration.Seconds())
	}

	for _, col := range []prometheus.Collector{
		info,
		lastRun,
		steps,
		counter("console_commands", "Monitor commands sent to the board", c.Commands()),
		counter("console_received_bytes", "Bytes read from the console", c.TotalBytesIn()),
		counter("console_sent_bytes", "Bytes written to the console", c.TotalBytesOut()),
		counter("staged_bytes", "Image bytes staged for TFTP transfer", c.TotalBytesStaged()),
		counter("errors", "Errors recorded during the run", c.ErrorCount()),
	} {
		if err := reg.Register(col); err != nil {
			return nil, fmt.Errorf("registering metric: %w", err)
		}
	}
	return reg, nil
}
