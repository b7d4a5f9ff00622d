package metrics

import (
	"os"
	"runtime"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/process"
)

// ProcessSampler publishes process-level CPU and memory gauges, grounded on
// the teacher's internal/metrics/system.go (gopsutil cpu.Percent with an
// exponential moving average) but extended to also read RSS via
// gopsutil/process rather than runtime.MemStats, since heap-only figures
// undercount what an operator actually cares about when sizing a pod.
type ProcessSampler struct {
	mu         sync.Mutex
	proc       *process.Process
	cpuPercent float64

	goroutines prometheus.Gauge
	rssBytes   prometheus.Gauge
	cpuPercentGauge prometheus.Gauge
}

// NewProcessSampler constructs a sampler for the current process.
func NewProcessSampler() (*ProcessSampler, error) {
	p, err := process.NewProcess(int32(os.Getpid()))
	if err != nil {
		return nil, err
	}
	return &ProcessSampler{
		proc: p,
		goroutines: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "gateway_goroutines", Help: "Number of live goroutines.",
		}),
		rssBytes: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "gateway_process_rss_bytes", Help: "Resident set size of the gateway process.",
		}),
		cpuPercentGauge: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "gateway_process_cpu_percent", Help: "Smoothed process CPU usage percentage.",
		}),
	}, nil
}

// Sample refreshes goroutine count, RSS, and a smoothed CPU percentage.
func (s *ProcessSampler) Sample() {
	s.goroutines.Set(float64(runtime.NumGoroutine()))

	if memInfo, err := s.proc.MemoryInfo(); err == nil && memInfo != nil {
		s.rssBytes.Set(float64(memInfo.RSS))
	}

	percents, err := cpu.Percent(0, false)
	if err != nil || len(percents) == 0 {
		return
	}
	current := percents[0]

	s.mu.Lock()
	if s.cpuPercent == 0 {
		s.cpuPercent = current
	} else {
		const alpha = 0.3
		s.cpuPercent = alpha*current + (1-alpha)*s.cpuPercent
	}
	smoothed := s.cpuPercent
	s.mu.Unlock()

	s.cpuPercentGauge.Set(smoothed)
}

// Run samples on the given interval until ctx-like stop channel closes.
func (s *ProcessSampler) Run(interval time.Duration, stop <-chan struct{}) {
	if interval <= 0 {
		interval = 10 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			s.Sample()
		case <-stop:
			return
		}
	}
}
