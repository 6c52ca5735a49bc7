package power

import (
	"context"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/procfs/sysfs"
)

const DefaultMonitorInterval = time.Second

// Monitor samples the current scaling frequency of every cpu. It is read only and
// never touches staged settings.
type Monitor struct {
	fs       sysfs.FS
	interval time.Duration

	mutex   sync.RWMutex
	current map[uint]uint64
}

// NewMonitor reads from the sysfs mounted at sysRoot, usually /sys
func NewMonitor(sysRoot string, interval time.Duration) (*Monitor, error) {
	fs, err := sysfs.NewFS(sysRoot)
	if err != nil {
		return nil, fmt.Errorf("failed to open sysfs: %w", err)
	}
	if interval <= 0 {
		interval = DefaultMonitorInterval
	}
	return &Monitor{
		fs:       fs,
		interval: interval,
		current:  map[uint]uint64{},
	}, nil
}

// Sample takes one reading of all cpus
func (m *Monitor) Sample() error {
	stats, err := m.fs.SystemCpufreq()
	if err != nil {
		return fmt.Errorf("failed to read cpufreq stats: %w", err)
	}
	current := make(map[uint]uint64, len(stats))
	for _, stat := range stats {
		// cpus listed in devices/system/cpu/offline are dropped by procfs, cpus
		// without a cpufreq directory leave an unnamed slot
		if stat.Name == "" || stat.ScalingCurrentFrequency == nil {
			continue
		}
		cpu, err := strconv.ParseUint(stat.Name, 10, 32)
		if err != nil {
			continue
		}
		current[uint(cpu)] = *stat.ScalingCurrentFrequency
	}
	m.mutex.Lock()
	m.current = current
	m.mutex.Unlock()
	return nil
}

// Current returns the last sampled frequency of the cpu in kHz
func (m *Monitor) Current(cpu uint) (uint64, bool) {
	m.mutex.RLock()
	defer m.mutex.RUnlock()
	freq, ok := m.current[cpu]
	return freq, ok
}

// Run samples on every tick until the context is cancelled, calling onSample after
// each successful reading when it is not nil
func (m *Monitor) Run(ctx context.Context, onSample func(*Monitor)) error {
	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()
	for {
		if err := m.Sample(); err != nil {
			log.V(1).Info("frequency sample failed", "error", err.Error())
		} else if onSample != nil {
			onSample(m)
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}
