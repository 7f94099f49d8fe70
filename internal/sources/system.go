package sources

import (
	"context"
	"fmt"
	"time"

	"github.com/shirou/gopsutil/v4/cpu"
	"github.com/shirou/gopsutil/v4/load"
	"github.com/shirou/gopsutil/v4/mem"

	"github.com/onchainlabs1/sentinel/internal/models"
)

// SystemSource samples host CPU, memory, and load via gopsutil and emits a
// signal when utilisation crosses its configured threshold.
type SystemSource struct {
	cpuThreshold float64
	memThreshold float64
}

// NewSystemSource constructs the host utilisation checker.
func NewSystemSource(cpuThreshold, memThreshold float64) *SystemSource {
	if cpuThreshold <= 0 {
		cpuThreshold = 90
	}
	if memThreshold <= 0 {
		memThreshold = 90
	}
	return &SystemSource{cpuThreshold: cpuThreshold, memThreshold: memThreshold}
}

// Name implements Source.
func (s *SystemSource) Name() string { return "system-checker" }

// Check implements Source.
func (s *SystemSource) Check(ctx context.Context) ([]models.Signal, error) {
	signals := make([]models.Signal, 0, 2)
	now := time.Now().UTC()

	cpuPercents, err := cpu.PercentWithContext(ctx, 0, false)
	if err != nil {
		return nil, fmt.Errorf("sample cpu: %w", err)
	}
	if len(cpuPercents) > 0 && cpuPercents[0] > s.cpuThreshold {
		metrics := map[string]float64{"cpu_percent": cpuPercents[0]}
		// Load average is best-effort context; not available everywhere.
		if avg, lerr := load.AvgWithContext(ctx); lerr == nil {
			metrics["load1"] = avg.Load1
		}
		signals = append(signals, models.Signal{
			Description: fmt.Sprintf("host cpu utilisation %.1f%% exceeds %.1f%%", cpuPercents[0], s.cpuThreshold),
			Source:      s.Name(),
			Metrics:     metrics,
			OccurredAt:  now,
		})
	}

	vm, err := mem.VirtualMemoryWithContext(ctx)
	if err != nil {
		return nil, fmt.Errorf("sample memory: %w", err)
	}
	if vm.UsedPercent > s.memThreshold {
		signals = append(signals, models.Signal{
			Description: fmt.Sprintf("host memory utilisation %.1f%% exceeds %.1f%%", vm.UsedPercent, s.memThreshold),
			Source:      s.Name(),
			Metrics:     map[string]float64{"memory_percent": vm.UsedPercent},
			OccurredAt:  now,
		})
	}

	return signals, nil
}
