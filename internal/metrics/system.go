package metrics

import (
	"context"
	"os"
	"time"

	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/process"
	"go.uber.org/zap"
)

// Sampler periodically feeds process CPU and memory readings into the
// registry gauges.
type Sampler struct {
	reg *Registry
	log *zap.Logger
}

func NewSampler(reg *Registry, log *zap.Logger) *Sampler {
	return &Sampler{reg: reg, log: log}
}

// Run samples until ctx is cancelled. Blocking; callers run it on its own
// goroutine.
func (s *Sampler) Run(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = 15 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	proc, err := process.NewProcess(int32(os.Getpid()))
	if err != nil {
		s.log.Warn("system sampler: process handle unavailable", zap.Error(err))
		proc = nil
	}

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if pct, err := cpu.Percent(0, false); err == nil && len(pct) > 0 {
				s.reg.CPUPercent.Set(pct[0])
			}
			if proc != nil {
				if mem, err := proc.MemoryInfo(); err == nil {
					s.reg.MemoryRSS.Set(float64(mem.RSS))
				}
			}
		}
	}
}
