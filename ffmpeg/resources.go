package ffmpeg

import (
	"fmt"

	"ytaudio/config"
	"ytaudio/video"

	"github.com/rs/zerolog"
	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/disk"
	"github.com/shirou/gopsutil/v3/mem"
)

// ResourceGuard refuses new encodes while the host is short on CPU, memory
// or temp disk space. A zero threshold disables that check.
type ResourceGuard struct {
	idleCPU  float64
	freeMem  int64
	freeDisk int64
	dir      string
	logger   zerolog.Logger

	cpuPercent    func() ([]float64, error)
	virtualMemory func() (*mem.VirtualMemoryStat, error)
	diskUsage     func(path string) (*disk.UsageStat, error)
}

func NewResourceGuard(cfg *config.Config, logger zerolog.Logger) *ResourceGuard {
	return &ResourceGuard{
		idleCPU:  cfg.ThrottleCPU,
		freeMem:  cfg.ThrottleFreeMem,
		freeDisk: cfg.ThrottleFreeDisk,
		dir:      cfg.TempDir,
		logger:   logger.With().Str("component", "resources").Logger(),
		// Interval 0 compares against the previous call instead of sleeping.
		cpuPercent:    func() ([]float64, error) { return cpu.Percent(0, false) },
		virtualMemory: mem.VirtualMemory,
		diskUsage:     disk.Usage,
	}
}

// Check returns an error wrapping video.ErrOverloaded when a threshold is
// not met. Probes that fail are logged and skipped.
func (g *ResourceGuard) Check() error {
	if g.idleCPU > 0 {
		p, err := g.cpuPercent()
		if err != nil {
			g.logger.Warn().Err(err).Msg("could not get CPU usage")
		} else if len(p) > 0 && p[0] > (100.0-g.idleCPU) {
			return fmt.Errorf("%w: not enough idle CPU. Current usage: %.2f%%, Idle threshold: %.2f%%", video.ErrOverloaded, p[0], g.idleCPU)
		}
	}

	if g.freeMem > 0 {
		vm, err := g.virtualMemory()
		if err != nil {
			g.logger.Warn().Err(err).Msg("could not get memory usage")
		} else if vm.Available < uint64(g.freeMem) {
			return fmt.Errorf("%w: not enough free memory. Available: %d, Required: %d", video.ErrOverloaded, vm.Available, g.freeMem)
		}
	}

	if g.freeDisk > 0 && g.dir != "" {
		d, err := g.diskUsage(g.dir)
		if err != nil {
			g.logger.Warn().Err(err).Str("dir", g.dir).Msg("could not get disk usage")
		} else if d.Free < uint64(g.freeDisk) {
			return fmt.Errorf("%w: not enough free disk space. Available: %d, Required: %d", video.ErrOverloaded, d.Free, g.freeDisk)
		}
	}
	return nil
}
