// Package metrics logs system and location index resource usage while a
// partition run is in progress.
package metrics

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/shirou/gopsutil/v4/cpu"
	"github.com/shirou/gopsutil/v4/disk"
	"github.com/shirou/gopsutil/v4/mem"
	"github.com/shirou/gopsutil/v4/process"
	"go.uber.org/zap"

	"github.com/wegman-software/osmtile-go/internal/progress"
)

// IndexMemoryFunc reports the location index memory per ID sign. It is
// called from the collector goroutine.
type IndexMemoryFunc func() (pos, neg int64)

// Snapshot holds one sample
type Snapshot struct {
	CPUPercent        float64 // System-wide CPU usage (0-100%)
	ProcessCPUPercent float64 // Can exceed 100% on multi-core
	IOWaitPercent     float64 // High = I/O bound
	MemoryUsed        uint64
	MemoryPercent     float64
	ProcessRSS        uint64
	IndexMemoryPos    int64
	IndexMemoryNeg    int64
	DiskReadBps       float64
	DiskWriteBps      float64
	Timestamp         time.Time
}

// Collector periodically samples and logs resource usage
type Collector struct {
	interval    time.Duration
	logger      *zap.Logger
	proc        *process.Process
	indexMemory IndexMemoryFunc

	lastDisk     map[string]disk.IOCountersStat
	lastDiskTime time.Time
	lastCPU      cpu.TimesStat
	hasCPU       bool
}

// NewCollector creates a collector; indexMemory may be nil
func NewCollector(interval time.Duration, logger *zap.Logger, indexMemory IndexMemoryFunc) *Collector {
	if interval < time.Second {
		interval = 30 * time.Second
	}

	proc, _ := process.NewProcess(int32(os.Getpid()))

	return &Collector{
		interval:    interval,
		logger:      logger,
		proc:        proc,
		indexMemory: indexMemory,
	}
}

// Run samples until ctx is cancelled. It always returns nil so it can run
// in an errgroup without failing the group.
func (c *Collector) Run(ctx context.Context) error {
	ticker := time.NewTicker(c.interval)
	defer ticker.Stop()

	// first sample sets the disk and CPU baselines
	c.collect()

	for {
		select {
		case <-ctx.Done():
			c.logger.Debug("Metrics collection stopped")
			return nil
		case <-ticker.C:
			c.log(c.collect())
		}
	}
}

func (c *Collector) collect() *Snapshot {
	s := &Snapshot{Timestamp: time.Now()}

	if pct, err := cpu.Percent(0, false); err == nil && len(pct) > 0 {
		s.CPUPercent = pct[0]
	}
	if c.proc != nil {
		if pct, err := c.proc.Percent(0); err == nil {
			s.ProcessCPUPercent = pct
		}
		if mi, err := c.proc.MemoryInfo(); err == nil {
			s.ProcessRSS = mi.RSS
		}
	}
	s.IOWaitPercent = c.ioWait()

	if vmem, err := mem.VirtualMemory(); err == nil {
		s.MemoryPercent = vmem.UsedPercent
		s.MemoryUsed = vmem.Used
	}

	s.DiskReadBps, s.DiskWriteBps = c.diskRates(s.Timestamp)

	if c.indexMemory != nil {
		s.IndexMemoryPos, s.IndexMemoryNeg = c.indexMemory()
	}

	return s
}

func (c *Collector) log(s *Snapshot) {
	c.logger.Info("System metrics",
		zap.String("sys_cpu", fmt.Sprintf("%.1f%%", s.CPUPercent)),
		zap.String("proc_cpu", fmt.Sprintf("%.1f%%", s.ProcessCPUPercent)),
		zap.String("iowait", fmt.Sprintf("%.1f%%", s.IOWaitPercent)),
		zap.String("mem_used", progress.FormatBytes(int64(s.MemoryUsed))),
		zap.String("mem_pct", fmt.Sprintf("%.1f%%", s.MemoryPercent)),
		zap.String("rss", progress.FormatBytes(int64(s.ProcessRSS))),
		zap.String("index_pos", progress.FormatBytes(s.IndexMemoryPos)),
		zap.String("index_neg", progress.FormatBytes(s.IndexMemoryNeg)),
		zap.String("disk_r", progress.FormatBytes(int64(s.DiskReadBps))+"/s"),
		zap.String("disk_w", progress.FormatBytes(int64(s.DiskWriteBps))+"/s"),
	)
}

// ioWait returns the share of CPU time spent waiting for I/O since the
// previous sample
func (c *Collector) ioWait() float64 {
	times, err := cpu.Times(false)
	if err != nil || len(times) == 0 {
		return 0
	}
	cur := times[0]
	if !c.hasCPU {
		c.lastCPU, c.hasCPU = cur, true
		return 0
	}

	last := c.lastCPU
	c.lastCPU = cur
	return iowaitPercent(last, cur)
}

func iowaitPercent(last, cur cpu.TimesStat) float64 {
	total := (cur.User - last.User) +
		(cur.System - last.System) +
		(cur.Idle - last.Idle) +
		(cur.Iowait - last.Iowait) +
		(cur.Irq - last.Irq) +
		(cur.Softirq - last.Softirq) +
		(cur.Steal - last.Steal)
	if total <= 0 {
		return 0
	}
	return (cur.Iowait - last.Iowait) / total * 100
}

// diskRates returns read and write bytes per second across all disks since
// the previous sample
func (c *Collector) diskRates(now time.Time) (readBps, writeBps float64) {
	counters, err := disk.IOCounters()
	if err != nil {
		return 0, 0
	}

	last, lastTime := c.lastDisk, c.lastDiskTime
	c.lastDisk, c.lastDiskTime = counters, now
	if last == nil {
		return 0, 0
	}

	elapsed := now.Sub(lastTime).Seconds()
	if elapsed < 0.1 {
		return 0, 0
	}

	var read, written uint64
	for name, cur := range counters {
		prev, ok := last[name]
		if !ok {
			continue
		}
		// counters can wrap
		if cur.ReadBytes >= prev.ReadBytes {
			read += cur.ReadBytes - prev.ReadBytes
		}
		if cur.WriteBytes >= prev.WriteBytes {
			written += cur.WriteBytes - prev.WriteBytes
		}
	}
	return float64(read) / elapsed, float64(written) / elapsed
}
