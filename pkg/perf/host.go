package perf

import (
	"context"
	"time"

	"github.com/c9s/goprocinfo/linux"

	"github.com/jimv/vmagent/pkg/emitter"
	"github.com/jimv/vmagent/pkg/log"
)

// HostCPUMemorySample is the host's own cpu/memory reading for an interval.
type HostCPUMemorySample struct {
	NodeID         uint64  `json:"node_id"`
	CPULoad        float64 `json:"cpu_load"`
	MemoryTotalKiB uint64  `json:"memory_total"`
	MemoryFreeKiB  uint64  `json:"memory_free"`
	MemoryAvailKiB uint64  `json:"memory_available"`
}

// HostTrafficSample is one host interface's rates for an interval.
type HostTrafficSample struct {
	NodeID    uint64 `json:"node_id"`
	Name      string `json:"name"`
	RxBytes   uint64 `json:"rx_bytes"`
	RxPackets uint64 `json:"rx_packets"`
	TxBytes   uint64 `json:"tx_bytes"`
	TxPackets uint64 `json:"tx_packets"`
}

// HostDiskIOSample is one host block device's rates for an interval.
type HostDiskIOSample struct {
	NodeID  uint64 `json:"node_id"`
	Name    string `json:"name"`
	RdReq   uint64 `json:"rd_req"`
	RdBytes uint64 `json:"rd_bytes"`
	WrReq   uint64 `json:"wr_req"`
	WrBytes uint64 `json:"wr_bytes"`
}

// sectorSize converts diskstats sector counts to bytes.
const sectorSize = 512

type hostCPUCursor struct {
	busy  uint64
	total uint64
}

// HostCollector samples the host's own /proc counters on the same interval
// discipline as the guest collector: first sight seeds, later cycles delta.
type HostCollector struct {
	emit            *emitter.HostPerfEmitter
	nodeID          uint64
	intervalSeconds int64

	cpu     *hostCPUCursor
	traffic map[string]trafficCursor
	diskIO  map[string]diskIOCursor

	// proc paths and clock are swapped out by tests.
	statPath    string
	meminfoPath string
	netdevPath  string
	diskPath    string
	now         func() time.Time
}

// NewHostCollector builds a host collector for nodeID.
func NewHostCollector(emit *emitter.HostPerfEmitter, nodeID uint64, intervalSeconds int) *HostCollector {
	return &HostCollector{
		emit:            emit,
		nodeID:          nodeID,
		intervalSeconds: int64(intervalSeconds),
		traffic:         make(map[string]trafficCursor),
		diskIO:          make(map[string]diskIOCursor),
		statPath:        "/proc/stat",
		meminfoPath:     "/proc/meminfo",
		netdevPath:      "/proc/net/dev",
		diskPath:        "/proc/diskstats",
		now:             time.Now,
	}
}

// Run wakes every second and samples on interval boundaries.
func (c *HostCollector) Run(ctx context.Context) {
	logger := log.WithComponent("host-perf-collector")
	logger.Info().Int64("interval_s", c.intervalSeconds).Msg("host performance collector started")

	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			logger.Info().Msg("host performance collector stopped")
			return
		case <-ticker.C:
			c.Tick(ctx)
		}
	}
}

// Tick runs at most one sampling cycle, gated on the wall clock.
func (c *HostCollector) Tick(ctx context.Context) {
	now := c.now()
	if now.Unix()%c.intervalSeconds != 0 {
		return
	}

	c.sampleCPUMemory(ctx)
	c.sampleTraffic(ctx, now)
	c.sampleDiskIO(ctx, now)
}

func (c *HostCollector) sampleCPUMemory(ctx context.Context) {
	stat, err := linux.ReadStat(c.statPath)
	if err != nil {
		log.Logger.Warn().Err(err).Msg("failed to read host cpu stat")
		return
	}

	all := stat.CPUStatAll
	busy := all.User + all.Nice + all.System + all.IRQ + all.SoftIRQ + all.Steal
	total := busy + all.Idle + all.IOWait

	prev := c.cpu
	c.cpu = &hostCPUCursor{busy: busy, total: total}
	if prev == nil || total <= prev.total {
		return
	}

	meminfo, err := linux.ReadMemInfo(c.meminfoPath)
	if err != nil {
		log.Logger.Warn().Err(err).Msg("failed to read host meminfo")
		return
	}

	load := float64(busy-prev.busy) / float64(total-prev.total) * 100
	if load > 100 {
		load = 100
	}

	c.emit.CPUMemory(ctx, []HostCPUMemorySample{{
		NodeID:         c.nodeID,
		CPULoad:        load,
		MemoryTotalKiB: meminfo.MemTotal,
		MemoryFreeKiB:  meminfo.MemFree,
		MemoryAvailKiB: meminfo.MemAvailable,
	}})
}

func (c *HostCollector) sampleTraffic(ctx context.Context, now time.Time) {
	stats, err := linux.ReadNetworkStat(c.netdevPath)
	if err != nil {
		log.Logger.Warn().Err(err).Msg("failed to read host network stat")
		return
	}

	var out []HostTrafficSample
	for _, s := range stats {
		if s.Iface == "lo" {
			continue
		}

		if prev, seen := c.traffic[s.Iface]; seen {
			out = append(out, HostTrafficSample{
				NodeID:    c.nodeID,
				Name:      s.Iface,
				RxBytes:   (s.RxBytes - uint64(prev.rxBytes)) / uint64(c.intervalSeconds),
				RxPackets: (s.RxPackets - uint64(prev.rxPackets)) / uint64(c.intervalSeconds),
				TxBytes:   (s.TxBytes - uint64(prev.txBytes)) / uint64(c.intervalSeconds),
				TxPackets: (s.TxPackets - uint64(prev.txPackets)) / uint64(c.intervalSeconds),
			})
		}

		c.traffic[s.Iface] = trafficCursor{
			rxBytes:   int64(s.RxBytes),
			rxPackets: int64(s.RxPackets),
			txBytes:   int64(s.TxBytes),
			txPackets: int64(s.TxPackets),
			timestamp: now,
		}
	}

	if len(out) > 0 {
		c.emit.Traffic(ctx, out)
	}
}

func (c *HostCollector) sampleDiskIO(ctx context.Context, now time.Time) {
	stats, err := linux.ReadDiskStats(c.diskPath)
	if err != nil {
		log.Logger.Warn().Err(err).Msg("failed to read host disk stats")
		return
	}

	var out []HostDiskIOSample
	for _, s := range stats {
		if prev, seen := c.diskIO[s.Name]; seen {
			out = append(out, HostDiskIOSample{
				NodeID:  c.nodeID,
				Name:    s.Name,
				RdReq:   (s.ReadIOs - uint64(prev.rdReq)) / uint64(c.intervalSeconds),
				RdBytes: (s.ReadSectors*sectorSize - uint64(prev.rdBytes)) / uint64(c.intervalSeconds),
				WrReq:   (s.WriteIOs - uint64(prev.wrReq)) / uint64(c.intervalSeconds),
				WrBytes: (s.WriteSectors*sectorSize - uint64(prev.wrBytes)) / uint64(c.intervalSeconds),
			})
		}

		c.diskIO[s.Name] = diskIOCursor{
			rdReq:     int64(s.ReadIOs),
			rdBytes:   int64(s.ReadSectors * sectorSize),
			wrReq:     int64(s.WriteIOs),
			wrBytes:   int64(s.WriteSectors * sectorSize),
			timestamp: now,
		}
	}

	if len(out) > 0 {
		c.emit.DiskUsageIO(ctx, out)
	}
}
