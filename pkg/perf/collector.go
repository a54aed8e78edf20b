// Package perf is the performance-collection engine: a 1 Hz driver loop that
// turns the hypervisor's monotonic counters into per-interval rates with
// bounded cursor memory.
package perf

import (
	"context"
	"path"
	"strings"
	"time"

	"github.com/jimv/vmagent/pkg/domainxml"
	"github.com/jimv/vmagent/pkg/emitter"
	"github.com/jimv/vmagent/pkg/hypervisor"
	"github.com/jimv/vmagent/pkg/log"
	"github.com/jimv/vmagent/pkg/metrics"
)

// gcPeriodSeconds is how often stale cursors are swept.
const gcPeriodSeconds = 3600

// CPUMemorySample is one guest's cpu/memory reading for an interval.
type CPUMemorySample struct {
	GuestUUID       string  `json:"guest_uuid"`
	CPULoad         float64 `json:"cpu_load"`
	MemoryAvailable uint64  `json:"memory_available"`
	MemoryUnused    uint64  `json:"memory_unused"`
}

// TrafficSample is one interface's rates for an interval. Error and drop
// counts are absolute counters, not rates.
type TrafficSample struct {
	GuestUUID string `json:"guest_uuid"`
	Name      string `json:"name"`
	RxBytes   int64  `json:"rx_bytes"`
	RxPackets int64  `json:"rx_packets"`
	RxErrs    int64  `json:"rx_errs"`
	RxDrop    int64  `json:"rx_drop"`
	TxBytes   int64  `json:"tx_bytes"`
	TxPackets int64  `json:"tx_packets"`
	TxErrs    int64  `json:"tx_errs"`
	TxDrop    int64  `json:"tx_drop"`
}

// DiskIOSample is one disk's rates for an interval.
type DiskIOSample struct {
	DiskUUID string `json:"disk_uuid"`
	RdReq    int64  `json:"rd_req"`
	RdBytes  int64  `json:"rd_bytes"`
	WrReq    int64  `json:"wr_req"`
	WrBytes  int64  `json:"wr_bytes"`
}

// Collector drives the sampling cycle.
type Collector struct {
	conn    hypervisor.Connection
	emit    *emitter.GuestPerfEmitter
	cursors *CursorStore

	// intervalSeconds gates the 1 Hz loop; a cycle only runs when the wall
	// clock is a multiple of it.
	intervalSeconds int64

	// now is swapped out by tests.
	now func() time.Time
}

// NewCollector builds a collector sampling every intervalSeconds.
func NewCollector(conn hypervisor.Connection, emit *emitter.GuestPerfEmitter, intervalSeconds int) *Collector {
	return &Collector{
		conn:            conn,
		emit:            emit,
		cursors:         NewCursorStore(),
		intervalSeconds: int64(intervalSeconds),
		now:             time.Now,
	}
}

// Run wakes every second and samples on interval boundaries until ctx is
// cancelled. A missed tick emits nothing; the cursors keep the last value
// and its timestamp, so the next boundary still reports a correct delta.
func (c *Collector) Run(ctx context.Context) {
	logger := log.WithComponent("perf-collector")
	logger.Info().Int64("interval_s", c.intervalSeconds).Msg("performance collector started")

	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			logger.Info().Msg("performance collector stopped")
			return
		case <-ticker.C:
			c.Tick(ctx)
		}
	}
}

// Tick runs at most one sampling cycle, gated on the wall clock.
func (c *Collector) Tick(ctx context.Context) {
	now := c.now()
	wallTS := now.Unix()

	if wallTS%c.intervalSeconds != 0 {
		return
	}

	if wallTS%gcPeriodSeconds == 0 {
		c.cursors.Evict(now, time.Duration(c.intervalSeconds*2)*time.Second)
	}

	domains, err := c.conn.ListAllDomains(ctx)
	if err != nil {
		log.Logger.Error().Err(err).Msg("failed to list domains for sampling")
		return
	}

	var cpuMemory []CPUMemorySample
	var traffic []TrafficSample
	var diskIO []DiskIOSample
	var activeCount int

	for _, dom := range domains {
		active, err := dom.IsActive(ctx)
		if err != nil || !active {
			continue
		}
		activeCount++

		if sample, ok := c.sampleCPUMemory(ctx, dom, now); ok {
			cpuMemory = append(cpuMemory, sample)
		}

		xml, err := dom.XMLDesc(ctx, 0)
		if err != nil {
			log.WithGuestID(dom.UUIDString()).Warn().Err(err).Msg("failed to fetch definition for sampling")
			continue
		}
		root, err := domainxml.Parse(xml)
		if err != nil {
			log.WithGuestID(dom.UUIDString()).Warn().Err(err).Msg("failed to parse definition for sampling")
			continue
		}

		traffic = append(traffic, c.sampleTraffic(ctx, dom, root, now)...)
		diskIO = append(diskIO, c.sampleDiskIO(ctx, dom, root, now)...)
	}

	if len(cpuMemory) > 0 {
		c.emit.CPUMemory(ctx, cpuMemory)
		metrics.PerfSamples.WithLabelValues("cpu_memory").Add(float64(len(cpuMemory)))
	}
	if len(traffic) > 0 {
		c.emit.Traffic(ctx, traffic)
		metrics.PerfSamples.WithLabelValues("traffic").Add(float64(len(traffic)))
	}
	if len(diskIO) > 0 {
		c.emit.DiskIO(ctx, diskIO)
		metrics.PerfSamples.WithLabelValues("disk_io").Add(float64(len(diskIO)))
	}

	metrics.PerfCursors.Set(float64(c.cursors.Len()))
	metrics.GuestsTotal.WithLabelValues("active").Set(float64(activeCount))
	metrics.GuestsTotal.WithLabelValues("defined").Set(float64(len(domains)))
}

// sampleCPUMemory computes the guest's cpu load and memory headroom. The
// very first sight of a guest only seeds its cursor; no sample is emitted
// until a previous value exists to delta against.
func (c *Collector) sampleCPUMemory(ctx context.Context, dom hypervisor.Domain, now time.Time) (CPUMemorySample, bool) {
	uuid := dom.UUIDString()

	memory, err := dom.MemoryStats(ctx)
	if err != nil {
		log.WithGuestID(uuid).Warn().Err(err).Msg("failed to read memory stats")
		return CPUMemorySample{}, false
	}

	// Without a balloon-stats period the daemon never refreshes the
	// "available" figure; set it once and refetch.
	if _, ok := memory["available"]; !ok {
		if err := dom.SetMemoryStatsPeriod(ctx, int(c.intervalSeconds)); err == nil {
			memory, _ = dom.MemoryStats(ctx)
		}
	}

	info, err := dom.Info(ctx)
	if err != nil {
		log.WithGuestID(uuid).Warn().Err(err).Msg("failed to read domain info")
		return CPUMemorySample{}, false
	}

	sample := CPUMemorySample{}
	prev, seen := c.cursors.cpu[uuid]
	if seen && info.CPUCount > 0 {
		load := float64(info.CPUTimeNs-prev.cpuTimeNs) / float64(c.intervalSeconds) / 1e9 * 100 / float64(info.CPUCount)
		if load > 100 {
			load = 100
		}
		sample = CPUMemorySample{
			GuestUUID:       uuid,
			CPULoad:         load,
			MemoryAvailable: memory["available"],
			MemoryUnused:    memory["unused"],
		}
	}

	c.cursors.cpu[uuid] = cpuCursor{cpuTimeNs: info.CPUTimeNs, timestamp: now}
	return sample, seen && info.CPUCount > 0
}

// sampleTraffic derives per-interface byte/packet rates. Error and drop
// counts pass through as absolute counters.
func (c *Collector) sampleTraffic(ctx context.Context, dom hypervisor.Domain, root *domainxml.Node, now time.Time) []TrafficSample {
	uuid := dom.UUIDString()
	var out []TrafficSample

	for _, iface := range domainxml.Interfaces(root) {
		if iface.TargetDev == "" {
			continue
		}

		stats, err := dom.InterfaceStats(ctx, iface.TargetDev)
		if err != nil {
			log.WithGuestID(uuid).Warn().Err(err).Str("dev", iface.TargetDev).Msg("failed to read interface stats")
			continue
		}

		key := uuid + "_" + iface.TargetDev

		if prev, seen := c.cursors.traffic[key]; seen {
			out = append(out, TrafficSample{
				GuestUUID: uuid,
				Name:      iface.AliasName,
				RxBytes:   (stats.RxBytes - prev.rxBytes) / c.intervalSeconds,
				RxPackets: (stats.RxPackets - prev.rxPackets) / c.intervalSeconds,
				RxErrs:    stats.RxErrs,
				RxDrop:    stats.RxDrop,
				TxBytes:   (stats.TxBytes - prev.txBytes) / c.intervalSeconds,
				TxPackets: (stats.TxPackets - prev.txPackets) / c.intervalSeconds,
				TxErrs:    stats.TxErrs,
				TxDrop:    stats.TxDrop,
			})
		}

		c.cursors.traffic[key] = trafficCursor{
			rxBytes:   stats.RxBytes,
			rxPackets: stats.RxPackets,
			txBytes:   stats.TxBytes,
			txPackets: stats.TxPackets,
			timestamp: now,
		}
	}
	return out
}

// sampleDiskIO derives per-disk request/byte rates. The disk's identity is
// the filename stem of its source path.
func (c *Collector) sampleDiskIO(ctx context.Context, dom hypervisor.Domain, root *domainxml.Node, now time.Time) []DiskIOSample {
	uuid := dom.UUIDString()
	var out []DiskIOSample

	for _, disk := range domainxml.Disks(root) {
		srcPath := disk.Path()
		if srcPath == "" || disk.TargetDev == "" {
			continue
		}

		diskUUID := strings.TrimSuffix(path.Base(srcPath), path.Ext(srcPath))

		stats, err := dom.BlockStats(ctx, disk.TargetDev)
		if err != nil {
			log.WithGuestID(uuid).Warn().Err(err).Str("dev", disk.TargetDev).Msg("failed to read block stats")
			continue
		}

		if prev, seen := c.cursors.diskIO[diskUUID]; seen {
			out = append(out, DiskIOSample{
				DiskUUID: diskUUID,
				RdReq:    (stats.RdReq - prev.rdReq) / c.intervalSeconds,
				RdBytes:  (stats.RdBytes - prev.rdBytes) / c.intervalSeconds,
				WrReq:    (stats.WrReq - prev.wrReq) / c.intervalSeconds,
				WrBytes:  (stats.WrBytes - prev.wrBytes) / c.intervalSeconds,
			})
		}

		c.cursors.diskIO[diskUUID] = diskIOCursor{
			rdReq:     stats.RdReq,
			rdBytes:   stats.RdBytes,
			wrReq:     stats.WrReq,
			wrBytes:   stats.WrBytes,
			timestamp: now,
		}
	}
	return out
}
