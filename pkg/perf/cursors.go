package perf

import "time"

// cpuCursor is the last CPU counter seen for one guest.
type cpuCursor struct {
	cpuTimeNs uint64
	timestamp time.Time
}

// trafficCursor is the last interface counters seen for one (guest, device).
type trafficCursor struct {
	rxBytes   int64
	rxPackets int64
	txBytes   int64
	txPackets int64
	timestamp time.Time
}

// diskIOCursor is the last block counters seen for one disk.
type diskIOCursor struct {
	rdReq     int64
	rdBytes   int64
	wrReq     int64
	wrBytes   int64
	timestamp time.Time
}

// CursorStore holds the three cursor maps. It is owned by the collector
// goroutine alone; no locking.
type CursorStore struct {
	cpu     map[string]cpuCursor
	traffic map[string]trafficCursor
	diskIO  map[string]diskIOCursor
}

// NewCursorStore builds an empty store.
func NewCursorStore() *CursorStore {
	return &CursorStore{
		cpu:     make(map[string]cpuCursor),
		traffic: make(map[string]trafficCursor),
		diskIO:  make(map[string]diskIOCursor),
	}
}

// Evict drops every cursor older than maxAge as of now. Short-lived guests
// can leave cursors behind until the next sweep; that slack is intentional.
func (s *CursorStore) Evict(now time.Time, maxAge time.Duration) {
	for k, v := range s.cpu {
		if now.Sub(v.timestamp) > maxAge {
			delete(s.cpu, k)
		}
	}
	for k, v := range s.traffic {
		if now.Sub(v.timestamp) > maxAge {
			delete(s.traffic, k)
		}
	}
	for k, v := range s.diskIO {
		if now.Sub(v.timestamp) > maxAge {
			delete(s.diskIO, k)
		}
	}
}

// Len reports the total cursor count across all three maps.
func (s *CursorStore) Len() int {
	return len(s.cpu) + len(s.traffic) + len(s.diskIO)
}
