package memory

import (
	"sync"
	"time"
)

// MemoryCollector implements metrics.Collector in memory, for tests.
type MemoryCollector struct {
	mu sync.RWMutex

	FilesIngested       map[string]int64 // by direction
	Runs                map[string]int64 // by state
	HaltReasons         map[string]int64
	InvalidTransactions map[string]int64 // by reason
	ExcludedBranches    map[string]int64 // by reason
	Stages              map[string][]time.Duration
	StoreBusy           int64
}

func NewMemoryCollector() *MemoryCollector {
	return &MemoryCollector{
		FilesIngested:       make(map[string]int64),
		Runs:                make(map[string]int64),
		HaltReasons:         make(map[string]int64),
		InvalidTransactions: make(map[string]int64),
		ExcludedBranches:    make(map[string]int64),
		Stages:              make(map[string][]time.Duration),
	}
}

func (m *MemoryCollector) RecordFileIngested(direction string, success bool, transactions int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if success {
		m.FilesIngested[direction]++
	}
}

func (m *MemoryCollector) RecordRunOutcome(state string, reason string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Runs[state]++
	if reason != "" {
		m.HaltReasons[reason]++
	}
}

func (m *MemoryCollector) RecordStageDuration(stage string, duration time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Stages[stage] = append(m.Stages[stage], duration)
}

func (m *MemoryCollector) RecordInvalidTransaction(reason string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.InvalidTransactions[reason]++
}

func (m *MemoryCollector) RecordExcludedBranch(reason string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.ExcludedBranches[reason]++
}

func (m *MemoryCollector) RecordStoreBusy() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.StoreBusy++
}

// Count returns a counter value under the read lock.
func (m *MemoryCollector) Count(counter map[string]int64, key string) int64 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return counter[key]
}
