// Package metrics defines the pipeline metrics collector.
package metrics

import "time"

// Collector records SLIP pipeline events. Implementations export them to a backend.
type Collector interface {
	// Ingestion
	RecordFileIngested(direction string, success bool, transactions int)

	// Recreation runs
	RecordRunOutcome(state string, reason string)
	RecordStageDuration(stage string, duration time.Duration)

	// Release decisions
	RecordInvalidTransaction(reason string)
	RecordExcludedBranch(reason string)

	// Store
	RecordStoreBusy()
}

// NoOpCollector discards everything. It is the default when metrics are not wired.
type NoOpCollector struct{}

func (NoOpCollector) RecordFileIngested(direction string, success bool, transactions int) {}
func (NoOpCollector) RecordRunOutcome(state string, reason string)                        {}
func (NoOpCollector) RecordStageDuration(stage string, duration time.Duration)            {}
func (NoOpCollector) RecordInvalidTransaction(reason string)                              {}
func (NoOpCollector) RecordExcludedBranch(reason string)                                  {}
func (NoOpCollector) RecordStoreBusy()                                                    {}
