package service

import (
	"sync"
	"time"
)

// MetricsCollector tracks timings for issuance, casting and tallying.
type MetricsCollector struct {
	mu                sync.RWMutex
	issuanceStartTime time.Time
	issuanceEndTime   time.Time
	issuanceCount     int
	issuanceTotalTime time.Duration

	castStartTime time.Time
	castEndTime   time.Time
	castCount     int
	castRejected  int
	castTotalTime time.Duration

	tallyStartTime      time.Time
	tallyEndTime        time.Time
	tallyProcessingTime time.Duration

	replicationFailures int
}

// OperationMetrics contains timing information for an operation
type OperationMetrics struct {
	StartTime      time.Time `json:"start_time"`
	EndTime        time.Time `json:"end_time"`
	Count          int       `json:"count"`
	Rejected       int       `json:"rejected,omitempty"`
	ProcessingTime int64     `json:"processing_time_ms"`
}

// MetricsResponse provides the metrics for all operations
type MetricsResponse struct {
	Issuance            OperationMetrics `json:"issuance"`
	Casting             OperationMetrics `json:"casting"`
	Tally               OperationMetrics `json:"tally"`
	ReplicationFailures int              `json:"replication_failures"`
}

func NewMetricsCollector() *MetricsCollector {
	return &MetricsCollector{}
}

// RecordIssuance records one credential issuance.
func (mc *MetricsCollector) RecordIssuance(start time.Time) {
	mc.mu.Lock()
	defer mc.mu.Unlock()

	if mc.issuanceCount == 0 {
		mc.issuanceStartTime = start
	}
	mc.issuanceCount++
	mc.issuanceEndTime = time.Now()
	mc.issuanceTotalTime += mc.issuanceEndTime.Sub(start)
}

// RecordCast records one cast attempt.
func (mc *MetricsCollector) RecordCast(start time.Time, accepted bool) {
	mc.mu.Lock()
	defer mc.mu.Unlock()

	if mc.castCount+mc.castRejected == 0 {
		mc.castStartTime = start
	}
	if accepted {
		mc.castCount++
	} else {
		mc.castRejected++
	}
	mc.castEndTime = time.Now()
	mc.castTotalTime += mc.castEndTime.Sub(start)
}

// RecordTally records the tally run.
func (mc *MetricsCollector) RecordTally(start time.Time) {
	mc.mu.Lock()
	defer mc.mu.Unlock()

	mc.tallyStartTime = start
	mc.tallyEndTime = time.Now()
	mc.tallyProcessingTime = mc.tallyEndTime.Sub(start)
}

func (mc *MetricsCollector) RecordReplicationFailures(n int) {
	mc.mu.Lock()
	defer mc.mu.Unlock()
	mc.replicationFailures += n
}

// GetMetrics returns current metrics for all operations
func (mc *MetricsCollector) GetMetrics() MetricsResponse {
	mc.mu.RLock()
	defer mc.mu.RUnlock()

	return MetricsResponse{
		Issuance: OperationMetrics{
			StartTime:      mc.issuanceStartTime,
			EndTime:        mc.issuanceEndTime,
			Count:          mc.issuanceCount,
			ProcessingTime: mc.issuanceTotalTime.Milliseconds(),
		},
		Casting: OperationMetrics{
			StartTime:      mc.castStartTime,
			EndTime:        mc.castEndTime,
			Count:          mc.castCount,
			Rejected:       mc.castRejected,
			ProcessingTime: mc.castTotalTime.Milliseconds(),
		},
		Tally: OperationMetrics{
			StartTime:      mc.tallyStartTime,
			EndTime:        mc.tallyEndTime,
			ProcessingTime: mc.tallyProcessingTime.Milliseconds(),
		},
		ReplicationFailures: mc.replicationFailures,
	}
}

// Reset clears all metrics
func (mc *MetricsCollector) Reset() {
	mc.mu.Lock()
	defer mc.mu.Unlock()

	mc.issuanceStartTime = time.Time{}
	mc.issuanceEndTime = time.Time{}
	mc.issuanceCount = 0
	mc.issuanceTotalTime = 0

	mc.castStartTime = time.Time{}
	mc.castEndTime = time.Time{}
	mc.castCount = 0
	mc.castRejected = 0
	mc.castTotalTime = 0

	mc.tallyStartTime = time.Time{}
	mc.tallyEndTime = time.Time{}
	mc.tallyProcessingTime = 0
	mc.replicationFailures = 0
}
