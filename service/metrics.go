package service

import (
	"sync"
	"time"
)

// Operation names a metered core operation.
type Operation string

const (
	OpElectionCreation Operation = "election_creation"
	OpRegistration     Operation = "registration"
	OpVoting           Operation = "voting"
	OpCounting         Operation = "counting"
)

type operationStats struct {
	startTime time.Time
	endTime   time.Time
	count     int
	failures  int
	totalTime time.Duration
}

// MetricsCollector tracks counts and cumulative processing time per operation.
type MetricsCollector struct {
	mu  sync.RWMutex
	ops map[Operation]*operationStats
}

// OperationMetrics contains timing information for an operation
type OperationMetrics struct {
	StartTime      time.Time `json:"start_time"`
	EndTime        time.Time `json:"end_time"`
	Count          int       `json:"count"`
	Failures       int       `json:"failures"`
	ProcessingTime int64     `json:"processing_time_ms"`
}

// MetricsResponse provides the metrics for all operations
type MetricsResponse struct {
	ElectionCreation OperationMetrics `json:"election_creation"`
	Registration     OperationMetrics `json:"registration"`
	Voting           OperationMetrics `json:"voting"`
	Counting         OperationMetrics `json:"counting"`
}

func NewMetricsCollector() *MetricsCollector {
	mc := &MetricsCollector{}
	mc.Reset()
	return mc
}

// Record adds one finished operation that began at started.
func (mc *MetricsCollector) Record(op Operation, started time.Time, err error) {
	end := time.Now()

	mc.mu.Lock()
	defer mc.mu.Unlock()

	s, ok := mc.ops[op]
	if !ok {
		s = &operationStats{}
		mc.ops[op] = s
	}
	if s.count == 0 {
		s.startTime = started
	}
	s.count++
	if err != nil {
		s.failures++
	}
	s.endTime = end
	s.totalTime += end.Sub(started)
}

func (mc *MetricsCollector) snapshot(op Operation) OperationMetrics {
	s, ok := mc.ops[op]
	if !ok {
		return OperationMetrics{}
	}
	return OperationMetrics{
		StartTime:      s.startTime,
		EndTime:        s.endTime,
		Count:          s.count,
		Failures:       s.failures,
		ProcessingTime: s.totalTime.Milliseconds(),
	}
}

// GetMetrics returns current metrics for all operations
func (mc *MetricsCollector) GetMetrics() MetricsResponse {
	mc.mu.RLock()
	defer mc.mu.RUnlock()

	return MetricsResponse{
		ElectionCreation: mc.snapshot(OpElectionCreation),
		Registration:     mc.snapshot(OpRegistration),
		Voting:           mc.snapshot(OpVoting),
		Counting:         mc.snapshot(OpCounting),
	}
}

// Reset clears all metrics
func (mc *MetricsCollector) Reset() {
	mc.mu.Lock()
	defer mc.mu.Unlock()
	mc.ops = make(map[Operation]*operationStats)
}
