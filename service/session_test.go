package service

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"evoting-core/models"
)

func TestWindowPredicates(t *testing.T) {
	start := time.Date(2026, 5, 1, 8, 0, 0, 0, time.UTC)
	end := start.Add(12 * time.Hour)
	e := &models.Election{StartTime: start, EndTime: end, Status: models.StatusCreated}

	tests := []struct {
		name    string
		now     time.Time
		phase   models.Phase
		status  models.ElectionStatus
		accepts bool
		results bool
	}{
		{"BeforeStart", start.Add(-time.Nanosecond), models.PhaseNotStarted, models.StatusCreated, false, false},
		{"AtStart", start, models.PhaseOpen, models.StatusOngoing, true, false},
		{"Midway", start.Add(6 * time.Hour), models.PhaseOpen, models.StatusOngoing, true, false},
		{"AtEnd", end, models.PhaseOpen, models.StatusOngoing, true, false},
		{"AfterEnd", end.Add(time.Nanosecond), models.PhaseClosed, models.StatusClosed, false, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.phase, Phase(e, tt.now))
			assert.Equal(t, tt.status, e.StatusAt(tt.now))
			assert.Equal(t, tt.accepts, AcceptsVote(e, tt.now))
			assert.Equal(t, tt.results, ResultsAvailable(e, tt.now))
		})
	}
}

func TestUnusableElectionNeverAcceptsVotes(t *testing.T) {
	start := time.Date(2026, 5, 1, 8, 0, 0, 0, time.UTC)
	e := &models.Election{StartTime: start, EndTime: start.Add(time.Hour), Status: models.StatusUnusable}

	assert.False(t, AcceptsVote(e, start.Add(time.Minute)))
	assert.Equal(t, models.StatusUnusable, e.StatusAt(start.Add(time.Minute)))
}
