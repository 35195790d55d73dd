package service

import (
	"fmt"
	"time"

	"github.com/pkg/errors"

	"evoting-core/models"
	"evoting-core/storage"
)

var (
	// ErrNotFound covers unknown elections, voters and ballots.
	ErrNotFound = errors.New("not found")
	// ErrDuplicateVote is returned when the store already holds a ballot for the
	// voter in the election.
	ErrDuplicateVote = errors.New("voter has already cast a ballot in this election")
)

// ValidationError reports malformed caller input.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

func invalid(field, format string, args ...interface{}) error {
	return &ValidationError{Field: field, Reason: fmt.Sprintf(format, args...)}
}

// ElectionNotOpenError is returned when a ballot arrives outside the voting window.
type ElectionNotOpenError struct {
	ElectionID string
	Phase      models.Phase
	Start      time.Time
	End        time.Time
	Now        time.Time
}

func (e *ElectionNotOpenError) Error() string {
	if e.Phase == models.PhaseNotStarted {
		return fmt.Sprintf("election %s has not started; voting opens at %s",
			e.ElectionID, e.Start.Format(time.RFC3339))
	}
	if e.Phase == models.PhaseOpen {
		return fmt.Sprintf("election %s is not accepting votes", e.ElectionID)
	}
	return fmt.Sprintf("election %s has ended; voting closed at %s",
		e.ElectionID, e.End.Format(time.RFC3339))
}

// ElectionStillOpenError is returned when results are requested before the
// window has closed.
type ElectionStillOpenError struct {
	ElectionID string
	Phase      models.Phase
	End        time.Time
}

func (e *ElectionStillOpenError) Error() string {
	return fmt.Sprintf("results for election %s are not available until after %s",
		e.ElectionID, e.End.Format(time.RFC3339))
}

// MalformedBallotError names the stored ballot that failed one-hot decryption.
type MalformedBallotError struct {
	VoteID string
	Err    error
}

func (e *MalformedBallotError) Error() string {
	return fmt.Sprintf("ballot %s is malformed: %v", e.VoteID, e.Err)
}

func (e *MalformedBallotError) Unwrap() error {
	return e.Err
}

// notFound translates storage misses into ErrNotFound and passes other errors through.
func notFound(err error, format string, args ...interface{}) error {
	if errors.Is(err, storage.ErrNotFound) {
		return errors.Wrapf(ErrNotFound, format, args...)
	}
	return errors.Wrapf(err, format, args...)
}
