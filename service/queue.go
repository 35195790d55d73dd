package service

import (
	"context"
	"runtime"
	"sync"

	"github.com/pkg/errors"

	"evoting-core/encryption"
)

// QueueProcessor decrypts ballots on a bounded pool of workers. Workers share
// only the read-only private key.
type QueueProcessor struct {
	scheme  encryption.HomomorphicEncryptionScheme
	workers int
}

// ProcessingResult is the outcome for one ballot.
type ProcessingResult struct {
	Index  int
	Choice int
	Err    error
}

func NewQueueProcessor(scheme encryption.HomomorphicEncryptionScheme, workers int) *QueueProcessor {
	if workers <= 0 {
		workers = runtime.NumCPU()
	}
	return &QueueProcessor{scheme: scheme, workers: workers}
}

// DecryptAll returns the selected candidate index of every ballot, in input order.
// The first malformed ballot stops the remaining work and is returned as a
// *MalformedBallotError.
func (qp *QueueProcessor) DecryptAll(ctx context.Context, sk *encryption.PrivateKey, candidates int, ballots []*AnonymousBallot) ([]int, error) {
	if len(ballots) == 0 {
		return nil, nil
	}

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	jobs := make(chan int)
	results := make(chan *ProcessingResult, len(ballots))

	workers := qp.workers
	if workers > len(ballots) {
		workers = len(ballots)
	}
	var processingWg sync.WaitGroup
	for w := 0; w < workers; w++ {
		processingWg.Add(1)
		go func() {
			defer processingWg.Done()
			for idx := range jobs {
				results <- qp.decryptOne(sk, candidates, idx, ballots[idx])
			}
		}()
	}

	go func() {
		defer close(jobs)
		for i := range ballots {
			select {
			case jobs <- i:
			case <-runCtx.Done():
				return
			}
		}
	}()

	go func() {
		processingWg.Wait()
		close(results)
	}()

	choices := make([]int, len(ballots))
	done := 0
	var firstErr error
	for res := range results {
		if res.Err != nil {
			if firstErr == nil {
				firstErr = res.Err
				cancel()
			}
			continue
		}
		choices[res.Index] = res.Choice
		done++
	}

	if firstErr != nil {
		return nil, firstErr
	}
	if err := ctx.Err(); err != nil {
		return nil, errors.Wrap(err, "tally interrupted")
	}
	if done != len(ballots) {
		return nil, errors.Errorf("decrypted %d of %d ballots", done, len(ballots))
	}
	return choices, nil
}

func (qp *QueueProcessor) decryptOne(sk *encryption.PrivateKey, candidates, idx int, b *AnonymousBallot) *ProcessingResult {
	res := &ProcessingResult{Index: idx}

	if len(b.EncryptedVote) != candidates {
		res.Err = &MalformedBallotError{
			VoteID: b.VoteID,
			Err: errors.Wrapf(encryption.ErrMalformedBallot,
				"ballot has %d slots for %d candidates", len(b.EncryptedVote), candidates),
		}
		return res
	}
	cts, err := encryption.ParseCiphertexts(b.EncryptedVote)
	if err != nil {
		res.Err = &MalformedBallotError{VoteID: b.VoteID, Err: errors.Wrap(encryption.ErrMalformedBallot, err.Error())}
		return res
	}

	choice, err := qp.scheme.DecryptOneHot(sk, cts)
	if err != nil {
		res.Err = &MalformedBallotError{VoteID: b.VoteID, Err: err}
		return res
	}
	res.Choice = choice
	return res
}
