// Package api maps the voting core onto JSON over HTTP.
package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"

	"evoting-core/encryption"
	"evoting-core/keyvault"
	"evoting-core/models"
	"evoting-core/service"
)

const maxBodyBytes = 4 << 20

type Server struct {
	votingService *service.VotingService
	logger        zerolog.Logger
	mux           *http.ServeMux
}

type EncryptVoteRequest struct {
	ElectionID     string `json:"election_id"`
	CandidateIndex *int   `json:"candidate_index"`
}

type EncryptVoteResponse struct {
	ElectionID    string   `json:"election_id"`
	EncryptedVote []string `json:"encrypted_vote"`
}

type PublicKeyResponse struct {
	ElectionID string                `json:"election_id"`
	PublicKey  *encryption.PublicKey `json:"public_key"`
}

type HasVotedResponse struct {
	ElectionID string `json:"election_id"`
	VoterID    string `json:"voter_id"`
	HasVoted   bool   `json:"has_voted"`
}

type ErrorResponse struct {
	Error     string       `json:"error"`
	Phase     models.Phase `json:"phase,omitempty"`
	StartTime *time.Time   `json:"start_time,omitempty"`
	EndTime   *time.Time   `json:"end_time,omitempty"`
	VoteID    string       `json:"vote_id,omitempty"`
}

func NewServer(votingService *service.VotingService, logger zerolog.Logger) *Server {
	s := &Server{
		votingService: votingService,
		logger:        logger,
		mux:           http.NewServeMux(),
	}

	// Election
	s.mux.HandleFunc("POST /api/election/create", s.handleCreateElection)
	s.mux.HandleFunc("GET /api/election/{id}/public-key", s.handleGetPublicKey)
	s.mux.HandleFunc("GET /api/election/{id}/status", s.handleGetStatus)
	s.mux.HandleFunc("GET /api/election/{id}/results", s.handleGetResults)
	s.mux.HandleFunc("POST /api/election/{id}/candidates", s.handleAddCandidate)

	// Voter and ballot
	s.mux.HandleFunc("POST /api/voter/register", s.handleRegisterVoter)
	s.mux.HandleFunc("POST /api/vote/encrypt", s.handleEncryptVote)
	s.mux.HandleFunc("POST /api/vote/cast", s.handleCastVote)
	s.mux.HandleFunc("GET /api/vote/receipt/{election_id}/{voter_id}", s.handleGetReceipt)
	s.mux.HandleFunc("GET /api/vote/status/{election_id}/{voter_id}", s.handleHasVoted)

	s.mux.HandleFunc("GET /api/metrics", s.handleGetMetrics)
	return s
}

// Handler returns the routes wrapped in access logging.
func (s *Server) Handler() http.Handler {
	return s.accessLog(s.mux)
}

// Start serves until ctx is cancelled, then drains in-flight requests for at
// most grace.
func (s *Server) Start(ctx context.Context, addr string, grace time.Duration) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	serverChan := make(chan error, 1)
	go func() {
		s.logger.Info().Str("addr", addr).Msg("Starting server")
		serverChan <- srv.ListenAndServe()
	}()

	select {
	case err := <-serverChan:
		return errors.Wrap(err, "server error")
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), grace)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return errors.Wrap(err, "shutdown")
	}
	s.logger.Info().Msg("Server shutdown completed")
	return nil
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

func (s *Server) accessLog(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		s.logger.Debug().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", rec.status).
			Dur("duration", time.Since(start)).
			Msg("Request")
	})
}

func (s *Server) decode(w http.ResponseWriter, r *http.Request, dst interface{}) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		s.writeJSON(w, http.StatusBadRequest, ErrorResponse{Error: "Invalid request body"})
		return false
	}
	return true
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		s.logger.Error().Err(err).Msg("Failed to encode response")
	}
}

// writeError maps the core's error taxonomy onto status codes.
func (s *Server) writeError(w http.ResponseWriter, err error) {
	var (
		verr      *service.ValidationError
		notOpen   *service.ElectionNotOpenError
		stillOpen *service.ElectionStillOpenError
		malformed *service.MalformedBallotError
	)

	switch {
	case errors.As(err, &verr):
		s.writeJSON(w, http.StatusBadRequest, ErrorResponse{Error: verr.Error()})
	case errors.Is(err, service.ErrNotFound):
		s.writeJSON(w, http.StatusNotFound, ErrorResponse{Error: err.Error()})
	case errors.Is(err, service.ErrDuplicateVote):
		s.writeJSON(w, http.StatusConflict, ErrorResponse{Error: "You have already voted in this election"})
	case errors.As(err, &notOpen):
		s.writeJSON(w, http.StatusBadRequest, ErrorResponse{
			Error:     notOpen.Error(),
			Phase:     notOpen.Phase,
			StartTime: &notOpen.Start,
			EndTime:   &notOpen.End,
		})
	case errors.As(err, &stillOpen):
		status := http.StatusForbidden
		if stillOpen.Phase == models.PhaseNotStarted {
			status = http.StatusTooEarly
		}
		s.writeJSON(w, status, ErrorResponse{
			Error:   stillOpen.Error(),
			Phase:   stillOpen.Phase,
			EndTime: &stillOpen.End,
		})
	case errors.As(err, &malformed):
		s.writeJSON(w, http.StatusInternalServerError, ErrorResponse{
			Error:  "Tally aborted: a stored ballot is malformed",
			VoteID: malformed.VoteID,
		})
	case errors.Is(err, encryption.ErrMalformedBallot):
		s.writeJSON(w, http.StatusInternalServerError, ErrorResponse{Error: "Tally aborted: ballot totals are inconsistent"})
	case errors.Is(err, keyvault.ErrKeyNotFound), errors.Is(err, keyvault.ErrDecryptionFailure):
		s.writeJSON(w, http.StatusInternalServerError, ErrorResponse{Error: "Election key is unavailable"})
	default:
		s.logger.Error().Err(err).Msg("Request failed")
		s.writeJSON(w, http.StatusInternalServerError, ErrorResponse{Error: "Internal server error"})
	}
}

func (s *Server) handleCreateElection(w http.ResponseWriter, r *http.Request) {
	var req service.CreateElectionRequest
	if !s.decode(w, r, &req) {
		return
	}

	election, err := s.votingService.CreateElection(r.Context(), req)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusCreated, election)
}

func (s *Server) handleGetPublicKey(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	pk, err := s.votingService.PublicKey(r.Context(), id)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, PublicKeyResponse{ElectionID: id, PublicKey: pk})
}

func (s *Server) handleGetStatus(w http.ResponseWriter, r *http.Request) {
	state, err := s.votingService.ElectionStatus(r.Context(), r.PathValue("id"))
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, state)
}

func (s *Server) handleGetResults(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")

	var (
		result *models.TallyResult
		err    error
	)
	switch method := r.URL.Query().Get("method"); method {
	case "", string(models.TallyPerBallot):
		result, err = s.votingService.Tally(r.Context(), id)
	case string(models.TallyAggregate):
		result, err = s.votingService.TallyAggregated(r.Context(), id)
	default:
		s.writeJSON(w, http.StatusBadRequest, ErrorResponse{Error: fmt.Sprintf("unknown tally method %q", method)})
		return
	}
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, result)
}

func (s *Server) handleAddCandidate(w http.ResponseWriter, r *http.Request) {
	var req service.CandidateInput
	if !s.decode(w, r, &req) {
		return
	}
	candidate, err := s.votingService.AddCandidate(r.Context(), r.PathValue("id"), req)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusCreated, candidate)
}

func (s *Server) handleRegisterVoter(w http.ResponseWriter, r *http.Request) {
	var req service.RegisterVoterRequest
	if !s.decode(w, r, &req) {
		return
	}
	voter, err := s.votingService.RegisterVoter(r.Context(), req)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusCreated, voter)
}

func (s *Server) handleEncryptVote(w http.ResponseWriter, r *http.Request) {
	var req EncryptVoteRequest
	if !s.decode(w, r, &req) {
		return
	}
	if req.CandidateIndex == nil {
		s.writeJSON(w, http.StatusBadRequest, ErrorResponse{Error: "candidate_index is required"})
		return
	}
	encrypted, err := s.votingService.EncryptBallot(r.Context(), req.ElectionID, *req.CandidateIndex)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, EncryptVoteResponse{ElectionID: req.ElectionID, EncryptedVote: encrypted})
}

func (s *Server) handleCastVote(w http.ResponseWriter, r *http.Request) {
	var req service.CastVoteRequest
	if !s.decode(w, r, &req) {
		return
	}
	ballot, err := s.votingService.CastVote(r.Context(), req)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusCreated, ballot.Receipt())
}

func (s *Server) handleGetReceipt(w http.ResponseWriter, r *http.Request) {
	receipt, err := s.votingService.Receipt(r.Context(), r.PathValue("voter_id"), r.PathValue("election_id"))
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, receipt)
}

func (s *Server) handleHasVoted(w http.ResponseWriter, r *http.Request) {
	electionID, voterID := r.PathValue("election_id"), r.PathValue("voter_id")
	voted, err := s.votingService.HasVoted(r.Context(), voterID, electionID)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, HasVotedResponse{ElectionID: electionID, VoterID: voterID, HasVoted: voted})
}

func (s *Server) handleGetMetrics(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Cache-Control", "no-store")
	w.Header().Set("X-Metrics-Generated", strconv.FormatInt(time.Now().Unix(), 10))
	s.writeJSON(w, http.StatusOK, s.votingService.GetMetrics())
}
