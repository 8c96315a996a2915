package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/sruthiidv/BallotGuard-sub000/models"
	"github.com/sruthiidv/BallotGuard-sub000/service"
)

const maxBodyBytes = 1 << 20

type ErrorBody struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

type ErrorResponse struct {
	Error ErrorBody `json:"error"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	//nolint:errcheck
	json.NewEncoder(w).Encode(v)
}

// statusFor maps error kinds onto HTTP statuses
func statusFor(kind models.ErrorKind) int {
	switch kind {
	case models.KindValidation:
		return http.StatusBadRequest
	case models.KindNotFound:
		return http.StatusNotFound
	case models.KindAuthFailed:
		return http.StatusUnauthorized
	case models.KindLocked:
		return http.StatusLocked
	case models.KindNotEligible:
		return http.StatusForbidden
	case models.KindAlreadyVoted, models.KindOvtInvalid, models.KindStateConflict:
		return http.StatusConflict
	case models.KindTimeout:
		return http.StatusGatewayTimeout
	}
	return http.StatusInternalServerError
}

func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	e, ok := models.AsError(err)
	if !ok {
		e = models.StorageError(err)
	}
	status := statusFor(e.Kind)
	if status >= http.StatusInternalServerError {
		s.logger.Error(
			"request failed",
			"method", r.Method,
			"path", r.URL.Path,
			"code", e.Code,
			"error", err,
		)
	}
	// Internal causes stay in the log
	writeJSON(w, status, ErrorResponse{Error: ErrorBody{Code: e.Code, Message: e.Message}})
}

// decode reads a JSON request body into v
func decode(w http.ResponseWriter, r *http.Request, v any) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			return models.Validation("request body too large")
		}
		return models.Validation("invalid request body: " + err.Error())
	}
	return nil
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]bool{"healthy": true})
}

func (s *Server) handlePublicParameters(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.svc.PublicParameters())
}

func (s *Server) handleListElections(w http.ResponseWriter, r *http.Request) {
	includeClosed := false
	if v := r.URL.Query().Get("include_closed"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			s.writeError(w, r, models.Validation("include_closed must be a boolean"))
			return
		}
		includeClosed = b
	}
	elections, err := s.svc.ListElections(r.Context(), includeClosed)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if elections == nil {
		elections = []models.Election{}
	}
	writeJSON(w, http.StatusOK, elections)
}

func (s *Server) handleGetElection(w http.ResponseWriter, r *http.Request) {
	e, err := s.svc.GetElection(r.Context(), r.PathValue("id"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, e)
}

func (s *Server) handleCreateElection(w http.ResponseWriter, r *http.Request) {
	var req service.CreateElectionRequest
	if err := decode(w, r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	e, err := s.svc.CreateElection(r.Context(), &req)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, e)
}

type transitionRequest struct {
	Action string `json:"action"`
}

func (s *Server) handleTransitionElection(w http.ResponseWriter, r *http.Request) {
	var req transitionRequest
	if err := decode(w, r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	resp, err := s.svc.TransitionElection(r.Context(), r.PathValue("id"), req.Action)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleGetLedger(w http.ResponseWriter, r *http.Request) {
	export, err := s.svc.GetLedger(r.Context(), r.PathValue("id"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, export)
}

func (s *Server) handleVerifyLedger(w http.ResponseWriter, r *http.Request) {
	report, err := s.svc.VerifyLedger(r.Context(), r.PathValue("id"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, report)
}

func (s *Server) handleGetResults(w http.ResponseWriter, r *http.Request) {
	bundle, err := s.svc.GetResults(r.Context(), r.PathValue("id"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, bundle)
}

func (s *Server) handleEnrollVoter(w http.ResponseWriter, r *http.Request) {
	var req service.EnrollVoterRequest
	if err := decode(w, r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	resp, err := s.svc.EnrollVoter(r.Context(), &req)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, resp)
}

type approveRequest struct {
	ElectionID string `json:"election_id"`
}

func (s *Server) handleApproveVoter(w http.ResponseWriter, r *http.Request) {
	var req approveRequest
	if err := decode(w, r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	resp, err := s.svc.ApproveVoter(r.Context(), r.PathValue("id"), req.ElectionID)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleBlockVoter(w http.ResponseWriter, r *http.Request) {
	resp, err := s.svc.BlockVoter(r.Context(), r.PathValue("id"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleVerifyFace(w http.ResponseWriter, r *http.Request) {
	var req service.VerifyFaceRequest
	if err := decode(w, r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	resp, err := s.svc.VerifyFace(r.Context(), &req)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleIssueOVT(w http.ResponseWriter, r *http.Request) {
	var req service.IssueOVTRequest
	if err := decode(w, r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	tok, err := s.svc.IssueOVT(r.Context(), &req)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, tok)
}

func (s *Server) handleVerifyOVT(w http.ResponseWriter, r *http.Request) {
	var tok service.SignedOVT
	if err := decode(w, r, &tok); err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, s.svc.VerifyOVTToken(&tok))
}

func (s *Server) handleCastVote(w http.ResponseWriter, r *http.Request) {
	var req service.CastVoteRequest
	if err := decode(w, r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	resp, err := s.svc.CastVote(r.Context(), &req)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

type verifyReceiptRequest struct {
	Receipt models.Receipt `json:"receipt"`
}

func (s *Server) handleVerifyReceipt(w http.ResponseWriter, r *http.Request) {
	var req verifyReceiptRequest
	if err := decode(w, r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	resp, err := s.svc.VerifyReceipt(r.Context(), &req.Receipt)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleListAuditEvents(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	limit := 0
	if v := q.Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			s.writeError(w, r, models.Validation("limit must be a non-negative integer"))
			return
		}
		limit = n
	}
	events, err := s.svc.ListAuditEvents(r.Context(), q.Get("election_id"), limit)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if events == nil {
		events = []models.AuditEvent{}
	}
	writeJSON(w, http.StatusOK, events)
}
