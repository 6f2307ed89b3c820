package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/commitlabs/core/pkg/attestation"
	"github.com/commitlabs/core/pkg/commitment"
	"github.com/commitlabs/core/pkg/guard"
	"github.com/commitlabs/core/pkg/oracle"
	"github.com/commitlabs/core/pkg/ratelimit"
	"github.com/commitlabs/core/pkg/safemath"
	"github.com/commitlabs/core/pkg/timelock"
)

const maxBodyBytes = 1 << 20

// Server exposes the commitment engine over HTTP. All mutating endpoints
// resolve the acting principal through Caller; the engines enforce their
// own authorization on top of that.
type Server struct {
	Ledger   *commitment.Ledger
	Engine   *attestation.Engine
	Oracle   *oracle.Oracle
	Timelock *timelock.Queue

	// Caller resolves the acting principal for a request, normally the
	// authenticated JWT subject. Empty string means unauthenticated.
	Caller func(r *http.Request) string
}

// Routes builds the full route table.
func (s *Server) Routes() *http.ServeMux {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /health", s.handleHealth)
	mux.HandleFunc("GET /readiness", s.handleHealth)

	mux.HandleFunc("POST /api/v1/commitments", s.handleCreate)
	mux.HandleFunc("GET /api/v1/commitments/{id}", s.handleGet)
	mux.HandleFunc("GET /api/v1/commitments/{id}/violations", s.handleViolations)
	mux.HandleFunc("POST /api/v1/commitments/{id}/value", s.handleUpdateValue)
	mux.HandleFunc("POST /api/v1/commitments/{id}/settle", s.handleSettle)
	mux.HandleFunc("POST /api/v1/commitments/{id}/exit", s.handleEarlyExit)
	mux.HandleFunc("POST /api/v1/commitments/{id}/allocate", s.handleAllocate)
	mux.HandleFunc("GET /api/v1/owners/{owner}/commitments", s.handleOwnerCommitments)
	mux.HandleFunc("GET /api/v1/stats", s.handleStats)

	mux.HandleFunc("POST /api/v1/commitments/{id}/attestations", s.handleAttest)
	mux.HandleFunc("GET /api/v1/commitments/{id}/attestations", s.handleAttestations)
	mux.HandleFunc("GET /api/v1/commitments/{id}/health", s.handleHealthMetrics)
	mux.HandleFunc("GET /api/v1/commitments/{id}/score", s.handleScore)
	mux.HandleFunc("GET /api/v1/commitments/{id}/compliance", s.handleCompliance)
	mux.HandleFunc("POST /api/v1/commitments/{id}/fees", s.handleRecordFees)
	mux.HandleFunc("POST /api/v1/commitments/{id}/drawdown", s.handleRecordDrawdown)

	mux.HandleFunc("POST /api/v1/oracle/prices", s.handleSetPrice)
	mux.HandleFunc("GET /api/v1/oracle/prices/{asset}", s.handlePrice)

	mux.HandleFunc("POST /api/v1/timelock/actions", s.handleQueueAction)
	mux.HandleFunc("GET /api/v1/timelock/actions", s.handleListActions)
	mux.HandleFunc("GET /api/v1/timelock/actions/{id}", s.handleGetAction)
	mux.HandleFunc("POST /api/v1/timelock/actions/{id}/execute", s.handleExecuteAction)
	mux.HandleFunc("POST /api/v1/timelock/actions/{id}/cancel", s.handleCancelAction)

	return mux
}

func (s *Server) caller(r *http.Request) string {
	if s.Caller == nil {
		return ""
	}
	return s.Caller(r)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// --- commitments ---

// CreateCommitmentRequest is the wire form of a create call. Amounts are
// decimal strings so i128 values survive JSON.
type CreateCommitmentRequest struct {
	Owner            string `json:"owner"`
	Amount           string `json:"amount"`
	Asset            string `json:"asset"`
	Type             string `json:"commitment_type"`
	DurationDays     uint32 `json:"duration_days"`
	MaxLossPercent   uint32 `json:"max_loss_percent"`
	EarlyExitPenalty uint32 `json:"early_exit_penalty"`
	MinFeeThreshold  string `json:"min_fee_threshold,omitempty"`
}

func (s *Server) handleCreate(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	var req CreateCommitmentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		WriteBadRequest(w, "Invalid request body")
		return
	}

	owner := req.Owner
	if owner == "" {
		owner = s.caller(r)
	}
	if owner == "" {
		WriteBadRequest(w, "Missing required field: owner")
		return
	}
	// Commitments debit the owner's balance, so only the owner (or the
	// admin acting on their behalf) may open one.
	if caller := s.caller(r); owner != caller && caller != s.Ledger.Admin() {
		WriteForbidden(w, "Only the owner may create a commitment for this account")
		return
	}

	amount, err := safemath.Parse(req.Amount)
	if err != nil {
		WriteBadRequest(w, "Invalid amount: "+req.Amount)
		return
	}

	ctype, err := commitment.ParseCommitmentType(req.Type)
	if err != nil {
		WriteBadRequest(w, err.Error())
		return
	}

	rules := commitment.Rules{
		DurationDays:     req.DurationDays,
		MaxLossPercent:   req.MaxLossPercent,
		Type:             ctype,
		EarlyExitPenalty: req.EarlyExitPenalty,
	}
	if req.MinFeeThreshold != "" {
		threshold, err := safemath.Parse(req.MinFeeThreshold)
		if err != nil {
			WriteBadRequest(w, "Invalid min_fee_threshold: "+req.MinFeeThreshold)
			return
		}
		rules.MinFeeThreshold = threshold
	}

	id, err := s.Ledger.Create(r.Context(), owner, amount, req.Asset, rules)
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}

	c, err := s.Ledger.Get(r.Context(), id)
	if err != nil {
		WriteInternal(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, c)
}

func (s *Server) handleGet(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	c, err := s.Ledger.Get(r.Context(), id)
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, c)
}

func (s *Server) handleViolations(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	details, err := s.Ledger.ViolationDetails(r.Context(), id)
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, details)
}

// UpdateValueRequest carries the oracle-reported value for a commitment.
type UpdateValueRequest struct {
	NewValue string `json:"new_value"`
}

func (s *Server) handleUpdateValue(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	var req UpdateValueRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		WriteBadRequest(w, "Invalid request body")
		return
	}
	newValue, err := safemath.Parse(req.NewValue)
	if err != nil {
		WriteBadRequest(w, "Invalid new_value: "+req.NewValue)
		return
	}

	if err := s.Ledger.UpdateValue(r.Context(), s.caller(r), id, newValue); err != nil {
		s.writeDomainError(w, r, err)
		return
	}

	violated, err := s.Ledger.CheckViolations(r.Context(), id)
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"id": id, "violated": violated})
}

func (s *Server) handleSettle(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	if err := s.Ledger.Settle(r.Context(), id); err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	c, err := s.Ledger.Get(r.Context(), id)
	if err != nil {
		WriteInternal(w, err)
		return
	}
	writeJSON(w, http.StatusOK, c)
}

func (s *Server) handleEarlyExit(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	if err := s.Ledger.EarlyExit(r.Context(), id, s.caller(r)); err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	c, err := s.Ledger.Get(r.Context(), id)
	if err != nil {
		WriteInternal(w, err)
		return
	}
	writeJSON(w, http.StatusOK, c)
}

// AllocateRequest moves part of a commitment's value into a pool.
type AllocateRequest struct {
	TargetPool string `json:"target_pool"`
	Amount     string `json:"amount"`
}

func (s *Server) handleAllocate(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	var req AllocateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		WriteBadRequest(w, "Invalid request body")
		return
	}
	if req.TargetPool == "" {
		WriteBadRequest(w, "Missing required field: target_pool")
		return
	}
	amount, err := safemath.Parse(req.Amount)
	if err != nil {
		WriteBadRequest(w, "Invalid amount: "+req.Amount)
		return
	}
	if err := s.Ledger.Allocate(r.Context(), id, req.TargetPool, amount); err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"id": id, "target_pool": req.TargetPool})
}

func (s *Server) handleOwnerCommitments(w http.ResponseWriter, r *http.Request) {
	owner := r.PathValue("owner")
	ids := s.Ledger.OwnerCommitments(r.Context(), owner)
	writeJSON(w, http.StatusOK, map[string]any{"owner": owner, "commitment_ids": ids})
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"total_commitments":  s.Ledger.TotalCommitments(),
		"total_value_locked": s.Ledger.TotalValueLocked(),
	})
}

// --- attestations ---

// AttestRequest records one compliance observation.
type AttestRequest struct {
	Type        string            `json:"attestation_type"`
	Data        map[string]string `json:"data,omitempty"`
	IsCompliant *bool             `json:"is_compliant,omitempty"`
}

func (s *Server) handleAttest(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	var req AttestRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		WriteBadRequest(w, "Invalid request body")
		return
	}
	if req.Type == "" {
		WriteBadRequest(w, "Missing required field: attestation_type")
		return
	}

	caller := s.caller(r)
	var err error
	if req.IsCompliant != nil {
		err = s.Engine.AttestWith(r.Context(), id, req.Type, req.Data, caller, *req.IsCompliant)
	} else {
		err = s.Engine.Attest(r.Context(), id, req.Type, req.Data, caller)
	}
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleAttestations(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	atts, err := s.Engine.Attestations(r.Context(), id)
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"commitment_id": id, "attestations": atts})
}

func (s *Server) handleHealthMetrics(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	metrics, err := s.Engine.HealthMetrics(r.Context(), id)
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, metrics)
}

func (s *Server) handleScore(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	score, err := s.Engine.ComplianceScore(r.Context(), id)
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"commitment_id": id, "compliance_score": score})
}

func (s *Server) handleCompliance(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	compliant, err := s.Engine.VerifyCompliance(r.Context(), id)
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"commitment_id": id, "is_compliant": compliant})
}

// RecordFeesRequest credits fee generation against a commitment.
type RecordFeesRequest struct {
	Amount string `json:"amount"`
}

func (s *Server) handleRecordFees(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	var req RecordFeesRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		WriteBadRequest(w, "Invalid request body")
		return
	}
	amount, err := safemath.Parse(req.Amount)
	if err != nil {
		WriteBadRequest(w, "Invalid amount: "+req.Amount)
		return
	}
	if err := s.Engine.RecordFees(r.Context(), s.caller(r), id, amount); err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// RecordDrawdownRequest reports the observed current value of a commitment.
type RecordDrawdownRequest struct {
	CurrentValue string `json:"current_value"`
}

func (s *Server) handleRecordDrawdown(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	var req RecordDrawdownRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		WriteBadRequest(w, "Invalid request body")
		return
	}
	current, err := safemath.Parse(req.CurrentValue)
	if err != nil {
		WriteBadRequest(w, "Invalid current_value: "+req.CurrentValue)
		return
	}
	if err := s.Engine.RecordDrawdown(r.Context(), s.caller(r), id, current); err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// --- oracle ---

// SetPriceRequest publishes one asset price.
type SetPriceRequest struct {
	Asset    string `json:"asset"`
	Price    string `json:"price"`
	Decimals uint32 `json:"decimals"`
}

func (s *Server) handleSetPrice(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	var req SetPriceRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		WriteBadRequest(w, "Invalid request body")
		return
	}
	if req.Asset == "" {
		WriteBadRequest(w, "Missing required field: asset")
		return
	}
	price, err := safemath.Parse(req.Price)
	if err != nil {
		WriteBadRequest(w, "Invalid price: "+req.Price)
		return
	}
	if err := s.Oracle.SetPrice(r.Context(), s.caller(r), req.Asset, price, req.Decimals); err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handlePrice(w http.ResponseWriter, r *http.Request) {
	asset := r.PathValue("asset")

	// ?max_staleness_seconds=N validates freshness; without it the raw
	// stored price is returned even if stale.
	if raw := r.URL.Query().Get("max_staleness_seconds"); raw != "" {
		secs, err := strconv.ParseInt(raw, 10, 64)
		if err != nil || secs < 0 {
			WriteBadRequest(w, "Invalid max_staleness_seconds")
			return
		}
		data, err := s.Oracle.ValidPrice(asset, time.Duration(secs)*time.Second)
		if err != nil {
			s.writeDomainError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, data)
		return
	}

	data := s.Oracle.Price(asset)
	if data.UpdatedAt.IsZero() {
		WriteNotFound(w, "No price recorded for asset "+asset)
		return
	}
	writeJSON(w, http.StatusOK, data)
}

// --- timelock ---

// QueueActionRequest schedules one governance action.
type QueueActionRequest struct {
	Type         string `json:"action_type"`
	Target       string `json:"target"`
	Data         string `json:"data,omitempty"`
	DelaySeconds int64  `json:"delay_seconds"`
}

func (s *Server) handleQueueAction(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	var req QueueActionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		WriteBadRequest(w, "Invalid request body")
		return
	}
	actionType, err := timelock.ParseActionType(req.Type)
	if err != nil {
		WriteBadRequest(w, err.Error())
		return
	}
	delay := time.Duration(req.DelaySeconds) * time.Second
	id, err := s.Timelock.Queue(r.Context(), s.caller(r), actionType, req.Target, req.Data, delay)
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	action, err := s.Timelock.Get(id)
	if err != nil {
		WriteInternal(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, action)
}

func (s *Server) handleListActions(w http.ResponseWriter, r *http.Request) {
	var actions []timelock.Action
	switch r.URL.Query().Get("state") {
	case "", "all":
		actions = s.Timelock.All()
	case "pending":
		actions = s.Timelock.Pending()
	case "executable":
		actions = s.Timelock.Executable()
	default:
		WriteBadRequest(w, "Unknown state filter; use all, pending or executable")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"actions": actions})
}

func (s *Server) handleGetAction(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	action, err := s.Timelock.Get(id)
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, action)
}

func (s *Server) handleExecuteAction(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	if err := s.Timelock.Execute(r.Context(), id); err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	action, err := s.Timelock.Get(id)
	if err != nil {
		WriteInternal(w, err)
		return
	}
	writeJSON(w, http.StatusOK, action)
}

func (s *Server) handleCancelAction(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	if err := s.Timelock.Cancel(r.Context(), s.caller(r), id); err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	action, err := s.Timelock.Get(id)
	if err != nil {
		WriteInternal(w, err)
		return
	}
	writeJSON(w, http.StatusOK, action)
}

// --- shared plumbing ---

func pathID(w http.ResponseWriter, r *http.Request, name string) (uint64, bool) {
	id, err := strconv.ParseUint(r.PathValue(name), 10, 64)
	if err != nil {
		WriteBadRequest(w, "Invalid id in path")
		return 0, false
	}
	return id, true
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// writeDomainError maps engine sentinel errors onto problem responses.
func (s *Server) writeDomainError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, commitment.ErrNotFound),
		errors.Is(err, oracle.ErrPriceNotFound),
		errors.Is(err, timelock.ErrActionNotFound):
		WriteErrorR(w, r, http.StatusNotFound, "Not Found", err.Error())

	case errors.Is(err, commitment.ErrUnauthorized),
		errors.Is(err, attestation.ErrUnauthorized),
		errors.Is(err, oracle.ErrUnauthorized),
		errors.Is(err, oracle.ErrNotWhitelist),
		errors.Is(err, timelock.ErrUnauthorized):
		WriteErrorR(w, r, http.StatusForbidden, "Forbidden", err.Error())

	case errors.Is(err, ratelimit.ErrLimited):
		WriteTooManyRequests(w, 60)

	case errors.Is(err, commitment.ErrNotActive),
		errors.Is(err, commitment.ErrNotExpired),
		errors.Is(err, commitment.ErrPaused),
		errors.Is(err, guard.ErrReentrancy),
		errors.Is(err, oracle.ErrStalePrice),
		errors.Is(err, timelock.ErrAlreadyExecuted),
		errors.Is(err, timelock.ErrAlreadyCancelled),
		errors.Is(err, timelock.ErrDelayNotMet):
		WriteErrorR(w, r, http.StatusConflict, "Conflict", err.Error())

	case errors.Is(err, commitment.ErrInvalidAmount),
		errors.Is(err, commitment.ErrInvalidRules),
		errors.Is(err, commitment.ErrInsufficientValue),
		errors.Is(err, attestation.ErrInvalidFee),
		errors.Is(err, oracle.ErrInvalidPrice),
		errors.Is(err, timelock.ErrDelayTooShort),
		errors.Is(err, timelock.ErrDelayTooLong),
		errors.Is(err, safemath.ErrOverflow),
		errors.Is(err, safemath.ErrNonPositive):
		WriteErrorR(w, r, http.StatusBadRequest, "Bad Request", err.Error())

	default:
		WriteInternal(w, err)
	}
}
