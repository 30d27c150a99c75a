package server

import (
	"net/http"
	"strconv"
	"time"

	"github.com/veridict/veridict/evidence"
)

type submitClaimRequest struct {
	Payload  string            `json:"payload"`
	Metadata map[string]string `json:"metadata,omitempty"`
}

// HandleSubmitClaim accepts a new claim into the pipeline.
func (s *Server) HandleSubmitClaim(w http.ResponseWriter, r *http.Request) {
	if !s.requireWithinRate(w, r) {
		return
	}

	var req submitClaimRequest
	if err := readJSON(w, r, &req); err != nil {
		return
	}

	c, err := s.coordinator.Submit([]byte(req.Payload), req.Metadata)
	if err != nil {
		writeDomainError(w, err)
		return
	}

	s.logger.Infow("Claim accepted", "claim_id", shortID(c.ID), "remote", r.RemoteAddr)
	writeJSON(w, http.StatusCreated, c)
}

// HandleClaimStatus returns a claim with its outcome log and live slots.
func (s *Server) HandleClaimStatus(w http.ResponseWriter, r *http.Request) {
	view, err := s.coordinator.Status(r.PathValue("id"))
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, view)
}

// HandleClaimOutcomes returns just the audit trail for a claim.
func (s *Server) HandleClaimOutcomes(w http.ResponseWriter, r *http.Request) {
	view, err := s.coordinator.Status(r.PathValue("id"))
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"claim_id": view.Claim.ID,
		"outcomes": view.Outcomes,
	})
}

// HandleClaimSlotEvents returns the slot event log for a claim's stage.
func (s *Server) HandleClaimSlotEvents(w http.ResponseWriter, r *http.Request) {
	claimID := r.PathValue("id")

	stage := 0
	if raw := r.URL.Query().Get("stage"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil {
			writeError(w, http.StatusBadRequest, "stage must be an integer")
			return
		}
		stage = n
	} else {
		view, err := s.coordinator.Status(claimID)
		if err != nil {
			writeDomainError(w, err)
			return
		}
		stage = view.Claim.Stage
	}

	events, err := s.registry.Events(claimID, stage)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"claim_id": claimID,
		"stage":    stage,
		"events":   events,
	})
}

// HandleResubmit re-enters a deferred claim into its current stage.
func (s *Server) HandleResubmit(w http.ResponseWriter, r *http.Request) {
	c, err := s.coordinator.Resubmit(r.PathValue("id"))
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, c)
}

// HandleReturnForRevision restarts a claim's current stage with fresh evidence.
func (s *Server) HandleReturnForRevision(w http.ResponseWriter, r *http.Request) {
	c, err := s.coordinator.ReturnForRevision(r.PathValue("id"))
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, c)
}

type claimSlotRequest struct {
	ClaimID    string `json:"claim_id"`
	Stage      int    `json:"stage"`
	WorkerID   string `json:"worker_id"`
	TTLSeconds int    `json:"ttl_seconds,omitempty"`
}

// HandleClaimSlot reserves an evaluation slot for a worker.
func (s *Server) HandleClaimSlot(w http.ResponseWriter, r *http.Request) {
	var req claimSlotRequest
	if err := readJSON(w, r, &req); err != nil {
		return
	}
	if req.ClaimID == "" || req.WorkerID == "" {
		writeError(w, http.StatusBadRequest, "claim_id and worker_id are required")
		return
	}

	slot, err := s.registry.ClaimSlot(req.ClaimID, req.Stage,
		req.WorkerID, time.Duration(req.TTLSeconds)*time.Second)
	if err != nil {
		writeDomainError(w, err)
		return
	}

	s.logger.Debugw("Slot claimed",
		"claim_id", shortID(req.ClaimID),
		"stage", req.Stage,
		"worker_id", req.WorkerID)
	writeJSON(w, http.StatusCreated, slot)
}

// HandleHeartbeat extends a slot's deadline by its TTL.
func (s *Server) HandleHeartbeat(w http.ResponseWriter, r *http.Request) {
	slot, err := s.registry.Heartbeat(r.PathValue("token"))
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, slot)
}

// HandleReleaseSlot ends a reservation on normal completion.
func (s *Server) HandleReleaseSlot(w http.ResponseWriter, r *http.Request) {
	if err := s.registry.Release(r.PathValue("token")); err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "released"})
}

type submitEvidenceRequest struct {
	SlotToken    string   `json:"slot_token"`
	Verdict      string   `json:"verdict"`
	Observations []string `json:"observations,omitempty"`
}

// HandleSubmitEvidence records one worker's verdict for a (claim, stage).
// The slot token names the reservation, so a worker can only submit under
// its own identity; the collector still enforces the grace window.
func (s *Server) HandleSubmitEvidence(w http.ResponseWriter, r *http.Request) {
	var req submitEvidenceRequest
	if err := readJSON(w, r, &req); err != nil {
		return
	}
	if !evidence.IsValidVerdict(req.Verdict) {
		writeError(w, http.StatusBadRequest, "verdict must be support, contradict, or uncertain")
		return
	}

	reservation, err := s.registry.Lookup(req.SlotToken)
	if err != nil {
		writeDomainError(w, err)
		return
	}

	err = s.collector.Submit(reservation.ClaimID, reservation.Stage, reservation.WorkerID,
		evidence.Verdict(req.Verdict), req.Observations)
	if err != nil {
		writeDomainError(w, err)
		return
	}

	s.logger.Debugw("Evidence recorded",
		"claim_id", shortID(reservation.ClaimID),
		"stage", reservation.Stage,
		"worker_id", reservation.WorkerID,
		"verdict", req.Verdict)
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "recorded"})
}

// HandleStats reports claim counts and heartbeat-monitor counters.
func (s *Server) HandleStats(w http.ResponseWriter, r *http.Request) {
	counts, err := s.coordinator.Stats()
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"claims":  statusCounts(counts),
		"monitor": s.monitor.Stats(),
	})
}

// HandleStages exposes the configured stage sequence and quorum thresholds.
func (s *Server) HandleStages(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"stages": s.config.Stages,
	})
}

// HandleHealth is the liveness endpoint.
func (s *Server) HandleHealth(w http.ResponseWriter, r *http.Request) {
	if err := s.db.Ping(); err != nil {
		writeError(w, http.StatusServiceUnavailable, "database unreachable")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
