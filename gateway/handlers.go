package gateway

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"arcadepool/period"
	"arcadepool/replay"
	"arcadepool/session"
	"arcadepool/settlement"
	"arcadepool/storage"
)

type savedScore struct {
	Address      string `json:"address"`
	ProfileName  string `json:"profile_name,omitempty"`
	HighestScore int64  `json:"highestScore"`
	LastScore    int64  `json:"lastScore"`
	GamesPlayed  int64  `json:"gamesPlayed"`
	Level        int    `json:"level"`
}

func scoreView(rec storage.ScoreRecord) savedScore {
	return savedScore{
		Address:      rec.Address,
		ProfileName:  rec.ProfileName,
		HighestScore: rec.HighestScore,
		LastScore:    rec.LastScore,
		GamesPlayed:  rec.GamesPlayed,
		Level:        rec.Level,
	}
}

type periodOutcome struct {
	PeriodIndex int64            `json:"periodIndex"`
	Status      string           `json:"status"`
	TxHash      string           `json:"txHash,omitempty"`
	Payouts     []storage.Payout `json:"payouts"`
	Error       string           `json:"error,omitempty"`
	UpdatedAt   time.Time        `json:"updatedAt"`
}

func outcomeView(rec storage.PeriodRecord) periodOutcome {
	payouts := []storage.Payout{}
	if len(rec.Payouts) > 0 {
		_ = json.Unmarshal(rec.Payouts, &payouts)
	}
	return periodOutcome{
		PeriodIndex: rec.PeriodIndex,
		Status:      string(rec.Status),
		TxHash:      rec.TxHash,
		Payouts:     payouts,
		Error:       rec.Error,
		UpdatedAt:   rec.UpdatedAt,
	}
}

// StartSession issues a fresh single-use play token.
func (s *Server) StartSession(w http.ResponseWriter, r *http.Request) {
	sess, err := s.sessions.Start()
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, "failed to start session")
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{
		"ok":        true,
		"sessionId": sess.ID,
		"expiresAt": sess.ExpiresAt.UTC().Format(time.RFC3339),
	})
}

// SubmitReplay runs a replay through the verification pipeline and reports
// the server-computed outcome.
func (s *Server) SubmitReplay(w http.ResponseWriter, r *http.Request) {
	var req struct {
		SessionID   string         `json:"sessionId"`
		Address     string         `json:"userAddress"`
		Replay      []replay.Event `json:"replay"`
		ProfileName *string        `json:"profile_name"`
		Email       *string        `json:"email"`
		Level       *int           `json:"level"`
	}
	if err := decodeStrict(r, &req); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid payload")
		return
	}
	result, err := s.verifier.Submit(r.Context(), replay.Submission{
		SessionID:   req.SessionID,
		Address:     req.Address,
		Events:      req.Replay,
		ProfileName: req.ProfileName,
		Email:       req.Email,
		Level:       req.Level,
	})
	if err != nil {
		s.submissionError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{
		"ok":            true,
		"replayHash":    result.ReplayHash,
		"score":         result.Score,
		"survivalTicks": result.SurvivalTicks,
		"monotonic":     result.Monotonic,
		"saved":         scoreView(result.Saved),
	})
}

func (s *Server) submissionError(w http.ResponseWriter, err error) {
	var invalid replay.InvalidEntryError
	var count replay.EventCountError
	switch {
	case errors.Is(err, replay.ErrDuplicateReplay):
		s.writeError(w, http.StatusConflict, "replay already submitted")
	case errors.Is(err, session.ErrNotFound), errors.Is(err, session.ErrExpired):
		s.writeError(w, http.StatusBadRequest, "invalid or expired session")
	case errors.Is(err, storage.ErrNameTaken):
		s.writeError(w, http.StatusConflict, "profile name already taken")
	case errors.As(err, &invalid), errors.As(err, &count):
		s.writeError(w, http.StatusBadRequest, err.Error())
	default:
		s.logger.Error("replay submission failed", "err", err)
		s.writeError(w, http.StatusInternalServerError, "submission failed")
	}
}

// DirectScore applies a trusted score update without replay verification.
// Reserved for operators; the route sits behind admin auth.
func (s *Server) DirectScore(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Address     string  `json:"user"`
		Score       int64   `json:"score"`
		ProfileName *string `json:"profile_name"`
		Email       *string `json:"email"`
		Level       *int    `json:"level"`
	}
	if err := decodeStrict(r, &req); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid payload")
		return
	}
	saved, err := s.store.ApplyScore(r.Context(), storage.ScoreUpdate{
		Address:     req.Address,
		Score:       req.Score,
		ProfileName: req.ProfileName,
		Email:       req.Email,
		Level:       req.Level,
	})
	if err != nil {
		if errors.Is(err, storage.ErrNameTaken) {
			s.writeError(w, http.StatusConflict, "profile name already taken")
			return
		}
		s.writeError(w, http.StatusBadRequest, "failed to apply score")
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"ok": true, "saved": scoreView(saved)})
}

// UpdateProfile claims or changes a display name for an address.
func (s *Server) UpdateProfile(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Address     string `json:"user"`
		ProfileName string `json:"profile_name"`
	}
	if err := decodeStrict(r, &req); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid payload")
		return
	}
	if err := s.store.SetProfileName(r.Context(), req.Address, req.ProfileName); err != nil {
		if errors.Is(err, storage.ErrNameTaken) {
			s.writeError(w, http.StatusConflict, "profile name already taken")
			return
		}
		s.writeError(w, http.StatusBadRequest, "failed to update profile")
		return
	}
	saved, err := s.store.Score(r.Context(), req.Address)
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, "failed to load profile")
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"ok": true, "saved": scoreView(saved)})
}

// Leaderboard serves the capped ranking plus an optional personal standing.
func (s *Server) Leaderboard(w http.ResponseWriter, r *http.Request) {
	limit := s.maxBoardLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed <= 0 {
			s.writeError(w, http.StatusBadRequest, "invalid limit")
			return
		}
		if parsed < limit {
			limit = parsed
		}
	}
	result, err := s.board.Query(r.Context(), limit, r.URL.Query().Get("user"))
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, "failed to load leaderboard")
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{
		"ok":          true,
		"count":       result.Count,
		"leaderboard": result.Leaderboard,
		"player":      result.Player,
	})
}

// Profile returns the public profile for an address.
func (s *Server) Profile(w http.ResponseWriter, r *http.Request) {
	rec, err := s.store.Score(r.Context(), chi.URLParam(r, "address"))
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			s.writeError(w, http.StatusNotFound, "profile not found")
			return
		}
		s.writeError(w, http.StatusInternalServerError, "failed to load profile")
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{
		"ok":           true,
		"profile_name": rec.ProfileName,
		"level":        rec.Level,
		"highestScore": rec.HighestScore,
	})
}

// CurrentPeriod reports the active settlement window plus the most recent
// settlement outcome.
func (s *Server) CurrentPeriod(w http.ResponseWriter, r *http.Request) {
	current := period.Current(s.periodDuration)
	resp := map[string]any{
		"ok":     true,
		"period": current,
		"paused": s.engine.Paused(),
	}
	if recent, err := s.store.RecentPeriods(r.Context(), 1); err == nil && len(recent) > 0 {
		outcome := outcomeView(recent[0])
		resp["lastOutcome"] = &outcome
	}
	s.writeJSON(w, http.StatusOK, resp)
}

// PeriodByIndex returns the audit record for one settled window.
func (s *Server) PeriodByIndex(w http.ResponseWriter, r *http.Request) {
	index, err := strconv.ParseInt(chi.URLParam(r, "index"), 10, 64)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid period index")
		return
	}
	rec, err := s.store.Period(r.Context(), index)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			s.writeError(w, http.StatusNotFound, "period not found")
			return
		}
		s.writeError(w, http.StatusInternalServerError, "failed to load period")
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"ok": true, "outcome": outcomeView(rec)})
}

// ForceSettle runs settlement immediately for the given window, defaulting to
// the current one.
func (s *Server) ForceSettle(w http.ResponseWriter, r *http.Request) {
	var req struct {
		PeriodIndex *int64 `json:"periodIndex"`
	}
	if err := decodeStrict(r, &req); err != nil && !errors.Is(err, io.EOF) {
		s.writeError(w, http.StatusBadRequest, "invalid payload")
		return
	}
	index := period.Current(s.periodDuration).Index
	if req.PeriodIndex != nil {
		index = *req.PeriodIndex
	}
	rec, err := s.engine.Settle(r.Context(), index)
	if err != nil {
		if errors.Is(err, settlement.ErrPaused) {
			s.writeError(w, http.StatusConflict, "settlement paused")
			return
		}
		s.logger.Error("forced settlement failed", "period", index, "err", err)
		s.writeError(w, http.StatusInternalServerError, "settlement failed")
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"ok": true, "outcome": outcomeView(rec)})
}

// PauseSettlement halts new settlement runs until resumed.
func (s *Server) PauseSettlement(w http.ResponseWriter, r *http.Request) {
	s.engine.Pause()
	s.writeJSON(w, http.StatusOK, map[string]any{"ok": true, "paused": true})
}

// ResumeSettlement lifts the settlement pause.
func (s *Server) ResumeSettlement(w http.ResponseWriter, r *http.Request) {
	s.engine.Resume()
	s.writeJSON(w, http.StatusOK, map[string]any{"ok": true, "paused": false})
}
