package httpapi

import (
	"context"
	"fmt"
	"net/http"

	"github.com/go-chi/chi/v5"

	"tradeetl/internal/multitable"
)

// ClearYearResponse reports a per-year reset.
type ClearYearResponse struct {
	Message string `json:"message"`
	multitable.ResetStats
}

func (s *Server) handleProcess(w http.ResponseWriter, r *http.Request) {
	scope, err := multitable.ParseScope(chi.URLParam(r, "year"))
	if err != nil {
		s.fail(w, r, codeETL, "etl", err)
		return
	}
	mode := s.opts.DefaultMode
	if raw := r.URL.Query().Get("mode"); raw != "" {
		if mode, err = multitable.ParseMode(raw); err != nil {
			s.fail(w, r, codeETL, "etl", err)
			return
		}
	}

	s.mutating.Lock()
	res, err := s.engine.Run(detached(r), scope, mode)
	s.mutating.Unlock()
	if err != nil {
		s.opts.Logger.Error("etl run failed",
			"process_id", res.ProcessID, "scope", scope.String(), "mode", mode.String(), "err", err)
		s.writeError(w, http.StatusInternalServerError, codeETL,
			fmt.Sprintf("ETL process failed for %s (process %s)", scope, res.ProcessID))
		return
	}
	s.opts.Logger.Info("etl run complete",
		"process_id", res.ProcessID, "scope", res.Scope, "processed", res.ProcessedRecords,
		"failed", res.FailedRecords, "rejected", res.RejectedRecords, "duration", res.Duration())
	writeJSON(w, http.StatusOK, res)
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	year, err := yearParam(r)
	if err != nil {
		s.fail(w, r, codeInternal, "status", err)
		return
	}
	ctx, cancel := s.queryCtx(r)
	defer cancel()
	st, err := s.engine.Status(ctx, year)
	if err != nil {
		s.fail(w, r, codeInternal, "status", err)
		return
	}
	writeJSON(w, http.StatusOK, st)
}

func (s *Server) handleClearAll(w http.ResponseWriter, r *http.Request) {
	s.mutating.Lock()
	err := s.engine.ResetAll(detached(r))
	s.mutating.Unlock()
	if err != nil {
		s.fail(w, r, codeETL, "clear all tables", err)
		return
	}
	writeJSON(w, http.StatusOK, MessageResponse{
		Message:   "All tables cleared successfully",
		Timestamp: s.opts.Clock.Now().UTC(),
	})
}

func (s *Server) handleClearYear(w http.ResponseWriter, r *http.Request) {
	year, err := yearParam(r)
	if err != nil {
		s.fail(w, r, codeETL, "clear year", err)
		return
	}
	s.mutating.Lock()
	st, err := s.engine.ResetYear(detached(r), year)
	s.mutating.Unlock()
	if err != nil {
		s.fail(w, r, codeETL, "clear year", err)
		return
	}
	writeJSON(w, http.StatusOK, ClearYearResponse{
		Message:    fmt.Sprintf("Tables cleared for year %d successfully", year),
		ResetStats: st,
	})
}

func (s *Server) handleTableCounts(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := s.queryCtx(r)
	defer cancel()
	tc, err := s.engine.TableCounts(ctx)
	if err != nil {
		s.fail(w, r, codeInternal, "table counts", err)
		return
	}
	writeJSON(w, http.StatusOK, tc)
}

// detached keeps the request's values but not its cancellation: once a run or
// reset starts deleting rows it must finish even if the client goes away.
func detached(r *http.Request) context.Context {
	return context.WithoutCancel(r.Context())
}
