package httpapi

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"

	"tradeetl/internal/multitable"
	"tradeetl/internal/storage"
)

const (
	defaultLimit = 10
	maxLimit     = 1000
	maxPage      = 1_000_000
)

// CountryView, HS2View and HS4View are the dimension row shapes served by
// /api/data/dimensions.
type CountryView struct {
	CountryID int64  `json:"countryId"`
	Country   string `json:"country"`
}

type HS2View struct {
	HS2ID       int64  `json:"hs2Id"`
	HS2Code     int    `json:"hs2dg"`
	Description string `json:"description"`
}

type HS4View struct {
	HS4ID       int64  `json:"hs4Id"`
	HS4Code     int    `json:"hs4dg"`
	Description string `json:"description"`
}

func (s *Server) handleFacts(w http.ResponseWriter, r *http.Request) {
	q, err := factQuery(r)
	if err != nil {
		s.fail(w, r, codeInternal, "facts", err)
		return
	}
	ctx, cancel := s.queryCtx(r)
	defer cancel()
	page, err := s.store.FactDetails(ctx, q.NormalizePage())
	if err != nil {
		s.fail(w, r, codeInternal, "facts", err)
		return
	}
	writeJSON(w, http.StatusOK, page)
}

func factQuery(r *http.Request) (storage.FactQuery, error) {
	var q storage.FactQuery
	var err error
	if q.Page, err = intQuery(r, "page", 0, 0, maxPage); err != nil {
		return q, err
	}
	if q.Size, err = intQuery(r, "size", 10, 1, maxLimit); err != nil {
		return q, err
	}
	if raw := r.URL.Query().Get("year"); raw != "" {
		year, err := multitable.ParseYear(raw)
		if err != nil {
			return q, err
		}
		q.Year = &year
	}
	if q.Month, err = monthValue(r.URL.Query().Get("month")); err != nil {
		return q, err
	}
	return q, nil
}

// handleTotals serves /summary/year/{year}[/month/{month}].
func (s *Server) handleTotals(w http.ResponseWriter, r *http.Request) {
	year, err := yearParam(r)
	if err != nil {
		s.fail(w, r, codeInternal, "totals", err)
		return
	}
	month, err := monthValue(chi.URLParam(r, "month"))
	if err != nil {
		s.fail(w, r, codeInternal, "totals", err)
		return
	}
	s.writeTotals(w, r, year, month)
}

// handleDataSummary serves /api/data/facts/summary?year&month.
func (s *Server) handleDataSummary(w http.ResponseWriter, r *http.Request) {
	raw := r.URL.Query().Get("year")
	if raw == "" {
		s.fail(w, r, codeInternal, "totals", badRequestf("query parameter year is required"))
		return
	}
	year, err := multitable.ParseYear(raw)
	if err != nil {
		s.fail(w, r, codeInternal, "totals", err)
		return
	}
	month, err := monthValue(r.URL.Query().Get("month"))
	if err != nil {
		s.fail(w, r, codeInternal, "totals", err)
		return
	}
	s.writeTotals(w, r, year, month)
}

func (s *Server) writeTotals(w http.ResponseWriter, r *http.Request, year int, month *int) {
	ctx, cancel := s.queryCtx(r)
	defer cancel()
	t, err := s.store.FactTotals(ctx, year, month)
	if err != nil {
		s.fail(w, r, codeInternal, "totals", err)
		return
	}
	writeJSON(w, http.StatusOK, t)
}

func (s *Server) handleTopCountries(w http.ResponseWriter, r *http.Request) {
	s.ranking(w, r, "top countries", s.store.TopCountries)
}

func (s *Server) handleTopHS2(w http.ResponseWriter, r *http.Request) {
	s.ranking(w, r, "top hs2", s.store.TopHS2)
}

func (s *Server) ranking(w http.ResponseWriter, r *http.Request, action string,
	query func(ctx context.Context, year, limit int) ([]storage.RankedValue, error),
) {
	year, err := yearParam(r)
	if err != nil {
		s.fail(w, r, codeInternal, action, err)
		return
	}
	limit, err := intQuery(r, "limit", defaultLimit, 1, maxLimit)
	if err != nil {
		s.fail(w, r, codeInternal, action, err)
		return
	}
	ctx, cancel := s.queryCtx(r)
	defer cancel()
	rows, err := query(ctx, year, limit)
	if err != nil {
		s.fail(w, r, codeInternal, action, err)
		return
	}
	if rows == nil {
		rows = []storage.RankedValue{}
	}
	writeJSON(w, http.StatusOK, rows)
}

// handleSummary serves /summary/{year}[/{month}] grouped by country and hs2.
func (s *Server) handleSummary(w http.ResponseWriter, r *http.Request) {
	year, err := yearParam(r)
	if err != nil {
		s.fail(w, r, codeInternal, "summary", err)
		return
	}
	month, err := monthValue(chi.URLParam(r, "month"))
	if err != nil {
		s.fail(w, r, codeInternal, "summary", err)
		return
	}
	limit, err := intQuery(r, "limit", defaultLimit, 1, maxLimit)
	if err != nil {
		s.fail(w, r, codeInternal, "summary", err)
		return
	}
	ctx, cancel := s.queryCtx(r)
	defer cancel()
	rows, err := s.store.FactSummary(ctx, year, month, limit)
	if err != nil {
		s.fail(w, r, codeInternal, "summary", err)
		return
	}
	if rows == nil {
		rows = []storage.FactSummary{}
	}
	writeJSON(w, http.StatusOK, rows)
}

func (s *Server) handleDimensions(w http.ResponseWriter, r *http.Request) {
	var kind storage.DimensionKind
	switch name := chi.URLParam(r, "kind"); name {
	case "countries":
		kind = storage.DimCountry
	case "hs2":
		kind = storage.DimHS2
	case "hs4":
		kind = storage.DimHS4
	default:
		s.writeError(w, http.StatusNotFound, codeNotFound, "unknown dimension "+name+" (want hs2, hs4 or countries)")
		return
	}

	ctx, cancel := s.queryCtx(r)
	defer cancel()
	rows, err := s.store.LoadDimensions(ctx, kind)
	if err != nil {
		s.fail(w, r, codeInternal, "dimensions", err)
		return
	}

	switch kind {
	case storage.DimCountry:
		out := make([]CountryView, 0, len(rows))
		for _, d := range rows {
			out = append(out, CountryView{CountryID: d.ID, Country: d.Label})
		}
		writeJSON(w, http.StatusOK, out)
	case storage.DimHS2:
		out := make([]HS2View, 0, len(rows))
		for _, d := range rows {
			out = append(out, HS2View{HS2ID: d.ID, HS2Code: d.Code, Description: d.Label})
		}
		writeJSON(w, http.StatusOK, out)
	default:
		out := make([]HS4View, 0, len(rows))
		for _, d := range rows {
			out = append(out, HS4View{HS4ID: d.ID, HS4Code: d.Code, Description: d.Label})
		}
		writeJSON(w, http.StatusOK, out)
	}
}

func (s *Server) handleYears(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := s.queryCtx(r)
	defer cancel()
	years, err := s.store.SourceYears(ctx)
	if err != nil {
		s.fail(w, r, codeInternal, "years", err)
		return
	}
	if years == nil {
		years = []string{}
	}
	writeJSON(w, http.StatusOK, years)
}
