package http

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"ricorrenze/internal/core"
)

const listCacheKey = "series"

// seriesPayload is the wire form of a series create or update request.
// Amount is a decimal euro string ("12,50" or "12.50"); dates are
// YYYY-MM-DD.
type seriesPayload struct {
	Kind        string `json:"kind"`
	Frequency   string `json:"frequency"`
	Description string `json:"description"`
	Amount      string `json:"amount"`
	Primary     string `json:"primary,omitempty"`
	Secondary   string `json:"secondary,omitempty"`
	Source      string `json:"source,omitempty"`
	StartDate   string `json:"start_date"`
	EndDate     string `json:"end_date,omitempty"`
}

type seriesResponse struct {
	ID          int64  `json:"id"`
	Kind        string `json:"kind"`
	Frequency   string `json:"frequency"`
	Description string `json:"description"`
	AmountCents int64  `json:"amount_cents"`
	Amount      string `json:"amount"`
	Primary     string `json:"primary,omitempty"`
	Secondary   string `json:"secondary,omitempty"`
	Source      string `json:"source,omitempty"`
	StartDate   string `json:"start_date"`
	EndDate     string `json:"end_date,omitempty"`
	NextDueDate string `json:"next_due_date"`
	Active      bool   `json:"active"`
}

type instanceResponse struct {
	ID          int64  `json:"id"`
	Kind        string `json:"kind"`
	OccurredOn  string `json:"occurred_on"`
	Description string `json:"description"`
	AmountCents int64  `json:"amount_cents"`
	Primary     string `json:"primary,omitempty"`
	Secondary   string `json:"secondary,omitempty"`
	Source      string `json:"source,omitempty"`
}

type outcomeResponse struct {
	Instance  instanceResponse `json:"instance"`
	Series    seriesResponse   `json:"series"`
	Exhausted bool             `json:"exhausted"`
}

func toSeriesResponse(s core.RecurringSeries) seriesResponse {
	resp := seriesResponse{
		ID:          s.ID,
		Kind:        string(s.Kind),
		Frequency:   string(s.Every),
		Description: s.Description,
		AmountCents: s.Amount.Cents,
		Amount:      core.FormatCents(s.Amount.Cents),
		Primary:     s.Primary,
		Secondary:   s.Secondary,
		Source:      s.Source,
		StartDate:   s.StartDate.String(),
		NextDueDate: s.NextDueDate.String(),
		Active:      s.Active,
	}
	if !s.EndDate.IsEmpty() {
		resp.EndDate = s.EndDate.String()
	}
	return resp
}

func toInstanceResponse(i core.TransactionInstance) instanceResponse {
	return instanceResponse{
		ID:          i.ID,
		Kind:        string(i.Kind),
		OccurredOn:  i.OccurredOn.String(),
		Description: i.Description,
		AmountCents: i.Amount.Cents,
		Primary:     i.Primary,
		Secondary:   i.Secondary,
		Source:      i.Source,
	}
}

// decodeSeriesPayload parses and validates the request body into a domain
// series. Validation proper happens in the service; this only converts.
func decodeSeriesPayload(r *http.Request) (core.RecurringSeries, error) {
	var payload seriesPayload
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		return core.RecurringSeries{}, badRequestf("invalid JSON body: %v", err)
	}

	startDate, err := parseDate(payload.StartDate)
	if err != nil {
		return core.RecurringSeries{}, badRequestf("invalid start_date %q", payload.StartDate)
	}

	var endDate core.Date
	if payload.EndDate != "" {
		endDate, err = parseDate(payload.EndDate)
		if err != nil {
			return core.RecurringSeries{}, badRequestf("invalid end_date %q", payload.EndDate)
		}
	}

	cents, err := core.ParseDecimalToCents(payload.Amount)
	if err != nil {
		return core.RecurringSeries{}, badRequestf("invalid amount %q", payload.Amount)
	}

	return core.RecurringSeries{
		Kind:        core.Kind(payload.Kind),
		Every:       core.Frequency(payload.Frequency),
		Description: sanitizeInput(payload.Description),
		Amount:      core.Money{Cents: cents},
		Primary:     sanitizeInput(payload.Primary),
		Secondary:   sanitizeInput(payload.Secondary),
		Source:      sanitizeInput(payload.Source),
		StartDate:   startDate,
		EndDate:     endDate,
	}, nil
}

// handleSeries dispatches GET (list) and POST (create) on /series.
func (s *Server) handleSeries(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		s.handleListSeries(w, r)
	case http.MethodPost:
		s.handleCreateSeries(w, r)
	default:
		MethodNotAllowed(w, "GET, POST")
	}
}

func (s *Server) handleListSeries(w http.ResponseWriter, r *http.Request) {
	if cached, ok := s.listCache.Get(listCacheKey); ok {
		writeSeriesList(w, cached)
		return
	}

	list, err := s.series.List(r.Context())
	if err != nil {
		slog.ErrorContext(r.Context(), "Failed to list series", "error", err)
		writeServiceError(w, err)
		return
	}

	s.listCache.Set(listCacheKey, list)
	writeSeriesList(w, list)
}

func writeSeriesList(w http.ResponseWriter, list []core.RecurringSeries) {
	resp := make([]seriesResponse, 0, len(list))
	for _, item := range list {
		resp = append(resp, toSeriesResponse(item))
	}
	NewJSONResponse().Body(resp).Write(w)
}

func (s *Server) handleCreateSeries(w http.ResponseWriter, r *http.Request) {
	series, err := decodeSeriesPayload(r)
	if err != nil {
		writeBadRequest(w, err)
		return
	}

	created, err := s.series.Create(r.Context(), series)
	if err != nil {
		slog.ErrorContext(r.Context(), "Failed to create series", "error", err, "description", series.Description)
		writeServiceError(w, err)
		return
	}

	s.listCache.Purge()
	slog.InfoContext(r.Context(), "Series created",
		"series_id", created.ID,
		"kind", created.Kind,
		"frequency", created.Every,
		"next_due_date", created.NextDueDate.String())

	NewJSONResponse().Status(http.StatusCreated).Body(toSeriesResponse(created)).Write(w)
}

func (s *Server) handleUpdateSeries(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPut && r.Method != http.MethodPost {
		MethodNotAllowed(w, "PUT, POST")
		return
	}

	id, err := parseID(r)
	if err != nil {
		ErrorResponse(http.StatusBadRequest, err.Error()).Write(w)
		return
	}

	series, err := decodeSeriesPayload(r)
	if err != nil {
		writeBadRequest(w, err)
		return
	}

	updated, err := s.series.Update(r.Context(), id, series)
	if err != nil {
		slog.ErrorContext(r.Context(), "Failed to update series", "error", err, "series_id", id)
		writeServiceError(w, err)
		return
	}

	s.listCache.Purge()
	slog.InfoContext(r.Context(), "Series updated", "series_id", id, "next_due_date", updated.NextDueDate.String())

	NewJSONResponse().Body(toSeriesResponse(updated)).Write(w)
}

func (s *Server) handleDeleteSeries(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodDelete && r.Method != http.MethodPost {
		MethodNotAllowed(w, "DELETE, POST")
		return
	}

	id, err := parseID(r)
	if err != nil {
		ErrorResponse(http.StatusBadRequest, err.Error()).Write(w)
		return
	}

	if err := s.series.Delete(r.Context(), id); err != nil {
		slog.ErrorContext(r.Context(), "Failed to delete series", "error", err, "series_id", id)
		writeServiceError(w, err)
		return
	}

	s.listCache.Purge()
	slog.InfoContext(r.Context(), "Series deleted", "series_id", id)

	NewJSONResponse().Status(http.StatusNoContent).Write(w)
}

func (s *Server) handlePauseSeries(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		MethodNotAllowed(w, "POST")
		return
	}

	id, err := parseID(r)
	if err != nil {
		ErrorResponse(http.StatusBadRequest, err.Error()).Write(w)
		return
	}

	if err := s.series.Pause(r.Context(), id); err != nil {
		slog.ErrorContext(r.Context(), "Failed to pause series", "error", err, "series_id", id)
		writeServiceError(w, err)
		return
	}

	s.listCache.Purge()
	slog.InfoContext(r.Context(), "Series paused", "series_id", id)

	NewJSONResponse().Status(http.StatusNoContent).Write(w)
}

func (s *Server) handleResumeSeries(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		MethodNotAllowed(w, "POST")
		return
	}

	id, err := parseID(r)
	if err != nil {
		ErrorResponse(http.StatusBadRequest, err.Error()).Write(w)
		return
	}

	resumed, err := s.series.Resume(r.Context(), id)
	if err != nil {
		slog.ErrorContext(r.Context(), "Failed to resume series", "error", err, "series_id", id)
		writeServiceError(w, err)
		return
	}

	s.listCache.Purge()
	slog.InfoContext(r.Context(), "Series resumed", "series_id", id, "next_due_date", resumed.NextDueDate.String())

	NewJSONResponse().Body(toSeriesResponse(resumed)).Write(w)
}

// handleProcessSeries materializes a single due series. An optional date
// query parameter overrides the processing instant, for catch-up or tests.
func (s *Server) handleProcessSeries(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		MethodNotAllowed(w, "POST")
		return
	}

	id, err := parseID(r)
	if err != nil {
		ErrorResponse(http.StatusBadRequest, err.Error()).Write(w)
		return
	}

	var asOf time.Time
	if v := r.URL.Query().Get("date"); v != "" {
		d, err := parseDate(v)
		if err != nil {
			ErrorResponse(http.StatusBadRequest, "invalid date parameter").Write(w)
			return
		}
		asOf = d.Time
	}

	outcome, err := s.series.ProcessSeries(r.Context(), id, asOf)
	if err != nil {
		slog.ErrorContext(r.Context(), "Failed to process series", "error", err, "series_id", id)
		writeServiceError(w, err)
		return
	}

	s.listCache.Purge()
	slog.InfoContext(r.Context(), "Series processed",
		"series_id", id,
		"instance_id", outcome.Instance.ID,
		"next_due_date", outcome.Series.NextDueDate.String(),
		"exhausted", outcome.Exhausted)

	NewJSONResponse().Body(outcomeResponse{
		Instance:  toInstanceResponse(outcome.Instance),
		Series:    toSeriesResponse(outcome.Series),
		Exhausted: outcome.Exhausted,
	}).Write(w)
}

// handleProcessDue sweeps every active due series.
func (s *Server) handleProcessDue(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		MethodNotAllowed(w, "POST")
		return
	}

	processed, err := s.runner.ProcessDue(r.Context(), s.clock.Now())
	if err != nil {
		slog.ErrorContext(r.Context(), "Due sweep failed", "error", err)
		writeServiceError(w, err)
		return
	}

	s.listCache.Purge()
	slog.InfoContext(r.Context(), "Due sweep completed", "processed", processed)

	NewJSONResponse().Body(map[string]int{"processed": processed}).Write(w)
}
