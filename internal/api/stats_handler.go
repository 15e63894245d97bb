package api

import (
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/dockethq/docket/internal/events"
)

// statsHandler serves daily activity series aggregated from the lifecycle
// event ledger.
type statsHandler struct {
	aggregator *events.Aggregator
}

func newStatsHandler(aggregator *events.Aggregator) *statsHandler {
	return &statsHandler{aggregator: aggregator}
}

// entityTypePairs maps a stats entity name to its created/deleted event types.
var entityTypePairs = map[string][2]events.Type{
	"organizations": {events.TypeOrganisationCreated, events.TypeOrganisationDeleted},
	"teams":         {events.TypeTeamCreated, events.TypeTeamDeleted},
	"users":         {events.TypeUserProfileCreated, events.TypeUserProfileDeleted},
	"invites":       {events.TypeInviteCreated, events.TypeInviteDeleted},
	"cases":         {events.TypeCaseCreated, events.TypeCaseDeleted},
}

// GetSeries handles GET /api/v1/admin/stats/{entity}. The optional days
// query parameter sets the window length (default 30).
func (h *statsHandler) GetSeries(w http.ResponseWriter, r *http.Request) {
	entity := chi.URLParam(r, "entity")
	pair, ok := entityTypePairs[entity]
	if !ok {
		writeFail(w, http.StatusNotFound, "unknown stats entity")
		return
	}

	days := 30
	if v := r.URL.Query().Get("days"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			writeFail(w, http.StatusUnprocessableEntity, "days must be a positive integer")
			return
		}
		days = n
	}

	series, err := h.aggregator.Series(r.Context(), pair[0], pair[1], days)
	if err != nil {
		writeFail(w, http.StatusInternalServerError, "failed to aggregate stats")
		return
	}
	if series == nil {
		series = []events.DayStat{}
	}

	writeResult(w, http.StatusOK, map[string]interface{}{
		"entity": entity,
		"days":   days,
		"series": series,
	})
}
