package api

import "net/http"

// handleRecentEvents returns the most recent entries from the event log,
// newest first.
func (s *Server) handleRecentEvents(w http.ResponseWriter, r *http.Request) {
	limit, err := limitParam(r, defaultHistoryLimit)
	if err != nil {
		writeBadRequest(w, err.Error())
		return
	}

	events, err := s.store.RecentEvents(r.Context(), limit)
	if err != nil {
		s.logger.Error("recent events query failed", "error", err)
		writeInternalError(w, "failed to query events")
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"events": events,
		"count":  len(events),
	})
}
