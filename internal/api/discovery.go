package api

import "net/http"

// handleDiscover triggers discovery across every active protocol handler
// and returns the devices each one found. Discovery runs synchronously
// within the configured per-handler timeout.
func (s *Server) handleDiscover(w http.ResponseWriter, r *http.Request) {
	results := s.hub.DiscoverAllDevices(r.Context())

	total := 0
	for _, devices := range results {
		total += len(devices)
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"protocols": results,
		"total":     total,
	})
}

// handleListProtocols returns the configured protocols and whether each
// handler is currently running.
func (s *Server) handleListProtocols(w http.ResponseWriter, _ *http.Request) {
	names := s.hub.GetAvailableProtocols()

	protocols := make([]map[string]any, 0, len(names))
	for _, name := range names {
		protocols = append(protocols, map[string]any{
			"name":   name,
			"active": s.hub.IsProtocolActive(name),
		})
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"protocols": protocols,
		"count":     len(protocols),
	})
}
