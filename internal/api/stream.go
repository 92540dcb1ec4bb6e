package api

import (
	"net/http"
	"time"

	"github.com/starfederation/datastar-go/datastar"

	"radiology-workflow/internal/workflow"
)

// overviewSignals is the signal document patched into dashboards.
type overviewSignals struct {
	Overview  workflow.SystemOverview `json:"overview"`
	UpdatedAt time.Time               `json:"updatedAt"`
}

// handleOverviewStream pushes a system overview snapshot as a datastar
// signal patch on connect and then on every interval until the client
// goes away.
func (s *Server) handleOverviewStream(w http.ResponseWriter, r *http.Request) {
	sse := datastar.NewSSE(w, r)

	push := func() bool {
		err := sse.MarshalAndPatchSignals(overviewSignals{
			Overview:  s.engine.SystemOverview(),
			UpdatedAt: time.Now().UTC(),
		})
		if err != nil {
			s.logger.Debug("overview stream closed", "error", err)
			return false
		}
		return true
	}

	if !push() {
		return
	}

	ticker := time.NewTicker(s.streamInterval)
	defer ticker.Stop()
	for {
		select {
		case <-r.Context().Done():
			return
		case <-ticker.C:
			if !push() {
				return
			}
		}
	}
}
