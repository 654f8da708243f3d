package api

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/oakmere/fieldgate/internal/audit"
	"github.com/oakmere/fieldgate/internal/collector"
	"github.com/oakmere/fieldgate/internal/device"
	"github.com/oakmere/fieldgate/internal/dispatcher"
	"github.com/oakmere/fieldgate/internal/integration"
	"github.com/oakmere/fieldgate/internal/queue"
	"github.com/oakmere/fieldgate/internal/transmitter"
)

// handleHealth returns basic liveness information.
func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":     "ok",
		"gateway_id": s.gatewayID,
		"version":    s.version,
	})
}

// statusResponse aggregates the gateway's operational state.
type statusResponse struct {
	GatewayID    string               `json:"gateway_id"`
	Version      string               `json:"version"`
	UptimeSecs   int64                `json:"uptime_seconds"`
	Queue        queue.Stats          `json:"queue"`
	Integrations []integration.Status `json:"integrations"`
	Devices      int                  `json:"devices"`
	Collector    *collector.Stats     `json:"collector,omitempty"`
	Transmitter  *transmitter.Stats   `json:"transmitter,omitempty"`
	Dispatcher   *dispatcher.Stats    `json:"dispatcher,omitempty"`
}

// handleStatus returns the full gateway status snapshot.
func (s *Server) handleStatus(w http.ResponseWriter, _ *http.Request) {
	resp := statusResponse{
		GatewayID:    s.gatewayID,
		Version:      s.version,
		UptimeSecs:   int64(time.Since(s.startedAt).Seconds()),
		Queue:        s.queue.GetStats(),
		Integrations: s.integrations.Statuses(),
		Devices:      s.devices.Count(),
	}

	if s.collector != nil {
		stats := s.collector.GetStats()
		resp.Collector = &stats
	}
	if s.transmitter != nil {
		stats := s.transmitter.GetStats()
		resp.Transmitter = &stats
	}
	if s.dispatcher != nil {
		stats := s.dispatcher.GetStats()
		resp.Dispatcher = &stats
	}

	writeJSON(w, http.StatusOK, resp)
}

// handleListIntegrations returns the state of every integration.
func (s *Server) handleListIntegrations(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"integrations": s.integrations.Statuses(),
	})
}

// handleIntegrationDevices returns the devices owned by one
// integration, with their last-known values when the integration
// exposes them.
func (s *Server) handleIntegrationDevices(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	if _, ok := s.integrations.Get(name); !ok {
		writeNotFound(w, "unknown integration: "+name)
		return
	}

	lastKnown, err := s.integrations.DeviceData(name)
	if err != nil {
		writeInternalError(w, "reading device data: "+err.Error())
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"integration": name,
		"devices":     s.devices.DevicesFor(name),
		"last_known":  lastKnown,
	})
}

// deviceView is the JSON shape of one routing table entry.
type deviceView struct {
	DeviceID        string   `json:"device_id"`
	DeviceType      string   `json:"device_type"`
	IntegrationName string   `json:"integration"`
	ReceiveActions  []string `json:"receive_actions,omitempty"`
	SendActions     []string `json:"send_actions,omitempty"`
}

// handleListDevices returns the full device routing table.
func (s *Server) handleListDevices(w http.ResponseWriter, _ *http.Request) {
	routes := s.devices.Snapshot()
	views := make([]deviceView, len(routes))
	for i, route := range routes {
		views[i] = toDeviceView(route)
	}
	writeJSON(w, http.StatusOK, map[string]any{"devices": views})
}

func toDeviceView(route device.Route) deviceView {
	return deviceView{
		DeviceID:        route.DeviceID,
		DeviceType:      route.DeviceType,
		IntegrationName: route.IntegrationName,
		ReceiveActions:  route.ReceiveActions,
		SendActions:     route.SendActions,
	}
}

// handleAudit returns a filtered page of the transmission audit trail.
//
// Query parameters: device_id, outcome, limit, offset.
func (s *Server) handleAudit(w http.ResponseWriter, r *http.Request) {
	if s.auditRepo == nil {
		writeNotFound(w, "transmission audit is disabled")
		return
	}

	filter := audit.Filter{
		DeviceID: r.URL.Query().Get("device_id"),
		Outcome:  r.URL.Query().Get("outcome"),
	}

	var err error
	if filter.Limit, err = queryInt(r, "limit"); err != nil {
		writeBadRequest(w, "invalid limit")
		return
	}
	if filter.Offset, err = queryInt(r, "offset"); err != nil {
		writeBadRequest(w, "invalid offset")
		return
	}

	result, err := s.auditRepo.List(r.Context(), filter)
	if err != nil {
		writeInternalError(w, "listing audit records: "+err.Error())
		return
	}
	writeJSON(w, http.StatusOK, result)
}

// queryInt parses an optional non-negative integer query parameter.
func queryInt(r *http.Request, key string) (int, error) {
	raw := r.URL.Query().Get(key)
	if raw == "" {
		return 0, nil
	}
	return strconv.Atoi(raw)
}
