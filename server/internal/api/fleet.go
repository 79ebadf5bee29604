package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/skylinkc2/skylink/server/internal/dispatcher"
	"github.com/skylinkc2/skylink/server/internal/roster"
	"github.com/skylinkc2/skylink/server/internal/sessionmgr"
	"github.com/skylinkc2/skylink/shared/wire"
)

// FleetHandler serves the device roster and per-device command endpoints.
type FleetHandler struct {
	sessions *sessionmgr.Manager
	disp     *dispatcher.Dispatcher
	roster   *roster.Registry
	logger   *zap.Logger
}

// NewFleetHandler creates a FleetHandler.
func NewFleetHandler(sessions *sessionmgr.Manager, disp *dispatcher.Dispatcher, logger *zap.Logger) *FleetHandler {
	return &FleetHandler{sessions: sessions, disp: disp, logger: logger.Named("fleet_handler")}
}

// SetRoster attaches the known-device registry so List can also report
// devices that are known but not currently connected. A nil registry (the
// default) means List only reports live sessions.
func (h *FleetHandler) SetRoster(reg *roster.Registry) {
	h.roster = reg
}

// deviceView is the JSON shape of one device in the fleet listing, whether
// currently connected or only known from the roster.
type deviceView struct {
	DeviceID      string    `json:"device_id"`
	Label         string    `json:"label,omitempty"`
	Connected     bool      `json:"connected"`
	State         string    `json:"state,omitempty"`
	ConnectedAt   time.Time `json:"connected_at,omitzero"`
	LastHeartbeat time.Time `json:"last_heartbeat,omitzero"`
	PendingCount  int       `json:"pending_commands"`
}

// List handles GET /api/v1/fleet, returning every currently connected
// device plus, if a roster is attached, any known device that isn't.
func (h *FleetHandler) List(w http.ResponseWriter, r *http.Request) {
	seen := make(map[string]bool)
	ids := h.sessions.ConnectedDeviceIDs()
	views := make([]deviceView, 0, len(ids))
	for _, id := range ids {
		sess, ok := h.sessions.Get(id)
		if !ok {
			continue
		}
		seen[sess.DeviceID] = true
		label := ""
		if h.roster != nil {
			if dev, ok := h.roster.Find(sess.DeviceID); ok {
				label = dev.Label
			}
		}
		views = append(views, deviceView{
			DeviceID:      sess.DeviceID,
			Label:         label,
			Connected:     true,
			State:         sess.State().String(),
			ConnectedAt:   sess.ConnectedAt,
			LastHeartbeat: sess.LastHeartbeat(),
			PendingCount:  len(h.disp.Outstanding(sess.DeviceID)),
		})
	}

	if h.roster != nil {
		for _, dev := range h.roster.Devices {
			if seen[dev.ID] {
				continue
			}
			views = append(views, deviceView{
				DeviceID:  dev.ID,
				Label:     dev.Label,
				Connected: false,
			})
		}
	}

	Ok(w, views)
}

// commandRequest is the JSON body accepted by SendCommand and Broadcast.
type commandRequest struct {
	Type        string            `json:"type"`
	Priority    uint8             `json:"priority"`
	ExpiresAtMs uint64            `json:"expires_at_ms,omitempty"`
	Params      map[string]string `json:"params,omitempty"`
}

func (cr commandRequest) toCommand() (*wire.Command, bool) {
	t, ok := commandTypeFromString(cr.Type)
	if !ok {
		return nil, false
	}
	return &wire.Command{
		Type:        t,
		Priority:    cr.Priority,
		ExpiresAtMs: cr.ExpiresAtMs,
		Params:      cr.Params,
	}, true
}

var commandTypeNames = map[string]wire.CommandType{
	"status_request": wire.CommandStatusRequest,
	"mission_start":  wire.CommandMissionStart,
	"mission_abort":  wire.CommandMissionAbort,
	"rth":            wire.CommandRth,
	"config_update":  wire.CommandConfigUpdate,
	"emergency_stop": wire.CommandEmergencyStop,
}

func commandTypeFromString(s string) (wire.CommandType, bool) {
	t, ok := commandTypeNames[s]
	return t, ok
}

// pendingView is the JSON shape of one outstanding command.
type pendingView struct {
	CommandID  uint64 `json:"command_id"`
	SequenceID uint64 `json:"sequence_id"`
	Retries    int    `json:"retries"`
	LastStatus string `json:"last_status"`
}

// SendCommand handles POST /api/v1/fleet/{device_id}/commands.
func (h *FleetHandler) SendCommand(w http.ResponseWriter, r *http.Request) {
	deviceID := chi.URLParam(r, "device_id")

	var req commandRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	cmd, ok := req.toCommand()
	if !ok {
		ErrBadRequest(w, "unknown command type: "+req.Type)
		return
	}
	if !h.sessions.IsConnected(deviceID) {
		ErrNotFound(w)
		return
	}

	id, err := h.disp.SendCommand(deviceID, cmd)
	if err != nil {
		h.logger.Warn("send_command failed", zap.String("device_id", deviceID), zap.Error(err))
	}
	Created(w, envelope{"command_id": id})
}

// ListCommands handles GET /api/v1/fleet/{device_id}/commands, returning the
// device's outstanding (not yet terminally acked) commands.
func (h *FleetHandler) ListCommands(w http.ResponseWriter, r *http.Request) {
	deviceID := chi.URLParam(r, "device_id")

	pending := h.disp.Outstanding(deviceID)
	views := make([]pendingView, 0, len(pending))
	for _, p := range pending {
		views = append(views, pendingView{
			CommandID:  p.CommandID,
			SequenceID: p.SequenceID,
			Retries:    p.Retries,
			LastStatus: p.LastStatus.String(),
		})
	}
	Ok(w, views)
}

// Broadcast handles POST /api/v1/fleet/broadcast, issuing the same command to
// every connected device.
func (h *FleetHandler) Broadcast(w http.ResponseWriter, r *http.Request) {
	var req commandRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	cmd, ok := req.toCommand()
	if !ok {
		ErrBadRequest(w, "unknown command type: "+req.Type)
		return
	}

	ids := h.disp.BroadcastCommand(cmd)
	Created(w, envelope{"command_ids": ids})
}
