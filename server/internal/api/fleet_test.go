package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/skylinkc2/skylink/server/internal/dispatcher"
	"github.com/skylinkc2/skylink/server/internal/roster"
	"github.com/skylinkc2/skylink/server/internal/sessionmgr"
	"github.com/skylinkc2/skylink/shared/transport"
)

func newFleetTestSetup(t *testing.T) (*sessionmgr.Manager, *dispatcher.Dispatcher, string) {
	t.Helper()
	logger := zap.NewNop()
	sessions := sessionmgr.New(logger)
	disp := dispatcher.New(sessions, logger)

	ln, err := transport.ListenTCP("127.0.0.1:0")
	if err != nil {
		t.Fatalf("ListenTCP: %v", err)
	}
	t.Cleanup(func() { ln.Close() })

	accepted := make(chan transport.Stream, 1)
	go func() {
		s, err := ln.Accept()
		if err == nil {
			accepted <- s
		}
	}()

	clientStream, err := transport.NewTCPConnector(ln.Addr().String(), "drone-1").Connect(context.Background())
	if err != nil {
		t.Fatalf("Connect: %v", err)
	}
	t.Cleanup(func() { clientStream.Close() })

	serverStream := <-accepted
	t.Cleanup(func() { serverStream.Close() })

	sessions.Register("drone-1", serverStream)
	return sessions, disp, "drone-1"
}

func TestListReturnsConnectedDevices(t *testing.T) {
	sessions, disp, deviceID := newFleetTestSetup(t)
	h := NewFleetHandler(sessions, disp, zap.NewNop())

	req := httptest.NewRequest(http.MethodGet, "/api/v1/fleet", nil)
	w := httptest.NewRecorder()
	h.List(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}
	var body struct {
		Data []deviceView `json:"data"`
	}
	if err := json.NewDecoder(w.Body).Decode(&body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(body.Data) != 1 || body.Data[0].DeviceID != deviceID {
		t.Fatalf("data = %+v, want one entry for %s", body.Data, deviceID)
	}
}

func TestListIncludesRosterDevicesNotConnected(t *testing.T) {
	sessions, disp, deviceID := newFleetTestSetup(t)
	h := NewFleetHandler(sessions, disp, zap.NewNop())

	reg := &roster.Registry{}
	reg.Upsert(roster.Device{ID: deviceID, Label: "Connected One"})
	reg.Upsert(roster.Device{ID: "drone-offline", Label: "Parked Spare"})
	h.SetRoster(reg)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/fleet", nil)
	w := httptest.NewRecorder()
	h.List(w, req)

	var body struct {
		Data []deviceView `json:"data"`
	}
	if err := json.NewDecoder(w.Body).Decode(&body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(body.Data) != 2 {
		t.Fatalf("data = %+v, want 2 entries", body.Data)
	}

	byID := make(map[string]deviceView)
	for _, v := range body.Data {
		byID[v.DeviceID] = v
	}

	connected, ok := byID[deviceID]
	if !ok || !connected.Connected || connected.Label != "Connected One" {
		t.Fatalf("connected entry = %+v, ok=%v", connected, ok)
	}

	offline, ok := byID["drone-offline"]
	if !ok || offline.Connected || offline.Label != "Parked Spare" {
		t.Fatalf("offline entry = %+v, ok=%v", offline, ok)
	}
}

func TestSendCommandRejectsUnknownType(t *testing.T) {
	sessions, disp, deviceID := newFleetTestSetup(t)
	h := NewFleetHandler(sessions, disp, zap.NewNop())

	req := httptest.NewRequest(http.MethodPost, "/api/v1/fleet/"+deviceID+"/commands", strings.NewReader(`{"type":"not_a_command"}`))
	rctx := chi.NewRouteContext()
	rctx.URLParams.Add("device_id", deviceID)
	req = req.WithContext(context.WithValue(req.Context(), chi.RouteCtxKey, rctx))
	w := httptest.NewRecorder()
	h.SendCommand(w, req)

	if w.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", w.Code)
	}
}

func TestSendCommandUnknownDeviceIsNotFound(t *testing.T) {
	sessions, disp, _ := newFleetTestSetup(t)
	h := NewFleetHandler(sessions, disp, zap.NewNop())

	req := httptest.NewRequest(http.MethodPost, "/api/v1/fleet/ghost/commands", strings.NewReader(`{"type":"rth"}`))
	rctx := chi.NewRouteContext()
	rctx.URLParams.Add("device_id", "ghost")
	req = req.WithContext(context.WithValue(req.Context(), chi.RouteCtxKey, rctx))
	w := httptest.NewRecorder()
	h.SendCommand(w, req)

	if w.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", w.Code)
	}
}

func TestBroadcastIssuesCommandToEveryDevice(t *testing.T) {
	sessions, disp, _ := newFleetTestSetup(t)
	h := NewFleetHandler(sessions, disp, zap.NewNop())

	req := httptest.NewRequest(http.MethodPost, "/api/v1/fleet/broadcast", strings.NewReader(`{"type":"status_request"}`))
	w := httptest.NewRecorder()
	h.Broadcast(w, req)

	if w.Code != http.StatusCreated {
		t.Fatalf("status = %d, want 201", w.Code)
	}
	var body struct {
		Data struct {
			CommandIDs []uint64 `json:"command_ids"`
		} `json:"data"`
	}
	if err := json.NewDecoder(w.Body).Decode(&body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(body.Data.CommandIDs) != 1 {
		t.Fatalf("command_ids = %v, want one entry", body.Data.CommandIDs)
	}
}
