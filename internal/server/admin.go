package server

import (
	"encoding/json"
	"net/http"

	"github.com/gorilla/mux"

	"github.com/SJJC-Team/whooshing-vapor/internal/logger"
	"github.com/SJJC-Team/whooshing-vapor/internal/registry"
)

// connectionsResponse is the body of GET /admin/connections.
type connectionsResponse struct {
	Connections []registry.Snapshot `json:"connections"`
}

// adminErrorResponse is the JSON error body of the admin API.
type adminErrorResponse struct {
	Error  bool   `json:"error"`
	Reason string `json:"reason"`
}

// adminHandler builds the read-only administrative router.
func (s *Server) adminHandler() http.Handler {
	r := mux.NewRouter()
	r.HandleFunc("/admin/connections", s.handleListConnections).Methods(http.MethodGet)
	r.HandleFunc("/admin/connections/by-request/{id}", s.handleFindByRequestID).Methods(http.MethodGet)
	return r
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.log.Error("failed to encode admin response", logger.LogFields{
			"error": err.Error(),
		})
	}
}

// handleListConnections returns a snapshot of every live connection.
func (s *Server) handleListConnections(w http.ResponseWriter, r *http.Request) {
	snaps := s.reg.AllSnapshots()
	s.writeJSON(w, http.StatusOK, connectionsResponse{Connections: snaps})
}

// handleFindByRequestID resolves an in-flight request id to the connection
// serving it.
func (s *Server) handleFindByRequestID(w http.ResponseWriter, r *http.Request) {
	reqID := mux.Vars(r)["id"]
	connID, ok := s.reg.FindConnectionByRequestID(reqID)
	if !ok {
		s.writeJSON(w, http.StatusNotFound, adminErrorResponse{
			Error:  true,
			Reason: "no connection with request id " + reqID,
		})
		return
	}
	snap, ok := s.reg.Get(connID)
	if !ok {
		// The connection closed between the scan and the read.
		s.writeJSON(w, http.StatusNotFound, adminErrorResponse{
			Error:  true,
			Reason: "connection closed",
		})
		return
	}
	s.writeJSON(w, http.StatusOK, snap)
}
