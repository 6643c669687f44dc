// Package api serves the HTTP interface: live tracks and fall events, alert
// history and summaries, user and contact management, and debug routes.
package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"strconv"
	"time"

	"github.com/ashgrove-care/carewatch/internal/config"
	"github.com/ashgrove-care/carewatch/internal/metrics"
	"github.com/ashgrove-care/carewatch/internal/pipeline"
	"github.com/ashgrove-care/carewatch/internal/report"
	"github.com/ashgrove-care/carewatch/internal/store"
)

// ANSI escape codes for cyan and reset
const colorCyan = "\033[36m"
const colorReset = "\033[0m"
const colorYellow = "\033[33m"
const colorBoldGreen = "\033[1;32m"
const colorBoldRed = "\033[1;31m"

type Server struct {
	pipelines []*pipeline.Pipeline
	db        *store.DB
	users     *store.UserStore
	alerts    *store.AlertStore
	cfg       *config.Config
}

func NewServer(pipelines []*pipeline.Pipeline, db *store.DB, users *store.UserStore, alerts *store.AlertStore, cfg *config.Config) *Server {
	return &Server{
		pipelines: pipelines,
		db:        db,
		users:     users,
		alerts:    alerts,
		cfg:       cfg,
	}
}

type loggingResponseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (lrw *loggingResponseWriter) WriteHeader(code int) {
	lrw.statusCode = code
	lrw.ResponseWriter.WriteHeader(code)
}

func (lrw *loggingResponseWriter) Flush() {
	if flusher, ok := lrw.ResponseWriter.(http.Flusher); ok {
		flusher.Flush()
	}
}

func statusCodeColor(statusCode int) string {
	switch {
	case statusCode >= 200 && statusCode < 300:
		return colorBoldGreen + strconv.Itoa(statusCode) + colorReset
	case statusCode >= 300 && statusCode < 400:
		return colorYellow + strconv.Itoa(statusCode) + colorReset
	case statusCode >= 400:
		return colorBoldRed + strconv.Itoa(statusCode) + colorReset
	default:
		return strconv.Itoa(statusCode)
	}
}

// LoggingMiddleware logs method, path, query, status, and duration
func LoggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		lrw := &loggingResponseWriter{w, http.StatusOK}
		next.ServeHTTP(lrw, r)
		log.Printf(
			"[%s] %s %s%s%s %vms",
			statusCodeColor(lrw.statusCode), r.Method,
			colorCyan, r.RequestURI, colorReset,
			float64(time.Since(start).Nanoseconds())/1e6,
		)
	})
}

func (s *Server) ServeMux() *http.ServeMux {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /api/cameras", s.listCameras)
	mux.HandleFunc("POST /api/cameras/{id}/fall_detection", s.setFallDetection)
	mux.HandleFunc("GET /api/tracks", s.listTracks)
	mux.HandleFunc("POST /api/tracks/{id}/name", s.nameTrack)
	mux.HandleFunc("GET /api/events", s.listEvents)

	mux.HandleFunc("GET /api/alerts", s.listAlerts)
	mux.HandleFunc("GET /api/alerts/{id}/snapshot", s.alertSnapshot)
	mux.HandleFunc("GET /api/alerts/summary", s.alertSummary)
	mux.HandleFunc("GET /api/charts/alerts", s.alertsChart)

	mux.HandleFunc("GET /api/users", s.listUsers)
	mux.HandleFunc("POST /api/users", s.createUser)
	mux.HandleFunc("GET /api/users/{id}", s.getUser)
	mux.HandleFunc("PUT /api/users/{id}", s.updateUser)
	mux.HandleFunc("DELETE /api/users/{id}", s.deleteUser)
	mux.HandleFunc("POST /api/users/{id}/contacts", s.addContact)
	mux.HandleFunc("PUT /api/users/{id}/contacts/{cid}", s.updateContact)
	mux.HandleFunc("DELETE /api/users/{id}/contacts/{cid}", s.deleteContact)
	mux.HandleFunc("PUT /api/users/{id}/doctor", s.setDoctor)

	mux.HandleFunc("GET /api/config", s.showConfig)
	mux.Handle("GET /metrics", metrics.Handler())

	if s.db != nil {
		s.db.AttachAdminRoutes(mux)
	}
	return mux
}

func (s *Server) writeJSONError(w http.ResponseWriter, status int, msg string) {
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{"error": msg})
}

func (s *Server) writeJSON(w http.ResponseWriter, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.writeJSONError(w, http.StatusInternalServerError, "Failed to write response")
	}
}

func (s *Server) findPipeline(id string) *pipeline.Pipeline {
	for _, p := range s.pipelines {
		if p.ID() == id || p.Name() == id {
			return p
		}
	}
	return nil
}

// CameraStatus is the API view of one running pipeline.
type CameraStatus struct {
	ID            string    `json:"id"`
	Name          string    `json:"name"`
	FallDetection bool      `json:"fall_detection"`
	LastFrameAt   time.Time `json:"last_frame_at"`
	FramesTotal   uint64    `json:"frames_total"`
	ActiveTracks  int       `json:"active_tracks"`
}

func (s *Server) listCameras(w http.ResponseWriter, r *http.Request) {
	out := []CameraStatus{}
	for _, p := range s.pipelines {
		lastAt, frames := p.LastFrameAt()
		out = append(out, CameraStatus{
			ID:            p.ID(),
			Name:          p.Name(),
			FallDetection: p.FallDetectionEnabled(),
			LastFrameAt:   lastAt,
			FramesTotal:   frames,
			ActiveTracks:  len(p.Tracks()),
		})
	}
	s.writeJSON(w, out)
}

func (s *Server) setFallDetection(w http.ResponseWriter, r *http.Request) {
	p := s.findPipeline(r.PathValue("id"))
	if p == nil {
		s.writeJSONError(w, http.StatusNotFound, "Unknown camera")
		return
	}
	enabled, err := strconv.ParseBool(r.FormValue("enabled"))
	if err != nil {
		s.writeJSONError(w, http.StatusBadRequest, "Invalid 'enabled' parameter")
		return
	}
	p.SetFallDetection(enabled)
	s.writeJSON(w, map[string]bool{"fall_detection": enabled})
}

func (s *Server) listTracks(w http.ResponseWriter, r *http.Request) {
	out := map[string]interface{}{}
	for _, p := range s.pipelines {
		out[p.Name()] = p.Tracks()
	}
	s.writeJSON(w, out)
}

func (s *Server) nameTrack(w http.ResponseWriter, r *http.Request) {
	trackID, err := strconv.Atoi(r.PathValue("id"))
	if err != nil {
		s.writeJSONError(w, http.StatusBadRequest, "Invalid track id")
		return
	}
	name := r.FormValue("name")
	if name == "" {
		s.writeJSONError(w, http.StatusBadRequest, "Missing 'name' parameter")
		return
	}

	for _, p := range s.pipelines {
		if p.Tracker().SetName(trackID, name) {
			s.writeJSON(w, map[string]string{"status": "ok"})
			return
		}
	}
	s.writeJSONError(w, http.StatusNotFound, "No active track with that id")
}

func (s *Server) listEvents(w http.ResponseWriter, r *http.Request) {
	out := map[string]interface{}{}
	for _, p := range s.pipelines {
		out[p.Name()] = p.Monitor().ActiveEvents()
	}
	s.writeJSON(w, out)
}

// timeRange parses optional unix-seconds start/end query parameters.
func timeRange(r *http.Request) (float64, float64, error) {
	var start, end float64
	var err error
	if v := r.URL.Query().Get("start"); v != "" {
		if start, err = strconv.ParseFloat(v, 64); err != nil {
			return 0, 0, fmt.Errorf("invalid 'start' parameter")
		}
	}
	if v := r.URL.Query().Get("end"); v != "" {
		if end, err = strconv.ParseFloat(v, 64); err != nil {
			return 0, 0, fmt.Errorf("invalid 'end' parameter")
		}
	}
	return start, end, nil
}

func (s *Server) listAlerts(w http.ResponseWriter, r *http.Request) {
	start, end, err := timeRange(r)
	if err != nil {
		s.writeJSONError(w, http.StatusBadRequest, err.Error())
		return
	}

	limit := 100 // default value
	if v := r.URL.Query().Get("limit"); v != "" {
		parsed, err := strconv.Atoi(v)
		if err != nil || parsed < 1 {
			s.writeJSONError(w, http.StatusBadRequest, "Invalid 'limit' parameter")
			return
		}
		limit = parsed
	}

	alerts, err := s.alerts.ListAlerts(r.URL.Query().Get("camera"), start, end, limit)
	if err != nil {
		s.writeJSONError(w, http.StatusInternalServerError,
			fmt.Sprintf("Failed to retrieve alerts: %v", err))
		return
	}
	s.writeJSON(w, alerts)
}

func (s *Server) alertSnapshot(w http.ResponseWriter, r *http.Request) {
	alertID, err := strconv.ParseInt(r.PathValue("id"), 10, 64)
	if err != nil {
		s.writeJSONError(w, http.StatusBadRequest, "Invalid alert id")
		return
	}
	snapshot, err := s.alerts.AlertSnapshot(alertID)
	if err != nil {
		s.writeJSONError(w, http.StatusNotFound, "No such alert")
		return
	}
	if len(snapshot) == 0 {
		s.writeJSONError(w, http.StatusNotFound, "Alert has no snapshot")
		return
	}
	w.Header().Set("Content-Type", "image/jpeg")
	w.Write(snapshot)
}

func (s *Server) alertSummary(w http.ResponseWriter, r *http.Request) {
	start, end, err := timeRange(r)
	if err != nil {
		s.writeJSONError(w, http.StatusBadRequest, err.Error())
		return
	}
	durations, err := s.alerts.AlertDurations(start, end)
	if err != nil {
		s.writeJSONError(w, http.StatusInternalServerError,
			fmt.Sprintf("Failed to retrieve alert durations: %v", err))
		return
	}
	s.writeJSON(w, report.Summarise(durations))
}

func (s *Server) alertsChart(w http.ResponseWriter, r *http.Request) {
	start, end, err := timeRange(r)
	if err != nil {
		s.writeJSONError(w, http.StatusBadRequest, err.Error())
		return
	}
	counts, err := s.alerts.AlertsPerDay(start, end)
	if err != nil {
		s.writeJSONError(w, http.StatusInternalServerError,
			fmt.Sprintf("Failed to retrieve alert counts: %v", err))
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if err := report.RenderAlertsChart(w, counts); err != nil {
		log.Printf("Failed to render alerts chart: %v", err)
	}
}

func (s *Server) userID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(r.PathValue("id"), 10, 64)
	if err != nil {
		s.writeJSONError(w, http.StatusBadRequest, "Invalid user id")
		return 0, false
	}
	return id, true
}

func (s *Server) storeError(w http.ResponseWriter, err error, action string) {
	if errors.Is(err, store.ErrNotFound) {
		s.writeJSONError(w, http.StatusNotFound, "Not found")
		return
	}
	s.writeJSONError(w, http.StatusInternalServerError, fmt.Sprintf("Failed to %s: %v", action, err))
}

func (s *Server) listUsers(w http.ResponseWriter, r *http.Request) {
	users, err := s.users.ListUsers()
	if err != nil {
		s.storeError(w, err, "list users")
		return
	}
	s.writeJSON(w, users)
}

func (s *Server) createUser(w http.ResponseWriter, r *http.Request) {
	u := &store.User{}
	if err := json.NewDecoder(r.Body).Decode(u); err != nil {
		s.writeJSONError(w, http.StatusBadRequest, "Invalid user JSON")
		return
	}
	if u.Name == "" {
		s.writeJSONError(w, http.StatusBadRequest, "User name is required")
		return
	}
	if err := s.users.AddUser(u); err != nil {
		s.storeError(w, err, "create user")
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	json.NewEncoder(w).Encode(u)
}

func (s *Server) getUser(w http.ResponseWriter, r *http.Request) {
	id, ok := s.userID(w, r)
	if !ok {
		return
	}
	u, err := s.users.GetUser(id)
	if err != nil {
		s.storeError(w, err, "get user")
		return
	}
	s.writeJSON(w, u)
}

func (s *Server) updateUser(w http.ResponseWriter, r *http.Request) {
	id, ok := s.userID(w, r)
	if !ok {
		return
	}
	u := &store.User{}
	if err := json.NewDecoder(r.Body).Decode(u); err != nil {
		s.writeJSONError(w, http.StatusBadRequest, "Invalid user JSON")
		return
	}
	u.UserID = id
	if err := s.users.UpdateUser(u); err != nil {
		s.storeError(w, err, "update user")
		return
	}
	s.writeJSON(w, u)
}

func (s *Server) deleteUser(w http.ResponseWriter, r *http.Request) {
	id, ok := s.userID(w, r)
	if !ok {
		return
	}
	if err := s.users.DeleteUser(id); err != nil {
		s.storeError(w, err, "delete user")
		return
	}
	s.writeJSON(w, map[string]string{"status": "deleted"})
}

func (s *Server) addContact(w http.ResponseWriter, r *http.Request) {
	id, ok := s.userID(w, r)
	if !ok {
		return
	}
	c := &store.EmergencyContact{}
	if err := json.NewDecoder(r.Body).Decode(c); err != nil {
		s.writeJSONError(w, http.StatusBadRequest, "Invalid contact JSON")
		return
	}
	c.UserID = id
	if err := s.users.AddEmergencyContact(c); err != nil {
		s.storeError(w, err, "add contact")
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	json.NewEncoder(w).Encode(c)
}

func (s *Server) updateContact(w http.ResponseWriter, r *http.Request) {
	id, ok := s.userID(w, r)
	if !ok {
		return
	}
	contactID, err := strconv.ParseInt(r.PathValue("cid"), 10, 64)
	if err != nil {
		s.writeJSONError(w, http.StatusBadRequest, "Invalid contact id")
		return
	}
	c := &store.EmergencyContact{}
	if err := json.NewDecoder(r.Body).Decode(c); err != nil {
		s.writeJSONError(w, http.StatusBadRequest, "Invalid contact JSON")
		return
	}
	c.UserID = id
	c.ContactID = contactID
	if err := s.users.UpdateEmergencyContact(c); err != nil {
		s.storeError(w, err, "update contact")
		return
	}
	s.writeJSON(w, c)
}

func (s *Server) deleteContact(w http.ResponseWriter, r *http.Request) {
	id, ok := s.userID(w, r)
	if !ok {
		return
	}
	contactID, err := strconv.ParseInt(r.PathValue("cid"), 10, 64)
	if err != nil {
		s.writeJSONError(w, http.StatusBadRequest, "Invalid contact id")
		return
	}
	if err := s.users.DeleteEmergencyContact(id, contactID); err != nil {
		s.storeError(w, err, "delete contact")
		return
	}
	s.writeJSON(w, map[string]string{"status": "deleted"})
}

func (s *Server) setDoctor(w http.ResponseWriter, r *http.Request) {
	id, ok := s.userID(w, r)
	if !ok {
		return
	}
	d := &store.Doctor{}
	if err := json.NewDecoder(r.Body).Decode(d); err != nil {
		s.writeJSONError(w, http.StatusBadRequest, "Invalid doctor JSON")
		return
	}
	d.UserID = id
	if err := s.users.SetFamilyDoctor(d); err != nil {
		s.storeError(w, err, "set doctor")
		return
	}
	s.writeJSON(w, d)
}

func (s *Server) showConfig(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, s.cfg)
}
