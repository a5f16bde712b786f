package controlplane

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"

	"github.com/playsafesec/upgradeboard/internal/logparse"
	"github.com/playsafesec/upgradeboard/internal/models"
	"github.com/playsafesec/upgradeboard/internal/session"
	"github.com/playsafesec/upgradeboard/internal/workflow"
)

// Version is reported by /health. Set at build time.
var Version = "dev"

const wsWriteTimeout = 10 * time.Second

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

var wsClients = promauto.NewGauge(prometheus.GaugeOpts{
	Name: "upgradeboard_ws_clients",
	Help: "Connected session stream clients.",
})

// HealthResponse is the /health payload.
type HealthResponse struct {
	OK      bool   `json:"ok"`
	DB      string `json:"db"`
	Version string `json:"version"`
	Time    string `json:"time"`
}

// Server provides the HTTP API for the dashboard.
type Server struct {
	service *Service
	addr    string
	server  *http.Server
}

// NewServer creates a new HTTP server.
func NewServer(service *Service, addr string) *Server {
	s := &Server{
		service: service,
		addr:    addr,
	}
	s.server = &http.Server{
		Addr:         addr,
		Handler:      s.Handler(),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 30 * time.Second,
	}
	return s
}

// Handler returns the API routes.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("/health", s.handleHealth)
	mux.HandleFunc("/session", s.handleSession)
	mux.HandleFunc("/upgrade/", s.handleUpgrade)
	mux.HandleFunc("/phases/", s.handlePhase)

	mux.HandleFunc("/logs", s.handleLogs)
	mux.HandleFunc("/logs/download", s.handleLogsDownload)

	mux.HandleFunc("/inventory/hosts", s.handleHosts)
	mux.HandleFunc("/inventory/packages", s.handlePackages)
	mux.HandleFunc("/health-metrics", s.handleHealthMetrics)

	mux.HandleFunc("/reports", s.handleReports)
	mux.HandleFunc("/reports/", s.handleReportByID)
	mux.HandleFunc("/archive", s.handleArchive)
	mux.HandleFunc("/audit", s.handleAudit)

	mux.HandleFunc("/ws", s.handleWS)
	mux.Handle("/metrics", promhttp.Handler())

	return mux
}

// Start starts the HTTP server.
func (s *Server) Start() error {
	logrus.Infof("Starting upgradeboard daemon on %s", s.addr)
	return s.server.ListenAndServe()
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.server.Shutdown(ctx)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, err error) {
	status := statusCode(err)
	if status >= http.StatusInternalServerError {
		logrus.Warnf("Request failed: %v", err)
	}
	http.Error(w, err.Error(), status)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	resp := HealthResponse{
		OK:      true,
		DB:      "ok",
		Version: Version,
		Time:    time.Now().UTC().Format(time.RFC3339),
	}
	status := http.StatusOK
	if err := s.service.Ping(r.Context()); err != nil {
		resp.OK = false
		resp.DB = err.Error()
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, resp)
}

func (s *Server) handleSession(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	writeJSON(w, http.StatusOK, s.service.View())
}

// handleUpgrade handles POST /upgrade/{action}
func (s *Server) handleUpgrade(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	switch action := strings.TrimPrefix(r.URL.Path, "/upgrade/"); action {
	case "start":
		var in workflow.DispatchInputs
		if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
			http.Error(w, "invalid json", http.StatusBadRequest)
			return
		}
		if err := s.service.StartUpgrade(r.Context(), in); err != nil {
			writeError(w, err)
			return
		}
	case "pause":
		s.service.PauseUpgrade()
	case "resume":
		s.service.ResumeUpgrade()
	case "reset":
		s.service.ResetUpgrade()
	case "next":
		s.service.NextPhase()
	case "cancel":
		if err := s.service.CancelRun(r.Context()); err != nil {
			writeError(w, err)
			return
		}
	default:
		http.Error(w, "not found", http.StatusNotFound)
		return
	}
	writeJSON(w, http.StatusOK, s.service.View())
}

// handlePhase handles POST /phases/{id}
func (s *Server) handlePhase(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	id := strings.TrimPrefix(r.URL.Path, "/phases/")
	if id == "" || strings.Contains(id, "/") {
		http.Error(w, "phase id required", http.StatusBadRequest)
		return
	}

	var u session.PhaseUpdate
	if err := json.NewDecoder(r.Body).Decode(&u); err != nil {
		http.Error(w, "invalid json", http.StatusBadRequest)
		return
	}
	if err := s.service.UpdatePhase(id, u); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, s.service.View())
}

func logQuery(r *http.Request) (logparse.Query, error) {
	v := r.URL.Query()
	q := logparse.Query{
		Level:  models.LogLevel(strings.ToLower(v.Get("level"))),
		Phase:  v.Get("phase"),
		Server: v.Get("server"),
		Text:   v.Get("q"),
	}
	switch q.Level {
	case "all":
		q.Level = ""
	case "", models.LevelInfo, models.LevelSuccess, models.LevelWarning, models.LevelError:
	default:
		return q, fmt.Errorf("unknown level %q", q.Level)
	}
	return q, nil
}

func (s *Server) handleLogs(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	q, err := logQuery(r)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	writeJSON(w, http.StatusOK, s.service.Logs(q))
}

func (s *Server) handleLogsDownload(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	q, err := logQuery(r)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	name := fmt.Sprintf("workflow-logs-%s.txt", time.Now().UTC().Format("2006-01-02T15-04-05Z"))
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", name))
	w.Write([]byte(s.service.LogsText(q)))
}

func (s *Server) handleHosts(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		inv, err := s.service.Hosts(r.Context())
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, inv)
	case http.MethodPut:
		var inv models.HostInventory
		if err := json.NewDecoder(r.Body).Decode(&inv); err != nil {
			http.Error(w, "invalid json", http.StatusBadRequest)
			return
		}
		if err := s.service.SaveHosts(r.Context(), &inv); err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, &inv)
	default:
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
	}
}

func (s *Server) handlePackages(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		inv, err := s.service.Packages(r.Context())
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, inv)
	case http.MethodPut:
		var inv models.PackageInventory
		if err := json.NewDecoder(r.Body).Decode(&inv); err != nil {
			http.Error(w, "invalid json", http.StatusBadRequest)
			return
		}
		if err := s.service.SavePackages(r.Context(), &inv); err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, &inv)
	default:
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
	}
}

func (s *Server) handleHealthMetrics(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	var m models.HealthMetrics
	if err := json.NewDecoder(r.Body).Decode(&m); err != nil {
		http.Error(w, "invalid json", http.StatusBadRequest)
		return
	}
	evaluated, err := s.service.SetHealthMetrics(m)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, evaluated)
}

// handleReports handles GET /reports and POST /reports
func (s *Server) handleReports(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		reports, err := s.service.ListReports()
		if err != nil {
			writeError(w, err)
			return
		}
		if reports == nil {
			reports = []models.StoredReport{}
		}
		writeJSON(w, http.StatusOK, reports)
	case http.MethodPost:
		stored, err := s.service.ExportReport()
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusCreated, stored)
	default:
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
	}
}

// handleReportByID handles GET /reports/{id}, returning the report document.
func (s *Server) handleReportByID(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	id := strings.TrimPrefix(r.URL.Path, "/reports/")
	if id == "" {
		http.Error(w, "report id required", http.StatusBadRequest)
		return
	}
	stored, err := s.service.GetReport(id)
	if err != nil {
		writeError(w, err)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", stored.Filename))
	w.Write(stored.Data)
}

func (s *Server) handleArchive(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	res, err := s.service.Archive(r.URL.Query().Get("status"), r.URL.Query().Get("q"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (s *Server) handleAudit(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	limit := 100
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			http.Error(w, "invalid limit", http.StatusBadRequest)
			return
		}
		limit = n
	}
	entries, err := s.service.AuditLog(limit)
	if err != nil {
		writeError(w, err)
		return
	}
	if entries == nil {
		entries = []models.PDREntry{}
	}
	writeJSON(w, http.StatusOK, entries)
}

// viewQueue holds the newest view not yet written to a stream. Views are
// ordered by session Version; anything not newer than what is pending or
// already sent is dropped.
type viewQueue struct {
	mu      sync.Mutex
	pending *View
	sent    uint64
	ready   chan struct{}
}

func newViewQueue() *viewQueue {
	return &viewQueue{ready: make(chan struct{}, 1)}
}

// offer queues v unless a newer view is pending or was sent.
func (q *viewQueue) offer(v View) {
	q.mu.Lock()
	if v.Version <= q.sent || (q.pending != nil && v.Version <= q.pending.Version) {
		q.mu.Unlock()
		return
	}
	q.pending = &v
	q.mu.Unlock()

	select {
	case q.ready <- struct{}{}:
	default:
	}
}

// next takes the pending view, if any, and marks it sent.
func (q *viewQueue) next() (View, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.pending == nil {
		return View{}, false
	}
	v := *q.pending
	q.pending = nil
	if v.Version <= q.sent {
		return View{}, false
	}
	q.sent = v.Version
	return v, true
}

// markSent records a view written outside the queue.
func (q *viewQueue) markSent(v View) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.sent = max(q.sent, v.Version)
}

// handleWS streams a session view on connect and after every change. Views
// queued while a write is pending are coalesced to the newest version.
func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		logrus.Warnf("WebSocket upgrade failed: %v", err)
		return
	}
	defer conn.Close()
	wsClients.Inc()
	defer wsClients.Dec()

	queue := newViewQueue()
	cancel := s.service.Subscribe(queue.offer)
	defer cancel()

	closed := make(chan struct{})
	go func() {
		defer close(closed)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	send := func(v View) bool {
		conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
		if err := conn.WriteJSON(v); err != nil {
			logrus.Debugf("WebSocket write failed: %v", err)
			return false
		}
		return true
	}

	initial := s.service.View()
	queue.markSent(initial)
	if !send(initial) {
		return
	}
	for {
		select {
		case <-closed:
			return
		case <-queue.ready:
			if v, ok := queue.next(); ok && !send(v) {
				return
			}
		}
	}
}
