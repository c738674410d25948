// Package web exposes the tool registry over HTTP and streams guest logs
// over a websocket.
package web

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/julienschmidt/httprouter"

	"github.com/codefionn/werkzeug/internal/loader"
	"github.com/codefionn/werkzeug/internal/logger"
	"github.com/codefionn/werkzeug/internal/registry"
	"github.com/codefionn/werkzeug/internal/sandbox"
	"github.com/codefionn/werkzeug/internal/store"
)

// Server is the HTTP front of the tool engine.
type Server struct {
	addr       string
	httpServer *http.Server

	registry   *registry.Registry
	visibility *registry.VisibilityTracker
	manager    *sandbox.Manager
	store      *store.Store
	loader     *loader.Loader
	hub        *Hub

	sessionMu sync.Mutex
	sessions  map[string]time.Time
}

// NewServer wires the server over its collaborators. The hub is started by
// Start, not here.
func NewServer(addr string, reg *registry.Registry, vis *registry.VisibilityTracker, mgr *sandbox.Manager, st *store.Store, ld *loader.Loader, hub *Hub) *Server {
	return &Server{
		addr:       addr,
		registry:   reg,
		visibility: vis,
		manager:    mgr,
		store:      st,
		loader:     ld,
		hub:        hub,
		sessions:   make(map[string]time.Time),
	}
}

// Router builds the route table. Split out so tests can drive handlers
// without a listening socket.
func (s *Server) Router() *httprouter.Router {
	router := httprouter.New()

	router.POST("/api/sessions", s.handleCreateSession)
	router.GET("/api/sessions/:id/tools", s.handleSessionTools)
	router.POST("/api/sessions/:id/visibility", s.handleVisibility)
	router.DELETE("/api/sessions/:id", s.handleDeleteSession)

	router.GET("/api/tools", s.handleListTools)
	router.POST("/api/call", s.handleCall)

	router.GET("/api/providers", s.handleListProviders)
	router.POST("/api/providers", s.handleCreateProvider)
	router.DELETE("/api/providers/:name", s.handleDeleteProvider)

	router.GET("/api/skills", s.handleListSkills)
	router.PUT("/api/skills/:name", s.handlePutSkill)
	router.DELETE("/api/skills/:name", s.handleDeleteSkill)

	router.GET("/ws/logs", s.handleLogStream)

	return router
}

// Start begins serving in the background.
func (s *Server) Start() error {
	s.httpServer = &http.Server{
		Addr:         s.addr,
		Handler:      s.Router(),
		ReadTimeout:  60 * time.Second,
		WriteTimeout: 60 * time.Second,
	}

	go s.hub.Run()

	go func() {
		logger.Info("Web server listening on %s", s.addr)
		if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("HTTP server error: %v", err)
		}
	}()
	return nil
}

// Stop shuts the server and hub down.
func (s *Server) Stop() error {
	logger.Info("Stopping web server...")
	s.hub.Stop()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := s.httpServer.Shutdown(ctx); err != nil {
		return fmt.Errorf("failed to shutdown HTTP server: %w", err)
	}
	return nil
}

func (s *Server) handleCreateSession(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	id := uuid.NewString()
	s.sessionMu.Lock()
	s.sessions[id] = time.Now()
	s.sessionMu.Unlock()

	writeJSON(w, http.StatusCreated, sessionResponse{
		SessionID: id,
		Providers: s.visibility.Visible(id),
	})
}

func (s *Server) handleDeleteSession(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
	id := ps.ByName("id")
	s.sessionMu.Lock()
	delete(s.sessions, id)
	s.sessionMu.Unlock()
	s.visibility.Cleanup(id)
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) sessionExists(id string) bool {
	s.sessionMu.Lock()
	defer s.sessionMu.Unlock()
	_, ok := s.sessions[id]
	return ok
}

// handleSessionTools lists the tools whose providers are visible to this
// session. Visibility is advisory; the call endpoint still dispatches any
// registered tool.
func (s *Server) handleSessionTools(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
	id := ps.ByName("id")
	if !s.sessionExists(id) {
		writeError(w, http.StatusNotFound, "unknown session")
		return
	}

	all := s.registry.ListAllTools(r.Context())
	visible := make([]registry.ToolDescriptor, 0, len(all))
	for _, tool := range all {
		provider, _, ok := registry.ParseQualifiedName(tool.Name)
		if ok && s.visibility.IsVisible(id, provider) {
			visible = append(visible, tool)
		}
	}
	writeJSON(w, http.StatusOK, visible)
}

func (s *Server) handleVisibility(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
	id := ps.ByName("id")
	if !s.sessionExists(id) {
		writeError(w, http.StatusNotFound, "unknown session")
		return
	}

	var req visibilityRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Provider == "" {
		writeError(w, http.StatusBadRequest, "provider is required")
		return
	}

	if req.Visible {
		s.visibility.Load(id, req.Provider)
	} else {
		s.visibility.Unload(id, req.Provider)
	}
	writeJSON(w, http.StatusOK, sessionResponse{
		SessionID: id,
		Providers: s.visibility.Visible(id),
	})
}

func (s *Server) handleListTools(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	writeJSON(w, http.StatusOK, s.registry.ListAllTools(r.Context()))
}

// handleCall dispatches one tool call. Dispatch failures come back as an
// error-flagged result with status 200; only a malformed request is a 4xx.
func (s *Server) handleCall(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	var req callRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Name == "" {
		writeError(w, http.StatusBadRequest, "name is required")
		return
	}
	if req.SessionID != "" && !s.sessionExists(req.SessionID) {
		writeError(w, http.StatusNotFound, "unknown session")
		return
	}

	result := s.registry.CallTool(r.Context(), req.Name, req.Arguments)
	writeJSON(w, http.StatusOK, result)
}

func (s *Server) handleListProviders(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	records, err := s.store.ListProviders(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	infos := make([]providerInfo, 0, len(records))
	for _, rec := range records {
		infos = append(infos, providerInfo{
			Name:      rec.Name,
			Enabled:   rec.Enabled,
			Loaded:    s.manager.IsLoaded(rec.Name),
			CodeHash:  rec.CodeHash,
			UpdatedAt: rec.UpdatedAt,
		})
	}
	writeJSON(w, http.StatusOK, infos)
}

func (s *Server) handleCreateProvider(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	var req createProviderRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Name == "" || req.Code == "" {
		writeError(w, http.StatusBadRequest, "name and code are required")
		return
	}

	if err := s.loader.LoadAndRegister(r.Context(), req.Name, req.Code); err != nil {
		writeError(w, http.StatusUnprocessableEntity, err.Error())
		return
	}
	if _, err := s.store.SaveProvider(r.Context(), req.Name, req.Code); err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if err := s.store.SetProviderEnabled(r.Context(), req.Name, true); err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	w.WriteHeader(http.StatusCreated)
}

func (s *Server) handleDeleteProvider(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
	name := ps.ByName("name")
	if err := s.loader.Remove(name); err != nil {
		writeError(w, http.StatusUnprocessableEntity, err.Error())
		return
	}
	if rec, err := s.store.GetProvider(r.Context(), name); err == nil && rec != nil {
		if err := s.store.SetProviderEnabled(r.Context(), name, false); err != nil {
			writeError(w, http.StatusInternalServerError, err.Error())
			return
		}
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleListSkills(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	records, err := s.store.ListSkills(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	infos := make([]skillInfo, 0, len(records))
	for _, rec := range records {
		infos = append(infos, skillInfo{
			Name:        rec.Name,
			Description: rec.Description,
			UpdatedAt:   rec.UpdatedAt,
		})
	}
	writeJSON(w, http.StatusOK, infos)
}

func (s *Server) handlePutSkill(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
	var req skillRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Content == "" {
		writeError(w, http.StatusBadRequest, "content is required")
		return
	}
	if err := s.store.UpsertSkill(r.Context(), ps.ByName("name"), req.Description, req.Content); err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleDeleteSkill(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
	if err := s.store.DeleteSkill(r.Context(), ps.ByName("name")); err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// handleLogStream upgrades the connection and attaches it to the hub.
func (s *Server) handleLogStream(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	upgrader := websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin: func(r *http.Request) bool {
			return true
		},
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		logger.Error("Failed to upgrade WebSocket: %v", err)
		return
	}

	client := NewClient(s.hub, conn)
	s.hub.Register(client)
	go client.WritePump()
	go client.ReadPump()
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logger.Error("Failed to encode response: %v", err)
	}
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, errorResponse{Error: message})
}
