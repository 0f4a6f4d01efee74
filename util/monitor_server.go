package util

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"

	"github.com/elijahnyp/climate_node/state"
	"github.com/gorilla/mux"
)

// MonitorServer exposes the last sampling cycle over HTTP and streams new
// cycles to websocket clients.
type MonitorServer struct {
	running *sync.Mutex
	srv     *http.Server
	srvMu   sync.RWMutex // protects srv field
	router  *mux.Router
	hub     *WSHub
	store   *state.Store
	port    int
}

func NewMonitorServer(port int, store *state.Store) *MonitorServer {
	s := &MonitorServer{
		running: &sync.Mutex{},
		srv:     &http.Server{},
		router:  mux.NewRouter(),
		hub:     NewHub(),
		store:   store,
		port:    port,
	}
	s.router.HandleFunc("/status", s.StatusHandler).Methods(http.MethodGet)
	s.router.HandleFunc("/ws", s.hub.ServeWebSocket)
	store.Subscribe(func(snap state.Snapshot) {
		s.hub.BroadcastUpdate("cycle", snap)
	})
	go s.hub.Run()
	return s
}

func (s *MonitorServer) Handler() http.Handler {
	return s.router
}

func (s *MonitorServer) Start() error {
	if !s.running.TryLock() {
		return fmt.Errorf("already running")
	} else {
		s.running.Unlock()
	}
	go func() {
		s.running.Lock()

		newSrv := &http.Server{Addr: fmt.Sprintf(":%d", s.port), Handler: s.router}
		s.srvMu.Lock()
		s.srv = newSrv
		s.srvMu.Unlock()

		Logger.Info().Msgf("monitor server listening on %s", newSrv.Addr)
		if err := newSrv.ListenAndServe(); err != http.ErrServerClosed {
			Logger.Warn().Msgf("Problem loading monitor server: %v", err)
		}
		Logger.Debug().Msg("monitor server shutdown")
		s.running.Unlock()
	}()
	return nil
}

func (s *MonitorServer) Shutdown(ctx context.Context) {
	s.srvMu.RLock()
	currentSrv := s.srv
	s.srvMu.RUnlock()

	if currentSrv != nil {
		if err := currentSrv.Shutdown(ctx); err != nil {
			Logger.Error().Msgf("Error shutting down monitor server: %v", err)
		}
	}
	s.hub.Stop()
}

func (s *MonitorServer) StatusHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	snap, ok := s.store.Last()
	if !ok {
		w.WriteHeader(http.StatusServiceUnavailable)
		if _, err := w.Write([]byte(`{"error":"no cycle completed yet"}`)); err != nil {
			Logger.Error().Msgf("Error writing response: %v", err)
		}
		return
	}
	if err := json.NewEncoder(w).Encode(snap); err != nil {
		Logger.Error().Msgf("Error writing response: %v", err)
	}
}
