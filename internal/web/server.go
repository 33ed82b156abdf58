package web

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"image-uploader-go/internal/batch"
	"image-uploader-go/internal/catalog"
	"image-uploader-go/internal/config"
	"image-uploader-go/internal/logger"
	"image-uploader-go/internal/metrics"
	"image-uploader-go/internal/presets"
	"image-uploader-go/internal/statistics"
	"image-uploader-go/internal/storage"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"
)

const (
	wsWriteTimeout = 5 * time.Second
	wsSendBuffer   = 64
)

// Deps are the collaborators the server exposes over HTTP. Metrics may be nil.
type Deps struct {
	Coordinator *batch.Coordinator
	Store       storage.BlobStore
	Library     *catalog.Library
	Presets     *presets.Registry
	Stats       *statistics.Statistics
	Metrics     *metrics.Metrics
}

type Server struct {
	cfg        *config.Config
	log        logrus.FieldLogger
	deps       Deps
	router     *mux.Router
	httpServer *http.Server
	wsUpgrader websocket.Upgrader
	wsClients  map[*wsClient]bool
	wsMutex    sync.Mutex

	activeBatches atomic.Int64
	startedAt     time.Time
}

type APIResponse struct {
	Success bool        `json:"success"`
	Message string      `json:"message,omitempty"`
	Data    interface{} `json:"data,omitempty"`
	Error   string      `json:"error,omitempty"`
}

type WSMessage struct {
	Type string      `json:"type"`
	Data interface{} `json:"data"`
}

// wsClient is a websocket connection with its own writer goroutine.
// Broadcasts only enqueue on send, so a slow client never blocks a batch.
type wsClient struct {
	conn *websocket.Conn
	send chan []byte
}

func NewServer(cfg *config.Config, log logrus.FieldLogger, deps Deps) *Server {
	if log == nil {
		log = logger.Discard()
	}
	s := &Server{
		cfg:       cfg,
		log:       log,
		deps:      deps,
		router:    mux.NewRouter(),
		wsClients: make(map[*wsClient]bool),
		wsUpgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool {
				return true
			},
		},
		startedAt: time.Now(),
	}

	s.setupRoutes()
	return s
}

func (s *Server) setupRoutes() {
	api := s.router.PathPrefix("/api").Subrouter()
	api.HandleFunc("/status", s.handleStatus).Methods("GET")
	api.HandleFunc("/presets", s.handlePresets).Methods("GET")
	api.HandleFunc("/statistics", s.handleGetStatistics).Methods("GET")
	api.HandleFunc("/uploads", s.handleUpload).Methods("POST")
	api.HandleFunc("/assets", s.handleListAssets).Methods("GET")
	api.HandleFunc("/assets/{id}", s.handleGetAsset).Methods("GET")
	api.HandleFunc("/assets/{id}", s.handleDeleteAsset).Methods("DELETE")

	s.router.HandleFunc("/media/{key:.+}", s.handleMedia).Methods("GET", "HEAD")

	if s.deps.Metrics != nil && s.cfg.Server.Metrics {
		s.router.Handle("/metrics", s.deps.Metrics.Handler()).Methods("GET")
	}

	s.router.HandleFunc("/ws", s.handleWebSocket)
}

// Handler returns the router, mainly for tests.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) Start(port int) error {
	addr := fmt.Sprintf(":%d", port)
	s.httpServer = &http.Server{
		Addr:              addr,
		Handler:           s.router,
		ReadHeaderTimeout: 30 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	s.log.Infof("Starting web server on http://localhost%s", addr)
	return s.httpServer.ListenAndServe()
}

func (s *Server) Stop(ctx context.Context) error {
	s.wsMutex.Lock()
	for c := range s.wsClients {
		s.dropClientLocked(c)
	}
	s.wsMutex.Unlock()

	if s.httpServer != nil {
		return s.httpServer.Shutdown(ctx)
	}
	return nil
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	active := s.activeBatches.Load()
	s.writeJSON(w, APIResponse{
		Success: true,
		Data: map[string]interface{}{
			"running":        active > 0,
			"active_batches": active,
			"storage":        s.cfg.Storage.Backend,
			"catalog":        s.cfg.Catalog.Driver,
			"uptime":         time.Since(s.startedAt).Round(time.Second).String(),
		},
	})
}

func (s *Server) handlePresets(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, APIResponse{
		Success: true,
		Data:    s.deps.Presets.All(),
	})
}

func (s *Server) handleGetStatistics(w http.ResponseWriter, r *http.Request) {
	stats := s.deps.Stats
	if stats == nil {
		s.writeJSON(w, APIResponse{Success: true})
		return
	}

	s.writeJSON(w, APIResponse{
		Success: true,
		Data: map[string]interface{}{
			"summary":    stats.GetSummary(),
			"file_types": stats.GetFileTypeBreakdown(),
			"errors":     stats.GetErrorSummary(),
			"counters":   stats.Snapshot(),
		},
	})
}

func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := s.wsUpgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Errorf("WebSocket upgrade failed: %v", err)
		return
	}
	defer conn.Close()

	c := &wsClient{conn: conn, send: make(chan []byte, wsSendBuffer)}
	s.registerClient(c)
	go s.writePump(c)

	s.log.Debug("WebSocket client connected")

	defer func() {
		s.unregisterClient(c)
		s.log.Debug("WebSocket client disconnected")
	}()

	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			break
		}
	}
}

// writePump is the only writer of c.conn. It exits when send is closed.
func (s *Server) writePump(c *wsClient) {
	defer c.conn.Close()
	for msg := range c.send {
		_ = c.conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
		if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
			s.log.Errorf("Failed to write WebSocket message: %v", err)
			return
		}
	}
	_ = c.conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
	_ = c.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
}

func (s *Server) registerClient(c *wsClient) {
	s.wsMutex.Lock()
	s.wsClients[c] = true
	s.wsMutex.Unlock()
}

func (s *Server) unregisterClient(c *wsClient) {
	s.wsMutex.Lock()
	s.dropClientLocked(c)
	s.wsMutex.Unlock()
}

// dropClientLocked removes c and closes its queue. wsMutex must be held.
func (s *Server) dropClientLocked(c *wsClient) {
	if _, ok := s.wsClients[c]; ok {
		delete(s.wsClients, c)
		close(c.send)
	}
}

func (s *Server) clientCount() int {
	s.wsMutex.Lock()
	defer s.wsMutex.Unlock()
	return len(s.wsClients)
}

// broadcastWSMessage queues the message for every client. A client whose
// queue is full is dropped rather than waited for.
func (s *Server) broadcastWSMessage(messageType string, data interface{}) {
	msgBytes, err := json.Marshal(WSMessage{Type: messageType, Data: data})
	if err != nil {
		s.log.Errorf("Failed to marshal WebSocket message: %v", err)
		return
	}

	s.wsMutex.Lock()
	defer s.wsMutex.Unlock()

	for c := range s.wsClients {
		select {
		case c.send <- msgBytes:
		default:
			s.log.Warn("WebSocket client is not keeping up, disconnecting")
			s.dropClientLocked(c)
		}
	}
}

func (s *Server) writeJSON(w http.ResponseWriter, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(data)
}

func (s *Server) writeError(w http.ResponseWriter, message string, statusCode int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	json.NewEncoder(w).Encode(APIResponse{
		Success: false,
		Error:   message,
	})
}
