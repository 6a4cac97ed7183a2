package server

import (
	"fmt"
	"net/http"
	"strconv"
	"sync"
	"sync/atomic"

	"token-observer/src/logger"
	"token-observer/src/models"
	"token-observer/src/query"

	"github.com/gin-gonic/gin"
)

// -----------------------------------------------------------------------------
// SyncServer
// -----------------------------------------------------------------------------

// SyncServer owns the push transport (websocket hub) and the pull transport
// (REST endpoints mirroring the same snapshot queries).
type SyncServer struct {
	Config   *models.MConfig
	Logger   *logger.Logger
	Snapshot *query.SnapshotService
	engine   *gin.Engine

	// WebSocket clients
	clients    map[*Client]struct{}
	broadcast  chan models.MEnvelope // Strongly typed and Buffered Queue
	register   chan *Client
	unregister chan *Client
	done       chan struct{}
	stopOnce   sync.Once

	connCount  atomic.Int64
	lastUpdate atomic.Int64
}

// -----------------------------------------------------------------------------
// Constructor
// -----------------------------------------------------------------------------

func NewSyncServer(cfg *models.MConfig, log *logger.Logger, snapshot *query.SnapshotService) *SyncServer {
	// Set Gin mode
	if cfg.LogLevel != "DEBUG" {
		gin.SetMode(gin.ReleaseMode)
	}

	s := &SyncServer{
		Config:   cfg,
		Logger:   log,
		Snapshot: snapshot,
		engine:   gin.Default(),
		clients:  make(map[*Client]struct{}),
		// Buffered channel to prevent lock/blocking
		// Queue size of 256 ensures we can handle bursts of updates
		broadcast:  make(chan models.MEnvelope, 256),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		done:       make(chan struct{}),
	}

	// Add CORS Middleware
	s.engine.Use(func(c *gin.Context) {
		origin := c.Request.Header.Get("Origin")
		if origin != "" {
			c.Writer.Header().Set("Access-Control-Allow-Origin", origin)
		}
		c.Writer.Header().Set("Access-Control-Allow-Credentials", "true")
		c.Writer.Header().Set("Access-Control-Allow-Headers", "Content-Type, Content-Length, Accept-Encoding, X-CSRF-Token, Authorization, accept, origin, Cache-Control, X-Requested-With")
		c.Writer.Header().Set("Access-Control-Allow-Methods", "POST, OPTIONS, GET, PUT")

		if c.Request.Method == "OPTIONS" {
			c.AbortWithStatus(204)
			return
		}

		c.Next()
	})

	// setup web routes
	s.setupRoutes()
	return s
}

// -----------------------------------------------------------------------------
// Route Setup
// -----------------------------------------------------------------------------

func (s *SyncServer) setupRoutes() {
	// REST API endpoints (pull-transport fallback, mirrors the push queries)
	s.engine.GET("/api/tokens", s.getTokens)
	s.engine.GET("/api/tokens/:id", s.getTokenByID)
	s.engine.GET("/api/stats", s.getStats)
	s.engine.GET("/api/health", s.getHealth)

	// WebSocket endpoint
	s.engine.GET("/ws", s.handleWebSocket)
}

// -----------------------------------------------------------------------------
// Server Lifecycle
// -----------------------------------------------------------------------------

func (s *SyncServer) Start() error {
	addr := fmt.Sprintf("%s:%d", s.Config.Host, s.Config.Port)
	s.Logger.Info("Starting server on %s", addr)

	go s.runHub()

	return s.engine.Run(addr)
}

// -----------------------------------------------------------------------------

func (s *SyncServer) Stop() error {
	s.stopOnce.Do(func() {
		close(s.done)
	})
	return nil
}

// -----------------------------------------------------------------------------

// Handler exposes the routed engine, for embedding or test servers.
func (s *SyncServer) Handler() http.Handler {
	return s.engine
}

// -----------------------------------------------------------------------------

// StartHub runs only the hub loop, for callers that serve the handler
// themselves.
func (s *SyncServer) StartHub() {
	go s.runHub()
}

// -----------------------------------------------------------------------------
// Route Handlers
// -----------------------------------------------------------------------------

func (s *SyncServer) getTokens(c *gin.Context) {
	page, err := strconv.Atoi(c.DefaultQuery("page", "1"))
	if err != nil {
		page = 1
	}

	result, err := s.Snapshot.ListPage(c.Query("sort"), c.Query("direction"), page)
	if err != nil {
		s.Logger.Error("List tokens failed: %v", err)
		c.JSON(500, gin.H{"error": "failed to list tokens"})
		return
	}

	c.JSON(200, result)
}

// -----------------------------------------------------------------------------

func (s *SyncServer) getTokenByID(c *gin.Context) {
	token, err := s.Snapshot.GetByID(c.Param("id"))
	if err != nil {
		s.Logger.Error("Token lookup failed: %v", err)
		c.JSON(500, gin.H{"error": "failed to load token"})
		return
	}
	if token == nil {
		c.JSON(404, gin.H{"error": "Token not found"})
		return
	}

	c.JSON(200, token)
}

// -----------------------------------------------------------------------------

func (s *SyncServer) getStats(c *gin.Context) {
	stats, err := s.Snapshot.GlobalStats()
	if err != nil {
		s.Logger.Error("Stats failed: %v", err)
		c.JSON(500, gin.H{"error": "failed to compute stats"})
		return
	}

	c.JSON(200, stats)
}

// -----------------------------------------------------------------------------

func (s *SyncServer) getHealth(c *gin.Context) {
	c.JSON(200, gin.H{
		"status":        "ok",
		"connections":   s.connCount.Load(),
		"latest_update": s.lastUpdate.Load(),
	})
}
