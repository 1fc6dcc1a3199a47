// Package httpapi exposes the gateway pipelines over HTTP. Handlers only
// bind JSON and map error kinds onto status codes; every behavioral
// decision lives in the gateway package.
package httpapi

import (
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"

	"github.com/advanced-rag/vector-gateway/config"
	"github.com/advanced-rag/vector-gateway/internal/gateway"
	"github.com/advanced-rag/vector-gateway/internal/rag"
)

// Server wires the gateway into a gin engine.
type Server struct {
	gw  *gateway.Gateway
	cfg *config.RagConfig
	log rag.Logger
}

// NewServer builds the HTTP surface around an assembled gateway.
func NewServer(cfg *config.RagConfig, gw *gateway.Gateway) *Server {
	return &Server{gw: gw, cfg: cfg, log: rag.GlobalLogger}
}

// Router assembles the engine: panic recovery, request ids, access
// logging, the per-request deadline, CORS, then the routes. Health stays
// outside the auth group so probes work without credentials.
func (s *Server) Router() *gin.Engine {
	engine := gin.New()
	engine.Use(gin.Recovery())
	engine.Use(requestID())
	engine.Use(s.accessLog())
	engine.Use(requestDeadline(s.cfg.Timeouts.Request()))
	engine.Use(cors.New(corsConfig()))

	engine.GET("/healthz", s.handleHealth)

	authed := engine.Group("/", authRequired(s.cfg.Settings.AuthToken))
	{
		authed.POST("/upsert", s.handleUpsert)
		authed.POST("/search", s.handleSearch)
		authed.GET("/collections", s.handleCollections)
		authed.GET("/collections/:name/stats", s.handleCollectionStats)
	}
	return engine
}

// corsConfig allows all origins; the gateway fronts internal tools and
// notebooks, not browsers holding credentials.
func corsConfig() cors.Config {
	cfg := cors.DefaultConfig()
	cfg.AllowAllOrigins = true
	cfg.AllowMethods = []string{"GET", "POST", "OPTIONS"}
	cfg.AllowHeaders = []string{"Origin", "Content-Type", "Authorization", "X-API-Key", "X-Request-ID"}
	return cfg
}
