// Package api exposes the trading platform over HTTP: JSON REST endpoints
// behind JWT auth plus a websocket stream of live agent activity.
package api

import (
	"net/http"
	"time"

	"github.com/Zerotek-trade/zerotek-app/internal/agent"
	"github.com/Zerotek-trade/zerotek-app/internal/engine"
	"github.com/Zerotek-trade/zerotek-app/internal/events"
	"github.com/Zerotek-trade/zerotek-app/internal/gateway"
	"github.com/Zerotek-trade/zerotek-app/internal/monitor"
	"github.com/Zerotek-trade/zerotek-app/internal/news"
	"github.com/Zerotek-trade/zerotek-app/pkg/db"

	"github.com/gin-gonic/gin"
)

// Server wires HTTP endpoints around the domain services.
type Server struct {
	Router  *gin.Engine
	Store   *db.Store
	Gateway *gateway.Service
	Engine  *engine.Engine
	Runner  *agent.Runner
	News    *news.Service
	Bus     *events.Bus
	Metrics *monitor.SystemMetrics

	JWTSecret      string
	TokenTTL       time.Duration
	FaucetAmount   float64
	FaucetCooldown time.Duration
}

// Options carries the auth and faucet tunables the handlers need.
type Options struct {
	JWTSecret      string
	TokenTTL       time.Duration
	FaucetAmount   float64
	FaucetCooldown time.Duration
}

func NewServer(store *db.Store, gw *gateway.Service, eng *engine.Engine, runner *agent.Runner, newsSvc *news.Service, bus *events.Bus, metrics *monitor.SystemMetrics, opts Options) *Server {
	r := gin.New()

	// Middleware stack (order matters!)
	r.Use(gin.Recovery())
	r.Use(RequestIDMiddleware())
	r.Use(RequestLogger(metrics))
	r.Use(RateLimitMiddleware())
	r.Use(TimeoutMiddleware(30 * time.Second))
	r.Use(CORSMiddleware())

	s := &Server{
		Router:         r,
		Store:          store,
		Gateway:        gw,
		Engine:         eng,
		Runner:         runner,
		News:           newsSvc,
		Bus:            bus,
		Metrics:        metrics,
		JWTSecret:      opts.JWTSecret,
		TokenTTL:       opts.TokenTTL,
		FaucetAmount:   opts.FaucetAmount,
		FaucetCooldown: opts.FaucetCooldown,
	}
	s.routes()
	return s
}

func (s *Server) routes() {
	s.Router.GET("/health", s.health)
	s.Router.GET("/ws", s.websocket)

	api := s.Router.Group("/api")
	{
		api.GET("/metrics", s.getMetrics)
		api.GET("/tokens", s.getTokens)
		api.GET("/news", s.getNews)

		// Auth endpoints (no auth required)
		auth := api.Group("/auth")
		{
			auth.POST("/register", s.registerUser)
			auth.POST("/login", s.loginUser)
		}

		// Protected API
		protected := api.Group("")
		protected.Use(AuthMiddleware(s.JWTSecret))
		{
			protected.GET("/auth/user", s.getAuthUser)
			protected.GET("/dashboard", s.getDashboard)

			protected.GET("/faucet/status", s.getFaucetStatus)
			protected.POST("/faucet/claim", s.claimFaucet)

			protected.GET("/trade/:symbol", s.getTradePage)
			protected.GET("/trades", s.getTrades)

			protected.POST("/positions", s.openPosition)
			protected.GET("/positions", s.getPositions)
			protected.PATCH("/positions/:id", s.updatePosition)
			protected.POST("/positions/:id/close", s.closePosition)
			protected.POST("/positions/close-all", s.closeAllPositions)
			protected.POST("/positions/:id/add-margin", s.addMargin)
			protected.POST("/positions/:id/remove-margin", s.removeMargin)

			agentGroup := protected.Group("/agent")
			{
				agentGroup.GET("/config", s.getAgentConfig)
				agentGroup.PATCH("/config", s.updateAgentConfig)
				agentGroup.POST("/start", s.startAgent)
				agentGroup.POST("/pause", s.pauseAgent)
				agentGroup.GET("/events", s.getAgentEvents)
				agentGroup.GET("/positions", s.getAgentPositions)
				agentGroup.GET("/stats", s.getAgentStats)
				agentGroup.POST("/close-all", s.closeAgentPositions)
			}
		}
	}
}

func (s *Server) health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (s *Server) getMetrics(c *gin.Context) {
	c.JSON(http.StatusOK, s.Metrics.GetSnapshot())
}

func (s *Server) Start(addr string) error {
	return s.Router.Run(addr)
}
