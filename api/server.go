package api

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"
	"gorm.io/gorm"

	"github.com/orders-platform/order-processing/commandpipeline"
	"github.com/orders-platform/order-processing/config"
	"github.com/orders-platform/order-processing/projections"
	"github.com/orders-platform/order-processing/readcache"
)

// Server is the HTTP server shared by the command and query adapters:
// only the fields the running service needs are populated, and the
// matching setupXRoutes call registers only the routes its handlers can
// serve.
type Server struct {
	cfg        config.Config
	router     *gin.Engine
	httpServer *http.Server
	db         *gorm.DB

	pipeline  *commandpipeline.Pipeline
	queryRepo *projections.OrderViewRepository
	cache     *readcache.Cache
}

// NewCommandServer creates the HTTP server for the command adapter:
// POST /orders and PUT /orders/{id}/confirm|cancel|ship|deliver.
func NewCommandServer(cfg config.Config, db *gorm.DB, pipeline *commandpipeline.Pipeline) *Server {
	server := &Server{cfg: cfg, router: gin.Default(), db: db, pipeline: pipeline}
	server.setupMiddleware()
	server.setupHealthRoutes()
	server.setupCommandRoutes()
	return server
}

// NewQueryServer creates the HTTP server for the query adapter:
// GET /orders/..., /customers/{id}/orders, /orders/status/{status}.
func NewQueryServer(cfg config.Config, db *gorm.DB, queryRepo *projections.OrderViewRepository, cache *readcache.Cache) *Server {
	server := &Server{cfg: cfg, router: gin.Default(), db: db, queryRepo: queryRepo, cache: cache}
	server.setupMiddleware()
	server.setupHealthRoutes()
	server.setupQueryRoutes()
	return server
}

func (s *Server) setupMiddleware() {
	s.router.Use(RequestIDMiddleware())
	s.router.Use(CORSMiddleware())
	s.router.Use(gin.Recovery())
	s.router.Use(LoggingMiddleware())
}

func (s *Server) setupHealthRoutes() {
	s.router.GET("/ping", func(c *gin.Context) {
		c.String(http.StatusOK, "pong")
	})
	s.router.GET("/healthz", s.healthz)
}

func (s *Server) setupCommandRoutes() {
	orders := s.router.Group("/orders")
	{
		orders.POST("", s.createOrder)
		orders.PUT("/:id/confirm", s.confirmOrder)
		orders.PUT("/:id/cancel", s.cancelOrder)
		orders.PUT("/:id/ship", s.shipOrder)
		orders.PUT("/:id/deliver", s.deliverOrder)
	}
}

func (s *Server) setupQueryRoutes() {
	s.router.GET("/orders/number/:order_number", s.getOrderByNumber)
	s.router.GET("/orders/status/:status", s.listOrdersByStatus)
	s.router.GET("/orders/:id", s.getOrder)
	s.router.GET("/customers/:id/orders", s.listCustomerOrders)
}

// Start starts the HTTP server, blocking until it stops or fails.
func (s *Server) Start() error {
	s.httpServer = &http.Server{
		Addr:    s.cfg.HTTPServerAddress,
		Handler: s.router,
	}

	log.Info().Msgf("HTTP server starting on %s", s.cfg.HTTPServerAddress)
	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

// Shutdown gracefully shuts down the HTTP server.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}
