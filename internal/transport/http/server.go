package http

import (
	stdhttp "net/http"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"github.com/mvolkov/roomcast-server/internal/broker"
	"github.com/mvolkov/roomcast-server/internal/config"
	"github.com/mvolkov/roomcast-server/internal/core"
	"github.com/mvolkov/roomcast-server/internal/metrics"
	"github.com/mvolkov/roomcast-server/internal/s3"
	"github.com/mvolkov/roomcast-server/internal/store"
)

// ErrorResponse is the JSON body returned for failed requests.
type ErrorResponse struct {
	Error string `json:"error"`
}

// NewServer builds the HTTP server: chat WebSocket endpoint, attachment
// routes, liveness and metrics. The storage client and producer may be nil
// when the corresponding collaborators are not configured.
func NewServer(reg *core.Registry, st store.MessageStore, storage *s3.Client, producer *broker.Producer, cfg config.Config, logger *zerolog.Logger) *stdhttp.Server {
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery(), LoggerMiddleware(logger))

	router.GET("/ping", func(c *gin.Context) {
		c.JSON(stdhttp.StatusOK, gin.H{"ping": "pong!"})
	})
	router.GET("/metrics", gin.WrapH(metrics.Handler()))

	ws := NewWSHandler(reg, st, cfg.Room, logger)
	router.GET("/ws/:room", ws.Handle)

	// Build interface values only from live clients so the handler's nil
	// checks keep working.
	var objects ObjectStorage
	if storage != nil {
		objects = storage
	}
	var events EventPublisher
	if producer != nil {
		events = producer
	}
	images := NewImageHandler(objects, events, logger)
	router.POST("/images/upload/:user_id", images.Upload)
	router.GET("/images/:filename", images.Download)
	router.DELETE("/images/:filename", images.Delete)

	router.NoRoute(func(c *gin.Context) {
		c.JSON(stdhttp.StatusNotFound, ErrorResponse{Error: "not found"})
	})

	return &stdhttp.Server{
		Addr:              cfg.Addr,
		Handler:           router,
		ReadHeaderTimeout: cfg.ReadHeaderTimeout,
	}
}
