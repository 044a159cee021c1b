package route

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"yarn-agent/api"
)

type Deps struct {
	Router   api.Router
	Sessions api.SessionReader
	// Events is nil when analytics are not stored in Redis.
	Events api.EventReader
	// Gatherer serves /metrics. Nil leaves the route off.
	Gatherer prometheus.Gatherer
	Debug    bool
	Logger   *zap.Logger
}

func Register(r *gin.Engine, d Deps) {
	if d.Logger == nil {
		d.Logger = zap.NewNop()
	}

	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	if d.Gatherer != nil {
		r.GET("/metrics", gin.WrapH(promhttp.HandlerFor(d.Gatherer, promhttp.HandlerOpts{})))
	}

	r.POST("/chat", api.ChatHandler(d.Router, d.Debug, d.Logger))

	sessions := r.Group("/sessions")
	{
		sessions.GET("/:id", api.SessionHandler(d.Sessions))
	}

	if d.Events != nil {
		r.GET("/events", api.EventsHandler(d.Events))
	}
}
