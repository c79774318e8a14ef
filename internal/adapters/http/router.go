package http

import (
	"context"
	"net/http"
	"os"
	"path/filepath"

	"github.com/dkeye/Rendezvous/internal/adapters/signal"
	"github.com/dkeye/Rendezvous/internal/app/turn"
	"github.com/dkeye/Rendezvous/internal/config"
	"github.com/dkeye/Rendezvous/internal/domain"
	"github.com/gin-gonic/gin"
	"github.com/gorilla/handlers"
	"github.com/rs/zerolog/log"
)

// TokenIssuer mints credentials for the REST endpoint.
type TokenIssuer interface {
	Issue() turn.Credential
}

type Stats struct {
	Connections int               `json:"connections"`
	Users       int               `json:"users"`
	Rooms       []domain.RoomInfo `json:"rooms"`
}

func SetupRouter(ctx context.Context, cfg *config.Config, ctl *signal.SignalWSController, issuer TokenIssuer) *gin.Engine {
	if cfg.Mode == "release" {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.New()
	if cfg.Mode == "debug" {
		r.Use(gin.Logger())
	}
	r.Use(gin.Recovery())

	r.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	api := r.Group("/api")

	api.GET("/ws", func(c *gin.Context) {
		log.Debug().Str("module", "adapters.http").Str("remote", c.Request.RemoteAddr).Msg("ws endpoint hit")
		ctl.HandleSignal(ctx, c)
	})

	api.GET("/rooms", func(c *gin.Context) {
		rooms := ctl.Orch.Registry.List()
		if rooms == nil {
			rooms = []domain.RoomInfo{}
		}
		c.JSON(http.StatusOK, Stats{
			Connections: ctl.Hub.Count(),
			Users:       ctl.Orch.Registry.UserCount(),
			Rooms:       rooms,
		})
	})

	api.GET("/turn", func(c *gin.Context) {
		c.Header("Cache-Control", "no-store")
		c.JSON(http.StatusOK, issuer.Issue())
	})

	if fi, err := os.Stat(cfg.StaticPath); err == nil && fi.IsDir() {
		r.Static("/static", cfg.StaticPath)
		r.GET("/", func(c *gin.Context) {
			c.File(filepath.Join(cfg.StaticPath, "index.html"))
		})
		log.Info().Str("module", "adapters.http").Str("static", cfg.StaticPath).Msg("serving static client")
	}

	log.Info().Str("module", "adapters.http").Msg("router setup")
	return r
}

// WithCORS wraps h so browsers on the allowed origins may call the API.
func WithCORS(h http.Handler, origins []string) http.Handler {
	return handlers.CORS(
		handlers.MaxAge(3600),
		handlers.AllowedOrigins(origins),
		handlers.AllowedMethods([]string{http.MethodGet, http.MethodOptions}),
		handlers.AllowedHeaders([]string{"Origin", "Content-Type", "Accept"}),
	)(h)
}
