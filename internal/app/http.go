package app

import (
	"github.com/gin-gonic/gin"

	"github.com/yungbote/newsgraph/internal/http"
	httpH "github.com/yungbote/newsgraph/internal/http/handlers"
)

func (a *App) wireRouter() *gin.Engine {
	a.Log.Info("Wiring router...")
	if a.Cfg.Environment == "production" {
		gin.SetMode(gin.ReleaseMode)
	}
	h := a.Cfg.HTTP
	return http.NewRouter(http.RouterConfig{
		Log:             a.Log,
		Metrics:         a.Metrics,
		ServiceName:     a.Cfg.Otel.ServiceName,
		TracingEnabled:  a.Cfg.Otel.Enabled,
		CORSOrigins:     h.CORSOrigins,
		APIKey:          h.APIKey,
		MaxRequestBytes: h.MaxRequestBytes,

		NewsletterHandler: httpH.NewNewsletterHandler(a.Log, a.Newsletter, a.Graph),
		SystemHandler: httpH.NewSystemHandler(a.Log, httpH.ServiceInfo{
			Name:        "Newsletter Entity Graph API",
			Version:     a.Version,
			Environment: a.Cfg.Environment,
		}, &a.shuttingDown, a.Graph, a.probeTargets()),
	})
}

func (a *App) newServer() *http.Server {
	h := a.Cfg.HTTP
	return http.NewServer(a.Log, http.ServerConfig{
		Addr:              h.Addr,
		ReadHeaderTimeout: h.ReadHeaderTimeout.Duration,
		WriteTimeout:      h.RequestTimeout.Duration,
	}, a.Router)
}
