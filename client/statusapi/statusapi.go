// Package statusapi serves the monitored servers' descriptions over HTTP.
package statusapi

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	slogecho "github.com/samber/slog-echo"
	"go.opentelemetry.io/contrib/instrumentation/github.com/labstack/echo/otelecho"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"go.ntppool.org/common/version"

	"go.ntppool.org/srvmon/client/description"
)

// Source is what the API reports on, normally a *serverset.Set.
type Source interface {
	Descriptions() []description.Description
	Eligible(threshold time.Duration) []description.Description
}

type Server struct {
	e         *echo.Echo
	src       Source
	log       *slog.Logger
	threshold time.Duration
}

type serversJSON struct {
	Servers   []description.Description `json:"servers"`
	Threshold string                    `json:"threshold,omitempty"`
}

// New sets up the routes. threshold is the default local threshold for
// /servers/eligible; promreg may be nil to skip /metrics.
func New(log *slog.Logger, src Source, promreg *prometheus.Registry, threshold time.Duration) *Server {
	srv := &Server{
		src:       src,
		log:       log,
		threshold: threshold,
	}

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	e.Use(otelecho.Middleware("srvmon"))
	e.Use(slogecho.NewWithConfig(log, slogecho.Config{
		DefaultLevel:     slog.LevelDebug,
		ClientErrorLevel: slog.LevelWarn,
		ServerErrorLevel: slog.LevelError,
	}))

	e.GET("/servers", srv.servers)
	e.GET("/servers/eligible", srv.eligible)
	e.GET("/version", func(c echo.Context) error {
		return c.JSON(http.StatusOK, version.VersionInfo())
	})

	if promreg != nil {
		metricsHandler := otelhttp.NewHandler(
			promhttp.HandlerFor(promreg, promhttp.HandlerOpts{
				ErrorLog:          slog.NewLogLogger(log.Handler(), slog.LevelWarn),
				EnableOpenMetrics: true,
			}),
			"metrics",
		)
		e.GET("/metrics", echo.WrapHandler(metricsHandler))
	}

	srv.e = e
	return srv
}

// Handler is the http.Handler for the API, for tests and embedding.
func (srv *Server) Handler() http.Handler {
	return srv.e
}

// Run listens on addr until ctx is done.
func (srv *Server) Run(ctx context.Context, addr string) error {
	errch := make(chan error, 1)
	go func() {
		srv.log.InfoContext(ctx, "status api listening", "addr", addr)
		errch <- srv.e.Start(addr)
	}()

	select {
	case err := <-errch:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.e.Shutdown(shutdownCtx); err != nil {
		return err
	}
	if err := <-errch; err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (srv *Server) servers(c echo.Context) error {
	return c.JSON(http.StatusOK, serversJSON{
		Servers: nonNil(srv.src.Descriptions()),
	})
}

func (srv *Server) eligible(c echo.Context) error {
	threshold := srv.threshold
	if s := c.QueryParam("threshold"); len(s) > 0 {
		d, err := time.ParseDuration(s)
		if err != nil || d < 0 {
			return echo.NewHTTPError(http.StatusBadRequest, "invalid threshold")
		}
		threshold = d
	}

	return c.JSON(http.StatusOK, serversJSON{
		Servers:   nonNil(srv.src.Eligible(threshold)),
		Threshold: threshold.String(),
	})
}

func nonNil(l []description.Description) []description.Description {
	if l == nil {
		return []description.Description{}
	}
	return l
}
