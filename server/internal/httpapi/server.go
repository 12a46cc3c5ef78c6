package httpapi

import (
	"context"
	"crypto/tls"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/quic-go/quic-go/http3"

	"github.com/tdzsx789/xufei-agent/internal/config"
	"github.com/tdzsx789/xufei-agent/server/internal/images"
	"github.com/tdzsx789/xufei-agent/server/internal/store"
	"github.com/tdzsx789/xufei-agent/server/internal/ws"
)

// Options wires the dependencies of a Server.
type Options struct {
	Images *images.Store
	// Settings backs the saved-URL endpoints; nil disables persistence.
	Settings *store.Store
	Hub      *ws.Hub
	// Config is the launcher record as loaded at service start.
	Config config.Config
	// PublicURL prefixes image URLs in listings, e.g. http://localhost:5260.
	PublicURL string
	// OpenURL hands a URL to the operating system.
	OpenURL func(string) error
	Clock   clockwork.Clock
}

// Server is the Echo application.
type Server struct {
	echo      *echo.Echo
	images    *images.Store
	settings  *store.Store
	hub       *ws.Hub
	cfg       config.Config
	publicURL string
	openURL   func(string) error
	clock     clockwork.Clock
	startTime time.Time
}

// New constructs an Echo app with the upload, status and event routes.
func New(opts Options) *Server {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.HTTPErrorHandler = jsonErrorHandler

	e.Use(middleware.RequestLoggerWithConfig(middleware.RequestLoggerConfig{
		LogMethod:  true,
		LogURI:     true,
		LogStatus:  true,
		LogLatency: true,
		LogValuesFunc: func(_ echo.Context, v middleware.RequestLoggerValues) error {
			slog.Debug("http request", "method", v.Method, "uri", v.URI, "status", v.Status, "latency", v.Latency)
			return nil
		},
	}))
	e.Use(middleware.Recover())
	e.Use(middleware.CORS())
	e.Use(requestMetrics())

	clock := opts.Clock
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	hub := opts.Hub
	if hub == nil {
		hub = ws.NewHub()
	}
	openURL := opts.OpenURL
	if openURL == nil {
		openURL = func(string) error { return errors.New("opening URLs is not supported") }
	}

	s := &Server{
		echo:      e,
		images:    opts.Images,
		settings:  opts.Settings,
		hub:       hub,
		cfg:       opts.Config,
		publicURL: opts.PublicURL,
		openURL:   openURL,
		clock:     clock,
		startTime: clock.Now(),
	}
	s.registerRoutes()
	return s
}

// Echo exposes the underlying Echo instance for tests.
func (s *Server) Echo() *echo.Echo {
	return s.echo
}

func (s *Server) registerRoutes() {
	s.echo.GET("/status", s.handleStatus)
	s.echo.GET("/health", s.handleHealth)
	s.echo.GET("/config", s.handleConfig)
	s.echo.GET("/shouldShowInterface", s.handleShouldShowInterface)
	s.echo.GET("/folder-status", s.handleFolderStatus)
	s.echo.GET("/folder-info", s.handleFolderStatus) // Alias kept for older kiosk pages.
	s.echo.POST("/create-folder", s.handleCreateFolder)
	s.echo.POST("/storeImage", s.handleStoreImage)
	s.echo.GET("/storeImage", s.handleListStored)
	s.echo.GET("/getImages", s.handleGetImages)
	s.echo.Static("/images", s.images.Dir())
	s.echo.GET("/stored-url", s.handleStoredURL)
	s.echo.POST("/save-url", s.handleSaveURL)
	s.echo.POST("/open-url", s.handleOpenURL)
	s.echo.GET("/metrics", echo.WrapHandler(promhttp.Handler()))
	ws.NewHandler(s.hub, s.images.Dir()).Register(s.echo)
}

// Run starts Echo and blocks until ctx cancellation or startup failure.
func (s *Server) Run(ctx context.Context, addr string) error {
	errCh := make(chan error, 1)
	go func() {
		err := s.echo.Start(addr)
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
			return
		}
		errCh <- nil
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		shutCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = s.echo.Shutdown(shutCtx)
		return nil
	}
}

// RunHTTP3 serves the same routes over QUIC until ctx is canceled.
func (s *Server) RunHTTP3(ctx context.Context, addr string, tlsConfig *tls.Config) error {
	h3 := &http3.Server{
		Addr:      addr,
		TLSConfig: tlsConfig,
		Handler:   s.echo,
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- h3.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		_ = h3.Close()
		return nil
	}
}

type errorResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
}

type notFoundResponse struct {
	Error string `json:"error"`
	Path  string `json:"path"`
}

type internalErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

// jsonErrorHandler renders every error as JSON in the shapes kiosk pages
// already parse.
func jsonErrorHandler(err error, c echo.Context) {
	if c.Response().Committed {
		return
	}

	var (
		status = http.StatusInternalServerError
		body   any
	)
	var httpErr *echo.HTTPError
	switch {
	case errors.As(err, &httpErr) && httpErr.Code == http.StatusNotFound:
		status = http.StatusNotFound
		body = notFoundResponse{Error: "Requested resource not found", Path: c.Request().URL.Path}
	case errors.As(err, &httpErr) && httpErr.Code < http.StatusInternalServerError:
		status = httpErr.Code
		body = errorResponse{Success: false, Message: httpMessage(httpErr)}
	default:
		slog.Error("server error", "method", c.Request().Method, "path", c.Request().URL.Path, "err", err)
		msg := err.Error()
		if httpErr != nil {
			status = httpErr.Code
			msg = httpMessage(httpErr)
		}
		body = internalErrorResponse{Error: "Internal server error", Message: msg}
	}
	errorsTotal.WithLabelValues(http.StatusText(status)).Inc()

	if c.Request().Method == http.MethodHead {
		_ = c.NoContent(status)
		return
	}
	if err := c.JSON(status, body); err != nil {
		slog.Error("write error response", "err", err)
	}
}

func httpMessage(e *echo.HTTPError) string {
	if msg, ok := e.Message.(string); ok {
		return msg
	}
	return http.StatusText(e.Code)
}
