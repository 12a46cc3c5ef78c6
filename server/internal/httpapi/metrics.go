package httpapi

import (
	"strconv"

	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	requestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "xufei_http_requests_total",
			Help: "HTTP requests by route and status code",
		},
		[]string{"route", "code"},
	)

	errorsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "xufei_http_errors_total",
			Help: "HTTP error responses by status text",
		},
		[]string{"status"},
	)

	uploadsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "xufei_image_uploads_total",
			Help: "Image upload attempts by outcome",
		},
		[]string{"outcome"},
	)

	uploadBytes = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "xufei_image_upload_bytes_total",
			Help: "Bytes written by successful image uploads",
		},
	)
)

// Upload outcomes.
const (
	outcomeStored   = "stored"
	outcomeRejected = "rejected"
	outcomeFailed   = "failed"
	outcomeEmpty    = "empty"
)

func requestMetrics() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			err := next(c)
			route := c.Path()
			if route == "" {
				route = "unmatched"
			}
			code := c.Response().Status
			if he, ok := err.(*echo.HTTPError); ok {
				code = he.Code
			}
			requestsTotal.WithLabelValues(route, strconv.Itoa(code)).Inc()
			return err
		}
	}
}
