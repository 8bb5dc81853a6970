// Package api provides a read-only REST API exposing the state of the bridge
package api

import (
	"context"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/fako1024/scalebridge/pkg/scale"
	"github.com/fako1024/scalebridge/pkg/sink"
)

// API denotes a REST API for the bridge
type API struct {
	monitor  *Monitor
	gatherer prometheus.Gatherer
	router   *fiber.App

	logger scale.Logger
}

// New instantiates a new API, executing functional options, if any
func New(monitor *Monitor, options ...func(*API)) *API {

	api := &API{
		monitor: monitor,
		router: fiber.New(fiber.Config{
			DisableStartupMessage: true,
		}),
		logger: &scale.NullLogger{},
	}

	for _, option := range options {
		option(api)
	}

	// Setup routes
	api.router.Get("/status", api.handleStatus())
	api.router.Get("/weight", api.handleWeight())
	if api.gatherer != nil {
		api.router.Get("/metrics", adaptor.HTTPHandler(promhttp.HandlerFor(api.gatherer, promhttp.HandlerOpts{})))
	}

	return api
}

// WithGatherer exposes the metrics of the provided gatherer
func WithGatherer(gatherer prometheus.Gatherer) func(*API) {
	return func(api *API) {
		api.gatherer = gatherer
	}
}

// WithLogger sets a logger
func WithLogger(logger scale.Logger) func(*API) {
	return func(api *API) {
		api.logger = logger
	}
}

// Start starts to listen on the provided endpoint in the background. The
// returned channel receives the error terminating the server, if any
func (api *API) Start(endpoint string) <-chan error {
	errChan := make(chan error, 1)

	go func() {
		api.logger.Infof("serving API on %s", endpoint)
		errChan <- api.router.Listen(endpoint)
		close(errChan)
	}()

	return errChan
}

// Shutdown gracefully stops the server
func (api *API) Shutdown(ctx context.Context) error {
	return api.router.ShutdownWithContext(ctx)
}

////////////////////////////////////////////////////////////////////////////////

func (api *API) handleStatus() func(c *fiber.Ctx) error {
	return func(c *fiber.Ctx) error {
		return c.JSON(api.monitor.Status())
	}
}

func (api *API) handleWeight() func(c *fiber.Ctx) error {
	return func(c *fiber.Ctx) error {
		event, ok := api.monitor.LastEvent()
		if !ok {
			return fiber.NewError(fiber.StatusNotFound, "no stable weight recorded yet")
		}
		return c.JSON(sink.NewPayload(event))
	}
}
