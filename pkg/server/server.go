package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/hashicorp/go-multierror"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
	apierrors "k8s.io/apimachinery/pkg/api/errors"
	"k8s.io/client-go/kubernetes"

	gatewayapiv1 "github.com/routepilot/routepilot/pkg/apis/gatewayapi/v1"
	"github.com/routepilot/routepilot/pkg/locator"
	"github.com/routepilot/routepilot/pkg/metrics"
	"github.com/routepilot/routepilot/pkg/policy"
	"github.com/routepilot/routepilot/pkg/traffic"
)

// Prober reports whether a route hostname answers over HTTPS.
type Prober interface {
	Reachable(ctx context.Context, host string) bool
}

// API is the HTTP boundary the console panels call. Handlers translate
// requests into engine calls and results into the response envelope, keeping
// no state of their own between requests.
type API struct {
	locator    *locator.Locator
	engine     *policy.Engine
	reconciler *traffic.Reconciler
	prober     Prober
	kubeClient kubernetes.Interface
	recorder   metrics.Recorder
	logger     *zap.SugaredLogger
}

func NewAPI(locator *locator.Locator, engine *policy.Engine, reconciler *traffic.Reconciler,
	prober Prober, kubeClient kubernetes.Interface, recorder metrics.Recorder, logger *zap.SugaredLogger) *API {
	return &API{
		locator:    locator,
		engine:     engine,
		reconciler: reconciler,
		prober:     prober,
		kubeClient: kubeClient,
		recorder:   recorder,
		logger:     logger,
	}
}

// Routes builds the router with every endpoint registered.
func (api *API) Routes() *gin.Engine {
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery(), api.requestLogger())

	router.GET("/healthz", func(c *gin.Context) {
		c.String(http.StatusOK, "OK")
	})
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	v1 := router.Group("/api/v1/namespaces/:namespace")
	{
		routes := v1.Group("/routes/:route")
		routes.GET("/access", api.getAccess)
		routes.PUT("/basic-auth", api.putBasicAuth)
		routes.DELETE("/basic-auth", api.deleteBasicAuth)
		routes.PUT("/api-keys", api.putAPIKeys)
		routes.DELETE("/api-keys", api.deleteAPIKeys)
		routes.PUT("/authorization", api.putAuthorization)
		routes.PUT("/retry", api.putRetry)
		routes.DELETE("/retry", api.deleteRetry)

		services := v1.Group("/services/:name")
		services.GET("/traffic", api.getTraffic)
		services.PUT("/traffic", api.putTraffic)
		services.GET("/revisions", api.getRevisions)
	}
	return router
}

// Result is the envelope every mutation responds with.
type Result struct {
	Success bool   `json:"success"`
	Detail  string `json:"detail,omitempty"`
}

func (api *API) respondOK(c *gin.Context, detail string) {
	c.JSON(http.StatusOK, Result{Success: true, Detail: detail})
}

func (api *API) respondNotFound(c *gin.Context, detail string) {
	c.JSON(http.StatusNotFound, Result{Success: false, Detail: detail})
}

func (api *API) respondBadRequest(c *gin.Context, detail string) {
	c.JSON(http.StatusBadRequest, Result{Success: false, Detail: detail})
}

// respondError maps an engine error onto the envelope. Accumulated
// validation failures are the caller's to fix, a missing object is not
// found, everything else is an internal failure.
func (api *API) respondError(c *gin.Context, err error) {
	status := http.StatusInternalServerError
	var merr *multierror.Error
	switch {
	case errors.As(err, &merr):
		status = http.StatusBadRequest
	case apierrors.IsNotFound(err):
		status = http.StatusNotFound
	}
	c.JSON(status, Result{Success: false, Detail: err.Error()})
}

// resolveRoute locates the route named by the request path, answering not
// found itself when there is none. Callers bail out on a nil result.
func (api *API) resolveRoute(c *gin.Context) *gatewayapiv1.HTTPRoute {
	namespace := c.Param("namespace")
	hostOrName := c.Param("route")
	route := api.locator.Route(c.Request.Context(), namespace, hostOrName)
	if route == nil {
		api.respondNotFound(c, fmt.Sprintf("no route found for %q in namespace %s", hostOrName, namespace))
	}
	return route
}

// ListenAndServe starts the API server and waits for SIGTERM
func ListenAndServe(port string, timeout time.Duration, api *API, logger *zap.SugaredLogger, stopCh <-chan struct{}) {
	srv := &http.Server{
		Addr:         ":" + port,
		Handler:      api.Routes(),
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 1 * time.Minute,
		IdleTimeout:  15 * time.Second,
	}

	logger.Infof("Starting HTTP server on port %s", port)

	// run server in background
	go func() {
		if err := srv.ListenAndServe(); err != http.ErrServerClosed {
			logger.Fatalf("HTTP server crashed %v", err)
		}
	}()

	// wait for SIGTERM or SIGINT
	<-stopCh
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		logger.Errorf("HTTP server graceful shutdown failed %v", err)
	} else {
		logger.Info("HTTP server stopped")
	}
}
