package server

import (
	"fmt"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/hashicorp/go-multierror"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"

	egv1a1 "github.com/routepilot/routepilot/pkg/apis/envoygateway/v1alpha1"
	"github.com/routepilot/routepilot/pkg/policy"
)

// BasicAuthRequest carries the credential pair of the basic auth panel.
// The password is digested on arrival and never echoed back.
type BasicAuthRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

func (api *API) putBasicAuth(c *gin.Context) {
	route := api.resolveRoute(c)
	if route == nil {
		return
	}
	var req BasicAuthRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		api.respondBadRequest(c, fmt.Sprintf("invalid request body: %v", err))
		return
	}
	if req.Username == "" || req.Password == "" {
		api.respondBadRequest(c, "username and password are required")
		return
	}

	ctx := c.Request.Context()
	namespace := route.Namespace
	secretName := policy.BasicAuthSecretName(route.Name)
	if err := api.engine.UpsertBasicAuthSecret(ctx, namespace, secretName, req.Username, req.Password, route.Name); err != nil {
		api.respondError(c, err)
		return
	}
	update := policy.SecurityPolicyUpdate{
		BasicAuth: &egv1a1.BasicAuth{Users: egv1a1.SecretObjectReference{Name: secretName}},
	}
	if _, err := api.engine.UpsertSecurityPolicy(ctx, namespace, route.Name, update); err != nil {
		api.respondError(c, err)
		return
	}
	api.respondOK(c, fmt.Sprintf("basic authentication enabled for user %s", req.Username))
}

func (api *API) deleteBasicAuth(c *gin.Context) {
	route := api.resolveRoute(c)
	if route == nil {
		return
	}
	ctx := c.Request.Context()
	namespace := route.Namespace
	update := policy.SecurityPolicyUpdate{ClearBasicAuth: true}
	if _, err := api.engine.UpsertSecurityPolicy(ctx, namespace, route.Name, update); err != nil {
		api.respondError(c, err)
		return
	}
	if err := api.engine.DeleteCredentialSecret(ctx, namespace, policy.BasicAuthSecretName(route.Name)); err != nil {
		api.respondError(c, err)
		return
	}
	api.respondOK(c, "basic authentication disabled")
}

// APIKeysRequest replaces the full set of API key clients of a route.
type APIKeysRequest struct {
	// Clients maps client ids to their key material. The stored set becomes
	// exactly this map.
	Clients map[string]string `json:"clients"`
	// Header overrides the request header keys are presented in.
	Header string `json:"header,omitempty"`
}

func (api *API) putAPIKeys(c *gin.Context) {
	route := api.resolveRoute(c)
	if route == nil {
		return
	}
	var req APIKeysRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		api.respondBadRequest(c, fmt.Sprintf("invalid request body: %v", err))
		return
	}
	if err := policy.ValidateClients(req.Clients); err != nil {
		api.respondError(c, err)
		return
	}

	ctx := c.Request.Context()
	namespace := route.Namespace
	secretName := policy.APIKeySecretName(route.Name)
	if err := api.engine.UpsertAPIKeySecret(ctx, namespace, secretName, req.Clients, route.Name); err != nil {
		api.respondError(c, err)
		return
	}
	header := req.Header
	if header == "" {
		header = policy.DefaultAPIKeyHeader
	}
	update := policy.SecurityPolicyUpdate{
		APIKeyAuth: &egv1a1.APIKeyAuth{
			CredentialRefs: []egv1a1.SecretObjectReference{{Name: secretName}},
			ExtractFrom:    []egv1a1.ExtractFrom{{Headers: []string{header}}},
		},
	}
	if _, err := api.engine.UpsertSecurityPolicy(ctx, namespace, route.Name, update); err != nil {
		api.respondError(c, err)
		return
	}
	api.respondOK(c, fmt.Sprintf("API key authentication enabled for %d clients", len(req.Clients)))
}

func (api *API) deleteAPIKeys(c *gin.Context) {
	route := api.resolveRoute(c)
	if route == nil {
		return
	}
	ctx := c.Request.Context()
	namespace := route.Namespace
	update := policy.SecurityPolicyUpdate{ClearAPIKeyAuth: true}
	if _, err := api.engine.UpsertSecurityPolicy(ctx, namespace, route.Name, update); err != nil {
		api.respondError(c, err)
		return
	}
	if err := api.engine.DeleteCredentialSecret(ctx, namespace, policy.APIKeySecretName(route.Name)); err != nil {
		api.respondError(c, err)
		return
	}
	api.respondOK(c, "API key authentication disabled")
}

// AuthorizationRequest replaces the allow and deny address lists of a
// route. Both lists empty removes the filtering altogether.
type AuthorizationRequest struct {
	Allow []string `json:"allow"`
	Deny  []string `json:"deny"`
}

func (api *API) putAuthorization(c *gin.Context) {
	route := api.resolveRoute(c)
	if route == nil {
		return
	}
	var req AuthorizationRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		api.respondBadRequest(c, fmt.Sprintf("invalid request body: %v", err))
		return
	}
	var result *multierror.Error
	if err := policy.ValidateCIDRs(req.Allow); err != nil {
		result = multierror.Append(result, err)
	}
	if err := policy.ValidateCIDRs(req.Deny); err != nil {
		result = multierror.Append(result, err)
	}
	if err := result.ErrorOrNil(); err != nil {
		api.respondError(c, err)
		return
	}

	authorization, removed := policy.BuildAuthorization(req.Allow, req.Deny)
	update := policy.SecurityPolicyUpdate{
		Authorization:      authorization,
		ClearAuthorization: removed,
	}
	if _, err := api.engine.UpsertSecurityPolicy(c.Request.Context(), route.Namespace, route.Name, update); err != nil {
		api.respondError(c, err)
		return
	}
	if removed {
		api.respondOK(c, "IP filtering disabled")
	} else {
		api.respondOK(c, "IP filtering updated")
	}
}

// RetryRequest configures how the gateway retries failed requests to the
// route's backends.
type RetryRequest struct {
	Attempts        int32    `json:"attempts"`
	Triggers        []string `json:"triggers,omitempty"`
	StatusCodes     []int32  `json:"statusCodes,omitempty"`
	PerRetryTimeout string   `json:"perRetryTimeout,omitempty"`
}

var retryTriggers = map[string]egv1a1.TriggerEnum{
	"5xx":                    egv1a1.Error5XX,
	"gateway-error":          egv1a1.GatewayError,
	"reset":                  egv1a1.Reset,
	"connect-failure":        egv1a1.ConnectFailure,
	"retriable-4xx":          egv1a1.Retriable4XX,
	"retriable-status-codes": egv1a1.RetriableStatuses,
}

func (api *API) putRetry(c *gin.Context) {
	route := api.resolveRoute(c)
	if route == nil {
		return
	}
	var req RetryRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		api.respondBadRequest(c, fmt.Sprintf("invalid request body: %v", err))
		return
	}

	var result *multierror.Error
	if req.Attempts < 1 {
		result = multierror.Append(result, fmt.Errorf("retry attempts must be at least 1"))
	}
	triggers := make([]egv1a1.TriggerEnum, 0, len(req.Triggers))
	for _, name := range req.Triggers {
		trigger, ok := retryTriggers[name]
		if !ok {
			result = multierror.Append(result, fmt.Errorf("unknown retry trigger %q", name))
			continue
		}
		triggers = append(triggers, trigger)
	}
	for _, code := range req.StatusCodes {
		if code < 400 || code > 599 {
			result = multierror.Append(result, fmt.Errorf("retriable status code %d out of range", code))
		}
	}
	var timeout *metav1.Duration
	if req.PerRetryTimeout != "" {
		d, err := time.ParseDuration(req.PerRetryTimeout)
		if err != nil {
			result = multierror.Append(result, fmt.Errorf("invalid per retry timeout %q", req.PerRetryTimeout))
		} else {
			timeout = &metav1.Duration{Duration: d}
		}
	}
	if err := result.ErrorOrNil(); err != nil {
		api.respondError(c, err)
		return
	}

	retry := &egv1a1.Retry{NumRetries: &req.Attempts}
	if len(triggers) > 0 || len(req.StatusCodes) > 0 {
		retry.RetryOn = &egv1a1.RetryOn{Triggers: triggers, HTTPStatusCodes: req.StatusCodes}
	}
	if timeout != nil {
		retry.PerRetry = &egv1a1.PerRetryPolicy{Timeout: timeout}
	}
	update := policy.BackendTrafficPolicyUpdate{Retry: retry}
	if _, err := api.engine.UpsertBackendTrafficPolicy(c.Request.Context(), route.Namespace, route.Name, update); err != nil {
		api.respondError(c, err)
		return
	}
	api.respondOK(c, fmt.Sprintf("retries set to %d attempts", req.Attempts))
}

func (api *API) deleteRetry(c *gin.Context) {
	route := api.resolveRoute(c)
	if route == nil {
		return
	}
	update := policy.BackendTrafficPolicyUpdate{ClearRetry: true}
	if _, err := api.engine.UpsertBackendTrafficPolicy(c.Request.Context(), route.Namespace, route.Name, update); err != nil {
		api.respondError(c, err)
		return
	}
	api.respondOK(c, "retries disabled")
}
