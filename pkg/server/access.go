package server

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"golang.org/x/sync/errgroup"

	egv1a1 "github.com/routepilot/routepilot/pkg/apis/envoygateway/v1alpha1"
	"github.com/routepilot/routepilot/pkg/domain"
	"github.com/routepilot/routepilot/pkg/policy"
)

// AccessSummary is everything the access panel renders for one route.
type AccessSummary struct {
	Route     string `json:"route"`
	Namespace string `json:"namespace"`
	// Hostnames are the ones a user added to the route, TagHostnames the
	// ones generated from the cluster's tag template.
	Hostnames     []string             `json:"hostnames,omitempty"`
	TagHostnames  []string             `json:"tagHostnames,omitempty"`
	Reachable     bool                 `json:"reachable"`
	BasicAuth     *BasicAuthStatus     `json:"basicAuth,omitempty"`
	APIKeyAuth    *APIKeyAuthStatus    `json:"apiKeyAuth,omitempty"`
	Authorization *AuthorizationStatus `json:"authorization,omitempty"`
	Retry         *RetryStatus         `json:"retry,omitempty"`
}

// BasicAuthStatus lists the users that can authenticate, never their
// digests.
type BasicAuthStatus struct {
	SecretName string   `json:"secretName"`
	Users      []string `json:"users,omitempty"`
}

// APIKeyAuthStatus lists the client ids that hold a key, never the key
// material.
type APIKeyAuthStatus struct {
	SecretName string   `json:"secretName"`
	Header     string   `json:"header"`
	Clients    []string `json:"clients,omitempty"`
}

type AuthorizationStatus struct {
	Allow []string `json:"allow,omitempty"`
	Deny  []string `json:"deny,omitempty"`
}

type RetryStatus struct {
	Attempts    int32    `json:"attempts"`
	Triggers    []string `json:"triggers,omitempty"`
	StatusCodes []int32  `json:"statusCodes,omitempty"`
}

// getAccess resolves the route and everything attached to it in one call.
// The four read paths are independent, so they run concurrently. All of
// them are best effort: a failed read renders as absent, never as an error.
func (api *API) getAccess(c *gin.Context) {
	route := api.resolveRoute(c)
	if route == nil {
		return
	}
	ctx := c.Request.Context()
	namespace := route.Namespace

	var (
		basicAuth     *BasicAuthStatus
		apiKeyAuth    *APIKeyAuthStatus
		authorization *AuthorizationStatus
		retry         *RetryStatus
		tagHosts      []string
		plainHosts    []string
		reachable     bool
	)

	var g errgroup.Group
	g.Go(func() error {
		securityPolicy := api.locator.SecurityPolicy(ctx, namespace, route.Name)
		if securityPolicy == nil {
			return nil
		}
		if ba := securityPolicy.Spec.BasicAuth; ba != nil {
			basicAuth = &BasicAuthStatus{SecretName: ba.Users.Name}
			secret, err := api.engine.CredentialSecret(ctx, namespace, ba.Users.Name)
			if err != nil {
				api.logger.Debugf("basic auth credentials of %s.%s unreadable: %v", route.Name, namespace, err)
			} else {
				basicAuth.Users = policy.BasicAuthUsers(secret)
			}
		}
		if ak := securityPolicy.Spec.APIKeyAuth; ak != nil && len(ak.CredentialRefs) > 0 {
			ref := ak.CredentialRefs[0]
			apiKeyAuth = &APIKeyAuthStatus{SecretName: ref.Name, Header: apiKeyHeader(ak)}
			secret, err := api.engine.CredentialSecret(ctx, namespace, ref.Name)
			if err != nil {
				api.logger.Debugf("API key credentials of %s.%s unreadable: %v", route.Name, namespace, err)
			} else {
				apiKeyAuth.Clients = policy.APIKeyClients(secret)
			}
		}
		if allow, deny := policy.SplitAuthorization(securityPolicy.Spec.Authorization); len(allow) > 0 || len(deny) > 0 {
			authorization = &AuthorizationStatus{Allow: allow, Deny: deny}
		}
		return nil
	})
	g.Go(func() error {
		trafficPolicy := api.locator.BackendTrafficPolicy(ctx, namespace, route.Name)
		if trafficPolicy == nil || trafficPolicy.Spec.Retry == nil {
			return nil
		}
		retry = retryStatus(trafficPolicy.Spec.Retry)
		return nil
	})
	g.Go(func() error {
		cfg := domain.FetchConfig(ctx, api.kubeClient, api.logger)
		matcher, err := cfg.TagMatcher(route.Name, namespace)
		if err != nil {
			api.logger.Debugf("hostname templates of the cluster do not compile: %v", err)
			plainHosts = route.Spec.Hostnames
			return nil
		}
		tagHosts, plainHosts = matcher.Split(route.Spec.Hostnames)
		return nil
	})
	g.Go(func() error {
		if len(route.Spec.Hostnames) > 0 {
			reachable = api.prober.Reachable(ctx, route.Spec.Hostnames[0])
		}
		return nil
	})
	g.Wait()

	c.JSON(http.StatusOK, AccessSummary{
		Route:         route.Name,
		Namespace:     namespace,
		Hostnames:     plainHosts,
		TagHostnames:  tagHosts,
		Reachable:     reachable,
		BasicAuth:     basicAuth,
		APIKeyAuth:    apiKeyAuth,
		Authorization: authorization,
		Retry:         retry,
	})
}

// apiKeyHeader names the header clients present their key in, falling back
// to the default when the policy does not spell one out.
func apiKeyHeader(auth *egv1a1.APIKeyAuth) string {
	for _, extract := range auth.ExtractFrom {
		if len(extract.Headers) > 0 {
			return extract.Headers[0]
		}
	}
	return policy.DefaultAPIKeyHeader
}

func retryStatus(retry *egv1a1.Retry) *RetryStatus {
	status := &RetryStatus{}
	if retry.NumRetries != nil {
		status.Attempts = *retry.NumRetries
	}
	if retry.RetryOn != nil {
		for _, trigger := range retry.RetryOn.Triggers {
			status.Triggers = append(status.Triggers, string(trigger))
		}
		status.StatusCodes = retry.RetryOn.HTTPStatusCodes
	}
	return status
}
