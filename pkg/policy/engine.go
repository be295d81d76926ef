/*
Copyright 2025 The RoutePilot authors

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package policy

import (
	"context"
	"fmt"

	"go.uber.org/zap"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/client-go/kubernetes"

	egv1a1 "github.com/routepilot/routepilot/pkg/apis/envoygateway/v1alpha1"
	"github.com/routepilot/routepilot/pkg/apis/gatewayapi"
	gatewayapiv1 "github.com/routepilot/routepilot/pkg/apis/gatewayapi/v1"
	"github.com/routepilot/routepilot/pkg/locator"
	"github.com/routepilot/routepilot/pkg/resources"
)

// Engine owns the write path for the policy objects attached to a route.
// All writes are upserts keyed by the route: the first enable action creates
// the policy, later actions patch the blocks they own and leave the rest of
// the object alone. The engine holds no state between calls.
type Engine struct {
	resources  *resources.Client
	kubeClient kubernetes.Interface
	locator    *locator.Locator
	logger     *zap.SugaredLogger
}

func NewEngine(resources *resources.Client, kubeClient kubernetes.Interface, locator *locator.Locator, logger *zap.SugaredLogger) *Engine {
	return &Engine{
		resources:  resources,
		kubeClient: kubeClient,
		locator:    locator,
		logger:     logger,
	}
}

// SecurityPolicyUpdate names the blocks of a SecurityPolicy to change. For
// each block, a nil value with the Clear flag unset leaves the stored value
// untouched, a non nil value replaces it, and the Clear flag removes it.
// Clear flags only matter when a policy already exists since a fresh policy
// has nothing to remove.
type SecurityPolicyUpdate struct {
	BasicAuth          *egv1a1.BasicAuth
	ClearBasicAuth     bool
	APIKeyAuth         *egv1a1.APIKeyAuth
	ClearAPIKeyAuth    bool
	Authorization      *egv1a1.Authorization
	ClearAuthorization bool
}

func (u SecurityPolicyUpdate) isClearOnly() bool {
	return u.BasicAuth == nil && u.APIKeyAuth == nil && u.Authorization == nil
}

func (u SecurityPolicyUpdate) specPatch() (map[string]interface{}, error) {
	spec := map[string]interface{}{}
	if u.ClearBasicAuth {
		spec["basicAuth"] = nil
	} else if u.BasicAuth != nil {
		block, err := resources.Encode(u.BasicAuth)
		if err != nil {
			return nil, fmt.Errorf("basicAuth encode error: %w", err)
		}
		spec["basicAuth"] = block
	}
	if u.ClearAPIKeyAuth {
		spec["apiKeyAuth"] = nil
	} else if u.APIKeyAuth != nil {
		block, err := resources.Encode(u.APIKeyAuth)
		if err != nil {
			return nil, fmt.Errorf("apiKeyAuth encode error: %w", err)
		}
		spec["apiKeyAuth"] = block
	}
	if u.ClearAuthorization {
		spec["authorization"] = nil
	} else if u.Authorization != nil {
		block, err := resources.Encode(u.Authorization)
		if err != nil {
			return nil, fmt.Errorf("authorization encode error: %w", err)
		}
		spec["authorization"] = block
	}
	return map[string]interface{}{"spec": spec}, nil
}

// UpsertSecurityPolicy applies update to the SecurityPolicy targeting the
// named route, creating the policy on first use. The stored object is
// fetched back after a patch so callers always see what the server kept,
// not what was sent.
func (e *Engine) UpsertSecurityPolicy(ctx context.Context, namespace, routeName string, update SecurityPolicyUpdate) (*egv1a1.SecurityPolicy, error) {
	existing := e.locator.SecurityPolicy(ctx, namespace, routeName)
	if existing == nil {
		if update.isClearOnly() {
			// Disabling something that was never enabled is a no-op.
			return nil, nil
		}
		policy := &egv1a1.SecurityPolicy{
			TypeMeta: metav1.TypeMeta{
				APIVersion: egv1a1.SchemeGroupVersion.String(),
				Kind:       egv1a1.SecurityPolicyKind,
			},
			ObjectMeta: metav1.ObjectMeta{
				Name:            routeName,
				Namespace:       namespace,
				OwnerReferences: e.routeOwnerRef(ctx, namespace, routeName),
			},
			Spec: egv1a1.SecurityPolicySpec{
				TargetRefs: []egv1a1.PolicyTargetReference{
					{Group: gatewayapi.GroupName, Kind: gatewayapiv1.HTTPRouteKind, Name: routeName},
				},
				BasicAuth:     update.BasicAuth,
				APIKeyAuth:    update.APIKeyAuth,
				Authorization: update.Authorization,
			},
		}
		var created egv1a1.SecurityPolicy
		if err := e.resources.Create(ctx, egv1a1.SecurityPolicies(), namespace, policy, &created); err != nil {
			return nil, err
		}
		e.logger.With("route", fmt.Sprintf("%s.%s", routeName, namespace)).
			Infof("SecurityPolicy %s.%s created", created.Name, created.Namespace)
		return &created, nil
	}

	body, err := update.specPatch()
	if err != nil {
		return nil, err
	}
	if err := e.resources.Patch(ctx, egv1a1.SecurityPolicies(), namespace, existing.Name, body, nil); err != nil {
		return nil, err
	}
	var patched egv1a1.SecurityPolicy
	found, err := e.resources.Get(ctx, egv1a1.SecurityPolicies(), namespace, existing.Name, &patched)
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, fmt.Errorf("securitypolicies %s.%s disappeared after patch", existing.Name, namespace)
	}
	e.logger.With("route", fmt.Sprintf("%s.%s", routeName, namespace)).
		Infof("SecurityPolicy %s.%s updated", patched.Name, patched.Namespace)
	return &patched, nil
}

// BackendTrafficPolicyUpdate names the blocks of a BackendTrafficPolicy to
// change, with the same tri-state semantics as SecurityPolicyUpdate.
type BackendTrafficPolicyUpdate struct {
	Retry      *egv1a1.Retry
	ClearRetry bool
}

func (u BackendTrafficPolicyUpdate) isClearOnly() bool {
	return u.Retry == nil
}

func (u BackendTrafficPolicyUpdate) specPatch() (map[string]interface{}, error) {
	spec := map[string]interface{}{}
	if u.ClearRetry {
		spec["retry"] = nil
	} else if u.Retry != nil {
		block, err := resources.Encode(u.Retry)
		if err != nil {
			return nil, fmt.Errorf("retry encode error: %w", err)
		}
		spec["retry"] = block
	}
	return map[string]interface{}{"spec": spec}, nil
}

// UpsertBackendTrafficPolicy applies update to the BackendTrafficPolicy
// targeting the named route, creating the policy on first use.
func (e *Engine) UpsertBackendTrafficPolicy(ctx context.Context, namespace, routeName string, update BackendTrafficPolicyUpdate) (*egv1a1.BackendTrafficPolicy, error) {
	existing := e.locator.BackendTrafficPolicy(ctx, namespace, routeName)
	if existing == nil {
		if update.isClearOnly() {
			return nil, nil
		}
		policy := &egv1a1.BackendTrafficPolicy{
			TypeMeta: metav1.TypeMeta{
				APIVersion: egv1a1.SchemeGroupVersion.String(),
				Kind:       egv1a1.BackendTrafficPolicyKind,
			},
			ObjectMeta: metav1.ObjectMeta{
				Name:            routeName,
				Namespace:       namespace,
				OwnerReferences: e.routeOwnerRef(ctx, namespace, routeName),
			},
			Spec: egv1a1.BackendTrafficPolicySpec{
				TargetRefs: []egv1a1.PolicyTargetReference{
					{Group: gatewayapi.GroupName, Kind: gatewayapiv1.HTTPRouteKind, Name: routeName},
				},
				Retry: update.Retry,
			},
		}
		var created egv1a1.BackendTrafficPolicy
		if err := e.resources.Create(ctx, egv1a1.BackendTrafficPolicies(), namespace, policy, &created); err != nil {
			return nil, err
		}
		e.logger.With("route", fmt.Sprintf("%s.%s", routeName, namespace)).
			Infof("BackendTrafficPolicy %s.%s created", created.Name, created.Namespace)
		return &created, nil
	}

	body, err := update.specPatch()
	if err != nil {
		return nil, err
	}
	if err := e.resources.Patch(ctx, egv1a1.BackendTrafficPolicies(), namespace, existing.Name, body, nil); err != nil {
		return nil, err
	}
	var patched egv1a1.BackendTrafficPolicy
	found, err := e.resources.Get(ctx, egv1a1.BackendTrafficPolicies(), namespace, existing.Name, &patched)
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, fmt.Errorf("backendtrafficpolicies %s.%s disappeared after patch", existing.Name, namespace)
	}
	e.logger.With("route", fmt.Sprintf("%s.%s", routeName, namespace)).
		Infof("BackendTrafficPolicy %s.%s updated", patched.Name, patched.Namespace)
	return &patched, nil
}

// routeOwnerRef builds an owner reference to the route so that policies and
// credential Secrets are garbage collected with it. A route that cannot be
// fetched yields no owner, the object then lives until removed by hand.
func (e *Engine) routeOwnerRef(ctx context.Context, namespace, routeName string) []metav1.OwnerReference {
	var route gatewayapiv1.HTTPRoute
	found, err := e.resources.Get(ctx, gatewayapiv1.HTTPRoutes(), namespace, routeName, &route)
	if err != nil || !found {
		e.logger.Debugf("httproute %s.%s owner lookup failed, creating without owner reference: %v",
			routeName, namespace, err)
		return nil
	}
	return []metav1.OwnerReference{
		{
			APIVersion: gatewayapiv1.SchemeGroupVersion.String(),
			Kind:       gatewayapiv1.HTTPRouteKind,
			Name:       route.Name,
			UID:        route.UID,
		},
	}
}
