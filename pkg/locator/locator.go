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

package locator

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	egv1a1 "github.com/routepilot/routepilot/pkg/apis/envoygateway/v1alpha1"
	"github.com/routepilot/routepilot/pkg/apis/gatewayapi"
	gatewayapiv1 "github.com/routepilot/routepilot/pkg/apis/gatewayapi/v1"
	"github.com/routepilot/routepilot/pkg/resources"
)

// Locator resolves the identities shown in the console, a namespace plus a
// hostname or object name, to the cluster objects that own them. Lookups
// are best effort: transport and decode failures resolve to nil so callers
// see "nothing to manage yet" instead of an error, at the price of
// occasionally mistaking an outage for absence.
type Locator struct {
	resources *resources.Client
	logger    *zap.SugaredLogger
}

func New(resources *resources.Client, logger *zap.SugaredLogger) *Locator {
	return &Locator{
		resources: resources,
		logger:    logger,
	}
}

// Route finds the HTTPRoute a console identity refers to. The identity is
// tried as an object name first since that is the cheap path, then matched
// against the hostnames served by each route in the namespace, then against
// route names as a last resort.
func (l *Locator) Route(ctx context.Context, namespace, hostOrName string) *gatewayapiv1.HTTPRoute {
	var route gatewayapiv1.HTTPRoute
	found, err := l.resources.Get(ctx, gatewayapiv1.HTTPRoutes(), namespace, hostOrName, &route)
	if err == nil && found {
		return &route
	}
	if err != nil {
		l.logger.Debugf("httproute %s.%s direct lookup failed: %v", hostOrName, namespace, err)
	}

	var list gatewayapiv1.HTTPRouteList
	if err := l.resources.List(ctx, gatewayapiv1.HTTPRoutes(), namespace, "", &list); err != nil {
		l.logger.Debugf("httproute scan in namespace %s failed: %v", namespace, err)
		return nil
	}
	for i := range list.Items {
		if list.Items[i].HasHostname(hostOrName) {
			return &list.Items[i]
		}
	}
	for i := range list.Items {
		if list.Items[i].Name == hostOrName {
			return &list.Items[i]
		}
	}
	return nil
}

// SecurityPolicy finds the policy that targets the named route, or nil when
// none does. Policies are correlated by target reference, not by name, so
// hand made policies are picked up as long as they point at the route.
func (l *Locator) SecurityPolicy(ctx context.Context, namespace, routeName string) *egv1a1.SecurityPolicy {
	var list egv1a1.SecurityPolicyList
	if err := l.resources.List(ctx, egv1a1.SecurityPolicies(), namespace, "", &list); err != nil {
		l.logger.Debugf("securitypolicy scan in namespace %s failed: %v", namespace, err)
		return nil
	}

	var matches []*egv1a1.SecurityPolicy
	for i := range list.Items {
		if egv1a1.TargetsRoute(list.Items[i].Spec.TargetRefs, gatewayapi.GroupName, gatewayapiv1.HTTPRouteKind, routeName) {
			matches = append(matches, &list.Items[i])
		}
	}
	if len(matches) == 0 {
		return nil
	}
	if len(matches) > 1 {
		l.logger.With("route", fmt.Sprintf("%s.%s", routeName, namespace)).
			Warnf("%d security policies target the same route, managing %s and ignoring the rest",
				len(matches), matches[0].Name)
	}
	return matches[0]
}

// BackendTrafficPolicy finds the traffic policy that targets the named
// route, or nil when none does.
func (l *Locator) BackendTrafficPolicy(ctx context.Context, namespace, routeName string) *egv1a1.BackendTrafficPolicy {
	var list egv1a1.BackendTrafficPolicyList
	if err := l.resources.List(ctx, egv1a1.BackendTrafficPolicies(), namespace, "", &list); err != nil {
		l.logger.Debugf("backendtrafficpolicy scan in namespace %s failed: %v", namespace, err)
		return nil
	}

	var matches []*egv1a1.BackendTrafficPolicy
	for i := range list.Items {
		if egv1a1.TargetsRoute(list.Items[i].Spec.TargetRefs, gatewayapi.GroupName, gatewayapiv1.HTTPRouteKind, routeName) {
			matches = append(matches, &list.Items[i])
		}
	}
	if len(matches) == 0 {
		return nil
	}
	if len(matches) > 1 {
		l.logger.With("route", fmt.Sprintf("%s.%s", routeName, namespace)).
			Warnf("%d backend traffic policies target the same route, managing %s and ignoring the rest",
				len(matches), matches[0].Name)
	}
	return matches[0]
}
