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

package v1alpha1

import (
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
)

// SecurityPolicy mirrors the fields of the Envoy Gateway SecurityPolicy
// that the console manages. Each enforcement block on the spec is optional
// and independent of the others.
type SecurityPolicy struct {
	metav1.TypeMeta   `json:",inline"`
	metav1.ObjectMeta `json:"metadata,omitempty"`

	Spec SecurityPolicySpec `json:"spec"`
}

type SecurityPolicySpec struct {
	TargetRefs    []PolicyTargetReference `json:"targetRefs,omitempty"`
	BasicAuth     *BasicAuth              `json:"basicAuth,omitempty"`
	APIKeyAuth    *APIKeyAuth             `json:"apiKeyAuth,omitempty"`
	Authorization *Authorization          `json:"authorization,omitempty"`
}

// PolicyTargetReference identifies the route a policy applies to. Policies
// only bind to objects in their own namespace.
type PolicyTargetReference struct {
	Group string `json:"group"`
	Kind  string `json:"kind"`
	Name  string `json:"name"`
}

// BasicAuth enables HTTP basic authentication backed by an htpasswd
// formatted Secret.
type BasicAuth struct {
	Users SecretObjectReference `json:"users"`
}

// APIKeyAuth enables API key authentication. The referenced Secrets map
// client ids to key material.
type APIKeyAuth struct {
	CredentialRefs []SecretObjectReference `json:"credentialRefs"`
	ExtractFrom    []ExtractFrom           `json:"extractFrom,omitempty"`
}

// ExtractFrom tells the gateway where to look for the presented key.
type ExtractFrom struct {
	Headers []string `json:"headers,omitempty"`
	Params  []string `json:"params,omitempty"`
	Cookies []string `json:"cookies,omitempty"`
}

type SecretObjectReference struct {
	Name      string  `json:"name"`
	Namespace *string `json:"namespace,omitempty"`
}

// Authorization restricts access by client address. Rules are evaluated in
// order and the first match wins.
type Authorization struct {
	Rules         []AuthorizationRule `json:"rules,omitempty"`
	DefaultAction *RuleAction         `json:"defaultAction,omitempty"`
}

type AuthorizationRule struct {
	Name      string     `json:"name,omitempty"`
	Action    RuleAction `json:"action"`
	Principal Principal  `json:"principal"`
}

type RuleAction string

const (
	RuleActionAllow RuleAction = "Allow"
	RuleActionDeny  RuleAction = "Deny"
)

type Principal struct {
	ClientCIDRs []string `json:"clientCIDRs,omitempty"`
}

type SecurityPolicyList struct {
	metav1.TypeMeta `json:",inline"`
	metav1.ListMeta `json:"metadata"`

	Items []SecurityPolicy `json:"items"`
}

// BackendTrafficPolicy mirrors the fields of the Envoy Gateway
// BackendTrafficPolicy that the console manages.
type BackendTrafficPolicy struct {
	metav1.TypeMeta   `json:",inline"`
	metav1.ObjectMeta `json:"metadata,omitempty"`

	Spec BackendTrafficPolicySpec `json:"spec"`
}

type BackendTrafficPolicySpec struct {
	TargetRefs []PolicyTargetReference `json:"targetRefs,omitempty"`
	Retry      *Retry                  `json:"retry,omitempty"`
}

// Retry configures how the gateway retries failed requests to a backend.
type Retry struct {
	NumRetries *int32          `json:"numRetries,omitempty"`
	RetryOn    *RetryOn        `json:"retryOn,omitempty"`
	PerRetry   *PerRetryPolicy `json:"perRetry,omitempty"`
}

type RetryOn struct {
	Triggers        []TriggerEnum `json:"triggers,omitempty"`
	HTTPStatusCodes []int32       `json:"httpStatusCodes,omitempty"`
}

type TriggerEnum string

const (
	Error5XX          TriggerEnum = "5xx"
	GatewayError      TriggerEnum = "gateway-error"
	Reset             TriggerEnum = "reset"
	ConnectFailure    TriggerEnum = "connect-failure"
	Retriable4XX      TriggerEnum = "retriable-4xx"
	RetriableStatuses TriggerEnum = "retriable-status-codes"
)

type PerRetryPolicy struct {
	Timeout *metav1.Duration `json:"timeout,omitempty"`
	BackOff *BackOffPolicy   `json:"backOff,omitempty"`
}

type BackOffPolicy struct {
	BaseInterval *metav1.Duration `json:"baseInterval,omitempty"`
	MaxInterval  *metav1.Duration `json:"maxInterval,omitempty"`
}

type BackendTrafficPolicyList struct {
	metav1.TypeMeta `json:",inline"`
	metav1.ListMeta `json:"metadata"`

	Items []BackendTrafficPolicy `json:"items"`
}

// TargetsRoute returns true if any of the policy's target references points
// at the named route of the given group and kind.
func TargetsRoute(refs []PolicyTargetReference, group, kind, name string) bool {
	for _, ref := range refs {
		if ref.Group == group && ref.Kind == kind && ref.Name == name {
			return true
		}
	}
	return false
}
