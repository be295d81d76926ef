package v1alpha1

import (
	"k8s.io/apimachinery/pkg/runtime/schema"

	"github.com/routepilot/routepilot/pkg/apis/envoygateway"
)

// SchemeGroupVersion is the GroupVersion for the Envoy Gateway API
var SchemeGroupVersion = schema.GroupVersion{Group: envoygateway.GroupName, Version: "v1alpha1"}

// Resource gets an Envoy Gateway GroupResource for a specified resource
func Resource(resource string) schema.GroupResource {
	return SchemeGroupVersion.WithResource(resource).GroupResource()
}

const (
	SecurityPolicyKind       = "SecurityPolicy"
	BackendTrafficPolicyKind = "BackendTrafficPolicy"
)

// SecurityPolicies returns the GroupVersionResource used to read and write
// SecurityPolicy objects through the generic client.
func SecurityPolicies() schema.GroupVersionResource {
	return SchemeGroupVersion.WithResource("securitypolicies")
}

// BackendTrafficPolicies returns the GroupVersionResource used to read and
// write BackendTrafficPolicy objects through the generic client.
func BackendTrafficPolicies() schema.GroupVersionResource {
	return SchemeGroupVersion.WithResource("backendtrafficpolicies")
}
