package v1

import (
	"k8s.io/apimachinery/pkg/runtime/schema"

	"github.com/routepilot/routepilot/pkg/apis/gatewayapi"
)

// SchemeGroupVersion is the GroupVersion for the Gateway API
var SchemeGroupVersion = schema.GroupVersion{Group: gatewayapi.GroupName, Version: "v1"}

// Resource gets a Gateway API GroupResource for a specified resource
func Resource(resource string) schema.GroupResource {
	return SchemeGroupVersion.WithResource(resource).GroupResource()
}

// HTTPRouteKind is the kind set on HTTPRoute objects and on policy target
// references that point at them.
const HTTPRouteKind = "HTTPRoute"

// HTTPRoutes returns the GroupVersionResource used to read and write
// HTTPRoute objects through the generic client.
func HTTPRoutes() schema.GroupVersionResource {
	return SchemeGroupVersion.WithResource("httproutes")
}
