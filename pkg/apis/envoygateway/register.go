package envoygateway

// GroupName is the group name of the Envoy Gateway API.
const GroupName = "gateway.envoyproxy.io"
