package gatewayapi

// GroupName is the group name of the Gateway API.
const GroupName = "gateway.networking.k8s.io"
