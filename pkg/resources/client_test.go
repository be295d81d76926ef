package resources

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"k8s.io/apimachinery/pkg/apis/meta/v1/unstructured"
	"k8s.io/apimachinery/pkg/runtime"
	"k8s.io/apimachinery/pkg/runtime/schema"
	dynamicfake "k8s.io/client-go/dynamic/fake"

	egv1a1 "github.com/routepilot/routepilot/pkg/apis/envoygateway/v1alpha1"
	gatewayapiv1 "github.com/routepilot/routepilot/pkg/apis/gatewayapi/v1"
	"github.com/routepilot/routepilot/pkg/logger"
)

func newTestClient(t *testing.T, objects ...runtime.Object) *Client {
	t.Helper()
	scheme := runtime.NewScheme()
	listKinds := map[schema.GroupVersionResource]string{
		gatewayapiv1.HTTPRoutes():       "HTTPRouteList",
		egv1a1.SecurityPolicies():       "SecurityPolicyList",
		egv1a1.BackendTrafficPolicies(): "BackendTrafficPolicyList",
	}
	dc := dynamicfake.NewSimpleDynamicClientWithCustomListKinds(scheme, listKinds, objects...)
	log, err := logger.NewLogger("debug")
	require.NoError(t, err)
	return NewClient(dc, log)
}

func newTestRoute(name, namespace string, hostnames ...interface{}) *unstructured.Unstructured {
	return &unstructured.Unstructured{
		Object: map[string]interface{}{
			"apiVersion": "gateway.networking.k8s.io/v1",
			"kind":       "HTTPRoute",
			"metadata": map[string]interface{}{
				"name":      name,
				"namespace": namespace,
			},
			"spec": map[string]interface{}{
				"hostnames": hostnames,
				"rules": []interface{}{
					map[string]interface{}{
						"backendRefs": []interface{}{
							map[string]interface{}{
								"name": name,
								"port": int64(80),
							},
						},
					},
				},
			},
		},
	}
}

func TestClient_Get(t *testing.T) {
	client := newTestClient(t, newTestRoute("podinfo", "test", "podinfo.test.example.com"))

	var route gatewayapiv1.HTTPRoute
	found, err := client.Get(context.Background(), gatewayapiv1.HTTPRoutes(), "test", "podinfo", &route)
	require.NoError(t, err)
	require.True(t, found)

	assert.Equal(t, "podinfo", route.Name)
	assert.Equal(t, []string{"podinfo.test.example.com"}, route.Spec.Hostnames)
	require.Len(t, route.Spec.Rules, 1)
	require.Len(t, route.Spec.Rules[0].BackendRefs, 1)
	assert.Equal(t, int32(80), *route.Spec.Rules[0].BackendRefs[0].Port)
}

func TestClient_GetNotFound(t *testing.T) {
	client := newTestClient(t)

	var route gatewayapiv1.HTTPRoute
	found, err := client.Get(context.Background(), gatewayapiv1.HTTPRoutes(), "test", "podinfo", &route)
	require.NoError(t, err)
	assert.False(t, found)
}

func TestClient_GetRejectsMalformedObject(t *testing.T) {
	malformed := newTestRoute("podinfo", "test")
	// hostnames must be a list, not a scalar
	malformed.Object["spec"].(map[string]interface{})["hostnames"] = "podinfo.test.example.com"
	client := newTestClient(t, malformed)

	var route gatewayapiv1.HTTPRoute
	_, err := client.Get(context.Background(), gatewayapiv1.HTTPRoutes(), "test", "podinfo", &route)
	require.Error(t, err)
}

func TestClient_List(t *testing.T) {
	client := newTestClient(t,
		newTestRoute("podinfo", "test", "podinfo.test.example.com"),
		newTestRoute("frontend", "test", "frontend.test.example.com"),
		newTestRoute("podinfo", "prod", "podinfo.prod.example.com"),
	)

	var list gatewayapiv1.HTTPRouteList
	err := client.List(context.Background(), gatewayapiv1.HTTPRoutes(), "test", "", &list)
	require.NoError(t, err)
	assert.Len(t, list.Items, 2)
}

func TestClient_Create(t *testing.T) {
	client := newTestClient(t)

	policy := &egv1a1.SecurityPolicy{
		Spec: egv1a1.SecurityPolicySpec{
			TargetRefs: []egv1a1.PolicyTargetReference{
				{Group: "gateway.networking.k8s.io", Kind: "HTTPRoute", Name: "podinfo"},
			},
			BasicAuth: &egv1a1.BasicAuth{
				Users: egv1a1.SecretObjectReference{Name: "podinfo-basic-auth"},
			},
		},
	}
	policy.Name = "podinfo"
	policy.Namespace = "test"
	policy.APIVersion = egv1a1.SchemeGroupVersion.String()
	policy.Kind = egv1a1.SecurityPolicyKind

	var created egv1a1.SecurityPolicy
	err := client.Create(context.Background(), egv1a1.SecurityPolicies(), "test", policy, &created)
	require.NoError(t, err)
	assert.Equal(t, "podinfo-basic-auth", created.Spec.BasicAuth.Users.Name)

	var fetched egv1a1.SecurityPolicy
	found, err := client.Get(context.Background(), egv1a1.SecurityPolicies(), "test", "podinfo", &fetched)
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, policy.Spec.TargetRefs, fetched.Spec.TargetRefs)
}

func TestClient_PatchClearsNullKeysOnly(t *testing.T) {
	existing := &unstructured.Unstructured{
		Object: map[string]interface{}{
			"apiVersion": "gateway.envoyproxy.io/v1alpha1",
			"kind":       "SecurityPolicy",
			"metadata": map[string]interface{}{
				"name":      "podinfo",
				"namespace": "test",
			},
			"spec": map[string]interface{}{
				"basicAuth": map[string]interface{}{
					"users": map[string]interface{}{"name": "podinfo-basic-auth"},
				},
				"authorization": map[string]interface{}{
					"rules": []interface{}{
						map[string]interface{}{
							"name":      "allow-cidrs",
							"action":    "Allow",
							"principal": map[string]interface{}{"clientCIDRs": []interface{}{"10.0.0.0/8"}},
						},
					},
				},
			},
		},
	}
	client := newTestClient(t, existing)

	body := map[string]interface{}{
		"spec": map[string]interface{}{
			"authorization": nil,
		},
	}
	err := client.Patch(context.Background(), egv1a1.SecurityPolicies(), "test", "podinfo", body, nil)
	require.NoError(t, err)

	var policy egv1a1.SecurityPolicy
	found, err := client.Get(context.Background(), egv1a1.SecurityPolicies(), "test", "podinfo", &policy)
	require.NoError(t, err)
	require.True(t, found)

	assert.Nil(t, policy.Spec.Authorization, "null key should clear the field")
	require.NotNil(t, policy.Spec.BasicAuth, "absent key should leave the field untouched")
	assert.Equal(t, "podinfo-basic-auth", policy.Spec.BasicAuth.Users.Name)
}

func TestClient_DeleteMissingIsNoop(t *testing.T) {
	client := newTestClient(t)

	err := client.Delete(context.Background(), gatewayapiv1.HTTPRoutes(), "test", "podinfo")
	require.NoError(t, err)
}
