package server

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/require"
	corev1 "k8s.io/api/core/v1"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/apis/meta/v1/unstructured"
	"k8s.io/apimachinery/pkg/runtime"
	"k8s.io/apimachinery/pkg/runtime/schema"
	"k8s.io/apimachinery/pkg/types"
	dynamicfake "k8s.io/client-go/dynamic/fake"
	"k8s.io/client-go/kubernetes/fake"
	"knative.dev/pkg/apis"
	duckv1 "knative.dev/pkg/apis/duck/v1"
	servingapis "knative.dev/serving/pkg/apis/serving"
	serving "knative.dev/serving/pkg/apis/serving/v1"
	fakeKnative "knative.dev/serving/pkg/client/clientset/versioned/fake"

	egv1a1 "github.com/routepilot/routepilot/pkg/apis/envoygateway/v1alpha1"
	"github.com/routepilot/routepilot/pkg/apis/gatewayapi"
	gatewayapiv1 "github.com/routepilot/routepilot/pkg/apis/gatewayapi/v1"
	"github.com/routepilot/routepilot/pkg/locator"
	"github.com/routepilot/routepilot/pkg/logger"
	"github.com/routepilot/routepilot/pkg/metrics"
	"github.com/routepilot/routepilot/pkg/policy"
	"github.com/routepilot/routepilot/pkg/resources"
	"github.com/routepilot/routepilot/pkg/traffic"
)

type serverFixture struct {
	router     *gin.Engine
	kubeClient *fake.Clientset
	dynamic    *dynamicfake.FakeDynamicClient
	knative    *fakeKnative.Clientset
	prober     *stubProber
}

type stubProber struct {
	reachable bool
}

func (s *stubProber) Reachable(context.Context, string) bool {
	return s.reachable
}

func newServerFixture(t *testing.T, dynamicObjects []runtime.Object, kubeObjects []runtime.Object, knativeObjects ...runtime.Object) serverFixture {
	t.Helper()
	scheme := runtime.NewScheme()
	listKinds := map[schema.GroupVersionResource]string{
		gatewayapiv1.HTTPRoutes():       "HTTPRouteList",
		egv1a1.SecurityPolicies():       "SecurityPolicyList",
		egv1a1.BackendTrafficPolicies(): "BackendTrafficPolicyList",
	}
	dc := dynamicfake.NewSimpleDynamicClientWithCustomListKinds(scheme, listKinds, dynamicObjects...)
	kc := fake.NewSimpleClientset(kubeObjects...)
	knc := fakeKnative.NewSimpleClientset(knativeObjects...)
	log, err := logger.NewLogger("debug")
	require.NoError(t, err)

	client := resources.NewClient(dc, log)
	loc := locator.New(client, log)
	engine := policy.NewEngine(client, kc, loc, log)
	reconciler := traffic.NewReconciler(knc, log)
	prober := &stubProber{}
	recorder := metrics.NewRecorder("routepilot", false)

	api := NewAPI(loc, engine, reconciler, prober, kc, recorder, log)
	return serverFixture{
		router:     api.Routes(),
		kubeClient: kc,
		dynamic:    dc,
		knative:    knc,
		prober:     prober,
	}
}

func (f serverFixture) perform(method, url string, body interface{}) *httptest.ResponseRecorder {
	var req *http.Request
	if body != nil {
		payload, _ := json.Marshal(body)
		req, _ = http.NewRequest(method, url, bytes.NewReader(payload))
	} else {
		req, _ = http.NewRequest(method, url, nil)
	}
	resp := httptest.NewRecorder()
	f.router.ServeHTTP(resp, req)
	return resp
}

func decodeResult(t *testing.T, resp *httptest.ResponseRecorder) Result {
	t.Helper()
	var result Result
	require.NoError(t, json.Unmarshal(resp.Body.Bytes(), &result))
	return result
}

func toUnstructuredOrDie(object interface{}) *unstructured.Unstructured {
	content, err := resources.Encode(object)
	if err != nil {
		panic(err)
	}
	return &unstructured.Unstructured{Object: content}
}

func newRoute(name, namespace string, hostnames ...string) *unstructured.Unstructured {
	route := &gatewayapiv1.HTTPRoute{
		Spec: gatewayapiv1.HTTPRouteSpec{Hostnames: hostnames},
	}
	route.Name = name
	route.Namespace = namespace
	route.UID = types.UID(name + "-uid")
	route.APIVersion = gatewayapiv1.SchemeGroupVersion.String()
	route.Kind = gatewayapiv1.HTTPRouteKind
	return toUnstructuredOrDie(route)
}

func newSecurityPolicy(name, namespace, routeName string, spec egv1a1.SecurityPolicySpec) *unstructured.Unstructured {
	spec.TargetRefs = []egv1a1.PolicyTargetReference{
		{Group: gatewayapi.GroupName, Kind: gatewayapiv1.HTTPRouteKind, Name: routeName},
	}
	securityPolicy := &egv1a1.SecurityPolicy{Spec: spec}
	securityPolicy.Name = name
	securityPolicy.Namespace = namespace
	securityPolicy.APIVersion = egv1a1.SchemeGroupVersion.String()
	securityPolicy.Kind = egv1a1.SecurityPolicyKind
	return toUnstructuredOrDie(securityPolicy)
}

func newTrafficPolicy(name, namespace, routeName string, retry *egv1a1.Retry) *unstructured.Unstructured {
	trafficPolicy := &egv1a1.BackendTrafficPolicy{
		Spec: egv1a1.BackendTrafficPolicySpec{
			TargetRefs: []egv1a1.PolicyTargetReference{
				{Group: gatewayapi.GroupName, Kind: gatewayapiv1.HTTPRouteKind, Name: routeName},
			},
			Retry: retry,
		},
	}
	trafficPolicy.Name = name
	trafficPolicy.Namespace = namespace
	trafficPolicy.APIVersion = egv1a1.SchemeGroupVersion.String()
	trafficPolicy.Kind = egv1a1.BackendTrafficPolicyKind
	return toUnstructuredOrDie(trafficPolicy)
}

func newSecret(name, namespace string, data map[string][]byte) *corev1.Secret {
	return &corev1.Secret{
		ObjectMeta: metav1.ObjectMeta{Name: name, Namespace: namespace},
		Type:       corev1.SecretTypeOpaque,
		Data:       data,
	}
}

func newService(name string, trafficTargets []serving.TrafficTarget) *serving.Service {
	return &serving.Service{
		ObjectMeta: metav1.ObjectMeta{Name: name, Namespace: "test"},
		Spec: serving.ServiceSpec{
			RouteSpec: serving.RouteSpec{Traffic: trafficTargets},
		},
	}
}

func newRevision(name, serviceName string, created time.Time, ready bool) *serving.Revision {
	rev := &serving.Revision{
		ObjectMeta: metav1.ObjectMeta{
			Name:              name,
			Namespace:         "test",
			CreationTimestamp: metav1.NewTime(created),
			Labels: map[string]string{
				servingapis.ServiceLabelKey: serviceName,
			},
		},
	}
	if ready {
		rev.Status = serving.RevisionStatus{
			Status: duckv1.Status{
				Conditions: duckv1.Conditions{
					{Type: apis.ConditionReady, Status: corev1.ConditionTrue},
				},
			},
		}
	}
	return rev
}

func percent(v int64) *int64 {
	return &v
}

func latest(v bool) *bool {
	return &v
}

func getSecurityPolicy(t *testing.T, f serverFixture, namespace, name string) *egv1a1.SecurityPolicy {
	t.Helper()
	object, err := f.dynamic.Resource(egv1a1.SecurityPolicies()).Namespace(namespace).Get(context.Background(), name, metav1.GetOptions{})
	require.NoError(t, err)
	var securityPolicy egv1a1.SecurityPolicy
	require.NoError(t, resources.Decode(object, &securityPolicy))
	return &securityPolicy
}

func getTrafficPolicy(t *testing.T, f serverFixture, namespace, name string) *egv1a1.BackendTrafficPolicy {
	t.Helper()
	object, err := f.dynamic.Resource(egv1a1.BackendTrafficPolicies()).Namespace(namespace).Get(context.Background(), name, metav1.GetOptions{})
	require.NoError(t, err)
	var trafficPolicy egv1a1.BackendTrafficPolicy
	require.NoError(t, resources.Decode(object, &trafficPolicy))
	return &trafficPolicy
}
