package traffic

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/hashicorp/go-multierror"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	corev1 "k8s.io/api/core/v1"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"knative.dev/pkg/apis"
	duckv1 "knative.dev/pkg/apis/duck/v1"
	servingapis "knative.dev/serving/pkg/apis/serving"
	serving "knative.dev/serving/pkg/apis/serving/v1"
	fakeKnative "knative.dev/serving/pkg/client/clientset/versioned/fake"

	"github.com/routepilot/routepilot/pkg/logger"
)

func testLogger(t *testing.T) *zap.SugaredLogger {
	t.Helper()
	log, err := logger.NewLogger("debug")
	require.NoError(t, err)
	return log
}

func newTestService(name string, traffic []serving.TrafficTarget) *serving.Service {
	service := &serving.Service{
		ObjectMeta: metav1.ObjectMeta{
			Name:      name,
			Namespace: "test",
		},
		Spec: serving.ServiceSpec{
			RouteSpec: serving.RouteSpec{Traffic: traffic},
		},
	}
	return service
}

func newTestRevision(name, serviceName string, created time.Time, ready bool) *serving.Revision {
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

func TestReconciler_Load(t *testing.T) {
	service := newTestService("podinfo", []serving.TrafficTarget{
		{LatestRevision: latest(true), Percent: percent(80)},
		{RevisionName: "podinfo-00001", Percent: percent(20), Tag: "stable"},
	})
	r := NewReconciler(fakeKnative.NewSimpleClientset(service), testLogger(t))

	state, err := r.Load(context.Background(), "test", "podinfo")
	require.NoError(t, err)
	require.Len(t, state.Rows, 2)
	assert.True(t, state.Rows[0].Latest)
	assert.Equal(t, int64(80), state.Rows[0].Percent)
	assert.Equal(t, "podinfo-00001", state.Rows[1].RevisionName)
	assert.Equal(t, []string{"stable"}, state.Rows[1].Tags)
}

func TestReconciler_LoadMissingService(t *testing.T) {
	r := NewReconciler(fakeKnative.NewSimpleClientset(), testLogger(t))

	_, err := r.Load(context.Background(), "test", "podinfo")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "get query error")
}

func TestReconciler_SaveReplacesTrafficBlock(t *testing.T) {
	service := newTestService("podinfo", []serving.TrafficTarget{
		{LatestRevision: latest(true), Percent: percent(100)},
	})
	knativeClient := fakeKnative.NewSimpleClientset(service)
	r := NewReconciler(knativeClient, testLogger(t))

	state := &State{
		Rows: []Row{
			{Latest: true, Percent: 90},
			{RevisionName: "podinfo-00001", Percent: 10, Tags: []string{"stable"}},
		},
	}
	require.NoError(t, r.Save(context.Background(), "test", "podinfo", state))

	stored, err := knativeClient.ServingV1().Services("test").Get(context.Background(), "podinfo", metav1.GetOptions{})
	require.NoError(t, err)
	require.Len(t, stored.Spec.Traffic, 3)
	assert.Equal(t, int64(90), *stored.Spec.Traffic[0].Percent)
	assert.Equal(t, "podinfo-00001", stored.Spec.Traffic[1].RevisionName)
	assert.Equal(t, int64(10), *stored.Spec.Traffic[1].Percent)
	assert.Equal(t, "stable", stored.Spec.Traffic[2].Tag)
	assert.Equal(t, int64(0), *stored.Spec.Traffic[2].Percent)
}

func TestReconciler_SaveRejectsInvalidState(t *testing.T) {
	service := newTestService("podinfo", []serving.TrafficTarget{
		{LatestRevision: latest(true), Percent: percent(100)},
	})
	knativeClient := fakeKnative.NewSimpleClientset(service)
	r := NewReconciler(knativeClient, testLogger(t))

	state := &State{
		Rows: []Row{
			{Latest: true, Percent: 40},
			{RevisionName: "podinfo-00001", Percent: 30},
		},
	}
	err := r.Save(context.Background(), "test", "podinfo", state)
	require.Error(t, err)

	var merr *multierror.Error
	require.True(t, errors.As(err, &merr), "validation failures must be reported as a message list")
	assert.Contains(t, err.Error(), "add up to 100, got 70")

	for _, action := range knativeClient.Actions() {
		assert.NotEqual(t, "update", action.GetVerb(), "a rejected save must not reach the cluster")
	}
}

func TestReconciler_SaveCommitsPendingTags(t *testing.T) {
	service := newTestService("podinfo", []serving.TrafficTarget{
		{LatestRevision: latest(true), Percent: percent(100)},
	})
	knativeClient := fakeKnative.NewSimpleClientset(service)
	r := NewReconciler(knativeClient, testLogger(t))

	state := &State{
		Rows: []Row{
			{Latest: true, Percent: 100, PendingTag: "beta"},
		},
	}
	require.NoError(t, r.Save(context.Background(), "test", "podinfo", state))

	stored, err := knativeClient.ServingV1().Services("test").Get(context.Background(), "podinfo", metav1.GetOptions{})
	require.NoError(t, err)
	require.Len(t, stored.Spec.Traffic, 2)
	assert.Equal(t, "beta", stored.Spec.Traffic[1].Tag)

	// the caller's value stays as edited
	assert.Equal(t, "beta", state.Rows[0].PendingTag)
	assert.Empty(t, state.Rows[0].Tags)
}

func TestReconciler_SaveSkipsNoopUpdate(t *testing.T) {
	service := newTestService("podinfo", []serving.TrafficTarget{
		{LatestRevision: latest(true), Percent: percent(100)},
	})
	knativeClient := fakeKnative.NewSimpleClientset(service)
	r := NewReconciler(knativeClient, testLogger(t))

	state := &State{Rows: []Row{{Latest: true, Percent: 100}}}
	require.NoError(t, r.Save(context.Background(), "test", "podinfo", state))
	require.NoError(t, r.Save(context.Background(), "test", "podinfo", state))

	updates := 0
	for _, action := range knativeClient.Actions() {
		if action.GetVerb() == "update" {
			updates++
		}
	}
	assert.Equal(t, 1, updates, "an unchanged split must not be written again")
}

func TestReconciler_Revisions(t *testing.T) {
	service := newTestService("podinfo", nil)
	service.Status.LatestCreatedRevisionName = "podinfo-00002"
	service.Status.Traffic = []serving.TrafficTarget{
		{RevisionName: "podinfo-00002", LatestRevision: latest(true), Percent: percent(90)},
		{RevisionName: "podinfo-00001", Tag: "stable", Percent: percent(10)},
	}

	base := time.Date(2025, 3, 14, 10, 0, 0, 0, time.UTC)
	knativeClient := fakeKnative.NewSimpleClientset(
		service,
		newTestRevision("podinfo-00001", "podinfo", base, true),
		newTestRevision("podinfo-00002", "podinfo", base.Add(time.Hour), false),
		newTestRevision("frontend-00001", "frontend", base, true),
	)
	r := NewReconciler(knativeClient, testLogger(t))

	revisions, err := r.Revisions(context.Background(), "test", "podinfo")
	require.NoError(t, err)
	require.Len(t, revisions, 2, "revisions of other services must not leak in")

	assert.Equal(t, "podinfo-00002", revisions[0].Name, "newest first")
	assert.True(t, revisions[0].Latest)
	assert.False(t, revisions[0].Ready)
	assert.Equal(t, int64(90), revisions[0].Percent)
	assert.Empty(t, revisions[0].Tags)

	assert.Equal(t, "podinfo-00001", revisions[1].Name)
	assert.False(t, revisions[1].Latest)
	assert.True(t, revisions[1].Ready)
	assert.Equal(t, int64(10), revisions[1].Percent)
	assert.Equal(t, []string{"stable"}, revisions[1].Tags)
}
