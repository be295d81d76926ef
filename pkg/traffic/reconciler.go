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

package traffic

import (
	"context"
	"fmt"
	"sort"

	"github.com/google/go-cmp/cmp"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	servingapis "knative.dev/serving/pkg/apis/serving"
	serving "knative.dev/serving/pkg/apis/serving/v1"
	knative "knative.dev/serving/pkg/client/clientset/versioned"
)

// Reconciler loads and saves the traffic split of Knative Services. It is
// stateless: every call fetches fresh objects, and the edited state lives
// with the caller between calls.
type Reconciler struct {
	knativeClient knative.Interface
	logger        *zap.SugaredLogger
}

func NewReconciler(knativeClient knative.Interface, logger *zap.SugaredLogger) *Reconciler {
	return &Reconciler{
		knativeClient: knativeClient,
		logger:        logger,
	}
}

// Load fetches the service and folds its traffic block into editable state.
func (r *Reconciler) Load(ctx context.Context, namespace, name string) (*State, error) {
	service, err := r.knativeClient.ServingV1().Services(namespace).Get(ctx, name, metav1.GetOptions{})
	if err != nil {
		return nil, fmt.Errorf("Knative Service %s.%s get query error: %w", name, namespace, err)
	}
	return FromService(service), nil
}

// Save commits pending tags, validates the result and replaces the whole
// traffic block of the service with it. The caller's state is left
// untouched so a rejected save can be corrected and retried. A split equal
// to what the cluster already holds is not written again.
func (r *Reconciler) Save(ctx context.Context, namespace, name string, state *State) error {
	merged := state.withPendingCommitted()
	if err := merged.Validate(); err != nil {
		return err
	}

	service, err := r.knativeClient.ServingV1().Services(namespace).Get(ctx, name, metav1.GetOptions{})
	if err != nil {
		return fmt.Errorf("Knative Service %s.%s get query error: %w", name, namespace, err)
	}

	desired := merged.Targets()
	if cmp.Diff(service.Spec.Traffic, desired) == "" {
		r.logger.With("service", fmt.Sprintf("%s.%s", name, namespace)).
			Debugf("Knative Service %s.%s traffic unchanged, skipping update", name, namespace)
		return nil
	}

	service = service.DeepCopy()
	service.Spec.Traffic = desired
	if _, err := r.knativeClient.ServingV1().Services(namespace).Update(ctx, service, metav1.UpdateOptions{}); err != nil {
		return fmt.Errorf("Knative Service %s.%s update query error: %w", name, namespace, err)
	}
	r.logger.With("service", fmt.Sprintf("%s.%s", name, namespace)).
		Infof("Knative Service %s.%s traffic updated", name, namespace)
	return nil
}

// RevisionInfo is one revision of a service joined with the share of live
// traffic it serves according to the route status.
type RevisionInfo struct {
	Name    string      `json:"name"`
	Created metav1.Time `json:"created"`
	Ready   bool        `json:"ready"`
	// Latest marks the newest revision, the one the latest bucket follows.
	Latest  bool     `json:"latest"`
	Percent int64    `json:"percent"`
	Tags    []string `json:"tags,omitempty"`
}

// Revisions lists the service's revisions newest first, each joined with
// the percent and tags it currently serves. The service and its revisions
// are independent reads, so they are fetched concurrently.
func (r *Reconciler) Revisions(ctx context.Context, namespace, name string) ([]RevisionInfo, error) {
	var (
		service   *serving.Service
		revisions *serving.RevisionList
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		service, err = r.knativeClient.ServingV1().Services(namespace).Get(gctx, name, metav1.GetOptions{})
		if err != nil {
			return fmt.Errorf("Knative Service %s.%s get query error: %w", name, namespace, err)
		}
		return nil
	})
	g.Go(func() error {
		var err error
		selector := fmt.Sprintf("%s=%s", servingapis.ServiceLabelKey, name)
		revisions, err = r.knativeClient.ServingV1().Revisions(namespace).List(gctx, metav1.ListOptions{LabelSelector: selector})
		if err != nil {
			return fmt.Errorf("revisions of %s.%s list query error: %w", name, namespace, err)
		}
		return nil
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}

	percents := map[string]int64{}
	tags := map[string][]string{}
	for _, target := range service.Status.Traffic {
		if target.RevisionName == "" {
			continue
		}
		if target.Percent != nil {
			percents[target.RevisionName] += *target.Percent
		}
		if target.Tag != "" {
			tags[target.RevisionName] = append(tags[target.RevisionName], target.Tag)
		}
	}

	items := make([]RevisionInfo, 0, len(revisions.Items))
	for i := range revisions.Items {
		rev := &revisions.Items[i]
		items = append(items, RevisionInfo{
			Name:    rev.Name,
			Created: rev.CreationTimestamp,
			Ready:   rev.IsReady(),
			Latest:  rev.Name == service.Status.LatestCreatedRevisionName,
			Percent: percents[rev.Name],
			Tags:    tags[rev.Name],
		})
	}
	sort.Slice(items, func(i, j int) bool {
		return items[j].Created.Before(&items[i].Created)
	})
	return items, nil
}
