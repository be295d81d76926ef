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

package resources

import (
	"context"
	"encoding/json"
	"fmt"

	"go.uber.org/zap"
	"k8s.io/apimachinery/pkg/api/errors"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/apis/meta/v1/unstructured"
	"k8s.io/apimachinery/pkg/runtime/schema"
	"k8s.io/apimachinery/pkg/types"
	"k8s.io/client-go/dynamic"
)

// Client reads and writes namespaced cluster objects of any registered kind
// through the dynamic interface, decoding every payload into a typed value
// before callers see it. Payloads that do not fit the expected shape are
// rejected rather than passed through.
type Client struct {
	client dynamic.Interface
	logger *zap.SugaredLogger
}

func NewClient(client dynamic.Interface, logger *zap.SugaredLogger) *Client {
	return &Client{
		client: client,
		logger: logger,
	}
}

// Get fetches a single object and decodes it into out. A missing object is
// reported as found=false with a nil error so callers can branch between
// create and update without inspecting error types.
func (c *Client) Get(ctx context.Context, gvr schema.GroupVersionResource, namespace, name string, out interface{}) (bool, error) {
	object, err := c.client.Resource(gvr).Namespace(namespace).Get(ctx, name, metav1.GetOptions{})
	if errors.IsNotFound(err) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("%s %s.%s get query error: %w", gvr.Resource, name, namespace, err)
	}
	if err := Decode(object, out); err != nil {
		return false, err
	}
	return true, nil
}

// List fetches all objects of the resource in a namespace, optionally
// filtered by a label selector, and decodes them into the typed list out.
func (c *Client) List(ctx context.Context, gvr schema.GroupVersionResource, namespace, selector string, out interface{}) error {
	opts := metav1.ListOptions{}
	if selector != "" {
		opts.LabelSelector = selector
	}
	list, err := c.client.Resource(gvr).Namespace(namespace).List(ctx, opts)
	if err != nil {
		return fmt.Errorf("%s list query error in namespace %s: %w", gvr.Resource, namespace, err)
	}
	if err := decodeInto(list.UnstructuredContent(), out); err != nil {
		return fmt.Errorf("%s list decode error: %w", gvr.Resource, err)
	}
	return nil
}

// Create submits a typed object and, when out is non-nil, decodes the
// object the server stored back into it.
func (c *Client) Create(ctx context.Context, gvr schema.GroupVersionResource, namespace string, object, out interface{}) error {
	content, err := Encode(object)
	if err != nil {
		return fmt.Errorf("%s encode error: %w", gvr.Resource, err)
	}
	created, err := c.client.Resource(gvr).Namespace(namespace).Create(ctx, &unstructured.Unstructured{Object: content}, metav1.CreateOptions{})
	if err != nil {
		return fmt.Errorf("%s create error in namespace %s: %w", gvr.Resource, namespace, err)
	}
	if out != nil {
		return Decode(created, out)
	}
	return nil
}

// Patch submits a JSON merge patch built from body. A key set to an explicit
// nil clears that field on the server while an absent key leaves the stored
// value untouched, which is what lets independent settings share one object.
func (c *Client) Patch(ctx context.Context, gvr schema.GroupVersionResource, namespace, name string, body map[string]interface{}, out interface{}) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("%s %s.%s patch encode error: %w", gvr.Resource, name, namespace, err)
	}
	patched, err := c.client.Resource(gvr).Namespace(namespace).Patch(ctx, name, types.MergePatchType, payload, metav1.PatchOptions{})
	if err != nil {
		return fmt.Errorf("%s %s.%s patch error: %w", gvr.Resource, name, namespace, err)
	}
	if out != nil {
		return Decode(patched, out)
	}
	return nil
}

// Delete removes an object, treating a missing object as success.
func (c *Client) Delete(ctx context.Context, gvr schema.GroupVersionResource, namespace, name string) error {
	err := c.client.Resource(gvr).Namespace(namespace).Delete(ctx, name, metav1.DeleteOptions{})
	if err != nil && !errors.IsNotFound(err) {
		return fmt.Errorf("%s %s.%s delete error: %w", gvr.Resource, name, namespace, err)
	}
	return nil
}
