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

package policy

import (
	"context"
	"crypto/sha1"
	"encoding/base64"
	"fmt"
	"regexp"
	"sort"
	"strings"

	"github.com/hashicorp/go-multierror"
	corev1 "k8s.io/api/core/v1"
	"k8s.io/apimachinery/pkg/api/errors"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
)

// HtpasswdKey is the single data key of a basic auth credentials Secret.
const HtpasswdKey = ".htpasswd"

// DefaultAPIKeyHeader is the request header clients present API keys in.
const DefaultAPIKeyHeader = "X-API-Key"

// BasicAuthSecretName returns the fixed name of the htpasswd Secret attached
// to a route, so repeated enables settle on the same object.
func BasicAuthSecretName(routeName string) string {
	return routeName + "-basic-auth"
}

// APIKeySecretName returns the fixed name of the API key Secret attached to
// a route.
func APIKeySecretName(routeName string) string {
	return routeName + "-api-keys"
}

// CredentialLine renders one htpasswd entry in the SHA scheme the gateway's
// credential consumer understands. The digest is one way, so editing a user
// always requires the password to be entered again.
func CredentialLine(username, password string) string {
	sum := sha1.Sum([]byte(password))
	return fmt.Sprintf("%s:{SHA}%s", username, base64.StdEncoding.EncodeToString(sum[:]))
}

// UpsertBasicAuthSecret writes the single user htpasswd Secret referenced by
// a basic auth block, replacing any previous content. The Secret is owned by
// the route so it is garbage collected with it.
func (e *Engine) UpsertBasicAuthSecret(ctx context.Context, namespace, name, username, password, routeName string) error {
	data := map[string][]byte{
		HtpasswdKey: []byte(CredentialLine(username, password)),
	}
	return e.upsertSecret(ctx, namespace, name, routeName, data)
}

// UpsertAPIKeySecret writes the Secret holding API key material, one data
// key per client id. The stored key set always becomes exactly clients.
func (e *Engine) UpsertAPIKeySecret(ctx context.Context, namespace, name string, clients map[string]string, routeName string) error {
	data := make(map[string][]byte, len(clients))
	for id, key := range clients {
		data[id] = []byte(key)
	}
	return e.upsertSecret(ctx, namespace, name, routeName, data)
}

func (e *Engine) upsertSecret(ctx context.Context, namespace, name, routeName string, data map[string][]byte) error {
	secretsClient := e.kubeClient.CoreV1().Secrets(namespace)
	existing, err := secretsClient.Get(ctx, name, metav1.GetOptions{})
	if errors.IsNotFound(err) {
		secret := &corev1.Secret{
			ObjectMeta: metav1.ObjectMeta{
				Name:            name,
				Namespace:       namespace,
				OwnerReferences: e.routeOwnerRef(ctx, namespace, routeName),
			},
			Type: corev1.SecretTypeOpaque,
			Data: data,
		}
		if _, err := secretsClient.Create(ctx, secret, metav1.CreateOptions{}); err != nil {
			return fmt.Errorf("secret %s.%s create error: %w", name, namespace, err)
		}
		e.logger.With("route", fmt.Sprintf("%s.%s", routeName, namespace)).
			Infof("Secret %s.%s created", name, namespace)
		return nil
	}
	if err != nil {
		return fmt.Errorf("secret %s.%s get query error: %w", name, namespace, err)
	}

	secret := existing.DeepCopy()
	secret.Data = data
	if _, err := secretsClient.Update(ctx, secret, metav1.UpdateOptions{}); err != nil {
		return fmt.Errorf("secret %s.%s update error: %w", name, namespace, err)
	}
	e.logger.With("route", fmt.Sprintf("%s.%s", routeName, namespace)).
		Infof("Secret %s.%s updated", name, namespace)
	return nil
}

// DeleteCredentialSecret removes a credentials Secret, tolerating one that
// is already gone.
func (e *Engine) DeleteCredentialSecret(ctx context.Context, namespace, name string) error {
	err := e.kubeClient.CoreV1().Secrets(namespace).Delete(ctx, name, metav1.DeleteOptions{})
	if err != nil && !errors.IsNotFound(err) {
		return fmt.Errorf("secret %s.%s delete error: %w", name, namespace, err)
	}
	return nil
}

// CredentialSecret fetches a credentials Secret, resolving not found to nil.
func (e *Engine) CredentialSecret(ctx context.Context, namespace, name string) (*corev1.Secret, error) {
	secret, err := e.kubeClient.CoreV1().Secrets(namespace).Get(ctx, name, metav1.GetOptions{})
	if errors.IsNotFound(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("secret %s.%s get query error: %w", name, namespace, err)
	}
	return secret, nil
}

// BasicAuthUsers returns the usernames stored in an htpasswd Secret. Only
// identities leave this package, never digests.
func BasicAuthUsers(secret *corev1.Secret) []string {
	if secret == nil {
		return nil
	}
	var users []string
	for _, line := range strings.Split(string(secret.Data[HtpasswdKey]), "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		if name, _, ok := strings.Cut(line, ":"); ok && name != "" {
			users = append(users, name)
		}
	}
	return users
}

// secretKey matches the charset the store accepts for Secret data keys.
var secretKey = regexp.MustCompile(`^[-._a-zA-Z0-9]+$`)

// ValidateClients checks API key client ids against the Secret data key
// grammar and rejects empty key material, reporting every problem at once.
func ValidateClients(clients map[string]string) error {
	var result *multierror.Error
	if len(clients) == 0 {
		result = multierror.Append(result, fmt.Errorf("at least one API key client is required"))
	}
	ids := make([]string, 0, len(clients))
	for id := range clients {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	for _, id := range ids {
		if !secretKey.MatchString(id) {
			result = multierror.Append(result, fmt.Errorf("invalid client id %q", id))
		} else if clients[id] == "" {
			result = multierror.Append(result, fmt.Errorf("client %q has an empty key", id))
		}
	}
	return result.ErrorOrNil()
}

// APIKeyClients returns the client ids stored in an API key Secret in a
// stable order, never the key material.
func APIKeyClients(secret *corev1.Secret) []string {
	if secret == nil {
		return nil
	}
	clients := make([]string, 0, len(secret.Data))
	for id := range secret.Data {
		clients = append(clients, id)
	}
	sort.Strings(clients)
	return clients
}
