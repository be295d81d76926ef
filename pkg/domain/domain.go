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

// Package domain recognizes which of a route's hostnames were generated by
// the serving layer's tag templates and which were added by hand. It only
// looks at cluster configuration, never at routes or policies.
package domain

import (
	"context"
	"fmt"
	"regexp"
	"sort"
	"strings"

	"go.uber.org/zap"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/client-go/kubernetes"
)

const (
	knativeServingNamespace = "knative-serving"
	domainConfigMap         = "config-domain"
	networkConfigMap        = "config-network"

	domainTemplateKey = "domain-template"
	tagTemplateKey    = "tag-template"

	// DefaultDomain is assumed when the cluster does not publish one.
	DefaultDomain = "example.com"
	// DefaultDomainTemplate is the serving default for service hostnames.
	DefaultDomainTemplate = "{{.Name}}.{{.Namespace}}.{{.Domain}}"
	// DefaultTagTemplate is the serving default for tag hostnames.
	DefaultTagTemplate = "{{.Tag}}-{{.Name}}"
)

// Config carries the cluster's hostname generation settings.
type Config struct {
	Domain         string
	DomainTemplate string
	TagTemplate    string
}

// FetchConfig reads the hostname generation settings published by the
// serving installation. Missing config maps and keys fall back to the
// serving defaults.
func FetchConfig(ctx context.Context, kubeClient kubernetes.Interface, logger *zap.SugaredLogger) Config {
	cfg := Config{
		Domain:         DefaultDomain,
		DomainTemplate: DefaultDomainTemplate,
		TagTemplate:    DefaultTagTemplate,
	}

	if cm, err := kubeClient.CoreV1().ConfigMaps(knativeServingNamespace).Get(ctx, domainConfigMap, metav1.GetOptions{}); err != nil {
		logger.Debugf("configmap %s.%s get query error: %v", domainConfigMap, knativeServingNamespace, err)
	} else {
		domains := make([]string, 0, len(cm.Data))
		for domain := range cm.Data {
			if strings.HasPrefix(domain, "_") {
				continue
			}
			domains = append(domains, domain)
		}
		sort.Strings(domains)
		if len(domains) > 0 {
			cfg.Domain = domains[0]
		}
	}

	if cm, err := kubeClient.CoreV1().ConfigMaps(knativeServingNamespace).Get(ctx, networkConfigMap, metav1.GetOptions{}); err != nil {
		logger.Debugf("configmap %s.%s get query error: %v", networkConfigMap, knativeServingNamespace, err)
	} else {
		if v := cm.Data[domainTemplateKey]; v != "" {
			cfg.DomainTemplate = v
		}
		if v := cm.Data[tagTemplateKey]; v != "" {
			cfg.TagTemplate = v
		}
	}

	return cfg
}

const (
	placeholderTag       = "Tag"
	placeholderName      = "Name"
	placeholderNamespace = "Namespace"
	placeholderDomain    = "Domain"

	// dnsLabel matches one DNS-1123 label, the shape of a generated tag.
	dnsLabel = `[a-z0-9]([-a-z0-9]*[a-z0-9])?`
)

// Matcher recognizes the tag hostnames generated for one service.
type Matcher struct {
	re *regexp.Regexp
}

// TagMatcher compiles the cluster templates into a matcher for the tag
// hostnames of the named service. The templates may only use the Tag, Name,
// Namespace and Domain placeholders, anything else is rejected rather than
// guessed at.
func (c Config) TagMatcher(name, namespace string) (*Matcher, error) {
	tagPart, err := compilePattern(c.TagTemplate, map[string]string{
		placeholderTag:  "(" + dnsLabel + ")",
		placeholderName: regexp.QuoteMeta(name),
	})
	if err != nil {
		return nil, err
	}
	hostPart, err := compilePattern(c.DomainTemplate, map[string]string{
		placeholderName:      tagPart,
		placeholderNamespace: regexp.QuoteMeta(namespace),
		placeholderDomain:    regexp.QuoteMeta(c.Domain),
	})
	if err != nil {
		return nil, err
	}
	re, err := regexp.Compile("^" + hostPart + "$")
	if err != nil {
		return nil, fmt.Errorf("hostname template compile error: %w", err)
	}
	return &Matcher{re: re}, nil
}

// compilePattern renders a template into a regular expression fragment,
// quoting literal text and substituting each placeholder with its
// replacement fragment.
func compilePattern(template string, replacements map[string]string) (string, error) {
	var b strings.Builder
	rest := template
	for {
		start := strings.Index(rest, "{{")
		if start == -1 {
			b.WriteString(regexp.QuoteMeta(rest))
			return b.String(), nil
		}
		b.WriteString(regexp.QuoteMeta(rest[:start]))

		end := strings.Index(rest[start:], "}}")
		if end == -1 {
			return "", fmt.Errorf("unterminated placeholder in template %q", template)
		}
		inner := strings.TrimSpace(rest[start+2 : start+end])
		rest = rest[start+end+2:]

		field, ok := strings.CutPrefix(inner, ".")
		if !ok {
			return "", fmt.Errorf("unsupported placeholder {{%s}} in template %q", inner, template)
		}
		fragment, ok := replacements[field]
		if !ok {
			return "", fmt.Errorf("unsupported placeholder {{%s}} in template %q", inner, template)
		}
		b.WriteString(fragment)
	}
}

// Matches reports whether host was generated from the tag template.
func (m *Matcher) Matches(host string) bool {
	return m.re.MatchString(host)
}

// Tag extracts the tag a generated hostname was minted for, or an empty
// string when the host does not match the template.
func (m *Matcher) Tag(host string) string {
	groups := m.re.FindStringSubmatch(host)
	if len(groups) < 2 {
		return ""
	}
	return groups[1]
}

// Split partitions hostnames into template generated ones and the rest.
func (m *Matcher) Split(hosts []string) (tagged, plain []string) {
	for _, host := range hosts {
		if m.Matches(host) {
			tagged = append(tagged, host)
		} else {
			plain = append(plain, host)
		}
	}
	return tagged, plain
}
