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
	"fmt"
	"regexp"
	"strings"

	"github.com/hashicorp/go-multierror"

	egv1a1 "github.com/routepilot/routepilot/pkg/apis/envoygateway/v1alpha1"
)

const (
	allowRuleName = "allow-cidrs"
	denyRuleName  = "deny-cidrs"
)

var (
	// IPv4 entries must be a full dotted quad with an optional /0-32 prefix.
	ipv4CIDR = regexp.MustCompile(`^((25[0-5]|2[0-4][0-9]|1[0-9]{2}|[1-9]?[0-9])\.){3}(25[0-5]|2[0-4][0-9]|1[0-9]{2}|[1-9]?[0-9])(/(3[0-2]|[12]?[0-9]))?$`)
	// IPv6 entries are checked loosely for colon separated hex groups with an
	// optional /0-128 prefix, leaving full validation to the gateway.
	ipv6CIDR = regexp.MustCompile(`^[0-9a-fA-F]{0,4}(:[0-9a-fA-F]{0,4}){1,7}(/(12[0-8]|1[01][0-9]|[0-9]{1,2}))?$`)
)

// ValidateCIDRs checks every entry against the accepted address grammars and
// reports all offending values at once so the caller can surface the full
// list instead of the first mistake.
func ValidateCIDRs(values []string) error {
	var result *multierror.Error
	for _, raw := range values {
		value := strings.TrimSpace(raw)
		if value == "" {
			continue
		}
		if !ipv4CIDR.MatchString(value) && !ipv6CIDR.MatchString(value) {
			result = multierror.Append(result, fmt.Errorf("invalid CIDR %q", value))
		}
	}
	return result.ErrorOrNil()
}

// BuildAuthorization folds the allow and deny lists into the rule block
// stored on a SecurityPolicy. The allow rule always precedes the deny rule
// because the gateway stops at the first matching rule. When both lists are
// empty there is nothing to enforce: the returned clear flag tells the patch
// path to remove the block, while the create path simply omits it. An empty
// rules array is never produced.
func BuildAuthorization(allow, deny []string) (*egv1a1.Authorization, bool) {
	allow = sanitizeCIDRs(allow)
	deny = sanitizeCIDRs(deny)
	if len(allow) == 0 && len(deny) == 0 {
		return nil, true
	}

	rules := make([]egv1a1.AuthorizationRule, 0, 2)
	if len(allow) > 0 {
		rules = append(rules, egv1a1.AuthorizationRule{
			Name:      allowRuleName,
			Action:    egv1a1.RuleActionAllow,
			Principal: egv1a1.Principal{ClientCIDRs: allow},
		})
	}
	if len(deny) > 0 {
		rules = append(rules, egv1a1.AuthorizationRule{
			Name:      denyRuleName,
			Action:    egv1a1.RuleActionDeny,
			Principal: egv1a1.Principal{ClientCIDRs: deny},
		})
	}
	return &egv1a1.Authorization{Rules: rules}, false
}

func sanitizeCIDRs(values []string) []string {
	var out []string
	for _, raw := range values {
		if value := strings.TrimSpace(raw); value != "" {
			out = append(out, value)
		}
	}
	return out
}

// SplitAuthorization folds a stored rule block back into the allow and deny
// lists it was built from. Rules are read by action, not by name, so blocks
// written by other tooling still render.
func SplitAuthorization(authorization *egv1a1.Authorization) (allow, deny []string) {
	if authorization == nil {
		return nil, nil
	}
	for _, rule := range authorization.Rules {
		switch rule.Action {
		case egv1a1.RuleActionAllow:
			allow = append(allow, rule.Principal.ClientCIDRs...)
		case egv1a1.RuleActionDeny:
			deny = append(deny, rule.Principal.ClientCIDRs...)
		}
	}
	return allow, deny
}
