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

package probe

import (
	"context"
	"net/http"
	"time"

	"github.com/hashicorp/go-retryablehttp"
	"go.uber.org/zap"
)

const probeTimeout = 5 * time.Second

// Prober checks whether a route hostname answers over HTTPS. Results are
// advisory and never block an operation: a host that does not answer within
// the timeout is reported as unreachable, whatever the cause.
type Prober struct {
	retry  *retryablehttp.Client
	logger *zap.SugaredLogger
}

func New(logger *zap.SugaredLogger) *Prober {
	client := retryablehttp.NewClient()
	client.RetryMax = 2
	client.RetryWaitMin = 100 * time.Millisecond
	client.RetryWaitMax = time.Second
	client.HTTPClient.Timeout = probeTimeout
	client.Logger = nil
	return &Prober{
		retry:  client,
		logger: logger,
	}
}

// Reachable reports whether host answers an HTTPS HEAD request. Any status
// counts as reachable since even a 404 proves the gateway routed the
// hostname somewhere.
func (p *Prober) Reachable(ctx context.Context, host string) bool {
	if host == "" {
		return false
	}
	ctx, cancel := context.WithTimeout(ctx, probeTimeout)
	defer cancel()

	req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodHead, "https://"+host, nil)
	if err != nil {
		p.logger.Debugf("probe request for %s error: %v", host, err)
		return false
	}
	resp, err := p.retry.Do(req)
	if err != nil {
		p.logger.Debugf("probe %s unreachable: %v", host, err)
		return false
	}
	defer resp.Body.Close()
	return true
}
