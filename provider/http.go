// Copyright 2021-present the routeq authors. All rights reserved.
// Use of this source code is governed by a MIT-license.
// See LICENSE.txt for details.

package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/voyago/routeq"
	"github.com/voyago/routeq/route"
)

// defaultTimeout bounds a single provider call.
const defaultTimeout = 10 * time.Second

// HTTPProvider talks to a routing service over JSON/HTTP.
// It implements the Provider interface.
type HTTPProvider struct {
	baseURL string
	apiKey  string
	httpc   *http.Client
}

// HTTPOption is an options provider for HTTPProvider.
type HTTPOption func(*HTTPProvider)

// SetHTTPClient replaces the underlying HTTP client, e.g. for tests.
func SetHTTPClient(c *http.Client) HTTPOption {
	return func(p *HTTPProvider) {
		if c != nil {
			p.httpc = c
		}
	}
}

// SetAPIKey sets the bearer token sent with each request.
func SetAPIKey(key string) HTTPOption {
	return func(p *HTTPProvider) {
		p.apiKey = key
	}
}

// NewHTTP creates a provider adapter for the routing service at baseURL.
func NewHTTP(baseURL string, options ...HTTPOption) *HTTPProvider {
	p := &HTTPProvider{
		baseURL: baseURL,
		httpc:   &http.Client{Timeout: defaultTimeout},
	}
	for _, opt := range options {
		opt(p)
	}
	return p
}

// computeRequest is the wire shape of a route computation request.
type computeRequest struct {
	Waypoints    []route.Waypoint `json:"waypoints"`
	Mode         route.Mode       `json:"mode"`
	Avoid        []string         `json:"avoid,omitempty"`
	Optimize     bool             `json:"optimize,omitempty"`
	Alternatives bool             `json:"alternatives,omitempty"`
	Traffic      bool             `json:"traffic,omitempty"`
}

// computeResponse is the wire shape of the service's answer.
type computeResponse struct {
	Routes []*route.Route `json:"routes"`
	Error  string         `json:"error,omitempty"`
}

// Compute implements the Provider interface.
func (p *HTTPProvider) Compute(ctx context.Context, req Request) ([]*route.Route, error) {
	body := computeRequest{
		Waypoints:    req.Waypoints,
		Mode:         req.Preferences.Mode,
		Avoid:        avoidSet(req.Preferences),
		Optimize:     req.Preferences.Optimize,
		Alternatives: req.Alternatives,
		Traffic:      req.Traffic,
	}
	buf, err := json.Marshal(body)
	if err != nil {
		return nil, err
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+"/v1/routes", bytes.NewReader(buf))
	if err != nil {
		return nil, err
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if p.apiKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+p.apiKey)
	}

	rsp, err := p.httpc.Do(httpReq)
	if err != nil {
		return nil, routeq.ServiceUnavailable("routing provider unreachable", err)
	}
	defer rsp.Body.Close()

	switch {
	case rsp.StatusCode >= 500:
		return nil, routeq.ServiceUnavailable(fmt.Sprintf("routing provider returned %d", rsp.StatusCode), nil)
	case rsp.StatusCode >= 400:
		return nil, routeq.BadRequest(rsp.StatusCode, readError(rsp.Body))
	}

	var parsed computeResponse
	if err := json.NewDecoder(rsp.Body).Decode(&parsed); err != nil {
		return nil, routeq.ServiceUnavailable("decoding provider response", err)
	}
	if len(parsed.Routes) == 0 {
		return nil, routeq.BadRequest(rsp.StatusCode, "provider returned no routes")
	}
	for _, r := range parsed.Routes {
		if err := r.Validate(); err != nil {
			return nil, routeq.ServiceUnavailable("provider returned invalid route", err)
		}
	}
	if n := MaxAlternatives + 1; len(parsed.Routes) > n {
		parsed.Routes = parsed.Routes[:n]
	}
	return parsed.Routes, nil
}

// avoidSet flattens the avoid preferences into the wire form.
func avoidSet(prefs route.Preferences) []string {
	var avoid []string
	if prefs.AvoidTolls {
		avoid = append(avoid, "tolls")
	}
	if prefs.AvoidHighways {
		avoid = append(avoid, "highways")
	}
	if prefs.AvoidFerries {
		avoid = append(avoid, "ferries")
	}
	return avoid
}

// readError extracts the provider's error message, best-effort.
func readError(r io.Reader) string {
	var parsed computeResponse
	if err := json.NewDecoder(io.LimitReader(r, 4096)).Decode(&parsed); err == nil && parsed.Error != "" {
		return parsed.Error
	}
	return "provider rejected the request"
}
