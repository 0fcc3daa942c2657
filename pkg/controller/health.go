package controller

import (
	"context"
	"io"
	"net"
	"net/http"
	"time"

	"github.com/jrepp/pyramid-fleet/pkg/config"
)

// HealthChecker decides whether an endpoint is serving
type HealthChecker interface {
	Alive(ctx context.Context, ep config.Endpoint) bool
}

// HTTPHealthChecker probes GET http://<host>:<port><healthPath>. Only a 200
// answered within the connect and read timeouts counts as alive; refused
// connections, timeouts and any other status mean not alive.
type HTTPHealthChecker struct {
	client *http.Client
}

// NewHTTPHealthChecker creates a checker with bounded connect and read timeouts
func NewHTTPHealthChecker(connectTimeout, readTimeout time.Duration) *HTTPHealthChecker {
	transport := &http.Transport{
		Proxy: nil,
		DialContext: (&net.Dialer{
			Timeout: connectTimeout,
		}).DialContext,
		ResponseHeaderTimeout: readTimeout,
		DisableKeepAlives:     true,
	}

	return &HTTPHealthChecker{
		client: &http.Client{
			Transport: transport,
			Timeout:   connectTimeout + readTimeout,
			CheckRedirect: func(*http.Request, []*http.Request) error {
				return http.ErrUseLastResponse
			},
		},
	}
}

// NewHTTPHealthCheckerFromTiming creates a checker with the configured timeouts
func NewHTTPHealthCheckerFromTiming(t config.Timing) *HTTPHealthChecker {
	return NewHTTPHealthChecker(t.HealthConnectTimeout, t.HealthReadTimeout)
}

// Alive reports whether ep answered its health check with 200
func (h *HTTPHealthChecker) Alive(ctx context.Context, ep config.Endpoint) bool {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, ep.HealthURL(), nil)
	if err != nil {
		return false
	}

	resp, err := h.client.Do(req)
	if err != nil {
		return false
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10))

	return resp.StatusCode == http.StatusOK
}

var _ HealthChecker = (*HTTPHealthChecker)(nil)
