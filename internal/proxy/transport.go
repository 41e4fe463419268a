// internal/proxy/transport.go
package proxy

import (
	"context"
	"net/http"
	"net/url"
)

type proxyKey struct{}

// rotatingTransport sends each request through the proxy the manager picks
// and reports how it went
type rotatingTransport struct {
	manager *Manager
	base    *http.Transport
}

// Transport wraps base so every request goes through a rotated proxy.
// base is cloned; its own Proxy setting is replaced.
func (m *Manager) Transport(base *http.Transport) http.RoundTripper {
	t := base.Clone()
	t.Proxy = func(req *http.Request) (*url.URL, error) {
		u, _ := req.Context().Value(proxyKey{}).(*url.URL)
		return u, nil
	}
	return &rotatingTransport{manager: m, base: t}
}

func (t *rotatingTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	u, err := t.manager.Get()
	if err != nil {
		return nil, err
	}

	resp, err := t.base.RoundTrip(req.WithContext(context.WithValue(req.Context(), proxyKey{}, u)))
	if err != nil {
		if req.Context().Err() == nil {
			t.manager.ReportFailure(u)
		}
		return nil, err
	}
	if resp.StatusCode == http.StatusProxyAuthRequired || resp.StatusCode == http.StatusBadGateway {
		t.manager.ReportFailure(u)
	} else {
		t.manager.ReportSuccess(u)
	}
	return resp, nil
}

func (t *rotatingTransport) CloseIdleConnections() {
	t.base.CloseIdleConnections()
}
