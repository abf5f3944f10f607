package ratelimit

import (
	"net/http"
	"net/http/httptest"
	"net/netip"
	"testing"

	"admission-gateway/middleware/ratelimit/domain"
	"admission-gateway/middleware/ratelimit/infra"
)

func mustAddr(t *testing.T, s string) netip.Addr {
	t.Helper()
	a, err := netip.ParseAddr(s)
	if err != nil {
		t.Fatalf("bad addr %q: %v", s, err)
	}
	return a
}

func TestPeerAddr(t *testing.T) {
	cases := map[string]string{
		"10.0.0.9:5555":          "10.0.0.9",
		"[::1]:80":               "::1",
		"[::ffff:10.0.0.1]:8080": "10.0.0.1",
		"192.0.2.4":              "192.0.2.4",
	}
	for remote, want := range cases {
		r := httptest.NewRequest(http.MethodGet, "http://example/", nil)
		r.RemoteAddr = remote
		got, ok := PeerAddr(r)
		if !ok || got.String() != want {
			t.Fatalf("PeerAddr(%q) = %v,%v; want %s", remote, got, ok, want)
		}
	}

	r := httptest.NewRequest(http.MethodGet, "http://example/", nil)
	r.RemoteAddr = "not-an-ip"
	if _, ok := PeerAddr(r); ok {
		t.Fatalf("expected unparsable RemoteAddr to fail")
	}
}

func TestClientIPResolver_HeaderPriorityBehindTrustedProxy(t *testing.T) {
	res := ClientIPResolver{Trust: infra.NewTrustStore("10.0.0.0/8", nil)}

	cases := []struct {
		name    string
		headers map[string]string
		want    string
		source  domain.KeySource
	}{
		{"cf_wins", map[string]string{"CF-Connecting-IP": "1.1.1.1", "X-Forwarded-For": "2.2.2.2", "X-Real-IP": "3.3.3.3"}, "1.1.1.1", domain.SourceCFConnectingIP},
		{"xff_first_hop", map[string]string{"X-Forwarded-For": " 2.2.2.2 , 10.0.0.5", "X-Real-IP": "3.3.3.3"}, "2.2.2.2", domain.SourceXForwardedFor},
		{"bad_cf_skipped", map[string]string{"CF-Connecting-IP": "nope", "X-Real-IP": "3.3.3.3"}, "3.3.3.3", domain.SourceXRealIP},
		{"bad_xff_skipped", map[string]string{"X-Forwarded-For": "garbage, 2.2.2.2", "X-Real-IP": "3.3.3.3"}, "3.3.3.3", domain.SourceXRealIP},
		{"no_headers_peer", nil, "10.1.1.1", domain.SourcePeer},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			r := httptest.NewRequest(http.MethodGet, "http://example/", nil)
			r.RemoteAddr = "10.1.1.1:443"
			for k, v := range c.headers {
				r.Header.Set(k, v)
			}
			ip, src, ok := res.Resolve(r)
			if !ok || ip.String() != c.want || src != c.source {
				t.Fatalf("got %v %q %v; want %s %q", ip, src, ok, c.want, c.source)
			}
		})
	}
}

func TestClientIPResolver_EmptyTrustSetIgnoresHeaders(t *testing.T) {
	res := ClientIPResolver{Trust: infra.NewTrustStore("", nil)}

	r := httptest.NewRequest(http.MethodGet, "http://example/", nil)
	r.RemoteAddr = "127.0.0.1:9999"
	r.Header.Set("X-Forwarded-For", "6.6.6.6")
	r.Header.Set("CF-Connecting-IP", "7.7.7.7")

	ip, src, _ := res.Resolve(r)
	if ip.String() != "127.0.0.1" || src != domain.SourcePeer {
		t.Fatalf("expected peer 127.0.0.1, got %v %q", ip, src)
	}
}

func TestProxyMiddleware_SetsContextAndForwardHeader(t *testing.T) {
	var gotIP netip.Addr
	var gotHeader string
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotIP, _ = ClientIPFromContext(r.Context())
		gotHeader = r.Header.Get("X-Client-IP")
	})

	h := ProxyMiddleware(ProxyOptions{
		Trust:         infra.NewTrustStore("10.0.0.0/8", nil),
		ForwardHeader: "X-Client-IP",
	})(next)

	r := httptest.NewRequest(http.MethodGet, "http://example/", nil)
	r.RemoteAddr = "10.0.0.1:1"
	r.Header.Set("X-Forwarded-For", "198.51.100.1")
	r.Header.Set("X-Client-IP", "forged")
	h.ServeHTTP(httptest.NewRecorder(), r)

	if gotIP.String() != "198.51.100.1" {
		t.Fatalf("expected context ip 198.51.100.1, got %v", gotIP)
	}
	if gotHeader != "198.51.100.1" {
		t.Fatalf("expected forwarded header overwritten, got %q", gotHeader)
	}
}
