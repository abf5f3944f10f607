package ratelimit

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"admission-gateway/middleware/ratelimit/domain"
	"admission-gateway/middleware/ratelimit/infra"
)

func TestBearerToken(t *testing.T) {
	cases := []struct {
		header string
		want   string
		ok     bool
	}{
		{"Bearer abc", "abc", true},
		{"bearer   xyz ", "xyz", true},
		{"Basic dXNlcjpwYXNz", "", false},
		{"Bearer", "", false},
		{"Bearer    ", "", false},
		{"", "", false},
	}
	for _, c := range cases {
		r := httptest.NewRequest(http.MethodGet, "http://example/", nil)
		if c.header != "" {
			r.Header.Set("Authorization", c.header)
		}
		got, ok := BearerToken(r)
		if got != c.want || ok != c.ok {
			t.Fatalf("BearerToken(%q) = %q,%v; want %q,%v", c.header, got, ok, c.want, c.ok)
		}
	}
}

func TestFingerprint_IsStableHexAndHidesToken(t *testing.T) {
	fp := Fingerprint("super-secret")
	if len(fp) != 64 {
		t.Fatalf("expected 64 hex chars, got %d", len(fp))
	}
	if fp != Fingerprint("super-secret") {
		t.Fatalf("expected deterministic fingerprint")
	}
	if fp == Fingerprint("super-secret2") {
		t.Fatalf("expected different tokens to differ")
	}
	if strings.Contains(fp, "super-secret") {
		t.Fatalf("fingerprint must not contain the raw token")
	}
}

func newKeyReq(remote, auth string) *http.Request {
	r := httptest.NewRequest(http.MethodGet, "http://example/", nil)
	r.RemoteAddr = remote
	if auth != "" {
		r.Header.Set("Authorization", "Bearer "+auth)
	}
	return r
}

func TestKeyResolver_Policies(t *testing.T) {
	fp := Fingerprint("tok")
	k := KeyResolver{IPs: ClientIPResolver{Trust: infra.NewTrustStore("", nil)}}

	cases := []struct {
		name   string
		policy domain.KeyPolicy
		remote string
		token  string
		want   domain.ClientIdentity
	}{
		{"ip_with_ip", domain.PolicyIP, "10.0.0.1:1", "tok",
			domain.ClientIdentity{Key: "10.0.0.1", Type: domain.KeyTypeIP, Source: domain.SourcePeer}},
		{"ip_falls_back_to_token", domain.PolicyIP, "", "tok",
			domain.ClientIdentity{Key: domain.Key(fp), Type: domain.KeyTypeAuth, Source: domain.SourceAuthorization}},
		{"ip_unknown", domain.PolicyIP, "", "",
			domain.ClientIdentity{Key: domain.UnknownKey, Type: domain.KeyTypeUnknown, Source: domain.SourceUnknown}},
		{"auth_with_token", domain.PolicyAuth, "10.0.0.1:1", "tok",
			domain.ClientIdentity{Key: domain.Key(fp), Type: domain.KeyTypeAuth, Source: domain.SourceAuthorization}},
		{"auth_falls_back_to_ip", domain.PolicyAuth, "10.0.0.1:1", "",
			domain.ClientIdentity{Key: "10.0.0.1", Type: domain.KeyTypeIP, Source: domain.SourcePeer}},
		{"auth_ip_composite", domain.PolicyAuthIP, "10.0.0.1:1", "tok",
			domain.ClientIdentity{Key: domain.Key("auth:" + fp + "|ip:10.0.0.1"), Type: domain.KeyTypeAuthIP, Source: "authorization+peer"}},
		{"auth_ip_only_ip", domain.PolicyAuthIP, "10.0.0.1:1", "",
			domain.ClientIdentity{Key: "10.0.0.1", Type: domain.KeyTypeIP, Source: domain.SourcePeer}},
		{"auth_ip_only_token", domain.PolicyAuthIP, "", "tok",
			domain.ClientIdentity{Key: domain.Key(fp), Type: domain.KeyTypeAuth, Source: domain.SourceAuthorization}},
		{"auth_ip_unknown", domain.PolicyAuthIP, "garbage", "",
			domain.ClientIdentity{Key: domain.UnknownKey, Type: domain.KeyTypeUnknown, Source: domain.SourceUnknown}},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			got := k.Resolve(newKeyReq(c.remote, c.token), c.policy)
			if got != c.want {
				t.Fatalf("got %+v, want %+v", got, c.want)
			}
		})
	}
}
