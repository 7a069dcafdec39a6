package urlutil

import (
	"crypto/tls"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"pgregory.net/rapid"
)

func TestNormalizeMountPath(t *testing.T) {
	cases := map[string]string{
		"":             "",
		"/":            "",
		" runestone ":  "/runestone",
		"/runestone/":  "/runestone",
		"runestone/":   "/runestone",
		"/a/b/":        "/a/b",
		"//runestone/": "/runestone",
	}
	for in, want := range cases {
		if got := NormalizeMountPath(in); got != want {
			t.Errorf("NormalizeMountPath(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestNormalizeMountPath_Idempotent(t *testing.T) {
	rapid.Check(t, func(rt *rapid.T) {
		p := rapid.StringMatching(`/?[a-z]{0,8}(/[a-z]{1,8}){0,2}/?`).Draw(rt, "path")
		once := NormalizeMountPath(p)
		if twice := NormalizeMountPath(once); twice != once {
			rt.Fatalf("not idempotent: %q -> %q -> %q", p, once, twice)
		}
		if once != "" && (!strings.HasPrefix(once, "/") || strings.HasSuffix(once, "/")) {
			rt.Fatalf("bad shape %q", once)
		}
	})
}

func TestJoin_GeneratesExpectedURLs(t *testing.T) {
	rapid.Check(t, func(rt *rapid.T) {
		base := fmt.Sprintf(
			"http://%s.%s:%d",
			rapid.StringMatching(`[a-z]{3,12}`).Draw(rt, "host"),
			rapid.StringMatching(`[a-z]{2,8}`).Draw(rt, "tld"),
			rapid.IntRange(1024, 9999).Draw(rt, "port"),
		)
		if rapid.Bool().Draw(rt, "trailingSlash") {
			base += "/"
		}

		var path string
		switch rapid.IntRange(0, 3).Draw(rt, "pathKind") {
		case 0:
			path = ""
		case 1:
			path = "/runestone/" + rapid.StringMatching(`[a-z]{1,12}`).Draw(rt, "rooted")
		case 2:
			path = "static/" + rapid.StringMatching(`[a-z]{1,12}`).Draw(rt, "relative")
		case 3:
			path = "https://elsewhere.test/" + rapid.StringMatching(`[a-z]{1,12}`).Draw(rt, "absolute")
		}

		got := Join(base, path)
		trimmed := strings.TrimRight(base, "/")
		var want string
		switch {
		case path == "":
			want = trimmed
		case strings.HasPrefix(path, "https://"):
			want = path
		case strings.HasPrefix(path, "/"):
			want = trimmed + path
		default:
			want = trimmed + "/" + path
		}
		if got != want {
			rt.Fatalf("Join(%q, %q) = %q, want %q", base, path, got, want)
		}
	})
}

func TestRequestScheme(t *testing.T) {
	plain := httptest.NewRequest(http.MethodGet, "http://example.test/", nil)
	if got := RequestScheme(plain); got != "http" {
		t.Errorf("plain request scheme = %q", got)
	}
	if IsSecure(plain) {
		t.Error("plain request reported secure")
	}

	proxied := httptest.NewRequest(http.MethodGet, "http://example.test/", nil)
	proxied.Header.Set("X-Forwarded-Proto", "https, http")
	if !IsSecure(proxied) {
		t.Error("forwarded https not honoured")
	}

	tlsReq := httptest.NewRequest(http.MethodGet, "https://example.test/", nil)
	tlsReq.TLS = &tls.ConnectionState{}
	if !IsSecure(tlsReq) {
		t.Error("TLS request not secure")
	}
}

func TestRequestScheme_IgnoresUnknownForwardedProto(t *testing.T) {
	rapid.Check(t, func(rt *rapid.T) {
		req := httptest.NewRequest(http.MethodGet, "http://preview.example.test/", nil)
		req.Header.Set("X-Forwarded-Proto", rapid.SampledFrom([]string{"ftp", "wss", "chrome://", "ws"}).Draw(rt, "proto"))
		if got := RequestScheme(req); got != "http" {
			rt.Fatalf("unknown forwarded proto gave %q", got)
		}
	})
}
