package middleware

import (
	"crypto/tls"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
)

func TestSecurityHeaders(t *testing.T) {
	gin.SetMode(gin.TestMode)

	run := func(opt SecurityOptions, mutate func(*http.Request)) http.Header {
		r := gin.New()
		r.Use(SecurityHeaders(opt))
		r.GET("/ok", func(c *gin.Context) { c.Status(http.StatusOK) })
		w := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodGet, "/ok", nil)
		if mutate != nil {
			mutate(req)
		}
		r.ServeHTTP(w, req)
		return w.Header()
	}

	h := run(SecurityOptions{}, nil)
	if h.Get("X-Content-Type-Options") != "nosniff" || h.Get("X-Frame-Options") != "DENY" || h.Get("Referrer-Policy") != "no-referrer" {
		t.Fatalf("baseline: %v", h)
	}
	if h.Get("Permissions-Policy") != "" || h.Get("Cache-Control") != "" || h.Get("Strict-Transport-Security") != "" {
		t.Fatalf("optional headers set by default: %v", h)
	}

	h = run(SecurityOptions{NoStore: true, EnablePolicy: true}, nil)
	if h.Get("Cache-Control") != "no-store" || h.Get("Permissions-Policy") == "" {
		t.Fatalf("no-store and policy: %v", h)
	}

	hsts := SecurityOptions{EnableHSTS: true, HSTSMaxAge: time.Hour}
	if h := run(hsts, nil); h.Get("Strict-Transport-Security") != "" {
		t.Fatalf("HSTS over plain HTTP")
	}
	if h := run(hsts, func(r *http.Request) { r.TLS = &tls.ConnectionState{} }); h.Get("Strict-Transport-Security") != "max-age=3600; includeSubDomains" {
		t.Fatalf("HSTS over TLS: %q", h.Get("Strict-Transport-Security"))
	}
	h = run(SecurityOptions{EnableHSTS: true}, func(r *http.Request) { r.Header.Set("X-Forwarded-Proto", "HTTPS") })
	if h.Get("Strict-Transport-Security") != "max-age=15552000; includeSubDomains" {
		t.Fatalf("HSTS default age via proxy: %q", h.Get("Strict-Transport-Security"))
	}
}
