package middleware

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"
)

func newContext() (echo.Context, *httptest.ResponseRecorder) {
	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	rec := httptest.NewRecorder()
	return e.NewContext(req, rec), rec
}

func TestRequestIDGenerated(t *testing.T) {
	c, rec := newContext()
	handler := RequestID()(func(c echo.Context) error {
		return c.NoContent(http.StatusOK)
	})
	if err := handler(c); err != nil {
		t.Fatalf("handler: %v", err)
	}
	rid, _ := c.Get("request_id").(string)
	if rid == "" {
		t.Errorf("request_id not set in context")
	}
	if rec.Header().Get(requestIDHeader) != rid {
		t.Errorf("response header = %q, want %q", rec.Header().Get(requestIDHeader), rid)
	}
}

func TestRequestIDPassthrough(t *testing.T) {
	c, rec := newContext()
	c.Request().Header.Set(requestIDHeader, "upstream-id")
	handler := RequestID()(func(c echo.Context) error {
		return c.NoContent(http.StatusOK)
	})
	if err := handler(c); err != nil {
		t.Fatalf("handler: %v", err)
	}
	if rec.Header().Get(requestIDHeader) != "upstream-id" {
		t.Errorf("caller-supplied request id not kept")
	}
}

func TestSecurityHeaders(t *testing.T) {
	c, rec := newContext()
	handler := SecurityHeaders()(func(c echo.Context) error {
		return c.NoContent(http.StatusOK)
	})
	if err := handler(c); err != nil {
		t.Fatalf("handler: %v", err)
	}
	for header, want := range map[string]string{
		"X-Content-Type-Options": "nosniff",
		"X-Frame-Options":        "DENY",
		"Cache-Control":          "no-store",
		"Referrer-Policy":        "no-referrer",
	} {
		if got := rec.Header().Get(header); got != want {
			t.Errorf("%s = %q, want %q", header, got, want)
		}
	}
}

func TestRateLimitExhaustsBurst(t *testing.T) {
	mw := RateLimit(RateLimitConfig{RequestsPerSecond: 0.001, BurstSize: 3})
	handler := mw(func(c echo.Context) error {
		return c.NoContent(http.StatusOK)
	})

	for i := 0; i < 3; i++ {
		c, _ := newContext()
		if err := handler(c); err != nil {
			t.Fatalf("request %d rejected: %v", i, err)
		}
	}

	c, rec := newContext()
	err := handler(c)
	var he *echo.HTTPError
	if !errors.As(err, &he) || he.Code != http.StatusTooManyRequests {
		t.Fatalf("err = %v, want 429", err)
	}
	if rec.Header().Get("Retry-After") == "" {
		t.Errorf("Retry-After not set")
	}
}

func TestRecoveryTurnsPanicInto500(t *testing.T) {
	c, _ := newContext()
	handler := Recovery(zerolog.Nop())(func(c echo.Context) error {
		panic("boom")
	})
	err := handler(c)
	var he *echo.HTTPError
	if !errors.As(err, &he) || he.Code != http.StatusInternalServerError {
		t.Fatalf("err = %v, want 500", err)
	}
}
