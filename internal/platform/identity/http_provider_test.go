package identity

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/rs/zerolog"
)

// providerStub mimics the identity provider's REST API with scriptable
// send/confirm behavior.
type providerStub struct {
	initCalls   int32
	deleteCalls int32
	sendStatus  int
	sendError   string
	confirmFn   func() (int, string, string) // status, error code, assertion
}

func (s *providerStub) handler(t *testing.T) http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /v1/challenge", func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&s.initCalls, 1)
		json.NewEncoder(w).Encode(map[string]string{"challenge_id": "ch-1"})
	})
	mux.HandleFunc("POST /v1/challenge/ch-1/send", func(w http.ResponseWriter, r *http.Request) {
		status := s.sendStatus
		if status == 0 {
			status = http.StatusOK
		}
		w.WriteHeader(status)
		if s.sendError != "" {
			json.NewEncoder(w).Encode(map[string]string{"error": s.sendError})
		}
	})
	mux.HandleFunc("POST /v1/challenge/ch-1/confirm", func(w http.ResponseWriter, r *http.Request) {
		status, code, assertion := s.confirmFn()
		w.WriteHeader(status)
		if code != "" {
			json.NewEncoder(w).Encode(map[string]string{"error": code})
			return
		}
		json.NewEncoder(w).Encode(map[string]string{"assertion": assertion})
	})
	mux.HandleFunc("DELETE /v1/challenge/ch-1", func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&s.deleteCalls, 1)
	})
	return mux
}

func newStubFlow(t *testing.T, stub *providerStub) Flow {
	t.Helper()
	srv := httptest.NewServer(stub.handler(t))
	t.Cleanup(srv.Close)
	return NewHTTPProvider(srv.URL, "test-key", zerolog.Nop()).NewFlow()
}

func TestFlow_SendAndVerify(t *testing.T) {
	stub := &providerStub{confirmFn: func() (int, string, string) {
		return http.StatusOK, "", "assertion-1"
	}}
	f := newStubFlow(t, stub)

	if f.State() != StateIdle {
		t.Fatalf("new flow state = %v, want idle", f.State())
	}
	if err := f.SendCode(context.Background(), "+15551234567"); err != nil {
		t.Fatalf("send: %v", err)
	}
	if f.State() != StateChallengeSent {
		t.Fatalf("state after send = %v, want challenge_sent", f.State())
	}

	assertion, err := f.VerifyCode(context.Background(), "123456")
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	if assertion != "assertion-1" {
		t.Errorf("assertion = %q", assertion)
	}
	if f.State() != StateVerified {
		t.Errorf("state after verify = %v, want verified", f.State())
	}
}

// The bot-check handshake is initialized once and reused across resends.
func TestFlow_HandshakeReused(t *testing.T) {
	stub := &providerStub{confirmFn: func() (int, string, string) {
		return http.StatusOK, "", "a"
	}}
	f := newStubFlow(t, stub)

	for i := 0; i < 3; i++ {
		if err := f.SendCode(context.Background(), "+15551234567"); err != nil {
			t.Fatalf("send %d: %v", i, err)
		}
	}
	if got := atomic.LoadInt32(&stub.initCalls); got != 1 {
		t.Errorf("challenge initialized %d times, want 1", got)
	}
}

func TestFlow_VerifyWithoutSend(t *testing.T) {
	stub := &providerStub{confirmFn: func() (int, string, string) {
		return http.StatusOK, "", "a"
	}}
	f := newStubFlow(t, stub)

	if _, err := f.VerifyCode(context.Background(), "123456"); !errors.Is(err, ErrNoActiveChallenge) {
		t.Errorf("got %v, want ErrNoActiveChallenge", err)
	}
}

// An invalid code keeps the challenge alive so the user can retry; an expired
// code tears it down and forces a fresh send.
func TestFlow_InvalidCodeRetries_ExpiredResets(t *testing.T) {
	status := http.StatusBadRequest
	code := "invalid_code"
	stub := &providerStub{confirmFn: func() (int, string, string) {
		return status, code, ""
	}}
	f := newStubFlow(t, stub)

	if err := f.SendCode(context.Background(), "+15551234567"); err != nil {
		t.Fatalf("send: %v", err)
	}

	if _, err := f.VerifyCode(context.Background(), "000000"); !errors.Is(err, ErrInvalidCode) {
		t.Fatalf("got %v, want ErrInvalidCode", err)
	}
	if f.State() != StateChallengeSent {
		t.Errorf("state after invalid code = %v, want challenge_sent", f.State())
	}

	code = "code_expired"
	if _, err := f.VerifyCode(context.Background(), "000000"); !errors.Is(err, ErrCodeExpired) {
		t.Fatalf("got %v, want ErrCodeExpired", err)
	}
	if f.State() != StateIdle {
		t.Errorf("state after expired code = %v, want idle", f.State())
	}
	if got := atomic.LoadInt32(&stub.deleteCalls); got != 1 {
		t.Errorf("challenge torn down %d times, want 1", got)
	}
}

// A provider-internal send failure invalidates the handshake; the next send
// re-initializes it.
func TestFlow_InternalErrorTearsDownHandshake(t *testing.T) {
	stub := &providerStub{
		sendStatus: http.StatusInternalServerError,
		confirmFn: func() (int, string, string) {
			return http.StatusOK, "", "a"
		},
	}
	f := newStubFlow(t, stub)

	if err := f.SendCode(context.Background(), "+15551234567"); !errors.Is(err, ErrProviderInternal) {
		t.Fatalf("got %v, want ErrProviderInternal", err)
	}
	if f.State() != StateIdle {
		t.Errorf("state = %v, want idle", f.State())
	}

	stub.sendStatus = http.StatusOK
	if err := f.SendCode(context.Background(), "+15551234567"); err != nil {
		t.Fatalf("send after recovery: %v", err)
	}
	if got := atomic.LoadInt32(&stub.initCalls); got != 2 {
		t.Errorf("challenge initialized %d times, want re-init after failure", got)
	}
}

func TestFlow_RateLimitedKeepsHandle(t *testing.T) {
	stub := &providerStub{
		sendStatus: http.StatusTooManyRequests,
		confirmFn: func() (int, string, string) {
			return http.StatusOK, "", "a"
		},
	}
	f := newStubFlow(t, stub)

	if err := f.SendCode(context.Background(), "+15551234567"); !errors.Is(err, ErrRateLimited) {
		t.Fatalf("got %v, want ErrRateLimited", err)
	}

	stub.sendStatus = http.StatusOK
	if err := f.SendCode(context.Background(), "+15551234567"); err != nil {
		t.Fatalf("send after throttle: %v", err)
	}
	if got := atomic.LoadInt32(&stub.initCalls); got != 1 {
		t.Errorf("challenge initialized %d times, want handle reuse", got)
	}
}

func TestFlow_Reset(t *testing.T) {
	stub := &providerStub{confirmFn: func() (int, string, string) {
		return http.StatusOK, "", "a"
	}}
	f := newStubFlow(t, stub)

	if err := f.SendCode(context.Background(), "+15551234567"); err != nil {
		t.Fatalf("send: %v", err)
	}
	f.Reset()
	if f.State() != StateIdle {
		t.Errorf("state after reset = %v, want idle", f.State())
	}
	if got := atomic.LoadInt32(&stub.deleteCalls); got != 1 {
		t.Errorf("challenge torn down %d times, want 1", got)
	}
	// Reset on an idle flow is a no-op.
	f.Reset()
	if got := atomic.LoadInt32(&stub.deleteCalls); got != 1 {
		t.Errorf("idle reset issued teardown, delete calls = %d", got)
	}
}
