package middleware

import (
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"google.golang.org/grpc"
)

func TestRequestIDGeneratedAndEchoed(t *testing.T) {
	var seen string
	h := RequestID(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = GetRequestID(r.Context())
	}))

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))

	if seen == "" {
		t.Fatal("expected a generated request ID")
	}
	if rec.Header().Get(RequestIDHeader) != seen {
		t.Errorf("response header = %q, want %q", rec.Header().Get(RequestIDHeader), seen)
	}
}

func TestRequestIDPreserved(t *testing.T) {
	h := RequestID(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set(RequestIDHeader, "abc-123")

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	if got := rec.Header().Get(RequestIDHeader); got != "abc-123" {
		t.Errorf("request ID = %q, want abc-123", got)
	}
}

func TestRecoveryAndLogger(t *testing.T) {
	var buf bytes.Buffer
	log := zerolog.New(&buf)

	h := Logger(&log)(Recovery(&log)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		panic("boom")
	})))

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/letters", nil))

	if rec.Code != http.StatusInternalServerError {
		t.Errorf("status = %d, want 500", rec.Code)
	}
	if !strings.Contains(buf.String(), "Recovered from panic") {
		t.Errorf("missing panic log: %s", buf.String())
	}
	if !strings.Contains(buf.String(), `"status":500`) {
		t.Errorf("access log should record status 500: %s", buf.String())
	}
}

func TestTimeoutSetsDeadline(t *testing.T) {
	h := Timeout(time.Second)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if _, ok := r.Context().Deadline(); !ok {
			t.Error("expected a deadline on the request context")
		}
	}))
	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/", nil))
}

func TestUnaryTimeout(t *testing.T) {
	info := &grpc.UnaryServerInfo{FullMethod: "/procurement.v1.LetterWorkflow/Decide"}

	tests := []struct {
		name     string
		timeout  time.Duration
		client   time.Duration
		want     bool
		maxUntil time.Duration
	}{
		{"adds deadline", time.Second, 0, true, time.Second},
		{"client deadline is shorter", time.Minute, 50 * time.Millisecond, true, 50 * time.Millisecond},
		{"disabled", 0, 0, false, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctx := context.Background()
			if tt.client > 0 {
				var cancel context.CancelFunc
				ctx, cancel = context.WithTimeout(ctx, tt.client)
				defer cancel()
			}

			_, err := UnaryTimeout(tt.timeout)(ctx, nil, info, func(ctx context.Context, _ any) (any, error) {
				deadline, ok := ctx.Deadline()
				if ok != tt.want {
					t.Fatalf("deadline present = %v, want %v", ok, tt.want)
				}
				if ok && time.Until(deadline) > tt.maxUntil {
					t.Errorf("deadline in %v, want at most %v", time.Until(deadline), tt.maxUntil)
				}
				return nil, nil
			})
			if err != nil {
				t.Fatalf("interceptor error = %v", err)
			}
		})
	}
}
