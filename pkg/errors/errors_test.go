package errors

import (
	stderrors "errors"
	"fmt"
	"net/http"
	"testing"
)

func TestHTTPStatus(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{"not found", NotFound("letter", "L1"), http.StatusNotFound},
		{"forbidden", Forbidden("not your turn"), http.StatusForbidden},
		{"invalid", InvalidInput("amount", "must be positive"), http.StatusBadRequest},
		{"configuration", Configuration("no rule"), http.StatusInternalServerError},
		{"approver missing", ApproverNotFound("GM", "U1"), http.StatusInternalServerError},
		{"transient", Transient(stderrors.New("deadlock"), "retry"), http.StatusServiceUnavailable},
		{"conflict", New(ErrCodeConflict, "overlap"), http.StatusConflict},
		{"plain error", stderrors.New("boom"), http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := HTTPStatus(tt.err); got != tt.want {
				t.Errorf("HTTPStatus() = %d, want %d", got, tt.want)
			}
		})
	}
}

func TestWrapKeepsInnerCode(t *testing.T) {
	inner := Forbidden("wrong actor")
	err := Wrap(inner, ErrCodeInternal, "failed to decide")

	if CodeOf(err) != ErrCodeForbidden {
		t.Errorf("CodeOf() = %s, want %s", CodeOf(err), ErrCodeForbidden)
	}
	if !stderrors.Is(err, inner) {
		t.Error("wrapped error should unwrap to the inner error")
	}
}

func TestWrapNil(t *testing.T) {
	if err := Wrap(nil, ErrCodeInternal, "nothing"); err != nil {
		t.Errorf("Wrap(nil) = %v, want nil", err)
	}
}

func TestCodeOfThroughFmtWrap(t *testing.T) {
	err := fmt.Errorf("outer: %w", NotFound("rule", "R1"))
	if !Is(err, ErrCodeNotFound) {
		t.Errorf("Is(NOT_FOUND) = false for %v", err)
	}
	if CodeOf(nil) != "" {
		t.Error("CodeOf(nil) should be empty")
	}
}

func TestApproverNotFoundDetails(t *testing.T) {
	err := ApproverNotFound("role-gm", "unit-ubc")
	if err.Details["role"] != "role-gm" || err.Details["unit"] != "unit-ubc" {
		t.Errorf("unexpected details: %v", err.Details)
	}
}
