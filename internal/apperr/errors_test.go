package apperr

import (
	"errors"
	"fmt"
	"net/http"
	"testing"
)

func TestKindMatching(t *testing.T) {
	tests := []struct {
		name   string
		err    error
		target error
		status int
	}{
		{"validation", Validation("title", "MISSING_TITLE", "title is required"), ErrValidation, http.StatusBadRequest},
		{"unauthorized", Unauthorized("invalid credentials"), ErrUnauthorized, http.StatusUnauthorized},
		{"forbidden", Forbidden("not yours"), ErrForbidden, http.StatusForbidden},
		{"not found", NotFound("track not found"), ErrNotFound, http.StatusNotFound},
		{"conflict", Conflict("email", "email already registered"), ErrConflict, http.StatusConflict},
		{"too large", TooLarge("FILE_TOO_LARGE", "file too large"), ErrTooLarge, http.StatusRequestEntityTooLarge},
		{"internal", Internal(errors.New("disk on fire")), ErrInternal, http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			wrapped := fmt.Errorf("handler: %w", tt.err)
			if !errors.Is(wrapped, tt.target) {
				t.Errorf("errors.Is(%v, %v) = false", wrapped, tt.target)
			}
			if got := KindOf(wrapped).HTTPStatus(); got != tt.status {
				t.Errorf("HTTPStatus() = %d, want %d", got, tt.status)
			}
		})
	}

	if errors.Is(NotFound("x"), ErrConflict) {
		t.Error("NotFound must not match ErrConflict")
	}
	// a specific message is not a sentinel
	if errors.Is(NotFound("x"), NotFound("y")) {
		t.Error("errors with messages must not match each other")
	}
}

func TestClassify(t *testing.T) {
	if Classify(nil) != nil {
		t.Fatal("Classify(nil) should be nil")
	}

	cause := errors.New("connection reset")
	err := Classify(cause)
	if KindOf(err) != KindInternal {
		t.Errorf("KindOf(Classify(plain)) = %s, want internal", KindOf(err))
	}
	if !errors.Is(err, cause) {
		t.Error("Classify should keep the cause reachable")
	}

	nf := NotFound("user not found")
	if got := Classify(nf); got != error(nf) {
		t.Errorf("Classify should return classified errors unchanged, got %v", got)
	}
}

func TestInternalHidesCause(t *testing.T) {
	err := Internal(errors.New("pq: password authentication failed"))
	if err.Message != "internal server error" {
		t.Errorf("Message = %q", err.Message)
	}
	if err.Error() != "internal server error: pq: password authentication failed" {
		t.Errorf("Error() = %q", err.Error())
	}
}
