package middleware

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

func signToken(t *testing.T, secret string, userID string, exp time.Time) string {
	t.Helper()
	claims := Claims{
		UserID: userID,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(exp),
			IssuedAt:  jwt.NewNumericDate(time.Now()),
		},
	}
	tok, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	return tok
}

func errorCode(t *testing.T, rr *httptest.ResponseRecorder) string {
	t.Helper()
	var body struct {
		Error struct {
			Code string `json:"code"`
		} `json:"error"`
	}
	if err := json.NewDecoder(rr.Body).Decode(&body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	return body.Error.Code
}

func TestJWTAuth_Middleware(t *testing.T) {
	auth := NewJWTAuth("secret")
	userID := uuid.New()

	var seen uuid.UUID
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = GetUserID(r.Context())
		w.WriteHeader(http.StatusNoContent)
	})

	tests := []struct {
		name       string
		header     string
		wantStatus int
		wantCode   string
	}{
		{"valid", "Bearer " + signToken(t, "secret", userID.String(), time.Now().Add(time.Minute)), http.StatusNoContent, ""},
		{"missing header", "", http.StatusUnauthorized, "UNAUTHORIZED"},
		{"wrong scheme", "Basic abc", http.StatusUnauthorized, "UNAUTHORIZED"},
		{"expired", "Bearer " + signToken(t, "secret", userID.String(), time.Now().Add(-time.Minute)), http.StatusUnauthorized, "TOKEN_EXPIRED"},
		{"wrong secret", "Bearer " + signToken(t, "other", userID.String(), time.Now().Add(time.Minute)), http.StatusUnauthorized, "UNAUTHORIZED"},
		{"bad user id", "Bearer " + signToken(t, "secret", "not-a-uuid", time.Now().Add(time.Minute)), http.StatusUnauthorized, "UNAUTHORIZED"},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			seen = uuid.Nil
			req := httptest.NewRequest(http.MethodGet, "/api/v1/courses", nil)
			if tc.header != "" {
				req.Header.Set("Authorization", tc.header)
			}
			rr := httptest.NewRecorder()

			auth.Middleware(next).ServeHTTP(rr, req)

			if rr.Code != tc.wantStatus {
				t.Fatalf("Expected status %d, got %d", tc.wantStatus, rr.Code)
			}
			if tc.wantCode != "" {
				if got := errorCode(t, rr); got != tc.wantCode {
					t.Errorf("Expected code %q, got %q", tc.wantCode, got)
				}
				return
			}
			if seen != userID {
				t.Errorf("Expected user %s in context, got %s", userID, seen)
			}
		})
	}
}

func TestRequestID(t *testing.T) {
	var seen string
	h := RequestID(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = GetRequestID(r.Context())
	}))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set(RequestIDHeader, "abc-123")
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)

	if seen != "abc-123" || rr.Header().Get(RequestIDHeader) != "abc-123" {
		t.Errorf("Expected incoming id to be kept, got ctx=%q header=%q", seen, rr.Header().Get(RequestIDHeader))
	}

	rr = httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/", nil))
	if _, err := uuid.Parse(seen); err != nil {
		t.Errorf("Expected a generated uuid, got %q", seen)
	}
}

func TestRateLimit_KeysByUser(t *testing.T) {
	auth := NewJWTAuth("secret")
	limited := auth.Middleware(RateLimit(2, time.Minute)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})))

	alice := "Bearer " + signToken(t, "secret", uuid.NewString(), time.Now().Add(time.Minute))
	bob := "Bearer " + signToken(t, "secret", uuid.NewString(), time.Now().Add(time.Minute))

	call := func(token string) int {
		req := httptest.NewRequest(http.MethodPost, "/api/v1/zoom/meetings", nil)
		req.Header.Set("Authorization", token)
		rr := httptest.NewRecorder()
		limited.ServeHTTP(rr, req)
		return rr.Code
	}

	for i := 0; i < 2; i++ {
		if code := call(alice); code != http.StatusOK {
			t.Fatalf("request %d: expected 200, got %d", i+1, code)
		}
	}
	if code := call(alice); code != http.StatusTooManyRequests {
		t.Errorf("Expected third request to be limited, got %d", code)
	}
	if code := call(bob); code != http.StatusOK {
		t.Errorf("Expected a different user to have its own budget, got %d", code)
	}
}
