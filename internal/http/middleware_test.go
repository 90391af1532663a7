package http

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/example/party-scheduler/internal/logging"
)

const (
	testSecret = "test-secret-with-enough-entropy"
	testIssuer = "https://id.example"
)

func signToken(t *testing.T, secret, subject, issuer string, ttl time.Duration) string {
	t.Helper()
	now := time.Now()
	claims := jwt.RegisteredClaims{
		Subject:   subject,
		Issuer:    issuer,
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
	if err != nil {
		t.Fatalf("sign token: %v", err)
	}
	return signed
}

func TestJWTVerifier_VerifyToken(t *testing.T) {
	t.Parallel()

	verifier := NewJWTVerifier(testSecret, testIssuer)

	noneToken, err := jwt.NewWithClaims(jwt.SigningMethodNone, jwt.RegisteredClaims{Subject: "alice", Issuer: testIssuer}).SignedString(jwt.UnsafeAllowNoneSignatureType)
	if err != nil {
		t.Fatalf("sign none token: %v", err)
	}

	tests := []struct {
		name    string
		token   string
		want    string
		wantErr bool
	}{
		{name: "valid", token: signToken(t, testSecret, "alice", testIssuer, time.Hour), want: "alice"},
		{name: "wrong secret", token: signToken(t, "another-secret", "alice", testIssuer, time.Hour), wantErr: true},
		{name: "wrong issuer", token: signToken(t, testSecret, "alice", "https://evil.example", time.Hour), wantErr: true},
		{name: "expired", token: signToken(t, testSecret, "alice", testIssuer, -time.Hour), wantErr: true},
		{name: "missing subject", token: signToken(t, testSecret, "", testIssuer, time.Hour), wantErr: true},
		{name: "unsigned", token: noneToken, wantErr: true},
		{name: "garbage", token: "not-a-jwt", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := verifier.VerifyToken(context.Background(), tt.token)
			if tt.wantErr {
				if !errors.Is(err, ErrInvalidToken) {
					t.Fatalf("expected ErrInvalidToken, got %v", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("VerifyToken returned error: %v", err)
			}
			if got != tt.want {
				t.Fatalf("subject = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestJWTVerifier_IssuerOptional(t *testing.T) {
	t.Parallel()

	verifier := NewJWTVerifier(testSecret, "")
	got, err := verifier.VerifyToken(context.Background(), signToken(t, testSecret, "bob", "anyone", time.Hour))
	if err != nil || got != "bob" {
		t.Fatalf("expected bob, got %q (%v)", got, err)
	}
}

type stubVerifier struct {
	userID string
	err    error
}

func (s stubVerifier) VerifyToken(context.Context, string) (string, error) {
	return s.userID, s.err
}

func TestRequireIdentity(t *testing.T) {
	t.Parallel()

	var seen string
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen, _ = UserIDFromContext(r.Context())
		w.WriteHeader(http.StatusNoContent)
	})

	tests := []struct {
		name       string
		header     string
		verifier   IdentityVerifier
		wantStatus int
		wantUser   string
	}{
		{name: "missing header", verifier: stubVerifier{userID: "alice"}, wantStatus: http.StatusUnauthorized},
		{name: "wrong scheme", header: "Basic abc", verifier: stubVerifier{userID: "alice"}, wantStatus: http.StatusUnauthorized},
		{name: "rejected token", header: "Bearer abc", verifier: stubVerifier{err: ErrInvalidToken}, wantStatus: http.StatusUnauthorized},
		{name: "accepted token", header: "bearer abc", verifier: stubVerifier{userID: "alice"}, wantStatus: http.StatusNoContent, wantUser: "alice"},
		{name: "no verifier", header: "Bearer abc", wantStatus: http.StatusServiceUnavailable},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			seen = ""
			handler := RequireIdentity(tt.verifier, quietLogger())(next)
			req := httptest.NewRequest(http.MethodGet, "/servers/s1", nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			rec := httptest.NewRecorder()
			handler.ServeHTTP(rec, req)

			if rec.Code != tt.wantStatus {
				t.Fatalf("status = %d, want %d (%s)", rec.Code, tt.wantStatus, rec.Body.String())
			}
			if seen != tt.wantUser {
				t.Fatalf("user id = %q, want %q", seen, tt.wantUser)
			}
		})
	}
}

func TestRequestLogger_AttachesRequestScopedLogger(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	base := slog.New(slog.NewJSONHandler(&buf, &slog.HandlerOptions{Level: slog.LevelInfo}))

	var hadLogger bool
	handler := RequestLogger(base)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hadLogger = logging.FromContext(r.Context()) != nil
		w.WriteHeader(http.StatusTeapot)
	}))

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	req.Header.Set("X-Request-ID", "req-42")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if !hadLogger {
		t.Fatalf("expected logger in request context")
	}
	if rec.Header().Get("X-Request-ID") != "req-42" {
		t.Fatalf("expected request id to be echoed, got %q", rec.Header().Get("X-Request-ID"))
	}

	var entry map[string]any
	if err := json.Unmarshal(bytes.TrimSpace(buf.Bytes()), &entry); err != nil {
		t.Fatalf("expected a single JSON log line, got %q: %v", buf.String(), err)
	}
	if entry["msg"] != "request completed" || entry["request_id"] != "req-42" {
		t.Fatalf("unexpected log entry %v", entry)
	}
	if status, _ := entry["status"].(float64); int(status) != http.StatusTeapot {
		t.Fatalf("expected status %d in log, got %v", http.StatusTeapot, entry["status"])
	}
}

func TestRequestLogger_GeneratesRequestID(t *testing.T) {
	t.Parallel()

	handler := RequestLogger(quietLogger())(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))

	if id := rec.Header().Get("X-Request-ID"); len(id) != 36 || strings.Count(id, "-") != 4 {
		t.Fatalf("expected generated uuid request id, got %q", id)
	}
}
