// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package messaging

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/Verbund-Offener-Werkstaetten/vow-matrix-invite-bot/lib/ref"
	"github.com/Verbund-Offener-Werkstaetten/vow-matrix-invite-bot/lib/secret"
)

// testBuffer creates a secret.Buffer from a string for testing. The buffer
// is automatically closed when the test completes.
func testBuffer(t *testing.T, value string) *secret.Buffer {
	t.Helper()
	buffer, err := secret.NewFromBytes([]byte(value))
	if err != nil {
		t.Fatalf("creating test buffer: %v", err)
	}
	t.Cleanup(func() { buffer.Close() })
	return buffer
}

// testSession starts an httptest server with handler and returns a
// session authenticated with the token "syt_bot_token".
func testSession(t *testing.T, handler http.HandlerFunc) *DirectSession {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	client, err := NewClient(ClientConfig{HomeserverURL: server.URL})
	if err != nil {
		t.Fatalf("NewClient failed: %v", err)
	}
	token, err := secret.NewFromBytes([]byte("syt_bot_token"))
	if err != nil {
		t.Fatalf("creating token buffer: %v", err)
	}
	session := client.SessionFromToken(ref.MustParseUserID("@bot:werkstatt.example"), token)
	t.Cleanup(func() { session.Close() })
	return session
}

func writeJSON(writer http.ResponseWriter, status int, value any) {
	writer.Header().Set("Content-Type", "application/json")
	writer.WriteHeader(status)
	json.NewEncoder(writer).Encode(value)
}

func TestNewClient(t *testing.T) {
	t.Run("valid URL", func(t *testing.T) {
		client, err := NewClient(ClientConfig{HomeserverURL: "http://localhost:8008/"})
		if err != nil {
			t.Fatalf("NewClient failed: %v", err)
		}
		if client.baseURL != "http://localhost:8008" {
			t.Errorf("baseURL = %q, want trailing slash trimmed", client.baseURL)
		}
	})

	t.Run("empty URL", func(t *testing.T) {
		if _, err := NewClient(ClientConfig{}); err == nil {
			t.Fatal("expected error for empty URL")
		}
	})

	t.Run("invalid URL", func(t *testing.T) {
		if _, err := NewClient(ClientConfig{HomeserverURL: "://invalid"}); err == nil {
			t.Fatal("expected error for invalid URL")
		}
	})
}

func TestLogin(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(writer http.ResponseWriter, request *http.Request) {
		if request.URL.Path != "/_matrix/client/v3/login" {
			t.Errorf("unexpected path: %s", request.URL.Path)
			writer.WriteHeader(http.StatusNotFound)
			return
		}
		if request.Header.Get("Authorization") != "" {
			t.Error("login request should not carry an Authorization header")
		}
		var body LoginRequest
		if err := json.NewDecoder(request.Body).Decode(&body); err != nil {
			t.Fatalf("failed to decode request body: %v", err)
		}
		if body.Type != "m.login.password" {
			t.Errorf("login type = %q", body.Type)
		}
		if body.Identifier.Type != "m.id.user" || body.Identifier.User != "@bot:werkstatt.example" {
			t.Errorf("identifier = %+v", body.Identifier)
		}
		if body.Password != "hunter2" {
			t.Errorf("password = %q", body.Password)
		}
		if body.DeviceID != "BOTDEVICE" {
			t.Errorf("device_id = %q", body.DeviceID)
		}
		writeJSON(writer, http.StatusOK, AuthResponse{
			UserID:      ref.MustParseUserID("@bot:werkstatt.example"),
			AccessToken: "syt_new_token",
			DeviceID:    "BOTDEVICE",
		})
	}))
	defer server.Close()

	client, err := NewClient(ClientConfig{HomeserverURL: server.URL})
	if err != nil {
		t.Fatalf("NewClient failed: %v", err)
	}
	session, err := client.Login(context.Background(),
		ref.MustParseUserID("@bot:werkstatt.example"), testBuffer(t, "hunter2"), "BOTDEVICE")
	if err != nil {
		t.Fatalf("Login failed: %v", err)
	}
	defer session.Close()

	if session.UserID().String() != "@bot:werkstatt.example" {
		t.Errorf("UserID = %s", session.UserID())
	}
	if session.DeviceID() != "BOTDEVICE" {
		t.Errorf("DeviceID = %q", session.DeviceID())
	}
	if session.accessToken.String() != "syt_new_token" {
		t.Errorf("access token = %q", session.accessToken.String())
	}
}

func TestLoginRequiresCredentials(t *testing.T) {
	client, err := NewClient(ClientConfig{HomeserverURL: "http://localhost:8008"})
	if err != nil {
		t.Fatalf("NewClient failed: %v", err)
	}
	if _, err := client.Login(context.Background(), ref.UserID{}, testBuffer(t, "x"), ""); err == nil {
		t.Error("expected error for zero user ID")
	}
	if _, err := client.Login(context.Background(), ref.MustParseUserID("@bot:werkstatt.example"), nil, ""); err == nil {
		t.Error("expected error for nil password")
	}
}

func TestMatrixErrorParsing(t *testing.T) {
	session := testSession(t, func(writer http.ResponseWriter, request *http.Request) {
		writeJSON(writer, http.StatusTooManyRequests, map[string]any{
			"errcode":        "M_LIMIT_EXCEEDED",
			"error":          "Too many requests",
			"retry_after_ms": 1500,
		})
	})

	_, err := session.WhoAmI(context.Background())
	if err == nil {
		t.Fatal("expected error")
	}
	if !IsMatrixError(err, ErrCodeLimitExceeded) {
		t.Fatalf("expected M_LIMIT_EXCEEDED, got %v", err)
	}
	var matrixErr *MatrixError
	if !errors.As(err, &matrixErr) {
		t.Fatal("errors.As failed")
	}
	if matrixErr.StatusCode != http.StatusTooManyRequests {
		t.Errorf("StatusCode = %d", matrixErr.StatusCode)
	}
	if matrixErr.RetryAfter().Milliseconds() != 1500 {
		t.Errorf("RetryAfter = %v", matrixErr.RetryAfter())
	}
}

func TestNonMatrixErrorBody(t *testing.T) {
	session := testSession(t, func(writer http.ResponseWriter, request *http.Request) {
		writer.WriteHeader(http.StatusBadGateway)
		writer.Write([]byte("<html>upstream down</html>"))
	})

	_, err := session.WhoAmI(context.Background())
	if err == nil {
		t.Fatal("expected error")
	}
	var matrixErr *MatrixError
	if errors.As(err, &matrixErr) {
		t.Fatalf("HTML error page parsed as MatrixError: %v", matrixErr)
	}
	if !strings.Contains(err.Error(), "502") {
		t.Errorf("error should mention status: %v", err)
	}
}

func TestUserAgentHeader(t *testing.T) {
	session := testSession(t, func(writer http.ResponseWriter, request *http.Request) {
		if !strings.HasPrefix(request.Header.Get("User-Agent"), "vow-invite-bot/") {
			t.Errorf("User-Agent = %q", request.Header.Get("User-Agent"))
		}
		if request.Header.Get("Authorization") != "Bearer syt_bot_token" {
			t.Errorf("Authorization = %q", request.Header.Get("Authorization"))
		}
		writeJSON(writer, http.StatusOK, WhoAmIResponse{UserID: ref.MustParseUserID("@bot:werkstatt.example")})
	})

	userID, err := session.WhoAmI(context.Background())
	if err != nil {
		t.Fatalf("WhoAmI failed: %v", err)
	}
	if userID.String() != "@bot:werkstatt.example" {
		t.Errorf("WhoAmI = %s", userID)
	}
}
