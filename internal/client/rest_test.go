package client

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
)

func stubServer(t *testing.T, status int, body string) *httptest.Server {
	t.Helper()
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_, _ = w.Write([]byte(body))
	}))
	t.Cleanup(server.Close)
	return server
}

func TestRESTClientMapsStatusesOntoFailureKinds(t *testing.T) {
	cases := []struct {
		name     string
		status   int
		body     string
		wantKind FailureKind
		wantCode string
	}{
		{name: "unauthorized", status: http.StatusUnauthorized, body: `{"error":"unauthorized"}`, wantKind: FailureAuth, wantCode: "unauthorized"},
		{name: "validation", status: http.StatusBadRequest, body: `{"error":"invalid_choice"}`, wantKind: FailureValidation, wantCode: "invalid_choice"},
		{name: "conflict", status: http.StatusConflict, body: `{"error":"already_spun"}`, wantKind: FailureConflict, wantCode: "already_spun"},
		{name: "rejection", status: http.StatusUnprocessableEntity, body: `{"error":"wrong_workflow"}`, wantKind: FailureRejection, wantCode: "wrong_workflow"},
		{name: "server error", status: http.StatusInternalServerError, body: `{"error":"internal_error"}`, wantKind: FailureRejection, wantCode: "internal_error"},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			server := stubServer(t, tc.status, tc.body)
			rest := NewRESTClient(server.URL, "token")

			_, err := rest.Spin(context.Background())
			failure, ok := AsFailure(err)
			if !ok {
				t.Fatalf("expected an SDK failure, got %v", err)
			}
			if failure.Kind != tc.wantKind {
				t.Fatalf("unexpected kind: got %s, want %s", failure.Kind, tc.wantKind)
			}
			if failure.Code != tc.wantCode {
				t.Fatalf("unexpected code: got %q, want %q", failure.Code, tc.wantCode)
			}
			if failure.Status != tc.status {
				t.Fatalf("unexpected status: got %d, want %d", failure.Status, tc.status)
			}
		})
	}
}

func TestRESTClientMapsTransportErrorsToNetwork(t *testing.T) {
	server := stubServer(t, http.StatusOK, `{}`)
	url := server.URL
	server.Close()

	rest := NewRESTClient(url, "token")
	_, err := rest.Spin(context.Background())
	if !IsKind(err, FailureNetwork) {
		t.Fatalf("expected a network failure, got %v", err)
	}
}

func TestRESTClientSendsBearerToken(t *testing.T) {
	var seen string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = r.Header.Get("Authorization")
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"count":0}`))
	}))
	t.Cleanup(server.Close)

	rest := NewRESTClient(server.URL, "secret-token")
	if _, err := rest.UnreadCount(context.Background()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if seen != "Bearer secret-token" {
		t.Fatalf("unexpected authorization header %q", seen)
	}
}
