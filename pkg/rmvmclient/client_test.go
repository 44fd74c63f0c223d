package rmvmclient

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/cortexbrain/cortex/pkg/rmvmproto"
)

func TestNormalizeEndpoint(t *testing.T) {
	cases := map[string]string{
		"rmvm.internal:9443":       "http://rmvm.internal:9443",
		"http://rmvm.internal:80":  "http://rmvm.internal:80",
		"https://rmvm.internal":    "https://rmvm.internal",
		"grpc://rmvm.internal:443": "http://rmvm.internal:443",
	}
	for in, want := range cases {
		got, err := NormalizeEndpoint(in)
		require.NoError(t, err)
		require.Equal(t, want, got)
	}
}

func TestNormalizeEndpointRejectsEmpty(t *testing.T) {
	_, err := NormalizeEndpoint("   ")
	require.Error(t, err)
}

func TestExecutePostsAndDecodes(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/v1/execute", r.URL.Path)
		var req rmvmproto.ExecuteRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		require.Equal(t, "req-1", req.Plan.RequestID)

		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(rmvmproto.ExecuteResponse{Status: rmvmproto.ExecutionOk})
	}))
	defer srv.Close()

	client, err := New(srv.URL)
	require.NoError(t, err)

	resp, err := client.Execute(context.Background(), rmvmproto.ExecuteRequest{
		Plan: rmvmproto.Plan{RequestID: "req-1"},
	})
	require.NoError(t, err)
	require.Equal(t, rmvmproto.ExecutionOk, resp.Status)
}

func TestExecutePropagatesKernelError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
		_, _ = w.Write([]byte("kernel unavailable"))
	}))
	defer srv.Close()

	client, err := New(srv.URL)
	require.NoError(t, err)

	_, err = client.Execute(context.Background(), rmvmproto.ExecuteRequest{})
	require.Error(t, err)
}

func TestGetManifestRoundTrip(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/v1/get_manifest", r.URL.Path)
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(rmvmproto.Manifest{
			RequestID: "req-2",
			Budget:    rmvmproto.PlanBudget{MaxOps: 8},
		})
	}))
	defer srv.Close()

	client, err := New(srv.URL)
	require.NoError(t, err)

	manifest, err := client.GetManifest(context.Background(), rmvmproto.GetManifestRequest{Subject: "user-1"})
	require.NoError(t, err)
	require.Equal(t, "req-2", manifest.RequestID)
	require.Equal(t, 8, manifest.Budget.MaxOps)
}
