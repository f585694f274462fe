package app

import (
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/quartermast/quartermast/internal/shared"
)

func TestActorMiddlewareParsesHeader(t *testing.T) {
	var seen int64
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = shared.ActorFromContext(r.Context())
	})

	cases := []struct {
		name   string
		header string
		want   int64
	}{
		{"valid id", "42", 42},
		{"absent", "", 0},
		{"not numeric", "alice", 0},
		{"negative", "-3", 0},
	}
	for _, tc := range cases {
		seen = 0
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		if tc.header != "" {
			req.Header.Set("X-Actor-ID", tc.header)
		}
		actorMiddleware(next).ServeHTTP(httptest.NewRecorder(), req)
		require.Equalf(t, tc.want, seen, "case %q", tc.name)
	}
}

func TestRouterServesHealthz(t *testing.T) {
	router := NewRouter(RouterParams{Logger: slog.Default()})
	server := httptest.NewServer(router)
	defer server.Close()

	resp, err := http.Get(server.URL + "/healthz")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Equal(t, "application/json", resp.Header.Get("Content-Type"))
	require.Equal(t, "DENY", resp.Header.Get("X-Frame-Options"))
}
