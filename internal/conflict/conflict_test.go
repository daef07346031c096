package conflict

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
)

func oracleServer(t *testing.T, status int, answer string) *httptest.Server {
	t.Helper()
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if status != http.StatusOK {
			w.WriteHeader(status)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprintf(w, `{"choices":[{"message":{"role":"assistant","content":%q}}]}`, answer)
	}))
	t.Cleanup(server.Close)
	return server
}

func TestDetectConflict(t *testing.T) {
	tests := []struct {
		name   string
		status int
		answer string
		want   bool
	}{
		{name: "conflict answer", status: http.StatusOK, answer: "CONFLICT", want: true},
		{name: "conflict with trailing prose", status: http.StatusOK, answer: "conflict: they disagree", want: true},
		{name: "compatible answer", status: http.StatusOK, answer: "OK", want: false},
		{name: "unparsable answer", status: http.StatusOK, answer: "maybe?", want: false},
		{name: "service error assumes no conflict", status: http.StatusInternalServerError, answer: "", want: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server := oracleServer(t, tt.status, tt.answer)
			oracle := NewLLMOracle(server.URL, "test-key", "test-model")

			got := oracle.DetectConflict(context.Background(), "drinks tea every morning", "never drinks tea")
			assert.Equal(t, tt.want, got)
		})
	}
}
