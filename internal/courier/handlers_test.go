package courier_test

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/orderdesk/backend-fulfillment/internal/courier"
	"github.com/orderdesk/backend-fulfillment/internal/store"
)

func TestListProvidersNeverExposesCredentials(t *testing.T) {
	t.Parallel()

	registry := courier.NewRegistry()
	registry.Register(store.Provider{
		ID:          "jne",
		Name:        "JNE",
		AdapterType: "jne",
		Active:      true,
		Credentials: []byte(`{"api_key":"super-secret"}`),
	}, &courier.Mock{Provider: "jne"})

	rr := httptest.NewRecorder()
	courier.Handler{Registry: registry}.ListProviders(rr, httptest.NewRequest(http.MethodGet, "/api/v1/admin/providers", nil))

	require.Equal(t, http.StatusOK, rr.Code)
	require.NotContains(t, rr.Body.String(), "super-secret")

	var parsed struct {
		Data []map[string]any `json:"data"`
	}
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &parsed))
	require.Len(t, parsed.Data, 1)
	require.Equal(t, "jne", parsed.Data[0]["id"])
	require.Equal(t, true, parsed.Data[0]["active"])
}
