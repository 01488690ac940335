//go:build integration

package integration

import (
	"fmt"
	"net/http"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/require"

	"github.com/simplauto/simplauto-agent-api/internal/testutil"
)

// decodeJSON decodes a response body into v, closing the body.
func decodeJSON(t *testing.T, resp *http.Response, v interface{}) {
	t.Helper()
	testutil.DecodeJSON(t, resp, v)
}

var refCounter int

// nextReference returns a unique order reference for test isolation.
func nextReference() string {
	refCounter++
	return fmt.Sprintf("CT-IT-%d-%d", time.Now().UnixNano(), refCounter)
}

// adminToken mints a short-lived admin JWT accepted by the queue endpoints.
func adminToken(t *testing.T) string {
	t.Helper()

	claims := jwt.MapClaims{
		"sub": "integration-tests",
		"exp": time.Now().Add(time.Hour).Unix(),
		"iat": time.Now().Unix(),
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(adminSecret))
	require.NoError(t, err)
	return token
}

// newAdminClient returns a validating client authenticated as admin.
func newAdminClient(t *testing.T) *testutil.Client {
	t.Helper()
	client := newTestClient(t)
	client.SetToken(adminToken(t))
	return client
}

// refundPayload builds a valid webhook payload with a unique reference.
func refundPayload(reference string) map[string]interface{} {
	return map[string]interface{}{
		"booking": map[string]interface{}{
			"date":           "2025-07-20",
			"backoffice_url": "https://backoffice.example.com/orders/" + reference,
		},
		"order":    map[string]interface{}{"reference": reference},
		"customer": map[string]interface{}{"first_name": "Marie", "last_name": "Dupont"},
		"vehicule": map[string]interface{}{
			"brand":               "Renault",
			"model":               "Clio",
			"registration_number": "AB-123-CD",
		},
		"center": map[string]interface{}{"phone": "01 23 45 67 89"},
	}
}
