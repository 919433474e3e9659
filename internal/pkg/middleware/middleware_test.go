package middleware

import (
	"context"
	"encoding/base64"
	"errors"
	"net/http/httptest"
	"testing"

	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ManuelReschke/DocFox/app/models"
	"github.com/ManuelReschke/DocFox/app/repository"
	"github.com/ManuelReschke/DocFox/internal/pkg/security"
	"github.com/ManuelReschke/DocFox/internal/pkg/usercontext"
)

type keyLookup struct {
	users map[string]*models.User
	err   error
}

func (k keyLookup) GetByAPIKeyHash(_ context.Context, hash string) (*models.User, error) {
	if k.err != nil {
		return nil, k.err
	}
	if u, ok := k.users[hash]; ok {
		return u, nil
	}
	return nil, repository.ErrNotFound
}

func newKeyApp(lookup APIKeyLookup) *fiber.App {
	app := fiber.New()
	app.Get("/me", APIKeyAuthMiddleware(lookup), func(c *fiber.Ctx) error {
		return c.JSON(usercontext.GetUserContext(c))
	})
	return app
}

func TestAPIKeyAuthMiddleware(t *testing.T) {
	raw, hash, err := security.GenerateAPIKey()
	require.NoError(t, err)
	lookup := keyLookup{users: map[string]*models.User{hash: {ID: 7, Name: "Jane", Email: "jane@acme.io"}}}

	tests := []struct {
		name   string
		header string
		value  string
		want   int
	}{
		{"x-api-key", "X-API-Key", raw, fiber.StatusOK},
		{"bearer", "Authorization", "Bearer " + raw, fiber.StatusOK},
		{"missing", "", "", fiber.StatusUnauthorized},
		{"unknown key", "X-API-Key", "dfx_nope", fiber.StatusUnauthorized},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest("GET", "/me", nil)
			if tt.header != "" {
				req.Header.Set(tt.header, tt.value)
			}
			resp, err := newKeyApp(lookup).Test(req)
			require.NoError(t, err)
			assert.Equal(t, tt.want, resp.StatusCode)
		})
	}
}

func TestAPIKeyAuthMiddleware_LookupError(t *testing.T) {
	req := httptest.NewRequest("GET", "/me", nil)
	req.Header.Set("X-API-Key", "dfx_any")
	resp, err := newKeyApp(keyLookup{err: errors.New("db down")}).Test(req)
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusInternalServerError, resp.StatusCode)
}

func TestMonitorAuth(t *testing.T) {
	hash, err := security.HashPassword("s3cret")
	require.NoError(t, err)

	basic := func(u, p string) string {
		return "Basic " + base64.StdEncoding.EncodeToString([]byte(u+":"+p))
	}
	tests := []struct {
		name string
		hash string
		auth string
		want int
	}{
		{"valid", hash, basic("admin", "s3cret"), fiber.StatusOK},
		{"wrong password", hash, basic("admin", "nope"), fiber.StatusUnauthorized},
		{"wrong user", hash, basic("root", "s3cret"), fiber.StatusUnauthorized},
		{"disabled", "", basic("admin", "s3cret"), fiber.StatusUnauthorized},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			app := fiber.New()
			app.Get("/monitor", MonitorAuth("admin", tt.hash), func(c *fiber.Ctx) error { return c.SendStatus(fiber.StatusOK) })
			req := httptest.NewRequest("GET", "/monitor", nil)
			req.Header.Set("Authorization", tt.auth)
			resp, err := app.Test(req)
			require.NoError(t, err)
			assert.Equal(t, tt.want, resp.StatusCode)
		})
	}
}
