package api

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/terra-clan/proctor-engine/internal/models"
	"github.com/terra-clan/proctor-engine/internal/storage"
)

const lastUsedTimeout = 5 * time.Second

// ClientStore looks up API clients
type ClientStore interface {
	GetClientByApiKey(ctx context.Context, apiKey string) (*models.ApiClient, error)
	UpdateClientLastUsed(ctx context.Context, apiKey string) error
}

// AuthMiddleware handles API key authentication
type AuthMiddleware struct {
	repo ClientStore
}

// NewAuthMiddleware creates new auth middleware
func NewAuthMiddleware(repo ClientStore) *AuthMiddleware {
	return &AuthMiddleware{repo: repo}
}

// Authenticate resolves the API client of the request. The key is read
// from "Authorization: Bearer sk_xxx", a bare Authorization value, or the
// X-API-Key header.
func (m *AuthMiddleware) Authenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		client, ok := m.resolve(w, r)
		if !ok {
			return
		}

		// last_used_at is bookkeeping only; don't hold the request on it
		go func(key string) {
			ctx, cancel := context.WithTimeout(context.Background(), lastUsedTimeout)
			defer cancel()
			if err := m.repo.UpdateClientLastUsed(ctx, key); err != nil {
				slog.Error("failed to update client last_used_at", "error", err, "client", client.Name)
			}
		}(client.ApiKey)

		slog.Debug("authenticated request", "client", client.Name, "key_prefix", client.MaskedApiKey())
		next.ServeHTTP(w, r.WithContext(ContextWithClient(r.Context(), client)))
	})
}

// resolve looks the key up and writes the failure response itself
func (m *AuthMiddleware) resolve(w http.ResponseWriter, r *http.Request) (*models.ApiClient, bool) {
	apiKey := extractAPIKey(r)
	if apiKey == "" {
		respondError(w, http.StatusUnauthorized, "missing_api_key", "provide Authorization header with Bearer token or X-API-Key header")
		return nil, false
	}

	client, err := m.repo.GetClientByApiKey(r.Context(), apiKey)
	switch {
	case errors.Is(err, storage.ErrNotFound):
		slog.Warn("invalid api key attempt", "key_prefix", maskKey(apiKey), "remote_addr", r.RemoteAddr)
		respondError(w, http.StatusUnauthorized, "invalid_api_key", "the provided api key is not valid")
		return nil, false
	case err != nil:
		slog.Error("failed to lookup api client", "error", err, "key_prefix", maskKey(apiKey))
		respondError(w, http.StatusInternalServerError, "internal_error", "authentication failed")
		return nil, false
	case !client.IsActive:
		slog.Warn("inactive client attempt", "client", client.Name, "key_prefix", maskKey(apiKey))
		respondError(w, http.StatusUnauthorized, "client_inactive", "this api key has been deactivated")
		return nil, false
	}
	return client, true
}

// RequirePermission rejects clients lacking permission
func (m *AuthMiddleware) RequirePermission(permission string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			client := ClientFromContext(r.Context())
			if client == nil {
				respondError(w, http.StatusUnauthorized, "not_authenticated", "authentication required")
				return
			}
			if !client.HasPermission(permission) {
				slog.Warn("permission denied", "client", client.Name, "required", permission)
				respondError(w, http.StatusForbidden, "permission_denied", "missing permission "+permission)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// CandidateAuth verifies candidate bearer tokens. Browsers cannot set
// headers on websocket upgrades, so a token query parameter is accepted too.
func CandidateAuth(tokens *TokenService) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			raw := ""
			if h := r.Header.Get("Authorization"); strings.HasPrefix(h, "Bearer ") {
				raw = strings.TrimPrefix(h, "Bearer ")
			} else {
				raw = r.URL.Query().Get("token")
			}
			if raw == "" {
				respondError(w, http.StatusUnauthorized, "missing_token", "provide a candidate bearer token")
				return
			}

			claims, err := tokens.Parse(raw)
			if err != nil {
				slog.Warn("invalid candidate token", "error", err, "remote_addr", r.RemoteAddr)
				respondError(w, http.StatusUnauthorized, "invalid_token", "the provided token is not valid")
				return
			}

			ctx := ContextWithCandidate(r.Context(), claims.Candidate())
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// extractAPIKey extracts API key from request headers
func extractAPIKey(r *http.Request) string {
	authHeader := r.Header.Get("Authorization")
	if authHeader != "" {
		if strings.HasPrefix(authHeader, "Bearer ") {
			return strings.TrimPrefix(authHeader, "Bearer ")
		}
		return authHeader
	}

	return r.Header.Get("X-API-Key")
}

// maskKey returns first 8 chars of key for safe logging
func maskKey(key string) string {
	if len(key) < 8 {
		return "***"
	}
	return key[:8] + "..."
}
