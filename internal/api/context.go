package api

import (
	"context"

	"github.com/terra-clan/proctor-engine/internal/models"
)

type contextKey string

const (
	clientContextKey    contextKey = "api_client"
	candidateContextKey contextKey = "candidate"
)

// ClientFromContext extracts ApiClient from context
func ClientFromContext(ctx context.Context) *models.ApiClient {
	client, ok := ctx.Value(clientContextKey).(*models.ApiClient)
	if !ok {
		return nil
	}
	return client
}

// ContextWithClient adds ApiClient to context
func ContextWithClient(ctx context.Context, client *models.ApiClient) context.Context {
	return context.WithValue(ctx, clientContextKey, client)
}

// CandidateFromContext extracts the authenticated candidate from context
func CandidateFromContext(ctx context.Context) (models.Candidate, bool) {
	c, ok := ctx.Value(candidateContextKey).(models.Candidate)
	return c, ok
}

// ContextWithCandidate adds the candidate identity to context
func ContextWithCandidate(ctx context.Context, c models.Candidate) context.Context {
	return context.WithValue(ctx, candidateContextKey, c)
}
