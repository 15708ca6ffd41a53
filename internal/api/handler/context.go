package handler

import (
	"context"

	"github.com/castboard/castboard/internal/api/middleware"
	"github.com/castboard/castboard/internal/auth"
)

// GetUserID retrieves the authenticated user ID from the context.
// This is a convenience wrapper around middleware.GetUserID.
func GetUserID(ctx context.Context) string {
	return middleware.GetUserID(ctx)
}

// GetPrincipal retrieves the authenticated principal from the context.
func GetPrincipal(ctx context.Context) *auth.Principal {
	return middleware.GetPrincipal(ctx)
}
