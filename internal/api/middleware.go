package api

import (
	"context"
	"net/http"
	"strings"
)

type contextKey string

const ownerKey contextKey = "owner"

// OwnerAuth resolves the calling owner from X-Owner-ID, falling back to
// Authorization: Bearer <owner>. The owner id scopes every project, job,
// and credential lookup downstream.
//
// Swapping in real token verification later only changes this function:
// handlers read the owner from the request context either way.
func OwnerAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		owner := r.Header.Get("X-Owner-ID")
		if owner == "" {
			authHeader := r.Header.Get("Authorization")
			if strings.HasPrefix(authHeader, "Bearer ") {
				owner = strings.TrimPrefix(authHeader, "Bearer ")
			}
		}
		if owner == "" {
			respondError(w, http.StatusUnauthorized, "Missing owner identity. Provide X-Owner-ID header or Authorization: Bearer <owner>")
			return
		}

		ctx := context.WithValue(r.Context(), ownerKey, owner)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// ownerFrom returns the authenticated owner id set by OwnerAuth.
func ownerFrom(ctx context.Context) string {
	owner, _ := ctx.Value(ownerKey).(string)
	return owner
}
