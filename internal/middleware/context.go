package middleware

import (
	"context"
	"net/http"
	"strconv"

	"go-wiki-engine/internal/auth"
)

// contextKey defines a custom type for context keys to avoid collisions.
type contextKey string

const subjectContextKey = contextKey("subject")

// Headers carrying the authenticated identity, set by the fronting proxy.
const (
	HeaderUserID    = "X-Wiki-User-Id"
	HeaderUserName  = "X-Wiki-User-Name"
	HeaderUserEmail = "X-Wiki-User-Email"
)

// GetSubject retrieves the acting subject from the request context.
// Requests without an identity act as the anonymous guest.
func GetSubject(ctx context.Context) auth.Subject {
	if subject, ok := ctx.Value(subjectContextKey).(auth.Subject); ok {
		return subject
	}
	return auth.Subject{Name: "guest"}
}

// SetSubject adds the acting subject to the request context.
func SetSubject(ctx context.Context, subject auth.Subject) context.Context {
	return context.WithValue(ctx, subjectContextKey, subject)
}

// Identity extracts the authenticated identity from the trusted proxy
// headers and stores it on the request context.
func Identity(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		subject := auth.Subject{Name: "guest"}
		if name := r.Header.Get(HeaderUserName); name != "" {
			subject.Name = name
			subject.Email = r.Header.Get(HeaderUserEmail)
			if id, err := strconv.ParseInt(r.Header.Get(HeaderUserID), 10, 64); err == nil {
				subject.ID = id
			}
		}
		next.ServeHTTP(w, r.WithContext(SetSubject(r.Context(), subject)))
	})
}
