package main

import (
	"context"
	"net/http"

	"moveflow/auth"
)

func contextWithIdentity(ctx context.Context, userID string, role auth.Role) context.Context {
	ctx = context.WithValue(ctx, ctxKeyUserID, userID)
	return context.WithValue(ctx, ctxKeyRole, role)
}

func userIDFrom(r *http.Request) string {
	id, _ := r.Context().Value(ctxKeyUserID).(string)
	return id
}

func roleFrom(r *http.Request) auth.Role {
	role, _ := r.Context().Value(ctxKeyRole).(auth.Role)
	return role
}

func isAdmin(r *http.Request) bool {
	return roleFrom(r) == auth.RoleAdmin
}
