// Package auth carries the authenticated actor resolved by the middleware.
package auth

import (
	"context"
	stderrors "errors"
	"slices"
)

// Roles recognised by the procurement services.
const (
	RoleAdmin   = "admin"
	RoleFinance = "finance"
	RoleManager = "manager"
	RoleStaff   = "staff"
)

// ErrNoActor is returned when the context carries no authenticated actor.
var ErrNoActor = stderrors.New("no authenticated actor in context")

// Actor is the acting user for a request.
type Actor struct {
	UserID       string
	Role         string
	DepartmentID string
}

// HasRole reports whether the actor holds one of roles.
func (a Actor) HasRole(roles ...string) bool {
	return slices.Contains(roles, a.Role)
}

type actorKey struct{}

// WithActor stores the actor in ctx.
func WithActor(ctx context.Context, a Actor) context.Context {
	return context.WithValue(ctx, actorKey{}, a)
}

// GetActor returns the actor stored in ctx.
func GetActor(ctx context.Context) (Actor, error) {
	a, ok := ctx.Value(actorKey{}).(Actor)
	if !ok || a.UserID == "" {
		return Actor{}, ErrNoActor
	}
	return a, nil
}
