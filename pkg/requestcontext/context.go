// Package requestcontext provides HTTP-independent context accessors for
// request-scoped values.
//
// Middleware sets these values; services only read them. Keeping the package
// free of net/http lets coordinators and the resolver consume caller identity
// without pulling in transport code.
package requestcontext

import (
	"context"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"
)

// Context key types (unexported for encapsulation).
type (
	requestIDKey     struct{}
	clientIPKey      struct{}
	walletAddressKey struct{}
	apiKeyIDKey      struct{}
	institutionIDKey struct{}
)

// RequestID retrieves the request ID from the context. Empty if not set.
func RequestID(ctx context.Context) string {
	if v, ok := ctx.Value(requestIDKey{}).(string); ok {
		return v
	}
	return ""
}

// WithRequestID injects a request ID into the context.
func WithRequestID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, requestIDKey{}, id)
}

// ClientIP retrieves the caller's network address recorded by middleware.
func ClientIP(ctx context.Context) string {
	if v, ok := ctx.Value(clientIPKey{}).(string); ok {
		return v
	}
	return ""
}

// WithClientIP injects the caller's network address into the context.
func WithClientIP(ctx context.Context, ip string) context.Context {
	return context.WithValue(ctx, clientIPKey{}, ip)
}

// WalletAddress retrieves the authenticated institution wallet address.
// Returns the zero address if the request was not wallet-authenticated.
func WalletAddress(ctx context.Context) common.Address {
	if v, ok := ctx.Value(walletAddressKey{}).(common.Address); ok {
		return v
	}
	return common.Address{}
}

// WithWalletAddress injects the authenticated wallet address into the context.
func WithWalletAddress(ctx context.Context, addr common.Address) context.Context {
	return context.WithValue(ctx, walletAddressKey{}, addr)
}

// APIKeyID retrieves the authenticated API key row ID. Nil UUID if the
// request was not key-authenticated.
func APIKeyID(ctx context.Context) uuid.UUID {
	if v, ok := ctx.Value(apiKeyIDKey{}).(uuid.UUID); ok {
		return v
	}
	return uuid.Nil
}

// WithAPIKeyID injects the authenticated API key ID into the context.
func WithAPIKeyID(ctx context.Context, id uuid.UUID) context.Context {
	return context.WithValue(ctx, apiKeyIDKey{}, id)
}

// InstitutionID retrieves the off-chain institution row ID resolved during
// authentication. Nil UUID if not set.
func InstitutionID(ctx context.Context) uuid.UUID {
	if v, ok := ctx.Value(institutionIDKey{}).(uuid.UUID); ok {
		return v
	}
	return uuid.Nil
}

// WithInstitutionID injects the institution row ID into the context.
func WithInstitutionID(ctx context.Context, id uuid.UUID) context.Context {
	return context.WithValue(ctx, institutionIDKey{}, id)
}
