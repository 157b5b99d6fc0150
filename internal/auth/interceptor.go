// ABOUTME: gRPC interceptor that authenticates calls using the bearer session token
// ABOUTME: Reads the authorization metadata key and populates context for handlers

package auth

import (
	"context"
	"log/slog"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/peer"
	"google.golang.org/grpc/status"
)

// logAuthFailure logs an authentication failure with the peer address when known.
func logAuthFailure(ctx context.Context, logger *slog.Logger, reason string, attrs ...any) {
	baseAttrs := []any{"reason", reason}
	if p, ok := peer.FromContext(ctx); ok && p.Addr != nil {
		baseAttrs = append(baseAttrs, "peer_addr", p.Addr.String())
	}
	logger.Warn("auth failure", append(baseAttrs, attrs...)...)
}

// UnaryInterceptor returns a gRPC unary interceptor that requires a valid
// session token for every method except those listed in public.
func UnaryInterceptor(g *Guard, public ...string) grpc.UnaryServerInterceptor {
	skip := make(map[string]bool, len(public))
	for _, m := range public {
		skip[m] = true
	}

	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
		if skip[info.FullMethod] {
			return handler(ctx, req)
		}

		authCtx, err := authenticateMetadata(ctx, g)
		if err != nil {
			return nil, err
		}
		return handler(WithAuth(ctx, authCtx), req)
	}
}

func authenticateMetadata(ctx context.Context, g *Guard) (*AuthContext, error) {
	var header string
	if md, ok := metadata.FromIncomingContext(ctx); ok {
		if values := md.Get("authorization"); len(values) > 0 {
			header = values[0]
		}
	}

	result := g.ValidateHeader(header)
	switch result.Status {
	case TokenValid:
		return contextFromClaims(result.Claims), nil
	case TokenExpired:
		logAuthFailure(ctx, g.logger, "token expired")
		return nil, status.Error(codes.Unauthenticated, "token expired")
	case TokenMissing:
		logAuthFailure(ctx, g.logger, "missing token")
		return nil, status.Error(codes.Unauthenticated, "missing token")
	default:
		logAuthFailure(ctx, g.logger, "invalid token")
		return nil, status.Error(codes.Unauthenticated, "invalid token")
	}
}
