package grpcserver

import (
	"context"
	"crypto/subtle"
	"errors"
	"strings"

	"github.com/gofrs/uuid/v5"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"

	"github.com/and161185/petmem/internal/model"
	"github.com/and161185/petmem/internal/session"
)

type ctxKey string

const userIDKey ctxKey = "petmem.userID"

// WithUserID stores the signed-in user ID in context.
func WithUserID(ctx context.Context, id uuid.UUID) context.Context {
	return context.WithValue(ctx, userIDKey, id)
}

// UserIDFromCtx fetches the user ID stored by WithUserID.
func UserIDFromCtx(ctx context.Context) (uuid.UUID, bool) {
	v := ctx.Value(userIDKey)
	if v == nil {
		return uuid.Nil, false
	}
	id, ok := v.(uuid.UUID)
	return id, ok
}

// Sessions exposes the agent's current session (*session.Manager).
type Sessions interface {
	Current() (*model.Session, session.Lease, bool)
}

func withSession(ctx context.Context, s Sessions) context.Context {
	if s == nil {
		return ctx
	}
	if cur, _, ok := s.Current(); ok {
		return WithUserID(ctx, cur.UserID)
	}
	return ctx
}

// SessionUnary tags each call with the agent's signed-in user.
func SessionUnary(s Sessions) grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req any, _ *grpc.UnaryServerInfo, next grpc.UnaryHandler) (any, error) {
		return next(withSession(ctx, s), req)
	}
}

type wrappedStream struct {
	grpc.ServerStream
	ctx context.Context
}

func (w wrappedStream) Context() context.Context { return w.ctx }

// SessionStream is SessionUnary for streams.
func SessionStream(s Sessions) grpc.StreamServerInterceptor {
	return func(srv any, ss grpc.ServerStream, _ *grpc.StreamServerInfo, next grpc.StreamHandler) error {
		return next(srv, wrappedStream{ServerStream: ss, ctx: withSession(ss.Context(), s)})
	}
}

func bearerTokenFromMD(ctx context.Context) (string, error) {
	md, ok := metadata.FromIncomingContext(ctx)
	if !ok {
		return "", errors.New("no metadata")
	}
	for _, v := range md.Get("authorization") {
		v = strings.TrimSpace(v)
		if len(v) >= 7 && strings.EqualFold(v[:7], "bearer ") {
			t := strings.TrimSpace(v[7:])
			if t != "" {
				return t, nil
			}
		}
	}
	return "", errors.New("no bearer token")
}

func checkToken(ctx context.Context, secret string) error {
	if secret == "" {
		return nil
	}
	tok, err := bearerTokenFromMD(ctx)
	if err != nil {
		return status.Error(codes.Unauthenticated, "no auth")
	}
	if subtle.ConstantTimeCompare([]byte(tok), []byte(secret)) != 1 {
		return status.Error(codes.Unauthenticated, "bad token")
	}
	return nil
}

// TokenUnary rejects calls without "authorization: Bearer <secret>".
// An empty secret accepts every call.
func TokenUnary(secret string) grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req any, _ *grpc.UnaryServerInfo, next grpc.UnaryHandler) (any, error) {
		if err := checkToken(ctx, secret); err != nil {
			return nil, err
		}
		return next(ctx, req)
	}
}

// TokenStream is TokenUnary for streams.
func TokenStream(secret string) grpc.StreamServerInterceptor {
	return func(srv any, ss grpc.ServerStream, _ *grpc.StreamServerInfo, next grpc.StreamHandler) error {
		if err := checkToken(ss.Context(), secret); err != nil {
			return err
		}
		return next(srv, ss)
	}
}
