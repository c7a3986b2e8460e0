// Package auth verifies bearer tokens issued by the identity service and
// places the caller's identity on the request context. Token issuance lives
// elsewhere.
package auth

import (
	"context"
	"net/http"
	"strings"

	"github.com/golang-jwt/jwt/v5"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"

	"github.com/pesio-ai/be-procurement-letters/pkg/errors"
)

// UserContext is the authenticated caller.
type UserContext struct {
	UserID string
	RoleID string
	UnitID string
}

// Claims is the JWT payload expected from the identity service.
type Claims struct {
	UserID string `json:"user_id"`
	RoleID string `json:"role_id"`
	UnitID string `json:"unit_id"`
	jwt.RegisteredClaims
}

type ctxKey struct{}

// WithUserContext stores uc on ctx.
func WithUserContext(ctx context.Context, uc *UserContext) context.Context {
	return context.WithValue(ctx, ctxKey{}, uc)
}

// GetUserContext returns the caller stored on ctx.
func GetUserContext(ctx context.Context) (*UserContext, error) {
	uc, ok := ctx.Value(ctxKey{}).(*UserContext)
	if !ok || uc == nil {
		return nil, errors.New(errors.ErrCodeUnauthorized, "unauthenticated")
	}
	return uc, nil
}

// Verifier validates HS256 tokens.
type Verifier struct {
	secret []byte
}

// NewVerifier creates a Verifier for the shared secret.
func NewVerifier(secret string) *Verifier {
	return &Verifier{secret: []byte(secret)}
}

// Verify parses and validates a raw token string.
func (v *Verifier) Verify(raw string) (*UserContext, error) {
	token, err := jwt.ParseWithClaims(raw, &Claims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, jwt.ErrSignatureInvalid
		}
		return v.secret, nil
	})
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeUnauthorized, "invalid or expired token")
	}

	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		return nil, errors.New(errors.ErrCodeUnauthorized, "invalid token claims")
	}
	if claims.UserID == "" || claims.RoleID == "" || claims.UnitID == "" {
		return nil, errors.New(errors.ErrCodeUnauthorized, "token is missing user, role or unit")
	}
	return &UserContext{UserID: claims.UserID, RoleID: claims.RoleID, UnitID: claims.UnitID}, nil
}

func bearer(header string) (string, bool) {
	parts := strings.SplitN(header, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") || parts[1] == "" {
		return "", false
	}
	return parts[1], true
}

// Middleware rejects requests without a valid bearer token.
func (v *Verifier) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		raw, ok := bearer(r.Header.Get("Authorization"))
		if !ok {
			writeUnauthorized(w, "missing or malformed Authorization header")
			return
		}
		uc, err := v.Verify(raw)
		if err != nil {
			writeUnauthorized(w, "invalid or expired token")
			return
		}
		next.ServeHTTP(w, r.WithContext(WithUserContext(r.Context(), uc)))
	})
}

func writeUnauthorized(w http.ResponseWriter, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusUnauthorized)
	_, _ = w.Write([]byte(`{"error":{"code":"UNAUTHORIZED","message":"` + msg + `"}}`))
}

// UnaryServerInterceptor authenticates gRPC calls from the authorization
// metadata. Methods listed in skip (full method names) are not checked.
func (v *Verifier) UnaryServerInterceptor(skip ...string) grpc.UnaryServerInterceptor {
	skipped := make(map[string]struct{}, len(skip))
	for _, m := range skip {
		skipped[m] = struct{}{}
	}
	return func(ctx context.Context, req interface{}, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (interface{}, error) {
		if _, ok := skipped[info.FullMethod]; ok {
			return handler(ctx, req)
		}
		md, _ := metadata.FromIncomingContext(ctx)
		var header string
		if values := md.Get("authorization"); len(values) > 0 {
			header = values[0]
		}
		raw, ok := bearer(header)
		if !ok {
			return nil, status.Error(codes.Unauthenticated, "missing bearer token")
		}
		uc, err := v.Verify(raw)
		if err != nil {
			return nil, status.Error(codes.Unauthenticated, err.Error())
		}
		return handler(WithUserContext(ctx, uc), req)
	}
}
