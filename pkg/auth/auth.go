// Package auth validates bearer tokens and carries the authenticated user in
// the request context for HTTP and gRPC servers.
package auth

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"

	apperrors "github.com/pesio-ai/be-doc-approvals/pkg/errors"
)

// UserContext is the authenticated caller.
type UserContext struct {
	UserID      string
	DisplayName string
	Email       string
	Roles       []string
}

// Claims is the JWT payload. The subject is the user id.
type Claims struct {
	Name  string   `json:"name,omitempty"`
	Email string   `json:"email,omitempty"`
	Roles []string `json:"roles,omitempty"`
	jwt.RegisteredClaims
}

var ErrNoUserContext = apperrors.New(apperrors.ErrCodeUnauthorized, "no authenticated user in context")

type userContextKey struct{}

// WithUserContext stores uc in ctx.
func WithUserContext(ctx context.Context, uc *UserContext) context.Context {
	return context.WithValue(ctx, userContextKey{}, uc)
}

// GetUserContext returns the authenticated user stored in ctx.
func GetUserContext(ctx context.Context) (*UserContext, error) {
	uc, ok := ctx.Value(userContextKey{}).(*UserContext)
	if !ok || uc == nil || uc.UserID == "" {
		return nil, ErrNoUserContext
	}
	return uc, nil
}

// Validator checks HMAC-signed tokens.
type Validator struct {
	secret []byte
	issuer string
}

func NewValidator(secret []byte, issuer string) *Validator {
	return &Validator{secret: secret, issuer: issuer}
}

// Validate parses a token and returns the user it identifies.
func (v *Validator) Validate(token string) (*UserContext, error) {
	opts := []jwt.ParserOption{jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()})}
	if v.issuer != "" {
		opts = append(opts, jwt.WithIssuer(v.issuer))
	}

	claims := &Claims{}
	parsed, err := jwt.ParseWithClaims(token, claims, func(*jwt.Token) (any, error) {
		return v.secret, nil
	}, opts...)
	if err != nil || !parsed.Valid {
		return nil, apperrors.Wrap(err, apperrors.ErrCodeUnauthorized, "invalid token")
	}
	if claims.Subject == "" {
		return nil, apperrors.New(apperrors.ErrCodeUnauthorized, "token has no subject")
	}

	return &UserContext{
		UserID:      claims.Subject,
		DisplayName: claims.Name,
		Email:       claims.Email,
		Roles:       claims.Roles,
	}, nil
}

// Issue signs a token for uc, valid for ttl.
func (v *Validator) Issue(uc UserContext, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := Claims{
		Name:  uc.DisplayName,
		Email: uc.Email,
		Roles: uc.Roles,
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        uuid.NewString(),
			Subject:   uc.UserID,
			Issuer:    v.issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(v.secret)
}

func bearerToken(header string) string {
	const prefix = "bearer "
	if len(header) > len(prefix) && strings.EqualFold(header[:len(prefix)], prefix) {
		return strings.TrimSpace(header[len(prefix):])
	}
	return ""
}

// Middleware authenticates HTTP requests. Paths in skip are served without a
// token. Websocket clients may pass the token as an access_token query
// parameter since browsers cannot set headers on upgrades.
func Middleware(v *Validator, log *zerolog.Logger, skip ...string) func(http.Handler) http.Handler {
	skipped := make(map[string]struct{}, len(skip))
	for _, p := range skip {
		skipped[p] = struct{}{}
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if _, ok := skipped[r.URL.Path]; ok || r.Method == http.MethodOptions {
				next.ServeHTTP(w, r)
				return
			}

			token := bearerToken(r.Header.Get("Authorization"))
			if token == "" {
				token = r.URL.Query().Get("access_token")
			}
			if token == "" {
				writeUnauthorized(w, "missing bearer token")
				return
			}

			uc, err := v.Validate(token)
			if err != nil {
				log.Debug().Err(err).Str("path", r.URL.Path).Msg("Rejected request token")
				writeUnauthorized(w, "invalid bearer token")
				return
			}
			next.ServeHTTP(w, r.WithContext(WithUserContext(r.Context(), uc)))
		})
	}
}

func writeUnauthorized(w http.ResponseWriter, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusUnauthorized)
	json.NewEncoder(w).Encode(map[string]any{
		"error": map[string]string{"code": string(apperrors.ErrCodeUnauthorized), "message": message},
	})
}

// UnaryServerInterceptor authenticates gRPC calls from the "authorization"
// metadata entry.
func UnaryServerInterceptor(v *Validator) grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
		md, _ := metadata.FromIncomingContext(ctx)
		var token string
		if values := md.Get("authorization"); len(values) > 0 {
			token = bearerToken(values[0])
		}
		if token == "" {
			return nil, status.Error(codes.Unauthenticated, "missing bearer token")
		}
		uc, err := v.Validate(token)
		if err != nil {
			return nil, status.Error(codes.Unauthenticated, "invalid bearer token")
		}
		return handler(WithUserContext(ctx, uc), req)
	}
}
