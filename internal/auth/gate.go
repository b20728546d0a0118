// Package auth verifies Entra ID bearer tokens on inbound HTTP requests.
package auth

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"slices"
	"strings"

	"github.com/golang-jwt/jwt/v5"
	"go.uber.org/zap"
)

const authHeaderParts = 2 // Format: "Bearer <token>"

// Claims are the verified claims of an access token.
type Claims struct {
	jwt.RegisteredClaims
	Roles      []string `json:"roles,omitempty"`
	Scope      string   `json:"scp,omitempty"`
	Name       string   `json:"name,omitempty"`
	UniqueName string   `json:"unique_name,omitempty"`
	UPN        string   `json:"upn,omitempty"`
	OID        string   `json:"oid,omitempty"`
}

// HasRole reports whether role is one of the token's roles.
func (c *Claims) HasRole(role string) bool {
	return slices.Contains(c.Roles, role)
}

type claimsKey struct{}

// WithClaims returns a copy of ctx carrying c.
func WithClaims(ctx context.Context, c *Claims) context.Context {
	return context.WithValue(ctx, claimsKey{}, c)
}

// ClaimsFromContext returns the claims stored by the Gate, if any.
func ClaimsFromContext(ctx context.Context) (*Claims, bool) {
	c, ok := ctx.Value(claimsKey{}).(*Claims)
	return c, ok
}

// Acceptance is an accepted issuer together with the audience it must be issued for.
type Acceptance struct {
	Issuer   string
	Audience string
}

// EntraIDAcceptances returns the accepted issuer/audience pairs of an Entra ID application:
// v1 tokens requested for the API scope and v2 tokens issued to the App Service.
func EntraIDAcceptances(tenantID, clientID string) []Acceptance {
	return []Acceptance{
		{Issuer: fmt.Sprintf("https://sts.windows.net/%s/", tenantID), Audience: "api://" + clientID},
		{Issuer: fmt.Sprintf("https://login.microsoftonline.com/%s/v2.0", tenantID), Audience: clientID},
	}
}

// Gate authenticates requests with RS256 signed bearer tokens.
type Gate struct {
	keys      KeySet
	accept    map[string]string
	skip      map[string]struct{}
	parser    *jwt.Parser
	onFailure func(Reason)
	logger    *zap.Logger
}

type gateOptions struct {
	skip      []string
	onFailure func(Reason)
	logger    *zap.Logger
}

// GateOption configures the Gate.
type GateOption func(*gateOptions)

// GateWithSkipPaths settings paths served without authentication.
func GateWithSkipPaths(paths ...string) GateOption {
	return func(o *gateOptions) {
		o.skip = append(o.skip, paths...)
	}
}

// GateWithFailureHook settings a function called with the reason of every rejection.
func GateWithFailureHook(f func(Reason)) GateOption {
	return func(o *gateOptions) {
		o.onFailure = f
	}
}

// GateWithLogger settings the logger.
func GateWithLogger(logger *zap.Logger) GateOption {
	return func(o *gateOptions) {
		o.logger = logger
	}
}

// NewGate creates a Gate that verifies signatures with keys and accepts the given issuer/audience pairs.
func NewGate(keys KeySet, accept []Acceptance, options ...GateOption) *Gate {
	opts := &gateOptions{
		onFailure: func(Reason) {},
		logger:    zap.NewNop(),
	}
	for _, opt := range options {
		opt(opts)
	}
	g := &Gate{
		keys:      keys,
		accept:    make(map[string]string, len(accept)),
		skip:      make(map[string]struct{}, len(opts.skip)),
		parser:    jwt.NewParser(jwt.WithValidMethods([]string{jwt.SigningMethodRS256.Alg()}), jwt.WithExpirationRequired()),
		onFailure: opts.onFailure,
		logger:    opts.logger,
	}
	for _, a := range accept {
		g.accept[a.Issuer] = a.Audience
	}
	for _, p := range opts.skip {
		g.skip[p] = struct{}{}
	}
	return g
}

// Authenticate verifies the bearer token of r and returns its claims.
//
// Errors are of type *Error.
func (g *Gate) Authenticate(r *http.Request) (*Claims, error) {
	header := r.Header.Get("Authorization")
	if header == "" {
		return nil, newError(ReasonMissingToken, ErrMissingToken)
	}
	parts := strings.SplitN(header, " ", authHeaderParts)
	if len(parts) != authHeaderParts || !strings.EqualFold(parts[0], "Bearer") || parts[1] == "" {
		return nil, newError(ReasonMalformedHeader, ErrMalformedHeader)
	}
	return g.Verify(parts[1])
}

// Verify verifies a raw token and returns its claims.
func (g *Gate) Verify(tokenString string) (*Claims, error) {
	claims := &Claims{}
	_, err := g.parser.ParseWithClaims(tokenString, claims, g.keys.Keyfunc)
	switch {
	case err == nil:
	case errors.Is(err, jwt.ErrTokenExpired):
		return nil, newError(ReasonExpiredToken, err)
	case errors.Is(err, ErrKeyNotFound):
		return nil, newError(ReasonUnknownKey, err)
	default:
		return nil, newError(ReasonInvalidToken, err)
	}

	audience, ok := g.accept[claims.Issuer]
	if !ok {
		return nil, newError(ReasonInvalidIssuer, fmt.Errorf("%w: %q", ErrUnexpectedIssuer, claims.Issuer))
	}
	if !slices.Contains(claims.Audience, audience) {
		return nil, newError(ReasonInvalidAudience, fmt.Errorf("%w: %q", ErrUnexpectedAudience, claims.Audience))
	}
	return claims, nil
}

// Middleware rejects requests without a valid bearer token with 401 and stores the
// verified claims in the request context.
func (g *Gate) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if _, ok := g.skip[r.URL.Path]; ok {
			next.ServeHTTP(w, r)
			return
		}
		claims, err := g.Authenticate(r)
		if err != nil {
			reason := ReasonOf(err)
			g.fail(r, reason, err)
			challenge := "Bearer"
			if reason != ReasonMissingToken {
				challenge = `Bearer error="invalid_token"`
			}
			w.Header().Set("WWW-Authenticate", challenge)
			http.Error(w, "Unauthorized", http.StatusUnauthorized)
			return
		}
		next.ServeHTTP(w, r.WithContext(WithClaims(r.Context(), claims)))
	})
}

// RequireRole rejects requests whose token does not carry role.
//
// When lenient is true any token with a roles claim passes, whatever roles it lists.
func (g *Gate) RequireRole(role string, lenient bool) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			claims, _ := ClaimsFromContext(r.Context())
			if claims == nil || claims.Roles == nil || (!lenient && !claims.HasRole(role)) {
				var roles []string
				if claims != nil {
					roles = claims.Roles
				}
				g.fail(r, ReasonMissingRole, fmt.Errorf("role %q not granted", role))
				http.Error(w,
					fmt.Sprintf("You're not authorized to access this endpoint. Your current roles are [%s]", strings.Join(roles, ", ")),
					http.StatusUnauthorized)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func (g *Gate) fail(r *http.Request, reason Reason, err error) {
	g.onFailure(reason)
	g.logger.Info("request rejected",
		zap.String("reason", string(reason)),
		zap.String("path", r.URL.Path),
		zap.String("remote_addr", r.RemoteAddr),
		zap.Error(err))
}
