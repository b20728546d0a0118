package auth

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/MicahParks/jwkset"
	"github.com/MicahParks/keyfunc/v3"
	"github.com/golang-jwt/jwt/v5"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

const (
	// DefaultRefreshInterval is how often the key set is fetched in the background.
	DefaultRefreshInterval = 10 * time.Minute

	// DefaultRequestsPerMinute bounds how often an unknown kid triggers a fetch.
	DefaultRequestsPerMinute = 5

	fetchTimeout = 10 * time.Second

	// an unknown kid never waits longer than this for the refresh limiter
	rateLimitWaitMax = time.Second
)

// KeySet resolves the public key a token was signed with.
type KeySet interface {
	Keyfunc(token *jwt.Token) (any, error)
}

// compatibility check
var _ KeySet = (*JWKS)(nil)

// MicrosoftJWKSURL returns the key set of an Entra ID tenant.
func MicrosoftJWKSURL(tenantID string) string {
	return fmt.Sprintf("https://login.microsoftonline.com/%s/discovery/v2.0/keys", tenantID)
}

// JWKS is a remote JSON Web Key Set.
//
// The set is fetched on creation and again every refresh interval until the context given to
// NewJWKS is done. A token with an unknown kid fetches it once more, no more often than the
// requests-per-minute limit allows. Keys of a failed refresh are kept.
type JWKS struct {
	keyfunc keyfunc.Keyfunc
}

type jwksOptions struct {
	httpClient        *http.Client
	refreshInterval   time.Duration
	requestsPerMinute int
	logger            *zap.Logger
}

// JWKSOption configures the JWKS.
type JWKSOption func(*jwksOptions)

// JWKSWithHTTPClient settings the http.Client used to fetch the key set.
func JWKSWithHTTPClient(httpClient *http.Client) JWKSOption {
	return func(o *jwksOptions) {
		o.httpClient = httpClient
	}
}

// JWKSWithRefreshInterval settings how often the key set is fetched in the background.
func JWKSWithRefreshInterval(d time.Duration) JWKSOption {
	return func(o *jwksOptions) {
		o.refreshInterval = d
	}
}

// JWKSWithRequestsPerMinute settings how many unknown-kid fetches are allowed per minute.
func JWKSWithRequestsPerMinute(n int) JWKSOption {
	return func(o *jwksOptions) {
		o.requestsPerMinute = n
	}
}

// JWKSWithLogger settings the logger.
func JWKSWithLogger(logger *zap.Logger) JWKSOption {
	return func(o *jwksOptions) {
		o.logger = logger
	}
}

// NewJWKS creates a JWKS for the key set published at url.
//
// A failing first fetch is not an error; tokens are rejected until a later fetch succeeds.
func NewJWKS(ctx context.Context, url string, options ...JWKSOption) (*JWKS, error) {
	opts := &jwksOptions{
		httpClient:        http.DefaultClient,
		refreshInterval:   DefaultRefreshInterval,
		requestsPerMinute: DefaultRequestsPerMinute,
		logger:            zap.NewNop(),
	}
	for _, opt := range options {
		opt(opts)
	}
	logger := opts.logger.With(zap.String("url", url))

	storage, err := jwkset.NewStorageFromHTTP(url, jwkset.HTTPClientStorageOptions{
		Client:                    opts.httpClient,
		Ctx:                       ctx,
		HTTPExpectedStatus:        http.StatusOK,
		HTTPMethod:                http.MethodGet,
		HTTPTimeout:               fetchTimeout,
		NoErrorReturnFirstHTTPReq: true,
		RefreshErrorHandler: func(_ context.Context, err error) {
			logger.Warn("failed to refresh key set", zap.Error(err))
		},
		RefreshInterval: opts.refreshInterval,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create key set storage: %w", err)
	}

	limit := rate.Every(time.Minute / time.Duration(opts.requestsPerMinute))
	client, err := jwkset.NewHTTPClient(jwkset.HTTPClientOptions{
		HTTPURLs:          map[string]jwkset.Storage{url: storage},
		RateLimitWaitMax:  rateLimitWaitMax,
		RefreshUnknownKID: rate.NewLimiter(limit, opts.requestsPerMinute),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create key set client: %w", err)
	}

	kf, err := keyfunc.New(keyfunc.Options{
		Ctx:          ctx,
		Storage:      client,
		UseWhitelist: []jwkset.USE{jwkset.UseSig},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create keyfunc: %w", err)
	}
	return &JWKS{keyfunc: kf}, nil
}

// Keyfunc returns the signing key named by the kid header of token. It is a jwt.Keyfunc.
//
// Errors wrap ErrMissingKeyID or ErrKeyNotFound.
func (j *JWKS) Keyfunc(token *jwt.Token) (any, error) {
	kid, _ := token.Header["kid"].(string)
	if kid == "" {
		return nil, ErrMissingKeyID
	}
	key, err := j.keyfunc.Keyfunc(token)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %w", ErrKeyNotFound, kid, err)
	}
	return key, nil
}
