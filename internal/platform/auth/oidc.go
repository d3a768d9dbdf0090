package auth

import (
	"context"
	"net/http"
	"slices"
	"strings"
	"time"

	jwt "github.com/golang-jwt/jwt/v4"
	"go.uber.org/zap"
)

const oidcLeeway = 30 * time.Second

// KeySource supplies verification keys for Google-signed tokens.
type KeySource interface {
	Keyfunc(ctx context.Context) jwt.Keyfunc
}

// OIDCValidator authenticates service-to-service calls carrying Google-signed ID tokens.
type OIDCValidator struct {
	keys     KeySource
	logger   *zap.Logger
	recorder VerificationRecorder
	clock    func() time.Time
}

// OIDCOption customises OIDCValidator.
type OIDCOption func(*OIDCValidator)

// WithOIDCLogger logs rejected tokens.
func WithOIDCLogger(logger *zap.Logger) OIDCOption {
	return func(v *OIDCValidator) {
		if logger != nil {
			v.logger = logger
		}
	}
}

// WithOIDCRecorder reports verification outcomes.
func WithOIDCRecorder(recorder VerificationRecorder) OIDCOption {
	return func(v *OIDCValidator) {
		v.recorder = recorder
	}
}

// WithOIDCClock overrides time.Now for expiry checks.
func WithOIDCClock(clock func() time.Time) OIDCOption {
	return func(v *OIDCValidator) {
		if clock != nil {
			v.clock = clock
		}
	}
}

// NewOIDCValidator builds a validator around keys.
func NewOIDCValidator(keys KeySource, opts ...OIDCOption) *OIDCValidator {
	v := &OIDCValidator{keys: keys, logger: zap.NewNop(), clock: time.Now}
	for _, opt := range opts {
		if opt != nil {
			opt(v)
		}
	}
	return v
}

// RequireOIDC accepts tokens whose audience is one of audiences and whose issuer is one of
// issuers. With no audiences or issuers configured every request is rejected.
func (v *OIDCValidator) RequireOIDC(audiences, issuers []string) func(http.Handler) http.Handler {
	audiences = compactStrings(audiences)
	issuers = compactStrings(issuers)
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()
			start := v.clock()

			identity, reason := v.verify(ctx, r, audiences, issuers)
			if identity == nil {
				v.logger.Warn("oidc token rejected", zap.String("reason", reason), zap.String("path", r.URL.Path))
				recordVerification(ctx, v.recorder, "oidc", false, reason, start, v.clock())
				writeAuthError(w, r, http.StatusUnauthorized, "unauthenticated", "a valid service identity token is required")
				return
			}
			recordVerification(ctx, v.recorder, "oidc", true, "ok", start, v.clock())
			next.ServeHTTP(w, r.WithContext(WithServiceIdentity(ctx, identity)))
		})
	}
}

func (v *OIDCValidator) verify(ctx context.Context, r *http.Request, audiences, issuers []string) (*ServiceIdentity, string) {
	if v.keys == nil || len(audiences) == 0 || len(issuers) == 0 {
		return nil, "not_configured"
	}
	raw := oidcToken(r)
	if raw == "" {
		return nil, "missing_token"
	}

	parser := jwt.NewParser(
		jwt.WithValidMethods([]string{jwt.SigningMethodRS256.Alg()}),
		jwt.WithoutClaimsValidation(),
	)
	claims := jwt.MapClaims{}
	if _, err := parser.ParseWithClaims(raw, claims, v.keys.Keyfunc(ctx)); err != nil {
		return nil, "invalid_token"
	}
	now := v.clock()
	if !claims.VerifyExpiresAt(now.Add(-oidcLeeway).Unix(), true) {
		return nil, "expired_token"
	}
	if !claims.VerifyIssuedAt(now.Add(oidcLeeway).Unix(), false) {
		return nil, "issued_in_future"
	}

	issuer, _ := claims["iss"].(string)
	if !slices.Contains(issuers, issuer) {
		return nil, "issuer_mismatch"
	}
	tokenAudiences := audienceFromClaims(claims)
	idx := slices.IndexFunc(tokenAudiences, func(aud string) bool { return slices.Contains(audiences, aud) })
	if idx < 0 {
		return nil, "audience_mismatch"
	}

	subject, _ := claims["sub"].(string)
	if subject == "" {
		return nil, "missing_subject"
	}
	email, _ := claims["email"].(string)
	return &ServiceIdentity{
		Subject:  subject,
		Email:    email,
		Issuer:   issuer,
		Audience: tokenAudiences[idx],
	}, ""
}

// oidcToken prefers X-Serverless-Authorization, which Cloud Run sets when the Authorization
// header is taken by another scheme.
func oidcToken(r *http.Request) string {
	for _, header := range []string{"X-Serverless-Authorization", "Authorization"} {
		value := strings.TrimSpace(r.Header.Get(header))
		scheme, token, ok := strings.Cut(value, " ")
		if ok && strings.EqualFold(scheme, "Bearer") && strings.TrimSpace(token) != "" {
			return strings.TrimSpace(token)
		}
	}
	return ""
}

func audienceFromClaims(claims jwt.MapClaims) []string {
	switch aud := claims["aud"].(type) {
	case string:
		return []string{aud}
	case []string:
		return aud
	case []any:
		out := make([]string, 0, len(aud))
		for _, item := range aud {
			if value, ok := item.(string); ok {
				out = append(out, value)
			}
		}
		return out
	}
	return nil
}

func compactStrings(values []string) []string {
	out := make([]string, 0, len(values))
	for _, value := range values {
		if value = strings.TrimSpace(value); value != "" && !slices.Contains(out, value) {
			out = append(out, value)
		}
	}
	return out
}
