package auth

import (
	"context"
	"net/http"
	"strings"
	"time"

	firebaseauth "firebase.google.com/go/v4/auth"
	"go.uber.org/zap"
)

// Authenticator guards customer and staff routes with Firebase ID tokens.
type Authenticator struct {
	verifier TokenVerifier
	logger   *zap.Logger
	recorder VerificationRecorder
	clock    func() time.Time
}

// AuthenticatorOption customises Authenticator.
type AuthenticatorOption func(*Authenticator)

// WithAuthenticatorLogger logs rejected tokens.
func WithAuthenticatorLogger(logger *zap.Logger) AuthenticatorOption {
	return func(a *Authenticator) {
		if logger != nil {
			a.logger = logger
		}
	}
}

// WithAuthenticatorRecorder reports verification outcomes.
func WithAuthenticatorRecorder(recorder VerificationRecorder) AuthenticatorOption {
	return func(a *Authenticator) {
		a.recorder = recorder
	}
}

// WithAuthenticatorClock overrides time.Now.
func WithAuthenticatorClock(clock func() time.Time) AuthenticatorOption {
	return func(a *Authenticator) {
		if clock != nil {
			a.clock = clock
		}
	}
}

// NewAuthenticator builds an Authenticator around verifier.
func NewAuthenticator(verifier TokenVerifier, opts ...AuthenticatorOption) *Authenticator {
	a := &Authenticator{
		verifier: verifier,
		logger:   zap.NewNop(),
		clock:    time.Now,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(a)
		}
	}
	return a
}

// RequireFirebaseAuth rejects requests without a valid bearer ID token. When roles are given the
// identity must hold at least one of them.
func (a *Authenticator) RequireFirebaseAuth(roles ...string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			identity, reason := a.authenticate(r.Context(), r)
			if identity == nil {
				a.logger.Debug("firebase authentication rejected", zap.String("reason", reason), zap.String("path", r.URL.Path))
				writeAuthError(w, r, http.StatusUnauthorized, "unauthenticated", "a valid bearer token is required")
				return
			}
			if len(roles) > 0 && !identity.HasAnyRole(roles...) {
				writeAuthError(w, r, http.StatusForbidden, "insufficient_role", "caller lacks the role required for this operation")
				return
			}
			next.ServeHTTP(w, r.WithContext(WithIdentity(r.Context(), identity)))
		})
	}
}

func (a *Authenticator) authenticate(ctx context.Context, r *http.Request) (*Identity, string) {
	if a.verifier == nil {
		return nil, "not_configured"
	}
	start := a.clock()
	raw, ok := bearerToken(r)
	if !ok {
		recordVerification(ctx, a.recorder, "firebase", false, "missing_token", start, a.clock())
		return nil, "missing_token"
	}
	token, err := a.verifier.VerifyIDToken(ctx, raw)
	if err != nil || token == nil || token.UID == "" {
		recordVerification(ctx, a.recorder, "firebase", false, "invalid_token", start, a.clock())
		return nil, "invalid_token"
	}
	recordVerification(ctx, a.recorder, "firebase", true, "ok", start, a.clock())
	return identityFromToken(token), ""
}

func identityFromToken(token *firebaseauth.Token) *Identity {
	identity := &Identity{
		UID:   token.UID,
		Roles: rolesFromClaims(token.Claims),
	}
	if email, ok := token.Claims["email"].(string); ok {
		identity.Email = email
	}
	if verified, ok := token.Claims["email_verified"].(bool); ok {
		identity.EmailVerified = verified
	}
	if name, ok := token.Claims["name"].(string); ok {
		identity.Name = name
	}
	return identity
}

// rolesFromClaims reads the "role"/"roles" custom claims plus the boolean staff and admin flags.
// Every identity is at least a user.
func rolesFromClaims(claims map[string]interface{}) []string {
	seen := map[string]struct{}{RoleUser: {}}
	roles := []string{RoleUser}
	add := func(role string) {
		role = normaliseRole(role)
		if role == "" {
			return
		}
		if _, ok := seen[role]; ok {
			return
		}
		seen[role] = struct{}{}
		roles = append(roles, role)
	}

	for _, key := range []string{"role", "roles"} {
		switch v := claims[key].(type) {
		case string:
			for _, part := range strings.Split(v, ",") {
				add(part)
			}
		case []string:
			for _, part := range v {
				add(part)
			}
		case []interface{}:
			for _, part := range v {
				if s, ok := part.(string); ok {
					add(s)
				}
			}
		}
	}
	for _, flag := range []string{RoleStaff, RoleAdmin} {
		if enabled, ok := claims[flag].(bool); ok && enabled {
			add(flag)
		}
	}
	return roles
}

func bearerToken(r *http.Request) (string, bool) {
	header := strings.TrimSpace(r.Header.Get("Authorization"))
	scheme, token, ok := strings.Cut(header, " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") {
		return "", false
	}
	token = strings.TrimSpace(token)
	return token, token != ""
}
