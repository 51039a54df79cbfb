package auth

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/MicahParks/keyfunc/v2"
	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"github.com/rs/zerolog"

	"jan-server/services/upload-api/internal/config"
)

// OwnerIDKey is the gin context key carrying the resolved upload owner.
// Middleware sets it on every request; handlers read it through OwnerID.
const OwnerIDKey = "owner_id"

// Validator resolves the owner identity for upload requests. With auth
// enabled it verifies bearer tokens against the configured JWKS and uses
// the token subject as the owner; disabled, every request runs as the
// configured development owner.
type Validator struct {
	cfg  *config.Config
	log  zerolog.Logger
	jwks *keyfunc.JWKS
}

// NewValidator initializes JWKS fetching when auth is enabled.
func NewValidator(ctx context.Context, cfg *config.Config, log zerolog.Logger) (*Validator, error) {
	if !cfg.AuthEnabled {
		return &Validator{cfg: cfg, log: log}, nil
	}

	options := keyfunc.Options{
		Ctx:               ctx,
		RefreshInterval:   time.Hour,
		RefreshUnknownKID: true,
		RefreshErrorHandler: func(err error) {
			log.Error().Err(err).Msg("jwks refresh error")
		},
	}

	jwks, err := keyfunc.Get(cfg.AuthJWKSURL, options)
	if err != nil {
		return nil, err
	}

	return &Validator{
		cfg:  cfg,
		log:  log,
		jwks: jwks,
	}, nil
}

// Middleware attributes every request to an owner. Tokens must carry a
// subject; uploads without one cannot be resumed or listed later, so
// they are rejected rather than stored unowned.
func (v *Validator) Middleware() gin.HandlerFunc {
	if v == nil || !v.cfg.AuthEnabled {
		owner := "anonymous"
		if v != nil && v.cfg.DevOwnerID != "" {
			owner = v.cfg.DevOwnerID
		}
		return func(c *gin.Context) {
			c.Set(OwnerIDKey, owner)
			c.Next()
		}
	}

	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{"RS256", "RS384", "RS512"}),
		jwt.WithIssuer(v.cfg.AuthIssuer),
	}
	if aud := strings.TrimSpace(v.cfg.AuthAudience); aud != "" {
		opts = append(opts, jwt.WithAudience(aud))
	}

	return func(c *gin.Context) {
		tokenString := bearerToken(c.GetHeader("Authorization"))
		if tokenString == "" {
			abortUnauthorized(c, "missing bearer token")
			return
		}

		token, err := jwt.Parse(tokenString, v.jwks.Keyfunc, opts...)
		if err != nil || !token.Valid {
			abortUnauthorized(c, "invalid token")
			return
		}

		subject, err := token.Claims.GetSubject()
		if err != nil || subject == "" {
			abortUnauthorized(c, "token has no subject")
			return
		}

		c.Set(OwnerIDKey, subject)
		c.Next()
	}
}

// OwnerID returns the owner Middleware resolved for this request. Routers
// without the middleware installed fall back to the anonymous owner.
func OwnerID(c *gin.Context) string {
	if owner := c.GetString(OwnerIDKey); owner != "" {
		return owner
	}
	return "anonymous"
}

// Ready indicates if the validator is prepared.
func (v *Validator) Ready() bool {
	if v == nil || !v.cfg.AuthEnabled {
		return true
	}
	return v.jwks != nil
}

func bearerToken(header string) string {
	if header == "" {
		return ""
	}
	parts := strings.SplitN(header, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return ""
	}
	return strings.TrimSpace(parts[1])
}

func abortUnauthorized(c *gin.Context, message string) {
	c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
		"error": message,
		"code":  "UNAUTHORIZED",
	})
}
