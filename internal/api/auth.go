package api

import (
	"context"
	"crypto/subtle"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/site-analytics-import/internal/models"
)

// Authorizer decides whether a request may administer a site
type Authorizer interface {
	HasAdminAccess(ctx context.Context, token string, site *models.Site) (bool, error)
}

// tokenAuthorizer grants access when the bearer token matches the site's
// admin token
type tokenAuthorizer struct{}

// NewTokenAuthorizer creates the default bearer-token authorizer
func NewTokenAuthorizer() Authorizer {
	return &tokenAuthorizer{}
}

func (a *tokenAuthorizer) HasAdminAccess(ctx context.Context, token string, site *models.Site) (bool, error) {
	if token == "" || site.AdminToken == "" {
		return false, nil
	}
	return subtle.ConstantTimeCompare([]byte(token), []byte(site.AdminToken)) == 1, nil
}

// bearerToken extracts the token from the Authorization header
func bearerToken(c *gin.Context) string {
	header := c.GetHeader("Authorization")
	if header == "" {
		return ""
	}
	const prefix = "Bearer "
	if !strings.HasPrefix(header, prefix) {
		return ""
	}
	return strings.TrimPrefix(header, prefix)
}
