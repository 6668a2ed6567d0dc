package controller

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"deepchat/service"
)

// AuthController ...
type AuthController struct {
	tokens *service.TokenService
	logger *logrus.Logger
}

func NewAuthController(tokens *service.TokenService, logger *logrus.Logger) *AuthController {
	return &AuthController{tokens: tokens, logger: logger}
}

// RequireToken resolves the caller identity from the access token and
// stores it in the request context; every protected route runs behind
// it. Revoked or unparsable tokens abort with 401 before the handler.
func (a *AuthController) RequireToken() gin.HandlerFunc {
	return func(c *gin.Context) {
		md, err := a.tokens.ExtractTokenMetadata(c.Request)
		if err != nil {
			abortUnauthenticated(c, "please login first")
			return
		}
		c.Set("UserId", md.UserID)
		c.Set("Email", md.Email)
		c.Next()
	}
}

// Refresh ...
func (a *AuthController) Refresh(c *gin.Context) {
	td, err := a.tokens.Refresh(c.Request)
	if err != nil {
		a.logger.Warnf("[%s] token refresh rejected: %s", c.GetString("requestId"), err)
		respondError(c, err)
		return
	}
	respondData(c, http.StatusOK, gin.H{"token": td.AccessToken})
}
