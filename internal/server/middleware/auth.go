package middleware

import (
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"

	"rtmpipe/internal/common"
	"rtmpipe/internal/server/model"
)

type Claims struct {
	Username string `json:"username"`
	Role     string `json:"role"`
	jwt.RegisteredClaims
}

func GenerateJWT(username, userRole string) (string, error) {
	cfg := common.GetConfig().Server
	expirationTime := time.Now().Add(cfg.JWTExpire)
	claims := &Claims{
		Username: username,
		Role:     userRole,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(expirationTime),
			IssuedAt:  jwt.NewNumericDate(time.Now()),
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString([]byte(cfg.JWTKey))
}

func JWTAuthMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		cfg := common.GetConfig().Server
		tokenString, err := common.GetAuthorizationToken(c.GetHeader("Authorization"))
		if err != nil {
			common.Error(c, common.NewErrNo(common.TokenInvalid))
			c.Abort()
			return
		}

		claims := &Claims{}
		token, err := jwt.ParseWithClaims(tokenString, claims, func(t *jwt.Token) (interface{}, error) {
			return []byte(cfg.JWTKey), nil
		}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))

		if err != nil || !token.Valid {
			common.Error(c, common.NewErrNo(common.TokenInvalid))
			c.Abort()
			return
		}

		// 临近过期时下发新 token
		if claims.ExpiresAt.Time.Before(time.Now().Add(cfg.JWTRefresh)) {
			newToken, err := GenerateJWT(claims.Username, claims.Role)
			if err != nil {
				common.Error(c, common.NewErrNo(common.TokenInvalid))
				c.Abort()
				return
			}
			c.Header("Authorization", "Bearer "+newToken)
		}
		c.Set("username", claims.Username)
		c.Set("userRole", claims.Role)
		c.Next()
	}
}

// RequireExecutor lets only users allowed to start runs through.
func RequireExecutor() gin.HandlerFunc {
	return func(c *gin.Context) {
		if c.GetString("userRole") != model.RoleExecutor {
			common.Error(c, common.NewErrNo(common.PermissionDenied))
			c.Abort()
			return
		}
		c.Next()
	}
}
