package middleware

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"otc-settlement-go/internal/models"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
)

// Claims carries the identity binding the auth provider issues: a user id
// and the wallet address bound to it at login.
type Claims struct {
	UserId        string `json:"user_id"`
	WalletAddress string `json:"wallet_address"`
	jwt.RegisteredClaims
}

// GenerateToken creates a new JWT token for a user
func GenerateToken(userId, walletAddress, secret string, expiry time.Duration) (string, error) {
	expirationTime := time.Now().Add(expiry)
	claims := &Claims{
		UserId:        userId,
		WalletAddress: walletAddress,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(expirationTime),
			IssuedAt:  jwt.NewNumericDate(time.Now()),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString([]byte(secret))
}

// JwtAuthMiddleware validates the JWT token and stores the caller session
// in the request context.
func JwtAuthMiddleware(cfg models.AuthConfig) gin.HandlerFunc {
	return func(c *gin.Context) {
		authHeader := c.GetHeader("Authorization")
		if authHeader == "" {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "Authorization header is required"})
			c.Abort()
			return
		}

		parts := strings.Split(authHeader, " ")
		if len(parts) != 2 || parts[0] != "Bearer" {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "Invalid authorization header format"})
			c.Abort()
			return
		}

		tokenString := parts[1]

		claims := &Claims{}
		token, err := jwt.ParseWithClaims(tokenString, claims, func(token *jwt.Token) (interface{}, error) {
			if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
				return nil, errors.New("unexpected signing method")
			}
			return []byte(cfg.JWTSecret), nil
		})

		if err != nil {
			if errors.Is(err, jwt.ErrTokenExpired) {
				c.JSON(http.StatusUnauthorized, gin.H{"error": "Token has expired", "code": "ExpiredToken"})
			} else {
				c.JSON(http.StatusUnauthorized, gin.H{"error": "Invalid token", "code": "InvalidToken"})
			}
			c.Abort()
			return
		}

		if !token.Valid || claims.UserId == "" {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "Invalid token", "code": "InvalidToken"})
			c.Abort()
			return
		}

		session := &models.Session{
			UserId:        claims.UserId,
			WalletAddress: claims.WalletAddress,
		}
		c.Request = c.Request.WithContext(models.WithSession(c.Request.Context(), session))

		c.Next()
	}
}

// SessionFrom returns the caller session a successful JwtAuthMiddleware
// pass attached to the request context.
func SessionFrom(c *gin.Context) *models.Session {
	return models.GetSession(c.Request.Context())
}
