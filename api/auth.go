package api

import (
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

const (
	accessTokenCookie = "access_token"
	contextKeyUserID  = "userID"
)

var ErrMissingToken = errors.New("access token is missing")

// Claims 是 BaaS 簽發的存取權杖內容，Subject 為使用者 ID
type Claims struct {
	Email string `json:"email,omitempty"`
	Role  string `json:"role,omitempty"`
	jwt.RegisteredClaims
}

// ParseAndValidateJWT 驗證 HS256 簽章、有效期限以及 subject 格式
func ParseAndValidateJWT(tokenString string, secret []byte, audience string, now func() time.Time) (*Claims, error) {
	const op = "ParseAndValidateJWT"
	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(now),
	}
	if audience != "" {
		opts = append(opts, jwt.WithAudience(audience))
	}

	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(token *jwt.Token) (any, error) {
		return secret, nil
	}, opts...)
	if err != nil {
		return nil, fmt.Errorf("[%s] %w", op, err)
	}
	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		return nil, fmt.Errorf("[%s] token claims are invalid", op)
	}
	if _, err := uuid.Parse(claims.Subject); err != nil {
		return nil, fmt.Errorf("[%s] subject is not a user id, err=%w", op, err)
	}
	return claims, nil
}

// tokenFromRequest 依序從 Authorization 標頭與 access_token cookie 取得權杖
// cookie 只在 GET 與 HEAD 請求使用，會改變狀態的請求必須帶 Authorization 標頭
func tokenFromRequest(c *gin.Context) (string, error) {
	if header := c.GetHeader("Authorization"); header != "" {
		scheme, token, found := strings.Cut(header, " ")
		if found && strings.EqualFold(scheme, "Bearer") && strings.TrimSpace(token) != "" {
			return strings.TrimSpace(token), nil
		}
	}
	if !safeMethod(c.Request.Method) {
		return "", ErrMissingToken
	}
	if cookie, err := c.Cookie(accessTokenCookie); err == nil && cookie != "" {
		return cookie, nil
	}
	return "", ErrMissingToken
}

func safeMethod(method string) bool {
	return method == http.MethodGet || method == http.MethodHead
}

// Authenticate 驗證請求者身分並將使用者 ID 存入 context
// required 為 false 時，沒有或無效的權杖都以匿名身分繼續處理
func (s *Server) Authenticate(required bool) gin.HandlerFunc {
	logger := s.logger.With(slog.String("caller", "Authenticate"))
	return func(c *gin.Context) {
		token, err := tokenFromRequest(c)
		if err == nil {
			var claims *Claims
			claims, err = ParseAndValidateJWT(token, []byte(s.config.Auth.Secret), s.config.Auth.Audience, s.clock)
			if err == nil {
				c.Set(contextKeyUserID, claims.Subject)
				c.Next()
				return
			}
			logger.Debug("Reject access token", slog.Any("error", err))
		}
		if required {
			c.AbortWithStatusJSON(http.StatusUnauthorized, errorResponse{
				Code:    "unauthorized",
				Message: "Bu işlem için giriş yapmalısınız",
			})
			return
		}
		c.Next()
	}
}

func userID(c *gin.Context) (string, bool) {
	id := c.GetString(contextKeyUserID)
	return id, id != ""
}
