package middleware

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/wfunc/party-race/internal/service"
)

// AuthMiddleware JWT认证中间件
type AuthMiddleware struct {
	authService service.AuthService
}

// NewAuthMiddleware 创建认证中间件
func NewAuthMiddleware(authService service.AuthService) *AuthMiddleware {
	return &AuthMiddleware{authService: authService}
}

// RequireAuth 要求携带有效令牌
func (m *AuthMiddleware) RequireAuth() gin.HandlerFunc {
	return func(c *gin.Context) {
		claims, ok := m.authenticate(c)
		if !ok {
			return
		}
		setClaims(c, claims)
		c.Next()
	}
}

// OptionalAuth 令牌可选：有效则注入用户信息，无效或缺失当游客放行
func (m *AuthMiddleware) OptionalAuth() gin.HandlerFunc {
	return func(c *gin.Context) {
		if token := extractToken(c); token != "" {
			if claims, err := m.authService.ValidateToken(c.Request.Context(), token); err == nil {
				setClaims(c, claims)
			}
		}
		c.Next()
	}
}

// RequireRole 要求有效令牌且角色匹配其一
func (m *AuthMiddleware) RequireRole(roles ...string) gin.HandlerFunc {
	return func(c *gin.Context) {
		claims, ok := m.authenticate(c)
		if !ok {
			return
		}

		matched := false
		for _, role := range roles {
			if claims.Role == role {
				matched = true
				break
			}
		}
		if !matched {
			c.JSON(http.StatusForbidden, gin.H{
				"code":    "INSUFFICIENT_PERMISSION",
				"message": "权限不足",
			})
			c.Abort()
			return
		}

		setClaims(c, claims)
		c.Next()
	}
}

// authenticate 提取并校验令牌，失败时直接响应401
func (m *AuthMiddleware) authenticate(c *gin.Context) (*service.TokenClaims, bool) {
	token := extractToken(c)
	if token == "" {
		c.JSON(http.StatusUnauthorized, gin.H{
			"code":    "NO_TOKEN",
			"message": "缺少认证令牌",
		})
		c.Abort()
		return nil, false
	}

	claims, err := m.authService.ValidateToken(c.Request.Context(), token)
	if err != nil {
		c.JSON(http.StatusUnauthorized, gin.H{
			"code":    "INVALID_TOKEN",
			"message": "无效的令牌",
			"details": err.Error(),
		})
		c.Abort()
		return nil, false
	}

	return claims, true
}

// setClaims 把令牌中的用户信息写入请求上下文
func setClaims(c *gin.Context, claims *service.TokenClaims) {
	c.Set("userID", claims.UserID)
	c.Set("username", claims.Username)
	c.Set("role", claims.Role)
	c.Set("sessionID", claims.SessionID)
}

// extractToken 依次尝试 Authorization 头、X-Access-Token 头和 Cookie
// WebSocket握手无法自定义请求头，额外支持 token 查询参数
func extractToken(c *gin.Context) string {
	if bearer := c.GetHeader("Authorization"); bearer != "" {
		parts := strings.Split(bearer, " ")
		if len(parts) == 2 && strings.ToLower(parts[0]) == "bearer" {
			return parts[1]
		}
	}

	if token := c.GetHeader("X-Access-Token"); token != "" {
		return token
	}

	if token, err := c.Cookie("access_token"); err == nil && token != "" {
		return token
	}

	return c.Query("token")
}

// GetUserID 从上下文获取用户ID
func GetUserID(c *gin.Context) (uint, bool) {
	if v, exists := c.Get("userID"); exists {
		if id, ok := v.(uint); ok {
			return id, true
		}
	}
	return 0, false
}

// GetUsername 从上下文获取用户名
func GetUsername(c *gin.Context) (string, bool) {
	if v, exists := c.Get("username"); exists {
		if name, ok := v.(string); ok {
			return name, true
		}
	}
	return "", false
}

// GetUserRole 从上下文获取用户角色
func GetUserRole(c *gin.Context) (string, bool) {
	if v, exists := c.Get("role"); exists {
		if role, ok := v.(string); ok {
			return role, true
		}
	}
	return "", false
}

// GetSessionID 从上下文获取会话ID
func GetSessionID(c *gin.Context) (string, bool) {
	if v, exists := c.Get("sessionID"); exists {
		if id, ok := v.(string); ok {
			return id, true
		}
	}
	return "", false
}

// IsAuthenticated 检查是否已认证
func IsAuthenticated(c *gin.Context) bool {
	_, exists := c.Get("userID")
	return exists
}

// HasRole 检查是否有指定角色
func HasRole(c *gin.Context, role string) bool {
	if userRole, ok := GetUserRole(c); ok {
		return userRole == role
	}
	return false
}
