package middleware

import (
	"errors"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"github.com/pu-ac-cn/uac-ticket/pkg/response"
)

// OpsClaims 运维令牌声明
type OpsClaims struct {
	Scope string `json:"scope"`
	jwt.RegisteredClaims
}

// OpsScope 运维接口要求的权限范围
const OpsScope = "ticket:admin"

// OpsAuth 运维接口认证中间件
// 要求 HS256 签名、未过期、scope 为 ticket:admin 的 Bearer 令牌；issuer 非空时同时校验签发者
func OpsAuth(signingKey []byte, issuer string) gin.HandlerFunc {
	opts := []jwt.ParserOption{jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()})}
	if issuer != "" {
		opts = append(opts, jwt.WithIssuer(issuer))
	}
	parser := jwt.NewParser(opts...)

	return func(c *gin.Context) {
		// 从 Authorization 头获取令牌
		authHeader := c.GetHeader("Authorization")
		if authHeader == "" {
			response.ErrorWithMsg(c, response.CodeInvalidToken, "未提供认证令牌")
			c.Abort()
			return
		}

		// 检查 Bearer 前缀
		parts := strings.SplitN(authHeader, " ", 2)
		if len(parts) != 2 || parts[0] != "Bearer" {
			response.ErrorWithMsg(c, response.CodeInvalidToken, "认证令牌格式错误")
			c.Abort()
			return
		}

		claims := &OpsClaims{}
		_, err := parser.ParseWithClaims(parts[1], claims, func(*jwt.Token) (interface{}, error) {
			return signingKey, nil
		})
		if err != nil {
			switch {
			case errors.Is(err, jwt.ErrTokenExpired):
				response.ErrorWithMsg(c, response.CodeInvalidToken, "令牌已过期")
			default:
				response.Error(c, response.CodeInvalidToken)
			}
			c.Abort()
			return
		}

		if claims.Scope != OpsScope {
			response.Error(c, response.CodeForbidden)
			c.Abort()
			return
		}

		c.Set("operator", claims.Subject)
		c.Next()
	}
}
