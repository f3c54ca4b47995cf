package mw

import (
	"net/http"
	"net/url"
	"strings"

	"github.com/gin-gonic/gin"
)

// CORSOptions 控制跨域放行的来源。
type CORSOptions struct {
	// AllowAll 为 true 时回显任意来源，仅用于 dev。
	AllowAll bool
	// Allowed 是额外放行的来源，形如 https://app.example.com。
	Allowed []string
}

// originAllowed 判断 origin 是否可放行：同源（host 完全相等）或在白名单中。
func (o CORSOptions) originAllowed(origin, host string) bool {
	if o.AllowAll {
		return true
	}
	u, err := url.Parse(origin)
	if err != nil || u.Host == "" || (u.Scheme != "http" && u.Scheme != "https") {
		return false
	}
	if strings.EqualFold(u.Host, host) {
		return true
	}
	normalized := u.Scheme + "://" + strings.ToLower(u.Host)
	for _, a := range o.Allowed {
		if strings.EqualFold(strings.TrimRight(a, "/"), normalized) {
			return true
		}
	}
	return false
}

// CORS 返回跨域中间件。不放行的来源不带任何 CORS 头，由浏览器拦截。
func CORS(opts CORSOptions) gin.HandlerFunc {
	return func(c *gin.Context) {
		origin := c.GetHeader("Origin")
		if origin == "" {
			c.Next()
			return
		}
		c.Header("Vary", "Origin")
		if !opts.originAllowed(origin, c.Request.Host) {
			if c.Request.Method == http.MethodOptions {
				c.AbortWithStatus(http.StatusForbidden)
				return
			}
			c.Next()
			return
		}

		c.Header("Access-Control-Allow-Origin", origin)
		c.Header("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		c.Header("Access-Control-Allow-Headers", "Content-Type, Authorization, X-Request-ID")
		c.Header("Access-Control-Allow-Credentials", "true")
		c.Header("Access-Control-Max-Age", "86400")

		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}
		c.Next()
	}
}
