package auth

import (
	"errors"

	"github.com/golang-jwt/jwt/v5"
)

// 拒绝原因。Verifier 只返回这些哨兵错误之一。
var (
	ErrMissingToken      = errors.New("missing token")
	ErrMalformedToken    = errors.New("malformed token")
	ErrExpiredToken      = errors.New("token has expired")
	ErrSignatureMismatch = errors.New("token signature mismatch")
	ErrMissingIdentity   = errors.New("token carries no identity")
)

// Outcome 是一次校验的结果：要么带身份通过，要么带原因被拒绝。
type Outcome struct {
	Identity string
	Reason   error
}

func Authenticated(identity string) Outcome { return Outcome{Identity: identity} }

func Rejected(reason error) Outcome { return Outcome{Reason: reason} }

func (o Outcome) OK() bool { return o.Reason == nil && o.Identity != "" }

// Verifier 把 bearer token 解析为用户名。
type Verifier interface {
	Verify(token string) Outcome
}

type JWTVerifier struct {
	secret string
}

func NewJWTVerifier(secret string) *JWTVerifier {
	return &JWTVerifier{secret: secret}
}

func (v *JWTVerifier) Verify(token string) Outcome {
	if token == "" {
		return Rejected(ErrMissingToken)
	}
	claims, err := ParseAccessToken(token, v.secret)
	if err != nil {
		return Rejected(classify(err))
	}
	if claims.Subject == "" {
		return Rejected(ErrMissingIdentity)
	}
	return Authenticated(claims.Subject)
}

func classify(err error) error {
	switch {
	case errors.Is(err, jwt.ErrTokenExpired):
		return ErrExpiredToken
	case errors.Is(err, jwt.ErrTokenSignatureInvalid), errors.Is(err, jwt.ErrTokenUnverifiable):
		return ErrSignatureMismatch
	default:
		return ErrMalformedToken
	}
}

// ReasonLabel 返回用于指标标签的短名称。
func ReasonLabel(err error) string {
	switch {
	case err == nil:
		return "none"
	case errors.Is(err, ErrMissingToken):
		return "missing"
	case errors.Is(err, ErrExpiredToken):
		return "expired"
	case errors.Is(err, ErrSignatureMismatch):
		return "signature"
	case errors.Is(err, ErrMissingIdentity):
		return "identity"
	default:
		return "malformed"
	}
}
