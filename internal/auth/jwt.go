package auth

import (
	"errors"
	"fmt"
	"strings"
	"time"

	apperrors "github.com/aihub/chat-backend/internal/errors"
	"github.com/golang-jwt/jwt/v5"
)

var (
	ErrMissingToken = errors.New("authorization header is empty")
	ErrMalformed    = errors.New("authorization header must use the Bearer scheme")
)

// Claims 访问令牌声明，只关心调用者身份
type Claims struct {
	UserID uint `json:"user_id"`
	jwt.RegisteredClaims
}

// Verifier 校验访问令牌，令牌由外部身份服务签发
type Verifier struct {
	secret []byte
	issuer string
	ttl    time.Duration
	leeway time.Duration
}

// NewVerifier 创建校验器
func NewVerifier(secret, issuer string, ttl time.Duration) (*Verifier, error) {
	if secret == "" {
		return nil, errors.New("jwt secret must not be empty")
	}
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &Verifier{
		secret: []byte(secret),
		issuer: issuer,
		ttl:    ttl,
		leeway: 30 * time.Second,
	}, nil
}

// Issue 签发令牌，用于测试与本地调试
func (v *Verifier) Issue(userID uint) (string, error) {
	now := time.Now()
	claims := &Claims{
		UserID: userID,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   fmt.Sprintf("%d", userID),
			Issuer:    v.issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(v.ttl)),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(v.secret)
}

// Parse 解析并校验令牌
func (v *Verifier) Parse(token string) (*Claims, error) {
	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithLeeway(v.leeway),
		jwt.WithExpirationRequired(),
	}
	if v.issuer != "" {
		opts = append(opts, jwt.WithIssuer(v.issuer))
	}

	claims := &Claims{}
	_, err := jwt.ParseWithClaims(token, claims, func(*jwt.Token) (interface{}, error) {
		return v.secret, nil
	}, opts...)
	if err != nil {
		return nil, err
	}
	if claims.UserID == 0 {
		return nil, errors.New("token carries no user id")
	}
	return claims, nil
}

// Authenticate 从Authorization头解析出用户id，失败时返回Unauthorized错误
func (v *Verifier) Authenticate(header string) (uint, error) {
	token, err := BearerToken(header)
	if err != nil {
		return 0, apperrors.NewUnauthorizedError("").WithCause(err)
	}
	claims, err := v.Parse(token)
	if err != nil {
		msg := "Invalid access token"
		if errors.Is(err, jwt.ErrTokenExpired) {
			msg = "Access token has expired"
		}
		return 0, apperrors.NewUnauthorizedError(msg).WithCause(err)
	}
	return claims.UserID, nil
}

// BearerToken 从请求头提取Bearer令牌
func BearerToken(header string) (string, error) {
	header = strings.TrimSpace(header)
	if header == "" {
		return "", ErrMissingToken
	}
	scheme, token, found := strings.Cut(header, " ")
	if !found || !strings.EqualFold(scheme, "Bearer") {
		return "", ErrMalformed
	}
	token = strings.TrimSpace(token)
	if token == "" {
		return "", ErrMalformed
	}
	return token, nil
}
