package jwt

import (
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/madcarpet/lessonadmin/internal/logger"
	"go.uber.org/zap"
)

const issuer = "lessonadmin"

type jwtTokenizer struct {
	secretKey      string
	expirationTime time.Duration
}

type Claims struct {
	jwt.RegisteredClaims
	AdminID string `json:"admin_id"`
}

func NewJwtTokenizer(key string, etime time.Duration) *jwtTokenizer {
	return &jwtTokenizer{secretKey: key, expirationTime: etime}
}

func (t *jwtTokenizer) ProduceToken(adminID string) (string, error) {
	now := time.Now()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(t.expirationTime)),
		},
		AdminID: adminID,
	})
	tokenString, err := token.SignedString([]byte(t.secretKey))
	if err != nil {
		logger.Log.Error("token generating error", zap.Error(err))
		return "", err
	}
	return tokenString, nil
}

func (t *jwtTokenizer) VerifyToken(ts string) (string, error) {
	claims := &Claims{}
	token, err := jwt.ParseWithClaims(ts, claims,
		func(tn *jwt.Token) (interface{}, error) {
			//Check if the token signed with HMAC
			if _, ok := tn.Method.(*jwt.SigningMethodHMAC); !ok {
				return nil, fmt.Errorf("unexpected signing method: %v", tn.Header["alg"])
			}
			return []byte(t.secretKey), nil
		}, jwt.WithIssuer(issuer))
	if err != nil {
		logger.Log.Debug("token validating error", zap.Error(err))
		return "", err
	}
	if !token.Valid || claims.AdminID == "" {
		logger.Log.Debug("token is invalid")
		return "", fmt.Errorf("token is invalid")
	}
	return claims.AdminID, nil
}
