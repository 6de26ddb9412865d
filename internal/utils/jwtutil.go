package utils

import (
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v4"
)

var jwtSecret = []byte("4c9e8d1a-77b2-4f60-9c35-2ab1e04d88f1")

// SetJWTSecret overrides the built-in development secret. Called once at
// startup when JWT_SECRET is configured.
func SetJWTSecret(secret string) {
	if secret != "" {
		jwtSecret = []byte(secret)
	}
}

type Claims struct {
	UserID     int64  `json:"user_id"`
	EmployeeID string `json:"employee_id"`
	Role       string `json:"role"`
	StationID  *int64 `json:"station_id,omitempty"`
	jwt.RegisteredClaims
}

func GenerateToken(userID int64, employeeID, role string, stationID *int64, ttl time.Duration) (string, time.Time, error) {
	exp := time.Now().Add(ttl)
	claims := &Claims{
		UserID:     userID,
		EmployeeID: employeeID,
		Role:       role,
		StationID:  stationID,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(exp),
			IssuedAt:  jwt.NewNumericDate(time.Now()),
			Subject:   employeeID,
		},
	}
	t := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	s, err := t.SignedString(jwtSecret)
	return s, exp, err
}

func ParseToken(tokenStr string) (*Claims, error) {
	token, err := jwt.ParseWithClaims(tokenStr, &Claims{}, func(t *jwt.Token) (interface{}, error) {
		return jwtSecret, nil
	})

	if err != nil {
		return nil, err
	}

	if claims, ok := token.Claims.(*Claims); ok && token.Valid {
		return claims, nil
	}

	return nil, errors.New("invalid token")
}
