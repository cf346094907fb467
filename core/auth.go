/*
Package core provides the authentication gate for the chatrelay server.

Every core entry point (push-connection open, message submit, history read)
is wrapped by a bearer-token middleware. The token is accepted from the
Authorization header or from the ?token= query parameter, because the
browser's EventSource transport cannot set custom headers.

Registration and login live here as well; they are the only routes the gate
does not wrap.
*/
package core

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"chatrelay/store"

	"github.com/golang-jwt/jwt/v5"
	"github.com/labstack/echo/v4"
	"github.com/sirupsen/logrus"
	"golang.org/x/crypto/bcrypt"
)

// userContextKey is the echo context key under which the gate stores the
// authenticated token claims.
const userContextKey = "authUser"

// TokenClaims is the JWT payload issued at login and verified by the gate.
type TokenClaims struct {
	UserID   int64  `json:"userId"`
	Username string `json:"username"`
	jwt.RegisteredClaims
}

// requireAuth validates the bearer credential before allowing a request
// through. It rejects with 401 when the token is absent, malformed, expired,
// or refers to a user no longer present in the identity store.
func (s *Server) requireAuth(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		token := ""
		if header := c.Request().Header.Get(echo.HeaderAuthorization); strings.HasPrefix(header, "Bearer ") {
			token = strings.TrimPrefix(header, "Bearer ")
		} else if query := c.QueryParam("token"); query != "" {
			token = query
		}

		if token == "" {
			s.logger.WithField("clientIP", c.RealIP()).Warn("Unauthorized request: missing bearer token")
			return c.JSON(http.StatusUnauthorized, map[string]string{"error": "missing bearer token"})
		}

		claims := &TokenClaims{}
		parsed, err := jwt.ParseWithClaims(token, claims, func(t *jwt.Token) (any, error) {
			if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
				return nil, fmt.Errorf("unexpected signing method %q", t.Method.Alg())
			}
			return []byte(s.config.JWTSecret), nil
		})
		if err != nil || !parsed.Valid {
			s.logger.WithError(err).WithField("clientIP", c.RealIP()).Warn("Unauthorized request: invalid or expired token")
			return c.JSON(http.StatusUnauthorized, map[string]string{"error": "invalid or expired token"})
		}

		// The user may have been deleted since the token was issued
		if _, err := s.db.FindUserByID(c.Request().Context(), claims.UserID); err != nil {
			s.logger.WithField("userId", claims.UserID).Warn("Unauthorized request: token refers to unknown user")
			return c.JSON(http.StatusUnauthorized, map[string]string{"error": "unknown user"})
		}

		c.Set(userContextKey, claims)
		return next(c)
	}
}

// authClaims retrieves the verified claims the gate attached to the request.
func authClaims(c echo.Context) *TokenClaims {
	claims, _ := c.Get(userContextKey).(*TokenClaims)
	return claims
}

// handleRegister creates a new user account.
func (s *Server) handleRegister(c echo.Context) error {
	requestLogger := s.logger.WithFields(logrus.Fields{
		"endpoint": "/auth/register",
		"method":   "POST",
		"clientIP": c.RealIP(),
	})

	var req RegisterRequest
	if err := c.Bind(&req); err != nil {
		requestLogger.WithError(err).Error("Failed to parse register request body")
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "invalid request"})
	}

	if req.Username == "" || req.Password == "" {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "username and password are required"})
	}
	if len(req.Username) < 3 || len(req.Username) > 50 {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "username must be between 3 and 50 characters"})
	}
	if len(req.Password) < 6 {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "password must be at least 6 characters"})
	}

	ctx := c.Request().Context()

	if _, err := s.db.FindUserByUsername(ctx, req.Username); err == nil {
		requestLogger.WithField("username", req.Username).Warn("Registration rejected: username taken")
		return c.JSON(http.StatusConflict, map[string]string{"error": "username already exists"})
	} else if !errors.Is(err, store.ErrNotFound) {
		requestLogger.WithError(err).Error("Failed to check username availability")
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": "registration failed"})
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(req.Password), bcrypt.DefaultCost)
	if err != nil {
		requestLogger.WithError(err).Error("Failed to hash password")
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": "registration failed"})
	}

	user, err := s.db.CreateUser(ctx, req.Username, string(hash), req.Email)
	if err != nil {
		requestLogger.WithError(err).Error("Failed to create user")
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": "registration failed"})
	}

	requestLogger.WithFields(logrus.Fields{
		"username": user.Username,
		"userId":   user.ID,
	}).Info("User registered")

	return c.JSON(http.StatusCreated, map[string]any{
		"message": "registration successful",
		"user":    AuthUser{ID: user.ID, Username: user.Username, Email: user.Email},
	})
}

// handleLogin verifies credentials and issues a signed bearer token.
func (s *Server) handleLogin(c echo.Context) error {
	requestLogger := s.logger.WithFields(logrus.Fields{
		"endpoint": "/auth/login",
		"method":   "POST",
		"clientIP": c.RealIP(),
	})

	var req LoginRequest
	if err := c.Bind(&req); err != nil {
		requestLogger.WithError(err).Error("Failed to parse login request body")
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "invalid request"})
	}

	if req.Username == "" || req.Password == "" {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "username and password are required"})
	}

	user, err := s.db.FindUserByUsername(c.Request().Context(), req.Username)
	if err != nil {
		requestLogger.WithField("username", req.Username).Warn("Login failed: unknown user")
		return c.JSON(http.StatusUnauthorized, map[string]string{"error": "incorrect username or password"})
	}

	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(req.Password)); err != nil {
		requestLogger.WithField("username", req.Username).Warn("Login failed: password mismatch")
		return c.JSON(http.StatusUnauthorized, map[string]string{"error": "incorrect username or password"})
	}

	now := time.Now()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, TokenClaims{
		UserID:   user.ID,
		Username: user.Username,
		RegisteredClaims: jwt.RegisteredClaims{
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(s.config.TokenExpiration)),
		},
	})

	signed, err := token.SignedString([]byte(s.config.JWTSecret))
	if err != nil {
		requestLogger.WithError(err).Error("Failed to sign token")
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": "login failed"})
	}

	requestLogger.WithFields(logrus.Fields{
		"username": user.Username,
		"userId":   user.ID,
	}).Info("User logged in")

	return c.JSON(http.StatusOK, map[string]any{
		"token": signed,
		"user":  AuthUser{ID: user.ID, Username: user.Username, Email: user.Email},
	})
}
