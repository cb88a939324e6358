package stubapi

import (
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"
)

const ctxUserID = "stubapi.userID"

// User is the public profile returned by login and /auth/me.
type User struct {
	ID        int    `json:"id"`
	Username  string `json:"username"`
	Email     string `json:"email"`
	FirstName string `json:"firstName"`
	LastName  string `json:"lastName"`
	Gender    string `json:"gender"`
	Image     string `json:"image"`
}

// Claims is the access token payload.
type Claims struct {
	UserID   int    `json:"id"`
	Username string `json:"username"`
	jwt.RegisteredClaims
}

type loginRequest struct {
	Username      string `json:"username"`
	Password      string `json:"password"`
	ExpiresInMins int    `json:"expiresInMins"`
}

type refreshRequest struct {
	RefreshToken  string `json:"refreshToken"`
	ExpiresInMins int    `json:"expiresInMins"`
}

type loginResponse struct {
	User
	AccessToken  string `json:"accessToken"`
	RefreshToken string `json:"refreshToken"`
}

func (s *Server) handleLogin(c *gin.Context) {
	var body loginRequest
	if err := c.ShouldBindJSON(&body); err != nil {
		abortDetail(c, http.StatusBadRequest, "Username and password required")
		return
	}
	if body.Username == "" || body.Password == "" {
		abortDetail(c, http.StatusBadRequest, "Username and password required")
		return
	}

	s.mu.Lock()
	a := s.accounts[body.Username]
	s.mu.Unlock()
	if a == nil || bcrypt.CompareHashAndPassword(a.hash, []byte(body.Password)) != nil {
		abortDetail(c, http.StatusBadRequest, "Invalid credentials")
		return
	}

	access, refresh, err := s.issue(a.User, body.ExpiresInMins)
	if err != nil {
		abortDetail(c, http.StatusInternalServerError, "Could not issue token")
		return
	}
	c.JSON(http.StatusOK, loginResponse{User: a.User, AccessToken: access, RefreshToken: refresh})
}

func (s *Server) handleRefresh(c *gin.Context) {
	var body refreshRequest
	if err := c.ShouldBindJSON(&body); err != nil || body.RefreshToken == "" {
		abort(c, http.StatusUnauthorized, "Refresh token required")
		return
	}

	s.mu.Lock()
	rec, ok := s.refresh[body.RefreshToken]
	// Refresh tokens rotate: each one is good for a single use.
	delete(s.refresh, body.RefreshToken)
	now := s.now()
	a := s.byID[rec.userID]
	s.mu.Unlock()

	if !ok || a == nil || !now.Before(rec.expires) {
		abort(c, http.StatusUnauthorized, "Invalid refresh token")
		return
	}

	access, refresh, err := s.issue(a.User, body.ExpiresInMins)
	if err != nil {
		abort(c, http.StatusInternalServerError, "Could not issue token")
		return
	}
	c.JSON(http.StatusOK, gin.H{"accessToken": access, "refreshToken": refresh})
}

func (s *Server) handleMe(c *gin.Context) {
	s.mu.Lock()
	a := s.byID[c.GetInt(ctxUserID)]
	s.mu.Unlock()
	if a == nil {
		abort(c, http.StatusUnauthorized, "Invalid/Expired Token!")
		return
	}
	c.JSON(http.StatusOK, a.User)
}

// issue signs an access token and stores a fresh refresh token.
func (s *Server) issue(u User, expiresInMins int) (access, refresh string, err error) {
	ttl := s.opts.AccessTTL
	if expiresInMins > 0 {
		ttl = time.Duration(expiresInMins) * time.Minute
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	claims := Claims{
		UserID:   u.ID,
		Username: u.Username,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   strconv.Itoa(u.ID),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
			ID:        uuid.NewString(),
		},
	}
	access, err = jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.opts.Secret)
	if err != nil {
		return "", "", err
	}

	refresh = uuid.NewString()
	s.refresh[refresh] = refreshRecord{userID: u.ID, expires: now.Add(s.opts.RefreshTTL)}
	return access, refresh, nil
}

// requireAuth rejects requests without a valid bearer token.
func (s *Server) requireAuth(c *gin.Context) {
	header := c.GetHeader("Authorization")
	token, ok := strings.CutPrefix(header, "Bearer ")
	if !ok || token == "" {
		abort(c, http.StatusUnauthorized, "Access Token is required")
		return
	}

	claims, err := s.parse(token)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			abort(c, http.StatusUnauthorized, "Token Expired!")
			return
		}
		abort(c, http.StatusUnauthorized, "Invalid/Expired Token!")
		return
	}
	c.Set(ctxUserID, claims.UserID)
	c.Next()
}

func (s *Server) parse(token string) (*Claims, error) {
	var claims Claims
	_, err := jwt.ParseWithClaims(token, &claims, func(*jwt.Token) (any, error) {
		return s.opts.Secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}), jwt.WithTimeFunc(s.clock))
	if err != nil {
		return nil, err
	}
	return &claims, nil
}
