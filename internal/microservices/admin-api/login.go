package admin

import (
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"golang.org/x/crypto/bcrypt"
)

var ErrWrongPassword = errors.New("wrong password")

// HashPassword creates a bcrypt hash for ADMIN_PASSWORD_HASH.
func HashPassword(password string) (string, error) {
	hashedBytes, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return "", err
	}
	return string(hashedBytes), nil
}

// VerifyPassword checks a plaintext password against a bcrypt hash.
func VerifyPassword(hashedPassword, providedPassword string) error {
	err := bcrypt.CompareHashAndPassword([]byte(hashedPassword), []byte(providedPassword))
	if errors.Is(err, bcrypt.ErrMismatchedHashAndPassword) {
		return ErrWrongPassword
	}
	return err
}

type LoginRequest struct {
	Subject  string `json:"subject"`
	Password string `json:"password" binding:"required"`
}

type LoginResponse struct {
	AccessToken string    `json:"access_token"`
	ExpiresAt   time.Time `json:"expires_at"`
}

// Login trades the operator password for an admin token.
type Login struct {
	tokens       *TokenService
	passwordHash string
	ttl          time.Duration
}

func NewLogin(tokens *TokenService, passwordHash string, ttl time.Duration) *Login {
	if ttl <= 0 {
		ttl = time.Hour
	}
	return &Login{tokens: tokens, passwordHash: passwordHash, ttl: ttl}
}

func (l *Login) Handle(c *gin.Context) {
	var req LoginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "password is required"})
		return
	}

	if err := VerifyPassword(l.passwordHash, req.Password); err != nil {
		loggerFrom(c).Warn("admin_login_failed", "client_ip", c.ClientIP(), "error", err.Error())
		c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid credentials"})
		return
	}

	subject := req.Subject
	if subject == "" {
		subject = "operator"
	}
	expiresAt := time.Now().Add(l.ttl)
	token, err := l.tokens.IssueToken(subject, RoleAdmin, l.ttl)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to issue token"})
		return
	}

	loggerFrom(c).Info("admin_login", "subject", subject)
	c.JSON(http.StatusOK, LoginResponse{AccessToken: token, ExpiresAt: expiresAt})
}
