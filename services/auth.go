package services

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"

	"taskboard/database"
)

var (
	// ErrInvalidCredentials covers every login failure; callers never learn
	// whether the email or the password was wrong.
	ErrInvalidCredentials = errors.New("invalid credentials")

	// ErrInvalidToken covers every token failure (missing claims, expiry,
	// bad signature) with one generic signal.
	ErrInvalidToken = errors.New("invalid token")
)

// Identity is the authenticated principal a verified token resolves to.
type Identity struct {
	UserID string `json:"userId"`
	Name   string `json:"name"`
}

// AuthService issues and verifies the bearer credentials used by both the
// REST layer and the realtime connection gate.
type AuthService struct {
	users     *database.UserStore
	jwtSecret []byte
	tokenTTL  time.Duration
}

func NewAuthService(users *database.UserStore, secret string, tokenTTL time.Duration) *AuthService {
	return &AuthService{
		users:     users,
		jwtSecret: []byte(secret),
		tokenTTL:  tokenTTL,
	}
}

// Login verifies a password, creating the account on first sight of an email.
// Returns the user record and a signed token.
func (s *AuthService) Login(email, password, name string) (*database.User, string, error) {
	user, err := s.users.FindByEmail(email)
	if errors.Is(err, database.ErrUserNotFound) {
		hash, hashErr := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
		if hashErr != nil {
			return nil, "", fmt.Errorf("failed to hash password: %w", hashErr)
		}
		user = &database.User{
			ID:           uuid.NewString(),
			Email:        email,
			Name:         name,
			PasswordHash: string(hash),
		}
		if err := s.users.Create(user); err != nil {
			return nil, "", err
		}
	} else if err != nil {
		return nil, "", err
	} else {
		if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(password)); err != nil {
			return nil, "", ErrInvalidCredentials
		}
		if name != "" && user.Name == "" {
			if err := s.users.SetName(user.ID, name); err != nil {
				return nil, "", err
			}
			user.Name = name
		}
	}

	token, err := s.CreateToken(Identity{UserID: user.ID, Name: user.Name})
	if err != nil {
		return nil, "", err
	}
	return user, token, nil
}

// CreateToken signs a time-bounded HS256 token for an identity.
func (s *AuthService) CreateToken(identity Identity) (string, error) {
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"userId": identity.UserID,
		"name":   identity.Name,
		"exp":    time.Now().Add(s.tokenTTL).Unix(),
	})

	tokenString, err := token.SignedString(s.jwtSecret)
	if err != nil {
		return "", fmt.Errorf("failed to sign token: %w", err)
	}
	return tokenString, nil
}

// VerifyToken parses and validates a token and returns the bound identity.
// All failure modes collapse into ErrInvalidToken.
func (s *AuthService) VerifyToken(tokenString string) (Identity, error) {
	token, err := jwt.Parse(tokenString, func(token *jwt.Token) (interface{}, error) {
		// Validate signing method
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return s.jwtSecret, nil
	})
	if err != nil || !token.Valid {
		return Identity{}, ErrInvalidToken
	}

	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok {
		return Identity{}, ErrInvalidToken
	}

	userID, ok := claims["userId"].(string)
	if !ok || userID == "" {
		return Identity{}, ErrInvalidToken
	}
	name, _ := claims["name"].(string)

	return Identity{UserID: userID, Name: name}, nil
}
