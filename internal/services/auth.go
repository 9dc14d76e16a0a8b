package services

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"
	"gorm.io/gorm"

	"github.com/courseforge/courseforge-backend/internal/apperr"
	"github.com/courseforge/courseforge-backend/internal/logger"
	"github.com/courseforge/courseforge-backend/internal/repos"
	"github.com/courseforge/courseforge-backend/internal/types"
)

const tokenTTL = 24 * time.Hour

type AuthService interface {
	Register(ctx context.Context, email, password, name string) (*types.User, string, error)
	Login(ctx context.Context, email, password string) (*types.User, string, error)
	ParseToken(token string) (uuid.UUID, error)
}

type authService struct {
	db             *gorm.DB
	log            *logger.Logger
	jwtSecret      []byte
	initialCredits int
	userRepo       repos.UserRepo
	credits        CreditService
}

func NewAuthService(
	db *gorm.DB,
	baseLog *logger.Logger,
	jwtSecret string,
	initialCredits int,
	userRepo repos.UserRepo,
	credits CreditService,
) (AuthService, error) {
	if db == nil {
		return nil, fmt.Errorf("db required")
	}
	if baseLog == nil {
		return nil, fmt.Errorf("logger required")
	}
	if jwtSecret == "" {
		return nil, fmt.Errorf("jwt secret required")
	}
	return &authService{
		db:             db,
		log:            baseLog.With("service", "AuthService"),
		jwtSecret:      []byte(jwtSecret),
		initialCredits: initialCredits,
		userRepo:       userRepo,
		credits:        credits,
	}, nil
}

func (s *authService) Register(ctx context.Context, email, password, name string) (*types.User, string, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	if email == "" || !strings.Contains(email, "@") {
		return nil, "", apperr.New(apperr.KindValidation, "valid email is required")
	}
	if len(password) < 8 {
		return nil, "", apperr.New(apperr.KindValidation, "password must be at least 8 characters")
	}

	existing, err := s.userRepo.GetByEmail(ctx, nil, email)
	if err != nil {
		return nil, "", apperr.Wrap(apperr.KindPersistence, "lookup email failed", err)
	}
	if existing != nil {
		return nil, "", apperr.New(apperr.KindValidation, "email is already registered")
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return nil, "", apperr.Wrap(apperr.KindPersistence, "hash password failed", err)
	}

	var user *types.User
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		created, err := s.userRepo.Create(ctx, tx, []*types.User{{
			Email:        email,
			PasswordHash: string(hash),
			Name:         strings.TrimSpace(name),
		}})
		if err != nil {
			return err
		}
		user = created[0]
		if s.initialCredits > 0 {
			return s.credits.Grant(ctx, tx, user.ID, s.initialCredits, "signup_grant")
		}
		return nil
	})
	if err != nil {
		return nil, "", apperr.Wrap(apperr.KindPersistence, "create user failed", err)
	}
	user.Credits = s.initialCredits

	token, err := s.issueToken(user.ID)
	if err != nil {
		return nil, "", err
	}
	s.log.Info("User registered", "user_id", user.ID.String())
	return user, token, nil
}

func (s *authService) Login(ctx context.Context, email, password string) (*types.User, string, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	user, err := s.userRepo.GetByEmail(ctx, nil, email)
	if err != nil {
		return nil, "", apperr.Wrap(apperr.KindPersistence, "lookup email failed", err)
	}
	if user == nil {
		return nil, "", apperr.New(apperr.KindUnauthorized, "invalid credentials")
	}
	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(password)); err != nil {
		return nil, "", apperr.New(apperr.KindUnauthorized, "invalid credentials")
	}

	token, err := s.issueToken(user.ID)
	if err != nil {
		return nil, "", err
	}
	return user, token, nil
}

func (s *authService) issueToken(userID uuid.UUID) (string, error) {
	now := time.Now()
	claims := jwt.RegisteredClaims{
		Subject:   userID.String(),
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(tokenTTL)),
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(s.jwtSecret)
	if err != nil {
		return "", apperr.Wrap(apperr.KindPersistence, "sign token failed", err)
	}
	return signed, nil
}

func (s *authService) ParseToken(tokenString string) (uuid.UUID, error) {
	token, err := jwt.ParseWithClaims(tokenString, &jwt.RegisteredClaims{}, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return s.jwtSecret, nil
	})
	if err != nil || !token.Valid {
		return uuid.Nil, apperr.New(apperr.KindUnauthorized, "invalid token")
	}
	claims, ok := token.Claims.(*jwt.RegisteredClaims)
	if !ok {
		return uuid.Nil, apperr.New(apperr.KindUnauthorized, "invalid token claims")
	}
	userID, err := uuid.Parse(claims.Subject)
	if err != nil {
		return uuid.Nil, apperr.New(apperr.KindUnauthorized, "invalid token subject")
	}
	return userID, nil
}
