// seed inserts development accounts for local testing.
// Idempotent: accounts whose email already exists are left untouched.
package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"registry-portal/backend/internal/config"
	"registry-portal/backend/internal/db"
	"registry-portal/backend/internal/logging"
	"registry-portal/backend/internal/platform/rbac"
	"registry-portal/backend/internal/security"
	userdomain "registry-portal/backend/internal/user/domain"
	userrepo "registry-portal/backend/internal/user/repository"
)

const devPassword = "Passw0rd!"

type seedUser struct {
	email       string
	firstName   string
	lastName    string
	role        string
	permissions []string
}

var seedUsers = []seedUser{
	{
		email:       "admin@example.com",
		firstName:   "Dev",
		lastName:    "Admin",
		role:        "admin",
		permissions: []string{"profile:read", "profile:write", rbac.ActionRevokeSessions, rbac.ActionReadLoginAttempts},
	},
	{
		email:       "member@example.com",
		firstName:   "Member",
		lastName:    "User",
		role:        "user",
		permissions: []string{"profile:read", "profile:write"},
	},
}

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintln(os.Stderr, "config:", err)
		os.Exit(1)
	}
	logger, err := logging.New(cfg.Env)
	if err != nil {
		fmt.Fprintln(os.Stderr, "logger:", err)
		os.Exit(1)
	}
	defer func() { _ = logger.Sync() }()

	if cfg.IsProduction() {
		logger.Fatal("seed refuses to run with APP_ENV=production")
	}
	if cfg.DatabaseURL == "" {
		logger.Fatal("DATABASE_URL is not set; create a .env from .env.example or set DATABASE_URL")
	}

	conn, err := db.Open(cfg.DatabaseURL)
	if err != nil {
		logger.Fatal("db", zap.Error(err))
	}
	defer conn.Close()

	passwords, err := security.NewPasswords(cfg.PasswordHasher, cfg.BcryptCost)
	if err != nil {
		logger.Fatal("password hasher", zap.Error(err))
	}
	hash, err := passwords.Hash([]byte(devPassword))
	if err != nil {
		logger.Fatal("hash password", zap.Error(err))
	}

	users := userrepo.NewPostgresRepository(conn)
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	for _, su := range seedUsers {
		existing, err := users.GetByEmail(ctx, su.email)
		if err != nil {
			logger.Fatal("seed check", zap.String("email", su.email), zap.Error(err))
		}
		if existing != nil {
			logger.Info("seed user exists, skipping", zap.String("email", su.email))
			continue
		}
		now := time.Now().UTC()
		err = users.Create(ctx, &userdomain.User{
			ID:           uuid.New().String(),
			Email:        su.email,
			PasswordHash: hash,
			FirstName:    su.firstName,
			LastName:     su.lastName,
			Role:         su.role,
			Permissions:  su.permissions,
			IsActive:     true,
			CreatedAt:    now,
			UpdatedAt:    now,
		})
		if err != nil {
			logger.Fatal("create seed user", zap.String("email", su.email), zap.Error(err))
		}
		logger.Info("seed user created", zap.String("email", su.email), zap.String("role", su.role))
	}

	for _, su := range seedUsers {
		fmt.Printf("Dev login: %s / %s\n", su.email, devPassword)
	}
}
