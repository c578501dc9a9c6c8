// Command useradd creates or replaces a facestream account. With Redis
// enabled in the configuration it writes the account to Redis; otherwise it
// prints an auth.users entry for the YAML configuration.
package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"facestream/internal/core/domain"
	redisrepo "facestream/internal/infrastructure/repositories/redis"
	"facestream/pkg/config"
	"facestream/pkg/logger"
	"facestream/pkg/password"
	"facestream/pkg/validation"

	"gopkg.in/yaml.v2"
)

func main() {
	if err := run(os.Args[1:], os.Stdout); err != nil {
		fmt.Fprintln(os.Stderr, "useradd:", err)
		os.Exit(1)
	}
}

func run(args []string, out io.Writer) error {
	fs := flag.NewFlagSet("useradd", flag.ContinueOnError)
	configPath := fs.String("config", "configs/config.yaml", "path to the YAML configuration")
	username := fs.String("username", "", "account name")
	pass := fs.String("password", os.Getenv("FACESTREAM_USER_PASSWORD"), "account password (or FACESTREAM_USER_PASSWORD)")
	role := fs.String("role", string(domain.RoleUser), "user or admin")
	status := fs.String("status", string(domain.StatusActive), "active, inactive or suspended")
	useArgon := fs.Bool("argon2", false, "hash with argon2id instead of bcrypt")
	printOnly := fs.Bool("print", false, "print the YAML entry even when Redis is enabled")
	if err := fs.Parse(args); err != nil {
		return err
	}

	*username = strings.TrimSpace(*username)
	if err := validation.ValidateUsername(*username); err != nil {
		return err
	}
	if err := validation.ValidatePassword(*pass); err != nil {
		return err
	}
	account, err := newAccount(*username, *pass, domain.Role(*role), domain.AccountStatus(*status), *useArgon)
	if err != nil {
		return err
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		return err
	}
	if *printOnly || !cfg.Redis.Enabled {
		return printSeedUser(out, account)
	}

	zapLogger, err := logger.New("warn", "console")
	if err != nil {
		return err
	}
	defer func() { _ = zapLogger.Sync() }()

	client, err := redisrepo.NewRedisClient(cfg.Redis.Address, cfg.Redis.Password, cfg.Redis.DB, 1, zapLogger.Sugar())
	if err != nil {
		return err
	}
	defer redisrepo.CloseRedisClient(client)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := redisrepo.NewRedisUserStore(client).Save(ctx, account); err != nil {
		return err
	}
	fmt.Fprintf(out, "saved %s (%s, %s) to %s\n", account.Username, account.Role, account.Status, cfg.Redis.Address)
	return nil
}

func newAccount(username, pass string, role domain.Role, status domain.AccountStatus, useArgon bool) (*domain.Account, error) {
	switch role {
	case domain.RoleUser, domain.RoleAdmin:
	default:
		return nil, fmt.Errorf("unknown role %q", role)
	}
	switch status {
	case domain.StatusActive, domain.StatusInactive, domain.StatusSuspended:
	default:
		return nil, fmt.Errorf("unknown status %q", status)
	}

	var (
		hash string
		err  error
	)
	if useArgon {
		hash, err = password.HashArgon2(password.DefaultArgon, pass)
	} else {
		hash, err = password.Hash(pass)
	}
	if err != nil {
		return nil, err
	}
	return &domain.Account{Username: username, PasswordHash: hash, Role: role, Status: status}, nil
}

func printSeedUser(out io.Writer, account *domain.Account) error {
	entry := []config.SeedUser{{
		Username:     account.Username,
		PasswordHash: account.PasswordHash,
		Role:         string(account.Role),
		Status:       string(account.Status),
	}}
	data, err := yaml.Marshal(entry)
	if err != nil {
		return err
	}
	_, err = out.Write(data)
	return err
}
