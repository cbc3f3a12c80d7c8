//go:build e2e

package e2e

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/alpinegear/identity/config"
	"github.com/alpinegear/identity/internal/db"
	"github.com/alpinegear/identity/internal/logging"
	"github.com/alpinegear/identity/internal/server"
	_ "github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	serverPort = 18080
)

var baseURL = fmt.Sprintf("http://localhost:%d", serverPort)

func TestMain(m *testing.M) {
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Minute)
	defer cancel()

	root, err := repoRoot()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to locate repo root: %v\n", err)
		os.Exit(1)
	}

	if err := dockerCompose(ctx, root, "up", "-d"); err != nil {
		fmt.Fprintf(os.Stderr, "failed to start docker compose: %v\n", err)
		os.Exit(1)
	}
	down := func() { _ = dockerCompose(context.Background(), root, "down") }

	setEnv()
	cfg := config.LoadConfig()

	if err := waitForPostgres(ctx, cfg); err != nil {
		fmt.Fprintf(os.Stderr, "postgres not ready: %v\n", err)
		down()
		os.Exit(1)
	}

	if err := db.MigrateUp(db.PostgresURL(cfg.Database)); err != nil {
		fmt.Fprintf(os.Stderr, "failed to run migrations: %v\n", err)
		down()
		os.Exit(1)
	}

	srv, err := server.New(ctx, cfg, logging.NewStderr("warn", "text"))
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to start server: %v\n", err)
		down()
		os.Exit(1)
	}
	go func() {
		_ = srv.Start()
	}()

	if err := waitForHealth(ctx, baseURL+"/healthz"); err != nil {
		fmt.Fprintf(os.Stderr, "server not healthy: %v\n", err)
		_ = srv.Shutdown(context.Background())
		down()
		os.Exit(1)
	}

	code := m.Run()

	_ = srv.Shutdown(context.Background())
	down()
	os.Exit(code)
}

func setEnv() {
	_ = os.Setenv("JWT_SECRET", "e2e-secret")
	_ = os.Setenv("SERVER_PORT", fmt.Sprintf("%d", serverPort))
	_ = os.Setenv("DB_DRIVER", "postgres")
	_ = os.Setenv("DB_HOST", "localhost")
	_ = os.Setenv("DB_PORT", "5432")
	_ = os.Setenv("DB_USER", "alpinegear")
	_ = os.Setenv("DB_PASSWORD", "password")
	_ = os.Setenv("DB_NAME", "alpinegear")
	_ = os.Setenv("REDIS_ADDR", "localhost:6379")
	_ = os.Setenv("SMTP_HOST", "localhost")
	_ = os.Setenv("SMTP_PORT", "1025")
	_ = os.Setenv("NOTIFY_MODE", "direct")
}

func TestAccountLifecycle(t *testing.T) {
	email := fmt.Sprintf("e2e-%d@example.com", time.Now().UnixNano())

	var reg struct {
		UserID    string `json:"userId"`
		TempToken string `json:"tempToken"`
	}
	status := call(t, http.MethodPost, "/auth/register", "", map[string]string{
		"email":       email,
		"password":    "s3cretpass",
		"realName":    "End",
		"lastName":    "ToEnd",
		"phoneNumber": "+34 600 000 000",
		"secretWord":  "edelweiss",
	}, &reg)
	require.Equal(t, http.StatusCreated, status)
	require.NotEmpty(t, reg.TempToken)

	code := pendingCode(t, email)

	var session struct {
		Token string `json:"token"`
		User  struct {
			ID         string `json:"id"`
			IsVerified bool   `json:"isVerified"`
		} `json:"user"`
	}
	status = call(t, http.MethodPost, "/auth/verify-email-code", "", map[string]string{
		"email": email, "code": code, "tempToken": reg.TempToken,
	}, &session)
	require.Equal(t, http.StatusOK, status)
	assert.True(t, session.User.IsVerified)
	assert.Equal(t, reg.UserID, session.User.ID)

	status = call(t, http.MethodGet, "/auth/profile", session.Token, nil, nil)
	assert.Equal(t, http.StatusOK, status)

	status = call(t, http.MethodPost, "/auth/login", "", map[string]string{
		"email": strings.ToUpper(email), "password": "s3cretpass",
	}, &session)
	assert.Equal(t, http.StatusOK, status)

	status = call(t, http.MethodPost, "/auth/forgot-password", "", map[string]string{"email": email}, nil)
	assert.Equal(t, http.StatusOK, status)

	status = call(t, http.MethodPost, "/auth/verify-keyword", "", map[string]string{
		"email": email, "secretWord": "edelweiss",
	}, nil)
	assert.Equal(t, http.StatusOK, status)
}

func call(t *testing.T, method, path, token string, body, out any) int {
	t.Helper()

	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(raw)
	}
	req, err := http.NewRequest(method, baseURL+path, reader)
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	if out != nil && resp.StatusCode < 300 {
		require.NoError(t, json.NewDecoder(resp.Body).Decode(out))
	}
	return resp.StatusCode
}

func pendingCode(t *testing.T, email string) string {
	t.Helper()
	conn, err := sql.Open("postgres", db.PostgresURL(config.LoadConfig().Database))
	require.NoError(t, err)
	defer conn.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	var code sql.NullString
	err = conn.QueryRowContext(ctx, "SELECT verification_code FROM accounts WHERE email = $1", email).Scan(&code)
	require.NoError(t, err)
	require.True(t, code.Valid, "no pending verification code")
	return code.String
}

func waitForPostgres(ctx context.Context, cfg config.Config) error {
	conn, err := sql.Open("postgres", db.PostgresURL(cfg.Database))
	if err != nil {
		return err
	}
	defer conn.Close()

	ticker := time.NewTicker(1 * time.Second)
	defer ticker.Stop()

	for {
		pingCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
		err := conn.PingContext(pingCtx)
		cancel()
		if err == nil {
			return nil
		}
		select {
		case <-ctx.Done():
			return fmt.Errorf("postgres ping timeout: %w", err)
		case <-ticker.C:
		}
	}
}

func waitForHealth(ctx context.Context, url string) error {
	client := &http.Client{Timeout: 2 * time.Second}
	ticker := time.NewTicker(500 * time.Millisecond)
	defer ticker.Stop()

	for {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
		if err != nil {
			return err
		}
		resp, err := client.Do(req)
		if err == nil {
			_ = resp.Body.Close()
			if resp.StatusCode == http.StatusOK {
				return nil
			}
		}
		select {
		case <-ctx.Done():
			if err != nil {
				return fmt.Errorf("health check failed: %w", err)
			}
			return fmt.Errorf("health check failed with status")
		case <-ticker.C:
		}
	}
}

func dockerCompose(ctx context.Context, root string, args ...string) error {
	composeFile := filepath.Join(root, "development", "docker-compose.yml")
	baseArgs := append([]string{"compose", "-f", composeFile}, args...)
	cmd := exec.CommandContext(ctx, "docker", baseArgs...)
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr
	return cmd.Run()
}

func repoRoot() (string, error) {
	dir, err := os.Getwd()
	if err != nil {
		return "", err
	}

	for {
		if _, err := os.Stat(filepath.Join(dir, "go.mod")); err == nil {
			return dir, nil
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			return "", fmt.Errorf("go.mod not found")
		}
		dir = parent
	}
}
