//go:build integration

// Package integration contains integration tests for the risk compliance engine.
//
// These tests run the full stack against a real PostgreSQL database:
// - API tests: rule set publishing, batch runs, violation removal
// - WebSocket tests: run progress and violation streaming
// - Database tests: migrations, schema
//
// Integration tests use build tag "integration" to separate from unit tests.
// Run with: go test -tags=integration ./tests/integration/...
package integration

import (
	"bytes"
	"context"
	"database/sql"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/http/httptest"
	"os"
	"strconv"
	"testing"
	"time"

	jsoniter "github.com/json-iterator/go"
	_ "github.com/lib/pq"

	"riskengine/internal/app"
	"riskengine/internal/config"
	"riskengine/internal/repository"
	"riskengine/pkg/utils"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// TestConfig contains configuration for integration tests
type TestConfig struct {
	DBHost     string
	DBPort     string
	DBName     string
	DBUser     string
	DBPassword string
	DBSSLMode  string
}

// TestServer encapsulates all components needed for integration testing
type TestServer struct {
	DB      *sql.DB
	App     *app.App
	Server  *httptest.Server
	Cleanup func()
}

func getTestConfig() TestConfig {
	return TestConfig{
		DBHost:     getEnv("TEST_DB_HOST", "localhost"),
		DBPort:     getEnv("TEST_DB_PORT", "5432"),
		DBName:     getEnv("TEST_DB_NAME", "riskengine_test"),
		DBUser:     getEnv("TEST_DB_USER", "postgres"),
		DBPassword: getEnv("TEST_DB_PASSWORD", "postgres"),
		DBSSLMode:  getEnv("TEST_DB_SSLMODE", "disable"),
	}
}

// getEnv returns environment variable value or default
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// SetupTestDB creates a test database connection with a migrated schema
func SetupTestDB(t *testing.T) (*sql.DB, func()) {
	cfg := getTestConfig()

	connStr := fmt.Sprintf(
		"host=%s port=%s user=%s password=%s dbname=%s sslmode=%s",
		cfg.DBHost, cfg.DBPort, cfg.DBUser, cfg.DBPassword, cfg.DBName, cfg.DBSSLMode,
	)

	db, err := sql.Open("postgres", connStr)
	if err != nil {
		t.Skipf("Skipping integration test: cannot connect to database: %v", err)
		return nil, func() {}
	}
	if err := db.Ping(); err != nil {
		t.Skipf("Skipping integration test: cannot ping database: %v", err)
		return nil, func() {}
	}

	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(2)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := repository.Migrate(context.Background(), db); err != nil {
		db.Close()
		t.Skipf("Skipping integration test: cannot migrate schema: %v", err)
		return nil, func() {}
	}
	cleanupTestTables(db)

	cleanup := func() {
		cleanupTestTables(db)
		if err := db.Close(); err != nil {
			log.Printf("Error closing database: %v", err)
		}
	}
	return db, cleanup
}

// SetupTestServer creates a complete test server with auth disabled
func SetupTestServer(t *testing.T) *TestServer {
	db, dbCleanup := SetupTestDB(t)
	if db == nil {
		return nil
	}

	t.Setenv("AUTH_ENABLED", "false")
	t.Setenv("BATCH_RETRY_BASE_DELAY", "10ms")
	cfg, err := config.Load()
	if err != nil {
		t.Fatalf("load config: %v", err)
	}

	a, err := app.Build(cfg, db, utils.NewNopLogger())
	if err != nil {
		t.Fatalf("build app: %v", err)
	}
	go a.Hub.Run()

	server := httptest.NewServer(a.Handler())

	cleanup := func() {
		server.Close()
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		a.Runs.Shutdown(ctx)
		a.Hub.Stop()
		dbCleanup()
	}

	return &TestServer{DB: db, App: a, Server: server, Cleanup: cleanup}
}

// cleanupTestTables truncates all engine tables
func cleanupTestTables(db *sql.DB) {
	tables := []string{
		"batch_run_outcomes",
		"batch_runs",
		"violation_removals",
		"violations",
		"rule_sets",
		"calendar_windows",
		"trades",
		"accounts",
	}
	for _, table := range tables {
		db.Exec(fmt.Sprintf("TRUNCATE TABLE %s CASCADE", table))
	}
}

// ============================================================
// Fixtures
// ============================================================

var fixtureDay = time.Date(2024, 3, 5, 10, 0, 0, 0, time.UTC)

// insertAccount creates an active account whose balance matches its trades
func insertAccount(t *testing.T, db *sql.DB, id int64, group string, initial, balance float64) {
	t.Helper()
	_, err := db.Exec(`
		INSERT INTO accounts (id, account_group, initial_balance, balance, equity, status, created_at)
		VALUES ($1, $2, $3, $4, $4, 'active', $5)`,
		id, group, initial, balance, fixtureDay.AddDate(0, 0, -4))
	if err != nil {
		t.Fatalf("insert account %d: %v", id, err)
	}
}

// insertTrade creates a closed market trade lasting 30 minutes
func insertTrade(t *testing.T, db *sql.DB, accountID, ticket int64, volume, profit float64, open time.Time) {
	t.Helper()
	_, err := db.Exec(`
		INSERT INTO trades (account_id, ticket, symbol, direction, trade_type, volume, open_time, close_time, profit)
		VALUES ($1, $2, 'EURUSD', 'buy', 'market', $3, $4, $5, $6)`,
		accountID, ticket, volume, open, open.Add(30*time.Minute), profit)
	if err != nil {
		t.Fatalf("insert trade %d/%d: %v", accountID, ticket, err)
	}
}

// lotLimitRuleSet returns a rule set body with only the lot size limit tight
func lotLimitRuleSet(group string) map[string]interface{} {
	return map[string]interface{}{
		"group":                   group,
		"max_drawdown_percent":    10,
		"max_daily_loss_percent":  5,
		"max_lot_size":            1,
		"consistency_max_percent": 0,
		"daily_rollover_timezone": "UTC",
		"allow_weekend":           true,
		"allow_news_trading":      true,
		"allow_hedging":           true,
		"allow_martingale":        true,
		"allow_ea":                true,
	}
}

// ============================================================
// HTTP helpers
// ============================================================

func doJSON(t *testing.T, method, url string, body interface{}, headers map[string]string) (*http.Response, []byte) {
	t.Helper()

	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal body: %v", err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequest(method, url, reader)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, url, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("read body: %v", err)
	}
	return resp, data
}

// runDetails is the subset of GET /api/v1/runs/{id} used by the tests
type runDetails struct {
	Run struct {
		ID     string `json:"id"`
		Status string `json:"status"`
	} `json:"run"`
	Summary *struct {
		Processed          int            `json:"processed"`
		NewViolations      int            `json:"new_violations"`
		ExistingViolations int            `json:"existing_violations"`
		ViolationsByRule   map[string]int `json:"violations_by_rule"`
	} `json:"summary"`
	Active bool `json:"active"`
}

// startRun starts a fresh run and waits until it finishes
func startRun(t *testing.T, ts *TestServer, group string) runDetails {
	t.Helper()

	resp, body := doJSON(t, http.MethodPost, ts.Server.URL+"/api/v1/runs", map[string]interface{}{
		"selector": map[string]interface{}{"group": group, "status": "active"},
		"fresh":    true,
	}, nil)
	if resp.StatusCode != http.StatusAccepted {
		t.Fatalf("start run: status %d: %s", resp.StatusCode, body)
	}

	var active struct {
		RunID string `json:"run_id"`
	}
	if err := json.Unmarshal(body, &active); err != nil {
		t.Fatalf("decode active run: %v", err)
	}

	deadline := time.Now().Add(15 * time.Second)
	for time.Now().Before(deadline) {
		resp, body := doJSON(t, http.MethodGet, ts.Server.URL+"/api/v1/runs/"+active.RunID, nil, nil)
		if resp.StatusCode == http.StatusOK {
			var details runDetails
			if err := json.Unmarshal(body, &details); err != nil {
				t.Fatalf("decode run: %v", err)
			}
			if !details.Active && details.Run.Status != "running" {
				return details
			}
		}
		time.Sleep(50 * time.Millisecond)
	}
	t.Fatalf("run %s did not finish in time", active.RunID)
	return runDetails{}
}

func accountPath(id int64) string {
	return strconv.FormatInt(id, 10)
}
