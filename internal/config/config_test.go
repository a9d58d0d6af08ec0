package config

import (
	"errors"
	"reflect"
	"strings"
	"testing"
	"time"
)

// clearEnv blanks every variable Config reads so a developer's shell does
// not leak into the test.
func clearEnv(t *testing.T) {
	t.Helper()
	for _, name := range []string{
		"DATABASE_URL", "DB_URL", "REDIS_URL", "REDIS_PREFIX",
		"IMPORT_REQUIRED_FIELDS", "IMPORT_PARTIAL_SUCCESS_COMPLETES", "IMPORT_RESUME_INTERRUPTED",
		"IMPORT_ROW_TIMEOUT", "JANITOR_INTERVAL", "JANITOR_MIN_AGE",
		"SERVER_HOST", "SERVER_PORT", "LOG_LEVEL", "LOG_FORMAT",
		"REQUIRE_API_KEY", "API_KEYS",
	} {
		t.Setenv(name, "")
	}
}

func loadWith(t *testing.T, env map[string]string) (*Config, error) {
	t.Helper()
	clearEnv(t)
	t.Setenv("DATABASE_URL", "postgres://localhost/products")
	for k, v := range env {
		t.Setenv(k, v)
	}
	return Load()
}

func TestLoad_ImportDefaults(t *testing.T) {
	cfg, err := loadWith(t, nil)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Import.PartialSuccessCompletes {
		t.Error("PartialSuccessCompletes defaults to true, want false")
	}
	if cfg.Import.ResumeInterrupted {
		t.Error("ResumeInterrupted defaults to true, want false")
	}
	if cfg.Import.RequiredFields != nil {
		t.Errorf("RequiredFields = %v, want nil so the validator keeps its own list", cfg.Import.RequiredFields)
	}
	if cfg.Redis.URL != "" || cfg.Redis.Prefix != "product_import" {
		t.Errorf("Redis = %+v, want in-process queue with prefix product_import", cfg.Redis)
	}
	if cfg.Janitor.Interval != time.Hour || cfg.Janitor.MinAge != time.Hour {
		t.Errorf("Janitor = %+v, want hourly sweep of files older than 1h", cfg.Janitor)
	}
}

func TestLoad_RequiredFieldsList(t *testing.T) {
	tests := []struct {
		raw  string
		want []string
	}{
		{"sku", []string{"sku"}},
		{"sku,product_name", []string{"sku", "product_name"}},
		{" sku , product_name ,, ", []string{"sku", "product_name"}},
		{",", nil},
	}

	for _, tt := range tests {
		t.Run(tt.raw, func(t *testing.T) {
			cfg, err := loadWith(t, map[string]string{"IMPORT_REQUIRED_FIELDS": tt.raw})
			if err != nil {
				t.Fatalf("Load() error = %v", err)
			}
			if !reflect.DeepEqual(cfg.Import.RequiredFields, tt.want) {
				t.Errorf("RequiredFields = %#v, want %#v", cfg.Import.RequiredFields, tt.want)
			}
		})
	}
}

func TestLoad_RequiredFieldsMustBeLowerCase(t *testing.T) {
	_, err := loadWith(t, map[string]string{"IMPORT_REQUIRED_FIELDS": "sku,Product_Name"})
	if err == nil {
		t.Fatal("Load() error = nil, want lower-case complaint")
	}
	if !strings.Contains(err.Error(), `"Product_Name"`) {
		t.Errorf("error %q does not name the offending column", err)
	}
}

func TestLoad_RunOutcomeSwitches(t *testing.T) {
	cfg, err := loadWith(t, map[string]string{
		"IMPORT_PARTIAL_SUCCESS_COMPLETES": "true",
		"IMPORT_RESUME_INTERRUPTED":        "1",
	})
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if !cfg.Import.PartialSuccessCompletes {
		t.Error("PartialSuccessCompletes = false, want true")
	}
	if !cfg.Import.ResumeInterrupted {
		t.Error("ResumeInterrupted = false, want true")
	}
}

func TestLoad_ReportsEveryBadValue(t *testing.T) {
	_, err := loadWith(t, map[string]string{
		"IMPORT_PARTIAL_SUCCESS_COMPLETES": "sometimes",
		"JANITOR_INTERVAL":                 "hourly",
	})
	if err == nil {
		t.Fatal("Load() error = nil, want parse errors")
	}
	for _, name := range []string{"IMPORT_PARTIAL_SUCCESS_COMPLETES", "JANITOR_INTERVAL"} {
		if !strings.Contains(err.Error(), name) {
			t.Errorf("error %q does not mention %s", err, name)
		}
	}
}

func TestLoad_DatabaseURLFallback(t *testing.T) {
	clearEnv(t)
	t.Setenv("DB_URL", "postgres://localhost/fallback")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Database.URL != "postgres://localhost/fallback" {
		t.Errorf("Database.URL = %q, want DB_URL value", cfg.Database.URL)
	}
}

func TestLoad_MissingDatabaseURL(t *testing.T) {
	clearEnv(t)

	_, err := Load()
	if err == nil || !strings.Contains(err.Error(), "DATABASE_URL") {
		t.Fatalf("Load() error = %v, want missing DATABASE_URL", err)
	}
}

func validConfig(t *testing.T) *Config {
	t.Helper()
	cfg, err := loadWith(t, nil)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	return cfg
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{"defaults", func(*Config) {}, ""},
		{"redis url", func(c *Config) { c.Redis.URL = "redis://cache:6379/0" }, ""},
		{"tls redis url", func(c *Config) { c.Redis.URL = "rediss://cache:6380" }, ""},
		{"redis scheme", func(c *Config) { c.Redis.URL = "cache:6379" }, "REDIS_URL"},
		{"redis without prefix", func(c *Config) {
			c.Redis.URL = "redis://cache:6379"
			c.Redis.Prefix = ""
		}, "REDIS_PREFIX"},
		{"janitor interval", func(c *Config) { c.Janitor.Interval = 0 }, "JANITOR_INTERVAL"},
		{"janitor negative age", func(c *Config) { c.Janitor.MinAge = -time.Minute }, "JANITOR_MIN_AGE"},
		{"janitor younger than row timeout", func(c *Config) {
			c.Import.RowTimeout = 2 * time.Minute
			c.Janitor.MinAge = time.Minute
		}, "IMPORT_ROW_TIMEOUT"},
		{"api key required without keys", func(c *Config) { c.Security.RequireAPIKey = true }, "API_KEYS"},
		{"workers", func(c *Config) { c.Import.Workers = 0 }, "IMPORT_WORKERS"},
		{"pool bounds", func(c *Config) {
			c.Database.MinConns = 30
			c.Database.MaxConns = 10
		}, "DB_MAX_CONNS"},
		{"log format", func(c *Config) { c.Logging.Format = "xml" }, "LOG_FORMAT"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig(t)
			tt.mutate(cfg)

			err := cfg.Validate()
			if tt.wantErr == "" {
				if err != nil {
					t.Fatalf("Validate() error = %v", err)
				}
				return
			}
			var verr *ValidationError
			if !errors.As(err, &verr) {
				t.Fatalf("Validate() error = %v, want *ValidationError", err)
			}
			if !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("Validate() error = %q, want mention of %s", err, tt.wantErr)
			}
		})
	}
}

func TestValidate_CollectsAllProblems(t *testing.T) {
	cfg := validConfig(t)
	cfg.Janitor.Interval = 0
	cfg.Import.Workers = 0

	var verr *ValidationError
	if !errors.As(cfg.Validate(), &verr) {
		t.Fatal("Validate() did not return *ValidationError")
	}
	if len(verr.Problems) != 2 {
		t.Errorf("Problems = %q, want 2", verr.Problems)
	}
}

func TestString_MasksConnectionURLs(t *testing.T) {
	cfg := validConfig(t)
	cfg.Database.URL = "postgres://admin:hunter2@db/products"
	cfg.Redis.URL = "redis://:s3cret@cache:6379/0"
	cfg.Redis.Prefix = "tenant_a"
	cfg.Import.RequiredFields = []string{"sku", "product_name"}

	s := cfg.String()

	for _, secret := range []string{"hunter2", "s3cret", "cache:6379"} {
		if strings.Contains(s, secret) {
			t.Errorf("String() leaks %q: %s", secret, s)
		}
	}
	for _, want := range []string{`prefix="tenant_a"`, "required=[sku product_name]", "janitor={every=1h0m0s"} {
		if !strings.Contains(s, want) {
			t.Errorf("String() = %s, missing %s", s, want)
		}
	}
}

func TestString_RedisDisabled(t *testing.T) {
	s := validConfig(t).String()
	if !strings.Contains(s, "redis=disabled") {
		t.Errorf("String() = %s, want redis=disabled", s)
	}
}

func TestServerAddr(t *testing.T) {
	tests := []struct {
		host string
		port int
		want string
	}{
		{"0.0.0.0", 8080, "0.0.0.0:8080"},
		{"", 9090, ":9090"},
		{"::1", 8080, "[::1]:8080"},
	}
	for _, tt := range tests {
		c := ServerConfig{Host: tt.host, Port: tt.port}
		if got := c.Addr(); got != tt.want {
			t.Errorf("Addr(%q, %d) = %q, want %q", tt.host, tt.port, got, tt.want)
		}
	}
}
