package config

import (
	"errors"
	"fmt"
	"os"
	"reflect"
	"strconv"
	"strings"
	"time"
)

// Struct tags read by Load:
//
//	env       primary variable name
//	envAlt    variable tried when env is unset
//	default   value used when neither is set
//	required  "true" makes an unset variable an error
type envTag struct {
	name     string
	alt      string
	def      string
	required bool
}

func tagOf(f reflect.StructField) (envTag, bool) {
	name := f.Tag.Get("env")
	if name == "" {
		return envTag{}, false
	}
	return envTag{
		name:     name,
		alt:      f.Tag.Get("envAlt"),
		def:      f.Tag.Get("default"),
		required: f.Tag.Get("required") == "true",
	}, true
}

// value returns the raw setting and whether it came from the environment.
func (t envTag) value() (string, bool) {
	if v := os.Getenv(t.name); v != "" {
		return v, true
	}
	if t.alt != "" {
		if v := os.Getenv(t.alt); v != "" {
			return v, true
		}
	}
	return t.def, false
}

var durationType = reflect.TypeOf(time.Duration(0))

// Load reads every section from the environment, applies defaults, and
// validates the result. All unset required variables and unparsable values
// are reported together.
func Load() (*Config, error) {
	var cfg Config
	if err := populate(reflect.ValueOf(&cfg).Elem()); err != nil {
		return nil, fmt.Errorf("config load: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation: %w", err)
	}
	return &cfg, nil
}

func populate(section reflect.Value) error {
	var errs []error
	t := section.Type()

	for i := range t.NumField() {
		sf := t.Field(i)
		if !sf.IsExported() {
			continue
		}
		fv := section.Field(i)

		if sf.Type.Kind() == reflect.Struct {
			if err := populate(fv); err != nil {
				errs = append(errs, err)
			}
			continue
		}

		tag, ok := tagOf(sf)
		if !ok {
			continue
		}
		raw, fromEnv := tag.value()
		if !fromEnv && tag.required {
			errs = append(errs, fmt.Errorf("required environment variable %s is not set", tag.name))
			continue
		}
		if raw == "" {
			continue
		}
		if err := assign(fv, raw); err != nil {
			errs = append(errs, fmt.Errorf("%s=%q: %w", tag.name, raw, err))
		}
	}
	return errors.Join(errs...)
}

// assign parses raw into the field. Config uses strings, ints, int64 sizes,
// durations, booleans, and comma-separated string lists.
func assign(fv reflect.Value, raw string) error {
	if fv.Type() == durationType {
		d, err := time.ParseDuration(raw)
		if err != nil {
			return err
		}
		fv.SetInt(int64(d))
		return nil
	}

	switch fv.Kind() {
	case reflect.String:
		fv.SetString(raw)
	case reflect.Int, reflect.Int64:
		n, err := strconv.ParseInt(raw, 10, fv.Type().Bits())
		if err != nil {
			return err
		}
		fv.SetInt(n)
	case reflect.Bool:
		b, err := strconv.ParseBool(raw)
		if err != nil {
			return err
		}
		fv.SetBool(b)
	case reflect.Slice:
		if fv.Type().Elem().Kind() != reflect.String {
			return fmt.Errorf("unsupported list of %s", fv.Type().Elem())
		}
		fv.Set(reflect.ValueOf(splitList(raw)))
	default:
		return fmt.Errorf("unsupported setting type %s", fv.Type())
	}
	return nil
}

func splitList(raw string) []string {
	var out []string
	for _, item := range strings.Split(raw, ",") {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	return out
}

// ValidationError lists every invalid setting.
type ValidationError struct {
	Problems []string
}

func (e *ValidationError) Error() string {
	return "invalid settings:\n  - " + strings.Join(e.Problems, "\n  - ")
}

type checks []string

func (c *checks) require(ok bool, format string, args ...any) {
	if !ok {
		*c = append(*c, fmt.Sprintf(format, args...))
	}
}

// Validate checks cross-field constraints after loading.
func (c *Config) Validate() error {
	var v checks

	v.require(c.Server.Port > 0 && c.Server.Port <= 65535, "SERVER_PORT (%d) must be 1-65535", c.Server.Port)
	v.require(c.Server.ReadTimeout >= 0, "SERVER_READ_TIMEOUT must not be negative")
	v.require(c.Server.ShutdownTimeout > 0, "SERVER_SHUTDOWN_TIMEOUT must be positive")

	v.require(c.Database.URL != "", "DATABASE_URL is required")
	v.require(c.Database.MaxConns > 0, "DB_MAX_CONNS must be positive")
	v.require(c.Database.MinConns >= 0, "DB_MIN_CONNS must not be negative")
	v.require(c.Database.MaxConns >= c.Database.MinConns,
		"DB_MAX_CONNS (%d) must be >= DB_MIN_CONNS (%d)", c.Database.MaxConns, c.Database.MinConns)

	if c.Redis.URL != "" {
		v.require(strings.HasPrefix(c.Redis.URL, "redis://") || strings.HasPrefix(c.Redis.URL, "rediss://"),
			"REDIS_URL must start with redis:// or rediss://")
		v.require(c.Redis.Prefix != "", "REDIS_PREFIX must not be empty when REDIS_URL is set")
	}

	v.require(c.Import.MaxFileSize > 0, "IMPORT_MAX_FILE_SIZE must be positive")
	v.require(c.Import.MaxConcurrent > 0, "IMPORT_MAX_CONCURRENT must be positive")
	v.require(c.Import.Workers > 0, "IMPORT_WORKERS must be positive")
	v.require(c.Import.MaxWaitTime > 0, "IMPORT_MAX_WAIT_TIME must be positive")
	v.require(c.Import.RowTimeout > 0, "IMPORT_ROW_TIMEOUT must be positive")
	for _, col := range c.Import.RequiredFields {
		v.require(col == strings.ToLower(col), "IMPORT_REQUIRED_FIELDS entry %q must be a lower-case column name", col)
	}

	if c.Rate.Enabled {
		v.require(c.Rate.RequestsPerMinute > 0, "RATE_LIMIT_REQUESTS_PER_MINUTE must be positive when rate limiting is enabled")
		v.require(c.Rate.UploadLimit > 0, "RATE_LIMIT_UPLOAD must be positive when rate limiting is enabled")
	}

	v.require(!c.Security.RequireAPIKey || len(c.Security.APIKeys) > 0,
		"REQUIRE_API_KEY is set but API_KEYS is empty")

	switch strings.ToLower(c.Logging.Level) {
	case "debug", "info", "warn", "error":
	default:
		v.require(false, "LOG_LEVEL (%q) must be one of: debug, info, warn, error", c.Logging.Level)
	}
	switch strings.ToLower(c.Logging.Format) {
	case "text", "json":
	default:
		v.require(false, "LOG_FORMAT (%q) must be one of: text, json", c.Logging.Format)
	}

	v.require(c.Janitor.Interval > 0, "JANITOR_INTERVAL must be positive")
	v.require(c.Janitor.MinAge >= 0, "JANITOR_MIN_AGE must not be negative")
	v.require(c.Janitor.MinAge >= c.Import.RowTimeout,
		"JANITOR_MIN_AGE (%s) must be at least IMPORT_ROW_TIMEOUT (%s) so in-flight uploads survive a sweep",
		c.Janitor.MinAge, c.Import.RowTimeout)

	if len(v) > 0 {
		return &ValidationError{Problems: v}
	}
	return nil
}

// String renders the config for startup logs. Connection URLs are masked.
func (c *Config) String() string {
	redis := "disabled"
	if c.Redis.URL != "" {
		redis = fmt.Sprintf("[MASKED] prefix=%q", c.Redis.Prefix)
	}

	var b strings.Builder
	fmt.Fprintf(&b, "server=%s database=[MASKED] pool=%d-%d redis=%s ",
		c.Server.Addr(), c.Database.MinConns, c.Database.MaxConns, redis)
	fmt.Fprintf(&b, "import={workers=%d concurrent=%d max_file=%d partial_success=%t resume_interrupted=%t required=%v} ",
		c.Import.Workers, c.Import.MaxConcurrent, c.Import.MaxFileSize,
		c.Import.PartialSuccessCompletes, c.Import.ResumeInterrupted, c.Import.RequiredFields)
	fmt.Fprintf(&b, "rate={enabled=%t per_minute=%d upload=%d} janitor={every=%s min_age=%s} log=%s/%s",
		c.Rate.Enabled, c.Rate.RequestsPerMinute, c.Rate.UploadLimit,
		c.Janitor.Interval, c.Janitor.MinAge, c.Logging.Level, c.Logging.Format)
	return b.String()
}
