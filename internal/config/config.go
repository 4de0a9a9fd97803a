package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

const (
	EnvDevelopment = "development"
	EnvProduction  = "production"

	// minSecretLength is the minimum signing secret length accepted in
	// production.
	minSecretLength = 64

	// devSecret is only ever used outside production when no secret is
	// configured. It is deliberately useless as a production credential.
	devSecret = "linkto-dev-signing-secret-linkto-dev-signing-secret-linkto-dev-00"

	defaultAddr               = ":8080"
	defaultIssuer             = "linkto.me"
	defaultAccessTTL          = 15 * time.Minute
	defaultRefreshTTL         = 14 * 24 * time.Hour
	defaultSuspicionThreshold = 200
)

// BotPolicy selects how requests scored as likely bots are treated.
type BotPolicy string

const (
	// BotPolicyBlock rejects likely-bot requests with 400.
	BotPolicyBlock BotPolicy = "block"
	// BotPolicyThrottle admits likely-bot requests under a stricter
	// rate-limit tier instead of rejecting them.
	BotPolicyThrottle BotPolicy = "throttle"
)

// TierLimit holds the rate-limit axes for one subscription tier.
// RequestsPerDay == -1 means the daily axis is unlimited.
type TierLimit struct {
	RequestsPerMinute int `json:"requests_per_minute"`
	RequestsPerDay    int `json:"requests_per_day"`
}

// defaultTierLimits is versioned together with subscription plans.
var defaultTierLimits = map[string]TierLimit{
	"free":     {RequestsPerMinute: 30, RequestsPerDay: 1000},
	"pro":      {RequestsPerMinute: 120, RequestsPerDay: 20000},
	"business": {RequestsPerMinute: 600, RequestsPerDay: -1},
}

// Config is the immutable process configuration, built once at startup and
// passed by injection. Nothing reads the environment after Load returns.
type Config struct {
	Env                string
	Addr               string
	PGDSN              string
	AuthSecret         string
	Issuer             string
	AccessTTL          time.Duration
	RefreshTTL         time.Duration
	AllowedOrigins     []string
	SuspicionThreshold int
	BotPolicy          BotPolicy
	TierLimits         map[string]TierLimit
}

// IsProduction reports whether the process runs with production policies.
func (c Config) IsProduction() bool {
	return c.Env == EnvProduction
}

// TierFor returns the limits for a subscription tier, falling back to the
// free tier for unknown values.
func (c Config) TierFor(tier string) TierLimit {
	if t, ok := c.TierLimits[strings.ToLower(strings.TrimSpace(tier))]; ok {
		return t
	}
	return c.TierLimits["free"]
}

// Load builds the configuration from LINKTO_* environment variables.
// A production environment without a sufficiently long signing secret is a
// startup failure; development falls back to a fixed dev secret.
func Load() (Config, error) {
	cfg := Config{
		Env:                envOr("LINKTO_ENV", EnvDevelopment),
		Addr:               envOr("LINKTO_ADDR", defaultAddr),
		PGDSN:              os.Getenv("LINKTO_PG_DSN"),
		AuthSecret:         strings.TrimSpace(os.Getenv("LINKTO_AUTH_SECRET")),
		Issuer:             envOr("LINKTO_ISSUER", defaultIssuer),
		AccessTTL:          defaultAccessTTL,
		RefreshTTL:         defaultRefreshTTL,
		SuspicionThreshold: defaultSuspicionThreshold,
		BotPolicy:          BotPolicyBlock,
		TierLimits:         defaultTierLimits,
	}

	if cfg.Env != EnvDevelopment && cfg.Env != EnvProduction {
		return Config{}, fmt.Errorf("unsupported LINKTO_ENV %q", cfg.Env)
	}

	if cfg.AuthSecret == "" {
		if cfg.IsProduction() {
			return Config{}, errors.New("LINKTO_AUTH_SECRET is required in production")
		}
		cfg.AuthSecret = devSecret
	}
	if len(cfg.AuthSecret) < minSecretLength {
		if cfg.IsProduction() {
			return Config{}, fmt.Errorf("LINKTO_AUTH_SECRET must be at least %d characters", minSecretLength)
		}
		cfg.AuthSecret = devSecret
	}

	if raw := os.Getenv("LINKTO_ACCESS_TTL_MINUTES"); raw != "" {
		minutes, err := strconv.Atoi(raw)
		if err != nil || minutes <= 0 {
			return Config{}, fmt.Errorf("invalid LINKTO_ACCESS_TTL_MINUTES %q", raw)
		}
		cfg.AccessTTL = time.Duration(minutes) * time.Minute
	}
	if raw := os.Getenv("LINKTO_REFRESH_TTL_HOURS"); raw != "" {
		hours, err := strconv.Atoi(raw)
		if err != nil || hours <= 0 {
			return Config{}, fmt.Errorf("invalid LINKTO_REFRESH_TTL_HOURS %q", raw)
		}
		cfg.RefreshTTL = time.Duration(hours) * time.Hour
	}

	if raw := os.Getenv("LINKTO_ALLOWED_ORIGINS"); raw != "" {
		for _, origin := range strings.Split(raw, ",") {
			origin = strings.TrimSpace(origin)
			if origin != "" {
				cfg.AllowedOrigins = append(cfg.AllowedOrigins, origin)
			}
		}
	}

	if raw := os.Getenv("LINKTO_SUSPICION_THRESHOLD"); raw != "" {
		threshold, err := strconv.Atoi(raw)
		if err != nil || threshold <= 0 {
			return Config{}, fmt.Errorf("invalid LINKTO_SUSPICION_THRESHOLD %q", raw)
		}
		cfg.SuspicionThreshold = threshold
	}

	if raw := os.Getenv("LINKTO_BOT_POLICY"); raw != "" {
		policy := BotPolicy(strings.ToLower(strings.TrimSpace(raw)))
		if policy != BotPolicyBlock && policy != BotPolicyThrottle {
			return Config{}, fmt.Errorf("invalid LINKTO_BOT_POLICY %q", raw)
		}
		cfg.BotPolicy = policy
	}

	if raw := os.Getenv("LINKTO_TIER_LIMITS"); raw != "" {
		overrides := map[string]TierLimit{}
		if err := json.Unmarshal([]byte(raw), &overrides); err != nil {
			return Config{}, fmt.Errorf("invalid LINKTO_TIER_LIMITS: %w", err)
		}
		merged := make(map[string]TierLimit, len(defaultTierLimits)+len(overrides))
		for k, v := range defaultTierLimits {
			merged[k] = v
		}
		for k, v := range overrides {
			merged[strings.ToLower(k)] = v
		}
		cfg.TierLimits = merged
	}

	return cfg, nil
}

func envOr(key, fallback string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return fallback
}
