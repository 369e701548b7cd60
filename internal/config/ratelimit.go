package config

import (
	"os"
	"strconv"
	"time"
)

// RateLimitConfig drives the per-IP token bucket applied to the public API.
type RateLimitConfig struct {
	Enabled        bool
	Capacity       int
	RefillTokens   int
	RefillInterval time.Duration
	TTL            time.Duration
	KeyStrategy    string
	Prefix         string
	Debug          bool
}

// LoadRateLimitConfig defaults to roughly 100 requests per 15 minutes per IP:
// a full bucket of 100 refilled one token every 9 seconds.
func LoadRateLimitConfig() RateLimitConfig {
	def := RateLimitConfig{
		Enabled:        envBool("RATE_LIMIT_ENABLED", true),
		Capacity:       envInt("RATE_LIMIT_CAPACITY", 100),
		RefillTokens:   envInt("RATE_LIMIT_REFILL_TOKENS", 1),
		RefillInterval: envDur("RATE_LIMIT_REFILL_INTERVAL", 9*time.Second),
		TTL:            envDur("RATE_LIMIT_TTL", 15*time.Minute),
		KeyStrategy:    envStr("RATE_LIMIT_KEY_STRATEGY", "ip"),
		Prefix:         envStr("RATE_LIMIT_PREFIX", "rl"),
		Debug:          envBool("RATE_LIMIT_DEBUG", false),
	}
	if b := envInt("RATE_LIMIT_BURST", -1); b > 0 {
		def.Capacity = b
	}
	if def.Capacity < 1 {
		def.Capacity = 1
	}
	if def.RefillTokens < 1 {
		def.RefillTokens = 1
	}
	if def.RefillInterval <= 0 {
		def.RefillInterval = time.Second
	}
	minTTL := 5 * def.RefillInterval
	if def.TTL < minTTL {
		def.TTL = minTTL
	}
	return def
}

// OTPConfig holds the issuance policy for one-time codes.  The quota and the
// cooldown are two independent fixed windows keyed by voter email.
type OTPConfig struct {
	QuotaLimit     int
	QuotaWindow    time.Duration
	CooldownLimit  int
	CooldownWindow time.Duration
	SelfServiceTTL time.Duration
	ManualTTL      time.Duration
	SessionTTL     time.Duration
	QuotaPrefix    string
	CooldownPrefix string
}

func LoadOTPConfig() OTPConfig {
	return OTPConfig{
		QuotaLimit:     envInt("OTP_QUOTA_LIMIT", 3),
		QuotaWindow:    envDur("OTP_QUOTA_WINDOW", time.Hour),
		CooldownLimit:  envInt("OTP_COOLDOWN_LIMIT", 1),
		CooldownWindow: envDur("OTP_COOLDOWN_WINDOW", time.Minute),
		SelfServiceTTL: envDur("OTP_TTL", 5*time.Minute),
		ManualTTL:      envDur("OTP_MANUAL_TTL", 10*time.Minute),
		SessionTTL:     envDur("VOTER_SESSION_TTL", time.Hour),
		QuotaPrefix:    envStr("OTP_QUOTA_PREFIX", "otp_limit"),
		CooldownPrefix: envStr("OTP_COOLDOWN_PREFIX", "otp_cooldown"),
	}
}

func envStr(k, d string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return d
}

func envBool(k string, d bool) bool {
	v := os.Getenv(k)
	if v == "" {
		return d
	}
	switch v {
	case "1", "true", "TRUE", "True", "yes", "YES", "on", "ON":
		return true
	case "0", "false", "FALSE", "False", "no", "NO", "off", "OFF":
		return false
	}
	return d
}

func envInt(k string, d int) int {
	v := os.Getenv(k)
	if v == "" {
		return d
	}
	if n, err := strconv.Atoi(v); err == nil {
		return n
	}
	return d
}

func envDur(k string, d time.Duration) time.Duration {
	v := os.Getenv(k)
	if v == "" {
		return d
	}
	if dur, err := time.ParseDuration(v); err == nil {
		return dur
	}
	return d
}
