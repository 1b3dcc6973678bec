package main

import (
	"errors"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/pflag"

	"github.com/modooboard/authcore/internal/logger"
)

const (
	defaultLoggingLevel = logger.LevelInfo
	defaultEnvironment  = logger.EnvProduction

	defaultAccessTokenTTL  = 30 * time.Minute
	defaultRefreshTokenTTL = 7 * 24 * time.Hour
	defaultBlacklistGrace  = 7 * 24 * time.Hour

	defaultNicknameMaxChanges = 3
	defaultNicknameCooldown   = 30 * 24 * time.Hour
	defaultRejoinHold         = 14 * 24 * time.Hour

	defaultCompactInterval  = 1 * time.Hour
	defaultSweepInterval    = 30 * time.Minute
	defaultRefreshLookahead = 10 * time.Minute
)

// Published provider endpoints, overridable for tests
const (
	defaultGoogleTokenURL    = "https://oauth2.googleapis.com/token"
	defaultGoogleRevokeURL   = "https://oauth2.googleapis.com/revoke"
	defaultGoogleUserInfoURL = "https://openidconnect.googleapis.com/v1/userinfo"

	defaultKakaoTokenURL    = "https://kauth.kakao.com/oauth/token"
	defaultKakaoRevokeURL   = "https://kapi.kakao.com/v1/user/unlink"
	defaultKakaoUserInfoURL = "https://kapi.kakao.com/v2/user/me"
)

// ProviderConfig carries one provider's app credentials and endpoints
type ProviderConfig struct {
	ClientID     string
	ClientSecret string
	RedirectURI  string

	TokenURL    string
	RevokeURL   string
	UserInfoURL string
}

type Config struct {
	// Default logging level
	LogLevel string

	// Environment
	Environment string

	// Database to connect to
	DatabaseDSN string

	// Base64-encoded secret key for signing tokens
	SecretKey string

	// Token validity windows
	AccessTokenTTL  time.Duration
	RefreshTokenTTL time.Duration

	// How long blacklist entries are kept past their token's natural expiry
	BlacklistGrace time.Duration

	// Nickname policy and rejoin holding period
	NicknameMaxChanges int
	NicknameCooldown   time.Duration
	RejoinHold         time.Duration

	// Background maintenance cadence
	CompactInterval  time.Duration
	SweepInterval    time.Duration
	RefreshLookahead time.Duration

	// Identity providers
	Google ProviderConfig
	Kakao  ProviderConfig
}

func NewConfig() *Config {
	return &Config{
		LogLevel:    defaultLoggingLevel,
		Environment: defaultEnvironment,

		AccessTokenTTL:  defaultAccessTokenTTL,
		RefreshTokenTTL: defaultRefreshTokenTTL,
		BlacklistGrace:  defaultBlacklistGrace,

		NicknameMaxChanges: defaultNicknameMaxChanges,
		NicknameCooldown:   defaultNicknameCooldown,
		RejoinHold:         defaultRejoinHold,

		CompactInterval:  defaultCompactInterval,
		SweepInterval:    defaultSweepInterval,
		RefreshLookahead: defaultRefreshLookahead,

		Google: ProviderConfig{
			TokenURL:    defaultGoogleTokenURL,
			RevokeURL:   defaultGoogleRevokeURL,
			UserInfoURL: defaultGoogleUserInfoURL,
		},
		Kakao: ProviderConfig{
			TokenURL:    defaultKakaoTokenURL,
			RevokeURL:   defaultKakaoRevokeURL,
			UserInfoURL: defaultKakaoUserInfoURL,
		},
	}
}

// Load variable from '.env' file (should be located at working directory)
func (c *Config) LoadDotEnv(getwd func() (string, error)) error {
	wd, err := getwd()
	if err != nil {
		return err
	}

	envMap, err := godotenv.Read(filepath.Join(wd, ".env"))

	switch {
	case err == nil:
		c.LoadEnv(func(key string) string {
			return envMap[key]
		})
		return nil
	case errors.Is(err, os.ErrNotExist):
		return nil
	default:
		return err
	}
}

// LoadEnv sets options from environment-like lookups. Empty and unparsable
// values keep the current option, flags are the place for strict validation
func (c *Config) LoadEnv(getenv func(string) string) {
	// Set option to value if it not empty
	setString := func(o *string) func(value string) {
		return func(value string) {
			if value != "" {
				*o = value
			}
		}
	}

	setDuration := func(o *time.Duration) func(value string) {
		return func(value string) {
			if d, err := time.ParseDuration(value); err == nil {
				*o = d
			}
		}
	}

	setInt := func(o *int) func(value string) {
		return func(value string) {
			if n, err := strconv.Atoi(value); err == nil {
				*o = n
			}
		}
	}

	envMap := map[string]func(string){
		"LOG_LEVEL":    setString(&c.LogLevel),
		"ENVIRONMENT":  setString(&c.Environment),
		"DATABASE_URI": setString(&c.DatabaseDSN),
		"SECRET_KEY":   setString(&c.SecretKey),

		"ACCESS_TOKEN_TTL":  setDuration(&c.AccessTokenTTL),
		"REFRESH_TOKEN_TTL": setDuration(&c.RefreshTokenTTL),
		"BLACKLIST_GRACE":   setDuration(&c.BlacklistGrace),

		"NICKNAME_MAX_CHANGES": setInt(&c.NicknameMaxChanges),
		"NICKNAME_COOLDOWN":    setDuration(&c.NicknameCooldown),
		"REJOIN_HOLD":          setDuration(&c.RejoinHold),

		"COMPACT_INTERVAL":  setDuration(&c.CompactInterval),
		"SWEEP_INTERVAL":    setDuration(&c.SweepInterval),
		"REFRESH_LOOKAHEAD": setDuration(&c.RefreshLookahead),

		"GOOGLE_CLIENT_ID":     setString(&c.Google.ClientID),
		"GOOGLE_CLIENT_SECRET": setString(&c.Google.ClientSecret),
		"GOOGLE_REDIRECT_URI":  setString(&c.Google.RedirectURI),
		"GOOGLE_TOKEN_URL":     setString(&c.Google.TokenURL),
		"GOOGLE_REVOKE_URL":    setString(&c.Google.RevokeURL),
		"GOOGLE_USERINFO_URL":  setString(&c.Google.UserInfoURL),

		"KAKAO_CLIENT_ID":     setString(&c.Kakao.ClientID),
		"KAKAO_CLIENT_SECRET": setString(&c.Kakao.ClientSecret),
		"KAKAO_REDIRECT_URI":  setString(&c.Kakao.RedirectURI),
		"KAKAO_TOKEN_URL":     setString(&c.Kakao.TokenURL),
		"KAKAO_REVOKE_URL":    setString(&c.Kakao.RevokeURL),
		"KAKAO_USERINFO_URL":  setString(&c.Kakao.UserInfoURL),
	}

	for key, parseFn := range envMap {
		parseFn(getenv(key))
	}
}

func (c *Config) ParseFlags(args []string) error {
	fs := pflag.NewFlagSet("authcore", pflag.ContinueOnError)

	fs.StringVarP(&c.DatabaseDSN, "database", "d", c.DatabaseDSN, "Database connection string")
	fs.StringVarP(&c.SecretKey, "secret-key", "s", c.SecretKey, "Base64-encoded token signing key")
	fs.StringVarP(&c.LogLevel, "log-level", "l", c.LogLevel, "Logging level (debug, info, warn, error)")
	fs.StringVarP(&c.Environment, "environment", "e", c.Environment, "Environment (local, production)")

	fs.DurationVar(&c.AccessTokenTTL, "access-ttl", c.AccessTokenTTL, "Access token validity window")
	fs.DurationVar(&c.RefreshTokenTTL, "refresh-ttl", c.RefreshTokenTTL, "Refresh token validity window")
	fs.DurationVar(&c.BlacklistGrace, "blacklist-grace", c.BlacklistGrace, "Blacklist retention past token expiry")

	fs.IntVar(&c.NicknameMaxChanges, "nickname-max-changes", c.NicknameMaxChanges, "Lifetime nickname change quota")
	fs.DurationVar(&c.NicknameCooldown, "nickname-cooldown", c.NicknameCooldown, "Cooldown between nickname changes")
	fs.DurationVar(&c.RejoinHold, "rejoin-hold", c.RejoinHold, "Holding period before a withdrawn member may rejoin")

	fs.DurationVar(&c.CompactInterval, "compact-interval", c.CompactInterval, "Blacklist compaction interval")
	fs.DurationVar(&c.SweepInterval, "sweep-interval", c.SweepInterval, "Provider token sweep interval")
	fs.DurationVar(&c.RefreshLookahead, "refresh-lookahead", c.RefreshLookahead, "How far ahead of expiry provider tokens are refreshed")

	return fs.Parse(args)
}
