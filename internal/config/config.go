package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

const (
	defaultGraphQLURL     = "https://api.github.com/graphql"
	defaultRequestTimeout = 10 * time.Second
)

type Config struct {
	Server    ServerConfig
	GitHub    GitHubConfig
	Auth      AuthConfig
	Blog      BlogConfig
	Log       LogConfig
	RateLimit RateLimitConfig
}

type ServerConfig struct {
	Port           string
	BaseURL        string
	AllowedOrigins []string
	// TrustedProxies lists proxy IPs/CIDRs whose X-Forwarded-For is honored.
	TrustedProxies []string
}

// GitHubConfig covers both the OAuth app and the discussions backing store.
type GitHubConfig struct {
	ClientID         string
	ClientSecret     string
	OAuthRedirectURL string

	APIToken        string
	RepositoryOwner string
	RepositoryName  string
	CategoryID      string
	GraphQLURL      string
	RequestTimeout  time.Duration
	// WriteCredential selects the token for createDiscussion: "caller" or "service".
	WriteCredential string
}

type AuthConfig struct {
	SessionSecret  string
	SessionTTL     string
	CookieSecure   string
	CookieSameSite string
	CookieDomain   string
	CookiePath     string
}

type BlogConfig struct {
	OwnerLogin string
}

type LogConfig struct {
	Level  string
	Format string
}

type RateLimitConfig struct {
	WritePerMinute int
}

// Load reads an optional .env file and then the process environment.
// Missing values are not an error here; each component checks what it needs.
func Load() Config {
	_ = godotenv.Load()

	baseURL := strings.TrimRight(getenv("BASE_URL", "http://localhost:8080"), "/")

	return Config{
		Server: ServerConfig{
			Port:           getenv("PORT", "8080"),
			BaseURL:        baseURL,
			AllowedOrigins: splitList(os.Getenv("CORS_ALLOWED_ORIGINS")),
			TrustedProxies: splitList(os.Getenv("TRUSTED_PROXIES")),
		},
		GitHub: GitHubConfig{
			ClientID:         os.Getenv("GITHUB_ID"),
			ClientSecret:     os.Getenv("GITHUB_SECRET"),
			OAuthRedirectURL: getenv("GITHUB_OAUTH_REDIRECT_URL", baseURL+"/api/auth/callback"),
			APIToken:         os.Getenv("GITHUB_API_TOKEN"),
			RepositoryOwner:  os.Getenv("GITHUB_REPOSITORY_OWNER"),
			RepositoryName:   os.Getenv("GITHUB_REPOSITORY_NAME"),
			CategoryID:       getenv("GITHUB_DISCUSSION_CATEGORY_ID", os.Getenv("NEXT_PUBLIC_GISCUS_CATEGORY_ID")),
			GraphQLURL:       getenv("GITHUB_GRAPHQL_URL", defaultGraphQLURL),
			RequestTimeout:   getenvDuration("GITHUB_REQUEST_TIMEOUT", defaultRequestTimeout),
			WriteCredential:  strings.ToLower(getenv("GITHUB_WRITE_CREDENTIAL", "caller")),
		},
		Auth: AuthConfig{
			SessionSecret:  getenv("SESSION_SECRET", os.Getenv("NEXTAUTH_SECRET")),
			SessionTTL:     getenv("SESSION_TTL", "720h"),
			CookieSecure:   getenv("AUTH_COOKIE_SECURE", strconv.FormatBool(strings.HasPrefix(baseURL, "https://"))),
			CookieSameSite: getenv("AUTH_COOKIE_SAMESITE", "lax"),
			CookieDomain:   os.Getenv("AUTH_COOKIE_DOMAIN"),
			CookiePath:     getenv("AUTH_COOKIE_PATH", "/"),
		},
		Blog: BlogConfig{
			OwnerLogin: strings.TrimSpace(os.Getenv("BLOG_OWNER_GITHUB_USERNAME")),
		},
		Log: LogConfig{
			Level:  getenv("LOG_LEVEL", "info"),
			Format: getenv("LOG_FORMAT", "json"),
		},
		RateLimit: RateLimitConfig{
			WritePerMinute: getenvInt("RATE_LIMIT_WRITE_PER_MINUTE", 10),
		},
	}
}

func getenv(key, fallback string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return fallback
}

func getenvInt(key string, fallback int) int {
	val := os.Getenv(key)
	if val == "" {
		return fallback
	}
	i, err := strconv.Atoi(val)
	if err != nil {
		return fallback
	}
	return i
}

func getenvDuration(key string, fallback time.Duration) time.Duration {
	val := os.Getenv(key)
	if val == "" {
		return fallback
	}
	d, err := time.ParseDuration(val)
	if err != nil || d <= 0 {
		return fallback
	}
	return d
}

func splitList(value string) []string {
	var out []string
	for _, part := range strings.Split(value, ",") {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}
