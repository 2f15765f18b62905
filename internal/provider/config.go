package provider

import (
	"context"
	"os"
	"time"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
	"google.golang.org/api/calendar/v3"
)

// Config holds the OAuth client settings for the calendar provider.
type Config struct {
	// ClientID and ClientSecret identify this application to the provider.
	ClientID     string
	ClientSecret string

	// RedirectURL is the callback that receives the authorization code.
	RedirectURL string

	// Timeout bounds every provider API call.
	Timeout time.Duration
}

// DefaultConfig returns the default configuration, reading from environment variables.
func DefaultConfig() Config {
	return Config{
		ClientID:     getEnv("GOOGLE_CLIENT_ID", ""),
		ClientSecret: getEnv("GOOGLE_CLIENT_SECRET", ""),
		RedirectURL:  getEnv("GOOGLE_REDIRECT_URL", "http://localhost:8099/api/integrations/callback"),
		Timeout:      30 * time.Second,
	}
}

// getEnv returns an environment variable value or a default if not set.
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// OAuth builds the oauth2 configuration for the provider.
func (c Config) OAuth() *oauth2.Config {
	return &oauth2.Config{
		ClientID:     c.ClientID,
		ClientSecret: c.ClientSecret,
		RedirectURL:  c.RedirectURL,
		Scopes:       []string{calendar.CalendarScope},
		Endpoint:     google.Endpoint,
	}
}

// AuthCodeURL returns the consent URL the user is sent to when connecting an
// integration. Offline access with forced consent so a refresh token is
// always issued.
func (c Config) AuthCodeURL(state string) string {
	return c.OAuth().AuthCodeURL(state,
		oauth2.AccessTypeOffline,
		oauth2.SetAuthURLParam("prompt", "consent"),
	)
}

// Exchange trades an authorization code for the initial credential pair.
func (c Config) Exchange(ctx context.Context, code string) (*oauth2.Token, error) {
	return c.OAuth().Exchange(ctx, code)
}
