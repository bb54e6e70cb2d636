// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"regexp"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/Verbund-Offener-Werkstaetten/vow-matrix-invite-bot/lib/msgtemplate"
	"github.com/Verbund-Offener-Werkstaetten/vow-matrix-invite-bot/lib/ref"
)

// EnvironmentVariable names the config file when --config is not given.
const EnvironmentVariable = "VOW_BOT_CONFIG"

// Config is the complete bot configuration.
type Config struct {
	Matrix    MatrixConfig    `yaml:"matrix"`
	Directory DirectoryConfig `yaml:"directory"`
	Bot       BotConfig       `yaml:"bot"`
	Templates TemplatesConfig `yaml:"templates"`
	Logging   LoggingConfig   `yaml:"logging"`
	Metrics   MetricsConfig   `yaml:"metrics"`
}

// MatrixConfig configures the homeserver connection and bot account.
type MatrixConfig struct {
	// HomeserverURL is the client-server API base URL, e.g.
	// "https://matrix.example.org".
	HomeserverURL string `yaml:"homeserver_url"`

	// UserID is the bot's own Matrix user ID.
	UserID string `yaml:"user_id"`

	// Exactly one way of authenticating: AccessToken, AccessTokenFile,
	// or Password (with optional DeviceID) for m.login.password.
	AccessToken     string `yaml:"access_token"`
	AccessTokenFile string `yaml:"access_token_file"`
	Password        string `yaml:"password"`
	PasswordFile    string `yaml:"password_file"`
	DeviceID        string `yaml:"device_id"`

	// MonitoredRoomID is the room whose joins trigger reconciliation.
	MonitoredRoomID string `yaml:"monitored_room_id"`

	// ServerName is the server part of the aliases the bot creates.
	// Defaults to the server of UserID.
	ServerName string `yaml:"server_name"`

	// SyncTimeout is the /sync long-poll timeout.
	SyncTimeout time.Duration `yaml:"sync_timeout"`
}

// DirectoryConfig configures the Keycloak admin API and the Synapse
// external ID provider that links Matrix users to Keycloak users.
type DirectoryConfig struct {
	// URL is the Keycloak base URL, e.g. "https://sso.example.org".
	URL string `yaml:"url"`

	// Realm holds the users and groups.
	Realm string `yaml:"realm"`

	// TokenRealm is the realm the service account authenticates
	// against. Defaults to Realm. Set to "master" with the admin-cli
	// client for a password grant.
	TokenRealm string `yaml:"token_realm"`

	ClientID         string `yaml:"client_id"`
	ClientSecret     string `yaml:"client_secret"`
	ClientSecretFile string `yaml:"client_secret_file"`

	// Username and Password switch from the client credentials grant to
	// the resource owner password grant.
	Username     string `yaml:"username"`
	Password     string `yaml:"password"`
	PasswordFile string `yaml:"password_file"`

	// IdentityProvider is the Synapse auth_provider whose external_id
	// is the Keycloak user ID.
	IdentityProvider string `yaml:"identity_provider"`

	// SlugAttribute and NameAttribute are the group attributes holding
	// the workshop slug and display name.
	SlugAttribute string `yaml:"slug_attribute"`
	NameAttribute string `yaml:"name_attribute"`

	// TokenRefreshInterval is how often the admin token is refreshed,
	// just under its lifespan.
	TokenRefreshInterval time.Duration `yaml:"token_refresh_interval"`

	// RequestTimeout bounds each admin API request.
	RequestTimeout time.Duration `yaml:"request_timeout"`
}

// BotConfig configures command parsing, classification and room naming.
type BotConfig struct {
	CommandPrefix string `yaml:"command_prefix"`

	// OwnerToken and CrewToken are matched case-insensitively as
	// substrings of directory group names.
	OwnerToken string `yaml:"owner_token"`
	CrewToken  string `yaml:"crew_token"`

	// AliasSuffix is appended to every alias localpart, for deployments
	// that need to keep aliases apart from an earlier iteration.
	AliasSuffix string `yaml:"alias_suffix"`

	// GeneralSuffix separates a workshop's general room alias from its
	// space alias.
	GeneralSuffix string `yaml:"general_suffix"`

	// GeneralRoomPublic makes general rooms publicly joinable instead
	// of restricted to space members.
	GeneralRoomPublic bool `yaml:"general_room_public"`

	// RoomVersion is passed to room creation when set. Restricted join
	// rules need version 8 or later.
	RoomVersion string `yaml:"room_version"`

	// StaleAfter drops events older than this relative to processing.
	StaleAfter time.Duration `yaml:"stale_after"`

	// AdminPowerLevel is granted to workshop owners and the bot.
	AdminPowerLevel int `yaml:"admin_power_level"`
}

// TemplatesConfig holds the message templates. Each is a text/template
// producing Markdown; see msgtemplate.Data for the available fields.
type TemplatesConfig struct {
	WelcomeSpaceExists string `yaml:"welcome_space_exists"`
	WelcomeCreateSpace string `yaml:"welcome_create_space"`
	SpaceExists        string `yaml:"space_exists"`
	SpaceCreated       string `yaml:"space_created"`
	GeneralRoomTopic   string `yaml:"general_room_topic"`
}

// LoggingConfig configures the slog handler.
type LoggingConfig struct {
	// Level is one of debug, info, warn, error.
	Level string `yaml:"level"`
}

// MetricsConfig configures the Prometheus endpoint.
type MetricsConfig struct {
	// Listen is the address for /metrics, e.g. ":9090". Empty disables
	// the listener.
	Listen string `yaml:"listen"`
}

// Default returns the configuration with every optional field set.
// Required fields (URLs, IDs, credentials) are left empty.
func Default() *Config {
	return &Config{
		Matrix: MatrixConfig{
			SyncTimeout: 30 * time.Second,
		},
		Directory: DirectoryConfig{
			IdentityProvider:     "oidc-keycloak",
			SlugAttribute:        "workshop-slug",
			NameAttribute:        "workshop-name",
			TokenRefreshInterval: 58 * time.Second,
			RequestTimeout:       15 * time.Second,
		},
		Bot: BotConfig{
			CommandPrefix:   "!create",
			OwnerToken:      "owner",
			CrewToken:       "crew",
			GeneralSuffix:   "-general",
			StaleAfter:      5 * time.Minute,
			AdminPowerLevel: 100,
		},
		Templates: TemplatesConfig{
			WelcomeSpaceExists: DefaultWelcomeSpaceExists,
			WelcomeCreateSpace: DefaultWelcomeCreateSpace,
			SpaceExists:        DefaultSpaceExists,
			SpaceCreated:       DefaultSpaceCreated,
			GeneralRoomTopic:   DefaultGeneralRoomTopic,
		},
		Logging: LoggingConfig{Level: "info"},
	}
}

// Default message templates.
const (
	DefaultWelcomeSpaceExists = "Welcome, {{.UserID}}! The space for **{{.Workshop}}** already exists " +
		"and you have been invited to it: {{.SpaceAlias}}"
	DefaultWelcomeCreateSpace = "Welcome, {{.UserID}}! You are an owner of **{{.Workshop}}**, " +
		"which has no space yet. Reply with `{{.Command}} {{.Slug}}` to create it."
	DefaultSpaceExists = "The space for **{{.Workshop}}** already exists ({{.SpaceAlias}}). " +
		"You have been invited and made an admin."
	DefaultSpaceCreated = "Created the space for **{{.Workshop}}** ({{.SpaceAlias}}). " +
		"You have been invited and made an admin."
	DefaultGeneralRoomTopic = "General chat for {{.Workshop}}"
)

// Load reads the file at path, or the file named by VOW_BOT_CONFIG if
// path is empty.
func Load(path string) (*Config, error) {
	if path == "" {
		path = os.Getenv(EnvironmentVariable)
	}
	if path == "" {
		return nil, fmt.Errorf("no config file: pass --config or set %s", EnvironmentVariable)
	}
	return LoadFile(path)
}

// LoadFile reads and parses one configuration file over Default. The
// result is not validated; call Validate.
func LoadFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config: %w", err)
	}
	config, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("parsing %s: %w", path, err)
	}
	return config, nil
}

// Parse decodes YAML over Default, expanding environment references in
// every scalar.
func Parse(data []byte) (*Config, error) {
	config := Default()

	var document yaml.Node
	if err := yaml.Unmarshal(data, &document); err != nil {
		return nil, err
	}
	if document.Kind == 0 {
		return config, nil
	}
	expandNode(&document)
	if err := document.Decode(config); err != nil {
		return nil, err
	}
	if config.Directory.TokenRealm == "" {
		config.Directory.TokenRealm = config.Directory.Realm
	}
	return config, nil
}

// expandNode replaces ${VAR} references in every scalar below node.
// Mapping keys are left alone.
func expandNode(node *yaml.Node) {
	switch node.Kind {
	case yaml.ScalarNode:
		expanded := expandVars(node.Value)
		if expanded == node.Value {
			return
		}
		node.Value = expanded
		// Let plain scalars resolve again so "${PORT:-9090}" decodes
		// as an int and "${PUBLIC:-false}" as a bool.
		quoted := yaml.DoubleQuotedStyle | yaml.SingleQuotedStyle | yaml.LiteralStyle | yaml.FoldedStyle
		if node.Style&quoted == 0 {
			node.Tag = ""
		}
	case yaml.MappingNode:
		for index := 1; index < len(node.Content); index += 2 {
			expandNode(node.Content[index])
		}
	default:
		for _, child := range node.Content {
			expandNode(child)
		}
	}
}

var varPattern = regexp.MustCompile(`\$\{([^}:]+)(?::-([^}]*))?\}`)

// expandVars expands ${VAR} and ${VAR:-default}. An unset or empty
// variable without a default expands to the empty string.
func expandVars(s string) string {
	return varPattern.ReplaceAllStringFunc(s, func(match string) string {
		parts := varPattern.FindStringSubmatch(match)
		if value := os.Getenv(parts[1]); value != "" {
			return value
		}
		return parts[2]
	})
}

// Validate reports every missing or malformed field.
func (c *Config) Validate() error {
	var errs []error
	required := func(name, value string) {
		if strings.TrimSpace(value) == "" {
			errs = append(errs, fmt.Errorf("%s is required", name))
		}
	}

	required("matrix.homeserver_url", c.Matrix.HomeserverURL)
	if c.Matrix.HomeserverURL != "" {
		if err := validateURL(c.Matrix.HomeserverURL); err != nil {
			errs = append(errs, fmt.Errorf("matrix.homeserver_url: %w", err))
		}
	}
	required("matrix.user_id", c.Matrix.UserID)
	if c.Matrix.UserID != "" {
		if _, err := ref.ParseUserID(c.Matrix.UserID); err != nil {
			errs = append(errs, fmt.Errorf("matrix.user_id: %w", err))
		}
	}
	required("matrix.monitored_room_id", c.Matrix.MonitoredRoomID)
	if c.Matrix.MonitoredRoomID != "" {
		if _, err := ref.ParseRoomID(c.Matrix.MonitoredRoomID); err != nil {
			errs = append(errs, fmt.Errorf("matrix.monitored_room_id: %w", err))
		}
	}
	if c.Matrix.ServerName != "" {
		if _, err := ref.ParseServerName(c.Matrix.ServerName); err != nil {
			errs = append(errs, fmt.Errorf("matrix.server_name: %w", err))
		}
	}
	credentials := countSet(c.Matrix.AccessToken, c.Matrix.AccessTokenFile, c.Matrix.Password, c.Matrix.PasswordFile)
	if credentials != 1 {
		errs = append(errs, fmt.Errorf("matrix: exactly one of access_token, access_token_file, password, password_file is required (got %d)", credentials))
	}

	required("directory.url", c.Directory.URL)
	if c.Directory.URL != "" {
		if err := validateURL(c.Directory.URL); err != nil {
			errs = append(errs, fmt.Errorf("directory.url: %w", err))
		}
	}
	required("directory.realm", c.Directory.Realm)
	required("directory.client_id", c.Directory.ClientID)
	required("directory.identity_provider", c.Directory.IdentityProvider)
	required("directory.slug_attribute", c.Directory.SlugAttribute)
	required("directory.name_attribute", c.Directory.NameAttribute)
	if c.Directory.ClientSecret != "" && c.Directory.ClientSecretFile != "" {
		errs = append(errs, fmt.Errorf("directory: client_secret and client_secret_file are mutually exclusive"))
	}
	if c.Directory.Password != "" && c.Directory.PasswordFile != "" {
		errs = append(errs, fmt.Errorf("directory: password and password_file are mutually exclusive"))
	}
	hasPassword := c.Directory.Password != "" || c.Directory.PasswordFile != ""
	if c.Directory.Username == "" && hasPassword {
		errs = append(errs, fmt.Errorf("directory.username is required with directory.password"))
	}
	if c.Directory.Username != "" && !hasPassword {
		errs = append(errs, fmt.Errorf("directory.password or directory.password_file is required with directory.username"))
	}
	if c.Directory.Username == "" && c.Directory.ClientSecret == "" && c.Directory.ClientSecretFile == "" {
		errs = append(errs, fmt.Errorf("directory: client_secret or client_secret_file is required for the client credentials grant"))
	}
	if c.Directory.TokenRefreshInterval <= 0 {
		errs = append(errs, fmt.Errorf("directory.token_refresh_interval must be positive"))
	}

	required("bot.command_prefix", c.Bot.CommandPrefix)
	required("bot.owner_token", c.Bot.OwnerToken)
	required("bot.crew_token", c.Bot.CrewToken)
	required("bot.general_suffix", c.Bot.GeneralSuffix)
	if c.Bot.OwnerToken != "" && strings.EqualFold(c.Bot.OwnerToken, c.Bot.CrewToken) {
		errs = append(errs, fmt.Errorf("bot.owner_token and bot.crew_token must differ"))
	}
	if c.Bot.StaleAfter <= 0 {
		errs = append(errs, fmt.Errorf("bot.stale_after must be positive"))
	}
	if c.Bot.AdminPowerLevel <= 0 {
		errs = append(errs, fmt.Errorf("bot.admin_power_level must be positive"))
	}

	if _, err := c.Templates.Parse(); err != nil {
		errs = append(errs, err)
	}

	switch c.Logging.Level {
	case "debug", "info", "warn", "error":
	default:
		errs = append(errs, fmt.Errorf("logging.level must be one of debug, info, warn, error (got %q)", c.Logging.Level))
	}

	return errors.Join(errs...)
}

// Parse compiles the configured templates.
func (t TemplatesConfig) Parse() (*msgtemplate.Set, error) {
	return msgtemplate.ParseSet(map[msgtemplate.Name]string{
		msgtemplate.WelcomeSpaceExists: t.WelcomeSpaceExists,
		msgtemplate.WelcomeCreateSpace: t.WelcomeCreateSpace,
		msgtemplate.SpaceExists:        t.SpaceExists,
		msgtemplate.SpaceCreated:       t.SpaceCreated,
		msgtemplate.GeneralRoomTopic:   t.GeneralRoomTopic,
	})
}

// ServerName returns matrix.server_name, or the server of matrix.user_id
// when unset. Call after Validate.
func (c *Config) ServerName() (ref.ServerName, error) {
	if c.Matrix.ServerName != "" {
		return ref.ParseServerName(c.Matrix.ServerName)
	}
	userID, err := ref.ParseUserID(c.Matrix.UserID)
	if err != nil {
		return ref.ServerName{}, err
	}
	return userID.Server(), nil
}

func validateURL(raw string) error {
	parsed, err := url.Parse(raw)
	if err != nil {
		return err
	}
	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return fmt.Errorf("scheme must be http or https, got %q", parsed.Scheme)
	}
	if parsed.Host == "" {
		return fmt.Errorf("missing host")
	}
	return nil
}

func countSet(values ...string) int {
	count := 0
	for _, value := range values {
		if value != "" {
			count++
		}
	}
	return count
}
