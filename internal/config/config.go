package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"

	"mailbot/internal/credential"
)

// IMAPConfig holds connection settings for a provider=imap account.
type IMAPConfig struct {
	Host        string `mapstructure:"host"`
	Port        int    `mapstructure:"port"`
	Username    string `mapstructure:"username"`
	Password    string `mapstructure:"password"`
	TLS         bool   `mapstructure:"tls"`
	JunkMailbox string `mapstructure:"junk_mailbox"`
}

// AccountConfig describes one mailbox the service polls.
type AccountConfig struct {
	Email           string     `mapstructure:"email"`
	Provider        string     `mapstructure:"provider"`
	TokenFile       string     `mapstructure:"token_file"`
	CredentialsFile string     `mapstructure:"credentials_file"`
	MinAlert        int        `mapstructure:"min_alert"`
	IMAP            IMAPConfig `mapstructure:"imap"`
}

type Config struct {
	HTTPPort    string
	DatabaseURL string
	SQLitePath  string
	LogLevel    string
	Env         string

	AIProvider string
	AIBaseURL  string
	AIModel    string
	AIKey      string

	GoogleClientID     string
	GoogleClientSecret string

	TelegramBotToken string
	TelegramChatID   string
	TelegramAPIURL   string
	TelegramWebhook  bool
	WebhookSecret    string

	OperatorToken string

	Accounts []AccountConfig

	Labels           []string
	TopPriorityLabel string
	SpamLabel        string

	PollInterval         time.Duration
	PlanningInterval     time.Duration
	DeepThreshold        int
	CalendarThreshold    int
	MinAlert             int
	ActionThreshold      int
	PlannerLookbackDays  int
	ReminderLeadDays     int
	EventDispatchLead    time.Duration
	DefaultEventDuration time.Duration
	CalendarTimezone     string
	CalendarID           string
	CalendarAccount      string
	UserContext          string

	ClassifierRetries int
	ShallowMaxTokens  int
	DeepMaxTokens     int

	ConfirmationTimeout time.Duration
	UpdateProfiles      bool
	SendAlerts          bool
	AgentEnabled        bool
	AgentAlwaysAskHuman bool
	AgentMaxSteps       int

	KeyringEnabled bool
}

// SecretLookup resolves a secret that was not set in the environment.
type SecretLookup func(key string) (string, error)

func LoadConfig() (*Config, error) {
	// Load .env file if it exists
	_ = godotenv.Load()

	return Load(GetEnv("MAILBOT_CONFIG", "mailbot.yaml"), credential.Get)
}

// Load reads the YAML file at path (a missing file means defaults only),
// overlays environment variables and fills empty secrets through lookup
// when KEYRING_ENABLED is set.
func Load(path string, lookup SecretLookup) (*Config, error) {
	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("yaml")
	v.AutomaticEnv()
	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(*os.PathError); !ok {
			if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
				return nil, fmt.Errorf("reading config %s: %w", path, err)
			}
		}
	}

	cfg := &Config{
		HTTPPort:    v.GetString("http_port"),
		DatabaseURL: v.GetString("database_url"),
		SQLitePath:  v.GetString("sqlite_path"),
		LogLevel:    v.GetString("log_level"),
		Env:         v.GetString("env"),

		AIProvider: v.GetString("ai_provider"),
		AIBaseURL:  v.GetString("ai_base_url"),
		AIModel:    v.GetString("ai_model"),
		AIKey:      v.GetString("ai_api_key"),

		GoogleClientID:     v.GetString("google_client_id"),
		GoogleClientSecret: v.GetString("google_client_secret"),

		TelegramBotToken: v.GetString("telegram_bot_token"),
		TelegramChatID:   v.GetString("telegram_chat_id"),
		TelegramAPIURL:   v.GetString("telegram_api_url"),
		TelegramWebhook:  v.GetBool("telegram_webhook"),
		WebhookSecret:    v.GetString("telegram_webhook_secret"),

		OperatorToken: v.GetString("operator_token"),

		Labels:           stringList(v, "labels"),
		TopPriorityLabel: v.GetString("top_priority_label"),
		SpamLabel:        v.GetString("spam_label"),

		PollInterval:         time.Duration(v.GetInt("poll_interval_seconds")) * time.Second,
		PlanningInterval:     time.Duration(v.GetInt("planning_interval_hours")) * time.Hour,
		DeepThreshold:        v.GetInt("deep_threshold_importance"),
		CalendarThreshold:    v.GetInt("calendar_importance_threshold"),
		MinAlert:             v.GetInt("min_importance_for_alert"),
		ActionThreshold:      v.GetInt("action_importance_threshold"),
		PlannerLookbackDays:  v.GetInt("planner_lookback_days"),
		ReminderLeadDays:     v.GetInt("reminder_lead_days"),
		EventDispatchLead:    time.Duration(v.GetInt("event_dispatch_lead_hours")) * time.Hour,
		DefaultEventDuration: time.Duration(v.GetInt("default_event_minutes")) * time.Minute,
		CalendarTimezone:     v.GetString("calendar_timezone"),
		CalendarID:           v.GetString("calendar_id"),
		CalendarAccount:      v.GetString("calendar_account"),
		UserContext:          v.GetString("user_context"),

		ClassifierRetries: v.GetInt("classifier_retries"),
		ShallowMaxTokens:  v.GetInt("shallow_max_tokens"),
		DeepMaxTokens:     v.GetInt("deep_max_tokens"),

		ConfirmationTimeout: v.GetDuration("confirmation_timeout"),
		UpdateProfiles:      v.GetBool("update_profiles"),
		SendAlerts:          v.GetBool("send_alerts"),
		AgentEnabled:        v.GetBool("agent_enabled"),
		AgentAlwaysAskHuman: v.GetBool("agent_always_ask_human"),
		AgentMaxSteps:       v.GetInt("agent_max_steps"),

		KeyringEnabled: v.GetBool("keyring_enabled"),
	}

	if err := v.UnmarshalKey("accounts", &cfg.Accounts); err != nil {
		return nil, fmt.Errorf("parsing accounts in %s: %w", path, err)
	}
	if len(cfg.Accounts) == 0 {
		for _, email := range stringList(v, "mailbot_accounts") {
			cfg.Accounts = append(cfg.Accounts, AccountConfig{Email: email})
		}
	}
	for i := range cfg.Accounts {
		applyAccountDefaults(&cfg.Accounts[i], cfg.MinAlert)
		if cfg.CalendarAccount == "" && cfg.Accounts[i].Provider == "gmail" {
			cfg.CalendarAccount = cfg.Accounts[i].Email
		}
	}

	if cfg.KeyringEnabled && lookup != nil {
		cfg.fillSecrets(lookup)
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("http_port", "8081")
	v.SetDefault("database_url", "")
	v.SetDefault("sqlite_path", "")
	v.SetDefault("log_level", "info")
	v.SetDefault("env", "development")

	// Empty base url and model pick the provider's own defaults in ai.NewClient.
	v.SetDefault("ai_provider", "local")
	v.SetDefault("ai_base_url", "")
	v.SetDefault("ai_model", "")
	v.SetDefault("ai_api_key", "")

	v.SetDefault("google_client_id", "")
	v.SetDefault("google_client_secret", "")

	v.SetDefault("telegram_bot_token", "")
	v.SetDefault("telegram_chat_id", "")
	v.SetDefault("telegram_api_url", "https://api.telegram.org")
	v.SetDefault("telegram_webhook", false)
	v.SetDefault("telegram_webhook_secret", "")
	v.SetDefault("operator_token", "")

	v.SetDefault("labels", "Important,Promotions,Social,Spam,Receipts")
	v.SetDefault("top_priority_label", "Important")
	v.SetDefault("spam_label", "Spam")

	v.SetDefault("poll_interval_seconds", 120)
	v.SetDefault("planning_interval_hours", 6)
	v.SetDefault("deep_threshold_importance", 7)
	v.SetDefault("calendar_importance_threshold", 7)
	v.SetDefault("min_importance_for_alert", 8)
	v.SetDefault("action_importance_threshold", 8)
	v.SetDefault("planner_lookback_days", 7)
	v.SetDefault("reminder_lead_days", 2)
	v.SetDefault("event_dispatch_lead_hours", 24)
	v.SetDefault("default_event_minutes", 30)
	v.SetDefault("calendar_timezone", "UTC")
	v.SetDefault("calendar_id", "primary")
	v.SetDefault("calendar_account", "")
	v.SetDefault("user_context", "")

	v.SetDefault("classifier_retries", 4)
	v.SetDefault("shallow_max_tokens", 600)
	v.SetDefault("deep_max_tokens", 8192)

	v.SetDefault("confirmation_timeout", "12h")
	v.SetDefault("update_profiles", true)
	v.SetDefault("send_alerts", false)
	v.SetDefault("agent_enabled", true)
	v.SetDefault("agent_always_ask_human", true)
	v.SetDefault("agent_max_steps", 5)

	v.SetDefault("keyring_enabled", false)
	v.SetDefault("mailbot_accounts", "")
}

func applyAccountDefaults(a *AccountConfig, minAlert int) {
	a.Email = strings.TrimSpace(a.Email)
	if a.Provider == "" {
		a.Provider = "gmail"
	}
	if a.Provider == "gmail" {
		if a.TokenFile == "" {
			a.TokenFile = fmt.Sprintf("token_%s.json", a.Email)
		}
		if a.CredentialsFile == "" {
			a.CredentialsFile = "credentials.json"
		}
	}
	if a.Provider == "imap" {
		if a.IMAP.Port == 0 {
			a.IMAP.Port = 993
		}
		if a.IMAP.Username == "" {
			a.IMAP.Username = a.Email
		}
		if a.IMAP.JunkMailbox == "" {
			a.IMAP.JunkMailbox = "Junk"
		}
	}
	if a.MinAlert == 0 {
		a.MinAlert = minAlert
	}
}

// stringList accepts either a YAML list or a comma separated string.
func stringList(v *viper.Viper, key string) []string {
	var raw []string
	switch val := v.Get(key).(type) {
	case string:
		raw = strings.Split(val, ",")
	default:
		raw = v.GetStringSlice(key)
	}

	out := make([]string, 0, len(raw))
	for _, s := range raw {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}

func (c *Config) fillSecrets(lookup SecretLookup) {
	secrets := map[string]*string{
		"TELEGRAM_BOT_TOKEN":   &c.TelegramBotToken,
		"AI_API_KEY":           &c.AIKey,
		"GOOGLE_CLIENT_SECRET": &c.GoogleClientSecret,
		"OPERATOR_TOKEN":       &c.OperatorToken,
	}
	for key, dst := range secrets {
		if *dst != "" {
			continue
		}
		if val, err := lookup(key); err == nil {
			*dst = val
		}
	}
	for i := range c.Accounts {
		a := &c.Accounts[i]
		if a.Provider == "imap" && a.IMAP.Password == "" {
			if val, err := lookup("IMAP_PASSWORD_" + a.Email); err == nil {
				a.IMAP.Password = val
			}
		}
	}
}

func GetEnv(key, defaultValue string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	return defaultValue
}

// IsLabel reports whether label is one of the configured category labels.
func (c *Config) IsLabel(label string) bool {
	for _, l := range c.Labels {
		if l == label {
			return true
		}
	}
	return false
}

func (c *Config) Validate() error {
	if len(c.Accounts) == 0 {
		return fmt.Errorf("at least one account is required")
	}
	for _, a := range c.Accounts {
		if a.Email == "" {
			return fmt.Errorf("account email is required")
		}
		switch a.Provider {
		case "gmail":
		case "imap":
			if a.IMAP.Host == "" {
				return fmt.Errorf("imap host is required for %s", a.Email)
			}
		default:
			return fmt.Errorf("unknown provider %q for %s", a.Provider, a.Email)
		}
	}
	switch strings.ToLower(c.AIProvider) {
	case "local":
	case "openai", "deepseek", "gemini":
		if c.AIKey == "" {
			return fmt.Errorf("AI_API_KEY is required for %s", c.AIProvider)
		}
	default:
		return fmt.Errorf("unknown AI_PROVIDER %q", c.AIProvider)
	}
	if c.TelegramBotToken == "" {
		return fmt.Errorf("TELEGRAM_BOT_TOKEN is required")
	}
	if c.TelegramChatID == "" {
		return fmt.Errorf("TELEGRAM_CHAT_ID is required")
	}
	if c.TelegramWebhook && c.WebhookSecret == "" {
		return fmt.Errorf("TELEGRAM_WEBHOOK_SECRET is required when TELEGRAM_WEBHOOK is set")
	}
	if !c.IsLabel(c.TopPriorityLabel) {
		return fmt.Errorf("TOP_PRIORITY_LABEL %q is not in LABELS", c.TopPriorityLabel)
	}
	if !c.IsLabel(c.SpamLabel) {
		return fmt.Errorf("SPAM_LABEL %q is not in LABELS", c.SpamLabel)
	}
	if c.PollInterval <= 0 {
		return fmt.Errorf("POLL_INTERVAL_SECONDS must be positive")
	}
	if c.ClassifierRetries < 1 {
		return fmt.Errorf("CLASSIFIER_RETRIES must be at least 1")
	}
	return nil
}
