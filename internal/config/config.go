package config

import (
	"errors"
	"fmt"
	"log"
	"net/url"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/ilyakaznacheev/cleanenv"
	"github.com/joho/godotenv"
)

const (
	StoragePostgres = "postgres"
	StorageMongo    = "mongo"
	StorageMemory   = "memory"

	QueueRedis  = "redis"
	QueueMemory = "memory"
)

type Config struct {
	Env      string `yaml:"env" env:"ENV" env-default:"local"`
	Telegram struct {
		ApiKey  string `yaml:"api_key" env:"TELEGRAM_API_KEY" env-default:""`
		AdminId int64  `yaml:"admin_id" env:"TELEGRAM_ADMIN_ID" env-default:"0"`
		BotName string `yaml:"bot_name" env-default:"Emme7AlertBot"`
		Enabled bool   `yaml:"enabled" env:"TELEGRAM_ENABLED" env-default:"false"`
	} `yaml:"telegram"`
	OpenAI struct {
		ApiKey          string `yaml:"api_key" env:"OPENAI_API_KEY" env-default:""`
		Model           string `yaml:"model" env:"OPENAI_MODEL" env-default:"gpt-4o-mini"`
		TranscribeAudio bool   `yaml:"transcribe_audio" env-default:"true"`
	} `yaml:"openai"`
	Agent struct {
		PromptFile    string        `yaml:"prompt_file" env:"AGENT_PROMPT_FILE" env-default:"prompts/sales_prompt.toml"`
		Timezone      string        `yaml:"timezone" env-default:"America/Sao_Paulo"`
		HistoryLimit  int           `yaml:"history_limit" env-default:"10"`
		HumanCooldown time.Duration `yaml:"human_cooldown" env:"HUMAN_COOLDOWN" env-default:"5m"`
		EchoWindow    time.Duration `yaml:"echo_window" env-default:"20s"`
		ToolRounds    int           `yaml:"tool_rounds" env-default:"2"`
	} `yaml:"agent"`
	Evolution struct {
		BaseURL         string            `yaml:"base_url" env:"EVOLUTION_API_URL" env-default:""`
		ApiKey          string            `yaml:"api_key" env:"EVOLUTION_API_KEY" env-default:""`
		Instance        string            `yaml:"instance" env:"EVOLUTION_INSTANCE_NAME" env-default:""`
		WebhookKey      string            `yaml:"webhook_key" env:"EVOLUTION_WEBHOOK_KEY" env-default:""`
		Timeout         time.Duration     `yaml:"timeout" env-default:"60s"`
		RatePerSecond   float64           `yaml:"rate_per_second" env-default:"5"`
		SessionPhoneMap map[string]string `yaml:"session_phone_map" env:"EVOLUTION_SESSION_PHONE_MAP"`
		DefaultPhone    string            `yaml:"default_store_phone" env:"EVOLUTION_DEFAULT_STORE_PHONE" env-default:""`
	} `yaml:"evolution"`
	Store struct {
		Name              string `yaml:"name" env:"STORE_NAME" env-default:"Loja de Móveis"`
		ForwardNumber     string `yaml:"info_forward_number" env:"STORE_INFO_FORWARD_NUMBER" env-default:""`
		ResponsibleNumber string `yaml:"responsible_number" env:"STORE_RESPONSIBLE_NUMBER" env-default:""`
		Contacts          string `yaml:"contacts" env:"STORE_CONTACT_ROUTING" env-default:""`
	} `yaml:"store"`
	Lead struct {
		RequiredFields []string `yaml:"required_fields" env:"LEAD_REQUIRED_FIELDS" env-separator:"," env-default:"name,phone,product_interest,city,budget_range"`
	} `yaml:"lead"`
	Storage struct {
		Driver string `yaml:"driver" env:"STORAGE_DRIVER" env-default:"postgres"`
	} `yaml:"storage"`
	Postgres struct {
		URL      string `yaml:"url" env:"DATABASE_URL" env-default:""`
		Host     string `yaml:"host" env-default:"127.0.0.1"`
		Port     string `yaml:"port" env-default:"5432"`
		User     string `yaml:"user" env-default:"postgres"`
		Password string `yaml:"password" env:"POSTGRES_PASSWORD" env-default:""`
		Database string `yaml:"database" env-default:"emme7"`
		SSLMode  string `yaml:"sslmode" env-default:"disable"`
		MaxConns int32  `yaml:"max_conns" env-default:"10"`
	} `yaml:"postgres"`
	Mongo struct {
		Host     string `yaml:"host" env-default:"127.0.0.1"`
		Port     string `yaml:"port" env-default:"27017"`
		User     string `yaml:"user" env-default:""`
		Password string `yaml:"password" env:"MONGO_PASSWORD" env-default:""`
		Database string `yaml:"database" env-default:"emme7"`
	} `yaml:"mongo"`
	Queue struct {
		Driver        string `yaml:"driver" env:"QUEUE_DRIVER" env-default:"redis"`
		RedisURL      string `yaml:"redis_url" env:"REDIS_URL" env-default:"redis://127.0.0.1:6379/0"`
		Key           string `yaml:"key" env-default:"webhook"`
		DeadLetterKey string `yaml:"dead_letter_key" env-default:"webhook:dead"`
		LockKey       string `yaml:"lock_key" env-default:"webhook:consumer"`
	} `yaml:"queue"`
	Consumer struct {
		BackendURL   string        `yaml:"backend_url" env:"BACKEND_URL" env-default:"http://127.0.0.1:9100"`
		PollInterval time.Duration `yaml:"poll_interval" env-default:"2s"`
		SettleTime   time.Duration `yaml:"settle_time" env:"CONSUMER_SETTLE_TIME" env-default:"10s"`
		Workers      int           `yaml:"workers" env-default:"10"`
		MaxAttempts  int           `yaml:"max_attempts" env-default:"3"`
		Timeout      time.Duration `yaml:"timeout" env-default:"120s"`
	} `yaml:"consumer"`
	Sheets struct {
		Enabled         bool   `yaml:"enabled" env:"SHEETS_ENABLED" env-default:"false"`
		CredentialsFile string `yaml:"credentials_file" env:"GOOGLE_APPLICATION_CREDENTIALS" env-default:""`
		SpreadsheetID   string `yaml:"spreadsheet_id" env:"SHEETS_SPREADSHEET_ID" env-default:""`
		Range           string `yaml:"range" env-default:"Leads!A:K"`
	} `yaml:"sheets"`
	Prices struct {
		Enabled     bool          `yaml:"enabled" env:"PRICE_SEARCH_ENABLED" env-default:"false"`
		BaseURL     string        `yaml:"mercadolivre_url" env-default:"https://api.mercadolibre.com"`
		SiteID      string        `yaml:"site_id" env-default:"MLB"`
		AccessToken string        `yaml:"access_token" env:"MERCADOLIVRE_ACCESS_TOKEN" env-default:""`
		Timeout     time.Duration `yaml:"timeout" env-default:"15s"`
	} `yaml:"prices"`
	Listen struct {
		BindIP string `yaml:"bind_ip" env-default:"127.0.0.1"`
		Port   string `yaml:"port" env:"PORT" env-default:"9100"`
		ApiKey string `yaml:"key" env:"API_KEY" env-default:""`
	} `yaml:"listen"`
}

var instance *Config
var once sync.Once

// MustLoad reads the configuration once per process and exits on failure.
func MustLoad(path string) *Config {
	once.Do(func() {
		conf, err := Load(path)
		if err != nil {
			log.Fatal(err)
		}
		instance = conf
	})
	return instance
}

// Load reads an optional .env file, then the YAML file at path with
// environment overrides. A missing YAML file leaves env and defaults only.
func Load(path string) (*Config, error) {
	_ = godotenv.Load()

	conf := &Config{}
	var err error
	if _, statErr := os.Stat(path); statErr == nil {
		err = cleanenv.ReadConfig(path, conf)
	} else {
		err = cleanenv.ReadEnv(conf)
	}
	if err != nil {
		desc, _ := cleanenv.GetDescription(conf, nil)
		return nil, fmt.Errorf("%s; %s", err, desc)
	}
	if err = conf.Validate(); err != nil {
		return nil, err
	}
	return conf, nil
}

var leadFieldNames = map[string]bool{
	"name":                   true,
	"phone":                  true,
	"email":                  true,
	"city":                   true,
	"product_interest":       true,
	"budget_range":           true,
	"preferred_contact_time": true,
	"notes":                  true,
}

func (c *Config) Validate() error {
	var errs []error
	switch c.Storage.Driver {
	case StoragePostgres, StorageMongo, StorageMemory:
	default:
		errs = append(errs, fmt.Errorf("storage.driver: unknown %q", c.Storage.Driver))
	}
	switch c.Queue.Driver {
	case QueueRedis, QueueMemory:
	default:
		errs = append(errs, fmt.Errorf("queue.driver: unknown %q", c.Queue.Driver))
	}
	for i, f := range c.Lead.RequiredFields {
		f = strings.TrimSpace(f)
		c.Lead.RequiredFields[i] = f
		if !leadFieldNames[f] {
			errs = append(errs, fmt.Errorf("lead.required_fields: unknown field %q", f))
		}
	}
	if c.Consumer.Workers < 1 {
		errs = append(errs, fmt.Errorf("consumer.workers must be positive"))
	}
	if c.Consumer.MaxAttempts < 1 {
		errs = append(errs, fmt.Errorf("consumer.max_attempts must be positive"))
	}
	if c.Agent.ToolRounds < 1 {
		errs = append(errs, fmt.Errorf("agent.tool_rounds must be positive"))
	}
	if c.Agent.HistoryLimit < 0 {
		errs = append(errs, fmt.Errorf("agent.history_limit must not be negative"))
	}
	// the consumer authenticates to the batch endpoint with this key
	if strings.TrimSpace(c.Listen.ApiKey) == "" {
		errs = append(errs, fmt.Errorf("listen.key (API_KEY) is required"))
	}
	return errors.Join(errs...)
}

// PostgresDSN returns the configured URL or builds one from its parts.
func (c *Config) PostgresDSN() string {
	if c.Postgres.URL != "" {
		return c.Postgres.URL
	}
	u := url.URL{
		Scheme:   "postgres",
		User:     url.UserPassword(c.Postgres.User, c.Postgres.Password),
		Host:     c.Postgres.Host + ":" + c.Postgres.Port,
		Path:     c.Postgres.Database,
		RawQuery: "sslmode=" + c.Postgres.SSLMode,
	}
	return u.String()
}
