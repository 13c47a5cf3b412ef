package config

import (
	"strings"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
)

// Config enthält alle Konfigurationsparameter aus Umgebungsvariablen.
type Config struct {
	HTTPPort string `envconfig:"HTTP_PORT" default:"4242"`

	// Bearer-Token für die Admin-Endpunkte
	AdminToken string `envconfig:"ADMIN_TOKEN" required:"true"`

	// Remote-Objekt-API (Contents-API mit Revisions-Tags)
	StoreAPIURL     string `envconfig:"STORE_API_URL" required:"true"`
	StoreToken      string `envconfig:"STORE_TOKEN" required:"true"`
	StoreBranch     string `envconfig:"STORE_BRANCH" default:"main"`
	StoreMaxRetries int    `envconfig:"STORE_MAX_RETRIES" default:"3"`

	// Pfad-Layout im Store
	IndexPath     string `envconfig:"INDEX_PATH" default:"data/blog-index.json"`
	PostsFolder   string `envconfig:"POSTS_FOLDER" default:"blog/posts"`
	UploadsFolder string `envconfig:"UPLOADS_FOLDER" default:"images/uploads"`

	// Basis-URL, unter der hochgeladene Assets öffentlich erreichbar sind
	PublicBaseURL string `envconfig:"PUBLIC_BASE_URL" required:"true"`

	MetricsCronSchedule string `envconfig:"METRICS_CRON_SCHEDULE" default:"*/15 * * * *"`
}

// StoreBaseURL gibt die API-URL ohne abschließenden Slash zurück.
func (c *Config) StoreBaseURL() string {
	return strings.TrimRight(c.StoreAPIURL, "/")
}

// Load lädt die Konfiguration aus den Umgebungsvariablen.
func Load() (*Config, error) {
	_ = godotenv.Load()
	var c Config
	err := envconfig.Process("", &c)
	return &c, err
}
