package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"regexp"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/ilyakaznacheev/cleanenv"
	"github.com/jinzhu/copier"
	"github.com/joho/godotenv"
	dbutils "github.com/tendant/db-utils/db"

	"github.com/tendant/simple-kms/pkg/auth"
	"github.com/tendant/simple-kms/pkg/keysource"
	"github.com/tendant/simple-kms/pkg/keystore"
	"github.com/tendant/simple-kms/pkg/kms"
)

type IdpConfig struct {
	WellKnownURLTemplate string        `env:"KMS_WELL_KNOWN_URL_TEMPLATE" env-default:"https://login.windows.net/{tenantid}/v2.0/.well-known/openid-configuration"`
	TenantIDs            []string      `env:"KMS_TENANT_IDS" env-separator:"," env-default:"common"`
	DiscoveryTenant      string        `env:"KMS_DISCOVERY_TENANT" env-default:"common"`
	AllowedAppIDs        []string      `env:"KMS_ALLOWED_APP_IDS" env-separator:"," env-default:"*"`
	AllowedAppIDRegex    string        `env:"KMS_ALLOWED_APP_ID_REGEX"`
	FetchTimeout         time.Duration `env:"KMS_IDP_TIMEOUT" env-default:"0s"`
	AuditInterval        time.Duration `env:"KMS_TOKEN_AUDIT_INTERVAL" env-default:"24h"`
}

type KmsDbConfig struct {
	Host     string `env:"KMS_PG_HOST" env-default:"localhost"`
	Port     uint16 `env:"KMS_PG_PORT" env-default:"5432"`
	Database string `env:"KMS_PG_DATABASE" env-default:"kms_db"`
	User     string `env:"KMS_PG_USER" env-default:"kms"`
	Password string `env:"KMS_PG_PASSWORD" env-default:"pwd"`
}

func (d KmsDbConfig) toDbConfig() dbutils.DbConfig {
	return dbutils.DbConfig{
		Host:     d.Host,
		Port:     d.Port,
		Database: d.Database,
		User:     d.User,
		Password: d.Password,
	}
}

type StoreConfig struct {
	Backend     string `env:"KMS_STORE_BACKEND" env-default:"memory"`
	Table       string `env:"KMS_STORE_TABLE" env-default:"key_records"`
	Partition   string `env:"KMS_STORE_PARTITION" env-default:"KeysPartition"`
	UserIDRegex string `env:"KMS_USER_ID_REGEX"`
}

type CorsConfig struct {
	AllowedOrigins []string `env:"KMS_CORS_ALLOWED_ORIGINS" env-separator:"," env-default:"*"`
	AllowedHeaders []string `env:"KMS_CORS_ALLOWED_HEADERS" env-separator:"," env-default:"Origin,X-Requested-With,Content-Type,Accept,Authorization"`
	AllowedMethods []string `env:"KMS_CORS_ALLOWED_METHODS" env-separator:"," env-default:"GET,PUT"`
}

type ServerConfig struct {
	Port     uint16 `env:"KMS_PORT" env-default:"3000"`
	LogLevel string `env:"KMS_LOG_LEVEL" env-default:"info"`
	// Go's TLS loader takes an unencrypted key; a passphrase-protected key
	// must be decrypted at deploy time before it is pointed to here.
	TLSCertPath string `env:"KMS_TLS_CERT_PATH"`
	TLSKeyPath  string `env:"KMS_TLS_KEY_PATH"`
}

type Config struct {
	IdpConfig    IdpConfig
	KmsDbConfig  KmsDbConfig
	StoreConfig  StoreConfig
	CorsConfig   CorsConfig
	ServerConfig ServerConfig
}

func main() {
	godotenv.Load()

	config := Config{}
	cleanenv.ReadEnv(&config)

	level := slog.LevelInfo
	if err := level.UnmarshalText([]byte(config.ServerConfig.LogLevel)); err != nil {
		level = slog.LevelInfo
	}
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
		Level: level,
	}))
	slog.SetDefault(logger)

	source := keysource.New(
		config.IdpConfig.TenantIDs,
		keysource.WithWellKnownURLTemplate(config.IdpConfig.WellKnownURLTemplate),
		keysource.WithDiscoveryTenant(config.IdpConfig.DiscoveryTenant),
		keysource.WithHTTPClient(&http.Client{Timeout: config.IdpConfig.FetchTimeout}),
	)

	verifierOpts := []auth.Option{
		auth.WithAllowedAppIDs(config.IdpConfig.AllowedAppIDs),
	}
	if config.IdpConfig.AllowedAppIDRegex != "" {
		pattern, err := regexp.Compile("^(?:" + config.IdpConfig.AllowedAppIDRegex + ")$")
		if err != nil {
			slog.Error("Failed to compile app id regex", "regex", config.IdpConfig.AllowedAppIDRegex, "err", err)
			os.Exit(-1)
		}
		verifierOpts = append(verifierOpts, auth.WithAppIDPattern(pattern))
	}
	verifier := auth.NewVerifier(source, verifierOpts...)

	var repo keystore.TableRepository
	switch config.StoreConfig.Backend {
	case "postgres":
		dbConfig := config.KmsDbConfig.toDbConfig()
		pool, err := dbutils.NewDbPool(context.Background(), dbConfig)
		if err != nil {
			slog.Error("Failed creating dbpool", "db", dbConfig.Database, "host", dbConfig.Host, "port", dbConfig.Port, "user", dbConfig.User)
			os.Exit(-1)
		}
		pgRepo, err := keystore.NewPostgresTableRepository(pool, config.StoreConfig.Table)
		if err != nil {
			slog.Error("Failed creating table repository", "table", config.StoreConfig.Table, "err", err)
			os.Exit(-1)
		}
		repo = pgRepo
	case "memory":
		repo = keystore.NewInMemoryTableRepository()
	default:
		slog.Error("Unknown store backend", "backend", config.StoreConfig.Backend)
		os.Exit(-1)
	}

	storeOpts := []keystore.StoreOption{}
	if config.StoreConfig.UserIDRegex != "" {
		pattern, err := regexp.Compile(config.StoreConfig.UserIDRegex)
		if err != nil {
			slog.Error("Failed to compile user id regex", "regex", config.StoreConfig.UserIDRegex, "err", err)
			os.Exit(-1)
		}
		storeOpts = append(storeOpts, keystore.WithUIDPattern(pattern))
	}
	store := keystore.New(repo, config.StoreConfig.Partition, storeOpts...)

	handler := kms.NewHandler(verifier, store)

	corsOptions := cors.Options{}
	copier.Copy(&corsOptions, &config.CorsConfig)

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(cors.Handler(corsOptions))
	handler.RegisterRoutes(r)

	// Pre-populate the discovery config and key cache as soon as possible
	// after startup. Failure is ignored; the next token validation retries.
	go func() {
		source.SigningKey(context.Background(), "prewarm")
	}()

	go verifier.StartAudit(context.Background(), config.IdpConfig.AuditInterval)

	addr := fmt.Sprintf(":%d", config.ServerConfig.Port)
	var err error
	if config.ServerConfig.TLSCertPath != "" && config.ServerConfig.TLSKeyPath != "" {
		slog.Info("Started server", "port", config.ServerConfig.Port, "tls", true)
		err = http.ListenAndServeTLS(addr, config.ServerConfig.TLSCertPath, config.ServerConfig.TLSKeyPath, r)
	} else {
		slog.Info("Started server", "port", config.ServerConfig.Port, "tls", false)
		err = http.ListenAndServe(addr, r)
	}
	if err != nil {
		slog.Error("Server stopped", "err", err)
		os.Exit(-1)
	}
}
