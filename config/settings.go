package config

import (
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Settings holds the runtime configuration of the API and the CLI tools.
type Settings struct {
	ServerPort string
	GinMode    string

	DBDriver   string // mysql | sqlite
	DBHost     string
	DBPort     string
	DBDatabase string
	DBUsername string
	DBPassword string
	DBPath     string
	Debug      bool

	JWTSecret string

	StorageDriver   string // s3 | local
	StorageBucket   string
	StorageRegion   string
	StorageEndpoint string
	StorageBaseURL  string
	UploadPath      string

	UploadMaxFileSizeMB int
	UploadConcurrency   int

	CleanupMaxAttempts int
	CleanupInterval    time.Duration
	RoundCacheTTL      time.Duration

	CORSAllowedOrigins []string
}

// Conf is the viper instance backing Settings.
var Conf = newViper()

func newViper() *viper.Viper {
	v := viper.New()
	v.SetTypeByDefaultValue(true)

	v.SetDefault("server_port", "8080")
	v.SetDefault("gin_mode", "debug")
	v.SetDefault("environment", "development")

	v.SetDefault("db_driver", "mysql")
	v.SetDefault("db_host", "127.0.0.1")
	v.SetDefault("db_port", "3306")
	v.SetDefault("db_database", "nextcompete")
	v.SetDefault("db_username", "root")
	v.SetDefault("db_password", "")
	v.SetDefault("db_path", "nextcompete.db")
	v.SetDefault("debug_sql", false)

	v.SetDefault("jwt_secret", "")

	v.SetDefault("storage_driver", "local")
	v.SetDefault("storage_bucket", "")
	v.SetDefault("storage_region", "ap-southeast-1")
	v.SetDefault("storage_endpoint", "")
	v.SetDefault("storage_base_url", "")
	v.SetDefault("upload_path", "./uploads")

	v.SetDefault("upload_max_file_size_mb", 10)
	v.SetDefault("upload_concurrency", 4)

	v.SetDefault("cleanup_max_attempts", 5)
	v.SetDefault("cleanup_interval", time.Minute)
	v.SetDefault("round_cache_ttl", time.Minute)

	v.SetDefault("cors_allowed_origins", "http://localhost:3000")

	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	return v
}

// LoadSettings reads the current settings. Call it after the .env file has been loaded.
func LoadSettings() Settings {
	v := Conf
	s := Settings{
		ServerPort: v.GetString("server_port"),
		GinMode:    v.GetString("gin_mode"),

		DBDriver:   strings.ToLower(v.GetString("db_driver")),
		DBHost:     v.GetString("db_host"),
		DBPort:     v.GetString("db_port"),
		DBDatabase: v.GetString("db_database"),
		DBUsername: v.GetString("db_username"),
		DBPassword: v.GetString("db_password"),
		DBPath:     v.GetString("db_path"),

		JWTSecret: v.GetString("jwt_secret"),

		StorageDriver:   strings.ToLower(v.GetString("storage_driver")),
		StorageBucket:   v.GetString("storage_bucket"),
		StorageRegion:   v.GetString("storage_region"),
		StorageEndpoint: v.GetString("storage_endpoint"),
		StorageBaseURL:  v.GetString("storage_base_url"),
		UploadPath:      v.GetString("upload_path"),

		UploadMaxFileSizeMB: v.GetInt("upload_max_file_size_mb"),
		UploadConcurrency:   v.GetInt("upload_concurrency"),

		CleanupMaxAttempts: v.GetInt("cleanup_max_attempts"),
		CleanupInterval:    v.GetDuration("cleanup_interval"),
		RoundCacheTTL:      v.GetDuration("round_cache_ttl"),
	}

	// In production SQL logging stays off unless DEBUG_SQL=true.
	s.Debug = v.GetBool("debug_sql") || !strings.EqualFold(v.GetString("environment"), "production")

	for _, origin := range strings.Split(v.GetString("cors_allowed_origins"), ",") {
		if origin = strings.TrimSpace(origin); origin != "" {
			s.CORSAllowedOrigins = append(s.CORSAllowedOrigins, origin)
		}
	}

	if s.UploadMaxFileSizeMB <= 0 {
		s.UploadMaxFileSizeMB = 10
	}
	if s.UploadConcurrency <= 0 {
		s.UploadConcurrency = 1
	}
	if s.CleanupMaxAttempts <= 0 {
		s.CleanupMaxAttempts = 5
	}
	return s
}

// IsRelease reports whether gin runs in release mode.
func (s Settings) IsRelease() bool {
	return s.GinMode == "release"
}
