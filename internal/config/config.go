package config

import (
	"log"
	"strings"

	"github.com/spf13/viper"
)

type Config struct {
	Server struct {
		Port     int    `mapstructure:"port"`
		APIToken string `mapstructure:"api_token"`
	} `mapstructure:"server"`
	Database struct {
		Path string `mapstructure:"path"`
	} `mapstructure:"database"`
	Storage struct {
		LocalDir string `mapstructure:"local_dir"`
		OSS      struct {
			Enabled         bool   `mapstructure:"enabled"`
			Endpoint        string `mapstructure:"endpoint"`
			AccessKeyID     string `mapstructure:"access_key_id"`
			AccessKeySecret string `mapstructure:"access_key_secret"`
			BucketName      string `mapstructure:"bucket_name"`
			Domain          string `mapstructure:"domain"`
		} `mapstructure:"oss"`
	} `mapstructure:"storage"`
	Providers map[string]struct {
		APIKey         string `mapstructure:"api_key"`
		APIBase        string `mapstructure:"api_base"`
		Enabled        bool   `mapstructure:"enabled"`
		TimeoutSeconds int    `mapstructure:"timeout_seconds"`
	} `mapstructure:"providers"`
	Trial struct {
		Provider         string `mapstructure:"provider"`          // 匿名试用走哪个 Provider（服务端持有该 Key）
		RateLimitPerHour int    `mapstructure:"rate_limit_per_hour"`
		DemoSeed         int64  `mapstructure:"demo_seed"`
	} `mapstructure:"trial"`
	Species struct {
		RemoteURL           string `mapstructure:"remote_url"`
		FetchTimeoutSeconds int    `mapstructure:"fetch_timeout_seconds"`
	} `mapstructure:"species"`
	Worker struct {
		Count     int `mapstructure:"count"`
		QueueSize int `mapstructure:"queue_size"`
	} `mapstructure:"worker"`
}

var GlobalConfig Config

func InitConfig() {
	viper.SetConfigName("config")
	viper.SetConfigType("yaml")
	viper.AddConfigPath("configs")
	viper.AddConfigPath(".")

	// 设置默认值
	viper.SetDefault("database.path", "data.db")
	viper.SetDefault("storage.local_dir", "storage")
	viper.SetDefault("server.port", 8080)
	viper.SetDefault("trial.provider", "huggingface")
	viper.SetDefault("trial.rate_limit_per_hour", 5)
	viper.SetDefault("trial.demo_seed", 42)
	viper.SetDefault("species.fetch_timeout_seconds", 4)
	viper.SetDefault("worker.count", 4)
	viper.SetDefault("worker.queue_size", 100)

	// 支持环境变量
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	if err := viper.ReadInConfig(); err != nil {
		log.Printf("未找到配置文件，将使用环境变量或默认值: %v", err)
	}

	if err := viper.Unmarshal(&GlobalConfig); err != nil {
		log.Fatalf("解析配置失败: %v", err)
	}
}
