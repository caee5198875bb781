// Package config loads the engine's configuration with spf13/viper, layering
// flags over environment variables over an optional config file over
// defaults, the way the reference backend's cmd/server/main.go composes
// flag.* + getEnvOrDefault but generalized to a full viper.Viper instance.
package config

import (
	"strings"
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/tradingarena/engine/pkg/types"
)

const envPrefix = "ARENA"

// Load binds the flags the caller has already registered on fs, together
// with ARENA_*-prefixed environment variables and an optional config file,
// and returns the composed EngineConfig. Load registers no flags itself; the
// caller registers and parses fs (pflag.CommandLine or a dedicated
// pflag.FlagSet) before Load runs.
func Load(fs *pflag.FlagSet, configFile string) (types.EngineConfig, error) {
	v := viper.New()
	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	if configFile != "" {
		v.SetConfigFile(configFile)
		if err := v.ReadInConfig(); err != nil {
			if _, notFound := err.(viper.ConfigFileNotFoundError); !notFound {
				return types.EngineConfig{}, err
			}
		}
	}

	v.SetDefault("host", "localhost")
	v.SetDefault("port", 8080)
	v.SetDefault("log-level", "info")
	v.SetDefault("llm-model", "llama-3.1-8b-instant")
	v.SetDefault("llm-min-interval-ms", 2000)
	v.SetDefault("llm-backoff-ms", 10000)
	v.SetDefault("price-cache-ttl-ms", 30000)
	v.SetDefault("network", "base")

	if fs != nil {
		if err := v.BindPFlags(fs); err != nil {
			return types.EngineConfig{}, err
		}
	}

	llm := types.DefaultLLMConfig()
	llm.APIKey = v.GetString("llm-api-key")
	llm.Model = v.GetString("llm-model")
	llm.MinInterval = time.Duration(v.GetInt("llm-min-interval-ms")) * time.Millisecond
	llm.BackoffOn429 = time.Duration(v.GetInt("llm-backoff-ms")) * time.Millisecond

	priceFeed := types.DefaultPriceFeedConfig()
	priceFeed.Network = v.GetString("network")
	priceFeed.CacheTTL = time.Duration(v.GetInt("price-cache-ttl-ms")) * time.Millisecond

	store := types.StoreConfig{
		ExternalURL:      v.GetString("external-store-url"),
		ExternalHost:     v.GetString("external-store-host"),
		ExternalPort:     v.GetInt("external-store-port"),
		ExternalPassword: v.GetString("external-store-password"),
		Permissive:       v.GetBool("store-permissive"),
	}

	server := types.ServerConfig{
		Host:           v.GetString("host"),
		Port:           v.GetInt("port"),
		WebSocketPath:  "/ws",
		ReadTimeout:    30 * time.Second,
		WriteTimeout:   30 * time.Second,
		MaxConnections: 100,
		EnableMetrics:  true,
		MetricsPort:    v.GetInt("metrics-port"),
	}

	return types.EngineConfig{
		Store:     store,
		LLM:       llm,
		PriceFeed: priceFeed,
		Server:    server,
		LogLevel:  v.GetString("log-level"),
	}, nil
}
