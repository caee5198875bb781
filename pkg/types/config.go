// Package types provides configuration types for the round engine.
package types

import "time"

// ServerConfig configures the HTTP/WebSocket command-dispatch shim.
type ServerConfig struct {
	Host           string        `json:"host"`
	Port           int           `json:"port"`
	WebSocketPath  string        `json:"websocketPath"`
	ReadTimeout    time.Duration `json:"readTimeout"`
	WriteTimeout   time.Duration `json:"writeTimeout"`
	MaxConnections int           `json:"maxConnections"`
	EnableMetrics  bool          `json:"enableMetrics"`
	MetricsPort    int           `json:"metricsPort"`
}

// StoreConfig configures the KV Store's external backend and failure policy.
type StoreConfig struct {
	ExternalURL      string `json:"externalUrl,omitempty"`
	ExternalHost     string `json:"externalHost,omitempty"`
	ExternalPort     int    `json:"externalPort,omitempty"`
	ExternalPassword string `json:"externalPassword,omitempty"`
	Permissive       bool   `json:"permissive"`
}

// LLMConfig configures the LLM Client's upstream, pacing, and fallback behavior.
type LLMConfig struct {
	APIKey          string        `json:"apiKey"`
	Model           string        `json:"model"`
	BaseURL         string        `json:"baseUrl,omitempty"`
	Temperature     float64       `json:"temperature"`
	MaxTokens       int           `json:"maxTokens"`
	MinInterval     time.Duration `json:"minInterval"`
	PostRequestWait time.Duration `json:"postRequestWait"`
	BackoffOn429    time.Duration `json:"backoffOn429"`
	CacheTTL        time.Duration `json:"cacheTtl"`
	CallTimeout     time.Duration `json:"callTimeout"`
}

// DefaultLLMConfig matches the spec's documented defaults.
func DefaultLLMConfig() LLMConfig {
	return LLMConfig{
		Model:           "llama-3.1-8b-instant",
		Temperature:     0.3,
		MaxTokens:       1024,
		MinInterval:     2 * time.Second,
		PostRequestWait: 1 * time.Second,
		BackoffOn429:    10 * time.Second,
		CacheTTL:        5 * time.Minute,
		CallTimeout:     20 * time.Second,
	}
}

// PriceFeedConfig configures the Price Feed's cache and fallback chain.
type PriceFeedConfig struct {
	Network        string        `json:"network"`
	CacheTTL       time.Duration `json:"cacheTtl"`
	DEXAggregatorURL string      `json:"dexAggregatorUrl,omitempty"`
	SpotEndpointURL  string      `json:"spotEndpointUrl,omitempty"`
	MinLiquidityUSD  float64     `json:"minLiquidityUsd"`
	CallTimeout      time.Duration `json:"callTimeout"`
	RequestsPerSecond float64    `json:"requestsPerSecond"`
}

// DefaultPriceFeedConfig matches the spec's documented defaults.
func DefaultPriceFeedConfig() PriceFeedConfig {
	return PriceFeedConfig{
		Network:           "base",
		CacheTTL:          30 * time.Second,
		MinLiquidityUSD:   1000,
		CallTimeout:       10 * time.Second,
		RequestsPerSecond: 5,
	}
}

// EngineConfig aggregates all configuration recognized by the core.
type EngineConfig struct {
	Store      StoreConfig     `json:"store"`
	LLM        LLMConfig       `json:"llm"`
	PriceFeed  PriceFeedConfig `json:"priceFeed"`
	Server     ServerConfig    `json:"server"`
	LogLevel   string          `json:"logLevel"`
}
