package cratesync

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

const DefaultApiUrl = "https://api.cratedig.app"
const DefaultRealtimeUrl = "wss://realtime.cratedig.app"

type ClientConfig struct {
	ApiUrl      string `yaml:"api_url,omitempty"`
	RealtimeUrl string `yaml:"realtime_url,omitempty"`
	PageSize    int    `yaml:"page_size,omitempty"`
	// path of the local snapshot cache. empty disables the cache
	CachePath string `yaml:"cache_path,omitempty"`
}

func DefaultClientConfig() *ClientConfig {
	return &ClientConfig{
		ApiUrl:      DefaultApiUrl,
		RealtimeUrl: DefaultRealtimeUrl,
		PageSize:    DefaultPaginatedListSettings().PageSize,
	}
}

// loads a yaml client config, filling unset fields with defaults
func LoadClientConfig(path string) (*ClientConfig, error) {
	configBytes, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	return ParseClientConfig(configBytes)
}

func ParseClientConfig(configBytes []byte) (*ClientConfig, error) {
	config := &ClientConfig{}
	if err := yaml.Unmarshal(configBytes, config); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	defaults := DefaultClientConfig()
	if config.ApiUrl == "" {
		config.ApiUrl = defaults.ApiUrl
	}
	if config.RealtimeUrl == "" {
		config.RealtimeUrl = defaults.RealtimeUrl
	}
	if config.PageSize <= 0 {
		config.PageSize = defaults.PageSize
	}
	return config, nil
}

func (self *ClientConfig) ListSettings() *PaginatedListSettings {
	return &PaginatedListSettings{
		PageSize: self.PageSize,
	}
}
