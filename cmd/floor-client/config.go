package main

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/mitchellh/mapstructure"
	"github.com/spf13/viper"

	"ms-restaurant/internal/session"
)

type clientConfig struct {
	URL         string        `mapstructure:"url"`
	Credentials string        `mapstructure:"credentials"`
	UserID      string        `mapstructure:"user"`
	Role        string        `mapstructure:"role"`
	Token       string        `mapstructure:"token"`
	Events      []string      `mapstructure:"events"`
	AuthTimeout time.Duration `mapstructure:"auth-timeout"`

	ReconnectBase time.Duration `mapstructure:"reconnect-base"`
	ReconnectCap  time.Duration `mapstructure:"reconnect-cap"`
	MaxAttempts   int           `mapstructure:"max-attempts"`
	NotifyAfter   int           `mapstructure:"notify-after"`
}

func (c clientConfig) policy() session.Policy {
	return session.Policy{
		Base:        c.ReconnectBase,
		Cap:         c.ReconnectCap,
		MaxAttempts: c.MaxAttempts,
		NotifyAfter: c.NotifyAfter,
	}
}

func defaultCredentialsPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".floor-client.json"
	}
	return filepath.Join(home, ".floor-client", "credentials.json")
}

func initConfig() {
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		viper.AddConfigPath(".")
		viper.SetConfigType("yaml")
		viper.SetConfigName(".floor-client")
	}

	viper.SetEnvPrefix("FLOOR")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()

	if err := viper.ReadInConfig(); err == nil {
		fmt.Fprintln(os.Stderr, "Using config file:", viper.ConfigFileUsed())
	}
}

func loadConfig() (*clientConfig, error) {
	var cfg clientConfig
	opt := viper.DecoderConfigOption(func(dc *mapstructure.DecoderConfig) {
		dc.DecodeHook = mapstructure.ComposeDecodeHookFunc(
			dc.DecodeHook,
			mapstructure.StringToSliceHookFunc(","),
		)
	})
	if err := viper.Unmarshal(&cfg, opt); err != nil {
		return nil, fmt.Errorf("unable to decode config: %w", err)
	}
	return &cfg, nil
}
