package cli

import (
	"fmt"
	"strings"

	"github.com/joho/godotenv"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// Settings are resolved from, highest first: explicit flags, FACTORYLINE_*
// environment variables, factoryctl.yaml, flag defaults.
type Settings struct {
	ConfigsDir string `mapstructure:"configs_dir"`
	Layout     string `mapstructure:"layout"`
	IndexDB    string `mapstructure:"index_db"`
}

var settingFlags = map[string]string{
	"configs_dir": "configs-dir",
	"layout":      "layout",
	"index_db":    "index-db",
}

func LoadSettings(configPath string, flags *pflag.FlagSet) (Settings, error) {
	// Load .env file if it exists (doesn't error if missing)
	_ = godotenv.Load()

	v := viper.New()
	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName("factoryctl")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("./configs")
	}

	v.SetEnvPrefix("FACTORYLINE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()

	for key, name := range settingFlags {
		if f := flags.Lookup(name); f != nil {
			if err := v.BindPFlag(key, f); err != nil {
				return Settings{}, err
			}
		}
	}

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return Settings{}, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	var s Settings
	if err := v.Unmarshal(&s); err != nil {
		return Settings{}, fmt.Errorf("failed to unmarshal settings: %w", err)
	}
	if s.ConfigsDir == "" {
		s.ConfigsDir = "configs"
	}
	return s, nil
}
