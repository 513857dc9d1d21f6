package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/viper"
)

// LoadWithSecrets loads configuration with an optional separate secrets
// file. Precedence: ENV > secrets file > config file > defaults.
//
// The secrets file keeps credentials (authority token, SMTP password,
// webhook secret, database URLs) out of the main config file. It is
// discovered automatically:
//   - <ENV_PREFIX>_SECRETS_FILE when set
//   - secrets.<ext> next to the config file
//   - secrets.yaml (or .yml/.json/.toml) in the working directory
func (l *ViperLoader) LoadWithSecrets() (*Config, error) {
	v := viper.New()
	l.setDefaults(v, DefaultConfig())

	if l.configFile != "" {
		v.SetConfigFile(l.configFile)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", l.configFile, err)
		}
	}

	secretsFile, err := l.discoverSecretsFile()
	if err != nil {
		return nil, err
	}
	if secretsFile != "" {
		secretsViper := viper.New()
		secretsViper.SetConfigFile(secretsFile)
		if err := secretsViper.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read secrets file %s: %w", secretsFile, err)
		}
		if err := v.MergeConfigMap(secretsViper.AllSettings()); err != nil {
			return nil, fmt.Errorf("failed to merge secrets: %w", err)
		}
	}

	v.SetEnvPrefix(l.envPrefix)
	l.bindEnvVars(v)

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := l.Validate(&cfg); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}
	return &cfg, nil
}

func (l *ViperLoader) discoverSecretsFile() (string, error) {
	secretsEnv := l.prefixedEnv("secrets_file")
	if rawSecretsFile, ok := os.LookupEnv(secretsEnv); ok {
		secretsFile := strings.TrimSpace(rawSecretsFile)
		if secretsFile == "" {
			return "", fmt.Errorf("%s is set but empty", secretsEnv)
		}
		info, err := os.Stat(secretsFile)
		if err != nil {
			return "", fmt.Errorf("%s points to an inaccessible file %s: %w", secretsEnv, secretsFile, err)
		}
		if info.IsDir() {
			return "", fmt.Errorf("%s must point to a file, got directory %s", secretsEnv, secretsFile)
		}
		return secretsFile, nil
	}

	if l.configFile != "" {
		dir := filepath.Dir(l.configFile)
		ext := filepath.Ext(l.configFile)
		secretsFile := filepath.Join(dir, "secrets"+ext)
		if info, err := os.Stat(secretsFile); err == nil && !info.IsDir() {
			return secretsFile, nil
		}
	}

	for _, ext := range []string{".yaml", ".yml", ".json", ".toml"} {
		secretsFile := "secrets" + ext
		if info, err := os.Stat(secretsFile); err == nil && !info.IsDir() {
			return secretsFile, nil
		}
	}

	return "", nil
}
