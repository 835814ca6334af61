package config

import (
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Server struct {
		Port string `yaml:"port"`
	} `yaml:"server"`
	Postgres struct {
		URL string `yaml:"url"`
	} `yaml:"postgres"`
	Redis struct {
		Addr     string `yaml:"addr"`
		Password string `yaml:"password"`
		DB       int    `yaml:"db"`
	} `yaml:"redis"`
	Auth struct {
		Secret   string `yaml:"secret"`
		TokenTTL string `yaml:"token_ttl"`
	} `yaml:"auth"`
	Competition struct {
		Round1PassPercent int      `yaml:"round1_pass_percent"`
		Round2PassScore   int      `yaml:"round2_pass_score"`
		QualifierCap      int      `yaml:"qualifier_cap"`
		Languages         []string `yaml:"languages"`
	} `yaml:"competition"`
	Questions struct {
		Dir string `yaml:"dir"`
	} `yaml:"questions"`
	Leaderboard struct {
		CacheTTL string `yaml:"cache_ttl"`
	} `yaml:"leaderboard"`
	Admin struct {
		EnrollmentNo string `yaml:"enrollment_no"`
		Username     string `yaml:"username"`
		Password     string `yaml:"password"`
	} `yaml:"admin"`
}

// Load reads YAML config from path.
func Load(path string) (Config, error) {
	cfg := Config{}
	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, err
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// Round1Languages returns the configured Round 1 language banks, defaulting
// to python and c.
func (c Config) Round1Languages() []string {
	if len(c.Competition.Languages) == 0 {
		return []string{"python", "c"}
	}
	return c.Competition.Languages
}

// TTLDuration parses a duration string or returns the fallback if empty or
// malformed.
func TTLDuration(raw string, fallback time.Duration) time.Duration {
	if raw == "" {
		return fallback
	}
	if d, err := time.ParseDuration(raw); err == nil {
		return d
	}
	return fallback
}
