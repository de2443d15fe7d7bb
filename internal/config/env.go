package config

import (
	"errors"
	"io/fs"
	"os"

	"github.com/joho/godotenv"
)

// Environment variables that override secrets from the YAML file.
const (
	EnvTelegramToken  = "TELEGRAM_TOKEN"
	EnvTelegramChatID = "TELEGRAM_CHAT_ID"
	EnvTimescaleDSN   = "TIMESCALE_DSN"
	EnvFeedURL        = "FEED_URL"
)

// LoadEnv reads a .env file into the environment. Variables already set win
// and a missing file is ignored.
func LoadEnv(path string) error {
	if err := godotenv.Load(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return err
	}
	return nil
}

func applyEnv(cfg *Config) {
	override(&cfg.Telegram.Token, EnvTelegramToken)
	override(&cfg.Telegram.ChatID, EnvTelegramChatID)
	override(&cfg.Timescale.DSN, EnvTimescaleDSN)
	override(&cfg.Feed.URL, EnvFeedURL)
}

func override(field *string, key string) {
	if val, ok := os.LookupEnv(key); ok && val != "" {
		*field = val
	}
}
