package config

import (
	"os"
	"strconv"
	"time"
)

type Config struct {
	Port               string
	Env                string
	JWTSecret          string
	ChatAPIBaseURL     string
	MusicAPIBaseURL    string
	BotUserID          string
	BotUsername        string
	CommandPrefix      string
	SaveConfirmTimeout time.Duration
	MusicLookupTimeout time.Duration
	GameFinishDelay    time.Duration
}

func getenv(key, def string) string {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	return v
}

func getenvMillis(key string, def int) time.Duration {
	n, err := strconv.Atoi(getenv(key, strconv.Itoa(def)))
	if err != nil || n <= 0 {
		n = def
	}
	return time.Duration(n) * time.Millisecond
}

func Load() Config {
	return Config{
		Port:               getenv("APP_PORT", "8080"),
		Env:                getenv("APP_ENV", "dev"),
		JWTSecret:          getenv("JWT_SECRET", "dev-secret-change-me"),
		ChatAPIBaseURL:     getenv("CHAT_API_BASE_URL", "http://localhost:8000"),
		MusicAPIBaseURL:    getenv("MUSIC_API_BASE_URL", "https://itunes.apple.com"),
		BotUserID:          getenv("BOT_USER_ID", "titibot"),
		BotUsername:        getenv("BOT_USERNAME", "titibot"),
		CommandPrefix:      getenv("BOT_COMMAND_PREFIX", "/titibot"),
		SaveConfirmTimeout: getenvMillis("SAVE_CONFIRM_TIMEOUT_MS", 3000),
		MusicLookupTimeout: getenvMillis("MUSIC_LOOKUP_TIMEOUT_MS", 5000),
		GameFinishDelay:    getenvMillis("GAME_FINISH_DELAY_MS", 600),
	}
}
