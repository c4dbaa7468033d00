package config

import (
	"os"
	"testing"
	"time"
)

func TestLoad_Defaults(t *testing.T) {
	os.Unsetenv("APP_PORT")
	os.Unsetenv("APP_ENV")
	os.Unsetenv("JWT_SECRET")
	os.Unsetenv("BOT_COMMAND_PREFIX")
	os.Unsetenv("SAVE_CONFIRM_TIMEOUT_MS")
	os.Unsetenv("MUSIC_LOOKUP_TIMEOUT_MS")

	cfg := Load()

	if cfg.Port != "8080" {
		t.Errorf("Load() Port = %v, want 8080", cfg.Port)
	}
	if cfg.Env != "dev" {
		t.Errorf("Load() Env = %v, want dev", cfg.Env)
	}
	if cfg.CommandPrefix != "/titibot" {
		t.Errorf("Load() CommandPrefix = %v, want /titibot", cfg.CommandPrefix)
	}
	if cfg.SaveConfirmTimeout != 3*time.Second {
		t.Errorf("Load() SaveConfirmTimeout = %v, want 3s", cfg.SaveConfirmTimeout)
	}
	if cfg.MusicLookupTimeout != 5*time.Second {
		t.Errorf("Load() MusicLookupTimeout = %v, want 5s", cfg.MusicLookupTimeout)
	}
	if cfg.GameFinishDelay != 600*time.Millisecond {
		t.Errorf("Load() GameFinishDelay = %v, want 600ms", cfg.GameFinishDelay)
	}
}

func TestLoad_FromEnv(t *testing.T) {
	os.Setenv("APP_PORT", "9090")
	os.Setenv("APP_ENV", "prod")
	os.Setenv("JWT_SECRET", "my-secret")
	os.Setenv("CHAT_API_BASE_URL", "http://chat:8000")
	os.Setenv("BOT_USERNAME", "misbot")
	os.Setenv("SAVE_CONFIRM_TIMEOUT_MS", "1500")
	defer func() {
		os.Unsetenv("APP_PORT")
		os.Unsetenv("APP_ENV")
		os.Unsetenv("JWT_SECRET")
		os.Unsetenv("CHAT_API_BASE_URL")
		os.Unsetenv("BOT_USERNAME")
		os.Unsetenv("SAVE_CONFIRM_TIMEOUT_MS")
	}()

	cfg := Load()

	if cfg.Port != "9090" {
		t.Errorf("Load() Port = %v, want 9090", cfg.Port)
	}
	if cfg.Env != "prod" {
		t.Errorf("Load() Env = %v, want prod", cfg.Env)
	}
	if cfg.JWTSecret != "my-secret" {
		t.Errorf("Load() JWTSecret = %v, want my-secret", cfg.JWTSecret)
	}
	if cfg.ChatAPIBaseURL != "http://chat:8000" {
		t.Errorf("Load() ChatAPIBaseURL = %v, want http://chat:8000", cfg.ChatAPIBaseURL)
	}
	if cfg.BotUsername != "misbot" {
		t.Errorf("Load() BotUsername = %v, want misbot", cfg.BotUsername)
	}
	if cfg.SaveConfirmTimeout != 1500*time.Millisecond {
		t.Errorf("Load() SaveConfirmTimeout = %v, want 1.5s", cfg.SaveConfirmTimeout)
	}
}

func TestLoad_BadTimeoutFallsBack(t *testing.T) {
	os.Setenv("MUSIC_LOOKUP_TIMEOUT_MS", "not-a-number")
	defer os.Unsetenv("MUSIC_LOOKUP_TIMEOUT_MS")

	cfg := Load()
	if cfg.MusicLookupTimeout != 5*time.Second {
		t.Errorf("Load() MusicLookupTimeout = %v, want default 5s", cfg.MusicLookupTimeout)
	}
}
