package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestLoad_Defaults(t *testing.T) {
	for _, k := range []string{"DB_DRIVER", "DB_DSN", "SPLIT_MODELS", "OLLAMA_MODEL", "SPLIT_ERROR_PREFIX", "AI_TEMPERATURE"} {
		t.Setenv(k, "")
	}

	cfg := Load()
	assert.Equal(t, "mysql", cfg.DBDriver)
	assert.Contains(t, cfg.DBDSN, "tcp(127.0.0.1:3306)")
	assert.Equal(t, []string{"llama3:latest"}, cfg.SplitModels)
	assert.Equal(t, "Error: ", cfg.SplitErrorPrefix)
	assert.Zero(t, cfg.AITemperature)
}

func TestLoad_SplitAndSqlite(t *testing.T) {
	t.Setenv("DB_DRIVER", "SQLite")
	t.Setenv("DB_DSN", "")
	t.Setenv("SPLIT_MODELS", " llama3 , qwen2,,llama3 ")
	t.Setenv("AI_TEMPERATURE", "0.4")
	t.Setenv("AI_MAX_TOKENS", "not-a-number")

	cfg := Load()
	assert.Equal(t, "sqlite", cfg.DBDriver)
	assert.Equal(t, "splitchat.db", cfg.DBDSN)
	assert.Equal(t, []string{"llama3", "qwen2"}, cfg.SplitModels)
	assert.Equal(t, 0.4, cfg.AITemperature)
	assert.Zero(t, cfg.AIMaxTokens)
}
