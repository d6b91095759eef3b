package config

import "os"

type Config struct {
	// Addr is the HTTP listen address.
	Addr string

	// BaseURL is the generation endpoint, including the /api prefix.
	BaseURL string

	// DBPath is the SQLite file holding chats and messages.
	DBPath string

	LogLevel string

	// DefaultModel, when set, is preselected instead of the first model the
	// endpoint reports.
	DefaultModel string

	// StreamIncomplete decides what a stream without a completion frame
	// means: "error" (the default) or "accept".
	StreamIncomplete string
}

func Load() Config {
	addr := os.Getenv("CHATD_ADDR")
	if addr == "" {
		addr = ":8090"
	}

	baseURL := os.Getenv("LLAMA_BASE_URL")
	if baseURL == "" {
		baseURL = "http://localhost:11434/api"
	}

	dbPath := os.Getenv("CHATD_DB_PATH")
	if dbPath == "" {
		dbPath = "data/chat.db"
	}

	logLevel := os.Getenv("LOG_LEVEL")
	if logLevel == "" {
		logLevel = "info"
	}

	incomplete := os.Getenv("STREAM_INCOMPLETE")
	if incomplete != "accept" {
		incomplete = "error"
	}

	return Config{
		Addr:             addr,
		BaseURL:          baseURL,
		DBPath:           dbPath,
		LogLevel:         logLevel,
		DefaultModel:     os.Getenv("DEFAULT_MODEL"),
		StreamIncomplete: incomplete,
	}
}
