package config

import "time"

type Config struct {
	HTTP    HTTPConfig
	Session SessionConfig
	Store   StoreConfig
	Log     LogConfig
}

type HTTPConfig struct {
	Addr            string
	CORSOrigin      string
	ShutdownTimeout time.Duration

	// WriteRPM rate limits document writes per client IP, in requests per
	// minute (0 = no limit). WriteBurst is the burst allowance on top.
	WriteRPM   int
	WriteBurst int
}

type SessionConfig struct {
	// QueueDepth bounds each session's run queue. Cursor deliveries block
	// once it fills, which backpressures writers instead of dropping events.
	QueueDepth int

	// MaxSessions bounds concurrent subscription sessions (0 = unlimited).
	MaxSessions int

	// OutboundBuffer is the per-connection SSE event buffer. A client slower
	// than this loses events (best effort delivery at the edge).
	OutboundBuffer int
}

type StoreConfig struct {
	// PersistPath is the sqlite file for write-through persistence. Empty
	// keeps the store memory-only.
	PersistPath string
}

type LogConfig struct {
	Level string
}

func DefaultConfig() *Config {
	return &Config{
		HTTP: HTTPConfig{
			Addr:            ":3002",
			CORSOrigin:      "*",
			ShutdownTimeout: 5 * time.Second,
			WriteRPM:        0,
			WriteBurst:      30,
		},
		Session: SessionConfig{
			QueueDepth:     256,
			MaxSessions:    1024,
			OutboundBuffer: 64,
		},
		Store: StoreConfig{
			PersistPath: "",
		},
		Log: LogConfig{
			Level: "info",
		},
	}
}
