package config

import (
	"log"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

const (
	devAPIBaseURL  = "http://localhost:3000"
	prodAPIBaseURL = "https://api.whirav.ru"
	devSocketURL   = "ws://localhost:3000/ws"
	prodSocketURL  = "wss://api.whirav.ru/ws"
)

type Config struct {
	API     APIConfig
	Socket  SocketConfig
	History HistoryConfig
}

type APIConfig struct {
	BaseURL        string
	RequestTimeout time.Duration
}

type SocketConfig struct {
	URL               string
	DialTimeout       time.Duration
	ReconnectAttempts int
	ReconnectDelay    time.Duration
	PingInterval      time.Duration
	PongWait          time.Duration
	WriteWait         time.Duration
	SendQueueSize     int
}

type HistoryConfig struct {
	// Maximum concurrent message fetches across rooms.
	RoomConcurrency int
	// Maximum concurrent attachment resolutions within one room.
	AttachmentConcurrency int
}

func Load() *Config {
	// Load .env file if it exists
	if err := godotenv.Load(); err != nil {
		log.Printf("No .env file found or error loading .env file: %v", err)
	}

	isDev := getEnvOrDefault("APP_ENV", "development") == "development"

	apiURL := prodAPIBaseURL
	socketURL := prodSocketURL
	if isDev {
		apiURL = devAPIBaseURL
		socketURL = devSocketURL
	}

	return &Config{
		API: APIConfig{
			BaseURL:        getEnvOrDefault("API_BASE_URL", apiURL),
			RequestTimeout: getDurationOrDefault("API_REQUEST_TIMEOUT", "30s"),
		},
		Socket: SocketConfig{
			URL:               getEnvOrDefault("SOCKET_URL", socketURL),
			DialTimeout:       getDurationOrDefault("SOCKET_DIAL_TIMEOUT", "10s"),
			ReconnectAttempts: getIntOrDefault("SOCKET_RECONNECT_ATTEMPTS", 10),
			ReconnectDelay:    getDurationOrDefault("SOCKET_RECONNECT_DELAY", "1s"),
			PingInterval:      getDurationOrDefault("SOCKET_PING_INTERVAL", "54s"),
			PongWait:          getDurationOrDefault("SOCKET_PONG_WAIT", "60s"),
			WriteWait:         getDurationOrDefault("SOCKET_WRITE_WAIT", "10s"),
			SendQueueSize:     getIntOrDefault("SOCKET_SEND_QUEUE_SIZE", 256),
		},
		History: HistoryConfig{
			RoomConcurrency:       getIntOrDefault("HISTORY_ROOM_CONCURRENCY", 8),
			AttachmentConcurrency: getIntOrDefault("HISTORY_ATTACHMENT_CONCURRENCY", 4),
		},
	}
}

func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getDurationOrDefault(key, defaultValue string) time.Duration {
	value := getEnvOrDefault(key, defaultValue)
	duration, err := time.ParseDuration(value)
	if err != nil {
		log.Fatalf("Invalid duration for %s: %v", key, err)
	}
	return duration
}

func getIntOrDefault(key string, defaultValue int) int {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	intValue, err := strconv.Atoi(value)
	if err != nil {
		log.Fatalf("Invalid integer for %s: %v", key, err)
	}
	return intValue
}
