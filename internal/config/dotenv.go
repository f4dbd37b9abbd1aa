package config

import (
	"os"
	"strconv"

	"github.com/joho/godotenv"
)

// LoadDotEnv loads environment variables from a .env file if present.
// Existing environment variables are not overwritten.
func LoadDotEnv(path string) error {
	if _, err := os.Stat(path); err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}
	return godotenv.Load(path)
}

type Config struct {
	ListenAddr             string
	BackendBaseURL         string
	IdentityPrefix         string
	MaxUploadBytes         int64
	UploadTimeoutSeconds   int
	FetchTimeoutSeconds    int
	RoomDialTimeoutSeconds int
	SlideAttributeKey      string
	NoiseCalibrationFrames int
	NoiseGateMargin        float64
}

func Default() Config {
	return Config{
		ListenAddr:             ":8080",
		BackendBaseURL:         "http://localhost:8000",
		IdentityPrefix:         "viewer",
		MaxUploadBytes:         50 * 1024 * 1024,
		UploadTimeoutSeconds:   120,
		FetchTimeoutSeconds:    15,
		RoomDialTimeoutSeconds: 10,
		SlideAttributeKey:      "current_slide",
		NoiseCalibrationFrames: 25,
		NoiseGateMargin:        2.0,
	}
}

func Load() Config {
	cfg := Default()
	if raw := os.Getenv("PORT"); raw != "" {
		cfg.ListenAddr = ":" + raw
	}
	if raw := os.Getenv("BACKEND_BASE_URL"); raw != "" {
		cfg.BackendBaseURL = raw
	}
	if raw := os.Getenv("IDENTITY_PREFIX"); raw != "" {
		cfg.IdentityPrefix = raw
	}
	if raw := os.Getenv("MAX_UPLOAD_BYTES"); raw != "" {
		if value, err := strconv.ParseInt(raw, 10, 64); err == nil && value > 0 {
			cfg.MaxUploadBytes = value
		}
	}
	if raw := os.Getenv("UPLOAD_TIMEOUT_SECONDS"); raw != "" {
		if value, err := strconv.Atoi(raw); err == nil && value > 0 {
			cfg.UploadTimeoutSeconds = value
		}
	}
	if raw := os.Getenv("FETCH_TIMEOUT_SECONDS"); raw != "" {
		if value, err := strconv.Atoi(raw); err == nil && value > 0 {
			cfg.FetchTimeoutSeconds = value
		}
	}
	if raw := os.Getenv("ROOM_DIAL_TIMEOUT_SECONDS"); raw != "" {
		if value, err := strconv.Atoi(raw); err == nil && value > 0 {
			cfg.RoomDialTimeoutSeconds = value
		}
	}
	if raw := os.Getenv("SLIDE_ATTRIBUTE_KEY"); raw != "" {
		cfg.SlideAttributeKey = raw
	}
	if raw := os.Getenv("NOISE_CALIBRATION_FRAMES"); raw != "" {
		if value, err := strconv.Atoi(raw); err == nil && value > 0 {
			cfg.NoiseCalibrationFrames = value
		}
	}
	if raw := os.Getenv("NOISE_GATE_MARGIN"); raw != "" {
		if value, err := strconv.ParseFloat(raw, 64); err == nil && value > 0 {
			cfg.NoiseGateMargin = value
		}
	}
	return cfg
}
