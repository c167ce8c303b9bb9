package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	Port            int
	Password        string // empty disables the login wall
	StaticDirectory string
	LogDirectory    string

	FrontCamera        string // device index, file or URL used for facing mode "user"
	BackCamera         string // device used for facing mode "environment"
	FacingMode         string
	FrameWidth         int
	FrameHeight        int
	CameraStartTimeout time.Duration

	ModelPath     string
	ConfigPath    string
	DNNBackend    string
	DNNTarget     string
	MinScore      float64
	MaxDetections int

	TargetLabel       string
	TargetThreshold   float64
	DetectionInterval time.Duration
	CycleInterval     time.Duration
	StreamInterval    time.Duration
}

// Load reads an optional .env file and then the process environment.
func Load() *Config {
	// A missing .env is the normal case outside development.
	_ = godotenv.Load()

	return &Config{
		Port:            getEnvAsInt("PORT", 8080),
		Password:        getEnv("PASSWORD", ""),
		StaticDirectory: getEnv("STATIC_DIR", "static"),
		LogDirectory:    getEnv("LOG_DIR", filepath.Join(".", "logs")),

		FrontCamera:        getEnvAllowEmpty("CAMERA_FRONT_DEVICE", "0"),
		BackCamera:         getEnvAllowEmpty("CAMERA_BACK_DEVICE", ""),
		FacingMode:         getEnv("CAMERA_FACING_MODE", "user"),
		FrameWidth:         getEnvAsInt("CAMERA_WIDTH", 1280),
		FrameHeight:        getEnvAsInt("CAMERA_HEIGHT", 720),
		CameraStartTimeout: getEnvAsDuration("CAMERA_START_TIMEOUT", 10*time.Second),

		ModelPath:     getEnv("MODEL_PATH", filepath.Join(".", "models", "frozen_inference_graph.pb")),
		ConfigPath:    getEnv("CONFIG_PATH", filepath.Join(".", "models", "ssd_mobilenet_v1_coco_2017_11_17.pbtxt")),
		DNNBackend:    getEnv("DNN_BACKEND", "opencv"),
		DNNTarget:     getEnv("DNN_TARGET", "fp32"), // OpenCL
		MinScore:      getEnvAsFloat("MODEL_MIN_SCORE", 0.5),
		MaxDetections: getEnvAsInt("MODEL_MAX_DETECTIONS", 20),

		TargetLabel:       getEnv("TARGET_LABEL", "cat"),
		TargetThreshold:   getEnvAsFloat("TARGET_THRESHOLD", 0.6),
		DetectionInterval: getEnvAsDuration("DETECTION_INTERVAL", 500*time.Millisecond),
		CycleInterval:     getEnvAsDuration("CYCLE_INTERVAL", 60*time.Second),
		StreamInterval:    getEnvAsDuration("STREAM_INTERVAL", 100*time.Millisecond),
	}
}

// CaptureEnabled reports whether any capture device is configured.
func (c *Config) CaptureEnabled() bool {
	return c.FrontCamera != "" || c.BackCamera != ""
}

// Validate reports the first setting that would make the service misbehave.
func (c *Config) Validate() error {
	switch {
	case c.Port <= 0 || c.Port > 65535:
		return fmt.Errorf("invalid port: %d", c.Port)
	case c.FacingMode != "user" && c.FacingMode != "environment":
		return fmt.Errorf("invalid facing mode %q: want user or environment", c.FacingMode)
	case c.FrameWidth < 0 || c.FrameHeight < 0:
		return fmt.Errorf("invalid frame size %dx%d", c.FrameWidth, c.FrameHeight)
	case c.CameraStartTimeout <= 0:
		return errors.New("camera start timeout must be positive")
	case c.DetectionInterval <= 0:
		return errors.New("detection interval must be positive")
	case c.CycleInterval <= 0:
		return errors.New("cycle interval must be positive")
	case c.StreamInterval <= 0:
		return errors.New("stream interval must be positive")
	case c.TargetLabel == "":
		return errors.New("target label must not be empty")
	case c.TargetThreshold < 0 || c.TargetThreshold > 1:
		return fmt.Errorf("target threshold %.2f outside [0,1]", c.TargetThreshold)
	case c.MinScore < 0 || c.MinScore > 1:
		return fmt.Errorf("model min score %.2f outside [0,1]", c.MinScore)
	case c.TargetThreshold < c.MinScore:
		return fmt.Errorf("target threshold %.2f below model min score %.2f", c.TargetThreshold, c.MinScore)
	case c.MaxDetections <= 0:
		return fmt.Errorf("invalid max detections: %d", c.MaxDetections)
	}
	return nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvAllowEmpty keeps an explicitly empty value, which disables a device.
func getEnvAllowEmpty(key, defaultValue string) string {
	if value, ok := os.LookupEnv(key); ok {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getEnvAsFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if floatValue, err := strconv.ParseFloat(value, 64); err == nil {
			return floatValue
		}
	}
	return defaultValue
}

// getEnvAsDuration accepts Go durations ("500ms") or bare milliseconds ("500").
func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	if d, err := time.ParseDuration(value); err == nil {
		return d
	}
	if ms, err := strconv.ParseInt(value, 10, 64); err == nil {
		return time.Duration(ms) * time.Millisecond
	}
	return defaultValue
}
