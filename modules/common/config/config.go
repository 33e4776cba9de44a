package config

import (
	"fmt"
	"log"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Txt2ImgBackend selection
const (
	BackendComfyUI = "comfyui"
	BackendGemini  = "gemini"
)

// Txt2ImgBinding - which template nodes/inputs receive the prompt and seed
type Txt2ImgBinding struct {
	PromptNodeIdentifier string
	PromptInputName      string
	SeedNodeIdentifier   string
	SeedInputName        string
}

// ChannelBinding - which history output carries one PBR channel.
// NodeID < 0 means unset; FilenameHintContains falls back to the channel default.
type ChannelBinding struct {
	NodeID               int
	FilenameHintContains string
}

// PBRBinding - bindings for the image-to-PBR workflow
type PBRBinding struct {
	LoadImageNodeIdentifier string
	LoadImageInputName      string
	BaseColor               ChannelBinding
	Normal                  ChannelBinding
	Roughness               ChannelBinding
	Metallic                ChannelBinding
	Height                  ChannelBinding
}

// Channel returns the binding for a canonical channel name.
func (b *PBRBinding) Channel(name string) ChannelBinding {
	switch name {
	case "BaseColor":
		return b.BaseColor
	case "Normal":
		return b.Normal
	case "Roughness":
		return b.Roughness
	case "Metallic":
		return b.Metallic
	case "Height":
		return b.Height
	}
	return ChannelBinding{NodeID: -1}
}

// Config - immutable settings snapshot, captured once at startup
type Config struct {
	// Server
	Port string

	// ComfyUI backend
	ComfyHTTPBaseURL       string
	RequestTimeout         time.Duration
	UseWebSocketProgress   bool
	PollingInterval        time.Duration
	Txt2ImgTemplatePath    string
	PBRTemplatePath        string
	Txt2ImgBinding         Txt2ImgBinding
	PBRBinding             PBRBinding

	// Text-to-image backend selection
	Txt2ImgBackend string

	// Gemini API
	GeminiAPIKey string
	GeminiModel  string

	// Asset cache
	CacheRoot string
}

// LoadConfig - load .env (when present) and environment variables
func LoadConfig() (*Config, error) {
	if err := godotenv.Load(); err != nil {
		log.Println("⚠️  .env file not found, using environment variables")
	}

	cfg := &Config{
		Port: getEnv("PORT", "8080"),

		ComfyHTTPBaseURL:     strings.TrimRight(getEnv("COMFY_HTTP_BASE_URL", ""), "/"),
		RequestTimeout:       getEnvSeconds("COMFY_REQUEST_TIMEOUT_SECONDS", 120),
		UseWebSocketProgress: getEnvBool("COMFY_USE_WEBSOCKET", true),
		PollingInterval:      getEnvSeconds("COMFY_POLLING_INTERVAL_SECONDS", 1),

		Txt2ImgTemplatePath: getEnv("TXT2IMG_TEMPLATE_PATH", ""),
		PBRTemplatePath:     getEnv("PBR_TEMPLATE_PATH", ""),

		Txt2ImgBinding: Txt2ImgBinding{
			PromptNodeIdentifier: getEnv("TXT2IMG_PROMPT_NODE", ""),
			PromptInputName:      getEnv("TXT2IMG_PROMPT_INPUT", "text"),
			SeedNodeIdentifier:   getEnv("TXT2IMG_SEED_NODE", ""),
			SeedInputName:        getEnv("TXT2IMG_SEED_INPUT", "seed"),
		},

		PBRBinding: PBRBinding{
			LoadImageNodeIdentifier: getEnv("PBR_LOAD_IMAGE_NODE", ""),
			LoadImageInputName:      getEnv("PBR_LOAD_IMAGE_INPUT", "image"),
			BaseColor:               getChannelBinding("BASECOLOR"),
			Normal:                  getChannelBinding("NORMAL"),
			Roughness:               getChannelBinding("ROUGHNESS"),
			Metallic:                getChannelBinding("METALLIC"),
			Height:                  getChannelBinding("HEIGHT"),
		},

		Txt2ImgBackend: strings.ToLower(getEnv("TXT2IMG_BACKEND", BackendComfyUI)),

		GeminiAPIKey: getEnv("GEMINI_API_KEY", ""),
		GeminiModel:  getEnv("GEMINI_MODEL", "gemini-2.5-flash-image"),

		CacheRoot: getEnv("CACHE_ROOT", "Saved/ChordPBRGenerator"),
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	log.Println("✅ Configuration loaded successfully")
	log.Printf("   ComfyUI: %s (ws: %v, timeout: %s, poll: %s)",
		cfg.ComfyHTTPBaseURL, cfg.UseWebSocketProgress, cfg.RequestTimeout, cfg.PollingInterval)
	log.Printf("   Txt2Img backend: %s", cfg.Txt2ImgBackend)
	log.Printf("   Cache root: %s", cfg.CacheRoot)

	return cfg, nil
}

// validate - fail fast on missing or contradictory settings, before any
// network call is ever made
func (c *Config) validate() error {
	switch c.Txt2ImgBackend {
	case BackendComfyUI, BackendGemini:
	default:
		return fmt.Errorf("TXT2IMG_BACKEND must be %q or %q, got %q", BackendComfyUI, BackendGemini, c.Txt2ImgBackend)
	}
	if c.Txt2ImgBackend == BackendGemini && c.GeminiAPIKey == "" {
		return fmt.Errorf("GEMINI_API_KEY is required when TXT2IMG_BACKEND=gemini")
	}
	if c.ComfyHTTPBaseURL == "" {
		return fmt.Errorf("COMFY_HTTP_BASE_URL is required")
	}
	if c.RequestTimeout < time.Second {
		return fmt.Errorf("COMFY_REQUEST_TIMEOUT_SECONDS must be at least 1")
	}
	if c.PollingInterval < 50*time.Millisecond {
		return fmt.Errorf("COMFY_POLLING_INTERVAL_SECONDS must be at least 0.05")
	}
	return nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if raw := os.Getenv(key); raw != "" {
		if parsed, err := strconv.ParseBool(raw); err == nil {
			return parsed
		}
	}
	return defaultValue
}

func getEnvSeconds(key string, defaultSeconds float64) time.Duration {
	seconds := defaultSeconds
	if raw := os.Getenv(key); raw != "" {
		if parsed, err := strconv.ParseFloat(raw, 64); err == nil {
			seconds = parsed
		}
	}
	return time.Duration(seconds * float64(time.Second))
}

func getChannelBinding(envName string) ChannelBinding {
	nodeID := -1
	if raw := os.Getenv("PBR_" + envName + "_NODE_ID"); raw != "" {
		if parsed, err := strconv.Atoi(raw); err == nil {
			nodeID = parsed
		}
	}
	return ChannelBinding{
		NodeID:               nodeID,
		FilenameHintContains: os.Getenv("PBR_" + envName + "_HINT"),
	}
}
