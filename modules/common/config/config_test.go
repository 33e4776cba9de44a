package config

import (
	"testing"
	"time"
)

func setRequiredEnv(t *testing.T) {
	t.Helper()
	t.Setenv("COMFY_HTTP_BASE_URL", "http://127.0.0.1:8188/")
}

func TestLoadConfigDefaults(t *testing.T) {
	setRequiredEnv(t)

	cfg, err := LoadConfig()
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}

	if cfg.ComfyHTTPBaseURL != "http://127.0.0.1:8188" {
		t.Errorf("base URL = %q, want trailing slash trimmed", cfg.ComfyHTTPBaseURL)
	}
	if cfg.RequestTimeout != 120*time.Second {
		t.Errorf("timeout = %s, want 120s", cfg.RequestTimeout)
	}
	if !cfg.UseWebSocketProgress {
		t.Error("websocket progress should default to on")
	}
	if cfg.PollingInterval != time.Second {
		t.Errorf("poll interval = %s, want 1s", cfg.PollingInterval)
	}
	if cfg.Txt2ImgBackend != BackendComfyUI {
		t.Errorf("backend = %q, want comfyui", cfg.Txt2ImgBackend)
	}
	if cfg.Txt2ImgBinding.PromptInputName != "text" || cfg.Txt2ImgBinding.SeedInputName != "seed" {
		t.Errorf("txt2img binding defaults = %+v", cfg.Txt2ImgBinding)
	}
	if cfg.PBRBinding.BaseColor.NodeID != -1 {
		t.Errorf("unset channel node id = %d, want -1", cfg.PBRBinding.BaseColor.NodeID)
	}
}

func TestLoadConfigFractionalPollingInterval(t *testing.T) {
	setRequiredEnv(t)
	t.Setenv("COMFY_POLLING_INTERVAL_SECONDS", "0.25")

	cfg, err := LoadConfig()
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}
	if cfg.PollingInterval != 250*time.Millisecond {
		t.Errorf("poll interval = %s, want 250ms", cfg.PollingInterval)
	}
}

func TestLoadConfigChannelBindings(t *testing.T) {
	setRequiredEnv(t)
	t.Setenv("PBR_BASECOLOR_NODE_ID", "31")
	t.Setenv("PBR_HEIGHT_HINT", "displacement")

	cfg, err := LoadConfig()
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}
	if cfg.PBRBinding.BaseColor.NodeID != 31 {
		t.Errorf("basecolor node id = %d, want 31", cfg.PBRBinding.BaseColor.NodeID)
	}
	if cfg.PBRBinding.Height.FilenameHintContains != "displacement" {
		t.Errorf("height hint = %q", cfg.PBRBinding.Height.FilenameHintContains)
	}
	if cfg.PBRBinding.Channel("Height").FilenameHintContains != "displacement" {
		t.Error("Channel accessor disagrees with field")
	}
}

func TestValidateRejectsMissingBaseURL(t *testing.T) {
	t.Setenv("COMFY_HTTP_BASE_URL", "")

	if _, err := LoadConfig(); err == nil {
		t.Error("LoadConfig without base URL: want error")
	}
}

func TestValidateRejectsUnknownBackend(t *testing.T) {
	setRequiredEnv(t)
	t.Setenv("TXT2IMG_BACKEND", "dalle")

	if _, err := LoadConfig(); err == nil {
		t.Error("LoadConfig with unknown backend: want error")
	}
}

func TestValidateRequiresGeminiKey(t *testing.T) {
	setRequiredEnv(t)
	t.Setenv("TXT2IMG_BACKEND", "gemini")
	t.Setenv("GEMINI_API_KEY", "")

	if _, err := LoadConfig(); err == nil {
		t.Error("LoadConfig gemini backend without key: want error")
	}
}

func TestValidateRejectsTinyTimeout(t *testing.T) {
	setRequiredEnv(t)
	t.Setenv("COMFY_REQUEST_TIMEOUT_SECONDS", "0.2")

	if _, err := LoadConfig(); err == nil {
		t.Error("LoadConfig with sub-second timeout: want error")
	}
}
