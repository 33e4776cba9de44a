package main

import (
	"encoding/json"
	"log"
	"net/http"

	"github.com/gorilla/mux"

	"github.com/KaKAOnz/Unreal-ChordGenerator/modules/comfy"
	"github.com/KaKAOnz/Unreal-ChordGenerator/modules/common/config"
	"github.com/KaKAOnz/Unreal-ChordGenerator/modules/texture"
)

// CORS 미들웨어
func enableCORS(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")

		if r.Method == "OPTIONS" {
			w.WriteHeader(http.StatusOK)
			return
		}

		next.ServeHTTP(w, r)
	})
}

// 헬스 체크 엔드포인트 - ComfyUI 연결 상태도 함께 보고
func healthCheck(cfg *config.Config) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")

		comfyStatus := "reachable"
		if err := comfy.NewClient(cfg).HealthCheck(); err != nil {
			comfyStatus = "unreachable"
		}

		w.WriteHeader(http.StatusOK)
		json.NewEncoder(w).Encode(map[string]string{
			"status":  "healthy",
			"service": "unreal-chord-generator",
			"comfyui": comfyStatus,
		})
	}
}

func main() {
	// 환경변수 로드
	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("❌ Failed to load config: %v", err)
	}

	// 라우터 설정
	r := mux.NewRouter()
	r.Use(enableCORS)

	r.HandleFunc("/", healthCheck(cfg)).Methods("GET")
	r.HandleFunc("/health", healthCheck(cfg)).Methods("GET")

	textureHandler := texture.NewHandler(cfg)
	textureHandler.RegisterRoutes(r)

	log.Printf("🚀 Chord PBR Generator server starting on port %s", cfg.Port)
	log.Printf("❤️  Health check: http://localhost:%s/health", cfg.Port)
	log.Printf("🎨 Generation API: http://localhost:%s/api/generate/image", cfg.Port)

	if err := http.ListenAndServe(":"+cfg.Port, r); err != nil {
		log.Fatalf("Server failed to start: %v", err)
	}
}
