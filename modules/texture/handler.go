package texture

import (
	"encoding/json"
	"log"
	"net/http"
	"strconv"
	"strings"

	"github.com/gorilla/mux"

	"github.com/KaKAOnz/Unreal-ChordGenerator/modules/common/config"
	"github.com/KaKAOnz/Unreal-ChordGenerator/modules/common/utils"
)

type Handler struct {
	service *Service
}

func NewHandler(cfg *config.Config) *Handler {
	return &Handler{
		service: NewService(cfg),
	}
}

func (h *Handler) Service() *Service {
	return h.service
}

// RegisterRoutes - 라우트 등록
func (h *Handler) RegisterRoutes(r *mux.Router) {
	r.HandleFunc("/api/generate/image", h.HandleGenerateImage).Methods("POST", "OPTIONS")
	r.HandleFunc("/api/generate/pbr", h.HandleGeneratePBR).Methods("POST", "OPTIONS")
	r.HandleFunc("/api/generate/status", h.HandleStatus).Methods("GET", "OPTIONS")
	r.HandleFunc("/api/generate/cancel", h.HandleCancel).Methods("POST", "OPTIONS")
	r.HandleFunc("/api/session/images", h.HandleSessionImages).Methods("GET", "OPTIONS")
	r.HandleFunc("/api/session/images/{index}", h.HandleSessionImage).Methods("GET", "OPTIONS")
	r.HandleFunc("/api/session/reset", h.HandleSessionReset).Methods("POST", "OPTIONS")
	log.Println("✅ Texture generation routes registered")
}

func writeCORS(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Access-Control-Allow-Origin", "*")
	w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
	w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
}

// HandleGenerateImage - POST /api/generate/image
// 텍스트 프롬프트로 이미지 생성 시작
func (h *Handler) HandleGenerateImage(w http.ResponseWriter, r *http.Request) {
	writeCORS(w)
	if r.Method == "OPTIONS" {
		w.WriteHeader(http.StatusOK)
		return
	}

	var req GenerateImageRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		log.Printf("❌ [Texture] Invalid request: %v", err)
		json.NewEncoder(w).Encode(StartResponse{
			Success:      false,
			ErrorMessage: "Invalid request format",
		})
		return
	}

	req.Prompt = strings.TrimSpace(req.Prompt)
	if req.Prompt == "" {
		json.NewEncoder(w).Encode(StartResponse{
			Success:      false,
			ErrorMessage: "Prompt is required",
		})
		return
	}

	requestID, err := h.service.StartGenerateImages(req.Prompt)
	if err != nil {
		log.Printf("❌ [Texture] Generate image rejected: %v", err)
		json.NewEncoder(w).Encode(StartResponse{
			Success:      false,
			ErrorMessage: err.Error(),
		})
		return
	}

	w.WriteHeader(http.StatusAccepted)
	json.NewEncoder(w).Encode(StartResponse{
		Success:   true,
		RequestID: requestID,
	})
}

// HandleGeneratePBR - POST /api/generate/pbr
// 갤러리 이미지로 PBR 맵 생성 시작
func (h *Handler) HandleGeneratePBR(w http.ResponseWriter, r *http.Request) {
	writeCORS(w)
	if r.Method == "OPTIONS" {
		w.WriteHeader(http.StatusOK)
		return
	}

	var req GeneratePBRRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		log.Printf("❌ [Texture] Invalid request: %v", err)
		json.NewEncoder(w).Encode(StartResponse{
			Success:      false,
			ErrorMessage: "Invalid request format",
		})
		return
	}

	requestID, err := h.service.StartGeneratePBR(req.ImageIndex)
	if err != nil {
		log.Printf("❌ [Texture] Generate PBR rejected: %v", err)
		json.NewEncoder(w).Encode(StartResponse{
			Success:      false,
			ErrorMessage: err.Error(),
		})
		return
	}

	w.WriteHeader(http.StatusAccepted)
	json.NewEncoder(w).Encode(StartResponse{
		Success:   true,
		RequestID: requestID,
	})
}

// HandleStatus - GET /api/generate/status
func (h *Handler) HandleStatus(w http.ResponseWriter, r *http.Request) {
	writeCORS(w)
	if r.Method == "OPTIONS" {
		w.WriteHeader(http.StatusOK)
		return
	}

	status, phase, running, requestID := h.service.Status()
	json.NewEncoder(w).Encode(StatusResponse{
		Status:    status,
		Phase:     phase,
		Running:   running,
		RequestID: requestID,
	})
}

// HandleCancel - POST /api/generate/cancel
func (h *Handler) HandleCancel(w http.ResponseWriter, r *http.Request) {
	writeCORS(w)
	if r.Method == "OPTIONS" {
		w.WriteHeader(http.StatusOK)
		return
	}

	h.service.Cancel()
	json.NewEncoder(w).Encode(map[string]interface{}{
		"success": true,
		"status":  "cancel requested",
	})
}

// HandleSessionImages - GET /api/session/images
func (h *Handler) HandleSessionImages(w http.ResponseWriter, r *http.Request) {
	writeCORS(w)
	if r.Method == "OPTIONS" {
		w.WriteHeader(http.StatusOK)
		return
	}

	images := h.service.Session().Images()
	infos := make([]SessionImageInfo, 0, len(images))
	for i, img := range images {
		info := SessionImageInfo{
			Index:       i,
			Label:       img.Label,
			CachePath:   img.CachePath,
			PreviewPath: img.PreviewPath,
			HasPBR:      img.HasPBR,
		}
		if img.PBRMaps != nil {
			info.PBRPaths = img.PBRMaps.Paths
		}
		infos = append(infos, info)
	}

	json.NewEncoder(w).Encode(SessionImagesResponse{
		Success: true,
		Images:  infos,
	})
}

// HandleSessionImage - GET /api/session/images/{index}
// 갤러리 이미지 한 장을 base64로 반환
func (h *Handler) HandleSessionImage(w http.ResponseWriter, r *http.Request) {
	writeCORS(w)
	if r.Method == "OPTIONS" {
		w.WriteHeader(http.StatusOK)
		return
	}

	index, err := strconv.Atoi(mux.Vars(r)["index"])
	if err != nil {
		json.NewEncoder(w).Encode(SessionImageResponse{
			Success:      false,
			ErrorMessage: "Invalid image index",
		})
		return
	}

	img, ok := h.service.Session().Image(index)
	if !ok {
		w.WriteHeader(http.StatusNotFound)
		json.NewEncoder(w).Encode(SessionImageResponse{
			Success:      false,
			ErrorMessage: "No image at that index",
		})
		return
	}

	json.NewEncoder(w).Encode(SessionImageResponse{
		Success:     true,
		Label:       img.Label,
		ImageBase64: utils.ConvertImageToBase64(img.Data),
	})
}

// HandleSessionReset - POST /api/session/reset
func (h *Handler) HandleSessionReset(w http.ResponseWriter, r *http.Request) {
	writeCORS(w)
	if r.Method == "OPTIONS" {
		w.WriteHeader(http.StatusOK)
		return
	}

	h.service.Session().Reset()
	log.Println("🛑 [Texture] Session reset")
	json.NewEncoder(w).Encode(map[string]bool{"success": true})
}
