package texture

// GenerateImageRequest - POST /api/generate/image
type GenerateImageRequest struct {
	Prompt string `json:"prompt"`
}

// GeneratePBRRequest - POST /api/generate/pbr
type GeneratePBRRequest struct {
	ImageIndex int `json:"imageIndex"`
}

// StartResponse - accepted job
type StartResponse struct {
	Success      bool   `json:"success"`
	RequestID    int64  `json:"requestId,omitempty"`
	ErrorMessage string `json:"errorMessage,omitempty"`
}

// StatusResponse - GET /api/generate/status
type StatusResponse struct {
	Status    string `json:"status"`
	Phase     string `json:"phase"`
	Running   bool   `json:"running"`
	RequestID int64  `json:"requestId"`
}

// SessionImageInfo - one gallery entry, without pixel data
type SessionImageInfo struct {
	Index       int               `json:"index"`
	Label       string            `json:"label"`
	CachePath   string            `json:"cachePath,omitempty"`
	PreviewPath string            `json:"previewPath,omitempty"`
	HasPBR      bool              `json:"hasPbr"`
	PBRPaths    map[string]string `json:"pbrPaths,omitempty"`
}

// SessionImageResponse - GET /api/session/images/{index}
type SessionImageResponse struct {
	Success      bool   `json:"success"`
	Label        string `json:"label,omitempty"`
	ImageBase64  string `json:"imageBase64,omitempty"`
	ErrorMessage string `json:"errorMessage,omitempty"`
}

// SessionImagesResponse - GET /api/session/images
type SessionImagesResponse struct {
	Success bool               `json:"success"`
	Images  []SessionImageInfo `json:"images"`
}
