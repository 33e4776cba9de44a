package comfy

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"mime/multipart"
	"net/http"
	"net/url"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/KaKAOnz/Unreal-ChordGenerator/modules/common/config"
	"github.com/KaKAOnz/Unreal-ChordGenerator/modules/common/model"
	"github.com/KaKAOnz/Unreal-ChordGenerator/modules/workflow"
)

// Client - blocking ComfyUI backend client. One job in flight per instance;
// all settings are copied from the configuration snapshot at construction and
// never mutated afterwards.
type Client struct {
	baseURL        string
	httpClient     *http.Client
	dialer         *websocket.Dialer
	useWebSocket   bool
	requestTimeout time.Duration
	pollInterval   time.Duration

	// injectable for deterministic polling tests
	sleep func(time.Duration)
	now   func() time.Time
}

// NewClient - capture the settings snapshot
func NewClient(cfg *config.Config) *Client {
	return &Client{
		baseURL:        strings.TrimRight(cfg.ComfyHTTPBaseURL, "/"),
		httpClient:     &http.Client{Timeout: cfg.RequestTimeout},
		dialer:         websocket.DefaultDialer,
		useWebSocket:   cfg.UseWebSocketProgress,
		requestTimeout: cfg.RequestTimeout,
		pollInterval:   cfg.PollingInterval,
		sleep:          time.Sleep,
		now:            time.Now,
	}
}

// HealthCheck - GET /system_stats, 200 means healthy
func (c *Client) HealthCheck() error {
	resp, err := c.httpClient.Get(c.baseURL + "/system_stats")
	if err != nil {
		return fmt.Errorf("system stats request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("system stats failed (%d)", resp.StatusCode)
	}
	return nil
}

// QueuePrompt - submit a patched workflow document. Generates a fresh client
// correlation id per submission. Node-level error details from the backend are
// composed into the returned error rather than swallowed.
func (c *Client) QueuePrompt(doc *workflow.Document) (*PromptResponse, error) {
	if doc == nil {
		return nil, fmt.Errorf("no prompt document")
	}

	clientID := uuid.New().String()
	payload := struct {
		Prompt   *workflow.Document `json:"prompt"`
		ClientID string             `json:"client_id"`
	}{Prompt: doc, ClientID: clientID}

	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal prompt: %w", err)
	}

	resp, err := c.httpClient.Post(c.baseURL+"/prompt", "application/json", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("queue prompt request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("queue prompt failed (%d)", resp.StatusCode)
	}

	var queued queueResponse
	if err := json.NewDecoder(resp.Body).Decode(&queued); err != nil {
		return nil, fmt.Errorf("failed to parse queue response: %w", err)
	}

	if queued.Error != nil {
		if msg := joinedStrings(queued.Error, " | "); msg != "" {
			return nil, &JobError{Message: msg}
		}
	}

	if len(queued.NodeErrors) > 0 {
		nodeKeys := make([]string, 0, len(queued.NodeErrors))
		for key := range queued.NodeErrors {
			nodeKeys = append(nodeKeys, key)
		}
		sort.Strings(nodeKeys)

		messages := make([]string, 0, len(nodeKeys))
		for _, key := range nodeKeys {
			summary := joinedStrings(queued.NodeErrors[key], " | ")
			if summary == "" {
				summary = "unknown error"
			}
			messages = append(messages, fmt.Sprintf("%s: %s", key, summary))
		}
		return nil, &JobError{Message: "prompt node errors: " + strings.Join(messages, "; ")}
	}

	if queued.PromptID == "" {
		return nil, fmt.Errorf("queue response carried no prompt_id")
	}

	return &PromptResponse{PromptID: queued.PromptID, ClientID: clientID}, nil
}

// GetHistory - fetch and parse the job history record
func (c *Client) GetHistory(promptID string) (*workflow.History, error) {
	resp, err := c.httpClient.Get(c.baseURL + "/history/" + url.PathEscape(promptID))
	if err != nil {
		return nil, fmt.Errorf("history request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("history failed (%d)", resp.StatusCode)
	}

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read history: %w", err)
	}

	return workflow.ParseHistory(raw)
}

// DownloadImage - GET /view for one image reference
func (c *Client) DownloadImage(ref model.ImageReference) ([]byte, error) {
	query := url.Values{}
	query.Set("filename", ref.Filename)
	if ref.Subfolder != "" {
		query.Set("subfolder", ref.Subfolder)
	}
	if ref.Type != "" {
		query.Set("type", ref.Type)
	}

	resp, err := c.httpClient.Get(c.baseURL + "/view?" + query.Encode())
	if err != nil {
		return nil, fmt.Errorf("download request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("download failed (%d) %s", resp.StatusCode, ref.Filename)
	}

	return io.ReadAll(resp.Body)
}

// UploadImage - multipart POST to /upload/image under the fixed "image" form
// field. The server assigns the stored name/subfolder/type triple.
func (c *Client) UploadImage(data []byte, filename string) (model.ImageReference, error) {
	var body bytes.Buffer
	writer := multipart.NewWriter(&body)

	part, err := writer.CreateFormFile("image", filename)
	if err != nil {
		return model.ImageReference{}, fmt.Errorf("failed to build upload body: %w", err)
	}
	if _, err := part.Write(data); err != nil {
		return model.ImageReference{}, fmt.Errorf("failed to build upload body: %w", err)
	}
	if err := writer.Close(); err != nil {
		return model.ImageReference{}, fmt.Errorf("failed to build upload body: %w", err)
	}

	resp, err := c.httpClient.Post(c.baseURL+"/upload/image", writer.FormDataContentType(), &body)
	if err != nil {
		return model.ImageReference{}, fmt.Errorf("upload request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return model.ImageReference{}, fmt.Errorf("upload failed (%d)", resp.StatusCode)
	}

	var uploaded uploadResponse
	if err := json.NewDecoder(resp.Body).Decode(&uploaded); err != nil {
		return model.ImageReference{}, fmt.Errorf("failed to parse upload response: %w", err)
	}
	if uploaded.Name == "" {
		return model.ImageReference{}, fmt.Errorf("upload response carried no name")
	}

	return model.ImageReference{
		Filename:  uploaded.Name,
		Subfolder: uploaded.Subfolder,
		Type:      uploaded.Type,
	}, nil
}

// Cancel - best-effort POST /interrupt. Callers log failures, never escalate;
// in-flight waits observe cancellation through the request generation token.
func (c *Client) Cancel() error {
	resp, err := c.httpClient.Post(c.baseURL+"/interrupt", "application/json", strings.NewReader("{}"))
	if err != nil {
		return fmt.Errorf("interrupt request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("interrupt failed (%d)", resp.StatusCode)
	}

	log.Printf("🛑 [Comfy] Interrupt requested")
	return nil
}

// joinedStrings - flatten backend error detail shapes into one string: strings
// pass through, arrays flatten, objects contribute their "message" field.
func joinedStrings(value interface{}, sep string) string {
	var parts []string
	appendStrings(value, &parts)
	return strings.Join(parts, sep)
}

func appendStrings(value interface{}, out *[]string) {
	switch v := value.(type) {
	case string:
		*out = append(*out, v)
	case []interface{}:
		for _, inner := range v {
			appendStrings(inner, out)
		}
	case map[string]interface{}:
		if msg, ok := v["message"].(string); ok {
			*out = append(*out, msg)
		}
	}
}
