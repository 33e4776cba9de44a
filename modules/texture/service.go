package texture

import (
	"context"
	"fmt"
	"log"
	"math"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/KaKAOnz/Unreal-ChordGenerator/modules/comfy"
	"github.com/KaKAOnz/Unreal-ChordGenerator/modules/common/config"
	"github.com/KaKAOnz/Unreal-ChordGenerator/modules/common/model"
	"github.com/KaKAOnz/Unreal-ChordGenerator/modules/common/utils"
	"github.com/KaKAOnz/Unreal-ChordGenerator/modules/gemini"
	"github.com/KaKAOnz/Unreal-ChordGenerator/modules/workflow"
)

const previewQuality = 80

// Service runs one generation job at a time. Every start bumps the request
// counter; a worker that sees a newer counter after any await point drops its
// results silently instead of touching the session. A new job therefore
// supersedes an in-flight one without forcibly aborting it.
type Service struct {
	cfg     *config.Config
	session *Session

	requestCounter atomic.Int64
	seedCounter    atomic.Int64

	mu      sync.Mutex
	status  string
	phase   string
	running bool

	geminiOnce sync.Once
	geminiSvc  *gemini.Service
	geminiErr  error

	// injectable for tests
	now        func() time.Time
	seedSource func() int64
}

func NewService(cfg *config.Config) *Service {
	return &Service{
		cfg:        cfg,
		session:    NewSession(),
		status:     "idle",
		phase:      "idle",
		now:        time.Now,
		seedSource: func() int64 { return time.Now().UnixNano() },
	}
}

func (s *Service) Session() *Session {
	return s.session
}

// Status returns the latest human-readable status line, the coarse phase, the
// running flag and the id of the request the status belongs to.
func (s *Service) Status() (status, phase string, running bool, requestID int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.status, s.phase, s.running, s.requestCounter.Load()
}

// StartGenerateImages kicks off a text-to-image job and returns its request
// id. Validation failures are returned synchronously; everything after that
// is reported through Status.
func (s *Service) StartGenerateImages(prompt string) (int64, error) {
	if prompt == "" {
		return 0, fmt.Errorf("prompt must not be empty")
	}
	if s.cfg.Txt2ImgBackend == config.BackendComfyUI && s.cfg.Txt2ImgTemplatePath == "" {
		return 0, fmt.Errorf("TXT2IMG_TEMPLATE_PATH is not configured")
	}

	token := s.requestCounter.Add(1)
	s.setStatus(token, model.StatusQueued, "Submitting image prompt...", true)

	go func() {
		if s.cfg.Txt2ImgBackend == config.BackendGemini {
			s.runGenerateGemini(token, prompt)
			return
		}
		s.runGenerateComfy(token, prompt)
	}()
	return token, nil
}

// StartGeneratePBR kicks off an image-to-PBR job for the gallery entry at
// imageIndex and returns its request id.
func (s *Service) StartGeneratePBR(imageIndex int) (int64, error) {
	if s.cfg.PBRTemplatePath == "" {
		return 0, fmt.Errorf("PBR_TEMPLATE_PATH is not configured")
	}
	source, ok := s.session.Image(imageIndex)
	if !ok {
		return 0, fmt.Errorf("no generated image at index %d", imageIndex)
	}

	token := s.requestCounter.Add(1)
	s.setStatus(token, model.StatusQueued, "Uploading source image...", true)

	go s.runGeneratePBR(token, imageIndex, source)
	return token, nil
}

// Cancel supersedes the in-flight request and asks the backend to interrupt
// its current execution. The interrupt is best effort; a failure is logged
// and does not fail the cancel.
func (s *Service) Cancel() {
	token := s.requestCounter.Add(1)
	s.setStatus(token, "cancelled", "Cancelled.", false)

	client := comfy.NewClient(s.cfg)
	if err := client.Cancel(); err != nil {
		log.Printf("⚠️ [Texture] Interrupt request failed: %v", err)
	}
}

func (s *Service) runGenerateComfy(token int64, prompt string) {
	seed := s.nextSeed()
	label := s.timestampLabel()

	doc, err := workflow.LoadTemplate(s.cfg.Txt2ImgTemplatePath)
	if err != nil {
		s.fail(token, "Load template", err)
		return
	}
	workflow.PatchTxt2Img(doc, s.cfg.Txt2ImgBinding, prompt, seed, label)

	client := comfy.NewClient(s.cfg)
	s.setStatus(token, model.StatusQueued, fmt.Sprintf("Submitting image prompt (seed %d)...", seed), true)

	queued, err := client.QueuePrompt(doc)
	if err != nil {
		s.fail(token, "Queue prompt", err)
		return
	}
	if s.stale(token) {
		return
	}
	log.Printf("🎨 [Texture] Queued txt2img prompt %s", queued.PromptID)
	s.setStatus(token, model.StatusWaiting, fmt.Sprintf("Queued prompt %s. Waiting for output...", queued.PromptID), true)

	history, err := client.WaitForCompletion(queued.PromptID, queued.ClientID, func(progress float64) {
		s.setStatus(token, model.StatusWaiting, fmt.Sprintf("Generating images... %d%%", int(progress*100+0.5)), true)
	})
	if err != nil {
		s.fail(token, fmt.Sprintf("Wait for prompt %s", queued.PromptID), err)
		return
	}
	if s.stale(token) {
		return
	}

	refs, err := history.ExtractAllImages()
	if err != nil {
		s.fail(token, "Extract images", err)
		return
	}
	s.setStatus(token, model.StatusDownloading, "Downloading images...", true)

	var downloaded []GeneratedImage
	for i, ref := range refs {
		data, err := client.DownloadImage(ref)
		if err != nil {
			s.fail(token, fmt.Sprintf("Download %s", ref.Filename), err)
			return
		}
		name := label
		if len(refs) > 1 {
			name = fmt.Sprintf("%s_%02d", label, i+1)
		}
		downloaded = append(downloaded, GeneratedImage{Label: name, Data: data})
	}
	if s.stale(token) {
		return
	}

	for i := range downloaded {
		s.storeImage(&downloaded[i])
		s.session.AddImage(downloaded[i])
	}
	log.Printf("✅ [Texture] Downloaded %d image(s) for prompt %s", len(downloaded), queued.PromptID)
	s.setStatus(token, model.StatusCompleted, fmt.Sprintf("Downloaded %d image(s).", len(downloaded)), false)
}

func (s *Service) runGenerateGemini(token int64, prompt string) {
	svc, err := s.geminiService()
	if err != nil {
		s.fail(token, "Gemini client", err)
		return
	}

	s.setStatus(token, model.StatusWaiting, "Generating image with Gemini...", true)
	ctx, cancel := context.WithTimeout(context.Background(), s.cfg.RequestTimeout)
	defer cancel()

	data, err := svc.GenerateImage(ctx, prompt)
	if err != nil {
		s.fail(token, "Gemini generation", err)
		return
	}
	if s.stale(token) {
		return
	}

	img := GeneratedImage{Label: s.timestampLabel(), Data: data}
	s.storeImage(&img)
	s.session.AddImage(img)
	log.Printf("✅ [Texture] Gemini image generated (%d bytes)", len(data))
	s.setStatus(token, model.StatusCompleted, "Image generated.", false)
}

func (s *Service) runGeneratePBR(token int64, imageIndex int, source GeneratedImage) {
	client := comfy.NewClient(s.cfg)

	uploadName := utils.SanitizeLabel(source.Label, "source") + ".png"
	uploaded, err := client.UploadImage(source.Data, uploadName)
	if err != nil {
		s.fail(token, "Upload source image", err)
		return
	}
	if s.stale(token) {
		return
	}

	doc, err := workflow.LoadTemplate(s.cfg.PBRTemplatePath)
	if err != nil {
		s.fail(token, "Load template", err)
		return
	}
	if err := workflow.PatchPBRLoadImage(doc, s.cfg.PBRBinding, uploaded); err != nil {
		s.fail(token, "Bind load image node", err)
		return
	}

	queued, err := client.QueuePrompt(doc)
	if err != nil {
		s.fail(token, "Queue prompt", err)
		return
	}
	if s.stale(token) {
		return
	}
	log.Printf("🎨 [Texture] Queued PBR prompt %s for %s", queued.PromptID, source.Label)
	s.setStatus(token, model.StatusWaiting, fmt.Sprintf("Queued prompt %s. Waiting for PBR outputs...", queued.PromptID), true)

	history, err := client.WaitForCompletion(queued.PromptID, queued.ClientID, func(progress float64) {
		s.setStatus(token, model.StatusWaiting, fmt.Sprintf("Generating PBR maps... %d%%", int(progress*100+0.5)), true)
	})
	if err != nil {
		s.fail(token, fmt.Sprintf("Wait for prompt %s", queued.PromptID), err)
		return
	}
	if s.stale(token) {
		return
	}

	channels, err := history.ExtractChannels(s.cfg.PBRBinding)
	if err != nil {
		s.fail(token, "Extract PBR channels", err)
		return
	}
	s.setStatus(token, model.StatusDownloading, "Downloading PBR maps...", true)

	maps := &PBRMapSet{
		Label:       "PBR_" + source.Label,
		SourceLabel: source.Label,
		Channels:    make(map[string][]byte, len(model.ChannelNames)),
		Paths:       make(map[string]string, len(model.ChannelNames)),
	}
	for _, channel := range model.ChannelNames {
		data, err := client.DownloadImage(channels[channel])
		if err != nil {
			s.fail(token, fmt.Sprintf("Download %s map", channel), err)
			return
		}
		maps.Channels[channel] = data
	}
	if s.stale(token) {
		return
	}

	s.storePBRMaps(source.Label, maps)
	if !s.session.SetPBRMaps(imageIndex, maps) {
		s.fail(token, "Attach PBR maps", fmt.Errorf("gallery entry %d no longer exists", imageIndex))
		return
	}
	log.Printf("✅ [Texture] PBR maps ready for %s", source.Label)
	s.setStatus(token, model.StatusCompleted, fmt.Sprintf("PBR maps ready for %s.", source.Label), false)
}

// storeImage writes the PNG and a WebP preview into the cache and records the
// paths on the entry. Cache failures are logged, not fatal; the in-memory
// gallery is the source of truth.
func (s *Service) storeImage(img *GeneratedImage) {
	if s.cfg.CacheRoot == "" {
		return
	}
	if err := os.MkdirAll(s.cfg.CacheRoot, 0o755); err != nil {
		log.Printf("⚠️ [Texture] Cache dir create failed: %v", err)
		return
	}

	path := filepath.Join(s.cfg.CacheRoot, img.Label+".png")
	if err := os.WriteFile(path, img.Data, 0o644); err != nil {
		log.Printf("⚠️ [Texture] Cache write failed for %s: %v", img.Label, err)
		return
	}
	img.CachePath = path

	preview, err := utils.ConvertToWebP(img.Data, previewQuality)
	if err != nil {
		log.Printf("⚠️ [Texture] WebP preview failed for %s: %v", img.Label, err)
		return
	}
	previewPath := filepath.Join(s.cfg.CacheRoot, img.Label+".webp")
	if err := os.WriteFile(previewPath, preview, 0o644); err != nil {
		log.Printf("⚠️ [Texture] Preview write failed for %s: %v", img.Label, err)
		return
	}
	img.PreviewPath = previewPath
}

func (s *Service) storePBRMaps(sourceLabel string, maps *PBRMapSet) {
	if s.cfg.CacheRoot == "" {
		return
	}
	dir := filepath.Join(s.cfg.CacheRoot, sourceLabel)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		log.Printf("⚠️ [Texture] Cache dir create failed: %v", err)
		return
	}
	for _, channel := range model.ChannelNames {
		path := filepath.Join(dir, channel+".png")
		if err := os.WriteFile(path, maps.Channels[channel], 0o644); err != nil {
			log.Printf("⚠️ [Texture] Cache write failed for %s/%s: %v", sourceLabel, channel, err)
			continue
		}
		maps.Paths[channel] = path
	}
}

// setStatus updates the status only when token is still the current request.
func (s *Service) setStatus(token int64, phase, status string, running bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.requestCounter.Load() != token {
		return
	}
	s.status = status
	s.phase = phase
	s.running = running
}

func (s *Service) fail(token int64, context string, err error) {
	if s.stale(token) {
		log.Printf("⚠️ [Texture] Stale request %d failed after being superseded: %s: %v", token, context, err)
		return
	}
	log.Printf("❌ [Texture] %s: %v", context, err)
	s.setStatus(token, model.StatusFailed, fmt.Sprintf("%s: %v", context, err), false)
}

func (s *Service) stale(token int64) bool {
	return s.requestCounter.Load() != token
}

func (s *Service) geminiService() (*gemini.Service, error) {
	s.geminiOnce.Do(func() {
		s.geminiSvc, s.geminiErr = gemini.NewService(context.Background(), s.cfg)
	})
	return s.geminiSvc, s.geminiErr
}

func (s *Service) nextSeed() int64 {
	return (s.seedSource() + s.seedCounter.Add(1)) & math.MaxInt32
}

func (s *Service) timestampLabel() string {
	return "IMG_" + s.now().Format("0601021504")
}
