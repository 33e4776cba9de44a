package texture

import "sync"

// PBRMapSet - the five labeled channel buffers produced for one source image.
// Channel-specific encoding semantics (color space flags and the like) belong
// to the editor-side consumer, not here.
type PBRMapSet struct {
	Label       string
	SourceLabel string
	Channels    map[string][]byte
	Paths       map[string]string
}

// GeneratedImage - one gallery entry
type GeneratedImage struct {
	Label       string
	Data        []byte
	CachePath   string
	PreviewPath string
	HasPBR      bool
	PBRMaps     *PBRMapSet
}

// Session - ordered gallery of generated images for the editor shell. Owned
// by the orchestration service; safe for concurrent access from the HTTP
// boundary and the worker goroutine.
type Session struct {
	mu     sync.RWMutex
	images []GeneratedImage
}

func NewSession() *Session {
	return &Session{}
}

// AddImage appends a gallery entry and returns its index.
func (s *Session) AddImage(img GeneratedImage) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.images = append(s.images, img)
	return len(s.images) - 1
}

// RemoveImage deletes the entry at index.
func (s *Session) RemoveImage(index int) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if index < 0 || index >= len(s.images) {
		return false
	}
	s.images = append(s.images[:index], s.images[index+1:]...)
	return true
}

// SetPBRMaps attaches a completed PBR set to the image at index.
func (s *Session) SetPBRMaps(index int, maps *PBRMapSet) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if index < 0 || index >= len(s.images) || maps == nil {
		return false
	}
	s.images[index].PBRMaps = maps
	s.images[index].HasPBR = true
	return true
}

// Image returns a copy of the entry at index.
func (s *Session) Image(index int) (GeneratedImage, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if index < 0 || index >= len(s.images) {
		return GeneratedImage{}, false
	}
	return s.images[index], true
}

// Images returns a snapshot of the gallery.
func (s *Session) Images() []GeneratedImage {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]GeneratedImage, len(s.images))
	copy(out, s.images)
	return out
}

// Count returns the number of gallery entries.
func (s *Session) Count() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.images)
}

// Reset clears the gallery.
func (s *Session) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.images = nil
}
