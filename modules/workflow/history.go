package workflow

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/KaKAOnz/Unreal-ChordGenerator/modules/common/config"
	"github.com/KaKAOnz/Unreal-ChordGenerator/modules/common/model"
)

// ErrNoImages - a completed history carried no downloadable image outputs
var ErrNoImages = errors.New("no images found in history outputs")

// MissingChannelError - one of the five mandatory PBR channels could not be
// resolved. The whole extraction fails; no partial channel map is returned.
type MissingChannelError struct {
	Channel string
}

func (e *MissingChannelError) Error() string {
	return fmt.Sprintf("missing PBR output for %s", e.Channel)
}

// History - an opaque ComfyUI job-history record. Enumeration order of job
// entries and output nodes is preserved from the server response so duplicate
// matches resolve deterministically.
type History struct {
	jobIDs []string
	jobs   map[string]*historyJob
}

type historyJob struct {
	errorField  string
	status      map[string]interface{}
	outputCount int
	outputKeys  []string
	outputs     map[string][]model.ImageReference
}

// ParseHistory - decode a raw history response
func ParseHistory(raw []byte) (*History, error) {
	top, err := parseOrderedObject(raw)
	if err != nil {
		return nil, fmt.Errorf("failed to parse history: %w", err)
	}

	h := &History{jobs: make(map[string]*historyJob)}
	for _, jobID := range top.keys {
		entry, err := parseOrderedObject(top.values[jobID])
		if err != nil {
			// non-object entries carry nothing extractable
			continue
		}

		job := &historyJob{outputs: make(map[string][]model.ImageReference)}

		if rawErr, ok := entry.values["error"]; ok {
			var msg string
			if json.Unmarshal(rawErr, &msg) == nil {
				job.errorField = msg
			}
		}
		if rawStatus, ok := entry.values["status"]; ok {
			var status map[string]interface{}
			if json.Unmarshal(rawStatus, &status) == nil {
				job.status = status
			}
		}

		if rawOutputs, ok := entry.values["outputs"]; ok {
			outputs, err := parseOrderedObject(rawOutputs)
			if err == nil {
				job.outputCount = len(outputs.keys)
				for _, nodeKey := range outputs.keys {
					var nodeOut struct {
						Images []model.ImageReference `json:"images"`
					}
					if json.Unmarshal(outputs.values[nodeKey], &nodeOut) != nil {
						continue
					}

					var refs []model.ImageReference
					for _, ref := range nodeOut.Images {
						if ref.Filename != "" {
							refs = append(refs, ref)
						}
					}
					if len(refs) > 0 {
						job.outputKeys = append(job.outputKeys, nodeKey)
						job.outputs[nodeKey] = refs
					}
				}
			}
		}

		h.jobIDs = append(h.jobIDs, jobID)
		h.jobs[jobID] = job
	}

	return h, nil
}

// ExtractAllImages - every output image reference in collection order: job
// entry order, then output node order, then array order.
func (h *History) ExtractAllImages() ([]model.ImageReference, error) {
	if h == nil {
		return nil, errors.New("no history data")
	}

	var images []model.ImageReference
	for _, jobID := range h.jobIDs {
		job := h.jobs[jobID]
		for _, nodeKey := range job.outputKeys {
			images = append(images, job.outputs[nodeKey]...)
		}
	}

	if len(images) == 0 {
		return nil, ErrNoImages
	}
	return images, nil
}

// ExtractChannels - resolve all five PBR channels. Explicit output node id
// wins; otherwise the first filename containing the channel hint (binding
// override, else the per-channel default) in collection order. Any missing
// channel fails the whole extraction.
func (h *History) ExtractChannels(binding config.PBRBinding) (map[string]model.ImageReference, error) {
	if h == nil {
		return nil, errors.New("no history data")
	}

	// flatten output groups across job entries, collection order
	var groupKeys []string
	groups := make(map[string][]model.ImageReference)
	for _, jobID := range h.jobIDs {
		job := h.jobs[jobID]
		for _, nodeKey := range job.outputKeys {
			if _, seen := groups[nodeKey]; !seen {
				groupKeys = append(groupKeys, nodeKey)
			}
			groups[nodeKey] = append(groups[nodeKey], job.outputs[nodeKey]...)
		}
	}

	channels := make(map[string]model.ImageReference, len(model.ChannelNames))
	for _, name := range model.ChannelNames {
		ref, ok := resolveChannel(binding.Channel(name), model.DefaultChannelHints[name], groupKeys, groups)
		if !ok {
			return nil, &MissingChannelError{Channel: name}
		}
		channels[name] = ref
	}

	return channels, nil
}

func resolveChannel(binding config.ChannelBinding, defaultHint string, groupKeys []string, groups map[string][]model.ImageReference) (model.ImageReference, bool) {
	if binding.NodeID >= 0 {
		if refs, ok := groups[strconv.Itoa(binding.NodeID)]; ok && len(refs) > 0 {
			return refs[0], true
		}
	}

	hint := binding.FilenameHintContains
	if hint == "" {
		hint = defaultHint
	}
	hint = strings.ToLower(hint)

	for _, key := range groupKeys {
		for _, ref := range groups[key] {
			if strings.Contains(strings.ToLower(ref.Filename), hint) {
				return ref, true
			}
		}
	}

	return model.ImageReference{}, false
}

// JobError - two-tier job failure check: an explicit error field first, then a
// status.status_str containing "error"/"fail" composed with any flattened
// status.messages. Runs before an absent-outputs entry is treated as still
// running.
func (h *History) JobError(jobID string) (string, bool) {
	if h == nil {
		return "", false
	}
	job, ok := h.jobs[jobID]
	if !ok {
		return "", false
	}

	if job.errorField != "" {
		return job.errorField, true
	}

	statusStr, _ := job.status["status_str"].(string)
	lower := strings.ToLower(statusStr)
	if statusStr == "" || (!strings.Contains(lower, "error") && !strings.Contains(lower, "fail")) {
		return "", false
	}

	var parts []string
	appendMessageStrings(job.status["messages"], &parts)
	if len(parts) == 0 {
		return fmt.Sprintf("ComfyUI status: %s", statusStr), true
	}
	return fmt.Sprintf("ComfyUI status: %s (%s)", statusStr, strings.Join(parts, " | ")), true
}

// HasOutputs reports whether the job entry's outputs map is non-empty, the
// polling-path completion signal.
func (h *History) HasOutputs(jobID string) bool {
	if h == nil {
		return false
	}
	job, ok := h.jobs[jobID]
	return ok && job.outputCount > 0
}

// appendMessageStrings - recursively flatten a messages value: strings pass
// through, arrays flatten, objects contribute their own "message" field.
func appendMessageStrings(value interface{}, out *[]string) {
	switch v := value.(type) {
	case string:
		*out = append(*out, v)
	case []interface{}:
		for _, inner := range v {
			appendMessageStrings(inner, out)
		}
	case map[string]interface{}:
		if msg, ok := v["message"].(string); ok {
			*out = append(*out, msg)
		}
	}
}

// orderedObject - a JSON object with its key order retained
type orderedObject struct {
	keys   []string
	values map[string]json.RawMessage
}

func parseOrderedObject(raw []byte) (*orderedObject, error) {
	dec := json.NewDecoder(bytes.NewReader(raw))

	tok, err := dec.Token()
	if err != nil {
		return nil, err
	}
	if delim, ok := tok.(json.Delim); !ok || delim != '{' {
		return nil, fmt.Errorf("expected JSON object")
	}

	obj := &orderedObject{values: make(map[string]json.RawMessage)}
	for dec.More() {
		keyTok, err := dec.Token()
		if err != nil {
			return nil, err
		}
		key := keyTok.(string)

		var value json.RawMessage
		if err := dec.Decode(&value); err != nil {
			return nil, err
		}

		obj.keys = append(obj.keys, key)
		obj.values[key] = value
	}

	return obj, nil
}
