package workflow

import (
	"bytes"
	"encoding/json"
	"fmt"
	"log"
	"os"
	"strings"

	"github.com/KaKAOnz/Unreal-ChordGenerator/modules/common/config"
	"github.com/KaKAOnz/Unreal-ChordGenerator/modules/common/model"
)

// Document - a ComfyUI API prompt template. Node enumeration order is the
// document's insertion order, kept as a first-class property so that binding
// tie-breaks stay reproducible across runs.
type Document struct {
	keys  []string
	nodes map[string]map[string]interface{}
}

// LoadTemplate - read and parse a workflow template JSON file
func LoadTemplate(path string) (*Document, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read template at %s: %w", path, err)
	}

	doc, err := ParseDocument(raw)
	if err != nil {
		return nil, fmt.Errorf("invalid JSON template %s: %w", path, err)
	}
	return doc, nil
}

// ParseDocument - decode a top-level JSON object keeping key order
func ParseDocument(raw []byte) (*Document, error) {
	dec := json.NewDecoder(bytes.NewReader(raw))

	tok, err := dec.Token()
	if err != nil {
		return nil, err
	}
	if delim, ok := tok.(json.Delim); !ok || delim != '{' {
		return nil, fmt.Errorf("template root must be a JSON object")
	}

	doc := &Document{nodes: make(map[string]map[string]interface{})}
	for dec.More() {
		keyTok, err := dec.Token()
		if err != nil {
			return nil, err
		}
		key := keyTok.(string)

		var node map[string]interface{}
		if err := dec.Decode(&node); err != nil {
			return nil, fmt.Errorf("node %q: %w", key, err)
		}

		doc.keys = append(doc.keys, key)
		doc.nodes[key] = node
	}

	return doc, nil
}

// MarshalJSON - serialize preserving node insertion order
func (d *Document) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, key := range d.keys {
		if i > 0 {
			buf.WriteByte(',')
		}
		keyJSON, err := json.Marshal(key)
		if err != nil {
			return nil, err
		}
		nodeJSON, err := json.Marshal(d.nodes[key])
		if err != nil {
			return nil, err
		}
		buf.Write(keyJSON)
		buf.WriteByte(':')
		buf.Write(nodeJSON)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

// NodeKeys returns node keys in document order.
func (d *Document) NodeKeys() []string {
	return d.keys
}

// Node returns the node object for a key.
func (d *Document) Node(key string) (map[string]interface{}, bool) {
	node, ok := d.nodes[key]
	return node, ok
}

func nodeInputs(node map[string]interface{}) (map[string]interface{}, bool) {
	inputs, ok := node["inputs"].(map[string]interface{})
	return inputs, ok
}

func matchesIdentifier(key string, node map[string]interface{}, identifier string) bool {
	if identifier == "" {
		return false
	}
	if strings.EqualFold(key, identifier) {
		return true
	}
	if title, ok := node["title"].(string); ok && strings.EqualFold(title, identifier) {
		return true
	}
	return false
}

// ResolveNode - locate a node by explicit identifier (key or title,
// case-insensitive, first match in document order), falling back to the first
// node whose inputs contain inputName when the identifier does not resolve.
func (d *Document) ResolveNode(identifier, inputName string) (string, bool) {
	for _, key := range d.keys {
		if matchesIdentifier(key, d.nodes[key], identifier) {
			return key, true
		}
	}

	if inputName != "" {
		for _, key := range d.keys {
			if inputs, ok := nodeInputs(d.nodes[key]); ok {
				if _, has := inputs[inputName]; has {
					return key, true
				}
			}
		}
	}

	return "", false
}

// SetInput - overwrite one input field on a node
func (d *Document) SetInput(nodeKey, inputName string, value interface{}) bool {
	node, ok := d.nodes[nodeKey]
	if !ok {
		return false
	}
	inputs, ok := nodeInputs(node)
	if !ok {
		return false
	}
	inputs[inputName] = value
	return true
}

// PatchImageInput - point an image input at an uploaded reference. When the
// existing value is an object the sub-fields are updated in place, preserving
// wrapper structure the resolver knows nothing about. Otherwise a plain
// "subfolder/filename" string is written.
func (d *Document) PatchImageInput(nodeKey, inputName string, ref model.ImageReference) bool {
	node, ok := d.nodes[nodeKey]
	if !ok {
		return false
	}
	inputs, ok := nodeInputs(node)
	if !ok {
		return false
	}

	if existing, ok := inputs[inputName].(map[string]interface{}); ok {
		if _, has := existing["filename"]; has {
			existing["filename"] = ref.Filename
		} else {
			existing["image"] = ref.Filename
		}
		if ref.Subfolder != "" {
			existing["subfolder"] = ref.Subfolder
		}
		if ref.Type != "" {
			existing["type"] = ref.Type
		}
		return true
	}

	inputs[inputName] = ref.ResolvedName()
	return true
}

// PatchTxt2Img - resolve the prompt/seed/filename-prefix bindings into a
// freshly loaded text-to-image template. Unresolved prompt/seed bindings are
// logged and skipped, matching templates that hardcode those inputs.
func PatchTxt2Img(doc *Document, binding config.Txt2ImgBinding, prompt string, seed int64, filenamePrefix string) {
	if key, ok := doc.ResolveNode(binding.PromptNodeIdentifier, binding.PromptInputName); ok {
		doc.SetInput(key, binding.PromptInputName, prompt)
	} else {
		log.Printf("⚠️ [Workflow] No node found for prompt input %q", binding.PromptInputName)
	}

	if key, ok := doc.ResolveNode(binding.SeedNodeIdentifier, binding.SeedInputName); ok {
		doc.SetInput(key, binding.SeedInputName, seed)
	} else {
		log.Printf("⚠️ [Workflow] No node found for seed input %q", binding.SeedInputName)
	}

	if filenamePrefix != "" {
		if key, ok := doc.ResolveNode("", "filename_prefix"); ok {
			doc.SetInput(key, "filename_prefix", filenamePrefix)
		}
	}
}

// PatchPBRLoadImage - bind the uploaded source image into the PBR template's
// load-image node. Unlike the txt2img bindings this one is mandatory.
func PatchPBRLoadImage(doc *Document, binding config.PBRBinding, uploaded model.ImageReference) error {
	key, ok := doc.ResolveNode(binding.LoadImageNodeIdentifier, binding.LoadImageInputName)
	if !ok {
		return fmt.Errorf("unable to find load-image node in PBR template")
	}

	if !doc.PatchImageInput(key, binding.LoadImageInputName, uploaded) {
		return fmt.Errorf("node %q has no inputs object", key)
	}
	return nil
}
