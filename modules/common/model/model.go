package model

// ImageReference - the three-part address ComfyUI uses to locate a stored image
type ImageReference struct {
	Filename  string `json:"filename"`
	Subfolder string `json:"subfolder"`
	Type      string `json:"type"`
}

// ResolvedName - "subfolder/filename" form used when patching string-valued
// image inputs. The subfolder is only prepended when non-empty.
func (r ImageReference) ResolvedName() string {
	if r.Subfolder == "" {
		return r.Filename
	}
	return r.Subfolder + "/" + r.Filename
}

// PBR channel names in fixed resolution order. All five are mandatory for a
// completed PBR job - there is no partial material.
const (
	ChannelBaseColor = "BaseColor"
	ChannelNormal    = "Normal"
	ChannelRoughness = "Roughness"
	ChannelMetallic  = "Metallic"
	ChannelHeight    = "Height"
)

// ChannelNames - channel resolution order for PBR extraction
var ChannelNames = []string{
	ChannelBaseColor,
	ChannelNormal,
	ChannelRoughness,
	ChannelMetallic,
	ChannelHeight,
}

// DefaultChannelHints - per-channel filename substrings used when a channel
// binding supplies no explicit hint
var DefaultChannelHints = map[string]string{
	ChannelBaseColor: "basecolor",
	ChannelNormal:    "normal",
	ChannelRoughness: "roughness",
	ChannelMetallic:  "metallic",
	ChannelHeight:    "height",
}

const (
	StatusQueued      = "queued"
	StatusWaiting     = "waiting"
	StatusDownloading = "downloading"
	StatusCompleted   = "completed"
	StatusFailed      = "failed"
)
