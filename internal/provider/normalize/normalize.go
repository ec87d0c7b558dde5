// Package normalize holds the inference heuristics shared by every provider
// family: the resolution ladder, progress arithmetic, episode title joining,
// and hardware-accelerator detection from codec strings.
package normalize

import (
	"strconv"
	"strings"

	"streamwarden/internal/models"
)

// Resolution maps a pixel height onto the display ladder. Heights below the
// ladder keep their raw value so unusual sources stay distinguishable.
func Resolution(height int) string {
	switch {
	case height <= 0:
		return ""
	case height >= 2160:
		return "4K"
	case height >= 1080:
		return "1080p"
	case height >= 720:
		return "720p"
	case height >= 480:
		return "480p"
	default:
		return strconv.Itoa(height) + "p"
	}
}

// ResolutionLabel normalizes a backend-reported resolution label. Bare
// numbers get a "p" suffix; "4k" is canonicalized.
func ResolutionLabel(r string) string {
	if r == "" {
		return ""
	}
	if strings.EqualFold(r, "4k") || strings.EqualFold(r, "2160") {
		return "4K"
	}
	if _, err := strconv.Atoi(r); err == nil {
		return r + "p"
	}
	return r
}

// Height inverts Resolution: the pixel height a display label stands for.
// Unparseable labels report 0.
func Height(label string) int {
	label = strings.TrimSpace(label)
	if label == "" {
		return 0
	}
	if strings.EqualFold(label, "4k") {
		return 2160
	}
	if n, err := strconv.Atoi(strings.TrimSuffix(strings.ToLower(label), "p")); err == nil && n > 0 {
		return n
	}
	return 0
}

// ProgressPct recomputes percent from elapsed/duration. Backends report
// their own percentages inconsistently, so theirs are never trusted.
func ProgressPct(progressMs, durationMs int64) float64 {
	if durationMs <= 0 {
		return 0
	}
	return float64(progressMs) / float64(durationMs) * 100
}

// FullTitle joins show, season, and episode titles for episodes; every
// other media type uses the bare title.
func FullTitle(mediaType models.MediaType, title, parentTitle, grandparentTitle string) string {
	if mediaType != models.MediaTypeEpisode {
		return title
	}
	parts := make([]string, 0, 3)
	for _, p := range []string{grandparentTitle, parentTitle, title} {
		if p != "" {
			parts = append(parts, p)
		}
	}
	return strings.Join(parts, " - ")
}

// Accelerator suffixes as they appear in transcoder codec strings, e.g.
// "h264_vaapi" or "hevc_nvenc".
var accelerators = []struct {
	suffix string
	label  string
}{
	{"vaapi", "VAAPI"},
	{"qsv", "Intel QuickSync"},
	{"nvenc", "NVIDIA NVENC"},
	{"nvdec", "NVIDIA NVDEC"},
	{"videotoolbox", "Apple VideoToolbox"},
	{"amf", "AMD AMF"},
}

// Accelerator reports the human-readable accelerator name embedded in a
// codec string, if any.
func Accelerator(codec string) (string, bool) {
	c := strings.ToLower(codec)
	for _, a := range accelerators {
		if strings.HasSuffix(c, "_"+a.suffix) || c == a.suffix {
			return a.label, true
		}
	}
	return "", false
}

// AcceleratorLabel maps a backend-reported acceleration type (e.g. Emby's
// HardwareAccelerationType) onto the same labels as Accelerator.
func AcceleratorLabel(accelType string) string {
	t := strings.ToLower(strings.TrimSpace(accelType))
	if t == "" || t == "none" {
		return ""
	}
	for _, a := range accelerators {
		if t == a.suffix {
			return a.label
		}
	}
	return accelType
}
