package vision

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
)

// Extraction is the structured reading of one image.
type Extraction struct {
	EntityName         string  `json:"entity_name"`
	EntityType         string  `json:"entity_type"`
	SuggestedOperation string  `json:"suggested_operation"`
	Confidence         float64 `json:"confidence"`
	Reasoning          string  `json:"reasoning"`

	// Older prompt vocabulary, still emitted by some models.
	TripName       string `json:"trip_name"`
	DetectedAction string `json:"detected_action"`
}

func (e *Extraction) normalize() {
	if e.EntityName == "" && e.TripName != "" {
		e.EntityName = e.TripName
		if e.EntityType == "" {
			e.EntityType = "trip"
		}
	}
	if e.SuggestedOperation == "" {
		e.SuggestedOperation = e.DetectedAction
	}
	e.EntityName = strings.TrimSpace(e.EntityName)
	switch {
	case e.Confidence < 0:
		e.Confidence = 0
	case e.Confidence > 1:
		e.Confidence = 1
	}
}

// ParseExtraction pulls the extraction object out of free model text. Code
// fences and prose around the object are ignored.
func ParseExtraction(raw string) (*Extraction, error) {
	block := firstObject(withoutFences(raw))
	if block == "" {
		return nil, fmt.Errorf("%w: no JSON object in reply", ErrInvalidOutput)
	}
	var ext Extraction
	if err := json.Unmarshal([]byte(block), &ext); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidOutput, err)
	}
	ext.normalize()
	return &ext, nil
}

func withoutFences(s string) string {
	lines := strings.Split(s, "\n")
	kept := lines[:0]
	for _, line := range lines {
		if strings.HasPrefix(strings.TrimSpace(line), "```") {
			continue
		}
		kept = append(kept, line)
	}
	return strings.Join(kept, "\n")
}

// firstObject returns the first balanced {...} block, honoring strings.
func firstObject(s string) string {
	start := strings.IndexByte(s, '{')
	if start < 0 {
		return ""
	}
	depth := 0
	inString, escaped := false, false
	for i := start; i < len(s); i++ {
		c := s[i]
		switch {
		case escaped:
			escaped = false
		case inString && c == '\\':
			escaped = true
		case c == '"':
			inString = !inString
		case inString:
		case c == '{':
			depth++
		case c == '}':
			depth--
			if depth == 0 {
				return s[start : i+1]
			}
		}
	}
	return ""
}

var supportedMedia = map[string]bool{
	"image/png":  true,
	"image/jpeg": true,
	"image/gif":  true,
	"image/webp": true,
}

// MediaType sniffs the image format.
func MediaType(image []byte) (string, error) {
	if len(image) == 0 {
		return "", fmt.Errorf("%w: empty upload", ErrUnsupportedMedia)
	}
	mt := http.DetectContentType(image)
	if !supportedMedia[mt] {
		return "", fmt.Errorf("%w: %s", ErrUnsupportedMedia, mt)
	}
	return mt, nil
}

// DecodeImage accepts raw base64 or a data URL.
func DecodeImage(encoded string) ([]byte, error) {
	encoded = strings.TrimSpace(encoded)
	if strings.HasPrefix(encoded, "data:") {
		i := strings.Index(encoded, ",")
		if i < 0 {
			return nil, fmt.Errorf("%w: malformed data URL", ErrUnsupportedMedia)
		}
		encoded = encoded[i+1:]
	}
	data, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return nil, fmt.Errorf("%w: decode base64: %v", ErrUnsupportedMedia, err)
	}
	return data, nil
}
