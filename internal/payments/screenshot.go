package payments

import (
	"encoding/base64"
	"errors"
	"fmt"
	"net/http"
	"strings"
)

// MaxScreenshotBytes is the upload ceiling for payment screenshots.
const MaxScreenshotBytes = 5 << 20

var (
	// ErrInvalidScreenshot is the parent of every screenshot validation failure.
	ErrInvalidScreenshot = errors.New("invalid screenshot")
	// ErrScreenshotEmpty is returned for zero-length uploads.
	ErrScreenshotEmpty = fmt.Errorf("%w: screenshot is empty", ErrInvalidScreenshot)
	// ErrScreenshotTooLarge is returned when the upload exceeds MaxScreenshotBytes.
	ErrScreenshotTooLarge = fmt.Errorf("%w: screenshot exceeds 5 MB", ErrInvalidScreenshot)
	// ErrScreenshotNotImage is returned when the content is not a supported image.
	ErrScreenshotNotImage = fmt.Errorf("%w: screenshot must be a PNG, JPEG, GIF or WebP image", ErrInvalidScreenshot)
)

var allowedScreenshotTypes = map[string]string{
	"image/png":  "png",
	"image/jpeg": "jpg",
	"image/gif":  "gif",
	"image/webp": "webp",
}

// Screenshot is an uploaded proof-of-payment image.
type Screenshot struct {
	Data        []byte
	ContentType string
	FileName    string
}

// Size returns the byte length of the image.
func (s Screenshot) Size() int64 {
	return int64(len(s.Data))
}

// Extension returns the file extension matching the sniffed content type.
func (s Screenshot) Extension() string {
	if ext, ok := allowedScreenshotTypes[s.ContentType]; ok {
		return ext
	}
	return "bin"
}

// ValidateScreenshot checks size and sniffs the content type, returning the screenshot with
// ContentType set to the detected type. Declared types are not trusted.
func ValidateScreenshot(s Screenshot) (Screenshot, error) {
	if len(s.Data) == 0 {
		return s, ErrScreenshotEmpty
	}
	if len(s.Data) > MaxScreenshotBytes {
		return s, ErrScreenshotTooLarge
	}
	detected := http.DetectContentType(s.Data)
	if _, ok := allowedScreenshotTypes[detected]; !ok {
		return s, ErrScreenshotNotImage
	}
	s.ContentType = detected
	return s, nil
}

// ParseDataURL decodes a base64 data URL ("data:image/png;base64,...") into a Screenshot.
// Bare base64 payloads without the data: prefix are accepted.
func ParseDataURL(value string) (Screenshot, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return Screenshot{}, ErrScreenshotEmpty
	}
	declared := ""
	payload := value
	if strings.HasPrefix(value, "data:") {
		header, data, ok := strings.Cut(value, ",")
		if !ok || !strings.HasSuffix(header, ";base64") {
			return Screenshot{}, fmt.Errorf("%w: malformed data url", ErrInvalidScreenshot)
		}
		declared = strings.TrimSuffix(strings.TrimPrefix(header, "data:"), ";base64")
		payload = data
	}
	// base64 expands by 4/3; reject before decoding oversized payloads
	if base64.StdEncoding.DecodedLen(len(payload)) > MaxScreenshotBytes+3 {
		return Screenshot{}, ErrScreenshotTooLarge
	}
	decoded, err := base64.StdEncoding.DecodeString(payload)
	if err != nil {
		return Screenshot{}, fmt.Errorf("%w: invalid base64 payload", ErrInvalidScreenshot)
	}
	return Screenshot{Data: decoded, ContentType: declared}, nil
}

// EncodeDataURL renders the screenshot as a base64 data URL.
func EncodeDataURL(s Screenshot) string {
	contentType := s.ContentType
	if contentType == "" {
		contentType = http.DetectContentType(s.Data)
	}
	return "data:" + contentType + ";base64," + base64.StdEncoding.EncodeToString(s.Data)
}
