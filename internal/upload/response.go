package upload

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"facesync/internal/models"
)

// payload covers every response shape the processing service has produced:
// the flat upload answer, list answers, a nested "result" object and the
// FastAPI tuple form [body, status].
type payload struct {
	Message          string          `json:"message"`
	Error            string          `json:"error"`
	Detail           json.RawMessage `json:"detail"`
	OriginalImageURL string          `json:"original_image_url"`
	CroppedImages    []string        `json:"cropped_images"`
	Images           []string        `json:"images"`
	Failed           []string        `json:"failed"`
	Result           json.RawMessage `json:"result"`

	keys map[string]struct{}
}

var knownKeys = []string{
	"message", "error", "detail", "original_image_url", "cropped_images", "images", "failed", "result",
}

func (p *payload) has(key string) bool {
	_, ok := p.keys[key]
	return ok
}

func (p *payload) recognized() bool {
	for _, k := range knownKeys {
		if p.has(k) {
			return true
		}
	}
	return false
}

func (p *payload) errorMessage() string {
	if p.Error != "" {
		return p.Error
	}
	if len(p.Detail) > 0 {
		var s string
		if err := json.Unmarshal(p.Detail, &s); err == nil {
			return s
		}
		return string(p.Detail)
	}
	return p.Message
}

// parsePayload decodes body, unwrapping the tuple form. The returned status
// is the tuple status when present, otherwise httpStatus.
func parsePayload(httpStatus int, body []byte) (*payload, int, error) {
	body = bytes.TrimSpace(body)
	status := httpStatus

	if len(body) > 0 && body[0] == '[' {
		var tuple []json.RawMessage
		if err := json.Unmarshal(body, &tuple); err != nil || len(tuple) != 2 {
			return nil, status, fmt.Errorf("%w: unrecognized response array", models.ErrValidation)
		}
		var code int
		if err := json.Unmarshal(tuple[1], &code); err != nil {
			return nil, status, fmt.Errorf("%w: unrecognized response array", models.ErrValidation)
		}
		body, status = tuple[0], code
	}

	p, err := decodeObject(body)
	if err != nil {
		return nil, status, err
	}

	if len(p.Result) > 0 && !bytes.Equal(p.Result, []byte("null")) {
		nested, err := decodeObject(p.Result)
		if err != nil {
			return nil, status, err
		}
		if nested.Message == "" {
			nested.Message = p.Message
		}
		p = nested
	}

	return p, status, nil
}

func decodeObject(body []byte) (*payload, error) {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(body, &raw); err != nil {
		return nil, fmt.Errorf("%w: response is not a json object", models.ErrValidation)
	}

	var p payload
	if err := json.Unmarshal(body, &p); err != nil {
		return nil, fmt.Errorf("%w: decode response: %v", models.ErrValidation, err)
	}
	p.keys = make(map[string]struct{}, len(raw))
	for k := range raw {
		p.keys[k] = struct{}{}
	}
	if !p.recognized() {
		return nil, fmt.Errorf("%w: unrecognized response shape", models.ErrValidation)
	}
	return &p, nil
}

// rejection turns a non-success answer into the matching error kind.
func rejection(status int, p *payload) error {
	msg := ""
	if p != nil {
		msg = p.errorMessage()
	}
	if status == http.StatusUnauthorized || status == http.StatusForbidden {
		if msg == "" {
			msg = http.StatusText(status)
		}
		return fmt.Errorf("%w: processing service: %s", models.ErrAuth, msg)
	}
	return &models.ServiceError{StatusCode: status, Message: msg}
}

func success(status int) bool {
	return status >= 200 && status < 300
}

// decodeUpload adapts any upload response into an UploadResult.
func decodeUpload(httpStatus int, body []byte) (models.UploadResult, error) {
	p, status, err := parsePayload(httpStatus, body)
	if err != nil {
		if !success(httpStatus) {
			return failed(""), rejection(httpStatus, nil)
		}
		return failed(""), err
	}

	if !success(status) || p.Error != "" {
		if success(status) {
			status = http.StatusBadGateway
		}
		return failed(p.errorMessage()), rejection(status, p)
	}

	if strings.TrimSpace(p.OriginalImageURL) == "" {
		if !p.has("original_image_url") && !p.has("cropped_images") {
			return failed(p.Message), fmt.Errorf("%w: upload response carries no image urls", models.ErrValidation)
		}
		return failed(p.Message), &models.ServiceError{StatusCode: status, Message: "response missing original_image_url"}
	}

	result := models.UploadResult{
		OriginalURL: p.OriginalImageURL,
		CroppedURLs: make([]string, 0, len(p.CroppedImages)),
		Status:      models.UploadStatusSuccess,
		Message:     p.Message,
	}
	for _, u := range p.CroppedImages {
		if strings.TrimSpace(u) == "" {
			result.Status = models.UploadStatusPartialFailure
			continue
		}
		result.CroppedURLs = append(result.CroppedURLs, u)
	}
	if len(p.Failed) > 0 {
		result.Status = models.UploadStatusPartialFailure
	}
	return result, nil
}

// decodeList adapts a list endpoint answer. Either list key is accepted.
func decodeList(httpStatus int, body []byte) ([]string, error) {
	p, status, err := parsePayload(httpStatus, body)
	if err != nil {
		if !success(httpStatus) {
			return nil, rejection(httpStatus, nil)
		}
		return nil, err
	}
	if !success(status) || p.Error != "" {
		if success(status) {
			status = http.StatusBadGateway
		}
		return nil, rejection(status, p)
	}

	var urls []string
	switch {
	case p.has("images"):
		urls = p.Images
	case p.has("cropped_images"):
		urls = p.CroppedImages
	default:
		return nil, fmt.Errorf("%w: list response carries no image urls", models.ErrValidation)
	}

	out := make([]string, 0, len(urls))
	for _, u := range urls {
		if strings.TrimSpace(u) != "" {
			out = append(out, u)
		}
	}
	return out, nil
}

func failed(message string) models.UploadResult {
	return models.UploadResult{Status: models.UploadStatusFailure, Message: message}
}
