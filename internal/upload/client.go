package upload

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"net/url"
	"strings"
	"sync/atomic"
	"time"
	"unicode"

	validation "github.com/go-ozzo/ozzo-validation/v4"
	"github.com/rs/zerolog"

	"facesync/internal/config"
	"facesync/internal/media/sniffer"
	"facesync/internal/models"
)

// maxResponseBytes caps how much of a processing service answer is read.
const maxResponseBytes = 4 << 20

// HandleReader turns a handle URI into the image bytes.
type HandleReader interface {
	Read(ctx context.Context, uri string, limit int64) ([]byte, error)
}

// Client talks to the face processing service. Each Submit is exactly one
// HTTP request; nothing is retried or queued.
type Client struct {
	cfg     config.ProcessingConfig
	baseURL string
	http    *http.Client
	source  HandleReader
	log     zerolog.Logger
	now     func() time.Time
	seq     atomic.Uint64
}

func NewClient(cfg config.ProcessingConfig, source HandleReader, log zerolog.Logger) *Client {
	return &Client{
		cfg:     cfg,
		baseURL: strings.TrimSuffix(cfg.BaseURL, "/"),
		http:    &http.Client{Timeout: cfg.Timeout},
		source:  source,
		log:     log,
		now:     time.Now,
	}
}

// WithHTTPClient swaps the transport, mainly for tests.
func (c *Client) WithHTTPClient(hc *http.Client) *Client {
	c.http = hc
	return c
}

func validateHandle(handle models.ImageHandle) error {
	err := validation.ValidateStruct(&handle,
		validation.Field(&handle.URI, validation.Required.Error("image handle uri is required")),
		validation.Field(&handle.MimeType, validation.In(
			"image/jpeg", "image/jpg", "image/png", "image/webp", "image/bmp",
		).Error("unsupported image type")),
		validation.Field(&handle.DisplayName, validation.By(printable)),
	)
	if err != nil {
		return fmt.Errorf("%w: %v", models.ErrValidation, err)
	}
	return nil
}

func printable(value interface{}) error {
	name, _ := value.(string)
	if strings.IndexFunc(name, unicode.IsControl) >= 0 {
		return errors.New("display name contains control characters")
	}
	return nil
}

// Submit sends one image for face processing on behalf of userID.
func (c *Client) Submit(ctx context.Context, handle models.ImageHandle, userID string) (models.UploadResult, error) {
	handle.MimeType = sniffer.NormalizeMIME(handle.MimeType)
	if err := validateHandle(handle); err != nil {
		return failed(""), err
	}
	if strings.TrimSpace(userID) == "" {
		return failed(""), fmt.Errorf("%w: user id is required", models.ErrAuth)
	}

	data, err := c.source.Read(ctx, handle.URI, c.cfg.MaxUploadBytes)
	if err != nil {
		return failed(""), fmt.Errorf("read handle: %w", err)
	}

	detected, err := sniffer.DetectHead(head(data))
	if err != nil {
		return failed(""), fmt.Errorf("%w: %v", models.ErrValidation, err)
	}
	if handle.MimeType != "" && canonicalMIME(handle.MimeType) != detected.MIME {
		return failed(""), fmt.Errorf("%w: content type mismatch: declared %s, actual %s", models.ErrValidation, handle.MimeType, detected.MIME)
	}

	fileName := c.fileName(detected)
	body, contentType, err := buildMultipart(data, fileName, detected.MIME, userID)
	if err != nil {
		return failed(""), fmt.Errorf("%w: build payload: %v", models.ErrValidation, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+c.cfg.UploadPath, body)
	if err != nil {
		return failed(""), fmt.Errorf("%w: build request: %v", models.ErrValidation, err)
	}
	req.Header.Set("Content-Type", contentType)
	req.Header.Set("Accept", "application/json")

	c.log.Debug().
		Str("user_id", userID).
		Str("file_name", fileName).
		Int("size_bytes", len(data)).
		Msg("submitting image")

	status, respBody, err := c.do(req)
	if err != nil {
		return failed(""), err
	}

	result, err := decodeUpload(status, respBody)
	if err != nil {
		c.log.Warn().Err(err).Str("user_id", userID).Int("status", status).Msg("upload rejected")
		return result, err
	}
	result.FileName = fileName

	c.log.Info().
		Str("user_id", userID).
		Str("file_name", fileName).
		Int("cropped", len(result.CroppedURLs)).
		Str("status", string(result.Status)).
		Msg("image processed")

	return result, nil
}

// ListImages returns the original image URLs the service holds for userID.
func (c *Client) ListImages(ctx context.Context, userID string) ([]string, error) {
	return c.list(ctx, c.cfg.ImagesPath, userID)
}

// ListCroppedImages returns the cropped face URLs the service holds for userID.
func (c *Client) ListCroppedImages(ctx context.Context, userID string) ([]string, error) {
	return c.list(ctx, c.cfg.CroppedImagesPath, userID)
}

func (c *Client) list(ctx context.Context, path, userID string) ([]string, error) {
	if strings.TrimSpace(userID) == "" {
		return nil, fmt.Errorf("%w: user id is required", models.ErrAuth)
	}

	endpoint := c.baseURL + path + "?" + url.Values{"user_id": {userID}}.Encode()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: build request: %v", models.ErrValidation, err)
	}
	req.Header.Set("Accept", "application/json")

	status, body, err := c.do(req)
	if err != nil {
		return nil, err
	}
	return decodeList(status, body)
}

func (c *Client) do(req *http.Request) (int, []byte, error) {
	resp, err := c.http.Do(req)
	if err != nil {
		return 0, nil, fmt.Errorf("%w: %s %s: %w", models.ErrNetwork, req.Method, req.URL.Path, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return 0, nil, fmt.Errorf("%w: read response: %w", models.ErrNetwork, err)
	}
	return resp.StatusCode, body, nil
}

// fileName derives a per-submission name from the clock and the sniffed
// format, e.g. captured_image_1718000000000_3.jpg. The client's display name
// never reaches the part header.
func (c *Client) fileName(detected sniffer.Result) string {
	ext := detected.Extension()
	if ext == "" {
		ext = "jpg"
	}
	return fmt.Sprintf("captured_image_%d_%d.%s", c.now().UnixMilli(), c.seq.Add(1), ext)
}

var quoteEscaper = strings.NewReplacer("\\", "\\\\", `"`, "\\\"")

func buildMultipart(data []byte, fileName, mimeType, userID string) (*bytes.Buffer, string, error) {
	body := &bytes.Buffer{}
	w := multipart.NewWriter(body)

	header := make(textproto.MIMEHeader)
	header.Set("Content-Disposition", fmt.Sprintf(`form-data; name="file"; filename="%s"`, quoteEscaper.Replace(fileName)))
	header.Set("Content-Type", mimeType)
	part, err := w.CreatePart(header)
	if err != nil {
		return nil, "", err
	}
	if _, err := part.Write(data); err != nil {
		return nil, "", err
	}
	if err := w.WriteField("user_id", userID); err != nil {
		return nil, "", err
	}
	if err := w.Close(); err != nil {
		return nil, "", err
	}
	return body, w.FormDataContentType(), nil
}

func head(data []byte) []byte {
	if len(data) > 512 {
		return data[:512]
	}
	return data
}

func canonicalMIME(m string) string {
	if m == "image/jpg" {
		return "image/jpeg"
	}
	return m
}
