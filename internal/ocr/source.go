package ocr

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/ppiankov/petitrace/internal/model"
	"github.com/ppiankov/petitrace/internal/util"
	"github.com/ppiankov/petitrace/internal/worker"
)

// DirSource reads <id>.json, <id>.hocr or <id>.html from a directory
type DirSource struct {
	Dir string
}

// Load reads and parses the OCR file for documentID
func (s DirSource) Load(ctx context.Context, documentID string) (*Document, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if strings.ContainsAny(documentID, `/\`) || documentID == "" || documentID == "." || documentID == ".." {
		return nil, fmt.Errorf("%w: document id %q", model.ErrInvalidInput, documentID)
	}

	for _, ext := range []string{".json", ".hocr", ".html"} {
		path := filepath.Join(s.Dir, documentID+ext)
		data, err := os.ReadFile(path)
		if errors.Is(err, os.ErrNotExist) {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("read %s: %w", path, err)
		}
		return decode(data, ext == ".json", documentID)
	}
	return nil, model.NotFound("document", documentID)
}

// HTTPSource fetches OCR output from an OCR service at
// {BaseURL}/documents/{id}. JSON and hOCR responses are both accepted.
type HTTPSource struct {
	baseURL    string
	httpClient *http.Client
	limiter    *worker.Limiter
	userAgent  string
	maxBytes   int64
}

// NewHTTPSource creates a source for the OCR service at baseURL
func NewHTTPSource(baseURL string, timeout time.Duration, maxBytes int64, limiter *worker.Limiter) *HTTPSource {
	client := util.NewHTTPClient(util.HTTPOptions{Timeout: timeout, RetryMax: 2})
	client.CheckRedirect = func(req *http.Request, via []*http.Request) error {
		if len(via) >= 3 {
			return fmt.Errorf("stopped after 3 redirects")
		}
		return nil
	}
	if maxBytes <= 0 {
		maxBytes = 20_000_000
	}
	return &HTTPSource{
		baseURL:    strings.TrimSuffix(baseURL, "/"),
		httpClient: client,
		limiter:    limiter,
		userAgent:  "petitrace/0.1",
		maxBytes:   maxBytes,
	}
}

// Load fetches and parses the OCR output for documentID
func (s *HTTPSource) Load(ctx context.Context, documentID string) (*Document, error) {
	rawURL := s.baseURL + "/documents/" + url.PathEscape(documentID)

	if err := s.limiter.Wait(ctx, worker.HostKey(rawURL)); err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("User-Agent", s.userAgent)
	req.Header.Set("Accept", "application/json, text/html;q=0.9")

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return nil, &model.ExtractionError{Op: "ocr fetch " + documentID, Cause: err, Retryable: true}
	}
	defer func() { _ = resp.Body.Close() }()

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return nil, model.NotFound("document", documentID)
	case resp.StatusCode < 200 || resp.StatusCode >= 300:
		return nil, &model.ExtractionError{
			Op:        "ocr fetch " + documentID,
			Cause:     fmt.Errorf("unexpected status: %d", resp.StatusCode),
			Retryable: resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests,
		}
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, s.maxBytes+1))
	if err != nil {
		return nil, fmt.Errorf("read body: %w", err)
	}
	if int64(len(body)) > s.maxBytes {
		return nil, fmt.Errorf("%w: OCR output for %s exceeds %d bytes", model.ErrInvalidInput, documentID, s.maxBytes)
	}

	isJSON := strings.Contains(resp.Header.Get("Content-Type"), "json")
	return decode(body, isJSON, documentID)
}

func decode(data []byte, isJSON bool, documentID string) (*Document, error) {
	if !isJSON {
		trimmed := bytes.TrimSpace(data)
		isJSON = len(trimmed) > 0 && trimmed[0] == '{'
	}
	if !isJSON {
		return ParseHOCR(bytes.NewReader(data), documentID)
	}

	var doc Document
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("decode OCR JSON for %s: %w", documentID, err)
	}
	if doc.ID == "" {
		doc.ID = documentID
	}
	if doc.ID != documentID {
		return nil, fmt.Errorf("%w: OCR output is for %q, wanted %q", model.ErrInvalidInput, doc.ID, documentID)
	}
	return &doc, nil
}
