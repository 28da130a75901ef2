// Package qa answers questions about a remote document: it extracts and
// chunks the text, embeds the chunks, retrieves the closest chunks for each
// question and asks a model for all answers in one call.
package qa

import (
	"context"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"net/url"
	"path"
	"strings"

	htmltomarkdown "github.com/JohannesKaufmann/html-to-markdown/v2"
)

var (
	ErrUnsupportedFormat = errors.New("unsupported document format")
	ErrEmptyDocument     = errors.New("document has no text")
)

const maxDocumentBytes = 20 << 20

type Extractor struct {
	client       *http.Client
	chunkSize    int
	chunkOverlap int
}

func NewExtractor(client *http.Client, chunkSize, chunkOverlap int) *Extractor {
	if client == nil {
		client = http.DefaultClient
	}
	if chunkSize <= 0 {
		chunkSize = 200
	}
	if chunkOverlap < 0 || chunkOverlap >= chunkSize {
		chunkOverlap = 0
	}
	return &Extractor{client: client, chunkSize: chunkSize, chunkOverlap: chunkOverlap}
}

// ExtractChunks downloads the document and splits its text into
// overlapping word windows.
func (slf *Extractor) ExtractChunks(ctx context.Context, documentURL string) ([]string, error) {
	text, err := slf.ExtractText(ctx, documentURL)
	if err != nil {
		return nil, err
	}
	chunks := ChunkWords(text, slf.chunkSize, slf.chunkOverlap)
	if len(chunks) == 0 {
		return nil, ErrEmptyDocument
	}
	return chunks, nil
}

func (slf *Extractor) ExtractText(ctx context.Context, documentURL string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, documentURL, nil)
	if err != nil {
		return "", fmt.Errorf("invalid document url: %w", err)
	}
	resp, err := slf.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("failed to download document: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		return "", fmt.Errorf("failed to download document: HTTP %d", resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxDocumentBytes))
	if err != nil {
		return "", fmt.Errorf("failed to read document: %w", err)
	}

	switch documentFormat(documentURL, resp.Header.Get("Content-Type")) {
	case "html", "htm", "eml":
		markdown, err := htmltomarkdown.ConvertString(string(body))
		if err != nil {
			return "", fmt.Errorf("failed to convert document: %w", err)
		}
		return markdown, nil
	case "txt", "md", "csv", "json":
		return string(body), nil
	default:
		return "", ErrUnsupportedFormat
	}
}

// documentFormat prefers the file extension of the URL path and falls back
// to the response content type.
func documentFormat(documentURL, contentType string) string {
	if u, err := url.Parse(documentURL); err == nil {
		if ext := strings.TrimPrefix(strings.ToLower(path.Ext(u.Path)), "."); ext != "" {
			return ext
		}
	}
	mediaType, _, _ := mime.ParseMediaType(contentType)
	switch mediaType {
	case "text/html":
		return "html"
	case "message/rfc822":
		return "eml"
	case "text/plain":
		return "txt"
	case "text/markdown":
		return "md"
	case "text/csv":
		return "csv"
	case "application/json":
		return "json"
	}
	return ""
}

// ChunkWords splits text into windows of size words, each starting
// size-overlap words after the previous one.
func ChunkWords(text string, size, overlap int) []string {
	words := strings.Fields(text)
	if len(words) == 0 || size <= 0 {
		return nil
	}
	step := size - overlap
	if step <= 0 {
		step = size
	}

	var chunks []string
	for i := 0; i < len(words); i += step {
		end := min(i+size, len(words))
		chunks = append(chunks, strings.Join(words[i:end], " "))
		if end == len(words) {
			break
		}
	}
	return chunks
}
