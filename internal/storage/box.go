package storage

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/starford/surveybox/internal/apperr"
	"github.com/starford/surveybox/internal/metrics"
	"github.com/starford/surveybox/internal/models"
)

// Default Box endpoints.
const (
	DefaultBoxAPIURL    = "https://api.box.com/2.0"
	DefaultBoxUploadURL = "https://upload.box.com/api/2.0"
)

const (
	listPageSize = 1000
	csvMediaType = "text/csv"
	// DefaultMaxResponseBytes bounds any single response read into memory.
	DefaultMaxResponseBytes = 256 << 20
)

// TokenSource supplies bearer tokens for Box calls. Invalidate is called
// when Box rejects a token so the next Token call fetches a fresh one.
type TokenSource interface {
	Token(ctx context.Context) (string, error)
	Invalidate()
}

// BoxOptions configures a Box client.
type BoxOptions struct {
	APIURL          string
	UploadURL       string
	ListTimeout     time.Duration
	TransferTimeout time.Duration
	// MaxResponseBytes caps response bodies; larger ones are an error.
	MaxResponseBytes int64
	Logger           *slog.Logger
}

// Compile-time interface satisfaction check.
var _ Provider = (*Box)(nil)

// Box implements Provider against the Box Content API v2.0.
type Box struct {
	http            *http.Client
	tokens          TokenSource
	apiURL          string
	uploadURL       string
	listTimeout     time.Duration
	transferTimeout time.Duration
	maxBody         int64
	logger          *slog.Logger
}

// NewBox creates a Box client. httpClient may be nil.
func NewBox(httpClient *http.Client, tokens TokenSource, opts BoxOptions) *Box {
	if httpClient == nil {
		httpClient = &http.Client{}
	}
	if opts.APIURL == "" {
		opts.APIURL = DefaultBoxAPIURL
	}
	if opts.UploadURL == "" {
		opts.UploadURL = DefaultBoxUploadURL
	}
	if opts.ListTimeout <= 0 {
		opts.ListTimeout = 10 * time.Second
	}
	if opts.TransferTimeout <= 0 {
		opts.TransferTimeout = 60 * time.Second
	}
	if opts.MaxResponseBytes <= 0 {
		opts.MaxResponseBytes = DefaultMaxResponseBytes
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &Box{
		http:            httpClient,
		tokens:          tokens,
		apiURL:          strings.TrimRight(opts.APIURL, "/"),
		uploadURL:       strings.TrimRight(opts.UploadURL, "/"),
		listTimeout:     opts.ListTimeout,
		transferTimeout: opts.TransferTimeout,
		maxBody:         opts.MaxResponseBytes,
		logger:          opts.Logger,
	}
}

type boxEntry struct {
	Type string `json:"type"`
	ID   string `json:"id"`
	Name string `json:"name"`
}

type boxItems struct {
	TotalCount int        `json:"total_count"`
	Entries    []boxEntry `json:"entries"`
}

// ListFolder pages through GET /folders/{id}/items.
func (b *Box) ListFolder(ctx context.Context, folderID string) ([]models.DirectoryEntry, error) {
	var out []models.DirectoryEntry
	for offset := 0; ; {
		q := url.Values{}
		q.Set("fields", "id,name,type")
		q.Set("limit", strconv.Itoa(listPageSize))
		q.Set("offset", strconv.Itoa(offset))
		endpoint := fmt.Sprintf("%s/folders/%s/items?%s", b.apiURL, url.PathEscape(folderID), q.Encode())

		resp, err := b.do(ctx, "list", b.listTimeout, func(ctx context.Context) (*http.Request, error) {
			return http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
		})
		if err != nil {
			return nil, err
		}
		if resp.status != http.StatusOK {
			return nil, fmt.Errorf("box: list folder %s: status %d: %w", folderID, resp.status, listStatusError(resp.status))
		}

		var page boxItems
		if err := json.Unmarshal(resp.body, &page); err != nil {
			return nil, fmt.Errorf("box: decode folder items: %w", err)
		}
		for _, e := range page.Entries {
			out = append(out, models.DirectoryEntry{ID: e.ID, Name: e.Name, Kind: entryKind(e.Type)})
		}
		offset += len(page.Entries)
		if len(page.Entries) == 0 || offset >= page.TotalCount {
			break
		}
	}
	if out == nil {
		out = []models.DirectoryEntry{}
	}
	return out, nil
}

// listStatusError classifies a failed listing. Throttling and server errors
// are transient so probes retry them; anything else means the folder cannot
// be listed.
func listStatusError(status int) error {
	if transient(status) {
		return apperr.ErrTransport
	}
	return apperr.ErrNotFound
}

func transient(status int) bool {
	return status == http.StatusTooManyRequests || status >= http.StatusInternalServerError
}

func entryKind(t string) models.EntryKind {
	switch t {
	case "file":
		return models.KindFile
	case "folder":
		return models.KindFolder
	default:
		return models.KindOther
	}
}

// Upload creates a file via POST upload/files/content.
func (b *Box) Upload(ctx context.Context, folderID, name string, content []byte) (string, error) {
	attrs := map[string]any{"name": name, "parent": map[string]string{"id": folderID}}
	resp, err := b.do(ctx, "upload", b.transferTimeout, func(ctx context.Context) (*http.Request, error) {
		return multipartRequest(ctx, b.uploadURL+"/files/content", attrs, name, content)
	})
	if err != nil {
		return "", err
	}
	switch resp.status {
	case http.StatusCreated, http.StatusOK:
	case http.StatusConflict:
		return "", fmt.Errorf("box: upload %s: %w", name, apperr.ErrConflict)
	default:
		b.logger.Debug("box: upload rejected", slog.Int("status", resp.status), slog.String("body", truncate(resp.body)))
		return "", fmt.Errorf("box: upload %s: status %d", name, resp.status)
	}

	var created boxItems
	if err := json.Unmarshal(resp.body, &created); err != nil {
		return "", fmt.Errorf("box: decode upload response: %w", err)
	}
	if len(created.Entries) == 0 {
		return "", fmt.Errorf("box: upload %s: empty response", name)
	}
	return created.Entries[0].ID, nil
}

// Download fetches GET /files/{id}/content, following the redirect to the
// download host.
func (b *Box) Download(ctx context.Context, fileID string) ([]byte, error) {
	endpoint := fmt.Sprintf("%s/files/%s/content", b.apiURL, url.PathEscape(fileID))
	resp, err := b.do(ctx, "download", b.transferTimeout, func(ctx context.Context) (*http.Request, error) {
		return http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	})
	if err != nil {
		return nil, err
	}
	switch resp.status {
	case http.StatusOK:
		return resp.body, nil
	case http.StatusNotFound:
		return nil, fmt.Errorf("box: download %s: %w", fileID, apperr.ErrNotFound)
	default:
		if transient(resp.status) {
			return nil, fmt.Errorf("box: download %s: status %d: %w", fileID, resp.status, apperr.ErrTransport)
		}
		return nil, fmt.Errorf("box: download %s: status %d", fileID, resp.status)
	}
}

// UpdateContent uploads a new version via POST upload/files/{id}/content.
func (b *Box) UpdateContent(ctx context.Context, fileID, name string, content []byte) error {
	endpoint := fmt.Sprintf("%s/files/%s/content", b.uploadURL, url.PathEscape(fileID))
	attrs := map[string]any{"name": name}
	resp, err := b.do(ctx, "update", b.transferTimeout, func(ctx context.Context) (*http.Request, error) {
		return multipartRequest(ctx, endpoint, attrs, name, content)
	})
	if err != nil {
		return err
	}
	switch resp.status {
	case http.StatusCreated, http.StatusOK:
		return nil
	case http.StatusNotFound:
		return fmt.Errorf("box: update %s: %w", fileID, apperr.ErrNotFound)
	case http.StatusConflict:
		return fmt.Errorf("box: update %s: %w", fileID, apperr.ErrConflict)
	default:
		b.logger.Debug("box: update rejected", slog.Int("status", resp.status), slog.String("body", truncate(resp.body)))
		return fmt.Errorf("box: update %s: status %d", fileID, resp.status)
	}
}

// Rename changes a file's name via PUT /files/{id}.
func (b *Box) Rename(ctx context.Context, fileID, newName string) error {
	endpoint := fmt.Sprintf("%s/files/%s", b.apiURL, url.PathEscape(fileID))
	payload, err := json.Marshal(map[string]string{"name": newName})
	if err != nil {
		return err
	}
	resp, err := b.do(ctx, "rename", b.listTimeout, func(ctx context.Context) (*http.Request, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodPut, endpoint, bytes.NewReader(payload))
		if err != nil {
			return nil, err
		}
		req.Header.Set("Content-Type", "application/json")
		return req, nil
	})
	if err != nil {
		return err
	}
	switch resp.status {
	case http.StatusOK:
		return nil
	case http.StatusNotFound:
		return fmt.Errorf("box: rename %s: %w", fileID, apperr.ErrNotFound)
	case http.StatusConflict:
		return fmt.Errorf("box: rename %s to %s: %w", fileID, newName, apperr.ErrConflict)
	default:
		return fmt.Errorf("box: rename %s: status %d", fileID, resp.status)
	}
}

type boxResponse struct {
	status int
	body   []byte
}

// do sends one authenticated request built by build. A 401 invalidates the
// cached token and the request is sent once more with a fresh one; a second
// 401 is apperr.ErrAuth. Network failures wrap apperr.ErrTransport.
func (b *Box) do(ctx context.Context, op string, timeout time.Duration, build func(context.Context) (*http.Request, error)) (*boxResponse, error) {
	for attempt := 0; attempt < 2; attempt++ {
		token, err := b.tokens.Token(ctx)
		if err != nil {
			return nil, err
		}
		resp, err := b.send(ctx, op, timeout, token, build)
		if err != nil {
			return nil, err
		}
		if resp.status != http.StatusUnauthorized {
			return resp, nil
		}
		b.logger.Warn("box: token rejected, invalidating", slog.String("operation", op), slog.Int("attempt", attempt+1))
		b.tokens.Invalidate()
	}
	return nil, fmt.Errorf("box: %s: token rejected after refresh: %w", op, apperr.ErrAuth)
}

func (b *Box) send(ctx context.Context, op string, timeout time.Duration, token string, build func(context.Context) (*http.Request, error)) (*boxResponse, error) {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	req, err := build(ctx)
	if err != nil {
		return nil, fmt.Errorf("box: build %s request: %w", op, err)
	}
	req.Header.Set("Authorization", "Bearer "+token)

	started := time.Now()
	resp, err := b.http.Do(req)
	if err != nil {
		metrics.ObserveBackend(op, "error", started)
		return nil, fmt.Errorf("box: %s: %w: %v", op, apperr.ErrTransport, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, b.maxBody+1))
	if err != nil {
		metrics.ObserveBackend(op, "error", started)
		return nil, fmt.Errorf("box: %s: read body: %w: %v", op, apperr.ErrTransport, err)
	}
	// A truncated download would be merged as if it were the whole file.
	if int64(len(body)) > b.maxBody {
		metrics.ObserveBackend(op, "error", started)
		return nil, fmt.Errorf("box: %s: response exceeds %d bytes", op, b.maxBody)
	}
	metrics.ObserveBackend(op, metrics.StatusClass(resp.StatusCode), started)
	return &boxResponse{status: resp.StatusCode, body: body}, nil
}

func multipartRequest(ctx context.Context, endpoint string, attrs map[string]any, filename string, content []byte) (*http.Request, error) {
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)

	attrJSON, err := json.Marshal(attrs)
	if err != nil {
		return nil, err
	}
	// Box requires attributes before the file part.
	if err := mw.WriteField("attributes", string(attrJSON)); err != nil {
		return nil, err
	}

	h := make(textproto.MIMEHeader)
	h.Set("Content-Disposition", fmt.Sprintf(`form-data; name="file"; filename=%q`, filename))
	h.Set("Content-Type", csvMediaType)
	part, err := mw.CreatePart(h)
	if err != nil {
		return nil, err
	}
	if _, err := part.Write(content); err != nil {
		return nil, err
	}
	if err := mw.Close(); err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, &buf)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())
	return req, nil
}

func truncate(b []byte) string {
	const limit = 512
	if len(b) > limit {
		return string(b[:limit]) + "..."
	}
	return string(b)
}
