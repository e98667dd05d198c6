package gateway

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/tidwall/gjson"
)

// ErrValidation marks input rejected before any request is sent.
var ErrValidation = errors.New("validation failed")

// APIError is a non-2xx answer. Message carries the server's own text.
type APIError struct {
	Status  int
	Message string
	Body    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("server returned %d: %s", e.Status, e.Message)
}

type Folder struct {
	ID   int64  `json:"id"`
	Name string `json:"name"`
}

// Mistake is an error marker as the server reports it. Times are ms.
type Mistake struct {
	ID      int64   `json:"id"`
	Time    float64 `json:"time"`
	Comment string  `json:"comment"`
}

type Record struct {
	ID             int64     `json:"id"`
	Name           string    `json:"name"`
	Folder         int64     `json:"folder"`
	Audio          string    `json:"audio"`
	Duration       float64   `json:"duration"`
	Errors         []Mistake `json:"errors"`
	PlaybackErrors []Mistake `json:"playbackErrors"`
}

// NewRecord is the payload of a save.
type NewRecord struct {
	Name     string
	Folder   int64
	Audio    []byte
	MimeType string
	Errors   []float64
	Duration float64
}

type RecordSummary struct {
	ID       int64     `json:"id"`
	Name     string    `json:"name"`
	Duration float64   `json:"duration"`
	Created  time.Time `json:"created"`
	Trash    bool      `json:"trash"`
}

// DateGroup holds the records of one day, formatted DD.MM.YYYY.
type DateGroup struct {
	Date    string          `json:"date"`
	Records []RecordSummary `json:"records"`
}

type FolderRecords struct {
	Folder Folder      `json:"folder"`
	Dates  []DateGroup `json:"dates"`
}

type Waveform struct {
	Duration float64   `json:"duration"`
	Peaks    []float64 `json:"peaks"`
}

// Client talks to the records API. Calls are never retried.
type Client struct {
	baseURL string
	http    *http.Client
}

func New(baseURL string, timeout time.Duration) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    &http.Client{Timeout: timeout},
	}
}

func (c *Client) BaseURL() string {
	return c.baseURL
}

func (c *Client) do(ctx context.Context, method, path string, payload interface{}) ([]byte, error) {
	var body io.Reader
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return nil, fmt.Errorf("failed to encode request: %w", err)
		}
		body = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return nil, fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	slog.Debug("API request", "method", method, "path", path)

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%s %s failed: %w", method, path, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response of %s %s: %w", method, path, err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		msg := strings.TrimSpace(string(raw))
		if gjson.ValidBytes(raw) {
			if e := gjson.GetBytes(raw, "error"); e.Exists() && e.String() != "" {
				msg = e.String()
			}
		}
		slog.Debug("API error", "method", method, "path", path, "status", resp.StatusCode, "message", msg)
		return nil, &APIError{Status: resp.StatusCode, Message: msg, Body: string(raw)}
	}
	return raw, nil
}

func decodeInto(raw []byte, v interface{}) error {
	if err := json.Unmarshal(raw, v); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}

func requireInt(raw []byte, field string) (int64, error) {
	r := gjson.GetBytes(raw, field)
	if !r.Exists() {
		return 0, fmt.Errorf("response is missing %q", field)
	}
	return r.Int(), nil
}

func (c *Client) ListFolders(ctx context.Context) ([]Folder, error) {
	raw, err := c.do(ctx, http.MethodGet, "/api/folders", nil)
	if err != nil {
		return nil, err
	}
	var folders []Folder
	if err := decodeInto(raw, &folders); err != nil {
		return nil, err
	}
	return folders, nil
}

func (c *Client) CreateFolder(ctx context.Context, name string) (Folder, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return Folder{}, fmt.Errorf("%w: folder name cannot be empty", ErrValidation)
	}
	raw, err := c.do(ctx, http.MethodPost, "/api/folders", map[string]string{"name": name})
	if err != nil {
		return Folder{}, err
	}
	id, err := requireInt(raw, "folder_id")
	if err != nil {
		return Folder{}, err
	}
	return Folder{ID: id, Name: name}, nil
}

// RenameFolder uses POST /api/folders/{id}.
func (c *Client) RenameFolder(ctx context.Context, id int64, name string) error {
	name = strings.TrimSpace(name)
	if name == "" {
		return fmt.Errorf("%w: folder name cannot be empty", ErrValidation)
	}
	_, err := c.do(ctx, http.MethodPost, fmt.Sprintf("/api/folders/%d", id), map[string]string{"name": name})
	return err
}

// DeleteFolder returns how many records were moved out of the folder.
func (c *Client) DeleteFolder(ctx context.Context, id int64) (int64, error) {
	raw, err := c.do(ctx, http.MethodDelete, fmt.Sprintf("/api/folders/%d", id), nil)
	if err != nil {
		return 0, err
	}
	return gjson.GetBytes(raw, "moved_files").Int(), nil
}

func (c *Client) FolderRecords(ctx context.Context, id int64) (*FolderRecords, error) {
	raw, err := c.do(ctx, http.MethodGet, fmt.Sprintf("/api/folders/%d/records", id), nil)
	if err != nil {
		return nil, err
	}
	var fr FolderRecords
	if err := decodeInto(raw, &fr); err != nil {
		return nil, err
	}
	return &fr, nil
}

func (c *Client) GetRecord(ctx context.Context, id int64) (*Record, error) {
	raw, err := c.do(ctx, http.MethodGet, fmt.Sprintf("/api/records/%d", id), nil)
	if err != nil {
		return nil, err
	}
	var rec Record
	if err := decodeInto(raw, &rec); err != nil {
		return nil, err
	}
	return &rec, nil
}

// CreateRecord uploads a recording; the audio travels as a base64 data URL.
func (c *Client) CreateRecord(ctx context.Context, rec NewRecord) (int64, error) {
	if strings.TrimSpace(rec.Name) == "" {
		return 0, fmt.Errorf("%w: record name cannot be empty", ErrValidation)
	}
	if len(rec.Audio) == 0 {
		return 0, fmt.Errorf("%w: no audio to save", ErrValidation)
	}

	errs := rec.Errors
	if errs == nil {
		errs = []float64{}
	}
	payload := map[string]interface{}{
		"name":     rec.Name,
		"folder":   rec.Folder,
		"audio":    EncodeDataURL(rec.Audio, rec.MimeType),
		"errors":   errs,
		"duration": rec.Duration,
	}

	raw, err := c.do(ctx, http.MethodPost, "/api/records", payload)
	if err != nil {
		return 0, err
	}
	return requireInt(raw, "record_id")
}

func (c *Client) RenameRecord(ctx context.Context, id int64, name string) error {
	name = strings.TrimSpace(name)
	if name == "" {
		return fmt.Errorf("%w: record name cannot be empty", ErrValidation)
	}
	_, err := c.do(ctx, http.MethodPost, fmt.Sprintf("/api/records/%d/rename", id), map[string]string{"name": name})
	return err
}

func (c *Client) TrashRecord(ctx context.Context, id int64) error {
	_, err := c.do(ctx, http.MethodPost, fmt.Sprintf("/api/records/%d/trash", id), nil)
	return err
}

func (c *Client) DeleteRecord(ctx context.Context, id int64) error {
	_, err := c.do(ctx, http.MethodDelete, fmt.Sprintf("/api/records/%d/delete", id), nil)
	return err
}

// AddError stores a playback error at timeMs and returns its mistake id.
func (c *Client) AddError(ctx context.Context, recordID int64, timeMs float64) (int64, error) {
	raw, err := c.do(ctx, http.MethodPost, fmt.Sprintf("/api/records/%d/errors", recordID), map[string]float64{"time": timeMs})
	if err != nil {
		return 0, err
	}
	return requireInt(raw, "mistake_id")
}

// SaveComment sets the comment of the error at timeMs. An empty comment clears it.
func (c *Client) SaveComment(ctx context.Context, recordID int64, timeMs float64, comment string) error {
	payload := map[string]interface{}{"time": timeMs, "comment": comment}
	_, err := c.do(ctx, http.MethodPost, fmt.Sprintf("/api/records/%d/errors/comment", recordID), payload)
	return err
}

func (c *Client) DeleteMistake(ctx context.Context, id int64) error {
	_, err := c.do(ctx, http.MethodDelete, fmt.Sprintf("/api/mistakes/%d", id), nil)
	return err
}

func (c *Client) GetWaveform(ctx context.Context, recordID int64) (*Waveform, error) {
	raw, err := c.do(ctx, http.MethodGet, fmt.Sprintf("/api/records/%d/waveform", recordID), nil)
	if err != nil {
		return nil, err
	}
	var wf Waveform
	if err := decodeInto(raw, &wf); err != nil {
		return nil, err
	}
	return &wf, nil
}

// FetchAudio resolves a record's audio reference: an inline data URL or a URL
// relative to the API base.
func (c *Client) FetchAudio(ctx context.Context, ref string) ([]byte, string, error) {
	if strings.HasPrefix(ref, "data:") {
		return DecodeDataURL(ref)
	}

	u, err := url.Parse(ref)
	if err != nil {
		return nil, "", fmt.Errorf("invalid audio reference: %w", err)
	}
	if !u.IsAbs() {
		ref = c.baseURL + "/" + strings.TrimLeft(ref, "/")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, ref, nil)
	if err != nil {
		return nil, "", fmt.Errorf("failed to build audio request: %w", err)
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, "", fmt.Errorf("failed to fetch audio: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, "", fmt.Errorf("failed to read audio: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, "", &APIError{Status: resp.StatusCode, Message: strings.TrimSpace(string(data)), Body: string(data)}
	}
	return data, resp.Header.Get("Content-Type"), nil
}

// EncodeDataURL wraps audio bytes as data:<mime>;base64,<payload>.
func EncodeDataURL(data []byte, mimeType string) string {
	if mimeType == "" {
		mimeType = "audio/wav"
	}
	return "data:" + mimeType + ";base64," + base64.StdEncoding.EncodeToString(data)
}

// DecodeDataURL accepts a data URL or a bare base64 payload.
func DecodeDataURL(s string) ([]byte, string, error) {
	mimeType := ""
	payload := s
	if strings.HasPrefix(s, "data:") {
		head, rest, ok := strings.Cut(s[len("data:"):], ",")
		if !ok {
			return nil, "", fmt.Errorf("malformed data URL")
		}
		mimeType = strings.TrimSuffix(head, ";base64")
		payload = rest
	}
	data, err := base64.StdEncoding.DecodeString(payload)
	if err != nil {
		return nil, "", fmt.Errorf("invalid base64 audio: %w", err)
	}
	return data, mimeType, nil
}
