package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/tidwall/gjson"

	"github.com/audiolibrelab/rehearse/internal/config"
	"github.com/audiolibrelab/rehearse/internal/gateway"
	"github.com/audiolibrelab/rehearse/internal/store"
	"github.com/audiolibrelab/rehearse/internal/waveform"
)

// maxUploadBytes bounds a JSON save request; audio travels base64 inline.
const maxUploadBytes = 512 << 20

// Server exposes the records API over a Store.
type Server struct {
	store      *store.Store
	visualizer config.VisualizerConfig
	listen     string
	mux        *http.ServeMux

	// transcode decodes the containers beep cannot, for waveform analysis
	transcode waveform.Transcoder
}

// GenericResponse is the body of mutations that return nothing else
type GenericResponse struct {
	Success bool   `json:"success"`
	Error   string `json:"error,omitempty"`
}

type FolderResponse struct {
	ID   int64  `json:"id"`
	Name string `json:"name"`
}

type MistakeResponse struct {
	ID      int64   `json:"id"`
	Time    float64 `json:"time"`
	Comment string  `json:"comment"`
}

// RecordResponse is a full record; times are milliseconds
type RecordResponse struct {
	ID             int64             `json:"id"`
	Name           string            `json:"name"`
	Folder         int64             `json:"folder"`
	Audio          string            `json:"audio"`
	Duration       float64           `json:"duration"`
	Errors         []MistakeResponse `json:"errors"`
	PlaybackErrors []MistakeResponse `json:"playbackErrors"`
}

// New creates a server over st using cfg for listen address and waveform geometry
func New(cfg *config.Config, st *store.Store) *Server {
	s := &Server{
		store:      st,
		visualizer: cfg.Visualizer,
		listen:     cfg.Server.Listen,
		mux:        http.NewServeMux(),
		transcode:  waveform.FFmpegTranscode,
	}
	s.routes()
	return s
}

func (s *Server) routes() {
	s.mux.HandleFunc("GET /api/folders", s.handleListFolders)
	s.mux.HandleFunc("POST /api/folders", s.handleCreateFolder)
	s.mux.HandleFunc("POST /api/folders/{id}", s.handleRenameFolder)
	s.mux.HandleFunc("POST /api/folders/{id}/rename", s.handleRenameFolder)
	s.mux.HandleFunc("DELETE /api/folders/{id}", s.handleDeleteFolder)
	s.mux.HandleFunc("GET /api/folders/{id}/records", s.handleFolderRecords)

	s.mux.HandleFunc("POST /api/records", s.handleSaveRecord)
	s.mux.HandleFunc("GET /api/records/{id}", s.handleGetRecord)
	s.mux.HandleFunc("GET /api/records/{id}/audio", s.handleRecordAudio)
	s.mux.HandleFunc("GET /api/records/{id}/waveform", s.handleWaveform)
	s.mux.HandleFunc("POST /api/records/{id}/rename", s.handleRenameRecord)
	s.mux.HandleFunc("POST /api/records/{id}/trash", s.handleTrashRecord)
	s.mux.HandleFunc("DELETE /api/records/{id}/delete", s.handleDeleteRecord)
	s.mux.HandleFunc("POST /api/records/{id}/errors", s.handleAddError)
	s.mux.HandleFunc("POST /api/records/{id}/errors/comment", s.handleErrorComment)

	s.mux.HandleFunc("DELETE /api/mistakes/{id}", s.handleDeleteMistake)
}

func (s *Server) Handler() http.Handler {
	return s.logRequests(s.mux)
}

// Start serves until ctx is cancelled
func (s *Server) Start(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.listen,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe()
	}()

	slog.Info("Starting rehearse server",
		"listen", s.listen,
		"local_url", fmt.Sprintf("http://%s%s", getLocalIP(), portSuffix(s.listen)))

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		slog.Info("Shutting down server")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	}
}

func (s *Server) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, r)
		slog.Debug("HTTP request", "method", r.Method, "path", r.URL.Path, "duration", time.Since(start))
	})
}

func (s *Server) handleListFolders(w http.ResponseWriter, r *http.Request) {
	folders := s.store.Folders()
	resp := make([]FolderResponse, 0, len(folders))
	for _, f := range folders {
		resp = append(resp, FolderResponse{ID: f.ID, Name: f.Name})
	}
	sendJSON(w, http.StatusOK, resp)
}

func (s *Server) handleCreateFolder(w http.ResponseWriter, r *http.Request) {
	body, ok := s.readBody(w, r)
	if !ok {
		return
	}
	f, err := s.store.CreateFolder(gjson.GetBytes(body, "name").String())
	if err != nil {
		s.sendStoreError(w, err, "op", "create_folder")
		return
	}
	sendJSON(w, http.StatusOK, map[string]interface{}{"success": true, "folder_id": f.ID})
}

func (s *Server) handleRenameFolder(w http.ResponseWriter, r *http.Request) {
	id, ok := s.pathID(w, r)
	if !ok {
		return
	}
	body, ok := s.readBody(w, r)
	if !ok {
		return
	}
	if err := s.store.RenameFolder(id, gjson.GetBytes(body, "name").String()); err != nil {
		s.sendStoreError(w, err, "op", "rename_folder", "folder_id", id)
		return
	}
	sendJSON(w, http.StatusOK, GenericResponse{Success: true})
}

func (s *Server) handleDeleteFolder(w http.ResponseWriter, r *http.Request) {
	id, ok := s.pathID(w, r)
	if !ok {
		return
	}
	moved, err := s.store.DeleteFolder(id)
	if err != nil {
		s.sendStoreError(w, err, "op", "delete_folder", "folder_id", id)
		return
	}
	sendJSON(w, http.StatusOK, map[string]interface{}{"success": true, "moved_files": moved})
}

// handleFolderRecords groups a folder's records by day, newest day first
func (s *Server) handleFolderRecords(w http.ResponseWriter, r *http.Request) {
	id, ok := s.pathID(w, r)
	if !ok {
		return
	}
	folder, err := s.store.Folder(id)
	if err != nil {
		s.sendStoreError(w, err, "op", "folder_records", "folder_id", id)
		return
	}
	records, err := s.store.RecordsInFolder(id)
	if err != nil {
		s.sendStoreError(w, err, "op", "folder_records", "folder_id", id)
		return
	}

	resp := gateway.FolderRecords{
		Folder: gateway.Folder{ID: folder.ID, Name: folder.Name},
		Dates:  []gateway.DateGroup{},
	}
	for _, rec := range records {
		day := rec.Created.Format("02.01.2006")
		if n := len(resp.Dates); n == 0 || resp.Dates[n-1].Date != day {
			resp.Dates = append(resp.Dates, gateway.DateGroup{Date: day})
		}
		g := &resp.Dates[len(resp.Dates)-1]
		g.Records = append(g.Records, gateway.RecordSummary{
			ID:       rec.ID,
			Name:     rec.Name,
			Duration: rec.Length * 1000,
			Created:  rec.Created,
			Trash:    rec.Trash,
		})
	}
	sendJSON(w, http.StatusOK, resp)
}

// handleSaveRecord accepts {name, folder, audio, errors, duration}; times in ms
func (s *Server) handleSaveRecord(w http.ResponseWriter, r *http.Request) {
	body, ok := s.readBody(w, r)
	if !ok {
		return
	}

	name := gjson.GetBytes(body, "name").String()
	folder := gjson.GetBytes(body, "folder").Int()
	audioField := gjson.GetBytes(body, "audio").String()
	duration := gjson.GetBytes(body, "duration")

	if strings.TrimSpace(name) == "" || folder == 0 || audioField == "" || !duration.Exists() {
		s.sendErrorResponse(w, http.StatusBadRequest, "Not all required fields are filled")
		return
	}

	audio, mimeType, err := gateway.DecodeDataURL(audioField)
	if err != nil {
		s.sendErrorResponse(w, http.StatusBadRequest, fmt.Sprintf("Invalid audio format: %v", err))
		return
	}

	var errorsSec []float64
	for _, e := range gjson.GetBytes(body, "errors").Array() {
		errorsSec = append(errorsSec, e.Float()/1000)
	}

	rec, err := s.store.CreateRecord(store.NewRecord{
		Name:     name,
		FolderID: folder,
		Audio:    audio,
		Ext:      audioExt(mimeType, audio),
		Length:   duration.Float() / 1000,
		Errors:   errorsSec,
	})
	if err != nil {
		s.sendStoreError(w, err, "op", "save_record", "folder_id", folder)
		return
	}
	sendJSON(w, http.StatusOK, map[string]interface{}{"success": true, "record_id": rec.ID})
}

func (s *Server) handleGetRecord(w http.ResponseWriter, r *http.Request) {
	id, ok := s.pathID(w, r)
	if !ok {
		return
	}
	rec, mistakes, err := s.store.Record(id)
	if err != nil {
		s.sendStoreError(w, err, "op", "get_record", "record_id", id)
		return
	}
	audio, err := s.store.ReadAudio(rec)
	if err != nil {
		s.sendStoreError(w, err, "op", "get_record", "record_id", id)
		return
	}

	resp := RecordResponse{
		ID:             rec.ID,
		Name:           rec.Name,
		Folder:         rec.FolderID,
		Audio:          gateway.EncodeDataURL(audio, contentType(rec.AudioFile)),
		Duration:       rec.Length * 1000,
		Errors:         []MistakeResponse{},
		PlaybackErrors: []MistakeResponse{},
	}
	for _, m := range mistakes {
		mr := MistakeResponse{ID: m.ID, Time: m.Time * 1000, Comment: m.Comment}
		switch m.Type {
		case store.MistakeRecording:
			resp.Errors = append(resp.Errors, mr)
		case store.MistakePlayback:
			resp.PlaybackErrors = append(resp.PlaybackErrors, mr)
		}
	}
	sendJSON(w, http.StatusOK, resp)
}

// handleRecordAudio streams the raw audio file with range support
func (s *Server) handleRecordAudio(w http.ResponseWriter, r *http.Request) {
	id, ok := s.pathID(w, r)
	if !ok {
		return
	}
	rec, _, err := s.store.Record(id)
	if err != nil {
		s.sendStoreError(w, err, "op", "record_audio", "record_id", id)
		return
	}

	w.Header().Set("Content-Type", contentType(rec.AudioFile))
	w.Header().Set("Accept-Ranges", "bytes")
	http.ServeFile(w, r, s.store.AudioPath(rec))
}

// handleWaveform returns per-bar peaks, analysing and caching on first request
func (s *Server) handleWaveform(w http.ResponseWriter, r *http.Request) {
	id, ok := s.pathID(w, r)
	if !ok {
		return
	}
	rec, _, err := s.store.Record(id)
	if err != nil {
		s.sendStoreError(w, err, "op", "waveform", "record_id", id)
		return
	}
	durationMs := rec.Length * 1000

	bars := waveform.TotalBars(s.visualizer)
	peaks, cached, err := s.store.Peaks(id, bars)
	if err != nil {
		slog.Warn("Ignoring unreadable peaks cache", "record_id", id, "error", err)
	}
	if !cached {
		audio, err := waveform.DecodeFile(r.Context(), s.store.AudioPath(rec), s.transcode)
		if errors.Is(err, os.ErrNotExist) {
			s.sendStoreError(w, fmt.Errorf("audio file %s: %w", rec.AudioFile, store.ErrNotFound), "op", "waveform", "record_id", id)
			return
		}
		if err != nil {
			s.sendErrorResponse(w, http.StatusUnprocessableEntity, fmt.Sprintf("Cannot analyse audio: %v", err), "record_id", id)
			return
		}
		peaks = waveform.Peaks(waveform.Analyze(audio.Mono, durationMs, s.visualizer))
		if err := s.store.PutPeaks(id, peaks); err != nil {
			slog.Warn("Failed to cache peaks", "record_id", id, "error", err)
		}
	}

	sendJSON(w, http.StatusOK, gateway.Waveform{Duration: durationMs, Peaks: peaks})
}

func (s *Server) handleRenameRecord(w http.ResponseWriter, r *http.Request) {
	id, ok := s.pathID(w, r)
	if !ok {
		return
	}
	body, ok := s.readBody(w, r)
	if !ok {
		return
	}
	if err := s.store.RenameRecord(id, gjson.GetBytes(body, "name").String()); err != nil {
		s.sendStoreError(w, err, "op", "rename_record", "record_id", id)
		return
	}
	sendJSON(w, http.StatusOK, GenericResponse{Success: true})
}

func (s *Server) handleTrashRecord(w http.ResponseWriter, r *http.Request) {
	id, ok := s.pathID(w, r)
	if !ok {
		return
	}
	if err := s.store.TrashRecord(id); err != nil {
		s.sendStoreError(w, err, "op", "trash_record", "record_id", id)
		return
	}
	sendJSON(w, http.StatusOK, GenericResponse{Success: true})
}

func (s *Server) handleDeleteRecord(w http.ResponseWriter, r *http.Request) {
	id, ok := s.pathID(w, r)
	if !ok {
		return
	}
	if err := s.store.DeleteRecord(id); err != nil {
		s.sendStoreError(w, err, "op", "delete_record", "record_id", id)
		return
	}
	sendJSON(w, http.StatusOK, GenericResponse{Success: true})
}

func (s *Server) handleAddError(w http.ResponseWriter, r *http.Request) {
	id, ok := s.pathID(w, r)
	if !ok {
		return
	}
	body, ok := s.readBody(w, r)
	if !ok {
		return
	}
	t := gjson.GetBytes(body, "time")
	if !t.Exists() || t.Type != gjson.Number {
		s.sendErrorResponse(w, http.StatusBadRequest, "Error time is required")
		return
	}

	m, err := s.store.AddMistake(id, t.Float()/1000, store.MistakePlayback)
	if err != nil {
		s.sendStoreError(w, err, "op", "add_error", "record_id", id)
		return
	}
	sendJSON(w, http.StatusOK, map[string]interface{}{"success": true, "mistake_id": m.ID})
}

func (s *Server) handleErrorComment(w http.ResponseWriter, r *http.Request) {
	id, ok := s.pathID(w, r)
	if !ok {
		return
	}
	body, ok := s.readBody(w, r)
	if !ok {
		return
	}
	t := gjson.GetBytes(body, "time")
	if !t.Exists() || t.Type != gjson.Number {
		s.sendErrorResponse(w, http.StatusBadRequest, "Error time is required")
		return
	}

	if err := s.store.SetComment(id, t.Float()/1000, gjson.GetBytes(body, "comment").String()); err != nil {
		s.sendStoreError(w, err, "op", "error_comment", "record_id", id)
		return
	}
	sendJSON(w, http.StatusOK, GenericResponse{Success: true})
}

func (s *Server) handleDeleteMistake(w http.ResponseWriter, r *http.Request) {
	id, ok := s.pathID(w, r)
	if !ok {
		return
	}
	if err := s.store.DeleteMistake(id); err != nil {
		s.sendStoreError(w, err, "op", "delete_mistake", "mistake_id", id)
		return
	}
	sendJSON(w, http.StatusOK, GenericResponse{Success: true})
}

func (s *Server) pathID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	raw := r.PathValue("id")
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id <= 0 {
		s.sendErrorResponse(w, http.StatusBadRequest, fmt.Sprintf("Invalid id: %q", raw))
		return 0, false
	}
	return id, true
}

// readBody reads a JSON body; an empty body is treated as {}
func (s *Server) readBody(w http.ResponseWriter, r *http.Request) ([]byte, bool) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxUploadBytes))
	if err != nil {
		s.sendErrorResponse(w, http.StatusRequestEntityTooLarge, "Request body too large")
		return nil, false
	}
	if len(strings.TrimSpace(string(body))) == 0 {
		return []byte("{}"), true
	}
	if !gjson.ValidBytes(body) {
		s.sendErrorResponse(w, http.StatusBadRequest, "Invalid JSON payload")
		return nil, false
	}
	return body, true
}

// sendStoreError maps store errors to HTTP statuses
func (s *Server) sendStoreError(w http.ResponseWriter, err error, logContext ...interface{}) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, store.ErrNotFound):
		status = http.StatusNotFound
	case errors.Is(err, store.ErrInvalid), errors.Is(err, store.ErrProtectedFolder):
		status = http.StatusBadRequest
	}
	s.sendErrorResponse(w, status, err.Error(), logContext...)
}

// sendErrorResponse logs the error and sends a JSON error response to the client
func (s *Server) sendErrorResponse(w http.ResponseWriter, statusCode int, errorMsg string, logContext ...interface{}) {
	logFields := []interface{}{"error_message", errorMsg, "status_code", statusCode}
	if len(logContext) > 0 {
		logFields = append(logFields, logContext...)
	}
	if statusCode >= http.StatusInternalServerError {
		slog.Error("Sending error response to client", logFields...)
	} else {
		slog.Warn("Sending error response to client", logFields...)
	}

	sendJSON(w, statusCode, GenericResponse{Success: false, Error: errorMsg})
}

func sendJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Debug("Failed to write response", "error", err)
	}
}

func contentType(fileName string) string {
	ext := strings.ToLower(filepath.Ext(fileName))
	// some systems don't register these
	switch ext {
	case ".flac":
		return "audio/flac"
	case ".wav":
		return "audio/wav"
	}
	if ct := mime.TypeByExtension(ext); ct != "" {
		return ct
	}
	return "application/octet-stream"
}

func audioExt(mimeType string, data []byte) string {
	if ext := waveform.Sniff(data); ext != "" {
		return ext
	}
	switch {
	case strings.Contains(mimeType, "flac"):
		return "flac"
	case strings.Contains(mimeType, "webm"):
		return "webm"
	case strings.Contains(mimeType, "ogg"):
		return "ogg"
	}
	return "wav"
}

func portSuffix(listen string) string {
	if _, port, err := net.SplitHostPort(listen); err == nil {
		return ":" + port
	}
	return ""
}

func getLocalIP() string {
	conn, err := net.Dial("udp", "8.8.8.8:80")
	if err != nil {
		return "localhost"
	}
	defer conn.Close()

	localAddr := conn.LocalAddr().(*net.UDPAddr)
	return localAddr.IP.String()
}
