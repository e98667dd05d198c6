package store

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"
	"os"
	"path/filepath"

	"github.com/golang/snappy"
)

// peaksPath keys the cache by bar count too, so a visualizer change never
// serves peaks analysed for another width.
func (s *Store) peaksPath(recordID int64, bars int) string {
	return filepath.Join(s.dir, cacheDir, fmt.Sprintf("%d.%d.peaks.sz", recordID, bars))
}

func (s *Store) peaksGlob(recordID int64) string {
	return filepath.Join(s.dir, cacheDir, fmt.Sprintf("%d.*.peaks.sz", recordID))
}

// Peaks returns the cached waveform peaks of a record analysed into bars
// bars, if any.
func (s *Store) Peaks(recordID int64, bars int) ([]float64, bool, error) {
	compressed, err := os.ReadFile(s.peaksPath(recordID, bars))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, false, nil
		}
		return nil, false, fmt.Errorf("failed to read peaks cache: %w", err)
	}

	raw, err := snappy.Decode(nil, compressed)
	if err != nil {
		return nil, false, fmt.Errorf("corrupt peaks cache for record %d: %w", recordID, err)
	}
	if len(raw) != bars*4 {
		return nil, false, fmt.Errorf("corrupt peaks cache for record %d: %d bytes for %d bars", recordID, len(raw), bars)
	}

	peaks := make([]float64, len(raw)/4)
	for i := range peaks {
		peaks[i] = float64(math.Float32frombits(binary.LittleEndian.Uint32(raw[i*4:])))
	}
	return peaks, true, nil
}

// PutPeaks caches peaks as snappy-compressed little-endian float32.
func (s *Store) PutPeaks(recordID int64, peaks []float64) error {
	path := s.peaksPath(recordID, len(peaks))
	raw := make([]byte, len(peaks)*4)
	for i, p := range peaks {
		binary.LittleEndian.PutUint32(raw[i*4:], math.Float32bits(float32(p)))
	}
	if err := os.WriteFile(path, snappy.Encode(nil, raw), 0644); err != nil {
		return fmt.Errorf("failed to write peaks cache: %w", err)
	}
	return nil
}
