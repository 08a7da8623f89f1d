package gallery

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/charmbracelet/log"
)

// CurrentVersion is the on-disk format version, for future migrations.
const CurrentVersion = 1

type fileSpeaker struct {
	ID        string    `json:"id"`
	Name      string    `json:"name,omitempty"`
	PINSalt   []byte    `json:"pinSalt,omitempty"`
	PINHash   []byte    `json:"pinHash,omitempty"`
	CreatedAt time.Time `json:"createdAt"`
	Centroids [][]byte  `json:"centroids"` // index i = digit '0'+i, packed little-endian float32
}

type fileData struct {
	Version  int           `json:"version"`
	Speakers []fileSpeaker `json:"speakers"`
}

// FileStore is a single-file JSON-backed Store, following the
// reference voiceprint store's own design: an RWMutex-guarded
// in-memory copy, atomic write-temp-then-rename persistence, and a
// version field for migrations.
type FileStore struct {
	path string
	mu   sync.RWMutex
	data fileData
}

// NewFileStore loads (or initializes) the gallery file at path.
func NewFileStore(path string) (*FileStore, error) {
	s := &FileStore{path: path, data: fileData{Version: CurrentVersion}}
	if err := s.load(); err != nil && !os.IsNotExist(err) {
		return nil, fmt.Errorf("load gallery: %w", err)
	}
	log.Info("gallery store initialized", "path", path, "speakers", len(s.data.Speakers))
	return s, nil
}

func (s *FileStore) load() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	raw, err := os.ReadFile(s.path)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(raw, &s.data); err != nil {
		return fmt.Errorf("parse gallery file: %w", err)
	}
	return nil
}

func (s *FileStore) saveLocked() error {
	raw, err := json.MarshalIndent(s.data, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal gallery: %w", err)
	}

	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create gallery dir: %w", err)
	}

	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, raw, 0o644); err != nil {
		return fmt.Errorf("write temp gallery file: %w", err)
	}
	if err := os.Rename(tmp, s.path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("rename temp gallery file: %w", err)
	}
	return nil
}

func (s *FileStore) findLocked(speakerID string) (int, bool) {
	for i := range s.data.Speakers {
		if s.data.Speakers[i].ID == speakerID {
			return i, true
		}
	}
	return -1, false
}

func (s *FileStore) Exists(speakerID string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.findLocked(speakerID)
	return ok, nil
}

// Commit atomically appends a new Speaker plus its ten centroids. The
// whole gallery file is rewritten once, so either the complete record
// lands or (on any failure) the prior on-disk state is left untouched
// (§4.6's all-ten-or-none guarantee).
func (s *FileStore) Commit(input EnrollmentInput) error {
	if len(input.Centroids) != len(Digits) {
		return fmt.Errorf("%w: got %d centroids, want %d", ErrIncompleteGallery, len(input.Centroids), len(Digits))
	}
	for _, d := range []byte(Digits) {
		if _, ok := input.Centroids[d]; !ok {
			return fmt.Errorf("%w: missing digit %q", ErrIncompleteGallery, string(d))
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.findLocked(input.SpeakerID); ok {
		return ErrSpeakerAlreadyExists
	}

	fs := fileSpeaker{
		ID:        input.SpeakerID,
		Name:      input.Name,
		CreatedAt: time.Now(),
		Centroids: make([][]byte, len(Digits)),
	}
	if input.PIN != nil {
		fs.PINSalt = input.PIN.Salt
		fs.PINHash = input.PIN.Hash
	}
	for i, d := range []byte(Digits) {
		fs.Centroids[i] = EncodeEmbedding(input.Centroids[d])
	}

	s.data.Speakers = append(s.data.Speakers, fs)
	if err := s.saveLocked(); err != nil {
		s.data.Speakers = s.data.Speakers[:len(s.data.Speakers)-1]
		return err
	}

	log.Info("speaker committed", "speaker_id", input.SpeakerID, "has_pin", input.PIN != nil)
	return nil
}

func (s *FileStore) Load(speakerID string) (Gallery, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	idx, ok := s.findLocked(speakerID)
	if !ok {
		return Gallery{}, ErrSpeakerNotFound
	}
	fs := s.data.Speakers[idx]

	g := Gallery{
		Speaker: Speaker{
			ID:        fs.ID,
			Name:      fs.Name,
			PINDigest: PINDigest{Salt: fs.PINSalt, Hash: fs.PINHash},
			CreatedAt: fs.CreatedAt,
		},
		Centroids: make(map[byte]DigitCentroid, len(Digits)),
	}
	for i, d := range []byte(Digits) {
		if i >= len(fs.Centroids) {
			return Gallery{}, fmt.Errorf("%w: speaker %s missing digit %q", ErrIncompleteGallery, speakerID, string(d))
		}
		emb, err := DecodeEmbedding(fs.Centroids[i])
		if err != nil {
			return Gallery{}, fmt.Errorf("decode centroid %q: %w", string(d), err)
		}
		g.Centroids[d] = DigitCentroid{Digit: d, Embedding: emb}
	}
	return g, nil
}

func (s *FileStore) VerifyPIN(speakerID, pin string) (bool, error) {
	s.mu.RLock()
	idx, ok := s.findLocked(speakerID)
	if !ok {
		s.mu.RUnlock()
		return false, ErrSpeakerNotFound
	}
	fs := s.data.Speakers[idx]
	s.mu.RUnlock()

	if len(fs.PINHash) == 0 {
		return false, ErrPINNotSet
	}
	return VerifyPIN(PINDigest{Salt: fs.PINSalt, Hash: fs.PINHash}, pin), nil
}
