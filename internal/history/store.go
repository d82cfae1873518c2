// Package history persists finished sessions and their transcripts in an
// embedded sqlite database.
package history

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/xblabs/WhisperDog-sub003/internal/label"
)

// Session is one processed recording with its transcript.
type Session struct {
	gorm.Model
	StartedAt      time.Time `json:"started_at"`
	Source         string    `json:"source" gorm:"index"` // "live" or "import"
	DurationMs     int64     `json:"duration_ms"`
	RegionsRemoved int       `json:"regions_removed"`
	MsRemoved      int64     `json:"ms_removed"`
	Edited         bool      `json:"edited"`
	Provider       string    `json:"provider"`
	ModelName      string    `json:"model"`
	Status         string    `json:"status" gorm:"index"` // success | failed_permanent | cancelled
	ErrorMessage   string    `json:"error_message,omitempty"`
	Language       string    `json:"language,omitempty"`
	WordCount      int       `json:"word_count"`
	Text           string    `json:"text"`
	WordsJSON      []byte    `json:"-" gorm:"type:blob"` // JSON-encoded labeled words + segments
	ArchiveKey     string    `json:"archive_key,omitempty"`
}

// transcriptBlob is the structure stored in WordsJSON.
type transcriptBlob struct {
	Words    []label.Word    `json:"words"`
	Segments []label.Segment `json:"segments"`
}

// SetTranscript encodes the labeled transcript into the session row.
func (s *Session) SetTranscript(t *label.Transcript) error {
	s.Text = t.Text
	s.Language = t.Language
	s.WordCount = len(t.Words)
	data, err := json.Marshal(transcriptBlob{Words: t.Words, Segments: t.Segments})
	if err != nil {
		return err
	}
	s.WordsJSON = data
	return nil
}

// Transcript decodes the stored labeled transcript.
func (s *Session) Transcript() (*label.Transcript, error) {
	var blob transcriptBlob
	if len(s.WordsJSON) > 0 {
		if err := json.Unmarshal(s.WordsJSON, &blob); err != nil {
			return nil, err
		}
	}
	return &label.Transcript{
		Text:     s.Text,
		Language: s.Language,
		Words:    blob.Words,
		Segments: blob.Segments,
	}, nil
}

// Store wraps the gorm connection.
type Store struct {
	db *gorm.DB
}

// Open connects to the sqlite database at path, creating directories and
// migrating the schema as needed.
func Open(path string) (*Store, error) {
	if dir := filepath.Dir(path); dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create database directory: %w", err)
		}
	}

	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{
		Logger:  gormlogger.Default.LogMode(gormlogger.Error),
		NowFunc: func() time.Time { return time.Now().UTC() },
	})
	if err != nil {
		return nil, fmt.Errorf("open history database: %w", err)
	}
	if err := db.AutoMigrate(&Session{}); err != nil {
		return nil, fmt.Errorf("migrate history schema: %w", err)
	}
	return &Store{db: db}, nil
}

// Close releases the underlying connection.
func (s *Store) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// Save inserts or updates a session row.
func (s *Store) Save(sess *Session) error {
	return s.db.Save(sess).Error
}

// Get fetches one session by ID.
func (s *Store) Get(id uint) (*Session, error) {
	var sess Session
	if err := s.db.First(&sess, id).Error; err != nil {
		return nil, err
	}
	return &sess, nil
}

// List returns the most recent sessions, newest first.
func (s *Store) List(limit int) ([]Session, error) {
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	var sessions []Session
	err := s.db.Order("created_at DESC").Limit(limit).Find(&sessions).Error
	return sessions, err
}
