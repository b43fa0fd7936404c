package infra

import (
	"database/sql"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/klauspost/compress/zstd"
	sqlcipher "github.com/mutecomm/go-sqlcipher/v4"
	"go.uber.org/zap"

	"github.com/eliteGoblin/focusd/anr_mon/internal/domain"
)

// Ensure sqlcipher driver is registered.
var _ = sqlcipher.ErrBusy

const (
	eventsDBName  = "events.db"
	schemaVersion = "1"
)

// EventStoreConfig holds offline cache configuration.
type EventStoreConfig struct {
	MaxEvents int // Oldest events beyond this are evicted on save; <= 0 disables the cap
}

// DefaultEventStoreConfig returns default cache configuration.
func DefaultEventStoreConfig() EventStoreConfig {
	return EventStoreConfig{
		MaxEvents: 30,
	}
}

// EncryptedEventStore implements domain.EventStore using a SQLCipher
// encrypted SQLite database. Payloads are zstd-compressed JSON.
type EncryptedEventStore struct {
	db      *sql.DB
	dbPath  string
	config  EventStoreConfig
	encoder *zstd.Encoder
	decoder *zstd.Decoder
	logger  *zap.Logger
}

// NewEncryptedEventStore opens (or creates) the event cache in dataDir.
// The key is used as the SQLCipher passphrase via PRAGMA key.
func NewEncryptedEventStore(dataDir string, key []byte, config EventStoreConfig, logger *zap.Logger) (*EncryptedEventStore, error) {
	if err := os.MkdirAll(dataDir, 0700); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}

	dbPath := filepath.Join(dataDir, eventsDBName)
	dsn := fmt.Sprintf("%s?_pragma_key=x'%s'&_pragma_cipher_page_size=4096", dbPath, hex.EncodeToString(key))
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open encrypted database: %w", err)
	}

	// A wrong key only shows up on first access.
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to encrypted database: %w", err)
	}

	encoder, err := zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create payload encoder: %w", err)
	}
	decoder, err := zstd.NewReader(nil)
	if err != nil {
		encoder.Close()
		db.Close()
		return nil, fmt.Errorf("failed to create payload decoder: %w", err)
	}

	store := &EncryptedEventStore{
		db:      db,
		dbPath:  dbPath,
		config:  config,
		encoder: encoder,
		decoder: decoder,
		logger:  logger,
	}

	if err := store.createTables(); err != nil {
		store.Close()
		return nil, fmt.Errorf("failed to create tables: %w", err)
	}

	return store, nil
}

func (s *EncryptedEventStore) createTables() error {
	schema := `
	CREATE TABLE IF NOT EXISTS events (
		seq INTEGER PRIMARY KEY AUTOINCREMENT,
		id TEXT NOT NULL UNIQUE,
		level TEXT NOT NULL,
		captured_at INTEGER NOT NULL,
		payload BLOB NOT NULL
	);

	CREATE INDEX IF NOT EXISTS events_captured_at ON events (captured_at);

	CREATE TABLE IF NOT EXISTS meta (
		key TEXT PRIMARY KEY,
		value TEXT NOT NULL
	);
	`
	if _, err := s.db.Exec(schema); err != nil {
		return err
	}
	_, err := s.db.Exec(`INSERT OR IGNORE INTO meta (key, value) VALUES ('schema_version', ?)`, schemaVersion)
	return err
}

// Save persists an event and evicts the oldest beyond MaxEvents.
func (s *EncryptedEventStore) Save(event domain.Event) error {
	if event.ID == "" {
		return fmt.Errorf("failed to save event: missing id")
	}
	payload, err := s.encode(event)
	if err != nil {
		return err
	}

	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.Exec(`
		INSERT OR REPLACE INTO events (id, level, captured_at, payload)
		VALUES (?, ?, ?, ?)`,
		event.ID, string(event.Level), event.Timestamp.UnixNano(), payload,
	)
	if err != nil {
		return fmt.Errorf("failed to save event: %w", err)
	}

	if s.config.MaxEvents > 0 {
		result, err := tx.Exec(`
			DELETE FROM events WHERE seq NOT IN (
				SELECT seq FROM events ORDER BY captured_at DESC, seq DESC LIMIT ?
			)`, s.config.MaxEvents)
		if err != nil {
			return fmt.Errorf("failed to evict events: %w", err)
		}
		if evicted, _ := result.RowsAffected(); evicted > 0 {
			s.logger.Debug("evicted cached events",
				zap.Int64("evicted", evicted),
				zap.Int("max_events", s.config.MaxEvents))
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit event: %w", err)
	}
	return nil
}

// Get returns the event with the given id.
func (s *EncryptedEventStore) Get(id string) (*domain.Event, error) {
	var payload []byte
	err := s.db.QueryRow(`SELECT payload FROM events WHERE id = ?`, id).Scan(&payload)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", domain.ErrEventNotFound, id)
	}
	if err != nil {
		return nil, err
	}
	event, err := s.decode(payload)
	if err != nil {
		return nil, err
	}
	return &event, nil
}

// List returns up to limit events, newest first. limit <= 0 means all.
func (s *EncryptedEventStore) List(limit int) ([]domain.Event, error) {
	if limit <= 0 {
		limit = -1 // SQLite: no limit
	}
	rows, err := s.db.Query(`SELECT payload FROM events ORDER BY captured_at DESC, seq DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var events []domain.Event
	for rows.Next() {
		var payload []byte
		if err := rows.Scan(&payload); err != nil {
			return nil, err
		}
		event, err := s.decode(payload)
		if err != nil {
			return nil, err
		}
		events = append(events, event)
	}
	return events, rows.Err()
}

// Count returns the number of cached events.
func (s *EncryptedEventStore) Count() (int, error) {
	var n int
	err := s.db.QueryRow(`SELECT COUNT(*) FROM events`).Scan(&n)
	return n, err
}

// Delete removes a single event.
func (s *EncryptedEventStore) Delete(id string) error {
	result, err := s.db.Exec(`DELETE FROM events WHERE id = ?`, id)
	if err != nil {
		return err
	}
	rows, _ := result.RowsAffected()
	if rows == 0 {
		return fmt.Errorf("%w: %s", domain.ErrEventNotFound, id)
	}
	return nil
}

// Purge removes every cached event.
func (s *EncryptedEventStore) Purge() error {
	_, err := s.db.Exec(`DELETE FROM events`)
	return err
}

// Path returns the database file path.
func (s *EncryptedEventStore) Path() string {
	return s.dbPath
}

// Close releases the database connection and codecs.
func (s *EncryptedEventStore) Close() error {
	if s.decoder != nil {
		s.decoder.Close()
		s.decoder = nil
	}
	if s.encoder != nil {
		_ = s.encoder.Close()
		s.encoder = nil
	}
	if s.db != nil {
		err := s.db.Close()
		s.db = nil
		return err
	}
	return nil
}

func (s *EncryptedEventStore) encode(event domain.Event) ([]byte, error) {
	raw, err := json.Marshal(event)
	if err != nil {
		return nil, fmt.Errorf("failed to encode event: %w", err)
	}
	return s.encoder.EncodeAll(raw, nil), nil
}

func (s *EncryptedEventStore) decode(payload []byte) (domain.Event, error) {
	raw, err := s.decoder.DecodeAll(payload, nil)
	if err != nil {
		return domain.Event{}, fmt.Errorf("failed to decompress event: %w", err)
	}
	var event domain.Event
	if err := json.Unmarshal(raw, &event); err != nil {
		return domain.Event{}, fmt.Errorf("failed to decode event: %w", err)
	}
	return event, nil
}

// Ensure EncryptedEventStore implements domain.EventStore.
var _ domain.EventStore = (*EncryptedEventStore)(nil)
