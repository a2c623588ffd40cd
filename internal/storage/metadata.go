package storage

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	"github.com/callsight/callsight/internal/types"
)

// MetadataDB persists transcript records and conversation rows in SQLite.
type MetadataDB struct {
	db *sql.DB
}

// NewMetadataDB opens (and migrates) the database at dbPath.
func NewMetadataDB(dbPath string) (*MetadataDB, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	createTableSQL := `
	CREATE TABLE IF NOT EXISTS transcript_records (
		id TEXT PRIMARY KEY,
		salesperson_id TEXT NOT NULL,
		salesperson_name TEXT NOT NULL,
		original_filename TEXT NOT NULL,
		file_storage_path TEXT NOT NULL,
		transcript_redacted TEXT NOT NULL,
		redaction_config_used TEXT NOT NULL,
		created_at DATETIME NOT NULL
	);

	CREATE TABLE IF NOT EXISTS conversations (
		id TEXT PRIMARY KEY,
		transcript_id TEXT NOT NULL REFERENCES transcript_records(id),
		conversation_number INTEGER NOT NULL,
		start_time REAL NOT NULL,
		end_time REAL NOT NULL,
		speakers TEXT NOT NULL,
		sales_rep_speaker TEXT NOT NULL,
		word_count INTEGER NOT NULL,
		duration_seconds REAL NOT NULL,
		category TEXT NOT NULL,
		objections TEXT NOT NULL,
		objection_timestamps TEXT NOT NULL,
		has_price_mention INTEGER NOT NULL,
		pii_redaction_count INTEGER NOT NULL,
		analysis_completed INTEGER NOT NULL,
		analysis_error TEXT,
		created_at DATETIME NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_records_created_at ON transcript_records(created_at);
	CREATE INDEX IF NOT EXISTS idx_records_salesperson ON transcript_records(salesperson_id);
	CREATE INDEX IF NOT EXISTS idx_conversations_transcript ON conversations(transcript_id);
	`

	if _, err := db.Exec(createTableSQL); err != nil {
		return nil, fmt.Errorf("failed to create tables: %w", err)
	}
	return &MetadataDB{db: db}, nil
}

// SaveTranscriptRecord inserts the record produced by a pipeline run.
func (mdb *MetadataDB) SaveTranscriptRecord(rec *types.TranscriptRecord) error {
	payload, err := json.Marshal(rec.TranscriptRedacted)
	if err != nil {
		return fmt.Errorf("failed to marshal transcript payload: %w", err)
	}

	query := `
	INSERT INTO transcript_records
		(id, salesperson_id, salesperson_name, original_filename, file_storage_path,
		 transcript_redacted, redaction_config_used, created_at)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`
	_, err = mdb.db.Exec(query,
		rec.ID, rec.SalespersonID, rec.SalespersonName, rec.OriginalFilename,
		rec.FileStoragePath, string(payload), rec.RedactionConfigUsed, rec.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to save transcript record: %w", err)
	}
	return nil
}

// SaveConversation inserts one conversation row for the given transcript.
func (mdb *MetadataDB) SaveConversation(transcriptID string, c *types.Conversation) error {
	speakers, _ := json.Marshal(c.Speakers)
	objections, _ := json.Marshal(c.Objections)
	timestamps, _ := json.Marshal(c.ObjectionTimestamps)

	query := `
	INSERT INTO conversations
		(id, transcript_id, conversation_number, start_time, end_time, speakers,
		 sales_rep_speaker, word_count, duration_seconds, category, objections,
		 objection_timestamps, has_price_mention, pii_redaction_count,
		 analysis_completed, analysis_error, created_at)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`
	_, err := mdb.db.Exec(query,
		c.ID, transcriptID, c.ConversationNumber, c.StartTime, c.EndTime,
		string(speakers), c.SalesRepSpeaker, c.WordCount, c.DurationSeconds,
		c.Category, string(objections), string(timestamps),
		boolToInt(c.HasPriceMention), c.PiiRedactionCount,
		boolToInt(c.AnalysisCompleted), c.AnalysisError, time.Now())
	if err != nil {
		return fmt.Errorf("failed to save conversation: %w", err)
	}
	return nil
}

// GetTranscriptRecord loads one record by id.
func (mdb *MetadataDB) GetTranscriptRecord(id string) (*types.TranscriptRecord, error) {
	query := `
	SELECT id, salesperson_id, salesperson_name, original_filename, file_storage_path,
	       transcript_redacted, redaction_config_used, created_at
	FROM transcript_records WHERE id = ?
	`
	row := mdb.db.QueryRow(query, id)

	var rec types.TranscriptRecord
	var payload string
	err := row.Scan(&rec.ID, &rec.SalespersonID, &rec.SalespersonName,
		&rec.OriginalFilename, &rec.FileStoragePath, &payload,
		&rec.RedactionConfigUsed, &rec.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("failed to get transcript record: %w", err)
	}
	if err := json.Unmarshal([]byte(payload), &rec.TranscriptRedacted); err != nil {
		return nil, fmt.Errorf("corrupt transcript payload for %s: %w", id, err)
	}
	return &rec, nil
}

// TranscriptSummary is a listing row without the embedded payload.
type TranscriptSummary struct {
	ID               string    `json:"id"`
	SalespersonID    string    `json:"salesperson_id"`
	SalespersonName  string    `json:"salesperson_name"`
	OriginalFilename string    `json:"original_filename"`
	CreatedAt        time.Time `json:"created_at"`
}

// ListTranscriptRecords returns the most recent records.
func (mdb *MetadataDB) ListTranscriptRecords(limit int) ([]TranscriptSummary, error) {
	query := `
	SELECT id, salesperson_id, salesperson_name, original_filename, created_at
	FROM transcript_records ORDER BY created_at DESC LIMIT ?
	`
	rows, err := mdb.db.Query(query, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list transcript records: %w", err)
	}
	defer rows.Close()

	var out []TranscriptSummary
	for rows.Next() {
		var s TranscriptSummary
		if err := rows.Scan(&s.ID, &s.SalespersonID, &s.SalespersonName,
			&s.OriginalFilename, &s.CreatedAt); err != nil {
			continue
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

// ListConversations returns the persisted conversations of a transcript in
// conversation_number order.
func (mdb *MetadataDB) ListConversations(transcriptID string) ([]types.Conversation, error) {
	query := `
	SELECT id, conversation_number, start_time, end_time, speakers,
	       sales_rep_speaker, word_count, duration_seconds, category, objections,
	       objection_timestamps, has_price_mention, pii_redaction_count,
	       analysis_completed, analysis_error
	FROM conversations WHERE transcript_id = ? ORDER BY conversation_number
	`
	rows, err := mdb.db.Query(query, transcriptID)
	if err != nil {
		return nil, fmt.Errorf("failed to list conversations: %w", err)
	}
	defer rows.Close()

	var out []types.Conversation
	for rows.Next() {
		var c types.Conversation
		var speakers, objections, timestamps string
		var priceMention, completed int
		var analysisError sql.NullString
		if err := rows.Scan(&c.ID, &c.ConversationNumber, &c.StartTime, &c.EndTime,
			&speakers, &c.SalesRepSpeaker, &c.WordCount, &c.DurationSeconds,
			&c.Category, &objections, &timestamps, &priceMention,
			&c.PiiRedactionCount, &completed, &analysisError); err != nil {
			continue
		}
		json.Unmarshal([]byte(speakers), &c.Speakers)
		json.Unmarshal([]byte(objections), &c.Objections)
		json.Unmarshal([]byte(timestamps), &c.ObjectionTimestamps)
		c.HasPriceMention = priceMention != 0
		c.AnalysisCompleted = completed != 0
		c.AnalysisError = analysisError.String
		out = append(out, c)
	}
	return out, rows.Err()
}

// Close closes the database connection.
func (mdb *MetadataDB) Close() error {
	return mdb.db.Close()
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
