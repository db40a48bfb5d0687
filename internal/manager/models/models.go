package models

import (
	"time"
)

// JobStatus is the lifecycle state of an IngestJob.
type JobStatus string

const (
	JobStatusPending    JobStatus = "pending"
	JobStatusProcessing JobStatus = "processing"
	JobStatusCompleted  JobStatus = "completed"
	JobStatusFailed     JobStatus = "failed"
)

// IsTerminal reports whether no further transition is possible from s.
func (s JobStatus) IsTerminal() bool {
	return s == JobStatusCompleted || s == JobStatusFailed
}

// Valid reports whether s is one of the known statuses.
func (s JobStatus) Valid() bool {
	switch s {
	case JobStatusPending, JobStatusProcessing, JobStatusCompleted, JobStatusFailed:
		return true
	default:
		return false
	}
}

type IngestJob struct {
	JobID        string     `json:"jobId"`
	URL          string     `json:"url"`
	Status       JobStatus  `json:"status"`
	QueuedAt     time.Time  `json:"queuedAt"`
	CompletedAt  *time.Time `json:"completedAt,omitempty"`
	ErrorMessage *string    `json:"errorMessage,omitempty"`
}

type RawDoc struct {
	DocID       string    `json:"docId"`
	JobID       string    `json:"jobId"`
	SourceURL   string    `json:"sourceUrl"`
	Title       string    `json:"title"`
	ContentType string    `json:"contentType,omitempty"`
	ChunkCount  int       `json:"chunkCount"`
	CreatedAt   time.Time `json:"createdAt"`
}

// DocChunk is stored with its embedding as the record vector; Embedding is
// populated on reads that ask for it.
type DocChunk struct {
	ChunkID    string    `json:"chunkId"`
	DocID      string    `json:"docId"`
	ChunkIndex int       `json:"chunkIndex"`
	Text       string    `json:"text"`
	TokenCount int       `json:"tokenCount,omitempty"`
	Embedding  []float32 `json:"-"`
	CreatedAt  time.Time `json:"createdAt"`
}

type ChatInteraction struct {
	ChatID        string    `json:"chatId"`
	UserSessionID string    `json:"userSessionId"`
	Prompt        string    `json:"prompt"`
	Answer        string    `json:"answer"`
	Citations     []string  `json:"citations"`
	AskedAt       time.Time `json:"askedAt"`
}

// Citation is a cited chunk resolved against its document for presentation.
type Citation struct {
	ChunkID    string `json:"chunkId"`
	DocID      string `json:"docId"`
	SourceURL  string `json:"sourceUrl"`
	Title      string `json:"title"`
	ChunkIndex int    `json:"chunkIndex"`
	Snippet    string `json:"snippet"`
}

// ScoredChunk is a retrieval candidate with its cosine distance to the query.
type ScoredChunk struct {
	Chunk    *DocChunk
	Distance float64
}
