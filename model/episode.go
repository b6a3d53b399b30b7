// Package model defines the shared data types persisted and exchanged by the
// memory engine: episodes, entities, edges and the links between them.
package model

import (
	"time"

	"github.com/google/uuid"
)

// ExperienceType classifies the kind of experience an episode records.
type ExperienceType string

const (
	Observation  ExperienceType = "observation"
	Decision     ExperienceType = "decision"
	Learning     ExperienceType = "learning"
	Error        ExperienceType = "error"
	Pattern      ExperienceType = "pattern"
	Context      ExperienceType = "context"
	Conversation ExperienceType = "conversation"
	Sensor       ExperienceType = "sensor"
)

// Tier is the lifecycle bucket of an episode.
type Tier string

const (
	TierWorking  Tier = "working"
	TierSession  Tier = "session"
	TierLongTerm Tier = "long_term"
	TierArchive  Tier = "archive"
)

// MaxContentBytes is the hard ceiling on Episode.Content (16 KiB).
const MaxContentBytes = 16 * 1024

// ColdLocator points into a user's cold segment file for an episode whose
// content has been compressed out of the live record.
type ColdLocator struct {
	File   string `json:"file"`
	Offset int64  `json:"offset"`
	Length int64  `json:"length"`
}

// Episode is an immutable memory record (immutable after creation, save for
// the mutable stat fields called out below).
type Episode struct {
	ID             uuid.UUID      `json:"id"`
	UserID         string         `json:"user_id"`
	Content        string         `json:"content"`
	ContentHash    uint64         `json:"content_hash"`
	ExperienceType ExperienceType `json:"experience_type"`
	Tags           []string       `json:"tags"`

	CreatedAt time.Time `json:"created_at"`

	// Mutable stats — everything else on Episode is fixed at creation.
	Importance float64   `json:"importance"`
	AccessCount uint32   `json:"access_count"`
	LastAccess time.Time `json:"last_access"`
	Tier       Tier      `json:"tier"`

	EmbeddingRef int64 `json:"embedding_ref"`

	// Gist/cold-segment fields populated once the episode is compressed
	//. Gist is empty until compression happens.
	Gist        string       `json:"gist,omitempty"`
	Cold        *ColdLocator `json:"cold,omitempty"`
	Compressed  bool         `json:"compressed,omitempty"`
}

// DisplayContent returns the gist when compressed, else the full content.
func (e *Episode) DisplayContent() string {
	if e.Compressed {
		return e.Gist
	}
	return e.Content
}

// Touch records an access, bumping AccessCount and LastAccess.
func (e *Episode) Touch(now time.Time) {
	e.AccessCount++
	e.LastAccess = now
}
