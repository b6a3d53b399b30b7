package model

import (
	"time"

	"github.com/google/uuid"
)

// EntityType is the closed set of entity categories the extractor can infer.
type EntityType string

const (
	EntityPerson       EntityType = "person"
	EntityOrganization EntityType = "organization"
	EntityTechnology   EntityType = "technology"
	EntityLocation     EntityType = "location"
	EntityConcept      EntityType = "concept"
	EntityEvent        EntityType = "event"
	EntityProduct      EntityType = "product"
	EntityOther        EntityType = "other"
)

// EntityNode is a node in the per-user knowledge graph.
type EntityNode struct {
	ID            uuid.UUID  `json:"id"`
	UserID        string     `json:"user_id"`
	CanonicalName string     `json:"canonical_name"`
	SurfaceForms  []string   `json:"surface_forms"`
	Type          EntityType `json:"type"`
	MentionCount  uint32     `json:"mention_count"`
	Salience      float64    `json:"salience"`
	FirstSeen     time.Time  `json:"first_seen"`
	LastSeen      time.Time  `json:"last_seen"`
}

// AddSurfaceForm appends a surface form if not already present, preserving order.
func (n *EntityNode) AddSurfaceForm(form string) {
	for _, f := range n.SurfaceForms {
		if f == form {
			return
		}
	}
	n.SurfaceForms = append(n.SurfaceForms, form)
}

// EdgeKind is the closed set of relationship kinds between two entities.
type EdgeKind string

const (
	EdgeCoactivates  EdgeKind = "coactivates"
	EdgeRelatedTo    EdgeKind = "related_to"
	EdgeMentionedWith EdgeKind = "mentioned_with"
)

// VerbEdgeKind builds the `Verb(v)` edge kind variant for a given lemma.
func VerbEdgeKind(verb string) EdgeKind {
	return EdgeKind("verb:" + verb)
}

// WMax is the weight cap for any edge.
const WMax = 10.0

// WEpsilon is the weight floor below which an edge becomes eligible for GC.
const WEpsilon = 1e-4

// GCTTL is how long a decayed-below-WEpsilon edge must remain decayed before
// it is actually removed. Default 30 days.
const GCTTL = 30 * 24 * time.Hour

// Edge is a directed, typed connection between two entity nodes.
type Edge struct {
	From       uuid.UUID `json:"from"`
	To         uuid.UUID `json:"to"`
	Kind       EdgeKind  `json:"kind"`
	Weight     float64   `json:"weight"`
	CoactCount uint32    `json:"coact_count"`
	LastUpdate time.Time `json:"last_update"`
	// BelowEpsilonSince is non-zero once Weight first dropped below
	// WEpsilon; the edge is collected once GCTTL has elapsed since then.
	BelowEpsilonSince time.Time `json:"below_epsilon_since,omitempty"`
}

// LongTermPotentiated reports whether the edge has crossed the LTP
// coactivation threshold: once true its weight floor is 0.5.
func (e *Edge) LongTermPotentiated() bool {
	return e.CoactCount >= 5
}

// EligibleForGC reports whether the edge may be dropped.
func (e *Edge) EligibleForGC(now time.Time) bool {
	if e.Weight >= WEpsilon {
		return false
	}
	if e.BelowEpsilonSince.IsZero() {
		return false
	}
	return now.Sub(e.BelowEpsilonSince) >= GCTTL
}

// LinkRole is the role an entity plays in an episode mention.
type LinkRole string

const (
	RoleSubject   LinkRole = "subject"
	RoleObject    LinkRole = "object"
	RoleMentioned LinkRole = "mentioned"
)

// EpisodeEntityLink connects an episode to an entity it mentions.
type EpisodeEntityLink struct {
	EpisodeID uuid.UUID `json:"episode_id"`
	EntityID  uuid.UUID `json:"entity_id"`
	Role      LinkRole  `json:"role"`
}
