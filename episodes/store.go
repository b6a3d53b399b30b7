// Package episodes implements per-user episodic memory storage,
// content-hash deduplication, importance scoring, tier demotion and
// salience-weighted decay, and cold-segment compression, using a plain
// map+mutex CRUD store with its own tier/decay rules.
package episodes

import (
	"fmt"
	"math"
	"strings"
	"sync"
	"time"

	"github.com/cespare/xxhash/v2"
	"github.com/google/uuid"
	"github.com/klauspost/compress/zstd"

	"github.com/SarahR1/shodh-memory/extract"
	"github.com/SarahR1/shodh-memory/model"
	"github.com/SarahR1/shodh-memory/shodherr"
)

// Tier demotion thresholds.
const (
	WorkingToSession  = time.Hour
	SessionToLongTerm = 24 * time.Hour
	LongTermToArchive = 30 * 24 * time.Hour
)

// CompressionThreshold is the importance below which an episode's content is
// moved to a cold, compressed segment.
const CompressionThreshold = 0.1

// DecayLambda is the per-day exponential decay rate applied to importance
//: importance *= exp(-lambda * effective_age_days).
const DecayLambda = 0.02

// MinSalienceFloor prevents division blowups for episodes with no linked
// entities: effective_age = actual_age / max(salience, floor).
const MinSalienceFloor = 0.05

// Store holds one user's episodes, keyed by id, with a content-hash index
// for dedup.
type Store struct {
	mu sync.RWMutex

	userID string

	episodes  map[uuid.UUID]*model.Episode
	hashIndex map[uint64]uuid.UUID

	cold *coldSegment
}

// New constructs an empty episode store for one user namespace.
func New(userID string, coldSink ColdSink) *Store {
	return &Store{
		userID:    userID,
		episodes:  make(map[uuid.UUID]*model.Episode),
		hashIndex: make(map[uint64]uuid.UUID),
		cold:      newColdSegment(coldSink),
	}
}

// ColdSink is where compressed episode content is appended. The caller of
// New supplies it (engine.New passes its own through; tests use an
// in-memory one); with a nil sink, compression fails and content stays live.
type ColdSink interface {
	Append(userID string, data []byte) (file string, offset int64, err error)
}

// ContentHash computes the per-user dedup key: xxhash of the user id and
// the normalized content (lowercased, whitespace runs collapsed).
func ContentHash(userID, content string) uint64 {
	normalized := strings.ToLower(strings.Join(strings.Fields(content), " "))
	return xxhash.Sum64String(userID + "\x00" + normalized)
}

// Record inserts a new episode, or returns the existing one (dup=true) if
// content_hash already exists for this user.
func (s *Store) Record(content string, experienceType model.ExperienceType, tags []string, extracted extract.Result, now time.Time) (*model.Episode, bool, error) {
	if len(content) > model.MaxContentBytes {
		return nil, false, shodherr.Invalid("episodes.Record", fmt.Errorf("content exceeds %d bytes", model.MaxContentBytes))
	}
	hash := ContentHash(s.userID, content)

	s.mu.Lock()
	defer s.mu.Unlock()

	if id, ok := s.hashIndex[hash]; ok {
		ep := s.episodes[id]
		ep.Touch(now)
		return ep, true, nil
	}

	ep := &model.Episode{
		ID:             uuid.New(),
		UserID:         s.userID,
		Content:        content,
		ContentHash:    hash,
		ExperienceType: experienceType,
		Tags:           dedupTags(tags, extracted.Tags),
		CreatedAt:      now,
		Importance:     importanceSeed(content, extracted),
		AccessCount:    0,
		LastAccess:     now,
		Tier:           model.TierWorking,
	}

	s.episodes[ep.ID] = ep
	s.hashIndex[hash] = ep.ID
	return ep, false, nil
}

func dedupTags(explicit, inferred []string) []string {
	seen := make(map[string]struct{}, len(explicit)+len(inferred))
	var out []string
	for _, t := range explicit {
		t = strings.ToLower(strings.TrimSpace(t))
		if t == "" {
			continue
		}
		if _, ok := seen[t]; !ok {
			seen[t] = struct{}{}
			out = append(out, t)
		}
	}
	for _, t := range inferred {
		if _, ok := seen[t]; !ok {
			seen[t] = struct{}{}
			out = append(out, t)
		}
	}
	return out
}

// importanceSeed implements the initial importance formula:
// 0.5 + sum(verb arousal) + 0.1*hasProperNoun + 0.1*hasTags - 0.1*(len<8 words), clamped [0,1].
func importanceSeed(content string, extracted extract.Result) float64 {
	score := 0.5
	for _, v := range extracted.Verbs {
		score += v.Class.Arousal()
	}
	hasProperNoun := false
	for _, e := range extracted.Entities {
		if e.Proper {
			hasProperNoun = true
			break
		}
	}
	if hasProperNoun {
		score += 0.1
	}
	if len(extracted.Tags) > 0 {
		score += 0.1
	}
	if len(strings.Fields(content)) < 8 {
		score -= 0.1
	}
	return model.Clamp(score, 0, 1)
}

// RestoreEpisode re-inserts an episode loaded from a snapshot or WAL
// replay, bypassing Record's dedup and importance-seed logic since both
// were already applied before the episode was persisted.
func (s *Store) RestoreEpisode(ep *model.Episode) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.episodes[ep.ID] = ep
	s.hashIndex[ep.ContentHash] = ep.ID
}

// Get fetches an episode and records an access.
func (s *Store) Get(id uuid.UUID, now time.Time) (*model.Episode, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	ep, ok := s.episodes[id]
	if !ok {
		return nil, shodherr.NotFoundf("episodes.Get", fmt.Errorf("episode %s", id))
	}
	ep.Touch(now)
	return ep, nil
}

// Peek fetches an episode without recording an access (used internally by
// retrieval scoring before the final touch pass).
func (s *Store) Peek(id uuid.UUID) (*model.Episode, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ep, ok := s.episodes[id]
	return ep, ok
}

// Delete removes an episode and its hash-index entry.
func (s *Store) Delete(id uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	ep, ok := s.episodes[id]
	if !ok {
		return shodherr.NotFoundf("episodes.Delete", fmt.Errorf("episode %s", id))
	}
	delete(s.episodes, id)
	delete(s.hashIndex, ep.ContentHash)
	return nil
}

// All returns every live episode, including archived ones; callers filter.
func (s *Store) All() []*model.Episode {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*model.Episode, 0, len(s.episodes))
	for _, ep := range s.episodes {
		out = append(out, ep)
	}
	return out
}

// Len reports the live episode count.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.episodes)
}

// ApplyLifecycle runs tier demotion and salience-weighted decay over every
// episode. salienceOf supplies each episode's aggregate linked-entity
// salience (0 if unknown, floored to MinSalienceFloor). Demotion never
// changes AccessCount. Episodes whose importance drops under
// CompressionThreshold are compressed via sink.
func (s *Store) ApplyLifecycle(now time.Time, salienceOf func(uuid.UUID) float64) (demoted, compressed int) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, ep := range s.episodes {
		age := now.Sub(ep.CreatedAt)
		before := ep.Tier
		switch ep.Tier {
		case model.TierWorking:
			if age >= WorkingToSession {
				ep.Tier = model.TierSession
			}
		case model.TierSession:
			if age >= SessionToLongTerm {
				ep.Tier = model.TierLongTerm
			}
		case model.TierLongTerm:
			if age >= LongTermToArchive {
				ep.Tier = model.TierArchive
			}
		}
		if ep.Tier != before {
			demoted++
		}

		salience := MinSalienceFloor
		if salienceOf != nil {
			if s := salienceOf(ep.ID); s > salience {
				salience = s
			}
		}
		effectiveAgeDays := age.Hours() / 24 / salience
		ep.Importance = model.Clamp(ep.Importance*math.Exp(-DecayLambda*effectiveAgeDays), 0, 1)

		if !ep.Compressed && ep.Importance < CompressionThreshold {
			if err := s.compress(ep); err == nil {
				compressed++
			}
		}
	}
	return demoted, compressed
}

// compress moves ep.Content to the cold segment, replacing it with a short
// gist and a locator. Caller must hold s.mu.
func (s *Store) compress(ep *model.Episode) error {
	gist := ep.Content
	if len(gist) > 120 {
		gist = gist[:117] + "..."
	}
	file, offset, err := s.cold.append(s.userID, []byte(ep.Content))
	if err != nil {
		return err
	}
	ep.Cold = &model.ColdLocator{File: file, Offset: offset, Length: int64(len(ep.Content))}
	ep.Gist = gist
	ep.Compressed = true
	ep.Content = ""
	return nil
}

// coldSegment wraps a ColdSink with zstd compression.
type coldSegment struct {
	sink ColdSink
}

func newColdSegment(sink ColdSink) *coldSegment { return &coldSegment{sink: sink} }

func (c *coldSegment) append(userID string, raw []byte) (string, int64, error) {
	if c.sink == nil {
		return "", 0, fmt.Errorf("episodes: no cold sink configured")
	}
	enc, err := zstd.NewWriter(nil)
	if err != nil {
		return "", 0, err
	}
	defer enc.Close()
	compressed := enc.EncodeAll(raw, nil)
	return c.sink.Append(userID, compressed)
}

// Decompress reverses compress for callers that need full content back
// (e.g. an explicit Get of an archived episode); it does not mutate ep.
func Decompress(data []byte) ([]byte, error) {
	dec, err := zstd.NewReader(nil)
	if err != nil {
		return nil, err
	}
	defer dec.Close()
	return dec.DecodeAll(data, nil)
}
