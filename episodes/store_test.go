package episodes

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/SarahR1/shodh-memory/extract"
	"github.com/SarahR1/shodh-memory/model"
)

type memSink struct {
	data map[string][]byte
}

func newMemSink() *memSink { return &memSink{data: make(map[string][]byte)} }

func (m *memSink) Append(userID string, data []byte) (string, int64, error) {
	key := userID
	offset := int64(len(m.data[key]))
	m.data[key] = append(m.data[key], data...)
	return key, offset, nil
}

func TestRecordDedupesByContentHash(t *testing.T) {
	s := New("u1", newMemSink())
	now := time.Now()

	ep1, dup1, err := s.Record("deployed the new release", model.Observation, nil, extract.Extract("deployed the new release"), now)
	require.NoError(t, err)
	require.False(t, dup1)

	ep2, dup2, err := s.Record("deployed the new release", model.Observation, nil, extract.Extract("deployed the new release"), now.Add(time.Minute))
	require.NoError(t, err)
	require.True(t, dup2)
	require.Equal(t, ep1.ID, ep2.ID)
	require.Equal(t, uint32(1), ep2.AccessCount)
	require.Equal(t, 1, s.Len())
}

func TestImportanceSeedFormula(t *testing.T) {
	text := "The server crashed during the #deploy"
	res := extract.Extract(text)
	s := New("u1", newMemSink())
	ep, _, err := s.Record(text, model.Error, nil, res, time.Now())
	require.NoError(t, err)
	require.Greater(t, ep.Importance, 0.5)
	require.LessOrEqual(t, ep.Importance, 1.0)
}

func TestImportanceSeedPenalizesShortContent(t *testing.T) {
	text := "ok fine"
	res := extract.Extract(text)
	s := New("u1", newMemSink())
	ep, _, err := s.Record(text, model.Observation, nil, res, time.Now())
	require.NoError(t, err)
	require.Less(t, ep.Importance, 0.5)
}

func TestApplyLifecycleDemotesTiers(t *testing.T) {
	s := New("u1", newMemSink())
	now := time.Now()
	ep, _, err := s.Record("a working memory", model.Observation, nil, extract.Result{}, now)
	require.NoError(t, err)
	require.Equal(t, model.TierWorking, ep.Tier)

	demoted, _ := s.ApplyLifecycle(now.Add(2*time.Hour), nil)
	require.Equal(t, 1, demoted)
	got, ok := s.Peek(ep.ID)
	require.True(t, ok)
	require.Equal(t, model.TierSession, got.Tier)

	demoted, _ = s.ApplyLifecycle(now.Add(25*time.Hour), nil)
	require.Equal(t, 1, demoted)
	got, _ = s.Peek(ep.ID)
	require.Equal(t, model.TierLongTerm, got.Tier)
}

func TestApplyLifecycleCompressesLowImportanceEpisodes(t *testing.T) {
	s := New("u1", newMemSink())
	now := time.Now()
	ep, _, err := s.Record("ok", model.Observation, nil, extract.Result{}, now)
	require.NoError(t, err)
	require.Less(t, ep.Importance, CompressionThreshold+0.5)

	// Force a long effective age via low salience to drive importance under
	// the compression threshold.
	_, compressed := s.ApplyLifecycle(now.Add(400*24*time.Hour), func(uuid.UUID) float64 { return MinSalienceFloor })
	require.Equal(t, 1, compressed)

	got, ok := s.Peek(ep.ID)
	require.True(t, ok)
	require.True(t, got.Compressed)
	require.Empty(t, got.Content)
	require.NotEmpty(t, got.Gist)
	require.NotNil(t, got.Cold)
}

func TestAccessCountUnchangedByDemotion(t *testing.T) {
	s := New("u1", newMemSink())
	now := time.Now()
	ep, _, err := s.Record("something to remember", model.Observation, nil, extract.Result{}, now)
	require.NoError(t, err)
	_, err = s.Get(ep.ID, now)
	require.NoError(t, err)
	require.Equal(t, uint32(1), ep.AccessCount)

	s.ApplyLifecycle(now.Add(2*time.Hour), nil)
	got, _ := s.Peek(ep.ID)
	require.Equal(t, uint32(1), got.AccessCount)
}
