package scheduler

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/thiwi/valiax/internal/rules"
	"github.com/thiwi/valiax/internal/schedule"
	"github.com/thiwi/valiax/internal/storage"
)

type fakeSource struct {
	candidates []storage.Candidate
	err        error
}

func (f *fakeSource) ListCandidates(ctx context.Context) ([]storage.Candidate, error) {
	return f.candidates, f.err
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewJSONHandler(io.Discard, nil))
}

func at(s string) time.Time {
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		panic(err)
	}
	return t
}

func ptr(t time.Time) *time.Time { return &t }

func candidate(id, conn, interval string, last *time.Time) storage.Candidate {
	return storage.Candidate{
		Rule:            rules.Rule{ID: id, ConnectionID: conn, Interval: interval, Active: true, UpdatedAt: at("2025-01-01T00:00:00Z")},
		ConnectionFound: true,
		LastRunStart:    last,
	}
}

func TestBuildDueGroupsPartitionsByConnection(t *testing.T) {
	now := at("2025-05-02T01:05:00Z")
	src := &fakeSource{candidates: []storage.Candidate{
		candidate("r3", "c2", "minutely", nil),
		candidate("r2", "c1", "daily", ptr(at("2025-05-01T00:30:00Z"))),
		candidate("r1", "c1", "hourly", nil),
		candidate("r4", "c1", "monthly", ptr(at("2025-05-01T01:00:00Z"))),
	}}
	b := NewBuilder(src, schedule.NewResolver(nil), testLogger())

	groups, err := b.BuildDueGroups(context.Background(), now)
	require.NoError(t, err)
	assert.Equal(t, []DueGroup{
		{DBConnID: "c1", RuleIDs: []string{"r1", "r2"}},
		{DBConnID: "c2", RuleIDs: []string{"r3"}},
	}, groups)

	data, err := json.Marshal(groups)
	require.NoError(t, err)
	assert.JSONEq(t, `[{"db_conn_id":"c1","rule_ids":["r1","r2"]},{"db_conn_id":"c2","rule_ids":["r3"]}]`, string(data))
}

func TestBuildDueGroupsEveryRuleInExactlyOneGroup(t *testing.T) {
	src := &fakeSource{}
	for i, conn := range []string{"a", "b", "a", "c", "b", "a"} {
		src.candidates = append(src.candidates, candidate(string(rune('k'+i)), conn, "minutely", nil))
	}
	groups, err := NewBuilder(src, schedule.NewResolver(nil), testLogger()).BuildDueGroups(context.Background(), time.Now())
	require.NoError(t, err)
	seen := map[string]string{}
	for _, g := range groups {
		for _, id := range g.RuleIDs {
			_, dup := seen[id]
			require.False(t, dup, "rule %s in two groups", id)
			seen[id] = g.DBConnID
		}
	}
	assert.Len(t, seen, len(src.candidates))
	for _, c := range src.candidates {
		assert.Equal(t, c.Rule.ConnectionID, seen[c.Rule.ID])
	}
}

func TestBuildDueGroupsSkipsMissingConnectionAndOpenRuns(t *testing.T) {
	orphan := candidate("r1", "gone", "minutely", nil)
	orphan.ConnectionFound = false
	busy := candidate("r2", "c1", "minutely", nil)
	busy.HasOpenRun = true
	src := &fakeSource{candidates: []storage.Candidate{orphan, busy, candidate("r3", "c1", "minutely", nil), candidate("r4", "c1", "sometimes", nil)}}

	groups, err := NewBuilder(src, schedule.NewResolver(nil), testLogger()).BuildDueGroups(context.Background(), time.Now())
	require.NoError(t, err)
	assert.Equal(t, []DueGroup{{DBConnID: "c1", RuleIDs: []string{"r3"}}}, groups)
}

func TestBuildDueGroupsEditedRuleIsDue(t *testing.T) {
	last := at("2025-05-02T01:00:10Z")
	edited := candidate("r1", "c1", "daily", ptr(last))
	edited.Rule.UpdatedAt = at("2025-05-02T09:00:00Z")
	untouched := candidate("r2", "c1", "daily", ptr(last))

	groups, err := NewBuilder(&fakeSource{candidates: []storage.Candidate{edited, untouched}}, schedule.NewResolver(nil), testLogger()).
		BuildDueGroups(context.Background(), at("2025-05-02T10:00:00Z"))
	require.NoError(t, err)
	assert.Equal(t, []DueGroup{{DBConnID: "c1", RuleIDs: []string{"r1"}}}, groups)
}

func TestBuildDueGroupsStoreErrorYieldsNothing(t *testing.T) {
	src := &fakeSource{candidates: []storage.Candidate{candidate("r1", "c1", "minutely", nil)}, err: errors.New("connection refused")}
	groups, err := NewBuilder(src, schedule.NewResolver(nil), testLogger()).BuildDueGroups(context.Background(), time.Now())
	require.Error(t, err)
	assert.Nil(t, groups)
}

func TestBuildDueGroupsEmpty(t *testing.T) {
	groups, err := NewBuilder(&fakeSource{}, schedule.NewResolver(nil), testLogger()).BuildDueGroups(context.Background(), time.Now())
	require.NoError(t, err)
	assert.Empty(t, groups)
	data, _ := json.Marshal(groups)
	assert.Equal(t, "[]", string(data))
}
