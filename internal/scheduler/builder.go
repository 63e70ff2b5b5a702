package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/thiwi/valiax/internal/dispatch"
	"github.com/thiwi/valiax/internal/schedule"
	"github.com/thiwi/valiax/internal/storage"
)

// DueGroup is the set of due rules of one connection.
type DueGroup struct {
	DBConnID string   `json:"db_conn_id"`
	RuleIDs  []string `json:"rule_ids"`
}

func (g DueGroup) Request() dispatch.Request {
	return dispatch.Request{DBConnID: g.DBConnID, RuleIDs: g.RuleIDs}
}

type RuleSource interface {
	ListCandidates(ctx context.Context) ([]storage.Candidate, error)
}

type Builder struct {
	source   RuleSource
	resolver schedule.Resolver
	logger   *slog.Logger
}

func NewBuilder(source RuleSource, resolver schedule.Resolver, logger *slog.Logger) *Builder {
	return &Builder{source: source, resolver: resolver, logger: logger}
}

// BuildDueGroups returns due rules grouped by connection, ordered by
// connection id with sorted rule ids. A store error yields no groups.
func (b *Builder) BuildDueGroups(ctx context.Context, now time.Time) ([]DueGroup, error) {
	candidates, err := b.source.ListCandidates(ctx)
	if err != nil {
		return nil, fmt.Errorf("build due set: %w", err)
	}
	byConn := map[string][]string{}
	for _, c := range candidates {
		rule := c.Rule
		if !c.ConnectionFound {
			b.logger.Warn("skipping rule without connection", slog.String("rule_id", rule.ID), slog.String("db_conn_id", rule.ConnectionID))
			continue
		}
		if c.HasOpenRun {
			b.logger.Debug("skipping rule with open run", slog.String("rule_id", rule.ID))
			continue
		}
		if _, err := schedule.ParseInterval(rule.Interval); err != nil {
			b.logger.Warn("skipping rule with unknown interval", slog.String("rule_id", rule.ID), slog.String("interval", rule.Interval))
			continue
		}
		if b.resolver.IsDue(rule.Interval, now, lastConsidered(c)) {
			byConn[rule.ConnectionID] = append(byConn[rule.ConnectionID], rule.ID)
		}
	}
	groups := make([]DueGroup, 0, len(byConn))
	for connID, ids := range byConn {
		sort.Strings(ids)
		groups = append(groups, DueGroup{DBConnID: connID, RuleIDs: ids})
	}
	sort.Slice(groups, func(i, j int) bool { return groups[i].DBConnID < groups[j].DBConnID })
	return groups, nil
}

// lastConsidered is the latest run start, or zero when the rule never ran or
// was edited after it.
func lastConsidered(c storage.Candidate) time.Time {
	if c.LastRunStart == nil {
		return time.Time{}
	}
	if c.Rule.UpdatedAt.After(*c.LastRunStart) {
		return time.Time{}
	}
	return *c.LastRunStart
}
