// Package aggregate implements aggregation rollup and pruning (spec
// §4.11, §4.12): per-(check,issued) severity counters and a bounded set of
// recent issue timestamps per check. Grounded on the teacher's
// cached_server_repository.go pattern of paired hash/set keys mutated
// through a thin repository, generalized from server records to
// aggregation rollups.
package aggregate

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strconv"

	"eventserver/internal/model"
)

// Store is the subset of store.Store the aggregator needs.
type Store interface {
	HSet(ctx context.Context, key, field, value string) error
	IncrAggregateAndTotal(ctx context.Context, key, severityField string) error
	SAdd(ctx context.Context, key, member string) error
	SRem(ctx context.Context, key, member string) error
	SMembers(ctx context.Context, key string) ([]string, error)
	Del(ctx context.Context, keys ...string) error
}

// AggregateResult folds one result into its (check, issued) rollup.
func AggregateResult(ctx context.Context, s Store, result model.Result) error {
	name := result.Check.Name
	issued := result.Check.Issued
	issuedStr := strconv.FormatInt(issued, 10)

	entryKey := fmt.Sprintf("aggregation:%s:%d", name, issued)
	entry := model.AggregationEntry{Output: result.Check.Output, Status: result.Check.Status}
	payload, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("aggregate.AggregateResult: %w", err)
	}
	if err := s.HSet(ctx, entryKey, result.Client, string(payload)); err != nil {
		return fmt.Errorf("aggregate.AggregateResult: %w", err)
	}

	countKey := fmt.Sprintf("aggregate:%s:%d", name, issued)
	if err := s.IncrAggregateAndTotal(ctx, countKey, result.Check.Status.Name()); err != nil {
		return fmt.Errorf("aggregate.AggregateResult: %w", err)
	}

	if err := s.SAdd(ctx, "aggregates:"+name, issuedStr); err != nil {
		return fmt.Errorf("aggregate.AggregateResult: %w", err)
	}
	if err := s.SAdd(ctx, "aggregates", name); err != nil {
		return fmt.Errorf("aggregate.AggregateResult: %w", err)
	}
	return nil
}

// Prune removes aggregation data older than the 20 newest issue timestamps
// per check (spec §4.12 / data-model invariant iv).
func Prune(ctx context.Context, s Store) error {
	names, err := s.SMembers(ctx, "aggregates")
	if err != nil {
		return fmt.Errorf("aggregate.Prune: %w", err)
	}
	for _, name := range names {
		if err := pruneCheck(ctx, s, name); err != nil {
			return err
		}
	}
	return nil
}

const maxRetainedIssues = 20

func pruneCheck(ctx context.Context, s Store, name string) error {
	raw, err := s.SMembers(ctx, "aggregates:"+name)
	if err != nil {
		return fmt.Errorf("aggregate.pruneCheck(%s): %w", name, err)
	}
	if len(raw) <= maxRetainedIssues {
		return nil
	}

	issues := make([]int64, 0, len(raw))
	for _, v := range raw {
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			continue
		}
		issues = append(issues, n)
	}
	sort.Slice(issues, func(i, j int) bool { return issues[i] < issues[j] })

	extra := len(issues) - maxRetainedIssues
	for _, issued := range issues[:extra] {
		issuedStr := strconv.FormatInt(issued, 10)
		if err := s.SRem(ctx, "aggregates:"+name, issuedStr); err != nil {
			return fmt.Errorf("aggregate.pruneCheck(%s): %w", name, err)
		}
		if err := s.Del(ctx,
			fmt.Sprintf("aggregate:%s:%d", name, issued),
			fmt.Sprintf("aggregation:%s:%d", name, issued),
		); err != nil {
			return fmt.Errorf("aggregate.pruneCheck(%s): %w", name, err)
		}
	}
	return nil
}
