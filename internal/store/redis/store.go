package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"

	"github.com/redis/go-redis/v9"

	"github.com/syncmarks/syncmarks/internal/domain"
)

// Store is the Persistence Adapter over the external record store. It
// never resolves conflicts: the merge engine decides everything before
// a write is issued, and records are replaced whole.
type Store struct {
	client *redis.Client
}

// NewStore creates a new redis-backed store.
func NewStore(client *redis.Client) *Store {
	return &Store{
		client: client,
	}
}

// WriteEvent persists one accepted mutation as a single pipelined
// batch: every touched node record, the journal entry, and the revision
// counter. The engine treats this write and its in-memory commit as one
// unit; a failure here rolls the mutation back.
func (s *Store) WriteEvent(ctx context.Context, ev *domain.AcceptedEvent) error {
	entry, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}

	pipe := s.client.TxPipeline()
	for i := range ev.Nodes {
		node := &ev.Nodes[i]
		data, err := json.Marshal(node)
		if err != nil {
			return fmt.Errorf("failed to marshal node %s: %w", node.NativeID, err)
		}
		pipe.Set(ctx, NodeKey(ev.AccountID, node.NativeID), data, 0)
		pipe.SAdd(ctx, NodesKey(ev.AccountID), node.NativeID)
	}
	pipe.ZAdd(ctx, JournalKey(ev.AccountID), redis.Z{
		Score:  float64(ev.AssignedRevision),
		Member: entry,
	})
	pipe.Set(ctx, RevisionKey(ev.AccountID), strconv.FormatUint(ev.AssignedRevision, 10), 0)
	pipe.SAdd(ctx, AccountsKey(), ev.AccountID)

	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to write event: %w", err)
	}
	return nil
}

// LoadAccount reconciles an account's startup state: nodes (tombstones
// included), revision clock, and journal tail. Returns nil for an
// account the store has never seen.
func (s *Store) LoadAccount(ctx context.Context, accountID string) (*domain.AccountSnapshot, error) {
	rev, err := s.client.Get(ctx, RevisionKey(accountID)).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get revision: %w", err)
	}
	revision, err := strconv.ParseUint(rev, 10, 64)
	if err != nil {
		return nil, fmt.Errorf("corrupt revision counter %q: %w", rev, err)
	}

	ids, err := s.client.SMembers(ctx, NodesKey(accountID)).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to get node ids: %w", err)
	}

	nodes := make([]domain.BookmarkNode, 0, len(ids))
	for _, id := range ids {
		data, err := s.client.Get(ctx, NodeKey(accountID, id)).Bytes()
		if err != nil {
			if errors.Is(err, redis.Nil) {
				// Set membership outliving the record is repairable noise.
				continue
			}
			return nil, fmt.Errorf("failed to get node %s: %w", id, err)
		}
		var node domain.BookmarkNode
		if err := json.Unmarshal(data, &node); err != nil {
			return nil, fmt.Errorf("failed to unmarshal node %s: %w", id, err)
		}
		nodes = append(nodes, node)
	}

	entries, err := s.client.ZRangeByScore(ctx, JournalKey(accountID), &redis.ZRangeBy{
		Min: "-inf",
		Max: "+inf",
	}).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to get journal: %w", err)
	}
	journal := make([]domain.AcceptedEvent, 0, len(entries))
	for _, raw := range entries {
		var ev domain.AcceptedEvent
		if err := json.Unmarshal([]byte(raw), &ev); err != nil {
			return nil, fmt.Errorf("failed to unmarshal journal entry: %w", err)
		}
		journal = append(journal, ev)
	}

	return &domain.AccountSnapshot{
		Nodes:    nodes,
		Revision: revision,
		Journal:  journal,
	}, nil
}

// PurgeNodes physically deletes acked tombstones (bulk operation).
func (s *Store) PurgeNodes(ctx context.Context, accountID string, ids []string) error {
	if len(ids) == 0 {
		return nil
	}

	pipe := s.client.TxPipeline()
	for _, id := range ids {
		pipe.Del(ctx, NodeKey(accountID, id))
		pipe.SRem(ctx, NodesKey(accountID), id)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to purge nodes: %w", err)
	}
	return nil
}

// TrimJournal drops journal entries with revision <= upTo.
func (s *Store) TrimJournal(ctx context.Context, accountID string, upTo uint64) error {
	max := strconv.FormatUint(upTo, 10)
	if err := s.client.ZRemRangeByScore(ctx, JournalKey(accountID), "-inf", max).Err(); err != nil {
		return fmt.Errorf("failed to trim journal: %w", err)
	}
	return nil
}

// Accounts lists every account id the store has state for.
func (s *Store) Accounts(ctx context.Context) ([]string, error) {
	ids, err := s.client.SMembers(ctx, AccountsKey()).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to get accounts: %w", err)
	}
	return ids, nil
}
