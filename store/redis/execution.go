package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/stridehq/stride"
	"github.com/stridehq/stride/execution"
	"github.com/stridehq/stride/id"
)

// guardedPut writes a step record unless the stored one is already
// succeeded. KEYS[1] = record key, KEYS[2] = record index key,
// ARGV[1] = record JSON, ARGV[2] = step name.
// Returns 1 on write, 0 when the committed record was preserved.
var guardedPut = goredis.NewScript(`
local existing = redis.call('GET', KEYS[1])
if existing then
	local rec = cjson.decode(existing)
	if rec['status'] == 'succeeded' then
		return 0
	end
end
redis.call('SET', KEYS[1], ARGV[1])
redis.call('SADD', KEYS[2], ARGV[2])
return 1
`)

// CreateExecution persists a new execution header.
func (s *Store) CreateExecution(ctx context.Context, exec *execution.Execution) error {
	eID := exec.ID.String()
	data, err := json.Marshal(exec)
	if err != nil {
		return fmt.Errorf("stride/redis: marshal execution: %w", err)
	}

	ok, err := s.client.SetNX(ctx, execKey(eID), data, 0).Result()
	if err != nil {
		return fmt.Errorf("stride/redis: create execution: %w", err)
	}
	if !ok {
		return stride.ErrExecutionExists
	}
	if err := s.client.SAdd(ctx, execIDsKey, eID).Err(); err != nil {
		return fmt.Errorf("stride/redis: index execution: %w", err)
	}
	return nil
}

// GetExecution retrieves an execution by ID.
func (s *Store) GetExecution(ctx context.Context, execID id.ExecutionID) (*execution.Execution, error) {
	data, err := s.client.Get(ctx, execKey(execID.String())).Bytes()
	if err != nil {
		if err == goredis.Nil {
			return nil, stride.ErrExecutionNotFound
		}
		return nil, fmt.Errorf("stride/redis: get execution: %w", err)
	}
	var exec execution.Execution
	if err := json.Unmarshal(data, &exec); err != nil {
		return nil, fmt.Errorf("stride/redis: unmarshal execution: %w", err)
	}
	return &exec, nil
}

// UpdateExecution persists changes to an existing execution header.
func (s *Store) UpdateExecution(ctx context.Context, exec *execution.Execution) error {
	key := execKey(exec.ID.String())
	data, err := json.Marshal(exec)
	if err != nil {
		return fmt.Errorf("stride/redis: marshal execution: %w", err)
	}
	ok, err := s.client.SetXX(ctx, key, data, 0).Result()
	if err != nil {
		return fmt.Errorf("stride/redis: update execution: %w", err)
	}
	if !ok {
		return stride.ErrExecutionNotFound
	}
	return nil
}

// ListExecutions returns executions matching the given options, newest
// first.
func (s *Store) ListExecutions(ctx context.Context, opts execution.ListOpts) ([]*execution.Execution, error) {
	ids, err := s.client.SMembers(ctx, execIDsKey).Result()
	if err != nil {
		return nil, fmt.Errorf("stride/redis: list executions smembers: %w", err)
	}

	var execs []*execution.Execution
	for _, eID := range ids {
		data, getErr := s.client.Get(ctx, execKey(eID)).Bytes()
		if getErr != nil {
			continue
		}
		var exec execution.Execution
		if json.Unmarshal(data, &exec) != nil {
			continue
		}
		if opts.Status != "" && exec.Status != opts.Status {
			continue
		}
		execs = append(execs, &exec)
	}

	sort.Slice(execs, func(i, j int) bool {
		return execs[i].StartedAt.After(execs[j].StartedAt)
	})
	if opts.Offset >= len(execs) && opts.Offset > 0 {
		return nil, nil
	}
	if opts.Offset > 0 {
		execs = execs[opts.Offset:]
	}
	if opts.Limit > 0 && opts.Limit < len(execs) {
		execs = execs[:opts.Limit]
	}
	return execs, nil
}

// PutStepRecord upserts the transient state of a step record, refusing
// to overwrite a committed one.
func (s *Store) PutStepRecord(ctx context.Context, rec *execution.StepRecord) error {
	return s.writeRecord(ctx, rec, "put step record")
}

// CommitStep conditionally writes a terminal step outcome. The Lua
// guard makes the check-and-set atomic, so racing committers agree on
// the first succeeded result.
func (s *Store) CommitStep(ctx context.Context, rec *execution.StepRecord) error {
	return s.writeRecord(ctx, rec, "commit step")
}

func (s *Store) writeRecord(ctx context.Context, rec *execution.StepRecord, op string) error {
	eID := rec.ExecutionID.String()
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("stride/redis: marshal step record: %w", err)
	}

	written, err := guardedPut.Run(ctx, s.client,
		[]string{recordKey(eID, rec.Name), recordIndexKey(eID)},
		string(data), rec.Name,
	).Int()
	if err != nil {
		return fmt.Errorf("stride/redis: %s: %w", op, err)
	}
	if written == 0 {
		return stride.ErrStepCommitted
	}
	return nil
}

// GetStepRecord retrieves the record for a named step.
func (s *Store) GetStepRecord(ctx context.Context, execID id.ExecutionID, name string) (*execution.StepRecord, error) {
	data, err := s.client.Get(ctx, recordKey(execID.String(), name)).Bytes()
	if err != nil {
		if err == goredis.Nil {
			return nil, stride.ErrStepNotFound
		}
		return nil, fmt.Errorf("stride/redis: get step record: %w", err)
	}
	var rec execution.StepRecord
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, fmt.Errorf("stride/redis: unmarshal step record: %w", err)
	}
	return &rec, nil
}

// ListStepRecords returns all step records for an execution ordered by
// sequence number.
func (s *Store) ListStepRecords(ctx context.Context, execID id.ExecutionID) ([]*execution.StepRecord, error) {
	eID := execID.String()
	names, err := s.client.SMembers(ctx, recordIndexKey(eID)).Result()
	if err != nil {
		return nil, fmt.Errorf("stride/redis: list step records smembers: %w", err)
	}

	recs := make([]*execution.StepRecord, 0, len(names))
	for _, name := range names {
		data, getErr := s.client.Get(ctx, recordKey(eID, name)).Bytes()
		if getErr != nil {
			continue
		}
		var rec execution.StepRecord
		if json.Unmarshal(data, &rec) != nil {
			continue
		}
		recs = append(recs, &rec)
	}
	sort.Slice(recs, func(i, j int) bool { return recs[i].Seq < recs[j].Seq })
	return recs, nil
}

// PurgeExpired deletes terminal executions past retention, cascading to
// their step records and callbacks.
func (s *Store) PurgeExpired(ctx context.Context, now time.Time) (int, error) {
	ids, err := s.client.SMembers(ctx, execIDsKey).Result()
	if err != nil {
		return 0, fmt.Errorf("stride/redis: purge smembers: %w", err)
	}

	purged := 0
	for _, eID := range ids {
		data, getErr := s.client.Get(ctx, execKey(eID)).Bytes()
		if getErr != nil {
			continue
		}
		var exec execution.Execution
		if json.Unmarshal(data, &exec) != nil {
			continue
		}
		if !exec.Status.Terminal() || exec.RetainUntil == nil || exec.RetainUntil.After(now) {
			continue
		}
		if err := s.purgeExecution(ctx, eID); err != nil {
			return purged, err
		}
		purged++
	}
	return purged, nil
}

func (s *Store) purgeExecution(ctx context.Context, eID string) error {
	names, err := s.client.SMembers(ctx, recordIndexKey(eID)).Result()
	if err != nil {
		return fmt.Errorf("stride/redis: purge record index: %w", err)
	}
	cbIDs, err := s.client.SMembers(ctx, callbackIndexKey(eID)).Result()
	if err != nil {
		return fmt.Errorf("stride/redis: purge callback index: %w", err)
	}

	pipe := s.client.TxPipeline()
	for _, name := range names {
		pipe.Del(ctx, recordKey(eID, name))
	}
	for _, cbID := range cbIDs {
		pipe.Del(ctx, callbackKey(cbID))
		pipe.ZRem(ctx, callbackExpiryKey, cbID)
	}
	pipe.Del(ctx, recordIndexKey(eID), callbackIndexKey(eID), execKey(eID))
	pipe.SRem(ctx, execIDsKey, eID)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("stride/redis: purge execution: %w", err)
	}
	return nil
}
