package store

import (
	"context"
	"strconv"
	"sync"

	"github.com/opencoordinator/pbs/internal/budget"
)

// MemoryStore keeps budget rows in process memory. It backs lite-mode
// deployments and tests; commit atomicity comes from a single writer
// lock, which also gives every CommitFunc a serial snapshot.
type MemoryStore struct {
	mu   sync.Mutex
	rows map[memoryKey]memoryRow
}

type memoryKey struct {
	budgetKey string
	timeframe string
}

type memoryRow struct {
	value      []byte
	valueProto []byte
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{rows: make(map[memoryKey]memoryRow)}
}

func (s *MemoryStore) Commit(ctx context.Context, fn CommitFunc) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	mutations, err := fn(ctx, &memoryTxn{store: s})
	if err != nil {
		return err
	}
	for _, m := range mutations {
		k := memoryKey{budgetKey: m.BudgetKey, timeframe: m.Timeframe}
		row := s.rows[k]
		if m.Value != nil {
			row.value = append([]byte(nil), m.Value...)
		}
		if m.ValueProto != nil {
			row.valueProto = append([]byte(nil), m.ValueProto...)
		}
		s.rows[k] = row
	}
	return nil
}

func (s *MemoryStore) Read(ctx context.Context, keys []budget.PrimaryKey, cols budget.Columns) ([]budget.Row, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.read(keys, cols), nil
}

func (s *MemoryStore) read(keys []budget.PrimaryKey, cols budget.Columns) []budget.Row {
	var out []budget.Row
	for _, k := range keys {
		row, ok := s.rows[memoryKey{budgetKey: k.BudgetKey, timeframe: k.Timeframe()}]
		if !ok {
			continue
		}
		r := budget.Row{BudgetKey: k.BudgetKey, Timeframe: k.Timeframe()}
		if cols.Value {
			r.Value = append([]byte(nil), row.value...)
		}
		if cols.ValueProto {
			r.ValueProto = append([]byte(nil), row.valueProto...)
		}
		out = append(out, r)
	}
	return out
}

func (s *MemoryStore) PruneBefore(ctx context.Context, day budget.Day) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var pruned int64
	for k := range s.rows {
		d, err := strconv.ParseInt(k.timeframe, 10, 64)
		if err != nil {
			continue
		}
		if budget.Day(d) < day {
			delete(s.rows, k)
			pruned++
		}
	}
	return pruned, nil
}

func (s *MemoryStore) Ping(ctx context.Context) error {
	return nil
}

// Seed inserts a raw row, bypassing commit semantics. Test helper.
func (s *MemoryStore) Seed(budgetKey, timeframe string, value, valueProto []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rows[memoryKey{budgetKey: budgetKey, timeframe: timeframe}] = memoryRow{
		value:      append([]byte(nil), value...),
		valueProto: append([]byte(nil), valueProto...),
	}
}

// Len reports the number of stored rows. Test helper.
func (s *MemoryStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.rows)
}

type memoryTxn struct {
	store *MemoryStore
}

// ReadRows runs under the store lock held by Commit.
func (t *memoryTxn) ReadRows(ctx context.Context, keys []budget.PrimaryKey, cols budget.Columns) ([]budget.Row, error) {
	return t.store.read(keys, cols), nil
}
