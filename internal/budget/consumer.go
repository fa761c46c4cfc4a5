package budget

import (
	"fmt"
	"sort"
	"strconv"
	"time"

	"github.com/opencoordinator/pbs/internal/request"
)

// BinaryConsumer turns one consume request into row reads and
// conditional mutations over 24-hour binary budget vectors. Build one
// per request; it is not safe for concurrent use.
type BinaryConsumer struct {
	phase Phase
	slots map[PrimaryKey]map[int]int
	order []PrimaryKey
	count int
}

func NewBinaryConsumer(phase Phase) *BinaryConsumer {
	return &BinaryConsumer{
		phase: phase,
		slots: make(map[PrimaryKey]map[int]int),
	}
}

// ParseRequest validates a v2 request and indexes every key as a
// (budget key, day, hour) slot remembering its flat position. Error
// messages cite flat indices, not key material.
func (c *BinaryConsumer) ParseRequest(req *request.ConsumeBudgetRequest, authorizedDomain string) error {
	return request.ParseCommonV2(req, authorizedDomain, func(origin string, key *request.Key, index int) error {
		token, err := key.EffectiveToken()
		if err != nil {
			return fmt.Errorf("key %d: %v: %w", index, err, ErrInvalidRequestBody)
		}
		if token != 1 {
			return fmt.Errorf("key %d carries token %d, want 1: %w", index, token, ErrInvalidRequestBody)
		}
		t, err := time.Parse(time.RFC3339, key.ReportingTime)
		if err != nil {
			return fmt.Errorf("key %d reporting_time: %v: %w", index, err, ErrInvalidRequest)
		}
		pk := PrimaryKey{BudgetKey: KeyFor(origin, key.Key), Day: DayOf(t)}
		hour := HourOf(t)
		hours, ok := c.slots[pk]
		if !ok {
			hours = make(map[int]int)
			c.slots[pk] = hours
			c.order = append(c.order, pk)
		}
		if _, dup := hours[hour]; dup {
			return fmt.Errorf("key %d targets a budget slot already requested: %w", index, ErrInvalidRequest)
		}
		hours[hour] = index
		c.count++
		return nil
	})
}

// KeyCount returns the number of distinct (budget key, day, hour) slots
// in the parsed request.
func (c *BinaryConsumer) KeyCount() int { return c.count }

// PrimaryKeys returns the rows to read, in first-seen request order.
func (c *BinaryConsumer) PrimaryKeys() []PrimaryKey { return c.order }

// ReadColumns exposes the truth column the store read must fetch.
func (c *BinaryConsumer) ReadColumns() Columns { return c.phase.ReadColumns() }

// Consume applies the parsed request against the stored rows. Rows for
// keys the request never asked for are ignored. On success it returns
// one mutation per requested primary key; if any requested hour was
// already empty it returns an ExhaustedError and no mutations.
func (c *BinaryConsumer) Consume(rows []Row) ([]Mutation, error) {
	post := make(map[PrimaryKey]Value, len(c.order))
	var exhausted []int
	for i := range rows {
		row := &rows[i]
		pk, ok := c.matchRow(row)
		if !ok {
			continue
		}
		if _, dup := post[pk]; dup {
			continue
		}
		v, err := c.decodeRow(row)
		if err != nil {
			return nil, err
		}
		applySlots(&v, c.slots[pk], &exhausted)
		post[pk] = v
	}
	for _, pk := range c.order {
		if _, ok := post[pk]; ok {
			continue
		}
		v := FullValue()
		applySlots(&v, c.slots[pk], &exhausted)
		post[pk] = v
	}

	if len(exhausted) > 0 {
		sort.Ints(exhausted)
		return nil, &ExhaustedError{Indices: exhausted}
	}

	write := c.phase.WriteColumns()
	mutations := make([]Mutation, 0, len(c.order))
	for _, pk := range c.order {
		v := post[pk]
		m := Mutation{BudgetKey: pk.BudgetKey, Timeframe: pk.Timeframe()}
		if write.Value {
			b, err := EncodeValueJSON(v)
			if err != nil {
				return nil, fmt.Errorf("encode budget value: %w", err)
			}
			m.Value = b
		}
		if write.ValueProto {
			m.ValueProto = EncodeValueProto(v)
		}
		mutations = append(mutations, m)
	}
	return mutations, nil
}

// applySlots empties every requested hour, collecting the flat indices
// of hours that were already empty.
func applySlots(v *Value, hours map[int]int, exhausted *[]int) {
	for hour, index := range hours {
		if v[hour] == UnitEmpty {
			*exhausted = append(*exhausted, index)
			continue
		}
		v[hour] = UnitEmpty
	}
}

func (c *BinaryConsumer) matchRow(row *Row) (PrimaryKey, bool) {
	day, err := strconv.ParseInt(row.Timeframe, 10, 64)
	if err != nil {
		return PrimaryKey{}, false
	}
	pk := PrimaryKey{BudgetKey: row.BudgetKey, Day: Day(day)}
	_, ok := c.slots[pk]
	return pk, ok
}

func (c *BinaryConsumer) decodeRow(row *Row) (Value, error) {
	if c.phase.TruthIsProto() {
		v, err := DecodeValueProto(row.ValueProto)
		if err != nil {
			return Value{}, fmt.Errorf("row (%s, %s): %w", row.BudgetKey, row.Timeframe, err)
		}
		return v, nil
	}
	v, err := DecodeValueJSON(row.Value)
	if err != nil {
		return Value{}, fmt.Errorf("row (%s, %s): %w", row.BudgetKey, row.Timeframe, err)
	}
	return v, nil
}
