package budget

import (
	"strconv"
	"strings"
	"time"
)

// HoursPerDay is the length of every budget vector.
const HoursPerDay = 24

// Unit is the state of one hour slot of a budget vector.
type Unit uint8

const (
	UnitEmpty Unit = 0
	UnitFull  Unit = 1
)

// Value is the budget vector for one (budget key, day), indexed by UTC hour.
type Value [HoursPerDay]Unit

// FullValue returns a vector with every hour still available.
func FullValue() Value {
	var v Value
	for i := range v {
		v[i] = UnitFull
	}
	return v
}

// Day counts whole days since the Unix epoch.
type Day int64

// DayOf returns the day a reporting time falls in. Floor division, so
// pre-epoch instants land on the correct negative day.
func DayOf(t time.Time) Day {
	sec := t.Unix()
	d := sec / 86400
	if sec%86400 < 0 {
		d--
	}
	return Day(d)
}

// HourOf returns the UTC hour-of-day of a reporting time, in [0, 24).
func HourOf(t time.Time) int {
	return t.UTC().Hour()
}

// KeyFor derives the budget key for a client key under a reporting origin.
// A single trailing slash on the origin is dropped so equivalent origins
// map to the same key.
func KeyFor(reportingOrigin, clientKey string) string {
	return strings.TrimSuffix(reportingOrigin, "/") + "/" + clientKey
}

// PrimaryKey addresses one stored budget row.
type PrimaryKey struct {
	BudgetKey string
	Day       Day
}

// Timeframe renders the day as the store's string column value.
func (k PrimaryKey) Timeframe() string {
	return strconv.FormatInt(int64(k.Day), 10)
}

// Row is one stored budget entry as returned by the store.
type Row struct {
	BudgetKey  string
	Timeframe  string
	Value      []byte
	ValueProto []byte
}

// Mutation is one upsert the store applies at commit. A nil column means
// the active migration phase does not write it.
type Mutation struct {
	BudgetKey  string
	Timeframe  string
	Value      []byte
	ValueProto []byte
}
