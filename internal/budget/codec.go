package budget

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"google.golang.org/protobuf/encoding/protowire"
)

// protoFullUnits is the per-hour grant in the proto representation.
// FULL serializes to this value, EMPTY to zero; nothing else is legal.
const protoFullUnits = 6400

// budgetsFieldNumber is the repeated int32 budgets field of
// LaplaceDpBudgets.
const budgetsFieldNumber = 1

type tokenCountDoc struct {
	TokenCount string `json:"TokenCount"`
}

// EncodeValueJSON renders a vector as the legacy Value column document,
// a JSON object whose TokenCount string holds 24 space-separated bits.
func EncodeValueJSON(v Value) ([]byte, error) {
	parts := make([]string, HoursPerDay)
	for i, u := range v {
		parts[i] = strconv.Itoa(int(u))
	}
	return json.Marshal(tokenCountDoc{TokenCount: strings.Join(parts, " ")})
}

// DecodeValueJSON parses a legacy Value column document. Any deviation
// from the 24-bit TokenCount shape is reported as ErrCorruptValue.
func DecodeValueJSON(data []byte) (Value, error) {
	var doc tokenCountDoc
	if err := json.Unmarshal(data, &doc); err != nil {
		return Value{}, fmt.Errorf("token count document: %v: %w", err, ErrCorruptValue)
	}
	parts := strings.Split(doc.TokenCount, " ")
	if len(parts) != HoursPerDay {
		return Value{}, fmt.Errorf("token count has %d entries, want %d: %w", len(parts), HoursPerDay, ErrCorruptValue)
	}
	var v Value
	for i, p := range parts {
		n, err := strconv.Atoi(p)
		if err != nil {
			return Value{}, fmt.Errorf("token count entry %d: %v: %w", i, err, ErrCorruptValue)
		}
		switch n {
		case 0:
			v[i] = UnitEmpty
		case 1:
			v[i] = UnitFull
		default:
			return Value{}, fmt.Errorf("token count entry %d is %d, want 0 or 1: %w", i, n, ErrCorruptValue)
		}
	}
	return v, nil
}

// EncodeValueProto renders a vector as the ValueProto column bytes, a
// serialized LaplaceDpBudgets message with its budgets field packed.
func EncodeValueProto(v Value) []byte {
	packed := make([]byte, 0, 2*HoursPerDay)
	for _, u := range v {
		var n uint64
		if u == UnitFull {
			n = protoFullUnits
		}
		packed = protowire.AppendVarint(packed, n)
	}
	out := protowire.AppendTag(nil, budgetsFieldNumber, protowire.BytesType)
	return protowire.AppendBytes(out, packed)
}

// DecodeValueProto parses ValueProto column bytes. Both packed and
// unpacked encodings of the budgets field are accepted; exactly 24
// entries over {0, 6400} are required.
func DecodeValueProto(data []byte) (Value, error) {
	vals := make([]uint64, 0, HoursPerDay)
	b := data
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return Value{}, fmt.Errorf("proto tag: %v: %w", protowire.ParseError(n), ErrCorruptValue)
		}
		b = b[n:]
		switch {
		case num == budgetsFieldNumber && typ == protowire.BytesType:
			packed, n := protowire.ConsumeBytes(b)
			if n < 0 {
				return Value{}, fmt.Errorf("packed budgets: %v: %w", protowire.ParseError(n), ErrCorruptValue)
			}
			b = b[n:]
			for len(packed) > 0 {
				x, m := protowire.ConsumeVarint(packed)
				if m < 0 {
					return Value{}, fmt.Errorf("packed budget entry: %v: %w", protowire.ParseError(m), ErrCorruptValue)
				}
				packed = packed[m:]
				vals = append(vals, x)
			}
		case num == budgetsFieldNumber && typ == protowire.VarintType:
			x, n := protowire.ConsumeVarint(b)
			if n < 0 {
				return Value{}, fmt.Errorf("budget entry: %v: %w", protowire.ParseError(n), ErrCorruptValue)
			}
			b = b[n:]
			vals = append(vals, x)
		default:
			n := protowire.ConsumeFieldValue(num, typ, b)
			if n < 0 {
				return Value{}, fmt.Errorf("unknown proto field %d: %v: %w", num, protowire.ParseError(n), ErrCorruptValue)
			}
			b = b[n:]
		}
	}
	if len(vals) != HoursPerDay {
		return Value{}, fmt.Errorf("proto budgets has %d entries, want %d: %w", len(vals), HoursPerDay, ErrCorruptValue)
	}
	var v Value
	for i, x := range vals {
		switch x {
		case 0:
			v[i] = UnitEmpty
		case protoFullUnits:
			v[i] = UnitFull
		default:
			return Value{}, fmt.Errorf("proto budget entry %d is %d, want 0 or %d: %w", i, x, protoFullUnits, ErrCorruptValue)
		}
	}
	return v, nil
}
