package feeds

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"
)

// DecodeTime normalizes the encodings upstream JSON uses for a unix time:
// a plain number, a decimal string, or a 64-bit value split into 32-bit
// {low, high} words. It is the single place these shapes are understood.
func DecodeTime(raw json.RawMessage) (int64, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return 0, fmt.Errorf("%w: empty time value", ErrDecode)
	}

	switch raw[0] {
	case '"':
		var s string
		if err := json.Unmarshal(raw, &s); err != nil {
			return 0, fmt.Errorf("%w: time string: %v", ErrDecode, err)
		}
		return parseNumeric(strings.TrimSpace(s))
	case '{':
		var wrapped struct {
			Low      *json.Number `json:"low"`
			High     *json.Number `json:"high"`
			Unsigned bool         `json:"unsigned"`
		}
		dec := json.NewDecoder(bytes.NewReader(raw))
		dec.UseNumber()
		if err := dec.Decode(&wrapped); err != nil {
			return 0, fmt.Errorf("%w: wrapped time: %v", ErrDecode, err)
		}
		if wrapped.Low == nil {
			return 0, fmt.Errorf("%w: wrapped time without low word", ErrDecode)
		}
		low, err := wrapped.Low.Int64()
		if err != nil {
			return 0, fmt.Errorf("%w: wrapped low word: %v", ErrDecode, err)
		}
		var high int64
		if wrapped.High != nil {
			if high, err = wrapped.High.Int64(); err != nil {
				return 0, fmt.Errorf("%w: wrapped high word: %v", ErrDecode, err)
			}
		}
		if low < math.MinInt32 || low > math.MaxUint32 || high < math.MinInt32 || high > math.MaxUint32 {
			return 0, fmt.Errorf("%w: wrapped time word out of 32-bit range", ErrDecode)
		}
		bits := uint64(uint32(high))<<32 | uint64(uint32(low))
		// A signed value reads the high word as two's complement; an unsigned
		// one must still fit int64.
		if wrapped.Unsigned && bits > math.MaxInt64 {
			return 0, fmt.Errorf("%w: unsigned wrapped time out of range", ErrDecode)
		}
		return int64(bits), nil
	default:
		return parseNumeric(string(raw))
	}
}

func parseNumeric(s string) (int64, error) {
	if s == "" {
		return 0, fmt.Errorf("%w: empty time string", ErrDecode)
	}
	if v, err := strconv.ParseInt(s, 10, 64); err == nil {
		return v, nil
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil || math.IsNaN(f) || math.IsInf(f, 0) || f != math.Trunc(f) {
		return 0, fmt.Errorf("%w: time %q is not an integer", ErrDecode, s)
	}
	if f > math.MaxInt64 || f < math.MinInt64 {
		return 0, fmt.Errorf("%w: time %q out of range", ErrDecode, s)
	}
	return int64(f), nil
}

// TimeValue decodes with DecodeTime when embedded in upstream JSON structs.
// Absent fields leave Valid false.
type TimeValue struct {
	Seconds int64
	Valid   bool
}

func (t *TimeValue) UnmarshalJSON(data []byte) error {
	if bytes.Equal(bytes.TrimSpace(data), []byte("null")) {
		*t = TimeValue{}
		return nil
	}
	v, err := DecodeTime(data)
	if err != nil {
		return err
	}
	*t = TimeValue{Seconds: v, Valid: true}
	return nil
}

func (t TimeValue) Ptr() *int64 {
	if !t.Valid {
		return nil
	}
	return int64Ptr(t.Seconds)
}
