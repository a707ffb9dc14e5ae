// Package valuetype implements the tagged scalar variant used by the
// payload render path (§9 "Dynamic typing → tagged variants"): every
// coercion between raw tag values and typed, loggable scalars is
// explicit and total, never throwing on an unexpected shape.
package valuetype

import (
	"encoding/json"
	"strconv"
	"strings"
	"time"
)

// Kind enumerates the scalar shapes a published or logged value can take.
type Kind string

const (
	KindNum      Kind = "num"
	KindText     Kind = "text"
	KindBool     Kind = "bool"
	KindDatetime Kind = "datetime"
)

// Value is a single tagged scalar. Exactly one of Num/Text/Bool/Time is
// meaningful, selected by Kind.
type Value struct {
	Kind Kind
	Num  float64
	Text string
	Bool bool
	Time time.Time
}

func Number(f float64) Value  { return Value{Kind: KindNum, Num: f} }
func String(s string) Value   { return Value{Kind: KindText, Text: s} }
func Boolean(b bool) Value    { return Value{Kind: KindBool, Bool: b} }
func Datetime(t time.Time) Value { return Value{Kind: KindDatetime, Time: t} }

// Tristate is a three-valued boolean: True, False, or Unknown (invalid/missing).
type Tristate int

const (
	Unknown Tristate = iota
	False
	True
)

// CoerceBoolTristate converts an arbitrary raw tag value to a Tristate,
// matching the source's numeric (0/1), boolean, and string (true/on/yes/1,
// false/off/no/0) coercion rules. Anything else is Unknown.
func CoerceBoolTristate(raw interface{}) Tristate {
	switch v := raw.(type) {
	case nil:
		return Unknown
	case bool:
		if v {
			return True
		}
		return False
	case float64:
		return numToTristate(v)
	case float32:
		return numToTristate(float64(v))
	case int:
		return numToTristate(float64(v))
	case int64:
		return numToTristate(float64(v))
	case string:
		return stringToTristate(v)
	default:
		return Unknown
	}
}

func numToTristate(f float64) Tristate {
	switch f {
	case 0:
		return False
	case 1:
		return True
	default:
		return Unknown
	}
}

func stringToTristate(s string) Tristate {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "true", "1", "on", "yes":
		return True
	case "false", "0", "off", "no":
		return False
	default:
		return Unknown
	}
}

// AndTristate reduces a set of tristate readings with the rule: any False
// wins; else any Unknown makes the result Unknown; else True (§4.7, P8-adjacent).
// An empty input is Unknown.
func AndTristate(values []Tristate) Tristate {
	sawUnknown := false
	sawTrue := false
	for _, v := range values {
		switch v {
		case False:
			return False
		case Unknown:
			sawUnknown = true
		case True:
			sawTrue = true
		}
	}
	if sawUnknown {
		return Unknown
	}
	if sawTrue {
		return True
	}
	return Unknown
}

// ExtractScalar unwraps a raw tag value that may be a map/JSON-string
// wrapper of the form {"Value": ...} / {"value": ...}, returning the inner
// scalar. Values that aren't wrapped are returned unchanged.
func ExtractScalar(raw interface{}) interface{} {
	switch v := raw.(type) {
	case map[string]interface{}:
		if inner, ok := v["Value"]; ok {
			return inner
		}
		if inner, ok := v["value"]; ok {
			return inner
		}
		return raw
	case string:
		s := strings.TrimSpace(v)
		if strings.HasPrefix(s, "{") && strings.HasSuffix(s, "}") {
			var obj map[string]interface{}
			if err := json.Unmarshal([]byte(s), &obj); err == nil {
				if inner, ok := obj["Value"]; ok {
					return inner
				}
				if inner, ok := obj["value"]; ok {
					return inner
				}
			}
		}
		return raw
	default:
		return raw
	}
}

// FirstGoodNumeric returns the first value in raws that coerces cleanly to
// a float64, along with ok=true. Used by the cycle-group publisher (§4.7).
func FirstGoodNumeric(raws []interface{}) (float64, bool) {
	for _, raw := range raws {
		scalar := ExtractScalar(raw)
		switch v := scalar.(type) {
		case float64:
			return v, true
		case float32:
			return float64(v), true
		case int:
			return float64(v), true
		case int64:
			return float64(v), true
		case string:
			if f, err := strconv.ParseFloat(strings.TrimSpace(v), 64); err == nil {
				return f, true
			}
		}
	}
	return 0, false
}

// FormatMMSS renders a non-negative second count as "m:ss" (§4.6 TopOvercycleTimes).
func FormatMMSS(totalSec float64) string {
	if totalSec < 0 {
		totalSec = 0
	}
	total := int64(totalSec + 0.5)
	m := total / 60
	s := total % 60
	return strconv.FormatInt(m, 10) + ":" + pad2(s)
}

func pad2(n int64) string {
	if n < 10 {
		return "0" + strconv.FormatInt(n, 10)
	}
	return strconv.FormatInt(n, 10)
}
