package gridbase

import (
	"math"
	"sort"
	"strconv"
	"strings"

	jsoniter "github.com/json-iterator/go"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// DecodeCell turns a stored cell into a typed value: boolean, number,
// structured JSON, or plain text, tried in that order. Empty cells report ok=false.
func DecodeCell(cell string) (value interface{}, ok bool) {
	if cell == "" {
		return nil, false
	}

	switch strings.ToLower(cell) {
	case "true":
		return true, true
	case "false":
		return false, true
	}

	if f, err := strconv.ParseFloat(strings.TrimSpace(cell), 64); err == nil && !math.IsInf(f, 0) && !math.IsNaN(f) {
		return f, true
	}

	var parsed interface{}
	if err := json.UnmarshalFromString(cell, &parsed); err == nil {
		return parsed, true
	}

	return cell, true
}

// EncodeCell renders a value for storage. Objects and arrays become JSON text.
func EncodeCell(value interface{}) (string, error) {
	switch v := value.(type) {
	case nil:
		return "", nil
	case string:
		return v, nil
	case bool:
		return strconv.FormatBool(v), nil
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64), nil
	case float32:
		return strconv.FormatFloat(float64(v), 'f', -1, 32), nil
	case int:
		return strconv.Itoa(v), nil
	case int64:
		return strconv.FormatInt(v, 10), nil
	default:
		out, err := json.MarshalToString(v)
		if err != nil {
			return "", WithContext(ErrInvalidData, map[string]interface{}{
				"reason": err.Error(),
			})
		}
		return out, nil
	}
}

// normalizeValue converts caller-supplied values into the shapes stored in the
// cache: float64 numbers, map[string]interface{} objects, []interface{} arrays.
func normalizeValue(value interface{}) interface{} {
	switch v := value.(type) {
	case nil, string, bool, float64:
		return v
	case int:
		return float64(v)
	case int8:
		return float64(v)
	case int16:
		return float64(v)
	case int32:
		return float64(v)
	case int64:
		return float64(v)
	case uint:
		return float64(v)
	case uint8:
		return float64(v)
	case uint16:
		return float64(v)
	case uint32:
		return float64(v)
	case uint64:
		return float64(v)
	case float32:
		return float64(v)
	case map[string]interface{}:
		return normalizeMap(v)
	case []interface{}:
		out := make([]interface{}, len(v))
		for i := range v {
			out[i] = normalizeValue(v[i])
		}
		return out
	case []string:
		out := make([]interface{}, len(v))
		for i := range v {
			out[i] = v[i]
		}
		return out
	default:
		// Structs and other typed values go through a JSON round trip.
		raw, err := json.Marshal(v)
		if err != nil {
			return v
		}
		var generic interface{}
		if err := json.Unmarshal(raw, &generic); err != nil {
			return v
		}
		return generic
	}
}

func normalizeMap(m map[string]interface{}) map[string]interface{} {
	if m == nil {
		return nil
	}
	out := make(map[string]interface{}, len(m))
	for k, v := range m {
		out[k] = normalizeValue(v)
	}
	return out
}

// deepCopy copies maps and slices so callers never share cache memory.
func deepCopy(value interface{}) interface{} {
	switch v := value.(type) {
	case map[string]interface{}:
		return copyMap(v)
	case []interface{}:
		out := make([]interface{}, len(v))
		for i := range v {
			out[i] = deepCopy(v[i])
		}
		return out
	default:
		return v
	}
}

func copyMap(m map[string]interface{}) map[string]interface{} {
	if m == nil {
		return nil
	}
	out := make(map[string]interface{}, len(m))
	for k, v := range m {
		out[k] = deepCopy(v)
	}
	return out
}

// truthy follows the loose truthiness the rule language and filters share.
func truthy(value interface{}) bool {
	switch v := value.(type) {
	case nil:
		return false
	case bool:
		return v
	case float64:
		return v != 0 && !math.IsNaN(v)
	case int:
		return v != 0
	case string:
		return v != ""
	default:
		return true
	}
}

func sortedKeys(m map[string]interface{}) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
