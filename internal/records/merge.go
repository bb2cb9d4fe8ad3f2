// Package records merges persisted chat records with records delivered by
// a live query into one deduplicated, time-ordered sequence.
package records

import (
	"fmt"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/user/wosafety/internal/types"
)

// TimestampLayout is the canonical createdAt representation. Its values sort
// lexicographically in chronological order.
const TimestampLayout = "2006-01-02T15:04:05.000Z"

var parseLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
	time.DateOnly,
}

// Merge normalizes secondary, appends it to primary, keeps the first record
// of every id and sorts the result by createdAt. Records without createdAt
// compare equal to everything and keep their relative position.
func Merge(primary []types.StreamingRecord, secondary []types.RawRecord) []types.StreamingRecord {
	all := make([]types.StreamingRecord, 0, len(primary)+len(secondary))
	all = append(all, primary...)
	for _, raw := range secondary {
		all = append(all, Normalize(raw))
	}

	seen := make(map[types.RecordID]struct{}, len(all))
	out := all[:0]
	for _, rec := range all {
		if _, dup := seen[rec.ID]; dup {
			continue
		}
		seen[rec.ID] = struct{}{}
		out = append(out, rec)
	}

	slices.SortStableFunc(out, Compare)
	return out
}

// Compare orders records by createdAt string. It returns 0 when either
// side has no timestamp.
func Compare(a, b types.StreamingRecord) int {
	if a.CreatedAt == "" || b.CreatedAt == "" {
		return 0
	}
	return strings.Compare(a.CreatedAt, b.CreatedAt)
}

// Normalize coerces an untyped record into a StreamingRecord. Absent or
// malformed fields become safe defaults; an unknown role becomes "ai".
func Normalize(raw types.RawRecord) types.StreamingRecord {
	rec := types.StreamingRecord{
		ID:               types.RecordID(str(raw["id"])),
		Content:          str(raw["content"]),
		Role:             role(raw["role"]),
		CreatedAt:        timestamp(raw["createdAt"]),
		ToolName:         str(raw["tool_name"]),
		ToolCallID:       str(raw["tool_call_id"]),
		ToolCalls:        str(raw["tool_calls"]),
		ResponseComplete: truthy(raw["responseComplete"]),
		Trace:            str(raw["trace"]),
		Owner:            str(raw["owner"]),
		ChainOfThought:   truthy(raw["chainOfThought"]),
		UserFeedback:     str(raw["userFeedback"]),
	}
	if sid := str(raw["chatSessionId"]); sid != "" {
		rec.SessionID = types.SessionID(sid)
	} else {
		rec.SessionID = types.SessionID(str(raw["sessionId"]))
	}
	return rec
}

func role(v any) types.Role {
	switch r := types.Role(str(v)); r {
	case types.RoleHuman, types.RoleAI, types.RoleTool:
		return r
	}
	return types.RoleAI
}

func timestamp(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case time.Time:
		return t.UTC().Format(TimestampLayout)
	case string:
		if t == "" {
			return ""
		}
		for _, layout := range parseLayouts {
			if parsed, err := time.Parse(layout, t); err == nil {
				return parsed.UTC().Format(TimestampLayout)
			}
		}
		return t
	default:
		return str(v)
	}
}

func str(v any) string {
	switch s := v.(type) {
	case nil:
		return ""
	case string:
		return s
	case float64:
		return strconv.FormatFloat(s, 'f', -1, 64)
	case bool:
		return strconv.FormatBool(s)
	case fmt.Stringer:
		return s.String()
	default:
		return fmt.Sprint(v)
	}
}

func truthy(v any) bool {
	switch b := v.(type) {
	case nil:
		return false
	case bool:
		return b
	case string:
		return b != "" && b != "false"
	case float64:
		return b != 0
	case int:
		return b != 0
	default:
		return true
	}
}
