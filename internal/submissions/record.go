package submissions

import (
	"encoding/json"
	"fmt"
	"slices"
	"strings"
)

// statusMissing is reported for records that carry no status field.
const statusMissing = "Unknown"

// Record is one upstream submission. It is an immutable snapshot of a fetch.
type Record struct {
	// IDs are the identity aliases of the submitter.
	IDs    []string
	Status string
	// Meta keeps the remaining upstream fields (reviewer, project, ...).
	Meta map[string]any
}

// Has reports whether identity is one of the record's aliases.
func (r Record) Has(identity string) bool {
	return identity != "" && slices.Contains(r.IDs, identity)
}

func (r Record) Class() Class { return Classify(r.Status) }

type document struct {
	Submissions []Record `json:"submissions"`
}

// UnmarshalJSON accepts slackRealId as an array or a single string.
func (r *Record) UnmarshalJSON(b []byte) error {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(b, &raw); err != nil {
		return err
	}

	out := Record{Status: statusMissing, Meta: map[string]any{}}
	for k, v := range raw {
		switch k {
		case "slackRealId":
			ids, err := decodeIDs(v)
			if err != nil {
				return fmt.Errorf("slackRealId: %w", err)
			}
			out.IDs = ids
		case "status":
			var s string
			if err := json.Unmarshal(v, &s); err == nil && s != "" {
				out.Status = s
			}
		default:
			var anyV any
			if err := json.Unmarshal(v, &anyV); err == nil {
				out.Meta[k] = anyV
			}
		}
	}
	*r = out
	return nil
}

func decodeIDs(v json.RawMessage) ([]string, error) {
	trimmed := strings.TrimSpace(string(v))
	if trimmed == "" || trimmed == "null" {
		return nil, nil
	}
	var one string
	if err := json.Unmarshal(v, &one); err == nil {
		if one == "" {
			return nil, nil
		}
		return []string{one}, nil
	}
	var many []any
	if err := json.Unmarshal(v, &many); err != nil {
		return nil, err
	}
	ids := make([]string, 0, len(many))
	for _, x := range many {
		if x == nil {
			continue
		}
		s := strings.TrimSpace(fmt.Sprint(x))
		if s != "" {
			ids = append(ids, s)
		}
	}
	return ids, nil
}
