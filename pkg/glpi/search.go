package glpi

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"strings"
)

// API is the subset of the GLPI REST surface used by the engines.
// The resilient request executor in pkg/client implements it.
type API interface {
	// Search runs a search over itemtype.
	Search(ctx context.Context, itemtype string, q Query) (*SearchResult, error)

	// ListSearchOptions returns the searchable field metadata of itemtype.
	ListSearchOptions(ctx context.Context, itemtype string) (SearchOptions, error)
}

// Authenticator establishes a session before a multi-call operation.
// session.Manager implements it.
type Authenticator interface {
	EnsureAuthenticated(ctx context.Context) error
}

// Row is one search result row, keyed by search-option field id.
type Row map[string]any

// String returns the field as a string ("" when absent or null).
func (r Row) String(field string) string {
	v, ok := r[field]
	if !ok || v == nil {
		return ""
	}
	switch t := v.(type) {
	case string:
		return t
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	case json.Number:
		return t.String()
	default:
		return fmt.Sprint(t)
	}
}

// Int returns the field as an integer.
func (r Row) Int(field string) (int, bool) {
	s := strings.TrimSpace(r.String(field))
	if s == "" {
		return 0, false
	}
	n, err := strconv.Atoi(s)
	if err != nil {
		f, ferr := strconv.ParseFloat(s, 64)
		if ferr != nil {
			return 0, false
		}
		return int(f), true
	}
	return n, true
}

// SearchResult is the decoded body of a search call.
type SearchResult struct {
	TotalCount int   `json:"totalcount"`
	Count      int   `json:"count"`
	Data       []Row `json:"data"`

	// Total is the number of matching rows: the Content-Range total when the
	// header was present, otherwise the number of returned rows.
	Total int `json:"-"`

	// FromRange reports whether Total came from the Content-Range header.
	FromRange bool `json:"-"`
}

// ParseContentRange extracts the total from a "start-end/total" header.
func ParseContentRange(header string) (int, bool) {
	header = strings.TrimSpace(header)
	if header == "" {
		return 0, false
	}
	idx := strings.LastIndex(header, "/")
	if idx < 0 || idx == len(header)-1 {
		return 0, false
	}
	total, err := strconv.Atoi(strings.TrimSpace(header[idx+1:]))
	if err != nil || total < 0 {
		return 0, false
	}
	return total, true
}

// DecodeSearchResult decodes a search body and resolves Total from the
// Content-Range header, falling back to counting rows.
// A body that does not decode yields ErrDataShape together with whatever
// total the header provided.
func DecodeSearchResult(body []byte, contentRange string) (*SearchResult, error) {
	result := &SearchResult{}
	var decodeErr error
	if len(strings.TrimSpace(string(body))) > 0 {
		if err := json.Unmarshal(body, result); err != nil {
			decodeErr = fmt.Errorf("%w: decode search body: %v", ErrDataShape, err)
		}
	}

	if total, ok := ParseContentRange(contentRange); ok {
		result.Total = total
		result.FromRange = true
		return result, nil
	}
	if decodeErr != nil {
		return result, decodeErr
	}
	result.Total = len(result.Data)
	return result, nil
}

// SearchOption is the metadata of one searchable field.
type SearchOption struct {
	ID    string `json:"-"`
	Name  string `json:"name"`
	Table string `json:"table"`
	Field string `json:"field"`
}

// SearchOptions maps field ids to their metadata.
type SearchOptions map[string]SearchOption

// DecodeSearchOptions decodes a listSearchOptions body. Section headers
// (plain strings) and entries without a name are skipped.
func DecodeSearchOptions(body []byte) (SearchOptions, error) {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(body, &raw); err != nil {
		return nil, fmt.Errorf("%w: decode search options: %v", ErrDataShape, err)
	}

	opts := make(SearchOptions, len(raw))
	for id, msg := range raw {
		var opt SearchOption
		if err := json.Unmarshal(msg, &opt); err != nil || opt.Name == "" {
			continue
		}
		opt.ID = id
		opts[id] = opt
	}
	return opts, nil
}

// SortedIDs returns the option ids in ascending numeric order, so that
// "first match" scans are deterministic.
func (o SearchOptions) SortedIDs() []string {
	ids := make([]string, 0, len(o))
	for id := range o {
		ids = append(ids, id)
	}
	sortNumeric(ids)
	return ids
}

func sortNumeric(ids []string) {
	sort.Slice(ids, func(i, j int) bool {
		a, b := ids[i], ids[j]
		na, errA := strconv.Atoi(a)
		nb, errB := strconv.Atoi(b)
		switch {
		case errA == nil && errB == nil:
			return na < nb
		case errA == nil:
			return true
		case errB == nil:
			return false
		default:
			return a < b
		}
	})
}
