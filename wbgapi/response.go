package wbgapi

import (
	"bytes"
	"encoding/json"
	"strconv"

	"github.com/pkg/errors"
)

type page struct {
	header header
	rows   []Record
}

// header is the paging block the API puts in front of every result set.
// Numbers come back either as JSON numbers or as strings depending on the endpoint.
type header struct {
	Page    flexInt      `json:"page"`
	Pages   flexInt      `json:"pages"`
	PerPage flexInt      `json:"per_page"`
	Total   flexInt      `json:"total"`
	Message []apiMessage `json:"message"`
}

type apiMessage struct {
	ID    string `json:"id"`
	Key   string `json:"key"`
	Value string `json:"value"`
}

func (h header) apiError() error {
	if len(h.Message) == 0 {
		return nil
	}
	m := h.Message[0]
	return &APIError{ID: m.ID, Key: m.Key, Message: m.Value}
}

type flexInt int

func (i *flexInt) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if len(b) == 0 || string(b) == "null" {
		*i = 0
		return nil
	}
	if b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		if s == "" {
			*i = 0
			return nil
		}
		n, err := strconv.Atoi(s)
		if err != nil {
			return err
		}
		*i = flexInt(n)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(b, &n); err != nil {
		return err
	}
	v, err := n.Int64()
	if err != nil {
		return err
	}
	*i = flexInt(v)
	return nil
}

// sourceEnvelope is the object-shaped response of the sources/{db}/... endpoints.
type sourceEnvelope struct {
	header
	Source []struct {
		Concept []json.RawMessage `json:"concept"`
	} `json:"source"`
}

type conceptVariables struct {
	Variable []Record `json:"variable"`
}

// decodePage understands both response shapes of the API:
// `[header, rows]` for the flat endpoints, and a header object carrying
// `source[0].concept` for the per-database endpoints.
func decodePage(body []byte, concepts bool) (*page, error) {
	trimmed := bytes.TrimSpace(body)
	if len(trimmed) == 0 {
		return &page{}, nil
	}

	switch trimmed[0] {
	case '[':
		return decodeListPage(trimmed)
	case '{':
		return decodeSourcePage(trimmed, concepts)
	default:
		return nil, errors.Errorf("unexpected World Bank API response: %.64q", string(trimmed))
	}
}

func decodeListPage(body []byte) (*page, error) {
	var parts []json.RawMessage
	if err := json.Unmarshal(body, &parts); err != nil {
		return nil, errors.Wrap(err, "failed to unmarshal World Bank API response")
	}
	if len(parts) == 0 {
		return &page{}, nil
	}

	p := &page{}
	if err := json.Unmarshal(parts[0], &p.header); err != nil {
		return nil, errors.Wrap(err, "failed to unmarshal World Bank API response header")
	}
	if err := p.header.apiError(); err != nil {
		return nil, err
	}

	if len(parts) > 1 {
		var rows []Record
		if err := json.Unmarshal(parts[1], &rows); err != nil {
			return nil, errors.Wrap(err, "failed to unmarshal World Bank API records")
		}
		p.rows = compact(rows)
	}
	return p, nil
}

func decodeSourcePage(body []byte, concepts bool) (*page, error) {
	var env sourceEnvelope
	if err := json.Unmarshal(body, &env); err != nil {
		return nil, errors.Wrap(err, "failed to unmarshal World Bank API response")
	}
	if err := env.header.apiError(); err != nil {
		return nil, err
	}

	p := &page{header: env.header}
	if len(env.Source) == 0 || len(env.Source[0].Concept) == 0 {
		return p, nil
	}

	blocks := env.Source[0].Concept
	if concepts {
		for _, raw := range blocks {
			var rec Record
			if err := json.Unmarshal(raw, &rec); err != nil {
				return nil, errors.Wrap(err, "failed to unmarshal World Bank API concept")
			}
			if rec != nil {
				p.rows = append(p.rows, rec)
			}
		}
		return p, nil
	}

	var vars conceptVariables
	if err := json.Unmarshal(blocks[0], &vars); err != nil {
		return nil, errors.Wrap(err, "failed to unmarshal World Bank API concept variables")
	}
	p.rows = compact(vars.Variable)
	return p, nil
}

func compact(rows []Record) []Record {
	out := rows[:0]
	for _, r := range rows {
		if r != nil {
			out = append(out, r)
		}
	}
	return out
}
