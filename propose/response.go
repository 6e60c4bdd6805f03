package propose

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/docutag/interlinker/models"
)

// response is a validated generator reply
type response struct {
	OK                bool
	URL               string
	BlockID           string
	Anchor            string
	OriginalBlockText string
	ModifiedBlockText string
	Reason            string
	OverwriteBlock    bool
	SEOMetrics        *models.SEOMetrics
}

var errNoJSON = errors.New("no JSON object found")

// extractJSON returns the first balanced {...} object in raw, skipping braces
// that appear inside JSON strings.
func extractJSON(raw string) (string, error) {
	start := strings.IndexByte(raw, '{')
	if start < 0 {
		return "", errNoJSON
	}

	depth := 0
	inString := false
	escaped := false
	for i := start; i < len(raw); i++ {
		c := raw[i]
		if inString {
			switch {
			case escaped:
				escaped = false
			case c == '\\':
				escaped = true
			case c == '"':
				inString = false
			}
			continue
		}
		switch c {
		case '"':
			inString = true
		case '{':
			depth++
		case '}':
			depth--
			if depth == 0 {
				return raw[start : i+1], nil
			}
		}
	}
	return "", fmt.Errorf("%w: unbalanced braces", errNoJSON)
}

// parseResponse extracts and schema-checks the generator reply
func parseResponse(raw string) (*response, error) {
	obj, err := extractJSON(raw)
	if err != nil {
		return nil, err
	}

	var fields map[string]json.RawMessage
	if err := json.Unmarshal([]byte(obj), &fields); err != nil {
		return nil, fmt.Errorf("malformed JSON: %w", err)
	}

	r := &response{}
	okRaw, present := fields["ok"]
	if !present {
		return nil, errors.New(`missing "ok"`)
	}
	if err := json.Unmarshal(okRaw, &r.OK); err != nil {
		return nil, errors.New(`"ok" must be a boolean`)
	}

	if err := optionalString(fields, "reason", &r.Reason); err != nil {
		return nil, err
	}
	if !r.OK {
		return r, nil
	}

	required := []struct {
		key string
		dst *string
	}{
		{"url", &r.URL},
		{"block_id", &r.BlockID},
		{"anchor", &r.Anchor},
		{"original_block_text", &r.OriginalBlockText},
		{"modified_block_text", &r.ModifiedBlockText},
	}
	for _, f := range required {
		if err := optionalString(fields, f.key, f.dst); err != nil {
			return nil, err
		}
		if strings.TrimSpace(*f.dst) == "" {
			return nil, fmt.Errorf("%q must be a non-empty string", f.key)
		}
	}

	if v, ok := fields["overwrite_block"]; ok && string(v) != "null" {
		if err := json.Unmarshal(v, &r.OverwriteBlock); err != nil {
			return nil, errors.New(`"overwrite_block" must be a boolean`)
		}
	}

	if v, ok := fields["seo_metrics"]; ok && string(v) != "null" {
		m, err := parseMetrics(v)
		if err != nil {
			return nil, err
		}
		r.SEOMetrics = m
	}

	return r, nil
}

func optionalString(fields map[string]json.RawMessage, key string, dst *string) error {
	v, ok := fields[key]
	if !ok || string(v) == "null" {
		return nil
	}
	if err := json.Unmarshal(v, dst); err != nil {
		return fmt.Errorf("%q must be a string", key)
	}
	return nil
}

func parseMetrics(raw json.RawMessage) (*models.SEOMetrics, error) {
	var m struct {
		Relevance *float64 `json:"relevance"`
		Authority *float64 `json:"authority"`
	}
	if err := json.Unmarshal(raw, &m); err != nil {
		return nil, errors.New(`"seo_metrics" must be an object of numbers`)
	}
	if m.Relevance == nil || m.Authority == nil {
		return nil, errors.New(`"seo_metrics" needs relevance and authority`)
	}
	for name, v := range map[string]float64{"relevance": *m.Relevance, "authority": *m.Authority} {
		if v < 0 || v > 100 {
			return nil, fmt.Errorf("seo_metrics.%s %.1f outside [0,100]", name, v)
		}
	}
	return &models.SEOMetrics{Relevance: *m.Relevance, Authority: *m.Authority}, nil
}
