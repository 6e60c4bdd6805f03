package models

import (
	"encoding/json"
	"testing"
)

// TestRejectionScoreSerialization verifies that score is only serialized when set
func TestRejectionScoreSerialization(t *testing.T) {
	score := 0.12

	scored := Rejection{
		URL:    "https://example.com/a",
		Gate:   "below_threshold",
		Reason: "below threshold or outside top-N",
		Score:  &score,
	}

	jsonBytes, err := json.Marshal(scored)
	if err != nil {
		t.Fatalf("Failed to marshal scored rejection: %v", err)
	}

	var unmarshaled map[string]interface{}
	if err := json.Unmarshal(jsonBytes, &unmarshaled); err != nil {
		t.Fatalf("Failed to unmarshal JSON: %v", err)
	}

	if got, exists := unmarshaled["score"]; !exists || got.(float64) != score {
		t.Errorf("score = %v, want %v", got, score)
	}

	unscored := Rejection{
		URL:    "https://example.com/b",
		Gate:   "empty_content",
		Reason: "empty or unavailable content",
	}

	jsonBytes2, err := json.Marshal(unscored)
	if err != nil {
		t.Fatalf("Failed to marshal unscored rejection: %v", err)
	}

	var unmarshaled2 map[string]interface{}
	if err := json.Unmarshal(jsonBytes2, &unmarshaled2); err != nil {
		t.Fatalf("Failed to unmarshal JSON: %v", err)
	}

	if _, exists := unmarshaled2["score"]; exists {
		t.Error("score field should be omitted when nil")
	}
}

// TestEditMetricsOmitted verifies that optional SEO metrics are omitted when absent
func TestEditMetricsOmitted(t *testing.T) {
	edit := Edit{
		BlockID:           "b:0:p:p[0]",
		TargetURL:         "https://example.com/guide",
		Anchor:            "running shoe guide",
		OriginalBlockText: "Pick a shoe that fits.",
		ModifiedBlockText: "Pick a shoe that fits, see our [running shoe guide](https://example.com/guide).",
	}

	jsonBytes, err := json.Marshal(edit)
	if err != nil {
		t.Fatalf("Failed to marshal edit: %v", err)
	}

	var unmarshaled map[string]interface{}
	if err := json.Unmarshal(jsonBytes, &unmarshaled); err != nil {
		t.Fatalf("Failed to unmarshal JSON: %v", err)
	}

	if _, exists := unmarshaled["metrics"]; exists {
		t.Error("metrics field should be omitted when nil")
	}
	if unmarshaled["block_id"] != edit.BlockID {
		t.Errorf("block_id = %v, want %s", unmarshaled["block_id"], edit.BlockID)
	}
}

func TestContentBlockEligible(t *testing.T) {
	tests := []struct {
		name  string
		block ContentBlock
		want  bool
	}{
		{"paragraph", ContentBlock{Type: BlockParagraph}, true},
		{"list item", ContentBlock{Type: BlockListItem}, true},
		{"linked paragraph", ContentBlock{Type: BlockParagraph, ContainsLink: true}, false},
		{"heading", ContentBlock{Type: BlockHeading}, false},
		{"container list item", ContentBlock{Type: BlockListItem, Container: true}, false},
		{"code", ContentBlock{Type: BlockCode}, false},
		{"truncated paragraph", ContentBlock{Type: BlockParagraph, Truncated: true}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.block.Eligible(); got != tt.want {
				t.Errorf("Eligible() = %v, want %v", got, tt.want)
			}
		})
	}
}
