package models

import "time"

// BlockType classifies a content block
type BlockType string

const (
	BlockHeading    BlockType = "heading"
	BlockParagraph  BlockType = "paragraph"
	BlockListItem   BlockType = "list_item"
	BlockBlockquote BlockType = "blockquote"
	BlockCode       BlockType = "code"
	BlockOther      BlockType = "other"
)

// ContentBlock is one addressable unit of document structure
type ContentBlock struct {
	ID           string    `json:"id"`
	Type         BlockType `json:"type"`
	Text         string    `json:"text"`
	HTML         string    `json:"html"`
	ContainsLink bool      `json:"contains_link"`
	Container    bool      `json:"container,omitempty"` // Wraps other blocks, e.g. <li><p>..</p></li>
	Truncated    bool      `json:"truncated,omitempty"` // Text was capped; a rewrite would drop the tail
}

// Eligible reports whether the block may receive a new link. Containers are
// excluded so that rewriting one block never detaches another, and truncated
// blocks so that a rewrite never loses text the generator did not see.
func (b ContentBlock) Eligible() bool {
	return (b.Type == BlockParagraph || b.Type == BlockListItem) && !b.ContainsLink && !b.Container && !b.Truncated
}

// Candidate is a prospective link target
type Candidate struct {
	URL     string  `json:"url"`
	Content string  `json:"content"`
	Score   float64 `json:"score"` // Cosine similarity to the principal document
}

// SEOMetrics are the generator's self-reported scores for an edit
type SEOMetrics struct {
	Relevance float64 `json:"relevance"`
	Authority float64 `json:"authority"`
}

// Edit is a committed, validated link insertion
type Edit struct {
	BlockID           string      `json:"block_id"`
	TargetURL         string      `json:"target_url"`
	Anchor            string      `json:"anchor"`
	OriginalBlockText string      `json:"original_block_text"`
	ModifiedBlockText string      `json:"modified_block_text"` // Markdown with exactly one [anchor](url)
	Justification     string      `json:"justification"`
	Metrics           *SEOMetrics `json:"metrics,omitempty"`
	OverwriteBlock    bool        `json:"overwrite_block,omitempty"`
	Score             float64     `json:"score"`
}

// Rejection explains why a candidate produced no edit
type Rejection struct {
	URL    string   `json:"url"`
	Gate   string   `json:"gate"`
	Reason string   `json:"reason"`
	Score  *float64 `json:"score,omitempty"`
}

// RunMetrics summarizes a link insertion run
type RunMetrics struct {
	TotalLinks         int     `json:"total_links"`
	DensityPer1000     float64 `json:"density_per_1000_words"`
	CandidatesAnalyzed int     `json:"candidates_analyzed"`
	EligibleBlocks     int     `json:"eligible_blocks"`
	WordCount          int     `json:"word_count"`
	MaxLinks           int     `json:"max_links"`
}

// RunResult is the complete output of one link insertion run
type RunResult struct {
	ID             string         `json:"id"`
	PrincipalURL   string         `json:"principal_url"`
	Title          string         `json:"title,omitempty"`
	HTML           string         `json:"html,omitempty"` // Principal HTML the blocks were extracted from
	Blocks         []ContentBlock `json:"blocks"`
	Edits          []Edit         `json:"edits"`
	Rejected       []Rejection    `json:"rejected"`
	Metrics        RunMetrics     `json:"metrics"`
	Warnings       []string       `json:"warnings,omitempty"` // Non-fatal processing issues
	CreatedAt      time.Time      `json:"created_at"`
	ProcessingTime float64        `json:"processing_time_seconds"`
}

// ViewStatus is the outcome of applying one edit to one rendered view
type ViewStatus string

const (
	StatusApplied        ViewStatus = "applied"
	StatusAlreadyLinked  ViewStatus = "already_linked"
	StatusBlockNotFound  ViewStatus = "block_not_found"
	StatusAnchorNotFound ViewStatus = "anchor_not_found"
	StatusBlockTruncated ViewStatus = "block_truncated"
)

// EditOutcome records how one edit landed in each view
type EditOutcome struct {
	BlockID   string     `json:"block_id"`
	TargetURL string     `json:"target_url"`
	Original  ViewStatus `json:"original"`
	Linked    ViewStatus `json:"linked"`
	Modified  ViewStatus `json:"modified"`
}

// ViewCounts holds one counter per rendered view
type ViewCounts struct {
	Original int `json:"original"`
	Linked   int `json:"linked"`
	Modified int `json:"modified"`
}

// RenderStats aggregates render counters
type RenderStats struct {
	Total                int           `json:"total"`
	Applied              ViewCounts    `json:"applied"`
	SkippedAlreadyLinked int           `json:"skipped_already_linked"`
	BlockNotFound        ViewCounts    `json:"block_not_found"`
	AnchorNotFound       int           `json:"anchor_not_found"`
	BlockTruncated       ViewCounts    `json:"block_truncated"`
	Outcomes             []EditOutcome `json:"outcomes"`
}

// RenderedViews holds the three HTML renderings of a document
type RenderedViews struct {
	OriginalHTML string      `json:"original_html"`
	LinkedHTML   string      `json:"linked_html"`
	ModifiedHTML string      `json:"modified_html"`
	Stats        RenderStats `json:"stats"`
}

// OllamaRequest represents a request to the Ollama generate API
type OllamaRequest struct {
	Model  string `json:"model"`
	System string `json:"system,omitempty"`
	Prompt string `json:"prompt"`
	Stream bool   `json:"stream"`
	Format string `json:"format,omitempty"`
}

// OllamaResponse represents a response from the Ollama generate API
type OllamaResponse struct {
	Model     string `json:"model"`
	CreatedAt string `json:"created_at"`
	Response  string `json:"response"`
	Done      bool   `json:"done"`
}

// OllamaEmbedRequest represents a request to the Ollama embed API
type OllamaEmbedRequest struct {
	Model string   `json:"model"`
	Input []string `json:"input"`
}

// OllamaEmbedResponse represents a response from the Ollama embed API
type OllamaEmbedResponse struct {
	Model      string      `json:"model"`
	Embeddings [][]float32 `json:"embeddings"`
}
