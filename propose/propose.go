// Package propose runs the sequential edit proposal state machine: for each ranked
// candidate it picks a target block, asks the generator for a rewrite, and audits
// the reply through an ordered list of gates before committing an edit.
package propose

import (
	"context"
	"fmt"
	"math"
	"sort"
	"strings"

	"github.com/docutag/interlinker/llm"
	"github.com/docutag/interlinker/logger"
	"github.com/docutag/interlinker/markup"
	"github.com/docutag/interlinker/metrics"
	"github.com/docutag/interlinker/models"
	"github.com/docutag/interlinker/textnorm"
)

// Gate codes, in evaluation order
const (
	GateDensity            = "density_limit"
	GateDuplicateURL       = "duplicate_url"
	GateNoEligibleBlocks   = "no_eligible_blocks"
	GateNoTargetBlock      = "no_target_block"
	GateBlockReused        = "block_reused"
	GateInvalidResponse    = "invalid_response"
	GateModelDeclined      = "model_declined"
	GateBlockIDDrift       = "block_id_drift"
	GateStaleSnapshot      = "stale_snapshot"
	GateLinkShape          = "link_shape"
	GateAnchorMismatch     = "anchor_mismatch"
	GateGenericAnchor      = "generic_anchor"
	GateOffTopicAnchor     = "off_topic_anchor"
	GateDuplicateAnchor    = "duplicate_anchor"
	GateBlockReusedPostGen = "block_reused_after_generation"
)

const (
	reasonDensity         = "density limit reached"
	reasonDuplicateURL    = "target URL already linked"
	reasonNoEligible      = "no eligible blocks"
	reasonNoTarget        = "no target block found"
	reasonBlockReused     = "block already used"
	reasonInvalid         = "invalid model response"
	reasonDeclined        = "model declined"
	reasonDrift           = "model drifted id"
	reasonStale           = "original block text does not match snapshot"
	reasonLinkShape       = "must contain exactly one link to candidate URL"
	reasonAnchorMismatch  = "anchor does not match link text"
	reasonOffTopic        = "anchor not topically aligned"
	reasonDuplicateAnchor = "anchor already used"
	reasonReusedPostGen   = "block already used after generation"
)

// MaxLinks is the default density limit: 4 links per 1,000 words, at least 2
func MaxLinks(words int) int {
	n := int(math.Ceil(float64(words) / 1000 * 4))
	if n < 2 {
		return 2
	}
	return n
}

// Proposer drives the generator through the gates
type Proposer struct {
	generator llm.Generator
	log       *logger.Logger
	metrics   *metrics.Metrics
}

// New creates a Proposer
func New(generator llm.Generator, log *logger.Logger, m *metrics.Metrics) *Proposer {
	return &Proposer{generator: generator, log: logger.OrNop(log), metrics: m}
}

// runState accumulates committed edits and used keys across candidates
type runState struct {
	edits    []models.Edit
	rejected []models.Rejection
	urls     map[string]bool
	blocks   map[string]bool
	anchors  map[string]bool
}

func newRunState() *runState {
	return &runState{
		urls:    make(map[string]bool),
		blocks:  make(map[string]bool),
		anchors: make(map[string]bool),
	}
}

func (st *runState) commit(e models.Edit) {
	st.edits = append(st.edits, e)
	st.urls[e.TargetURL] = true
	st.blocks[e.BlockID] = true
	st.anchors[normalizeAnchor(e.Anchor)] = true
}

// target is an eligible block with its token set
type target struct {
	block  models.ContentBlock
	tokens map[string]struct{}
}

// Propose processes candidates sequentially in descending score order and returns the
// committed edits plus one rejection for every candidate that produced none.
func (p *Proposer) Propose(ctx context.Context, candidates []models.Candidate, blocks []models.ContentBlock, maxLinks int) ([]models.Edit, []models.Rejection) {
	ordered := make([]models.Candidate, len(candidates))
	copy(ordered, candidates)
	sort.SliceStable(ordered, func(i, j int) bool { return ordered[i].Score > ordered[j].Score })

	var targets []target
	for _, b := range blocks {
		if b.Eligible() {
			targets = append(targets, target{block: b, tokens: textnorm.TokenSet(b.Text)})
		}
	}

	st := newRunState()
	for _, c := range ordered {
		gate, reason := p.step(ctx, st, c, targets, maxLinks)
		if gate == "" {
			continue
		}
		score := c.Score
		st.rejected = append(st.rejected, models.Rejection{URL: c.URL, Gate: gate, Reason: reason, Score: &score})
		p.metrics.ObserveRejection(gate)
		p.log.Info("candidate rejected", "url", c.URL, "gate", gate, "reason", reason)
	}
	return st.edits, st.rejected
}

// step runs every gate for one candidate; an empty gate means an edit was committed
func (p *Proposer) step(ctx context.Context, st *runState, c models.Candidate, targets []target, maxLinks int) (string, string) {
	if len(st.edits) >= maxLinks {
		return GateDensity, reasonDensity
	}
	if st.urls[c.URL] {
		return GateDuplicateURL, reasonDuplicateURL
	}
	if len(targets) == 0 {
		return GateNoEligibleBlocks, reasonNoEligible
	}

	content := textnorm.TokenSet(c.Content)
	t, ok := selectBlock(targets, content, st.blocks)
	if !ok {
		return GateNoTargetBlock, reasonNoTarget
	}
	if st.blocks[t.block.ID] {
		return GateBlockReused, reasonBlockReused
	}

	raw, err := p.generator.Generate(ctx, systemPrompt, buildUserPrompt(c, t.block))
	if err != nil {
		p.log.Warn("generation failed", "url", c.URL, "block_id", t.block.ID, "error", err)
		return GateInvalidResponse, fmt.Sprintf("%s: generation failed: %v", reasonInvalid, err)
	}
	resp, err := parseResponse(raw)
	if err != nil {
		return GateInvalidResponse, fmt.Sprintf("%s: %v", reasonInvalid, err)
	}

	if gate, reason := audit(st, c, t.block, resp, content); gate != "" {
		return gate, reason
	}

	st.commit(models.Edit{
		BlockID:           t.block.ID,
		TargetURL:         c.URL,
		Anchor:            strings.TrimSpace(resp.Anchor),
		OriginalBlockText: t.block.Text,
		ModifiedBlockText: strings.TrimSpace(resp.ModifiedBlockText),
		Justification:     resp.Reason,
		Metrics:           resp.SEOMetrics,
		OverwriteBlock:    resp.OverwriteBlock,
		Score:             c.Score,
	})
	p.metrics.ObserveEdit()
	p.log.Info("edit accepted", "url", c.URL, "block_id", t.block.ID, "anchor", resp.Anchor)
	return "", ""
}

// audit applies the post-generation gates to a parsed reply. The final block
// check repeats the pre-generation reuse gate against the committed state; with
// sequential proposals and the id drift gate it only fires if audit is called
// for a block committed since selection.
func audit(st *runState, c models.Candidate, block models.ContentBlock, resp *response, content map[string]struct{}) (string, string) {
	if !resp.OK {
		if r := strings.TrimSpace(resp.Reason); r != "" {
			return GateModelDeclined, r
		}
		return GateModelDeclined, reasonDeclined
	}

	blockID := strings.TrimSpace(resp.BlockID)
	if blockID != block.ID {
		return GateBlockIDDrift, reasonDrift
	}
	if strings.TrimSpace(resp.OriginalBlockText) != strings.TrimSpace(block.Text) {
		return GateStaleSnapshot, reasonStale
	}

	modified := resp.ModifiedBlockText
	links := markup.FindLinks(modified)
	if len(links) != 1 || links[0].URL != c.URL || hasRawLink(modified) {
		return GateLinkShape, reasonLinkShape
	}

	anchor := strings.TrimSpace(resp.Anchor)
	if !strings.Contains(modified, "["+anchor+"](") {
		return GateAnchorMismatch, reasonAnchorMismatch
	}
	if problem := anchorProblem(anchor); problem != "" {
		return GateGenericAnchor, problem
	}
	if !topical(anchor, content) {
		return GateOffTopicAnchor, reasonOffTopic
	}
	if st.anchors[normalizeAnchor(anchor)] {
		return GateDuplicateAnchor, reasonDuplicateAnchor
	}
	if st.blocks[blockID] {
		return GateBlockReusedPostGen, reasonReusedPostGen
	}
	return "", ""
}

// selectBlock picks the eligible block sharing the most token types with the
// candidate, earliest on ties. Unused blocks win; a used block is returned only
// when no unused block overlaps at all. Zero overlap selects nothing.
func selectBlock(targets []target, content map[string]struct{}, used map[string]bool) (target, bool) {
	bestUnused, bestUsed := -1, -1
	unusedScore, usedScore := 0, 0
	for i, t := range targets {
		n := textnorm.Overlap(t.tokens, content)
		if n == 0 {
			continue
		}
		if used[t.block.ID] {
			if n > usedScore {
				bestUsed, usedScore = i, n
			}
			continue
		}
		if n > unusedScore {
			bestUnused, unusedScore = i, n
		}
	}
	switch {
	case bestUnused >= 0:
		return targets[bestUnused], true
	case bestUsed >= 0:
		return targets[bestUsed], true
	default:
		return target{}, false
	}
}

func hasRawLink(s string) bool {
	lower := strings.ToLower(s)
	return strings.Contains(lower, "<a ") || strings.Contains(lower, "<a>")
}
