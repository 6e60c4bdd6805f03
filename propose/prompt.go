package propose

import (
	"fmt"
	"strings"

	"github.com/docutag/interlinker/models"
	"github.com/docutag/interlinker/textnorm"
)

const excerptRunes = 1500

const systemPrompt = `You are an SEO editor inserting one internal link into an existing article.
You receive the exact text of one block of the article and a target page.
Rewrite the block minimally so that it contains exactly one markdown link [anchor](url) to the target URL.

Rules:
- Keep the block's language, tone and meaning. Change as few words as possible.
- The anchor must be 2 to 6 descriptive words about the target page, never "click here", "read more" or similar.
- Use the target URL exactly as given. Do not add any other link.
- Copy block_id and original_block_text exactly as given.
- If no natural link fits, answer with ok=false and a short reason.

Respond with a single JSON object and nothing else:
{"ok": true, "url": "...", "block_id": "...", "anchor": "...", "original_block_text": "...",
 "modified_block_text": "...", "reason": "...", "overwrite_block": false,
 "seo_metrics": {"relevance": 0-100, "authority": 0-100}}`

// buildUserPrompt describes the target page and the exact block to edit
func buildUserPrompt(c models.Candidate, block models.ContentBlock) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Target URL: %s\n", c.URL)
	fmt.Fprintf(&b, "Target page excerpt:\n%s\n\n", textnorm.Cap(textnorm.Space(c.Content), excerptRunes))
	fmt.Fprintf(&b, "block_id: %s\n", block.ID)
	fmt.Fprintf(&b, "original_block_text:\n%s\n", block.Text)
	return b.String()
}
