package blocks

import (
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/docutag/interlinker/models"
)

func TestExtract_IDFormat(t *testing.T) {
	got := Extract("<p>x</p>")
	require.Len(t, got, 1)
	assert.Equal(t, "b:0:p:p[0]", got[0].ID)
	assert.Equal(t, models.BlockParagraph, got[0].Type)
	assert.Equal(t, "x", got[0].Text)
}

func TestExtract_NestedPaths(t *testing.T) {
	got := Extract("<h2>Title</h2><ul><li>one</li><li>two</li></ul><p>after</p>")
	require.Len(t, got, 4)

	assert.Equal(t, "b:0:h2:h2[0]", got[0].ID)
	assert.Equal(t, models.BlockHeading, got[0].Type)
	assert.Equal(t, "b:1:li:ul[0]/li[0]", got[1].ID)
	assert.Equal(t, "b:2:li:ul[0]/li[1]", got[2].ID)
	assert.Equal(t, models.BlockListItem, got[2].Type)
	assert.Equal(t, "b:3:p:p[0]", got[3].ID)
}

func TestExtract_StableAcrossParses(t *testing.T) {
	src := `<article><h1>Guide</h1><p>First <b>bold</b> words.</p><blockquote><p>Quoted</p></blockquote>
<ol><li>a item</li><li><p>nested</p></li></ol><pre>code()</pre></article>`

	first := Extract(src)
	second := Extract(src)
	require.NotEmpty(t, first)
	assert.Equal(t, first, second)

	seen := make(map[string]bool)
	for _, b := range first {
		assert.False(t, seen[b.ID], "duplicate id %s", b.ID)
		seen[b.ID] = true
	}
}

func TestExtract_EmptyBlocksKeepOrdinal(t *testing.T) {
	d, err := Parse("<p>  </p><p> </p><p>text</p>")
	require.NoError(t, err)

	require.Len(t, d.Blocks, 1)
	assert.Equal(t, "b:2:p:p[2]", d.Blocks[0].ID)
	assert.Len(t, d.IDs(), 3)
}

func TestExtract_Flags(t *testing.T) {
	got := Extract(`<p>see <a href="/x">this</a></p><ul><li><p>inner</p></li></ul>`)
	require.Len(t, got, 3)

	assert.True(t, got[0].ContainsLink)
	assert.False(t, got[0].Eligible())

	assert.Equal(t, models.BlockListItem, got[1].Type)
	assert.True(t, got[1].Container)
	assert.False(t, got[1].Eligible())

	assert.Equal(t, "b:2:p:ul[0]/li[0]/p[0]", got[2].ID)
	assert.False(t, got[2].Container)
	assert.True(t, got[2].Eligible())
}

func TestExtract_NormalizesWhitespace(t *testing.T) {
	got := Extract("<p>  many  spaces\n\tand   lines </p>")
	require.Len(t, got, 1)
	assert.Equal(t, "many spaces and lines", got[0].Text)
}

func TestExtract_CapsText(t *testing.T) {
	got := Extract("<p>" + strings.Repeat("word ", 1000) + "</p>")
	require.Len(t, got, 1)
	assert.LessOrEqual(t, len([]rune(got[0].Text)), MaxTextRunes)
}

func TestExtract_Empty(t *testing.T) {
	assert.Empty(t, Extract(""))
	assert.Empty(t, Extract("<div>no blocks here</div>"))
}

func TestApply(t *testing.T) {
	d, err := Parse("<p>one</p><p>two</p>")
	require.NoError(t, err)

	out, missing := d.Apply(map[string]string{
		"b:1:p:p[1]":  `two <a href="https://example.com">linked</a>`,
		"b:9:p:p[9]":  "nope",
		"b:10:p:p[3]": "nope",
	})

	assert.Equal(t, `<p>one</p><p>two <a href="https://example.com">linked</a></p>`, out)
	assert.Equal(t, []string{"b:9:p:p[9]", "b:10:p:p[3]"}, missing)
}

func TestApply_RoundTripWithoutChanges(t *testing.T) {
	src := "<h2>Head</h2><p>Body text.</p>"
	d, err := Parse(src)
	require.NoError(t, err)

	out, missing := d.Apply(nil)
	assert.Empty(t, missing)
	assert.Equal(t, src, out)
}

func TestApplyBlockEdits(t *testing.T) {
	d, err := Parse("<p>Pick a shoe that fits.</p>")
	require.NoError(t, err)

	out, missing, err := ApplyBlockEdits(d, []models.Edit{{
		BlockID:           "b:0:p:p[0]",
		TargetURL:         "https://example.com/guide",
		ModifiedBlockText: "Pick a shoe from the [running shoe guide](https://example.com/guide).",
	}})
	require.NoError(t, err)
	assert.Empty(t, missing)
	assert.Equal(t, `<p>Pick a shoe from the <a href="https://example.com/guide">running shoe guide</a>.</p>`, out)
}

func TestSelection(t *testing.T) {
	d, err := Parse("<p>alpha</p>")
	require.NoError(t, err)

	s, ok := d.Selection("b:0:p:p[0]")
	require.True(t, ok)
	assert.Equal(t, "alpha", s.Text())

	_, ok = d.Selection("b:1:p:p[1]")
	assert.False(t, ok)
}

func TestParse_LongBlockTruncated(t *testing.T) {
	long := strings.Repeat("word ", MaxTextRunes/5+100) + "TAIL"
	d, err := Parse("<p>short</p><p>" + long + "</p>")
	require.NoError(t, err)
	require.Len(t, d.Blocks, 2)

	assert.False(t, d.Blocks[0].Truncated)
	assert.True(t, d.Blocks[0].Eligible())

	b := d.Blocks[1]
	assert.True(t, b.Truncated)
	assert.False(t, b.Eligible())
	assert.LessOrEqual(t, utf8.RuneCountInString(b.Text), MaxTextRunes)
	assert.NotContains(t, b.Text, "TAIL")
	assert.True(t, d.Truncated(b.ID))

	out, skipped, err := ApplyBlockEdits(d, []models.Edit{{
		BlockID:           b.ID,
		TargetURL:         "https://example.com/w",
		ModifiedBlockText: "[word](https://example.com/w)",
	}})
	require.NoError(t, err)
	assert.Equal(t, []string{b.ID}, skipped)
	assert.Contains(t, out, "TAIL")
	assert.NotContains(t, out, "https://example.com/w")
}

func TestApplyBlockEdits_EscapesGeneratedText(t *testing.T) {
	d, err := Parse("<p>Use the &lt;b&gt; tag for bold text.</p>")
	require.NoError(t, err)

	out, _, err := ApplyBlockEdits(d, []models.Edit{{
		BlockID:           "b:0:p:p[0]",
		TargetURL:         "https://example.com/bold",
		ModifiedBlockText: "Use the <b> tag for [bold text](https://example.com/bold) *now*.",
	}})
	require.NoError(t, err)
	assert.Equal(t, `<p>Use the &lt;b&gt; tag for <a href="https://example.com/bold">bold text</a> *now*.</p>`, out)
}
