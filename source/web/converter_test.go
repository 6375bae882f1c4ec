package web

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConverter_MainContent(t *testing.T) {
	page := `<html><head><title>Quantum Report</title></head>
<body>
<nav>Home | About</nav>
<main><h1>Findings</h1><p>Qubits are <strong>fragile</strong>.</p></main>
<footer>Copyright</footer>
</body></html>`

	doc, err := NewConverter().Convert([]byte(page))
	require.NoError(t, err)
	assert.Equal(t, "Quantum Report", doc.Title)
	assert.Contains(t, doc.Markdown, "# Findings")
	assert.Contains(t, doc.Markdown, "**fragile**")
	assert.NotContains(t, doc.Markdown, "Home | About")
	assert.NotContains(t, doc.Markdown, "Copyright")
}

func TestConverter_PrunesChromeWithoutMain(t *testing.T) {
	page := `<html><body>
<div class="sidebar">Related links</div>
<header>Site header</header>
<h1>Market Size</h1>
<p>The market grew.</p>
<script>track()</script>
</body></html>`

	doc, err := NewConverter().Convert([]byte(page))
	require.NoError(t, err)
	assert.Equal(t, "Market Size", doc.Title)
	assert.Contains(t, doc.Markdown, "The market grew.")
	assert.NotContains(t, doc.Markdown, "Related links")
	assert.NotContains(t, doc.Markdown, "Site header")
	assert.NotContains(t, doc.Markdown, "track()")
}

func TestCleanMarkdown(t *testing.T) {
	got := cleanMarkdown("  \n# Title  \n\n\n\n\n\nBody\t\n")
	assert.Equal(t, "# Title\n\n\nBody", got)
}

func TestExcerpt(t *testing.T) {
	assert.Equal(t, "short", Excerpt("  short  ", 100))
	assert.Equal(t, "anything", Excerpt("anything", 0))

	long := strings.Repeat("word ", 50)
	got := Excerpt(long, 42)
	assert.True(t, strings.HasSuffix(got, "..."))
	assert.LessOrEqual(t, len(got), 45)
	assert.False(t, strings.HasSuffix(strings.TrimSuffix(got, "..."), " "))
}
