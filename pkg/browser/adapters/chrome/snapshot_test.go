package chrome

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/odvcencio/browserbridge/pkg/browser"
)

const searchPage = `<html><head><title>Search</title><style>.x{color:red}</style></head>
<body>
  <script>var tracking = 1;</script>
  <h1>Find   pictures</h1>
  <form>
    <input data-bb-index="0" type="search" name="q" placeholder="Search images">
    <button data-bb-index="1">Go</button>
  </form>
  <a data-bb-index="2" href="/cats">Cats
     and kittens</a>
  <span role="button" data-bb-index="3" aria-label="Close dialog"></span>
  <p>5 results found</p>
</body></html>`

func TestParseSnapshot(t *testing.T) {
	snap, err := parseSnapshot(searchPage, 0)
	require.NoError(t, err)

	require.Len(t, snap.Elements, 4)
	assert.Equal(t, browser.Element{
		Index: 0, Tag: "input", InputType: "search", Placeholder: "Search images", Label: "q",
	}, snap.Elements[0])
	assert.Equal(t, "button", snap.Elements[1].Tag)
	assert.Equal(t, "Go", snap.Elements[1].Text)
	assert.Equal(t, "Cats and kittens", snap.Elements[2].Text)
	assert.Equal(t, "/cats", snap.Elements[2].Href)
	assert.Equal(t, "Close dialog", snap.Elements[3].Label)

	assert.Contains(t, snap.Text, "Find pictures")
	assert.Contains(t, snap.Text, "5 results found")
	assert.NotContains(t, snap.Text, "tracking")
	assert.NotContains(t, snap.Text, "color:red")
}

func TestParseSnapshotTruncatesText(t *testing.T) {
	page := "<html><body><p>" + strings.Repeat("é", 50) + "</p></body></html>"
	snap, err := parseSnapshot(page, 11)
	require.NoError(t, err)

	assert.True(t, strings.HasSuffix(snap.Text, truncationSuffix))
	body := strings.TrimSuffix(snap.Text, truncationSuffix)
	assert.Equal(t, strings.Repeat("é", 5), body)
}

func TestSelector(t *testing.T) {
	assert.Equal(t, `[data-bb-index="12"]`, selector(12))
}

func TestAllocatorOptionsLength(t *testing.T) {
	base := len(allocatorOptions(browser.Config{Headless: true}))
	withAll := len(allocatorOptions(browser.Config{
		Headless:   false,
		WindowSize: browser.Viewport{Width: 1000, Height: 700},
		ExecPath:   "/usr/bin/chromium",
	}))
	assert.Equal(t, base+3, withAll)
}
