package chrome

import (
	"strconv"
	"strings"
	"unicode/utf8"

	"github.com/PuerkitoBio/goquery"

	"github.com/odvcencio/browserbridge/pkg/browser"
)

const (
	defaultMaxText    = 8000
	maxElementText    = 120
	truncationSuffix  = " …"
	nonContentElement = "script, style, noscript, template, svg, head"
)

type snapshot struct {
	Text     string
	Elements []browser.Element
}

// parseSnapshot extracts indexed elements and readable text from the page
// HTML after markInteractive has run.
func parseSnapshot(html string, maxText int) (snapshot, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return snapshot{}, err
	}

	var elements []browser.Element
	doc.Find("[" + indexAttr + "]").Each(func(_ int, sel *goquery.Selection) {
		idx, err := strconv.Atoi(sel.AttrOr(indexAttr, ""))
		if err != nil {
			return
		}
		el := browser.Element{
			Index:       idx,
			Tag:         goquery.NodeName(sel),
			Text:        truncate(collapse(sel.Text()), maxElementText),
			Href:        sel.AttrOr("href", ""),
			InputType:   sel.AttrOr("type", ""),
			Placeholder: sel.AttrOr("placeholder", ""),
			Label:       sel.AttrOr("aria-label", sel.AttrOr("title", sel.AttrOr("name", ""))),
		}
		if el.Tag == "input" && el.Text == "" {
			el.Text = sel.AttrOr("value", "")
		}
		elements = append(elements, el)
	})

	doc.Find(nonContentElement).Remove()
	if maxText <= 0 {
		maxText = defaultMaxText
	}
	text := truncate(collapse(doc.Find("body").Text()), maxText)

	return snapshot{Text: text, Elements: elements}, nil
}

func collapse(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

// truncate cuts s to at most limit bytes on a rune boundary.
func truncate(s string, limit int) string {
	if len(s) <= limit {
		return s
	}
	cut := limit
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return s[:cut] + truncationSuffix
}
