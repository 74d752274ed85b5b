package service

import (
	"strings"

	"github.com/JohannesKaufmann/html-to-markdown/v2/converter"
	"github.com/JohannesKaufmann/html-to-markdown/v2/plugin/base"
	"github.com/JohannesKaufmann/html-to-markdown/v2/plugin/commonmark"
	"github.com/JohannesKaufmann/html-to-markdown/v2/plugin/table"
	"golang.org/x/net/html"
)

const locatorTextMax = 40

func newMarkdownConverter() *converter.Converter {
	return converter.NewConverter(
		converter.WithPlugins(
			base.NewBasePlugin(),
			commonmark.NewCommonmarkPlugin(),
			table.NewTablePlugin(),
		),
	)
}

// deriveLocator builds a short human-readable handle for the annotated
// element from its HTML fragment: tag plus id or first class, plus a text
// excerpt. Returns "" when the fragment has no element.
func deriveLocator(fragment string) string {
	root, err := html.Parse(strings.NewReader(fragment))
	if err != nil {
		return ""
	}
	el := firstElement(root)
	if el == nil {
		return ""
	}

	loc := el.Data
	for _, attr := range el.Attr {
		if attr.Key == "id" && attr.Val != "" {
			loc += "#" + attr.Val
			break
		}
		if attr.Key == "class" && attr.Val != "" {
			if cls := strings.Fields(attr.Val); len(cls) > 0 {
				loc += "." + cls[0]
			}
			break
		}
	}

	if text := excerpt(el); text != "" {
		loc += ` "` + text + `"`
	}
	return loc
}

// firstElement walks the parsed tree and returns the first content element,
// skipping the html/head/body wrappers the parser synthesizes around
// fragments.
func firstElement(n *html.Node) *html.Node {
	if n.Type == html.ElementNode {
		switch n.Data {
		case "html", "head", "body":
		default:
			return n
		}
	}
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		if el := firstElement(c); el != nil {
			return el
		}
	}
	return nil
}

func excerpt(n *html.Node) string {
	var b strings.Builder
	collectText(n, &b)
	text := strings.Join(strings.Fields(b.String()), " ")
	runes := []rune(text)
	if len(runes) > locatorTextMax {
		text = string(runes[:locatorTextMax]) + "…"
	}
	return text
}

func collectText(n *html.Node, b *strings.Builder) {
	if n.Type == html.TextNode {
		b.WriteString(n.Data)
		b.WriteString(" ")
	}
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		collectText(c, b)
	}
}

// elementContext converts the annotated element's HTML into markdown for
// the implementing agent. If conversion fails or produces nothing, returns
// the empty string rather than an error; context is best-effort.
func (s *Service) elementContext(fragment string) string {
	if fragment == "" {
		return ""
	}
	result, err := s.mdConverter.ConvertString(fragment)
	if err != nil {
		return ""
	}
	return strings.TrimSpace(result)
}
