package extract

import (
	"regexp"
	"strings"
)

var (
	reScript    = regexp.MustCompile(`(?is)<(script|style|head)[^>]*>.*?</(script|style|head)>`)
	reBlockTag  = regexp.MustCompile(`(?i)<(/?)(p|div|br|tr|li|h[1-6]|table|blockquote)[^>]*>`)
	reAnyTag    = regexp.MustCompile(`<[^>]+>`)
	reBlankRuns = regexp.MustCompile(`\n{3,}`)
	reSpaceRuns = regexp.MustCompile(`[ \t]{2,}`)
)

// htmlToText strips markup down to readable plaintext: block-level tags
// become line breaks, everything else is dropped, entities are decoded.
func htmlToText(html string) string {
	text := reScript.ReplaceAllString(html, "")
	text = reBlockTag.ReplaceAllString(text, "\n")
	text = reAnyTag.ReplaceAllString(text, "")
	text = decodeEscapes(text)
	text = reSpaceRuns.ReplaceAllString(text, " ")
	text = reBlankRuns.ReplaceAllString(text, "\n\n")

	lines := strings.Split(text, "\n")
	for i, line := range lines {
		lines[i] = strings.TrimSpace(line)
	}
	return strings.TrimSpace(strings.Join(lines, "\n"))
}

// entityReplacer covers the entities and quoted-printable leftovers that
// actually show up in provider payloads.
var entityReplacer = strings.NewReplacer(
	"&amp;", "&",
	"&lt;", "<",
	"&gt;", ">",
	"&quot;", `"`,
	"&#39;", "'",
	"&apos;", "'",
	"&nbsp;", " ",
	"&#160;", " ",
	"&mdash;", "—",
	"&ndash;", "–",
	"&rsquo;", "'",
	"&lsquo;", "'",
	"&rdquo;", `"`,
	"&ldquo;", `"`,
	"&hellip;", "...",
	"=\r\n", "",
	"=\n", "",
	"=3D", "=",
	"=20", " ",
	"=E2=80=99", "'",
	"=E2=80=9C", `"`,
	"=E2=80=9D", `"`,
)

// decodeEscapes decodes HTML entity references and stray quoted-printable
// escapes that survive provider-side decoding.
func decodeEscapes(s string) string {
	return entityReplacer.Replace(s)
}
