package extract

import (
	"bytes"
	"encoding/base64"
	"io"
	"mime"
	"mime/multipart"
	"mime/quotedprintable"
	"net/mail"
	"strings"
)

// parseRawMessage walks an RFC822 message and returns the longest
// plain-text part and the longest HTML part. Parts under minPartLength
// are ignored as noise (tracking pixels, separators, empty alternates).
func parseRawMessage(raw []byte, minPartLength int) (plain, html string) {
	msg, err := mail.ReadMessage(bytes.NewReader(raw))
	if err != nil {
		return "", ""
	}

	var bestPlain, bestHTML string

	var walk func(header interface{ Get(string) string }, body io.Reader)
	walk = func(header interface{ Get(string) string }, body io.Reader) {
		ctype, params, err := mime.ParseMediaType(header.Get("Content-Type"))
		if err != nil {
			ctype = "text/plain"
		}

		if strings.HasPrefix(ctype, "multipart/") {
			mr := multipart.NewReader(body, params["boundary"])
			for {
				part, err := mr.NextPart()
				if err != nil {
					break
				}
				walk(part.Header, part)
			}
			return
		}

		if ctype != "text/plain" && ctype != "text/html" {
			return
		}

		// Attachments named as text still are not body candidates.
		if disp, _, err := mime.ParseMediaType(header.Get("Content-Disposition")); err == nil && disp == "attachment" {
			return
		}

		text := decodePart(header.Get("Content-Transfer-Encoding"), body)
		if len(strings.TrimSpace(text)) < minPartLength {
			return
		}

		if ctype == "text/plain" && len(text) > len(bestPlain) {
			bestPlain = text
		}
		if ctype == "text/html" && len(text) > len(bestHTML) {
			bestHTML = text
		}
	}

	walk(msg.Header, msg.Body)
	return bestPlain, bestHTML
}

// decodePart applies the declared transfer encoding.
func decodePart(cte string, body io.Reader) string {
	reader := body
	switch strings.ToLower(strings.TrimSpace(cte)) {
	case "base64":
		reader = base64.NewDecoder(base64.StdEncoding, newLineStripper(body))
	case "quoted-printable":
		reader = quotedprintable.NewReader(body)
	}
	data, err := io.ReadAll(reader)
	if err != nil && len(data) == 0 {
		return ""
	}
	return string(data)
}

// lineStripper removes CR/LF so base64 bodies with folded lines decode
// cleanly.
type lineStripper struct {
	r io.Reader
}

func newLineStripper(r io.Reader) io.Reader {
	return &lineStripper{r: r}
}

func (l *lineStripper) Read(p []byte) (int, error) {
	buf := make([]byte, len(p))
	n, err := l.r.Read(buf)
	out := 0
	for _, b := range buf[:n] {
		if b == '\r' || b == '\n' {
			continue
		}
		p[out] = b
		out++
	}
	if out == 0 && err == nil && n > 0 {
		return l.Read(p)
	}
	return out, err
}
