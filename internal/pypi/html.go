package pypi

import (
	"io"
	"net/url"
	"strings"

	"github.com/phuslu/log"
	"golang.org/x/net/html"
)

// anchor is one <a> element read off an HTML simple-repository listing,
// tolerant of documents with no <body>: every anchor is read regardless of
// surrounding structure, which is why a tokenizer walk replaces
// line-oriented scanning — an anchor's text and closing tag need not share
// a line.
type anchor struct {
	text  string
	attrs map[string]string
}

// walkAnchors tokenizes an HTML document and yields one anchor per <a>
// element, with its attributes and visible text.
func walkAnchors(body io.Reader) ([]anchor, error) {
	z := html.NewTokenizer(body)
	var anchors []anchor

	for {
		switch z.Next() {
		case html.ErrorToken:
			if err := z.Err(); err != nil && err != io.EOF {
				return anchors, err
			}
			return anchors, nil
		case html.StartTagToken, html.SelfClosingTagToken:
			name, hasAttr := z.TagName()
			if string(name) != "a" {
				continue
			}
			attrs := make(map[string]string)
			for hasAttr {
				var key, val []byte
				key, val, hasAttr = z.TagAttr()
				attrs[string(key)] = string(val)
			}
			text := readAnchorText(z)
			anchors = append(anchors, anchor{text: text, attrs: attrs})
		}
	}
}

// readAnchorText consumes tokens up to the anchor's closing tag, joining
// any text tokens found (an anchor's visible text is ordinarily a single
// text node, but tolerate nested markup by concatenating).
func readAnchorText(z *html.Tokenizer) string {
	var sb strings.Builder
	depth := 0
	for {
		tok := z.Next()
		switch tok {
		case html.ErrorToken:
			return sb.String()
		case html.TextToken:
			sb.Write(z.Text())
		case html.StartTagToken:
			name, _ := z.TagName()
			if string(name) == "a" {
				depth++
			}
		case html.EndTagToken:
			name, _ := z.TagName()
			if string(name) == "a" {
				if depth == 0 {
					return sb.String()
				}
				depth--
			}
		}
	}
}

// parseHTMLProjects parses a root simple-repository listing: one anchor
// per project, display name taken from the anchor text.
func parseHTMLProjects(body io.Reader) ([]string, error) {
	anchors, err := walkAnchors(body)
	if err != nil && len(anchors) == 0 {
		return nil, err
	}
	names := make([]string, 0, len(anchors))
	for _, a := range anchors {
		text := strings.TrimSpace(a.text)
		if text != "" {
			names = append(names, text)
		}
	}
	return names, nil
}

// parseHTMLFiles parses a per-project simple-repository listing. baseURL is
// the effective URL of the response (post-redirect), against which
// relative hrefs are resolved.
func parseHTMLFiles(baseURL string, body io.Reader) ([]File, error) {
	base, err := url.Parse(baseURL)
	if err != nil {
		return nil, err
	}

	anchors, parseErr := walkAnchors(body)
	if parseErr != nil && len(anchors) == 0 {
		return nil, parseErr
	}

	files := make([]File, 0, len(anchors))
	for _, a := range anchors {
		href, ok := a.attrs["href"]
		if !ok || href == "" {
			continue
		}
		resolved := href
		if ref, err := url.Parse(href); err == nil {
			resolved = base.ResolveReference(ref).String()
		}

		name := strings.TrimSpace(a.text)
		if name == "" {
			continue
		}

		f := File{
			Name:   name,
			URL:    stripFragment(resolved),
			Hashes: hashesFromFragment(resolved),
		}

		if rp, ok := a.attrs["data-requires-python"]; ok {
			f.RequiresPython = html.UnescapeString(rp)
		}
		if yanked, ok := a.attrs["data-yanked"]; ok {
			f.Yanked = parseYankedAttr(yanked)
		}
		if meta, ok := a.attrs["data-core-metadata"]; ok {
			f.CoreMetadata = parseMetadataAttr(meta)
		} else if legacy, ok := a.attrs["data-dist-info-metadata"]; ok {
			f.CoreMetadata = parseMetadataAttr(legacy)
		}

		files = append(files, f)
	}
	return files, nil
}

// parseYankedAttr: a bare/empty attribute means "yanked, no reason"; any
// other string is the reason itself.
func parseYankedAttr(value string) YankedField {
	if value == "" {
		return YankedNoReason()
	}
	return YankedWithReason(value)
}

// parseMetadataAttr: a bare/empty attribute means "true"; a value of the
// form "<algo>=<hex>" is parsed into a one-entry hash map; anything else is
// a warning and the attribute is dropped (treated as absent).
func parseMetadataAttr(value string) MetadataField {
	if value == "" {
		return MetadataTrue()
	}
	if algo, hex, ok := strings.Cut(value, "="); ok && algo != "" && hex != "" {
		return MetadataWithHashes(map[string]string{algo: hex})
	}
	log.Warn().Str("value", value).Msg("dropping unparseable metadata attribute")
	return MetadataAbsent
}

// stripFragment removes a trailing "#algo=hex" fragment, if present, from a
// resolved file URL.
func stripFragment(rawURL string) string {
	if i := strings.IndexByte(rawURL, '#'); i >= 0 {
		return rawURL[:i]
	}
	return rawURL
}

// hashesFromFragment parses a "#<algo>=<hex>" URL fragment into a
// single-entry hash map, or an empty map if no fragment is present.
func hashesFromFragment(rawURL string) map[string]string {
	i := strings.IndexByte(rawURL, '#')
	if i < 0 {
		return nil
	}
	frag := rawURL[i+1:]
	algo, hex, ok := strings.Cut(frag, "=")
	if !ok || algo == "" || hex == "" {
		return nil
	}
	return map[string]string{algo: hex}
}
