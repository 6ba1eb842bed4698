package pypi

import (
	"fmt"
	"html"
	"strings"
)

// RenderHTMLProjects renders the root listing as a simple-repository HTML
// document, declaring the API version in the document metadata.
func RenderHTMLProjects(names []string) []byte {
	var b strings.Builder
	b.WriteString("<!DOCTYPE html>\n<html>\n<head>\n")
	b.WriteString(`<meta name="pypi:repository-version" content="1.0">` + "\n")
	b.WriteString("<title>Simple index</title>\n</head>\n<body>\n")
	for _, name := range names {
		fmt.Fprintf(&b, `<a href="%s/">%s</a><br>`+"\n", html.EscapeString(Normalize(name)), html.EscapeString(name))
	}
	b.WriteString("</body>\n</html>\n")
	return []byte(b.String())
}

// RenderHTMLFiles renders a project's file listing as simple-repository
// HTML, including the data-* attributes the parser in html.go round-trips.
func RenderHTMLFiles(project string, files []File) []byte {
	var b strings.Builder
	b.WriteString("<!DOCTYPE html>\n<html>\n<head>\n")
	b.WriteString(`<meta name="pypi:repository-version" content="1.0">` + "\n")
	fmt.Fprintf(&b, "<title>Links for %s</title>\n</head>\n<body>\n", html.EscapeString(project))
	fmt.Fprintf(&b, "<h1>Links for %s</h1>\n", html.EscapeString(project))
	for _, f := range files {
		b.WriteString(`<a href="`)
		b.WriteString(html.EscapeString(f.URL))
		if len(f.Hashes) > 0 {
			for algo, digest := range f.Hashes {
				b.WriteString("#" + algo + "=" + digest)
				break
			}
		}
		b.WriteString(`"`)
		if f.RequiresPython != "" {
			fmt.Fprintf(&b, ` data-requires-python="%s"`, html.EscapeString(f.RequiresPython))
		}
		if f.Yanked.Yanked() {
			if reason, ok := f.Yanked.Reason(); ok {
				fmt.Fprintf(&b, ` data-yanked="%s"`, html.EscapeString(reason))
			} else {
				b.WriteString(" data-yanked")
			}
		}
		if f.CoreMetadata.Present() {
			if hashes, ok := f.CoreMetadata.Hashes(); ok {
				for algo, digest := range hashes {
					fmt.Fprintf(&b, ` data-core-metadata="%s=%s"`, algo, digest)
					break
				}
			} else {
				b.WriteString(" data-core-metadata")
			}
		}
		b.WriteString(">")
		b.WriteString(html.EscapeString(f.Name))
		b.WriteString("</a><br>\n")
	}
	b.WriteString("</body>\n</html>\n")
	return []byte(b.String())
}
