package pypi

import (
	"strings"
	"testing"
)

func TestParseHTMLProjects_NoBody(t *testing.T) {
	doc := `<!DOCTYPE html><html><a href="/foo/">foo</a><a href="/bar/">bar</a></html>`
	names, err := parseHTMLProjects(strings.NewReader(doc))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(names) != 2 || names[0] != "foo" || names[1] != "bar" {
		t.Errorf("names = %v", names)
	}
}

func TestParseHTMLFiles_ResolvesRelativeHrefAndHashFragment(t *testing.T) {
	doc := `<!DOCTYPE html>
<html><body>
<a href="../../packages/jinja2-3.1.0-py3-none-any.whl#sha256=deadbeef">jinja2-3.1.0-py3-none-any.whl</a>
</body></html>`
	files, err := parseHTMLFiles("https://pypi.org/simple/jinja2/", strings.NewReader(doc))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(files) != 1 {
		t.Fatalf("expected 1 file, got %d", len(files))
	}
	f := files[0]
	if f.Name != "jinja2-3.1.0-py3-none-any.whl" {
		t.Errorf("Name = %q", f.Name)
	}
	if f.URL != "https://pypi.org/packages/jinja2-3.1.0-py3-none-any.whl" {
		t.Errorf("URL = %q", f.URL)
	}
	if f.Hashes["sha256"] != "deadbeef" {
		t.Errorf("Hashes = %v", f.Hashes)
	}
}

func TestParseHTMLFiles_Attributes(t *testing.T) {
	doc := `<a href="/f/a.whl" data-requires-python="&gt;=3.8" data-yanked="broken build">a.whl</a>
<a href="/f/b.whl" data-yanked>b.whl</a>
<a href="/f/c.whl" data-core-metadata="sha256=abc123">c.whl</a>
<a href="/f/d.whl" data-dist-info-metadata>d.whl</a>
<a href="/f/e.whl" data-core-metadata="garbage">e.whl</a>`
	files, err := parseHTMLFiles("https://example.org/simple/pkg/", strings.NewReader(doc))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(files) != 5 {
		t.Fatalf("expected 5 files, got %d", len(files))
	}

	a := files[0]
	if a.RequiresPython != ">=3.8" {
		t.Errorf("RequiresPython = %q", a.RequiresPython)
	}
	if reason, ok := a.Yanked.Reason(); !ok || reason != "broken build" {
		t.Errorf("a.Yanked = %v, %v", reason, ok)
	}

	b := files[1]
	if _, ok := b.Yanked.Reason(); ok {
		t.Error("b.Yanked should carry no reason text (bare attribute)")
	}
	if !b.Yanked.Yanked() {
		t.Error("b should be yanked")
	}

	c := files[2]
	hashes, ok := c.CoreMetadata.Hashes()
	if !ok || hashes["sha256"] != "abc123" {
		t.Errorf("c.CoreMetadata hashes = %v, %v", hashes, ok)
	}

	d := files[3]
	if !d.CoreMetadata.Present() {
		t.Error("d.CoreMetadata should be present (legacy dist-info-metadata alias)")
	}

	e := files[4]
	if e.CoreMetadata.Present() {
		t.Error("e.CoreMetadata should be dropped for an unparseable value")
	}
}

func TestParseHTMLFiles_AnchorWithoutHrefIsSkipped(t *testing.T) {
	doc := `<a>no href</a><a href="/f/real.whl">real.whl</a>`
	files, err := parseHTMLFiles("https://example.org/simple/pkg/", strings.NewReader(doc))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(files) != 1 || files[0].Name != "real.whl" {
		t.Errorf("files = %+v", files)
	}
}
