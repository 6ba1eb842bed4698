package pypi

import (
	"encoding/json"
)

// YankedField models the simple-repository "yanked" attribute tri-state:
// absent (not yanked), present with no reason, or present with a reason.
type YankedField struct {
	present bool
	reason  string
	hasText bool
}

// Yanked reports whether the field is present at all.
func (y YankedField) Yanked() bool { return y.present }

// Reason returns the yanked reason and whether one was given. An empty
// string with hasText=true means "yanked, no reason given" rather than
// "not yanked".
func (y YankedField) Reason() (string, bool) {
	if !y.present {
		return "", false
	}
	return y.reason, y.hasText
}

// NotYanked is the zero value; exported for readability at call sites.
var NotYanked = YankedField{}

// YankedNoReason marks a file yanked without stating why.
func YankedNoReason() YankedField { return YankedField{present: true} }

// YankedWithReason marks a file yanked with an explicit reason string,
// including the empty string (still "yanked", not "not yanked").
func YankedWithReason(reason string) YankedField {
	return YankedField{present: true, reason: reason, hasText: true}
}

func (y YankedField) MarshalJSON() ([]byte, error) {
	if !y.present {
		return []byte("null"), nil
	}
	if !y.hasText {
		return []byte("true"), nil
	}
	return json.Marshal(y.reason)
}

func (y *YankedField) UnmarshalJSON(data []byte) error {
	var raw any
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	switch v := raw.(type) {
	case nil:
		*y = YankedField{}
	case bool:
		if v {
			*y = YankedNoReason()
		} else {
			*y = YankedField{}
		}
	case string:
		*y = YankedWithReason(v)
	default:
		*y = YankedField{}
	}
	return nil
}

// MetadataField models the simple-repository "core-metadata" (and legacy
// "dist-info-metadata") attribute tri-state: absent, present-as-true, or a
// hash map describing the metadata file's own checksums.
type MetadataField struct {
	present bool
	isTrue  bool
	hashes  map[string]string
}

// Present reports whether core-metadata information was published.
func (m MetadataField) Present() bool { return m.present }

// Hashes returns the hash map, if the attribute carried one.
func (m MetadataField) Hashes() (map[string]string, bool) {
	if m.present && m.hashes != nil {
		return m.hashes, true
	}
	return nil, false
}

var MetadataAbsent = MetadataField{}

func MetadataTrue() MetadataField { return MetadataField{present: true, isTrue: true} }

func MetadataWithHashes(hashes map[string]string) MetadataField {
	return MetadataField{present: true, hashes: hashes}
}

func (m MetadataField) MarshalJSON() ([]byte, error) {
	switch {
	case !m.present:
		return []byte("null"), nil
	case m.isTrue:
		return []byte("true"), nil
	default:
		return json.Marshal(m.hashes)
	}
}

func (m *MetadataField) UnmarshalJSON(data []byte) error {
	var raw any
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	switch v := raw.(type) {
	case nil:
		*m = MetadataField{}
	case bool:
		if v {
			*m = MetadataTrue()
		} else {
			*m = MetadataField{}
		}
	case map[string]any:
		hashes := make(map[string]string, len(v))
		for algo, digest := range v {
			if s, ok := digest.(string); ok {
				hashes[algo] = s
			}
		}
		*m = MetadataWithHashes(hashes)
	default:
		*m = MetadataField{}
	}
	return nil
}

// File is a single downloadable artifact belonging to a Project. Immutable
// once produced by a parser.
type File struct {
	Name           string
	URL            string
	Hashes         map[string]string
	RequiresPython string
	CoreMetadata   MetadataField
	Yanked         YankedField
}

// jsonFile is the wire shape for the Simple Repository JSON API
// (PEP 700 / the "files" array), used both for decoding upstream responses
// and encoding the proxy's own listings.
type jsonFile struct {
	Filename         string            `json:"filename"`
	URL              string            `json:"url"`
	Hashes           map[string]string `json:"hashes,omitempty"`
	RequiresPython   string            `json:"requires-python,omitempty"`
	Yanked           YankedField       `json:"yanked,omitempty"`
	CoreMetadata     MetadataField     `json:"core-metadata,omitempty"`
	DistInfoMetadata MetadataField     `json:"dist-info-metadata,omitempty"`
}

func (f File) toJSON() jsonFile {
	return jsonFile{
		Filename:       f.Name,
		URL:            f.URL,
		Hashes:         f.Hashes,
		RequiresPython: f.RequiresPython,
		Yanked:         f.Yanked,
		CoreMetadata:   f.CoreMetadata,
	}
}

func (jf jsonFile) toFile() File {
	meta := jf.CoreMetadata
	if !meta.Present() {
		meta = jf.DistInfoMetadata // legacy alias fallback
	}
	return File{
		Name:           jf.Filename,
		URL:            jf.URL,
		Hashes:         jf.Hashes,
		RequiresPython: jf.RequiresPython,
		CoreMetadata:   meta,
		Yanked:         jf.Yanked,
	}
}
