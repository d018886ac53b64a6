// Package jsonfile edits JSON configuration files such as package.json and
// tsconfig.json without disturbing the members it does not touch. Key order,
// the layout of untouched values, the indentation unit, the line ending, the
// key separator and whatever follows the closing brace all survive a
// parse/edit/write cycle.
package jsonfile

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"strings"

	orderedmap "github.com/wk8/go-ordered-map/v2"
)

// Document is a JSON object held as ordered members. Members that are never
// modified keep their source bytes verbatim.
type Document struct {
	fields *orderedmap.OrderedMap[string, member]
	layout layout
}

// layout is the formatting a document was parsed with. Nested documents are
// rendered with the layout of the outermost one.
type layout struct {
	indent  string
	compact bool
	// eol separates lines, "\n" or "\r\n".
	eol string
	// colon sits between a key and its value, e.g. ": " or ":".
	colon string
	// comma separates members of a compact document.
	comma string
	// trailer follows the closing brace.
	trailer string
}

func defaultLayout() layout {
	return layout{indent: "  ", eol: "\n", colon: ": ", comma: ",", trailer: "\n"}
}

// member is either a raw value, verbatim from the source or freshly
// encoded, or a nested document stored with SetObject. A nested document
// that replaced a source value keeps that value in raw.
type member struct {
	raw   json.RawMessage
	fresh bool
	doc   *Document
}

func (m member) value() json.RawMessage {
	if m.doc != nil {
		return m.doc.encode()
	}

	return m.raw
}

// New returns an empty document formatted with two-space indentation.
func New() *Document {
	return &Document{
		fields: orderedmap.New[string, member](),
		layout: defaultLayout(),
	}
}

// Parse decodes data, which must hold a JSON object.
func Parse(data []byte) (*Document, error) {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 || trimmed[0] != '{' {
		return nil, fmt.Errorf("expected a JSON object")
	}

	raw := orderedmap.New[string, json.RawMessage]()
	if err := raw.UnmarshalJSON(trimmed); err != nil {
		return nil, fmt.Errorf("decoding object: %w", err)
	}

	fields := orderedmap.New[string, member]()
	for pair := raw.Oldest(); pair != nil; pair = pair.Next() {
		fields.Set(pair.Key, member{raw: pair.Value})
	}

	var first json.RawMessage
	if pair := raw.Oldest(); pair != nil {
		first = pair.Value
	}

	l := defaultLayout()
	l.indent, l.compact = detectIndent(trimmed)
	l.colon, l.comma = detectSeparators(trimmed, first)
	l.trailer = string(data[bytes.LastIndexByte(data, '}')+1:])

	if bytes.Contains(trimmed, []byte("\r\n")) {
		l.eol = "\r\n"
	}

	return &Document{fields: fields, layout: l}, nil
}

// Read parses the JSON object stored at path.
func Read(path string) (*Document, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	doc, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("parsing %s: %w", path, err)
	}

	return doc, nil
}

// Len returns the number of top-level members.
func (d *Document) Len() int {
	return d.fields.Len()
}

// Keys returns the member names in document order.
func (d *Document) Keys() []string {
	keys := make([]string, 0, d.fields.Len())
	for pair := d.fields.Oldest(); pair != nil; pair = pair.Next() {
		keys = append(keys, pair.Key)
	}

	return keys
}

// Has reports whether key is present.
func (d *Document) Has(key string) bool {
	_, ok := d.fields.Get(key)
	return ok
}

// Raw returns the undecoded value of key.
func (d *Document) Raw(key string) (json.RawMessage, bool) {
	m, ok := d.fields.Get(key)
	if !ok {
		return nil, false
	}

	return m.value(), true
}

// Get decodes the value of key into v. It reports false when key is absent.
func (d *Document) Get(key string, v any) (bool, error) {
	raw, ok := d.Raw(key)
	if !ok {
		return false, nil
	}

	if err := json.Unmarshal(raw, v); err != nil {
		return true, fmt.Errorf("decoding %q: %w", key, err)
	}

	return true, nil
}

// Set encodes v and stores it under key. Existing keys keep their position;
// new keys are appended.
func (d *Document) Set(key string, v any) error {
	raw, err := marshal(v)
	if err != nil {
		return fmt.Errorf("encoding %q: %w", key, err)
	}

	d.fields.Set(key, member{raw: raw, fresh: true})

	return nil
}

// Delete removes key and reports whether it was present.
func (d *Document) Delete(key string) bool {
	_, ok := d.fields.Delete(key)
	return ok
}

// Object returns the nested object stored under key, or nil when key is
// absent.
func (d *Document) Object(key string) (*Document, error) {
	m, ok := d.fields.Get(key)
	if !ok {
		return nil, nil
	}

	if m.doc != nil {
		return m.doc, nil
	}

	sub, err := Parse(m.raw)
	if err != nil {
		return nil, fmt.Errorf("member %q: %w", key, err)
	}

	return sub, nil
}

// SetObject stores sub under key. It is rendered with the layout of d,
// unless its content still equals the source value it replaces, which is
// then written back verbatim.
func (d *Document) SetObject(key string, sub *Document) {
	m := member{doc: sub}

	if old, ok := d.fields.Get(key); ok && old.doc == nil && !old.fresh {
		m.raw = old.raw
	}

	d.fields.Set(key, m)
}

// Bytes renders the document using the formatting it was parsed with.
func (d *Document) Bytes() ([]byte, error) {
	var out bytes.Buffer

	if err := d.render(&out, &d.layout, 0); err != nil {
		return nil, err
	}

	out.WriteString(d.layout.trailer)

	return out.Bytes(), nil
}

// Write renders the document to path, keeping the file mode of an existing
// file.
func (d *Document) Write(path string) error {
	data, err := d.Bytes()
	if err != nil {
		return fmt.Errorf("rendering %s: %w", path, err)
	}

	return writePreservingMode(path, data)
}

// render writes d at nesting depth, one member per line unless l is
// compact. Source values are copied as they are; they already carry the
// indentation of that depth.
func (d *Document) render(buf *bytes.Buffer, l *layout, depth int) error {
	if d.fields.Len() == 0 {
		buf.WriteString("{}")
		return nil
	}

	inner := strings.Repeat(l.indent, depth+1)

	buf.WriteByte('{')

	first := true
	for pair := d.fields.Oldest(); pair != nil; pair = pair.Next() {
		switch {
		case l.compact && !first:
			buf.WriteString(l.comma)
		case !l.compact:
			if !first {
				buf.WriteByte(',')
			}

			buf.WriteString(l.eol)
			buf.WriteString(inner)
		}

		first = false

		// Keys are plain strings; marshal cannot fail on them.
		key, _ := marshal(pair.Key)
		buf.Write(key)
		buf.WriteString(l.colon)

		m := pair.Value

		switch {
		case m.doc != nil && m.raw != nil && sameJSON(m.raw, m.doc.encode()):
			buf.Write(m.raw)
		case m.doc != nil:
			if err := m.doc.render(buf, l, depth+1); err != nil {
				return err
			}
		case m.fresh && l.compact:
			buf.Write(relayout(m.raw, l.eol, l.colon))
		case m.fresh:
			var indented bytes.Buffer
			if err := json.Indent(&indented, m.raw, inner, l.indent); err != nil {
				return fmt.Errorf("member %q: %w", pair.Key, err)
			}

			buf.Write(relayout(indented.Bytes(), l.eol, l.colon))
		default:
			buf.Write(m.raw)
		}
	}

	if !l.compact {
		buf.WriteString(l.eol)
		buf.WriteString(strings.Repeat(l.indent, depth))
	}

	buf.WriteByte('}')

	return nil
}

// encode renders d on one line.
func (d *Document) encode() json.RawMessage {
	var buf bytes.Buffer

	buf.WriteByte('{')

	first := true
	for pair := d.fields.Oldest(); pair != nil; pair = pair.Next() {
		if !first {
			buf.WriteByte(',')
		}

		first = false

		key, _ := marshal(pair.Key)
		buf.Write(key)
		buf.WriteByte(':')
		buf.Write(pair.Value.value())
	}

	buf.WriteByte('}')

	return buf.Bytes()
}

// marshal encodes v without HTML escaping so that version ranges such as
// ">=1.0.0" are written back verbatim.
func marshal(v any) (json.RawMessage, error) {
	var buf bytes.Buffer

	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)

	if err := enc.Encode(v); err != nil {
		return nil, err
	}

	return bytes.TrimRight(buf.Bytes(), "\n"), nil
}

// detectIndent returns the indentation unit of the first nested line. A
// document without line breaks is reported as compact.
func detectIndent(data []byte) (string, bool) {
	nl := bytes.IndexByte(data, '\n')
	if nl < 0 {
		return "", true
	}

	line := data[nl+1:]
	end := 0

	for end < len(line) && (line[end] == ' ' || line[end] == '\t') {
		end++
	}

	if end == 0 {
		return "  ", false
	}

	return string(line[:end]), false
}

// detectSeparators returns the bytes between the first key and its value,
// and between the first value and the second key. first is the verbatim
// first value. Defaults are returned for whatever cannot be observed.
func detectSeparators(data []byte, first json.RawMessage) (colon, comma string) {
	colon, comma = ": ", ","

	i := skipSpace(data, 1)
	if i >= len(data) || data[i] != '"' {
		return colon, comma
	}

	i = stringEnd(data, i)

	j := skipSpace(data, i)
	if j >= len(data) || data[j] != ':' {
		return colon, comma
	}

	j = skipSpace(data, j+1)
	if sep := data[i:j]; !bytes.ContainsAny(sep, "\r\n") {
		colon = string(sep)
	}

	if !bytes.HasPrefix(data[j:], first) {
		return colon, comma
	}

	k := j + len(first)
	m := skipSpace(data, k)

	if m < len(data) && data[m] == ',' {
		m = skipSpace(data, m+1)
		if sep := data[k:m]; !bytes.ContainsAny(sep, "\r\n") {
			comma = string(sep)
		}
	}

	return colon, comma
}

func skipSpace(data []byte, i int) int {
	for i < len(data) && (data[i] == ' ' || data[i] == '\t' || data[i] == '\r' || data[i] == '\n') {
		i++
	}

	return i
}

// stringEnd returns the index after the string literal starting at data[i].
func stringEnd(data []byte, i int) int {
	for i++; i < len(data); i++ {
		switch data[i] {
		case '\\':
			i++
		case '"':
			return i + 1
		}
	}

	return i
}

// relayout rewrites the line breaks and key separators that encoding/json
// produced in src to eol and colon. String contents are left alone.
func relayout(src []byte, eol, colon string) []byte {
	out := make([]byte, 0, len(src))

	for i := 0; i < len(src); i++ {
		switch c := src[i]; {
		case c == '"':
			end := stringEnd(src, i)
			out = append(out, src[i:end]...)
			i = end - 1
		case c == '\n':
			out = append(out, eol...)
		case c == ':':
			out = append(out, colon...)
			if i+1 < len(src) && src[i+1] == ' ' {
				i++
			}
		default:
			out = append(out, c)
		}
	}

	return out
}

// sameJSON reports whether a and b encode the same value token for token.
func sameJSON(a, b []byte) bool {
	var ca, cb bytes.Buffer

	if json.Compact(&ca, a) != nil || json.Compact(&cb, b) != nil {
		return false
	}

	return bytes.Equal(ca.Bytes(), cb.Bytes())
}

func writePreservingMode(path string, data []byte) error {
	mode := os.FileMode(0o644)
	if info, err := os.Stat(path); err == nil {
		mode = info.Mode().Perm()
	}

	return os.WriteFile(path, data, mode)
}
