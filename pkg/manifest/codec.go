/*
Copyright The CloudNativePG Contributors

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package manifest

import (
	"bufio"
	"bytes"
	"crypto/sha1" //nolint:gosec
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"strings"

	"github.com/cloudnative-pg/pg-backup-core/pkg/backupengine"
)

// backrestFormat is the on-disk format version this codec reads and
// writes. Bumped whenever the section layout below changes in a way that
// breaks older readers.
const backrestFormat = 1

const headerSectionName = "backrest"

// sectionOrder is the order sections are written in; Load tolerates any
// order and any unknown section, but Save is deterministic.
var sectionOrder = []string{"backup", "backup:option", "database", "defaults", "target", "path", "file", "link"}

// Save renders m to its INI-style persisted form and writes it to w. The
// header's checksum is the SHA-1 of the body that follows the header; the
// header lines themselves are not covered by it.
func (m *Manifest) Save(w io.Writer) error {
	if err := m.Validate(); err != nil {
		return err
	}

	body, err := m.renderBody()
	if err != nil {
		return err
	}

	sum := checksumFor(body)
	header := fmt.Sprintf("[%s]\nbackrest-checksum=%q\nbackrest-format=%d\n\n",
		headerSectionName, sum, backrestFormat)

	if _, err := io.WriteString(w, header); err != nil {
		return err
	}
	_, err = w.Write(body)
	return err
}

// Load parses a manifest previously written by Save, verifying its
// integrity checksum.
func Load(r io.Reader) (*Manifest, error) {
	raw, err := io.ReadAll(r)
	if err != nil {
		return nil, err
	}

	headerEnd := bytes.Index(raw, []byte("\n\n"))
	if headerEnd < 0 {
		return nil, fmt.Errorf("manifest has no header section: %w", backupengine.ErrFormat)
	}

	header := raw[:headerEnd]
	body := raw[headerEnd+2:]

	claimedChecksum, _, err := parseHeader(header)
	if err != nil {
		return nil, err
	}

	if checksumFor(body) != claimedChecksum {
		return nil, fmt.Errorf("manifest %w", backupengine.ErrChecksum)
	}

	return parseBody(body)
}

func parseHeader(header []byte) (checksum string, format int, err error) {
	scanner := bufio.NewScanner(bytes.NewReader(header))
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "[") {
			continue
		}
		key, value, ok := strings.Cut(line, "=")
		if !ok {
			continue
		}
		switch key {
		case "backrest-checksum":
			var s string
			if jsonErr := json.Unmarshal([]byte(value), &s); jsonErr == nil {
				checksum = s
			}
		case "backrest-format":
			_, _ = fmt.Sscanf(value, "%d", &format)
		}
	}
	if checksum == "" {
		return "", 0, fmt.Errorf("manifest header missing backrest-checksum: %w", backupengine.ErrFormat)
	}
	return checksum, format, nil
}

// checksumFor computes the manifest's integrity checksum: SHA-1 over the
// body exactly as it will be (or was) written to disk.
func checksumFor(body []byte) string {
	sum := sha1.Sum(body) //nolint:gosec
	return fmt.Sprintf("%x", sum)
}

func (m *Manifest) renderBody() ([]byte, error) {
	var buf bytes.Buffer

	writeScalarSection(&buf, "backup", m.Backup)
	writeScalarSection(&buf, "backup:option", m.Option)
	writeScalarSection(&buf, "database", m.Database)
	writeDefaultsSection(&buf, m.Defaults)

	if err := writeEntrySection(&buf, "target", targetNames(m.targets), func(i int) (interface{}, map[string]interface{}) {
		return m.targets[i], m.targets[i].Unknown
	}); err != nil {
		return nil, err
	}
	if err := writeEntrySection(&buf, "path", pathNames(m.paths), func(i int) (interface{}, map[string]interface{}) {
		return m.paths[i], m.paths[i].Unknown
	}); err != nil {
		return nil, err
	}
	if err := writeEntrySection(&buf, "file", fileNames(m.files), func(i int) (interface{}, map[string]interface{}) {
		return m.files[i], m.files[i].Unknown
	}); err != nil {
		return nil, err
	}
	if err := writeEntrySection(&buf, "link", linkNames(m.links), func(i int) (interface{}, map[string]interface{}) {
		return m.links[i], m.links[i].Unknown
	}); err != nil {
		return nil, err
	}

	return buf.Bytes(), nil
}

func targetNames(t []*Target) []string {
	n := make([]string, len(t))
	for i, v := range t {
		n[i] = v.Name
	}
	return n
}
func pathNames(t []*PathEntry) []string {
	n := make([]string, len(t))
	for i, v := range t {
		n[i] = v.Name
	}
	return n
}
func fileNames(t []*FileEntry) []string {
	n := make([]string, len(t))
	for i, v := range t {
		n[i] = v.Name
	}
	return n
}
func linkNames(t []*LinkEntry) []string {
	n := make([]string, len(t))
	for i, v := range t {
		n[i] = v.Name
	}
	return n
}

func writeScalarSection(buf *bytes.Buffer, name string, value interface{}) {
	encoded, err := json.Marshal(value)
	if err != nil {
		return
	}
	var asMap map[string]json.RawMessage
	if err := json.Unmarshal(encoded, &asMap); err != nil {
		return
	}
	keys := make([]string, 0, len(asMap))
	for k := range asMap {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	fmt.Fprintf(buf, "[%s]\n", name)
	for _, k := range keys {
		fmt.Fprintf(buf, "%s=%s\n", k, string(asMap[k]))
	}
	buf.WriteString("\n")
}

func writeDefaultsSection(buf *bytes.Buffer, d Defaults) {
	fmt.Fprintf(buf, "[defaults]\n")
	fmt.Fprintf(buf, "path-mode=%q\n", d.PathMode)
	fmt.Fprintf(buf, "file-mode=%q\n", d.FileMode)
	fmt.Fprintf(buf, "user=%q\n", d.User)
	fmt.Fprintf(buf, "group=%q\n", d.Group)
	buf.WriteString("\n")
}

func writeEntrySection(buf *bytes.Buffer, name string, names []string, get func(i int) (interface{}, map[string]interface{})) error {
	fmt.Fprintf(buf, "[%s]\n", name)
	for i, entryName := range names {
		value, unknown := get(i)
		encoded, err := json.Marshal(value)
		if err != nil {
			return err
		}
		if len(unknown) > 0 {
			encoded, err = mergeUnknown(encoded, unknown)
			if err != nil {
				return err
			}
		}
		fmt.Fprintf(buf, "%s=%s\n", entryName, string(encoded))
	}
	buf.WriteString("\n")
	return nil
}

func mergeUnknown(encoded []byte, unknown map[string]interface{}) ([]byte, error) {
	var asMap map[string]interface{}
	if err := json.Unmarshal(encoded, &asMap); err != nil {
		return nil, err
	}
	for k, v := range unknown {
		if _, exists := asMap[k]; !exists {
			asMap[k] = v
		}
	}
	return json.Marshal(asMap)
}

func parseBody(body []byte) (*Manifest, error) {
	m := &Manifest{}
	sections := splitSections(body)

	if raw, ok := sections["backup"]; ok {
		if err := decodeScalarSection(raw, &m.Backup); err != nil {
			return nil, err
		}
	}
	if raw, ok := sections["backup:option"]; ok {
		if err := decodeScalarSection(raw, &m.Option); err != nil {
			return nil, err
		}
	}
	if raw, ok := sections["database"]; ok {
		if err := decodeScalarSection(raw, &m.Database); err != nil {
			return nil, err
		}
	}
	if lines, ok := sections["defaults"]; ok {
		m.Defaults = decodeDefaults(lines)
	}

	if lines, ok := sections["target"]; ok {
		for name, raw := range lines {
			var t Target
			unknown, err := decodeEntry(raw, &t)
			if err != nil {
				return nil, err
			}
			t.Name = name
			t.Unknown = unknown
			m.AddTarget(&t)
		}
	}
	if lines, ok := sections["path"]; ok {
		for name, raw := range lines {
			var p PathEntry
			unknown, err := decodeEntry(raw, &p)
			if err != nil {
				return nil, err
			}
			p.Name = name
			p.Unknown = unknown
			m.AddPath(&p)
		}
	}
	if lines, ok := sections["file"]; ok {
		for name, raw := range lines {
			var f FileEntry
			unknown, err := decodeEntry(raw, &f)
			if err != nil {
				return nil, err
			}
			f.Name = name
			f.Unknown = unknown
			m.AddFile(&f)
		}
	}
	if lines, ok := sections["link"]; ok {
		for name, raw := range lines {
			var l LinkEntry
			unknown, err := decodeEntry(raw, &l)
			if err != nil {
				return nil, err
			}
			l.Name = name
			l.Unknown = unknown
			m.AddLink(&l)
		}
	}

	return m, nil
}

// splitSections breaks the body into sections name -> (line key -> raw
// value), preserving each line's raw JSON value text unparsed.
func splitSections(body []byte) map[string]map[string]string {
	result := make(map[string]map[string]string)
	var current string

	scanner := bufio.NewScanner(bytes.NewReader(body))
	scanner.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
	for scanner.Scan() {
		line := scanner.Text()
		trimmed := strings.TrimSpace(line)
		if trimmed == "" {
			continue
		}
		if strings.HasPrefix(trimmed, "[") && strings.HasSuffix(trimmed, "]") {
			current = trimmed[1 : len(trimmed)-1]
			if _, ok := result[current]; !ok {
				result[current] = make(map[string]string)
			}
			continue
		}
		if current == "" {
			continue
		}
		key, value, ok := strings.Cut(line, "=")
		if !ok {
			continue
		}
		result[current][key] = value
	}

	return result
}

func decodeScalarSection(lines map[string]string, dest interface{}) error {
	asMap := make(map[string]json.RawMessage, len(lines))
	for k, v := range lines {
		asMap[k] = json.RawMessage(v)
	}
	encoded, err := json.Marshal(asMap)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(encoded, dest); err != nil {
		return fmt.Errorf("decoding manifest section: %w: %v", backupengine.ErrFormat, err)
	}
	return nil
}

func decodeDefaults(lines map[string]string) Defaults {
	var d Defaults
	if v, ok := lines["path-mode"]; ok {
		_ = json.Unmarshal([]byte(v), &d.PathMode)
	}
	if v, ok := lines["file-mode"]; ok {
		_ = json.Unmarshal([]byte(v), &d.FileMode)
	}
	if v, ok := lines["user"]; ok {
		_ = json.Unmarshal([]byte(v), &d.User)
	}
	if v, ok := lines["group"]; ok {
		_ = json.Unmarshal([]byte(v), &d.Group)
	}
	return d
}

// decodeEntry unmarshals raw into dest (a struct with `json` tags for its
// known fields) and returns whatever keys dest's tags didn't claim, so
// round-tripping an entry with fields this codec doesn't know about
// doesn't lose them.
func decodeEntry(raw string, dest interface{}) (map[string]interface{}, error) {
	if err := json.Unmarshal([]byte(raw), dest); err != nil {
		return nil, fmt.Errorf("decoding manifest entry: %w: %v", backupengine.ErrFormat, err)
	}

	var asMap map[string]interface{}
	if err := json.Unmarshal([]byte(raw), &asMap); err != nil {
		return nil, err
	}

	reencoded, err := json.Marshal(dest)
	if err != nil {
		return nil, err
	}
	var known map[string]interface{}
	if err := json.Unmarshal(reencoded, &known); err != nil {
		return nil, err
	}

	unknown := make(map[string]interface{})
	for k, v := range asMap {
		if _, ok := known[k]; !ok {
			unknown[k] = v
		}
	}
	if len(unknown) == 0 {
		return nil, nil
	}
	return unknown, nil
}
