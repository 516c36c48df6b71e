package nodes

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/rendis/flowgraph/pkg/schema"
)

const defaultFileMaxSizeMB = 10.0

// Directory components and exact files that file nodes never touch.
var (
	deniedDirs  = []string{".ssh", ".gnupg"}
	deniedFiles = []string{"/etc/shadow", "/etc/passwd"}
)

// pathDenied reports whether a resolved path hits the deny list, either as
// an exact file or through a denied directory component.
func pathDenied(path string) bool {
	for _, f := range deniedFiles {
		if path == f {
			return true
		}
	}
	for _, part := range strings.Split(filepath.ToSlash(path), "/") {
		for _, d := range deniedDirs {
			if part == d {
				return true
			}
		}
	}
	return false
}

// resolvePathInput picks the path from the incoming value ("path" key of an
// object, or a bare string) falling back to node config.
func resolvePathInput(node *schema.Node, input any) string {
	path := node.String("path", "")
	switch v := input.(type) {
	case map[string]any:
		if p, ok := v["path"].(string); ok && p != "" {
			path = p
		}
	case string:
		if v != "" {
			path = v
		}
	}
	return path
}

// FileReadExecutor reads a local file in one of four modes: text, json,
// csv, binary (base64 with a guessed MIME type). Reads go through a deny
// list and a size cap.
type FileReadExecutor struct{}

func NewFileReadExecutor() *FileReadExecutor { return &FileReadExecutor{} }

func (e *FileReadExecutor) Type() string { return schema.NodeTypeFileRead }

func (e *FileReadExecutor) Execute(ctx context.Context, ec *ExecutionContext, node *schema.Node, input any) (*Result, error) {
	path := resolvePathInput(node, input)
	if path == "" {
		return nil, schema.NewError(schema.ErrCodeValidation, "file_read requires a path").WithNode(node.ID)
	}

	resolved, err := filepath.EvalSymlinks(path)
	if err != nil {
		return nil, schema.NewErrorf(schema.ErrCodeExecutor, "file not found or inaccessible: %s", path).
			WithNode(node.ID).WithCause(err)
	}
	if abs, absErr := filepath.Abs(resolved); absErr == nil {
		resolved = abs
	}
	if pathDenied(resolved) {
		return nil, schema.NewErrorf(schema.ErrCodeExecutor, "access denied to sensitive path %q", path).WithNode(node.ID)
	}

	maxBytes := int64(node.Float("maxSize", defaultFileMaxSizeMB) * (1 << 20))
	info, err := os.Stat(resolved)
	if err != nil {
		return nil, schema.NewErrorf(schema.ErrCodeExecutor, "stat %s: %s", path, err.Error()).
			WithNode(node.ID).WithCause(err)
	}
	if info.Size() > maxBytes {
		return nil, schema.NewErrorf(schema.ErrCodeExecutor, "file too large: %.1fMB over %.0fMB limit",
			float64(info.Size())/(1<<20), node.Float("maxSize", defaultFileMaxSizeMB)).WithNode(node.ID)
	}

	raw, err := os.ReadFile(resolved)
	if err != nil {
		return nil, schema.NewErrorf(schema.ErrCodeExecutor, "read %s: %s", path, err.Error()).
			WithNode(node.ID).WithCause(err)
	}

	value, err := decodeFileContent(node, resolved, raw)
	if err != nil {
		return nil, err
	}
	return &Result{Value: value}, nil
}

// decodeFileContent shapes file bytes per the node's mode.
func decodeFileContent(node *schema.Node, path string, raw []byte) (map[string]any, error) {
	size := len(raw)
	switch node.String("mode", "text") {
	case "json":
		var parsed any
		if err := json.Unmarshal(raw, &parsed); err != nil {
			return nil, schema.NewErrorf(schema.ErrCodeExecutor, "invalid JSON in file: %s", err.Error()).
				WithNode(node.ID).WithCause(err)
		}
		return map[string]any{"content": parsed, "size": size}, nil

	case "csv":
		rows := parseCSV(string(raw), csvDelimiter(node), node.Bool("csvHasHeader", true))
		return map[string]any{"rows": rows, "content": string(raw), "size": size}, nil

	case "binary":
		return map[string]any{
			"content":   base64.StdEncoding.EncodeToString(raw),
			"encoding":  "base64",
			"mime_type": guessMIMEType(path),
			"size":      size,
		}, nil

	default:
		return map[string]any{"content": string(raw), "size": size}, nil
	}
}

func csvDelimiter(node *schema.Node) rune {
	if s := node.String("csvDelimiter", ","); s != "" {
		return rune(s[0])
	}
	return ','
}

// guessMIMEType maps common extensions; everything else is an octet stream.
func guessMIMEType(path string) string {
	switch strings.ToLower(strings.TrimPrefix(filepath.Ext(path), ".")) {
	case "png":
		return "image/png"
	case "jpg", "jpeg":
		return "image/jpeg"
	case "gif":
		return "image/gif"
	case "webp":
		return "image/webp"
	case "svg":
		return "image/svg+xml"
	case "bmp":
		return "image/bmp"
	case "pdf":
		return "application/pdf"
	case "mp3":
		return "audio/mpeg"
	case "wav":
		return "audio/wav"
	case "mp4":
		return "video/mp4"
	default:
		return "application/octet-stream"
	}
}

// parseCSV converts CSV text into row objects. With a header row the field
// names come from it; otherwise columns are named col_0, col_1, ...
func parseCSV(content string, delimiter rune, hasHeader bool) []any {
	lines := strings.Split(strings.ReplaceAll(content, "\r\n", "\n"), "\n")
	var nonEmpty []string
	for _, line := range lines {
		if strings.TrimSpace(line) != "" {
			nonEmpty = append(nonEmpty, line)
		}
	}
	if len(nonEmpty) == 0 {
		return []any{}
	}

	var headers []string
	if hasHeader {
		headers = parseCSVLine(nonEmpty[0], delimiter)
		nonEmpty = nonEmpty[1:]
	} else {
		for i := range parseCSVLine(nonEmpty[0], delimiter) {
			headers = append(headers, fmt.Sprintf("col_%d", i))
		}
	}

	rows := make([]any, 0, len(nonEmpty))
	for _, line := range nonEmpty {
		fields := parseCSVLine(line, delimiter)
		row := make(map[string]any, len(headers))
		for i, h := range headers {
			if i < len(fields) {
				row[h] = fields[i]
			} else {
				row[h] = ""
			}
		}
		rows = append(rows, row)
	}
	return rows
}

// parseCSVLine splits one line on the delimiter, honoring quoted fields and
// doubled quotes.
func parseCSVLine(line string, delimiter rune) []string {
	var fields []string
	var current strings.Builder
	inQuotes := false
	runes := []rune(line)

	for i := 0; i < len(runes); i++ {
		c := runes[i]
		switch {
		case c == '"':
			if inQuotes && i+1 < len(runes) && runes[i+1] == '"' {
				current.WriteRune('"')
				i++
			} else {
				inQuotes = !inQuotes
			}
		case c == delimiter && !inQuotes:
			fields = append(fields, strings.TrimSpace(current.String()))
			current.Reset()
		default:
			current.WriteRune(c)
		}
	}
	fields = append(fields, strings.TrimSpace(current.String()))
	return fields
}

// FileWriteExecutor writes the incoming value to a local file. Content
// comes from the incoming "content" key or the whole incoming value;
// text, json and csv modes shape it before writing.
type FileWriteExecutor struct{}

func NewFileWriteExecutor() *FileWriteExecutor { return &FileWriteExecutor{} }

func (e *FileWriteExecutor) Type() string { return schema.NodeTypeFileWrite }

func (e *FileWriteExecutor) Execute(ctx context.Context, ec *ExecutionContext, node *schema.Node, input any) (*Result, error) {
	path := node.String("path", "")
	if m, ok := input.(map[string]any); ok {
		if p, pok := m["path"].(string); pok && p != "" {
			path = p
		}
	}
	if path == "" {
		return nil, schema.NewError(schema.ErrCodeValidation, "file_write requires a path").WithNode(node.ID)
	}
	if pathDenied(path) {
		return nil, schema.NewErrorf(schema.ErrCodeExecutor, "access denied to sensitive path %q", path).WithNode(node.ID)
	}
	// The file may not exist yet; the deny check also covers the resolved
	// parent directory.
	if parent := filepath.Dir(path); parent != "" {
		if resolved, err := filepath.EvalSymlinks(parent); err == nil && pathDenied(resolved) {
			return nil, schema.NewErrorf(schema.ErrCodeExecutor, "access denied to sensitive path %q", path).WithNode(node.ID)
		}
	}

	var content any
	switch v := input.(type) {
	case map[string]any:
		content = v["content"]
	default:
		content = input
	}
	if content == nil {
		return nil, schema.NewError(schema.ErrCodeValidation, "file_write has no content").WithNode(node.ID)
	}

	text, err := encodeFileContent(node, content)
	if err != nil {
		return nil, err
	}

	if node.Bool("createDirs", true) {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, schema.NewErrorf(schema.ErrCodeExecutor, "create directories: %s", err.Error()).
				WithNode(node.ID).WithCause(err)
		}
	}

	if node.String("writeMode", "overwrite") == "append" {
		f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
		if err != nil {
			return nil, schema.NewErrorf(schema.ErrCodeExecutor, "open for append: %s", err.Error()).
				WithNode(node.ID).WithCause(err)
		}
		defer f.Close()
		if _, err := f.WriteString(text); err != nil {
			return nil, schema.NewErrorf(schema.ErrCodeExecutor, "write %s: %s", path, err.Error()).
				WithNode(node.ID).WithCause(err)
		}
	} else if err := os.WriteFile(path, []byte(text), 0o644); err != nil {
		return nil, schema.NewErrorf(schema.ErrCodeExecutor, "write %s: %s", path, err.Error()).
			WithNode(node.ID).WithCause(err)
	}

	return &Result{Value: map[string]any{"path": path, "bytes": len(text)}}, nil
}

// encodeFileContent shapes the content per the node's mode before writing.
func encodeFileContent(node *schema.Node, content any) (string, error) {
	switch node.String("mode", "text") {
	case "json":
		var raw []byte
		var err error
		if node.Bool("jsonPretty", true) {
			raw, err = json.MarshalIndent(content, "", "  ")
		} else {
			raw, err = json.Marshal(content)
		}
		if err != nil {
			return "", schema.NewErrorf(schema.ErrCodeExecutor, "marshal content: %s", err.Error()).
				WithNode(node.ID).WithCause(err)
		}
		return string(raw), nil

	case "csv":
		return rowsToCSV(node, content)

	default:
		if s, ok := content.(string); ok {
			return s, nil
		}
		raw, err := json.Marshal(content)
		if err != nil {
			return "", schema.NewErrorf(schema.ErrCodeExecutor, "marshal content: %s", err.Error()).
				WithNode(node.ID).WithCause(err)
		}
		return string(raw), nil
	}
}

// rowsToCSV turns an array of row objects into CSV text. Column order comes
// from the first row's sorted keys.
func rowsToCSV(node *schema.Node, content any) (string, error) {
	rows, ok := content.([]any)
	if !ok {
		return "", schema.NewError(schema.ErrCodeValidation, "csv mode requires an array of row objects").WithNode(node.ID)
	}
	if len(rows) == 0 {
		return "", nil
	}

	first, ok := rows[0].(map[string]any)
	if !ok {
		return "", schema.NewError(schema.ErrCodeValidation, "csv mode requires an array of row objects").WithNode(node.ID)
	}
	headers := make([]string, 0, len(first))
	for k := range first {
		headers = append(headers, k)
	}
	sort.Strings(headers)

	delim := string(csvDelimiter(node))
	var b strings.Builder
	b.WriteString(strings.Join(headers, delim))
	b.WriteString("\n")
	for _, r := range rows {
		obj, ok := r.(map[string]any)
		if !ok {
			return "", schema.NewError(schema.ErrCodeValidation, "csv mode requires an array of row objects").WithNode(node.ID)
		}
		fields := make([]string, len(headers))
		for i, h := range headers {
			fields[i] = csvField(obj[h], delim)
		}
		b.WriteString(strings.Join(fields, delim))
		b.WriteString("\n")
	}
	return b.String(), nil
}

func csvField(v any, delim string) string {
	var s string
	switch t := v.(type) {
	case nil:
		s = ""
	case string:
		s = t
	default:
		raw, _ := json.Marshal(t)
		s = string(raw)
	}
	if strings.Contains(s, delim) || strings.Contains(s, "\"") || strings.Contains(s, "\n") {
		s = "\"" + strings.ReplaceAll(s, "\"", "\"\"") + "\""
	}
	return s
}

// FileGlobExecutor lists files under a directory matching a glob pattern
// and reads each one in the configured mode. Results never leave the
// configured directory, and denied paths are skipped.
type FileGlobExecutor struct{}

func NewFileGlobExecutor() *FileGlobExecutor { return &FileGlobExecutor{} }

func (e *FileGlobExecutor) Type() string { return schema.NodeTypeFileGlob }

func (e *FileGlobExecutor) Execute(ctx context.Context, ec *ExecutionContext, node *schema.Node, input any) (*Result, error) {
	dir := node.String("directory", "")
	switch v := input.(type) {
	case map[string]any:
		if d, ok := v["directory"].(string); ok && d != "" {
			dir = d
		}
	case string:
		if v != "" {
			dir = v
		}
	}
	if dir == "" {
		return nil, schema.NewError(schema.ErrCodeValidation, "file_glob requires a directory").WithNode(node.ID)
	}

	base, err := filepath.EvalSymlinks(dir)
	if err != nil {
		return nil, schema.NewErrorf(schema.ErrCodeExecutor, "directory not found: %s", dir).
			WithNode(node.ID).WithCause(err)
	}
	if abs, absErr := filepath.Abs(base); absErr == nil {
		base = abs
	}
	info, err := os.Stat(base)
	if err != nil || !info.IsDir() {
		return nil, schema.NewErrorf(schema.ErrCodeExecutor, "path is not a directory: %s", dir).WithNode(node.ID)
	}

	pattern := node.String("pattern", "*")
	maxFiles := node.Int("maxFiles", 100)
	maxBytes := int64(node.Float("maxSize", defaultFileMaxSizeMB) * (1 << 20))

	matches, err := globMatches(base, pattern, node.Bool("recursive", false))
	if err != nil {
		return nil, schema.NewErrorf(schema.ErrCodeExecutor, "invalid pattern %q: %s", pattern, err.Error()).
			WithNode(node.ID).WithCause(err)
	}

	type entry struct {
		path     string
		name     string
		size     int64
		modified string
	}
	var entries []entry
	for _, match := range matches {
		if len(entries) >= maxFiles {
			break
		}
		resolved, err := filepath.EvalSymlinks(match)
		if err != nil {
			continue
		}
		if pathDenied(resolved) || !strings.HasPrefix(resolved, base+string(filepath.Separator)) {
			continue
		}
		fi, err := os.Stat(resolved)
		if err != nil || fi.IsDir() || fi.Size() > maxBytes {
			continue
		}
		entries = append(entries, entry{
			path:     resolved,
			name:     fi.Name(),
			size:     fi.Size(),
			modified: fi.ModTime().UTC().Format("2006-01-02T15:04:05Z"),
		})
	}

	sortBy := node.String("sortBy", "name")
	sort.Slice(entries, func(i, j int) bool {
		switch sortBy {
		case "size":
			return entries[i].size < entries[j].size
		case "modified":
			return entries[i].modified < entries[j].modified
		default:
			return strings.ToLower(entries[i].name) < strings.ToLower(entries[j].name)
		}
	})
	if node.String("sortOrder", "asc") == "desc" {
		for i, j := 0, len(entries)-1; i < j; i, j = i+1, j-1 {
			entries[i], entries[j] = entries[j], entries[i]
		}
	}

	files := make([]any, 0, len(entries))
	paths := make([]any, 0, len(entries))
	for _, ent := range entries {
		raw, err := os.ReadFile(ent.path)
		if err != nil {
			return nil, schema.NewErrorf(schema.ErrCodeExecutor, "read %s: %s", ent.name, err.Error()).
				WithNode(node.ID).WithCause(err)
		}
		obj, err := decodeFileContent(node, ent.path, raw)
		if err != nil {
			return nil, err
		}
		obj["path"] = ent.path
		obj["name"] = ent.name
		obj["modified"] = ent.modified
		files = append(files, obj)
		paths = append(paths, ent.path)
	}

	return &Result{Value: map[string]any{
		"files": files,
		"count": len(files),
		"paths": paths,
	}}, nil
}

// globMatches expands the pattern under base. Recursive mode walks the tree
// and matches the pattern against file names.
func globMatches(base, pattern string, recursive bool) ([]string, error) {
	if _, err := filepath.Match(pattern, ""); err != nil {
		return nil, err
	}
	if !recursive {
		return filepath.Glob(filepath.Join(base, pattern))
	}

	var matches []string
	err := filepath.WalkDir(base, func(path string, d os.DirEntry, walkErr error) error {
		if walkErr != nil {
			return nil
		}
		if d.IsDir() {
			return nil
		}
		if ok, _ := filepath.Match(pattern, d.Name()); ok {
			matches = append(matches, path)
		}
		return nil
	})
	return matches, err
}
