// Package source loads local Markdown entries into the node store in the
// shape a Contentful space produces: one entry node per file, a long-text
// child node holding the Markdown body, and a MarkdownRemark grandchild
// holding the rendered HTML.
package source

import (
	"bytes"
	"context"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/adrg/frontmatter"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/extension"
	"github.com/yuin/goldmark/parser"
	gmhtml "github.com/yuin/goldmark/renderer/html"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"github.com/Bitlatte/contentpages/internal/model"
	"github.com/Bitlatte/contentpages/internal/nodestore"
)

const (
	typePrefix       = "Contentful"
	markdownType     = "MarkdownRemark"
	defaultBodyField = "body"
)

// frontmatter keys that steer loading and are not copied into fields
var controlKeys = map[string]bool{
	"id":          true,
	"contentType": true,
	"bodyField":   true,
}

// Loader reads content/<contentType>/<entry>.md files.
type Loader struct {
	dir    string
	md     goldmark.Markdown
	logger zerolog.Logger
}

// NewLoader creates a loader for the content directory dir.
func NewLoader(dir string, logger zerolog.Logger) *Loader {
	return &Loader{
		dir: dir,
		md: goldmark.New(
			goldmark.WithExtensions(extension.GFM),
			goldmark.WithParserOptions(
				parser.WithAutoHeadingID(),
			),
			goldmark.WithRendererOptions(
				gmhtml.WithHardWraps(),
			),
		),
		logger: logger.With().Str("component", "source").Logger(),
	}
}

// Load walks the content directory and creates the nodes of every entry in
// store. It returns the number of entries loaded.
func (l *Loader) Load(ctx context.Context, store nodestore.Store) (int, error) {
	if _, err := os.Stat(l.dir); os.IsNotExist(err) {
		return 0, fmt.Errorf("content directory '%s' not found", l.dir)
	}

	entries := 0
	err := filepath.WalkDir(l.dir, func(path string, d fs.DirEntry, walkErr error) error {
		if walkErr != nil {
			return fmt.Errorf("error accessing path '%s' during walk: %w", path, walkErr)
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		if d.IsDir() || !strings.HasSuffix(strings.ToLower(d.Name()), ".md") {
			return nil
		}

		nodes, err := l.entryNodes(path)
		if err != nil {
			return err
		}
		if nodes == nil {
			return nil
		}
		for _, n := range nodes {
			if err := store.CreateNode(ctx, n); err != nil {
				return fmt.Errorf("store nodes of '%s': %w", path, err)
			}
		}
		entries++
		l.logger.Debug().Str("file", path).Str("type", nodes[0].Type).Str("id", nodes[0].ID).Msg("entry loaded")
		return nil
	})
	if err != nil {
		return entries, fmt.Errorf("error during content walk: %w", err)
	}

	l.logger.Info().Int("entries", entries).Str("dir", l.dir).Msg("content loaded")
	return entries, nil
}

// entryNodes builds the entry node and, when the file has a body, its text
// and MarkdownRemark descendants. A nil slice means the file was skipped.
func (l *Loader) entryNodes(path string) ([]model.ContentRecord, error) {
	fileBytes, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read file '%s': %w", path, err)
	}

	var fm map[string]interface{}
	body, err := frontmatter.Parse(bytes.NewReader(fileBytes), &fm)
	if err != nil {
		l.logger.Warn().Err(err).Str("file", path).Msg("could not parse frontmatter, treating as pure markdown")
		body = fileBytes
		fm = nil
	}
	if fm == nil {
		fm = make(map[string]interface{})
	}

	relPath, err := filepath.Rel(l.dir, path)
	if err != nil {
		return nil, fmt.Errorf("relative path of '%s': %w", path, err)
	}
	relPath = filepath.ToSlash(relPath)

	contentType := ""
	if dir := filepath.Dir(filepath.FromSlash(relPath)); dir != "." {
		contentType = strings.Split(filepath.ToSlash(dir), "/")[0]
	}
	if ct, ok := fm["contentType"].(string); ok && ct != "" {
		contentType = ct
	}
	if contentType == "" {
		l.logger.Warn().Str("file", path).Msg("entry has no content type, skipped")
		return nil, nil
	}

	id, _ := fm["id"].(string)
	if id == "" {
		id = stableID("contentful:" + relPath)
	}

	fields := make(map[string]interface{}, len(fm)+1)
	for k, v := range fm {
		if controlKeys[k] {
			continue
		}
		fields[k] = normalize(v)
	}
	if title, ok := fields["title"].(string); !ok || title == "" {
		base := strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
		fields["title"] = cases.Title(language.English).String(strings.NewReplacer("-", " ", "_", " ").Replace(base))
	}

	entry := model.ContentRecord{
		ID:     id,
		Type:   typePrefix + upperFirst(contentType),
		Fields: fields,
	}

	markdown := bytes.TrimSpace(body)
	if len(markdown) == 0 {
		return []model.ContentRecord{entry}, nil
	}

	bodyField := defaultBodyField
	if bf, ok := fm["bodyField"].(string); ok && bf != "" {
		bodyField = bf
	}

	var html bytes.Buffer
	if err := l.md.Convert(markdown, &html); err != nil {
		return nil, fmt.Errorf("failed to convert markdown to HTML for file '%s': %w", path, err)
	}

	textID := stableID(id + "/" + bodyField)
	markdownID := stableID(textID + "/markdown")

	entry.Children = []string{textID}
	entry.Fields[bodyField+model.RefSuffix] = textID

	text := model.ContentRecord{
		ID:       textID,
		Type:     lowerFirst(typePrefix) + upperFirst(contentType) + upperFirst(bodyField) + "TextNode",
		Parent:   id,
		Children: []string{markdownID},
		Fields: map[string]interface{}{
			bodyField: string(markdown),
		},
	}
	rendered := model.ContentRecord{
		ID:     markdownID,
		Type:   markdownType,
		Parent: textID,
		Fields: map[string]interface{}{
			"html":            html.String(),
			"rawMarkdownBody": string(markdown),
		},
	}
	return []model.ContentRecord{entry, text, rendered}, nil
}

// stableID derives a UUIDv5 so ids survive rebuilds of unchanged content.
func stableID(name string) string {
	return uuid.NewSHA1(uuid.NameSpaceURL, []byte(name)).String()
}

// normalize turns YAML maps with interface keys into string-keyed maps so
// every store can encode them.
func normalize(v interface{}) interface{} {
	switch t := v.(type) {
	case map[interface{}]interface{}:
		out := make(map[string]interface{}, len(t))
		for k, e := range t {
			out[fmt.Sprint(k)] = normalize(e)
		}
		return out
	case map[string]interface{}:
		out := make(map[string]interface{}, len(t))
		for k, e := range t {
			out[k] = normalize(e)
		}
		return out
	case []interface{}:
		out := make([]interface{}, len(t))
		for i, e := range t {
			out[i] = normalize(e)
		}
		return out
	default:
		return v
	}
}

func upperFirst(s string) string {
	if s == "" {
		return s
	}
	return strings.ToUpper(s[:1]) + s[1:]
}

func lowerFirst(s string) string {
	if s == "" {
		return s
	}
	return strings.ToLower(s[:1]) + s[1:]
}
