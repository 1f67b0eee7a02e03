// Package main implements the genconfig tool that writes config.default.toml
// from config.ExampleConfig(), annotated with config.ConfigDocs.
//
// It is invoked by go generate via the directive in internal/config/config.go.
package main

import (
	"bytes"
	"fmt"
	"os"
	"sort"
	"strings"

	"github.com/BurntSushi/toml"

	"tools.zach/dev/mentionbot/internal/config"
)

// outPath is relative to internal/config, where go generate runs. The root
// package embeds the file from there.
const outPath = "../../config.default.toml"

func main() {
	out, err := generate(config.ExampleConfig(), config.ConfigDocs)
	if err != nil {
		fmt.Fprintf(os.Stderr, "genconfig: %v\n", err)
		os.Exit(1)
	}
	if err := os.WriteFile(outPath, out, 0o644); err != nil {
		fmt.Fprintf(os.Stderr, "write %s: %v\n", outPath, err)
		os.Exit(1)
	}
	fmt.Println("wrote config.default.toml")
}

// annotator accumulates output lines while tracking the current section.
type annotator struct {
	docs    map[string]config.FieldDoc
	lines   []string
	section []string
	emitted map[string]bool
}

// generate encodes cfg as TOML and interleaves the comments in docs.
func generate(cfg any, docs map[string]config.FieldDoc) ([]byte, error) {
	var raw bytes.Buffer
	if err := toml.NewEncoder(&raw).Encode(cfg); err != nil {
		return nil, fmt.Errorf("marshal: %w", err)
	}

	a := &annotator{docs: docs, emitted: map[string]bool{}}
	a.lines = append(a.lines,
		"# ///////////////////////////////////////////////",
		"# Mentionbot Configuration",
		"# ///////////////////////////////////////////////",
		"",
	)
	for _, line := range strings.Split(raw.String(), "\n") {
		a.add(strings.TrimSpace(line))
	}
	a.flushOmitted()

	result := strings.TrimRight(strings.Join(a.lines, "\n"), "\n") + "\n"
	return []byte(result), nil
}

func (a *annotator) add(line string) {
	switch {
	case line == "":
		return
	case strings.HasPrefix(line, "[") && !strings.HasPrefix(line, "[["):
		a.flushOmitted()
		name := strings.Trim(line, "[] ")
		a.section = parseSectionPath(name)
		a.lines = append(a.lines, "", fmt.Sprintf("# ///// %s /////", sectionName(name)), "")
		a.comment(a.docs[name].Comment)
		a.lines = append(a.lines, line)
	case !strings.Contains(line, "=") || strings.HasPrefix(line, "#"):
		a.lines = append(a.lines, line)
	default:
		key := strings.TrimSpace(strings.SplitN(line, "=", 2)[0])
		path := a.path(key)
		a.emitted[path] = true
		doc := a.docs[path]
		a.comment(doc.Comment)
		a.lines = append(a.lines, line)
		for _, alt := range doc.Alternatives {
			a.lines = append(a.lines, "# "+alt)
		}
	}
}

func (a *annotator) path(key string) string {
	if len(a.section) == 0 {
		return key
	}
	return strings.Join(a.section, ".") + "." + key
}

func (a *annotator) comment(text string) {
	if text == "" {
		return
	}
	for _, l := range strings.Split(text, "\n") {
		a.lines = append(a.lines, strings.TrimRight("# "+l, " "))
	}
}

// flushOmitted appends commented-out entries for documented keys of the
// current section that the encoder did not emit, so every option appears in
// the generated file. Keys are sorted for deterministic output.
func (a *annotator) flushOmitted() {
	if len(a.section) == 0 {
		return
	}
	prefix := strings.Join(a.section, ".") + "."

	var omitted []string
	for path := range a.docs {
		rest, ok := strings.CutPrefix(path, prefix)
		if !ok || strings.Contains(rest, ".") || a.emitted[path] {
			continue
		}
		omitted = append(omitted, path)
	}
	sort.Strings(omitted)

	for _, path := range omitted {
		doc := a.docs[path]
		a.lines = append(a.lines, "")
		a.comment(doc.Comment)
		for _, alt := range doc.Alternatives {
			a.lines = append(a.lines, "# "+alt)
		}
		a.emitted[path] = true
	}
}

// parseSectionPath splits a dotted TOML section header into its segments.
func parseSectionPath(section string) []string {
	return strings.Split(section, ".")
}

// sectionName returns the last dotted segment of a section header with its
// first letter capitalized: "reply" yields "Reply".
func sectionName(section string) string {
	parts := strings.Split(section, ".")
	last := parts[len(parts)-1]
	if last == "" {
		return ""
	}
	return strings.ToUpper(last[:1]) + last[1:]
}
