// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package msgtemplate renders the bot's configurable messages. Each
// template is a text/template whose output is Markdown. A rendered
// Message carries that Markdown as the plain body and the sanitized
// HTML rendering as the formatted body, the dual-body form Matrix
// clients expect for m.text with org.matrix.custom.html.
package msgtemplate

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"maps"
	"slices"
	"strings"
	"sync"
	"text/template"

	"github.com/microcosm-cc/bluemonday"
	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/extension"
)

// Name identifies one configurable template.
type Name string

// The templates the bot sends.
const (
	WelcomeSpaceExists Name = "welcome_space_exists"
	WelcomeCreateSpace Name = "welcome_create_space"
	SpaceExists        Name = "space_exists"
	SpaceCreated       Name = "space_created"
	GeneralRoomTopic   Name = "general_room_topic"
)

// Data is the value every template executes against.
type Data struct {
	// UserID is the Matrix user the message is about.
	UserID string
	// Workshop is the workshop display name.
	Workshop string
	// Slug is the workshop slug.
	Slug string
	// Command is the configured creation command prefix.
	Command string
	// SpaceAlias is the full alias of the workshop space.
	SpaceAlias string
}

// sampleData is executed against every template at parse time so that
// references to unknown fields fail at startup instead of at send time.
var sampleData = Data{
	UserID:     "@user:example.org",
	Workshop:   "Workshop",
	Slug:       "workshop",
	Command:    "!create",
	SpaceAlias: "#workshop:example.org",
}

// Message is a rendered message.
type Message struct {
	// Body is the Markdown source, used as the plain text fallback.
	Body string
	// FormattedBody is sanitized HTML.
	FormattedBody string
}

var (
	markdownOnce     sync.Once
	markdownRenderer goldmark.Markdown
	htmlPolicy       *bluemonday.Policy
)

func renderer() (goldmark.Markdown, *bluemonday.Policy) {
	markdownOnce.Do(func() {
		markdownRenderer = goldmark.New(
			goldmark.WithExtensions(extension.Linkify, extension.Strikethrough),
		)
		htmlPolicy = bluemonday.UGCPolicy()
	})
	return markdownRenderer, htmlPolicy
}

// Set is a compiled collection of templates. Safe for concurrent use.
type Set struct {
	templates map[Name]*template.Template
}

// ParseSet compiles every source. All templates must be non-empty,
// parse, and execute against sample data; every failure is reported.
func ParseSet(sources map[Name]string) (*Set, error) {
	set := &Set{templates: make(map[Name]*template.Template, len(sources))}
	var errs []error
	for _, name := range slices.Sorted(maps.Keys(sources)) {
		source := sources[name]
		if strings.TrimSpace(source) == "" {
			errs = append(errs, fmt.Errorf("templates.%s is empty", name))
			continue
		}
		parsed, err := template.New(string(name)).Parse(source)
		if err != nil {
			errs = append(errs, fmt.Errorf("templates.%s: %w", name, err))
			continue
		}
		if err := parsed.Execute(io.Discard, sampleData); err != nil {
			errs = append(errs, fmt.Errorf("templates.%s: %w", name, err))
			continue
		}
		set.templates[name] = parsed
	}
	if len(errs) > 0 {
		return nil, errors.Join(errs...)
	}
	return set, nil
}

// Text executes the named template and returns its raw output. Used for
// values that are not messages, such as room topics.
func (set *Set) Text(name Name, data Data) (string, error) {
	parsed, ok := set.templates[name]
	if !ok {
		return "", fmt.Errorf("msgtemplate: no template %q", name)
	}
	var output bytes.Buffer
	if err := parsed.Execute(&output, data); err != nil {
		return "", fmt.Errorf("msgtemplate: executing %s: %w", name, err)
	}
	return strings.TrimSpace(output.String()), nil
}

// Render executes the named template and renders the result to HTML.
func (set *Set) Render(name Name, data Data) (Message, error) {
	body, err := set.Text(name, data)
	if err != nil {
		return Message{}, err
	}
	formatted, err := RenderMarkdown(body)
	if err != nil {
		return Message{}, fmt.Errorf("msgtemplate: rendering %s: %w", name, err)
	}
	return Message{Body: body, FormattedBody: formatted}, nil
}

// RenderMarkdown converts Markdown to sanitized HTML. Output consisting
// of a single paragraph is unwrapped.
func RenderMarkdown(source string) (string, error) {
	markdown, policy := renderer()
	var output bytes.Buffer
	if err := markdown.Convert([]byte(source), &output); err != nil {
		return "", err
	}
	html := strings.TrimSpace(policy.Sanitize(output.String()))
	if strings.HasPrefix(html, "<p>") && strings.HasSuffix(html, "</p>") &&
		strings.Count(html, "<p>") == 1 {
		html = strings.TrimSuffix(strings.TrimPrefix(html, "<p>"), "</p>")
	}
	return html, nil
}
