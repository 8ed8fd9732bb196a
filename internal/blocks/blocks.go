// Package blocks defines the typed content variants a lesson is composed of.
// Content is stored as JSON keyed by the block type and is decoded and validated here,
// at the boundary, before it reaches storage.
package blocks

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"sort"
)

type Type string

const (
	TypeHeading         Type = "heading"
	TypeText            Type = "text"
	TypeImage           Type = "image"
	TypeVideo           Type = "video"
	TypeAudio           Type = "audio"
	TypeFile            Type = "file"
	TypeDivider         Type = "divider"
	TypeCallout         Type = "callout"
	TypeQuote           Type = "quote"
	TypeCode            Type = "code"
	TypeEmbed           Type = "embed"
	TypeButton          Type = "button"
	TypeAccordion       Type = "accordion"
	TypeChecklist       Type = "checklist"
	TypeSingleChoice    Type = "single_choice"
	TypeMultipleChoice  Type = "multiple_choice"
	TypeSequencing      Type = "sequencing"
	TypeMatching        Type = "matching"
	TypeFillBlank       Type = "fill_blank"
	TypeHotspot         Type = "hotspot"
	TypeUploadPrompt    Type = "upload_prompt"
	TypeSurvey          Type = "survey"
	TypeDiagnosticTable Type = "diagnostic_table"
	TypeReflection      Type = "reflection"
)

var (
	ErrUnknownBlockType = errors.New("unknown block type")
	ErrInvalidContent   = errors.New("invalid block content")
	ErrNotGradeable     = errors.New("block type is not gradeable")
)

// Content is one block variant.
type Content interface {
	Type() Type
	Validate() error
}

// MediaContent is implemented by variants that reference files in storage.
type MediaContent interface {
	Content
	AssetPaths() []string
}

var registry = map[Type]func() Content{
	TypeHeading:         func() Content { return &Heading{} },
	TypeText:            func() Content { return &Text{} },
	TypeImage:           func() Content { return &Image{} },
	TypeVideo:           func() Content { return &Video{} },
	TypeAudio:           func() Content { return &Audio{} },
	TypeFile:            func() Content { return &File{} },
	TypeDivider:         func() Content { return &Divider{} },
	TypeCallout:         func() Content { return &Callout{} },
	TypeQuote:           func() Content { return &Quote{} },
	TypeCode:            func() Content { return &Code{} },
	TypeEmbed:           func() Content { return &Embed{} },
	TypeButton:          func() Content { return &Button{} },
	TypeAccordion:       func() Content { return &Accordion{} },
	TypeChecklist:       func() Content { return &Checklist{} },
	TypeSingleChoice:    func() Content { return &SingleChoice{} },
	TypeMultipleChoice:  func() Content { return &MultipleChoice{} },
	TypeSequencing:      func() Content { return &Sequencing{} },
	TypeMatching:        func() Content { return &Matching{} },
	TypeFillBlank:       func() Content { return &FillBlank{} },
	TypeHotspot:         func() Content { return &Hotspot{} },
	TypeUploadPrompt:    func() Content { return &UploadPrompt{} },
	TypeSurvey:          func() Content { return &Survey{} },
	TypeDiagnosticTable: func() Content { return &DiagnosticTable{} },
	TypeReflection:      func() Content { return &Reflection{} },
}

// Types lists every registered block type, sorted.
func Types() []Type {
	out := make([]Type, 0, len(registry))
	for t := range registry {
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

func Known(t Type) bool {
	_, ok := registry[t]
	return ok
}

// Decode parses raw content for the given block type and validates it.
// Fields not belonging to the variant are rejected.
func Decode(t Type, raw json.RawMessage) (Content, error) {
	newContent, ok := registry[t]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownBlockType, t)
	}
	c := newContent()
	if len(bytes.TrimSpace(raw)) == 0 {
		raw = json.RawMessage("{}")
	}
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.DisallowUnknownFields()
	if err := dec.Decode(c); err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrInvalidContent, t, err)
	}
	if _, err := dec.Token(); err != io.EOF {
		return nil, fmt.Errorf("%w: %s: trailing data", ErrInvalidContent, t)
	}
	if err := c.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrInvalidContent, t, err)
	}
	return c, nil
}

// AssetPaths returns the storage paths referenced by content, if any.
func AssetPaths(c Content) []string {
	m, ok := c.(MediaContent)
	if !ok {
		return nil
	}
	var out []string
	for _, p := range m.AssetPaths() {
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}

// Released returns the paths referenced by before that after no longer references.
func Released(before, after Content) []string {
	keep := map[string]struct{}{}
	if after != nil {
		for _, p := range AssetPaths(after) {
			keep[p] = struct{}{}
		}
	}
	var out []string
	if before == nil {
		return out
	}
	for _, p := range AssetPaths(before) {
		if _, ok := keep[p]; !ok {
			out = append(out, p)
		}
	}
	return out
}
