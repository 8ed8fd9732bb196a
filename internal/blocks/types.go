package blocks

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
)

type Heading struct {
	Text  string `json:"text"`
	Level int    `json:"level"`
}

func (*Heading) Type() Type { return TypeHeading }

func (c *Heading) Validate() error {
	if err := required("text", c.Text); err != nil {
		return err
	}
	if c.Level == 0 {
		c.Level = 2
	}
	if c.Level < 1 || c.Level > 4 {
		return fmt.Errorf("level must be between 1 and 4, got %d", c.Level)
	}
	return nil
}

type Text struct {
	Markdown string `json:"markdown"`
}

func (*Text) Type() Type { return TypeText }

func (c *Text) Validate() error { return required("markdown", c.Markdown) }

type Image struct {
	Path    string `json:"path"`
	Alt     string `json:"alt"`
	Caption string `json:"caption,omitempty"`
}

func (*Image) Type() Type { return TypeImage }

func (c *Image) Validate() error { return required("path", c.Path) }

func (c *Image) AssetPaths() []string { return []string{c.Path} }

type Video struct {
	Path     string  `json:"path,omitempty"`
	URL      string  `json:"url,omitempty"`
	StartSec float64 `json:"start_sec,omitempty"`
	Caption  string  `json:"caption,omitempty"`
}

func (*Video) Type() Type { return TypeVideo }

func (c *Video) Validate() error {
	if c.Path == "" && c.URL == "" {
		return errors.New("either path or url is required")
	}
	if c.URL != "" {
		if err := validURL(c.URL); err != nil {
			return err
		}
	}
	if c.StartSec < 0 {
		return errors.New("start_sec must not be negative")
	}
	return nil
}

func (c *Video) AssetPaths() []string { return []string{c.Path} }

type Audio struct {
	Path       string `json:"path"`
	Transcript string `json:"transcript,omitempty"`
}

func (*Audio) Type() Type { return TypeAudio }

func (c *Audio) Validate() error { return required("path", c.Path) }

func (c *Audio) AssetPaths() []string { return []string{c.Path} }

type File struct {
	Path     string `json:"path"`
	FileName string `json:"file_name"`
	MimeType string `json:"mime_type,omitempty"`
}

func (*File) Type() Type { return TypeFile }

func (c *File) Validate() error {
	if err := required("path", c.Path); err != nil {
		return err
	}
	return required("file_name", c.FileName)
}

func (c *File) AssetPaths() []string { return []string{c.Path} }

type Divider struct{}

func (*Divider) Type() Type { return TypeDivider }

func (*Divider) Validate() error { return nil }

type Callout struct {
	Variant  string `json:"variant"`
	Title    string `json:"title,omitempty"`
	Markdown string `json:"markdown"`
}

func (*Callout) Type() Type { return TypeCallout }

func (c *Callout) Validate() error {
	switch c.Variant {
	case "":
		c.Variant = "info"
	case "info", "tip", "warning", "danger":
	default:
		return fmt.Errorf("unknown callout variant %q", c.Variant)
	}
	return required("markdown", c.Markdown)
}

type Quote struct {
	Text   string `json:"text"`
	Author string `json:"author,omitempty"`
}

func (*Quote) Type() Type { return TypeQuote }

func (c *Quote) Validate() error { return required("text", c.Text) }

type Code struct {
	Language string `json:"language"`
	Code     string `json:"code"`
}

func (*Code) Type() Type { return TypeCode }

func (c *Code) Validate() error { return required("code", c.Code) }

type Embed struct {
	URL    string `json:"url"`
	Height int    `json:"height,omitempty"`
}

func (*Embed) Type() Type { return TypeEmbed }

func (c *Embed) Validate() error {
	if c.Height < 0 {
		return errors.New("height must not be negative")
	}
	return validURL(c.URL)
}

type Button struct {
	Label string `json:"label"`
	URL   string `json:"url"`
}

func (*Button) Type() Type { return TypeButton }

func (c *Button) Validate() error {
	if err := required("label", c.Label); err != nil {
		return err
	}
	return validURL(c.URL)
}

type AccordionItem struct {
	Title    string `json:"title"`
	Markdown string `json:"markdown"`
}

type Accordion struct {
	Items []AccordionItem `json:"items"`
}

func (*Accordion) Type() Type { return TypeAccordion }

func (c *Accordion) Validate() error {
	if len(c.Items) == 0 {
		return errors.New("at least one item is required")
	}
	for i, it := range c.Items {
		if err := required(fmt.Sprintf("items[%d].title", i), it.Title); err != nil {
			return err
		}
	}
	return nil
}

type Checklist struct {
	Title string   `json:"title,omitempty"`
	Items []Option `json:"items"`
}

func (*Checklist) Type() Type { return TypeChecklist }

func (c *Checklist) Validate() error { return validOptions(c.Items, 1) }

// Option is a selectable entry of choice-like blocks.
type Option struct {
	ID        string `json:"id"`
	Text      string `json:"text"`
	IsCorrect bool   `json:"is_correct,omitempty"`
}

type SingleChoice struct {
	Question    string   `json:"question"`
	Options     []Option `json:"options"`
	Explanation string   `json:"explanation,omitempty"`
}

func (*SingleChoice) Type() Type { return TypeSingleChoice }

func (c *SingleChoice) Validate() error {
	if err := required("question", c.Question); err != nil {
		return err
	}
	if err := validOptions(c.Options, 2); err != nil {
		return err
	}
	if n := len(correctIDs(c.Options)); n != 1 {
		return fmt.Errorf("exactly one correct option is required, got %d", n)
	}
	return nil
}

type MultipleChoice struct {
	Question    string   `json:"question"`
	Options     []Option `json:"options"`
	Explanation string   `json:"explanation,omitempty"`
}

func (*MultipleChoice) Type() Type { return TypeMultipleChoice }

func (c *MultipleChoice) Validate() error {
	if err := required("question", c.Question); err != nil {
		return err
	}
	if err := validOptions(c.Options, 2); err != nil {
		return err
	}
	if len(correctIDs(c.Options)) == 0 {
		return errors.New("at least one correct option is required")
	}
	return nil
}

type SequenceItem struct {
	ID           string `json:"id"`
	Text         string `json:"text"`
	CorrectOrder int    `json:"correctOrder"`
}

type Sequencing struct {
	Instruction string         `json:"instruction"`
	Items       []SequenceItem `json:"items"`
}

func (*Sequencing) Type() Type { return TypeSequencing }

func (c *Sequencing) Validate() error {
	if len(c.Items) < 2 {
		return errors.New("at least two items are required")
	}
	ids := map[string]struct{}{}
	ranks := make([]bool, len(c.Items)+1)
	for _, it := range c.Items {
		if it.ID == "" {
			return errors.New("item id is required")
		}
		if _, dup := ids[it.ID]; dup {
			return fmt.Errorf("duplicate item id %q", it.ID)
		}
		ids[it.ID] = struct{}{}
		if it.CorrectOrder < 1 || it.CorrectOrder > len(c.Items) || ranks[it.CorrectOrder] {
			return fmt.Errorf("correctOrder of %q must be a unique rank between 1 and %d", it.ID, len(c.Items))
		}
		ranks[it.CorrectOrder] = true
	}
	return nil
}

type MatchItem struct {
	ID      string `json:"id"`
	Text    string `json:"text"`
	RightID string `json:"rightId,omitempty"`
}

type Matching struct {
	Instruction string      `json:"instruction"`
	Left        []MatchItem `json:"left"`
	Right       []MatchItem `json:"right"`
}

func (*Matching) Type() Type { return TypeMatching }

func (c *Matching) Validate() error {
	if len(c.Left) == 0 {
		return errors.New("at least one pair is required")
	}
	right := map[string]struct{}{}
	for _, r := range c.Right {
		if r.ID == "" {
			return errors.New("right item id is required")
		}
		if _, dup := right[r.ID]; dup {
			return fmt.Errorf("duplicate right item id %q", r.ID)
		}
		right[r.ID] = struct{}{}
	}
	left := map[string]struct{}{}
	for _, l := range c.Left {
		if l.ID == "" {
			return errors.New("left item id is required")
		}
		if _, dup := left[l.ID]; dup {
			return fmt.Errorf("duplicate left item id %q", l.ID)
		}
		left[l.ID] = struct{}{}
		if _, ok := right[l.RightID]; !ok {
			return fmt.Errorf("left item %q points to unknown right item %q", l.ID, l.RightID)
		}
	}
	return nil
}

type BlankSpec struct {
	ID       string   `json:"id"`
	Answer   string   `json:"answer"`
	Accepted []string `json:"accepted,omitempty"`
}

type FillBlank struct {
	Text          string      `json:"text"`
	Blanks        []BlankSpec `json:"blanks"`
	CaseSensitive bool        `json:"case_sensitive,omitempty"`
}

func (*FillBlank) Type() Type { return TypeFillBlank }

func (c *FillBlank) Validate() error {
	if err := required("text", c.Text); err != nil {
		return err
	}
	if len(c.Blanks) == 0 {
		return errors.New("at least one blank is required")
	}
	seen := map[string]struct{}{}
	for _, b := range c.Blanks {
		if b.ID == "" {
			return errors.New("blank id is required")
		}
		if _, dup := seen[b.ID]; dup {
			return fmt.Errorf("duplicate blank id %q", b.ID)
		}
		seen[b.ID] = struct{}{}
		if err := required(fmt.Sprintf("blank %s answer", b.ID), b.Answer); err != nil {
			return err
		}
	}
	return nil
}

type HotspotRegion struct {
	ID     string  `json:"id"`
	X      float64 `json:"x"`
	Y      float64 `json:"y"`
	Radius float64 `json:"radius"`
	Label  string  `json:"label,omitempty"`
}

type Hotspot struct {
	ImagePath     string          `json:"image_path"`
	Question      string          `json:"question"`
	Regions       []HotspotRegion `json:"regions"`
	Tolerance     float64         `json:"tolerance,omitempty"`
	AllowMultiple bool            `json:"allow_multiple,omitempty"`
}

func (*Hotspot) Type() Type { return TypeHotspot }

func (c *Hotspot) Validate() error {
	if err := required("image_path", c.ImagePath); err != nil {
		return err
	}
	if len(c.Regions) == 0 {
		return errors.New("at least one region is required")
	}
	if c.Tolerance < 0 {
		return errors.New("tolerance must not be negative")
	}
	for _, r := range c.Regions {
		if r.Radius <= 0 {
			return fmt.Errorf("region %q radius must be positive", r.ID)
		}
	}
	return nil
}

func (c *Hotspot) AssetPaths() []string { return []string{c.ImagePath} }

type UploadPrompt struct {
	Prompt       string   `json:"prompt"`
	AllowedTypes []string `json:"allowed_types,omitempty"`
	MaxFiles     int      `json:"max_files"`
	MaxSizeMB    int      `json:"max_size_mb,omitempty"`
}

func (*UploadPrompt) Type() Type { return TypeUploadPrompt }

func (c *UploadPrompt) Validate() error {
	if err := required("prompt", c.Prompt); err != nil {
		return err
	}
	if c.MaxFiles == 0 {
		c.MaxFiles = 1
	}
	if c.MaxFiles < 0 || c.MaxSizeMB < 0 {
		return errors.New("limits must not be negative")
	}
	return nil
}

type SurveyQuestion struct {
	ID      string   `json:"id"`
	Text    string   `json:"text"`
	Kind    string   `json:"kind"`
	Options []Option `json:"options,omitempty"`
}

type Survey struct {
	Title     string           `json:"title"`
	Questions []SurveyQuestion `json:"questions"`
}

func (*Survey) Type() Type { return TypeSurvey }

func (c *Survey) Validate() error {
	if len(c.Questions) == 0 {
		return errors.New("at least one question is required")
	}
	seen := map[string]struct{}{}
	for _, q := range c.Questions {
		if q.ID == "" {
			return errors.New("question id is required")
		}
		if _, dup := seen[q.ID]; dup {
			return fmt.Errorf("duplicate question id %q", q.ID)
		}
		seen[q.ID] = struct{}{}
		switch q.Kind {
		case "text", "scale":
		case "choice":
			if err := validOptions(q.Options, 2); err != nil {
				return fmt.Errorf("question %s: %w", q.ID, err)
			}
		default:
			return fmt.Errorf("question %s: unknown kind %q", q.ID, q.Kind)
		}
	}
	return nil
}

type DiagnosticTable struct {
	Title   string     `json:"title"`
	Columns []string   `json:"columns"`
	Rows    [][]string `json:"rows"`
}

func (*DiagnosticTable) Type() Type { return TypeDiagnosticTable }

func (c *DiagnosticTable) Validate() error {
	if len(c.Columns) == 0 {
		return errors.New("at least one column is required")
	}
	if len(c.Rows) == 0 {
		return errors.New("at least one row is required")
	}
	for i, row := range c.Rows {
		if len(row) != len(c.Columns) {
			return fmt.Errorf("row %d has %d cells, want %d", i, len(row), len(c.Columns))
		}
	}
	return nil
}

type Reflection struct {
	Prompt   string `json:"prompt"`
	MinWords int    `json:"min_words,omitempty"`
}

func (*Reflection) Type() Type { return TypeReflection }

func (c *Reflection) Validate() error {
	if c.MinWords < 0 {
		return errors.New("min_words must not be negative")
	}
	return required("prompt", c.Prompt)
}

func required(field, v string) error {
	if strings.TrimSpace(v) == "" {
		return fmt.Errorf("%s is required", field)
	}
	return nil
}

func validURL(raw string) error {
	u, err := url.Parse(raw)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return fmt.Errorf("url %q must be absolute http(s)", raw)
	}
	return nil
}

func validOptions(opts []Option, minCount int) error {
	if len(opts) < minCount {
		return fmt.Errorf("at least %d options are required", minCount)
	}
	seen := map[string]struct{}{}
	for _, o := range opts {
		if o.ID == "" {
			return errors.New("option id is required")
		}
		if _, dup := seen[o.ID]; dup {
			return fmt.Errorf("duplicate option id %q", o.ID)
		}
		seen[o.ID] = struct{}{}
		if err := required("option text", o.Text); err != nil {
			return err
		}
	}
	return nil
}

func correctIDs(opts []Option) []string {
	var out []string
	for _, o := range opts {
		if o.IsCorrect {
			out = append(out, o.ID)
		}
	}
	return out
}
