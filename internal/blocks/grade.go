package blocks

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/madcarpet/lessonadmin/internal/grading"
)

// Gradeable is implemented by quiz-like variants.
type Gradeable interface {
	Content
	Grade(answer json.RawMessage) (grading.Result, error)
}

type ChoiceAnswer struct {
	Selected []string `json:"selected"`
}

type SequenceAnswer struct {
	Order []string `json:"order"`
}

type MatchingAnswer struct {
	Right []string `json:"right"`
}

type FillBlankAnswer struct {
	Answers map[string]string `json:"answers"`
}

type HotspotAnswer struct {
	Clicks []grading.Point `json:"clicks"`
}

// Grade decodes an answer for the given content and scores it.
func Grade(c Content, answer json.RawMessage) (grading.Result, error) {
	g, ok := c.(Gradeable)
	if !ok {
		return grading.Result{}, fmt.Errorf("%w: %s", ErrNotGradeable, c.Type())
	}
	return g.Grade(answer)
}

func decodeAnswer(raw json.RawMessage, v any) error {
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return fmt.Errorf("%w: answer: %v", ErrInvalidContent, err)
	}
	return nil
}

func (c *SingleChoice) Grade(answer json.RawMessage) (grading.Result, error) {
	var a ChoiceAnswer
	if err := decodeAnswer(answer, &a); err != nil {
		return grading.Result{}, err
	}
	return grading.Choice(a.Selected, correctIDs(c.Options)), nil
}

func (c *MultipleChoice) Grade(answer json.RawMessage) (grading.Result, error) {
	var a ChoiceAnswer
	if err := decodeAnswer(answer, &a); err != nil {
		return grading.Result{}, err
	}
	return grading.Choice(a.Selected, correctIDs(c.Options)), nil
}

func (c *Sequencing) Grade(answer json.RawMessage) (grading.Result, error) {
	var a SequenceAnswer
	if err := decodeAnswer(answer, &a); err != nil {
		return grading.Result{}, err
	}
	items := make([]grading.SequenceItem, len(c.Items))
	for i, it := range c.Items {
		items[i] = grading.SequenceItem{ID: it.ID, CorrectOrder: it.CorrectOrder}
	}
	return grading.Sequencing(items, a.Order), nil
}

func (c *Matching) Grade(answer json.RawMessage) (grading.Result, error) {
	var a MatchingAnswer
	if err := decodeAnswer(answer, &a); err != nil {
		return grading.Result{}, err
	}
	pairs := make([]grading.MatchPair, len(c.Left))
	for i, l := range c.Left {
		pairs[i] = grading.MatchPair{LeftID: l.ID, RightID: l.RightID}
	}
	return grading.Matching(pairs, a.Right), nil
}

func (c *FillBlank) Grade(answer json.RawMessage) (grading.Result, error) {
	var a FillBlankAnswer
	if err := decodeAnswer(answer, &a); err != nil {
		return grading.Result{}, err
	}
	blanks := make([]grading.Blank, len(c.Blanks))
	for i, b := range c.Blanks {
		blanks[i] = grading.Blank{ID: b.ID, Answer: b.Answer, Accepted: b.Accepted, CaseSensitive: c.CaseSensitive}
	}
	return grading.FillBlanks(blanks, a.Answers), nil
}

func (c *Hotspot) Grade(answer json.RawMessage) (grading.Result, error) {
	var a HotspotAnswer
	if err := decodeAnswer(answer, &a); err != nil {
		return grading.Result{}, err
	}
	regions := make([]grading.Region, len(c.Regions))
	for i, r := range c.Regions {
		regions[i] = grading.Region{ID: r.ID, X: r.X, Y: r.Y, Radius: r.Radius}
	}
	return grading.Hotspot(regions, a.Clicks, c.Tolerance, c.AllowMultiple), nil
}
