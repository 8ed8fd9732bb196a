package blocks

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func Test_Types_AllRegistered(t *testing.T) {
	t.Parallel()

	types := Types()
	assert.Len(t, types, 24)
	for _, tp := range types {
		c := registry[tp]()
		assert.Equal(t, tp, c.Type(), "registry entry %s builds the wrong variant", tp)
	}
}

func Test_Decode(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		give    Type
		raw     string
		wantErr error
	}{
		{name: "heading", give: TypeHeading, raw: `{"text":"Intro","level":1}`},
		{name: "heading default level", give: TypeHeading, raw: `{"text":"Intro"}`},
		{name: "heading bad level", give: TypeHeading, raw: `{"text":"Intro","level":7}`, wantErr: ErrInvalidContent},
		{name: "divider empty body", give: TypeDivider, raw: ``},
		{name: "unknown type", give: Type("carousel"), raw: `{}`, wantErr: ErrUnknownBlockType},
		{name: "unknown field", give: TypeText, raw: `{"markdown":"x","colour":"red"}`, wantErr: ErrInvalidContent},
		{name: "trailing data", give: TypeText, raw: `{"markdown":"x"}{}`, wantErr: ErrInvalidContent},
		{name: "missing text", give: TypeText, raw: `{"markdown":"  "}`, wantErr: ErrInvalidContent},
		{name: "embed needs absolute url", give: TypeEmbed, raw: `{"url":"/relative"}`, wantErr: ErrInvalidContent},
		{name: "video by url", give: TypeVideo, raw: `{"url":"https://cdn.example.com/v.mp4"}`},
		{name: "video needs source", give: TypeVideo, raw: `{"caption":"x"}`, wantErr: ErrInvalidContent},
		{
			name: "single choice",
			give: TypeSingleChoice,
			raw:  `{"question":"2+2?","options":[{"id":"a","text":"4","is_correct":true},{"id":"b","text":"5"}]}`,
		},
		{
			name:    "single choice with two correct",
			give:    TypeSingleChoice,
			raw:     `{"question":"2+2?","options":[{"id":"a","text":"4","is_correct":true},{"id":"b","text":"four","is_correct":true}]}`,
			wantErr: ErrInvalidContent,
		},
		{
			name:    "multiple choice duplicate ids",
			give:    TypeMultipleChoice,
			raw:     `{"question":"q","options":[{"id":"a","text":"x","is_correct":true},{"id":"a","text":"y"}]}`,
			wantErr: ErrInvalidContent,
		},
		{
			name:    "sequencing ranks not a permutation",
			give:    TypeSequencing,
			raw:     `{"items":[{"id":"a","text":"A","correctOrder":1},{"id":"b","text":"B","correctOrder":1}]}`,
			wantErr: ErrInvalidContent,
		},
		{
			name:    "matching unknown right id",
			give:    TypeMatching,
			raw:     `{"left":[{"id":"l1","text":"L","rightId":"r9"}],"right":[{"id":"r1","text":"R"}]}`,
			wantErr: ErrInvalidContent,
		},
		{
			name:    "hotspot zero radius",
			give:    TypeHotspot,
			raw:     `{"image_path":"lessons/l1/map.png","question":"q","regions":[{"id":"r","x":1,"y":1,"radius":0}]}`,
			wantErr: ErrInvalidContent,
		},
		{
			name:    "diagnostic table ragged row",
			give:    TypeDiagnosticTable,
			raw:     `{"title":"t","columns":["a","b"],"rows":[["1"]]}`,
			wantErr: ErrInvalidContent,
		},
		{
			name:    "survey unknown question kind",
			give:    TypeSurvey,
			raw:     `{"title":"t","questions":[{"id":"q1","text":"?","kind":"slider"}]}`,
			wantErr: ErrInvalidContent,
		},
		{name: "upload prompt", give: TypeUploadPrompt, raw: `{"prompt":"Upload your homework"}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			c, err := Decode(tt.give, json.RawMessage(tt.raw))
			if tt.wantErr != nil {
				require.ErrorIs(t, err, tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.give, c.Type())
		})
	}
}

func Test_Decode_AppliesDefaults(t *testing.T) {
	t.Parallel()

	c, err := Decode(TypeUploadPrompt, json.RawMessage(`{"prompt":"p"}`))
	require.NoError(t, err)
	assert.Equal(t, 1, c.(*UploadPrompt).MaxFiles)

	c, err = Decode(TypeCallout, json.RawMessage(`{"markdown":"m"}`))
	require.NoError(t, err)
	assert.Equal(t, "info", c.(*Callout).Variant)
}

func Test_AssetPaths_And_Released(t *testing.T) {
	t.Parallel()

	before, err := Decode(TypeImage, json.RawMessage(`{"path":"lessons/l1/old.png","alt":"a"}`))
	require.NoError(t, err)
	after, err := Decode(TypeImage, json.RawMessage(`{"path":"lessons/l1/new.png","alt":"a"}`))
	require.NoError(t, err)
	text, err := Decode(TypeText, json.RawMessage(`{"markdown":"m"}`))
	require.NoError(t, err)

	assert.Equal(t, []string{"lessons/l1/old.png"}, AssetPaths(before))
	assert.Empty(t, AssetPaths(text))
	assert.Equal(t, []string{"lessons/l1/old.png"}, Released(before, after))
	assert.Empty(t, Released(before, before))
	assert.Equal(t, []string{"lessons/l1/old.png"}, Released(before, text))
	assert.Empty(t, Released(nil, after))

	video, err := Decode(TypeVideo, json.RawMessage(`{"url":"https://cdn.example.com/v.mp4"}`))
	require.NoError(t, err)
	assert.Empty(t, AssetPaths(video), "empty paths are dropped")
}

func Test_Grade(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name       string
		blockType  Type
		content    string
		answer     string
		wantPassed bool
		wantScore  int
	}{
		{
			name:       "multiple choice",
			blockType:  TypeMultipleChoice,
			content:    `{"question":"q","options":[{"id":"a","text":"A","is_correct":true},{"id":"b","text":"B"},{"id":"c","text":"C","is_correct":true}]}`,
			answer:     `{"selected":["c","a"]}`,
			wantPassed: true,
			wantScore:  2,
		},
		{
			name:       "sequencing reversed",
			blockType:  TypeSequencing,
			content:    `{"items":[{"id":"a","text":"A","correctOrder":1},{"id":"b","text":"B","correctOrder":2}]}`,
			answer:     `{"order":["b","a"]}`,
			wantPassed: false,
			wantScore:  0,
		},
		{
			name:       "matching",
			blockType:  TypeMatching,
			content:    `{"left":[{"id":"l1","text":"L1","rightId":"r2"},{"id":"l2","text":"L2","rightId":"r1"}],"right":[{"id":"r1","text":"R1"},{"id":"r2","text":"R2"}]}`,
			answer:     `{"right":["r2","r1"]}`,
			wantPassed: true,
			wantScore:  2,
		},
		{
			name:       "fill blank with variant",
			blockType:  TypeFillBlank,
			content:    `{"text":"Capital of France is ___","blanks":[{"id":"b1","answer":"Paris","accepted":["paris city"]}]}`,
			answer:     `{"answers":{"b1":"PARIS CITY"}}`,
			wantPassed: true,
			wantScore:  1,
		},
		{
			name:       "hotspot on boundary",
			blockType:  TypeHotspot,
			content:    `{"image_path":"lessons/l1/map.png","question":"q","tolerance":2,"regions":[{"id":"r","x":0,"y":0,"radius":3}]}`,
			answer:     `{"clicks":[{"x":4,"y":3}]}`,
			wantPassed: true,
			wantScore:  1,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			c, err := Decode(tt.blockType, json.RawMessage(tt.content))
			require.NoError(t, err)
			res, err := Grade(c, json.RawMessage(tt.answer))
			require.NoError(t, err)
			assert.Equal(t, tt.wantPassed, res.Passed)
			assert.Equal(t, tt.wantScore, res.Correct)
		})
	}
}

func Test_Grade_Errors(t *testing.T) {
	t.Parallel()

	text, err := Decode(TypeText, json.RawMessage(`{"markdown":"m"}`))
	require.NoError(t, err)
	_, err = Grade(text, json.RawMessage(`{}`))
	require.ErrorIs(t, err, ErrNotGradeable)

	choice, err := Decode(TypeSingleChoice, json.RawMessage(`{"question":"q","options":[{"id":"a","text":"A","is_correct":true},{"id":"b","text":"B"}]}`))
	require.NoError(t, err)
	_, err = Grade(choice, json.RawMessage(`{"picked":["a"]}`))
	require.ErrorIs(t, err, ErrInvalidContent)
}
