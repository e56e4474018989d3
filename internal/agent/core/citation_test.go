package core

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestApplyCitationsSameURLTwice(t *testing.T) {
	reg := NewCitationRegistry()
	out, used := ApplyCitations("Widgets are old [ref:https://a.example/1]. Really old [ref:https://a.example/1|A].", reg, nil)

	assert.Equal(t, "Widgets are old [1]. Really old [1].", out)
	assert.Equal(t, []int{1, 1}, used)
	assert.Equal(t, 1, reg.Len())
	c, ok := reg.Lookup("https://a.example/1")
	require.True(t, ok)
	assert.Equal(t, 1, c.Number)
	assert.Equal(t, 2, reg.NextNumber())
}

func TestCitationNumbersStayStableAcrossChapters(t *testing.T) {
	reg := NewCitationRegistry()
	ch1, _ := ApplyCitations("[ref:https://u1.example] then [ref:https://u2.example]", reg, nil)
	ch2, _ := ApplyCitations("[ref:https://u3.example] and again [ref:https://u2.example]", reg, nil)

	assert.Equal(t, "[1] then [2]", ch1)
	assert.Equal(t, "[3] and again [2]", ch2)

	nums := make([]int, 0)
	for _, s := range reg.Sources() {
		nums = append(nums, s.Number)
	}
	assert.Equal(t, []int{1, 2, 3}, nums)
}

func TestCitationTitleFallbacks(t *testing.T) {
	reg := NewCitationRegistry()
	titles := map[string]string{"https://known.example/a": "Known Page"}
	ApplyCitations("[ref:https://known.example/a] [ref:https://www.other.example/b] [ref:https://x.example/c|Explicit]", reg, titles)

	src := reg.Sources()
	require.Len(t, src, 3)
	assert.Equal(t, "Known Page", src[0].Title)
	assert.Equal(t, "other.example", src[1].Title)
	assert.Equal(t, "Explicit", src[2].Title)
}

func TestFirstTitleWins(t *testing.T) {
	reg := NewCitationRegistry()
	assert.Equal(t, 1, reg.Assign("https://a.example", "First"))
	assert.Equal(t, 1, reg.Assign("https://a.example", "Second"))
	c, _ := reg.Lookup("https://a.example")
	assert.Equal(t, "First", c.Title)
}

func TestRenderReferences(t *testing.T) {
	assert.Empty(t, RenderReferences(nil))
	out := RenderReferences([]Source{{Number: 1, Title: "A", URL: "https://a"}, {Number: 2, Title: "B", URL: "https://b"}})
	assert.Equal(t, "## References\n\n[1] A. https://a\n[2] B. https://b\n", out)
}

func TestRegistryJSONShape(t *testing.T) {
	reg := NewCitationRegistry()
	reg.Assign("https://a.example", "A")
	b, err := json.Marshal(reg)
	require.NoError(t, err)
	assert.JSONEq(t, `{"citations":{"https://a.example":{"title":"A","number":1}},"next_citation_number":2}`, string(b))
}
