package extract

import (
	"strings"
	"testing"

	"github.com/PuerkitoBio/goquery"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const rowHTML = `<table><tr>
<td><a href="/idea/Acme_Corp/1003001" data-iid="1003001">Acme Corp</a></td>
<td class="col-sm-2">ACME Acme Corp</td>
<td>Mar 4, 2021 <span class="badge">S</span></td>
</tr></table>`

func parse(t *testing.T, html string) *goquery.Document {
	t.Helper()
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	require.NoError(t, err)
	return doc
}

func TestValue_FirstCandidateWins(t *testing.T) {
	doc := parse(t, rowHTML)
	rules := DefaultProfileRules()

	id, ok := rules.Field(doc.Selection, FieldIdeaID)
	require.True(t, ok)
	assert.Equal(t, "1003001", id)

	name, ok := rules.Field(doc.Selection, FieldCompanyName)
	require.True(t, ok)
	assert.Equal(t, "Acme Corp", name)

	date, ok := rules.Field(doc.Selection, FieldPostedDate)
	require.True(t, ok)
	assert.Equal(t, "Mar 4, 2021", date)
}

func TestValue_FallsBackToLaterCandidate(t *testing.T) {
	doc := parse(t, `<div><a href="/idea/Foo/42">Foo</a></div>`)

	id, ok := DefaultProfileRules().Field(doc.Selection, FieldIdeaID)
	require.True(t, ok)
	assert.Equal(t, "42", id)
}

func TestValue_AbsentIsNotAnError(t *testing.T) {
	doc := parse(t, `<div>nothing here</div>`)

	_, ok := DefaultProfileRules().Field(doc.Selection, FieldIdeaID)
	assert.False(t, ok)
}

func TestExists_HTMLContains(t *testing.T) {
	doc := parse(t, rowHTML)
	assert.True(t, DefaultProfileRules().Has(doc.Selection, FieldShortMarker))
	assert.False(t, DefaultProfileRules().Has(doc.Selection, FieldWinnerMarker))
}

func TestNodes_FirstMatchingSelector(t *testing.T) {
	doc := parse(t, `<ul><li>a</li><li>b</li></ul>`)
	cands := []Candidate{{Selector: "table tr"}, {Selector: "li"}}
	assert.Equal(t, 2, Nodes(doc.Selection, cands).Length())
	assert.Equal(t, 0, Nodes(doc.Selection, cands[:1]).Length())
}

func TestMerge_OverridesOnlyNonEmpty(t *testing.T) {
	base := Rules{"a": {{Selector: "x"}}, "b": {{Selector: "y"}}}
	merged := base.Merge(Rules{"a": {{Selector: "z"}}, "b": nil})

	assert.Equal(t, "z", merged["a"][0].Selector)
	assert.Equal(t, "y", merged["b"][0].Selector)
	assert.Equal(t, "x", base["a"][0].Selector)
}
