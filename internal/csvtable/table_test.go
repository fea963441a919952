package csvtable

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/starford/surveybox/internal/apperr"
)

func TestComputeRows_DefaultsToKeysAndEmptyValues(t *testing.T) {
	order := []string{"q1", "q2", "q3"}
	groups := map[string]string{"q1": "Demographics"}
	questions := map[string]string{"q2": "How are you?"}
	values := map[string]string{"q1": "yes", "q3": "maybe", "ignored": "x"}

	g, q, d := ComputeRows(order, groups, questions, values)

	assert.Equal(t, []string{"Demographics", "q2", "q3"}, g)
	assert.Equal(t, []string{"q1", "How are you?", "q3"}, q)
	assert.Equal(t, []string{"yes", "", "maybe"}, d)
}

func TestComputeRows_FixedWidth(t *testing.T) {
	orders := [][]string{nil, {"a"}, {"a", "b", "c", "d", "e"}}
	for _, order := range orders {
		g, q, d := ComputeRows(order, nil, nil, nil)
		assert.Len(t, g, len(order))
		assert.Len(t, q, len(order))
		assert.Len(t, d, len(order))
		for i, field := range order {
			assert.Equal(t, field, g[i])
			assert.Equal(t, field, q[i])
			assert.Empty(t, d[i])
		}
	}
}

func TestEncode_QuotesOnDemand(t *testing.T) {
	tbl := New([]string{"g1", "g2"}, []string{"q1", "q2"})
	tbl.Append([]string{`say "hi"`, "a,b"})
	tbl.Append([]string{"line1\nline2", "plain"})

	out, err := tbl.Encode()
	require.NoError(t, err)

	want := "g1,g2\nq1,q2\n\"say \"\"hi\"\"\",\"a,b\"\n\"line1\nline2\",plain\n"
	assert.Equal(t, want, string(out))
	assert.Equal(t, 4, tbl.Len())
}

func TestDecode_RoundTripsVariableWidths(t *testing.T) {
	in := "g1,g2\nq1,q2\nyes,no\nonly-one\n"
	rows, err := Decode([]byte(in))
	require.NoError(t, err)
	require.Len(t, rows, 4)
	assert.Equal(t, []string{"only-one"}, rows[3])
}

func TestDecode_StripsBOM(t *testing.T) {
	rows, err := Decode(append([]byte{0xEF, 0xBB, 0xBF}, []byte("a,b\n")...))
	require.NoError(t, err)
	assert.Equal(t, [][]string{{"a", "b"}}, rows)
}

func TestDecode_Malformed(t *testing.T) {
	_, err := Decode([]byte("a,\"unterminated\nb"))
	require.Error(t, err)
	assert.ErrorIs(t, err, apperr.ErrParse)
}

func TestDecode_Empty(t *testing.T) {
	rows, err := Decode(nil)
	require.NoError(t, err)
	assert.Empty(t, rows)
}

func TestMerge_ReplacesHeadersKeepsRows(t *testing.T) {
	prev := [][]string{
		{"old-g1", "old-g2"},
		{"old-q1", "old-q2"},
		{"a", "b"},
		{"c"},
	}
	tbl := Merge(prev, []string{"g1", "g2", "g3"}, []string{"q1", "q2", "q3"}, []string{"x", "y", "z"})

	assert.Equal(t, []string{"g1", "g2", "g3"}, tbl.GroupRow)
	assert.Equal(t, []string{"q1", "q2", "q3"}, tbl.QuestionRow)
	assert.Equal(t, [][]string{{"a", "b"}, {"c"}, {"x", "y", "z"}}, tbl.DataRows)
}

func TestMerge_EmptyStartsFresh(t *testing.T) {
	tbl := Merge(nil, []string{"g"}, []string{"q"}, []string{"v"})
	assert.Equal(t, [][]string{{"v"}}, tbl.DataRows)

	// a lone header row carries no data
	tbl = Merge([][]string{{"g"}}, []string{"g"}, []string{"q"}, []string{"v"})
	assert.Equal(t, [][]string{{"v"}}, tbl.DataRows)
}

func TestMerge_SequentialAppendsKeepOrder(t *testing.T) {
	var content []byte
	for i := 0; i < 5; i++ {
		prev, err := Decode(content)
		require.NoError(t, err)
		tbl := Merge(prev, []string{"g"}, []string{"q"}, []string{strings.Repeat("r", i+1)})
		content, err = tbl.Encode()
		require.NoError(t, err)
	}
	rows, err := Decode(content)
	require.NoError(t, err)
	require.Len(t, rows, 7)
	for i := 0; i < 5; i++ {
		assert.Equal(t, strings.Repeat("r", i+1), rows[2+i][0])
	}
}

func TestParseResponseDate_Layouts(t *testing.T) {
	loc := time.UTC
	cases := map[string]string{
		"03/05/2024":           "03-05-2024",
		"3/5/2024":             "03-05-2024",
		"2024-03-05":           "03-05-2024",
		"03-05-2024":           "03-05-2024",
		"2024-03-05 13:04:05":  "03-05-2024",
		"2024-03-05T23:00:00Z": "03-05-2024",
	}
	for in, want := range cases {
		got, err := ParseResponseDate(in, loc)
		require.NoError(t, err, in)
		assert.Equal(t, want, FormatFileDate(got), in)
	}
}

func TestParseResponseDate_Invalid(t *testing.T) {
	for _, in := range []string{"", "   ", "yesterday", "13/45/2024"} {
		_, err := ParseResponseDate(in, time.UTC)
		assert.ErrorIs(t, err, apperr.ErrParse, in)
	}
}

func TestParseFileDate(t *testing.T) {
	d, err := ParseFileDate("03-06-2024")
	require.NoError(t, err)
	assert.Equal(t, time.Date(2024, 3, 6, 0, 0, 0, 0, time.UTC), d)

	_, err = ParseFileDate("2024-03-06")
	assert.ErrorIs(t, err, apperr.ErrParse)
}

func TestDayOf_IgnoresClockAndZone(t *testing.T) {
	ny := time.FixedZone("EST", -5*3600)
	a := time.Date(2024, 3, 5, 23, 30, 0, 0, ny)
	b := time.Date(2024, 3, 5, 1, 0, 0, 0, time.UTC)
	assert.True(t, DayOf(a).Equal(DayOf(b)))
}
