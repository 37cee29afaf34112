package search

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Adithya-Monish-Kumar-K/searchcore/internal/index"
	apperrors "github.com/Adithya-Monish-Kumar-K/searchcore/pkg/errors"
)

func TestParse(t *testing.T) {
	tests := []struct {
		input string
		want  string
	}{
		{"Foo", "decl,ref:Foo"},
		{"ref:Foo", "ref:Foo"},
		{"~ref:foo", "~ref:foo"},
		{"type,ref:Foo", "type,ref:Foo"},
		{"ref:Fo*", "ref:Fo*"},
		{"ref:F?o*", "ref:F?o*"},
		{"ref:/^F.o$/", "ref:/^F.o$/"},
		{`ref:"a b"`, `ref:"a b"`},
		{"decl:Foo ref:Bar", "(decl:Foo AND ref:Bar)"},
		{"decl:Foo and ref:Bar", "(decl:Foo AND ref:Bar)"},
		{"decl:Foo OR ref:Bar", "(decl:Foo OR ref:Bar)"},
		{"a:x b:y OR c:z", "((a:x AND b:y) OR c:z)"},
		{"a:x (b:y OR c:z)", "(a:x AND (b:y OR c:z))"},
		{"((a:x))", "a:x"},
		{"  a:oracle  ", "a:oracle"},
	}
	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			q, err := Parse(tt.input, "decl", "ref")
			require.NoError(t, err)
			assert.Equal(t, tt.want, q.String())

			again, err := Parse(q.String(), "decl", "ref")
			require.NoError(t, err)
			assert.Equal(t, q.String(), again.String(), "String output parses back")
		})
	}
}

func TestParse_Rules(t *testing.T) {
	tests := []struct {
		input string
		key   string
		rule  index.MatchRule
	}{
		{"c:Foo", "Foo", index.Exact | index.CaseSensitive},
		{"~c:Foo", "Foo", index.Exact},
		{"c:Foo*", "Foo", index.Prefix | index.CaseSensitive},
		{"c:*Foo", "*Foo", index.Pattern | index.CaseSensitive},
		{"c:F*o*", "F*o*", index.Pattern | index.CaseSensitive},
		{"c:*", "*", index.Pattern | index.CaseSensitive},
		{"~c:/fo+/", "fo+", index.Regexp},
		{`c:/a\/b/`, "a/b", index.Regexp | index.CaseSensitive},
		{`c:"x*y"`, "x*y", index.Exact | index.CaseSensitive},
	}
	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			q, err := Parse(tt.input)
			require.NoError(t, err)
			kq, ok := q.(*KeyQuery)
			require.True(t, ok)
			assert.Equal(t, tt.key, kq.Key)
			assert.Equal(t, tt.rule, kq.Rule)
			assert.Equal(t, []string{"c"}, kq.Categories)
		})
	}
}

func TestParse_NoDefaultCategoriesIsNotIndexable(t *testing.T) {
	q, err := Parse("Foo")
	require.NoError(t, err)
	_, ok := q.IndexCategories()
	assert.False(t, ok)
}

func TestParse_Errors(t *testing.T) {
	for _, input := range []string{
		"",
		"   ",
		"NOT a:x",
		"a:x AND",
		"OR a:x",
		"(a:x",
		"a:x)",
		"a:",
		",b:x",
		`a:"open`,
		"a:/open",
		"a:/[/",
		"~",
	} {
		t.Run(input, func(t *testing.T) {
			_, err := Parse(input, "c")
			assert.ErrorIs(t, err, apperrors.ErrInvalidQuery)
		})
	}
}
