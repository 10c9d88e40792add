package template

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRender(t *testing.T) {
	testCases := []struct {
		name     string
		template string
		data     any
		expected string
	}{
		{
			name:     "simple substitution",
			template: "Hi {{.name}}, how was your visit?",
			data:     map[string]any{"name": "Dana"},
			expected: "Hi Dana, how was your visit?",
		},
		{
			name:     "upper helper",
			template: "{{upper .name}}",
			data:     map[string]any{"name": "dana"},
			expected: "DANA",
		},
		{
			name:     "missing key renders zero value",
			template: "Hi {{.name}}!",
			data:     map[string]any{},
			expected: "Hi <no value>!",
		},
		{
			name:     "surrounding whitespace trimmed",
			template: "  thanks again  ",
			data:     nil,
			expected: "thanks again",
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			rendered, err := Render(tc.template, tc.data)
			require.NoError(t, err)
			assert.Equal(t, tc.expected, rendered)
		})
	}
}

func TestRender_ParseError(t *testing.T) {
	_, err := Render("Hi {{.name", nil)
	require.Error(t, err)
}

func TestRender_NowIsRFC3339(t *testing.T) {
	rendered, err := Render("{{now}}", nil)
	require.NoError(t, err)
	assert.Regexp(t, `^\d{4}-\d{2}-\d{2}T\d{2}:\d{2}:\d{2}Z$`, rendered)
}
