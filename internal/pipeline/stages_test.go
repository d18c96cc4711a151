package pipeline

import (
	"testing"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
)

func TestTruncate(t *testing.T) {
	tests := []struct {
		name string
		in   string
		n    int
		want string
	}{
		{"short string unchanged", "hello", 60, "hello"},
		{"cuts at last word boundary", "alpha beta gamma", 12, "alpha beta"},
		{"never splits a multi-byte rune", "日本語のタイトルです", 8, "日本"},
		{"word boundary wins over rune boundary", "東京 グルメガイド", 10, "東京"},
		{"exact fit kept whole", "日本語", 9, "日本語"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := truncate(tt.in, tt.n)
			assert.Equal(t, tt.want, got)
			assert.True(t, utf8.ValidString(got))
			assert.LessOrEqual(t, len(got), tt.n)
		})
	}
}

func TestSlugify(t *testing.T) {
	assert.Equal(t, "kubernetes-cost-optimization", slugify("Kubernetes Cost Optimization!"))
	assert.Equal(t, "a-b-c", slugify("  a/b/c  "))
}
