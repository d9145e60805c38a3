package utils

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNormalizeText(t *testing.T) {
	assert.Equal(t, "line one\nline two", NormalizeText("line one\r\nline two"))
	assert.Equal(t, "a b", NormalizeText("a \t  b"))
	assert.Equal(t, "para one\n\npara two", NormalizeText("para one\n\n\n\n\npara two"))
	assert.Equal(t, "soft", NormalizeText("so\u00adft"))
	assert.Equal(t, "word", NormalizeText("wo\u200brd\ufeff"))
	assert.Equal(t, "trimmed", NormalizeText("  \n trimmed \n  "))
	assert.Equal(t, "", NormalizeText("   \n\n  "))
}

func TestNormalizeTitle(t *testing.T) {
	assert.Equal(t, "the hard talk", NormalizeTitle("Chapter 3: The Hard Talk"))
	assert.Equal(t, "getting started", NormalizeTitle("Part 1 - Getting Started"))
	assert.Equal(t, "overview", NormalizeTitle("1.2. Overview"))
	assert.Equal(t, "index", NormalizeTitle("• Index"))
	assert.Equal(t, "table of contents", NormalizeTitle("  TABLE   OF   CONTENTS  "))
}

func TestCollapseWhitespace(t *testing.T) {
	assert.Equal(t, "a b c", CollapseWhitespace("  a \n b\t\tc "))
	assert.Equal(t, "", CollapseWhitespace("   "))
}

func TestTruncateRunes(t *testing.T) {
	assert.Equal(t, "héllo", TruncateRunes("héllo", 10))
	assert.Equal(t, "hél", TruncateRunes("héllo", 3))
	assert.Equal(t, "héllo", TruncateRunes("héllo", 0), "non-positive limit disables truncation")
}
