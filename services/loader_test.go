package services

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoaderJSONDocument(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "guide.json")
	content := `{
		"name": "guide",
		"pages": ["page one text", "page two text"],
		"toc": [{"level": 1, "title": "Part One", "start_page": 1}]
	}`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	doc, err := NewDocumentLoader().Load(path)
	require.NoError(t, err)
	assert.Equal(t, "guide", doc.Name)
	assert.Equal(t, 2, doc.PageCount())
	require.Len(t, doc.TOC, 1)
	assert.Equal(t, "Part One", doc.TOC[0].Title)
}

func TestLoaderJSONNameDefaultsToFilename(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "handbook.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"pages": ["text"]}`), 0o644))

	doc, err := NewDocumentLoader().Load(path)
	require.NoError(t, err)
	assert.Equal(t, "handbook", doc.Name)
}

func TestLoaderRejectsUnknownFormats(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "notes.txt")
	require.NoError(t, os.WriteFile(path, []byte("plain text"), 0o644))

	_, err := NewDocumentLoader().Load(path)
	assert.Error(t, err)
}

func TestLoaderRejectsEmptyJSON(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "empty.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"name": "empty"}`), 0o644))

	_, err := NewDocumentLoader().Load(path)
	assert.Error(t, err)
}

func TestLoaderMissingFile(t *testing.T) {
	_, err := NewDocumentLoader().Load(filepath.Join(t.TempDir(), "nope.json"))
	assert.Error(t, err)
}

func TestTextQuality(t *testing.T) {
	good := "This is a normal paragraph of extracted text with regular words and punctuation."
	assert.Greater(t, textQuality(good), 0.5)

	corrupt := "������������"
	assert.Less(t, textQuality(corrupt), 0.3)

	assert.InDelta(t, 0.1, textQuality("hi"), 1e-9)
}
