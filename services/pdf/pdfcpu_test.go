package pdf

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInspector_invalidFiles(t *testing.T) {
	dir := t.TempDir()
	notPDF := filepath.Join(dir, "notes.pdf")
	require.NoError(t, os.WriteFile(notPDF, []byte("%PDF-1.7\nnot really a PDF"), 0o644))
	missing := filepath.Join(dir, "missing.pdf")

	insp := NewInspector()
	for _, path := range []string{notPDF, missing} {
		assert.Error(t, insp.Validate(path), path)

		_, err := insp.ExtractImages(context.Background(), path, t.TempDir())
		assert.Error(t, err, path)
	}
}

func TestInspector_ExtractImages_canceled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := NewInspector().ExtractImages(ctx, "book.pdf", t.TempDir())
	assert.Equal(t, context.Canceled, err)
}
