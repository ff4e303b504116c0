// Package pdf checks uploaded PDFs and extracts their images with pdfcpu.
package pdf

import (
	"context"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/pdfcpu/pdfcpu/pkg/api"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu/model"
	"github.com/pkg/errors"

	"github.com/trezcool/kitabu/core/library"
)

var imageExts = map[string]bool{".png": true, ".jpg": true, ".jpeg": true}

func init() {
	// no config file in the user's config dir
	model.ConfigPath = "disable"
}

type Inspector struct {
	conf *model.Configuration
}

var _ library.Inspector = (*Inspector)(nil)

func NewInspector() *Inspector {
	return &Inspector{conf: model.NewDefaultConfiguration()}
}

// Validate fails for files that are not readable PDFs (encrypted ones included).
func (i *Inspector) Validate(path string) error {
	return errors.Wrap(api.ValidateFile(path, i.conf), "validating PDF")
}

// ExtractImages writes the images of every page into outDir and returns their file names.
func (i *Inspector) ExtractImages(ctx context.Context, path, outDir string) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := api.ExtractImagesFile(path, outDir, nil, i.conf); err != nil {
		return nil, errors.Wrap(err, "extracting images")
	}

	entries, err := os.ReadDir(outDir)
	if err != nil {
		return nil, errors.Wrap(err, "listing extracted images")
	}
	var names []string
	for _, e := range entries {
		if !e.IsDir() && imageExts[strings.ToLower(filepath.Ext(e.Name()))] {
			names = append(names, e.Name())
		}
	}
	sort.Strings(names)
	return names, nil
}
