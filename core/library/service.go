package library

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/kat-co/vala"
	"github.com/pkg/errors"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"

	"github.com/trezcool/kitabu/core"
	"github.com/trezcool/kitabu/core/user"
)

var (
	// errors
	ErrNotFound     = errors.New("PDF not found")
	ErrForbidden    = errors.New("not authorized to access this PDF")
	ErrNotPDF       = errors.New("only PDF files are allowed")
	ErrNotRetryable = errors.New("only failed uploads can be retried")
	ErrFileMissing  = errors.New("the uploaded file no longer exists, please upload it again")
	ErrNoImage      = errors.New("image not found")

	pdfMagic = []byte("%PDF-")

	// orderable PDF fields: {query field: column}
	orderingFields = map[string]string{
		"created_at": "created_at",
		"title":      "title",
		"size":       "size",
	}
)

// ProcessingError is returned when a PDF was stored but could not be turned into an outline.
// The PDF is left in the failed status and can be retried.
type ProcessingError struct {
	PDFID int
	Err   error
}

func (e *ProcessingError) Error() string {
	return fmt.Sprintf("processing PDF %d: %v", e.PDFID, e.Err)
}

func (e *ProcessingError) Unwrap() error { return e.Err }

type (
	Repository interface {
		CreatePDF(ctx context.Context, pdf PDF) (PDF, error)
		GetPDF(ctx context.Context, id int) (PDF, error)
		// ListPDFs lists the PDFs of a user (all users if userID is 0), newest first unless ordered otherwise.
		ListPDFs(ctx context.Context, userID int, ordering ...core.DBOrdering) ([]PDF, error)
		UpdatePDFStatus(ctx context.Context, id int, status, errMsg string, at time.Time) error
		SetPDFAIFile(ctx context.Context, id int, file *core.AIFile, at time.Time) error
		// CompleteProcessing replaces the outline of a PDF, caches its AI file and marks it completed, atomically.
		CompleteProcessing(ctx context.Context, id int, outline Outline, file *core.AIFile, at time.Time) error
		GetChapters(ctx context.Context, pdfID int) ([]Chapter, error)
		DeletePDF(ctx context.Context, id int) error
	}

	// FileStore keeps the uploaded PDFs and their extracted images.
	FileStore interface {
		SavePDF(username, filename string, r io.Reader) (SavedFile, error)
		Exists(path string) bool
		RemovePDF(path string) error
		// ResetImageDir (re)creates an empty image folder and returns its path.
		ResetImageDir(username, folder string) (string, error)
		ListImages(username, folder string) ([]string, error)
		ImagePath(username, folder, filename string) string
		RemoveImages(username, folder string) error
	}

	// Inspector checks PDF files and pulls their images out.
	Inspector interface {
		Validate(path string) error
		ExtractImages(ctx context.Context, path, outDir string) ([]string, error)
	}

	// AI is the part of the generative AI service needed to outline documents.
	AI interface {
		UploadFile(ctx context.Context, path string) (core.AIFile, error)
		DeleteFile(ctx context.Context, name string) error
		ExtractOutline(ctx context.Context, file core.AIFile) (Outline, error)
	}

	SavedFile struct {
		Path   string
		Size   int64
		SHA256 string // hex
	}

	UploadResult struct {
		PDF       PDF
		Chapters  int
		Topics    int
		Subtopics int
	}

	Service struct {
		repo         Repository
		files        FileStore
		inspector    Inspector
		ai           AI
		logger       core.Logger
		expiryMargin time.Duration
		sharedWait   time.Duration // bounds re-uploads shared by concurrent callers
		uploads      singleflight.Group
		now          func() time.Time
	}
)

func NewService(repo Repository, files FileStore, inspector Inspector, ai AI, logger core.Logger, conf *core.Config) *Service {
	core.RequireArgs(
		vala.IsNotNil(repo, "repo"),
		vala.IsNotNil(files, "files"),
		vala.IsNotNil(inspector, "inspector"),
		vala.IsNotNil(ai, "ai"),
		vala.IsNotNil(logger, "logger"),
		vala.IsNotNil(conf, "conf"),
	)
	return &Service{
		repo:         repo,
		files:        files,
		inspector:    inspector,
		ai:           ai,
		logger:       logger,
		expiryMargin: conf.Gemini.FileExpiryMargin,
		sharedWait:   conf.Gemini.GenerationTimeout,
		now:          time.Now,
	}
}

// Upload stores a new PDF for `usr` and outlines it.
// A *ProcessingError is returned when the PDF was stored but the outline could not be extracted.
func (svc *Service) Upload(ctx context.Context, usr user.User, filename string, r io.Reader) (UploadResult, error) {
	filename = filepath.Base(core.CleanString(filename))
	if filename == "." || filename == string(filepath.Separator) || !strings.EqualFold(filepath.Ext(filename), ".pdf") {
		return UploadResult{}, core.NewValidationError(ErrNotPDF, core.FieldError{Field: "file", Error: ErrNotPDF.Error()})
	}

	br := bufio.NewReader(r)
	if head, err := br.Peek(len(pdfMagic)); err != nil || string(head) != string(pdfMagic) {
		return UploadResult{}, core.NewValidationError(ErrNotPDF, core.FieldError{Field: "file", Error: ErrNotPDF.Error()})
	}

	saved, err := svc.files.SavePDF(usr.Username, filename, br)
	if err != nil {
		return UploadResult{}, errors.Wrap(err, "saving PDF")
	}
	if err = svc.inspector.Validate(saved.Path); err != nil {
		svc.cleanupUpload(usr.Username, saved.Path, "")
		svc.logger.Warn("invalid PDF uploaded", err, map[string]interface{}{"path": saved.Path}, usr)
		return UploadResult{}, core.NewValidationError(ErrNotPDF, core.FieldError{Field: "file", Error: ErrNotPDF.Error()})
	}

	now := svc.now().UTC()
	pdf, err := svc.repo.CreatePDF(ctx, PDF{
		UserID:      usr.ID,
		Username:    usr.Username,
		Path:        saved.Path,
		Title:       filepath.Base(saved.Path),
		Size:        saved.Size,
		Status:      StatusPending,
		ImageFolder: imageFolderName(saved),
		CreatedAt:   now,
		UpdatedAt:   now,
	})
	if err != nil {
		svc.cleanupUpload(usr.Username, saved.Path, "")
		return UploadResult{}, errors.Wrap(err, "creating PDF record")
	}

	return svc.process(ctx, pdf, true)
}

// imageFolderName is `<stem>_<8 first hex of the content hash>`.
func imageFolderName(saved SavedFile) string {
	name := filepath.Base(saved.Path)
	stem := strings.TrimSuffix(name, filepath.Ext(name))
	hash := saved.SHA256
	if len(hash) > 8 {
		hash = hash[:8]
	}
	return stem + "_" + hash
}

func (svc *Service) cleanupUpload(username, path, imageFolder string) {
	if path != "" {
		if err := svc.files.RemovePDF(path); err != nil {
			svc.logger.Warn("cleaning up upload", err, map[string]interface{}{"path": path})
		}
	}
	if imageFolder != "" {
		if err := svc.files.RemoveImages(username, imageFolder); err != nil {
			svc.logger.Warn("cleaning up images", err, map[string]interface{}{"folder": imageFolder})
		}
	}
}

// process uploads the PDF to the AI service (extracting its images alongside), stores its outline and completes it.
func (svc *Service) process(ctx context.Context, pdf PDF, extractImages bool) (UploadResult, error) {
	fields := map[string]interface{}{"pdf_id": pdf.ID, "path": pdf.Path}

	var file core.AIFile
	g, gctx := errgroup.WithContext(ctx)
	if extractImages {
		g.Go(func() error {
			dir, err := svc.files.ResetImageDir(pdf.Username, pdf.ImageFolder)
			if err == nil {
				var imgs []string
				imgs, err = svc.inspector.ExtractImages(gctx, pdf.Path, dir)
				fields["images"] = len(imgs)
			}
			if err != nil {
				// notes can be generated without images
				svc.logger.Warn("extracting images", err, fields)
			}
			return nil
		})
	}
	g.Go(func() error {
		var err error
		file, err = svc.ai.UploadFile(gctx, pdf.Path)
		return errors.Wrap(err, "uploading to the AI service")
	})
	err := g.Wait()

	var outline Outline
	if err == nil {
		outline, err = svc.ai.ExtractOutline(ctx, file)
		err = errors.Wrap(err, "extracting outline")
	}
	if err == nil {
		err = errors.Wrap(svc.repo.CompleteProcessing(ctx, pdf.ID, outline, &file, svc.now().UTC()), "storing outline")
	}
	if err != nil {
		svc.logger.Error("processing PDF", err, fields)
		if uErr := svc.repo.UpdatePDFStatus(context.Background(), pdf.ID, StatusFailed, err.Error(), svc.now().UTC()); uErr != nil {
			svc.logger.Error("marking PDF as failed", uErr, fields)
		}
		return UploadResult{}, &ProcessingError{PDFID: pdf.ID, Err: err}
	}

	pdf.Status = StatusCompleted
	pdf.ErrorMessage = ""
	pdf.AIFile = &file
	res := UploadResult{PDF: pdf}
	res.Chapters, res.Topics, res.Subtopics = outline.Counts()
	svc.logger.Info("PDF processed", fields, map[string]interface{}{"chapters": res.Chapters, "topics": res.Topics})
	return res, nil
}

// Retry processes a failed PDF again.
func (svc *Service) Retry(ctx context.Context, usr user.User, id int) (UploadResult, error) {
	pdf, err := svc.Get(ctx, usr, id)
	if err != nil {
		return UploadResult{}, err
	}
	if pdf.Status != StatusFailed {
		return UploadResult{}, core.NewValidationError(ErrNotRetryable)
	}
	if !svc.files.Exists(pdf.Path) {
		return UploadResult{}, core.NewValidationError(ErrFileMissing)
	}

	if err = svc.repo.UpdatePDFStatus(ctx, pdf.ID, StatusPending, "", svc.now().UTC()); err != nil {
		return UploadResult{}, errors.Wrap(err, "resetting PDF status")
	}
	pdf.Status = StatusPending

	imgs, err := svc.files.ListImages(pdf.Username, pdf.ImageFolder)
	return svc.process(ctx, pdf, err != nil || len(imgs) == 0)
}

// Get returns a PDF owned by `usr`.
func (svc *Service) Get(ctx context.Context, usr user.User, id int) (PDF, error) {
	pdf, err := svc.repo.GetPDF(ctx, id)
	if err != nil {
		return PDF{}, err
	}
	if pdf.UserID != usr.ID {
		return PDF{}, ErrForbidden
	}
	return pdf, nil
}

// GetByID returns a PDF regardless of its owner.
func (svc *Service) GetByID(ctx context.Context, id int) (PDF, error) {
	return svc.repo.GetPDF(ctx, id)
}

// List returns the PDFs of `usr`. Orderings on unknown fields are ignored.
func (svc *Service) List(ctx context.Context, usr user.User, ordering ...core.DBOrdering) ([]Summary, error) {
	pdfs, err := svc.repo.ListPDFs(ctx, usr.ID, cleanOrdering(ordering)...)
	if err != nil {
		return nil, errors.Wrap(err, "listing PDFs")
	}
	summaries := make([]Summary, 0, len(pdfs))
	for _, p := range pdfs {
		summaries = append(summaries, p.Summary())
	}
	return summaries, nil
}

func cleanOrdering(ordering []core.DBOrdering) []core.DBOrdering {
	cleaned := make([]core.DBOrdering, 0, len(ordering))
	for _, ord := range ordering {
		if col, ok := orderingFields[ord.Field]; ok {
			cleaned = append(cleaned, core.DBOrdering{Field: col, Ascending: ord.Ascending})
		}
	}
	return cleaned
}

// Structure returns the stored outline of a PDF owned by `usr`.
func (svc *Service) Structure(ctx context.Context, usr user.User, id int) (Structure, error) {
	pdf, err := svc.Get(ctx, usr, id)
	if err != nil {
		return Structure{}, err
	}
	chapters, err := svc.repo.GetChapters(ctx, pdf.ID)
	if err != nil {
		return Structure{}, errors.Wrap(err, "getting chapters")
	}
	if chapters == nil {
		chapters = []Chapter{}
	}
	return Structure{PDF: pdf.Summary(), Chapters: chapters}, nil
}

// Delete removes a PDF owned by `usr` with everything generated from it.
func (svc *Service) Delete(ctx context.Context, usr user.User, id int) error {
	pdf, err := svc.Get(ctx, usr, id)
	if err != nil {
		return err
	}
	if err = svc.repo.DeletePDF(ctx, pdf.ID); err != nil {
		return errors.Wrap(err, "deleting PDF record")
	}

	if pdf.AIFile != nil && pdf.AIFile.Usable(svc.now(), 0) {
		if err = svc.ai.DeleteFile(ctx, pdf.AIFile.Name); err != nil {
			svc.logger.Warn("deleting AI file", err, map[string]interface{}{"pdf_id": pdf.ID, "name": pdf.AIFile.Name})
		}
	}
	svc.cleanupUpload(pdf.Username, pdf.Path, pdf.ImageFolder)
	return nil
}

// ResolveAIFile returns a usable AI file for the PDF, uploading it again once the cached one expired.
func (svc *Service) ResolveAIFile(ctx context.Context, pdf PDF) (core.AIFile, error) {
	if pdf.AIFile.Usable(svc.now(), svc.expiryMargin) {
		return *pdf.AIFile, nil
	}

	v, err, _ := svc.uploads.Do(strconv.Itoa(pdf.ID), func() (interface{}, error) {
		ctx, cancel := core.DetachedContext(ctx, svc.sharedWait)
		defer cancel()

		file, err := svc.ai.UploadFile(ctx, pdf.Path)
		if err != nil {
			return nil, errors.Wrap(err, "uploading to the AI service")
		}
		if err = svc.repo.SetPDFAIFile(ctx, pdf.ID, &file, svc.now().UTC()); err != nil {
			return nil, errors.Wrap(err, "caching AI file")
		}
		return file, nil
	})
	if err != nil {
		return core.AIFile{}, err
	}
	return v.(core.AIFile), nil
}

// Images lists the image files extracted from the PDF.
func (svc *Service) Images(pdf PDF) []string {
	if pdf.ImageFolder == "" {
		return nil
	}
	imgs, err := svc.files.ListImages(pdf.Username, pdf.ImageFolder)
	if err != nil {
		svc.logger.Warn("listing images", err, map[string]interface{}{"pdf_id": pdf.ID})
		return nil
	}
	return imgs
}

// ImagePath returns the path of an image extracted from a PDF owned by `usr`.
func (svc *Service) ImagePath(ctx context.Context, usr user.User, id int, filename string) (string, error) {
	pdf, err := svc.Get(ctx, usr, id)
	if err != nil {
		return "", err
	}
	for _, img := range svc.Images(pdf) {
		if img == filename {
			return svc.files.ImagePath(pdf.Username, pdf.ImageFolder, img), nil
		}
	}
	return "", ErrNoImage
}
