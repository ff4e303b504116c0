package library_test

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/trezcool/kitabu/core"
	"github.com/trezcool/kitabu/core/library"
	"github.com/trezcool/kitabu/core/user"
	sqlxrepos "github.com/trezcool/kitabu/storage/database/sqlx"
	"github.com/trezcool/kitabu/storage/files"
	"github.com/trezcool/kitabu/testutil"
)

type fakeInspector struct{}

func (fakeInspector) Validate(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	if bytes.Contains(data, []byte("corrupt")) {
		return errors.New("corrupt PDF")
	}
	return nil
}

func (fakeInspector) ExtractImages(_ context.Context, _, outDir string) ([]string, error) {
	names := []string{"p1_img1.png", "p2_img1.jpg"}
	for _, n := range names {
		if err := os.WriteFile(filepath.Join(outDir, n), []byte("img"), 0o644); err != nil {
			return nil, err
		}
	}
	return names, nil
}

type fakeAI struct {
	mu         sync.Mutex
	uploads    int
	deleted    []string
	uploadErr  error
	outlineErr error
	lifetime   time.Duration

	// when set, uploads wait for `release` to be closed after signaling `started`
	started chan struct{}
	release chan struct{}
}

func (ai *fakeAI) UploadFile(ctx context.Context, path string) (core.AIFile, error) {
	if ai.release != nil {
		ai.started <- struct{}{}
		<-ai.release
		if err := ctx.Err(); err != nil {
			return core.AIFile{}, err
		}
	}
	ai.mu.Lock()
	defer ai.mu.Unlock()
	if ai.uploadErr != nil {
		return core.AIFile{}, ai.uploadErr
	}
	ai.uploads++
	name := "files/" + filepath.Base(path)
	return core.AIFile{
		Name:           name,
		URI:            "https://ai.test/" + name,
		MIMEType:       "application/pdf",
		ExpirationTime: time.Now().UTC().Add(ai.lifetime),
	}, nil
}

func (ai *fakeAI) DeleteFile(_ context.Context, name string) error {
	ai.mu.Lock()
	defer ai.mu.Unlock()
	ai.deleted = append(ai.deleted, name)
	return nil
}

func (ai *fakeAI) ExtractOutline(_ context.Context, _ core.AIFile) (library.Outline, error) {
	ai.mu.Lock()
	defer ai.mu.Unlock()
	if ai.outlineErr != nil {
		return library.Outline{}, ai.outlineErr
	}
	return library.ParseOutline([]byte(`[
		{"chapter": "Cells", "topics": [{"topic": "Structure", "sub_topics": ["Membrane", "Nucleus"]}, {"topic": "Division"}]},
		{"chapter": "Genetics", "topics": [{"topic": "DNA"}]}
	]`))
}

func (ai *fakeAI) set(fn func(ai *fakeAI)) {
	ai.mu.Lock()
	fn(ai)
	ai.mu.Unlock()
}

type fixture struct {
	svc   *library.Service
	ai    *fakeAI
	store *files.Store
	users user.Repository
	awe   user.User
	king  user.User
}

func setup(t *testing.T) fixture {
	db := testutil.OpenDB(t)
	store, err := files.NewStore(t.TempDir())
	require.NoError(t, err)
	ai := &fakeAI{lifetime: 48 * time.Hour}
	users := sqlxrepos.NewUserRepository(db)
	svc := library.NewService(sqlxrepos.NewLibraryRepository(db), store, fakeInspector{}, ai, testutil.NewLogger(t), testutil.NewConfig())
	return fixture{
		svc:   svc,
		ai:    ai,
		store: store,
		users: users,
		awe:   testutil.CreateUser(t, users, "awe", "awe@test.cd", "", true),
		king:  testutil.CreateUser(t, users, "king", "king@test.cd", "", true),
	}
}

const pdfContent = "%PDF-1.7\n...\n%%EOF"

func validationErr(t *testing.T, err error, want error) {
	t.Helper()
	var verr *core.ValidationError
	require.True(t, errors.As(err, &verr), "want a validation error, got %v", err)
	assert.Equal(t, want, verr.Err)
}

func TestService_Upload(t *testing.T) {
	f := setup(t)
	ctx := context.Background()

	t.Run("not a PDF name", func(t *testing.T) {
		_, err := f.svc.Upload(ctx, f.awe, "notes.txt", strings.NewReader(pdfContent))
		validationErr(t, err, library.ErrNotPDF)
	})
	t.Run("not PDF content", func(t *testing.T) {
		_, err := f.svc.Upload(ctx, f.awe, "book.pdf", strings.NewReader("PK\x03\x04 zip"))
		validationErr(t, err, library.ErrNotPDF)
	})
	t.Run("corrupt PDF", func(t *testing.T) {
		_, err := f.svc.Upload(ctx, f.awe, "book.pdf", strings.NewReader("%PDF-1.7 corrupt"))
		validationErr(t, err, library.ErrNotPDF)

		// the rejected file was removed: no rename on the next upload
		res, err := f.svc.Upload(ctx, f.awe, "book.pdf", strings.NewReader(pdfContent))
		require.NoError(t, err)
		assert.Equal(t, "book.pdf", res.PDF.Name())
	})

	t.Run("processed", func(t *testing.T) {
		res, err := f.svc.Upload(ctx, f.awe, "Biology Book.PDF", strings.NewReader(pdfContent))
		require.NoError(t, err)
		assert.Equal(t, 2, res.Chapters)
		assert.Equal(t, 3, res.Topics)
		assert.Equal(t, 2, res.Subtopics)
		assert.Equal(t, library.StatusCompleted, res.PDF.Status)
		assert.Equal(t, "Biology Book.PDF", res.PDF.Title)
		assert.True(t, strings.HasPrefix(res.PDF.ImageFolder, "Biology Book_"))
		assert.Len(t, res.PDF.ImageFolder, len("Biology Book_")+8)

		pdf, err := f.svc.Get(ctx, f.awe, res.PDF.ID)
		require.NoError(t, err)
		assert.Equal(t, library.StatusCompleted, pdf.Status)
		require.NotNil(t, pdf.AIFile)
		assert.Equal(t, "files/Biology Book.PDF", pdf.AIFile.Name)
		assert.Equal(t, []string{"p1_img1.png", "p2_img1.jpg"}, f.svc.Images(pdf))

		st, err := f.svc.Structure(ctx, f.awe, pdf.ID)
		require.NoError(t, err)
		require.Len(t, st.Chapters, 2)
		assert.Equal(t, "Cells", st.Chapters[0].Name)
		assert.Equal(t, "Membrane", st.Chapters[0].Topics[0].Subtopics[0].Name)
		assert.Equal(t, pdf.Summary(), st.PDF)
	})
}

func TestService_failedProcessingAndRetry(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	f.ai.set(func(ai *fakeAI) { ai.outlineErr = errors.New("model overloaded") })

	_, err := f.svc.Upload(ctx, f.awe, "book.pdf", strings.NewReader(pdfContent))
	var perr *library.ProcessingError
	require.True(t, errors.As(err, &perr), "want a processing error, got %v", err)

	pdf, err := f.svc.Get(ctx, f.awe, perr.PDFID)
	require.NoError(t, err)
	assert.Equal(t, library.StatusFailed, pdf.Status)
	assert.Contains(t, pdf.ErrorMessage, "model overloaded")

	_, err = f.svc.Retry(ctx, f.king, pdf.ID)
	assert.Equal(t, library.ErrForbidden, err)

	f.ai.set(func(ai *fakeAI) { ai.outlineErr = nil })
	res, err := f.svc.Retry(ctx, f.awe, pdf.ID)
	require.NoError(t, err)
	assert.Equal(t, library.StatusCompleted, res.PDF.Status)
	assert.Equal(t, 2, res.Chapters)

	pdf, err = f.svc.Get(ctx, f.awe, pdf.ID)
	require.NoError(t, err)
	assert.Equal(t, library.StatusCompleted, pdf.Status)
	assert.Empty(t, pdf.ErrorMessage)

	_, err = f.svc.Retry(ctx, f.awe, pdf.ID)
	validationErr(t, err, library.ErrNotRetryable)

	t.Run("file gone", func(t *testing.T) {
		f.ai.set(func(ai *fakeAI) { ai.uploadErr = errors.New("quota exceeded") })
		_, err := f.svc.Upload(ctx, f.awe, "other.pdf", strings.NewReader(pdfContent))
		require.True(t, errors.As(err, &perr))
		failed, err := f.svc.Get(ctx, f.awe, perr.PDFID)
		require.NoError(t, err)
		require.NoError(t, os.Remove(failed.Path))

		_, err = f.svc.Retry(ctx, f.awe, failed.ID)
		validationErr(t, err, library.ErrFileMissing)
	})
}

func TestService_ownership(t *testing.T) {
	f := setup(t)
	ctx := context.Background()

	res, err := f.svc.Upload(ctx, f.awe, "book.pdf", strings.NewReader(pdfContent))
	require.NoError(t, err)

	_, err = f.svc.Get(ctx, f.king, res.PDF.ID)
	assert.Equal(t, library.ErrForbidden, err)
	_, err = f.svc.Structure(ctx, f.king, res.PDF.ID)
	assert.Equal(t, library.ErrForbidden, err)
	assert.Equal(t, library.ErrForbidden, f.svc.Delete(ctx, f.king, res.PDF.ID))
	_, err = f.svc.ImagePath(ctx, f.king, res.PDF.ID, "p1_img1.png")
	assert.Equal(t, library.ErrForbidden, err)
	_, err = f.svc.Get(ctx, f.awe, 9999)
	assert.Equal(t, library.ErrNotFound, err)

	kings, err := f.svc.List(ctx, f.king)
	require.NoError(t, err)
	assert.Empty(t, kings)
}

func TestService_List(t *testing.T) {
	f := setup(t)
	ctx := context.Background()

	var ids []int
	for _, name := range []string{"b.pdf", "a.pdf", "c.pdf"} {
		res, err := f.svc.Upload(ctx, f.awe, name, strings.NewReader(pdfContent))
		require.NoError(t, err)
		ids = append(ids, res.PDF.ID)
	}
	names := func(sums []library.Summary) []string {
		out := make([]string, 0, len(sums))
		for _, s := range sums {
			out = append(out, s.Name)
		}
		return out
	}

	sums, err := f.svc.List(ctx, f.awe)
	require.NoError(t, err)
	assert.Equal(t, []string{"c.pdf", "a.pdf", "b.pdf"}, names(sums), "newest first")
	assert.Equal(t, ids[2], sums[0].ID)

	sums, err = f.svc.List(ctx, f.awe, core.DBOrdering{Field: "title", Ascending: true}, core.DBOrdering{Field: "path; DROP TABLE pdfs"})
	require.NoError(t, err)
	assert.Equal(t, []string{"a.pdf", "b.pdf", "c.pdf"}, names(sums))
}

func TestService_Delete(t *testing.T) {
	f := setup(t)
	ctx := context.Background()

	res, err := f.svc.Upload(ctx, f.awe, "book.pdf", strings.NewReader(pdfContent))
	require.NoError(t, err)
	pdf, err := f.svc.Get(ctx, f.awe, res.PDF.ID)
	require.NoError(t, err)
	imgPath, err := f.svc.ImagePath(ctx, f.awe, pdf.ID, "p1_img1.png")
	require.NoError(t, err)
	assert.FileExists(t, imgPath)

	require.NoError(t, f.svc.Delete(ctx, f.awe, pdf.ID))
	_, err = f.svc.Get(ctx, f.awe, pdf.ID)
	assert.Equal(t, library.ErrNotFound, err)
	assert.False(t, f.store.Exists(pdf.Path))
	assert.NoFileExists(t, imgPath)
	assert.Equal(t, []string{pdf.AIFile.Name}, f.ai.deleted)
}

func TestService_ResolveAIFile(t *testing.T) {
	f := setup(t)
	ctx := context.Background()

	res, err := f.svc.Upload(ctx, f.awe, "book.pdf", strings.NewReader(pdfContent))
	require.NoError(t, err)
	pdf, err := f.svc.Get(ctx, f.awe, res.PDF.ID)
	require.NoError(t, err)
	require.Equal(t, 1, f.ai.uploads)

	file, err := f.svc.ResolveAIFile(ctx, pdf)
	require.NoError(t, err)
	assert.Equal(t, *pdf.AIFile, file)
	assert.Equal(t, 1, f.ai.uploads, "cached file reused")

	// about to expire: uploaded again & cached
	pdf.AIFile.ExpirationTime = time.Now().Add(time.Minute)
	file, err = f.svc.ResolveAIFile(ctx, pdf)
	require.NoError(t, err)
	assert.Equal(t, 2, f.ai.uploads)
	assert.True(t, file.ExpirationTime.After(time.Now().Add(47*time.Hour)))

	stored, err := f.svc.GetByID(ctx, pdf.ID)
	require.NoError(t, err)
	assert.True(t, stored.AIFile.ExpirationTime.Equal(file.ExpirationTime))
}

func TestService_ResolveAIFile_concurrent(t *testing.T) {
	const callers = 5
	f := setup(t)

	res, err := f.svc.Upload(context.Background(), f.awe, "book.pdf", strings.NewReader(pdfContent))
	require.NoError(t, err)
	pdf, err := f.svc.GetByID(context.Background(), res.PDF.ID)
	require.NoError(t, err)
	pdf.AIFile.ExpirationTime = time.Now().Add(-time.Minute)
	f.ai.started = make(chan struct{}, 1)
	f.ai.release = make(chan struct{})

	// the first caller goes away while the file is being uploaded
	firstCtx, cancel := context.WithCancel(context.Background())
	got := make([]core.AIFile, callers)
	errs := make([]error, callers)
	var wg sync.WaitGroup
	call := func(ctx context.Context, i int) {
		defer wg.Done()
		got[i], errs[i] = f.svc.ResolveAIFile(ctx, pdf)
	}

	wg.Add(1)
	go call(firstCtx, 0)
	<-f.ai.started
	for i := 1; i < callers; i++ {
		wg.Add(1)
		go call(context.Background(), i)
	}
	time.Sleep(50 * time.Millisecond) // let the others join the upload in flight
	cancel()
	close(f.ai.release)
	wg.Wait()

	assert.Equal(t, 2, f.ai.uploads, "one upload on creation, one shared refresh")
	for i := 0; i < callers; i++ {
		require.NoError(t, errs[i], "caller %d", i)
		assert.Equal(t, got[0], got[i], "caller %d", i)
	}
	assert.True(t, got[0].ExpirationTime.After(time.Now().Add(47*time.Hour)))
}

func TestService_ImagePath(t *testing.T) {
	f := setup(t)
	ctx := context.Background()

	res, err := f.svc.Upload(ctx, f.awe, "book.pdf", strings.NewReader(pdfContent))
	require.NoError(t, err)

	path, err := f.svc.ImagePath(ctx, f.awe, res.PDF.ID, "p2_img1.jpg")
	require.NoError(t, err)
	assert.Equal(t, f.store.ImagePath("awe", res.PDF.ImageFolder, "p2_img1.jpg"), path)

	for _, name := range []string{"p9.png", "../book.pdf", ""} {
		_, err = f.svc.ImagePath(ctx, f.awe, res.PDF.ID, name)
		assert.Equal(t, library.ErrNoImage, err, name)
	}
}
