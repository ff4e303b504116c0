package echoapi_test

import (
	"bytes"
	"context"
	"encoding/json"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/jmoiron/sqlx"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/require"

	echoapi "github.com/trezcool/kitabu/apps/api/echo"
	"github.com/trezcool/kitabu/core"
	"github.com/trezcool/kitabu/core/library"
	"github.com/trezcool/kitabu/core/study"
	"github.com/trezcool/kitabu/core/user"
	emailsvc "github.com/trezcool/kitabu/services/email"
	sqlxrepos "github.com/trezcool/kitabu/storage/database/sqlx"
	"github.com/trezcool/kitabu/storage/files"
	"github.com/trezcool/kitabu/testutil"
)

const pdfContent = "%PDF-1.7\n...\n%%EOF"

var errMissingSession = httpErr{Error: "user not authenticated"}

type fakeInspector struct{}

func (fakeInspector) Validate(string) error { return nil }

func (fakeInspector) ExtractImages(_ context.Context, _, outDir string) ([]string, error) {
	if err := os.WriteFile(filepath.Join(outDir, "p1_img1.png"), []byte("png"), 0o644); err != nil {
		return nil, err
	}
	return []string{"p1_img1.png"}, nil
}

// fakeAI stands in for the generative AI service of both library & study.
type fakeAI struct {
	mu         sync.Mutex
	outlineErr error
	notesErr   error
	quizErr    error
	notesCalls int
}

func (ai *fakeAI) UploadFile(_ context.Context, path string) (core.AIFile, error) {
	name := "files/" + filepath.Base(path)
	return core.AIFile{
		Name:           name,
		URI:            "https://ai.test/" + name,
		MIMEType:       "application/pdf",
		ExpirationTime: time.Now().UTC().Add(48 * time.Hour),
	}, nil
}

func (ai *fakeAI) DeleteFile(context.Context, string) error { return nil }

func (ai *fakeAI) ExtractOutline(context.Context, core.AIFile) (library.Outline, error) {
	ai.mu.Lock()
	defer ai.mu.Unlock()
	if ai.outlineErr != nil {
		return library.Outline{}, ai.outlineErr
	}
	return library.ParseOutline([]byte(`{"chapters": [
		{"chapter": "Cells", "topics": [{"topic": "Structure", "sub_topics": ["Membrane", "Nucleus"]}, {"topic": "Division"}]},
		{"chapter": "Genetics", "topics": [{"topic": "DNA"}]}
	]}`))
}

func (ai *fakeAI) notes(text string) (study.Notes, error) {
	ai.mu.Lock()
	defer ai.mu.Unlock()
	ai.notesCalls++
	if ai.notesErr != nil {
		return study.Notes{}, ai.notesErr
	}
	return study.Notes{
		Notes:  text,
		Images: []library.Image{{Filename: "p1_img1.png", Caption: "A cell"}, {Filename: "made_up.png"}},
	}, nil
}

func (ai *fakeAI) TopicNotes(_ context.Context, _ core.AIFile, chapter, topic string, _ []string) (study.Notes, error) {
	return ai.notes("# " + topic + "\n\nNotes on " + topic + " in " + chapter)
}

func (ai *fakeAI) SubtopicNotes(_ context.Context, _ core.AIFile, _, topic, subtopic string, _ []string) (study.Notes, error) {
	return ai.notes("Notes on " + subtopic + " of " + topic)
}

func (ai *fakeAI) Quiz(context.Context, core.AIFile, string) ([]study.Question, error) {
	ai.mu.Lock()
	defer ai.mu.Unlock()
	if ai.quizErr != nil {
		return nil, ai.quizErr
	}
	return []study.Question{
		{Text: "What surrounds a cell?", Options: []string{"A. Wall", "B. Membrane", "C. Nucleus", "D. Ribosome"}, CorrectAnswer: "B", Explanation: "The membrane."},
		{Text: "Where is DNA kept?", Options: []string{"A. Nucleus", "B. Membrane", "C. Cytoplasm", "D. Vacuole"}, CorrectAnswer: "A"},
	}, nil
}

func (ai *fakeAI) set(fn func(ai *fakeAI)) {
	ai.mu.Lock()
	fn(ai)
	ai.mu.Unlock()
}

type fixture struct {
	app     echoapi.Server
	conf    *core.Config
	db      *sqlx.DB
	ai      *fakeAI
	users   user.Repository
	library *library.Service
	mailSvc *emailsvc.ConsoleServiceMock
}

func setup(t *testing.T, configure ...func(conf *core.Config)) fixture {
	conf := testutil.NewConfig()
	for _, fn := range configure {
		fn(conf)
	}
	logger := testutil.NewLogger(t)
	validate, translator := testutil.NewValidator(t)
	db := testutil.OpenDB(t)
	store, err := files.NewStore(t.TempDir())
	require.NoError(t, err)

	ai := new(fakeAI)
	users := sqlxrepos.NewUserRepository(db)
	mailSvc := emailsvc.NewConsoleServiceMock(conf, logger)
	libSvc := library.NewService(sqlxrepos.NewLibraryRepository(db), store, fakeInspector{}, ai, logger, conf)
	studySvc := study.NewService(sqlxrepos.NewStudyRepository(db), libSvc, ai, logger, conf)

	app, err := echoapi.NewServer(
		"",  /* address */
		nil, /* shutdown */
		&echoapi.Deps{
			Conf:       conf,
			Logger:     logger,
			DB:         db,
			Validate:   validate,
			Translator: translator,
			UserSvc:    user.NewService(users, mailSvc, validate, conf),
			LibrarySvc: libSvc,
			StudySvc:   studySvc,
		},
	)
	require.NoError(t, err)

	return fixture{app: app, conf: conf, db: db, ai: ai, users: users, library: libSvc, mailSvc: mailSvc}
}

// upload stores an outlined PDF for `usr`.
func (f fixture) upload(t *testing.T, usr user.User, name string) library.PDF {
	res, err := f.library.Upload(context.Background(), usr, name, strings.NewReader(pdfContent))
	require.NoError(t, err)
	return res.PDF
}

func (f fixture) serve(req *http.Request, rec *httptest.ResponseRecorder) {
	f.app.ServeHTTP(rec, req)
}

type httpErr struct {
	Error string `json:"error"`
}

type httpTest struct {
	name     string
	method   string
	path     string
	body     []byte
	token    string
	wantCode int
	wantData []byte
}

func (f fixture) newAuthRequest(method, path, token string, data ...[]byte) (*http.Request, *httptest.ResponseRecorder) {
	var body bytes.Buffer
	if len(data) > 0 {
		body.Write(data[0])
	}
	req := httptest.NewRequest(method, path, &body)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.AddCookie(&http.Cookie{Name: f.conf.Server.SessionCookieName, Value: token})
	}
	return req, httptest.NewRecorder()
}

func (f fixture) newRequest(method, path string, data ...[]byte) (*http.Request, *httptest.ResponseRecorder) {
	return f.newAuthRequest(method, path, "", data...)
}

func (f fixture) newUploadRequest(t *testing.T, path, token, filename, content string) (*http.Request, *httptest.ResponseRecorder) {
	var body bytes.Buffer
	w := multipart.NewWriter(&body)
	if filename != "" {
		part, err := w.CreateFormFile("file", filename)
		require.NoError(t, err)
		_, err = part.Write([]byte(content))
		require.NoError(t, err)
	}
	require.NoError(t, w.Close())

	req, rec := f.newAuthRequest(http.MethodPost, path, token, body.Bytes())
	req.Header.Set("Content-Type", w.FormDataContentType())
	return req, rec
}

func (f fixture) getToken(t *testing.T, usr user.User) string {
	token, err := echoapi.GenerateToken(usr, f.conf)
	if err != nil {
		t.Fatalf("getToken(): %v", err)
	}
	return token
}

func (f fixture) run(t *testing.T, tests []httpTest) {
	t.Helper()
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			method := tt.method
			if method == "" {
				method = http.MethodGet
			}
			req, rec := f.newAuthRequest(method, tt.path, tt.token, tt.body)
			f.serve(req, rec)
			checkCodeAndData(t, tt, rec)
		})
	}
}

func marshalObj(t *testing.T, obj interface{}) []byte {
	data, err := json.Marshal(obj)
	if err != nil {
		t.Fatalf("marshalObj(): %v", err)
	}
	return data
}

func unmarshal(t *testing.T, rec *httptest.ResponseRecorder, v interface{}) {
	t.Helper()
	if err := json.Unmarshal(rec.Body.Bytes(), v); err != nil {
		t.Fatalf("json.Unmarshal(%s): %v", rec.Body.String(), err)
	}
}

func jsonDiff(b1, b2 []byte) (string, error) {
	var j1, j2 interface{}
	if err := json.Unmarshal(b1, &j1); err != nil {
		return "", errors.Wrapf(err, "unmarshalling %s", b1)
	}
	if err := json.Unmarshal(b2, &j2); err != nil {
		return "", errors.Wrapf(err, "unmarshalling %s", b2)
	}
	return cmp.Diff(j2, j1), nil
}

func checkCodeAndData(t *testing.T, tt httpTest, rec *httptest.ResponseRecorder) {
	t.Helper()
	wantCode := tt.wantCode
	if wantCode == 0 {
		wantCode = http.StatusOK
	}
	if rec.Code != wantCode {
		t.Errorf("failed! code = %v; wantCode %v", rec.Code, wantCode)
	}
	if tt.wantData == nil {
		return
	}
	diff, err := jsonDiff(rec.Body.Bytes(), tt.wantData)
	if err != nil {
		t.Errorf("jsonDiff() failed to compare; err %v", err)
		return
	}
	if diff != "" {
		t.Errorf("failed! data mismatch (-want +got):\n%s", diff)
	}
}

func sessionCookie(rec *httptest.ResponseRecorder, name string) *http.Cookie {
	for _, c := range rec.Result().Cookies() {
		if c.Name == name {
			return c
		}
	}
	return nil
}
