package sqlxrepos

import (
	"context"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/trezcool/kitabu/core"
	"github.com/trezcool/kitabu/core/library"
	"github.com/trezcool/kitabu/core/study"
	"github.com/trezcool/kitabu/core/user"
	"github.com/trezcool/kitabu/testutil"
)

type repos struct {
	users   *userRepository
	library *libraryRepository
	study   *studyRepository
}

func newRepos(db *sqlx.DB) repos {
	return repos{
		users:   NewUserRepository(db),
		library: NewLibraryRepository(db),
		study:   NewStudyRepository(db),
	}
}

// forEachDB runs the test on sqlite, and on postgres when configured.
func forEachDB(t *testing.T, test func(t *testing.T, r repos)) {
	t.Run("sqlite", func(t *testing.T) { test(t, newRepos(testutil.OpenDB(t))) })
	t.Run("postgres", func(t *testing.T) { test(t, newRepos(testutil.OpenPostgres(t))) })
}

var (
	t0 = time.Date(2024, 3, 9, 14, 0, 0, 0, time.UTC)

	testOutline = library.Outline{Chapters: []library.OutlineChapter{
		{Name: "Cells", Topics: []library.OutlineTopic{
			{Name: "Structure", Subtopics: []library.OutlineSubtopic{
				{Name: "Membrane", Subtopics: []library.OutlineSubtopic{{Name: "Lipids"}}},
				{Name: "Nucleus"},
			}},
			{Name: "Division"},
		}},
		{Name: "Genetics", Topics: []library.OutlineTopic{{Name: "DNA"}}},
	}}
)

func createPDF(t *testing.T, r repos, usr user.User, title string, createdAt time.Time, outline *library.Outline) library.PDF {
	ctx := context.Background()
	pdf, err := r.library.CreatePDF(ctx, library.PDF{
		UserID:      usr.ID,
		Username:    usr.Username,
		Path:        "/uploads/" + usr.Username + "/" + title,
		Title:       title,
		Size:        1024,
		Status:      library.StatusPending,
		ImageFolder: title + "_0123abcd",
		CreatedAt:   createdAt,
		UpdatedAt:   createdAt,
	})
	require.NoError(t, err)
	if outline != nil {
		file := &core.AIFile{Name: "files/" + title, URI: "https://ai.test/files/" + title, MIMEType: "application/pdf", ExpirationTime: t0.Add(48 * time.Hour)}
		require.NoError(t, r.library.CompleteProcessing(ctx, pdf.ID, *outline, file, createdAt))
		pdf, err = r.library.GetPDF(ctx, pdf.ID)
		require.NoError(t, err)
	}
	return pdf
}

func Test_userRepository(t *testing.T) {
	forEachDB(t, func(t *testing.T, r repos) {
		ctx := context.Background()
		awe := testutil.CreateUser(t, r.users, "awe", "awe@test.cd", "", true, t0)
		_ = testutil.CreateUser(t, r.users, "king", "king@test.cd", "", false, t0)

		t.Run("uniqueness", func(t *testing.T) {
			assert.Equal(t, user.ErrEmailExists, r.users.CheckUniqueness(ctx, "awe", "AWE@test.cd"))
			assert.Equal(t, user.ErrUsernameExists, r.users.CheckUniqueness(ctx, "Awe", "new@test.cd"))
			assert.NoError(t, r.users.CheckUniqueness(ctx, "awe", "awe@test.cd", awe))
			assert.NoError(t, r.users.CheckUniqueness(ctx, "new", "new@test.cd"))
		})

		t.Run("get", func(t *testing.T) {
			for _, get := range []func() (user.User, error){
				func() (user.User, error) { return r.users.GetUserByID(ctx, awe.ID) },
				func() (user.User, error) { return r.users.GetUserByUsername(ctx, "AWE") },
				func() (user.User, error) { return r.users.GetUserByEmail(ctx, "awe@test.cd") },
				func() (user.User, error) { return r.users.GetUserByUsernameOrEmail(ctx, "awe@test.cd") },
				func() (user.User, error) { return r.users.GetUserByUsernameOrEmail(ctx, "awe") },
			} {
				got, err := get()
				require.NoError(t, err)
				if diff := cmp.Diff(awe, got); diff != "" {
					t.Errorf("get user mismatch (-want +got):\n%s", diff)
				}
			}
			_, err := r.users.GetUserByID(ctx, 0)
			assert.Equal(t, user.ErrNotFound, err)
			_, err = r.users.GetUserByUsernameOrEmail(ctx, "lol")
			assert.Equal(t, user.ErrNotFound, err)
		})

		t.Run("update", func(t *testing.T) {
			upd := awe
			upd.Email = "awe2@test.cd"
			upd.UpdatedAt = t0.Add(time.Hour)
			_, err := r.users.UpdateUser(ctx, upd)
			require.NoError(t, err)
			require.NoError(t, r.users.SetLastLogin(ctx, awe.ID, t0.Add(2*time.Hour)))

			got, err := r.users.GetUserByID(ctx, awe.ID)
			require.NoError(t, err)
			assert.Equal(t, "awe2@test.cd", got.Email)
			assert.True(t, got.UpdatedAt.Equal(t0.Add(time.Hour)))
			assert.True(t, got.LastLogin.Equal(t0.Add(2*time.Hour)))

			_, err = r.users.UpdateUser(ctx, user.User{ID: 9999, Username: "ghost", Email: "ghost@test.cd"})
			assert.Equal(t, user.ErrNotFound, err)
		})

		t.Run("query all", func(t *testing.T) {
			users, err := r.users.QueryAllUsers(ctx)
			require.NoError(t, err)
			require.Len(t, users, 2)
			assert.Equal(t, "awe", users[0].Username)
			assert.Equal(t, "king", users[1].Username)
		})

		t.Run("stats", func(t *testing.T) {
			stats, err := r.users.GetUserStats(ctx, awe.ID)
			require.NoError(t, err)
			assert.Equal(t, user.Stats{}, stats)

			createPDF(t, r, awe, "bio.pdf", t0, &testOutline)
			pdf := createPDF(t, r, awe, "chem.pdf", t0.Add(time.Hour), nil)
			ch, err := r.study.FindChapter(ctx, awe.ID, "Genetics", 0)
			require.NoError(t, err)
			_, err = r.study.CreateQuiz(ctx, ch.ID, []study.Question{{Text: "?", Options: []string{"A. a"}, CorrectAnswer: "A"}}, t0)
			require.NoError(t, err)

			stats, err = r.users.GetUserStats(ctx, awe.ID)
			require.NoError(t, err)
			require.NotNil(t, stats.LastUpload)
			assert.True(t, stats.LastUpload.Equal(pdf.CreatedAt))
			stats.LastUpload = nil
			assert.Equal(t, user.Stats{TotalPDFs: 2, TotalChapters: 2, TotalTopics: 3, TotalSubtopics: 3, TotalQuizzes: 1}, stats)
		})
	})
}

func Test_libraryRepository(t *testing.T) {
	forEachDB(t, func(t *testing.T, r repos) {
		ctx := context.Background()
		awe := testutil.CreateUser(t, r.users, "awe", "awe@test.cd", "", true, t0)
		king := testutil.CreateUser(t, r.users, "king", "king@test.cd", "", true, t0)

		bio := createPDF(t, r, awe, "bio.pdf", t0, nil)
		chem := createPDF(t, r, awe, "chem.pdf", t0.Add(time.Hour), nil)
		kings := createPDF(t, r, king, "art.pdf", t0.Add(2*time.Hour), nil)

		t.Run("get", func(t *testing.T) {
			got, err := r.library.GetPDF(ctx, bio.ID)
			require.NoError(t, err)
			if diff := cmp.Diff(bio, got); diff != "" {
				t.Errorf("GetPDF() mismatch (-want +got):\n%s", diff)
			}
			_, err = r.library.GetPDF(ctx, 9999)
			assert.Equal(t, library.ErrNotFound, err)
		})

		t.Run("list", func(t *testing.T) {
			ids := func(pdfs []library.PDF) []int {
				out := make([]int, 0, len(pdfs))
				for _, p := range pdfs {
					out = append(out, p.ID)
				}
				return out
			}
			pdfs, err := r.library.ListPDFs(ctx, awe.ID)
			require.NoError(t, err)
			assert.Equal(t, []int{chem.ID, bio.ID}, ids(pdfs))

			pdfs, err = r.library.ListPDFs(ctx, awe.ID, core.DBOrdering{Field: "title", Ascending: true})
			require.NoError(t, err)
			assert.Equal(t, []int{bio.ID, chem.ID}, ids(pdfs))

			pdfs, err = r.library.ListPDFs(ctx, 0)
			require.NoError(t, err)
			assert.Equal(t, []int{kings.ID, chem.ID, bio.ID}, ids(pdfs))
		})

		t.Run("status & AI file", func(t *testing.T) {
			require.NoError(t, r.library.UpdatePDFStatus(ctx, chem.ID, library.StatusFailed, "boom", t0.Add(time.Minute)))
			file := &core.AIFile{Name: "files/x", URI: "https://ai.test/files/x", MIMEType: "application/pdf", ExpirationTime: t0.Add(time.Hour)}
			require.NoError(t, r.library.SetPDFAIFile(ctx, chem.ID, file, t0.Add(time.Minute)))

			got, err := r.library.GetPDF(ctx, chem.ID)
			require.NoError(t, err)
			assert.Equal(t, library.StatusFailed, got.Status)
			assert.Equal(t, "boom", got.ErrorMessage)
			require.NotNil(t, got.AIFile)
			assert.Equal(t, file.URI, got.AIFile.URI)
			assert.True(t, got.AIFile.ExpirationTime.Equal(file.ExpirationTime))

			assert.Equal(t, library.ErrNotFound, r.library.UpdatePDFStatus(ctx, 9999, library.StatusFailed, "", t0))
		})

		t.Run("outline", func(t *testing.T) {
			file := &core.AIFile{Name: "files/bio", URI: "https://ai.test/files/bio", ExpirationTime: t0.Add(time.Hour)}
			require.NoError(t, r.library.CompleteProcessing(ctx, bio.ID, testOutline, file, t0))
			// completing again replaces the outline
			require.NoError(t, r.library.CompleteProcessing(ctx, bio.ID, testOutline, file, t0))

			got, err := r.library.GetPDF(ctx, bio.ID)
			require.NoError(t, err)
			assert.Equal(t, library.StatusCompleted, got.Status)
			assert.Empty(t, got.ErrorMessage)

			chapters, err := r.library.GetChapters(ctx, bio.ID)
			require.NoError(t, err)
			toOutline := func(chapters []library.Chapter) library.Outline {
				var toSubs func(subs []library.Subtopic) []library.OutlineSubtopic
				toSubs = func(subs []library.Subtopic) []library.OutlineSubtopic {
					var out []library.OutlineSubtopic
					for _, s := range subs {
						out = append(out, library.OutlineSubtopic{Name: s.Name, Subtopics: toSubs(s.Subtopics)})
					}
					return out
				}
				var o library.Outline
				for _, c := range chapters {
					oc := library.OutlineChapter{Name: c.Name}
					for _, tp := range c.Topics {
						oc.Topics = append(oc.Topics, library.OutlineTopic{Name: tp.Name, Subtopics: toSubs(tp.Subtopics)})
					}
					o.Chapters = append(o.Chapters, oc)
				}
				return o
			}
			if diff := cmp.Diff(testOutline, toOutline(chapters), cmpopts.EquateEmpty()); diff != "" {
				t.Errorf("GetChapters() mismatch (-want +got):\n%s", diff)
			}
			lipids := chapters[0].Topics[0].Subtopics[0].Subtopics[0]
			require.NotNil(t, lipids.ParentSubtopicID)
			assert.Equal(t, chapters[0].Topics[0].Subtopics[0].ID, *lipids.ParentSubtopicID)
			assert.False(t, lipids.HasNotes)
		})

		t.Run("delete", func(t *testing.T) {
			ch, err := r.study.FindChapter(ctx, awe.ID, "Cells", bio.ID)
			require.NoError(t, err)
			_, err = r.study.CreateQuiz(ctx, ch.ID, []study.Question{{Text: "?", Options: []string{"A. a"}, CorrectAnswer: "A"}}, t0)
			require.NoError(t, err)

			require.NoError(t, r.library.DeletePDF(ctx, bio.ID))
			_, err = r.library.GetPDF(ctx, bio.ID)
			assert.Equal(t, library.ErrNotFound, err)
			chapters, err := r.library.GetChapters(ctx, bio.ID)
			require.NoError(t, err)
			assert.Empty(t, chapters)
			assert.Equal(t, library.ErrNotFound, r.library.DeletePDF(ctx, bio.ID))
		})
	})
}

func Test_studyRepository(t *testing.T) {
	forEachDB(t, func(t *testing.T, r repos) {
		ctx := context.Background()
		awe := testutil.CreateUser(t, r.users, "awe", "awe@test.cd", "", true, t0)
		king := testutil.CreateUser(t, r.users, "king", "king@test.cd", "", true, t0)

		old := createPDF(t, r, awe, "bio-v1.pdf", t0, &testOutline)
		recent := createPDF(t, r, awe, "bio-v2.pdf", t0.Add(time.Hour), &testOutline)
		createPDF(t, r, awe, "pending.pdf", t0.Add(2*time.Hour), nil)
		createPDF(t, r, king, "bio.pdf", t0, &testOutline)

		t.Run("find chapter", func(t *testing.T) {
			ch, err := r.study.FindChapter(ctx, awe.ID, "Cells", 0)
			require.NoError(t, err)
			assert.Equal(t, recent.ID, ch.PDFID, "most recent upload wins")

			ch, err = r.study.FindChapter(ctx, awe.ID, "Cells", old.ID)
			require.NoError(t, err)
			assert.Equal(t, old.ID, ch.PDFID)

			_, err = r.study.FindChapter(ctx, awe.ID, "Physics", 0)
			assert.Equal(t, study.ErrChapterNotFound, err)
		})

		t.Run("find nodes", func(t *testing.T) {
			rec, err := r.study.FindTopic(ctx, awe.ID, "Cells", "Structure", 0)
			require.NoError(t, err)
			assert.Equal(t, recent.ID, rec.PDFID)
			assert.Equal(t, "Cells", rec.Chapter)
			assert.Equal(t, "Structure", rec.Topic)
			assert.True(t, rec.Notes.IsEmpty())

			sub, err := r.study.FindSubtopic(ctx, awe.ID, "Cells", "Structure", "Lipids", old.ID)
			require.NoError(t, err)
			assert.Equal(t, old.ID, sub.PDFID)
			assert.Equal(t, "Lipids", sub.Subtopic)

			tests := []struct {
				name    string
				find    func() error
				wantErr error
			}{
				{"unknown chapter", func() error {
					_, err := r.study.FindTopic(ctx, awe.ID, "Physics", "Structure", 0)
					return err
				}, study.ErrChapterNotFound},
				{"unknown topic", func() error {
					_, err := r.study.FindTopic(ctx, awe.ID, "Cells", "Energy", 0)
					return err
				}, study.ErrTopicNotFound},
				{"unknown subtopic", func() error {
					_, err := r.study.FindSubtopic(ctx, awe.ID, "Cells", "Structure", "Ribosome", 0)
					return err
				}, study.ErrSubtopicNotFound},
				{"subtopic of unknown topic", func() error {
					_, err := r.study.FindSubtopic(ctx, awe.ID, "Cells", "Energy", "Lipids", 0)
					return err
				}, study.ErrTopicNotFound},
				{"other user's PDF", func() error {
					_, err := r.study.FindTopic(ctx, king.ID, "Cells", "Structure", recent.ID)
					return err
				}, study.ErrChapterNotFound},
			}
			for _, tt := range tests {
				t.Run(tt.name, func(t *testing.T) {
					assert.Equal(t, tt.wantErr, tt.find())
				})
			}
		})

		t.Run("notes", func(t *testing.T) {
			rec, err := r.study.FindTopic(ctx, awe.ID, "Cells", "Structure", 0)
			require.NoError(t, err)
			notes := study.Notes{Notes: "# Structure", Images: []library.Image{{Filename: "p1.png", Caption: "A cell"}}}
			require.NoError(t, r.study.SaveTopicNotes(ctx, rec.ID, notes, t0))

			rec, err = r.study.FindTopic(ctx, awe.ID, "Cells", "Structure", 0)
			require.NoError(t, err)
			assert.Equal(t, notes, rec.Notes)

			sub, err := r.study.FindSubtopic(ctx, awe.ID, "Cells", "Structure", "Nucleus", 0)
			require.NoError(t, err)
			require.NoError(t, r.study.SaveSubtopicNotes(ctx, sub.ID, study.Notes{Notes: "nucleus"}, t0))
			sub, err = r.study.FindSubtopic(ctx, awe.ID, "Cells", "Structure", "Nucleus", 0)
			require.NoError(t, err)
			assert.Equal(t, "nucleus", sub.Notes.Notes)
			assert.Empty(t, sub.Notes.Images)

			chapters, err := r.library.GetChapters(ctx, recent.ID)
			require.NoError(t, err)
			assert.True(t, chapters[0].Topics[0].HasNotes)
			assert.True(t, chapters[0].Topics[0].Subtopics[1].HasNotes)
		})

		t.Run("quizzes", func(t *testing.T) {
			ch, err := r.study.FindChapter(ctx, awe.ID, "Genetics", 0)
			require.NoError(t, err)
			_, err = r.study.LatestQuiz(ctx, ch.ID)
			assert.Equal(t, study.ErrQuizNotFound, err)

			questions := []study.Question{
				{Text: "What is DNA?", Options: []string{"A. acid", "B. base", "C. salt", "D. sugar"}, CorrectAnswer: "A", Explanation: "Deoxyribonucleic acid."},
				{Text: "Who?", Options: []string{"A. a", "B. b", "C. c", "D. d"}, CorrectAnswer: "C"},
			}
			first, err := r.study.CreateQuiz(ctx, ch.ID, questions, t0)
			require.NoError(t, err)
			second, err := r.study.CreateQuiz(ctx, ch.ID, questions[:1], t0.Add(time.Minute))
			require.NoError(t, err)
			assert.Equal(t, awe.ID, second.UserID)
			assert.Equal(t, "Genetics", second.Chapter)
			assert.Equal(t, recent.ID, second.PDFID)
			assert.NotZero(t, second.Questions[0].ID)

			latest, err := r.study.LatestQuiz(ctx, ch.ID)
			require.NoError(t, err)
			if diff := cmp.Diff(second, latest); diff != "" {
				t.Errorf("LatestQuiz() mismatch (-want +got):\n%s", diff)
			}

			got, err := r.study.GetQuiz(ctx, first.ID)
			require.NoError(t, err)
			if diff := cmp.Diff(first, got); diff != "" {
				t.Errorf("GetQuiz() mismatch (-want +got):\n%s", diff)
			}

			_, err = r.study.GetQuiz(ctx, 9999)
			assert.Equal(t, study.ErrQuizNotFound, err)
		})
	})
}
