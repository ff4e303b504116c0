package sqlxrepos

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/pkg/errors"
	"github.com/volatiletech/null/v8"

	"github.com/trezcool/kitabu/core"
	"github.com/trezcool/kitabu/core/library"
	"github.com/trezcool/kitabu/core/study"
)

type nodeRow struct {
	ID       int         `db:"id"`
	PDFID    int         `db:"pdf_id"`
	Chapter  string      `db:"chapter"`
	Topic    string      `db:"topic"`
	Subtopic string      `db:"subtopic"`
	Notes    null.String `db:"notes"`
	Images   null.JSON   `db:"images"`
}

func (r nodeRow) record() study.NodeRecord {
	rec := study.NodeRecord{
		ID:       r.ID,
		PDFID:    r.PDFID,
		Chapter:  r.Chapter,
		Topic:    r.Topic,
		Subtopic: r.Subtopic,
		Notes:    study.Notes{Notes: r.Notes.String},
	}
	if r.Images.Valid {
		var imgs []library.Image
		if err := r.Images.Unmarshal(&imgs); err == nil {
			rec.Notes.Images = imgs
		}
	}
	return rec
}

type questionRow struct {
	ID            int         `db:"id"`
	Text          string      `db:"question_text"`
	Options       null.JSON   `db:"options"`
	CorrectAnswer string      `db:"correct_answer"`
	Explanation   null.String `db:"explanation"`
}

type quizRow struct {
	ID        int       `db:"id"`
	ChapterID int       `db:"chapter_id"`
	PDFID     int       `db:"pdf_id"`
	UserID    int       `db:"user_id"`
	Chapter   string    `db:"chapter"`
	CreatedAt time.Time `db:"created_at"`
}

type studyRepository struct {
	db core.DB
}

var _ study.Repository = (*studyRepository)(nil) // interface compliance check

func NewStudyRepository(db core.DB) *studyRepository {
	return &studyRepository{db: db}
}

// pdfScope restricts lookups to the completed PDFs of a user, or to one of them.
func pdfScope(q string, args []interface{}, pdfID int) (string, []interface{}) {
	if pdfID != 0 {
		q += " AND p.id = ?"
		args = append(args, pdfID)
	}
	return q + " ORDER BY p.created_at DESC, p.id DESC", args
}

func (repo studyRepository) FindChapter(ctx context.Context, userID int, name string, pdfID int) (study.ChapterRecord, error) {
	q, args := pdfScope(`
		SELECT c.id, c.pdf_id, c.name FROM chapters c JOIN pdfs p ON p.id = c.pdf_id
		WHERE p.user_id = ? AND p.status = ? AND c.name = ?`,
		[]interface{}{userID, library.StatusCompleted, name}, pdfID,
	)
	var row struct {
		ID    int    `db:"id"`
		PDFID int    `db:"pdf_id"`
		Name  string `db:"name"`
	}
	if err := sqlx.GetContext(ctx, repo.db, &row, repo.db.Rebind(q+", c.position LIMIT 1"), args...); err != nil {
		if err == sql.ErrNoRows {
			return study.ChapterRecord{}, study.ErrChapterNotFound
		}
		return study.ChapterRecord{}, errors.Wrap(err, "finding chapter")
	}
	return study.ChapterRecord{ID: row.ID, PDFID: row.PDFID, Name: row.Name}, nil
}

func (repo studyRepository) FindTopic(ctx context.Context, userID int, chapter, topic string, pdfID int) (study.NodeRecord, error) {
	q, args := pdfScope(`
		SELECT t.id, p.id AS pdf_id, c.name AS chapter, t.name AS topic, '' AS subtopic, t.notes, t.images
		FROM topics t JOIN chapters c ON c.id = t.chapter_id JOIN pdfs p ON p.id = c.pdf_id
		WHERE p.user_id = ? AND p.status = ? AND c.name = ? AND t.name = ?`,
		[]interface{}{userID, library.StatusCompleted, chapter, topic}, pdfID,
	)
	var row nodeRow
	if err := sqlx.GetContext(ctx, repo.db, &row, repo.db.Rebind(q+", t.id LIMIT 1"), args...); err != nil {
		if err == sql.ErrNoRows {
			return study.NodeRecord{}, repo.missingNode(ctx, userID, chapter, pdfID, study.ErrTopicNotFound)
		}
		return study.NodeRecord{}, errors.Wrap(err, "finding topic")
	}
	return row.record(), nil
}

func (repo studyRepository) FindSubtopic(
	ctx context.Context,
	userID int,
	chapter, topic, subtopic string,
	pdfID int,
) (study.NodeRecord, error) {
	q, args := pdfScope(`
		SELECT s.id, p.id AS pdf_id, c.name AS chapter, t.name AS topic, s.name AS subtopic, s.notes, s.images
		FROM subtopics s JOIN topics t ON t.id = s.topic_id JOIN chapters c ON c.id = t.chapter_id JOIN pdfs p ON p.id = c.pdf_id
		WHERE p.user_id = ? AND p.status = ? AND c.name = ? AND t.name = ? AND s.name = ?`,
		[]interface{}{userID, library.StatusCompleted, chapter, topic, subtopic}, pdfID,
	)
	var row nodeRow
	if err := sqlx.GetContext(ctx, repo.db, &row, repo.db.Rebind(q+", s.id LIMIT 1"), args...); err != nil {
		if err == sql.ErrNoRows {
			if _, tErr := repo.FindTopic(ctx, userID, chapter, topic, pdfID); tErr != nil {
				return study.NodeRecord{}, tErr
			}
			return study.NodeRecord{}, study.ErrSubtopicNotFound
		}
		return study.NodeRecord{}, errors.Wrap(err, "finding subtopic")
	}
	return row.record(), nil
}

// missingNode tells which level of a lookup is missing: the chapter, or `err`.
func (repo studyRepository) missingNode(ctx context.Context, userID int, chapter string, pdfID int, err error) error {
	if _, cErr := repo.FindChapter(ctx, userID, chapter, pdfID); cErr != nil {
		return cErr
	}
	return err
}

func notesArgs(notes study.Notes) (null.String, null.JSON, error) {
	imgs := notes.Images
	if imgs == nil {
		imgs = []library.Image{}
	}
	data, err := json.Marshal(imgs)
	if err != nil {
		return null.String{}, null.JSON{}, errors.Wrap(err, "encoding images")
	}
	return null.StringFrom(notes.Notes), null.JSONFrom(data), nil
}

func (repo studyRepository) saveNotes(ctx context.Context, table string, id int, notes study.Notes, at time.Time) error {
	text, imgs, err := notesArgs(notes)
	if err != nil {
		return err
	}
	q := repo.db.Rebind("UPDATE " + table + " SET notes = ?, images = ?, updated_at = ? WHERE id = ?")
	if _, err = repo.db.ExecContext(ctx, q, text, imgs, at.UTC(), id); err != nil {
		return errors.Wrapf(err, "saving %s notes", table)
	}
	return nil
}

func (repo studyRepository) SaveTopicNotes(ctx context.Context, id int, notes study.Notes, at time.Time) error {
	return repo.saveNotes(ctx, "topics", id, notes, at)
}

func (repo studyRepository) SaveSubtopicNotes(ctx context.Context, id int, notes study.Notes, at time.Time) error {
	return repo.saveNotes(ctx, "subtopics", id, notes, at)
}

const quizColumns = "z.id, z.chapter_id, c.pdf_id, p.user_id, c.name AS chapter, z.created_at"

func (repo studyRepository) getQuiz(ctx context.Context, where string, args ...interface{}) (study.Quiz, error) {
	var row quizRow
	q := repo.db.Rebind(`
		SELECT ` + quizColumns + `
		FROM quizzes z JOIN chapters c ON c.id = z.chapter_id JOIN pdfs p ON p.id = c.pdf_id
		WHERE ` + where)
	if err := sqlx.GetContext(ctx, repo.db, &row, q, args...); err != nil {
		if err == sql.ErrNoRows {
			return study.Quiz{}, study.ErrQuizNotFound
		}
		return study.Quiz{}, errors.Wrap(err, "getting quiz")
	}

	var rows []questionRow
	q = repo.db.Rebind(`
		SELECT id, question_text, options, correct_answer, explanation FROM quiz_questions
		WHERE quiz_id = ? ORDER BY position, id`)
	if err := sqlx.SelectContext(ctx, repo.db, &rows, q, row.ID); err != nil {
		return study.Quiz{}, errors.Wrap(err, "getting quiz questions")
	}

	quiz := study.Quiz{
		ID:        row.ID,
		ChapterID: row.ChapterID,
		PDFID:     row.PDFID,
		UserID:    row.UserID,
		Chapter:   row.Chapter,
		CreatedAt: row.CreatedAt.UTC(),
		Questions: make([]study.Question, 0, len(rows)),
	}
	for _, r := range rows {
		qn := study.Question{ID: r.ID, Text: r.Text, CorrectAnswer: r.CorrectAnswer, Explanation: r.Explanation.String}
		if err := r.Options.Unmarshal(&qn.Options); err != nil {
			return study.Quiz{}, errors.Wrap(err, "decoding quiz options")
		}
		quiz.Questions = append(quiz.Questions, qn)
	}
	return quiz, nil
}

func (repo studyRepository) LatestQuiz(ctx context.Context, chapterID int) (study.Quiz, error) {
	return repo.getQuiz(ctx, "z.chapter_id = ? ORDER BY z.created_at DESC, z.id DESC LIMIT 1", chapterID)
}

func (repo studyRepository) GetQuiz(ctx context.Context, id int) (study.Quiz, error) {
	return repo.getQuiz(ctx, "z.id = ?", id)
}

func (repo studyRepository) CreateQuiz(ctx context.Context, chapterID int, questions []study.Question, at time.Time) (study.Quiz, error) {
	quiz := study.Quiz{ChapterID: chapterID, CreatedAt: at.UTC(), Questions: make([]study.Question, 0, len(questions))}
	err := core.WithTx(ctx, repo.db, func(tx core.DBTransactor) error {
		q := tx.Rebind("INSERT INTO quizzes (chapter_id, created_at) VALUES (?, ?) RETURNING id")
		if err := sqlx.GetContext(ctx, tx, &quiz.ID, q, chapterID, quiz.CreatedAt); err != nil {
			return errors.Wrap(err, "inserting quiz")
		}

		q = tx.Rebind(`
			INSERT INTO quiz_questions (quiz_id, position, question_text, options, correct_answer, explanation)
			VALUES (?, ?, ?, ?, ?, ?) RETURNING id`)
		for i, qn := range questions {
			opts, err := json.Marshal(qn.Options)
			if err != nil {
				return errors.Wrap(err, "encoding quiz options")
			}
			explanation := null.NewString(qn.Explanation, qn.Explanation != "")
			if err = sqlx.GetContext(ctx, tx, &qn.ID, q, quiz.ID, i, qn.Text, null.JSONFrom(opts), qn.CorrectAnswer, explanation); err != nil {
				return errors.Wrap(err, "inserting quiz question")
			}
			quiz.Questions = append(quiz.Questions, qn)
		}

		var ref struct {
			PDFID  int    `db:"pdf_id"`
			UserID int    `db:"user_id"`
			Name   string `db:"name"`
		}
		q = tx.Rebind("SELECT c.pdf_id, p.user_id, c.name FROM chapters c JOIN pdfs p ON p.id = c.pdf_id WHERE c.id = ?")
		if err := sqlx.GetContext(ctx, tx, &ref, q, chapterID); err != nil {
			return errors.Wrap(err, "getting quiz chapter")
		}
		quiz.PDFID, quiz.UserID, quiz.Chapter = ref.PDFID, ref.UserID, ref.Name
		return nil
	})
	if err != nil {
		return study.Quiz{}, err
	}
	return quiz, nil
}
