package sqlxrepos

import (
	"context"
	"database/sql"
	"encoding/json"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/pkg/errors"
	"github.com/volatiletech/null/v8"

	"github.com/trezcool/kitabu/core"
	"github.com/trezcool/kitabu/core/library"
)

type pdfRow struct {
	ID           int         `db:"id"`
	UserID       int         `db:"user_id"`
	Username     string      `db:"username"`
	Path         string      `db:"path"`
	Title        string      `db:"title"`
	Size         int64       `db:"size"`
	Status       string      `db:"status"`
	ErrorMessage null.String `db:"error_message"`
	AIFile       null.JSON   `db:"ai_file"`
	ImageFolder  null.String `db:"image_folder"`
	CreatedAt    time.Time   `db:"created_at"`
	UpdatedAt    time.Time   `db:"updated_at"`
}

func (r pdfRow) pdf() library.PDF {
	pdf := library.PDF{
		ID:           r.ID,
		UserID:       r.UserID,
		Username:     r.Username,
		Path:         r.Path,
		Title:        r.Title,
		Size:         r.Size,
		Status:       r.Status,
		ErrorMessage: r.ErrorMessage.String,
		ImageFolder:  r.ImageFolder.String,
		CreatedAt:    r.CreatedAt.UTC(),
		UpdatedAt:    r.UpdatedAt.UTC(),
	}
	if r.AIFile.Valid {
		var f core.AIFile
		// a corrupt cache is as good as an expired one
		if err := r.AIFile.Unmarshal(&f); err == nil {
			pdf.AIFile = &f
		}
	}
	return pdf
}

const pdfColumns = `p.id, p.user_id, u.username, p.path, p.title, p.size, p.status, p.error_message,
	p.ai_file, p.image_folder, p.created_at, p.updated_at`

func aiFileJSON(file *core.AIFile) (null.JSON, error) {
	if file == nil {
		return null.JSON{}, nil
	}
	data, err := json.Marshal(file)
	if err != nil {
		return null.JSON{}, errors.Wrap(err, "encoding AI file")
	}
	return null.JSONFrom(data), nil
}

type libraryRepository struct {
	db core.DB
}

var _ library.Repository = (*libraryRepository)(nil) // interface compliance check

func NewLibraryRepository(db core.DB) *libraryRepository {
	return &libraryRepository{db: db}
}

func (repo libraryRepository) CreatePDF(ctx context.Context, pdf library.PDF) (library.PDF, error) {
	aiFile, err := aiFileJSON(pdf.AIFile)
	if err != nil {
		return library.PDF{}, err
	}
	q := repo.db.Rebind(`
		INSERT INTO pdfs (user_id, path, title, size, status, error_message, ai_file, image_folder, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?) RETURNING id`)
	err = sqlx.GetContext(
		ctx, repo.db, &pdf.ID, q,
		pdf.UserID, pdf.Path, pdf.Title, pdf.Size, pdf.Status,
		null.NewString(pdf.ErrorMessage, pdf.ErrorMessage != ""),
		aiFile,
		null.NewString(pdf.ImageFolder, pdf.ImageFolder != ""),
		pdf.CreatedAt.UTC(), pdf.UpdatedAt.UTC(),
	)
	if err != nil {
		return library.PDF{}, errors.Wrap(err, "inserting PDF")
	}
	return pdf, nil
}

func (repo libraryRepository) GetPDF(ctx context.Context, id int) (library.PDF, error) {
	var row pdfRow
	q := repo.db.Rebind("SELECT " + pdfColumns + " FROM pdfs p JOIN users u ON u.id = p.user_id WHERE p.id = ?")
	if err := sqlx.GetContext(ctx, repo.db, &row, q, id); err != nil {
		if err == sql.ErrNoRows {
			return library.PDF{}, library.ErrNotFound
		}
		return library.PDF{}, errors.Wrap(err, "getting PDF")
	}
	return row.pdf(), nil
}

func (repo libraryRepository) ListPDFs(ctx context.Context, userID int, ordering ...core.DBOrdering) ([]library.PDF, error) {
	q := "SELECT " + pdfColumns + " FROM pdfs p JOIN users u ON u.id = p.user_id"
	var args []interface{}
	if userID != 0 {
		q += " WHERE p.user_id = ?"
		args = append(args, userID)
	}

	orderList := make([]string, 0, len(ordering)+1)
	for _, ord := range ordering {
		ord.Field = "p." + ord.Field
		orderList = append(orderList, ord.String())
	}
	if len(orderList) == 0 {
		orderList = append(orderList, "p.created_at DESC")
	}
	orderList = append(orderList, "p.id DESC")
	q += " ORDER BY " + strings.Join(orderList, ", ")

	var rows []pdfRow
	if err := sqlx.SelectContext(ctx, repo.db, &rows, repo.db.Rebind(q), args...); err != nil {
		return nil, errors.Wrap(err, "listing PDFs")
	}
	pdfs := make([]library.PDF, 0, len(rows))
	for _, r := range rows {
		pdfs = append(pdfs, r.pdf())
	}
	return pdfs, nil
}

func (repo libraryRepository) UpdatePDFStatus(ctx context.Context, id int, status, errMsg string, at time.Time) error {
	q := repo.db.Rebind("UPDATE pdfs SET status = ?, error_message = ?, updated_at = ? WHERE id = ?")
	res, err := repo.db.ExecContext(ctx, q, status, null.NewString(errMsg, errMsg != ""), at.UTC(), id)
	if err != nil {
		return errors.Wrap(err, "updating PDF status")
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return library.ErrNotFound
	}
	return nil
}

func (repo libraryRepository) SetPDFAIFile(ctx context.Context, id int, file *core.AIFile, at time.Time) error {
	return setPDFAIFile(ctx, repo.db, id, file, at)
}

func setPDFAIFile(ctx context.Context, exec core.DBExecutor, id int, file *core.AIFile, at time.Time) error {
	aiFile, err := aiFileJSON(file)
	if err != nil {
		return err
	}
	q := exec.Rebind("UPDATE pdfs SET ai_file = ?, updated_at = ? WHERE id = ?")
	if _, err = exec.ExecContext(ctx, q, aiFile, at.UTC(), id); err != nil {
		return errors.Wrap(err, "caching AI file")
	}
	return nil
}

func (repo libraryRepository) CompleteProcessing(
	ctx context.Context,
	id int,
	outline library.Outline,
	file *core.AIFile,
	at time.Time,
) error {
	return core.WithTx(ctx, repo.db, func(tx core.DBTransactor) error {
		// a retried PDF may have a partial outline
		if err := deleteOutline(ctx, tx, id); err != nil {
			return err
		}

		for ci, ch := range outline.Chapters {
			var chID int
			q := tx.Rebind("INSERT INTO chapters (pdf_id, name, position) VALUES (?, ?, ?) RETURNING id")
			if err := sqlx.GetContext(ctx, tx, &chID, q, id, ch.Name, ci); err != nil {
				return errors.Wrap(err, "inserting chapter")
			}
			for ti, t := range ch.Topics {
				var tID int
				q := tx.Rebind("INSERT INTO topics (chapter_id, name, position) VALUES (?, ?, ?) RETURNING id")
				if err := sqlx.GetContext(ctx, tx, &tID, q, chID, t.Name, ti); err != nil {
					return errors.Wrap(err, "inserting topic")
				}
				if err := insertSubtopics(ctx, tx, tID, nil, t.Subtopics); err != nil {
					return err
				}
			}
		}

		if err := setPDFAIFile(ctx, tx, id, file, at); err != nil {
			return err
		}
		q := tx.Rebind("UPDATE pdfs SET status = ?, error_message = NULL, updated_at = ? WHERE id = ?")
		if _, err := tx.ExecContext(ctx, q, library.StatusCompleted, at.UTC(), id); err != nil {
			return errors.Wrap(err, "completing PDF")
		}
		return nil
	})
}

func insertSubtopics(ctx context.Context, tx core.DBExecutor, topicID int, parentID *int, subs []library.OutlineSubtopic) error {
	for si, s := range subs {
		var sID int
		q := tx.Rebind("INSERT INTO subtopics (topic_id, parent_subtopic_id, name, position) VALUES (?, ?, ?, ?) RETURNING id")
		if err := sqlx.GetContext(ctx, tx, &sID, q, topicID, null.IntFromPtr(parentID), s.Name, si); err != nil {
			return errors.Wrap(err, "inserting subtopic")
		}
		if err := insertSubtopics(ctx, tx, topicID, &sID, s.Subtopics); err != nil {
			return err
		}
	}
	return nil
}

// deleteOutline removes the chapters of a PDF with everything hanging from them.
func deleteOutline(ctx context.Context, tx core.DBExecutor, pdfID int) error {
	chapters := "SELECT id FROM chapters WHERE pdf_id = ?"
	topics := "SELECT id FROM topics WHERE chapter_id IN (" + chapters + ")"
	quizzes := "SELECT id FROM quizzes WHERE chapter_id IN (" + chapters + ")"
	stmts := []struct{ what, q string }{
		{"quiz questions", "DELETE FROM quiz_questions WHERE quiz_id IN (" + quizzes + ")"},
		{"quizzes", "DELETE FROM quizzes WHERE chapter_id IN (" + chapters + ")"},
		// children first: parent_subtopic_id references subtopics
		{"subtopics", "DELETE FROM subtopics WHERE parent_subtopic_id IS NOT NULL AND topic_id IN (" + topics + ")"},
		{"subtopics", "DELETE FROM subtopics WHERE topic_id IN (" + topics + ")"},
		{"topics", "DELETE FROM topics WHERE chapter_id IN (" + chapters + ")"},
		{"chapters", "DELETE FROM chapters WHERE pdf_id = ?"},
	}
	for _, stmt := range stmts {
		if _, err := tx.ExecContext(ctx, tx.Rebind(stmt.q), pdfID); err != nil {
			return errors.Wrapf(err, "deleting %s", stmt.what)
		}
	}
	return nil
}

type (
	chapterRow struct {
		ID    int    `db:"id"`
		PDFID int    `db:"pdf_id"`
		Name  string `db:"name"`
	}

	topicRow struct {
		ID        int         `db:"id"`
		ChapterID int         `db:"chapter_id"`
		Name      string      `db:"name"`
		Notes     null.String `db:"notes"`
	}

	subtopicRow struct {
		ID               int         `db:"id"`
		TopicID          int         `db:"topic_id"`
		ParentSubtopicID null.Int    `db:"parent_subtopic_id"`
		Name             string      `db:"name"`
		Notes            null.String `db:"notes"`
	}
)

func (repo libraryRepository) GetChapters(ctx context.Context, pdfID int) ([]library.Chapter, error) {
	var chapters []chapterRow
	q := repo.db.Rebind("SELECT id, pdf_id, name FROM chapters WHERE pdf_id = ? ORDER BY position, id")
	if err := sqlx.SelectContext(ctx, repo.db, &chapters, q, pdfID); err != nil {
		return nil, errors.Wrap(err, "getting chapters")
	}

	var topics []topicRow
	q = repo.db.Rebind(`
		SELECT t.id, t.chapter_id, t.name, t.notes FROM topics t JOIN chapters c ON c.id = t.chapter_id
		WHERE c.pdf_id = ? ORDER BY t.position, t.id`)
	if err := sqlx.SelectContext(ctx, repo.db, &topics, q, pdfID); err != nil {
		return nil, errors.Wrap(err, "getting topics")
	}

	var subtopics []subtopicRow
	q = repo.db.Rebind(`
		SELECT s.id, s.topic_id, s.parent_subtopic_id, s.name, s.notes FROM subtopics s
		JOIN topics t ON t.id = s.topic_id JOIN chapters c ON c.id = t.chapter_id
		WHERE c.pdf_id = ? ORDER BY s.position, s.id`)
	if err := sqlx.SelectContext(ctx, repo.db, &subtopics, q, pdfID); err != nil {
		return nil, errors.Wrap(err, "getting subtopics")
	}

	return buildChapters(chapters, topics, subtopics), nil
}

// buildChapters nests the flat rows of an outline, keeping their order.
func buildChapters(chapters []chapterRow, topics []topicRow, subtopics []subtopicRow) []library.Chapter {
	// subtopics, grouped by topic (top level) and by parent
	byTopic := make(map[int][]subtopicRow)
	byParent := make(map[int][]subtopicRow)
	for _, s := range subtopics {
		if s.ParentSubtopicID.Valid {
			byParent[s.ParentSubtopicID.Int] = append(byParent[s.ParentSubtopicID.Int], s)
		} else {
			byTopic[s.TopicID] = append(byTopic[s.TopicID], s)
		}
	}
	var nest func(rows []subtopicRow) []library.Subtopic
	nest = func(rows []subtopicRow) []library.Subtopic {
		subs := make([]library.Subtopic, 0, len(rows))
		for _, s := range rows {
			sub := library.Subtopic{
				ID:        s.ID,
				TopicID:   s.TopicID,
				Name:      s.Name,
				HasNotes:  strings.TrimSpace(s.Notes.String) != "",
				Subtopics: nest(byParent[s.ID]),
			}
			if s.ParentSubtopicID.Valid {
				parent := s.ParentSubtopicID.Int
				sub.ParentSubtopicID = &parent
			}
			subs = append(subs, sub)
		}
		return subs
	}

	byChapter := make(map[int][]library.Topic)
	for _, t := range topics {
		byChapter[t.ChapterID] = append(byChapter[t.ChapterID], library.Topic{
			ID:        t.ID,
			ChapterID: t.ChapterID,
			Name:      t.Name,
			HasNotes:  strings.TrimSpace(t.Notes.String) != "",
			Subtopics: nest(byTopic[t.ID]),
		})
	}

	out := make([]library.Chapter, 0, len(chapters))
	for _, c := range chapters {
		ch := library.Chapter{ID: c.ID, PDFID: c.PDFID, Name: c.Name, Topics: byChapter[c.ID]}
		if ch.Topics == nil {
			ch.Topics = []library.Topic{}
		}
		out = append(out, ch)
	}
	return out
}

func (repo libraryRepository) DeletePDF(ctx context.Context, id int) error {
	return core.WithTx(ctx, repo.db, func(tx core.DBTransactor) error {
		if err := deleteOutline(ctx, tx, id); err != nil {
			return err
		}
		res, err := tx.ExecContext(ctx, tx.Rebind("DELETE FROM pdfs WHERE id = ?"), id)
		if err != nil {
			return errors.Wrap(err, "deleting PDF")
		}
		if n, err := res.RowsAffected(); err == nil && n == 0 {
			return library.ErrNotFound
		}
		return nil
	})
}
