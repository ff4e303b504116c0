package study

import (
	"strings"
	"time"

	"github.com/trezcool/kitabu/core/library"
)

// Notes are the generated study notes of an outline node.
type Notes struct {
	Notes  string          `json:"notes"`
	Images []library.Image `json:"images"`
}

// IsEmpty tells whether notes still have to be generated.
func (n Notes) IsEmpty() bool { return strings.TrimSpace(n.Notes) == "" }

// NodeRef locates an outline node by names, within the PDFs of a user.
// PDFID narrows the lookup to one PDF; otherwise the most recent upload matching the names wins.
type NodeRef struct {
	Chapter  string
	Topic    string
	Subtopic string
	PDFID    int
}

type (
	// NodeRecord is a stored topic or subtopic with its notes.
	NodeRecord struct {
		ID       int
		PDFID    int
		Chapter  string
		Topic    string
		Subtopic string
		Notes    Notes
	}

	ChapterRecord struct {
		ID    int
		PDFID int
		Name  string
	}
)

// NotesResult is what readers get for a node.
type NotesResult struct {
	Notes     string          `json:"notes"`
	Images    []library.Image `json:"images"`
	Username  string          `json:"username"`
	PDFFolder string          `json:"pdf_folder"`
	PDFID     int             `json:"pdf_id"`
}

// Quiz answers are letters
const (
	AnswerA = "A"
	AnswerB = "B"
	AnswerC = "C"
	AnswerD = "D"
)

var AnswerLetters = []string{AnswerA, AnswerB, AnswerC, AnswerD}

type (
	Question struct {
		ID            int      `json:"id"`
		Text          string   `json:"question"`
		Options       []string `json:"options"`
		CorrectAnswer string   `json:"correct_answer"`
		Explanation   string   `json:"explanation,omitempty"`
	}

	Quiz struct {
		ID        int
		ChapterID int
		PDFID     int
		UserID    int
		Chapter   string
		CreatedAt time.Time
		Questions []Question
	}
)

// QuizView is a quiz as shown to the reader: without answers.
type (
	QuizView struct {
		QuizID    int            `json:"quiz_id"`
		Chapter   string         `json:"chapter"`
		Questions []QuestionView `json:"questions"`
		Fallback  bool           `json:"fallback,omitempty"`
	}

	QuestionView struct {
		ID       int      `json:"questionid"`
		Question string   `json:"question"`
		Options  []string `json:"options"`
	}
)

func (q Quiz) View() QuizView {
	view := QuizView{
		QuizID:    q.ID,
		Chapter:   q.Chapter,
		Questions: make([]QuestionView, 0, len(q.Questions)),
	}
	for i, qn := range q.Questions {
		id := qn.ID
		if id == 0 {
			id = i + 1
		}
		view.Questions = append(view.Questions, QuestionView{ID: id, Question: qn.Text, Options: qn.Options})
	}
	return view
}

type (
	Answer struct {
		QuestionID    int    `json:"questionid"`
		CorrectAnswer string `json:"correct_answer"`
		Explanation   string `json:"explanation,omitempty"`
	}

	Answers struct {
		QuizID  int      `json:"quiz_id"`
		Chapter string   `json:"chapter"`
		Answers []Answer `json:"answers"`
	}

	GradedAnswer struct {
		QuestionID    int    `json:"questionid"`
		Selected      string `json:"selected"`
		CorrectAnswer string `json:"correct_answer"`
		Correct       bool   `json:"correct"`
		Explanation   string `json:"explanation,omitempty"`
	}

	Grade struct {
		QuizID  int            `json:"quiz_id"`
		Score   int            `json:"score"`
		Total   int            `json:"total"`
		Results []GradedAnswer `json:"results"`
	}
)
