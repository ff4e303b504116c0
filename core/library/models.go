package library

import (
	"path/filepath"
	"time"

	"github.com/trezcool/kitabu/core"
)

// PDF processing statuses
const (
	StatusPending   = "pending"
	StatusCompleted = "completed"
	StatusFailed    = "failed"
)

type PDF struct {
	ID           int          `json:"id"`
	UserID       int          `json:"user_id"`
	Username     string       `json:"username"`
	Path         string       `json:"-"`
	Title        string       `json:"title"`
	Size         int64        `json:"size"`
	Status       string       `json:"status"`
	ErrorMessage string       `json:"error_message,omitempty"`
	AIFile       *core.AIFile `json:"-"`
	ImageFolder  string       `json:"image_folder,omitempty"` // folder name under the user's images dir
	CreatedAt    time.Time    `json:"created_at"`
	UpdatedAt    time.Time    `json:"updated_at"`
}

// Name is the file name the PDF was saved under.
func (p PDF) Name() string { return filepath.Base(p.Path) }

// Summary is a PDF as listed to its owner.
type Summary struct {
	ID         int       `json:"id"`
	Name       string    `json:"name"`
	Title      string    `json:"title"`
	Status     string    `json:"status"`
	Size       int64     `json:"size"`
	UploadDate time.Time `json:"upload_date"`
}

func (p PDF) Summary() Summary {
	return Summary{
		ID:         p.ID,
		Name:       p.Name(),
		Title:      p.Title,
		Status:     p.Status,
		Size:       p.Size,
		UploadDate: p.CreatedAt,
	}
}

// Image is an extracted figure picked for some notes.
type Image struct {
	Filename string `json:"filename"`
	Caption  string `json:"caption"`
}

// Chapter, Topic & Subtopic are the stored outline nodes.
type (
	Chapter struct {
		ID     int     `json:"id"`
		PDFID  int     `json:"pdf_id"`
		Name   string  `json:"name"`
		Topics []Topic `json:"topics"`
	}

	Topic struct {
		ID        int        `json:"id"`
		ChapterID int        `json:"chapter_id"`
		Name      string     `json:"name"`
		HasNotes  bool       `json:"has_notes"`
		Subtopics []Subtopic `json:"subtopics"`
	}

	Subtopic struct {
		ID               int        `json:"id"`
		TopicID          int        `json:"topic_id"`
		ParentSubtopicID *int       `json:"parent_subtopic_id,omitempty"`
		Name             string     `json:"name"`
		HasNotes         bool       `json:"has_notes"`
		Subtopics        []Subtopic `json:"subtopics"`
	}
)

// Structure is the stored outline of one PDF.
type Structure struct {
	PDF      Summary   `json:"pdf"`
	Chapters []Chapter `json:"chapters"`
}
