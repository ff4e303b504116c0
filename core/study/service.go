package study

import (
	"context"
	"strconv"
	"time"

	"github.com/kat-co/vala"
	"github.com/pkg/errors"
	"golang.org/x/sync/singleflight"

	"github.com/trezcool/kitabu/core"
	"github.com/trezcool/kitabu/core/library"
	"github.com/trezcool/kitabu/core/user"
)

var (
	// errors
	ErrChapterNotFound  = errors.New("Chapter not found")
	ErrTopicNotFound    = errors.New("Topic not found")
	ErrSubtopicNotFound = errors.New("Subtopic not found")
	ErrQuizNotFound     = errors.New("quiz not found")
)

// GenerationError is returned when the AI service could not produce usable content.
// Message is safe to show to users; Err is the underlying cause.
type GenerationError struct {
	Message string
	Err     error
}

func (e *GenerationError) Error() string { return e.Message + ": " + e.Err.Error() }

func (e *GenerationError) Unwrap() error { return e.Err }

type (
	Repository interface {
		FindChapter(ctx context.Context, userID int, name string, pdfID int) (ChapterRecord, error)
		FindTopic(ctx context.Context, userID int, chapter, topic string, pdfID int) (NodeRecord, error)
		FindSubtopic(ctx context.Context, userID int, chapter, topic, subtopic string, pdfID int) (NodeRecord, error)
		SaveTopicNotes(ctx context.Context, id int, notes Notes, at time.Time) error
		SaveSubtopicNotes(ctx context.Context, id int, notes Notes, at time.Time) error
		LatestQuiz(ctx context.Context, chapterID int) (Quiz, error)
		CreateQuiz(ctx context.Context, chapterID int, questions []Question, at time.Time) (Quiz, error)
		GetQuiz(ctx context.Context, id int) (Quiz, error)
	}

	// Library gives access to the PDFs the notes are generated from.
	Library interface {
		GetByID(ctx context.Context, id int) (library.PDF, error)
		ResolveAIFile(ctx context.Context, pdf library.PDF) (core.AIFile, error)
		Images(pdf library.PDF) []string
	}

	// AI is the part of the generative AI service producing study material.
	AI interface {
		TopicNotes(ctx context.Context, file core.AIFile, chapter, topic string, images []string) (Notes, error)
		SubtopicNotes(ctx context.Context, file core.AIFile, chapter, topic, subtopic string, images []string) (Notes, error)
		Quiz(ctx context.Context, file core.AIFile, chapter string) ([]Question, error)
	}

	Service struct {
		repo    Repository
		library Library
		ai      AI
		logger  core.Logger
		group   singleflight.Group // one generation per node at a time
		timeout time.Duration      // bounds a shared generation
		now     func() time.Time
	}
)

func NewService(repo Repository, lib Library, ai AI, logger core.Logger, conf *core.Config) *Service {
	core.RequireArgs(
		vala.IsNotNil(repo, "repo"),
		vala.IsNotNil(lib, "lib"),
		vala.IsNotNil(ai, "ai"),
		vala.IsNotNil(logger, "logger"),
		vala.IsNotNil(conf, "conf"),
	)
	return &Service{
		repo:    repo,
		library: lib,
		ai:      ai,
		logger:  logger,
		timeout: conf.Gemini.GenerationTimeout,
		now:     time.Now,
	}
}

// FindNode returns the topic of `ref`, or its subtopic when one is named, without generating anything.
func (svc *Service) FindNode(ctx context.Context, usr user.User, ref NodeRef) (NodeRecord, error) {
	chapter, topic := core.CleanName(ref.Chapter), core.CleanName(ref.Topic)
	if ref.Subtopic == "" {
		return svc.repo.FindTopic(ctx, usr.ID, chapter, topic, ref.PDFID)
	}
	return svc.repo.FindSubtopic(ctx, usr.ID, chapter, topic, core.CleanName(ref.Subtopic), ref.PDFID)
}

func (svc *Service) FindChapter(ctx context.Context, usr user.User, name string, pdfID int) (ChapterRecord, error) {
	return svc.repo.FindChapter(ctx, usr.ID, core.CleanName(name), pdfID)
}

type (
	generateFunc func(ctx context.Context, file core.AIFile, images []string) (Notes, error)
	saveFunc     func(ctx context.Context, id int, notes Notes, at time.Time) error
)

// TopicNotes returns the notes of a topic, generating and storing them on first read.
func (svc *Service) TopicNotes(ctx context.Context, usr user.User, ref NodeRef) (NotesResult, error) {
	rec, err := svc.repo.FindTopic(ctx, usr.ID, core.CleanName(ref.Chapter), core.CleanName(ref.Topic), ref.PDFID)
	if err != nil {
		return NotesResult{}, err
	}
	gen := func(ctx context.Context, file core.AIFile, images []string) (Notes, error) {
		return svc.ai.TopicNotes(ctx, file, rec.Chapter, rec.Topic, images)
	}
	return svc.getOrGenerateNotes(ctx, usr, "topic:"+strconv.Itoa(rec.ID), rec, gen, svc.repo.SaveTopicNotes)
}

// SubtopicNotes returns the notes of a subtopic, generating and storing them on first read.
func (svc *Service) SubtopicNotes(ctx context.Context, usr user.User, ref NodeRef) (NotesResult, error) {
	rec, err := svc.repo.FindSubtopic(
		ctx, usr.ID, core.CleanName(ref.Chapter), core.CleanName(ref.Topic), core.CleanName(ref.Subtopic), ref.PDFID,
	)
	if err != nil {
		return NotesResult{}, err
	}
	gen := func(ctx context.Context, file core.AIFile, images []string) (Notes, error) {
		return svc.ai.SubtopicNotes(ctx, file, rec.Chapter, rec.Topic, rec.Subtopic, images)
	}
	return svc.getOrGenerateNotes(ctx, usr, "subtopic:"+strconv.Itoa(rec.ID), rec, gen, svc.repo.SaveSubtopicNotes)
}

func (svc *Service) getOrGenerateNotes(
	ctx context.Context,
	usr user.User,
	key string,
	rec NodeRecord,
	generate generateFunc,
	save saveFunc,
) (NotesResult, error) {
	pdf, err := svc.library.GetByID(ctx, rec.PDFID)
	if err != nil {
		return NotesResult{}, errors.Wrap(err, "getting PDF")
	}
	result := NotesResult{Username: usr.Username, PDFFolder: pdf.ImageFolder, PDFID: pdf.ID}

	if !rec.Notes.IsEmpty() {
		result.Notes = rec.Notes.Notes
		result.Images = nonNilImages(rec.Notes.Images)
		return result, nil
	}

	v, err, shared := svc.group.Do(key, func() (interface{}, error) {
		// the notes are stored for every waiting caller, not only the first one
		ctx, cancel := core.DetachedContext(ctx, svc.timeout)
		defer cancel()

		file, err := svc.library.ResolveAIFile(ctx, pdf)
		if err != nil {
			return nil, errors.Wrap(err, "resolving AI file")
		}
		images := svc.library.Images(pdf)
		notes, err := generate(ctx, file, images)
		if err != nil {
			return nil, errors.Wrap(err, "generating notes")
		}
		if notes.IsEmpty() {
			return nil, errors.New("generating notes: empty notes")
		}
		notes.Images = keepKnownImages(notes.Images, images)
		if err = save(ctx, rec.ID, notes, svc.now().UTC()); err != nil {
			return nil, errors.Wrap(err, "storing notes")
		}
		return notes, nil
	})
	if err != nil {
		svc.logger.Error("generating notes", err, map[string]interface{}{"node": key, "pdf_id": pdf.ID}, usr)
		return NotesResult{}, &GenerationError{Message: "Failed to generate notes", Err: err}
	}
	if shared {
		svc.logger.Debug("notes generation shared", map[string]interface{}{"node": key})
	}

	notes := v.(Notes)
	result.Notes = notes.Notes
	result.Images = nonNilImages(notes.Images)
	return result, nil
}

// keepKnownImages drops images the model made up, and repeated ones.
func keepKnownImages(picked []library.Image, available []string) []library.Image {
	known := make(map[string]bool, len(available))
	for _, a := range available {
		known[a] = true
	}
	kept := make([]library.Image, 0, len(picked))
	for _, img := range picked {
		if known[img.Filename] {
			kept = append(kept, img)
			known[img.Filename] = false
		}
	}
	return kept
}

func nonNilImages(imgs []library.Image) []library.Image {
	if imgs == nil {
		return []library.Image{}
	}
	return imgs
}
