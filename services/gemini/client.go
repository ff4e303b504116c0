// Package gemini outlines documents and writes study material with the Gemini API.
package gemini

import (
	"context"
	"encoding/json"
	"path/filepath"
	"strings"
	"time"

	"github.com/kat-co/vala"
	"github.com/pkg/errors"
	"google.golang.org/genai"

	"github.com/trezcool/kitabu/core"
	"github.com/trezcool/kitabu/core/library"
	"github.com/trezcool/kitabu/core/study"
)

const (
	pdfMIMEType = "application/pdf"

	// uploaded files are kept 48h by the API
	defaultFileLifetime = 47 * time.Hour

	// a malformed answer is asked again once
	generateAttempts = 2
)

var (
	ErrEmptyResponse = errors.New("empty response from the model")
	ErrFileFailed    = errors.New("the AI service could not process the file")
	ErrNoQuestions   = errors.New("no usable quiz questions")
)

type (
	fileAPI interface {
		UploadFromPath(ctx context.Context, path string, config *genai.UploadFileConfig) (*genai.File, error)
		Get(ctx context.Context, name string, config *genai.GetFileConfig) (*genai.File, error)
		Delete(ctx context.Context, name string, config *genai.DeleteFileConfig) (*genai.DeleteFileResponse, error)
	}

	modelAPI interface {
		GenerateContent(ctx context.Context, model string, contents []*genai.Content, config *genai.GenerateContentConfig) (*genai.GenerateContentResponse, error)
	}
)

// Client implements the AI services of the library and study modules.
type Client struct {
	files        fileAPI
	models       modelAPI
	prompts      *Prompts
	schemas      schemas
	conf         core.GeminiConfig
	logger       core.Logger
	pollInterval time.Duration
	now          func() time.Time
}

var (
	_ library.AI = (*Client)(nil)
	_ study.AI   = (*Client)(nil)
)

func NewClient(ctx context.Context, conf *core.Config, logger core.Logger) (*Client, error) {
	core.RequireArgs(
		vala.IsNotNil(conf, "conf"),
		vala.IsNotNil(logger, "logger"),
	)
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  conf.Gemini.APIKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, errors.Wrap(err, "creating genai client")
	}
	return newClient(client.Files, client.Models, conf.Gemini, logger)
}

func newClient(files fileAPI, models modelAPI, conf core.GeminiConfig, logger core.Logger) (*Client, error) {
	prompts, err := LoadPrompts()
	if err != nil {
		return nil, err
	}
	schs, err := loadSchemas()
	if err != nil {
		return nil, err
	}
	return &Client{
		files:        files,
		models:       models,
		prompts:      prompts,
		schemas:      schs,
		conf:         conf,
		logger:       logger,
		pollInterval: 2 * time.Second,
		now:          time.Now,
	}, nil
}

// UploadFile uploads a PDF and waits for the service to be done processing it.
func (c *Client) UploadFile(ctx context.Context, path string) (core.AIFile, error) {
	f, err := c.files.UploadFromPath(ctx, path, &genai.UploadFileConfig{
		MIMEType:    pdfMIMEType,
		DisplayName: filepath.Base(path),
	})
	if err != nil {
		return core.AIFile{}, errors.Wrap(err, "uploading file")
	}
	uploadedAt := c.now().UTC()

	for f.State == genai.FileStateProcessing {
		select {
		case <-ctx.Done():
			return core.AIFile{}, ctx.Err()
		case <-time.After(c.pollInterval):
		}
		if f, err = c.files.Get(ctx, f.Name, nil); err != nil {
			return core.AIFile{}, errors.Wrap(err, "getting file state")
		}
	}
	if f.State == genai.FileStateFailed {
		return core.AIFile{}, ErrFileFailed
	}

	file := core.AIFile{
		Name:           f.Name,
		URI:            f.URI,
		MIMEType:       f.MIMEType,
		DisplayName:    f.DisplayName,
		ExpirationTime: f.ExpirationTime.UTC(),
	}
	if file.MIMEType == "" {
		file.MIMEType = pdfMIMEType
	}
	if f.ExpirationTime.IsZero() {
		file.ExpirationTime = uploadedAt.Add(defaultFileLifetime)
	}
	c.logger.Debug("file uploaded", map[string]interface{}{"name": file.Name, "expires": file.ExpirationTime})
	return file, nil
}

func (c *Client) DeleteFile(ctx context.Context, name string) error {
	_, err := c.files.Delete(ctx, name, nil)
	return errors.Wrap(err, "deleting file")
}

func (c *Client) generationConfig(system string) *genai.GenerateContentConfig {
	conf := &genai.GenerateContentConfig{
		ResponseMIMEType:  "application/json",
		SystemInstruction: genai.NewContentFromText(system, genai.RoleUser),
		MaxOutputTokens:   c.conf.MaxOutputTokens,
	}
	if c.conf.Temperature > 0 {
		conf.Temperature = genai.Ptr(c.conf.Temperature)
	}
	if c.conf.TopP > 0 {
		conf.TopP = genai.Ptr(c.conf.TopP)
	}
	if c.conf.TopK > 0 {
		conf.TopK = genai.Ptr(c.conf.TopK)
	}
	return conf
}

// generateJSON prompts the model about `file` and returns the JSON document of its answer, checked against `schema`.
func (c *Client) generateJSON(ctx context.Context, file core.AIFile, prompt, schema string, data interface{}) ([]byte, error) {
	system, user, err := c.prompts.Render(prompt, data)
	if err != nil {
		return nil, err
	}
	mimeType := file.MIMEType
	if mimeType == "" {
		mimeType = pdfMIMEType
	}
	contents := []*genai.Content{
		genai.NewContentFromParts([]*genai.Part{
			genai.NewPartFromURI(file.URI, mimeType),
			genai.NewPartFromText(user),
		}, genai.RoleUser),
	}

	if c.conf.RequestTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.conf.RequestTimeout)
		defer cancel()
	}

	for attempt := 1; ; attempt++ {
		resp, err := c.models.GenerateContent(ctx, c.conf.Model, contents, c.generationConfig(system))
		if err != nil {
			return nil, errors.Wrapf(err, "generating %s", prompt)
		}

		var doc []byte
		text := strings.TrimSpace(resp.Text())
		if text == "" {
			err = ErrEmptyResponse
		} else if doc, err = extractJSON(text); err == nil {
			err = c.schemas.validate(schema, doc)
		}
		if err == nil {
			return doc, nil
		}
		if attempt == generateAttempts {
			return nil, errors.Wrapf(err, "generating %s", prompt)
		}
		c.logger.Warn("malformed model response, asking again", err, map[string]interface{}{"prompt": prompt, "attempt": attempt})
	}
}

func (c *Client) ExtractOutline(ctx context.Context, file core.AIFile) (library.Outline, error) {
	doc, err := c.generateJSON(ctx, file, promptOutline, schemaOutline, nil)
	if err != nil {
		return library.Outline{}, err
	}
	return library.ParseOutline(doc)
}

type notesData struct {
	Chapter  string
	Topic    string
	Subtopic string
	Images   []string
}

func (c *Client) TopicNotes(ctx context.Context, file core.AIFile, chapter, topic string, images []string) (study.Notes, error) {
	return c.notes(ctx, file, promptTopicNotes, notesData{Chapter: chapter, Topic: topic, Images: images})
}

func (c *Client) SubtopicNotes(ctx context.Context, file core.AIFile, chapter, topic, subtopic string, images []string) (study.Notes, error) {
	return c.notes(ctx, file, promptSubtopicNotes, notesData{Chapter: chapter, Topic: topic, Subtopic: subtopic, Images: images})
}

func (c *Client) notes(ctx context.Context, file core.AIFile, prompt string, data notesData) (study.Notes, error) {
	doc, err := c.generateJSON(ctx, file, prompt, schemaNotes, data)
	if err != nil {
		return study.Notes{}, err
	}
	var notes study.Notes
	if err = json.Unmarshal(doc, &notes); err != nil {
		return study.Notes{}, errors.Wrap(err, "parsing notes")
	}
	notes.Notes = strings.TrimSpace(notes.Notes)
	for i, img := range notes.Images {
		notes.Images[i].Filename = filepath.Base(strings.TrimSpace(img.Filename))
		notes.Images[i].Caption = core.CleanString(img.Caption)
	}
	return notes, nil
}

func (c *Client) Quiz(ctx context.Context, file core.AIFile, chapter string) ([]study.Question, error) {
	data := struct {
		Chapter string
		Size    int
	}{Chapter: chapter, Size: study.QuizSize}
	doc, err := c.generateJSON(ctx, file, promptQuiz, schemaQuiz, data)
	if err != nil {
		return nil, err
	}
	raw, err := parseQuestions(doc)
	if err != nil {
		return nil, err
	}
	questions := sanitizeQuestions(raw)
	if len(questions) == 0 {
		return nil, ErrNoQuestions
	}
	return questions, nil
}
