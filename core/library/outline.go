package library

import (
	"bytes"
	"encoding/json"

	"github.com/pkg/errors"

	"github.com/trezcool/kitabu/core"
)

var ErrEmptyOutline = errors.New("no chapters found in the document")

// Outline is the chapter/topic/subtopic breakdown of a document, as extracted by the AI service.
type (
	Outline struct {
		Chapters []OutlineChapter `json:"chapters"`
	}

	OutlineChapter struct {
		Name   string         `json:"name"`
		Topics []OutlineTopic `json:"topics"`
	}

	OutlineTopic struct {
		Name      string            `json:"name"`
		Subtopics []OutlineSubtopic `json:"subtopics"`
	}

	OutlineSubtopic struct {
		Name      string            `json:"name"`
		Subtopics []OutlineSubtopic `json:"subtopics"`
	}
)

// Counts returns the number of chapters, topics and subtopics (at any depth).
func (o Outline) Counts() (chapters, topics, subtopics int) {
	var countSubs func(subs []OutlineSubtopic) int
	countSubs = func(subs []OutlineSubtopic) int {
		n := len(subs)
		for _, s := range subs {
			n += countSubs(s.Subtopics)
		}
		return n
	}
	for _, c := range o.Chapters {
		chapters++
		topics += len(c.Topics)
		for _, t := range c.Topics {
			subtopics += countSubs(t.Subtopics)
		}
	}
	return
}

// rawNode accepts every key the model has been seen using for outline nodes.
type rawNode struct {
	Name      string            `json:"name"`
	Title     string            `json:"title"`
	Chapter   string            `json:"chapter"`
	Topic     string            `json:"topic"`
	SubTopic  string            `json:"sub_topic"`
	Subtopic  string            `json:"subtopic"`
	Topics    []json.RawMessage `json:"topics"`
	SubTopics []json.RawMessage `json:"sub_topics"`
	Subtopics []json.RawMessage `json:"subtopics"`
}

func (n rawNode) name() string {
	for _, s := range []string{n.Name, n.Chapter, n.Topic, n.SubTopic, n.Subtopic, n.Title} {
		if s != "" {
			return s
		}
	}
	return ""
}

func (n rawNode) children() []json.RawMessage {
	if len(n.SubTopics) > 0 {
		return n.SubTopics
	}
	return n.Subtopics
}

// parseNode decodes a node written either as a bare string or as an object.
func parseNode(raw json.RawMessage) (rawNode, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) > 0 && raw[0] == '"' {
		var name string
		if err := json.Unmarshal(raw, &name); err != nil {
			return rawNode{}, err
		}
		return rawNode{Name: name}, nil
	}
	var n rawNode
	if err := json.Unmarshal(raw, &n); err != nil {
		return rawNode{}, err
	}
	return n, nil
}

// ParseOutline decodes the outline JSON returned by the model.
// It accepts a bare list of chapters or an object with a "chapters" list, and normalizes the result:
// names are cleaned, empty nodes dropped and siblings sharing a name merged.
func ParseOutline(data []byte) (Outline, error) {
	data = bytes.TrimSpace(data)

	var rawChapters []json.RawMessage
	switch {
	case len(data) > 0 && data[0] == '[':
		if err := json.Unmarshal(data, &rawChapters); err != nil {
			return Outline{}, errors.Wrap(err, "decoding outline")
		}
	case len(data) > 0 && data[0] == '{':
		var wrapper struct {
			Chapters []json.RawMessage `json:"chapters"`
		}
		if err := json.Unmarshal(data, &wrapper); err != nil {
			return Outline{}, errors.Wrap(err, "decoding outline")
		}
		rawChapters = wrapper.Chapters
	default:
		return Outline{}, errors.New("decoding outline: expected a JSON list or object")
	}

	var outline Outline
	for _, rc := range rawChapters {
		cn, err := parseNode(rc)
		if err != nil {
			return Outline{}, errors.Wrap(err, "decoding chapter")
		}
		chapter := OutlineChapter{Name: cn.name()}
		for _, rt := range cn.Topics {
			tn, err := parseNode(rt)
			if err != nil {
				return Outline{}, errors.Wrap(err, "decoding topic")
			}
			subs, err := parseSubtopics(tn.children())
			if err != nil {
				return Outline{}, err
			}
			chapter.Topics = append(chapter.Topics, OutlineTopic{Name: tn.name(), Subtopics: subs})
		}
		outline.Chapters = append(outline.Chapters, chapter)
	}

	outline.Chapters = mergeChapters(outline.Chapters)
	if len(outline.Chapters) == 0 {
		return Outline{}, ErrEmptyOutline
	}
	return outline, nil
}

func parseSubtopics(raws []json.RawMessage) ([]OutlineSubtopic, error) {
	var subs []OutlineSubtopic
	for _, rs := range raws {
		sn, err := parseNode(rs)
		if err != nil {
			return nil, errors.Wrap(err, "decoding subtopic")
		}
		children, err := parseSubtopics(sn.children())
		if err != nil {
			return nil, err
		}
		subs = append(subs, OutlineSubtopic{Name: sn.name(), Subtopics: children})
	}
	return subs, nil
}

func mergeChapters(in []OutlineChapter) []OutlineChapter {
	out := make([]OutlineChapter, 0, len(in))
	seen := make(map[string]int, len(in))
	for _, c := range in {
		c.Name = core.CleanName(c.Name)
		if c.Name == "" {
			continue
		}
		if i, ok := seen[c.Name]; ok {
			out[i].Topics = mergeTopics(append(out[i].Topics, c.Topics...))
			continue
		}
		c.Topics = mergeTopics(c.Topics)
		seen[c.Name] = len(out)
		out = append(out, c)
	}
	return out
}

func mergeTopics(in []OutlineTopic) []OutlineTopic {
	out := make([]OutlineTopic, 0, len(in))
	seen := make(map[string]int, len(in))
	for _, t := range in {
		t.Name = core.CleanName(t.Name)
		if t.Name == "" {
			continue
		}
		if i, ok := seen[t.Name]; ok {
			out[i].Subtopics = mergeSubtopics(append(out[i].Subtopics, t.Subtopics...))
			continue
		}
		t.Subtopics = mergeSubtopics(t.Subtopics)
		seen[t.Name] = len(out)
		out = append(out, t)
	}
	return out
}

func mergeSubtopics(in []OutlineSubtopic) []OutlineSubtopic {
	if len(in) == 0 {
		return nil
	}
	out := make([]OutlineSubtopic, 0, len(in))
	seen := make(map[string]int, len(in))
	for _, s := range in {
		s.Name = core.CleanName(s.Name)
		if s.Name == "" {
			continue
		}
		if i, ok := seen[s.Name]; ok {
			out[i].Subtopics = mergeSubtopics(append(out[i].Subtopics, s.Subtopics...))
			continue
		}
		s.Subtopics = mergeSubtopics(s.Subtopics)
		seen[s.Name] = len(out)
		out = append(out, s)
	}
	return out
}
