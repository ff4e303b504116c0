package gemini

import (
	"encoding/json"
	"strings"

	"github.com/pkg/errors"

	"github.com/trezcool/kitabu/core"
	"github.com/trezcool/kitabu/core/study"
)

type rawQuestion struct {
	Question      string   `json:"question"`
	Options       []string `json:"options"`
	CorrectAnswer string   `json:"correct_answer"`
	Explanation   string   `json:"explanation"`
}

// parseQuestions reads a quiz given either as a list of questions or as {"questions": [...]}.
func parseQuestions(data []byte) ([]rawQuestion, error) {
	var list []rawQuestion
	if err := json.Unmarshal(data, &list); err == nil {
		return list, nil
	}
	var obj struct {
		Questions []rawQuestion `json:"questions"`
	}
	if err := json.Unmarshal(data, &obj); err != nil {
		return nil, errors.Wrap(err, "parsing quiz")
	}
	return obj.Questions, nil
}

// sanitizeQuestions keeps the well-formed questions, at most study.QuizSize of them:
// 4 options prefixed with their letter and a correct answer reduced to its letter.
func sanitizeQuestions(raw []rawQuestion) []study.Question {
	questions := make([]study.Question, 0, len(raw))
	for _, rq := range raw {
		if q, ok := sanitizeQuestion(rq); ok {
			questions = append(questions, q)
		}
		if len(questions) == study.QuizSize {
			break
		}
	}
	return questions
}

func sanitizeQuestion(rq rawQuestion) (study.Question, bool) {
	text := core.CleanString(rq.Question)
	if text == "" {
		return study.Question{}, false
	}

	options := make([]string, 0, len(rq.Options))
	for _, opt := range rq.Options {
		if opt = core.CleanString(opt); opt != "" {
			options = append(options, opt)
		}
	}
	if len(options) != len(study.AnswerLetters) {
		return study.Question{}, false
	}
	for i, opt := range options {
		letter := study.AnswerLetters[i]
		if l, _, ok := letterPrefix(opt); !ok || l != letter {
			options[i] = letter + ". " + opt
		}
	}

	correct := correctLetter(core.CleanString(rq.CorrectAnswer), options)
	if correct == "" {
		return study.Question{}, false
	}

	return study.Question{
		Text:          text,
		Options:       options,
		CorrectAnswer: correct,
		Explanation:   core.CleanString(rq.Explanation),
	}, true
}

// letterPrefix splits "B", "b)" or "B. text" into its answer letter and the rest.
// A letter followed by a space only ("A cell wall") is text, not a prefix.
func letterPrefix(s string) (letter, rest string, ok bool) {
	if s == "" {
		return "", "", false
	}
	first := strings.ToUpper(s[:1])
	for _, l := range study.AnswerLetters {
		if l != first {
			continue
		}
		if len(s) == 1 {
			return l, "", true
		}
		if !strings.ContainsAny(s[1:2], ".):") {
			return "", "", false
		}
		return l, strings.TrimSpace(s[2:]), true
	}
	return "", "", false
}

// correctLetter resolves the model's answer to an option letter. The answer may be a letter,
// a lettered option or the text of an option.
func correctLetter(answer string, options []string) string {
	letter, rest, ok := letterPrefix(answer)
	if ok && (rest == "" || strings.EqualFold(rest, optionText(options, letter))) {
		return letter
	}
	if matched := matchOption(answer, options); matched != "" {
		return matched
	}
	return letter
}

// optionText returns the text of the option of `letter`, without its prefix.
func optionText(options []string, letter string) string {
	for i, opt := range options {
		if study.AnswerLetters[i] == letter {
			_, text, _ := letterPrefix(opt)
			return text
		}
	}
	return ""
}

// matchOption finds the letter of the option whose text is `answer`.
func matchOption(answer string, options []string) string {
	if answer == "" {
		return ""
	}
	for i, opt := range options {
		// options are "X. text"
		_, text, _ := letterPrefix(opt)
		if strings.EqualFold(text, answer) || strings.EqualFold(opt, answer) {
			return study.AnswerLetters[i]
		}
	}
	return ""
}
