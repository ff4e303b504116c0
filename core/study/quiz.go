package study

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/pkg/errors"

	"github.com/trezcool/kitabu/core"
	"github.com/trezcool/kitabu/core/user"
)

// QuizSize is the number of questions asked per chapter quiz.
const QuizSize = 15

// AnswerLetter extracts the option letter from answers like "b", "B.", "B) Paris" or "B. Paris".
// It returns "" when there is none.
func AnswerLetter(s string) string {
	s = strings.ToUpper(strings.TrimSpace(s))
	if s == "" {
		return ""
	}
	letter := s[:1]
	if !strings.Contains("ABCD", letter) {
		return ""
	}
	if len(s) > 1 && !strings.ContainsAny(s[1:2], ".): ") {
		return ""
	}
	return letter
}

// Quiz returns the latest quiz of a chapter, or generates a new one when there is none or `fresh` is set.
func (svc *Service) Quiz(ctx context.Context, usr user.User, chapter string, pdfID int, fresh bool) (QuizView, error) {
	ch, err := svc.repo.FindChapter(ctx, usr.ID, core.CleanName(chapter), pdfID)
	if err != nil {
		return QuizView{}, err
	}

	if !fresh {
		quiz, err := svc.repo.LatestQuiz(ctx, ch.ID)
		if err == nil {
			return quiz.View(), nil
		}
		if errors.Cause(err) != ErrQuizNotFound {
			return QuizView{}, errors.Wrap(err, "getting latest quiz")
		}
	}

	key := "quiz:" + strconv.Itoa(ch.ID)
	v, err, _ := svc.group.Do(key, func() (interface{}, error) {
		ctx, cancel := core.DetachedContext(ctx, svc.timeout)
		defer cancel()

		pdf, err := svc.library.GetByID(ctx, ch.PDFID)
		if err != nil {
			return nil, errors.Wrap(err, "getting PDF")
		}
		file, err := svc.library.ResolveAIFile(ctx, pdf)
		if err != nil {
			return nil, errors.Wrap(err, "resolving AI file")
		}

		questions, err := svc.ai.Quiz(ctx, file, ch.Name)
		if err == nil && len(questions) == 0 {
			err = errors.New("no usable questions")
		}
		if err != nil {
			svc.logger.Warn("generating quiz, using fallback questions", err, map[string]interface{}{"chapter_id": ch.ID}, usr)
			view := Quiz{Chapter: ch.Name, Questions: FallbackQuestions(ch.Name)}.View()
			view.Fallback = true
			return view, nil
		}
		if len(questions) > QuizSize {
			questions = questions[:QuizSize]
		}

		quiz, err := svc.repo.CreateQuiz(ctx, ch.ID, questions, svc.now().UTC())
		if err != nil {
			return nil, errors.Wrap(err, "storing quiz")
		}
		quiz.Chapter = ch.Name
		return quiz.View(), nil
	})
	if err != nil {
		svc.logger.Error("generating quiz", err, map[string]interface{}{"chapter_id": ch.ID}, usr)
		return QuizView{}, &GenerationError{Message: "Failed to generate quiz", Err: err}
	}
	return v.(QuizView), nil
}

// getOwnedQuiz hides quizzes of other users behind ErrQuizNotFound.
func (svc *Service) getOwnedQuiz(ctx context.Context, usr user.User, id int) (Quiz, error) {
	quiz, err := svc.repo.GetQuiz(ctx, id)
	if err != nil {
		return Quiz{}, err
	}
	if quiz.UserID != usr.ID {
		return Quiz{}, ErrQuizNotFound
	}
	return quiz, nil
}

// QuizAnswers returns the correct answers of a quiz, with explanations.
func (svc *Service) QuizAnswers(ctx context.Context, usr user.User, id int) (Answers, error) {
	quiz, err := svc.getOwnedQuiz(ctx, usr, id)
	if err != nil {
		return Answers{}, err
	}
	answers := Answers{QuizID: quiz.ID, Chapter: quiz.Chapter, Answers: make([]Answer, 0, len(quiz.Questions))}
	for _, q := range quiz.Questions {
		answers.Answers = append(answers.Answers, Answer{QuestionID: q.ID, CorrectAnswer: q.CorrectAnswer, Explanation: q.Explanation})
	}
	return answers, nil
}

// GradeQuiz scores the reader's answers ({questionid: letter}). Unanswered questions count as wrong.
func (svc *Service) GradeQuiz(ctx context.Context, usr user.User, id int, selected map[int]string) (Grade, error) {
	quiz, err := svc.getOwnedQuiz(ctx, usr, id)
	if err != nil {
		return Grade{}, err
	}
	grade := Grade{QuizID: quiz.ID, Total: len(quiz.Questions), Results: make([]GradedAnswer, 0, len(quiz.Questions))}
	for _, q := range quiz.Questions {
		sel := AnswerLetter(selected[q.ID])
		correct := sel != "" && sel == q.CorrectAnswer
		if correct {
			grade.Score++
		}
		grade.Results = append(grade.Results, GradedAnswer{
			QuestionID:    q.ID,
			Selected:      sel,
			CorrectAnswer: q.CorrectAnswer,
			Correct:       correct,
			Explanation:   q.Explanation,
		})
	}
	return grade, nil
}

// FallbackQuestions are shown when no quiz could be generated for a chapter.
func FallbackQuestions(chapter string) []Question {
	return []Question{
		{
			Text: fmt.Sprintf("This is a sample question about %s. What is the correct answer?", chapter),
			Options: []string{
				"A. Sample answer 1",
				"B. Sample answer 2",
				"C. Sample answer 3",
				"D. Sample answer 4",
			},
			CorrectAnswer: AnswerA,
		},
	}
}
