package user

import (
	"time"

	"github.com/go-playground/validator/v10"
	"golang.org/x/crypto/bcrypt"

	"github.com/trezcool/kitabu/core"
)

// Login methods accepted by Service.Authenticate.
const (
	LoginByUsername = "username"
	LoginByEmail    = "email"
)

type User struct {
	ID           int       `json:"id"`
	Username     string    `json:"username"`
	Email        string    `json:"email"`
	IsActive     bool      `json:"is_active"`
	PasswordHash []byte    `json:"-"`
	CreatedAt    time.Time `json:"created_at"` // UTC
	UpdatedAt    time.Time `json:"updated_at"` // UTC
	LastLogin    time.Time `json:"last_login"` // UTC
}

func (u *User) SetPassword(pwd string) error {
	hash, err := bcrypt.GenerateFromPassword([]byte(pwd), bcrypt.DefaultCost)
	if err != nil {
		return err
	}
	u.PasswordHash = hash
	return nil
}

func (u *User) CheckPassword(pwd string) error {
	return bcrypt.CompareHashAndPassword(u.PasswordHash, []byte(pwd))
}

// Stats summarizes what a User has built so far.
type Stats struct {
	TotalPDFs      int        `json:"total_pdfs" db:"total_pdfs"`
	TotalChapters  int        `json:"total_chapters" db:"total_chapters"`
	TotalTopics    int        `json:"total_topics" db:"total_topics"`
	TotalSubtopics int        `json:"total_subtopics" db:"total_subtopics"`
	TotalQuizzes   int        `json:"total_quizzes" db:"total_quizzes"`
	LastUpload     *time.Time `json:"last_upload"`
}

type Profile struct {
	User
	Stats Stats `json:"statistics"`
}

// NewUser contains information needed to sign up.
type NewUser struct {
	Username string `json:"username" form:"username" validate:"required,min=3,max=50,alphanum_,username"`
	Email    string `json:"email" form:"email" validate:"required,email,max=254"`
	Password string `json:"password" form:"password" validate:"required"`
}

func (nu *NewUser) Clean() {
	nu.Username = core.CleanString(nu.Username, true /* lower */)
	nu.Email = core.CleanString(nu.Email, true /* lower */)
}

func (nu *NewUser) Validate(validate *validator.Validate) error {
	nu.Clean()
	return validate.Struct(nu)
}

// UpdateUser defines what information may be provided to modify an existing User.
type UpdateUser struct {
	Email           string `json:"email" validate:"omitempty,email,max=254"`
	Password        string `json:"password" validate:"omitempty"`
	PasswordConfirm string `json:"password_confirm" validate:"required_with=Password,eqfield=Password"`

	username string // for the password policy
}

func (uu *UpdateUser) Validate(origUsr User, validate *validator.Validate) error {
	email := core.CleanString(uu.Email, true /* lower */)
	if email != "" {
		uu.Email = email
	} else {
		uu.Email = origUsr.Email
	}
	uu.username = origUsr.Username
	return validate.Struct(uu)
}

type ResetUserPassword struct {
	UID             string `json:"uid,omitempty" validate:"required"`
	Token           string `json:"token,omitempty" validate:"required"`
	Password        string `json:"password,omitempty" validate:"required"`
	PasswordConfirm string `json:"password_confirm,omitempty" validate:"required,eqfield=Password"`
}

func (rp ResetUserPassword) Validate(validate *validator.Validate) error { return validate.Struct(rp) }
