package sqlxrepos

import (
	"context"
	"database/sql"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/pkg/errors"
	"github.com/volatiletech/null/v8"

	"github.com/trezcool/kitabu/core"
	"github.com/trezcool/kitabu/core/user"
)

type userRow struct {
	ID           int       `db:"id"`
	Username     string    `db:"username"`
	Email        string    `db:"email"`
	PasswordHash []byte    `db:"password_hash"`
	IsActive     bool      `db:"is_active"`
	CreatedAt    time.Time `db:"created_at"`
	UpdatedAt    time.Time `db:"updated_at"`
	LastLogin    null.Time `db:"last_login"`
}

func (r userRow) user() user.User {
	return user.User{
		ID:           r.ID,
		Username:     r.Username,
		Email:        r.Email,
		IsActive:     r.IsActive,
		PasswordHash: r.PasswordHash,
		CreatedAt:    r.CreatedAt.UTC(),
		UpdatedAt:    r.UpdatedAt.UTC(),
		LastLogin:    r.LastLogin.Time.UTC(),
	}
}

const userColumns = "id, username, email, password_hash, is_active, created_at, updated_at, last_login"

type userRepository struct {
	db core.DBExecutor
}

var _ user.Repository = (*userRepository)(nil) // interface compliance check

func NewUserRepository(db core.DBExecutor) *userRepository {
	return &userRepository{db: db}
}

// trapNoRowsErr maps "no rows" err to user.ErrNotFound
func (repo userRepository) trapNoRowsErr(err error, msg string) error {
	if err == sql.ErrNoRows {
		return user.ErrNotFound
	}
	return errors.Wrap(err, msg)
}

func (repo userRepository) getUser(ctx context.Context, where string, args ...interface{}) (user.User, error) {
	var row userRow
	q := repo.db.Rebind("SELECT " + userColumns + ` FROM users WHERE ` + where)
	if err := sqlx.GetContext(ctx, repo.db, &row, q, args...); err != nil {
		return user.User{}, repo.trapNoRowsErr(err, "getting user")
	}
	return row.user(), nil
}

func (repo userRepository) CheckUniqueness(ctx context.Context, username, email string, excludedUsers ...user.User) error {
	check := func(column, value string, found error) error {
		q := "SELECT COUNT(*) FROM users WHERE LOWER(" + column + ") = LOWER(?)"
		args := []interface{}{value}
		if len(excludedUsers) > 0 {
			ids := make([]int, 0, len(excludedUsers))
			for _, u := range excludedUsers {
				ids = append(ids, u.ID)
			}
			inQ, inArgs, err := sqlx.In(" AND id NOT IN (?)", ids)
			if err != nil {
				return errors.Wrap(err, "building uniqueness query")
			}
			q += inQ
			args = append(args, inArgs...)
		}

		var count int
		if err := sqlx.GetContext(ctx, repo.db, &count, repo.db.Rebind(q), args...); err != nil {
			return errors.Wrap(err, "checking user uniqueness")
		}
		if count > 0 {
			return found
		}
		return nil
	}

	if err := check("email", email, user.ErrEmailExists); err != nil {
		return err
	}
	return check("username", username, user.ErrUsernameExists)
}

func (repo userRepository) CreateUser(ctx context.Context, usr user.User) (user.User, error) {
	q := repo.db.Rebind(`
		INSERT INTO users (username, email, password_hash, is_active, created_at, updated_at, last_login)
		VALUES (?, ?, ?, ?, ?, ?, ?) RETURNING id`)
	err := sqlx.GetContext(
		ctx, repo.db, &usr.ID, q,
		usr.Username, usr.Email, usr.PasswordHash, usr.IsActive,
		usr.CreatedAt.UTC(), usr.UpdatedAt.UTC(), null.NewTime(usr.LastLogin.UTC(), !usr.LastLogin.IsZero()),
	)
	if err != nil {
		return user.User{}, errors.Wrap(err, "inserting user")
	}
	return usr, nil
}

func (repo userRepository) QueryAllUsers(ctx context.Context) ([]user.User, error) {
	var rows []userRow
	if err := sqlx.SelectContext(ctx, repo.db, &rows, "SELECT "+userColumns+" FROM users ORDER BY username"); err != nil {
		return nil, errors.Wrap(err, "querying users")
	}
	users := make([]user.User, 0, len(rows))
	for _, r := range rows {
		users = append(users, r.user())
	}
	return users, nil
}

func (repo userRepository) GetUserByID(ctx context.Context, id int) (user.User, error) {
	return repo.getUser(ctx, "id = ?", id)
}

func (repo userRepository) GetUserByUsername(ctx context.Context, username string) (user.User, error) {
	return repo.getUser(ctx, "LOWER(username) = LOWER(?)", username)
}

func (repo userRepository) GetUserByEmail(ctx context.Context, email string) (user.User, error) {
	return repo.getUser(ctx, "LOWER(email) = LOWER(?)", email)
}

func (repo userRepository) GetUserByUsernameOrEmail(ctx context.Context, login string) (user.User, error) {
	return repo.getUser(ctx, "LOWER(username) = LOWER(?) OR LOWER(email) = LOWER(?)", login, login)
}

func (repo userRepository) UpdateUser(ctx context.Context, usr user.User) (user.User, error) {
	q := repo.db.Rebind(`
		UPDATE users SET username = ?, email = ?, password_hash = ?, is_active = ?, updated_at = ?
		WHERE id = ?`)
	res, err := repo.db.ExecContext(
		ctx, q, usr.Username, usr.Email, usr.PasswordHash, usr.IsActive, usr.UpdatedAt.UTC(), usr.ID,
	)
	if err != nil {
		return user.User{}, errors.Wrap(err, "updating user")
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return user.User{}, user.ErrNotFound
	}
	return usr, nil
}

func (repo userRepository) SetLastLogin(ctx context.Context, id int, at time.Time) error {
	q := repo.db.Rebind("UPDATE users SET last_login = ? WHERE id = ?")
	if _, err := repo.db.ExecContext(ctx, q, at.UTC(), id); err != nil {
		return errors.Wrap(err, "setting last login")
	}
	return nil
}

func (repo userRepository) GetUserStats(ctx context.Context, id int) (user.Stats, error) {
	var stats user.Stats
	q := repo.db.Rebind(`
		SELECT
			(SELECT COUNT(*) FROM pdfs WHERE user_id = ?) AS total_pdfs,
			(SELECT COUNT(*) FROM chapters c JOIN pdfs p ON p.id = c.pdf_id WHERE p.user_id = ?) AS total_chapters,
			(SELECT COUNT(*) FROM topics t
				JOIN chapters c ON c.id = t.chapter_id JOIN pdfs p ON p.id = c.pdf_id
				WHERE p.user_id = ?) AS total_topics,
			(SELECT COUNT(*) FROM subtopics s
				JOIN topics t ON t.id = s.topic_id JOIN chapters c ON c.id = t.chapter_id JOIN pdfs p ON p.id = c.pdf_id
				WHERE p.user_id = ?) AS total_subtopics,
			(SELECT COUNT(*) FROM quizzes z
				JOIN chapters c ON c.id = z.chapter_id JOIN pdfs p ON p.id = c.pdf_id
				WHERE p.user_id = ?) AS total_quizzes`)
	if err := sqlx.GetContext(ctx, repo.db, &stats, q, id, id, id, id, id); err != nil {
		return user.Stats{}, errors.Wrap(err, "counting user stats")
	}

	var last []time.Time
	q = repo.db.Rebind("SELECT created_at FROM pdfs WHERE user_id = ? ORDER BY created_at DESC, id DESC LIMIT 1")
	if err := sqlx.SelectContext(ctx, repo.db, &last, q, id); err != nil {
		return user.Stats{}, errors.Wrap(err, "getting last upload")
	}
	if len(last) > 0 {
		at := last[0].UTC()
		stats.LastUpload = &at
	}
	return stats, nil
}
