package courseware

import (
	"context"
	"fmt"
	"regexp"

	"github.com/kuitang/coursewalk/internal/errs"
)

// MaxProgramBytes caps a saved program.
const MaxProgramBytes = 64 << 10

var acidRe = regexp.MustCompile(`^[A-Za-z0-9_-]{1,128}$`)

// SaveProgram stores source as the user's latest version of activecode acid.
func (s *Store) SaveProgram(ctx context.Context, userID, acid, source string) error {
	if !acidRe.MatchString(acid) {
		return errs.New(errs.InvalidArgument, "invalid acid")
	}
	if len(source) > MaxProgramBytes {
		return errs.New(errs.InvalidArgument, "program too large")
	}
	if _, err := s.db.ExecContext(ctx,
		`INSERT INTO programs (user_id, acid, source, updated_at) VALUES (?, ?, ?, ?)
		 ON CONFLICT (user_id, acid) DO UPDATE SET source = excluded.source, updated_at = excluded.updated_at`,
		userID, acid, source, s.now().Unix(),
	); err != nil {
		return fmt.Errorf("save program: %w", err)
	}
	return nil
}

// LoadProgram returns the user's latest saved source for acid.
func (s *Store) LoadProgram(ctx context.Context, userID, acid string) (string, error) {
	if !acidRe.MatchString(acid) {
		return "", errs.New(errs.InvalidArgument, "invalid acid")
	}
	var source string
	err := s.db.QueryRowContext(ctx,
		`SELECT source FROM programs WHERE user_id = ? AND acid = ?`, userID, acid,
	).Scan(&source)
	if err != nil {
		if isNoRows(err) {
			return "", errs.New(errs.NotFound, "no saved program for "+acid)
		}
		return "", fmt.Errorf("load program: %w", err)
	}
	return source, nil
}
