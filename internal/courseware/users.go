package courseware

import (
	"context"
	"crypto/rand"
	"crypto/subtle"
	"encoding/base64"
	"fmt"
	"net/mail"
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/crypto/argon2"

	"github.com/kuitang/coursewalk/internal/errs"
)

// Argon2id parameters (OWASP: m=19456, t=2, p=1). They are embedded in every
// hash, so changing them leaves old hashes verifiable.
const (
	argon2Time    = 2
	argon2Memory  = 19 * 1024
	argon2Threads = 1
	argon2KeyLen  = 32
	argon2SaltLen = 16
)

// MinPasswordLength mirrors the platform's registration rule.
const MinPasswordLength = 8

var usernameRe = regexp.MustCompile(`^[A-Za-z0-9_.-]{1,64}$`)

// PasswordHasher hashes and verifies passwords.
type PasswordHasher interface {
	HashPassword(password string) (string, error)
	VerifyPassword(password, encodedHash string) bool
}

// Argon2Hasher is the production PasswordHasher.
type Argon2Hasher struct{}

// HashPassword returns $argon2id$v=19$m=..,t=..,p=..$<salt>$<hash>.
func (Argon2Hasher) HashPassword(password string) (string, error) {
	salt := make([]byte, argon2SaltLen)
	if _, err := rand.Read(salt); err != nil {
		return "", fmt.Errorf("generate salt: %w", err)
	}
	hash := argon2.IDKey([]byte(password), salt, argon2Time, argon2Memory, argon2Threads, argon2KeyLen)
	return fmt.Sprintf("$argon2id$v=19$m=%d,t=%d,p=%d$%s$%s",
		argon2Memory, argon2Time, argon2Threads,
		base64.RawStdEncoding.EncodeToString(salt),
		base64.RawStdEncoding.EncodeToString(hash),
	), nil
}

// VerifyPassword checks password against a hash from HashPassword.
func (Argon2Hasher) VerifyPassword(password, encodedHash string) bool {
	parts := strings.Split(encodedHash, "$")
	if len(parts) != 6 || parts[1] != "argon2id" || parts[2] != "v=19" {
		return false
	}
	var memory, iterations uint32
	var threads uint8
	if _, err := fmt.Sscanf(parts[3], "m=%d,t=%d,p=%d", &memory, &iterations, &threads); err != nil {
		return false
	}
	salt, err := base64.RawStdEncoding.DecodeString(parts[4])
	if err != nil {
		return false
	}
	want, err := base64.RawStdEncoding.DecodeString(parts[5])
	if err != nil {
		return false
	}
	got := argon2.IDKey([]byte(password), salt, iterations, memory, threads, uint32(len(want)))
	return subtle.ConstantTimeCompare(got, want) == 1
}

// FakeInsecureHasher stores "$fake$<plaintext>". Tests only.
type FakeInsecureHasher struct{}

func (FakeInsecureHasher) HashPassword(password string) (string, error) {
	return "$fake$" + password, nil
}

func (FakeInsecureHasher) VerifyPassword(password, encodedHash string) bool {
	return strings.TrimPrefix(encodedHash, "$fake$") == password
}

// User is a registered account.
type User struct {
	ID        string
	Username  string
	FirstName string
	LastName  string
	Email     string
	Course    string
	CreatedAt time.Time

	passwordHash string
}

// Registration is the submitted register form.
type Registration struct {
	Username    string
	FirstName   string
	LastName    string
	Email       string
	Password    string
	PasswordTwo string
	Course      string
}

// Validate returns one message per problem, in form order.
func (r Registration) Validate() []string {
	var problems []string
	if !usernameRe.MatchString(r.Username) {
		problems = append(problems, "Username: letters, digits and _ . - only")
	}
	if strings.TrimSpace(r.FirstName) == "" {
		problems = append(problems, "First name: cannot be empty")
	}
	if strings.TrimSpace(r.LastName) == "" {
		problems = append(problems, "Last name: cannot be empty")
	}
	if addr, err := mail.ParseAddress(r.Email); err != nil || addr.Address != r.Email {
		problems = append(problems, "Email: invalid email address")
	}
	if len(r.Password) < MinPasswordLength {
		problems = append(problems, fmt.Sprintf("Password: must be at least %d characters", MinPasswordLength))
	}
	if r.Password != r.PasswordTwo {
		problems = append(problems, "Verify Password: passwords do not match")
	}
	if strings.TrimSpace(r.Course) == "" {
		problems = append(problems, "Course Name: cannot be empty")
	}
	return problems
}

// CreateUser registers r. The course must exist.
func (s *Store) CreateUser(ctx context.Context, hasher PasswordHasher, r Registration) (*User, error) {
	if problems := r.Validate(); len(problems) > 0 {
		return nil, errs.New(errs.InvalidArgument, strings.Join(problems, "; "))
	}
	if _, err := s.CourseByName(ctx, r.Course); err != nil {
		if errs.Is(err, errs.NotFound) {
			return nil, errs.New(errs.InvalidArgument, fmt.Sprintf("Course Name: no course named %q", r.Course))
		}
		return nil, err
	}

	hash, err := hasher.HashPassword(r.Password)
	if err != nil {
		return nil, fmt.Errorf("hash password: %w", err)
	}
	u := &User{
		ID:           uuid.NewString(),
		Username:     r.Username,
		FirstName:    strings.TrimSpace(r.FirstName),
		LastName:     strings.TrimSpace(r.LastName),
		Email:        r.Email,
		Course:       r.Course,
		CreatedAt:    s.now().UTC().Truncate(time.Second),
		passwordHash: hash,
	}

	res, err := s.db.ExecContext(ctx,
		`INSERT OR IGNORE INTO users (id, username, first_name, last_name, email, password_hash, course, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		u.ID, u.Username, u.FirstName, u.LastName, u.Email, hash, u.Course, u.CreatedAt.Unix(),
	)
	if err != nil {
		return nil, fmt.Errorf("insert user: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return nil, errs.New(errs.FailedPrecondition, "Username: already taken")
	}
	return u, nil
}

const userColumns = `id, username, first_name, last_name, email, password_hash, course, created_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanUser(row rowScanner) (*User, error) {
	var u User
	var created int64
	if err := row.Scan(&u.ID, &u.Username, &u.FirstName, &u.LastName, &u.Email, &u.passwordHash, &u.Course, &created); err != nil {
		if isNoRows(err) {
			return nil, errs.New(errs.NotFound, "user not found")
		}
		return nil, fmt.Errorf("scan user: %w", err)
	}
	u.CreatedAt = time.Unix(created, 0).UTC()
	return &u, nil
}

// UserByID returns the user with id.
func (s *Store) UserByID(ctx context.Context, id string) (*User, error) {
	return scanUser(s.db.QueryRowContext(ctx, `SELECT `+userColumns+` FROM users WHERE id = ?`, id))
}

// Authenticate verifies a username and password.
func (s *Store) Authenticate(ctx context.Context, hasher PasswordHasher, username, password string) (*User, error) {
	u, err := scanUser(s.db.QueryRowContext(ctx, `SELECT `+userColumns+` FROM users WHERE username = ?`, username))
	if err != nil {
		if errs.Is(err, errs.NotFound) {
			return nil, errs.New(errs.Unauthenticated, "Invalid login")
		}
		return nil, err
	}
	if !hasher.VerifyPassword(password, u.passwordHash) {
		return nil, errs.New(errs.Unauthenticated, "Invalid login")
	}
	return u, nil
}

// SetUserCourse associates the user with course.
func (s *Store) SetUserCourse(ctx context.Context, userID, course string) error {
	res, err := s.db.ExecContext(ctx, `UPDATE users SET course = ? WHERE id = ?`, course, userID)
	if err != nil {
		return fmt.Errorf("update user course: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return errs.New(errs.NotFound, "user not found")
	}
	return nil
}
