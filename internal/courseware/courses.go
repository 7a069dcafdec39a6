package courseware

import (
	"context"
	"fmt"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/kuitang/coursewalk/internal/errs"
	"github.com/kuitang/coursewalk/internal/obs"
)

// DefaultBaseCourse is the book new courses are built from by default.
const DefaultBaseCourse = "thinkcspy"

// BaseCourses are the templates the designer offers.
var BaseCourses = []string{"thinkcspy", "pythonds", "overview"}

// Course status values.
const (
	CourseBuilding = "building"
	CourseReady    = "ready"
	CourseFailed   = "failed"
)

var courseNameRe = regexp.MustCompile(`^[A-Za-z0-9_-]{1,64}$`)

// Course is one course instance.
type Course struct {
	Name        string
	Description string
	BaseCourse  string
	Status      string
	CreatedAt   time.Time
}

// Ready reports whether the course has been provisioned.
func (c *Course) Ready() bool { return c.Status == CourseReady }

// Failed reports whether provisioning gave up on the course.
func (c *Course) Failed() bool { return c.Status == CourseFailed }

// NewCourse is the submitted designer form.
type NewCourse struct {
	Name        string
	Description string
	BaseCourse  string
}

// Validate returns one message per problem.
func (n NewCourse) Validate() []string {
	var problems []string
	if !courseNameRe.MatchString(n.Name) {
		problems = append(problems, "Project name: letters, digits, _ and - only")
	}
	if strings.TrimSpace(n.Description) == "" {
		problems = append(problems, "Description: cannot be empty")
	}
	if !isBaseCourse(n.BaseCourse) {
		problems = append(problems, "Base course: choose one of "+strings.Join(BaseCourses, ", "))
	}
	return problems
}

func isBaseCourse(name string) bool {
	for _, b := range BaseCourses {
		if b == name {
			return true
		}
	}
	return false
}

// CreateCourse inserts n in the building state.
func (s *Store) CreateCourse(ctx context.Context, n NewCourse) (*Course, error) {
	if problems := n.Validate(); len(problems) > 0 {
		return nil, errs.New(errs.InvalidArgument, strings.Join(problems, "; "))
	}
	c := &Course{
		Name:        n.Name,
		Description: strings.TrimSpace(n.Description),
		BaseCourse:  n.BaseCourse,
		Status:      CourseBuilding,
		CreatedAt:   s.now().UTC().Truncate(time.Second),
	}
	res, err := s.db.ExecContext(ctx,
		`INSERT OR IGNORE INTO courses (name, description, base_course, status, created_at) VALUES (?, ?, ?, ?, ?)`,
		c.Name, c.Description, c.BaseCourse, c.Status, c.CreatedAt.Unix(),
	)
	if err != nil {
		return nil, fmt.Errorf("insert course: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return nil, errs.New(errs.FailedPrecondition, fmt.Sprintf("Project name: %q already exists", c.Name))
	}
	return c, nil
}

// CourseByName returns the named course.
func (s *Store) CourseByName(ctx context.Context, name string) (*Course, error) {
	var c Course
	var created int64
	err := s.db.QueryRowContext(ctx,
		`SELECT name, description, base_course, status, created_at FROM courses WHERE name = ?`, name,
	).Scan(&c.Name, &c.Description, &c.BaseCourse, &c.Status, &created)
	if err != nil {
		if isNoRows(err) {
			return nil, errs.New(errs.NotFound, "course not found")
		}
		return nil, fmt.Errorf("get course: %w", err)
	}
	c.CreatedAt = time.Unix(created, 0).UTC()
	return &c, nil
}

// BuildingCourses lists courses still waiting for provisioning.
func (s *Store) BuildingCourses(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT name FROM courses WHERE status = ? ORDER BY created_at`, CourseBuilding)
	if err != nil {
		return nil, fmt.Errorf("list building courses: %w", err)
	}
	defer rows.Close()
	var names []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, fmt.Errorf("scan course name: %w", err)
		}
		names = append(names, name)
	}
	return names, rows.Err()
}

// SetCourseStatus moves a course to status.
func (s *Store) SetCourseStatus(ctx context.Context, name, status string) error {
	var readyAt any
	if status == CourseReady {
		readyAt = s.now().Unix()
	}
	res, err := s.db.ExecContext(ctx, `UPDATE courses SET status = ?, ready_at = ? WHERE name = ?`, status, readyAt, name)
	if err != nil {
		return fmt.Errorf("update course status: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return errs.New(errs.NotFound, "course not found")
	}
	return nil
}

// Provisioner builds courses in the background. Each course becomes ready
// Delay after it was enqueued.
type Provisioner struct {
	store *Store
	delay time.Duration
	jobs  chan string

	stopCh   chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

// provisionQueueSize bounds pending builds; Enqueue fails beyond it.
const provisionQueueSize = 64

// NewProvisioner starts the worker goroutine. Call Stop to release it.
func NewProvisioner(store *Store, delay time.Duration) *Provisioner {
	p := &Provisioner{
		store:  store,
		delay:  delay,
		jobs:   make(chan string, provisionQueueSize),
		stopCh: make(chan struct{}),
	}
	p.wg.Add(1)
	go p.run()
	return p
}

// Enqueue schedules course for provisioning.
func (p *Provisioner) Enqueue(course string) error {
	select {
	case <-p.stopCh:
		return errs.New(errs.Unavailable, "provisioner stopped")
	default:
	}
	select {
	case p.jobs <- course:
		return nil
	default:
		return errs.New(errs.Unavailable, "too many courses building, try again later")
	}
}

// Resume re-enqueues courses left building by a previous process.
func (p *Provisioner) Resume(ctx context.Context) error {
	names, err := p.store.BuildingCourses(ctx)
	if err != nil {
		return err
	}
	for _, name := range names {
		if err := p.Enqueue(name); err != nil {
			return err
		}
	}
	return nil
}

func (p *Provisioner) run() {
	defer p.wg.Done()
	logger := obs.Pkg("courseware")

	for {
		select {
		case <-p.stopCh:
			return
		case course := <-p.jobs:
			timer := time.NewTimer(p.delay)
			select {
			case <-p.stopCh:
				timer.Stop()
				return
			case <-timer.C:
			}
			start := time.Now()
			if err := p.build(context.Background(), course); err != nil {
				logger.Error("course_provision_failed", "course", course, "error", err)
				if err := p.store.SetCourseStatus(context.Background(), course, CourseFailed); err != nil {
					logger.Error("course_mark_failed", "course", course, "error", err)
				}
				continue
			}
			logger.Info("course_ready", "course", course, "dur_ms", time.Since(start).Milliseconds())
		}
	}
}

// build checks the course's base book is still offered and marks it ready.
func (p *Provisioner) build(ctx context.Context, course string) error {
	c, err := p.store.CourseByName(ctx, course)
	if err != nil {
		return err
	}
	if !isBaseCourse(c.BaseCourse) {
		return errs.New(errs.FailedPrecondition, fmt.Sprintf("base course %q is not available", c.BaseCourse))
	}
	return p.store.SetCourseStatus(ctx, course, CourseReady)
}

// Stop ends the worker and waits for it. Pending courses stay building.
func (p *Provisioner) Stop() {
	p.stopOnce.Do(func() { close(p.stopCh) })
	p.wg.Wait()
}
