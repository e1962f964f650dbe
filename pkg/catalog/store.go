package catalog

import (
	"context"
	"errors"
	"strings"
	"time"

	"library_catalog/pkg/circuitbreaker"
	"library_catalog/pkg/models"

	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

const (
	OpListAll  = "list_all"
	OpGet      = "get"
	OpCreate   = "create"
	OpUpdate   = "update"
	OpDelete   = "delete"
	OpSearch   = "search"
	OpCheckout = "checkout"
	OpCheckin  = "checkin"
	OpMigrate  = "migrate"
)

// OperationRecorder receives the outcome of every store operation.
type OperationRecorder interface {
	ObserveOperation(op string, err error)
}

// Store is the catalog's persistence layer. Each operation issues a single
// statement; there is no in-process caching.
type Store struct {
	db       *gorm.DB
	breaker  *circuitbreaker.CircuitBreaker
	now      func() time.Time
	recorder OperationRecorder
	log      logrus.FieldLogger
}

type Option func(*Store)

func WithBreaker(cb *circuitbreaker.CircuitBreaker) Option {
	return func(s *Store) {
		s.breaker = cb
	}
}

func WithClock(now func() time.Time) Option {
	return func(s *Store) {
		s.now = now
	}
}

func WithRecorder(r OperationRecorder) Option {
	return func(s *Store) {
		s.recorder = r
	}
}

func WithLogger(log logrus.FieldLogger) Option {
	return func(s *Store) {
		s.log = log
	}
}

func NewStore(db *gorm.DB, opts ...Option) *Store {
	s := &Store{
		db:      db,
		breaker: circuitbreaker.NewCircuitBreaker(0, 0),
		now:     time.Now,
		log:     logrus.StandardLogger(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// NewBreaker builds a circuit breaker that only counts storage failures,
// so not-found and validation errors never open it.
func NewBreaker(maxFailures int, timeout, window time.Duration) *circuitbreaker.CircuitBreaker {
	return circuitbreaker.NewCircuitBreakerWithWindow(maxFailures, timeout, window,
		circuitbreaker.WithFailureFilter(func(err error) bool {
			var se *StorageError
			return errors.As(err, &se)
		}))
}

// Migrate creates the books table if it does not exist yet.
func (s *Store) Migrate(ctx context.Context) error {
	return s.run(ctx, OpMigrate, func(db *gorm.DB) error {
		return db.AutoMigrate(&models.Book{})
	})
}

func (s *Store) ListAll(ctx context.Context) ([]models.Book, error) {
	books := make([]models.Book, 0)
	err := s.run(ctx, OpListAll, func(db *gorm.DB) error {
		return db.Order("title ASC").Order("id ASC").Find(&books).Error
	})
	if err != nil {
		return nil, err
	}
	return books, nil
}

func (s *Store) Get(ctx context.Context, id uint) (models.Book, error) {
	var book models.Book
	err := s.run(ctx, OpGet, func(db *gorm.DB) error {
		return db.First(&book, id).Error
	})
	return book, err
}

func (s *Store) Create(ctx context.Context, in models.BookInput) (uint, error) {
	in, err := validate(in)
	if err != nil {
		s.observe(OpCreate, err)
		return 0, err
	}

	now := s.timestamp()
	book := models.Book{
		Title:           in.Title,
		Author:          in.Author,
		PublicationDate: in.PublicationDate,
		Edition:         in.Edition,
		IsBorrowed:      false,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	err = s.run(ctx, OpCreate, func(db *gorm.DB) error {
		return db.Create(&book).Error
	})
	if err != nil {
		return 0, err
	}

	s.log.WithFields(logrus.Fields{"id": book.ID, "title": book.Title}).Debug("book added")
	return book.ID, nil
}

// Update overwrites the descriptive fields of a book. The borrowed flag is
// left alone.
func (s *Store) Update(ctx context.Context, id uint, in models.BookInput) error {
	in, err := validate(in)
	if err != nil {
		s.observe(OpUpdate, err)
		return err
	}

	return s.mutate(ctx, OpUpdate, id, map[string]interface{}{
		"title":            in.Title,
		"author":           in.Author,
		"publication_date": in.PublicationDate,
		"edition":          in.Edition,
	})
}

func (s *Store) Delete(ctx context.Context, id uint) error {
	return s.run(ctx, OpDelete, func(db *gorm.DB) error {
		res := db.Delete(&models.Book{}, id)
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return ErrNotFound
		}
		return nil
	})
}

// Search matches title and author as case-insensitive substrings and
// publication date and edition exactly. Provided fields are ANDed and an
// empty filter returns the whole catalog.
func (s *Store) Search(ctx context.Context, f models.SearchFilter) ([]models.Book, error) {
	books := make([]models.Book, 0)
	err := s.run(ctx, OpSearch, func(db *gorm.DB) error {
		return searchScope(db, f).Order("title ASC").Order("id ASC").Find(&books).Error
	})
	if err != nil {
		return nil, err
	}
	return books, nil
}

func searchScope(db *gorm.DB, f models.SearchFilter) *gorm.DB {
	query := db.Model(&models.Book{})
	if f.IsEmpty() {
		return query
	}
	if f.Title != "" {
		query = query.Where(`LOWER(title) LIKE LOWER(?) ESCAPE '\'`, containsPattern(f.Title))
	}
	if f.Author != "" {
		query = query.Where(`LOWER(author) LIKE LOWER(?) ESCAPE '\'`, containsPattern(f.Author))
	}
	if f.PublicationDate != "" {
		query = query.Where("publication_date = ?", f.PublicationDate)
	}
	if f.Edition != "" {
		query = query.Where("edition = ?", f.Edition)
	}
	return query
}

// Checkout marks a book as borrowed. Checking out a borrowed book is not an
// error.
func (s *Store) Checkout(ctx context.Context, id uint) error {
	return s.mutate(ctx, OpCheckout, id, map[string]interface{}{"is_borrowed": true})
}

func (s *Store) Checkin(ctx context.Context, id uint) error {
	return s.mutate(ctx, OpCheckin, id, map[string]interface{}{"is_borrowed": false})
}

func (s *Store) mutate(ctx context.Context, op string, id uint, values map[string]interface{}) error {
	values["updated_at"] = s.timestamp()
	return s.run(ctx, op, func(db *gorm.DB) error {
		res := db.Model(&models.Book{}).Where("id = ?", id).Updates(values)
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return ErrNotFound
		}
		return nil
	})
}

func (s *Store) run(ctx context.Context, op string, fn func(db *gorm.DB) error) error {
	err := s.breaker.Execute(func() error {
		return classify(op, fn(s.db.WithContext(ctx)))
	}, func() error {
		return ErrUnavailable
	})
	s.observe(op, err)
	if err != nil && IsStorage(err) {
		s.log.WithError(err).WithField("op", op).Error("catalog store operation failed")
	}
	return err
}

func (s *Store) observe(op string, err error) {
	if s.recorder != nil {
		s.recorder.ObserveOperation(op, err)
	}
}

// timestamp is truncated to microseconds so values survive a round trip
// through postgres unchanged.
func (s *Store) timestamp() time.Time {
	return s.now().UTC().Truncate(time.Microsecond)
}

func classify(op string, err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, ErrNotFound):
		return ErrNotFound
	case errors.Is(err, gorm.ErrRecordNotFound):
		return ErrNotFound
	default:
		return &StorageError{Op: op, Err: err}
	}
}

func validate(in models.BookInput) (models.BookInput, error) {
	in.Title = strings.TrimSpace(in.Title)
	in.Author = strings.TrimSpace(in.Author)
	in.PublicationDate = strings.TrimSpace(in.PublicationDate)
	in.Edition = strings.TrimSpace(in.Edition)

	required := []struct {
		field string
		value string
	}{
		{"title", in.Title},
		{"author", in.Author},
		{"publication_date", in.PublicationDate},
		{"edition", in.Edition},
	}
	for _, r := range required {
		if r.value == "" {
			return in, &ValidationError{Field: r.field, Message: "is required"}
		}
	}
	return in, nil
}

var likeEscaper = strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)

func containsPattern(s string) string {
	return "%" + likeEscaper.Replace(s) + "%"
}
