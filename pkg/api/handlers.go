package api

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"library_catalog/pkg/catalog"
	"library_catalog/pkg/models"

	"github.com/gin-gonic/gin"
)

// TimestampLayout is sqlite's CURRENT_TIMESTAMP layout with microseconds.
const TimestampLayout = "2006-01-02 15:04:05.000000"

// BookStore is the subset of the catalog store the HTTP layer needs.
type BookStore interface {
	ListAll(ctx context.Context) ([]models.Book, error)
	Get(ctx context.Context, id uint) (models.Book, error)
	Create(ctx context.Context, in models.BookInput) (uint, error)
	Update(ctx context.Context, id uint, in models.BookInput) error
	Delete(ctx context.Context, id uint) error
	Search(ctx context.Context, f models.SearchFilter) ([]models.Book, error)
	Checkout(ctx context.Context, id uint) error
	Checkin(ctx context.Context, id uint) error
}

type BookHandler struct {
	store BookStore
}

func NewBookHandler(store BookStore) *BookHandler {
	return &BookHandler{store: store}
}

func (h *BookHandler) List(c *gin.Context) {
	books, err := h.store.ListAll(c.Request.Context())
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, booksJSON(books))
}

func (h *BookHandler) Get(c *gin.Context) {
	id, ok := bookID(c)
	if !ok {
		return
	}
	book, err := h.store.Get(c.Request.Context(), id)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, bookJSON(book))
}

func (h *BookHandler) Create(c *gin.Context) {
	var in models.BookInput
	if err := c.ShouldBindJSON(&in); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body: " + err.Error()})
		return
	}
	id, err := h.store.Create(c.Request.Context(), in)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"id": id})
}

func (h *BookHandler) Update(c *gin.Context) {
	id, ok := bookID(c)
	if !ok {
		return
	}
	var in models.BookInput
	if err := c.ShouldBindJSON(&in); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body: " + err.Error()})
		return
	}
	if err := h.store.Update(c.Request.Context(), id, in); err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "Book updated successfully"})
}

func (h *BookHandler) Delete(c *gin.Context) {
	id, ok := bookID(c)
	if !ok {
		return
	}
	if err := h.store.Delete(c.Request.Context(), id); err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "Book deleted successfully"})
}

func (h *BookHandler) Search(c *gin.Context) {
	var filter models.SearchFilter
	if err := c.ShouldBindQuery(&filter); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	books, err := h.store.Search(c.Request.Context(), filter)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, booksJSON(books))
}

func (h *BookHandler) Checkout(c *gin.Context) {
	id, ok := bookID(c)
	if !ok {
		return
	}
	if err := h.store.Checkout(c.Request.Context(), id); err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "Book checked out successfully"})
}

func (h *BookHandler) Checkin(c *gin.Context) {
	id, ok := bookID(c)
	if !ok {
		return
	}
	if err := h.store.Checkin(c.Request.Context(), id); err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "Book checked in successfully"})
}

func bookID(c *gin.Context) (uint, bool) {
	id, err := strconv.ParseUint(c.Param("id"), 10, 64)
	if err != nil || id == 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid book id"})
		return 0, false
	}
	return uint(id), true
}

// writeError maps store errors to status codes. Storage failures keep their
// underlying message in the body.
func writeError(c *gin.Context, err error) {
	switch {
	case catalog.IsValidation(err):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	case errors.Is(err, catalog.ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
	default:
		c.Error(err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
	}
}

func bookJSON(b models.Book) gin.H {
	borrowed := 0
	if b.IsBorrowed {
		borrowed = 1
	}
	return gin.H{
		"id":               b.ID,
		"title":            b.Title,
		"author":           b.Author,
		"publication_date": b.PublicationDate,
		"edition":          b.Edition,
		"is_borrowed":      borrowed,
		"created_at":       formatTime(b.CreatedAt),
		"updated_at":       formatTime(b.UpdatedAt),
	}
}

func booksJSON(books []models.Book) []gin.H {
	items := make([]gin.H, len(books))
	for i, b := range books {
		items[i] = bookJSON(b)
	}
	return items
}

func formatTime(t time.Time) string {
	return t.UTC().Format(TimestampLayout)
}
