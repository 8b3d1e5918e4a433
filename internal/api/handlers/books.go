package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"os"
	"strconv"

	"github.com/go-chi/chi/v5"

	"shelfkeeper/internal/catalog"
)

// BooksHandler serves catalog reads and metadata edits.
type BooksHandler struct {
	Store *catalog.Store
}

// List handles GET /api/books with limit/offset pagination.
func (h *BooksHandler) List(w http.ResponseWriter, r *http.Request) {
	limit, offset := parsePagination(r)

	books, err := h.Store.List(r.Context(), limit, offset)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "INTERNAL_ERROR", err.Error())
		return
	}
	total, err := h.Store.Count(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "INTERNAL_ERROR", err.Error())
		return
	}
	if books == nil {
		books = []*catalog.Audiobook{}
	}
	writeJSON(w, http.StatusOK, ListResponse[*catalog.Audiobook]{
		Items:  books,
		Total:  total,
		Limit:  limit,
		Offset: offset,
	})
}

// Get handles GET /api/books/{id}.
func (h *BooksHandler) Get(w http.ResponseWriter, r *http.Request) {
	book, ok := h.lookup(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, book)
}

// bookPatch carries the editable metadata fields. Pointers distinguish
// "leave alone" from "set to zero value".
type bookPatch struct {
	Title           *string  `json:"title"`
	Author          *string  `json:"author"`
	Narrator        *string  `json:"narrator"`
	PositionSeconds *float64 `json:"position_seconds"`
}

// Update handles PATCH /api/books/{id}.
func (h *BooksHandler) Update(w http.ResponseWriter, r *http.Request) {
	book, ok := h.lookup(w, r)
	if !ok {
		return
	}

	var patch bookPatch
	if err := json.NewDecoder(r.Body).Decode(&patch); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_BODY", "Malformed JSON body")
		return
	}
	if patch.Title != nil {
		book.Title = *patch.Title
	}
	if patch.Author != nil {
		book.Author = *patch.Author
	}
	if patch.Narrator != nil {
		book.Narrator = *patch.Narrator
	}
	if patch.PositionSeconds != nil {
		book.PositionSeconds = *patch.PositionSeconds
	}

	if err := h.Store.Update(r.Context(), book); err != nil {
		writeError(w, http.StatusInternalServerError, "INTERNAL_ERROR", err.Error())
		return
	}
	writeJSON(w, http.StatusOK, book)
}

// Delete handles DELETE /api/books/{id}. With ?delete_file=true the
// file on disk is removed as well; a file already gone is not an error.
func (h *BooksHandler) Delete(w http.ResponseWriter, r *http.Request) {
	book, ok := h.lookup(w, r)
	if !ok {
		return
	}

	if r.URL.Query().Get("delete_file") == "true" {
		if err := os.Remove(book.Path); err != nil && !errors.Is(err, os.ErrNotExist) {
			writeError(w, http.StatusInternalServerError, "DELETE_FAILED", err.Error())
			return
		}
	}
	if err := h.Store.Delete(r.Context(), book.ID); err != nil {
		writeError(w, http.StatusInternalServerError, "INTERNAL_ERROR", err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "id": book.ID})
}

func (h *BooksHandler) lookup(w http.ResponseWriter, r *http.Request) (*catalog.Audiobook, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_ID", "Book id must be an integer")
		return nil, false
	}
	book, err := h.Store.Get(r.Context(), id)
	if errors.Is(err, catalog.ErrNotFound) {
		writeError(w, http.StatusNotFound, "NOT_FOUND", "No such book")
		return nil, false
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, "INTERNAL_ERROR", err.Error())
		return nil, false
	}
	return book, true
}
