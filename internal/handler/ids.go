package handler

import (
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"

	"boacid/internal/issuance"
	"boacid/internal/ledger"
	"boacid/internal/photos"
	"boacid/internal/qr"
	"boacid/internal/record"
)

const maxPhotoBytes = 10 << 20

const noRecords = "no resident records found"

type issueRequest struct {
	IDNumber      string `form:"id_number"`
	FullName      string `form:"full_name"`
	Nickname      string `form:"nickname"`
	Position      string `form:"position"`
	Office        string `form:"office"`
	ContactName   string `form:"contact_name"`
	ContactNumber string `form:"contact_number"`
	Address       string `form:"address"`
}

// IssueID handles the ID form.
// Expects a form with the record fields and an optional photo_file.
func (h *Handler) IssueID(c *gin.Context) {
	var req issueRequest
	if err := c.ShouldBind(&req); err != nil {
		fail(c, http.StatusBadRequest, err.Error(), nil)
		return
	}

	photo, err := readPhoto(c)
	if err != nil {
		fail(c, http.StatusBadRequest, err.Error(), nil)
		return
	}

	rec, err := h.ids.Issue(c.Request.Context(), issuance.Form(req), photo)
	if err != nil {
		status, msg := issueError(err)
		fail(c, status, msg, err)
		return
	}

	card, err := h.ids.Card(rec)
	if err != nil {
		fail(c, http.StatusInternalServerError, "record saved but QR generation failed", err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{
		"message": fmt.Sprintf("ID for %s is ready!", rec.FullName),
		"record":  card.Record,
		"qr_code": card.QR,
	})
}

// readPhoto returns nil when no photo was posted.
func readPhoto(c *gin.Context) (*issuance.Photo, error) {
	fh, err := c.FormFile("photo_file")
	if errors.Is(err, http.ErrMissingFile) || errors.Is(err, http.ErrNotMultipart) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if fh.Filename == "" {
		return nil, nil
	}
	if fh.Size > maxPhotoBytes {
		return nil, fmt.Errorf("photo exceeds %d MB", maxPhotoBytes>>20)
	}
	f, err := fh.Open()
	if err != nil {
		return nil, err
	}
	defer f.Close()
	data, err := io.ReadAll(io.LimitReader(f, maxPhotoBytes))
	if err != nil {
		return nil, err
	}
	return &issuance.Photo{Data: data}, nil
}

func issueError(err error) (int, string) {
	switch {
	case errors.Is(err, issuance.ErrMissingField):
		return http.StatusBadRequest, err.Error()
	case errors.Is(err, issuance.ErrFieldTooLong):
		return http.StatusBadRequest, issuance.ErrFieldTooLong.Error()
	case errors.Is(err, photos.ErrInvalidName):
		return http.StatusBadRequest, "id_number cannot be used as a photo name"
	default:
		return storeError(err)
	}
}

// storeError never reports a read failure as an empty list.
func storeError(err error) (int, string) {
	switch {
	case errors.Is(err, ledger.ErrCorrupt), errors.Is(err, ledger.ErrHeaderMismatch):
		return http.StatusInternalServerError, "record store is unreadable"
	case errors.Is(err, qr.ErrEncoding):
		return http.StatusInternalServerError, "QR generation failed"
	default:
		return http.StatusInternalServerError, "record store unavailable"
	}
}

func (h *Handler) ListIDs(c *gin.Context) {
	records, err := h.ids.List(c.Request.Context())
	if err != nil {
		status, msg := storeError(err)
		fail(c, status, msg, err)
		return
	}
	if records == nil {
		records = []record.Record{}
	}
	c.JSON(http.StatusOK, records)
}

func (h *Handler) Preview(c *gin.Context) {
	p, err := h.ids.Preview(c.Request.Context(), c.Query("selected_id"))
	if err != nil {
		status, msg := storeError(err)
		fail(c, status, msg, err)
		return
	}
	if p == nil {
		fail(c, http.StatusNotFound, noRecords, nil)
		return
	}
	c.JSON(http.StatusOK, p)
}

func (h *Handler) QRCode(c *gin.Context) {
	png, err := h.ids.QRCode(c.Request.Context(), c.Query("selected_id"))
	if err != nil {
		status, msg := storeError(err)
		fail(c, status, msg, err)
		return
	}
	if png == nil {
		fail(c, http.StatusNotFound, noRecords, nil)
		return
	}
	c.Header("Cache-Control", "no-store")
	c.Data(http.StatusOK, "image/png", png)
}

func (h *Handler) Batch(c *gin.Context) {
	cards, err := h.ids.Batch(c.Request.Context())
	if err != nil {
		status, msg := storeError(err)
		fail(c, status, msg, err)
		return
	}
	c.JSON(http.StatusOK, cards)
}
