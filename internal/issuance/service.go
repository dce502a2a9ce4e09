// Package issuance coordinates ID generation: it normalizes staff input,
// stores the photo, appends the record to the ledger and renders QR codes
// for preview and batch printing.
package issuance

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"boacid/internal/photos"
	"boacid/internal/qr"
	"boacid/internal/record"
)

// ErrMissingField is returned when a required form field is blank.
var ErrMissingField = errors.New("required field missing")

// ErrFieldTooLong is returned when the form would not fit in a QR code.
var ErrFieldTooLong = errors.New("fields too long to fit in the ID QR code")

// Ledger is the record store the service writes to and reads from.
type Ledger interface {
	Append(ctx context.Context, rec record.Record) (record.Record, error)
	List(ctx context.Context) ([]record.Record, error)
	FindByIDOrLatest(ctx context.Context, id string) (*record.Record, error)
}

// Form holds raw values as entered by staff.
type Form struct {
	IDNumber      string
	FullName      string
	Nickname      string
	Position      string
	Office        string
	ContactName   string
	ContactNumber string
	Address       string
}

// Photo is an uploaded ID photo.
type Photo struct {
	Data []byte
}

// Preview is the data behind the ID preview page.
type Preview struct {
	Records  []record.Record `json:"records"`
	Selected record.Record   `json:"selected_record"`
	QR       string          `json:"qr_code"`
}

// Card is a record ready for printing.
type Card struct {
	record.Record
	QR string `json:"qr_base64"`
}

// Service issues and renders IDs.
type Service struct {
	ledger  Ledger
	photos  photos.Store
	metrics *Metrics
	log     zerolog.Logger
	now     func() time.Time
}

// NewService creates a service. metrics may be nil.
func NewService(ledger Ledger, store photos.Store, metrics *Metrics, log zerolog.Logger) *Service {
	return &Service{
		ledger:  ledger,
		photos:  store,
		metrics: metrics,
		log:     log,
		now:     time.Now,
	}
}

// Normalize trims every field and upper-cases all but the contact number.
// The photo reference defaults to record.DefaultPhoto.
func Normalize(f Form) record.Record {
	up := func(s string) string { return strings.ToUpper(strings.TrimSpace(s)) }
	return record.Record{
		IDNumber:      up(f.IDNumber),
		FullName:      up(f.FullName),
		Nickname:      up(f.Nickname),
		Position:      up(f.Position),
		Office:        up(f.Office),
		ContactName:   up(f.ContactName),
		ContactNumber: strings.TrimSpace(f.ContactNumber),
		Address:       up(f.Address),
		PhotoFilename: record.DefaultPhoto,
	}
}

// PhotoName returns the stored name of a photo for an ID issued at t.
func PhotoName(idNumber string, t time.Time) string {
	return fmt.Sprintf("%s_%s.png", idNumber, t.Format("150405"))
}

// Issue validates and normalizes the form, stores the photo when given and
// appends the record to the ledger.
func (s *Service) Issue(ctx context.Context, f Form, photo *Photo) (record.Record, error) {
	rec := Normalize(f)
	if rec.IDNumber == "" {
		return record.Record{}, fmt.Errorf("%w: id_number", ErrMissingField)
	}
	if rec.FullName == "" {
		return record.Record{}, fmt.Errorf("%w: full_name", ErrMissingField)
	}
	// Checked before any write; an unencodable row could never leave the ledger.
	if _, err := qr.Bitmap(qr.Payload(rec), qr.DefaultOptions().Level); err != nil {
		return record.Record{}, fmt.Errorf("%w: %v", ErrFieldTooLong, err)
	}

	saved := ""
	if photo != nil && len(photo.Data) > 0 {
		ref, err := s.photos.Save(ctx, PhotoName(rec.IDNumber, s.now()), photo.Data)
		if err != nil {
			return record.Record{}, fmt.Errorf("save photo: %w", err)
		}
		rec.PhotoFilename = ref
		saved = ref
	}

	stored, err := s.ledger.Append(ctx, rec)
	if err != nil {
		if saved != "" {
			s.discardPhoto(ctx, saved)
		}
		return record.Record{}, fmt.Errorf("append record: %w", err)
	}
	s.metrics.issued()
	s.log.Info().
		Str("id_number", stored.IDNumber).
		Str("photo", stored.PhotoFilename).
		Msg("id issued")
	return stored, nil
}

// discardPhoto removes an upload whose record was never written. Stores
// that cannot delete get a warning naming the orphan.
func (s *Service) discardPhoto(ctx context.Context, ref string) {
	r, ok := s.photos.(photos.Remover)
	if !ok {
		s.log.Warn().Str("photo", ref).Msg("orphaned photo left in store")
		return
	}
	if err := r.Remove(ctx, ref); err != nil {
		s.log.Warn().Err(err).Str("photo", ref).Msg("orphaned photo left in store")
	}
}

// List returns every issued record in issue order.
func (s *Service) List(ctx context.Context) ([]record.Record, error) {
	return s.ledger.List(ctx)
}

// Preview returns all records, the selected-or-latest record and its QR
// code. It returns nil, nil when no records exist.
func (s *Service) Preview(ctx context.Context, selectedID string) (*Preview, error) {
	records, err := s.ledger.List(ctx)
	if err != nil {
		return nil, err
	}
	if len(records) == 0 {
		return nil, nil
	}

	selected := *record.SelectOrLatest(records, selectedID)
	code, err := s.encode(selected)
	if err != nil {
		return nil, err
	}
	return &Preview{Records: records, Selected: selected, QR: code}, nil
}

// Batch returns every record with its QR code for printing.
func (s *Service) Batch(ctx context.Context) ([]Card, error) {
	records, err := s.ledger.List(ctx)
	if err != nil {
		return nil, err
	}
	cards := make([]Card, 0, len(records))
	for _, r := range records {
		card, err := s.Card(r)
		if err != nil {
			return nil, fmt.Errorf("encode %s: %w", r.IDNumber, err)
		}
		cards = append(cards, card)
	}
	return cards, nil
}

// Card attaches the QR code to a single record.
func (s *Service) Card(r record.Record) (Card, error) {
	code, err := s.encode(r)
	if err != nil {
		return Card{}, err
	}
	return Card{Record: r, QR: code}, nil
}

// QRCode returns the PNG for the selected-or-latest record, or nil, nil
// when no records exist.
func (s *Service) QRCode(ctx context.Context, id string) ([]byte, error) {
	rec, err := s.ledger.FindByIDOrLatest(ctx, id)
	if err != nil || rec == nil {
		return nil, err
	}
	done := s.metrics.timeEncode()
	defer done()
	return qr.Render(qr.Payload(*rec), qr.DefaultOptions())
}

func (s *Service) encode(r record.Record) (string, error) {
	done := s.metrics.timeEncode()
	defer done()
	return qr.Encode(r)
}
