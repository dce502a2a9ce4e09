// Package record defines the issued-ID record and its fixed column layout.
package record

// DefaultPhoto is stored when no photo was uploaded.
const DefaultPhoto = "default.png"

// DateLayout is the minute-resolution format of DateGenerated.
const DateLayout = "2006-01-02 15:04"

// Headers is the fixed header row of the backing spreadsheet.
// Column order must never change without a migration plan.
var Headers = []string{
	"Date Generated", "ID Number", "Full Name", "Nickname",
	"Position", "Office", "Contact Person", "Contact Number",
	"Address", "Photo Path",
}

// Record represents one issued ID.
type Record struct {
	IDNumber      string `json:"id_number"`
	FullName      string `json:"full_name"`
	Nickname      string `json:"nickname"`
	Position      string `json:"position"`
	Office        string `json:"office"`
	ContactName   string `json:"contact_name"`
	ContactNumber string `json:"contact_number"`
	Address       string `json:"address"`
	PhotoFilename string `json:"photo_filename"`
	DateGenerated string `json:"date_generated"`
}

// Row returns the record in column order.
func (r Record) Row() []string {
	return []string{
		r.DateGenerated,
		r.IDNumber,
		r.FullName,
		r.Nickname,
		r.Position,
		r.Office,
		r.ContactName,
		r.ContactNumber,
		r.Address,
		r.PhotoFilename,
	}
}

// FromRow builds a record from a spreadsheet row. Missing trailing cells
// read as empty strings.
func FromRow(row []string) Record {
	cell := func(i int) string {
		if i < len(row) {
			return row[i]
		}
		return ""
	}
	return Record{
		DateGenerated: cell(0),
		IDNumber:      cell(1),
		FullName:      cell(2),
		Nickname:      cell(3),
		Position:      cell(4),
		Office:        cell(5),
		ContactName:   cell(6),
		ContactNumber: cell(7),
		Address:       cell(8),
		PhotoFilename: cell(9),
	}
}

// SelectOrLatest returns the first record whose ID number equals id, or the
// last record when id is empty or matches nothing. It returns nil only for
// an empty slice.
func SelectOrLatest(records []Record, id string) *Record {
	if len(records) == 0 {
		return nil
	}
	if id != "" {
		for i := range records {
			if records[i].IDNumber == id {
				return &records[i]
			}
		}
	}
	return &records[len(records)-1]
}
