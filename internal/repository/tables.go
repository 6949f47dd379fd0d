package repository

import (
	"database/sql"
	"time"

	"github.com/and161185/petmem/internal/model"
)

// Scanner is the Scan method of a row from either database/sql or pgx.
type Scanner func(dest ...any) error

// Table describes how a synced entity maps onto its local table.
// Columns always start with id, user_id.
type Table[T any] struct {
	Name    string
	Columns []string
	Values  func(T) []any
	Scan    func(Scanner) (T, error)
}

// PetTable maps model.Pet.
var PetTable = Table[model.Pet]{
	Name: "pets",
	Columns: []string{
		"id", "user_id", "name", "species", "breed", "birth_date", "passed_at",
		"photo_url", "bio", "created_at", "updated_at", "local_rev",
	},
	Values: func(p model.Pet) []any {
		return []any{
			p.ID, p.UserID, p.Name, p.Species, p.Breed, p.BirthDate, p.PassedAt,
			p.PhotoURL, p.Bio, p.CreatedAt, p.UpdatedAt, p.LocalRev,
		}
	},
	Scan: func(scan Scanner) (model.Pet, error) {
		var (
			p              model.Pet
			birth, passedA sql.NullTime
		)
		err := scan(&p.ID, &p.UserID, &p.Name, &p.Species, &p.Breed, &birth, &passedA,
			&p.PhotoURL, &p.Bio, &p.CreatedAt, &p.UpdatedAt, &p.LocalRev)
		p.BirthDate = timePtr(birth)
		p.PassedAt = timePtr(passedA)
		return p, err
	},
}

// VideoTable maps model.MemorialVideo.
var VideoTable = Table[model.MemorialVideo]{
	Name: "memorial_videos",
	Columns: []string{
		"id", "user_id", "pet_id", "title", "status", "video_url", "thumbnail_url",
		"created_at", "updated_at", "local_rev",
	},
	Values: func(v model.MemorialVideo) []any {
		return []any{
			v.ID, v.UserID, v.PetID, v.Title, v.Status, v.VideoURL, v.ThumbnailURL,
			v.CreatedAt, v.UpdatedAt, v.LocalRev,
		}
	},
	Scan: func(scan Scanner) (model.MemorialVideo, error) {
		var v model.MemorialVideo
		err := scan(&v.ID, &v.UserID, &v.PetID, &v.Title, &v.Status, &v.VideoURL, &v.ThumbnailURL,
			&v.CreatedAt, &v.UpdatedAt, &v.LocalRev)
		return v, err
	},
}

// LetterTable maps model.Letter.
var LetterTable = Table[model.Letter]{
	Name: "letters",
	Columns: []string{
		"id", "user_id", "pet_id", "title", "content", "created_at", "updated_at", "local_rev",
	},
	Values: func(l model.Letter) []any {
		return []any{l.ID, l.UserID, l.PetID, l.Title, l.Content, l.CreatedAt, l.UpdatedAt, l.LocalRev}
	},
	Scan: func(scan Scanner) (model.Letter, error) {
		var l model.Letter
		err := scan(&l.ID, &l.UserID, &l.PetID, &l.Title, &l.Content, &l.CreatedAt, &l.UpdatedAt, &l.LocalRev)
		return l, err
	},
}

// SyncedTables lists every synced table, cleared by the login-time wipe.
var SyncedTables = []string{PetTable.Name, VideoTable.Name, LetterTable.Name}

func timePtr(nt sql.NullTime) *time.Time {
	if !nt.Valid {
		return nil
	}
	t := nt.Time
	return &t
}
