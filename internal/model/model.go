// Package model defines domain entities used by services and repositories.
package model

import (
	"time"

	"github.com/gofrs/uuid/v5"
)

// Session is the authenticated identity held in memory for the process lifetime.
type Session struct {
	AccessToken  string
	RefreshToken string // optional, only the direct auth path returns it
	UserID       uuid.UUID
	Email        string
	DisplayName  string
	IssuedAt     time.Time
	ExpiresAt    time.Time // zero when the endpoint did not report expiry
}

// Valid reports whether the session carries a token and an owner.
func (s *Session) Valid() bool {
	return s != nil && s.AccessToken != "" && s.UserID != uuid.Nil
}

// RememberedCredentials are persisted only on explicit opt-in.
type RememberedCredentials struct {
	Email    string
	Password string
}

// Record is implemented by every synced entity so reconciliation can stay generic.
type Record[T any] interface {
	Key() uuid.UUID
	Owner() uuid.UUID
	Rev() int64
	// SameFields reports whether all remotely owned fields match.
	SameFields(other T) bool
	// WithLocalRev returns a copy carrying the given local revision marker.
	WithLocalRev(rev int64) T
}

// Pet is a memorialised pet owned by a user.
type Pet struct {
	ID        uuid.UUID
	UserID    uuid.UUID
	Name      string
	Species   string
	Breed     string
	BirthDate *time.Time
	PassedAt  *time.Time
	PhotoURL  string
	Bio       string
	CreatedAt time.Time
	UpdatedAt time.Time
	LocalRev  int64
}

func (p Pet) Key() uuid.UUID   { return p.ID }
func (p Pet) Owner() uuid.UUID { return p.UserID }
func (p Pet) Rev() int64       { return p.LocalRev }

func (p Pet) WithLocalRev(rev int64) Pet {
	p.LocalRev = rev
	return p
}

func (p Pet) SameFields(o Pet) bool {
	return p.ID == o.ID && p.UserID == o.UserID &&
		p.Name == o.Name && p.Species == o.Species && p.Breed == o.Breed &&
		sameTimePtr(p.BirthDate, o.BirthDate) && sameTimePtr(p.PassedAt, o.PassedAt) &&
		p.PhotoURL == o.PhotoURL && p.Bio == o.Bio &&
		p.CreatedAt.Equal(o.CreatedAt) && p.UpdatedAt.Equal(o.UpdatedAt)
}

// MemorialVideo is a generated memorial video job.
type MemorialVideo struct {
	ID           uuid.UUID
	UserID       uuid.UUID
	PetID        uuid.UUID // uuid.Nil when not bound to a pet
	Title        string
	Status       string // queued, processing, completed, failed (owned by the backend)
	VideoURL     string
	ThumbnailURL string
	CreatedAt    time.Time
	UpdatedAt    time.Time
	LocalRev     int64
}

func (v MemorialVideo) Key() uuid.UUID   { return v.ID }
func (v MemorialVideo) Owner() uuid.UUID { return v.UserID }
func (v MemorialVideo) Rev() int64       { return v.LocalRev }

func (v MemorialVideo) WithLocalRev(rev int64) MemorialVideo {
	v.LocalRev = rev
	return v
}

func (v MemorialVideo) SameFields(o MemorialVideo) bool {
	return v.ID == o.ID && v.UserID == o.UserID && v.PetID == o.PetID &&
		v.Title == o.Title && v.Status == o.Status &&
		v.VideoURL == o.VideoURL && v.ThumbnailURL == o.ThumbnailURL &&
		v.CreatedAt.Equal(o.CreatedAt) && v.UpdatedAt.Equal(o.UpdatedAt)
}

// Letter is a letter written to a pet.
type Letter struct {
	ID        uuid.UUID
	UserID    uuid.UUID
	PetID     uuid.UUID
	Title     string
	Content   string
	CreatedAt time.Time
	UpdatedAt time.Time
	LocalRev  int64
}

func (l Letter) Key() uuid.UUID   { return l.ID }
func (l Letter) Owner() uuid.UUID { return l.UserID }
func (l Letter) Rev() int64       { return l.LocalRev }

func (l Letter) WithLocalRev(rev int64) Letter {
	l.LocalRev = rev
	return l
}

func (l Letter) SameFields(o Letter) bool {
	return l.ID == o.ID && l.UserID == o.UserID && l.PetID == o.PetID &&
		l.Title == o.Title && l.Content == o.Content &&
		l.CreatedAt.Equal(o.CreatedAt) && l.UpdatedAt.Equal(o.UpdatedAt)
}

func sameTimePtr(a, b *time.Time) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return a.Equal(*b)
}
