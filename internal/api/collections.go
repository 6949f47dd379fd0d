package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/gofrs/uuid/v5"

	"github.com/and161185/petmem/internal/convert"
	"github.com/and161185/petmem/internal/model"
)

// Remote collection names.
const (
	CollectionPets    = "pets"
	CollectionVideos  = "memorial_videos"
	CollectionLetters = "letters"
)

// Collections reads the per-user entity collections from the gateway.
type Collections struct {
	base string
	x    Executor
}

// NewCollections creates a collections client.
func NewCollections(baseURL string, x Executor) *Collections {
	return &Collections{base: baseURL, x: x}
}

type petDTO struct {
	ID        string `json:"id"`
	UserID    string `json:"user_id"`
	Name      string `json:"name"`
	Species   string `json:"species"`
	Breed     string `json:"breed"`
	BirthDate string `json:"birth_date"`
	PassedAt  string `json:"passed_at"`
	PhotoURL  string `json:"photo_url"`
	Bio       string `json:"bio"`
	CreatedAt string `json:"created_at"`
	UpdatedAt string `json:"updated_at"`
}

type videoDTO struct {
	ID           string `json:"id"`
	UserID       string `json:"user_id"`
	PetID        string `json:"pet_id"`
	Title        string `json:"title"`
	Status       string `json:"status"`
	VideoURL     string `json:"video_url"`
	ThumbnailURL string `json:"thumbnail_url"`
	CreatedAt    string `json:"created_at"`
	UpdatedAt    string `json:"updated_at"`
}

type letterDTO struct {
	ID        string `json:"id"`
	UserID    string `json:"user_id"`
	PetID     string `json:"pet_id"`
	Title     string `json:"title"`
	Content   string `json:"content"`
	CreatedAt string `json:"created_at"`
	UpdatedAt string `json:"updated_at"`
}

// Pets fetches GET /pets.
func (c *Collections) Pets(ctx context.Context, token string) ([]model.Pet, error) {
	var rows []petDTO
	if err := c.fetch(ctx, CollectionPets, token, &rows); err != nil {
		return nil, err
	}
	out := make([]model.Pet, 0, len(rows))
	for _, r := range rows {
		p, err := r.toModel()
		if err != nil {
			return nil, fmt.Errorf("%s: %w", CollectionPets, err)
		}
		out = append(out, p)
	}
	return out, nil
}

// Videos fetches GET /memorial_videos.
func (c *Collections) Videos(ctx context.Context, token string) ([]model.MemorialVideo, error) {
	var rows []videoDTO
	if err := c.fetch(ctx, CollectionVideos, token, &rows); err != nil {
		return nil, err
	}
	out := make([]model.MemorialVideo, 0, len(rows))
	for _, r := range rows {
		v, err := r.toModel()
		if err != nil {
			return nil, fmt.Errorf("%s: %w", CollectionVideos, err)
		}
		out = append(out, v)
	}
	return out, nil
}

// Letters fetches GET /letters.
func (c *Collections) Letters(ctx context.Context, token string) ([]model.Letter, error) {
	var rows []letterDTO
	if err := c.fetch(ctx, CollectionLetters, token, &rows); err != nil {
		return nil, err
	}
	out := make([]model.Letter, 0, len(rows))
	for _, r := range rows {
		l, err := r.toModel()
		if err != nil {
			return nil, fmt.Errorf("%s: %w", CollectionLetters, err)
		}
		out = append(out, l)
	}
	return out, nil
}

// fetch decodes {data:[...]} and tolerates a bare array.
func (c *Collections) fetch(ctx context.Context, collection, token string, dst any) error {
	req, err := newRequest(http.MethodGet, joinURL(c.base, "/"+collection), nil, nil)
	if err != nil {
		return err
	}
	resp, err := c.x.Execute(ctx, req, token)
	if err != nil {
		return fmt.Errorf("fetch %s: %w", collection, err)
	}
	if err := checkResponse(resp); err != nil {
		return fmt.Errorf("fetch %s: %w", collection, err)
	}

	body := bytes.TrimSpace(resp.Body)
	if len(body) > 0 && body[0] == '[' {
		if err := json.Unmarshal(body, dst); err != nil {
			return fmt.Errorf("decode %s: %w", collection, err)
		}
		return nil
	}
	env := struct {
		Data json.RawMessage `json:"data"`
	}{}
	if err := json.Unmarshal(body, &env); err != nil {
		return fmt.Errorf("decode %s: %w", collection, err)
	}
	if len(env.Data) == 0 || string(env.Data) == "null" {
		return nil
	}
	if err := json.Unmarshal(env.Data, dst); err != nil {
		return fmt.Errorf("decode %s: %w", collection, err)
	}
	return nil
}

func parseIDs(id, userID string) (uuid.UUID, uuid.UUID, error) {
	rid, err := convert.ParseUUID(id)
	if err != nil {
		return uuid.Nil, uuid.Nil, err
	}
	if rid == uuid.Nil {
		return uuid.Nil, uuid.Nil, fmt.Errorf("row without id")
	}
	uid, err := convert.ParseUUID(userID)
	if err != nil {
		return uuid.Nil, uuid.Nil, err
	}
	return rid, uid, nil
}

func parseStamps(created, updated string) (time.Time, time.Time, error) {
	c, err := convert.ParseTime(created)
	if err != nil {
		return time.Time{}, time.Time{}, err
	}
	u, err := convert.ParseTime(updated)
	if err != nil {
		return time.Time{}, time.Time{}, err
	}
	return c, u, nil
}

func (d petDTO) toModel() (model.Pet, error) {
	id, uid, err := parseIDs(d.ID, d.UserID)
	if err != nil {
		return model.Pet{}, err
	}
	created, updated, err := parseStamps(d.CreatedAt, d.UpdatedAt)
	if err != nil {
		return model.Pet{}, err
	}
	birth, err := convert.ParseTimePtr(d.BirthDate)
	if err != nil {
		return model.Pet{}, err
	}
	passed, err := convert.ParseTimePtr(d.PassedAt)
	if err != nil {
		return model.Pet{}, err
	}
	return model.Pet{
		ID:        id,
		UserID:    uid,
		Name:      d.Name,
		Species:   d.Species,
		Breed:     d.Breed,
		BirthDate: birth,
		PassedAt:  passed,
		PhotoURL:  d.PhotoURL,
		Bio:       d.Bio,
		CreatedAt: created,
		UpdatedAt: updated,
	}, nil
}

func (d videoDTO) toModel() (model.MemorialVideo, error) {
	id, uid, err := parseIDs(d.ID, d.UserID)
	if err != nil {
		return model.MemorialVideo{}, err
	}
	petID, err := convert.ParseUUID(d.PetID)
	if err != nil {
		return model.MemorialVideo{}, err
	}
	created, updated, err := parseStamps(d.CreatedAt, d.UpdatedAt)
	if err != nil {
		return model.MemorialVideo{}, err
	}
	return model.MemorialVideo{
		ID:           id,
		UserID:       uid,
		PetID:        petID,
		Title:        d.Title,
		Status:       d.Status,
		VideoURL:     d.VideoURL,
		ThumbnailURL: d.ThumbnailURL,
		CreatedAt:    created,
		UpdatedAt:    updated,
	}, nil
}

func (d letterDTO) toModel() (model.Letter, error) {
	id, uid, err := parseIDs(d.ID, d.UserID)
	if err != nil {
		return model.Letter{}, err
	}
	petID, err := convert.ParseUUID(d.PetID)
	if err != nil {
		return model.Letter{}, err
	}
	created, updated, err := parseStamps(d.CreatedAt, d.UpdatedAt)
	if err != nil {
		return model.Letter{}, err
	}
	return model.Letter{
		ID:        id,
		UserID:    uid,
		PetID:     petID,
		Title:     d.Title,
		Content:   d.Content,
		CreatedAt: created,
		UpdatedAt: updated,
	}, nil
}
