package api

import (
	"fmt"
	"strings"
	"time"

	"github.com/tdeslauriers/carapace/pkg/validate"
)

const (
	AlbumIdRegex = `^[a-z0-9][a-z0-9\-]{0,63}$` // lowercase slug or uuid

	AlbumTitleMaxLength = 128
	AlbumTitleRegex     = `^[\p{L}\p{N}\s\-'&,.!?:()/]{1,128}$`

	DescriptionMaxLength = 1000
	DescriptionRegex     = `^[\p{L}\p{N}\p{P}\p{S}\s]{0,1000}$`

	LocationMaxLength = 128
	LocationRegex     = `^[\p{L}\p{N}\s\-'&,.()/]{0,128}$`
)

// Category is the closed set of portfolio sections an album can belong to.
type Category string

const (
	CategoryTravel  Category = "travel"
	CategoryCosplay Category = "cosplay"
)

// Categories lists every allowed category.
var Categories = []Category{CategoryTravel, CategoryCosplay}

// IsValid reports whether the category is one of the allowed categories.
func (c Category) IsValid() bool {
	for _, allowed := range Categories {
		if c == allowed {
			return true
		}
	}
	return false
}

// AlbumRecord is the catalog's persisted representation of an album.
// CoverImage is a storage-relative key, never a url.
type AlbumRecord struct {
	Id           string        `json:"id"`
	Title        string        `json:"title"`
	Description  string        `json:"description"`
	Category     Category      `json:"category"`
	CoverPhotoId string        `json:"cover_photo_id,omitempty"`
	CoverImage   string        `json:"cover_image,omitempty"`
	Featured     bool          `json:"featured"`
	Location     string        `json:"location,omitempty"`
	CreatedAt    time.Time     `json:"created_at"`
	UpdatedAt    time.Time     `json:"updated_at"`
	PhotoCount   int           `json:"photo_count"`
	Photos       []PhotoRecord `json:"photos,omitempty"` // populated on reads, not stored with the album
}

// Validate checks the fields a caller is allowed to set when creating an album.
func (a *AlbumRecord) Validate() error {

	if a.Id != "" && !validate.MatchesRegex(a.Id, AlbumIdRegex) {
		return fmt.Errorf("invalid album id: %s", a.Id)
	}

	if err := validateTitle(a.Title); err != nil {
		return err
	}

	if !a.Category.IsValid() {
		return fmt.Errorf("invalid category: %s", a.Category)
	}

	if err := validateDescription(a.Description); err != nil {
		return err
	}

	if err := validateLocation(a.Location); err != nil {
		return err
	}

	return nil
}

// Album is the api view of an album: keys are resolved to urls.
type Album struct {
	Id           string    `json:"id"`
	Title        string    `json:"title"`
	Description  string    `json:"description"`
	Category     Category  `json:"category"`
	CoverPhotoId string    `json:"cover_photo_id,omitempty"`
	CoverImage   string    `json:"cover_image,omitempty"`
	Featured     bool      `json:"featured"`
	Location     string    `json:"location,omitempty"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
	PhotoCount   int       `json:"photo_count"`
	Photos       []Photo   `json:"photos,omitempty"`
}

// AddAlbumCmd is the command to create a new album, optionally with photos
// returned by an earlier upload.
type AddAlbumCmd struct {
	Id          string        `json:"id,omitempty"`
	Title       string        `json:"title"`
	Description string        `json:"description"`
	Category    Category      `json:"category"`
	Featured    bool          `json:"featured"`
	Location    string        `json:"location,omitempty"`
	Photos      []PhotoRecord `json:"photos,omitempty"`
}

// Validate validates the AddAlbumCmd -> input validation.
func (cmd *AddAlbumCmd) Validate() error {

	rec := cmd.Record()
	if err := rec.Validate(); err != nil {
		return err
	}

	for i := range cmd.Photos {
		if err := cmd.Photos[i].ValidateKeys(); err != nil {
			return err
		}
	}

	return nil
}

// Record maps the command to the record the catalog persists.
func (cmd *AddAlbumCmd) Record() AlbumRecord {
	return AlbumRecord{
		Id:          strings.TrimSpace(cmd.Id),
		Title:       strings.TrimSpace(cmd.Title),
		Description: strings.TrimSpace(cmd.Description),
		Category:    cmd.Category,
		Featured:    cmd.Featured,
		Location:    strings.TrimSpace(cmd.Location),
		Photos:      cmd.Photos,
	}
}

// AlbumUpdateCmd is a partial update: nil fields are left unchanged.
type AlbumUpdateCmd struct {
	Title       *string   `json:"title,omitempty"`
	Description *string   `json:"description,omitempty"`
	Category    *Category `json:"category,omitempty"`
	Featured    *bool     `json:"featured,omitempty"`
	Location    *string   `json:"location,omitempty"`
}

// Validate validates the fields present in the update.
func (cmd *AlbumUpdateCmd) Validate() error {

	if cmd.Title == nil && cmd.Description == nil && cmd.Category == nil && cmd.Featured == nil && cmd.Location == nil {
		return fmt.Errorf("no fields to update")
	}

	if cmd.Title != nil {
		if err := validateTitle(*cmd.Title); err != nil {
			return err
		}
	}

	if cmd.Description != nil {
		if err := validateDescription(*cmd.Description); err != nil {
			return err
		}
	}

	if cmd.Category != nil && !cmd.Category.IsValid() {
		return fmt.Errorf("invalid category: %s", *cmd.Category)
	}

	if cmd.Location != nil {
		if err := validateLocation(*cmd.Location); err != nil {
			return err
		}
	}

	return nil
}

// CoverCmd designates the photo representing an album.
type CoverCmd struct {
	PhotoId string `json:"photo_id"`
}

// Validate validates the CoverCmd -> input validation.
func (cmd *CoverCmd) Validate() error {
	if strings.TrimSpace(cmd.PhotoId) == "" {
		return fmt.Errorf("photo id is required")
	}
	return nil
}

func validateTitle(title string) error {

	if strings.TrimSpace(title) == "" {
		return fmt.Errorf("title is required")
	}

	if !validate.MatchesRegex(strings.TrimSpace(title), AlbumTitleRegex) {
		return fmt.Errorf("title must be letters, numbers, spaces and basic punctuation, max %d chars", AlbumTitleMaxLength)
	}

	return nil
}

func validateDescription(description string) error {

	if !validate.MatchesRegex(strings.TrimSpace(description), DescriptionRegex) {
		return fmt.Errorf("description must be printable text, max %d chars", DescriptionMaxLength)
	}

	return nil
}

func validateLocation(location string) error {

	if !validate.MatchesRegex(strings.TrimSpace(location), LocationRegex) {
		return fmt.Errorf("location must be letters, numbers, spaces and basic punctuation, max %d chars", LocationMaxLength)
	}

	return nil
}

// View maps the record and any loaded photos to the api view.
func (a *AlbumRecord) View(url func(key string) string) Album {

	album := Album{
		Id:           a.Id,
		Title:        a.Title,
		Description:  a.Description,
		Category:     a.Category,
		CoverPhotoId: a.CoverPhotoId,
		Featured:     a.Featured,
		Location:     a.Location,
		CreatedAt:    a.CreatedAt,
		UpdatedAt:    a.UpdatedAt,
		PhotoCount:   a.PhotoCount,
	}

	if a.CoverImage != "" {
		album.CoverImage = url(a.CoverImage)
	}

	if len(a.Photos) > 0 {
		album.Photos = make([]Photo, len(a.Photos))
		for i := range a.Photos {
			album.Photos[i] = a.Photos[i].View(url)
		}
	}

	return album
}
