package ingest

import (
	"fmt"
	"path"
	"strings"

	"github.com/tdeslauriers/portfolio/pkg/api"
)

// RenditionKeys is where the four renditions of one photo live in the store.
type RenditionKeys struct {
	Thumbnail string
	Display   string
	Detail    string
	Original  string
}

// All returns the keys in rendition tier order.
func (k RenditionKeys) All() []string {
	return []string{k.Thumbnail, k.Display, k.Detail, k.Original}
}

// KeysFor builds the storage keys for a photo. Every key embeds the category and id,
// so the renditions of one photo share a file name.
func KeysFor(category api.Category, id string) RenditionKeys {

	file := fmt.Sprintf("%s_%s.jpg", category, id)

	return RenditionKeys{
		Thumbnail: path.Join("thumbnails", string(category), file),
		Display:   path.Join(string(category), file),
		Detail:    path.Join("detail", file),
		Original:  path.Join("original", file),
	}
}

// ParseKey recovers the category and photo id from any rendition key built by KeysFor.
func ParseKey(key string) (api.Category, string, bool) {

	base := path.Base(key)
	if path.Ext(base) != ".jpg" {
		return "", "", false
	}

	name := strings.TrimSuffix(base, ".jpg")
	category, id, ok := strings.Cut(name, "_")
	if !ok || id == "" || !api.Category(category).IsValid() {
		return "", "", false
	}

	return api.Category(category), id, true
}
