package musicassistant

import (
	"errors"
	"fmt"
	"strings"
)

var ErrInvalidURI = errors.New("musicassistant: invalid media uri")

// ItemRef locates a library item by provider, media type and id.
type ItemRef struct {
	Provider  string
	MediaType string
	ItemID    string
}

// ParseURI splits provider://media_type/item_id. Everything after the media
// type is the item id, so filesystem paths and nested ids survive intact.
func ParseURI(uri string) (ItemRef, error) {
	provider, rest, ok := strings.Cut(strings.TrimSpace(uri), "://")
	if !ok {
		return ItemRef{}, fmt.Errorf("%w: %q", ErrInvalidURI, uri)
	}
	mediaType, itemID, ok := strings.Cut(rest, "/")
	if !ok || provider == "" || mediaType == "" || itemID == "" {
		return ItemRef{}, fmt.Errorf("%w: %q", ErrInvalidURI, uri)
	}
	return ItemRef{Provider: provider, MediaType: mediaType, ItemID: itemID}, nil
}

func (r ItemRef) String() string {
	return r.Provider + "://" + r.MediaType + "/" + r.ItemID
}
