// Package eveimage builds URLs for images on the Eve Online image server.
package eveimage

import (
	"errors"
	"fmt"
)

var ErrInvalidSize = errors.New("invalid size")

const baseURL = "https://images.evetech.net"

type category string

const (
	character   category = "characters"
	corporation category = "corporations"
)

type imageVariant string

const (
	imageVariantLogo     imageVariant = "logo"
	imageVariantPortrait imageVariant = "portrait"
)

// CharacterPortraitURL returns an image URL for a character portrait
func CharacterPortraitURL(id int32, size int) (string, error) {
	return imageURL(character, imageVariantPortrait, id, size)
}

// CorporationLogoURL returns an image URL for a corporation logo
func CorporationLogoURL(id int32, size int) (string, error) {
	return imageURL(corporation, imageVariantLogo, id, size)
}

func imageURL(c category, v imageVariant, id int32, size int) (string, error) {
	switch size {
	case 32, 64, 128, 256, 512, 1024:
		// valid size
	default:
		return "", fmt.Errorf("%d: %w", size, ErrInvalidSize)
	}
	return fmt.Sprintf("%s/%s/%d/%s?size=%d", baseURL, c, id, v, size), nil
}
