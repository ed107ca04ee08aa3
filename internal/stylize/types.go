package stylize

import (
	"errors"
	"fmt"
	"strings"
)

// MaxAssetsPerRequest mirrors the delivery channel's media-group limit:
// results are sent back in one group of at most 10 items.
const MaxAssetsPerRequest = 10

// JobType is the category of stylization requested. It determines the
// asset-count contract for a request.
type JobType int

const (
	StyleTransfer JobType = iota
	VanGogh
	Monet
	Cezanne
	Ukiyoe
)

var jobTypes = []JobType{StyleTransfer, VanGogh, Monet, Cezanne, Ukiyoe}

// All returns every known job type in presentation order.
func All() []JobType {
	out := make([]JobType, len(jobTypes))
	copy(out, jobTypes)
	return out
}

// Label is the human-readable description shown by the conversation channel.
func (t JobType) Label() string {
	switch t {
	case StyleTransfer:
		return "Style transfer to one image from another"
	case VanGogh:
		return "Artist: Vincent Willem van Gogh"
	case Monet:
		return "Artist: Oscar-Claude Monet"
	case Cezanne:
		return "Artist: Paul Cézanne"
	case Ukiyoe:
		return "Genre: Ukiyo-e"
	default:
		return fmt.Sprintf("JobType(%d)", int(t))
	}
}

// Shortcut is the stable machine identifier carried over the wire.
func (t JobType) Shortcut() string {
	switch t {
	case StyleTransfer:
		return "p2st"
	case VanGogh:
		return "p2avg"
	case Monet:
		return "p2am"
	case Cezanne:
		return "p2ac"
	case Ukiyoe:
		return "p2gu"
	default:
		return ""
	}
}

func (t JobType) String() string { return t.Shortcut() }

// PairBased reports whether assets are consumed as (target, style) pairs.
func (t JobType) PairBased() bool { return t == StyleTransfer }

// MinAssets is the smallest submittable buffer for this job type.
func (t JobType) MinAssets() int {
	if t.PairBased() {
		return 2
	}
	return 1
}

var ErrUnknownJobType = errors.New("unknown job type")

// ParseJobType resolves a shortcut code to a job type.
func ParseJobType(code string) (JobType, error) {
	code = strings.ToLower(strings.TrimSpace(code))
	for _, t := range jobTypes {
		if t.Shortcut() == code {
			return t, nil
		}
	}
	return 0, fmt.Errorf("%w: %q", ErrUnknownJobType, code)
}

// Format is a declared asset encoding. Only formats on the allow-list can
// enter a request buffer.
type Format int

const (
	JPEG Format = iota
	PNG
)

var ErrUnsupportedFormat = errors.New("unsupported image format")

// ParseFormat maps a declared MIME type to a supported format.
func ParseFormat(mimeType string) (Format, error) {
	switch strings.ToLower(strings.TrimSpace(mimeType)) {
	case "image/jpeg", "image/jpg":
		return JPEG, nil
	case "image/png":
		return PNG, nil
	default:
		return 0, fmt.Errorf("%w: %q", ErrUnsupportedFormat, mimeType)
	}
}

// Ext is the on-disk extension used when the asset is materialized.
func (f Format) Ext() string {
	if f == PNG {
		return ".png"
	}
	return ".jpg"
}

func (f Format) MIME() string {
	if f == PNG {
		return "image/png"
	}
	return "image/jpeg"
}

// AssetRecord is one validated uploaded asset.
type AssetRecord struct {
	Data   []byte
	Format Format
}

// ResultAsset is one produced asset, loaded off the task's working
// directory before the directory is released.
type ResultAsset struct {
	Name string
	Data []byte
	MIME string
}
