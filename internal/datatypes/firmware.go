package datatypes

import "time"

// Target is a flashable radio target listed in a firmware bundle.
type Target struct {
	Name string `json:"name"`
	Code string `json:"code"`
}

// FirmwareBinary is a target binary extracted from a bundle.
type FirmwareBinary struct {
	Target string `json:"target"`
	Entry  string `json:"entry"`
	Data   []byte `json:"-"`
}

// LocalFirmware describes an uploaded firmware image held in memory.
type LocalFirmware struct {
	ID           string    `json:"id"`
	Size         int       `json:"size"`
	RegisteredAt time.Time `json:"registered_at"`
}

// Bundle identifies a firmware bundle archive available in the bucket.
type Bundle struct {
	Name    string    `json:"name"`
	URL     string    `json:"url"`
	Size    int64     `json:"size"`
	Updated time.Time `json:"updated"`
}

// BundleQuery is the query of the bundle endpoints.
type BundleQuery struct {
	URL     string   `form:"url" binding:"required"`
	Targets []string `form:"target"`
}
