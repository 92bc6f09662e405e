package fix

import "time"

// Quality describes how good a position solution is.
type Quality int

const (
	NoFix Quality = iota
	Fix2D
	Fix3D
)

func (q Quality) String() string {
	switch q {
	case Fix2D:
		return "2d"
	case Fix3D:
		return "3d"
	default:
		return "none"
	}
}

// Fix is one GPS position sample. Immutable once produced.
type Fix struct {
	CapturedAt time.Time `json:"captured_at"`
	Latitude   float64   `json:"lat"` // decimal degrees
	Longitude  float64   `json:"lon"` // decimal degrees
	Quality    Quality   `json:"quality"`
}
