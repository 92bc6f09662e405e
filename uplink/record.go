package uplink

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/netsys-lab/multipath-uplink/fix"
)

// AppendRecord appends the wire form of f to dst. One record is
// exactly one line, "<lat>,<lon>\n", ASCII decimal degrees with six
// fractional digits.
func AppendRecord(dst []byte, f fix.Fix) []byte {
	dst = strconv.AppendFloat(dst, f.Latitude, 'f', 6, 64)
	dst = append(dst, ',')
	dst = strconv.AppendFloat(dst, f.Longitude, 'f', 6, 64)
	return append(dst, '\n')
}

func MarshalRecord(f fix.Fix) []byte {
	return AppendRecord(make([]byte, 0, 32), f)
}

// ParseRecord decodes a single record line, with or without the
// trailing newline.
func ParseRecord(line string) (lat, lon float64, err error) {
	line = strings.TrimSuffix(line, "\n")
	parts := strings.Split(line, ",")
	if len(parts) != 2 {
		return 0, 0, fmt.Errorf("malformed record %q", line)
	}
	lat, err = strconv.ParseFloat(parts[0], 64)
	if err != nil {
		return 0, 0, fmt.Errorf("malformed latitude in %q: %w", line, err)
	}
	lon, err = strconv.ParseFloat(parts[1], 64)
	if err != nil {
		return 0, 0, fmt.Errorf("malformed longitude in %q: %w", line, err)
	}
	return lat, lon, nil
}
