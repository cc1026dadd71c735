package order

import (
	"fmt"
	"time"
)

// BucketName derives the storage bucket: country, customer, contract, order and store, zero padded.
func (id Identity) BucketName() string {
	country := id.Country
	if len(country) != 2 {
		country = DefaultCountry
	}
	return fmt.Sprintf("%s%04d%02d%02d%03d", country, id.Customer, id.Contract, id.Order, id.Store)
}

// OrderName derives the order name from the area, camera and the run timestamp.
// The hour is encoded as a single letter, 'a' for midnight through 'x' for 23h.
func (id Identity) OrderName(at time.Time) string {
	return fmt.Sprintf("%s%02d%02d%02d%02d%c%02d%02d",
		id.Area,
		id.Camera,
		int(at.Month()),
		at.Day(),
		at.Year()%100,
		rune('a'+at.Hour()),
		at.Minute(),
		at.Second(),
	)
}

// VideoType returns the stage code embedded in published file names.
// Position two is 'c' when compressing; position three is 'n' when trimming the
// uncompressed file and 'c' when trimming the compressed one.
func VideoType(compress, trim, trimCompressed bool) string {
	code := []byte("aaa")
	if compress {
		code[1] = 'c'
	}
	if trim {
		if trimCompressed && compress {
			code[2] = 'c'
		} else {
			code[2] = 'n'
		}
	}
	return string(code)
}
