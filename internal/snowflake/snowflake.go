// Package snowflake decodes Discord snowflake identifiers into creation times
// and human-readable account ages.
//
// A snowflake is a 64-bit integer. The top 42 bits hold milliseconds since the
// Discord epoch (2015-01-01T00:00:00Z); the remaining 22 bits are worker,
// process and sequence counters that we never need.
//
//	 63                      22 21       17 16       12 11          0
//	+--------------------------+-----------+-----------+-------------+
//	|  ms since Discord epoch  |  worker   |  process  |  increment  |
//	+--------------------------+-----------+-----------+-------------+
package snowflake

import (
	"fmt"
	"regexp"
	"strconv"
	"time"

	"github.com/sakif/discord-lookup/internal/apperror"
)

// Epoch is the Discord epoch in Unix milliseconds.
const Epoch int64 = 1420070400000

const timestampShift = 22

// DateLayout renders creation dates the way the web client shows them,
// e.g. "March 10, 2023".
const DateLayout = "January 2, 2006"

// LessThanAMonth is the age string for accounts younger than one calendar month.
const LessThanAMonth = "Less than a month"

var idPattern = regexp.MustCompile(`^\d{17,19}$`)

// Info is the decoded view of one identifier.
type Info struct {
	CreatedAt     time.Time
	FormattedDate string
	Age           string
}

// Validate checks the 17-19 digit shape of a Discord id.
func Validate(id string) error {
	if !idPattern.MatchString(id) {
		return apperror.ValidationFailed("id", "Invalid Discord ID format. IDs are 17-19 digits in length.")
	}
	return nil
}

// Timestamp returns the UTC creation instant encoded in id.
//
// The only error is a non-numeric id; callers are expected to run Validate
// first, so in practice this never fails on request paths.
func Timestamp(id string) (time.Time, error) {
	v, err := strconv.ParseUint(id, 10, 64)
	if err != nil {
		return time.Time{}, fmt.Errorf("snowflake: parsing %q: %w", id, err)
	}
	ms := int64(v>>timestampShift) + Epoch
	return time.UnixMilli(ms).UTC(), nil
}

// Age describes the whole-year and whole-month distance between created and
// now. Days are ignored: an account created on the 31st is "1 month" old on
// the 1st of the next month.
func Age(created, now time.Time) string {
	created = created.In(now.Location())
	if created.After(now) {
		return LessThanAMonth
	}

	years := now.Year() - created.Year()
	months := int(now.Month()) - int(created.Month())
	if months < 0 {
		years--
		months += 12
	}

	if years <= 0 && months <= 0 {
		return LessThanAMonth
	}

	var age string
	if years > 0 {
		age = fmt.Sprintf("%d %s", years, plural(years, "year"))
	}
	if months > 0 {
		if age != "" {
			age += ", "
		}
		age += fmt.Sprintf("%d %s", months, plural(months, "month"))
	}
	return age
}

// Decode resolves id against now. Same id and same now always yield the same Info.
func Decode(id string, now time.Time) (Info, error) {
	created, err := Timestamp(id)
	if err != nil {
		return Info{}, err
	}
	return Info{
		CreatedAt:     created,
		FormattedDate: created.Format(DateLayout),
		Age:           Age(created, now),
	}, nil
}

// Year is a shortcut for the creation year of id, used by the year filter.
func Year(id string) (int, error) {
	created, err := Timestamp(id)
	if err != nil {
		return 0, err
	}
	return created.Year(), nil
}

func plural(n int, unit string) string {
	if n == 1 {
		return unit
	}
	return unit + "s"
}
