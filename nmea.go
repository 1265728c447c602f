// Minimal NMEA-0183 RMC parsing for the GNSS ingest loop (C3). Grounded
// on the field layout demonstrated by
// _examples/other_examples/SiwaNetwork-TimeCard-Mini__nmea.go (a
// timing-source NMEA client for this same class of daemon), reduced to
// the single sentence type spec.md §4.3 needs.
package main

import (
	"strconv"
	"strings"
	"time"

	"github.com/pkg/errors"
)

// RMCFix is the subset of a parsed $--RMC sentence spec.md §4.3 needs:
// UTC time-of-day/date and, when the fix is valid, position.
type RMCFix struct {
	UTC          time.Time
	Valid        bool // NMEA status field: 'A' = active, 'V' = void
	Latitude     float64
	Longitude    float64
}

// ErrNotRMC is returned by ParseRMC when handed a sentence that isn't
// an RMC sentence; callers should simply skip such lines.
var ErrNotRMC = errors.New("not an RMC sentence")

// ParseRMC parses one NMEA line of the form
// "$GPRMC,hhmmss.ss,A,ddmm.mmmm,N,dddmm.mmmm,W,spd,cog,ddmmyy,,,*hh".
func ParseRMC(line string) (RMCFix, error) {
	line = strings.TrimSpace(line)
	if star := strings.IndexByte(line, '*'); star >= 0 {
		line = line[:star]
	}
	fields := strings.Split(line, ",")
	if len(fields) < 10 {
		return RMCFix{}, errors.Errorf("truncated NMEA sentence: %q", line)
	}
	if !strings.HasSuffix(fields[0], "RMC") {
		return RMCFix{}, ErrNotRMC
	}

	fix := RMCFix{Valid: fields[2] == "A"}

	t, err := parseHHMMSS(fields[1])
	if err != nil {
		return RMCFix{}, errors.Wrap(err, "parse RMC time")
	}
	d, err := parseDDMMYY(fields[9])
	if err != nil {
		return RMCFix{}, errors.Wrap(err, "parse RMC date")
	}
	fix.UTC = time.Date(d.Year(), d.Month(), d.Day(), t.hour, t.min, t.sec, t.nsec, time.UTC)

	if fix.Valid {
		lat, err := parseNMEACoordinate(fields[3], fields[4])
		if err != nil {
			return RMCFix{}, errors.Wrap(err, "parse RMC latitude")
		}
		lon, err := parseNMEACoordinate(fields[5], fields[6])
		if err != nil {
			return RMCFix{}, errors.Wrap(err, "parse RMC longitude")
		}
		fix.Latitude, fix.Longitude = lat, lon
	}

	return fix, nil
}

type hms struct {
	hour, min, sec, nsec int
}

func parseHHMMSS(s string) (hms, error) {
	if len(s) < 6 {
		return hms{}, errors.Errorf("malformed time field %q", s)
	}
	hour, err1 := strconv.Atoi(s[0:2])
	min, err2 := strconv.Atoi(s[2:4])
	secFloat, err3 := strconv.ParseFloat(s[4:], 64)
	if err1 != nil || err2 != nil || err3 != nil {
		return hms{}, errors.Errorf("malformed time field %q", s)
	}
	sec := int(secFloat)
	nsec := int((secFloat - float64(sec)) * 1e9)
	return hms{hour, min, sec, nsec}, nil
}

func parseDDMMYY(s string) (time.Time, error) {
	if len(s) != 6 {
		return time.Time{}, errors.Errorf("malformed date field %q", s)
	}
	day, err1 := strconv.Atoi(s[0:2])
	month, err2 := strconv.Atoi(s[2:4])
	year, err3 := strconv.Atoi(s[4:6])
	if err1 != nil || err2 != nil || err3 != nil {
		return time.Time{}, errors.Errorf("malformed date field %q", s)
	}
	return time.Date(2000+year, time.Month(month), day, 0, 0, 0, 0, time.UTC), nil
}

// parseNMEACoordinate parses "ddmm.mmmm"/"dddmm.mmmm" plus a
// hemisphere letter into signed decimal degrees.
func parseNMEACoordinate(value, hemisphere string) (float64, error) {
	if value == "" {
		return 0, errors.New("empty coordinate field")
	}
	dot := strings.IndexByte(value, '.')
	if dot < 2 {
		return 0, errors.Errorf("malformed coordinate %q", value)
	}
	degDigits := dot - 2
	deg, err1 := strconv.Atoi(value[:degDigits])
	min, err2 := strconv.ParseFloat(value[degDigits:], 64)
	if err1 != nil || err2 != nil {
		return 0, errors.Errorf("malformed coordinate %q", value)
	}
	decimal := float64(deg) + min/60.0
	if hemisphere == "S" || hemisphere == "W" {
		decimal = -decimal
	}
	return decimal, nil
}
