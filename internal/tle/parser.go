package tle

import (
	"bufio"
	"fmt"
	"io"
	"log/slog"
	"strconv"
	"strings"
	"time"
)

// Parse reads NORAD element sets from r and returns them with dense indices
// in file order. Both the 3-line form (name line first) and the bare 2-line
// form are accepted. Malformed entries are skipped with a warning log.
//
// Lines are kept byte-exact apart from trailing whitespace; all field access
// is positional.
func Parse(r io.Reader, logger *slog.Logger) ([]ElementSet, error) {
	scanner := bufio.NewScanner(r)
	var lines []string
	for scanner.Scan() {
		line := strings.TrimRight(scanner.Text(), "\r\n ")
		if line != "" {
			lines = append(lines, line)
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("reading element sets: %w", err)
	}

	var sets []ElementSet
	for i := 0; i+1 < len(lines); {
		var name, line1, line2 string
		switch {
		case isLine(lines[i], '1') && isLine(lines[i+1], '2'):
			line1, line2 = lines[i], lines[i+1]
			i += 2
		case i+2 < len(lines) && isLine(lines[i+1], '1') && isLine(lines[i+2], '2'):
			name, line1, line2 = strings.TrimSpace(lines[i]), lines[i+1], lines[i+2]
			i += 3
		default:
			logger.Warn("skipping malformed element set", "line_index", i, "line", lines[i])
			i++
			continue
		}

		// NORAD catalog number, columns 3-7.
		noradStr := strings.TrimSpace(line1[2:7])
		noradID, err := strconv.Atoi(noradStr)
		if err != nil {
			logger.Warn("skipping element set with invalid NORAD ID", "norad_str", noradStr, "name", name)
			continue
		}
		if name == "" {
			name = fmt.Sprintf("NORAD %d", noradID)
		}

		// Epoch, columns 19-32.
		if len(line1) < 32 {
			logger.Warn("skipping element set with short line1", "name", name)
			continue
		}
		epochStr := strings.TrimSpace(line1[18:32])
		epoch, err := parseEpoch(epochStr)
		if err != nil {
			logger.Warn("skipping element set with invalid epoch", "epoch_str", epochStr, "name", name, "error", err)
			continue
		}

		sets = append(sets, ElementSet{
			Index:   len(sets),
			NORADID: noradID,
			Name:    name,
			Epoch:   epoch,
			Line1:   line1,
			Line2:   line2,
		})
	}

	return sets, nil
}

func isLine(s string, num byte) bool {
	return len(s) >= 7 && s[0] == num && s[1] == ' '
}

// parseEpoch converts an epoch string in YYDDD.DDDDDDDD format to time.Time.
// Year 00-56 → 2000s, 57-99 → 1900s.
func parseEpoch(s string) (time.Time, error) {
	if len(s) < 5 {
		return time.Time{}, fmt.Errorf("epoch string too short: %q", s)
	}

	yearStr := s[:2]
	dayStr := s[2:]

	year, err := strconv.Atoi(yearStr)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid epoch year %q: %w", yearStr, err)
	}

	if year >= 57 {
		year += 1900
	} else {
		year += 2000
	}

	dayOfYear, err := strconv.ParseFloat(dayStr, 64)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid epoch day %q: %w", dayStr, err)
	}

	// dayOfYear is 1-based: day 1 = Jan 1.
	t := time.Date(year, 1, 1, 0, 0, 0, 0, time.UTC)
	return t.Add(time.Duration((dayOfYear - 1) * float64(24*time.Hour))), nil
}

// MeanMotion returns revolutions per day from line 2, columns 53-63.
func (e ElementSet) MeanMotion() (float64, error) {
	if len(e.Line2) < 63 {
		return 0, fmt.Errorf("line2 too short for mean motion: %d", len(e.Line2))
	}
	mm, err := strconv.ParseFloat(strings.TrimSpace(e.Line2[52:63]), 64)
	if err != nil {
		return 0, fmt.Errorf("invalid mean motion: %w", err)
	}
	if mm <= 0 {
		return 0, fmt.Errorf("non-positive mean motion %g", mm)
	}
	return mm, nil
}

// Period returns the orbital period derived from the mean motion.
func (e ElementSet) Period() (time.Duration, error) {
	mm, err := e.MeanMotion()
	if err != nil {
		return 0, err
	}
	return time.Duration(1440.0 / mm * float64(time.Minute)), nil
}
