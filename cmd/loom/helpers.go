package main

import (
	"fmt"
	"strconv"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

var titleCaser = cases.Title(language.Und)

// statusLabel renders an internal status string as a display label.
func statusLabel(status string) string {
	return titleCaser.String(status)
}

func yesNo(value bool) string {
	if value {
		return "yes"
	}
	return "no"
}

func formatCount(value int64) string {
	return strconv.FormatInt(value, 10)
}

// shortID trims a UUID to its first segment for dense table views.
func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

func orDash(value string) string {
	if value == "" {
		return "-"
	}
	return value
}

func checkMark(passed bool) string {
	if passed {
		return "OK"
	}
	return "FAIL"
}

func plural(count int64, noun string) string {
	if count == 1 {
		return fmt.Sprintf("%d %s", count, noun)
	}
	return fmt.Sprintf("%d %ss", count, noun)
}
