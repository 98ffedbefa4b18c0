package store

import (
	"fmt"
	"strings"
	"time"
)

// messageTimeLayout is the timestamp prefix of message filenames. It sorts
// chronologically as a plain string.
const messageTimeLayout = "20060102T150405Z"

// MessageFilename formats the on-disk name of a message file:
// YYYYMMDDTHHMMSSZ__msg<id>.md. The date is rendered in UTC.
func MessageFilename(date time.Time, messageID string) string {
	return fmt.Sprintf("%s__msg%s.md", date.UTC().Format(messageTimeLayout), messageID)
}

// ParseMessageFilename inverts MessageFilename.
func ParseMessageFilename(name string) (time.Time, string, error) {
	rest, ok := strings.CutSuffix(name, ".md")
	if !ok {
		return time.Time{}, "", fmt.Errorf("not a message filename: %s", name)
	}
	stamp, id, ok := strings.Cut(rest, "__msg")
	if !ok {
		return time.Time{}, "", fmt.Errorf("not a message filename: %s", name)
	}
	date, err := time.Parse(messageTimeLayout, stamp)
	if err != nil {
		return time.Time{}, "", fmt.Errorf("bad timestamp in filename %s: %w", name, err)
	}
	return date, id, nil
}
