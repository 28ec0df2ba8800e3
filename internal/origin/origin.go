// Package origin marks external calendar events created by AlwaysPlan so a
// later import recognises them as echoes of its own exports.
package origin

import (
	"regexp"
	"strconv"
	"strings"

	calendar "google.golang.org/api/calendar/v3"
)

const (
	// PropertyKey is the private extended property holding the tag.
	PropertyKey = "alwaysplan_id"

	// MarkerPrefix starts the description line that carries the tag when
	// the service drops private properties.
	MarkerPrefix = "AlwaysPlanID:"
)

// Tag identifies the local occurrence an external event was exported from.
type Tag struct {
	OccurrenceID int64
}

func (t Tag) String() string {
	return strconv.FormatInt(t.OccurrenceID, 10)
}

// Parse reads a tag from its string form.
func Parse(s string) (Tag, bool) {
	id, err := strconv.ParseInt(strings.TrimSpace(s), 10, 64)
	if err != nil || id <= 0 {
		return Tag{}, false
	}
	return Tag{OccurrenceID: id}, true
}

// Codec writes a tag onto an event and reads it back.
type Codec interface {
	Stamp(ev *calendar.Event, t Tag)
	Read(ev *calendar.Event) (Tag, bool)
}

// PrivateProperty stores the tag in extendedProperties.private.
type PrivateProperty struct{}

func (PrivateProperty) Stamp(ev *calendar.Event, t Tag) {
	if ev.ExtendedProperties == nil {
		ev.ExtendedProperties = &calendar.EventExtendedProperties{}
	}
	if ev.ExtendedProperties.Private == nil {
		ev.ExtendedProperties.Private = map[string]string{}
	}
	ev.ExtendedProperties.Private[PropertyKey] = t.String()
}

func (PrivateProperty) Read(ev *calendar.Event) (Tag, bool) {
	if ev == nil || ev.ExtendedProperties == nil {
		return Tag{}, false
	}
	v, ok := ev.ExtendedProperties.Private[PropertyKey]
	if !ok {
		return Tag{}, false
	}
	return Parse(v)
}

var markerRe = regexp.MustCompile(`(?m)^[ \t]*` + regexp.QuoteMeta(MarkerPrefix) + `[ \t]*(\d+)[ \t]*$`)

// DescriptionMarker stores the tag as its own line at the end of the
// description.
type DescriptionMarker struct{}

func (DescriptionMarker) Stamp(ev *calendar.Event, t Tag) {
	desc := StripMarker(ev.Description)
	line := MarkerPrefix + t.String()
	if desc == "" {
		ev.Description = line
		return
	}
	ev.Description = desc + "\n\n" + line
}

func (DescriptionMarker) Read(ev *calendar.Event) (Tag, bool) {
	if ev == nil {
		return Tag{}, false
	}
	m := markerRe.FindStringSubmatch(ev.Description)
	if m == nil {
		return Tag{}, false
	}
	return Parse(m[1])
}

// StripMarker removes marker lines from a description.
func StripMarker(desc string) string {
	return strings.TrimSpace(markerRe.ReplaceAllString(desc, ""))
}

// Chain stamps with every codec and reads with the first that finds a tag.
type Chain []Codec

func (c Chain) Stamp(ev *calendar.Event, t Tag) {
	for _, codec := range c {
		codec.Stamp(ev, t)
	}
}

func (c Chain) Read(ev *calendar.Event) (Tag, bool) {
	for _, codec := range c {
		if t, ok := codec.Read(ev); ok {
			return t, true
		}
	}
	return Tag{}, false
}

// Default prefers the structured property and falls back to the
// description marker.
var Default Codec = Chain{PrivateProperty{}, DescriptionMarker{}}
