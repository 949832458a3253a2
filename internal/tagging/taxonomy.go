package tagging

import "strings"

const (
	TagSmartphone  = "Smartphone"
	TagTablet      = "Tablet"
	TagComputer    = "Computer"
	TagTV          = "TV"
	TagGameConsole = "Game Console"
	TagPrinter     = "Printer"
	TagCamera      = "Camera"
	TagSpeaker     = "Speaker"
	TagNAS         = "NAS"
	TagAccessPoint = "Access Point"
	TagIoT         = "IoT"
)

var allTags = []string{
	TagSmartphone,
	TagTablet,
	TagComputer,
	TagTV,
	TagGameConsole,
	TagPrinter,
	TagCamera,
	TagSpeaker,
	TagNAS,
	TagAccessPoint,
	TagIoT,
}

// NormalizeTag maps any casing or spacing of a known tag onto its canonical
// form; unknown tags come back empty.
func NormalizeTag(tag string) string {
	key := compact(tag)
	for _, t := range allTags {
		if compact(t) == key {
			return t
		}
	}
	return ""
}

func compact(s string) string {
	s = strings.ToLower(strings.TrimSpace(s))
	return strings.NewReplacer(" ", "", "_", "", "-", "").Replace(s)
}
