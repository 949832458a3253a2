package tagging

import (
	"sort"
	"strings"
)

type Suggestion struct {
	Tag        string
	Confidence int
	Evidence   map[string]any
}

// Classify picks the most likely device type for a host from its names. It
// returns "" when nothing matches.
func Classify(names ...string) string {
	merged := MergeSuggestions(SuggestFromNames(names))
	if len(merged) == 0 {
		return ""
	}
	return merged[0].Tag
}

func MergeSuggestions(groups ...[]Suggestion) []Suggestion {
	byTag := make(map[string]Suggestion)

	for _, group := range groups {
		for _, s := range group {
			tag := NormalizeTag(s.Tag)
			if tag == "" || s.Confidence <= 0 {
				continue
			}

			existing, ok := byTag[tag]
			if !ok || s.Confidence > existing.Confidence {
				s.Tag = tag
				byTag[tag] = s
				continue
			}
			if s.Evidence != nil {
				if existing.Evidence == nil {
					existing.Evidence = map[string]any{}
				}
				for k, v := range s.Evidence {
					existing.Evidence[k] = v
				}
				byTag[tag] = existing
			}
		}
	}

	out := make([]Suggestion, 0, len(byTag))
	for _, v := range byTag {
		out = append(out, v)
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Confidence != out[j].Confidence {
			return out[i].Confidence > out[j].Confidence
		}
		return out[i].Tag < out[j].Tag
	})
	return out
}

func SuggestFromNames(names []string) []Suggestion {
	var out []Suggestion
	for _, raw := range names {
		name := strings.ToLower(strings.TrimSpace(raw))
		if name == "" {
			continue
		}

		tokens := tokenize(name)
		matches := func(set ...string) (string, bool) {
			for _, t := range tokens {
				for _, candidate := range set {
					if t == candidate {
						return t, true
					}
				}
			}
			return "", false
		}

		add := func(tag string, confidence int, match string) {
			out = append(out, Suggestion{
				Tag:        tag,
				Confidence: confidence,
				Evidence: map[string]any{
					"signal": "name",
					"name":   raw,
					"match":  match,
				},
			})
		}

		if m, ok := matches("iphone", "android", "pixel", "galaxy", "phone", "oneplus", "xiaomi", "redmi"); ok {
			add(TagSmartphone, 80, m)
		}
		if m, ok := matches("ipad", "tab", "tablet", "kindle"); ok {
			add(TagTablet, 78, m)
		}
		if m, ok := matches("macbook", "imac", "laptop", "desktop", "pc", "thinkpad", "workstation", "win"); ok {
			add(TagComputer, 72, m)
		}
		if m, ok := matches("tv", "bravia", "roku", "chromecast", "firetv", "appletv", "shield"); ok {
			add(TagTV, 76, m)
		}
		if m, ok := matches("xbox", "playstation", "ps4", "ps5", "switch", "nintendo"); ok {
			add(TagGameConsole, 76, m)
		}
		if m, ok := matches("printer", "brother", "epson", "canon", "hp", "officejet", "laserjet"); ok {
			add(TagPrinter, 74, m)
		}
		if m, ok := matches("cam", "camera", "doorbell", "ring", "nvr", "reolink", "wyze"); ok {
			add(TagCamera, 74, m)
		}
		if m, ok := matches("sonos", "echo", "alexa", "homepod", "nest", "speaker"); ok {
			add(TagSpeaker, 70, m)
		}
		if m, ok := matches("nas", "synology", "diskstation", "qnap", "truenas"); ok {
			add(TagNAS, 78, m)
		}
		if m, ok := matches("ap", "unifi", "eap", "mesh", "repeater", "extender", "deco", "orbi"); ok {
			add(TagAccessPoint, 72, m)
		}
		if m, ok := matches("esp", "esp32", "esp8266", "tasmota", "shelly", "tuya", "hue", "plug", "bulb"); ok {
			add(TagIoT, 68, m)
		}
	}
	return out
}

func tokenize(value string) []string {
	var out []string
	var buf strings.Builder
	flush := func() {
		if buf.Len() == 0 {
			return
		}
		out = append(out, buf.String())
		buf.Reset()
	}

	for _, r := range value {
		switch {
		case r >= 'a' && r <= 'z':
			buf.WriteRune(r)
		case r >= '0' && r <= '9':
			buf.WriteRune(r)
		default:
			flush()
		}
	}
	flush()
	return out
}
