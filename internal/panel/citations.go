package panel

import (
	"regexp"
	"strings"

	"github.com/google/uuid"

	"truce/internal/models"
)

const uuidPattern = `[0-9a-fA-F]{8}-[0-9a-fA-F]{4}-[0-9a-fA-F]{4}-[0-9a-fA-F]{4}-[0-9a-fA-F]{12}`

// citationMarker matches "(uuid)" and "(evidence_id: uuid)" inline
// citations.
var citationMarker = regexp.MustCompile(`\((?:evidence_id:\s*)?(` + uuidPattern + `)\)`)

var whitespaceRuns = regexp.MustCompile(`\s+`)

// ExtractCitations finds inline citation markers in an argument,
// records a link per marker that resolves through the lookup, and
// returns the display text with all markers stripped and whitespace
// collapsed. Link offsets refer to the original argument text.
func ExtractCitations(argument string, lookup map[string]uuid.UUID) ([]models.CitationLink, string) {
	var links []models.CitationLink
	for _, m := range citationMarker.FindAllStringSubmatchIndex(argument, -1) {
		start, end := m[0], m[1]
		idText := strings.ToLower(argument[m[2]:m[3]])
		id, ok := lookup[idText]
		if !ok {
			// Markers may cite by canonical UUID string even when the
			// lookup keys carry original casing.
			parsed, err := uuid.Parse(idText)
			if err != nil {
				continue
			}
			id, ok = lookup[parsed.String()]
			if !ok {
				continue
			}
		}
		links = append(links, models.CitationLink{
			Start:      start,
			End:        end,
			EvidenceID: id,
			Text:       enclosingSentence(argument, start),
		})
	}

	display := citationMarker.ReplaceAllString(argument, "")
	display = strings.TrimSpace(whitespaceRuns.ReplaceAllString(display, " "))
	return links, display
}

// enclosingSentence returns the text from the most recent sentence
// start up to the marker. A sentence boundary is '.', '!', or '?'
// followed by a space, where the character before the punctuation is
// not a digit (guards decimals like "3.5 %").
func enclosingSentence(text string, markerStart int) string {
	begin := 0
	for i := markerStart - 2; i > 0; i-- {
		c := text[i]
		if (c == '.' || c == '!' || c == '?') && text[i+1] == ' ' && !isDigit(text[i-1]) {
			begin = i + 2
			break
		}
	}
	return strings.TrimSpace(text[begin:markerStart])
}

func isDigit(c byte) bool {
	return c >= '0' && c <= '9'
}
