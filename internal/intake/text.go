package intake

import (
	"errors"
	"strings"
	"unicode"
)

// ErrEmptyText is returned for blank speech input.
var ErrEmptyText = errors.New("please enter the text to convert")

// NormalizeText trims the input and rejects blank text.
func NormalizeText(text string) (string, error) {
	trimmed := strings.TrimSpace(text)
	if trimmed == "" {
		return "", ErrEmptyText
	}

	return trimmed, nil
}

// SplitText cuts text into pieces of at most maxRunes runes, preferring to cut
// at whitespace. Pieces are trimmed; empty pieces are dropped.
func SplitText(text string, maxRunes int) []string {
	runes := []rune(strings.TrimSpace(text))
	if maxRunes <= 0 || len(runes) <= maxRunes {
		if len(runes) == 0 {
			return nil
		}

		return []string{string(runes)}
	}

	var pieces []string

	for len(runes) > 0 {
		end := min(maxRunes, len(runes))

		if end < len(runes) {
			for cut := end; cut > end/2; cut-- {
				if unicode.IsSpace(runes[cut]) {
					end = cut

					break
				}
			}
		}

		piece := strings.TrimSpace(string(runes[:end]))
		if piece != "" {
			pieces = append(pieces, piece)
		}

		runes = runes[end:]
	}

	return pieces
}
