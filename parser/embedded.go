package parser

import (
	"errors"
	"fmt"
	"strings"

	"github.com/PuerkitoBio/goquery"
)

var (
	// ErrMarkerNotFound is returned when the document carries no embedded state.
	ErrMarkerNotFound = errors.New("parser: embedded state marker not found")
	// ErrUnterminatedObject is returned when the braces of the state object never balance.
	ErrUnterminatedObject = errors.New("parser: unterminated embedded object")
)

// ExtractObject returns the JSON object assigned after marker in text.
//
// The scan counts braces outside string literals only, honouring backslash
// escapes, so nested objects and "}" inside strings do not end the object early.
func ExtractObject(text, marker string) (string, error) {
	idx := strings.Index(text, marker)
	if idx < 0 {
		return "", ErrMarkerNotFound
	}
	rest := text[idx+len(marker):]
	open := strings.IndexByte(rest, '{')
	if open < 0 {
		return "", fmt.Errorf("%w: no object after marker", ErrUnterminatedObject)
	}
	// Only whitespace and "=" may separate the marker from the object.
	if strings.Trim(rest[:open], " \t\r\n=") != "" {
		return "", fmt.Errorf("%w: unexpected %q before object", ErrUnterminatedObject, strings.TrimSpace(rest[:open]))
	}

	end, err := matchBraces(rest[open:])
	if err != nil {
		return "", err
	}
	return rest[open : open+end], nil
}

// matchBraces returns the length of the balanced object at the start of s.
func matchBraces(s string) (int, error) {
	depth := 0
	inString := false
	escaped := false

	for i := 0; i < len(s); i++ {
		c := s[i]
		if escaped {
			escaped = false
			continue
		}
		if inString {
			switch c {
			case '\\':
				escaped = true
			case '"':
				inString = false
			}
			continue
		}
		switch c {
		case '"':
			inString = true
		case '{':
			depth++
		case '}':
			depth--
			if depth == 0 {
				return i + 1, nil
			}
		}
	}
	return 0, ErrUnterminatedObject
}

// FindEmbeddedState locates the script element carrying marker and returns
// the object assigned to it.
func FindEmbeddedState(doc *goquery.Document, marker string) (string, error) {
	var (
		found string
		err   = ErrMarkerNotFound
	)
	doc.Find("script").EachWithBreak(func(_ int, s *goquery.Selection) bool {
		text := s.Text()
		if !strings.Contains(text, marker) {
			return true
		}
		found, err = ExtractObject(text, marker)
		return false
	})
	if err != nil {
		return "", err
	}
	return found, nil
}
