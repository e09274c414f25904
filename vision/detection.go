// Package vision classifies stream screenshots with a Gemini model.
package vision

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"unicode"
)

// Game is a game the classifier can recognise.
type Game string

const (
	GameValorant Game = "valorant"
	GameChess    Game = "chess"
)

// Valid reports whether g is one of the known games.
func (g Game) Valid() bool { return g == GameValorant || g == GameChess }

// Detection is the classifier's verdict for one screenshot.
type Detection struct {
	Game      Game `json:"game"`
	IsInMatch bool `json:"isInMatch"`
}

// ClassificationError means the model answered but not in the agreed shape.
// Raw holds the text it returned.
type ClassificationError struct {
	Raw string
	Err error
}

func (e *ClassificationError) Error() string {
	return fmt.Sprintf("vision: malformed classification: %v", e.Err)
}

func (e *ClassificationError) Unwrap() error { return e.Err }

type rawDetection struct {
	Game      *string `json:"game"`
	IsInMatch *bool   `json:"isInMatch"`
}

// ParseDetection strips a markdown code fence if present and decodes text
// strictly: both fields required, no extras, game must be known.
func ParseDetection(text string) (Detection, error) {
	body := stripFence(text)
	dec := json.NewDecoder(bytes.NewReader([]byte(body)))
	dec.DisallowUnknownFields()
	var raw rawDetection
	if err := dec.Decode(&raw); err != nil {
		return Detection{}, &ClassificationError{Raw: text, Err: err}
	}
	if dec.More() {
		return Detection{}, &ClassificationError{Raw: text, Err: errors.New("trailing data after object")}
	}
	switch {
	case raw.Game == nil:
		return Detection{}, &ClassificationError{Raw: text, Err: errors.New("missing field game")}
	case raw.IsInMatch == nil:
		return Detection{}, &ClassificationError{Raw: text, Err: errors.New("missing field isInMatch")}
	}
	g := Game(strings.ToLower(*raw.Game))
	if !g.Valid() {
		return Detection{}, &ClassificationError{Raw: text, Err: fmt.Errorf("unknown game %q", *raw.Game)}
	}
	return Detection{Game: g, IsInMatch: *raw.IsInMatch}, nil
}

func stripFence(s string) string {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	// Drop the info string, whatever its case.
	s = strings.TrimLeftFunc(strings.TrimPrefix(s, "```"), unicode.IsLetter)
	s = strings.TrimSuffix(strings.TrimSpace(s), "```")
	return strings.TrimSpace(s)
}
