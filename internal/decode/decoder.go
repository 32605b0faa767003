// Package decode replays stored game records into per-ply positions.
package decode

import (
	"errors"
	"fmt"
	"strings"

	nchess "github.com/corentings/chess/v2"

	"github.com/chessblunders/analysis-core/internal/domain"
)

// ErrMalformedGameRecord marks movetext that cannot be replayed to a legal
// game. Callers treat the whole game as unanalyzable.
var ErrMalformedGameRecord = errors.New("malformed game record")

// Ply is a single half-move replayed from a game record.
type Ply struct {
	Index     int // zero-based half-move index
	Number    int // full-move number, starting at 1
	FENBefore string
	FENAfter  string
	SAN       string
	UCI       string
	UserMove  bool
}

var resultTokens = map[string]bool{
	"1-0":     true,
	"0-1":     true,
	"1/2-1/2": true,
	"*":       true,
}

// Tokenize splits movetext into bare move tokens, dropping move numbers,
// result markers, comments, variations and annotation glyphs.
func Tokenize(movesText string) []string {
	fields := strings.Fields(stripComments(movesText))
	out := make([]string, 0, len(fields))
	for _, f := range fields {
		if resultTokens[f] || f == "--" {
			continue
		}
		if strings.HasPrefix(f, "$") {
			continue
		}
		f = trimMoveNumber(f)
		if f == "" {
			continue
		}
		out = append(out, f)
	}
	return out
}

// Game replays movesText from the starting position and returns every ply
// with the positions around it. UserMove is set on plies played by userColor.
func Game(movesText string, userColor domain.Color) ([]Ply, error) {
	tokens := Tokenize(movesText)
	if len(tokens) == 0 {
		return nil, fmt.Errorf("%w: empty movetext", ErrMalformedGameRecord)
	}

	game := nchess.NewGame()
	notationSAN := nchess.AlgebraicNotation{}
	notationUCI := nchess.UCINotation{}

	plies := make([]Ply, 0, len(tokens))
	for i, tok := range tokens {
		pos := game.Position()
		fenBefore := game.FEN()

		move, err := notationSAN.Decode(pos, tok)
		if err != nil {
			move, err = notationUCI.Decode(pos, strings.ToLower(tok))
			if err != nil {
				return nil, fmt.Errorf("%w: ply %d %q", ErrMalformedGameRecord, i+1, tok)
			}
		}
		if err := game.Move(move, nil); err != nil {
			return nil, fmt.Errorf("%w: ply %d %q: %v", ErrMalformedGameRecord, i+1, tok, err)
		}

		whiteToMove := pos.Turn() == nchess.White
		plies = append(plies, Ply{
			Index:     i,
			Number:    i/2 + 1,
			FENBefore: fenBefore,
			FENAfter:  game.FEN(),
			SAN:       notationSAN.Encode(pos, move),
			UCI:       strings.ToLower(notationUCI.Encode(pos, move)),
			UserMove:  whiteToMove == userColor.IsWhite(),
		})
	}
	return plies, nil
}

// stripComments removes { } comment blocks, ( ) variation lines and
// ;-to-end-of-line comments. Variations are side lines, not moves played, so
// everything inside them is dropped, nesting included.
func stripComments(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	braces := 0
	parens := 0
	lineComment := false
	for _, r := range s {
		switch {
		case lineComment:
			if r == '\n' {
				lineComment = false
				b.WriteRune('\n')
			}
		case r == '{':
			braces++
		case r == '}':
			if braces > 0 {
				braces--
			}
		case braces > 0:
		case r == '(':
			parens++
		case r == ')':
			if parens > 0 {
				parens--
				if parens == 0 {
					b.WriteRune(' ')
				}
			}
		case parens > 0:
		case r == ';':
			lineComment = true
		default:
			b.WriteRune(r)
		}
	}
	return b.String()
}

// trimMoveNumber strips a leading "12." / "12..." prefix, including the glued
// form "12.e4". Tokens without a digit-dot prefix pass through unchanged.
func trimMoveNumber(tok string) string {
	i := 0
	for i < len(tok) && tok[i] >= '0' && tok[i] <= '9' {
		i++
	}
	if i == 0 {
		return tok
	}
	j := i
	for j < len(tok) && tok[j] == '.' {
		j++
	}
	if j == i {
		return tok
	}
	return tok[j:]
}
