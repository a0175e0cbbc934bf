package engine

import (
	"encoding/json"
	"fmt"
	"strings"
)

// Card is a single playing card. Rank runs 2..14 with Ace high,
// Suit is one of 'c', 'd', 'h', 's'. e.g. "As" => rank 14, suit 's'.
type Card struct {
	Rank int
	Suit byte
}

const rankChars = "  23456789TJQKA"

func (c Card) String() string {
	if c.Rank < 2 || c.Rank > 14 {
		return "??"
	}
	return fmt.Sprintf("%c%c", rankChars[c.Rank], c.Suit)
}

// Cards travel through job payloads as two-character codes.
func (c Card) MarshalJSON() ([]byte, error) {
	return json.Marshal(c.String())
}

func (c *Card) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return err
	}
	parsed, err := ParseCard(s)
	if err != nil {
		return err
	}
	*c = parsed
	return nil
}

// ParseCard reads a two-character card code such as "As" or "9d".
func ParseCard(s string) (Card, error) {
	s = strings.TrimSpace(s)
	if len(s) != 2 {
		return Card{}, fmt.Errorf("malformed card %q", s)
	}
	var rank int
	switch r := s[0]; {
	case r == 'A' || r == 'a':
		rank = 14
	case r == 'K' || r == 'k':
		rank = 13
	case r == 'Q' || r == 'q':
		rank = 12
	case r == 'J' || r == 'j':
		rank = 11
	case r == 'T' || r == 't':
		rank = 10
	case r >= '2' && r <= '9':
		rank = int(r - '0')
	default:
		return Card{}, fmt.Errorf("malformed card rank %q", s)
	}
	suit := s[1]
	if suit >= 'A' && suit <= 'Z' {
		suit += 'a' - 'A'
	}
	switch suit {
	case 'c', 'd', 'h', 's':
	default:
		return Card{}, fmt.Errorf("malformed card suit %q", s)
	}
	return Card{Rank: rank, Suit: suit}, nil
}

// ParseCards reads a list of card codes, either concatenated ("AsKd")
// or separated by spaces or commas ("As Kd", "As,Kd").
func ParseCards(s string) ([]Card, error) {
	s = strings.ReplaceAll(s, ",", " ")
	fields := strings.Fields(s)
	if len(fields) == 1 && len(fields[0]) > 2 && len(fields[0])%2 == 0 {
		joined := fields[0]
		fields = fields[:0]
		for i := 0; i < len(joined); i += 2 {
			fields = append(fields, joined[i:i+2])
		}
	}
	out := make([]Card, 0, len(fields))
	for _, f := range fields {
		c, err := ParseCard(f)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, nil
}

// CardsToStrings renders cards for JSON payloads and logs.
func CardsToStrings(cs []Card) []string {
	out := make([]string, len(cs))
	for i, c := range cs {
		out[i] = c.String()
	}
	return out
}
