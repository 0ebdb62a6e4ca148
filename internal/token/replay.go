package token

// Replay is a Source over a fixed token slice. Names maps tokenizer kinds to
// symbolic names; synthetic kinds resolve without an entry.
type Replay struct {
	Names  map[Kind]string
	tokens []Token
	pos    int
	failAt int
	fail   error
}

// NewReplay returns a Source yielding toks followed by an EOF token on the
// line where the last token ends.
func NewReplay(names map[Kind]string, toks []Token) *Replay {
	return &Replay{Names: names, tokens: toks, failAt: -1}
}

// FailAt makes the source fail with err instead of yielding token i.
func (r *Replay) FailAt(i int, err error) *Replay {
	r.failAt = i
	r.fail = err
	return r
}

// SymbolicName implements Vocabulary.
func (r *Replay) SymbolicName(k Kind) string {
	if name := SyntheticName(k); name != "" {
		return name
	}
	return r.Names[k]
}

// Next implements Source.
func (r *Replay) Next() (Token, error) {
	if r.failAt >= 0 && r.pos >= r.failAt {
		return Token{}, r.fail
	}
	if r.pos >= len(r.tokens) {
		return Token{Kind: EOF, Line: r.eofLine()}, nil
	}
	tok := r.tokens[r.pos]
	r.pos++
	return tok, nil
}

func (r *Replay) eofLine() int {
	if len(r.tokens) == 0 {
		return 1
	}
	last := r.tokens[len(r.tokens)-1]
	line := last.Line
	for _, c := range last.Text {
		if c == '\n' {
			line++
		}
	}
	return line
}
