package token

// Lookahead buffers exactly one token of a Source so callers can inspect each
// token together with the one that follows it.
type Lookahead struct {
	src    Source
	buf    Token
	primed bool
	last   *Token
	err    error
}

// NewLookahead wraps src.
func NewLookahead(src Source) *Lookahead {
	return &Lookahead{src: src}
}

// Next returns the current token and its successor. When the current token is
// EOF both values are the EOF token and the stream is exhausted. A failure is
// sticky: every later call returns it again.
func (l *Lookahead) Next() (cur, next Token, err error) {
	if l.err != nil {
		return Token{}, Token{}, l.err
	}
	if l.primed {
		cur = l.buf
	} else {
		cur, err = l.pull()
		if err != nil {
			return Token{}, Token{}, err
		}
		l.primed = true
	}
	if cur.IsEOF() {
		l.buf = cur
		return cur, cur, nil
	}
	next, err = l.pull()
	if err != nil {
		return Token{}, Token{}, err
	}
	l.buf = next
	return cur, next, nil
}

// Last returns the last real token pulled from the source, or nil.
func (l *Lookahead) Last() *Token {
	return l.last
}

func (l *Lookahead) pull() (Token, error) {
	tok, err := l.src.Next()
	if err != nil {
		l.err = err
		return Token{}, err
	}
	if !tok.IsEOF() {
		t := tok
		l.last = &t
	}
	return tok, nil
}
