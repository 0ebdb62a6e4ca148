package coverage

import (
	"bytes"
	"errors"
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"
)

func TestStorePutMergesProbes(t *testing.T) {
	t.Parallel()

	s := NewStore()
	require.NoError(t, s.Put(ExecutionData{ID: 1, Name: "a/B", Probes: []bool{true, false, false}}))
	require.NoError(t, s.Put(ExecutionData{ID: 1, Name: "a/B", Probes: []bool{false, false, true}}))

	got, ok := s.Get(1)
	require.True(t, ok)
	assert.Equal(t, []bool{true, false, true}, got.Probes)
	assert.Equal(t, 1, s.Len())
}

func TestStorePutIncompatible(t *testing.T) {
	t.Parallel()

	s := NewStore()
	require.NoError(t, s.Put(ExecutionData{ID: 1, Name: "a/B", Probes: []bool{true}}))
	err := s.Put(ExecutionData{ID: 1, Name: "a/B", Probes: []bool{true, true}})
	require.ErrorIs(t, err, ErrIncompatible)
	err = s.Put(ExecutionData{ID: 1, Name: "a/C", Probes: []bool{true}})
	require.ErrorIs(t, err, ErrIncompatible)
}

func TestMergerSessions(t *testing.T) {
	t.Parallel()

	m := NewMerger()
	require.NoError(t, m.VisitSession(SessionInfo{ID: "s1"}))
	require.NoError(t, m.VisitClass(ExecutionData{ID: 1, Name: "A", Probes: []bool{true, false}}))
	require.NoError(t, m.VisitSession(SessionInfo{ID: "s2"}))
	require.NoError(t, m.VisitClass(ExecutionData{ID: 1, Name: "A", Probes: []bool{false, true}}))
	// Revisiting a session reuses its store.
	require.NoError(t, m.VisitSession(SessionInfo{ID: "s1"}))
	require.NoError(t, m.VisitClass(ExecutionData{ID: 2, Name: "B", Probes: []bool{true}}))

	assert.Equal(t, []string{"s1", "s2"}, m.SessionIDs())
	assert.Equal(t, 2, m.Sessions()["s1"].Len())
	assert.Equal(t, 1, m.Sessions()["s2"].Len())

	s1A, _ := m.Sessions()["s1"].Get(1)
	assert.Equal(t, []bool{true, false}, s1A.Probes, "session data must not see other sessions")

	merged, _ := m.Merged().Get(1)
	assert.Equal(t, []bool{true, true}, merged.Probes)
	assert.Equal(t, Summary{Classes: 2, Probes: 3, Covered: 3}, m.Merged().Summarize())
}

func TestMergerClassBeforeSession(t *testing.T) {
	t.Parallel()

	err := NewMerger().VisitClass(ExecutionData{ID: 1, Name: "A", Probes: []bool{true}})
	require.ErrorIs(t, err, ErrNoSession)
}

func TestMergedStoreDoesNotAliasSessionData(t *testing.T) {
	t.Parallel()

	probes := []bool{false, false}
	m := NewMerger()
	require.NoError(t, m.VisitSession(SessionInfo{ID: "s1"}))
	require.NoError(t, m.VisitClass(ExecutionData{ID: 7, Name: "A", Probes: probes}))

	// The session store keeps the caller's data; mutating it must not leak
	// into the merged store.
	probes[0] = true

	merged, _ := m.Merged().Get(7)
	assert.Equal(t, []bool{false, false}, merged.Probes)
}

func TestClone(t *testing.T) {
	t.Parallel()

	d := ExecutionData{ID: 3, Name: "X", Probes: []bool{true, false}}
	c := d.Clone()
	c.Probes[1] = true
	assert.Equal(t, []bool{true, false}, d.Probes)
	assert.Equal(t, d.ID, c.ID)
	assert.Equal(t, d.Name, c.Name)
}

func TestSummaryRatio(t *testing.T) {
	t.Parallel()

	assert.Zero(t, Summary{}.Ratio())
	assert.InDelta(t, 0.25, Summary{Probes: 8, Covered: 2}.Ratio(), 1e-9)
}

// fixture is a hand-encoded file: header, session "s" (start 1, dump 2) and
// class 0x10 "p/A" with probes [true, false, true].
var fixture = []byte{
	0x01, 0xC0, 0xC0, 0x10, 0x07,
	0x10, 0x00, 0x01, 's',
	0, 0, 0, 0, 0, 0, 0, 1,
	0, 0, 0, 0, 0, 0, 0, 2,
	0x11, 0, 0, 0, 0, 0, 0, 0, 0x10,
	0x00, 0x03, 'p', '/', 'A',
	0x03, 0x05,
}

func TestReadFixture(t *testing.T) {
	t.Parallel()

	m := NewMerger()
	require.NoError(t, NewReader(bytes.NewReader(fixture)).Read(m))
	require.Equal(t, []string{"s"}, m.SessionIDs())
	got, ok := m.Merged().Get(0x10)
	require.True(t, ok)
	assert.Equal(t, "p/A", got.Name)
	assert.Equal(t, []bool{true, false, true}, got.Probes)
}

func TestWriterMatchesFixture(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	w := NewWriter(&buf)
	require.NoError(t, w.VisitSession(SessionInfo{ID: "s", Start: 1, Dump: 2}))
	require.NoError(t, w.VisitClass(ExecutionData{ID: 0x10, Name: "p/A", Probes: []bool{true, false, true}}))
	require.NoError(t, w.Flush())
	assert.Equal(t, fixture, buf.Bytes())
}

func TestWriterSkipsClassesWithoutHits(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	w := NewWriter(&buf)
	require.NoError(t, w.VisitSession(SessionInfo{ID: "s"}))
	require.NoError(t, w.VisitClass(ExecutionData{ID: 1, Name: "A", Probes: []bool{false}}))
	require.NoError(t, w.Flush())

	m := NewMerger()
	require.NoError(t, NewReader(&buf).Read(m))
	assert.Equal(t, 0, m.Merged().Len())
}

func TestReadAppendedFiles(t *testing.T) {
	t.Parallel()

	data := append(append([]byte{}, fixture...), fixture...)
	m := NewMerger()
	require.NoError(t, NewReader(bytes.NewReader(data)).Read(m))
	assert.Equal(t, 1, m.Merged().Len())
	assert.Equal(t, 1, m.Sessions()["s"].Len())
}

// execBlock returns a header and one class block whose probe array starts
// with the given length bytes and has no data.
func execBlock(length ...byte) []byte {
	b := []byte{
		0x01, 0xC0, 0xC0, 0x10, 0x07,
		0x11, 0, 0, 0, 0, 0, 0, 0, 0x10,
		0x00, 0x01, 'A',
	}
	return append(b, length...)
}

func TestReadErrors(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		data []byte
		want error
	}{
		{"empty", nil, ErrInvalidFile},
		{"no header", []byte{0x10, 0x00, 0x00}, ErrInvalidFile},
		{"bad magic", []byte{0x01, 0xCA, 0xFE, 0x10, 0x07}, ErrInvalidFile},
		{"bad version", []byte{0x01, 0xC0, 0xC0, 0x10, 0x06}, ErrVersion},
		{"unknown block", []byte{0x01, 0xC0, 0xC0, 0x10, 0x07, 0x42}, ErrInvalidFile},
		{"truncated", fixture[:len(fixture)-1], io.ErrUnexpectedEOF},
		{"huge probe count", execBlock(0xFF, 0xFF, 0xFF, 0xFF, 0x03), io.ErrUnexpectedEOF},
		{"varint overflow", execBlock(0xFF, 0xFF, 0xFF, 0xFF, 0x10), ErrInvalidFile},
		{"varint too long", execBlock(0xFF, 0xFF, 0xFF, 0xFF, 0x8F, 0x01), ErrInvalidFile},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			err := NewReader(bytes.NewReader(tt.data)).Read(NewMerger())
			require.Error(t, err)
			assert.True(t, errors.Is(err, tt.want), "got %v, want %v", err, tt.want)
		})
	}
}

func TestModifiedUTF8(t *testing.T) {
	t.Parallel()

	for _, s := range []string{"", "plain", "nul\x00byte", "ünïcödé", "emoji 😀"} {
		b := encodeModifiedUTF8(s)
		assert.NotContains(t, b, byte(0), "%q", s)
		got, err := decodeModifiedUTF8(b)
		require.NoError(t, err)
		assert.Equal(t, s, got)
	}
	// A supplementary character is two 3-byte surrogates.
	assert.Len(t, encodeModifiedUTF8("😀"), 6)
}

func TestWriteReadProperty(t *testing.T) {
	t.Parallel()

	rapid.Check(t, func(t *rapid.T) {
		n := rapid.IntRange(1, 20).Draw(t, "classes")
		in := NewStore()
		for i := 0; i < n; i++ {
			probes := rapid.SliceOfN(rapid.Bool(), 1, 40).Draw(t, "probes")
			probes[0] = true
			d := ExecutionData{
				ID:     rapid.Int64().Draw(t, "id"),
				Name:   rapid.StringMatching(`[a-z/]{1,12}`).Draw(t, "name"),
				Probes: probes,
			}
			if _, ok := in.Get(d.ID); ok {
				continue
			}
			if err := in.Put(d); err != nil {
				t.Fatalf("put: %v", err)
			}
		}

		var buf bytes.Buffer
		w := NewWriter(&buf)
		if err := w.WriteStore(SessionInfo{ID: "merged"}, in); err != nil {
			t.Fatalf("write: %v", err)
		}
		if err := w.Flush(); err != nil {
			t.Fatalf("flush: %v", err)
		}

		m := NewMerger()
		if err := NewReader(&buf).Read(m); err != nil {
			t.Fatalf("read: %v", err)
		}
		want, got := in.Contents(), m.Merged().Contents()
		if len(want) != len(got) {
			t.Fatalf("got %d classes, want %d", len(got), len(want))
		}
		for i := range want {
			if want[i].ID != got[i].ID || want[i].Name != got[i].Name || !equalBools(want[i].Probes, got[i].Probes) {
				t.Fatalf("class %d: got %+v, want %+v", i, got[i], want[i])
			}
		}
	})
}

func TestMergeIsCommutative(t *testing.T) {
	t.Parallel()

	rapid.Check(t, func(t *rapid.T) {
		size := rapid.IntRange(0, 30).Draw(t, "size")
		a := rapid.SliceOfN(rapid.Bool(), size, size).Draw(t, "a")
		b := rapid.SliceOfN(rapid.Bool(), size, size).Draw(t, "b")

		ab, ba := NewMerger(), NewMerger()
		for _, step := range []struct {
			m      *Merger
			first  []bool
			second []bool
		}{{ab, a, b}, {ba, b, a}} {
			_ = step.m.VisitSession(SessionInfo{ID: "1"})
			_ = step.m.VisitClass(ExecutionData{ID: 1, Name: "C", Probes: append([]bool(nil), step.first...)})
			_ = step.m.VisitSession(SessionInfo{ID: "2"})
			_ = step.m.VisitClass(ExecutionData{ID: 1, Name: "C", Probes: append([]bool(nil), step.second...)})
		}
		x, _ := ab.Merged().Get(1)
		y, _ := ba.Merged().Get(1)
		if !equalBools(x.Probes, y.Probes) {
			t.Fatalf("%v != %v", x.Probes, y.Probes)
		}
		for i := range a {
			if x.Probes[i] != (a[i] || b[i]) {
				t.Fatalf("probe %d: got %v, want %v", i, x.Probes[i], a[i] || b[i])
			}
		}
	})
}

func equalBools(a, b []bool) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
