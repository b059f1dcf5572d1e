package stream

import (
	"errors"
	"math/rand"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/EmilyShepherd/vumi-bridge-go/types"
)

type sample struct {
	A *int `json:"a"`
}

func (s *sample) Validate() error {
	if s.A == nil {
		return errors.New("missing a")
	}
	return nil
}

func newDecoder(opt ...DecoderOption) *FrameDecoder[sample, *sample] {
	return NewFrameDecoder[sample, *sample](opt...)
}

func values(t *testing.T, events []types.Event[sample]) []int {
	t.Helper()
	var out []int
	for _, e := range events {
		require.Equal(t, types.EventTypeMessage, e.Type, "unexpected event %+v", e)
		out = append(out, *e.Object.A)
	}
	return out
}

func TestFeedReassemblesAcrossChunks(t *testing.T) {
	d := newDecoder()

	first := d.Feed([]byte(`{"a":1}` + "\n" + `{"a":`))
	second := d.Feed([]byte("2}\n"))

	assert.Equal(t, []int{1}, values(t, first))
	assert.Equal(t, []int{2}, values(t, second))
	assert.Zero(t, d.Pending())
}

func TestFeedMalformedLineDoesNotSuppressNext(t *testing.T) {
	d := newDecoder()

	events := d.Feed([]byte("not-json\n" + `{"a":1}` + "\n"))

	require.Len(t, events, 2)
	assert.Equal(t, types.EventTypeDecodeError, events[0].Type)
	var decodeErr *types.DecodeError
	require.ErrorAs(t, events[0].Err, &decodeErr)
	assert.Equal(t, []byte("not-json"), decodeErr.Raw)
	assert.Equal(t, []int{1}, values(t, events[1:]))
}

func TestDecodeErrorKeepsWholeRecord(t *testing.T) {
	d := newDecoder()

	record := `{"a":"` + strings.Repeat("x", 400) + `"`
	events := d.Feed([]byte(record + "\n"))

	require.Len(t, events, 1)
	var decodeErr *types.DecodeError
	require.ErrorAs(t, events[0].Err, &decodeErr)
	assert.Equal(t, []byte(record), decodeErr.Raw)
}

func TestFeedEmptyRecords(t *testing.T) {
	d := newDecoder()

	events := d.Feed([]byte("\n\n"))

	require.Len(t, events, 2)
	for _, e := range events {
		assert.Equal(t, types.EventTypeDecodeError, e.Type)
		assert.ErrorIs(t, e.Err, ErrEmptyRecord)
		assert.Nil(t, e.Object)
	}
}

func TestFeedDomainRejection(t *testing.T) {
	d := newDecoder()

	events := d.Feed([]byte(`{"b":1}` + "\n"))

	require.Len(t, events, 1)
	assert.Equal(t, types.EventTypeDecodeError, events[0].Type)
	assert.EqualError(t, errors.Unwrap(events[0].Err), "missing a")
}

func TestFeedHoldsTrailingFragment(t *testing.T) {
	d := newDecoder()

	assert.Empty(t, d.Feed([]byte(`{"a":1`)))
	assert.Empty(t, d.Feed(nil))
	assert.Equal(t, 6, d.Pending())

	assert.Equal(t, 6, d.Reset())
	assert.Zero(t, d.Pending())
	assert.Equal(t, types.EventTypeDecodeError, d.Feed([]byte("}\n"))[0].Type)
}

func TestFeedAnySplitMatchesWhole(t *testing.T) {
	var sb strings.Builder
	var want []int
	for i := 0; i < 20; i++ {
		sb.WriteString(`{"a":`)
		sb.WriteString(strings.Repeat("1", i%5+1))
		sb.WriteString("}\n")
		want = append(want, atoi(strings.Repeat("1", i%5+1)))
	}
	input := []byte(sb.String())

	t.Run("every two-way split", func(t *testing.T) {
		for split := 0; split <= len(input); split++ {
			d := newDecoder()
			got := append(d.Feed(input[:split]), d.Feed(input[split:])...)
			require.Equal(t, want, values(t, got), "split at %d", split)
		}
	})

	t.Run("byte at a time", func(t *testing.T) {
		d := newDecoder()
		var got []types.Event[sample]
		for i := range input {
			got = append(got, d.Feed(input[i:i+1])...)
		}
		require.Equal(t, want, values(t, got))
	})

	t.Run("random chunks", func(t *testing.T) {
		rng := rand.New(rand.NewSource(1))
		for run := 0; run < 100; run++ {
			d := newDecoder()
			var got []types.Event[sample]
			for rest := input; len(rest) > 0; {
				n := rng.Intn(len(rest)) + 1
				got = append(got, d.Feed(rest[:n])...)
				rest = rest[n:]
			}
			require.Equal(t, want, values(t, got), "run %d", run)
		}
	})
}

func TestFeedMaxRecordBytes(t *testing.T) {
	d := newDecoder(WithMaxRecordBytes(10))

	events := d.Feed([]byte(`{"a":1}` + "\n" + `{"a":12345`))
	assert.Equal(t, []int{1}, values(t, events))

	events = d.Feed([]byte(`678`))
	require.Len(t, events, 1)
	assert.ErrorIs(t, events[0].Err, ErrRecordTooLarge)
	var decodeErr *types.DecodeError
	require.ErrorAs(t, events[0].Err, &decodeErr)
	assert.Equal(t, []byte(`{"a":12345`), decodeErr.Raw)
	assert.Zero(t, d.Pending())

	// The tail of the oversized record is skipped silently.
	events = d.Feed([]byte(`9}` + "\n" + `{"a":2}` + "\n"))
	assert.Equal(t, []int{2}, values(t, events))

	events = d.Feed([]byte(`{"a":123456789}` + "\n"))
	require.Len(t, events, 1)
	assert.ErrorIs(t, events[0].Err, ErrRecordTooLarge)
}

func TestWithUnmarshal(t *testing.T) {
	called := 0
	d := newDecoder(WithUnmarshal(func(data []byte, v any) error {
		called++
		return DefaultUnmarshal(data, v)
	}))

	d.Feed([]byte(`{"a":1}` + "\n" + `{"a":2}` + "\n"))
	assert.Equal(t, 2, called)
}

func atoi(s string) int {
	n := 0
	for _, c := range s {
		n = n*10 + int(c-'0')
	}
	return n
}
