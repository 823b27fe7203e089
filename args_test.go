package bitlog

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func encode(t *testing.T, args ...Arg) ([]byte, []TypeDescriptor) {
	t.Helper()
	var lens [maxStringArgs]uint32
	size := sizeArgs(args, &lens)
	buf := make([]byte, size)
	encodeArgs(buf, args, &lens)

	types := make([]TypeDescriptor, len(args))
	for i, a := range args {
		types[i] = a.Desc()
	}
	return buf, types
}

func TestRoundTripAllDescriptors(t *testing.T) {
	args := []Arg{
		Char('x'),
		Int8(-7),
		Uint8(200),
		Short(-12345),
		UShort(54321),
		Int(-1000000),
		Uint(3000000000),
		Long(-1 << 40),
		ULong(1 << 60),
		LongLong(-42),
		ULongLong(18446744073709551615),
		Float32(1.5),
		Float64(3.14159),
		CStr("hello"),
		CArray([]byte("fixed")),
		Str("world"),
	}
	buf, types := encode(t, args...)

	out, err := decodeArgs(buf, types)
	require.NoError(t, err)
	require.Len(t, out, len(args))

	for i := range args {
		assert.Equal(t, args[i].Desc(), out[i].Desc(), "descriptor %d", i)
		assert.Equal(t, args[i].Value(), out[i].Value(), "value %d", i)
	}
}

func TestRoundTripEmptyStrings(t *testing.T) {
	buf, types := encode(t, CStr(""), Str(""), CArray(nil))
	out, err := decodeArgs(buf, types)
	require.NoError(t, err)
	for i, a := range out {
		assert.Equal(t, "", a.Str(), "arg %d", i)
	}
}

func TestCArrayStopsAtTerminator(t *testing.T) {
	// A fixed array may hold garbage after an embedded terminator;
	// only the prefix travels.
	raw := []byte{'a', 'b', 0, 'z', 'z'}
	buf, types := encode(t, CArray(raw))
	out, err := decodeArgs(buf, types)
	require.NoError(t, err)
	assert.Equal(t, "ab", out[0].Str())

	// 4-byte prefix + 2 content bytes
	assert.Len(t, buf, 6)
}

func TestCArrayWithoutTerminator(t *testing.T) {
	raw := []byte("abcde")
	buf, types := encode(t, CArray(raw))
	out, err := decodeArgs(buf, types)
	require.NoError(t, err)
	assert.Equal(t, "abcde", out[0].Str())
}

func TestStdStringArbitraryContent(t *testing.T) {
	s := "with\x00nul and more"
	buf, types := encode(t, Str(s))
	out, err := decodeArgs(buf, types)
	require.NoError(t, err)
	assert.Equal(t, s, out[0].Str())
}

func TestLongStdString(t *testing.T) {
	s := strings.Repeat("payload-", 1024)
	buf, types := encode(t, Str(s))
	out, err := decodeArgs(buf, types)
	require.NoError(t, err)
	assert.Equal(t, s, out[0].Str())
}

func TestCStringWireIncludesTerminator(t *testing.T) {
	buf, _ := encode(t, CStr("ab"))
	assert.Equal(t, []byte{'a', 'b', 0}, buf)
}

func TestDecodeUnknownDescriptor(t *testing.T) {
	_, err := decodeArgs([]byte{0}, []TypeDescriptor{TypeDescriptor(99)})
	assert.True(t, IsCode(err, ErrCodeCorruptRecord))
}

func TestDecodeTruncatedValue(t *testing.T) {
	_, err := decodeArgs([]byte{1, 2}, []TypeDescriptor{TypeInt})
	assert.True(t, IsCode(err, ErrCodeCorruptRecord))
}

func TestDecodeStringPastEnd(t *testing.T) {
	// length prefix claims 100 bytes, record holds 2
	buf := []byte{100, 0, 0, 0, 'a', 'b'}
	_, err := decodeArgs(buf, []TypeDescriptor{TypeStdString})
	assert.True(t, IsCode(err, ErrCodeCorruptRecord))
}

func TestDecodeUnterminatedCString(t *testing.T) {
	_, err := decodeArgs([]byte("abc"), []TypeDescriptor{TypeCString})
	assert.True(t, IsCode(err, ErrCodeCorruptRecord))
}

func TestDecodeTrailingBytes(t *testing.T) {
	buf, types := encode(t, Int(1))
	buf = append(buf, 0xff)
	_, err := decodeArgs(buf, types)
	assert.True(t, IsCode(err, ErrCodeCorruptRecord))
}

func TestSizingMatchesEncoding(t *testing.T) {
	cases := [][]Arg{
		{},
		{Int(1)},
		{CStr("abc"), Str("defg"), CArray([]byte("hi"))},
		{Float64(1), Char('c'), Str("")},
	}
	for _, args := range cases {
		var lens [maxStringArgs]uint32
		size := sizeArgs(args, &lens)
		buf := make([]byte, size)
		encodeArgs(buf, args, &lens) // must not panic or overrun
	}
}
