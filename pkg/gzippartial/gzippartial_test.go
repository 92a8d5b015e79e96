package gzippartial_test

import (
	"bytes"
	"compress/gzip"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/commoncrawl-go/cclocate/pkg/gzippartial"
)

func gzipMember(t *testing.T, payload string) []byte {
	t.Helper()

	var buf bytes.Buffer

	zw := gzip.NewWriter(&buf)
	_, err := zw.Write([]byte(payload))
	require.NoError(t, err)
	require.NoError(t, zw.Close())

	return buf.Bytes()
}

func TestDecompress_FullStream(t *testing.T) {
	t.Parallel()

	member0 := gzipMember(t, "hello ")
	member1 := gzipMember(t, "world")

	stream := append(append([]byte{}, member0...), member1...)

	got := gzippartial.Decompress(stream, 0)
	assert.Equal(t, "hello world", string(got))
}

func TestDecompress_TruncatedAfterFirstMember(t *testing.T) {
	t.Parallel()

	member0 := gzipMember(t, "hello ")
	member1 := gzipMember(t, "world")

	// First member is complete; second member is truncated mid-header.
	stream := append(append([]byte{}, member0...), member1[:5]...)

	got := gzippartial.Decompress(stream, 1_000_000)
	assert.Equal(t, "hello ", string(got))
}

func TestDecompress_BudgetCapsOutput(t *testing.T) {
	t.Parallel()

	member := gzipMember(t, "0123456789")

	got := gzippartial.Decompress(member, 4)
	assert.Equal(t, "0123", string(got))
}

func TestDecompress_TruncatedMidBlockKeepsPartialOutput(t *testing.T) {
	t.Parallel()

	member := gzipMember(t, "some reasonably long payload that compresses to more than a few deflate blocks")

	// First 1024 bytes of a 50 MiB-scale stream is simulated by truncating
	// well inside the compressed body.
	truncated := member[:len(member)/2]

	got := gzippartial.Decompress(truncated, 10_000)
	assert.LessOrEqual(t, len(got), len("some reasonably long payload that compresses to more than a few deflate blocks"))
}

func TestDecompress_NoValidHeaderReturnsEmpty(t *testing.T) {
	t.Parallel()

	got := gzippartial.Decompress([]byte("not a gzip stream"), 0)
	assert.Empty(t, got)
}
