package s3

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/sgfsdriver/replica/pkg/errtypes"
)

func TestKeyStripsLeadingSlash(t *testing.T) {
	require.Equal(t, "a/b", key("/a/b"))
	require.Equal(t, "a/b", key("a/b"))
	require.Equal(t, "", key(""))
}

func TestNewRejectsEmptyBucket(t *testing.T) {
	_, err := New(Options{Endpoint: "s3.example.com"})
	var usage errtypes.Usage
	require.ErrorAs(t, err, &usage)
}

func TestNewSucceedsWithBucket(t *testing.T) {
	fs, err := New(Options{Endpoint: "s3.example.com", Bucket: "replicas"})
	require.NoError(t, err)
	require.Equal(t, "replicas", fs.bucket)
}
