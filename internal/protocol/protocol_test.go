package protocol

import (
	"encoding/hex"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestComputeChecksum(t *testing.T) {
	sum, err := ComputeChecksum(strings.NewReader("abc"))
	require.NoError(t, err)
	assert.Equal(t, "ba7816bf8f01cfea414140de5dae2223b00361a396177a9cb410ff61f20015ad", hex.EncodeToString(sum[:]))
}

func TestChecksumFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "v.mp4")
	require.NoError(t, os.WriteFile(path, []byte("abc"), 0o644))

	fromFile, err := ChecksumFile(path)
	require.NoError(t, err)
	fromReader, _ := ComputeChecksum(strings.NewReader("abc"))
	assert.Equal(t, fromReader, fromFile)

	_, err = ChecksumFile(filepath.Join(t.TempDir(), "missing"))
	assert.Error(t, err)
}

func TestVideoStatusTerminal(t *testing.T) {
	assert.True(t, VideoStatus{}.Terminal())
	assert.False(t, VideoStatus{Exists: true, IsProcessing: true}.Terminal())
	assert.True(t, VideoStatus{Exists: true, IsReady: true}.Terminal())
}

func TestUploadedURL(t *testing.T) {
	u := UploadedURL("Meu Video")
	assert.Equal(t, "/videos?uploaded=Meu+Video", u)
	assert.Equal(t, "Meu Video", UploadedID("http://host:5001"+u))
	assert.Empty(t, UploadedID("http://host:5001/videos"))
	assert.Empty(t, UploadedID("%zz"))
}
