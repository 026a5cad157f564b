package piping

import (
	"bytes"
	"io"
	"mime/multipart"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestFirstPartSelectsFirst(t *testing.T) {
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	pw, err := mw.CreatePart(map[string][]string{
		"Content-Type": {"application/octet-stream"},
	})
	assert.NoError(t, err)
	pw.Write([]byte("payload one"))
	second, _ := mw.CreateFormField("other")
	second.Write([]byte("payload two"))
	assert.NoError(t, mw.Close())

	hdr, part, err := FirstPart(&body, mw.FormDataContentType())
	assert.NoError(t, err)
	assert.Equal(t, "application/octet-stream", hdr.Get("Content-Type"))
	data, err := io.ReadAll(part)
	assert.NoError(t, err)
	assert.Equal(t, "payload one", string(data))
}

func TestFirstPartMissingBoundary(t *testing.T) {
	_, _, err := FirstPart(bytes.NewReader(nil), "multipart/form-data")
	assert.Error(t, err)
}

func TestFirstPartBadContentType(t *testing.T) {
	_, _, err := FirstPart(bytes.NewReader(nil), "")
	assert.Error(t, err)
}

func TestFirstPartTruncatedStream(t *testing.T) {
	_, _, err := FirstPart(bytes.NewReader([]byte("--xyz\r\n")), "multipart/form-data; boundary=nomatch")
	assert.Error(t, err)
}
