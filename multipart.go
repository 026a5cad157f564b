package piping

import (
	"io"
	"mime"
	"mime/multipart"
	"net/textproto"

	"github.com/pkg/errors"
)

// ErrMissingBoundary is returned when a multipart content type carries no
// boundary parameter.
type ErrMissingBoundary struct{}

func (ErrMissingBoundary) Error() string { return "missing multipart boundary" }

// PartSelector substitutes a sender body: given a readable body whose content
// type indicates a multipart upload, it yields the first part's header set
// and a reader for that part's payload bytes.
type PartSelector func(body io.Reader, contentType string) (textproto.MIMEHeader, io.Reader, error)

// FirstPart is the default PartSelector. It reads the multipart stream until
// the first part begins; the raw multipart envelope never reaches the caller.
func FirstPart(body io.Reader, contentType string) (textproto.MIMEHeader, io.Reader, error) {
	_, params, err := mime.ParseMediaType(contentType)
	if err != nil {
		return nil, nil, errors.WithStack(err)
	}
	boundary := params["boundary"]
	if boundary == "" {
		return nil, nil, errors.WithStack(ErrMissingBoundary{})
	}
	part, err := multipart.NewReader(body, boundary).NextPart()
	if err != nil {
		return nil, nil, errors.Wrap(err, "reading first multipart part")
	}
	return part.Header, part, nil
}
