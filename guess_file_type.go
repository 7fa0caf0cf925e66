package resourcekit

import (
	"mime"
	"path"
	"strings"

	"github.com/gobeaver/filekit/filevalidator"
)

const mimeOctetStream = "application/octet-stream"

// GuessContentType determines the MIME type of a file from its name and,
// when the extension is unknown, from the leading bytes of its content.
func GuessContentType(name string, head []byte) string {
	ext := strings.ToLower(path.Ext(name))
	if ext != "" {
		if t := filevalidator.MIMETypeForExtension(ext); t != "" {
			return t
		}
		if t := mime.TypeByExtension(ext); t != "" {
			return t
		}
	}
	if len(head) > 0 {
		return filevalidator.DetectMIMEFromBytes(head)
	}
	return mimeOctetStream
}
