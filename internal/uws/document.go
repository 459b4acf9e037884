package uws

import (
	"bytes"
	"encoding/xml"
	"errors"
	"io"
	"strings"

	"millq/internal/domain"
)

// NamespaceUWS is used when a document does not bind the uws prefix itself.
const NamespaceUWS = "http://www.ivoa.net/xml/UWS/v1.0"

// jobDocument holds the uws fields read from a job representation.
// Nil pointers mean the element was absent.
type jobDocument struct {
	JobID        *string
	Phase        *string
	ErrorMessage *string
}

// parseJobDocument extracts uws:jobId, uws:phase and
// uws:errorSummary/uws:message from the direct children of the root.
func parseJobDocument(body []byte) (*jobDocument, error) {
	dec := xml.NewDecoder(bytes.NewReader(body))

	var (
		doc   jobDocument
		ns    string
		path  []string
		text  strings.Builder
		depth int
		root  bool
	)
	for {
		tok, err := dec.Token()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, domain.ErrProtocol("malformed job document: %v", err)
		}

		switch t := tok.(type) {
		case xml.StartElement:
			depth++
			if depth == 1 {
				if root {
					return nil, domain.ErrProtocol("malformed job document: multiple root elements")
				}
				root = true
				ns = uwsNamespace(t)
				continue
			}
			if t.Name.Space != ns {
				path = append(path, "")
			} else {
				path = append(path, t.Name.Local)
			}
			text.Reset()
		case xml.CharData:
			text.Write(t)
		case xml.EndElement:
			depth--
			if depth == 0 {
				continue
			}
			v := strings.TrimSpace(text.String())
			switch strings.Join(path, "/") {
			case "jobId":
				doc.JobID = &v
			case "phase":
				doc.Phase = &v
			case "errorSummary/message":
				doc.ErrorMessage = &v
			}
			path = path[:len(path)-1]
			text.Reset()
		}
	}
	if !root {
		return nil, domain.ErrProtocol("empty job document")
	}
	return &doc, nil
}

// uwsNamespace resolves the uws prefix declared on the root element,
// falling back to the root's own namespace and then to UWS 1.0.
func uwsNamespace(root xml.StartElement) string {
	for _, a := range root.Attr {
		if a.Name.Space == "xmlns" && a.Name.Local == "uws" {
			return a.Value
		}
	}
	if root.Name.Space != "" {
		return root.Name.Space
	}
	return NamespaceUWS
}
