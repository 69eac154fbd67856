package rest

import (
	"strings"

	"github.com/c360/espclient/errors"
	"github.com/c360/espclient/xmltree"
)

// ParseError builds the ServerError for a failed response. The message comes
// from ./message/response/message or ./message, with every ./details/detail
// appended on its own line. A body that is not XML is used verbatim.
func ParseError(status int, url string, body []byte) *errors.ServerError {
	se := &errors.ServerError{Status: status, URL: url}

	root, err := xmltree.Parse(body)
	if err != nil {
		se.Message = strings.TrimSpace(string(body))
		return se
	}

	msg, found := "", false
	if el := root.Find("./message/response/message"); el != nil {
		msg, found = el.TrimmedText(), true
	}
	if el := root.Find("./message"); el != nil && (!found || msg == "") {
		if text := el.TrimmedText(); text != "" || !found {
			msg, found = text, true
		}
	}
	if !found {
		se.Message = strings.TrimSpace(string(body))
		return se
	}

	for _, d := range root.FindAll("./details/detail") {
		msg += "\n" + d.TrimmedText()
	}
	se.Message = msg
	return se
}
