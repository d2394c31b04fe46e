package exotel

import (
	"bytes"
	"encoding/xml"
	"errors"
	"strings"
)

// ExoML response builder for the connect document. The only verb the relay
// serves is Connect/Stream pointing the carrier at our media socket.

type exomlResponse struct {
	XMLName xml.Name `xml:"Response"`
	Connect exomlConnect
}

type exomlConnect struct {
	XMLName xml.Name `xml:"Connect"`
	Stream  exomlStream
}

type exomlStream struct {
	XMLName xml.Name `xml:"Stream"`
	URL     string   `xml:"url,attr"`
}

// RenderConnectStream produces the ExoML document instructing the carrier to
// open a bidirectional media stream to wsURL.
func RenderConnectStream(wsURL string) (string, error) {
	if strings.TrimSpace(wsURL) == "" {
		return "", errors.New("exotel: stream url required")
	}

	r := exomlResponse{Connect: exomlConnect{Stream: exomlStream{URL: wsURL}}}

	var buf bytes.Buffer
	buf.WriteString(xml.Header)
	enc := xml.NewEncoder(&buf)
	enc.Indent("", "  ")
	if err := enc.Encode(r); err != nil {
		return "", err
	}
	if err := enc.Flush(); err != nil {
		return "", err
	}
	return buf.String(), nil
}
