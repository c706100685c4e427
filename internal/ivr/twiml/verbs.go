// Package twiml renders call-control markup for the phone payment flow.
package twiml

import (
	"bytes"
	"encoding/xml"
	"fmt"
	"io"
)

// Response is the document root. Verbs are executed by the carrier in order.
type Response struct {
	XMLName xml.Name `xml:"Response"`
	Verbs   []any    `xml:",any"`
}

// Say speaks text
type Say struct {
	XMLName  xml.Name `xml:"Say"`
	Voice    string   `xml:"voice,attr,omitempty"`
	Language string   `xml:"language,attr,omitempty"`
	Text     string   `xml:",chardata"`
}

// Gather collects keypresses and posts them to Action. Nested prompts are
// interrupted as soon as the caller starts typing.
type Gather struct {
	XMLName     xml.Name `xml:"Gather"`
	Input       string   `xml:"input,attr,omitempty"`
	NumDigits   int      `xml:"numDigits,attr,omitempty"`
	FinishOnKey string   `xml:"finishOnKey,attr,omitempty"`
	Timeout     int      `xml:"timeout,attr,omitempty"`
	Action      string   `xml:"action,attr"`
	Method      string   `xml:"method,attr,omitempty"`
	Prompts     []Say    `xml:"Say"`
}

// Redirect continues the call at URL
type Redirect struct {
	XMLName xml.Name `xml:"Redirect"`
	Method  string   `xml:"method,attr,omitempty"`
	URL     string   `xml:",chardata"`
}

// Pause waits Length seconds
type Pause struct {
	XMLName xml.Name `xml:"Pause"`
	Length  int      `xml:"length,attr,omitempty"`
}

// Dial bridges the call to Number
type Dial struct {
	XMLName  xml.Name `xml:"Dial"`
	Timeout  int      `xml:"timeout,attr,omitempty"`
	CallerID string   `xml:"callerId,attr,omitempty"`
	Number   string   `xml:",chardata"`
}

// Hangup ends the call
type Hangup struct {
	XMLName xml.Name `xml:"Hangup"`
}

// Append adds verbs in order
func (r *Response) Append(verbs ...any) *Response {
	r.Verbs = append(r.Verbs, verbs...)
	return r
}

// Gather returns the first Gather verb, or nil
func (r *Response) Gather() *Gather {
	for _, v := range r.Verbs {
		if g, ok := v.(Gather); ok {
			return &g
		}
	}
	return nil
}

// Redirect returns the first Redirect verb, or nil
func (r *Response) Redirect() *Redirect {
	for _, v := range r.Verbs {
		if rd, ok := v.(Redirect); ok {
			return &rd
		}
	}
	return nil
}

// Render encodes the document with the XML declaration. The encoder escapes
// every reserved character in attribute and text content.
func (r *Response) Render() ([]byte, error) {
	var buf bytes.Buffer
	if _, err := r.WriteTo(&buf); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// WriteTo implements io.WriterTo
func (r *Response) WriteTo(w io.Writer) (int64, error) {
	var buf bytes.Buffer
	buf.WriteString(xml.Header)
	enc := xml.NewEncoder(&buf)
	enc.Indent("", "  ")
	if err := enc.Encode(r); err != nil {
		return 0, fmt.Errorf("encode twiml: %w", err)
	}
	if err := enc.Flush(); err != nil {
		return 0, fmt.Errorf("flush twiml: %w", err)
	}
	buf.WriteByte('\n')
	return buf.WriteTo(w)
}
