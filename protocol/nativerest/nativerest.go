// Package nativerest implements the gateway's own REST surface: the
// /v<u8>/{top|address|tx|input|output|block} path grammar, resolved
// against the query facade and rendered in one of four media (json,
// text, data, html) negotiated from the query string or Accept header.
//
// Parse/ResolveRequest do path matching and business logic only,
// returning a plain Resource or error; HandleConnection layers HTTP
// framing and media rendering on top. Resolve wraps Parse and
// ResolveRequest for a path string; nativews calls Resolve so the same
// resource grammar answers over a WebSocket frame without ever
// constructing an HTTP response envelope.
package nativerest

import (
	"bufio"
	"encoding/hex"
	"encoding/json"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/btcsuite/bsd/bserr"
	"github.com/btcsuite/bsd/channel"
	"github.com/btcsuite/bsd/feeestimator"
	"github.com/btcsuite/bsd/query"
)

// Media is the negotiated response serialization.
type Media int

const (
	MediaJSON Media = iota
	MediaText
	MediaData
	MediaHTML
)

// Server holds the dependencies every route handler reads through.
type Server struct {
	Query     query.Facade
	Estimator *feeestimator.Estimator
}

// New returns a Server.
func New(q query.Facade, est *feeestimator.Estimator) *Server {
	return &Server{Query: q, Estimator: est}
}

// HandleConnection drives one accepted HTTP/1.1 connection.
func (s *Server) HandleConnection(ch *channel.Channel) {
	r := bufio.NewReader(ch)
	for {
		req, err := channel.ReadHTTPRequest(r)
		if err != nil {
			return
		}
		s.serveHTTP(ch, req)
	}
}

func (s *Server) serveHTTP(ch *channel.Channel, req *http.Request) {
	media, ok := negotiateMedia(req.URL.Query().Get("format"), req.Header.Get("Accept"))
	if !ok {
		s.writeStatus(ch, http.StatusNotAcceptable, "text/plain", []byte("no acceptable media\n"))
		return
	}

	opts, err := parseOptions(req.URL.Query())
	if err != nil {
		s.writeError(ch, err)
		return
	}

	parsed, err := Parse(req.URL.Path)
	if err != nil {
		s.writeError(ch, err)
		return
	}
	res, err := s.ResolveRequest(parsed, opts)
	if err != nil {
		s.writeError(ch, err)
		return
	}
	s.writeResource(ch, res, media)
}

// Resolve matches a path (optionally carrying a query string) against
// the grammar and returns the JSON view of the result. This is the
// transport-agnostic entry point nativews uses.
func (s *Server) Resolve(path string) (interface{}, error) {
	opts := DefaultOptions
	if i := strings.IndexByte(path, '?'); i >= 0 {
		values, err := url.ParseQuery(path[i+1:])
		if err != nil {
			return nil, bserr.New(bserr.KindInvalidArgument, "malformed query string")
		}
		opts, err = parseOptions(values)
		if err != nil {
			return nil, err
		}
		path = path[:i]
	}

	parsed, err := Parse(path)
	if err != nil {
		return nil, err
	}
	res, err := s.ResolveRequest(parsed, opts)
	if err != nil {
		return nil, err
	}
	return res.JSON, nil
}

func parseOptions(values url.Values) (Options, error) {
	opts := DefaultOptions
	if v := values.Get("witness"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return opts, bserr.New(bserr.KindInvalidArgument, "witness must be true or false")
		}
		opts.Witness = b
	}
	if v := values.Get("turbo"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return opts, bserr.New(bserr.KindInvalidArgument, "turbo must be true or false")
		}
		opts.Turbo = b
	}
	return opts, nil
}

// negotiateMedia picks the response serialization: an explicit format
// query parameter wins, then the Accept header (json > html > text >
// data), then json. An unsupported explicit format or an Accept
// header matching nothing yields ok=false, which the HTTP layer turns
// into 406.
func negotiateMedia(format, accept string) (Media, bool) {
	switch format {
	case "json":
		return MediaJSON, true
	case "text":
		return MediaText, true
	case "data":
		return MediaData, true
	case "html":
		return MediaHTML, true
	case "":
	default:
		return 0, false
	}

	if accept == "" {
		return MediaJSON, true
	}
	if strings.Contains(accept, "application/json") || strings.Contains(accept, "*/*") {
		return MediaJSON, true
	}
	if strings.Contains(accept, "text/html") {
		return MediaHTML, true
	}
	if strings.Contains(accept, "text/plain") {
		return MediaText, true
	}
	if strings.Contains(accept, "application/octet-stream") {
		return MediaData, true
	}
	return 0, false
}

func (s *Server) writeResource(ch *channel.Channel, res Resource, media Media) {
	switch media {
	case MediaJSON:
		body, err := json.Marshal(res.JSON)
		if err != nil {
			s.writeError(ch, bserr.Wrap(bserr.KindServerError, err))
			return
		}
		s.writeStatus(ch, http.StatusOK, "application/json", body)
	case MediaText:
		if res.Raw == nil {
			s.writeStatus(ch, http.StatusNotAcceptable, "text/plain", []byte("resource has no canonical serialization\n"))
			return
		}
		s.writeStatus(ch, http.StatusOK, "text/plain", []byte(hex.EncodeToString(res.Raw)))
	case MediaData:
		if res.Raw == nil {
			s.writeStatus(ch, http.StatusNotAcceptable, "text/plain", []byte("resource has no canonical serialization\n"))
			return
		}
		s.writeStatus(ch, http.StatusOK, "application/octet-stream", res.Raw)
	case MediaHTML:
		body, err := json.Marshal(res.JSON)
		if err != nil {
			s.writeError(ch, bserr.Wrap(bserr.KindServerError, err))
			return
		}
		s.writeStatus(ch, http.StatusOK, "text/html", RenderHTML(body))
	}
}

// RenderHTML wraps a JSON body in a minimal self-contained page; the
// gateway serves no static assets, so the page inlines the one script
// it needs to pretty-print the embedded object.
func RenderHTML(jsonBody []byte) []byte {
	var b strings.Builder
	b.WriteString("<!DOCTYPE html>\n<html><head><meta charset=\"utf-8\"><title>bsd</title></head><body>\n")
	b.WriteString("<pre id=\"r\"></pre>\n<script>document.getElementById('r').textContent=JSON.stringify(")
	b.Write(jsonBody)
	b.WriteString(",null,2);</script>\n</body></html>\n")
	return []byte(b.String())
}

func (s *Server) writeError(ch *channel.Channel, err error) {
	body, _ := json.Marshal(map[string]string{"error": err.Error()})
	s.writeStatus(ch, bserr.HTTPStatus(err), "application/json", body)
}

func (s *Server) writeStatus(ch *channel.Channel, status int, contentType string, body []byte) {
	header := "HTTP/1.1 " + strconv.Itoa(status) + " " + http.StatusText(status) + "\r\n" +
		"Content-Type: " + contentType + "\r\n" +
		"Content-Length: " + strconv.Itoa(len(body)) + "\r\n" +
		"Connection: keep-alive\r\n\r\n"
	_ = ch.Send(append([]byte(header), body...))
}
