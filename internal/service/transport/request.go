package transport

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// Request is an outbound REST call before interceptors run.
type Request struct {
	Method string
	Path   string
	// Route is the templated path used as the metrics label, e.g. "/hotwords/{id}".
	Route  string
	Query  url.Values
	Header http.Header
	Body   Body

	// token is the credential attached in the request phase, empty if none.
	token string
}

// Body is a request payload that knows its own content type.
type Body interface {
	ContentType() string
	Reader() (io.Reader, error)
}

// JSONBody encodes Value as JSON.
type JSONBody struct {
	Value any
}

func (b JSONBody) ContentType() string { return "application/json" }

func (b JSONBody) Reader() (io.Reader, error) {
	data, err := json.Marshal(b.Value)
	if err != nil {
		return nil, fmt.Errorf("encode json body: %w", err)
	}
	return bytes.NewReader(data), nil
}

// FormBody is an application/x-www-form-urlencoded payload.
type FormBody struct {
	Values url.Values
}

func (b FormBody) ContentType() string { return "application/x-www-form-urlencoded" }

func (b FormBody) Reader() (io.Reader, error) {
	return strings.NewReader(b.Values.Encode()), nil
}

// FormField is a plain multipart field.
type FormField struct {
	Name  string
	Value string
}

// FilePart is a file multipart field.
type FilePart struct {
	Field    string
	Filename string
	Data     []byte
}

// MultipartBody is an encoded multipart/form-data payload.
type MultipartBody struct {
	data        []byte
	contentType string
}

// NewMultipartBody encodes files first, then fields, in the given order.
func NewMultipartBody(files []FilePart, fields []FormField) (*MultipartBody, error) {
	var buf bytes.Buffer
	writer := multipart.NewWriter(&buf)

	for _, f := range files {
		part, err := writer.CreateFormFile(f.Field, f.Filename)
		if err != nil {
			return nil, fmt.Errorf("failed to create form file: %w", err)
		}
		if _, err := part.Write(f.Data); err != nil {
			return nil, fmt.Errorf("failed to write file data: %w", err)
		}
	}

	for _, field := range fields {
		if err := writer.WriteField(field.Name, field.Value); err != nil {
			return nil, fmt.Errorf("failed to write field %s: %w", field.Name, err)
		}
	}

	if err := writer.Close(); err != nil {
		return nil, fmt.Errorf("failed to close multipart writer: %w", err)
	}

	return &MultipartBody{data: buf.Bytes(), contentType: writer.FormDataContentType()}, nil
}

func (b *MultipartBody) ContentType() string { return b.contentType }

func (b *MultipartBody) Reader() (io.Reader, error) {
	return bytes.NewReader(b.data), nil
}

// Response is a received REST response with its body fully read.
type Response struct {
	Status int
	Header http.Header
	Body   []byte
}

// Decode unmarshals the JSON body into v.
func (r *Response) Decode(v any) error {
	if len(r.Body) == 0 {
		return fmt.Errorf("empty response body")
	}
	if err := json.Unmarshal(r.Body, v); err != nil {
		return fmt.Errorf("failed to parse response JSON: %w", err)
	}
	return nil
}

// Exchange is what response interceptors observe: the request as sent,
// the response (nil on network failure) and the classified error.
type Exchange struct {
	Request  *Request
	Response *Response
	Err      error
	Elapsed  time.Duration
}
