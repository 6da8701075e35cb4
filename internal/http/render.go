package http

import (
	"bytes"
	"context"

	"github.com/a-h/templ"
	"github.com/rotisserie/eris"
)

const (
	htmlContentType  = "text/html; charset=utf-8"
	plainContentType = "text/plain; charset=utf-8"
)

type htmlResponse struct {
	Status      int
	ContentType string `header:"Content-Type"`
	Body        []byte
}

func newHTMLResponse(status int, body []byte) *htmlResponse {
	return &htmlResponse{
		Status:      status,
		ContentType: htmlContentType,
		Body:        body,
	}
}

func renderComponent(ctx context.Context, component templ.Component) ([]byte, error) {
	var buf bytes.Buffer
	if err := component.Render(ctx, &buf); err != nil {
		return nil, eris.Wrap(err, "rendering component")
	}
	return buf.Bytes(), nil
}
