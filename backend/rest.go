package backend

import (
	"context"
	"io"
	"net/http"
	"net/url"

	"github.com/pitabwire/portal/telemetry"
)

const tracerName = "github.com/pitabwire/portal/backend"

// REST talks to the backend over its JSON HTTP api.
type REST struct {
	baseURL string
	invoker *Invoker
	tracer  *telemetry.Tracer
}

var _ API = new(REST)

func NewREST(baseURL string, invoker *Invoker) *REST {
	return &REST{
		baseURL: baseURL,
		invoker: invoker,
		tracer:  telemetry.NewTracer(tracerName),
	}
}

func (r *REST) headers(req Request) http.Header {
	h := http.Header{}
	if req.Locale != "" {
		h.Set("Accept-Language", req.Locale)
	}
	if req.Token != "" {
		h.Set("Authorization", "Bearer "+req.Token)
	}
	return h
}

func (r *REST) call(ctx context.Context, req Request, method, path string, payload, out any) (err error) {
	ctx, span := r.tracer.Start(ctx, method+" "+path)
	defer func() { span.End(ctx, err) }()

	resp, err := r.invoker.Invoke(ctx, method, r.baseURL+path, payload, r.headers(req))
	if err != nil {
		return err
	}

	if resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices {
		body, _ := resp.ToContent(ctx)
		return &StatusError{StatusCode: resp.StatusCode, Body: string(body)}
	}

	if out == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return resp.Close()
	}
	return resp.Decode(ctx, out)
}

func list[T any](ctx context.Context, r *REST, req Request, path string) ([]T, error) {
	var items []T
	if err := r.call(ctx, req, http.MethodGet, path, nil, &items); err != nil {
		return nil, err
	}
	return items, nil
}

func one[T any](ctx context.Context, r *REST, req Request, path string) (*T, error) {
	var item T
	if err := r.call(ctx, req, http.MethodGet, path, nil, &item); err != nil {
		return nil, err
	}
	return &item, nil
}

func (r *REST) Cases(ctx context.Context, req Request) ([]Case, error) {
	return list[Case](ctx, r, req, "/cases")
}

func (r *REST) Case(ctx context.Context, req Request, id string) (*Case, error) {
	return one[Case](ctx, r, req, "/cases/"+url.PathEscape(id))
}

func (r *REST) Orders(ctx context.Context, req Request) ([]Order, error) {
	return list[Order](ctx, r, req, "/orders")
}

func (r *REST) Order(ctx context.Context, req Request, id string) (*Order, error) {
	return one[Order](ctx, r, req, "/orders/"+url.PathEscape(id))
}

func (r *REST) Tasks(ctx context.Context, req Request) ([]Task, error) {
	return list[Task](ctx, r, req, "/tasks")
}

func (r *REST) Appointments(ctx context.Context, req Request) ([]Appointment, error) {
	return list[Appointment](ctx, r, req, "/appointments")
}

func (r *REST) Consultations(ctx context.Context, req Request) ([]Consultation, error) {
	return list[Consultation](ctx, r, req, "/consultations")
}

func (r *REST) Payments(ctx context.Context, req Request) ([]Payment, error) {
	return list[Payment](ctx, r, req, "/payments")
}

func (r *REST) ChatMessages(ctx context.Context, req Request) ([]ChatMessage, error) {
	return list[ChatMessage](ctx, r, req, "/chat/messages")
}

func (r *REST) SendChatMessage(ctx context.Context, req Request, body string) (*ChatMessage, error) {
	var msg ChatMessage
	payload := map[string]string{"body": body}
	if err := r.call(ctx, req, http.MethodPost, "/chat/messages", payload, &msg); err != nil {
		return nil, err
	}
	return &msg, nil
}
