package main

import (
	"context"
	"io"
	"net/http"
	"strings"

	"github.com/aws/aws-lambda-go/events"
	"github.com/gorilla/mux"
)

const maxBodyBytes = 1 << 20

type lambdaHandler func(ctx context.Context, req events.APIGatewayProxyRequest) (events.APIGatewayProxyResponse, error)

// mountRoutes registers every "METHOD resource" route on r. API Gateway
// resource templates and mux path templates share the {name} syntax.
func mountRoutes(r *mux.Router, routes []string, h lambdaHandler) {
	for _, route := range routes {
		method, resource, ok := strings.Cut(route, " ")
		if !ok {
			continue
		}
		r.Handle(resource, proxy(resource, h)).Methods(method)
	}
}

// proxy turns an HTTP request into the proxy event API Gateway would send.
func proxy(resource string, h lambdaHandler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
		if err != nil {
			http.Error(w, "read body", http.StatusBadRequest)
			return
		}
		event := events.APIGatewayProxyRequest{
			Resource:              resource,
			Path:                  r.URL.Path,
			HTTPMethod:            r.Method,
			Headers:               firstValues(r.Header),
			MultiValueHeaders:     r.Header,
			QueryStringParameters: firstValues(r.URL.Query()),
			PathParameters:        mux.Vars(r),
			Body:                  string(body),
		}
		resp, err := h(r.Context(), event)
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadGateway)
			return
		}
		for k, v := range resp.Headers {
			w.Header().Set(k, v)
		}
		w.WriteHeader(resp.StatusCode)
		_, _ = io.WriteString(w, resp.Body)
	})
}

func firstValues(in map[string][]string) map[string]string {
	out := make(map[string]string, len(in))
	for k, v := range in {
		if len(v) > 0 {
			out[k] = v[0]
		}
	}
	return out
}
