package core

import (
	"context"
	"maps"
	"net/http"
	"strings"

	"github.com/aws/aws-lambda-go/events"
	"github.com/awslabs/aws-lambda-go-api-proxy/httpadapter"
)

// LambdaHandler adapts API Gateway HTTP API (payload format 2.0) events onto
// h. The gateway request id becomes X-Request-Id when the caller sent none.
func LambdaHandler(h http.Handler) func(context.Context, events.APIGatewayV2HTTPRequest) (events.APIGatewayV2HTTPResponse, error) {
	adapter := httpadapter.NewV2(joinSplitHeaders(h))

	return func(ctx context.Context, ev events.APIGatewayV2HTTPRequest) (events.APIGatewayV2HTTPResponse, error) {
		if id := ev.RequestContext.RequestID; id != "" && !hasHeader(ev.Headers, "X-Request-Id") {
			headers := make(map[string]string, len(ev.Headers)+1)
			maps.Copy(headers, ev.Headers)
			headers["x-request-id"] = id
			ev.Headers = headers
		}
		return adapter.ProxyWithContext(ctx, ev)
	}
}

// joinSplitHeaders undoes the adapter's comma split of header values.
// Stripe-Signature carries commas and is verified as one string.
func joinSplitHeaders(h http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		for name, values := range r.Header {
			if len(values) > 1 {
				r.Header[name] = []string{strings.Join(values, ",")}
			}
		}
		h.ServeHTTP(w, r)
	})
}

func hasHeader(headers map[string]string, name string) bool {
	for k := range headers {
		if strings.EqualFold(k, name) {
			return true
		}
	}
	return false
}
