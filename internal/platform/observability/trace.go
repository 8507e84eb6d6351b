package observability

import (
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/maplecart/api/internal/platform/requestctx"
)

// Cloud Run and the Google HTTP load balancers propagate trace context in
// this header rather than W3C traceparent.
const cloudTraceHeader = "X-Cloud-Trace-Context"

var tracer = otel.Tracer("github.com/maplecart/api/internal/platform/observability")

// TraceMiddleware opens a server span for every request. A valid incoming
// Cloud Trace header links the span to the caller's trace; the identifiers
// are stored on the context so logs can correlate with the same trace.
func TraceMiddleware(projectID string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()
			if _, remote, ok := parseCloudTraceHeader(r.Header.Get(cloudTraceHeader)); ok {
				ctx = trace.ContextWithRemoteSpanContext(ctx, remote)
			}

			spanName := r.Method + " " + requestPath(r)
			ctx, span := tracer.Start(ctx, spanName, trace.WithSpanKind(trace.SpanKindServer))
			defer span.End()
			span.SetAttributes(requestSpanAttributes(r)...)

			sc := span.SpanContext()
			info := requestctx.TraceInfo{
				TraceID:   sc.TraceID().String(),
				SpanID:    sc.SpanID().String(),
				Sampled:   sc.IsSampled(),
				ProjectID: projectID,
			}
			ctx = requestctx.WithTrace(ctx, info)

			sampledFlag := "0"
			if info.Sampled {
				sampledFlag = "1"
			}
			w.Header().Set(cloudTraceHeader, fmt.Sprintf("%s/%s;o=%s", info.TraceID, info.SpanID, sampledFlag))

			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// parseCloudTraceHeader decodes TRACE_ID/SPAN_ID;o=OPTIONS. Span IDs arrive
// either as hex or as the decimal form Cloud Trace clients send.
func parseCloudTraceHeader(header string) (info requestctx.TraceInfo, remote trace.SpanContext, ok bool) {
	tracePart, rest, found := strings.Cut(strings.TrimSpace(header), "/")
	if !found {
		return
	}
	traceID, err := trace.TraceIDFromHex(strings.TrimSpace(tracePart))
	if err != nil {
		return
	}
	spanPart, options, _ := strings.Cut(rest, ";")
	spanID, valid := parseSpanID(spanPart)
	if !valid {
		return
	}

	sampled := traceSampled(options)
	cfg := trace.SpanContextConfig{TraceID: traceID, SpanID: spanID, Remote: true}
	if sampled {
		cfg.TraceFlags = trace.FlagsSampled
	}

	info = requestctx.TraceInfo{TraceID: traceID.String(), SpanID: spanID.String(), Sampled: sampled}
	return info, trace.NewSpanContext(cfg), true
}

func parseSpanID(value string) (trace.SpanID, bool) {
	value = strings.TrimSpace(value)
	switch {
	case value == "":
	case len(value) <= 16:
		if _, err := hex.DecodeString(value); err != nil {
			break
		}
		padded := strings.Repeat("0", 16-len(value)) + value
		if spanID, err := trace.SpanIDFromHex(padded); err == nil {
			return spanID, true
		}
	}
	if num, err := strconv.ParseUint(value, 10, 64); err == nil {
		var spanID trace.SpanID
		binary.BigEndian.PutUint64(spanID[:], num)
		if spanID.IsValid() {
			return spanID, true
		}
	}
	return trace.SpanID{}, false
}

func traceSampled(options string) bool {
	for options != "" {
		var segment string
		segment, options, _ = strings.Cut(options, ";")
		if flag, found := strings.CutPrefix(strings.TrimSpace(segment), "o="); found {
			return flag == "1"
		}
	}
	return false
}

func requestPath(r *http.Request) string {
	if r.URL == nil || r.URL.Path == "" {
		return "/"
	}
	return r.URL.Path
}

func requestSpanAttributes(r *http.Request) []attribute.KeyValue {
	scheme := "http"
	if r.TLS != nil {
		scheme = "https"
	}
	attrs := []attribute.KeyValue{
		attribute.String("http.request.method", r.Method),
		attribute.String("url.scheme", scheme),
		attribute.String("url.path", requestPath(r)),
	}
	addAttr := func(key, value string) {
		if value != "" {
			attrs = append(attrs, attribute.String(key, value))
		}
	}
	if r.URL != nil {
		addAttr("url.full", r.URL.RequestURI())
	}
	addAttr("server.address", r.Host)
	addAttr("user_agent.original", r.UserAgent())
	return attrs
}
