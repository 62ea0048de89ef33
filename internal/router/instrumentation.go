package router

import "go.opentelemetry.io/otel"

const scopeName = "alfred/internal/router"

var (
	tracer = otel.Tracer(scopeName)
	meter  = otel.Meter(scopeName)
)
