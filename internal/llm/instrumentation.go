package llm

import "go.opentelemetry.io/otel"

const scopeName = "alfred/internal/llm"

var tracer = otel.Tracer(scopeName)
