package audio

import "go.opentelemetry.io/otel"

const scopeName = "alfred/internal/audio"

var tracer = otel.Tracer(scopeName)
