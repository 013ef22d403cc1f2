// Package api holds the OpenAPI description of the NeuroGenX HTTP API,
// served by the server at GET /openapi.yaml.
package api

import _ "embed"

// ContentType is the media type Document is served with.
const ContentType = "application/yaml"

// Document describes the run control, champion, auth, and telemetry
// stream routes.
//
//go:embed openapi.yaml
var Document []byte
