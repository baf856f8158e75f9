// Package api carries the OpenAPI document describing the HTTP surface.
// The server exposes it at /openapi.yaml so clients and tooling can fetch
// the contract from a running instance.
package api

import _ "embed"

//go:embed openapi.yaml
var OpenAPISpec []byte
