package api

import "net/http"

func errorResponses(codes ...string) map[string]any {
	descriptions := map[string]string{
		"400": "Bad request",
		"401": "Missing or invalid bearer token",
		"403": "Insufficient scope",
		"404": "Not found",
		"502": "Worker reported an error",
		"503": "Worker died or is unavailable",
		"504": "Transcription timed out",
	}
	out := make(map[string]any, len(codes))
	for _, c := range codes {
		out[c] = map[string]any{"description": descriptions[c]}
	}
	return out
}

func withResponses(ok map[string]any, errs map[string]any) map[string]any {
	out := map[string]any{"200": ok}
	for k, v := range errs {
		out[k] = v
	}
	return out
}

// buildOpenAPIDoc returns an OpenAPI 3.1 document for the gateway routes.
func buildOpenAPIDoc() map[string]any {
	bearer := []any{map[string]any{"BearerAuth": []string{}}}

	return map[string]any{
		"openapi": "3.1.0",
		"info": map[string]any{
			"title":   "sttgw",
			"version": "1.0",
		},
		"paths": map[string]any{
			"/healthz": map[string]any{
				"get": map[string]any{
					"operationId": "healthz",
					"summary":     "Liveness and worker state",
					"responses":   map[string]any{"200": map[string]any{"description": "Health report"}},
				},
			},
			"/transcribe": map[string]any{
				"post": map[string]any{
					"operationId": "transcribe",
					"summary":     "Transcribe an audio file already on the gateway host",
					"security":    bearer,
					"requestBody": map[string]any{
						"required": true,
						"content": map[string]any{
							"application/json": map[string]any{
								"schema": map[string]any{
									"type":     "object",
									"required": []string{"path"},
									"properties": map[string]any{
										"path": map[string]any{"type": "string", "description": "Absolute path to canonical audio"},
									},
								},
							},
						},
					},
					"responses": withResponses(
						map[string]any{"description": "Transcript"},
						errorResponses("400", "401", "403", "502", "503", "504"),
					),
				},
			},
			"/job/{jobID}": map[string]any{
				"get": map[string]any{
					"operationId": "getJob",
					"summary":     "Look up a finished transcription",
					"security":    bearer,
					"parameters": []any{map[string]any{
						"name": "jobID", "in": "path", "required": true,
						"schema": map[string]any{"type": "string"},
					}},
					"responses": withResponses(
						map[string]any{"description": "Journal record"},
						errorResponses("401", "403", "404"),
					),
				},
			},
			"/events": map[string]any{
				"get": map[string]any{
					"operationId": "events",
					"summary":     "Server-sent stream of worker and job events",
					"security":    bearer,
					"responses": withResponses(
						map[string]any{"description": "text/event-stream"},
						errorResponses("401", "403"),
					),
				},
			},
		},
		"components": map[string]any{
			"securitySchemes": map[string]any{
				"BearerAuth": map[string]any{
					"type":   "http",
					"scheme": "bearer",
				},
			},
		},
	}
}

func (s *Server) handleOpenAPI(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, buildOpenAPIDoc())
}
