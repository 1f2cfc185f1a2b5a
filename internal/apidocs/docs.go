// Package apidocs registers the OpenAPI document served under /swagger.
package apidocs

import "github.com/swaggo/swag"

const docTemplate = `{
    "schemes": {{ marshal .Schemes }},
    "swagger": "2.0",
    "info": {
        "description": "{{escape .Description}}",
        "title": "{{.Title}}",
        "contact": {},
        "version": "{{.Version}}"
    },
    "host": "{{.Host}}",
    "basePath": "{{.BasePath}}",
    "paths": {
        "/health": {
            "get": {
                "produces": ["application/json"],
                "tags": ["system"],
                "summary": "Service and dependency health",
                "responses": {
                    "200": {"description": "OK"},
                    "503": {"description": "A critical dependency is down"}
                }
            }
        },
        "/api/v1/categories": {
            "get": {
                "produces": ["application/json"],
                "tags": ["taxonomy"],
                "summary": "List CET categories of the active taxonomy",
                "responses": {"200": {"description": "OK"}}
            }
        },
        "/api/v1/score": {
            "post": {
                "consumes": ["application/json"],
                "produces": ["application/json"],
                "tags": ["scoring"],
                "summary": "Score one award",
                "parameters": [
                    {"in": "body", "name": "request", "required": true, "schema": {"$ref": "#/definitions/types.ScoreRequest"}}
                ],
                "responses": {
                    "200": {"description": "Assessment"},
                    "400": {"description": "Invalid award", "schema": {"$ref": "#/definitions/errors.ErrorResponse"}},
                    "429": {"description": "Rate limited", "schema": {"$ref": "#/definitions/errors.ErrorResponse"}}
                }
            }
        },
        "/api/v1/score/batch": {
            "post": {
                "consumes": ["application/json"],
                "produces": ["application/json"],
                "tags": ["scoring"],
                "summary": "Score a batch of awards",
                "parameters": [
                    {"in": "body", "name": "request", "required": true, "schema": {"$ref": "#/definitions/types.BatchScoreRequest"}}
                ],
                "responses": {
                    "200": {"description": "Per-award results"},
                    "400": {"description": "Invalid batch", "schema": {"$ref": "#/definitions/errors.ErrorResponse"}},
                    "413": {"description": "Batch too large", "schema": {"$ref": "#/definitions/errors.ErrorResponse"}},
                    "429": {"description": "Rate limited", "schema": {"$ref": "#/definitions/errors.ErrorResponse"}}
                }
            }
        },
        "/api/v1/summary": {
            "get": {
                "produces": ["application/json"],
                "tags": ["portfolio"],
                "summary": "Portfolio rollups by category, band and agency",
                "parameters": [
                    {"in": "query", "name": "agency", "type": "string", "description": "Comma separated agencies"},
                    {"in": "query", "name": "category", "type": "string", "description": "Comma separated category IDs"},
                    {"in": "query", "name": "band", "type": "string", "description": "Comma separated bands"},
                    {"in": "query", "name": "from", "type": "string", "format": "date"},
                    {"in": "query", "name": "to", "type": "string", "format": "date"}
                ],
                "responses": {
                    "200": {"description": "Summary"},
                    "400": {"description": "Invalid filter", "schema": {"$ref": "#/definitions/errors.ErrorResponse"}}
                }
            }
        },
        "/api/v1/awards/{id}": {
            "get": {
                "produces": ["application/json"],
                "tags": ["portfolio"],
                "summary": "Award with its latest assessment",
                "parameters": [{"in": "path", "name": "id", "type": "string", "required": true}],
                "responses": {
                    "200": {"description": "OK"},
                    "404": {"description": "Unknown award", "schema": {"$ref": "#/definitions/errors.ErrorResponse"}}
                }
            }
        },
        "/api/v1/awards/{id}/assessments": {
            "get": {
                "produces": ["application/json"],
                "tags": ["portfolio"],
                "summary": "Assessment history of an award, newest first",
                "parameters": [{"in": "path", "name": "id", "type": "string", "required": true}],
                "responses": {
                    "200": {"description": "OK"},
                    "404": {"description": "Unknown award", "schema": {"$ref": "#/definitions/errors.ErrorResponse"}}
                }
            }
        },
        "/api/v1/export": {
            "post": {
                "security": [{"BearerAuth": []}],
                "consumes": ["application/json"],
                "produces": ["text/csv", "application/vnd.apache.parquet"],
                "tags": ["export"],
                "summary": "Governed CSV or Parquet export of latest assessments",
                "parameters": [
                    {"in": "body", "name": "request", "required": true, "schema": {"$ref": "#/definitions/types.ExportRequest"}}
                ],
                "responses": {
                    "200": {"description": "Export file"},
                    "400": {"description": "Invalid request", "schema": {"$ref": "#/definitions/errors.ErrorResponse"}},
                    "401": {"description": "Missing or invalid token", "schema": {"$ref": "#/definitions/errors.ErrorResponse"}},
                    "403": {"description": "Export role required", "schema": {"$ref": "#/definitions/errors.ErrorResponse"}}
                }
            }
        },
        "/metrics": {
            "get": {
                "produces": ["text/plain"],
                "tags": ["system"],
                "summary": "Prometheus metrics",
                "responses": {"200": {"description": "OK"}}
            }
        },
        "/metrics/stats": {
            "get": {
                "produces": ["application/json"],
                "tags": ["system"],
                "summary": "Process, cache and rate limiter statistics",
                "responses": {"200": {"description": "OK"}}
            }
        }
    },
    "definitions": {
        "errors.ErrorResponse": {
            "type": "object",
            "properties": {
                "error": {"type": "string"},
                "code": {"type": "string"},
                "category": {"type": "string"},
                "request_id": {"type": "string"},
                "timestamp": {"type": "string", "format": "date-time"}
            }
        },
        "types.Award": {
            "type": "object",
            "required": ["id"],
            "properties": {
                "id": {"type": "string"},
                "agency": {"type": "string"},
                "branch": {"type": "string"},
                "title": {"type": "string"},
                "abstract": {"type": "string"},
                "keywords": {"type": "array", "items": {"type": "string"}},
                "topic_code": {"type": "string"},
                "program": {"type": "string"},
                "phase": {"type": "string"},
                "firm": {"type": "string"},
                "award_date": {"type": "string", "format": "date-time"},
                "obligated_amount": {"type": "number"}
            }
        },
        "types.Enrichment": {
            "type": "object",
            "properties": {
                "description": {"type": "string"},
                "keywords": {"type": "array", "items": {"type": "string"}},
                "source": {"type": "string"},
                "fetched_at": {"type": "string", "format": "date-time"}
            }
        },
        "types.ScoreRequest": {
            "type": "object",
            "required": ["award"],
            "properties": {
                "award": {"$ref": "#/definitions/types.Award"},
                "enrichment": {"$ref": "#/definitions/types.Enrichment"},
                "persist": {"type": "boolean"}
            }
        },
        "types.BatchScoreRequest": {
            "type": "object",
            "required": ["awards"],
            "properties": {
                "awards": {"type": "array", "items": {"$ref": "#/definitions/types.Award"}},
                "persist": {"type": "boolean"}
            }
        },
        "types.ExportRequest": {
            "type": "object",
            "properties": {
                "format": {"type": "string", "enum": ["csv", "parquet"]},
                "categories": {"type": "array", "items": {"type": "string"}},
                "bands": {"type": "array", "items": {"type": "string"}},
                "agencies": {"type": "array", "items": {"type": "string"}},
                "fields": {"type": "array", "items": {"type": "string"}}
            }
        }
    },
    "securityDefinitions": {
        "BearerAuth": {
            "type": "apiKey",
            "name": "Authorization",
            "in": "header"
        }
    }
}`

// SwaggerInfo holds exported Swagger Info so clients can modify it
var SwaggerInfo = &swag.Spec{
	Version:          "1.0",
	Host:             "",
	BasePath:         "/",
	Schemes:          []string{},
	Title:            "SBIR/STTR CET Classifier API",
	Description:      "Scores SBIR/STTR awards against the Critical and Emerging Technology taxonomy.",
	InfoInstanceName: "swagger",
	SwaggerTemplate:  docTemplate,
	LeftDelim:        "{{",
	RightDelim:       "}}",
}

func init() {
	swag.Register(SwaggerInfo.InstanceName(), SwaggerInfo)
}
