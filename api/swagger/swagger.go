package swagger

import "github.com/swaggo/swag"

const docTemplate = `{
    "swagger": "2.0",
    "info": {
        "title": "Timetable API",
        "description": "Course timetabling: scheduling runs, exports, workload and audits",
        "version": "1.0.0"
    },
    "basePath": "/api/v1",
    "schemes": [
        "http"
    ],
    "securityDefinitions": {
        "BearerAuth": {"type": "apiKey", "name": "Authorization", "in": "header"}
    },
    "tags": [
        {"name": "Scheduler", "description": "Scheduling runs and run history"},
        {"name": "Timetable", "description": "Committed timetable views"},
        {"name": "Operations", "description": "Probes and metrics"}
    ],
    "paths": {
        "/health": {
            "get": {
                "tags": ["Operations"],
                "summary": "Liveness probe with process counters",
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            }
        },
        "/ready": {
            "get": {
                "tags": ["Operations"],
                "summary": "Readiness probe for database and cache",
                "responses": {
                    "200": {"description": "Ready", "schema": {"$ref": "#/definitions/ResponseEnvelope"}},
                    "503": {"description": "Degraded", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            }
        },
        "/scheduler/runs": {
            "post": {
                "tags": ["Scheduler"],
                "summary": "Run the scheduler for a term",
                "security": [{"BearerAuth": []}],
                "parameters": [
                    {"name": "payload", "in": "body", "required": false, "schema": {"$ref": "#/definitions/RunSchedulingRequest"}}
                ],
                "responses": {
                    "200": {"description": "Committed", "schema": {"$ref": "#/definitions/ResponseEnvelope"}},
                    "202": {"description": "Queued", "schema": {"$ref": "#/definitions/ResponseEnvelope"}},
                    "409": {"description": "Run already in progress", "schema": {"$ref": "#/definitions/ResponseEnvelope"}},
                    "412": {"description": "Nothing to schedule", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            },
            "get": {
                "tags": ["Scheduler"],
                "summary": "List committed runs of a term",
                "security": [{"BearerAuth": []}],
                "parameters": [
                    {"name": "termId", "in": "query", "required": true, "type": "string"},
                    {"name": "limit", "in": "query", "type": "integer"}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            }
        },
        "/scheduler/runs/{id}": {
            "get": {
                "tags": ["Scheduler"],
                "summary": "Get the status of an asynchronous run",
                "security": [{"BearerAuth": []}],
                "parameters": [
                    {"name": "id", "in": "path", "required": true, "type": "string"}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/ResponseEnvelope"}},
                    "404": {"description": "Unknown run", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            }
        },
        "/timetable/export": {
            "get": {
                "tags": ["Timetable"],
                "summary": "Download a term timetable",
                "produces": ["text/csv", "application/pdf"],
                "security": [{"BearerAuth": []}],
                "parameters": [
                    {"name": "termId", "in": "query", "required": true, "type": "string"},
                    {"name": "format", "in": "query", "type": "string", "enum": ["csv", "pdf"]}
                ],
                "responses": {
                    "200": {"description": "File", "schema": {"type": "file"}}
                }
            }
        },
        "/timetable/workload": {
            "get": {
                "tags": ["Timetable"],
                "summary": "Lecturer workload for a term",
                "security": [{"BearerAuth": []}],
                "parameters": [
                    {"name": "termId", "in": "query", "required": true, "type": "string"}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            }
        },
        "/timetable/audit": {
            "get": {
                "tags": ["Timetable"],
                "summary": "Re-check a committed timetable",
                "security": [{"BearerAuth": []}],
                "parameters": [
                    {"name": "termId", "in": "query", "required": true, "type": "string"}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            }
        }
    },
    "definitions": {
        "RunSchedulingRequest": {
            "type": "object",
            "properties": {
                "termId": {"type": "string", "format": "uuid"},
                "method": {"type": "string", "enum": ["genetic", "greedy", "hybrid"]},
                "seed": {"type": "integer"},
                "async": {"type": "boolean"}
            }
        },
        "SchedulingSummary": {
            "type": "object",
            "properties": {
                "runId": {"type": "string"},
                "termId": {"type": "string"},
                "termName": {"type": "string"},
                "method": {"type": "string"},
                "scheduledCount": {"type": "integer"},
                "failedCount": {"type": "integer"},
                "bestFitness": {"type": "number"},
                "generations": {"type": "integer"},
                "elapsedMs": {"type": "integer"},
                "converged": {"type": "boolean"},
                "message": {"type": "string"}
            }
        },
        "RunStatus": {
            "type": "object",
            "properties": {
                "id": {"type": "string"},
                "termId": {"type": "string"},
                "method": {"type": "string"},
                "status": {"type": "string", "enum": ["QUEUED", "RUNNING", "SUCCEEDED", "FAILED"]},
                "summary": {"$ref": "#/definitions/SchedulingSummary"},
                "error": {"type": "string"},
                "submittedAt": {"type": "string"},
                "startedAt": {"type": "string"},
                "finishedAt": {"type": "string"}
            }
        },
        "Pagination": {
            "type": "object",
            "properties": {
                "page": {"type": "integer"},
                "page_size": {"type": "integer"},
                "total_count": {"type": "integer"}
            }
        },
        "APIError": {
            "type": "object",
            "properties": {
                "code": {"type": "string"},
                "message": {"type": "string"},
                "status": {"type": "integer"}
            }
        },
        "ResponseEnvelope": {
            "type": "object",
            "properties": {
                "data": {"type": "object"},
                "error": {"$ref": "#/definitions/APIError"},
                "pagination": {"$ref": "#/definitions/Pagination"},
                "meta": {"type": "object"}
            }
        }
    }
}`

type swaggerDoc struct{}

// ReadDoc returns the Swagger document.
func (s *swaggerDoc) ReadDoc() string {
	return docTemplate
}

func init() {
	swag.Register(swag.Name, &swaggerDoc{})
}
