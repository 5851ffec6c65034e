// Package docs registers the OpenAPI document served at /swagger/*.
// Regenerate with `swag init -g internal/api/router.go` after changing
// handler annotations.
package docs

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
                "tags": ["health"],
                "summary": "Liveness check",
                "responses": {"200": {"description": "OK"}}
            }
        },
        "/health/ready": {
            "get": {
                "produces": ["application/json"],
                "tags": ["health"],
                "summary": "Readiness check",
                "responses": {
                    "200": {"description": "OK"},
                    "503": {"description": "Service Unavailable"}
                }
            }
        },
        "/v1/reservations": {
            "get": {
                "security": [{"BearerAuth": []}],
                "produces": ["application/json"],
                "tags": ["reservations"],
                "summary": "List reservations visible to the caller",
                "parameters": [
                    {"type": "string", "description": "pending, accepted, rejected or cancelled", "name": "status", "in": "query"},
                    {"type": "string", "description": "client or provider", "name": "as", "in": "query"}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/handler.reservationListResponse"}},
                    "400": {"description": "Bad Request", "schema": {"$ref": "#/definitions/handler.errorResponse"}},
                    "403": {"description": "Forbidden", "schema": {"$ref": "#/definitions/handler.errorResponse"}}
                }
            },
            "post": {
                "security": [{"BearerAuth": []}],
                "consumes": ["application/json"],
                "produces": ["application/json"],
                "tags": ["reservations"],
                "summary": "Book a provider",
                "parameters": [
                    {"type": "string", "description": "Replay-safe key", "name": "Idempotency-Key", "in": "header"},
                    {"description": "Reservation", "name": "body", "in": "body", "required": true, "schema": {"$ref": "#/definitions/handler.createReservationRequest"}}
                ],
                "responses": {
                    "200": {"description": "Replayed create", "schema": {"$ref": "#/definitions/handler.reservationResponse"}},
                    "201": {"description": "Created", "schema": {"$ref": "#/definitions/handler.reservationResponse"}},
                    "400": {"description": "Bad Request", "schema": {"$ref": "#/definitions/handler.errorResponse"}},
                    "403": {"description": "Forbidden", "schema": {"$ref": "#/definitions/handler.errorResponse"}},
                    "409": {"description": "Conflict", "schema": {"$ref": "#/definitions/handler.errorResponse"}},
                    "503": {"description": "Service Unavailable", "schema": {"$ref": "#/definitions/handler.errorResponse"}}
                }
            }
        },
        "/v1/reservations/provider": {
            "get": {
                "security": [{"BearerAuth": []}],
                "produces": ["application/json"],
                "tags": ["reservations"],
                "summary": "List reservations where the caller is the provider",
                "responses": {"200": {"description": "OK", "schema": {"$ref": "#/definitions/handler.reservationListResponse"}}}
            }
        },
        "/v1/reservations/client": {
            "get": {
                "security": [{"BearerAuth": []}],
                "produces": ["application/json"],
                "tags": ["reservations"],
                "summary": "List reservations booked by the caller",
                "responses": {"200": {"description": "OK", "schema": {"$ref": "#/definitions/handler.reservationListResponse"}}}
            }
        },
        "/v1/reservations/{id}": {
            "get": {
                "security": [{"BearerAuth": []}],
                "produces": ["application/json"],
                "tags": ["reservations"],
                "summary": "Get a reservation",
                "parameters": [{"type": "string", "description": "Reservation ID", "name": "id", "in": "path", "required": true}],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/handler.reservationResponse"}},
                    "403": {"description": "Forbidden", "schema": {"$ref": "#/definitions/handler.errorResponse"}},
                    "404": {"description": "Not Found", "schema": {"$ref": "#/definitions/handler.errorResponse"}}
                }
            },
            "patch": {
                "security": [{"BearerAuth": []}],
                "consumes": ["application/json"],
                "produces": ["application/json"],
                "tags": ["reservations"],
                "summary": "Reschedule, annotate or change the status of a reservation",
                "parameters": [
                    {"type": "string", "description": "Reservation ID", "name": "id", "in": "path", "required": true},
                    {"description": "Fields to change", "name": "body", "in": "body", "required": true, "schema": {"$ref": "#/definitions/handler.updateReservationRequest"}}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/handler.reservationResponse"}},
                    "409": {"description": "Conflict", "schema": {"$ref": "#/definitions/handler.errorResponse"}},
                    "422": {"description": "Unprocessable Entity", "schema": {"$ref": "#/definitions/handler.errorResponse"}}
                }
            },
            "delete": {
                "security": [{"BearerAuth": []}],
                "produces": ["application/json"],
                "tags": ["reservations"],
                "summary": "Cancel a reservation",
                "parameters": [{"type": "string", "description": "Reservation ID", "name": "id", "in": "path", "required": true}],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/handler.reservationResponse"}},
                    "422": {"description": "Unprocessable Entity", "schema": {"$ref": "#/definitions/handler.errorResponse"}}
                }
            }
        },
        "/v1/reservations/{id}/accept": {
            "post": {
                "security": [{"BearerAuth": []}],
                "produces": ["application/json"],
                "tags": ["reservations"],
                "summary": "Accept a pending reservation",
                "parameters": [{"type": "string", "description": "Reservation ID", "name": "id", "in": "path", "required": true}],
                "responses": {"200": {"description": "OK", "schema": {"$ref": "#/definitions/handler.reservationResponse"}}}
            }
        },
        "/v1/reservations/{id}/reject": {
            "post": {
                "security": [{"BearerAuth": []}],
                "produces": ["application/json"],
                "tags": ["reservations"],
                "summary": "Reject a pending reservation",
                "parameters": [{"type": "string", "description": "Reservation ID", "name": "id", "in": "path", "required": true}],
                "responses": {"200": {"description": "OK", "schema": {"$ref": "#/definitions/handler.reservationResponse"}}}
            }
        },
        "/v1/reservations/{id}/events": {
            "get": {
                "security": [{"BearerAuth": []}],
                "produces": ["application/json"],
                "tags": ["reservations"],
                "summary": "Audit trail of a reservation",
                "parameters": [{"type": "string", "description": "Reservation ID", "name": "id", "in": "path", "required": true}],
                "responses": {"200": {"description": "OK", "schema": {"$ref": "#/definitions/handler.reservationEventListResponse"}}}
            }
        },
        "/v1/admin/reservations/{id}": {
            "delete": {
                "security": [{"BearerAuth": []}],
                "tags": ["admin"],
                "summary": "Permanently delete a reservation",
                "parameters": [{"type": "string", "description": "Reservation ID", "name": "id", "in": "path", "required": true}],
                "responses": {
                    "204": {"description": "No Content"},
                    "403": {"description": "Forbidden", "schema": {"$ref": "#/definitions/handler.errorResponse"}}
                }
            }
        }
    },
    "definitions": {
        "handler.errorResponse": {
            "type": "object",
            "properties": {"error": {"type": "string"}}
        },
        "handler.createReservationRequest": {
            "type": "object",
            "required": ["provider_id", "start", "duration_minutes"],
            "properties": {
                "provider_id": {"type": "string"},
                "start": {"type": "string", "format": "date-time"},
                "duration_minutes": {"type": "integer"},
                "note": {"type": "string", "maxLength": 1000}
            }
        },
        "handler.updateReservationRequest": {
            "type": "object",
            "properties": {
                "start": {"type": "string", "format": "date-time"},
                "duration_minutes": {"type": "integer"},
                "note": {"type": "string"},
                "status": {"type": "string", "enum": ["pending", "accepted", "rejected", "cancelled"]}
            }
        },
        "handler.reservationResponse": {
            "type": "object",
            "properties": {
                "id": {"type": "string"},
                "provider_id": {"type": "string"},
                "client_id": {"type": "string"},
                "start": {"type": "string", "format": "date-time"},
                "end": {"type": "string", "format": "date-time"},
                "duration_minutes": {"type": "integer"},
                "status": {"type": "string"},
                "note": {"type": "string"},
                "created_at": {"type": "string", "format": "date-time"},
                "updated_at": {"type": "string", "format": "date-time"},
                "_links": {
                    "type": "object",
                    "properties": {"self": {"type": "string"}, "events": {"type": "string"}}
                }
            }
        },
        "handler.reservationListResponse": {
            "type": "object",
            "properties": {
                "count": {"type": "integer"},
                "data": {"type": "array", "items": {"$ref": "#/definitions/handler.reservationResponse"}}
            }
        },
        "handler.reservationEventListResponse": {
            "type": "object",
            "properties": {
                "reservation_id": {"type": "string"},
                "data": {
                    "type": "array",
                    "items": {
                        "type": "object",
                        "properties": {
                            "id": {"type": "string"},
                            "type": {"type": "string"},
                            "actor_id": {"type": "string"},
                            "status": {"type": "string"},
                            "start": {"type": "string", "format": "date-time"},
                            "duration_minutes": {"type": "integer"},
                            "occurred_at": {"type": "string", "format": "date-time"}
                        }
                    }
                }
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
	Title:            "Reservation System API",
	Description:      "Provider booking with conflict detection and an accept/reject lifecycle.",
	InfoInstanceName: "swagger",
	SwaggerTemplate:  docTemplate,
	LeftDelim:        "{{",
	RightDelim:       "}}",
}

func init() {
	swag.Register(SwaggerInfo.InstanceName(), SwaggerInfo)
}
