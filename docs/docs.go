// Package docs registers the agrospeak OpenAPI document with swag.
//
// Regenerate with: swag init -g cmd/agrospeak/main.go -o docs
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
        "/v1/sessions/{id}/turns": {
            "post": {
                "description": "Accepts a JSON turn request (text, or base64 audio) or raw audio bytes.",
                "consumes": ["application/json", "audio/wav"],
                "produces": ["application/json"],
                "tags": ["turns"],
                "summary": "Run a voice or text turn",
                "parameters": [
                    {"type": "string", "description": "Session (device) id", "name": "id", "in": "path", "required": true},
                    {"description": "Turn request", "name": "request", "in": "body", "required": true, "schema": {"$ref": "#/definitions/message.TurnRequest"}},
                    {"type": "string", "description": "Language preference (raw audio uploads)", "name": "X-AgroSpeak-Language", "in": "header"},
                    {"type": "string", "description": "lat,lon (raw audio uploads)", "name": "X-AgroSpeak-Location", "in": "header"},
                    {"type": "string", "description": "text, audio or text+audio (raw audio uploads)", "name": "X-AgroSpeak-Response-Mode", "in": "header"}
                ],
                "responses": {
                    "200": {"description": "Completed turn", "schema": {"$ref": "#/definitions/message.TurnResult"}},
                    "400": {"description": "Invalid request", "schema": {"$ref": "#/definitions/message.Error"}},
                    "409": {"description": "A turn is already in progress", "schema": {"$ref": "#/definitions/message.Error"}}
                }
            }
        },
        "/v1/sessions/{id}/history": {
            "get": {
                "produces": ["application/json"],
                "tags": ["sessions"],
                "summary": "Get conversation history",
                "parameters": [{"type": "string", "description": "Session (device) id", "name": "id", "in": "path", "required": true}],
                "responses": {"200": {"description": "OK", "schema": {"$ref": "#/definitions/message.History"}}}
            },
            "delete": {
                "tags": ["sessions"],
                "summary": "Clear conversation history",
                "parameters": [{"type": "string", "description": "Session (device) id", "name": "id", "in": "path", "required": true}],
                "responses": {
                    "204": {"description": "No Content"},
                    "409": {"description": "A turn is in progress", "schema": {"$ref": "#/definitions/message.Error"}}
                }
            }
        },
        "/v1/sessions/{id}/language": {
            "put": {
                "consumes": ["application/json"],
                "tags": ["sessions"],
                "summary": "Set language preference",
                "parameters": [
                    {"type": "string", "description": "Session (device) id", "name": "id", "in": "path", "required": true},
                    {"description": "Language, e.g. Bemba", "name": "request", "in": "body", "required": true, "schema": {"type": "object", "properties": {"language": {"type": "string"}}}}
                ],
                "responses": {
                    "204": {"description": "No Content"},
                    "400": {"description": "Bad Request", "schema": {"$ref": "#/definitions/message.Error"}}
                }
            }
        },
        "/v1/classify": {
            "get": {
                "produces": ["application/json"],
                "tags": ["classify"],
                "summary": "Classify a query",
                "parameters": [{"type": "string", "description": "Text to classify", "name": "q", "in": "query", "required": true}],
                "responses": {"200": {"description": "OK", "schema": {"$ref": "#/definitions/message.Classification"}}}
            }
        },
        "/ws/sessions/{id}": {
            "get": {
                "description": "Send {\"type\":\"start\"}, then binary audio frames, then {\"type\":\"stop\"} to run the turn.",
                "tags": ["turns"],
                "summary": "Stream a recording",
                "parameters": [{"type": "string", "description": "Session (device) id", "name": "id", "in": "path", "required": true}],
                "responses": {}
            }
        }
    },
    "definitions": {
        "message.Location": {
            "type": "object",
            "properties": {
                "latitude": {"type": "number"},
                "longitude": {"type": "number"},
                "name": {"type": "string"}
            }
        },
        "message.TurnRequest": {
            "type": "object",
            "properties": {
                "session_id": {"type": "string"},
                "text": {"type": "string"},
                "audio": {"type": "string", "format": "byte"},
                "content_type": {"type": "string"},
                "language": {"type": "string"},
                "location": {"$ref": "#/definitions/message.Location"},
                "auth_token": {"type": "string"},
                "response_mode": {"type": "string", "enum": ["text", "audio", "text+audio"]}
            }
        },
        "message.Turn": {
            "type": "object",
            "properties": {
                "id": {"type": "string"},
                "role": {"type": "string", "enum": ["user", "assistant", "error"]},
                "text": {"type": "string"},
                "created_at": {"type": "string", "format": "date-time"}
            }
        },
        "message.Degradation": {
            "type": "object",
            "properties": {
                "stage": {"type": "string"},
                "reason": {"type": "string"}
            }
        },
        "message.TurnResult": {
            "type": "object",
            "properties": {
                "session_id": {"type": "string"},
                "language": {"type": "string"},
                "user": {"$ref": "#/definitions/message.Turn"},
                "response": {"$ref": "#/definitions/message.Turn"},
                "intent": {"type": "string"},
                "route": {"type": "string"},
                "degradations": {"type": "array", "items": {"$ref": "#/definitions/message.Degradation"}},
                "speech_path": {"type": "string"},
                "response_text": {"type": "string"},
                "response_audio": {"type": "string"},
                "response_content_type": {"type": "string"},
                "duration_ms": {"type": "integer"}
            }
        },
        "message.History": {
            "type": "object",
            "properties": {
                "session_id": {"type": "string"},
                "language": {"type": "string"},
                "turns": {"type": "array", "items": {"$ref": "#/definitions/message.Turn"}}
            }
        },
        "message.Classification": {
            "type": "object",
            "properties": {
                "text": {"type": "string"},
                "intent": {"type": "string"},
                "route": {"type": "string"}
            }
        },
        "message.Error": {
            "type": "object",
            "properties": {
                "error": {"type": "string"}
            }
        }
    }
}`

// SwaggerInfo holds exported Swagger Info so clients can modify it.
var SwaggerInfo = &swag.Spec{
	Version:          "1.0",
	Host:             "",
	BasePath:         "/",
	Schemes:          []string{},
	Title:            "AgroSpeak API",
	Description:      "Voice assistant for Zambian farmers: turns, history and language preference per device session.",
	InfoInstanceName: "swagger",
	SwaggerTemplate:  docTemplate,
	LeftDelim:        "{{",
	RightDelim:       "}}",
}

func init() {
	swag.Register(SwaggerInfo.InstanceName(), SwaggerInfo)
}
