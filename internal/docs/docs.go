// Package docs registers the OpenAPI description served at /swagger.
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
        "/users/register": {
            "post": {
                "consumes": ["application/json"],
                "produces": ["application/json"],
                "tags": ["Users"],
                "summary": "Register an account",
                "operationId": "registerUser",
                "parameters": [{"name": "body", "in": "body", "required": true, "schema": {"$ref": "#/definitions/handlers.RegisterRequest"}}],
                "responses": {
                    "201": {"description": "Created", "schema": {"$ref": "#/definitions/domain.User"}},
                    "400": {"description": "Bad request", "schema": {"$ref": "#/definitions/handlers.ErrorResponse"}},
                    "409": {"description": "Email taken", "schema": {"$ref": "#/definitions/handlers.ErrorResponse"}}
                }
            }
        },
        "/users/login": {
            "post": {
                "consumes": ["application/json", "application/x-www-form-urlencoded"],
                "produces": ["application/json"],
                "tags": ["Users"],
                "summary": "Sign in",
                "operationId": "loginUser",
                "parameters": [{"name": "body", "in": "body", "required": true, "schema": {"$ref": "#/definitions/handlers.LoginRequest"}}],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/handlers.TokenResponse"}},
                    "401": {"description": "Bad credentials", "schema": {"$ref": "#/definitions/handlers.ErrorResponse"}}
                }
            }
        },
        "/users": {
            "get": {
                "security": [{"BearerAuth": []}],
                "produces": ["application/json"],
                "tags": ["Users"],
                "summary": "List users",
                "operationId": "listUsers",
                "responses": {"200": {"description": "OK", "schema": {"$ref": "#/definitions/handlers.ListUsersResponse"}}}
            }
        },
        "/users/me": {
            "get": {
                "security": [{"BearerAuth": []}],
                "produces": ["application/json"],
                "tags": ["Users"],
                "summary": "Current user",
                "operationId": "getMe",
                "responses": {"200": {"description": "OK", "schema": {"$ref": "#/definitions/domain.User"}}}
            }
        },
        "/users/{id}": {
            "get": {
                "security": [{"BearerAuth": []}],
                "produces": ["application/json"],
                "tags": ["Users"],
                "summary": "Get a user",
                "operationId": "getUser",
                "parameters": [{"type": "string", "name": "id", "in": "path", "required": true}],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/domain.User"}},
                    "404": {"description": "Not found", "schema": {"$ref": "#/definitions/handlers.ErrorResponse"}}
                }
            }
        },
        "/chats": {
            "post": {
                "security": [{"BearerAuth": []}],
                "consumes": ["application/json"],
                "produces": ["application/json"],
                "tags": ["Chats"],
                "summary": "Create a chat",
                "operationId": "createChat",
                "parameters": [{"name": "body", "in": "body", "required": true, "schema": {"$ref": "#/definitions/handlers.CreateChatRequest"}}],
                "responses": {
                    "200": {"description": "Existing personal chat", "schema": {"$ref": "#/definitions/domain.Chat"}},
                    "201": {"description": "Created", "schema": {"$ref": "#/definitions/domain.Chat"}},
                    "400": {"description": "Bad request", "schema": {"$ref": "#/definitions/handlers.ErrorResponse"}}
                }
            }
        },
        "/chats/my": {
            "get": {
                "security": [{"BearerAuth": []}],
                "produces": ["application/json"],
                "tags": ["Chats"],
                "summary": "List my chats",
                "operationId": "listMyChats",
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/handlers.ListChatsResponse"}},
                    "304": {"description": "Not Modified"}
                }
            }
        },
        "/chats/{id}": {
            "get": {
                "security": [{"BearerAuth": []}],
                "produces": ["application/json"],
                "tags": ["Chats"],
                "summary": "Get a chat",
                "operationId": "getChat",
                "parameters": [{"type": "string", "format": "uuid", "name": "id", "in": "path", "required": true}],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/domain.Chat"}},
                    "403": {"description": "Not a member", "schema": {"$ref": "#/definitions/handlers.ErrorResponse"}},
                    "404": {"description": "Not found", "schema": {"$ref": "#/definitions/handlers.ErrorResponse"}}
                }
            }
        },
        "/chats/{id}/participants": {
            "get": {
                "security": [{"BearerAuth": []}],
                "produces": ["application/json"],
                "tags": ["Chats"],
                "summary": "List participants",
                "operationId": "listParticipants",
                "parameters": [{"type": "string", "format": "uuid", "name": "id", "in": "path", "required": true}],
                "responses": {"200": {"description": "OK", "schema": {"$ref": "#/definitions/handlers.ListParticipantsResponse"}}}
            }
        },
        "/chats/{id}/members": {
            "post": {
                "security": [{"BearerAuth": []}],
                "consumes": ["application/json"],
                "produces": ["application/json"],
                "tags": ["Chats"],
                "summary": "Add a member",
                "operationId": "addMember",
                "parameters": [
                    {"type": "string", "format": "uuid", "name": "id", "in": "path", "required": true},
                    {"name": "body", "in": "body", "required": true, "schema": {"$ref": "#/definitions/handlers.AddMemberRequest"}}
                ],
                "responses": {
                    "201": {"description": "Created", "schema": {"$ref": "#/definitions/domain.ChatParticipant"}},
                    "403": {"description": "Forbidden", "schema": {"$ref": "#/definitions/handlers.ErrorResponse"}},
                    "409": {"description": "Already a member", "schema": {"$ref": "#/definitions/handlers.ErrorResponse"}}
                }
            }
        },
        "/chats/{id}/members/{user_id}": {
            "delete": {
                "security": [{"BearerAuth": []}],
                "tags": ["Chats"],
                "summary": "Remove a member",
                "operationId": "removeMember",
                "parameters": [
                    {"type": "string", "format": "uuid", "name": "id", "in": "path", "required": true},
                    {"type": "string", "name": "user_id", "in": "path", "required": true}
                ],
                "responses": {"204": {"description": "No Content"}}
            }
        },
        "/chats/{id}/leave": {
            "delete": {
                "security": [{"BearerAuth": []}],
                "tags": ["Chats"],
                "summary": "Leave a chat",
                "operationId": "leaveChat",
                "parameters": [{"type": "string", "format": "uuid", "name": "id", "in": "path", "required": true}],
                "responses": {"204": {"description": "No Content"}}
            }
        },
        "/messages": {
            "post": {
                "security": [{"BearerAuth": []}],
                "consumes": ["application/json"],
                "produces": ["application/json"],
                "tags": ["Messages"],
                "summary": "Send a message",
                "operationId": "postMessage",
                "parameters": [
                    {"type": "string", "name": "Idempotency-Key", "in": "header"},
                    {"name": "body", "in": "body", "required": true, "schema": {"$ref": "#/definitions/handlers.PostMessageRequest"}}
                ],
                "responses": {
                    "200": {"description": "Replayed (idempotent) result", "schema": {"$ref": "#/definitions/domain.Message"}, "headers": {"Idempotency-Replayed": {"type": "string"}}},
                    "201": {"description": "Created", "schema": {"$ref": "#/definitions/domain.Message"}},
                    "403": {"description": "Not a member", "schema": {"$ref": "#/definitions/handlers.ErrorResponse"}}
                }
            }
        },
        "/messages/read": {
            "patch": {
                "security": [{"BearerAuth": []}],
                "consumes": ["application/json"],
                "produces": ["application/json"],
                "tags": ["Messages"],
                "summary": "Mark messages as read",
                "operationId": "markMessagesRead",
                "parameters": [{"name": "body", "in": "body", "required": true, "schema": {"$ref": "#/definitions/handlers.MarkReadRequest"}}],
                "responses": {"200": {"description": "OK", "schema": {"$ref": "#/definitions/handlers.MarkReadResponse"}}}
            }
        },
        "/messages/{chat_id}": {
            "get": {
                "security": [{"BearerAuth": []}],
                "produces": ["application/json"],
                "tags": ["Messages"],
                "summary": "Chat history",
                "operationId": "listMessages",
                "parameters": [
                    {"type": "string", "format": "uuid", "name": "chat_id", "in": "path", "required": true},
                    {"type": "integer", "name": "limit", "in": "query"},
                    {"type": "integer", "name": "offset", "in": "query"}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/handlers.ListMessagesResponse"}},
                    "304": {"description": "Not Modified"}
                }
            }
        },
        "/messages/{chat_id}/search": {
            "get": {
                "security": [{"BearerAuth": []}],
                "produces": ["application/json"],
                "tags": ["Messages"],
                "summary": "Search a chat",
                "operationId": "searchMessages",
                "parameters": [
                    {"type": "string", "format": "uuid", "name": "chat_id", "in": "path", "required": true},
                    {"type": "string", "name": "q", "in": "query", "required": true},
                    {"type": "integer", "name": "k", "in": "query"}
                ],
                "responses": {"200": {"description": "OK", "schema": {"$ref": "#/definitions/handlers.SearchMessagesResponse"}}}
            }
        }
    },
    "definitions": {
        "domain.User": {
            "type": "object",
            "properties": {"id": {"type": "string"}, "name": {"type": "string"}, "email": {"type": "string"}}
        },
        "domain.Chat": {
            "type": "object",
            "properties": {"id": {"type": "string"}, "title": {"type": "string"}, "type": {"type": "string", "enum": ["personal", "group"]}, "created_at": {"type": "string"}}
        },
        "domain.ChatParticipant": {
            "type": "object",
            "properties": {"id": {"type": "string"}, "chat_id": {"type": "string"}, "user_id": {"type": "string"}, "role": {"type": "string", "enum": ["owner", "admin", "member"]}}
        },
        "domain.Message": {
            "type": "object",
            "properties": {"id": {"type": "string"}, "chat_id": {"type": "string"}, "sender_id": {"type": "string"}, "text": {"type": "string"}, "timestamp": {"type": "string"}, "is_read": {"type": "boolean"}}
        },
        "handlers.ErrorResponse": {
            "type": "object",
            "properties": {"request_id": {"type": "string"}, "code": {"type": "string"}, "message": {"type": "string"}}
        },
        "handlers.RegisterRequest": {
            "type": "object",
            "required": ["name", "email", "password"],
            "properties": {"name": {"type": "string"}, "email": {"type": "string"}, "password": {"type": "string"}}
        },
        "handlers.LoginRequest": {
            "type": "object",
            "properties": {"email": {"type": "string"}, "password": {"type": "string"}}
        },
        "handlers.TokenResponse": {
            "type": "object",
            "properties": {"access_token": {"type": "string"}, "token_type": {"type": "string"}}
        },
        "handlers.ListUsersResponse": {
            "type": "object",
            "properties": {"users": {"type": "array", "items": {"$ref": "#/definitions/domain.User"}}}
        },
        "handlers.CreateChatRequest": {
            "type": "object",
            "required": ["type"],
            "properties": {"title": {"type": "string"}, "type": {"type": "string"}, "participant_ids": {"type": "array", "items": {"type": "string"}}}
        },
        "handlers.AddMemberRequest": {
            "type": "object",
            "required": ["user_id"],
            "properties": {"user_id": {"type": "string"}}
        },
        "handlers.ListChatsResponse": {
            "type": "object",
            "properties": {"chats": {"type": "array", "items": {"$ref": "#/definitions/domain.Chat"}}}
        },
        "handlers.ListParticipantsResponse": {
            "type": "object",
            "properties": {"participants": {"type": "array", "items": {"$ref": "#/definitions/domain.ChatParticipant"}}}
        },
        "handlers.PostMessageRequest": {
            "type": "object",
            "required": ["chat_id", "text"],
            "properties": {"chat_id": {"type": "string"}, "text": {"type": "string"}, "client_msg_id": {"type": "string"}}
        },
        "handlers.MarkReadRequest": {
            "type": "object",
            "required": ["message_ids"],
            "properties": {"message_ids": {"type": "array", "items": {"type": "string"}}}
        },
        "handlers.MarkReadResponse": {
            "type": "object",
            "properties": {"updated": {"type": "array", "items": {"type": "string"}}}
        },
        "handlers.Pagination": {
            "type": "object",
            "properties": {"limit": {"type": "integer"}, "offset": {"type": "integer"}, "total": {"type": "integer"}, "has_next": {"type": "boolean"}}
        },
        "handlers.ListMessagesResponse": {
            "type": "object",
            "properties": {"messages": {"type": "array", "items": {"$ref": "#/definitions/domain.Message"}}, "pagination": {"$ref": "#/definitions/handlers.Pagination"}}
        },
        "handlers.SearchMessagesResponse": {
            "type": "object",
            "properties": {"results": {"type": "array", "items": {"type": "object", "properties": {"message": {"$ref": "#/definitions/domain.Message"}, "score": {"type": "number"}}}}}
        }
    },
    "securityDefinitions": {
        "BearerAuth": {"type": "apiKey", "name": "Authorization", "in": "header"}
    }
}`

// SwaggerInfo holds exported Swagger Info so clients can modify it
var SwaggerInfo = &swag.Spec{
	Version:          "1.0",
	Host:             "",
	BasePath:         "/api/v1",
	Schemes:          []string{},
	Title:            "Realtime Chat API",
	Description:      "Users, chats and messages over REST; live fan-out over the websocket at /ws.",
	InfoInstanceName: "swagger",
	SwaggerTemplate:  docTemplate,
	LeftDelim:        "{{",
	RightDelim:       "}}",
}

func init() {
	swag.Register(SwaggerInfo.InstanceName(), SwaggerInfo)
}
