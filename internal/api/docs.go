package api

import "github.com/swaggo/swag"

// @title Backtester API
// @version 1.0
// @description Historical strategy backtesting service
// @BasePath /api/v1

// @securityDefinitions.apikey BearerAuth
// @in header
// @name Authorization
// @description Type "Bearer" followed by a space and JWT token.

// @tag.name Backtest
// @tag.description Backtest submission, status and results

// @tag.name Health
// @tag.description Service health

const docTemplate = `{
    "schemes": {{ marshal .Schemes }},
    "swagger": "2.0",
    "info": {
        "description": "{{escape .Description}}",
        "title": "{{.Title}}",
        "version": "{{.Version}}"
    },
    "host": "{{.Host}}",
    "basePath": "{{.BasePath}}",
    "securityDefinitions": {
        "BearerAuth": {"type": "apiKey", "name": "Authorization", "in": "header"}
    },
    "security": [{"BearerAuth": []}],
    "paths": {
        "/backtest/run": {
            "post": {
                "tags": ["Backtest"],
                "summary": "Submit a backtest",
                "consumes": ["application/json"],
                "produces": ["application/json"],
                "parameters": [{"in": "body", "name": "request", "required": true, "schema": {"$ref": "#/definitions/Request"}}],
                "responses": {"200": {"description": "queued", "schema": {"$ref": "#/definitions/Response"}}, "400": {"description": "invalid request"}, "503": {"description": "queue full"}}
            }
        },
        "/backtest/status/{id}": {
            "get": {
                "tags": ["Backtest"],
                "summary": "Get backtest status",
                "parameters": [{"in": "path", "name": "id", "type": "string", "required": true}],
                "responses": {"200": {"description": "job", "schema": {"$ref": "#/definitions/Response"}}, "404": {"description": "not found"}}
            }
        },
        "/backtest/results/{id}": {
            "get": {
                "tags": ["Backtest"],
                "summary": "Get backtest results",
                "parameters": [{"in": "path", "name": "id", "type": "string", "required": true}],
                "responses": {"200": {"description": "results", "schema": {"$ref": "#/definitions/Response"}}, "400": {"description": "not completed"}, "404": {"description": "not found"}}
            }
        },
        "/backtest/cancel/{id}": {
            "delete": {
                "tags": ["Backtest"],
                "summary": "Cancel a backtest",
                "parameters": [{"in": "path", "name": "id", "type": "string", "required": true}],
                "responses": {"200": {"description": "cancelled"}, "400": {"description": "terminal"}, "404": {"description": "not found"}}
            }
        },
        "/backtest/quick-run": {
            "post": {
                "tags": ["Backtest"],
                "summary": "Run a small backtest synchronously",
                "parameters": [{"in": "body", "name": "request", "required": true, "schema": {"$ref": "#/definitions/Request"}}],
                "responses": {"200": {"description": "results"}, "400": {"description": "invalid or over limit"}, "422": {"description": "insufficient data"}}
            }
        },
        "/backtest/history": {
            "get": {
                "tags": ["Backtest"],
                "summary": "List recent backtests",
                "parameters": [{"in": "query", "name": "limit", "type": "integer"}],
                "responses": {"200": {"description": "history"}}
            }
        },
        "/backtest/strategies": {
            "get": {"tags": ["Backtest"], "summary": "List strategies", "responses": {"200": {"description": "catalog"}}}
        },
        "/backtest/validate": {
            "get": {
                "tags": ["Backtest"],
                "summary": "Validate data availability",
                "parameters": [
                    {"in": "query", "name": "symbols", "type": "string", "required": true},
                    {"in": "query", "name": "start_date", "type": "string", "required": true},
                    {"in": "query", "name": "end_date", "type": "string", "required": true}
                ],
                "responses": {"200": {"description": "validation"}}
            }
        }
    },
    "definitions": {
        "Response": {
            "type": "object",
            "properties": {
                "success": {"type": "boolean"},
                "data": {"type": "object"},
                "error": {"type": "string"},
                "code": {"type": "string"},
                "message": {"type": "string"}
            }
        },
        "Asset": {
            "type": "object",
            "properties": {"symbol": {"type": "string"}, "allocation": {"type": "number"}}
        },
        "Request": {
            "type": "object",
            "required": ["assets", "start_date", "end_date"],
            "properties": {
                "assets": {"type": "array", "items": {"$ref": "#/definitions/Asset"}},
                "start_date": {"type": "string", "example": "2023-01-01"},
                "end_date": {"type": "string", "example": "2023-12-31"},
                "initial_capital": {"type": "number", "example": 100000},
                "strategy_type": {"type": "string", "enum": ["buy_and_hold", "sma_crossover", "ema_crossover", "rsi_oversold", "bollinger_bands"]},
                "sma_short": {"type": "integer"},
                "sma_long": {"type": "integer"},
                "ema_short": {"type": "integer"},
                "ema_long": {"type": "integer"},
                "rsi_period": {"type": "integer"},
                "rsi_oversold": {"type": "number"},
                "rsi_overbought": {"type": "number"},
                "bb_period": {"type": "integer"},
                "bb_std": {"type": "number"},
                "rebalance_frequency": {"type": "string", "enum": ["daily", "weekly", "monthly", "quarterly", "yearly"]},
                "transaction_fees": {"type": "number"},
                "slippage": {"type": "number"},
                "benchmark": {"type": "string"}
            }
        }
    }
}`

// SwaggerInfo holds exported Swagger Info so clients can modify it
var SwaggerInfo = &swag.Spec{
	Version:          "1.0",
	BasePath:         "/api/v1",
	Schemes:          []string{},
	Title:            "Backtester API",
	Description:      "Historical strategy backtesting service",
	InfoInstanceName: "swagger",
	SwaggerTemplate:  docTemplate,
	LeftDelim:        "{{",
	RightDelim:       "}}",
}

func init() {
	swag.Register(SwaggerInfo.InstanceName(), SwaggerInfo)
}
