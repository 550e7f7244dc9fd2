// Package api defines the request and response bodies of the kiboserve REST
// API.
//
// Every endpoint lives under /api and answers with the envelope written by
// package handlers:
//
//	{"success": true, "data": {...}, "timestamp": "...", "request_id": "..."}
//	{"success": false, "error": {"code": "NOT_FOUND", "message": "..."}, ...}
//
// # Authentication
//
// When API keys are configured, requests carry X-API-Key. With JWT enabled,
// requests carry Authorization: Bearer <token> instead. /health, /ready and
// /version are always public.
//
// # Route groups
//
//   - /api/traces, /api/spans: span ingestion, trace queries, live websocket feed
//   - /api/prompts: prompt templates and versions
//   - /api/eval: evaluations and eval sets
//   - /api/discovery: agent registration, heartbeat, listing
//   - /api/flags, /api/params: per-agent flags and parameters with _global fallback
//   - /api/sessions, /api/chat: chat sessions proxied to agents
package api
