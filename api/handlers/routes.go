package handlers

import "net/http"

// Set 汇总全部 Handler，nil 字段对应的路由组不注册
type Set struct {
	Health    *HealthHandler
	Traces    *TraceHandler
	Live      *LiveHub
	Discovery *DiscoveryHandler
	Flags     *FlagHandler
	Prompts   *PromptHandler
	Evals     *EvalHandler
	Sessions  *SessionHandler
}

// Register 将路由注册到 mux，业务路由统一位于 /api 下
func (s *Set) Register(mux *http.ServeMux) {
	if h := s.Health; h != nil {
		mux.HandleFunc("GET /health", h.HandleHealth)
		mux.HandleFunc("GET /healthz", h.HandleHealthz)
		mux.HandleFunc("GET /ready", h.HandleReady)
		mux.HandleFunc("GET /version", h.HandleVersion)
	}

	if h := s.Traces; h != nil {
		mux.HandleFunc("GET /api/traces", h.HandleList)
		mux.HandleFunc("POST /api/traces/ingest", h.HandleIngest)
		mux.HandleFunc("GET /api/traces/{trace_id}", h.HandleGet)
		mux.HandleFunc("DELETE /api/traces/{trace_id}", h.HandleDelete)
		mux.HandleFunc("GET /api/traces/{trace_id}/spans", h.HandleSpans)
		mux.HandleFunc("GET /api/spans/{span_id}", h.HandleGetSpan)
	}
	if s.Live != nil {
		mux.HandleFunc("GET /api/traces/live", s.Live.HandleLive)
	}

	if h := s.Prompts; h != nil {
		mux.HandleFunc("GET /api/prompts", h.HandleList)
		mux.HandleFunc("POST /api/prompts", h.HandleCreate)
		mux.HandleFunc("GET /api/prompts/{prompt_id}", h.HandleGet)
		mux.HandleFunc("PUT /api/prompts/{prompt_id}", h.HandleUpdate)
		mux.HandleFunc("DELETE /api/prompts/{prompt_id}", h.HandleDelete)
		// by-name/{name} and {prompt_id}/versions overlap, one pattern serves both
		mux.HandleFunc("GET /api/prompts/{prompt_id}/{sub}", h.HandleSubresource)
		mux.HandleFunc("POST /api/prompts/{prompt_id}/versions", h.HandleCreateVersion)
		mux.HandleFunc("PUT /api/prompts/{prompt_id}/versions/{version}/activate", h.HandleActivate)
	}

	if h := s.Evals; h != nil {
		mux.HandleFunc("POST /api/eval/run", h.HandleRun)
		mux.HandleFunc("GET /api/eval/results", h.HandleListResults)
		mux.HandleFunc("GET /api/eval/results/{eval_id}", h.HandleGetResult)
		mux.HandleFunc("GET /api/eval/sets", h.HandleListSets)
		mux.HandleFunc("POST /api/eval/sets", h.HandleCreateSet)
		mux.HandleFunc("GET /api/eval/sets/{eval_set_id}/cases", h.HandleListCases)
		mux.HandleFunc("POST /api/eval/sets/{eval_set_id}/cases", h.HandleAddCase)
		mux.HandleFunc("POST /api/eval/sets/{eval_set_id}/run", h.HandleRunSet)
	}

	if h := s.Discovery; h != nil {
		mux.HandleFunc("POST /api/discovery/register", h.HandleRegister)
		mux.HandleFunc("POST /api/discovery/heartbeat", h.HandleHeartbeat)
		mux.HandleFunc("GET /api/discovery/agents", h.HandleList)
		mux.HandleFunc("GET /api/discovery/agents/{agent_id}", h.HandleGet)
		mux.HandleFunc("DELETE /api/discovery/agents/{agent_id}", h.HandleDeregister)
	}

	if h := s.Flags; h != nil {
		mux.HandleFunc("GET /api/flags/{agent_id}", h.HandleListFlags)
		mux.HandleFunc("PUT /api/flags/{agent_id}", h.HandleSetFlag)
		mux.HandleFunc("DELETE /api/flags/{agent_id}/{flag_id}", h.HandleDeleteFlag)
		mux.HandleFunc("GET /api/params/{agent_id}", h.HandleListParams)
		mux.HandleFunc("PUT /api/params/{agent_id}", h.HandleSetParam)
		mux.HandleFunc("DELETE /api/params/{agent_id}/{param_id}", h.HandleDeleteParam)
	}

	if h := s.Sessions; h != nil {
		mux.HandleFunc("GET /api/sessions", h.HandleList)
		mux.HandleFunc("POST /api/sessions", h.HandleCreate)
		mux.HandleFunc("GET /api/sessions/{session_id}", h.HandleGet)
		mux.HandleFunc("DELETE /api/sessions/{session_id}", h.HandleDelete)
		mux.HandleFunc("GET /api/sessions/{session_id}/messages", h.HandleMessages)
		mux.HandleFunc("POST /api/sessions/{session_id}/messages", h.HandleSendMessage)
		mux.HandleFunc("POST /api/chat/{agent_id}", h.HandleChat)
	}
}
