// Package sdk is the agent-side client for a kiboserve studio.
//
// A Client registers the agent, keeps it alive with heartbeats, reads
// feature flags and parameters (cached for DefaultCacheTTL and served stale
// when the studio is unreachable) and fetches active prompts:
//
//	c := sdk.New("http://studio:8000", "weather-agent",
//		sdk.WithEndpoint("http://weather:8080"),
//		sdk.WithAPIKey(os.Getenv("STUDIO_API_KEY")))
//	c.StartHeartbeat(ctx)
//	defer c.Stop()
//
//	if c.IsFlagEnabled(ctx, "use_rag", false) {
//		...
//	}
//
// RemoteSink plugs the client into a tracer so closed traces are posted to
// the studio collector, and TracingMiddleware traces the agent's invocation
// endpoint:
//
//	tr := tracer.New(sdk.NewRemoteSink(c), tracer.WithAgentID(c.AgentID()))
//	http.Handle("/invocations", sdk.TracingMiddleware(tr)(agentHandler))
package sdk
