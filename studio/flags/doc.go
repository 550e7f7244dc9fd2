// Package flags resolves feature flags and parameters for agents.
//
// Every lookup checks the agent's own row first, then the row stored under
// studio.GlobalAgentID, then the caller's default. Resolved views can be
// cached in Redis; writes invalidate the affected agents.
package flags
