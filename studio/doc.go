// Package studio defines the domain entities of the kiboup studio: traces and
// spans recorded from agent invocations, agent registrations, feature flags
// and parameters, versioned prompts, evaluation results, chat sessions and
// eval sets.
//
// Entities double as gorm models. JSON-valued columns use the json serializer
// and are stored as text so the same schema works on SQLite, PostgreSQL and
// MySQL. All timestamps are UTC with millisecond precision.
package studio
