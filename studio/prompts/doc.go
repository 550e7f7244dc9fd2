// Package prompts manages prompt templates and their immutable versions.
//
// A template always has exactly one active version once it exists. Creating
// a template stores version 1 as active; activating another version clears
// every sibling and moves the template's active_version in one transaction.
package prompts
