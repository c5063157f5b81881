// Package chat implements the user-facing commands: chat turns, model
// selection and grants, and context management.
//
// Results are plain data and typed failures from package apperr; rendering
// them is the caller's job.
package chat
