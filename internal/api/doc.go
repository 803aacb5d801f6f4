// Package api exposes the REST surface of the study assistant: the chat
// endpoint backed by the coordinator plus direct endpoints for plan
// generation jobs, daily schedules, and session status updates.
package api
