package session

import "strings"

// SortOrder defines how results should be ordered when listing sessions.
type SortOrder int

const (
	// SortByDateAsc orders sessions by date then start minute ascending.
	SortByDateAsc SortOrder = iota
	// SortByDateDesc orders sessions by date then start minute descending.
	SortByDateDesc
)

// NoLimit disables the row cap. Callers that rebuild complete in-memory
// state from the store, such as the reschedule ledger, need every row.
const NoLimit = -1

// ListOptions controls how sessions are selected when querying the store.
type ListOptions struct {
	Limit    int
	Offset   int
	Statuses []Status
	Sources  []Source
	Subject  string
	DateGTE  string
	DateLTE  string
	DateLT   string
	Order    SortOrder
}

// applyDefaults sanitizes the options and fills in default values.
func (opts *ListOptions) applyDefaults() {
	switch {
	case opts.Limit == NoLimit:
	case opts.Limit <= 0:
		opts.Limit = 200
	case opts.Limit > 1000:
		opts.Limit = 1000
	}
	if opts.Offset < 0 {
		opts.Offset = 0
	}
	if opts.Statuses != nil {
		opts.Statuses = normalizeStatuses(opts.Statuses)
	}
	if opts.Order != SortByDateDesc {
		opts.Order = SortByDateAsc
	}
	opts.Subject = strings.TrimSpace(opts.Subject)
}

// ListOption mutates ListOptions.
type ListOption func(*ListOptions)

// WithLimit limits the number of sessions returned.
func WithLimit(limit int) ListOption {
	return func(opts *ListOptions) {
		opts.Limit = limit
	}
}

// WithNoLimit removes the row cap entirely.
func WithNoLimit() ListOption {
	return func(opts *ListOptions) {
		opts.Limit = NoLimit
	}
}

// WithOffset skips the first n matching sessions before returning results.
func WithOffset(offset int) ListOption {
	return func(opts *ListOptions) {
		opts.Offset = offset
	}
}

// WithStatuses filters sessions by the provided statuses.
func WithStatuses(statuses ...Status) ListOption {
	return func(opts *ListOptions) {
		opts.Statuses = append(opts.Statuses[:0], statuses...)
	}
}

// WithSources filters sessions by creation source.
func WithSources(sources ...Source) ListOption {
	return func(opts *ListOptions) {
		opts.Sources = append(opts.Sources[:0], sources...)
	}
}

// WithSubject filters sessions by subject name (case insensitive).
func WithSubject(subject string) ListOption {
	return func(opts *ListOptions) {
		opts.Subject = subject
	}
}

// WithDate restricts results to a single scheduled date.
func WithDate(date string) ListOption {
	return func(opts *ListOptions) {
		opts.DateGTE = date
		opts.DateLTE = date
	}
}

// WithDateBefore restricts results to dates strictly before the given one.
func WithDateBefore(date string) ListOption {
	return func(opts *ListOptions) {
		opts.DateLT = date
	}
}

// WithSortOrder changes the returned order of sessions.
func WithSortOrder(order SortOrder) ListOption {
	return func(opts *ListOptions) {
		opts.Order = order
	}
}

// buildListOptions applies option functions on top of defaults.
func buildListOptions(opts []ListOption) ListOptions {
	options := ListOptions{}
	for _, opt := range opts {
		if opt != nil {
			opt(&options)
		}
	}
	options.applyDefaults()
	return options
}

func normalizeStatuses(input []Status) []Status {
	if len(input) == 0 {
		return nil
	}
	seen := make(map[Status]struct{}, len(input))
	result := make([]Status, 0, len(input))
	for _, status := range input {
		if !IsValidStatus(status) {
			continue
		}
		if _, ok := seen[status]; ok {
			continue
		}
		seen[status] = struct{}{}
		result = append(result, status)
	}
	if len(result) == 0 {
		return nil
	}
	return result
}
