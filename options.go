package resourcekit

// Option configures a single Backend.Write call.
type Option func(*Options)

// Options is what a backend sees after all Option values are applied.
type Options struct {
	// ContentType is stored with the object where the backend keeps one.
	ContentType string

	// Metadata is stored as object metadata where supported.
	Metadata map[string]string

	// Overwrite lets Write replace an existing entry; otherwise ErrExist.
	Overwrite bool
}

// WithContentType records the MIME type of the written entry.
func WithContentType(contentType string) Option {
	return func(o *Options) { o.ContentType = contentType }
}

// WithMetadata attaches backend metadata to the written entry.
func WithMetadata(metadata map[string]string) Option {
	return func(o *Options) { o.Metadata = metadata }
}

// WithOverwrite allows Write to replace what is already there.
func WithOverwrite(overwrite bool) Option {
	return func(o *Options) { o.Overwrite = overwrite }
}

// ApplyOptions folds opts into an Options value.
func ApplyOptions(opts ...Option) *Options {
	o := &Options{}
	for _, opt := range opts {
		opt(o)
	}
	return o
}
