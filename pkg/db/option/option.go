package option

import "gorm.io/gorm"

// Options collects query modifiers applied on top of the struct query.
type Options struct {
	Order    string
	Limit    int
	Offset   int
	Preloads []string
	Scopes   []func(*gorm.DB) *gorm.DB
}

type QueryOption func(*Options)

func WithOrder(order string) QueryOption {
	return func(o *Options) { o.Order = order }
}

func WithLimit(limit int) QueryOption {
	return func(o *Options) { o.Limit = limit }
}

func WithOffset(offset int) QueryOption {
	return func(o *Options) { o.Offset = offset }
}

func WithPreload(associations ...string) QueryOption {
	return func(o *Options) { o.Preloads = append(o.Preloads, associations...) }
}

// WithScope adds an arbitrary query refinement, for conditions a struct
// query cannot express (ranges, cursors).
func WithScope(fn func(*gorm.DB) *gorm.DB) QueryOption {
	return func(o *Options) { o.Scopes = append(o.Scopes, fn) }
}

// Apply folds the options into a gorm query.
func Apply(tx *gorm.DB, opts ...QueryOption) *gorm.DB {
	var o Options
	for _, opt := range opts {
		opt(&o)
	}

	if o.Order != "" {
		tx = tx.Order(o.Order)
	}
	if o.Limit > 0 {
		tx = tx.Limit(o.Limit)
	}
	if o.Offset > 0 {
		tx = tx.Offset(o.Offset)
	}
	for _, p := range o.Preloads {
		tx = tx.Preload(p)
	}
	if len(o.Scopes) > 0 {
		tx = tx.Scopes(o.Scopes...)
	}

	return tx
}
