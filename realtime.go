package realtime

type (
	// Database is the entry point: it binds a Backend and owns the
	// subscription registry shared by every Reference it hands out.
	Database struct {
		options *Options
		backend Backend
		mux     *multiplexer
	}

	Options struct {
		listenerBuffer int
	}
)

type Option func(o *Options)

// WithListenerBuffer sets the channel capacity used by EventStream.Chan.
func WithListenerBuffer(n int) Option {
	return func(o *Options) {
		if n >= 0 {
			o.listenerBuffer = n
		}
	}
}

func New(backend Backend, options ...Option) *Database {
	db := new(Database)

	opts := &Options{
		listenerBuffer: 16,
	}
	for _, option := range options {
		option(opts)
	}
	db.options = opts
	db.backend = backend
	db.mux = newMultiplexer(db, backend)

	return db
}

func (db *Database) Root() *Reference {
	return db.refAt(Location{})
}

// Ref returns a Reference for a slash-separated path.
func (db *Database) Ref(path string) *Reference {
	return db.refAt(ParseLocation(path))
}

func (db *Database) refAt(loc Location) *Reference {
	return &Reference{Query: Query{db: db, loc: loc}}
}

func (db *Database) Auth(token string) *Future[AuthResult] {
	return bridge("auth", func(done func(AuthResult, error)) {
		db.backend.Authenticate(token, func(res AuthResult, err error) {
			if err != nil {
				done(AuthResult{}, &AuthError{Err: err})
				return
			}
			done(res, nil)
		})
	})
}

func (db *Database) Unauth() {
	db.backend.Unauthenticate()
}

func (db *Database) GoOffline() error {
	c, ok := db.backend.(Connectivity)
	if !ok {
		return ErrNotSupported
	}
	c.GoOffline()
	return nil
}

func (db *Database) GoOnline() error {
	c, ok := db.backend.(Connectivity)
	if !ok {
		return ErrNotSupported
	}
	c.GoOnline()
	return nil
}

// Subscriptions reports the live shared registrations.
func (db *Database) Subscriptions() []StreamStat {
	return db.mux.stats()
}
