package form

import (
	"context"
	"log"
	"net/url"
	"strconv"
	"strings"

	wssherrors "github.com/pseudocoder/wssh/internal/errors"
)

// Store is durable key/value storage for the non-secret fields.
// *storage.SQLiteStore satisfies it.
type Store interface {
	SetItem(name, value string) error
	GetItem(name string) (value string, ok bool, err error)
}

// Connector starts a session. *bridge.Manager satisfies it.
type Connector interface {
	Connect(ctx context.Context, query url.Values, title string) error
}

// Options configure a Controller.
type Options struct {
	Store     Store     // may be nil: nothing is persisted or restored
	Connector Connector // required for Submit

	// Permissive lets submissions with violations proceed. The violations
	// are still logged and returned.
	Permissive bool

	// TermType is sent as the "term" handshake field.
	TermType string

	// XSRF supplies the anti-forgery token for the "_xsrf" handshake
	// field. It is called once per valid submission. May be nil.
	XSRF func(ctx context.Context) string
}

// Controller turns form submissions into sessions.
type Controller struct {
	store      Store
	connector  Connector
	permissive bool
	termType   string
	xsrf       func(ctx context.Context) string
}

// NewController returns a Controller.
func NewController(opts Options) *Controller {
	if opts.Permissive {
		log.Printf("form: permissive mode enabled, validation errors will not block connections")
	}
	return &Controller{
		store:      opts.Store,
		connector:  opts.Connector,
		permissive: opts.Permissive,
		termType:   opts.TermType,
		xsrf:       opts.XSRF,
	}
}

// Validate checks in using the controller's permissive setting.
func (c *Controller) Validate(in Input) Result {
	return Validate(in, c.permissive)
}

// Submit validates in and, if the result is valid, persists the non-secret
// fields and starts a session. An invalid submission returns the result
// together with a *errors.ValidationError listing every violation.
func (c *Controller) Submit(ctx context.Context, in Input) (Result, error) {
	r := c.Validate(in)
	if !r.Valid {
		log.Printf("form: rejected: %s", strings.Join(r.Errors, "; "))
		return r, wssherrors.Validation(r.Errors)
	}
	if len(r.Errors) > 0 {
		log.Printf("form: permissive mode, proceeding despite: %s", strings.Join(r.Errors, "; "))
	}

	r.Params.TermType = c.termType
	if c.xsrf != nil {
		r.Params.XSRF = c.xsrf(ctx)
	}

	c.persist(r.Params)

	if c.connector == nil {
		return r, wssherrors.New(wssherrors.CodeInternal, "no connector configured")
	}
	log.Printf("form: connecting %s", r.Title)
	return r, c.connector.Connect(ctx, r.Params.Query(), r.Title)
}

// persist writes hostname, port and username. Empty values are skipped and
// storage failures are logged only; they never block a connection.
func (c *Controller) persist(p Params) {
	if c.store == nil {
		return
	}
	values := map[string]string{
		FieldHostname: p.Hostname,
		FieldUsername: p.Username,
	}
	if p.Port > 0 {
		values[FieldPort] = strconv.Itoa(p.Port)
	}
	for _, name := range PersistedFields {
		v := values[name]
		if v == "" {
			continue
		}
		if err := c.store.SetItem(name, v); err != nil {
			log.Printf("form: failed to persist %s: %v", name, err)
		}
	}
}

// Restore reads the persisted fields back. Missing fields stay empty.
func (c *Controller) Restore() (Input, error) {
	var in Input
	if c.store == nil {
		return in, nil
	}
	for _, name := range PersistedFields {
		v, ok, err := c.store.GetItem(name)
		if err != nil {
			return Input{}, err
		}
		if !ok {
			continue
		}
		switch name {
		case FieldHostname:
			in.Hostname = v
		case FieldPort:
			in.Port = v
		case FieldUsername:
			in.Username = v
		}
	}
	return in, nil
}
