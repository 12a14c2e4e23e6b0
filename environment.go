package logsplit

import (
	"context"
	"strings"
	"sync"

	"github.com/mongodb/grip"
	"github.com/mongodb/grip/level"
	"github.com/mongodb/grip/message"
	"github.com/mongodb/grip/send"
	"github.com/pkg/errors"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readpref"
)

// Environment owns the process-level resources of one splitter invocation:
// the settings, the database client and the log sender. It is passed
// explicitly to the code that needs it.
type Environment struct {
	settings *Settings
	client   *mongo.Client
	sender   send.Sender

	mu      sync.Mutex
	closers []func(context.Context) error
}

// NewEnvironment validates the settings, connects to the database and
// configures the global grip sender.
func NewEnvironment(ctx context.Context, settings *Settings) (*Environment, error) {
	if settings == nil {
		return nil, errors.New("settings must not be nil")
	}
	if err := settings.Validate(); err != nil {
		return nil, errors.Wrap(err, "validating settings")
	}

	e := &Environment{settings: settings}

	if err := e.initSender(); err != nil {
		return nil, errors.WithStack(err)
	}
	if err := e.initDB(ctx); err != nil {
		catcher := grip.NewBasicCatcher()
		catcher.Add(err)
		catcher.Add(e.Close(ctx))
		return nil, catcher.Resolve()
	}

	return e, nil
}

func (e *Environment) initSender() error {
	var (
		sender send.Sender
		err    error
	)

	if e.settings.LogPath != "" {
		sender, err = send.MakeFileLogger(e.settings.LogPath)
		if err != nil {
			return errors.Wrapf(err, "creating file logger for '%s'", e.settings.LogPath)
		}
	} else {
		sender = send.MakePlainLogger()
	}
	sender.SetName("logsplit")
	if err = sender.SetLevel(send.LevelInfo{Default: level.Info, Threshold: level.Info}); err != nil {
		return errors.Wrap(err, "setting log level")
	}

	if err = grip.SetSender(sender); err != nil {
		return errors.Wrap(err, "setting global sender")
	}
	e.sender = sender
	e.RegisterCloser(func(context.Context) error { return sender.Close() })

	return nil
}

func (e *Environment) initDB(ctx context.Context) error {
	url := e.settings.Database.Url
	if !strings.HasPrefix(url, "mongodb://") && !strings.HasPrefix(url, "mongodb+srv://") {
		url = "mongodb://" + url
	}

	opts := options.Client().
		ApplyURI(url).
		SetConnectTimeout(defaultConnectTimeout).
		SetSocketTimeout(defaultSocketTimeout)

	client, err := mongo.Connect(ctx, opts)
	if err != nil {
		return errors.Wrapf(err, "connecting to database at '%s'", url)
	}
	e.client = client
	e.RegisterCloser(func(ctx context.Context) error { return client.Disconnect(ctx) })

	if err = client.Ping(ctx, readpref.Primary()); err != nil {
		return errors.Wrapf(err, "pinging database at '%s'", url)
	}

	grip.Info(message.Fields{
		"message":      "connected to database",
		"url":          url,
		"db":           e.settings.Database.DB,
		"transactions": e.settings.Database.UseTransactions,
		"revision":     BuildRevision,
	})

	return nil
}

func (e *Environment) Settings() *Settings { return e.settings }

// DB returns the configured database.
func (e *Environment) DB() *mongo.Database {
	return e.client.Database(e.settings.Database.DB)
}

// RegisterCloser adds a function to be called by Close. Closers run in
// reverse registration order.
func (e *Environment) RegisterCloser(closer func(context.Context) error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.closers = append(e.closers, closer)
}

// Close releases every resource the environment holds.
func (e *Environment) Close(ctx context.Context) error {
	e.mu.Lock()
	closers := e.closers
	e.closers = nil
	e.mu.Unlock()

	catcher := grip.NewBasicCatcher()
	for i := len(closers) - 1; i >= 0; i-- {
		catcher.Add(closers[i](ctx))
	}

	return catcher.Resolve()
}
