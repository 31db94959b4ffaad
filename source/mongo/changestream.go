// Package mongo exposes a MongoDB change stream as an event source.
//
// A ChangeStream emits:
//   - "change" with a Change for every change event
//   - "error" when opening or iterating the stream fails
//   - "close" after the stream ended or was closed
//
// The change stream is opened when the first "change" listener attaches.
// Change streams require a replica set or sharded cluster.
//
// Example:
//
//	cs := mongosrc.Watch(ctx, client.Database("shop").Collection("orders"), nil)
//	defer cs.Close()
//	obs, _ := eventrx.FromEvents[mongosrc.Change](mongosrc.ChangeStreamMap, cs)
package mongo

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rbaliyan/eventrx"
	"github.com/rbaliyan/eventrx/emitter"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// ChangeStreamMap adapts a ChangeStream. Items are Change values.
var ChangeStreamMap = eventrx.EventMap{
	Name:      "mongo.changestream",
	Nexts:     []string{"change"},
	Errors:    []string{"error"},
	Completes: []string{"close"},
}

// Change is one change event.
type Change struct {
	OperationType string    `bson:"operationType"`
	Namespace     Namespace `bson:"ns"`
	DocumentKey   bson.M    `bson:"documentKey,omitempty"`
	FullDocument  bson.Raw  `bson:"fullDocument,omitempty"`
	// ResumeToken is the stream position just after this change.
	ResumeToken bson.Raw `bson:"-"`
}

// Namespace names the collection a change happened in.
type Namespace struct {
	DB         string `bson:"db"`
	Collection string `bson:"coll"`
}

// Stream is the cursor a ChangeStream iterates. *mongo.ChangeStream
// implements it.
type Stream interface {
	Next(ctx context.Context) bool
	Decode(v any) error
	Err() error
	ResumeToken() bson.Raw
	Close(ctx context.Context) error
}

// OpenFunc opens a stream, resuming after token when it is not nil.
type OpenFunc func(ctx context.Context, resumeAfter bson.Raw) (Stream, error)

// Watcher is implemented by *mongo.Client, *mongo.Database and
// *mongo.Collection.
type Watcher interface {
	Watch(ctx context.Context, pipeline any, opts ...*options.ChangeStreamOptions) (*mongo.ChangeStream, error)
}

// ResumeTokenStore persists stream positions so a restarted stream continues
// where the previous one stopped.
type ResumeTokenStore interface {
	// Save persists the resume token
	Save(ctx context.Context, token bson.Raw) error
	// Load returns the last saved token, or nil if there is none
	Load(ctx context.Context) (bson.Raw, error)
}

// Option configures a ChangeStream
type Option func(*ChangeStream)

// WithLogger sets the logger
func WithLogger(l *slog.Logger) Option {
	return func(c *ChangeStream) {
		if l != nil {
			c.logger = l
		}
	}
}

// WithResumeTokenStore loads the starting position from store and saves
// the position after every change.
func WithResumeTokenStore(store ResumeTokenStore) Option {
	return func(c *ChangeStream) {
		c.tokens = store
	}
}

// WithFullDocument sets how full documents are returned for updates.
// Only used by Watch.
func WithFullDocument(mode options.FullDocument) Option {
	return func(c *ChangeStream) {
		c.fullDocument = mode
	}
}

// ChangeStream emits the changes of a MongoDB change stream.
type ChangeStream struct {
	*emitter.EventEmitter

	open         OpenFunc
	tokens       ResumeTokenStore
	fullDocument options.FullDocument
	logger       *slog.Logger

	ctx       context.Context
	cancel    context.CancelFunc
	started   atomic.Bool
	closed    atomic.Bool
	closeOnce sync.Once
	done      chan struct{}
}

// Watch prepares a change stream on w filtered by pipeline. A nil pipeline
// watches every change.
func Watch(ctx context.Context, w Watcher, pipeline mongo.Pipeline, opts ...Option) *ChangeStream {
	if pipeline == nil {
		pipeline = mongo.Pipeline{}
	}
	var c *ChangeStream
	c = New(ctx, func(ctx context.Context, resumeAfter bson.Raw) (Stream, error) {
		o := options.ChangeStream()
		if c.fullDocument != "" {
			o.SetFullDocument(c.fullDocument)
		}
		if resumeAfter != nil {
			o.SetResumeAfter(resumeAfter)
		}
		return w.Watch(ctx, pipeline, o)
	}, opts...)
	return c
}

// New prepares a change stream opened by open. Cancelling ctx closes it.
func New(ctx context.Context, open OpenFunc, opts ...Option) *ChangeStream {
	c := &ChangeStream{
		open:   open,
		logger: emitter.Logger("mongo>changestream"),
		done:   make(chan struct{}),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(c)
		}
	}
	c.ctx, c.cancel = context.WithCancel(ctx)
	c.EventEmitter = emitter.New(
		emitter.WithLogger(c.logger),
		emitter.WithListenHook(c.onListen),
	)
	return c
}

func (c *ChangeStream) onListen(name string) {
	if name != "change" || c.closed.Load() {
		return
	}
	if !c.started.CompareAndSwap(false, true) {
		return
	}
	go c.watch()
}

func (c *ChangeStream) watch() {
	defer c.finish()

	var token bson.Raw
	if c.tokens != nil {
		t, err := c.tokens.Load(c.ctx)
		if err != nil {
			c.logger.Warn("failed to load resume token, starting fresh", "error", err)
		} else if t != nil {
			token = t
			c.logger.Info("resuming from saved token")
		}
	}

	stream, err := c.open(c.ctx, token)
	if err != nil {
		if c.ctx.Err() == nil {
			c.logger.Error("watch failed", "error", err)
			c.Emit("error", err)
		}
		return
	}
	defer func() {
		closeCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := stream.Close(closeCtx); err != nil {
			c.logger.Warn("close failed", "error", err)
		}
	}()

	c.logger.Debug("change stream started")
	for stream.Next(c.ctx) {
		var change Change
		if err := stream.Decode(&change); err != nil {
			c.logger.Error("failed to decode change event", "error", err)
			continue
		}
		change.ResumeToken = stream.ResumeToken()
		c.Emit("change", change)
		c.saveToken(change.ResumeToken)
	}

	if err := stream.Err(); err != nil && c.ctx.Err() == nil && !errors.Is(err, context.Canceled) {
		c.logger.Error("stream error", "error", err)
		c.Emit("error", err)
	}
}

func (c *ChangeStream) saveToken(token bson.Raw) {
	if c.tokens == nil || token == nil {
		return
	}
	if err := c.tokens.Save(c.ctx, token); err != nil {
		c.logger.Error("failed to save resume token", "error", err)
	}
}

// Close stops the stream. "close" is emitted once iteration has ended.
func (c *ChangeStream) Close() error {
	if !c.closed.CompareAndSwap(false, true) {
		return nil
	}
	c.cancel()
	if !c.started.Load() {
		c.finish()
	}
	return nil
}

func (c *ChangeStream) finish() {
	c.closeOnce.Do(func() {
		c.closed.Store(true)
		c.cancel()
		c.Emit("close")
		close(c.done)
	})
}

// Done returns a channel closed after "close" has been emitted.
func (c *ChangeStream) Done() <-chan struct{} {
	return c.done
}

// MongoTokenStore keeps resume tokens in a MongoDB collection, one document
// per stream id.
type MongoTokenStore struct {
	collection *mongo.Collection
	id         string
}

// NewMongoTokenStore creates a token store in db.eventrx_resume_tokens.
func NewMongoTokenStore(db *mongo.Database, id string) *MongoTokenStore {
	return &MongoTokenStore{
		collection: db.Collection("eventrx_resume_tokens"),
		id:         id,
	}
}

func (s *MongoTokenStore) Save(ctx context.Context, token bson.Raw) error {
	update := bson.M{"$set": bson.M{"token": token, "updated_at": time.Now()}}
	_, err := s.collection.UpdateOne(ctx, bson.M{"_id": s.id}, update, options.Update().SetUpsert(true))
	return err
}

func (s *MongoTokenStore) Load(ctx context.Context) (bson.Raw, error) {
	var doc struct {
		Token bson.Raw `bson:"token"`
	}
	err := s.collection.FindOne(ctx, bson.M{"_id": s.id}).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return doc.Token, nil
}
