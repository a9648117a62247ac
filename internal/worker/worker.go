// Package worker provides a NATS worker that narrates batches received as
// request/reply messages.
package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/book-expert/events"
	"github.com/book-expert/logger"
	"github.com/google/uuid"
	"github.com/nats-io/nats.go"

	"github.com/book-expert/narration-service/internal/core"
)

// DefaultHandleTimeout bounds one batch when no timeout is configured.
const DefaultHandleTimeout = 10 * time.Minute

var (
	// ErrSubjectEmpty indicates that the request subject is empty.
	ErrSubjectEmpty = errors.New("request subject cannot be empty")
	// ErrNoItems indicates a request carrying no work items.
	ErrNoItems = errors.New("request contains no items")
	// ErrNilDependency indicates a worker built without its connection, runner or logger.
	ErrNilDependency = errors.New("worker dependency is nil")
)

// BatchRunner narrates a batch of work items.
type BatchRunner interface {
	Run(ctx context.Context, items []core.WorkItem) []core.Result
}

// BatchRequest is the body of a narration request message.
type BatchRequest struct {
	Header events.EventHeader `json:"header"`
	Items  []core.WorkItem    `json:"items"`
}

// ItemResult is the outcome of one requested item.
type ItemResult struct {
	DocumentID core.DocumentID `json:"document_id"`
	VoiceID    core.VoiceID    `json:"voice_id"`
	CacheKey   core.CacheKey   `json:"cache_key,omitempty"`
	Location   string          `json:"location,omitempty"`
	CacheHit   bool            `json:"cache_hit"`
	Shared     bool            `json:"shared"`
	Attempts   int             `json:"attempts"`
	Warnings   []string        `json:"warnings,omitempty"`
	Error      string          `json:"error,omitempty"`
	ErrorKind  string          `json:"error_kind,omitempty"`
}

// BatchReply is the body of the reply. Error is set only when the request itself
// could not be processed; item failures live in Results.
type BatchReply struct {
	Header  events.EventHeader `json:"header"`
	Results []ItemResult       `json:"results"`
	Error   string             `json:"error,omitempty"`
}

// Options configures a NatsWorker.
type Options struct {
	Subject string
	// QueueGroup load-balances requests across workers. Empty subscribes plainly.
	QueueGroup    string
	HandleTimeout time.Duration
}

// NatsWorker listens for narration batches on a NATS subject and replies with
// per-item results.
type NatsWorker struct {
	natsConnection *nats.Conn
	runner         BatchRunner
	opts           Options
	log            *logger.Logger
}

// NewNatsWorker creates a new instance of a NATS worker.
func NewNatsWorker(
	natsConnection *nats.Conn,
	runner BatchRunner,
	opts Options,
	log *logger.Logger,
) (*NatsWorker, error) {
	if natsConnection == nil || runner == nil || log == nil {
		return nil, ErrNilDependency
	}

	if opts.Subject == "" {
		return nil, ErrSubjectEmpty
	}

	if opts.HandleTimeout <= 0 {
		opts.HandleTimeout = DefaultHandleTimeout
	}

	return &NatsWorker{
		natsConnection: natsConnection,
		runner:         runner,
		opts:           opts,
		log:            log,
	}, nil
}

// Run starts the worker and blocks until ctx is done, then drains the
// subscription so in-flight batches still get their reply.
func (w *NatsWorker) Run(ctx context.Context) error {
	var (
		sub *nats.Subscription
		err error
	)

	if w.opts.QueueGroup != "" {
		sub, err = w.natsConnection.QueueSubscribe(w.opts.Subject, w.opts.QueueGroup, w.handleMessage)
	} else {
		sub, err = w.natsConnection.Subscribe(w.opts.Subject, w.handleMessage)
	}

	if err != nil {
		return fmt.Errorf("failed to subscribe to subject %s: %w", w.opts.Subject, err)
	}

	w.log.Info("Listening for narration requests on %s", w.opts.Subject)

	<-ctx.Done()

	drainErr := sub.Drain()
	if drainErr != nil {
		return fmt.Errorf("failed to drain subscription: %w", drainErr)
	}

	return nil
}

func (w *NatsWorker) handleMessage(msg *nats.Msg) {
	ctx, cancel := context.WithTimeout(context.Background(), w.opts.HandleTimeout)
	defer cancel()

	request, err := parseRequest(msg.Data)
	if err != nil {
		w.log.Error("Rejected narration request: %v", err)
		w.reply(msg, &BatchReply{Header: replyHeader(events.EventHeader{}), Error: err.Error()})

		return
	}

	w.log.Info("Workflow %s: narrating %d items", request.Header.WorkflowID, len(request.Items))

	results := w.runner.Run(ctx, request.Items)

	reply := &BatchReply{Header: replyHeader(request.Header), Results: make([]ItemResult, 0, len(results))}
	for _, result := range results {
		reply.Results = append(reply.Results, ToItemResult(result))
	}

	w.reply(msg, reply)
}

func (w *NatsWorker) reply(msg *nats.Msg, reply *BatchReply) {
	err := publishReply(msg, reply)
	if err != nil {
		w.log.Error("Failed to publish reply for workflow %s: %v", reply.Header.WorkflowID, err)
	}
}

func parseRequest(data []byte) (*BatchRequest, error) {
	var request BatchRequest

	err := json.Unmarshal(data, &request)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to unmarshal request: %w", core.ErrInvalidRequest, err)
	}

	if len(request.Items) == 0 {
		return nil, fmt.Errorf("%w: %w", core.ErrInvalidRequest, ErrNoItems)
	}

	return &request, nil
}

// replyHeader keeps the workflow identity of the request under a fresh event id.
func replyHeader(request events.EventHeader) events.EventHeader {
	header := request
	header.EventID = uuid.NewString()
	header.Timestamp = time.Now()

	if header.WorkflowID == "" {
		header.WorkflowID = uuid.NewString()
	}

	return header
}

// ToItemResult flattens a pipeline result into its wire form.
func ToItemResult(result core.Result) ItemResult {
	item := ItemResult{
		DocumentID: result.Item.DocumentID,
		VoiceID:    result.Item.VoiceID,
		CacheKey:   result.Key,
		Location:   result.Location,
		CacheHit:   result.CacheHit,
		Shared:     result.Shared,
		Attempts:   result.Attempts,
		Warnings:   result.Warnings,
	}

	if result.Err != nil {
		item.Error = result.Err.Error()
		item.ErrorKind = core.ErrorKind(result.Err)
	}

	return item
}

// publishReply marshals and responds with the reply.
func publishReply(msg *nats.Msg, reply *BatchReply) error {
	replyData, err := json.Marshal(reply)
	if err != nil {
		return fmt.Errorf("failed to marshal reply: %w", err)
	}

	err = msg.Respond(replyData)
	if err != nil {
		return fmt.Errorf("failed to publish reply: %w", err)
	}

	return nil
}
