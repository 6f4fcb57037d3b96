package worker

import (
	"context"
	"io"
	"sync"

	"github.com/rabbitmq/amqp091-go"

	"github.com/shouni/gemini-pose-kit/pkg/domain"
	"github.com/shouni/gemini-pose-kit/pkg/generator"
)

var validPng = []byte("\x89PNG\r\n\x1a\n\x00\x00\x00\rIHDR\x00\x00\x00\x01\x00\x00\x00\x01\x08\x02\x00\x00\x00\x90w\x53\xde")

// fakeRunner は generator.Runner を実装するのだ。
type fakeRunner struct {
	runFunc  func(ctx context.Context, req domain.GenerationRequest, opts generator.Options) domain.GenerationOutcome
	requests []domain.GenerationRequest
	options  []generator.Options
}

func (f *fakeRunner) Run(ctx context.Context, req domain.GenerationRequest, opts generator.Options) domain.GenerationOutcome {
	f.requests = append(f.requests, req)
	f.options = append(f.options, opts)
	return f.runFunc(ctx, req, opts)
}

// fakePublisher は発行されたメッセージを記録するのだ。
type fakePublisher struct {
	err          error
	payloads     []ResultPayload
	correlations []string
}

func (f *fakePublisher) Publish(_ context.Context, payload any, correlationID string) error {
	if f.err != nil {
		return f.err
	}
	f.payloads = append(f.payloads, payload.(ResultPayload))
	f.correlations = append(f.correlations, correlationID)
	return nil
}

// fakeWriter は remoteio.OutputWriter を実装し、書き込みを記録するのだ。
type fakeWriter struct {
	err    error
	writes []writtenObject
}

type writtenObject struct {
	uri         string
	contentType string
	data        []byte
}

func (f *fakeWriter) Write(_ context.Context, uri string, r io.Reader, contentType string) error {
	if f.err != nil {
		return f.err
	}
	data, err := io.ReadAll(r)
	if err != nil {
		return err
	}
	f.writes = append(f.writes, writtenObject{uri: uri, contentType: contentType, data: data})
	return nil
}

// fakeStore は ImageStore を実装するのだ。
type fakeStore struct {
	err   error
	saved []string
}

func (f *fakeStore) Save(_ context.Context, taskID string, _ domain.ImageRef) (string, error) {
	if f.err != nil {
		return "", f.err
	}
	f.saved = append(f.saved, taskID)
	return "https://cdn.example.com/" + taskID + ".png", nil
}

// fakeAcknowledger は amqp091.Acknowledger を実装し、確定結果を記録するのだ。
type fakeAcknowledger struct {
	mu       sync.Mutex
	acks     []uint64
	nacks    []uint64
	requeues []bool
}

func (f *fakeAcknowledger) Ack(tag uint64, _ bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.acks = append(f.acks, tag)
	return nil
}

func (f *fakeAcknowledger) Nack(tag uint64, _ bool, requeue bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.nacks = append(f.nacks, tag)
	f.requeues = append(f.requeues, requeue)
	return nil
}

func (f *fakeAcknowledger) Reject(tag uint64, requeue bool) error {
	return f.Nack(tag, false, requeue)
}

// fakeChannel は Channel を実装するのだ。
type fakeChannel struct {
	deliveries chan amqp091.Delivery
	declared   []string
	prefetch   int
	consumeErr error
}

func (f *fakeChannel) QueueDeclare(name string, _, _, _, _ bool, _ amqp091.Table) (amqp091.Queue, error) {
	f.declared = append(f.declared, name)
	return amqp091.Queue{Name: name}, nil
}

func (f *fakeChannel) Qos(prefetchCount, _ int, _ bool) error {
	f.prefetch = prefetchCount
	return nil
}

func (f *fakeChannel) Consume(_, _ string, _, _, _, _ bool, _ amqp091.Table) (<-chan amqp091.Delivery, error) {
	if f.consumeErr != nil {
		return nil, f.consumeErr
	}
	return f.deliveries, nil
}

// fakePublishChannel は PublishChannel を実装し、発行されたメッセージを記録するのだ。
type fakePublishChannel struct {
	mu         sync.Mutex
	declared   []string
	durable    []bool
	published  []amqp091.Publishing
	keys       []string
	exchanges  []string
	declareErr error
	publishErr error
	closed     int
}

func (f *fakePublishChannel) QueueDeclare(name string, durable, _, _, _ bool, _ amqp091.Table) (amqp091.Queue, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.declareErr != nil {
		return amqp091.Queue{}, f.declareErr
	}
	f.declared = append(f.declared, name)
	f.durable = append(f.durable, durable)
	return amqp091.Queue{Name: name}, nil
}

func (f *fakePublishChannel) PublishWithContext(_ context.Context, exchange, key string, _, _ bool, msg amqp091.Publishing) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.publishErr != nil {
		return f.publishErr
	}
	f.exchanges = append(f.exchanges, exchange)
	f.keys = append(f.keys, key)
	f.published = append(f.published, msg)
	return nil
}

func (f *fakePublishChannel) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed++
	return nil
}

func successOutcome() domain.GenerationOutcome {
	img := domain.NewImageFromBytes(validPng, "image/png")
	return domain.GenerationOutcome{
		RunID: "run-1",
		Image: &img,
		Attempts: []domain.GenerationAttempt{{
			AttemptNumber: 1,
			UsedPoseImage: true,
			Validation: &domain.ValidationResult{
				PersonMatch: &domain.PersonMatch{IsSamePerson: true, Confidence: 0.82},
			},
		}},
	}
}
