// Package lineage publishes contract violations as OpenLineage-style run
// events so lineage tooling can mark the affected datasets.
package lineage

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/akmatori/contractmon/internal/models"
)

const (
	// Producer identifies this engine in emitted events
	Producer = "https://github.com/akmatori/contractmon"

	schemaURL      = "https://openlineage.io/spec/2-0-2/OpenLineage.json#/definitions/RunEvent"
	facetSchemaURL = "https://github.com/akmatori/contractmon/schemas/ContractViolationRunFacet.json"

	// DefaultSubject is the NATS subject when none is configured
	DefaultSubject = "contractmon.lineage"

	jobNamespace = "contractmon"
)

// Sink receives violation events for lineage emission
type Sink interface {
	Emit(ctx context.Context, contract models.Contract, event models.ContractViolationEvent) error
}

// Nop drops every event
type Nop struct{}

func (Nop) Emit(context.Context, models.Contract, models.ContractViolationEvent) error { return nil }

// RunEvent is the subset of the OpenLineage run event this engine emits
type RunEvent struct {
	EventType string    `json:"eventType"`
	EventTime time.Time `json:"eventTime"`
	Producer  string    `json:"producer"`
	SchemaURL string    `json:"schemaURL"`
	Run       Run       `json:"run"`
	Job       Job       `json:"job"`
	Inputs    []Dataset `json:"inputs"`
}

type Run struct {
	RunID  string    `json:"runId"`
	Facets RunFacets `json:"facets"`
}

type RunFacets struct {
	ContractViolation ContractViolationFacet `json:"contractViolation"`
}

// ContractViolationFacet carries the violation on the run
type ContractViolationFacet struct {
	Producer          string    `json:"_producer"`
	SchemaURL         string    `json:"_schemaURL"`
	ContractName      string    `json:"contractName"`
	ContractVersion   string    `json:"contractVersion"`
	ViolationType     string    `json:"violationType"`
	Severity          string    `json:"severity"`
	Message           string    `json:"message"`
	Element           string    `json:"element,omitempty"`
	ExpectedValue     string    `json:"expectedValue,omitempty"`
	ActualValue       string    `json:"actualValue,omitempty"`
	Timestamp         time.Time `json:"timestamp"`
	AffectedConsumers []string  `json:"affectedConsumers,omitempty"`
}

type Job struct {
	Namespace string `json:"namespace"`
	Name      string `json:"name"`
}

type Dataset struct {
	Namespace string `json:"namespace"`
	Name      string `json:"name"`
}

// BuildRunEvent converts a violation into a FAIL run event of the contract's check job
func BuildRunEvent(contract models.Contract, event models.ContractViolationEvent) RunEvent {
	datasetNamespace := contract.Location.Namespace
	if contract.Location.Catalog != "" {
		datasetNamespace = contract.Location.Catalog + "." + datasetNamespace
	}
	return RunEvent{
		EventType: "FAIL",
		EventTime: event.Timestamp.UTC(),
		Producer:  Producer,
		SchemaURL: schemaURL,
		Run: Run{
			RunID: event.ID,
			Facets: RunFacets{ContractViolation: ContractViolationFacet{
				Producer:          Producer,
				SchemaURL:         facetSchemaURL,
				ContractName:      event.ContractName,
				ContractVersion:   event.ContractVersion,
				ViolationType:     string(event.ViolationType),
				Severity:          string(event.Severity),
				Message:           event.Message,
				Element:           event.Element,
				ExpectedValue:     event.ExpectedValue,
				ActualValue:       event.ActualValue,
				Timestamp:         event.Timestamp.UTC(),
				AffectedConsumers: event.AffectedConsumers,
			}},
		},
		Job: Job{
			Namespace: jobNamespace,
			Name:      fmt.Sprintf("%s.%s", event.ContractName, event.ViolationType.CheckType()),
		},
		Inputs: []Dataset{{Namespace: datasetNamespace, Name: contract.Location.Table}},
	}
}

// Publisher is the NATS-backed Sink
type Publisher struct {
	conn    *nats.Conn
	subject string
}

// NewPublisher connects to NATS. The connection reconnects on its own; a
// publish while disconnected is buffered by the client.
func NewPublisher(url, subject string) (*Publisher, error) {
	if subject == "" {
		subject = DefaultSubject
	}
	conn, err := nats.Connect(url,
		nats.Name("contractmon-lineage"),
		nats.MaxReconnects(-1),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				log.Printf("Warning: Lineage: disconnected from NATS: %v", err)
			}
		}),
		nats.ReconnectHandler(func(c *nats.Conn) {
			log.Printf("Lineage: reconnected to NATS at %s", c.ConnectedUrlRedacted())
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("connect to NATS: %w", err)
	}
	return &Publisher{conn: conn, subject: subject}, nil
}

// Emit publishes the run event with the violation id as message id
func (p *Publisher) Emit(ctx context.Context, contract models.Contract, event models.ContractViolationEvent) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	body, err := json.Marshal(BuildRunEvent(contract, event))
	if err != nil {
		return fmt.Errorf("marshal lineage event: %w", err)
	}
	msg := nats.NewMsg(p.subject)
	msg.Data = body
	if event.ID != "" {
		msg.Header.Set("Nats-Msg-Id", event.ID)
	}
	if err := p.conn.PublishMsg(msg); err != nil {
		return fmt.Errorf("publish lineage event: %w", err)
	}
	return nil
}

// Close drains pending messages and closes the connection
func (p *Publisher) Close() {
	if p.conn != nil {
		if err := p.conn.Drain(); err != nil {
			p.conn.Close()
		}
	}
}
