package workflow

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
)

// Workflow run statuses as the Logic-App-style invoker reports them.
const (
	WorkflowStatusRunning    = "Running"
	WorkflowStatusInProgress = "InProgress"
	WorkflowStatusSucceeded  = "Succeeded"
)

// Outcome is one observation of a delegated workflow run. Decision is only
// meaningful once the run succeeded.
type Outcome struct {
	Status   string                 `json:"status"`
	Decision map[string]interface{} `json:"decision,omitempty"`
}

// Terminal reports whether the workflow run has stopped moving.
func (o Outcome) Terminal() bool {
	return o.Status != WorkflowStatusRunning && o.Status != WorkflowStatusInProgress
}

// Succeeded reports whether the workflow run ended successfully.
func (o Outcome) Succeeded() bool {
	return o.Status == WorkflowStatusSucceeded
}

// Invoker is the delegated-workflow collaborator: invoke a named workflow
// with a JSON payload and get back a correlation id, then poll that id for
// an outcome.
type Invoker interface {
	Invoke(ctx context.Context, workflow string, payload map[string]interface{}) (string, error)
	Status(ctx context.Context, workflow string, runID string) (Outcome, error)
}

// Endpoint holds the two URLs a registered workflow is reachable on: the
// HTTP trigger that starts a run and the status endpoint polled by
// correlation id.
type Endpoint struct {
	TriggerURL string
	StatusURL  string
}

// correlationHeader carries the workflow run id on the trigger response.
const correlationHeader = "x-ms-workflow-run-id"

// HTTPInvoker invokes registered workflows over plain HTTP, in the style of
// Logic App callback URLs.
type HTTPInvoker struct {
	mu        sync.RWMutex
	client    *http.Client
	endpoints map[string]Endpoint
}

func NewHTTPInvoker() *HTTPInvoker {
	return &HTTPInvoker{
		client:    &http.Client{Timeout: 30 * time.Second},
		endpoints: make(map[string]Endpoint),
	}
}

// RegisterWorkflow stores the endpoint for a workflow name. Invoking an
// unregistered workflow is an error.
func (i *HTTPInvoker) RegisterWorkflow(name string, endpoint Endpoint) error {
	if endpoint.TriggerURL == "" {
		return errors.Errorf("workflow %s has no trigger URL", name)
	}
	i.mu.Lock()
	defer i.mu.Unlock()
	i.endpoints[name] = endpoint
	return nil
}

func (i *HTTPInvoker) endpoint(name string) (Endpoint, error) {
	i.mu.RLock()
	defer i.mu.RUnlock()
	endpoint, ok := i.endpoints[name]
	if !ok {
		return Endpoint{}, errors.Errorf("workflow %s has not been registered", name)
	}
	return endpoint, nil
}

func (i *HTTPInvoker) Invoke(ctx context.Context, workflow string, payload map[string]interface{}) (string, error) {
	endpoint, err := i.endpoint(workflow)
	if err != nil {
		return "", err
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return "", errors.Wrap(err, "failed to marshal workflow payload")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint.TriggerURL, bytes.NewReader(body))
	if err != nil {
		return "", errors.Wrap(err, "failed to build workflow request")
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := i.client.Do(req)
	if err != nil {
		return "", errors.Wrapf(err, "failed to invoke workflow %s", workflow)
	}
	defer func() {
		_, _ = io.Copy(io.Discard, resp.Body)
		_ = resp.Body.Close()
	}()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", errors.Errorf("workflow %s returned status %d", workflow, resp.StatusCode)
	}

	runID := resp.Header.Get(correlationHeader)
	if runID == "" {
		return "", errors.Errorf("workflow %s returned no run id", workflow)
	}

	log.Debug().
		Str("workflow", workflow).
		Str("run_id", runID).
		Msg("invoked workflow")
	return runID, nil
}

func (i *HTTPInvoker) Status(ctx context.Context, workflow string, runID string) (Outcome, error) {
	endpoint, err := i.endpoint(workflow)
	if err != nil {
		return Outcome{}, err
	}
	if endpoint.StatusURL == "" {
		return Outcome{}, errors.Errorf("workflow %s has no status URL", workflow)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint.StatusURL+"/"+runID, nil)
	if err != nil {
		return Outcome{}, errors.Wrap(err, "failed to build status request")
	}

	resp, err := i.client.Do(req)
	if err != nil {
		return Outcome{}, errors.Wrapf(err, "failed to poll workflow %s", workflow)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return Outcome{}, errors.Errorf("workflow %s status endpoint returned %d", workflow, resp.StatusCode)
	}

	var outcome Outcome
	if err := json.NewDecoder(resp.Body).Decode(&outcome); err != nil {
		return Outcome{}, errors.Wrap(err, "failed to decode workflow status")
	}
	return outcome, nil
}

var _ Invoker = (*HTTPInvoker)(nil)
