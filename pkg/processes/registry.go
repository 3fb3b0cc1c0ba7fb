package processes

import (
	"sync"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
)

// Status is the externally-reported state of a long-running process. The
// queue transport delivers it as a plain string, so unknown values are kept
// as-is rather than rejected.
type Status string

const (
	StatusRunning        Status = "running"
	StatusRequiresAction Status = "requires action"
	StatusCompleted      Status = "completed"
	StatusFailed         Status = "failed"
)

// IsTerminal reports whether no further updates may be applied to a process
// in this status.
func (s Status) IsTerminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// Process is one unit of delegated work whose completion is reported
// asynchronously. Message carries whatever the external system attached to
// its last status update (an action description, an approval decision, ...).
type Process struct {
	ID      string                 `json:"process_id"`
	Status  Status                 `json:"status"`
	Message map[string]interface{} `json:"message"`
}

// NewProcessID returns a fresh, globally unique process identifier.
func NewProcessID() string {
	return uuid.NewString()
}

// Registry is the single source of truth for long-running process state,
// shared between the tool dispatcher (creation), the status reconciler
// (updates) and conversation turns (reads). All state is process-lifetime
// only; there is no persistence.
type Registry struct {
	mu        sync.RWMutex
	processes map[string]Process
}

func NewRegistry() *Registry {
	return &Registry{
		processes: make(map[string]Process),
	}
}

// Create inserts a new entry with status running and an empty message. It
// fails if the identifier is already present, which the uuid generation
// policy should make unreachable.
func (r *Registry) Create(id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if id == "" {
		return errors.New("process id cannot be empty")
	}
	if _, exists := r.processes[id]; exists {
		return errors.Errorf("process %s already exists", id)
	}

	r.processes[id] = Process{
		ID:      id,
		Status:  StatusRunning,
		Message: map[string]interface{}{},
	}
	return nil
}

// Update overwrites status and message for the given process. An update for
// an unknown identifier creates the entry: the reconciler may observe a
// status event before this instance ever saw the process. Updates against an
// entry already in a terminal status are discarded, which absorbs queue
// redelivery.
func (r *Registry) Update(id string, status Status, message map[string]interface{}) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if existing, ok := r.processes[id]; ok && existing.Status.IsTerminal() {
		log.Debug().
			Str("process_id", id).
			Str("current_status", string(existing.Status)).
			Str("incoming_status", string(status)).
			Msg("discarding update for terminal process")
		return
	}

	if message == nil {
		message = map[string]interface{}{}
	}
	r.processes[id] = Process{
		ID:      id,
		Status:  status,
		Message: message,
	}
}

// Get returns a snapshot of the process with the given identifier.
func (r *Registry) Get(id string) (Process, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	p, ok := r.processes[id]
	if !ok {
		return Process{}, false
	}
	return copyProcess(p), true
}

// List returns a snapshot of all known processes. Order is unspecified.
func (r *Registry) List() []Process {
	r.mu.RLock()
	defer r.mu.RUnlock()

	ret := make([]Process, 0, len(r.processes))
	for _, p := range r.processes {
		ret = append(ret, copyProcess(p))
	}
	return ret
}

// Count returns the number of known processes.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return len(r.processes)
}

func copyProcess(p Process) Process {
	message := make(map[string]interface{}, len(p.Message))
	for k, v := range p.Message {
		message[k] = v
	}
	p.Message = message
	return p
}
