package bridge

import (
	"fmt"
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/odvcencio/browserbridge/pkg/agent"
	bberrors "github.com/odvcencio/browserbridge/pkg/errors"
	"github.com/odvcencio/browserbridge/pkg/model"
)

// TaskRequest is one client's ask: a natural-language task and the model
// credential to run it with. The credential only ever reaches the model
// client; it is not logged, traced or journaled.
type TaskRequest struct {
	Task       string
	Credential string
}

// Validate rejects requests that cannot start a run.
func (r TaskRequest) Validate() error {
	if strings.TrimSpace(r.Task) == "" {
		return bberrors.New(bberrors.ErrCodeInvalidInput, "task is required").
			WithUserMessage("task is required")
	}
	if strings.TrimSpace(r.Credential) == "" {
		return bberrors.New(bberrors.ErrCodeInvalidInput, "api_key is required").
			WithUserMessage("api_key is required")
	}
	return nil
}

// String renders the request with the credential masked.
func (r TaskRequest) String() string {
	return fmt.Sprintf("TaskRequest{Task: %q, Credential: [REDACTED]}", r.Task)
}

// GoString keeps %#v from printing the credential.
func (r TaskRequest) GoString() string {
	return r.String()
}

// LogFields describes the request for structured logs.
func (r TaskRequest) LogFields() logrus.Fields {
	return logrus.Fields{"task_len": len(r.Task)}
}

// ModelFactory binds a credential to a model client.
type ModelFactory interface {
	NewClient(credential string) (agent.ModelClient, error)
}

// ModelFactoryFunc adapts a function to ModelFactory.
type ModelFactoryFunc func(credential string) (agent.ModelClient, error)

// NewClient calls f.
func (f ModelFactoryFunc) NewClient(credential string) (agent.ModelClient, error) {
	return f(credential)
}

// ClientFactory adapts a model.Factory.
func ClientFactory(f *model.Factory) ModelFactory {
	return ModelFactoryFunc(func(credential string) (agent.ModelClient, error) {
		client, err := f.NewClient(credential)
		if err != nil {
			return nil, err
		}
		return client, nil
	})
}
